package types

// GoalType classifies a sub-goal's role in the plan.
type GoalType string

const (
	GoalSupport     GoalType = "support"
	GoalDeliverable GoalType = "deliverable"
)

// Status values for a sub-goal.
type SubGoalStatus string

const (
	SubGoalPending SubGoalStatus = "pending"
	SubGoalSuccess SubGoalStatus = "success"
	SubGoalFailed  SubGoalStatus = "failed"
)

// TurnStatus values for the plan loop.
type TurnStatus string

const (
	TurnPlanning  TurnStatus = "planning"
	TurnExecuting TurnStatus = "executing"
	TurnDone      TurnStatus = "done"
	TurnFailed    TurnStatus = "failed"
)

// SynthesisMode controls how a worker's deliverable output reaches the
// final answer.
type SynthesisMode string

const (
	SynthNarrative SynthesisMode = "narrative"
	SynthDisplay   SynthesisMode = "display"
	SynthHidden    SynthesisMode = "hidden"
)

// InputRef is a dependency pointer: read slot Slot from the completed
// outputs of sub-goal FromSubGoal. FromSubGoal 0 refers to the normalizer's
// context slot table.
type InputRef struct {
	FromSubGoal int    `json:"from_sub_goal"`
	Slot        string `json:"slot"`
}

// SubGoal is one unit of planned work, bound to one worker.
type SubGoal struct {
	ID          int                 `json:"id"`
	Worker      string              `json:"worker"`
	Description string              `json:"description"`
	Inputs      map[string]InputRef `json:"inputs,omitempty"`
	Params      map[string]any      `json:"params,omitempty"`
	Outputs     []string            `json:"outputs,omitempty"`
	GoalType    GoalType            `json:"goal_type"`
	Status      SubGoalStatus       `json:"status"`
	Result      map[string]any      `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// WorkerInput is the hydrated payload delivered to one worker: the sub-goal
// plus its InputRefs resolved to concrete values.
type WorkerInput struct {
	SubGoal        SubGoal        `json:"sub_goal"`
	ResolvedInputs map[string]any `json:"resolved_inputs,omitempty"`
}

// WorkerResult is the uniform record every worker invocation yields.
// Outputs is what join/reduce writes into completed_outputs on success.
type WorkerResult struct {
	SubGoalID int            `json:"sub_goal_id"`
	Status    SubGoalStatus  `json:"status"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Error     string         `json:"error,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// WorkerCapability is one registry entry: the declarative contract a worker
// exposes to the planner, router, join/reduce, and synthesizer.
type WorkerCapability struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Preconditions  []string      `json:"preconditions,omitempty"`
	Outputs        []string      `json:"outputs"`
	GoalType       GoalType      `json:"goal_type"`
	MemorableSlots []string      `json:"memorable_slots,omitempty"`
	SynthesisMode  SynthesisMode `json:"synthesis_mode"`
}

// Artifact types persisted across turns.
const (
	ArtifactESQuery        = "es_query"
	ArtifactAnalysisResult = "analysis_result"
)

// KeyArtifact is a cross-turn memory record derived from a worker's
// memorable slots. For es_query artifacts Slots holds the query document
// plus the pagination cursor; for analysis_result artifacts it holds the
// entity-resolution record.
type KeyArtifact struct {
	Type      string         `json:"type"`
	SubGoalID int            `json:"sub_goal_id"`
	TurnID    int            `json:"turn_id"`
	Intent    string         `json:"intent"`
	Slots     map[string]any `json:"slots"`
}

// TurnSummary records one completed conversation turn.
type TurnSummary struct {
	TurnID       int           `json:"turn_id"`
	HumanMessage string        `json:"human_message"`
	AIResponse   string        `json:"ai_response"`
	KeyArtifacts []KeyArtifact `json:"key_artifacts,omitempty"`
}

// Context slot names the normalizer may install under completed_outputs[0].
const (
	SlotUserESQuery     = "user_es_query"
	SlotPriorESQuery    = "prior_es_query"
	SlotPriorNextOffset = "prior_next_offset"
	SlotPriorPageSize   = "prior_page_size"
	SlotForceExecute    = "force_execute"
)
