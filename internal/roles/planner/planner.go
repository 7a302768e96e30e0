// Package planner is the per-round decision engine. Each round it shows
// the LLM the goal, the worker registry, and the plan so far, then converts
// the returned decision into validated sub-goals, a done declaration with
// synthesis inputs, or a turn failure.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/registry"
	"github.com/haricheung/harbormind/internal/state"
	"github.com/haricheung/harbormind/internal/turnlog"
	"github.com/haricheung/harbormind/internal/types"
)

const systemPrompt = `You are the planner of a shipment-data assistant. You decompose the user's goal into sub-goals executed by registered workers, across multiple planning rounds.

Each round, decide ONE of:
- "continue": propose the next batch of sub-goals. Wire data between sub-goals with input references {"from_sub_goal": <id>, "slot": "<output name>"}. Reference id 0 for the conversation context slots listed in the context section. You may reference a sub-goal proposed in this same batch by the id shown in the numbering hint.
- "done": the deliverables answer the goal. Supply synthesis_inputs naming the output slots to present, each as an input reference into the completed outputs.
- "failed": the goal cannot be satisfied. Explain why in reasoning.

Rules:
- Never re-propose a sub-goal that is still pending; pending sub-goals run automatically once their dependencies complete.
- Use one worker per sub-goal, exactly as named in the registry.
- Put static values in params; use inputs only for data produced by other sub-goals.
- A query-execution sub-goal that runs a generated query must set params.bundles_with_sub_goal to the id of the generating sub-goal.

Output ONLY a JSON object:
{"action":"continue|done|failed","reasoning":"...","sub_goals":[{"worker":"...","description":"...","inputs":{"name":{"from_sub_goal":1,"slot":"es_query"}},"params":{}}],"synthesis_inputs":{"answer":{"from_sub_goal":1,"slot":"answer"}}}
No markdown, no prose, no code fences.`

// truncateAt bounds completed-output values rendered into the prompt.
const truncateAt = 200

type plannedSubGoal struct {
	Worker      string                    `json:"worker"`
	Description string                    `json:"description"`
	Inputs      map[string]types.InputRef `json:"inputs"`
	Params      map[string]any            `json:"params"`
}

type decision struct {
	Action          string                    `json:"action"`
	Reasoning       string                    `json:"reasoning"`
	SubGoals        []plannedSubGoal          `json:"sub_goals"`
	SynthesisInputs map[string]types.InputRef `json:"synthesis_inputs"`
}

// Planner drives one planning round at a time.
type Planner struct {
	llm llm.Caller
	reg *registry.Registry
}

// New creates a Planner.
func New(caller llm.Caller, reg *registry.Registry) *Planner {
	return &Planner{llm: caller, reg: reg}
}

// Run executes one planning round, mutating t to executing (with new
// sub-goals appended), done (with synthesis inputs), or failed.
func (p *Planner) Run(ctx context.Context, t *state.Turn, tl *turnlog.TurnLog) {
	if t.Round > t.MaxRounds {
		t.Status = types.TurnFailed
		t.PlannerReasoning = fmt.Sprintf("round budget exhausted (%d rounds)", t.MaxRounds)
		tl.PlanDecision(t.Round, "failed", t.PlannerReasoning, 0)
		return
	}
	if strings.TrimSpace(t.Question) == "" {
		t.Status = types.TurnFailed
		t.PlannerReasoning = "empty question"
		tl.PlanDecision(t.Round, "failed", t.PlannerReasoning, 0)
		return
	}

	var dec decision
	usage, err := p.llm.ChatJSON(ctx, systemPrompt, p.buildPrompt(t), &dec)
	tl.LLMCall("planner", usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		t.Status = types.TurnFailed
		t.PlannerReasoning = fmt.Sprintf("planning failed: %v", err)
		tl.PlanDecision(t.Round, "failed", t.PlannerReasoning, 0)
		log.Printf("[planner] round %d: %v", t.Round, err)
		return
	}

	switch dec.Action {
	case "done":
		t.SynthesisInputs = p.validateSynthesisInputs(dec.SynthesisInputs, t)
		t.Status = types.TurnDone
		t.PlannerReasoning = dec.Reasoning
		tl.PlanDecision(t.Round, "done", dec.Reasoning, 0)
		log.Printf("[planner] round %d: done with %d synthesis inputs", t.Round, len(t.SynthesisInputs))

	case "failed":
		t.Status = types.TurnFailed
		t.PlannerReasoning = dec.Reasoning
		tl.PlanDecision(t.Round, "failed", dec.Reasoning, 0)
		log.Printf("[planner] round %d: declared failed: %s", t.Round, dec.Reasoning)

	default: // continue
		if len(dec.SubGoals) == 0 {
			t.Status = types.TurnFailed
			t.PlannerReasoning = "planner chose to continue but proposed no sub-goals"
			tl.PlanDecision(t.Round, "failed", t.PlannerReasoning, 0)
			return
		}
		created := p.convertPlannedSubGoals(dec.SubGoals, t)
		t.SubGoals = append(t.SubGoals, created...)
		t.Status = types.TurnExecuting
		t.PlannerReasoning = dec.Reasoning
		tl.PlanDecision(t.Round, "continue", dec.Reasoning, len(created))
		log.Printf("[planner] round %d: %d sub-goals proposed", t.Round, len(created))
	}
}

// convertPlannedSubGoals assigns ids and validates every InputRef in two
// passes: pass one records each new sub-goal's id and declared outputs so
// same-batch references resolve; pass two checks each reference against
// existing sub-goals, batch siblings, and completed outputs. A sub-goal
// with a bad reference is created pre-failed; its siblings proceed.
func (p *Planner) convertPlannedSubGoals(planned []plannedSubGoal, t *state.Turn) []types.SubGoal {
	nextID := t.NextSubGoalID()

	batchIDs := make(map[int]bool, len(planned))
	batchOutputs := make(map[int][]string, len(planned))
	for i, ps := range planned {
		id := nextID + i
		batchIDs[id] = true
		if c, ok := p.reg.Lookup(ps.Worker); ok {
			batchOutputs[id] = c.Outputs
		}
	}

	existingOutputs := make(map[int][]string, len(t.SubGoals))
	for _, sg := range t.SubGoals {
		existingOutputs[sg.ID] = sg.Outputs
	}

	var valid, failed []types.SubGoal
	for i, ps := range planned {
		id := nextID + i
		sg := types.SubGoal{
			ID:          id,
			Worker:      ps.Worker,
			Description: ps.Description,
			Inputs:      ps.Inputs,
			Params:      ps.Params,
			Status:      types.SubGoalPending,
			GoalType:    types.GoalSupport,
		}
		if c, ok := p.reg.Lookup(ps.Worker); ok {
			sg.Outputs = c.Outputs
			sg.GoalType = c.GoalType
		}

		if refErr := validateInputs(ps.Inputs, t, batchIDs, batchOutputs, existingOutputs); refErr != "" {
			sg.Status = types.SubGoalFailed
			sg.Error = refErr
			failed = append(failed, sg)
			log.Printf("[planner] sub-goal %d pre-failed: %s", id, refErr)
			continue
		}
		valid = append(valid, sg)
	}
	return append(valid, failed...)
}

// validateInputs returns a diagnostic for the first invalid reference, or
// "" when all resolve. The slot set of a source is the stored completed
// outputs when present, otherwise the source's declared outputs; an empty
// slot set rejects every reference to it.
func validateInputs(inputs map[string]types.InputRef, t *state.Turn, batchIDs map[int]bool, batchOutputs, existingOutputs map[int][]string) string {
	for name, ref := range inputs {
		stored, inCompleted := t.CompletedOutputs[ref.FromSubGoal]
		_, inExisting := existingOutputs[ref.FromSubGoal]
		if !inCompleted && !inExisting && !batchIDs[ref.FromSubGoal] {
			return fmt.Sprintf("input %q references unknown sub-goal %d", name, ref.FromSubGoal)
		}

		var ok bool
		switch {
		case inCompleted:
			_, ok = stored[ref.Slot]
		case inExisting:
			ok = contains(existingOutputs[ref.FromSubGoal], ref.Slot)
		default:
			ok = contains(batchOutputs[ref.FromSubGoal], ref.Slot)
		}
		if !ok {
			return fmt.Sprintf("input %q references slot %q not produced by sub-goal %d", name, ref.Slot, ref.FromSubGoal)
		}
	}
	return ""
}

// validateSynthesisInputs keeps only references that resolve in completed
// outputs; invalid ones are dropped with a warning, never failing the turn.
func (p *Planner) validateSynthesisInputs(inputs map[string]types.InputRef, t *state.Turn) map[string]types.InputRef {
	if len(inputs) == 0 {
		return nil
	}
	out := make(map[string]types.InputRef, len(inputs))
	for name, ref := range inputs {
		stored, ok := t.CompletedOutputs[ref.FromSubGoal]
		if !ok {
			log.Printf("[planner] WARNING: dropping synthesis input %q: sub-goal %d has no completed outputs", name, ref.FromSubGoal)
			continue
		}
		if _, ok := stored[ref.Slot]; !ok {
			log.Printf("[planner] WARNING: dropping synthesis input %q: slot %q missing from sub-goal %d", name, ref.Slot, ref.FromSubGoal)
			continue
		}
		out[name] = ref
	}
	return out
}

// buildPrompt renders the turn state for the LLM: goal, registry, context
// slots, completed outputs, failures, pending sub-goals with unmet
// dependencies, and the round budget.
func (p *Planner) buildPrompt(t *state.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", t.Question)
	fmt.Fprintf(&b, "Round %d of %d.\n\n", t.Round, t.MaxRounds)

	b.WriteString("Worker registry:\n")
	for _, c := range p.reg.Capabilities() {
		fmt.Fprintf(&b, "- %s (%s): %s. Outputs: %s.", c.Name, c.GoalType, c.Description, strings.Join(c.Outputs, ", "))
		if len(c.Preconditions) > 0 {
			fmt.Fprintf(&b, " Preconditions: %s.", strings.Join(c.Preconditions, "; "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if ctxSlots, ok := t.CompletedOutputs[0]; ok && len(ctxSlots) > 0 {
		b.WriteString("Conversation context (sub-goal 0):\n")
		for name, value := range ctxSlots {
			fmt.Fprintf(&b, "- %s = %s\n", name, truncate(renderValue(value)))
		}
		b.WriteString("\n")
	}

	b.WriteString(p.completedSection(t))
	b.WriteString(failedSection(t))
	b.WriteString(pendingSection(t))

	fmt.Fprintf(&b, "The next proposed sub-goal will receive id %d; later ones in the same batch number upward from there.\n", t.NextSubGoalID())
	return b.String()
}

func (p *Planner) completedSection(t *state.Turn) string {
	var b strings.Builder
	for _, sg := range t.SubGoals {
		if sg.Status != types.SubGoalSuccess {
			continue
		}
		outputs, ok := t.CompletedOutputs[sg.ID]
		if !ok {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Completed sub-goals:\n")
		}
		fmt.Fprintf(&b, "- [%d] %s (%s):\n", sg.ID, sg.Description, sg.Worker)
		for slot, value := range outputs {
			fmt.Fprintf(&b, "    %s = %s\n", slot, truncate(renderValue(value)))
		}
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

func failedSection(t *state.Turn) string {
	var b strings.Builder
	for _, sg := range t.SubGoals {
		if sg.Status != types.SubGoalFailed {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Failed sub-goals:\n")
		}
		fmt.Fprintf(&b, "- [%d] %s (%s): %s\n", sg.ID, sg.Description, sg.Worker, sg.Error)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

func pendingSection(t *state.Turn) string {
	var b strings.Builder
	for _, sg := range t.SubGoals {
		if sg.Status != types.SubGoalPending {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Pending sub-goals (do not re-propose; they run once dependencies complete):\n")
		}
		var unmet []string
		for name, ref := range sg.Inputs {
			stored, ok := t.CompletedOutputs[ref.FromSubGoal]
			if !ok {
				unmet = append(unmet, fmt.Sprintf("%s from sub-goal %d", name, ref.FromSubGoal))
				continue
			}
			if _, ok := stored[ref.Slot]; !ok {
				unmet = append(unmet, fmt.Sprintf("%s from sub-goal %d", name, ref.FromSubGoal))
			}
		}
		fmt.Fprintf(&b, "- [%d] %s (%s)", sg.ID, sg.Description, sg.Worker)
		if len(unmet) > 0 {
			fmt.Fprintf(&b, " waiting for %s", strings.Join(unmet, ", "))
		}
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

func renderValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func truncate(s string) string {
	if len(s) <= truncateAt {
		return s
	}
	cut := truncateAt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
