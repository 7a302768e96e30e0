package state

import (
	"sync"

	"github.com/haricheung/harbormind/internal/types"
)

// Turn is the per-turn plan state. It is owned by the turn driver and
// mutated only between rounds; workers never see it. The one concurrent
// entry point is the WorkerResults accumulator, which parallel executors
// feed through Accumulator.Add.
type Turn struct {
	OriginalQuestion    string
	Question            string
	ConversationHistory []types.TurnSummary

	SubGoals         []types.SubGoal
	CompletedOutputs map[int]map[string]any

	Round     int
	MaxRounds int
	Status    types.TurnStatus

	FinalResponse    string
	PlannerReasoning string

	SynthesisInputs map[string]types.InputRef

	KeyArtifacts []types.KeyArtifact
}

// DefaultMaxRounds is the round budget when the driver passes 0.
const DefaultMaxRounds = 10

// NewTurn creates the initial state for one turn.
func NewTurn(question string, history []types.TurnSummary, maxRounds int) *Turn {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Turn{
		OriginalQuestion:    question,
		Question:            question,
		ConversationHistory: history,
		CompletedOutputs:    make(map[int]map[string]any),
		Round:               1,
		MaxRounds:           maxRounds,
		Status:              types.TurnPlanning,
	}
}

// NextSubGoalID returns the id the next created sub-goal must take:
// one past the highest existing id. Id 0 is reserved for the normalizer's
// context table and is never assigned here.
func (t *Turn) NextSubGoalID() int {
	maxID := 0
	for _, sg := range t.SubGoals {
		if sg.ID > maxID {
			maxID = sg.ID
		}
	}
	return maxID + 1
}

// SubGoalByID looks up a sub-goal by id.
func (t *Turn) SubGoalByID(id int) (types.SubGoal, bool) {
	for _, sg := range t.SubGoals {
		if sg.ID == id {
			return sg, true
		}
	}
	return types.SubGoal{}, false
}

// PendingSubGoals returns the sub-goals still awaiting execution.
func (t *Turn) PendingSubGoals() []types.SubGoal {
	var pending []types.SubGoal
	for _, sg := range t.SubGoals {
		if sg.Status == types.SubGoalPending {
			pending = append(pending, sg)
		}
	}
	return pending
}

// CompletedDeliverables returns successful deliverable sub-goals in plan order.
func (t *Turn) CompletedDeliverables() []types.SubGoal {
	var done []types.SubGoal
	for _, sg := range t.SubGoals {
		if sg.GoalType == types.GoalDeliverable && sg.Status == types.SubGoalSuccess {
			done = append(done, sg)
		}
	}
	return done
}

// MergeWorkerResults is the accumulator's merge contract: an empty update
// resets the sequence (drain), anything else appends.
func MergeWorkerResults(existing, update []types.WorkerResult) []types.WorkerResult {
	if len(update) == 0 {
		return nil
	}
	return append(existing, update...)
}

// Accumulator collects worker results from parallel executors. It is the
// only state shared across worker goroutines within a round.
type Accumulator struct {
	mu      sync.Mutex
	results []types.WorkerResult
}

// Add merges results into the accumulator. Safe for concurrent use.
func (a *Accumulator) Add(results ...types.WorkerResult) {
	if len(results) == 0 {
		return
	}
	a.mu.Lock()
	a.results = MergeWorkerResults(a.results, results)
	a.mu.Unlock()
}

// Drain returns everything accumulated so far and resets to empty.
func (a *Accumulator) Drain() []types.WorkerResult {
	a.mu.Lock()
	out := a.results
	a.results = MergeWorkerResults(a.results, nil)
	a.mu.Unlock()
	return out
}

// Len reports the number of buffered results.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}
