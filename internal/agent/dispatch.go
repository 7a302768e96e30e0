package agent

import (
	"context"
	"sync"

	"github.com/haricheung/harbormind/internal/state"
	"github.com/haricheung/harbormind/internal/trace"
	"github.com/haricheung/harbormind/internal/turnlog"
	"github.com/haricheung/harbormind/internal/types"
)

// dispatchRound hydrates every ready pending sub-goal and runs each on its
// own goroutine, collecting results through the accumulator. Readiness is a
// pure function of completed outputs; sibling statuses never matter. A
// round with nothing ready still joins (a no-op round that advances).
func (a *Agent) dispatchRound(ctx context.Context, t *state.Turn, tl *turnlog.TurnLog) []types.WorkerResult {
	var acc state.Accumulator
	var wg sync.WaitGroup

	for _, sg := range t.PendingSubGoals() {
		if !isReady(sg, t.CompletedOutputs) {
			continue
		}
		input := types.WorkerInput{SubGoal: sg, ResolvedInputs: hydrate(sg, t.CompletedOutputs)}
		tl.Dispatch(sg.ID, sg.Worker)
		a.pub.Publish(trace.Event{Stage: trace.StageDispatch, Round: t.Round, SubGoalID: sg.ID, Worker: sg.Worker})

		wg.Add(1)
		go func(in types.WorkerInput) {
			defer wg.Done()
			res := a.executor.Execute(ctx, in)
			acc.Add(res)
			tl.WorkerResult(res.SubGoalID, in.SubGoal.Worker, string(res.Status), res.Error)
			a.pub.Publish(trace.Event{Stage: trace.StageWorkerDone, Round: t.Round, SubGoalID: res.SubGoalID, Worker: in.SubGoal.Worker, Detail: string(res.Status)})
		}(input)
	}

	wg.Wait()
	return acc.Drain()
}

// isReady reports whether every InputRef resolves in completed outputs:
// the source id is present and the slot exists in the stored mapping.
func isReady(sg types.SubGoal, completed map[int]map[string]any) bool {
	for _, ref := range sg.Inputs {
		stored, ok := completed[ref.FromSubGoal]
		if !ok {
			return false
		}
		if _, ok := stored[ref.Slot]; !ok {
			return false
		}
	}
	return true
}

// hydrate resolves each InputRef to its concrete value. Callers check
// isReady first; a missing value here would be a readiness bug, so the
// entry is simply skipped.
func hydrate(sg types.SubGoal, completed map[int]map[string]any) map[string]any {
	if len(sg.Inputs) == 0 {
		return nil
	}
	resolved := make(map[string]any, len(sg.Inputs))
	for name, ref := range sg.Inputs {
		if stored, ok := completed[ref.FromSubGoal]; ok {
			if value, ok := stored[ref.Slot]; ok {
				resolved[name] = value
			}
		}
	}
	return resolved
}
