// Package executor runs one hydrated sub-goal against its worker body.
// Every invocation is independent; failures are data, never Go errors.
package executor

import (
	"context"
	"fmt"
	"log"

	"github.com/haricheung/harbormind/internal/registry"
	"github.com/haricheung/harbormind/internal/types"
)

// Executor resolves worker names through the registry and invokes bodies.
type Executor struct {
	reg *registry.Registry
}

// New creates an Executor.
func New(reg *registry.Registry) *Executor {
	return &Executor{reg: reg}
}

// Execute runs in.SubGoal's worker. Three failure modes produce a failed
// result without reaching the worker body: an empty worker name, an unknown
// worker name, and a panic inside the body (recovered). The sub-goal id is
// preserved in every case.
func (e *Executor) Execute(ctx context.Context, in types.WorkerInput) (result types.WorkerResult) {
	id := in.SubGoal.ID

	if in.SubGoal.Worker == "" {
		return types.WorkerResult{SubGoalID: id, Status: types.SubGoalFailed, Error: "sub-goal has no worker name"}
	}
	w, ok := e.reg.WorkerFor(in.SubGoal.Worker)
	if !ok {
		return types.WorkerResult{SubGoalID: id, Status: types.SubGoalFailed,
			Error: fmt.Sprintf("unknown worker %q", in.SubGoal.Worker)}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[executor] worker %s panicked on sub-goal %d: %v", in.SubGoal.Worker, id, r)
			result = types.WorkerResult{SubGoalID: id, Status: types.SubGoalFailed,
				Error: fmt.Sprintf("worker %s panicked: %v", in.SubGoal.Worker, r)}
		}
	}()

	result = w.Invoke(ctx, in)
	result.SubGoalID = id
	return result
}
