package executor

import (
	"context"
	"testing"

	"github.com/haricheung/harbormind/internal/registry"
	"github.com/haricheung/harbormind/internal/types"
)

func TestExecutor_EmptyWorkerNameFails(t *testing.T) {
	// An empty worker name yields a failed result carrying the sub-goal id
	e := New(registry.New())
	got := e.Execute(context.Background(), types.WorkerInput{SubGoal: types.SubGoal{ID: 7}})
	if got.Status != types.SubGoalFailed || got.SubGoalID != 7 {
		t.Errorf("result = %+v", got)
	}
}

func TestExecutor_UnknownWorkerFails(t *testing.T) {
	// An unregistered worker name yields a failed result naming the worker
	e := New(registry.New())
	got := e.Execute(context.Background(), types.WorkerInput{SubGoal: types.SubGoal{ID: 3, Worker: "nope"}})
	if got.Status != types.SubGoalFailed || got.SubGoalID != 3 {
		t.Errorf("result = %+v", got)
	}
}

func TestExecutor_PanicRecoveredAsFailure(t *testing.T) {
	// A panicking worker body becomes a failed result, not a crash
	reg := registry.New()
	reg.MustRegister(types.WorkerCapability{Name: "boom", Outputs: []string{"x"}},
		registry.WorkerFunc(func(ctx context.Context, in types.WorkerInput) types.WorkerResult {
			panic("nil map write")
		}))
	e := New(reg)
	got := e.Execute(context.Background(), types.WorkerInput{SubGoal: types.SubGoal{ID: 5, Worker: "boom"}})
	if got.Status != types.SubGoalFailed || got.SubGoalID != 5 {
		t.Errorf("result = %+v", got)
	}
}

func TestExecutor_SuccessForwardsResultWithID(t *testing.T) {
	// A successful worker result passes through with the sub-goal id enforced
	reg := registry.New()
	reg.MustRegister(types.WorkerCapability{Name: "echo", Outputs: []string{"answer"}},
		registry.WorkerFunc(func(ctx context.Context, in types.WorkerInput) types.WorkerResult {
			return types.WorkerResult{Status: types.SubGoalSuccess, Outputs: map[string]any{"answer": "hi"}}
		}))
	e := New(reg)
	got := e.Execute(context.Background(), types.WorkerInput{SubGoal: types.SubGoal{ID: 2, Worker: "echo"}})
	if got.Status != types.SubGoalSuccess || got.SubGoalID != 2 || got.Outputs["answer"] != "hi" {
		t.Errorf("result = %+v", got)
	}
}
