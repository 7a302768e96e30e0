package planner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/registry"
	"github.com/haricheung/harbormind/internal/state"
	"github.com/haricheung/harbormind/internal/types"
)

// fakeCaller scripts LLM responses and records whether it was called.
type fakeCaller struct {
	response string
	err      error
	called   bool
	lastUser string
}

func (f *fakeCaller) Chat(ctx context.Context, system, user string) (string, llm.Usage, error) {
	f.called = true
	return f.response, llm.Usage{}, f.err
}

func (f *fakeCaller) ChatJSON(ctx context.Context, system, user string, out any) (llm.Usage, error) {
	f.called = true
	f.lastUser = user
	if f.err != nil {
		return llm.Usage{}, f.err
	}
	return llm.Usage{}, json.Unmarshal([]byte(f.response), out)
}

func noop() registry.Worker {
	return registry.WorkerFunc(func(ctx context.Context, in types.WorkerInput) types.WorkerResult {
		return types.WorkerResult{SubGoalID: in.SubGoal.ID, Status: types.SubGoalSuccess}
	})
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	reg.MustRegister(types.WorkerCapability{
		Name: "metadata_lookup", Description: "resolve entities",
		Outputs: []string{"metadata_results", "analysis_result"}, GoalType: types.GoalSupport,
	}, noop())
	reg.MustRegister(types.WorkerCapability{
		Name: "es_query_gen", Description: "generate a query",
		Outputs: []string{"es_query", "intent"}, GoalType: types.GoalSupport,
	}, noop())
	reg.MustRegister(types.WorkerCapability{
		Name: "common_helpdesk", Description: "answer FAQ",
		Outputs: []string{"answer"}, GoalType: types.GoalDeliverable, SynthesisMode: types.SynthNarrative,
	}, noop())
	reg.MustRegister(types.WorkerCapability{
		Name: "barren", Description: "declares nothing", GoalType: types.GoalSupport,
	}, noop())
	return reg
}

func TestPlanner_BudgetExhaustedFailsWithoutLLM(t *testing.T) {
	// Overrunning the round budget fails the turn before any LLM call
	f := &fakeCaller{}
	tn := state.NewTurn("q", nil, 2)
	tn.Round = 3
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)
	if tn.Status != types.TurnFailed {
		t.Errorf("status = %q, want failed", tn.Status)
	}
	if f.called {
		t.Error("LLM should not be consulted after budget exhaustion")
	}
	if !strings.Contains(tn.PlannerReasoning, "budget") {
		t.Errorf("reasoning = %q", tn.PlannerReasoning)
	}
}

func TestPlanner_EmptyQuestionFails(t *testing.T) {
	// An empty normalized question fails the turn
	tn := state.NewTurn("  ", nil, 10)
	New(&fakeCaller{}, testRegistry(t)).Run(context.Background(), tn, nil)
	if tn.Status != types.TurnFailed {
		t.Errorf("status = %q, want failed", tn.Status)
	}
}

func TestPlanner_LLMErrorFailsTurn(t *testing.T) {
	// A planning LLM failure surfaces as a failed turn with a diagnostic
	f := &fakeCaller{err: errors.New("rate limited")}
	tn := state.NewTurn("q", nil, 10)
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)
	if tn.Status != types.TurnFailed {
		t.Errorf("status = %q, want failed", tn.Status)
	}
	if !strings.Contains(tn.PlannerReasoning, "rate limited") {
		t.Errorf("reasoning = %q", tn.PlannerReasoning)
	}
}

func TestPlanner_ContinueWithoutSubGoalsFails(t *testing.T) {
	// A continue decision carrying no sub-goals is the no-op guard failure
	f := &fakeCaller{response: `{"action":"continue","reasoning":"hmm","sub_goals":[]}`}
	tn := state.NewTurn("q", nil, 10)
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)
	if tn.Status != types.TurnFailed {
		t.Errorf("status = %q, want failed", tn.Status)
	}
}

func TestPlanner_ContinueAppendsValidatedSubGoals(t *testing.T) {
	// Valid proposals become pending sub-goals with registry outputs and goal type
	f := &fakeCaller{response: `{"action":"continue","reasoning":"start with metadata","sub_goals":[
		{"worker":"metadata_lookup","description":"resolve Maersk","inputs":{},"params":{}}]}`}
	tn := state.NewTurn("find Maersk shipments", nil, 10)
	tn.CompletedOutputs[0] = map[string]any{}
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)

	if tn.Status != types.TurnExecuting {
		t.Fatalf("status = %q, want executing", tn.Status)
	}
	if len(tn.SubGoals) != 1 {
		t.Fatalf("sub-goals = %d, want 1", len(tn.SubGoals))
	}
	sg := tn.SubGoals[0]
	if sg.ID != 1 || sg.Status != types.SubGoalPending {
		t.Errorf("sub-goal = %+v", sg)
	}
	if len(sg.Outputs) != 2 || sg.Outputs[0] != "metadata_results" {
		t.Errorf("declared outputs = %v", sg.Outputs)
	}
	if sg.GoalType != types.GoalSupport {
		t.Errorf("goal type = %q", sg.GoalType)
	}
}

func TestPlanner_SameBatchForwardReferenceResolves(t *testing.T) {
	// A reference to a sibling proposed in the same batch validates against
	// the sibling's declared outputs
	f := &fakeCaller{response: `{"action":"continue","reasoning":"gen then note","sub_goals":[
		{"worker":"es_query_gen","description":"build query","inputs":{},"params":{}},
		{"worker":"metadata_lookup","description":"uses sibling","inputs":{"q":{"from_sub_goal":1,"slot":"es_query"}},"params":{}}]}`}
	tn := state.NewTurn("q", nil, 10)
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)

	if len(tn.SubGoals) != 2 {
		t.Fatalf("sub-goals = %d, want 2", len(tn.SubGoals))
	}
	for _, sg := range tn.SubGoals {
		if sg.Status != types.SubGoalPending {
			t.Errorf("sub-goal %d status = %q, want pending", sg.ID, sg.Status)
		}
	}
}

func TestPlanner_BadReferenceIsolatedToOneSubGoal(t *testing.T) {
	// A sub-goal referencing an unknown source is pre-failed; its sibling proceeds
	f := &fakeCaller{response: `{"action":"continue","reasoning":"one bad","sub_goals":[
		{"worker":"es_query_gen","description":"fine","inputs":{},"params":{}},
		{"worker":"metadata_lookup","description":"broken","inputs":{"x":{"from_sub_goal":999,"slot":"y"}},"params":{}}]}`}
	tn := state.NewTurn("q", nil, 10)
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)

	var ok, bad *types.SubGoal
	for i := range tn.SubGoals {
		switch tn.SubGoals[i].Description {
		case "fine":
			ok = &tn.SubGoals[i]
		case "broken":
			bad = &tn.SubGoals[i]
		}
	}
	if ok == nil || ok.Status != types.SubGoalPending {
		t.Errorf("valid sibling = %+v, want pending", ok)
	}
	if bad == nil || bad.Status != types.SubGoalFailed {
		t.Fatalf("invalid sub-goal = %+v, want failed", bad)
	}
	if !strings.Contains(bad.Error, "999") {
		t.Errorf("error = %q, want mention of 999", bad.Error)
	}
}

func TestPlanner_SlotMustBeDeclaredBySource(t *testing.T) {
	// A slot absent from the source's declared outputs pre-fails the reference,
	// and a source declaring nothing rejects every reference
	f := &fakeCaller{response: `{"action":"continue","reasoning":"slots","sub_goals":[
		{"worker":"es_query_gen","description":"gen","inputs":{},"params":{}},
		{"worker":"metadata_lookup","description":"bad slot","inputs":{"x":{"from_sub_goal":1,"slot":"nonexistent"}},"params":{}},
		{"worker":"barren","description":"empty source","inputs":{},"params":{}},
		{"worker":"metadata_lookup","description":"refs empty","inputs":{"x":{"from_sub_goal":3,"slot":"anything"}},"params":{}}]}`}
	tn := state.NewTurn("q", nil, 10)
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)

	byDesc := map[string]types.SubGoal{}
	for _, sg := range tn.SubGoals {
		byDesc[sg.Description] = sg
	}
	if byDesc["bad slot"].Status != types.SubGoalFailed {
		t.Error("undeclared slot reference should pre-fail")
	}
	if byDesc["refs empty"].Status != types.SubGoalFailed {
		t.Error("reference into an empty slot set should pre-fail")
	}
	if byDesc["gen"].Status != types.SubGoalPending || byDesc["empty source"].Status != types.SubGoalPending {
		t.Error("unrelated siblings should stay pending")
	}
}

func TestPlanner_SlotZeroIsValidSource(t *testing.T) {
	// The normalizer's context table is a first-class dependency source
	f := &fakeCaller{response: `{"action":"continue","reasoning":"continue paging","sub_goals":[
		{"worker":"metadata_lookup","description":"from context","inputs":{"q":{"from_sub_goal":0,"slot":"prior_es_query"}},"params":{}}]}`}
	tn := state.NewTurn("show more", nil, 10)
	tn.CompletedOutputs[0] = map[string]any{"prior_es_query": map[string]any{"match": "x"}}
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)

	if tn.SubGoals[0].Status != types.SubGoalPending {
		t.Errorf("status = %q (%s), want pending", tn.SubGoals[0].Status, tn.SubGoals[0].Error)
	}
}

func TestPlanner_DoneValidatesSynthesisInputs(t *testing.T) {
	// Done keeps resolvable synthesis inputs and drops invalid ones
	f := &fakeCaller{response: `{"action":"done","reasoning":"answered","synthesis_inputs":{
		"answer":{"from_sub_goal":1,"slot":"answer"},
		"ghost":{"from_sub_goal":9,"slot":"x"},
		"missing_slot":{"from_sub_goal":1,"slot":"not_there"}}}`}
	tn := state.NewTurn("q", nil, 10)
	tn.CompletedOutputs[1] = map[string]any{"answer": "A bill of lading is..."}
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)

	if tn.Status != types.TurnDone {
		t.Fatalf("status = %q, want done", tn.Status)
	}
	if len(tn.SynthesisInputs) != 1 {
		t.Fatalf("synthesis inputs = %v, want only the valid one", tn.SynthesisInputs)
	}
	if ref := tn.SynthesisInputs["answer"]; ref.FromSubGoal != 1 || ref.Slot != "answer" {
		t.Errorf("kept ref = %+v", ref)
	}
}

func TestPlanner_PromptShowsPendingWithUnmetDeps(t *testing.T) {
	// The prompt lists pending sub-goals with their unmet dependencies and
	// truncates long completed values
	f := &fakeCaller{response: `{"action":"done","reasoning":"r"}`}
	tn := state.NewTurn("q", nil, 10)
	tn.SubGoals = []types.SubGoal{
		{ID: 1, Worker: "es_query_gen", Description: "gen", Status: types.SubGoalSuccess, Outputs: []string{"es_query"}},
		{ID: 2, Worker: "metadata_lookup", Description: "waits", Status: types.SubGoalPending,
			Inputs: map[string]types.InputRef{"q": {FromSubGoal: 3, Slot: "es_results"}}},
	}
	tn.CompletedOutputs[1] = map[string]any{"es_query": strings.Repeat("x", 500)}
	New(f, testRegistry(t)).Run(context.Background(), tn, nil)

	if !strings.Contains(f.lastUser, "waiting for q from sub-goal 3") {
		t.Errorf("prompt missing unmet dependency note:\n%s", f.lastUser)
	}
	if strings.Contains(f.lastUser, strings.Repeat("x", 300)) {
		t.Error("long completed value should be truncated in the prompt")
	}
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	// Cutting a long value never splits a multibyte rune
	got := truncate(strings.Repeat("货", 120))
	if !utf8.ValidString(got) {
		t.Errorf("truncated value is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated value missing marker: %q", got)
	}
}
