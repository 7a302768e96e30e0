// Package agent drives one conversation turn through the planner loop:
// normalize, then rounds of plan / dispatch / join until the planner
// declares done or failed, then synthesis. The loop owns the turn state;
// workers only ever see their own hydrated input.
package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/haricheung/harbormind/internal/registry"
	"github.com/haricheung/harbormind/internal/roles/executor"
	"github.com/haricheung/harbormind/internal/roles/normalizer"
	"github.com/haricheung/harbormind/internal/roles/planner"
	"github.com/haricheung/harbormind/internal/roles/synthesizer"
	"github.com/haricheung/harbormind/internal/state"
	"github.com/haricheung/harbormind/internal/trace"
	"github.com/haricheung/harbormind/internal/turnlog"
	"github.com/haricheung/harbormind/internal/types"
)

// TurnResult is what escapes a completed turn: the response text, the
// artifacts to persist for later turns, and the terminal status.
type TurnResult struct {
	FinalResponse string
	Artifacts     []types.KeyArtifact
	Status        types.TurnStatus
	Reasoning     string
}

// Agent wires the four roles around the turn state.
type Agent struct {
	normalizer  *normalizer.Normalizer
	planner     *planner.Planner
	executor    *executor.Executor
	synthesizer *synthesizer.Synthesizer
	reg         *registry.Registry
	logs        *turnlog.Registry
	pub         *trace.Publisher
}

// New creates an Agent. logs and pub may be nil.
func New(n *normalizer.Normalizer, p *planner.Planner, x *executor.Executor, s *synthesizer.Synthesizer, reg *registry.Registry, logs *turnlog.Registry, pub *trace.Publisher) *Agent {
	return &Agent{normalizer: n, planner: p, executor: x, synthesizer: s, reg: reg, logs: logs, pub: pub}
}

// canned driver-level failure line; turn-level detail goes to the log.
const failedResponse = "Sorry, I couldn't process that request."

// RunTurn executes one turn. The returned error covers driver misuse only;
// planning and worker failures surface as Status = failed in the result.
func (a *Agent) RunTurn(ctx context.Context, turnID int, question string, history []types.TurnSummary, maxRounds int) (TurnResult, error) {
	if a.reg == nil || a.reg.Len() == 0 {
		return TurnResult{}, fmt.Errorf("agent: empty worker registry")
	}

	tl := a.logs.Open(turnID, question)
	t := state.NewTurn(question, history, maxRounds)

	a.pub.Publish(trace.Event{Stage: trace.StageNormalize, Detail: question})
	a.normalizer.Run(ctx, t, tl)

	for {
		if err := ctx.Err(); err != nil {
			t.Status = types.TurnFailed
			t.PlannerReasoning = fmt.Sprintf("turn cancelled: %v", err)
			break
		}

		tl.RoundBegin(t.Round)
		a.pub.Publish(trace.Event{Stage: trace.StagePlan, Round: t.Round})
		a.planner.Run(ctx, t, tl)

		if t.Status == types.TurnDone {
			a.pub.Publish(trace.Event{Stage: trace.StageSynthesize, Round: t.Round})
			a.synthesizer.Run(ctx, t, tl)
			break
		}
		if t.Status == types.TurnFailed {
			break
		}

		// executing: fan out ready sub-goals, then join the round.
		results := a.dispatchRound(ctx, t, tl)
		a.joinReduce(t, results, turnID, tl)
	}

	status := t.Status
	response := t.FinalResponse
	if status == types.TurnFailed && response == "" {
		response = failedResponse
	}
	a.pub.Publish(trace.Event{Stage: trace.StageTurnDone, Round: t.Round, Detail: string(status)})
	a.logs.Close(turnID, string(status))
	log.Printf("[agent] turn %d finished status=%s rounds=%d artifacts=%d", turnID, status, t.Round, len(t.KeyArtifacts))

	return TurnResult{
		FinalResponse: response,
		Artifacts:     t.KeyArtifacts,
		Status:        status,
		Reasoning:     t.PlannerReasoning,
	}, nil
}
