package agent

import (
	"fmt"
	"log"
	"sort"

	"github.com/haricheung/harbormind/internal/state"
	"github.com/haricheung/harbormind/internal/trace"
	"github.com/haricheung/harbormind/internal/turnlog"
	"github.com/haricheung/harbormind/internal/types"
)

// joinReduce merges one round's worker results into the turn state:
// overlay statuses and results onto sub-goals, extend completed outputs
// with successful outputs, derive key artifacts, advance the round, and
// hand control back to the planner. The final state depends only on the
// multiset of results, not their arrival order.
func (a *Agent) joinReduce(t *state.Turn, results []types.WorkerResult, turnID int, tl *turnlog.TurnLog) {
	byID := make(map[int]types.WorkerResult, len(results))
	for _, r := range results {
		byID[r.SubGoalID] = r
	}

	succeeded, failed := 0, 0
	for i := range t.SubGoals {
		r, ok := byID[t.SubGoals[i].ID]
		if !ok {
			continue
		}
		t.SubGoals[i].Status = r.Status
		t.SubGoals[i].Result = r.Outputs
		t.SubGoals[i].Error = r.Error
		if r.Status == types.SubGoalSuccess {
			t.CompletedOutputs[r.SubGoalID] = r.Outputs
			succeeded++
		} else {
			failed++
		}
	}

	a.buildArtifacts(t, results, turnID, tl)

	t.Round++
	t.Status = types.TurnPlanning
	t.PlannerReasoning = fmt.Sprintf("round %d joined: %d succeeded, %d failed, %d results",
		t.Round-1, succeeded, failed, len(results))
	tl.JoinSummary(t.Round-1, len(results), t.PlannerReasoning)
	a.pub.Publish(trace.Event{Stage: trace.StageJoin, Round: t.Round - 1, Detail: t.PlannerReasoning})
}

// buildArtifacts derives key artifacts from this round's successful
// results, based on the shape of each worker's memorable slots:
//
//   - analysis_result            → analysis artifact
//   - es_query + pagination slot → fresh continuation artifact (pagination worker)
//   - es_query alone             → query-generation artifact
//   - pagination slots alone     → query-execution: bundle the cursor into the
//     referenced generation artifact from this round or a prior one, falling
//     back to a standalone artifact
//
// Results are processed in sub-goal id order so the output is independent
// of arrival order.
func (a *Agent) buildArtifacts(t *state.Turn, results []types.WorkerResult, turnID int, tl *turnlog.TurnLog) {
	ordered := make([]types.WorkerResult, 0, len(results))
	for _, r := range results {
		if r.Status == types.SubGoalSuccess {
			ordered = append(ordered, r)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SubGoalID < ordered[j].SubGoalID })

	for _, r := range ordered {
		sg, ok := t.SubGoalByID(r.SubGoalID)
		if !ok {
			continue
		}
		c, ok := a.reg.Lookup(sg.Worker)
		if !ok || len(c.MemorableSlots) == 0 {
			continue
		}

		hasAnalysis := contains(c.MemorableSlots, "analysis_result")
		hasQuery := contains(c.MemorableSlots, "es_query")
		hasCursor := contains(c.MemorableSlots, "next_offset") || contains(c.MemorableSlots, "page_size")

		switch {
		case hasAnalysis:
			art := types.KeyArtifact{
				Type:      types.ArtifactAnalysisResult,
				SubGoalID: sg.ID,
				TurnID:    turnID,
				Intent:    artifactIntent(sg, r.Outputs),
				Slots:     pickSlots(r.Outputs, "analysis_result"),
			}
			t.KeyArtifacts = append(t.KeyArtifacts, art)
			tl.Artifact(art.Type, art.SubGoalID, art.Intent)

		case hasQuery && hasCursor:
			// Pagination worker: preserve both query and new cursor so the
			// next turn can continue the chain.
			art := types.KeyArtifact{
				Type:      types.ArtifactESQuery,
				SubGoalID: sg.ID,
				TurnID:    turnID,
				Intent:    artifactIntent(sg, r.Outputs),
				Slots:     pickSlots(r.Outputs, "es_query", "next_offset", "page_size", "hit_count", "has_more"),
			}
			t.KeyArtifacts = append(t.KeyArtifacts, art)
			tl.Artifact(art.Type, art.SubGoalID, art.Intent)

		case hasQuery:
			art := types.KeyArtifact{
				Type:      types.ArtifactESQuery,
				SubGoalID: sg.ID,
				TurnID:    turnID,
				Intent:    artifactIntent(sg, r.Outputs),
				Slots:     pickSlots(r.Outputs, "es_query"),
			}
			t.KeyArtifacts = append(t.KeyArtifacts, art)
			tl.Artifact(art.Type, art.SubGoalID, art.Intent)

		case hasCursor:
			a.bundleExecArtifact(t, sg, r, turnID, tl)
		}
	}
}

// bundleExecArtifact merges a query-execution result's pagination cursor
// into its paired query-generation artifact. The pairing is declared by
// params.bundles_with_sub_goal; the referent may have been created this
// round or any prior one. Without a referent a standalone artifact is
// created, borrowing the generated query from completed outputs when
// available.
func (a *Agent) bundleExecArtifact(t *state.Turn, sg types.SubGoal, r types.WorkerResult, turnID int, tl *turnlog.TurnLog) {
	cursor := pickSlots(r.Outputs, "next_offset", "page_size", "hit_count", "has_more")

	if genID, ok := paramInt(sg.Params, "bundles_with_sub_goal"); ok {
		for i := range t.KeyArtifacts {
			art := &t.KeyArtifacts[i]
			if art.Type != types.ArtifactESQuery || art.SubGoalID != genID {
				continue
			}
			for slot, value := range cursor {
				art.Slots[slot] = value
			}
			log.Printf("[join] bundled cursor from sub-goal %d into artifact of sub-goal %d", sg.ID, genID)
			return
		}
		// Referent artifact missing: fall back to a standalone artifact
		// carrying the generated query when we still have it.
		if stored, ok := t.CompletedOutputs[genID]; ok {
			if q, ok := stored["es_query"]; ok {
				cursor["es_query"] = q
			}
		}
	}

	art := types.KeyArtifact{
		Type:      types.ArtifactESQuery,
		SubGoalID: sg.ID,
		TurnID:    turnID,
		Intent:    artifactIntent(sg, r.Outputs),
		Slots:     cursor,
	}
	t.KeyArtifacts = append(t.KeyArtifacts, art)
	tl.Artifact(art.Type, art.SubGoalID, art.Intent)
}

// artifactIntent prefers the worker's own intent output over the planner's
// description.
func artifactIntent(sg types.SubGoal, outputs map[string]any) string {
	if intent, ok := outputs["intent"].(string); ok && intent != "" {
		return intent
	}
	return sg.Description
}

// pickSlots copies the named slots that are present in outputs.
func pickSlots(outputs map[string]any, names ...string) map[string]any {
	slots := make(map[string]any)
	for _, name := range names {
		if value, ok := outputs[name]; ok {
			slots[name] = value
		}
	}
	return slots
}

// paramInt reads an integer param, tolerating the float64 shape JSON
// decoding produces.
func paramInt(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
