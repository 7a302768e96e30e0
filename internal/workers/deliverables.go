package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/types"
)

// clarifyWorker turns an upstream ambiguity report into a question for the
// user. No LLM: the generator already described the problem.
type clarifyWorker struct{}

func (w *clarifyWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	ambiguity, ok := inputString(in, "ambiguity", "question")
	if !ok {
		ambiguity = in.SubGoal.Description
	}
	if strings.TrimSpace(ambiguity) == "" {
		return fail(in.SubGoal.ID, "nothing to clarify")
	}
	msg := fmt.Sprintf("I need one clarification before I can continue: %s", strings.TrimSpace(ambiguity))
	return succeed(in.SubGoal.ID, map[string]any{"clarification_message": msg})
}

const explainPrompt = `You explain shipment-index metadata to a non-technical user. Given field descriptors and optionally their known values, describe in plain language what data is available and how it can be filtered. Keep it short.`

type explainWorker struct {
	llm llm.Caller
}

// Invoke explains index metadata. Fails without a metadata_results input;
// the planner must run metadata_lookup first.
func (w *explainWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	metadata, ok := inputValue(in, "metadata_results")
	if !ok {
		return fail(in.SubGoal.ID, "missing metadata_results input")
	}

	user := fmt.Sprintf("Question: %s\n\nField metadata:\n%s", in.SubGoal.Description, renderJSON(metadata))
	if values, ok := inputValue(in, "value_results"); ok {
		user += "\n\nReference values:\n" + renderJSON(values)
	}

	explanation, _, err := w.llm.Chat(ctx, explainPrompt, user)
	if err != nil {
		return fail(in.SubGoal.ID, "explanation LLM: %v", err)
	}
	return succeed(in.SubGoal.ID, map[string]any{"explanation": strings.TrimSpace(explanation)})
}

const analyzePrompt = `You analyze shipment search results against the user's question. Report concrete numbers, trends, and comparisons found in the data. Use only the provided results; never invent figures.`

type analyzeWorker struct {
	llm llm.Caller
}

// Invoke produces a narrative analysis of a result set.
func (w *analyzeWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	results, ok := inputValue(in, "es_results", "page_results", "results")
	if !ok {
		return fail(in.SubGoal.ID, "missing results input")
	}

	user := fmt.Sprintf("Question: %s\n\nResults:\n%s", in.SubGoal.Description, renderJSON(results))
	if count, ok := inputInt(in, "hit_count"); ok {
		user += fmt.Sprintf("\n\nTotal hits: %d", count)
	}

	analysis, _, err := w.llm.Chat(ctx, analyzePrompt, user)
	if err != nil {
		return fail(in.SubGoal.ID, "analysis LLM: %v", err)
	}
	return succeed(in.SubGoal.ID, map[string]any{"analysis": strings.TrimSpace(analysis)})
}
