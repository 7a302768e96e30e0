// Package workers implements the executable capability bodies behind the
// registry: FAQ answering, entity resolution, query generation and
// execution, pagination, clarification, metadata explanation, result
// rendering, and result analysis. Workers receive only their hydrated
// input and report failures as data in the WorkerResult.
package workers

import (
	"encoding/json"
	"fmt"

	"github.com/haricheung/harbormind/internal/es"
	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/registry"
	"github.com/haricheung/harbormind/internal/types"
)

// Deps is the shared collaborator set handed to every worker at startup.
type Deps struct {
	LLM       llm.Caller
	Search    es.SearchService
	Reference es.ReferenceService
	Index     string
}

const defaultIndex = "shipments"

func (d Deps) index() string {
	if d.Index != "" {
		return d.Index
	}
	return defaultIndex
}

// RegisterAll registers the full worker set. Registration order is the
// order workers appear in the planner's prompt.
func RegisterAll(reg *registry.Registry, deps Deps) error {
	entries := []struct {
		cap  types.WorkerCapability
		body registry.Worker
	}{
		{types.WorkerCapability{
			Name:          "common_helpdesk",
			Description:   "answers general shipping and logistics questions from the FAQ corpus or general knowledge",
			Outputs:       []string{"answer"},
			GoalType:      types.GoalDeliverable,
			SynthesisMode: types.SynthNarrative,
		}, &helpdeskWorker{llm: deps.LLM}},
		{types.WorkerCapability{
			Name:           "metadata_lookup",
			Description:    "resolves entity mentions (carriers, ports, fields) against index metadata and reference values",
			Outputs:        []string{"metadata_results", "value_results", "analysis_result"},
			GoalType:       types.GoalSupport,
			MemorableSlots: []string{"analysis_result"},
			SynthesisMode:  types.SynthHidden,
		}, &metadataWorker{llm: deps.LLM, ref: deps.Reference, index: deps.index()}},
		{types.WorkerCapability{
			Name:           "es_query_gen",
			Description:    "translates a natural-language request into a search query document",
			Preconditions:  []string{"entity mentions should be resolved first when the request names carriers or ports"},
			Outputs:        []string{"es_query", "intent", "query_summary", "ambiguity", "needs_clarification"},
			GoalType:       types.GoalSupport,
			MemorableSlots: []string{"es_query"},
			SynthesisMode:  types.SynthHidden,
		}, &queryGenWorker{llm: deps.LLM}},
		{types.WorkerCapability{
			Name:           "es_query_exec",
			Description:    "executes a query document against the shipment index, first page",
			Preconditions:  []string{"requires an es_query input"},
			Outputs:        []string{"es_results", "hit_count", "next_offset", "page_size"},
			GoalType:       types.GoalSupport,
			MemorableSlots: []string{"next_offset", "page_size"},
			SynthesisMode:  types.SynthHidden,
		}, &queryExecWorker{search: deps.Search, index: deps.index()}},
		{types.WorkerCapability{
			Name:           "page_query",
			Description:    "fetches a further page of a previously executed query",
			Preconditions:  []string{"requires a prior query and pagination cursor"},
			Outputs:        []string{"page_results", "has_more", "next_offset", "page_size", "es_query"},
			GoalType:       types.GoalSupport,
			MemorableSlots: []string{"es_query", "next_offset", "page_size"},
			SynthesisMode:  types.SynthHidden,
		}, &pageQueryWorker{search: deps.Search, index: deps.index()}},
		{types.WorkerCapability{
			Name:          "clarify_question",
			Description:   "asks the user a clarifying question when the request is ambiguous",
			Outputs:       []string{"clarification_message"},
			GoalType:      types.GoalDeliverable,
			SynthesisMode: types.SynthDisplay,
		}, &clarifyWorker{}},
		{types.WorkerCapability{
			Name:          "explain_metadata",
			Description:   "explains index fields and reference values to the user",
			Preconditions: []string{"requires a metadata_results input"},
			Outputs:       []string{"explanation"},
			GoalType:      types.GoalDeliverable,
			SynthesisMode: types.SynthNarrative,
		}, &explainWorker{llm: deps.LLM}},
		{types.WorkerCapability{
			Name:          "show_results",
			Description:   "renders search hits or aggregations as an aligned table",
			Outputs:       []string{"formatted_results"},
			GoalType:      types.GoalDeliverable,
			SynthesisMode: types.SynthDisplay,
		}, &showWorker{}},
		{types.WorkerCapability{
			Name:          "analyze_results",
			Description:   "analyzes search results against the user's question (trends, counts, comparisons)",
			Preconditions: []string{"requires a results input"},
			Outputs:       []string{"analysis"},
			GoalType:      types.GoalDeliverable,
			SynthesisMode: types.SynthNarrative,
		}, &analyzeWorker{llm: deps.LLM}},
	}

	for _, e := range entries {
		if err := reg.Register(e.cap, e.body); err != nil {
			return fmt.Errorf("workers: %w", err)
		}
	}
	return nil
}

func succeed(id int, outputs map[string]any) types.WorkerResult {
	return types.WorkerResult{SubGoalID: id, Status: types.SubGoalSuccess, Outputs: outputs}
}

func fail(id int, format string, args ...any) types.WorkerResult {
	return types.WorkerResult{SubGoalID: id, Status: types.SubGoalFailed, Error: fmt.Sprintf(format, args...)}
}

// inputValue looks the first of names up in resolved inputs, then params.
func inputValue(in types.WorkerInput, names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := in.ResolvedInputs[name]; ok {
			return v, true
		}
	}
	for _, name := range names {
		if v, ok := in.SubGoal.Params[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func inputString(in types.WorkerInput, names ...string) (string, bool) {
	v, ok := inputValue(in, names...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func inputInt(in types.WorkerInput, names ...string) (int, bool) {
	v, ok := inputValue(in, names...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// renderJSON renders a value compactly for inclusion in a prompt.
func renderJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// queryDoc coerces a query value into a document: maps pass through,
// strings are parsed as JSON.
func queryDoc(v any) (map[string]any, error) {
	switch q := v.(type) {
	case map[string]any:
		return q, nil
	case string:
		var doc map[string]any
		if err := json.Unmarshal([]byte(q), &doc); err != nil {
			return nil, fmt.Errorf("query is not a JSON document: %w", err)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("query has unsupported type %T", v)
}
