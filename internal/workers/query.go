package workers

import (
	"context"
	"strings"

	"github.com/haricheung/harbormind/internal/es"
	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/types"
)

const queryGenPrompt = `You translate shipment-data requests into search query documents.

Given the request and any resolved entity mappings, produce a query document using bool/term/range clauses over the known fields (carrier, origin_port, dest_port, container_type, etd, eta, status, teu).

Output ONLY a JSON object:
{"es_query":{...},"intent":"short description of what the query finds","query_summary":"one sentence","ambiguity":"","needs_clarification":false}
Set needs_clarification true and describe the problem in ambiguity when the request cannot be translated unambiguously. No markdown, no code fences.`

type generatedQuery struct {
	ESQuery            map[string]any `json:"es_query"`
	Intent             string         `json:"intent"`
	QuerySummary       string         `json:"query_summary"`
	Ambiguity          string         `json:"ambiguity"`
	NeedsClarification bool           `json:"needs_clarification"`
}

type queryGenWorker struct {
	llm llm.Caller
}

// Invoke builds a query document. A user-pasted query (the normalizer's
// user_es_query slot) is used verbatim, skipping the LLM.
func (w *queryGenWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	if pasted, ok := inputValue(in, "user_es_query", "es_query"); ok {
		doc, err := queryDoc(pasted)
		if err != nil {
			return fail(in.SubGoal.ID, "pasted query: %v", err)
		}
		return succeed(in.SubGoal.ID, map[string]any{
			"es_query":            doc,
			"intent":              "user-provided query",
			"query_summary":       "Executing the query exactly as provided.",
			"ambiguity":           "",
			"needs_clarification": false,
		})
	}

	user := in.SubGoal.Description
	if analysis, ok := inputValue(in, "analysis_result"); ok {
		user += "\n\nResolved entities: " + renderJSON(analysis)
	}

	var gen generatedQuery
	if _, err := w.llm.ChatJSON(ctx, queryGenPrompt, user, &gen); err != nil {
		return fail(in.SubGoal.ID, "query generation LLM: %v", err)
	}
	if len(gen.ESQuery) == 0 && !gen.NeedsClarification {
		return fail(in.SubGoal.ID, "query generation produced no query")
	}
	return succeed(in.SubGoal.ID, map[string]any{
		"es_query":            gen.ESQuery,
		"intent":              strings.TrimSpace(gen.Intent),
		"query_summary":       gen.QuerySummary,
		"ambiguity":           gen.Ambiguity,
		"needs_clarification": gen.NeedsClarification,
	})
}

type queryExecWorker struct {
	search es.SearchService
	index  string
}

// Invoke runs the first page of a generated query. Pagination is injected
// here (from=0, size=DefaultPageSize); the query document itself stays
// untouched so artifacts can replay it later.
func (w *queryExecWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	raw, ok := inputValue(in, "es_query", "query")
	if !ok {
		return fail(in.SubGoal.ID, "missing es_query input")
	}
	query, err := queryDoc(raw)
	if err != nil {
		return fail(in.SubGoal.ID, "%v", err)
	}

	resp, err := w.search.Search(ctx, w.index, query, es.DefaultPageSize, 0)
	if err != nil {
		return fail(in.SubGoal.ID, "search: %v", err)
	}

	return succeed(in.SubGoal.ID, map[string]any{
		"es_results":  es.Hits(resp),
		"hit_count":   es.HitsTotal(resp),
		"next_offset": es.DefaultPageSize,
		"page_size":   es.DefaultPageSize,
	})
}

type pageQueryWorker struct {
	search es.SearchService
	index  string
}

// Invoke fetches a further page of a prior query. offset/limit come from
// the resolved inputs (typically slot 0's prior_next_offset and
// prior_page_size) or params; limit is capped at MaxPageSize. The query is
// echoed in the outputs so the continuation artifact stays chainable.
func (w *pageQueryWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	raw, ok := inputValue(in, "es_query", "prior_es_query", "query")
	if !ok {
		return fail(in.SubGoal.ID, "missing prior query input")
	}
	query, err := queryDoc(raw)
	if err != nil {
		return fail(in.SubGoal.ID, "%v", err)
	}

	offset, _ := inputInt(in, "offset", "prior_next_offset", "next_offset")
	limit, ok := inputInt(in, "limit", "prior_page_size", "page_size")
	if !ok || limit <= 0 {
		limit = es.DefaultPageSize
	}
	if limit > es.MaxPageSize {
		limit = es.MaxPageSize
	}

	resp, err := w.search.Search(ctx, w.index, query, limit, offset)
	if err != nil {
		return fail(in.SubGoal.ID, "search: %v", err)
	}

	total := es.HitsTotal(resp)
	nextOffset := offset + limit
	return succeed(in.SubGoal.ID, map[string]any{
		"page_results": es.Hits(resp),
		"has_more":     nextOffset < total,
		"next_offset":  nextOffset,
		"page_size":    limit,
		"es_query":     query,
	})
}
