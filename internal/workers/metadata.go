package workers

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haricheung/harbormind/internal/es"
	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/types"
)

const metadataPrompt = `You resolve entity mentions in a shipment-data request against index fields.

Given the request, identify every concrete entity mention (carrier names, port names or codes, container types, date ranges) and map each to the index field it constrains.

Known fields: carrier, origin_port, dest_port, container_type, etd, eta, status, teu.

Output ONLY a JSON object:
{"intent_type":"search|aggregate|lookup","entities":[{"mention":"...","field":"...","value":"...","confidence":0.0}]}
Leave "field" empty when a mention cannot be mapped. No markdown, no code fences.`

type resolvedEntity struct {
	Mention    string  `json:"mention"`
	Field      string  `json:"field"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type entityResolution struct {
	IntentType string           `json:"intent_type"`
	Entities   []resolvedEntity `json:"entities"`
}

type metadataWorker struct {
	llm   llm.Caller
	ref   es.ReferenceService
	index string
}

// Invoke resolves entities via the LLM, then fetches field metadata and
// per-field reference values concurrently. The analysis_result output is
// the memorable entity-resolution record.
func (w *metadataWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	question := in.SubGoal.Description
	if q, ok := inputString(in, "question"); ok {
		question = q
	}

	var res entityResolution
	if _, err := w.llm.ChatJSON(ctx, metadataPrompt, question, &res); err != nil {
		return fail(in.SubGoal.ID, "entity resolution LLM: %v", err)
	}

	fields := make([]string, 0, len(res.Entities))
	seen := make(map[string]bool)
	for _, e := range res.Entities {
		if e.Field != "" && !seen[e.Field] {
			seen[e.Field] = true
			fields = append(fields, e.Field)
		}
	}

	var (
		mu           sync.Mutex
		metadata     map[string]any
		valueResults = make(map[string]any)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := w.ref.FieldMetadata(gctx, w.index)
		if err != nil {
			return err
		}
		mu.Lock()
		metadata = m
		mu.Unlock()
		return nil
	})
	for _, field := range fields {
		f := field
		g.Go(func() error {
			values, err := w.ref.ReferenceValues(gctx, f)
			if err != nil {
				return err
			}
			mu.Lock()
			valueResults[f] = values
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(in.SubGoal.ID, "metadata lookup: %v", err)
	}

	mappings := make(map[string]any, len(res.Entities))
	var unresolved []string
	total := 0.0
	for _, e := range res.Entities {
		if e.Field == "" {
			unresolved = append(unresolved, e.Mention)
			continue
		}
		mappings[e.Mention] = map[string]any{"field": e.Field, "value": e.Value, "confidence": e.Confidence}
		total += e.Confidence
	}
	confidence := 0.0
	if n := len(mappings); n > 0 {
		confidence = total / float64(n)
	}
	if len(unresolved) > 0 {
		log.Printf("[metadata_lookup] %d unresolved mention(s): %v", len(unresolved), unresolved)
	}

	analysis := map[string]any{
		"intent_type":     res.IntentType,
		"entity_mappings": mappings,
		"confidence":      confidence,
	}
	if len(unresolved) > 0 {
		analysis["unresolved"] = unresolved
	}

	return succeed(in.SubGoal.ID, map[string]any{
		"metadata_results": metadata,
		"value_results":    valueResults,
		"analysis_result":  analysis,
	})
}
