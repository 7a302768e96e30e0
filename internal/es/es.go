// Package es defines the downstream data-service contract: a search index
// that executes opaque query documents, and a reference service exposing
// field metadata and known values for entity resolution. The core never
// interprets query documents; it passes them through.
package es

import "context"

// SearchService executes query documents against an index.
// Search returns {hits: {total: {value}, hits: []}}; Aggregate returns
// {hits, aggregations}. size/from implement offset pagination.
type SearchService interface {
	Search(ctx context.Context, index string, query map[string]any, size, from int) (map[string]any, error)
	Aggregate(ctx context.Context, index string, query, aggs map[string]any) (map[string]any, error)
}

// ReferenceService resolves domain vocabulary: which fields an index
// exposes and which values a field is known to take.
type ReferenceService interface {
	FieldMetadata(ctx context.Context, index string) (map[string]any, error)
	ReferenceValues(ctx context.Context, field string) ([]string, error)
}

// Pagination limits shared by the query-execution and pagination workers.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// HitsTotal extracts hits.total.value from a search response, tolerating
// both the int and float shapes JSON decoding produces.
func HitsTotal(resp map[string]any) int {
	hits, _ := resp["hits"].(map[string]any)
	total, _ := hits["total"].(map[string]any)
	return asInt(total["value"])
}

// Hits extracts the hit list from a search response.
func Hits(resp map[string]any) []any {
	hits, _ := resp["hits"].(map[string]any)
	list, _ := hits["hits"].([]any)
	return list
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
