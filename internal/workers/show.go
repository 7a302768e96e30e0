package workers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/harbormind/internal/types"
)

// showWorker renders hits or aggregation buckets as aligned markdown
// tables. Pure formatting, no LLM.
type showWorker struct{}

func (w *showWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	if aggs, ok := inputValue(in, "aggregations"); ok {
		if m, ok := aggs.(map[string]any); ok {
			return succeed(in.SubGoal.ID, map[string]any{"formatted_results": renderAggregations(m)})
		}
	}

	raw, ok := inputValue(in, "es_results", "page_results", "results")
	if !ok {
		return fail(in.SubGoal.ID, "missing results input")
	}
	hits, ok := raw.([]any)
	if !ok {
		return fail(in.SubGoal.ID, "results input is not a list")
	}
	return succeed(in.SubGoal.ID, map[string]any{"formatted_results": renderHits(hits)})
}

// renderHits flattens hit documents into one table. Columns are the sorted
// union of document keys; cells are padded by display width so CJK values
// align.
func renderHits(hits []any) string {
	if len(hits) == 0 {
		return "No results."
	}

	var rows []map[string]any
	colSet := make(map[string]bool)
	for _, h := range hits {
		doc := hitSource(h)
		if doc == nil {
			continue
		}
		rows = append(rows, doc)
		for k := range doc {
			colSet[k] = true
		}
	}
	if len(rows) == 0 {
		return "No results."
	}

	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	cells := make([][]string, 0, len(rows)+1)
	cells = append(cells, cols)
	for _, row := range rows {
		line := make([]string, len(cols))
		for i, c := range cols {
			if v, ok := row[c]; ok {
				line[i] = renderJSON(v)
			}
		}
		cells = append(cells, line)
	}
	return renderTable(cells)
}

// renderAggregations renders each aggregation's buckets as a key/count
// table.
func renderAggregations(aggs map[string]any) string {
	names := make([]string, 0, len(aggs))
	for name := range aggs {
		names = append(names, name)
	}
	sort.Strings(names)

	var sections []string
	for _, name := range names {
		agg, _ := aggs[name].(map[string]any)
		buckets, _ := agg["buckets"].([]any)
		cells := [][]string{{name, "count"}}
		for _, b := range buckets {
			bucket, ok := b.(map[string]any)
			if !ok {
				continue
			}
			cells = append(cells, []string{renderJSON(bucket["key"]), renderJSON(bucket["doc_count"])})
		}
		sections = append(sections, renderTable(cells))
	}
	if len(sections) == 0 {
		return "No results."
	}
	return strings.Join(sections, "\n\n")
}

// renderTable formats rows (first row is the header) as a markdown table
// with display-width-aware padding.
func renderTable(cells [][]string) string {
	widths := make([]int, len(cells[0]))
	for _, row := range cells {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("|")
		for i, cell := range row {
			pad := widths[i] - runewidth.StringWidth(cell)
			fmt.Fprintf(&b, " %s%s |", cell, strings.Repeat(" ", pad))
		}
		b.WriteString("\n")
	}

	writeRow(cells[0])
	b.WriteString("|")
	for _, w := range widths {
		fmt.Fprintf(&b, "%s|", strings.Repeat("-", w+2))
	}
	b.WriteString("\n")
	for _, row := range cells[1:] {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

// hitSource unwraps a search hit to its document, tolerating both the
// {_id, _source} envelope and flat documents.
func hitSource(h any) map[string]any {
	m, ok := h.(map[string]any)
	if !ok {
		return nil
	}
	if src, ok := m["_source"].(map[string]any); ok {
		return src
	}
	return m
}
