package turnlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// readEvents parses all JSONL lines from a file into a slice of Events.
func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	var events []Event
	for _, line := range splitLines(string(data)) {
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("readEvents: unmarshal %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func TestRegistry_Open_WritesTurnBegin(t *testing.T) {
	// Open creates the log directory and writes a turn_begin event as the first line
	dir := t.TempDir()
	r := NewRegistry(filepath.Join(dir, "turns"))
	tl := r.Open(1, "find shipments to Miami")
	if tl == nil {
		t.Fatal("expected non-nil TurnLog")
	}
	r.Close(1, "done")

	events := readEvents(t, filepath.Join(dir, "turns", "turn-0001.jsonl"))
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	if events[0].Kind != KindTurnBegin {
		t.Errorf("first event kind = %q, want %q", events[0].Kind, KindTurnBegin)
	}
	if events[0].Question != "find shipments to Miami" {
		t.Errorf("question = %q", events[0].Question)
	}
}

func TestRegistry_Open_ReturnsExistingOnDuplicate(t *testing.T) {
	// Open returns the existing log without re-opening when called twice for one turn
	dir := t.TempDir()
	r := NewRegistry(filepath.Join(dir, "turns"))
	tl1 := r.Open(1, "q")
	tl2 := r.Open(1, "other")
	if tl1 != tl2 {
		t.Error("expected same TurnLog pointer for duplicate Open")
	}
	r.Close(1, "done")
}

func TestRegistry_Close_WritesTurnEndWithStats(t *testing.T) {
	// Close appends a turn_end carrying status, total tokens, and role stats
	dir := t.TempDir()
	r := NewRegistry(filepath.Join(dir, "turns"))
	tl := r.Open(2, "q")
	tl.LLMCall("planner", 100, 50)
	tl.LLMCall("planner", 10, 5)
	tl.LLMCall("normalizer", 20, 10)
	r.Close(2, "done")

	events := readEvents(t, filepath.Join(dir, "turns", "turn-0002.jsonl"))
	last := events[len(events)-1]
	if last.Kind != KindTurnEnd {
		t.Fatalf("last event kind = %q, want turn_end", last.Kind)
	}
	if last.Status != "done" {
		t.Errorf("status = %q, want done", last.Status)
	}
	if last.TotalTokens != 195 {
		t.Errorf("total tokens = %d, want 195", last.TotalTokens)
	}
	if len(last.RoleStats) != 2 {
		t.Fatalf("role stats = %v, want 2 entries", last.RoleStats)
	}
	// Canonical order: normalizer before planner.
	if last.RoleStats[0].Role != "normalizer" || last.RoleStats[1].Role != "planner" {
		t.Errorf("role order = %v", last.RoleStats)
	}
	if last.RoleStats[1].Calls != 2 {
		t.Errorf("planner calls = %d, want 2", last.RoleStats[1].Calls)
	}
}

func TestTurnLog_NilSafe(t *testing.T) {
	// Every method is a no-op on a nil receiver
	var tl *TurnLog
	tl.RoundBegin(1)
	tl.PlanDecision(1, "continue", "r", 2)
	tl.Dispatch(1, "w")
	tl.WorkerResult(1, "w", "success", "")
	tl.JoinSummary(1, 2, "r")
	tl.Artifact("es_query", 1, "i")
	tl.LLMCall("planner", 1, 1)
	if tl.TotalTokens() != 0 {
		t.Error("nil TotalTokens should be 0")
	}
	if tl.RoleStats() != nil {
		t.Error("nil RoleStats should be nil")
	}
}

func TestRegistry_Close_UnknownTurnNoOps(t *testing.T) {
	// Closing an unregistered turn does nothing
	r := NewRegistry(t.TempDir())
	r.Close(99, "done")
}

func TestTurnLog_EventSequence(t *testing.T) {
	// A full round writes events in emission order with per-event data intact
	dir := t.TempDir()
	r := NewRegistry(dir)
	tl := r.Open(3, "q")
	tl.RoundBegin(1)
	tl.PlanDecision(1, "continue", "one sub-goal", 1)
	tl.Dispatch(1, "common_helpdesk")
	tl.WorkerResult(1, "common_helpdesk", "success", "")
	tl.JoinSummary(1, 1, "merged 1")
	tl.Artifact("es_query", 1, "shipments query")
	r.Close(3, "done")

	events := readEvents(t, filepath.Join(dir, "turn-0003.jsonl"))
	kinds := []EventKind{KindTurnBegin, KindRoundBegin, KindPlanDecision, KindDispatch, KindWorkerResult, KindJoinSummary, KindArtifact, KindTurnEnd}
	if len(events) != len(kinds) {
		t.Fatalf("event count = %d, want %d", len(events), len(kinds))
	}
	for i, k := range kinds {
		if events[i].Kind != k {
			t.Errorf("event %d kind = %q, want %q", i, events[i].Kind, k)
		}
		if events[i].ID == "" {
			t.Errorf("event %d missing id", i)
		}
	}
	if events[3].Worker != "common_helpdesk" {
		t.Errorf("dispatch worker = %q", events[3].Worker)
	}
}
