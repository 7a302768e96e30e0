package memory

import (
	"testing"

	"github.com/haricheung/harbormind/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_Recent_ChronologicalWindow(t *testing.T) {
	// Recent returns the last n turns oldest-first
	s := openTestStore(t)
	for i := 1; i <= 5; i++ {
		if err := s.Append(types.TurnSummary{TurnID: i, HumanMessage: "q", AIResponse: "a"}); err != nil {
			t.Fatalf("append turn %d: %v", i, err)
		}
	}
	turns, err := s.Recent(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("recent len = %d, want 3", len(turns))
	}
	if turns[0].TurnID != 3 || turns[2].TurnID != 5 {
		t.Errorf("window = [%d..%d], want [3..5]", turns[0].TurnID, turns[2].TurnID)
	}
}

func TestStore_Recent_EmptyStore(t *testing.T) {
	// An empty store yields no turns and no error
	s := openTestStore(t)
	turns, err := s.Recent(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("recent len = %d, want 0", len(turns))
	}
}

func TestStore_NextTurnID(t *testing.T) {
	// NextTurnID is 1 for an empty store and highest+1 after appends
	s := openTestStore(t)
	if got := s.NextTurnID(); got != 1 {
		t.Errorf("empty next id = %d, want 1", got)
	}
	s.Append(types.TurnSummary{TurnID: 7})
	if got := s.NextTurnID(); got != 8 {
		t.Errorf("next id = %d, want 8", got)
	}
}

func TestStore_LatestArtifact_MostRecentWins(t *testing.T) {
	// LatestArtifact returns the artifact from the newest turn carrying the type
	s := openTestStore(t)
	s.Append(types.TurnSummary{TurnID: 1, KeyArtifacts: []types.KeyArtifact{
		{Type: types.ArtifactESQuery, TurnID: 1, Slots: map[string]any{"es_query": "old"}},
	}})
	s.Append(types.TurnSummary{TurnID: 2, KeyArtifacts: []types.KeyArtifact{
		{Type: types.ArtifactESQuery, TurnID: 2, Slots: map[string]any{"es_query": "new"}},
	}})
	art, ok := s.LatestArtifact(types.ArtifactESQuery)
	if !ok {
		t.Fatal("expected artifact")
	}
	if art.Slots["es_query"] != "new" {
		t.Errorf("slot = %v, want new", art.Slots["es_query"])
	}
}

func TestStore_LatestArtifact_MissingType(t *testing.T) {
	// A type never persisted reports ok=false
	s := openTestStore(t)
	s.Append(types.TurnSummary{TurnID: 1})
	if _, ok := s.LatestArtifact(types.ArtifactAnalysisResult); ok {
		t.Error("expected ok=false for missing type")
	}
}

func TestStore_Append_SurvivesReopen(t *testing.T) {
	// Turns written before Close are readable after reopening the same path
	dir := t.TempDir() + "/db"
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Append(types.TurnSummary{TurnID: 1, HumanMessage: "hello"})
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	turns, err := s2.Recent(1)
	if err != nil || len(turns) != 1 || turns[0].HumanMessage != "hello" {
		t.Errorf("reopened turns = %v (err %v)", turns, err)
	}
}

func TestStore_RecentWithArtifact_RecoversElidedArtifact(t *testing.T) {
	// When the window cuts off the artifact-bearing turn, a carrier summary
	// holding the newest artifact is prepended
	s := openTestStore(t)
	art := types.KeyArtifact{Type: types.ArtifactESQuery, SubGoalID: 1, TurnID: 1,
		Slots: map[string]any{"es_query": "q"}}
	if err := s.Append(types.TurnSummary{TurnID: 1, HumanMessage: "find", AIResponse: "table",
		KeyArtifacts: []types.KeyArtifact{art}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	for i := 2; i <= 4; i++ {
		if err := s.Append(types.TurnSummary{TurnID: i, HumanMessage: "q", AIResponse: "a"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	turns, err := s.RecentWithArtifact(2, types.ArtifactESQuery)
	if err != nil {
		t.Fatalf("RecentWithArtifact: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want window plus carrier", len(turns))
	}
	carrier := turns[0]
	if carrier.HumanMessage != "" || len(carrier.KeyArtifacts) != 1 ||
		carrier.KeyArtifacts[0].Type != types.ArtifactESQuery {
		t.Errorf("carrier = %+v", carrier)
	}
}

func TestStore_RecentWithArtifact_NoCarrierWhenWindowed(t *testing.T) {
	// A windowed artifact-bearing turn needs no carrier entry
	s := openTestStore(t)
	if err := s.Append(types.TurnSummary{TurnID: 1, HumanMessage: "q1", AIResponse: "a1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(types.TurnSummary{TurnID: 2, HumanMessage: "q2", AIResponse: "a2",
		KeyArtifacts: []types.KeyArtifact{{Type: types.ArtifactESQuery, TurnID: 2}}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	turns, err := s.RecentWithArtifact(2, types.ArtifactESQuery)
	if err != nil {
		t.Fatalf("RecentWithArtifact: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("turns = %d, want the plain window", len(turns))
	}
}
