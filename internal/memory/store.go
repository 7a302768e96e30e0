// Package memory persists conversation history in LevelDB so pagination
// continuation survives process restarts. One record per completed turn;
// key artifacts are indexed by type for most-recent-first lookup.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/harbormind/internal/types"
)

// LevelDB key scheme: "|" separator, zero-padded turn ids so lexicographic
// order equals numeric order.
//
//	t|<turn_id:010d>          → TurnSummary JSON     (primary record)
//	a|<type>|<turn_id:010d>   → nil                  (artifact-type index)
const (
	prefixTurn     = "t|"
	prefixArtifact = "a|"
)

// Store is the LevelDB-backed conversation store.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the database at path. LevelDB is single-writer;
// a second process on the same path fails here.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		slog.Warn("[memory] DB close error", "error", err)
	}
}

// Append persists one completed turn and its artifact index entries in a
// single batch.
//
// Expectations:
//   - Writes the primary t| record keyed by zero-padded turn id
//   - Writes one a| index entry per key artifact, keyed by artifact type
//   - A turn with no artifacts writes only the primary record
func (s *Store) Append(summary types.TurnSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("memory: marshal turn %d: %w", summary.TurnID, err)
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(turnKey(summary.TurnID)), data)
	for _, art := range summary.KeyArtifacts {
		batch.Put([]byte(artifactKey(art.Type, summary.TurnID)), nil)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("memory: persist turn %d: %w", summary.TurnID, err)
	}
	slog.Info("[memory] persisted turn", "turn_id", summary.TurnID, "artifacts", len(summary.KeyArtifacts))
	return nil
}

// Recent returns up to n most recent turns in chronological order.
//
// Expectations:
//   - Returns the last n turns, oldest first
//   - Returns all turns when fewer than n exist
//   - Returns an empty slice for an empty store
func (s *Store) Recent(n int) ([]types.TurnSummary, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixTurn)), nil)
	defer iter.Release()

	var turns []types.TurnSummary
	for ok := iter.Last(); ok && len(turns) < n; ok = iter.Prev() {
		var t types.TurnSummary
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			slog.Warn("[memory] skipping corrupt turn record", "key", string(iter.Key()), "error", err)
			continue
		}
		turns = append(turns, t)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// RecentWithArtifact returns up to n recent turns, guaranteeing the newest
// artifact of artifactType is represented. When the window elides the turn
// carrying it, a dialogue-free summary holding only that artifact is
// prepended so history consumers scanning most-recent-first still find it.
//
// Expectations:
//   - Returns Recent(n) unchanged when a windowed turn carries the type
//   - Prepends a carrier summary when the artifact lies outside the window
//   - Returns Recent(n) unchanged when no turn carries the type
func (s *Store) RecentWithArtifact(n int, artifactType string) ([]types.TurnSummary, error) {
	turns, err := s.Recent(n)
	if err != nil {
		return nil, err
	}
	for _, t := range turns {
		for _, art := range t.KeyArtifacts {
			if art.Type == artifactType {
				return turns, nil
			}
		}
	}
	art, ok := s.LatestArtifact(artifactType)
	if !ok {
		return turns, nil
	}
	carrier := types.TurnSummary{TurnID: art.TurnID, KeyArtifacts: []types.KeyArtifact{art}}
	return append([]types.TurnSummary{carrier}, turns...), nil
}

// NextTurnID returns one past the highest stored turn id (1 for an empty
// store).
func (s *Store) NextTurnID() int {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixTurn)), nil)
	defer iter.Release()
	if !iter.Last() {
		return 1
	}
	var t types.TurnSummary
	if err := json.Unmarshal(iter.Value(), &t); err != nil {
		return 1
	}
	return t.TurnID + 1
}

// LatestArtifact scans most-recent-first for the newest artifact of the
// given type.
//
// Expectations:
//   - Returns the artifact from the highest turn id carrying that type
//   - Within one turn, later artifacts of the same type win
//   - Returns ok=false when no turn carries the type
func (s *Store) LatestArtifact(artifactType string) (types.KeyArtifact, bool) {
	prefix := prefixArtifact + safeKeyPart(artifactType) + "|"
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	if !iter.Last() {
		return types.KeyArtifact{}, false
	}
	turnID := string(iter.Key())[len(prefix):]

	data, err := s.db.Get([]byte(prefixTurn+turnID), nil)
	if err != nil {
		return types.KeyArtifact{}, false
	}
	var t types.TurnSummary
	if err := json.Unmarshal(data, &t); err != nil {
		return types.KeyArtifact{}, false
	}
	var found types.KeyArtifact
	ok := false
	for _, art := range t.KeyArtifacts {
		if art.Type == artifactType {
			found = art
			ok = true
		}
	}
	return found, ok
}

func turnKey(id int) string {
	return fmt.Sprintf("%s%010d", prefixTurn, id)
}

func artifactKey(artifactType string, turnID int) string {
	return fmt.Sprintf("%s%s|%010d", prefixArtifact, safeKeyPart(artifactType), turnID)
}

// safeKeyPart replaces "|" with "_" so LevelDB keys parse unambiguously.
func safeKeyPart(s string) string {
	var out []rune
	for _, r := range s {
		if r == '|' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}
