// Package turnlog provides per-turn structured logging for the planner
// loop.
//
// Each turn gets one JSONL file in a configurable directory. Events capture
// every stage: planner decisions, dispatches, worker results, join
// summaries, LLM calls with token counts, and emitted artifacts.
//
// Design constraints:
//   - All TurnLog methods are nil-safe (no-op on nil receiver) so the roles
//     don't need nil checks before every log call.
//   - Registry is the sole owner of JSONL persistence; roles never open
//     files.
//   - The agent loop opens a log via Registry.Open and closes it via
//     Registry.Close; workers receive a *TurnLog as a parameter so they stay
//     stateless across sub-goals.
package turnlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind labels a single structured event in the turn log.
type EventKind string

const (
	KindTurnBegin    EventKind = "turn_begin"
	KindTurnEnd      EventKind = "turn_end"
	KindRoundBegin   EventKind = "round_begin"
	KindPlanDecision EventKind = "plan_decision"
	KindDispatch     EventKind = "dispatch"
	KindWorkerResult EventKind = "worker_result"
	KindJoinSummary  EventKind = "join_summary"
	KindArtifact     EventKind = "artifact"
	KindLLMCall      EventKind = "llm_call"
)

// Event is one JSONL line in the turn log.
// Fields are omitempty so each event only serialises relevant data.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// turn_begin / turn_end
	TurnID      int            `json:"turn_id,omitempty"`
	Question    string         `json:"question,omitempty"`
	Status      string         `json:"status,omitempty"`
	ElapsedMs   int64          `json:"elapsed_ms,omitempty"`
	TotalTokens int            `json:"total_tokens,omitempty"`
	RoleStats   []RoleStat     `json:"role_stats,omitempty"` // turn_end only

	// round_begin / plan_decision / join_summary
	Round     int    `json:"round,omitempty"`
	Action    string `json:"action,omitempty"` // "continue" | "done" | "failed"
	Reasoning string `json:"reasoning,omitempty"`
	SubGoals  int    `json:"sub_goals,omitempty"`

	// dispatch / worker_result
	SubGoalID int    `json:"sub_goal_id,omitempty"`
	Worker    string `json:"worker,omitempty"`
	Error     string `json:"error,omitempty"`

	// artifact
	ArtifactType string `json:"artifact_type,omitempty"`
	Intent       string `json:"intent,omitempty"`

	// llm_call
	Role             string `json:"role,omitempty"` // "normalizer" | "planner" | "synthesizer" | worker name
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// RoleStat summarises LLM usage for one component across a turn.
type RoleStat struct {
	Role             string `json:"role"`
	Calls            int    `json:"calls"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

type roleStat struct {
	calls            int
	promptTokens     int
	completionTokens int
}

// canonicalRoleOrder defines the display order for RoleStats(); components
// not listed sort after these in first-seen order.
var canonicalRoleOrder = []string{"normalizer", "planner", "synthesizer"}

// TurnLog is a handle for writing structured events for one turn.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *TurnLog)
//   - Concurrent writes are safe (mutex-protected)
//   - TotalTokens returns the running prompt+completion sum across LLMCall events
type TurnLog struct {
	turnID           int
	started          time.Time
	mu               sync.Mutex
	f                *os.File
	promptTokens     int
	completionTokens int
	roleStats        map[string]*roleStat
	roleOrder        []string
}

// Registry maps turn ids to open TurnLogs. It is the sole authority for
// creating and closing turn log files.
//
// Expectations:
//   - Open creates the log directory if absent
//   - Open writes a turn_begin event as the first JSONL line
//   - Open returns the existing log without re-opening for a duplicate id
//   - Close writes turn_end with status, elapsed_ms, total_tokens, role stats
//   - Close no-ops gracefully when the turn is not registered
type Registry struct {
	dir  string
	mu   sync.Mutex
	logs map[int]*TurnLog
}

// NewRegistry creates a Registry that writes one JSONL file per turn under
// dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, logs: make(map[int]*TurnLog)}
}

// Open creates a TurnLog for turnID, writes a turn_begin event, and
// registers it. Returns the existing log if already open.
func (r *Registry) Open(turnID int, question string) *TurnLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if tl, ok := r.logs[turnID]; ok {
		return tl
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Error("[turnlog] could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, fmt.Sprintf("turn-%04d.jsonl", turnID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("[turnlog] could not open log file", "path", path, "error", err)
		return nil
	}

	tl := &TurnLog{turnID: turnID, started: time.Now(), f: f, roleStats: make(map[string]*roleStat)}
	r.logs[turnID] = tl
	tl.write(Event{Kind: KindTurnBegin, TurnID: turnID, Question: question})
	return tl
}

// Close writes a turn_end event, flushes and closes the file, and removes
// the entry from the registry.
func (r *Registry) Close(turnID int, status string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	tl, ok := r.logs[turnID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.logs, turnID)
	r.mu.Unlock()

	stats := tl.RoleStats()
	tl.mu.Lock()
	elapsed := time.Since(tl.started).Milliseconds()
	total := tl.promptTokens + tl.completionTokens
	tl.mu.Unlock()

	tl.write(Event{
		Kind:        KindTurnEnd,
		TurnID:      turnID,
		Status:      status,
		ElapsedMs:   elapsed,
		TotalTokens: total,
		RoleStats:   stats,
	})

	tl.mu.Lock()
	if tl.f != nil {
		_ = tl.f.Close()
		tl.f = nil
	}
	tl.mu.Unlock()
}

// RoundBegin writes a round_begin event.
func (tl *TurnLog) RoundBegin(round int) {
	if tl == nil {
		return
	}
	tl.write(Event{Kind: KindRoundBegin, Round: round})
}

// PlanDecision writes a plan_decision event.
func (tl *TurnLog) PlanDecision(round int, action, reasoning string, subGoals int) {
	if tl == nil {
		return
	}
	tl.write(Event{Kind: KindPlanDecision, Round: round, Action: action, Reasoning: reasoning, SubGoals: subGoals})
}

// Dispatch writes a dispatch event for one ready sub-goal.
func (tl *TurnLog) Dispatch(subGoalID int, worker string) {
	if tl == nil {
		return
	}
	tl.write(Event{Kind: KindDispatch, SubGoalID: subGoalID, Worker: worker})
}

// WorkerResult writes a worker_result event. errMsg is empty on success.
func (tl *TurnLog) WorkerResult(subGoalID int, worker, status, errMsg string) {
	if tl == nil {
		return
	}
	tl.write(Event{Kind: KindWorkerResult, SubGoalID: subGoalID, Worker: worker, Status: status, Error: errMsg})
}

// JoinSummary writes a join_summary event after a round's reduce step.
func (tl *TurnLog) JoinSummary(round int, merged int, reasoning string) {
	if tl == nil {
		return
	}
	tl.write(Event{Kind: KindJoinSummary, Round: round, SubGoals: merged, Reasoning: reasoning})
}

// Artifact writes an artifact event for a key artifact emitted this turn.
func (tl *TurnLog) Artifact(artifactType string, subGoalID int, intent string) {
	if tl == nil {
		return
	}
	tl.write(Event{Kind: KindArtifact, ArtifactType: artifactType, SubGoalID: subGoalID, Intent: intent})
}

// LLMCall writes an llm_call event and accumulates per-role token usage.
func (tl *TurnLog) LLMCall(role string, promptToks, completionToks int) {
	if tl == nil {
		return
	}
	tl.mu.Lock()
	tl.promptTokens += promptToks
	tl.completionTokens += completionToks
	rs := tl.roleStats[role]
	if rs == nil {
		rs = &roleStat{}
		tl.roleStats[role] = rs
		tl.roleOrder = append(tl.roleOrder, role)
	}
	rs.calls++
	rs.promptTokens += promptToks
	rs.completionTokens += completionToks
	tl.mu.Unlock()
	tl.write(Event{Kind: KindLLMCall, Role: role, PromptTokens: promptToks, CompletionTokens: completionToks})
}

// RoleStats returns a snapshot of per-role LLM usage, canonical components
// first, then worker roles in first-seen order.
//
// Expectations:
//   - Returns one entry per role that called LLMCall
//   - Calls count matches the number of LLMCall invocations per role
//   - Token sums match the accumulated usage for that role
func (tl *TurnLog) RoleStats() []RoleStat {
	if tl == nil {
		return nil
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	var out []RoleStat
	emit := func(role string) {
		rs, ok := tl.roleStats[role]
		if !ok {
			return
		}
		out = append(out, RoleStat{
			Role:             role,
			Calls:            rs.calls,
			PromptTokens:     rs.promptTokens,
			CompletionTokens: rs.completionTokens,
		})
	}
	seen := make(map[string]bool)
	for _, role := range canonicalRoleOrder {
		emit(role)
		seen[role] = true
	}
	for _, role := range tl.roleOrder {
		if !seen[role] {
			emit(role)
		}
	}
	return out
}

// TotalTokens returns the total token count accumulated so far.
//
// Expectations:
//   - Returns 0 on nil receiver
//   - Returns the sum of prompt and completion tokens from all LLMCall events
func (tl *TurnLog) TotalTokens() int {
	if tl == nil {
		return 0
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.promptTokens + tl.completionTokens
}

// write appends one JSON line to the turn log file. Adds id and timestamp;
// mutex-protected.
func (tl *TurnLog) write(e Event) {
	e.ID = uuid.New().String()
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[turnlog] marshal event", "error", err)
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.f == nil {
		return
	}
	if _, err = fmt.Fprintf(tl.f, "%s\n", data); err != nil {
		slog.Error("[turnlog] write event", "error", err)
	}
}
