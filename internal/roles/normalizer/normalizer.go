// Package normalizer is the turn's entry component. It restates the raw
// utterance as an actionable goal against conversation history and installs
// the context slot table under completed_outputs[0]: a user-pasted query,
// prior-turn pagination state, and the force-execute flag.
package normalizer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/state"
	"github.com/haricheung/harbormind/internal/turnlog"
	"github.com/haricheung/harbormind/internal/types"
)

const systemPrompt = `You are the goal normalizer for a shipment-data assistant. Restate the user's latest message as a single, actionable goal.

Rules:
- Resolve pronouns and elliptical references ("those", "the same port") against the conversation history.
- Number the parts of a multi-intent request ("1. ... 2. ...").
- Sharpen vague phrasing into something a planner can act on; never invent constraints the user did not state.
- If the user pasted or quoted a query document, copy it verbatim into user_es_query.
- Set references_prior_results true when the message continues earlier results ("show more", "next page", "the rest of them").
- Set force_execute true only when the user explicitly says to proceed without further clarification.

Output ONLY a JSON object:
{"main_goal":"...","reasoning":"...","user_es_query":"","references_prior_results":false,"force_execute":false}
No markdown, no prose, no code fences.`

// continuationPhrases trigger the deterministic pagination lift even when
// the LLM is unavailable.
var continuationPhrases = []string{
	"show more", "next page", "more results", "show the rest", "next 20", "keep going",
}

type result struct {
	MainGoal            string `json:"main_goal"`
	Reasoning           string `json:"reasoning"`
	UserESQuery         string `json:"user_es_query"`
	ReferencesPriorWork bool   `json:"references_prior_results"`
	ForceExecute        bool   `json:"force_execute"`
}

// historyWindow bounds how many prior turns are formatted into the prompt.
const historyWindow = 5

// Normalizer restates user utterances. Failures never fail the turn: the
// original utterance is used as the goal and the error is noted in the
// reasoning trace.
type Normalizer struct {
	llm llm.Caller
}

// New creates a Normalizer.
func New(caller llm.Caller) *Normalizer {
	return &Normalizer{llm: caller}
}

// Run normalizes t.OriginalQuestion into t.Question and installs the
// context slot table. completed_outputs[0] is present afterwards on every
// path, including LLM failure.
func (n *Normalizer) Run(ctx context.Context, t *state.Turn, tl *turnlog.TurnLog) {
	slots := make(map[string]any)

	continuation := isContinuation(t.OriginalQuestion)
	if continuation {
		liftPriorQuery(t.ConversationHistory, slots)
	}

	res, err := n.normalize(ctx, t.OriginalQuestion, t.ConversationHistory, tl)
	switch {
	case err != nil:
		t.Question = t.OriginalQuestion
		t.PlannerReasoning = fmt.Sprintf("normalization failed, using original utterance: %v", err)
		log.Printf("[normalizer] LLM failed, falling back to raw utterance: %v", err)
	default:
		t.Question = strings.TrimSpace(res.MainGoal)
		if t.Question == "" {
			t.Question = t.OriginalQuestion
		}
		t.PlannerReasoning = res.Reasoning
		if q := strings.TrimSpace(res.UserESQuery); q != "" {
			slots[types.SlotUserESQuery] = q
		}
		if res.ReferencesPriorWork && !continuation {
			liftPriorQuery(t.ConversationHistory, slots)
		}
		if res.ForceExecute {
			slots[types.SlotForceExecute] = true
		}
	}

	// The context table is installed unconditionally so slot 0 is always a
	// valid dependency source.
	t.CompletedOutputs[0] = slots
	log.Printf("[normalizer] goal=%q context_slots=%d", t.Question, len(slots))
}

func (n *Normalizer) normalize(ctx context.Context, question string, history []types.TurnSummary, tl *turnlog.TurnLog) (result, error) {
	user := formatHistory(history) + "Latest message: " + question
	var res result
	usage, err := n.llm.ChatJSON(ctx, systemPrompt, user, &res)
	tl.LLMCall("normalizer", usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		return result{}, err
	}
	return res, nil
}

// isContinuation reports whether the utterance matches a pagination phrase.
func isContinuation(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, phrase := range continuationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// liftPriorQuery copies the most recent es_query artifact's query and
// cursor into the context slots. History is scanned most-recent-first; the
// first match is authoritative.
func liftPriorQuery(history []types.TurnSummary, slots map[string]any) {
	for i := len(history) - 1; i >= 0; i-- {
		arts := history[i].KeyArtifacts
		for j := len(arts) - 1; j >= 0; j-- {
			art := arts[j]
			if art.Type != types.ArtifactESQuery {
				continue
			}
			if q, ok := art.Slots["es_query"]; ok {
				slots[types.SlotPriorESQuery] = q
			}
			if v, ok := art.Slots["next_offset"]; ok {
				slots[types.SlotPriorNextOffset] = v
			}
			if v, ok := art.Slots["page_size"]; ok {
				slots[types.SlotPriorPageSize] = v
			}
			return
		}
	}
}

// formatHistory renders up to the last historyWindow turns as Human:/AI:
// lines; earlier turns are elided. Dialogue-free entries (artifact
// carriers prepended by the driver) have nothing to show and are skipped.
func formatHistory(history []types.TurnSummary) string {
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	var b strings.Builder
	for _, turn := range history[start:] {
		if turn.HumanMessage == "" && turn.AIResponse == "" {
			continue
		}
		fmt.Fprintf(&b, "Human: %s\nAI: %s\n", turn.HumanMessage, firstN(turn.AIResponse, 300))
	}
	if b.Len() == 0 {
		return ""
	}
	return "Conversation so far:\n" + b.String() + "\n"
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
