// Package synthesizer assembles the final user-visible answer in two
// phases: selected deliverable slots are partitioned by the producing
// worker's synthesis mode, the narrative part is summarized by the LLM
// against the user's goal, and display parts are appended verbatim.
package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/registry"
	"github.com/haricheung/harbormind/internal/state"
	"github.com/haricheung/harbormind/internal/turnlog"
	"github.com/haricheung/harbormind/internal/types"
)

const systemPrompt = `You are the response writer of a shipment-data assistant. Weave the provided result fragments into one concise, direct answer to the user's goal.

Rules:
- Use only the provided fragments; never invent data.
- Answer the goal first, then supporting detail.
- Plain text only, no markdown headers.`

// noDeliverablesMessage is returned when nothing selectable succeeded.
const noDeliverablesMessage = "I wasn't able to complete your request. No deliverables were successfully generated."

// passthroughSlots is the closed set of deliverable output names the
// fallback selection recognizes, in preference order.
var passthroughSlots = []string{"answer", "formatted_results", "analysis", "clarification_message", "explanation"}

type selected struct {
	name      string
	subGoalID int
	text      string
	mode      types.SynthesisMode
}

// Synthesizer produces the final response.
type Synthesizer struct {
	llm llm.Caller
	reg *registry.Registry
}

// New creates a Synthesizer.
func New(caller llm.Caller, reg *registry.Registry) *Synthesizer {
	return &Synthesizer{llm: caller, reg: reg}
}

// Run populates t.FinalResponse and leaves t.Status = done.
func (s *Synthesizer) Run(ctx context.Context, t *state.Turn, tl *turnlog.TurnLog) {
	picks := s.selectInputs(t)

	var narrative, display []string
	for _, pick := range picks {
		switch pick.mode {
		case types.SynthNarrative:
			narrative = append(narrative, pick.text)
		case types.SynthDisplay:
			display = append(display, pick.text)
		default:
			// hidden: support internals never reach the user
		}
	}

	reasoning := fmt.Sprintf("synthesized from %d selected output(s)", len(picks))
	var parts []string
	if len(narrative) > 0 {
		text, note := s.narrate(ctx, t, strings.Join(narrative, "\n\n"), tl)
		if note != "" {
			reasoning = note
		}
		parts = append(parts, text)
	}
	if len(display) > 0 {
		parts = append(parts, strings.Join(display, "\n\n"))
	}

	if len(parts) == 0 {
		t.FinalResponse = noDeliverablesMessage
	} else {
		t.FinalResponse = strings.Join(parts, "\n\n")
	}
	t.Status = types.TurnDone
	t.PlannerReasoning = reasoning
	log.Printf("[synthesizer] %d narrative, %d display part(s)", len(narrative), len(display))
}

// selectInputs picks the slots to present: the planner's synthesis_inputs
// when provided, otherwise the first passthrough slot of each completed
// deliverable.
func (s *Synthesizer) selectInputs(t *state.Turn) []selected {
	if len(t.SynthesisInputs) > 0 {
		names := make([]string, 0, len(t.SynthesisInputs))
		for name := range t.SynthesisInputs {
			names = append(names, name)
		}
		sort.Strings(names)

		var picks []selected
		for _, name := range names {
			ref := t.SynthesisInputs[name]
			stored, ok := t.CompletedOutputs[ref.FromSubGoal]
			if !ok {
				continue
			}
			value, ok := stored[ref.Slot]
			if !ok {
				continue
			}
			picks = append(picks, selected{
				name:      name,
				subGoalID: ref.FromSubGoal,
				text:      renderValue(value),
				mode:      s.modeFor(t, ref.FromSubGoal),
			})
		}
		return picks
	}

	var picks []selected
	for _, sg := range t.CompletedDeliverables() {
		stored, ok := t.CompletedOutputs[sg.ID]
		if !ok {
			continue
		}
		for _, slot := range passthroughSlots {
			value, ok := stored[slot]
			if !ok {
				continue
			}
			picks = append(picks, selected{
				name:      slot,
				subGoalID: sg.ID,
				text:      renderValue(value),
				mode:      s.modeFor(t, sg.ID),
			})
			break
		}
	}
	return picks
}

// modeFor resolves the synthesis mode of the worker that produced
// sub-goal id. Unknown producers (including slot 0) stay hidden.
func (s *Synthesizer) modeFor(t *state.Turn, id int) types.SynthesisMode {
	for _, sg := range t.SubGoals {
		if sg.ID != id {
			continue
		}
		if c, ok := s.reg.Lookup(sg.Worker); ok {
			return c.SynthesisMode
		}
	}
	return types.SynthHidden
}

// narrate summarizes the narrative fragments with the LLM. On failure the
// concatenated fragments are returned verbatim along with a note for the
// reasoning trace.
func (s *Synthesizer) narrate(ctx context.Context, t *state.Turn, fragments string, tl *turnlog.TurnLog) (string, string) {
	user := fmt.Sprintf("User goal: %s\n\nResult fragments:\n%s", t.Question, fragments)
	text, usage, err := s.llm.Chat(ctx, systemPrompt, user)
	tl.LLMCall("synthesizer", usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		log.Printf("[synthesizer] narrative LLM failed, using fragments verbatim: %v", err)
		return fragments, fmt.Sprintf("narrative summarization failed (%v); returned fragments verbatim", err)
	}
	return strings.TrimSpace(text), ""
}

func renderValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
