package workers

import (
	"context"
	"strings"

	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/types"
)

const helpdeskPrompt = `You are a shipping and logistics helpdesk. Answer the user's question concisely and factually. If the question is outside shipping, logistics, or this assistant's capabilities, say so briefly.`

// faqCorpus maps lowercase trigger phrases to canned answers. Checked
// before the LLM so common questions cost nothing.
var faqCorpus = map[string]string{
	"bill of lading":    "A bill of lading (B/L) is the carrier-issued document that serves as the contract of carriage, a receipt for the goods, and a document of title.",
	"what is a teu":     "A TEU (twenty-foot equivalent unit) is the standard measure of container capacity, equal to one 20-foot container.",
	"un/locode":         "A UN/LOCODE is a five-character code for ports and transport locations, e.g. USMIA for Miami.",
	"what is demurrage": "Demurrage is the fee charged when a container stays at the terminal beyond the allowed free time.",
	"incoterms":         "Incoterms are standardized trade terms (FOB, CIF, DDP and others) defining where cost and risk transfer between buyer and seller.",
}

type helpdeskWorker struct {
	llm llm.Caller
}

// Invoke answers from the FAQ corpus when a trigger phrase matches,
// otherwise asks the LLM.
func (w *helpdeskWorker) Invoke(ctx context.Context, in types.WorkerInput) types.WorkerResult {
	question := in.SubGoal.Description
	if q, ok := inputString(in, "question"); ok {
		question = q
	}

	if answer, ok := faqLookup(question); ok {
		return succeed(in.SubGoal.ID, map[string]any{"answer": answer})
	}

	answer, _, err := w.llm.Chat(ctx, helpdeskPrompt, question)
	if err != nil {
		return fail(in.SubGoal.ID, "helpdesk LLM: %v", err)
	}
	return succeed(in.SubGoal.ID, map[string]any{"answer": strings.TrimSpace(answer)})
}

func faqLookup(question string) (string, bool) {
	lower := strings.ToLower(question)
	for trigger, answer := range faqCorpus {
		if strings.Contains(lower, trigger) {
			return answer, true
		}
	}
	return "", false
}
