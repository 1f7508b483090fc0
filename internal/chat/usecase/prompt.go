package usecase

import (
	"strings"

	"memtex-backend/internal/chat/domain"
	memdomain "memtex-backend/internal/memory/domain"
)

const maxHistoryTurns = 10

const systemPreamble = `You are Memtex, a unified reasoning assistant for the user you are talking to.

You have access to memories aggregated from the user's conversations with multiple AI models
(ChatGPT, Gemini, Claude). These memories may differ or conflict.

Rules:
- The memories below are about the person you are talking to. Refer to them as "you", never in the third person
- Prefer consistency and evidence over confidence
- If sources conflict, explicitly mention it
- Do NOT invent memory that is not provided
- Use clear reasoning appropriate to the query type`

var reasoningHints = map[QueryType]string{
	QueryFactual:    "Provide a concise, accurate, fact-based answer.",
	QueryReasoning:  "Explain your reasoning step by step and justify decisions.",
	QueryReflective: "Answer thoughtfully, speaking to the user as \"you\" and drawing on your past context and long-term memory.",
	QueryCreative:   "Be creative, but remain coherent and relevant.",
	QueryMeta:       "Explain clearly how you, Memtex, use the user's stored memory and process this request.",
}

const defaultHint = "Use clear and structured reasoning."

// ReasoningHint maps a label to its reasoning directive.
func ReasoningHint(t QueryType) string {
	if h, ok := reasoningHints[t]; ok {
		return h
	}
	return defaultHint
}

// BuildPrompt assembles the final prompt. Sections with nothing to show are
// left out entirely.
func BuildPrompt(query string, mem memdomain.Memory, label QueryType, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString(systemPreamble)

	section(&b, "LONG-TERM MEMORY:", mem.TopicSummaries)
	section(&b, "RELEVANT PAST CONTEXT:", mem.ConversationSummaries)

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	if len(history) > 0 {
		turns := make([]string, 0, len(history))
		for _, t := range history {
			turns = append(turns, strings.ToUpper(string(t.Role))+": "+t.Content)
		}
		b.WriteString("\n\nRECENT CONVERSATION:\n")
		b.WriteString(strings.Join(turns, "\n"))
	}

	section(&b, "RAW EXCERPTS (verbatim, may be partial):", mem.RawExcerpts)

	b.WriteString("\n\nREASONING MODE:\n")
	b.WriteString(ReasoningHint(label))
	b.WriteString("\n\nUSER QUESTION:\n")
	b.WriteString(query)
	return b.String()
}

func section(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(heading)
	for _, it := range items {
		b.WriteString("\n- ")
		b.WriteString(it)
	}
}
