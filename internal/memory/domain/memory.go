package domain

// Memory is the retrieved context for one query, rendered as display lines.
type Memory struct {
	ConversationSummaries []string `json:"conversationSummaries"`
	TopicSummaries        []string `json:"topicSummaries"`
	// RawExcerpts is reserved for verbatim snippets and is not populated yet.
	RawExcerpts []string `json:"rawExcerpts"`
}

// EmptyMemory is a valid "no context" result, not an error.
func EmptyMemory() Memory {
	return Memory{
		ConversationSummaries: []string{},
		TopicSummaries:        []string{},
		RawExcerpts:           []string{},
	}
}

func (m Memory) IsEmpty() bool {
	return len(m.ConversationSummaries) == 0 && len(m.TopicSummaries) == 0 && len(m.RawExcerpts) == 0
}
