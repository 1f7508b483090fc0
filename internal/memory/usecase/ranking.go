package usecase

import "memtex-backend/internal/memory/domain"

const (
	MaxConversationSummaries = 4
	MaxTopicSummaries        = 3
	MaxRawExcerpts           = 4
)

// RankMemories caps each category independently, keeping input order. The
// vector search already ordered hits by relevance.
func RankMemories(m domain.Memory) domain.Memory {
	return domain.Memory{
		ConversationSummaries: trim(m.ConversationSummaries, MaxConversationSummaries),
		TopicSummaries:        trim(m.TopicSummaries, MaxTopicSummaries),
		RawExcerpts:           trim(m.RawExcerpts, MaxRawExcerpts),
	}
}

func trim(in []string, max int) []string {
	if len(in) > max {
		in = in[:max]
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
