package usecase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const NoDocumentsPlaceholder = "No relevant documents found."

const contextSeparator = "\n\n"

// ContextAssembler renders retrieved chunks and chat history into prompt
// blocks under a character budget.
type ContextAssembler struct{}

func NewContextAssembler() *ContextAssembler {
	return &ContextAssembler{}
}

// Assemble keeps chunks whole. When the rendered blocks exceed
// maxContextChars the lowest-relevance chunks are dropped first, but at
// least one chunk always survives. A non-positive budget disables the limit.
func (a *ContextAssembler) Assemble(chunks []domain.ScoredChunk, history []domain.ChatTurn, maxContextChars int) domain.AssembledContext {
	ranked := make([]domain.ScoredChunk, len(chunks))
	copy(ranked, chunks)
	domain.SortScoredChunks(ranked)

	historyBlock := renderHistory(history)
	rendered := make([]string, len(ranked))
	for i, ch := range ranked {
		rendered[i] = renderChunk(i+1, ch.Chunk)
	}

	keep := len(ranked)
	if maxContextChars > 0 {
		budget := maxContextChars - utf8.RuneCountInString(historyBlock)
		size := joinedLength(rendered)
		for keep > 1 && size > budget {
			size -= utf8.RuneCountInString(rendered[keep-1]) + utf8.RuneCountInString(contextSeparator)
			keep--
		}
	}

	contextBlock := NoDocumentsPlaceholder
	if keep > 0 {
		contextBlock = strings.Join(rendered[:keep], contextSeparator)
	}
	return domain.AssembledContext{
		ContextBlock: contextBlock,
		HistoryBlock: historyBlock,
		Included:     ranked[:keep],
	}
}

func renderChunk(ordinal int, ch domain.Chunk) string {
	title := strings.TrimSpace(ch.Metadata.Title)
	if title == "" {
		title = domain.UnknownTitle
	}
	return fmt.Sprintf("Document %d [%s]:\n%s\n---", ordinal, title, ch.Text)
}

func renderHistory(turns []domain.ChatTurn) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case domain.RoleUser:
			lines = append(lines, "Human: "+turn.Content)
		case domain.RoleAssistant:
			lines = append(lines, "Assistant: "+turn.Content)
		}
	}
	return strings.Join(lines, "\n")
}

func joinedLength(parts []string) int {
	if len(parts) == 0 {
		return 0
	}
	n := utf8.RuneCountInString(contextSeparator) * (len(parts) - 1)
	for _, p := range parts {
		n += utf8.RuneCountInString(p)
	}
	return n
}
