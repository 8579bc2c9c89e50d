package usecase

import (
	"strings"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const researchPromptTemplate = `You are a helpful research assistant that helps scholars and researchers.
Use the following pieces of context to answer the user's question.
If you don't know the answer, just say that you don't know, don't try to make up an answer.

CONTEXT:
{context}

CHAT HISTORY:
{history}

USER QUESTION: {question}

ASSISTANT RESPONSE:`

// BuildPrompt fills the research-assistant template.
func BuildPrompt(question string, assembled domain.AssembledContext) string {
	contextBlock := assembled.ContextBlock
	if strings.TrimSpace(contextBlock) == "" {
		contextBlock = NoDocumentsPlaceholder
	}
	r := strings.NewReplacer(
		"{context}", contextBlock,
		"{history}", assembled.HistoryBlock,
		"{question}", strings.TrimSpace(question),
	)
	return r.Replace(researchPromptTemplate)
}
