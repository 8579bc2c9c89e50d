package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func TestAssembleEmptyRetrievalUsesPlaceholder(t *testing.T) {
	got := NewContextAssembler().Assemble(nil, nil, 1000)
	if got.ContextBlock != NoDocumentsPlaceholder {
		t.Fatalf("expected placeholder, got %q", got.ContextBlock)
	}
	if got.HistoryBlock != "" {
		t.Fatalf("empty history should render as empty string, got %q", got.HistoryBlock)
	}
}

func TestAssembleRendersHeadersInRelevanceOrder(t *testing.T) {
	chunks := []domain.ScoredChunk{
		scored("d2", "", 0, 0.4, "second"),
		scored("d1", "Attention Is All You Need", 3, 0.9, "first"),
	}
	got := NewContextAssembler().Assemble(chunks, nil, 0)

	want := "Document 1 [Attention Is All You Need]:\nfirst\n---\n\nDocument 2 [Unknown Title]:\nsecond\n---"
	if got.ContextBlock != want {
		t.Fatalf("unexpected context block:\n%s", got.ContextBlock)
	}
	if len(got.Included) != 2 || got.Included[0].Chunk.DocumentID != "d1" {
		t.Fatalf("unexpected included chunks %+v", got.Included)
	}
}

func TestAssembleHistorySkipsSystemTurns(t *testing.T) {
	history := []domain.ChatTurn{
		{Role: domain.RoleSystem, Content: "be terse"},
		{Role: domain.RoleUser, Content: "What is RAG?"},
		{Role: domain.RoleAssistant, Content: "Retrieval-augmented generation."},
	}
	got := NewContextAssembler().Assemble(nil, history, 0)
	want := "Human: What is RAG?\nAssistant: Retrieval-augmented generation."
	if got.HistoryBlock != want {
		t.Fatalf("unexpected history block %q", got.HistoryBlock)
	}
}

func TestAssembleDropsLowestRelevanceWhole(t *testing.T) {
	chunks := []domain.ScoredChunk{
		scored("d1", "A", 0, 0.9, strings.Repeat("a", 50)),
		scored("d2", "B", 0, 0.5, strings.Repeat("b", 50)),
		scored("d3", "C", 0, 0.1, strings.Repeat("c", 50)),
	}
	got := NewContextAssembler().Assemble(chunks, nil, 150)

	if len(got.Included) != 2 {
		t.Fatalf("expected two chunks within budget, got %d", len(got.Included))
	}
	if strings.Contains(got.ContextBlock, "ccc") {
		t.Fatalf("lowest relevance chunk should be dropped")
	}
	if !strings.Contains(got.ContextBlock, strings.Repeat("b", 50)) {
		t.Fatalf("kept chunks must not be truncated")
	}
}

func TestAssembleKeepsSingleOversizedChunk(t *testing.T) {
	chunks := []domain.ScoredChunk{
		scored("d1", "A", 0, 0.9, strings.Repeat("a", 500)),
		scored("d2", "B", 0, 0.5, "b"),
	}
	got := NewContextAssembler().Assemble(chunks, nil, 10)
	if len(got.Included) != 1 || got.Included[0].Chunk.DocumentID != "d1" {
		t.Fatalf("expected the best chunk to survive whole, got %+v", got.Included)
	}
	if !strings.Contains(got.ContextBlock, strings.Repeat("a", 500)) {
		t.Fatalf("surviving chunk must be whole")
	}
}

func TestBuildPromptFillsTemplate(t *testing.T) {
	prompt := BuildPrompt("  Who proposed transformers? ", domain.AssembledContext{
		ContextBlock: "Document 1 [X]:\ntext\n---",
		HistoryBlock: "Human: hi\nAssistant: hello",
	})
	for _, want := range []string{
		"CONTEXT:\nDocument 1 [X]:\ntext\n---",
		"CHAT HISTORY:\nHuman: hi\nAssistant: hello",
		"USER QUESTION: Who proposed transformers?\n",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "ASSISTANT RESPONSE:") {
		t.Fatalf("prompt should end with the response cue")
	}
}
