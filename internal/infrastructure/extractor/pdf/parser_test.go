package pdf

import (
	"context"
	"testing"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func TestParseCorruptedPDF(t *testing.T) {
	inputs := [][]byte{
		[]byte("%PDF-1.4\nthis is not really a pdf"),
		[]byte("garbage"),
		{},
	}
	for _, data := range inputs {
		_, err := NewParser().Parse(context.Background(), "broken.pdf", data)
		if !domain.IsKind(err, domain.ErrParseFailure) {
			t.Fatalf("expected ErrParseFailure for %q, got %v", data, err)
		}
	}
}

func TestParseHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewParser().Parse(ctx, "a.pdf", []byte("%PDF-1.4")); err == nil {
		t.Fatalf("expected context error")
	}
}
