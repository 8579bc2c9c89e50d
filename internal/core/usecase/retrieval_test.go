package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	vectormemory "github.com/kirillkom/research-assistant/internal/infrastructure/vector/memory"
)

// fixedEmbedder maps every text to the same vector so scores tie.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func TestQueryBreaksTiesByChunkIndex(t *testing.T) {
	svc := NewRetrievalService(vectormemory.NewIndex(), &fixedEmbedder{vector: []float32{1, 0}}, 0)
	ctx := context.Background()
	chunks := []domain.Chunk{
		{DocumentID: "d", UserID: "u", Index: 3, Text: "c"},
		{DocumentID: "d", UserID: "u", Index: 1, Text: "a"},
		{DocumentID: "d", UserID: "u", Index: 2, Text: "b"},
	}
	if err := svc.Index(ctx, "u", "d", chunks); err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	results, err := svc.Query(ctx, "u", "anything", 3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	got := []int{results[0].Chunk.Index, results[1].Chunk.Index, results[2].Chunk.Index}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", got)
	}
}

func TestQueryDefaultsK(t *testing.T) {
	svc := NewRetrievalService(vectormemory.NewIndex(), &fixedEmbedder{vector: []float32{1}}, 0)
	ctx := context.Background()
	chunks := make([]domain.Chunk, 8)
	for i := range chunks {
		chunks[i] = domain.Chunk{DocumentID: "d", UserID: "u", Index: i, Text: "t"}
	}
	if err := svc.Index(ctx, "u", "d", chunks); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	results, err := svc.Query(ctx, "u", "t", 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != domain.DefaultTopK {
		t.Fatalf("expected %d results, got %d", domain.DefaultTopK, len(results))
	}
}

func TestQueryEmptyPartition(t *testing.T) {
	svc := NewRetrievalService(vectormemory.NewIndex(), &fixedEmbedder{vector: []float32{1}}, 0)
	results, err := svc.Query(context.Background(), "nobody", "q", 5)
	if err != nil || len(results) != 0 {
		t.Fatalf("expected empty result, got %v / %v", results, err)
	}
	_, err = svc.QueryNonEmpty(context.Background(), "nobody", "q", 5)
	if !domain.IsKind(err, domain.ErrEmptyIndex) {
		t.Fatalf("expected empty index, got %v", err)
	}
	_, err = svc.Query(context.Background(), " ", "q", 5)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestIndexEmbeddingFailure(t *testing.T) {
	svc := NewRetrievalService(vectormemory.NewIndex(), &fixedEmbedder{err: errors.New("embedder down")}, 0)
	err := svc.Index(context.Background(), "u", "d", []domain.Chunk{{Text: "x"}})
	if err == nil {
		t.Fatalf("expected error")
	}
}

// shortEmbedder drops the last vector, as a misbehaving provider might.
type shortEmbedder struct{ fixedEmbedder }

func (s *shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := s.fixedEmbedder.Embed(ctx, texts)
	if err != nil || len(out) == 0 {
		return out, err
	}
	return out[:len(out)-1], nil
}

func TestEmbedChunksCountMismatchIsTemporary(t *testing.T) {
	svc := NewRetrievalService(vectormemory.NewIndex(), &shortEmbedder{fixedEmbedder{vector: []float32{1}}}, 0)
	err := svc.EmbedChunks(context.Background(), []domain.Chunk{{Text: "a"}, {Text: "b"}})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("provider fault must not be reported as invalid input: %v", err)
	}
}

// blockingIndex parks Replace until released so a concurrent query can be
// observed waiting on the same partition.
type blockingIndex struct {
	*vectormemory.Index
	entered chan struct{}
	release chan struct{}
}

func (b *blockingIndex) Replace(ctx context.Context, userID, documentID string, chunks []domain.Chunk) error {
	close(b.entered)
	<-b.release
	return b.Index.Replace(ctx, userID, documentID, chunks)
}

func TestWritesExcludeSamePartitionReads(t *testing.T) {
	idx := &blockingIndex{Index: vectormemory.NewIndex(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewRetrievalService(idx, &fixedEmbedder{vector: []float32{1}}, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = svc.Index(ctx, "u", "d", []domain.Chunk{{DocumentID: "d", UserID: "u", Text: "x"}})
	}()
	<-idx.entered

	other := make(chan struct{})
	go func() {
		_, _ = svc.Query(ctx, "someone-else", "q", 1)
		close(other)
	}()
	<-other

	same := make(chan int)
	go func() {
		res, _ := svc.Query(ctx, "u", "q", 1)
		same <- len(res)
	}()
	close(idx.release)
	if n := <-same; n != 1 {
		t.Fatalf("reader should observe the completed write, got %d results", n)
	}
	wg.Wait()
}
