package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/research-assistant/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/research-assistant/internal/infrastructure/extractor"
	"github.com/kirillkom/research-assistant/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/research-assistant/internal/infrastructure/repository/memory"
	vectormemory "github.com/kirillkom/research-assistant/internal/infrastructure/vector/memory"
)

type pipeline struct {
	docs      *memory.DocumentStore
	index     *flakyIndex
	retrieval *RetrievalService
	ingest    *IngestDocumentUseCase
	library   *LibraryUseCase
	graph     *graphFake
}

func newPipeline() *pipeline {
	docs := memory.NewDocumentStore()
	index := &flakyIndex{Index: vectormemory.NewIndex()}
	retrieval := NewRetrievalService(index, hashing.New(64), 0)
	registry := extractor.NewRegistry().Register(extractor.FormatPlainText, plaintext.NewParser())
	graph := &graphFake{}
	return &pipeline{
		docs:      docs,
		index:     index,
		retrieval: retrieval,
		ingest:    NewIngestDocumentUseCase(docs, registry, chunking.NewSplitter(), retrieval, graph),
		library:   NewLibraryUseCase(docs, retrieval, graph),
		graph:     graph,
	}
}

// flakyIndex wraps the in-memory index with injectable failures.
type flakyIndex struct {
	*vectormemory.Index
	replaceErr error
	searchErr  error
}

func (f *flakyIndex) Replace(ctx context.Context, userID, documentID string, chunks []domain.Chunk) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	return f.Index.Replace(ctx, userID, documentID, chunks)
}

func (f *flakyIndex) Search(ctx context.Context, userID string, vector []float32, limit int) ([]domain.ScoredChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.Index.Search(ctx, userID, vector, limit)
}

// failingCommitRepo runs the hook and then fails as a broken commit would.
type failingCommitRepo struct {
	*memory.DocumentStore
}

func (r failingCommitRepo) ReplaceDocument(ctx context.Context, _ *domain.Document, _ []domain.Chunk, beforeCommit ports.TxHook) error {
	if err := beforeCommit(ctx); err != nil {
		return err
	}
	return errors.New("commit: connection reset")
}

type graphFake struct {
	mu       sync.Mutex
	recorded []string
	removed  []string
	err      error
}

func (g *graphFake) RecordDocument(_ context.Context, doc *domain.Document) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorded = append(g.recorded, doc.ID)
	return g.err
}

func (g *graphFake) RemoveDocument(_ context.Context, _, documentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, documentID)
	return g.err
}

type generatorFake struct {
	answer  string
	err     error
	prompts []string
	block   bool
}

func (g *generatorFake) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

type sessionFake struct {
	turns     []domain.ChatTurn
	appendErr error
	recentErr error
}

func (s *sessionFake) AppendTurns(_ context.Context, _ string, turns ...domain.ChatTurn) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.turns = append(s.turns, turns...)
	return nil
}

func (s *sessionFake) RecentTurns(_ context.Context, _ string, limit int) ([]domain.ChatTurn, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	out := s.turns
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type retrieverFake struct {
	chunks []domain.ScoredChunk
	err    error
}

func (r *retrieverFake) Query(context.Context, string, string, int) ([]domain.ScoredChunk, error) {
	return r.chunks, r.err
}

type observerFake struct {
	retrievals  []int
	degraded    int
	generations int
	failures    int
}

func (o *observerFake) ObserveRetrieval(chunks int, degraded bool) {
	o.retrievals = append(o.retrievals, chunks)
	if degraded {
		o.degraded++
	}
}

func (o *observerFake) ObserveGeneration(_ time.Duration, failed bool) {
	o.generations++
	if failed {
		o.failures++
	}
}

func scored(docID, title string, index int, score float64, text string) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{
			ID:         docID + ":" + text,
			DocumentID: docID,
			Index:      index,
			Text:       text,
			Metadata:   domain.Metadata{Title: title},
		},
		Score: score,
	}
}
