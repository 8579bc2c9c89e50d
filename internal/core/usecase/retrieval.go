package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

// RetrievalService embeds and searches chunks within per-user partitions.
// Writes to a partition exclude reads of the same partition.
type RetrievalService struct {
	index    ports.VectorIndex
	embedder ports.Embedder
	locks    *partitionLocks
	docLocks *partitionLocks
	defaultK int
}

func NewRetrievalService(index ports.VectorIndex, embedder ports.Embedder, defaultK int) *RetrievalService {
	if defaultK <= 0 {
		defaultK = domain.DefaultTopK
	}
	return &RetrievalService{
		index:    index,
		embedder: embedder,
		locks:    newPartitionLocks(),
		docLocks: newPartitionLocks(),
		defaultK: defaultK,
	}
}

// EmbedChunks fills in missing chunk embeddings.
func (s *RetrievalService) EmbedChunks(ctx context.Context, chunks []domain.Chunk) error {
	var (
		texts   []string
		targets []int
	)
	for i := range chunks {
		if len(chunks[i].Embedding) == 0 {
			texts = append(texts, chunks[i].Text)
			targets = append(targets, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return domain.WrapError(
			domain.ErrTemporary,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	for i, idx := range targets {
		chunks[idx].Embedding = vectors[i]
	}
	return nil
}

// Index replaces a document's entries in the user's partition.
func (s *RetrievalService) Index(ctx context.Context, userID, documentID string, chunks []domain.Chunk) error {
	if err := s.EmbedChunks(ctx, chunks); err != nil {
		return err
	}
	return s.locks.withWrite(userID, func() error {
		if err := s.index.Replace(ctx, userID, documentID, chunks); err != nil {
			return domain.WrapError(domain.ErrStorageFailure, "index chunks", err)
		}
		return nil
	})
}

// WithDocument runs fn while holding the document's write lock. Ingest and
// delete read the committed chunk set and restore it on failure under this
// lock, so a racing writer cannot have its entries replaced by stale ones.
func (s *RetrievalService) WithDocument(userID, documentID string, fn func() error) error {
	return s.docLocks.withWrite(userID+"\x00"+documentID, fn)
}

// Remove drops a document's entries from the user's partition.
func (s *RetrievalService) Remove(ctx context.Context, userID, documentID string) error {
	return s.locks.withWrite(userID, func() error {
		if err := s.index.Delete(ctx, userID, documentID); err != nil {
			return domain.WrapError(domain.ErrStorageFailure, "remove document from index", err)
		}
		return nil
	})
}

// Query returns at most k chunks from the user's partition, best first.
// Ties are broken by ascending chunk index. An empty partition yields an
// empty result.
func (s *RetrievalService) Query(ctx context.Context, userID, text string, k int) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query index", errors.New("user id is required"))
	}
	if k <= 0 {
		k = s.defaultK
	}

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var results []domain.ScoredChunk
	err = s.locks.withRead(userID, func() error {
		found, searchErr := s.index.Search(ctx, userID, vector, k)
		if searchErr != nil {
			return fmt.Errorf("search vector index: %w", searchErr)
		}
		results = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	domain.SortScoredChunks(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// QueryNonEmpty is Query for callers that treat an empty partition as an
// error.
func (s *RetrievalService) QueryNonEmpty(ctx context.Context, userID, text string, k int) ([]domain.ScoredChunk, error) {
	results, err := s.Query(ctx, userID, text, k)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyIndex, "query index", fmt.Errorf("no indexed chunks for user %s", userID))
	}
	return results, nil
}
