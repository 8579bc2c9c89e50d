package memory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// Index is an in-process vector index using brute-force cosine similarity.
// Each user has an isolated partition keyed by document ID.
type Index struct {
	mu         sync.RWMutex
	dimension  int
	partitions map[string]map[string][]domain.Chunk
}

func NewIndex() *Index {
	return &Index{partitions: make(map[string]map[string][]domain.Chunk)}
}

func (i *Index) Replace(_ context.Context, userID, documentID string, chunks []domain.Chunk) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	dim := i.dimension
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %d of %s has no embedding", c.Index, documentID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(c.Embedding), dim)
		}
	}

	part, ok := i.partitions[userID]
	if !ok {
		part = make(map[string][]domain.Chunk)
		i.partitions[userID] = part
	}
	if len(chunks) == 0 {
		delete(part, documentID)
		return nil
	}
	stored := make([]domain.Chunk, len(chunks))
	copy(stored, chunks)
	part[documentID] = stored
	i.dimension = dim
	return nil
}

func (i *Index) Delete(_ context.Context, userID, documentID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if part, ok := i.partitions[userID]; ok {
		delete(part, documentID)
		if len(part) == 0 {
			delete(i.partitions, userID)
		}
	}
	return nil
}

func (i *Index) Search(_ context.Context, userID string, vector []float32, limit int) ([]domain.ScoredChunk, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	part := i.partitions[userID]
	if len(part) == 0 {
		return nil, nil
	}
	if i.dimension != 0 && len(vector) != i.dimension {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(vector), i.dimension)
	}

	var out []domain.ScoredChunk
	for _, chunks := range part {
		for _, c := range chunks {
			out = append(out, domain.ScoredChunk{Chunk: c, Score: Cosine(vector, c.Embedding)})
		}
	}
	domain.SortScoredChunks(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for k := 0; k < n; k++ {
		x, y := float64(a[k]), float64(b[k])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
