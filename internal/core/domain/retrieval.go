package domain

import "sort"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 5
)

// ChunkPolicy controls how document text is split. It travels with each
// ingestion request.
type ChunkPolicy struct {
	TargetSize int `json:"target_size"`
	Overlap    int `json:"overlap"`
}

func DefaultChunkPolicy() ChunkPolicy {
	return ChunkPolicy{TargetSize: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Chunk is a retrievable slice of a document.
type Chunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	UserID      string    `json:"user_id"`
	Index       int       `json:"index"`
	Text        string    `json:"text"`
	StartOffset int       `json:"start_offset"`
	Metadata    Metadata  `json:"metadata"`
	Embedding   []float32 `json:"-"`
}

type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SortScoredChunks orders results by score descending, then chunk index and
// document ID ascending.
func SortScoredChunks(items []ScoredChunk) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].Chunk.Index != items[j].Chunk.Index {
			return items[i].Chunk.Index < items[j].Chunk.Index
		}
		return items[i].Chunk.DocumentID < items[j].Chunk.DocumentID
	})
}

// AssembledContext is the prompt material built from retrieved chunks and
// the conversation so far.
type AssembledContext struct {
	ContextBlock string
	HistoryBlock string
	Included     []ScoredChunk
}
