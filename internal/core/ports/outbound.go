package ports

import (
	"context"
	"io"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// TxHook runs inside a repository transaction before commit. A non-nil
// error rolls the transaction back.
type TxHook func(ctx context.Context) error

// DocumentRepository persists documents and their chunks.
type DocumentRepository interface {
	ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, beforeCommit TxHook) error
	GetDocument(ctx context.Context, userID, documentID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]domain.Document, error)
	ListChunks(ctx context.Context, userID, documentID string) ([]domain.Chunk, error)
	DeleteDocument(ctx context.Context, userID, documentID string, beforeCommit TxHook) error
}

// UploadRepository tracks asynchronously processed uploads.
type UploadRepository interface {
	CreateUpload(ctx context.Context, upload *domain.Upload) error
	GetUpload(ctx context.Context, id string) (*domain.Upload, error)
	UpdateUploadStatus(ctx context.Context, id string, status domain.UploadStatus, documentID, errMessage string) error
}

// ChatSessionStore keeps the per-user conversation log.
type ChatSessionStore interface {
	// AppendTurns stores all turns or none of them.
	AppendTurns(ctx context.Context, userID string, turns ...domain.ChatTurn) error
	// RecentTurns returns the last limit turns oldest first; limit <= 0
	// returns the whole session.
	RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ChatTurn, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes upload events.
type MessageQueue interface {
	PublishUploadReceived(ctx context.Context, uploadID string) error
	SubscribeUploadReceived(ctx context.Context, handler func(context.Context, string) error) error
}

// DocumentParser turns raw bytes into text and document properties.
type DocumentParser interface {
	Parse(ctx context.Context, sourceName string, data []byte) (domain.ParsedDocument, error)
}

// Chunker splits text into overlapping passages.
type Chunker interface {
	Split(text string, policy domain.ChunkPolicy) ([]string, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk embeddings partitioned by user.
type VectorIndex interface {
	// Replace swaps all entries of one document for the given chunks.
	Replace(ctx context.Context, userID, documentID string, chunks []domain.Chunk) error
	Delete(ctx context.Context, userID, documentID string) error
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]domain.ScoredChunk, error)
}

// Generator is the text-completion capability.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CitationGraph is a best-effort projection of documents and the works
// they cite.
type CitationGraph interface {
	RecordDocument(ctx context.Context, doc *domain.Document) error
	RemoveDocument(ctx context.Context, userID, documentID string) error
}
