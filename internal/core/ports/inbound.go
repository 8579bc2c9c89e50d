package ports

import (
	"context"
	"io"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// DocumentIngestor is the inbound contract for synchronous ingestion.
type DocumentIngestor interface {
	IngestFile(ctx context.Context, userID, path string, policy domain.ChunkPolicy) (*domain.Document, error)
	IngestBytes(ctx context.Context, userID, sourceName string, data []byte, policy domain.ChunkPolicy) (*domain.Document, error)
}

// DocumentLibrary is the read/delete model over a user's documents.
type DocumentLibrary interface {
	ListDocuments(ctx context.Context, userID string) ([]domain.Document, error)
	GetDocument(ctx context.Context, userID, documentID string) (*domain.Document, error)
	DeleteDocument(ctx context.Context, userID, documentID string) error
}

// UploadService accepts files for asynchronous ingestion.
type UploadService interface {
	Upload(ctx context.Context, userID, filename, mimeType string, body io.Reader) (*domain.Upload, error)
	GetUpload(ctx context.Context, userID, uploadID string) (*domain.Upload, error)
}

// UploadProcessor is the worker-side contract for queued uploads.
type UploadProcessor interface {
	ProcessByID(ctx context.Context, uploadID string) error
}

// Retriever finds passages relevant to a query within one user's corpus.
type Retriever interface {
	Query(ctx context.Context, userID, text string, k int) ([]domain.ScoredChunk, error)
}

// ChatService answers messages grounded in the user's corpus.
type ChatService interface {
	ProcessMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error)
	History(ctx context.Context, userID string) ([]domain.ChatTurn, error)
}
