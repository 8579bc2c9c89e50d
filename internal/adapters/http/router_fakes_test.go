package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type chatFake struct {
	lastReq domain.ChatRequest
	reply   *domain.ChatReply
	err     error
	history []domain.ChatTurn
}

func (f *chatFake) ProcessMessage(_ context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &domain.ChatReply{Message: "answer"}, nil
}

func (f *chatFake) History(context.Context, string) ([]domain.ChatTurn, error) {
	return f.history, f.err
}

type ingestFake struct {
	lastPolicy domain.ChunkPolicy
	lastData   []byte
}

func (f *ingestFake) IngestFile(context.Context, string, string, domain.ChunkPolicy) (*domain.Document, error) {
	return nil, errors.New("not used")
}

func (f *ingestFake) IngestBytes(_ context.Context, userID, sourceName string, data []byte, policy domain.ChunkPolicy) (*domain.Document, error) {
	f.lastPolicy = policy
	f.lastData = data
	return &domain.Document{ID: "doc-1", UserID: userID, SourceName: sourceName, ChunkCount: 1}, nil
}

type libraryFake struct {
	docs    map[string]domain.Document
	deleted []string
	err     error
}

func (f *libraryFake) ListDocuments(_ context.Context, userID string) ([]domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Document
	for _, doc := range f.docs {
		if doc.UserID == userID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *libraryFake) GetDocument(_ context.Context, userID, documentID string) (*domain.Document, error) {
	doc, ok := f.docs[documentID]
	if !ok || doc.UserID != userID {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(documentID))
	}
	return &doc, nil
}

func (f *libraryFake) DeleteDocument(ctx context.Context, userID, documentID string) error {
	if _, err := f.GetDocument(ctx, userID, documentID); err != nil {
		return err
	}
	f.deleted = append(f.deleted, documentID)
	return nil
}

type uploadFake struct {
	err error
}

func (f *uploadFake) Upload(_ context.Context, userID, filename, mimeType string, body io.Reader) (*domain.Upload, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", io.EOF)
	}
	now := time.Now().UTC()
	return &domain.Upload{
		ID:        "up-1",
		UserID:    userID,
		Filename:  filename,
		MimeType:  mimeType,
		Status:    domain.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (f *uploadFake) GetUpload(_ context.Context, userID, uploadID string) (*domain.Upload, error) {
	if userID != "alice" || uploadID != "up-1" {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get upload", errors.New(uploadID))
	}
	return &domain.Upload{ID: uploadID, UserID: userID, Status: domain.StatusReady, DocumentID: "doc-1"}, nil
}

type testDeps struct {
	chat    *chatFake
	ingest  *ingestFake
	library *libraryFake
	uploads *uploadFake
}

func newTestDeps() *testDeps {
	return &testDeps{
		chat:   &chatFake{},
		ingest: &ingestFake{},
		library: &libraryFake{docs: map[string]domain.Document{
			"doc-1": {ID: "doc-1", UserID: "alice", SourceName: "paper.pdf"},
			"doc-2": {ID: "doc-2", UserID: "bob", SourceName: "other.pdf"},
		}},
		uploads: &uploadFake{},
	}
}

func newTestHandler(cfg config.Config) http.Handler {
	return newTestHandlerWith(cfg, newTestDeps())
}

func newTestHandlerWith(cfg config.Config, deps *testDeps) http.Handler {
	return NewRouter(cfg, Services{
		Chat:    deps.chat,
		Ingest:  deps.ingest,
		Library: deps.library,
		Uploads: deps.uploads,
	}).Handler()
}
