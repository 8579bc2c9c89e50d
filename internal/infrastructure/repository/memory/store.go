// Package memory holds process-local repositories for development, the CLI
// and tests. Each store serializes its writes with a single mutex, which
// also provides the all-or-nothing semantics the ports require.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type documentKey struct {
	userID string
	id     string
}

type DocumentStore struct {
	mu        sync.RWMutex
	documents map[documentKey]domain.Document
	chunks    map[documentKey][]domain.Chunk
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[documentKey]domain.Document),
		chunks:    make(map[documentKey][]domain.Chunk),
	}
}

// ReplaceDocument runs beforeCommit while holding the store lock; the new
// version becomes visible only if the hook succeeds.
func (s *DocumentStore) ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, beforeCommit ports.TxHook) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.ErrCanceled, "replace document", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}

	key := documentKey{userID: doc.UserID, id: doc.ID}
	s.documents[key] = *doc
	s.chunks[key] = cloneChunks(chunks)
	return nil
}

func (s *DocumentStore) GetDocument(_ context.Context, userID, documentID string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentKey{userID: userID, id: documentID}]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("document %s", documentID))
	}
	return &doc, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *DocumentStore) ListDocuments(_ context.Context, userID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Document, 0)
	for key, doc := range s.documents {
		if key.userID == userID {
			doc.Text = ""
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *DocumentStore) ListChunks(_ context.Context, userID, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := documentKey{userID: userID, id: documentID}
	if _, ok := s.documents[key]; !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "list chunks", fmt.Errorf("document %s", documentID))
	}
	out := cloneChunks(s.chunks[key])
	for i := range out {
		out[i].Embedding = nil
	}
	return out, nil
}

func (s *DocumentStore) DeleteDocument(ctx context.Context, userID, documentID string, beforeCommit ports.TxHook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := documentKey{userID: userID, id: documentID}
	if _, ok := s.documents[key]; !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("document %s", documentID))
	}
	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}
	delete(s.documents, key)
	delete(s.chunks, key)
	return nil
}

func cloneChunks(chunks []domain.Chunk) []domain.Chunk {
	if chunks == nil {
		return nil
	}
	out := make([]domain.Chunk, len(chunks))
	copy(out, chunks)
	return out
}

type UploadStore struct {
	mu      sync.RWMutex
	uploads map[string]domain.Upload
}

func NewUploadStore() *UploadStore {
	return &UploadStore{uploads: make(map[string]domain.Upload)}
}

func (s *UploadStore) CreateUpload(_ context.Context, upload *domain.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.uploads[upload.ID]; exists {
		return fmt.Errorf("upload %s already exists", upload.ID)
	}
	s.uploads[upload.ID] = *upload
	return nil
}

func (s *UploadStore) GetUpload(_ context.Context, id string) (*domain.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	upload, ok := s.uploads[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get upload", fmt.Errorf("upload %s", id))
	}
	return &upload, nil
}

func (s *UploadStore) UpdateUploadStatus(_ context.Context, id string, status domain.UploadStatus, documentID, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	upload, ok := s.uploads[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update upload status", fmt.Errorf("upload %s", id))
	}
	upload.Status = status
	if documentID != "" {
		upload.DocumentID = documentID
	}
	upload.Error = errMessage
	upload.UpdatedAt = time.Now().UTC()
	s.uploads[id] = upload
	return nil
}

type ChatStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.ChatTurn
}

func NewChatStore() *ChatStore {
	return &ChatStore{sessions: make(map[string][]domain.ChatTurn)}
}

func (s *ChatStore) AppendTurns(_ context.Context, userID string, turns ...domain.ChatTurn) error {
	for _, t := range turns {
		if !t.Role.Valid() {
			return domain.WrapError(domain.ErrInvalidInput, "append chat turns", fmt.Errorf("unknown role %q", t.Role))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		t.UserID = userID
		s.sessions[userID] = append(s.sessions[userID], t)
	}
	return nil
}

func (s *ChatStore) RecentTurns(_ context.Context, userID string, limit int) ([]domain.ChatTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session := s.sessions[userID]
	if limit > 0 && len(session) > limit {
		session = session[len(session)-limit:]
	}
	out := make([]domain.ChatTurn, len(session))
	copy(out, session)
	return out, nil
}
