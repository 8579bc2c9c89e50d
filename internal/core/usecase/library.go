package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

// LibraryUseCase lists, reads and deletes a user's documents.
type LibraryUseCase struct {
	repo      ports.DocumentRepository
	retrieval chunkIndexer
	graph     ports.CitationGraph
	logger    *slog.Logger
}

func NewLibraryUseCase(repo ports.DocumentRepository, retrieval chunkIndexer, graph ports.CitationGraph) *LibraryUseCase {
	return &LibraryUseCase{
		repo:      repo,
		retrieval: retrieval,
		graph:     graph,
		logger:    slog.Default().With("component", "library"),
	}
}

func (uc *LibraryUseCase) ListDocuments(ctx context.Context, userID string) ([]domain.Document, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list documents", errors.New("user id is required"))
	}
	docs, err := uc.repo.ListDocuments(ctx, userID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorageFailure, "list documents", err)
	}
	return docs, nil
}

// GetDocument returns ErrDocumentNotFound for documents of other users.
func (uc *LibraryUseCase) GetDocument(ctx context.Context, userID, documentID string) (*domain.Document, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(documentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("user id and document id are required"))
	}
	return uc.repo.GetDocument(ctx, userID, documentID)
}

// DeleteDocument removes the document, its chunks and its index entries in
// one transaction.
func (uc *LibraryUseCase) DeleteDocument(ctx context.Context, userID, documentID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(documentID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete document", errors.New("user id and document id are required"))
	}

	err := uc.retrieval.WithDocument(userID, documentID, func() error {
		return uc.remove(ctx, userID, documentID)
	})
	if err != nil {
		return err
	}

	if uc.graph != nil {
		if err := uc.graph.RemoveDocument(ctx, userID, documentID); err != nil {
			uc.logger.Warn("citation_graph_remove_failed", "user_id", userID, "document_id", documentID, "error", err)
		}
	}
	uc.logger.Info("document_deleted", "user_id", userID, "document_id", documentID)
	return nil
}

func (uc *LibraryUseCase) remove(ctx context.Context, userID, documentID string) error {
	previous, err := uc.repo.ListChunks(ctx, userID, documentID)
	if err != nil {
		return err
	}

	removed := false
	err = uc.repo.DeleteDocument(ctx, userID, documentID, func(txCtx context.Context) error {
		if err := uc.retrieval.Remove(txCtx, userID, documentID); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil && removed && len(previous) > 0 {
		if restoreErr := uc.retrieval.Index(context.WithoutCancel(ctx), userID, documentID, previous); restoreErr != nil {
			uc.logger.Error("index_restore_failed", "user_id", userID, "document_id", documentID, "error", restoreErr)
		}
	}
	return err
}
