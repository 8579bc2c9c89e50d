package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/core/bibliography"
	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

// documentNamespace makes document IDs a function of (user, source name), so
// re-ingesting a source replaces the previous version.
var documentNamespace = uuid.MustParse("0b5e7c3e-5a0f-4d7e-8a2b-93f1d6c4e201")

func DocumentID(userID, sourceName string) string {
	return uuid.NewSHA1(documentNamespace, []byte(userID+"/"+sourceName)).String()
}

// chunkIndexer is the part of RetrievalService the ingestion pipeline drives.
type chunkIndexer interface {
	EmbedChunks(ctx context.Context, chunks []domain.Chunk) error
	Index(ctx context.Context, userID, documentID string, chunks []domain.Chunk) error
	Remove(ctx context.Context, userID, documentID string) error
	WithDocument(userID, documentID string, fn func() error) error
}

type IngestDocumentUseCase struct {
	repo      ports.DocumentRepository
	parser    ports.DocumentParser
	chunker   ports.Chunker
	retrieval chunkIndexer
	graph     ports.CitationGraph
	logger    *slog.Logger
	now       func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	parser ports.DocumentParser,
	chunker ports.Chunker,
	retrieval chunkIndexer,
	graph ports.CitationGraph,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:      repo,
		parser:    parser,
		chunker:   chunker,
		retrieval: retrieval,
		graph:     graph,
		logger:    slog.Default().With("component", "ingest"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IngestFile reads a local file and ingests it under its base name.
func (uc *IngestDocumentUseCase) IngestFile(ctx context.Context, userID, path string, policy domain.ChunkPolicy) (*domain.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, domain.WrapError(domain.ErrFileNotFound, "ingest file", err)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, domain.WrapError(domain.ErrFileNotFound, "ingest file", fmt.Errorf("%s is a directory", path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrFileNotFound, "ingest file", err)
	}
	return uc.IngestBytes(ctx, userID, filepath.Base(path), data, policy)
}

// IngestBytes parses, chunks, embeds and atomically stores one document.
// The document row, its chunk rows and its index entries are swapped
// together; on any failure the previous version stays visible.
func (uc *IngestDocumentUseCase) IngestBytes(
	ctx context.Context,
	userID, sourceName string,
	data []byte,
	policy domain.ChunkPolicy,
) (*domain.Document, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("user id is required"))
	}
	if strings.TrimSpace(sourceName) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("source name is required"))
	}
	if policy == (domain.ChunkPolicy{}) {
		policy = domain.DefaultChunkPolicy()
	}

	parsed, err := uc.parser.Parse(ctx, sourceName, data)
	if err != nil {
		return nil, classifyParseError(err)
	}

	meta := bibliography.ExtractMetadata(parsed.Properties)
	citations := bibliography.ExtractCitations(parsed.Text)

	pieces, err := uc.chunker.Split(parsed.Text, policy)
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}

	docID := DocumentID(userID, sourceName)
	chunks := buildChunks(userID, docID, pieces, policy.Overlap, meta)
	if err := uc.retrieval.EmbedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	doc := &domain.Document{
		ID:          docID,
		UserID:      userID,
		SourceName:  sourceName,
		Text:        parsed.Text,
		Metadata:    meta,
		Citations:   citations,
		ChunkCount:  len(chunks),
		ContentHash: contentHash(data),
	}
	err = uc.retrieval.WithDocument(userID, docID, func() error {
		return uc.replace(ctx, doc, chunks)
	})
	if err != nil {
		return nil, err
	}

	uc.project(ctx, doc)
	uc.logger.Info("document_ingested",
		"user_id", userID,
		"document_id", docID,
		"source", sourceName,
		"chunks", len(chunks),
		"citations", len(citations),
	)
	return doc, nil
}

// replace swaps the committed version of doc. The caller holds the document
// lock, so previous is still the committed chunk set if a restore is needed.
func (uc *IngestDocumentUseCase) replace(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	userID, docID := doc.UserID, doc.ID
	previous, createdAt, err := uc.loadPrevious(ctx, userID, docID)
	if err != nil {
		return err
	}

	now := uc.now()
	if createdAt.IsZero() {
		createdAt = now
	}
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now

	indexed := false
	err = uc.repo.ReplaceDocument(ctx, doc, chunks, func(txCtx context.Context) error {
		if err := uc.retrieval.Index(txCtx, userID, docID, chunks); err != nil {
			return err
		}
		indexed = true
		return nil
	})
	if err != nil {
		if indexed {
			uc.restoreIndex(ctx, userID, docID, previous)
		}
		if domain.IsKind(err, domain.ErrStorageFailure) || domain.IsKind(err, domain.ErrCanceled) {
			return err
		}
		return domain.WrapError(domain.ErrStorageFailure, "replace document", err)
	}
	return nil
}

func (uc *IngestDocumentUseCase) loadPrevious(ctx context.Context, userID, docID string) ([]domain.Chunk, time.Time, error) {
	existing, err := uc.repo.GetDocument(ctx, userID, docID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, domain.WrapError(domain.ErrStorageFailure, "load previous document", err)
	}
	chunks, err := uc.repo.ListChunks(ctx, userID, docID)
	if err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil, time.Time{}, domain.WrapError(domain.ErrStorageFailure, "load previous chunks", err)
	}
	return chunks, existing.CreatedAt, nil
}

// restoreIndex puts the index back to the committed chunk set after a
// failed commit.
func (uc *IngestDocumentUseCase) restoreIndex(ctx context.Context, userID, docID string, previous []domain.Chunk) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if len(previous) == 0 {
		err = uc.retrieval.Remove(ctx, userID, docID)
	} else {
		err = uc.retrieval.Index(ctx, userID, docID, previous)
	}
	if err != nil {
		uc.logger.Error("index_restore_failed", "user_id", userID, "document_id", docID, "error", err)
	}
}

func (uc *IngestDocumentUseCase) project(ctx context.Context, doc *domain.Document) {
	if uc.graph == nil {
		return
	}
	if err := uc.graph.RecordDocument(ctx, doc); err != nil {
		uc.logger.Warn("citation_graph_record_failed", "user_id", doc.UserID, "document_id", doc.ID, "error", err)
	}
}

func buildChunks(userID, docID string, pieces []string, overlap int, meta domain.Metadata) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(pieces))
	offset := 0
	for i, text := range pieces {
		chunks = append(chunks, domain.Chunk{
			ID:          fmt.Sprintf("%s:%d", docID, i),
			DocumentID:  docID,
			UserID:      userID,
			Index:       i,
			Text:        text,
			StartOffset: offset,
			Metadata:    meta,
		})
		offset += utf8.RuneCountInString(text) - overlap
	}
	return chunks
}

func classifyParseError(err error) error {
	for _, kind := range []error{domain.ErrUnsupportedFormat, domain.ErrParseFailure, domain.ErrCanceled} {
		if domain.IsKind(err, kind) {
			return err
		}
	}
	return domain.WrapError(domain.ErrParseFailure, "parse document", err)
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
