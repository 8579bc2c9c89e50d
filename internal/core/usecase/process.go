package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

// documentIngestor is the synchronous pipeline the worker hands uploads to.
type documentIngestor interface {
	IngestBytes(ctx context.Context, userID, sourceName string, data []byte, policy domain.ChunkPolicy) (*domain.Document, error)
}

// ProcessUploadUseCase runs queued uploads through ingestion and tracks
// their status.
type ProcessUploadUseCase struct {
	uploads  ports.UploadRepository
	storage  ports.ObjectStorage
	ingestor documentIngestor
	policy   domain.ChunkPolicy
	maxBytes int64
	logger   *slog.Logger
}

func NewProcessUploadUseCase(
	uploads ports.UploadRepository,
	storage ports.ObjectStorage,
	ingestor documentIngestor,
	policy domain.ChunkPolicy,
	maxBytes int64,
) *ProcessUploadUseCase {
	return &ProcessUploadUseCase{
		uploads:  uploads,
		storage:  storage,
		ingestor: ingestor,
		policy:   policy,
		maxBytes: maxBytes,
		logger:   slog.Default().With("component", "upload-processor"),
	}
}

func (uc *ProcessUploadUseCase) ProcessByID(ctx context.Context, uploadID string) error {
	if err := uc.markStatus(ctx, uploadID, domain.StatusProcessing, "", ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	doc, err := uc.processPipeline(ctx, uploadID)
	if err != nil {
		if failErr := uc.markFailed(ctx, uploadID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, uploadID, domain.StatusReady, doc.ID, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	uc.logger.Info("upload_processed", "upload_id", uploadID, "document_id", doc.ID)
	return nil
}

func (uc *ProcessUploadUseCase) processPipeline(ctx context.Context, uploadID string) (*domain.Document, error) {
	upload, err := uc.uploads.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("fetch upload by id: %w", err)
	}

	data, err := uc.readObject(ctx, upload.StoragePath)
	if err != nil {
		return nil, err
	}

	return uc.ingestor.IngestBytes(ctx, upload.UserID, upload.Filename, data, uc.policy)
}

func (uc *ProcessUploadUseCase) readObject(ctx context.Context, key string) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, key)
	if err != nil {
		return nil, domain.WrapError(domain.ErrFileNotFound, "open stored upload", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if uc.maxBytes > 0 {
		r = io.LimitReader(rc, uc.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorageFailure, "read stored upload", err)
	}
	if uc.maxBytes > 0 && int64(len(data)) > uc.maxBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read stored upload", fmt.Errorf("file exceeds %d bytes", uc.maxBytes))
	}
	return data, nil
}

func (uc *ProcessUploadUseCase) markStatus(ctx context.Context, uploadID string, status domain.UploadStatus, documentID, errMessage string) error {
	return uc.uploads.UpdateUploadStatus(ctx, uploadID, status, documentID, errMessage)
}

func (uc *ProcessUploadUseCase) markFailed(ctx context.Context, uploadID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, uploadID, domain.StatusFailed, "", processErr.Error())
}
