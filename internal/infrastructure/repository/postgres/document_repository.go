package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// ReplaceDocument upserts the document row, swaps its chunk rows and runs
// beforeCommit, all in one transaction. The hook's context carries the
// transaction (see TxFromContext).
func (r *DocumentRepository) ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, beforeCommit ports.TxHook) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	citations := doc.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (
	user_id, id, source_name, text, metadata, citations, chunk_count, content_hash, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (user_id, id) DO UPDATE SET
	source_name = EXCLUDED.source_name,
	text = EXCLUDED.text,
	metadata = EXCLUDED.metadata,
	citations = EXCLUDED.citations,
	chunk_count = EXCLUDED.chunk_count,
	content_hash = EXCLUDED.content_hash,
	updated_at = EXCLUDED.updated_at
`,
		doc.UserID, doc.ID, doc.SourceName, doc.Text, metaJSON, citationsJSON, doc.ChunkCount, doc.ContentHash, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE user_id = $1 AND document_id = $2`, doc.UserID, doc.ID); err != nil {
		return fmt.Errorf("delete previous chunks: %w", err)
	}

	for _, ch := range chunks {
		_, err := tx.ExecContext(ctx, `
INSERT INTO document_chunks (user_id, document_id, chunk_index, chunk_id, text, start_offset)
VALUES ($1,$2,$3,$4,$5,$6)
`, doc.UserID, doc.ID, ch.Index, ch.ID, ch.Text, ch.StartOffset)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Index, err)
		}
	}

	if beforeCommit != nil {
		if err := beforeCommit(withTx(ctx, tx)); err != nil {
			return fmt.Errorf("before commit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, userID, documentID string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT user_id, id, source_name, text, metadata, citations, chunk_count, content_hash, created_at, updated_at
FROM documents
WHERE user_id = $1 AND id = $2
`, userID, documentID)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("document %s", documentID))
		}
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) ListDocuments(ctx context.Context, userID string) ([]domain.Document, error) {
	// Listings leave the full text out; GetDocument returns it.
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id, id, source_name, '' AS text, metadata, citations, chunk_count, content_hash, created_at, updated_at
FROM documents
WHERE user_id = $1
ORDER BY created_at DESC, id ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// ListChunks returns chunks in index order with the owning document's
// metadata attached. Embeddings are not stored here.
func (r *DocumentRepository) ListChunks(ctx context.Context, userID, documentID string) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT c.chunk_id, c.chunk_index, c.text, c.start_offset, d.metadata
FROM document_chunks c
JOIN documents d ON d.user_id = c.user_id AND d.id = c.document_id
WHERE c.user_id = $1 AND c.document_id = $2
ORDER BY c.chunk_index ASC
`, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Chunk, 0)
	for rows.Next() {
		ch := domain.Chunk{DocumentID: documentID, UserID: userID}
		var metaRaw []byte
		if err := rows.Scan(&ch.ID, &ch.Index, &ch.Text, &ch.StartOffset, &metaRaw); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &ch.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	if len(out) > 0 {
		return out, nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE user_id = $1 AND id = $2)`, userID, documentID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check document exists: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "list chunks", fmt.Errorf("document %s", documentID))
	}
	return out, nil
}

// DeleteDocument removes the document and, by cascade, its chunks.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, userID, documentID string, beforeCommit ports.TxHook) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE user_id = $1 AND id = $2`, userID, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("document %s", documentID))
	}

	if beforeCommit != nil {
		if err := beforeCommit(withTx(ctx, tx)); err != nil {
			return fmt.Errorf("before commit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc          domain.Document
		metaRaw      []byte
		citationsRaw []byte
	)
	err := row.Scan(
		&doc.UserID, &doc.ID, &doc.SourceName, &doc.Text, &metaRaw, &citationsRaw,
		&doc.ChunkCount, &doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Document{}, err
		}
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
		return domain.Document{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal(citationsRaw, &doc.Citations); err != nil {
		return domain.Document{}, fmt.Errorf("unmarshal citations: %w", err)
	}
	return doc, nil
}
