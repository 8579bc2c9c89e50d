// Package pgvector stores chunk embeddings in PostgreSQL using the vector
// extension. Each user is a partition filtered by user_id.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	pgv "github.com/pgvector/pgvector-go"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/infrastructure/repository/postgres"
)

type Index struct {
	db *sql.DB
}

func New(db *sql.DB) *Index {
	return &Index{db: db}
}

func (i *Index) EnsureSchema(ctx context.Context) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101602)); err != nil {
		return fmt.Errorf("acquire vector schema lock: %w", err)
	}

	const query = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunk_vectors (
	user_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	chunk_id TEXT NOT NULL,
	start_offset INTEGER NOT NULL DEFAULT 0,
	text TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector NOT NULL,
	PRIMARY KEY (user_id, document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunk_vectors_user ON chunk_vectors(user_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute vector schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector schema tx: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Replace deletes and reinserts a document's vectors in one transaction.
// Inside a repository TxHook it joins the caller's transaction, so the
// vectors commit or roll back with the document row on one connection.
func (i *Index) Replace(ctx context.Context, userID, documentID string, chunks []domain.Chunk) error {
	if tx, ok := postgres.TxFromContext(ctx); ok {
		return replaceVectors(ctx, tx, userID, documentID, chunks)
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := replaceVectors(ctx, tx, userID, documentID, chunks); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

func replaceVectors(ctx context.Context, ex execer, userID, documentID string, chunks []domain.Chunk) error {
	if err := deleteVectors(ctx, ex, userID, documentID); err != nil {
		return err
	}

	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %d of %s has no embedding", ch.Index, documentID)
		}
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `
INSERT INTO chunk_vectors (user_id, document_id, chunk_index, chunk_id, start_offset, text, metadata, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
			userID, documentID, ch.Index, ch.ID, ch.StartOffset, ch.Text, meta, pgv.NewVector(ch.Embedding),
		); err != nil {
			return fmt.Errorf("insert chunk vector: %w", err)
		}
	}
	return nil
}

func (i *Index) Delete(ctx context.Context, userID, documentID string) error {
	if tx, ok := postgres.TxFromContext(ctx); ok {
		return deleteVectors(ctx, tx, userID, documentID)
	}
	return deleteVectors(ctx, i.db, userID, documentID)
}

func deleteVectors(ctx context.Context, ex execer, userID, documentID string) error {
	if _, err := ex.ExecContext(ctx,
		`DELETE FROM chunk_vectors WHERE user_id = $1 AND document_id = $2`,
		userID, documentID,
	); err != nil {
		return fmt.Errorf("delete document vectors: %w", err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, userID string, vector []float32, limit int) ([]domain.ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	rows, err := i.db.QueryContext(ctx, `
SELECT document_id, chunk_index, chunk_id, start_offset, text, metadata, 1 - (embedding <=> $2) AS score
FROM chunk_vectors
WHERE user_id = $1
ORDER BY embedding <=> $2, chunk_index
LIMIT $3
`, userID, pgv.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search chunk vectors: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoredChunk
	for rows.Next() {
		var (
			sc      domain.ScoredChunk
			metaRaw []byte
		)
		if err := rows.Scan(
			&sc.Chunk.DocumentID, &sc.Chunk.Index, &sc.Chunk.ID, &sc.Chunk.StartOffset,
			&sc.Chunk.Text, &metaRaw, &sc.Score,
		); err != nil {
			return nil, fmt.Errorf("scan chunk vector: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &sc.Chunk.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		sc.Chunk.UserID = userID
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk vectors: %w", err)
	}
	return out, nil
}
