package pgvector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/infrastructure/repository/postgres"
)

func newIndexWithMock(t *testing.T) (*Index, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return New(db), mock, func() { _ = db.Close() }
}

func TestReplaceDeletesThenInsertsInOneTransaction(t *testing.T) {
	idx, mock, done := newIndexWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM chunk_vectors").
		WithArgs("alice", "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO chunk_vectors").
		WithArgs("alice", "doc-1", 0, "c0", 0, "first", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chunk_vectors").
		WithArgs("alice", "doc-1", 1, "c1", 4, "second", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := idx.Replace(context.Background(), "alice", "doc-1", []domain.Chunk{
		{ID: "c0", Index: 0, Text: "first", Embedding: []float32{1, 0}},
		{ID: "c1", Index: 1, StartOffset: 4, Text: "second", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceRollsBackOnInsertError(t *testing.T) {
	idx, mock, done := newIndexWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM chunk_vectors").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO chunk_vectors").WillReturnError(errors.New("dimension mismatch"))
	mock.ExpectRollback()

	err := idx.Replace(context.Background(), "alice", "doc-1", []domain.Chunk{
		{ID: "c0", Index: 0, Text: "first", Embedding: []float32{1, 0}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchScopesToUser(t *testing.T) {
	idx, mock, done := newIndexWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{"document_id", "chunk_index", "chunk_id", "start_offset", "text", "metadata", "score"}).
		AddRow("doc-1", 2, "c2", 10, "passage", []byte(`{"title":"Paper","authors":["Smith"],"page_count":3}`), 0.87)
	mock.ExpectQuery("SELECT document_id, chunk_index").
		WithArgs("alice", sqlmock.AnyArg(), 5).
		WillReturnRows(rows)

	out, err := idx.Search(context.Background(), "alice", []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one result, got %d", len(out))
	}
	got := out[0]
	if got.Chunk.UserID != "alice" || got.Chunk.Index != 2 || got.Chunk.Metadata.Title != "Paper" || got.Score != 0.87 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConcurrentIngestsShareOneConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	// A hook that asked the pool for a second connection would wait here
	// until the deadline.
	db.SetMaxOpenConns(1)

	repo := postgres.NewDocumentRepository(db)
	idx := New(db)

	const ingests = 2
	for n := 0; n < ingests; n++ {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("DELETE FROM document_chunks").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO document_chunks").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("DELETE FROM chunk_vectors").
			WithArgs("alice", "doc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO chunk_vectors").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	chunks := []domain.Chunk{{ID: "doc-1:0", Index: 0, Text: "first", Embedding: []float32{1, 0}}}

	var wg sync.WaitGroup
	errs := make(chan error, ingests)
	for n := 0; n < ingests; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := &domain.Document{
				ID: "doc-1", UserID: "alice", SourceName: "paper.txt", Text: "first",
				ChunkCount: 1, ContentHash: "h", CreatedAt: now, UpdatedAt: now,
			}
			errs <- repo.ReplaceDocument(ctx, doc, chunks, func(txCtx context.Context) error {
				return idx.Replace(txCtx, "alice", "doc-1", chunks)
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("ReplaceDocument() error = %v", err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteJoinsRepositoryTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	repo := postgres.NewDocumentRepository(db)
	idx := New(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM documents").
		WithArgs("alice", "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM chunk_vectors").
		WithArgs("alice", "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = repo.DeleteDocument(ctx, "alice", "doc-1", func(txCtx context.Context) error {
		return idx.Delete(txCtx, "alice", "doc-1")
	})
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
