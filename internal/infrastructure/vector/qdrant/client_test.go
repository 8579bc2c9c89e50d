package qdrant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "c0", DocumentID: "doc-1", Index: 0, Text: "a", Embedding: []float32{0.1, 0.2}, Metadata: domain.Metadata{Title: "Paper"}},
		{ID: "c1", DocumentID: "doc-1", Index: 1, Text: "b", Embedding: []float32{0.3, 0.4}, Metadata: domain.Metadata{Title: "Paper"}},
	}
}

func TestReplaceEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls, deleteCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/delete":
			atomic.AddInt32(&deleteCalls, 1)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	for i := 0; i < 2; i++ {
		if err := client.Replace(context.Background(), "alice", "doc-1", testChunks()); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if got := atomic.LoadInt32(&deleteCalls); got != 2 {
		t.Fatalf("expected stale delete per replace, got %d", got)
	}
}

func TestReplaceUsesDeterministicPointIDsAndStaleRange(t *testing.T) {
	var upsert struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	var deleteBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/collections/docs":
			w.WriteHeader(http.StatusConflict)
		case r.URL.Path == "/collections/docs/points":
			_ = json.NewDecoder(r.Body).Decode(&upsert)
			_, _ = w.Write([]byte(`{}`))
		case r.URL.Path == "/collections/docs/points/delete":
			_ = json.NewDecoder(r.Body).Decode(&deleteBody)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	if err := New(server.URL, "docs").Replace(context.Background(), "alice", "doc-1", testChunks()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if len(upsert.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(upsert.Points))
	}
	if upsert.Points[1].ID != PointID("alice", "doc-1", 1) {
		t.Fatalf("unexpected point id %s", upsert.Points[1].ID)
	}
	if upsert.Points[0].Payload["user_id"] != "alice" {
		t.Fatalf("expected user_id payload, got %v", upsert.Points[0].Payload)
	}
	raw, _ := json.Marshal(deleteBody)
	if !strings.Contains(string(raw), `"gte":2`) || !strings.Contains(string(raw), `"doc-1"`) {
		t.Fatalf("unexpected stale delete filter: %s", raw)
	}
}

func TestSearchFiltersByUserAndDecodesPayload(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/search" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"result":[{"score":0.9,"payload":{"doc_id":"doc-1","user_id":"alice","chunk_index":3,"text":"hello","title":"Paper","authors":["Smith"],"creation_date":"2020-01-02T00:00:00Z"}}]}`))
	}))
	defer server.Close()

	out, err := New(server.URL, "docs").Search(context.Background(), "alice", []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !strings.Contains(gotBody, `"user_id"`) || !strings.Contains(gotBody, `"alice"`) {
		t.Fatalf("expected user filter in body, got %s", gotBody)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	c := out[0].Chunk
	if c.Index != 3 || c.Text != "hello" || c.Metadata.Title != "Paper" || c.Metadata.Year() != "2020" {
		t.Fatalf("unexpected chunk decode: %+v", c)
	}
	if len(c.Metadata.Authors) != 1 || c.Metadata.Authors[0] != "Smith" {
		t.Fatalf("unexpected authors: %v", c.Metadata.Authors)
	}
}

func TestSearchMissingCollectionIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found: Collection docs"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	out, err := New(server.URL, "docs").Search(context.Background(), "alice", []float32{1}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d", len(out))
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	err := New(server.URL, "docs").Replace(context.Background(), "alice", "doc-1", testChunks())
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestPingToleratesMissingCollection(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	c := New(server.URL, "docs")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	status.Store(http.StatusBadGateway)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestPingSendsNoBody(t *testing.T) {
	var (
		gotBody        []byte
		gotContentType string
		gotLength      int64
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotLength = r.ContentLength
		_, _ = w.Write([]byte(`{"result":{}}`))
	}))
	defer server.Close()

	if err := New(server.URL, "docs").Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if len(gotBody) != 0 || gotLength > 0 {
		t.Fatalf("expected empty GET body, got %q (length %d)", gotBody, gotLength)
	}
	if gotContentType != "" {
		t.Fatalf("expected no content type on GET, got %q", gotContentType)
	}
}

func TestReplaceUpsertsBeforeDeletingStaleTail(t *testing.T) {
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/docs":
			w.WriteHeader(http.StatusConflict)
			return
		case "/collections/docs/points", "/collections/docs/points/delete":
			calls = append(calls, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if err := New(server.URL, "docs").Replace(context.Background(), "alice", "doc-1", testChunks()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if len(calls) != 2 || calls[0] != "/collections/docs/points" || calls[1] != "/collections/docs/points/delete" {
		t.Fatalf("expected upsert then stale delete, got %v", calls)
	}
}
