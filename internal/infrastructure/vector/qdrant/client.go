package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// pointNamespace derives stable point IDs so re-indexing a document
// overwrites its points in place.
var pointNamespace = uuid.MustParse("6f1c1a52-93a4-4c61-9b7e-2a0d4b1f7c11")

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func PointID(userID, documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s/%s/%d", userID, documentID, chunkIndex))).String()
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Replace upserts the new chunk points and then removes any points of the
// document beyond the new chunk count. Point IDs are stable, so searches
// between the two calls see the new chunks plus a stale tail, never an
// empty document. The two calls are not atomic: concurrent writers of the
// same document from separate processes can interleave.
func (c *Client) Replace(ctx context.Context, userID, documentID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return c.Delete(ctx, userID, documentID)
	}
	if err := c.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}

	points := make([]point, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %d of %s has no embedding", ch.Index, documentID)
		}
		points = append(points, point{
			ID:      PointID(userID, documentID, ch.Index),
			Vector:  ch.Embedding,
			Payload: chunkPayload(userID, ch),
		})
	}

	if err := c.do(ctx, http.MethodPut, "/points?wait=true", map[string]any{"points": points}, nil, "upsert"); err != nil {
		return err
	}

	stale := documentFilter(userID, documentID)
	stale["must"] = append(stale["must"].([]map[string]any), map[string]any{
		"key":   "chunk_index",
		"range": map[string]any{"gte": len(chunks)},
	})
	return c.do(ctx, http.MethodPost, "/points/delete?wait=true", map[string]any{"filter": stale}, nil, "delete stale points")
}

func (c *Client) Delete(ctx context.Context, userID, documentID string) error {
	body := map[string]any{"filter": documentFilter(userID, documentID)}
	err := c.do(ctx, http.MethodPost, "/points/delete?wait=true", body, nil, "delete")
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) Search(ctx context.Context, userID string, queryVector []float32, limit int) ([]domain.ScoredChunk, error) {
	if len(queryVector) == 0 || strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
		"filter":       userFilter(userID),
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/points/search", reqBody, &searchResp, "search"); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.ScoredChunk{Chunk: chunkFromPayload(r.Payload), Score: r.Score})
	}
	return out, nil
}

// do sends in as a JSON body unless it is nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any, op string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	url := fmt.Sprintf("%s/collections/%s%s", c.baseURL, c.collection, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{op: op, status: resp.Status, code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

type statusError struct {
	op     string
	status string
	code   int
	body   string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("qdrant %s status: %s: %s", e.op, e.status, e.body)
	}
	return fmt.Sprintf("qdrant %s status: %s", e.op, e.status)
}

// isNotFound reports a missing collection, which reads and deletes treat as
// empty.
func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the collection already exists.
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

// Ping reports whether Qdrant answers. A missing collection is healthy
// because it is created on first write.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "", nil, nil, "ping"); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}
