package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func doJSON(t *testing.T, handler http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func multipartRequest(t *testing.T, path string, fields map[string]string, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(userIDHeader, "alice")
	return req
}

func TestHealthzEndpoint(t *testing.T) {
	res := doJSON(t, newTestHandler(config.Config{}), http.MethodGet, "/healthz", "", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	deps := newTestDeps()
	handler := NewRouter(config.Config{}, Services{
		Chat: deps.chat, Ingest: deps.ingest, Library: deps.library, Uploads: deps.uploads,
		Health: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"nats":     func(context.Context) error { return errors.New("nats not connected") },
		},
	}).Handler()

	res := doJSON(t, handler, http.MethodGet, "/healthz", "", "")
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "nats not connected") {
		t.Fatalf("expected failing dependency in body: %s", res.Body.String())
	}
}

func TestAPIInfoDoesNotRequireUser(t *testing.T) {
	res := doJSON(t, newTestHandler(config.Config{}), http.MethodGet, "/v1", "", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestResourcesRequireUserHeader(t *testing.T) {
	res := doJSON(t, newTestHandler(config.Config{}), http.MethodGet, "/v1/documents", "", "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestOversizedUserIDIsRejected(t *testing.T) {
	res := doJSON(t, newTestHandler(config.Config{}), http.MethodGet, "/v1/documents", strings.Repeat("u", maxUserIDLength+1), "")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestChatUsesStoredHistoryWhenFieldAbsent(t *testing.T) {
	deps := newTestDeps()
	deps.chat.reply = &domain.ChatReply{Message: "Smith (2020) found X."}
	handler := newTestHandlerWith(config.Config{}, deps)

	res := doJSON(t, handler, http.MethodPost, "/v1/chat", "alice", `{"message":"what did Smith find?"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if deps.chat.lastReq.UserID != "alice" || deps.chat.lastReq.History != nil {
		t.Fatalf("unexpected request %+v", deps.chat.lastReq)
	}

	var reply map[string]any
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reply["message"] != "Smith (2020) found X." {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if sources, ok := reply["sources"].([]any); !ok || len(sources) != 0 {
		t.Fatalf("expected empty sources array, got %#v", reply["sources"])
	}
}

func TestChatPassesExplicitHistory(t *testing.T) {
	deps := newTestDeps()
	handler := newTestHandlerWith(config.Config{}, deps)

	res := doJSON(t, handler, http.MethodPost, "/v1/chat", "alice",
		`{"message":"and then?","history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	history := deps.chat.lastReq.History
	if len(history) != 2 || history[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected history %+v", history)
	}

	res = doJSON(t, handler, http.MethodPost, "/v1/chat", "alice", `{"message":"fresh","history":[]}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if deps.chat.lastReq.History == nil || len(deps.chat.lastReq.History) != 0 {
		t.Fatalf("explicit empty history must stay non-nil, got %#v", deps.chat.lastReq.History)
	}
}

func TestChatRejectsInvalidPayloads(t *testing.T) {
	cases := map[string]string{
		"missing message": `{"history":[]}`,
		"bad role":        `{"message":"q","history":[{"role":"robot","content":"x"}]}`,
		"malformed json":  `{"message":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res := doJSON(t, newTestHandler(config.Config{}), http.MethodPost, "/v1/chat", "alice", body)
			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
			}
		})
	}
}

func TestChatMapsDomainInvalidInputTo400(t *testing.T) {
	deps := newTestDeps()
	deps.chat.err = domain.WrapError(domain.ErrInvalidInput, "process message", errors.New("message is required"))

	res := doJSON(t, newTestHandlerWith(config.Config{}, deps), http.MethodPost, "/v1/chat", "alice", `{"message":"  "}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	deps := newTestDeps()
	deps.library.err = errors.New("pq: connection refused to 10.0.0.5")

	res := doJSON(t, newTestHandlerWith(config.Config{}, deps), http.MethodGet, "/v1/documents", "alice", "")
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "10.0.0.5") {
		t.Fatalf("internal detail leaked: %s", res.Body.String())
	}
}

func TestChatHistoryReturnsTurns(t *testing.T) {
	deps := newTestDeps()
	deps.chat.history = []domain.ChatTurn{{Role: domain.RoleUser, Content: "q"}, {Role: domain.RoleAssistant, Content: "a"}}

	res := doJSON(t, newTestHandlerWith(config.Config{}, deps), http.MethodGet, "/v1/chat/history", "alice", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var turns []domain.ChatTurn
	if err := json.NewDecoder(res.Body).Decode(&turns); err != nil {
		t.Fatalf("decode response as a turn array: %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "q" || turns[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected history %+v", turns)
	}
}

func TestChatHistoryEmptyIsArray(t *testing.T) {
	res := doJSON(t, newTestHandler(config.Config{}), http.MethodGet, "/v1/chat/history", "alice", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := strings.TrimSpace(res.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}
}

func TestDocumentsAreScopedToCaller(t *testing.T) {
	deps := newTestDeps()
	handler := newTestHandlerWith(config.Config{}, deps)

	res := doJSON(t, handler, http.MethodGet, "/v1/documents", "alice", "")
	var list struct {
		Documents []domain.Document `json:"documents"`
	}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(list.Documents) != 1 || list.Documents[0].ID != "doc-1" {
		t.Fatalf("unexpected documents %+v", list.Documents)
	}

	if res := doJSON(t, handler, http.MethodGet, "/v1/documents/doc-2", "alice", ""); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's document, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodGet, "/v1/documents/doc-1", "alice", ""); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	deps := newTestDeps()
	handler := newTestHandlerWith(config.Config{}, deps)

	if res := doJSON(t, handler, http.MethodDelete, "/v1/documents/doc-1", "alice", ""); res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(deps.library.deleted) != 1 {
		t.Fatalf("expected one deletion, got %v", deps.library.deleted)
	}
	if res := doJSON(t, handler, http.MethodDelete, "/v1/documents/doc-2", "alice", ""); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestUploadDocumentSuccess(t *testing.T) {
	handler := newTestHandler(config.Config{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, multipartRequest(t, "/v1/documents", nil, "paper.txt", "hello"))

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var upload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&upload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if upload["id"] != "up-1" || upload["status"] != string(domain.StatusUploaded) {
		t.Fatalf("unexpected response: %+v", upload)
	}
}

func TestUploadDocumentMissingMultipartField(t *testing.T) {
	handler := newTestHandler(config.Config{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, multipartRequest(t, "/v1/documents", map[string]string{"note": "x"}, "", ""))

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestIngestDocumentAppliesFormPolicy(t *testing.T) {
	deps := newTestDeps()
	handler := newTestHandlerWith(config.Config{ChunkSize: 1000, ChunkOverlap: 200}, deps)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, multipartRequest(t, "/v1/documents/ingest", map[string]string{"chunk_size": "400"}, "notes.md", "# Notes"))

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if deps.ingest.lastPolicy != (domain.ChunkPolicy{TargetSize: 400, Overlap: 200}) {
		t.Fatalf("unexpected policy %+v", deps.ingest.lastPolicy)
	}
	if string(deps.ingest.lastData) != "# Notes" {
		t.Fatalf("unexpected data %q", deps.ingest.lastData)
	}
}

func TestIngestDocumentRejectsBadPolicyField(t *testing.T) {
	handler := newTestHandler(config.Config{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, multipartRequest(t, "/v1/documents/ingest", map[string]string{"chunk_overlap": "lots"}, "notes.md", "x"))

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestIngestDocumentRejectsOverlapNotBelowSize(t *testing.T) {
	deps := newTestDeps()
	handler := newTestHandlerWith(config.Config{ChunkSize: 1000, ChunkOverlap: 200}, deps)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, multipartRequest(t, "/v1/documents/ingest",
		map[string]string{"chunk_size": "100", "chunk_overlap": "200"}, "notes.md", "x"))

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
	}
	if deps.ingest.lastData != nil {
		t.Fatalf("invalid policy must not reach ingestion")
	}
}

func TestIngestDocumentRejectsOversizedFile(t *testing.T) {
	handler := newTestHandler(config.Config{MaxUploadBytes: 4})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, multipartRequest(t, "/v1/documents/ingest", nil, "notes.md", "more than four bytes"))

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetUploadStatus(t *testing.T) {
	handler := newTestHandler(config.Config{})
	if res := doJSON(t, handler, http.MethodGet, "/v1/uploads/up-1", "alice", ""); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res := doJSON(t, handler, http.MethodGet, "/v1/uploads/up-1", "bob", ""); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's upload, got %d", res.Code)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	if res := doJSON(t, newTestHandler(config.Config{}), http.MethodGet, "/v1/nothing", "alice", ""); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		kind error
		want int
	}{
		{domain.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{domain.ErrParseFailure, http.StatusUnprocessableEntity},
		{domain.ErrFileNotFound, http.StatusNotFound},
		{domain.ErrGenerationUnavailable, http.StatusServiceUnavailable},
		{domain.ErrStorageFailure, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(domain.WrapError(tc.kind, "op", errors.New("x"))); got != tc.want {
			t.Fatalf("kind %v: got %d, want %d", tc.kind, got, tc.want)
		}
	}
}
