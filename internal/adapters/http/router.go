package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/observability/metrics"
)

const (
	serviceName      = "api"
	maxJSONBodyBytes = 1 << 20
	backpressureWait = 250 * time.Millisecond
	healthTimeout    = 2 * time.Second
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck = func(ctx context.Context) error

type Services struct {
	Chat    ports.ChatService
	Ingest  ports.DocumentIngestor
	Library ports.DocumentLibrary
	Uploads ports.UploadService
	Metrics *metrics.HTTPServerMetrics
	Health  map[string]HealthCheck
}

type Router struct {
	cfg config.Config
	svc Services
}

func NewRouter(cfg config.Config, svc Services) *Router {
	return &Router{cfg: cfg, svc: svc}
}

// Handler assembles the middleware chain. It panics if the embedded OpenAPI
// document is invalid, which is a build defect.
func (rt *Router) Handler() http.Handler {
	apiRouter, err := loadAPIRouter()
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /v1", rt.apiInfo)
	mux.HandleFunc("POST /v1/chat", rt.chat)
	mux.HandleFunc("GET /v1/chat/history", rt.chatHistory)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("POST /v1/documents/ingest", rt.ingestDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}", rt.getDocument)
	mux.HandleFunc("DELETE /v1/documents/{document_id}", rt.deleteDocument)
	mux.HandleFunc("GET /v1/uploads/{upload_id}", rt.getUpload)
	if rt.svc.Metrics != nil {
		mux.Handle("GET /metrics", rt.svc.Metrics.Handler())
	}

	var onReject func(string)
	if rt.svc.Metrics != nil {
		onReject = func(reason string) { rt.svc.Metrics.RecordRateLimited(serviceName, reason) }
	}

	var handler http.Handler = mux
	handler = requestValidationMiddleware(apiRouter, handler)
	handler = bodyLimitMiddleware(handler)
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, newUserRateLimiter(rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst), onReject)
	}
	handler = userMiddleware(handler)
	handler = backpressureMiddlewareWithHook(handler, rt.cfg.MaxInFlight, backpressureWait, onReject)
	if rt.svc.Metrics != nil {
		handler = rt.svc.Metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

// bodyLimitMiddleware caps JSON bodies before validation buffers them.
// Multipart uploads are capped by the upload handlers.
func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && !isMultipart(r) {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range rt.svc.Health {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) apiInfo(w http.ResponseWriter, _ *http.Request) {
	endpoints := []string{
		"POST /v1/chat",
		"GET /v1/chat/history",
		"GET /v1/documents",
		"POST /v1/documents",
		"POST /v1/documents/ingest",
		"GET /v1/documents/{document_id}",
		"DELETE /v1/documents/{document_id}",
		"GET /v1/uploads/{upload_id}",
	}
	sort.Strings(endpoints)
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "research-assistant",
		"version":   "1.0.0",
		"endpoints": endpoints,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
