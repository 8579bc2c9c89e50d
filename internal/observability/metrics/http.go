package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	ragRetrievedChunks    *prometheus.HistogramVec
	ragRetrievalHitTotal  *prometheus.CounterVec
	ragNoContextTotal     *prometheus.CounterVec
	ragDegradedTotal      *prometheus.CounterVec
	llmGenerationDuration *prometheus.HistogramVec
	llmGenerationFailures *prometheus.CounterVec
	rateLimitedTotal      *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "research",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "research",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ragRetrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "research",
			Subsystem: "rag",
			Name:      "retrieved_chunks",
			Help:      "Distribution of retrieved chunks per chat request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	ragRetrievalHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "rag",
			Name:      "retrieval_hit_total",
			Help:      "Chat requests with at least one retrieved chunk.",
		},
		[]string{"service"},
	)
	ragNoContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "rag",
			Name:      "no_context_total",
			Help:      "Chat requests answered without retrieved chunks.",
		},
		[]string{"service"},
	)
	ragDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "rag",
			Name:      "degraded_retrievals_total",
			Help:      "Chat requests whose retrieval failed and fell back to an empty context.",
		},
		[]string{"service"},
	)
	llmGenerationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "research",
			Subsystem: "llm",
			Name:      "generation_duration_seconds",
			Help:      "Answer generation duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		},
		[]string{"service", "status"},
	)
	llmGenerationFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "llm",
			Name:      "generation_failures_total",
			Help:      "Generation attempts that ended with the apology reply.",
		},
		[]string{"service"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by traffic control.",
		},
		[]string{"service", "reason"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		ragRetrievedChunks,
		ragRetrievalHitTotal,
		ragNoContextTotal,
		ragDegradedTotal,
		llmGenerationDuration,
		llmGenerationFailures,
		rateLimitedTotal,
	)

	return &HTTPServerMetrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		ragRetrievedChunks:    ragRetrievedChunks,
		ragRetrievalHitTotal:  ragRetrievalHitTotal,
		ragNoContextTotal:     ragNoContextTotal,
		ragDegradedTotal:      ragDegradedTotal,
		llmGenerationDuration: llmGenerationDuration,
		llmGenerationFailures: llmGenerationFailures,
		rateLimitedTotal:      rateLimitedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath folds resource IDs so label cardinality stays bounded.
func normalizePath(path string) string {
	switch {
	case path == "/v1/documents/ingest":
		return path
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	case strings.HasPrefix(path, "/v1/uploads/"):
		return "/v1/uploads/{upload_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordRateLimited(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.rateLimitedTotal.WithLabelValues(service, reason).Inc()
}

// ChatObserver binds the RAG series to one service label.
func (m *HTTPServerMetrics) ChatObserver(service string) *ChatObserver {
	return &ChatObserver{metrics: m, service: service}
}

type ChatObserver struct {
	metrics *HTTPServerMetrics
	service string
}

func (o *ChatObserver) ObserveRetrieval(chunks int, degraded bool) {
	m := o.metrics
	m.ragRetrievedChunks.WithLabelValues(o.service).Observe(float64(chunks))
	if degraded {
		m.ragDegradedTotal.WithLabelValues(o.service).Inc()
	}
	if chunks > 0 {
		m.ragRetrievalHitTotal.WithLabelValues(o.service).Inc()
		return
	}
	m.ragNoContextTotal.WithLabelValues(o.service).Inc()
}

func (o *ChatObserver) ObserveGeneration(elapsed time.Duration, failed bool) {
	status := "success"
	if failed {
		status = "error"
		o.metrics.llmGenerationFailures.WithLabelValues(o.service).Inc()
	}
	o.metrics.llmGenerationDuration.WithLabelValues(o.service, status).Observe(elapsed.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
