package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/jsonapi-atomic/internal/engine"
	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/mediatype"
	"github.com/roach88/jsonapi-atomic/internal/metrics"
)

// RouteOperations names the operations route in the request context.
const RouteOperations = "operations"

// DefaultMaxBodyBytes caps request bodies unless configured otherwise.
const DefaultMaxBodyBytes = 1 << 20

// Handler serves the HTTP routes.
//
// Thread-safety: Handler is safe for concurrent use; every request runs
// its own batch.
type Handler struct {
	processor *engine.Processor
	guard     *mediatype.Guard
	basePath  string
	maxBody   int64
	metrics   *metrics.Metrics
	health    func(context.Context) error
	attrHdr   string
	mux       *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithBasePath mounts the operations route under path.
func WithBasePath(path string) Option {
	return func(h *Handler) {
		h.basePath = strings.TrimRight(path, "/")
	}
}

// WithMaxBodyBytes caps request bodies. Default: 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// WithMetrics records requests and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithHealthCheck makes GET /healthz run check.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(h *Handler) {
		h.health = check
	}
}

// WithAttributeHeader makes the value of the named request header the
// channel attribute used for media type negotiation.
func WithAttributeHeader(name string) Option {
	return func(h *Handler) {
		h.attrHdr = name
	}
}

// NewHandler creates the HTTP handler.
func NewHandler(p *engine.Processor, guard *mediatype.Guard, opts ...Option) *Handler {
	h := &Handler{
		processor: p,
		guard:     guard,
		maxBody:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST "+h.basePath+"/operations", h.handleOperations)
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics.Handler())
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleOperations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := mediatype.WithRoute(r.Context(), RouteOperations)
	if h.attrHdr != "" {
		if attr := r.Header.Get(h.attrHdr); attr != "" {
			ctx = mediatype.WithAttribute(ctx, attr)
		}
	}
	r = r.WithContext(ctx)

	status, err := h.operations(w, r)
	elapsed := time.Since(start)
	h.metrics.ObserveRequest(status, elapsed)

	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"elapsed", elapsed,
	}
	switch {
	case status >= http.StatusInternalServerError:
		slog.Error("operations request failed", append(attrs, "error", err)...)
	case err != nil:
		slog.Info("operations request rejected", append(attrs, "error", err)...)
	default:
		slog.Info("operations request", attrs...)
	}
}

// operations runs one batch and writes the response. It returns the status
// written and the error behind a failure status.
func (h *Handler) operations(w http.ResponseWriter, r *http.Request) (int, error) {
	if err := h.guard.Check(r); err != nil {
		return h.writeError(w, err), err
	}

	fields, err := ir.ParseFieldsets(r.URL.Query())
	if err != nil {
		err = &parameterError{parameter: "fields", err: err}
		return h.writeError(w, err), err
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		err = &bodyError{err: err}
		return h.writeError(w, err), err
	}

	resp, err := h.processor.Process(r.Context(), body, fields)
	if err != nil {
		return h.writeError(w, err), err
	}

	w.Header().Set("Content-Type", ir.AtomicMediaType)
	if resp.AllEmpty {
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent, nil
	}
	return h.writeJSON(w, http.StatusOK, resp.Document), nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) int {
	status, doc := ErrorDocument(err)
	return h.writeJSON(w, status, doc)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", ir.AtomicMediaType)
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("write response", "error", err)
	}
	return status
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}
