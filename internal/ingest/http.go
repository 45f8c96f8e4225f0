package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Atif-27/AutoChain/internal/telemetry"
)

// MaxBodyBytes caps the size of a webhook payload.
const MaxBodyBytes = 1 << 20

// WebhookResponse acknowledges a recorded event.
type WebhookResponse struct {
	Message string `json:"message"`
	RunID   string `json:"runId"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the hook endpoints.
type Handler struct {
	writer *Writer
	pinger Pinger
	tracer trace.Tracer
}

// NewHandler creates a handler. pinger may be nil, in which case the health
// check always succeeds.
func NewHandler(w *Writer, pinger Pinger) *Handler {
	return &Handler{writer: w, pinger: pinger, tracer: otel.Tracer(telemetry.TracerName)}
}

// NewRouter mounts the hook routes with request id, logging and panic
// recovery middleware.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/hooks/catch/{userId}/{zapId}", h.CatchHook)
	r.Get("/healthz", h.Health)
	return r
}

// CatchHook records the JSON object body as a run of the zap in the URL.
func (h *Handler) CatchHook(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	zapID := chi.URLParam(r, "zapId")

	ctx, span := h.tracer.Start(r.Context(), "ingest.webhook", trace.WithAttributes(
		attribute.String("zap.id", zapID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	payload, err := decodePayload(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	run, err := h.writer.Ingest(ctx, userID, zapID, payload)
	if errors.Is(err, ErrZapNotFound) {
		span.SetStatus(codes.Error, "zap not found")
		writeError(w, http.StatusNotFound, "zap_not_found", "no such zap for this user")
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.writer.logger.ErrorContext(ctx, "ingest failed", "zap_id", zapID, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "")
		return
	}

	span.SetAttributes(attribute.String("run.id", run.ID))
	writeJSON(w, http.StatusOK, WebhookResponse{Message: "webhook received", RunID: run.ID})
}

// Health pings the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errNotObject = errors.New("body must be a JSON object")

func decodePayload(body io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNotObject
		}
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("body must contain a single JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
