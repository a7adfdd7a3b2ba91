package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/chatrelay/internal/chat"
	"github.com/kalambet/chatrelay/internal/metrics"
	"github.com/kalambet/chatrelay/internal/models"
	"github.com/kalambet/chatrelay/internal/relay"
	"github.com/kalambet/chatrelay/internal/upstream"
)

const maxRequestBodySize = 1 << 20 // 1MB

// LivenessText is the body served on GET /.
const LivenessText = "AI backend is running"

// Deps holds everything the handlers need. All fields except Metrics are
// required; the values are shared read-only across requests.
type Deps struct {
	Models       *models.Registry
	Provider     upstream.Provider
	Instruction  string
	Generation   upstream.Generation
	DefaultModel string
	Metrics      *metrics.Collector
	// CORSPermissive answers cross-origin requests from any origin.
	CORSPermissive bool
}

// Gateway validates chat requests and relays the upstream answer.
type Gateway struct {
	deps      Deps
	validator *chat.Validator
}

func NewGateway(deps Deps) *Gateway {
	if deps.Models == nil {
		deps.Models = models.Empty()
	}
	return &Gateway{deps: deps, validator: chat.NewValidator(deps.Models)}
}

// Validate checks raw and counts rejections.
func (g *Gateway) Validate(raw []byte) (chat.Request, error) {
	req, err := g.validator.Validate(raw)
	if err != nil {
		var verr *chat.ValidationError
		if errors.As(err, &verr) {
			g.deps.Metrics.RecordValidationFailure(string(verr.Reason))
		}
		return chat.Request{}, err
	}
	return req, nil
}

// Relay opens the upstream stream for a validated request and writes every
// fragment to sink. The provider is called exactly once.
func (g *Gateway) Relay(ctx context.Context, req chat.Request, sink relay.Sink) relay.Outcome {
	model := req.ModelID
	if model == "" {
		model = g.deps.DefaultModel
	}
	provider := g.deps.Provider.Name()

	done := g.deps.Metrics.StreamStarted(provider)
	start := time.Now()

	stream, err := g.deps.Provider.Open(ctx, upstream.Request{
		APIKey:     req.APIKey,
		Model:      model,
		Messages:   chat.Translate(req, g.deps.Instruction),
		Generation: g.deps.Generation,
	})
	out := relay.Run(ctx, stream, err, sink)

	outcome, category := metrics.OutcomeSuccess, ""
	switch {
	case out.Failure != nil:
		outcome, category = metrics.OutcomeUpstreamError, string(out.Failure.Category)
	case out.Disconnected:
		outcome = metrics.OutcomeDisconnected
	}
	done(outcome, out.Fragments, category)

	slog.InfoContext(ctx, "chat stream finished",
		"request_id", chimiddleware.GetReqID(ctx),
		"provider", provider,
		"model", model,
		"history", len(req.History),
		"fragments", out.Fragments,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// NewHandler returns the gateway's HTTP API.
func NewHandler(deps Deps) http.Handler {
	g := NewGateway(deps)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestID)
	r.Use(chimiddleware.Recoverer)
	if deps.CORSPermissive {
		r.Use(permissiveCORS)
	}
	r.MethodNotAllowed(handleMethodNotAllowed)

	r.Get("/", handleLiveness)
	r.Post("/chat", g.handleChat)
	if g.deps.Models.Selectable() {
		r.Get("/models", handleModels(g.deps.Models))
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	return r
}

func handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, LivenessText)
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Incorrect request method"})
}

type modelList struct {
	Models []models.Descriptor `json:"models"`
}

func handleModels(reg *models.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, modelList{Models: reg.All()})
	}
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			httpError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds %d bytes", mbe.Limit)
			return
		}
		httpError(w, http.StatusBadRequest, string(chat.ReasonMalformedBody), "reading request body: %v", err)
		return
	}

	req, err := g.Validate(raw)
	if err != nil {
		code := string(chat.ReasonMalformedBody)
		var verr *chat.ValidationError
		if errors.As(err, &verr) {
			code = string(verr.Reason)
		}
		slog.DebugContext(r.Context(), "chat request rejected",
			"request_id", chimiddleware.GetReqID(r.Context()),
			"code", code,
		)
		httpError(w, http.StatusBadRequest, code, "%s", err.Error())
		return
	}

	sink := relay.NewHTTPSink(w)
	if err := sink.Start(); err != nil {
		slog.WarnContext(r.Context(), "could not start stream", "error", err)
		return
	}
	g.Relay(r.Context(), req, sink)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errCode string, format string, args ...any) {
	writeJSON(w, code, map[string]string{
		"error": fmt.Sprintf(format, args...),
		"code":  errCode,
	})
}
