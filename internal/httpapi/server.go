// Package httpapi exposes the inference core over HTTP: JSON generation,
// SSE streaming, tokenization, chat templating, health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inferd/internal/infer"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, req types.GenerateRequest) (*infer.InferResponse, error)
	GenerateBestOf(ctx context.Context, req types.GenerateRequest, bestOf int) (*infer.InferResponse, []*infer.InferResponse, error)
	GenerateStream(ctx context.Context, req types.GenerateRequest) (*infer.Permit, uint32, *infer.EventStream, error)
	Tokenize(ctx context.Context, req types.TokenizeRequest) (*infer.Encoding, error)
	ApplyChatTemplate(messages []types.Message, tools []types.Tool, toolPrompt string) (string, error)
	Health(ctx context.Context) bool
	BackendName() string
}

// Options tune the HTTP layer. The zero value is usable.
type Options struct {
	Logger zerolog.Logger
	// MaxBodyBytes limits JSON request bodies; <=0 means 1 MiB.
	MaxBodyBytes int64
	// CORSAllowedOrigins enables CORS when non-empty.
	CORSAllowedOrigins []string
	// Version is reported by GET /info.
	Version string
	// ToolPrompt is the default prompt appended with tool definitions.
	ToolPrompt string
}

type server struct {
	svc  Service
	opts Options
}

// NewMux builds the router with middleware and all routes mounted.
func NewMux(svc Service, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	s := &server{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(RequestLogger(opts.Logger))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Post("/generate", s.handleGenerate)
	r.Post("/generate_stream", s.handleGenerateStream)
	r.Post("/tokenize", s.handleTokenize)
	r.Post("/chat_template", s.handleChatTemplate)
	r.Get("/health", s.handleHealth)
	r.Get("/info", s.handleInfo)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

// decodeJSON enforces the content type and body limit shared by all JSON
// endpoints.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleGenerate godoc
// @Summary      Generate text
// @Description  Runs a full generation and returns the aggregated result.
// @Accept       json
// @Produce      json
// @Param        request body types.GenerateRequest true "generation request"
// @Success      200 {object} GenerateResponse
// @Failure      422 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Router       /generate [post]
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	var (
		best *infer.InferResponse
		rest []*infer.InferResponse
		err  error
	)
	if n := bestOfWidth(req); n > 1 {
		best, rest, err = s.svc.GenerateBestOf(r.Context(), req, n)
	} else {
		best, err = s.svc.Generate(r.Context(), req)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if encodeErr := json.NewEncoder(w).Encode(toGenerateResponse(req, best, rest)); encodeErr != nil {
		s.opts.Logger.Error().Err(encodeErr).Msg("encode generate response")
	}
}

// handleGenerateStream godoc
// @Summary      Generate text as a stream
// @Description  Streams tokens as Server-Sent Events. Failures after the
// @Description  stream has started are delivered as SSE error payloads.
// @Accept       json
// @Produce      text/event-stream
// @Param        request body types.GenerateRequest true "generation request"
// @Success      200 {object} StreamResponse
// @Failure      422 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Router       /generate_stream [post]
func (s *server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if n := bestOfWidth(req); n > 1 {
		writeError(w, &infer.ValidationError{Cause: errBestOfStream})
		return
	}

	permit, inputLength, stream, err := s.svc.GenerateStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()
	defer permit.Release()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	sawEnd := false
	for res := range stream.Events() {
		if res.Err != nil {
			s.writeSSE(w, flusher, infer.MarshalErrorEvent(res.Err))
			return
		}
		payload, send, marshalErr := marshalStreamEvent(res.Event, req.Parameters, inputLength)
		if marshalErr != nil {
			s.writeSSE(w, flusher, infer.MarshalErrorEvent(&infer.StreamSerializationError{Msg: marshalErr.Error()}))
			return
		}
		if !send {
			continue
		}
		if _, ok := res.Event.(infer.EndEvent); ok {
			sawEnd = true
		}
		s.writeSSE(w, flusher, payload)
	}
	if !sawEnd && r.Context().Err() == nil {
		s.writeSSE(w, flusher, infer.MarshalErrorEvent(&infer.IncompleteGenerationStreamError{}))
	}
}

func (s *server) writeSSE(w http.ResponseWriter, flusher http.Flusher, payload []byte) {
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

// handleTokenize godoc
// @Summary      Tokenize text
// @Accept       json
// @Produce      json
// @Param        request body types.TokenizeRequest true "tokenize request"
// @Success      200 {array} TokenizeToken
// @Failure      422 {object} types.ErrorResponse
// @Router       /tokenize [post]
func (s *server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req types.TokenizeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	enc, err := s.svc.Tokenize(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTokenizeResponse(enc))
}

// handleChatTemplate godoc
// @Summary      Render the chat template
// @Accept       json
// @Produce      json
// @Param        request body types.ChatTemplateRequest true "chat template request"
// @Success      200 {object} ChatTemplateResponse
// @Failure      422 {object} types.ErrorResponse
// @Router       /chat_template [post]
func (s *server) handleChatTemplate(w http.ResponseWriter, r *http.Request) {
	var req types.ChatTemplateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	toolPrompt := req.ToolPrompt
	if toolPrompt == "" {
		toolPrompt = s.opts.ToolPrompt
	}
	prompt, err := s.svc.ApplyChatTemplate(req.Messages, req.Tools, toolPrompt)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ChatTemplateResponse{Prompt: prompt})
}

// handleHealth godoc
// @Summary      Backend health
// @Produce      plain
// @Success      200 {string} string "ok"
// @Failure      503 {string} string "unhealthy"
// @Router       /health [get]
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if s.svc.Health(ctx) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("unhealthy"))
}

// handleInfo godoc
// @Summary      Service info
// @Produce      json
// @Success      200 {object} InfoResponse
// @Router       /info [get]
func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(InfoResponse{
		Backend: s.svc.BackendName(),
		Version: s.opts.Version,
	})
}

func bestOfWidth(req types.GenerateRequest) int {
	if req.Parameters.BestOf == nil {
		return 1
	}
	return *req.Parameters.BestOf
}
