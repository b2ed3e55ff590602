// Package llamacpp implements the inference backend against a running
// llama.cpp server over HTTP. It uses the native endpoints (/completion,
// /tokenize, /health) because they expose token ids and logprobs, which the
// OpenAI-compatible surface does not.
package llamacpp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/infer"
)

// Config wires a Backend to a llama.cpp server instance.
type Config struct {
	// BaseURL of the llama.cpp server, e.g. http://127.0.0.1:8080.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// ConnectTimeout bounds dialing; zero picks a default.
	ConnectTimeout time.Duration
	// Logger for stream-level diagnostics.
	Logger zerolog.Logger
}

// Backend implements infer.Backend and validation.Tokenizer over HTTP.
type Backend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

// New constructs a server-backed Backend. Requests carry context deadlines,
// so the client itself has no overall timeout.
func New(cfg Config) *Backend {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Backend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Transport: tr, Timeout: 0},
		logger:  cfg.Logger,
	}
}

func (b *Backend) Name() string { return "llamacpp" }

// StartHealth is false until the first probe confirms the server is up.
func (b *Backend) StartHealth() bool { return false }

// Health probes GET /health. The current value is unused because the probe is
// cheap either way.
func (b *Backend) Health(ctx context.Context, _ bool) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	b.authorize(req)
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}

// completionRequest is the native llama.cpp /completion payload.
type completionRequest struct {
	Prompt       string   `json:"prompt"`
	NPredict     int      `json:"n_predict"`
	Temperature  float32  `json:"temperature"`
	TopK         int      `json:"top_k,omitempty"`
	TopP         float32  `json:"top_p"`
	Seed         uint64   `json:"seed"`
	Stop         []string `json:"stop,omitempty"`
	NProbs       int      `json:"n_probs,omitempty"`
	ReturnTokens bool     `json:"return_tokens"`
	Stream       bool     `json:"stream"`
}

// completionChunk is one streamed /completion event. The final chunk carries
// Stop=true plus the stop metadata.
type completionChunk struct {
	Content                 string      `json:"content"`
	Tokens                  []uint32    `json:"tokens"`
	CompletionProbabilities []chunkProb `json:"completion_probabilities"`
	Stop                    bool        `json:"stop"`
	StopType                string      `json:"stop_type"`
	StoppingWord            string      `json:"stopping_word"`
	TokensPredicted         uint32      `json:"tokens_predicted"`
}

type chunkProb struct {
	ID          uint32      `json:"id"`
	Token       string      `json:"token"`
	Logprob     float32     `json:"logprob"`
	TopLogprobs []chunkProb `json:"top_logprobs"`
}

// Schedule submits req and streams its events. The POST itself is synchronous;
// a non-2xx status or transport failure is a scheduling error.
func (b *Backend) Schedule(ctx context.Context, req *infer.ValidatedRequest) (<-chan infer.StreamResult, error) {
	payload := completionRequest{
		Prompt:       req.InputText,
		NPredict:     int(req.StoppingParameters.MaxNewTokens),
		Temperature:  req.Parameters.Temperature,
		TopK:         int(req.Parameters.TopK),
		TopP:         req.Parameters.TopP,
		Seed:         req.Parameters.Seed,
		Stop:         req.StoppingParameters.StopSequences,
		NProbs:       int(req.Parameters.TopNTokens),
		ReturnTokens: true,
		Stream:       true,
	}
	if !req.Parameters.DoSample {
		// Greedy decoding: a zero temperature makes llama.cpp pick argmax.
		payload.Temperature = 0
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	b.authorize(httpReq)
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llama.cpp server unreachable: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("llama.cpp server status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	out := make(chan infer.StreamResult)
	go b.stream(ctx, resp.Body, req, out, time.Now())
	return out, nil
}

// stream decodes SSE lines from body into stream events until the final stop
// chunk, a read error or ctx cancellation.
func (b *Backend) stream(ctx context.Context, body io.ReadCloser, req *infer.ValidatedRequest, out chan<- infer.StreamResult, queued time.Time) {
	defer close(out)
	defer body.Close()

	emit := func(res infer.StreamResult) bool {
		select {
		case out <- res:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		text      strings.Builder
		generated uint32
		start     time.Time
	)
	r := bufio.NewReader(body)
	for {
		line, err := r.ReadString('\n')
		if data, ok := sseData(line); ok {
			var chunk completionChunk
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
				b.logger.Warn().Str("line", line).Msg("unparseable stream line")
			} else {
				if start.IsZero() {
					start = time.Now()
				}
				done, sent := b.emitChunk(&chunk, req, emit, &text, &generated, queued, start)
				if done || !sent {
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			emit(infer.StreamResult{Err: fmt.Errorf("llama.cpp stream read: %w", err)})
			return
		}
	}
}

// emitChunk turns one chunk into an Intermediate or End event. It reports
// whether the stream is finished and whether the emit succeeded.
func (b *Backend) emitChunk(chunk *completionChunk, req *infer.ValidatedRequest,
	emit func(infer.StreamResult) bool, text *strings.Builder, generated *uint32,
	queued, start time.Time) (done, sent bool) {

	token, top := chunkToken(chunk)
	if !chunk.Stop {
		if token.Text == "" && len(chunk.Tokens) == 0 {
			return false, true // heartbeat
		}
		text.WriteString(token.Text)
		*generated++
		return false, emit(infer.StreamResult{Event: infer.IntermediateEvent{Token: token, TopTokens: top}})
	}

	text.WriteString(token.Text)
	if token.Text != "" || len(chunk.Tokens) > 0 {
		*generated++
	}
	total := chunk.TokensPredicted
	if total == 0 {
		total = *generated
	}
	seed := req.Parameters.Seed
	end := infer.EndEvent{
		Token:     token,
		TopTokens: top,
		GeneratedText: infer.GeneratedText{
			Text:            text.String(),
			GeneratedTokens: total,
			FinishReason:    finishReason(chunk.StopType),
			Seed:            &seed,
		},
		Queued: queued,
		Start:  start,
	}
	return true, emit(infer.StreamResult{Event: end})
}

func chunkToken(chunk *completionChunk) (infer.Token, []infer.Token) {
	tok := infer.Token{Text: chunk.Content}
	if len(chunk.Tokens) > 0 {
		tok.ID = chunk.Tokens[0]
	}
	var top []infer.Token
	if len(chunk.CompletionProbabilities) > 0 {
		p := chunk.CompletionProbabilities[0]
		tok.Logprob = p.Logprob
		for _, alt := range p.TopLogprobs {
			top = append(top, infer.Token{ID: alt.ID, Text: alt.Token, Logprob: alt.Logprob})
		}
	}
	return tok, top
}

func finishReason(stopType string) infer.FinishReason {
	switch stopType {
	case "limit":
		return infer.FinishReasonLength
	case "eos":
		return infer.FinishReasonEOSToken
	case "word":
		return infer.FinishReasonStopSequence
	default:
		return infer.FinishReasonEOSToken
	}
}

// tokenizeRequest is the native /tokenize payload.
type tokenizeRequest struct {
	Content    string `json:"content"`
	AddSpecial bool   `json:"add_special"`
	WithPieces bool   `json:"with_pieces"`
}

type tokenizeResponse struct {
	Tokens []tokenizePiece `json:"tokens"`
}

type tokenizePiece struct {
	ID    uint32 `json:"id"`
	Piece string `json:"piece"`
}

// Encode tokenizes text via POST /tokenize, satisfying validation.Tokenizer.
// Offsets are reconstructed from the pieces, which llama.cpp returns in
// document order.
func (b *Backend) Encode(ctx context.Context, text string, addSpecialTokens bool) (*infer.Encoding, error) {
	body, err := json.Marshal(tokenizeRequest{Content: text, AddSpecial: addSpecialTokens, WithPieces: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/tokenize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llama.cpp server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llama.cpp tokenize status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var decoded tokenizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("llama.cpp tokenize decode: %w", err)
	}

	enc := &infer.Encoding{}
	offset := uint(0)
	for _, t := range decoded.Tokens {
		enc.IDs = append(enc.IDs, t.ID)
		enc.Tokens = append(enc.Tokens, t.Piece)
		next := offset + uint(len(t.Piece))
		if next > uint(len(text)) {
			next = uint(len(text))
		}
		enc.Offsets = append(enc.Offsets, [2]uint{offset, next})
		offset = next
	}
	return enc, nil
}

func (b *Backend) authorize(req *http.Request) {
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
}

func sseData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	lower := strings.ToLower(line)
	if !strings.HasPrefix(lower, "data:") {
		return "", false
	}
	data := strings.TrimSpace(line[len("data:"):])
	if data == "" || data == "[DONE]" {
		return "", false
	}
	return data, true
}
