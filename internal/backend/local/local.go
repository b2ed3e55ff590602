//go:build llama

// Package local runs inference in-process through go-llama.cpp. It is
// compiled only with the 'llama' build tag; default builds get the stub in
// local_stub.go and stay CGO-free.
package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"inferd/internal/infer"
)

// Built indicates this binary carries real llama support.
const Built = true

// Config describes the model to load.
type Config struct {
	ModelPath   string
	ContextSize int
	Threads     int
	Logger      zerolog.Logger
}

// Backend implements infer.Backend over an in-process llama.cpp model. The
// model handle is single-threaded, so requests serialize on mu.
type Backend struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
	logger  zerolog.Logger
}

// New loads the model eagerly so scheduling never pays the load cost.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	ctxSize := cfg.ContextSize
	if ctxSize <= 0 {
		ctxSize = 2048
	}
	m, err := llama.New(cfg.ModelPath, llama.SetContext(ctxSize))
	if err != nil {
		return nil, err
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = 4
	}
	return &Backend{model: m, threads: threads, logger: cfg.Logger}, nil
}

func (b *Backend) Name() string { return "llamacpp-local" }

// StartHealth is true because New loads the model before serving.
func (b *Backend) StartHealth() bool { return true }

// Health reports whether the model handle is live. There is no server to
// probe, so current passes through once the handle is gone.
func (b *Backend) Health(_ context.Context, current bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model == nil {
		return false
	}
	_ = current
	return true
}

// Close frees the model. The backend is unusable afterwards.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model != nil {
		b.model.Free()
		b.model = nil
	}
	return nil
}

// Schedule runs the prediction on a dedicated goroutine, streaming one
// IntermediateEvent per emitted token. go-llama.cpp only surfaces token text,
// so ids and logprobs are zero.
func (b *Backend) Schedule(ctx context.Context, req *infer.ValidatedRequest) (<-chan infer.StreamResult, error) {
	b.mu.Lock()
	if b.model == nil {
		b.mu.Unlock()
		return nil, errors.New("llama model not initialized")
	}
	queued := time.Now()
	out := make(chan infer.StreamResult)
	go func() {
		defer b.mu.Unlock()
		defer close(out)

		emit := func(res infer.StreamResult) bool {
			select {
			case out <- res:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// One token is buffered so the last one can ride on the EndEvent
		// instead of an IntermediateEvent.
		var (
			text      strings.Builder
			generated uint32
			start     time.Time
			stopped   bool
			pending   string
			buffered  bool
		)
		b.model.SetTokenCallback(func(tok string) bool {
			select {
			case <-ctx.Done():
				stopped = true
				return false
			default:
			}
			if start.IsZero() {
				start = time.Now()
			}
			text.WriteString(tok)
			generated++
			if buffered {
				if !emit(infer.StreamResult{Event: infer.IntermediateEvent{Token: infer.Token{Text: pending}}}) {
					stopped = true
					return false
				}
			}
			pending, buffered = tok, true
			return true
		})

		_, err := b.model.Predict(req.InputText, predictOptions(req, b.threads)...)
		if stopped || ctx.Err() != nil {
			return
		}
		if err != nil {
			emit(infer.StreamResult{Err: err})
			return
		}
		if start.IsZero() {
			start = time.Now()
		}
		reason := infer.FinishReasonEOSToken
		if generated >= req.StoppingParameters.MaxNewTokens {
			reason = infer.FinishReasonLength
		} else if len(req.StoppingParameters.StopSequences) > 0 && endsWithAny(text.String(), req.StoppingParameters.StopSequences) {
			reason = infer.FinishReasonStopSequence
		}
		seed := req.Parameters.Seed
		var final infer.Token
		if buffered {
			final = infer.Token{Text: pending}
		}
		emit(infer.StreamResult{Event: infer.EndEvent{
			Token: final,
			GeneratedText: infer.GeneratedText{
				Text:            text.String(),
				GeneratedTokens: generated,
				FinishReason:    reason,
				Seed:            &seed,
			},
			Queued: queued,
			Start:  start,
		}})
	}()
	return out, nil
}

// Encode tokenizes through the loaded model, satisfying validation.Tokenizer.
// Pieces and offsets are not available through this binding.
func (b *Backend) Encode(_ context.Context, text string, _ bool) (*infer.Encoding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	_, ids, err := b.model.TokenizeString(text)
	if err != nil {
		return nil, err
	}
	enc := &infer.Encoding{}
	for _, id := range ids {
		enc.IDs = append(enc.IDs, uint32(id))
		enc.Tokens = append(enc.Tokens, "")
	}
	return enc, nil
}

func predictOptions(req *infer.ValidatedRequest, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(int(req.StoppingParameters.MaxNewTokens)),
		llama.SetThreads(threads),
		llama.SetSeed(int(req.Parameters.Seed)),
	}
	if req.Parameters.DoSample {
		po = append(po,
			llama.SetTemperature(req.Parameters.Temperature),
			llama.SetTopP(req.Parameters.TopP),
		)
		if req.Parameters.TopK > 0 {
			po = append(po, llama.SetTopK(int(req.Parameters.TopK)))
		}
	} else {
		po = append(po, llama.SetTemperature(0))
	}
	if len(req.StoppingParameters.StopSequences) > 0 {
		po = append(po, llama.SetStopWords(req.StoppingParameters.StopSequences...))
	}
	return po
}

func endsWithAny(s string, seqs []string) bool {
	for _, seq := range seqs {
		if seq != "" && strings.HasSuffix(strings.TrimRight(s, " \n"), strings.TrimRight(seq, " \n")) {
			return true
		}
	}
	return false
}
