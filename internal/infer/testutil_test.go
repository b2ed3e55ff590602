package infer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/energy"
	"inferd/pkg/types"
)

// scriptedBackend replays one scripted event segment per Schedule call,
// honoring context cancellation like a real subscription.
type scriptedBackend struct {
	mu           sync.Mutex
	segments     [][]StreamResult
	scheduleErrs []error
	scheduled    []*ValidatedRequest
	healthFn     func(current bool) bool
	startHealth  bool
}

func (b *scriptedBackend) Schedule(ctx context.Context, req *ValidatedRequest) (<-chan StreamResult, error) {
	b.mu.Lock()
	b.scheduled = append(b.scheduled, req)
	if len(b.scheduleErrs) > 0 {
		err := b.scheduleErrs[0]
		b.scheduleErrs = b.scheduleErrs[1:]
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
	}
	if len(b.segments) == 0 {
		b.mu.Unlock()
		return nil, errors.New("no scripted segment left")
	}
	seg := b.segments[0]
	b.segments = b.segments[1:]
	b.mu.Unlock()

	ch := make(chan StreamResult)
	go func() {
		defer close(ch)
		for _, r := range seg {
			select {
			case ch <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (b *scriptedBackend) Health(ctx context.Context, current bool) bool {
	if b.healthFn != nil {
		return b.healthFn(current)
	}
	return current
}

func (b *scriptedBackend) StartHealth() bool { return b.startHealth }

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) scheduledRequests() []*ValidatedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ValidatedRequest, len(b.scheduled))
	copy(out, b.scheduled)
	return out
}

// fakeValidator counts tokens as whitespace-separated words and materializes
// a fixed seed when the request leaves it unset.
type fakeValidator struct {
	mu         sync.Mutex
	calls      []types.GenerateRequest
	failOnCall int // 1-based call index that fails; 0 = never
	seed       uint64
	bestOfErr  error
}

func (v *fakeValidator) Validate(ctx context.Context, req types.GenerateRequest) (*ValidatedRequest, error) {
	v.mu.Lock()
	v.calls = append(v.calls, req.Clone())
	n := len(v.calls)
	v.mu.Unlock()
	if v.failOnCall != 0 && n >= v.failOnCall {
		return nil, errors.New("input too long")
	}

	seed := v.seed
	if req.Parameters.Seed != nil {
		seed = *req.Parameters.Seed
	}
	var maxNew, maxTotal uint32 = 10, 10
	if req.Parameters.MaxNewTokens != nil {
		maxNew = *req.Parameters.MaxNewTokens
	}
	if req.Parameters.MaxTotalNewTokens != nil {
		maxTotal = *req.Parameters.MaxTotalNewTokens
	} else {
		maxTotal = maxNew
	}
	var topN uint32
	if req.Parameters.TopNTokens != nil {
		topN = *req.Parameters.TopNTokens
	}
	return &ValidatedRequest{
		InputText:        req.Inputs,
		InputLength:      uint32(len(req.Inputs)),
		AddSpecialTokens: req.AddSpecialTokens,
		Parameters:       SamplingParameters{Seed: seed, TopNTokens: topN},
		StoppingParameters: StoppingParameters{
			MaxNewTokens:      maxNew,
			MaxTotalNewTokens: maxTotal,
		},
	}, nil
}

func (v *fakeValidator) Tokenize(ctx context.Context, text string, addSpecialTokens bool, truncate *int) (*Encoding, error) {
	ids := make([]uint32, 0, len(text))
	toks := make([]string, 0, len(text))
	for i, r := range []rune(text) {
		ids = append(ids, uint32(i))
		toks = append(toks, string(r))
	}
	return &Encoding{IDs: ids, Tokens: toks}, nil
}

func (v *fakeValidator) ValidateBestOf(n int) (int, error) {
	if v.bestOfErr != nil {
		return 0, v.bestOfErr
	}
	if n < 1 {
		return 0, errors.New("best_of must be >= 1")
	}
	return n, nil
}

func (v *fakeValidator) validateCalls() []types.GenerateRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]types.GenerateRequest, len(v.calls))
	copy(out, v.calls)
	return out
}

var (
	testQueued = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testStart  = testQueued.Add(5 * time.Millisecond)
)

func genToken(id uint32, text string, logprob float32) Token {
	return Token{ID: id, Text: text, Logprob: logprob}
}

func intermediateOf(id uint32, text string) StreamResult {
	return StreamResult{Event: IntermediateEvent{Token: genToken(id, text, -0.1)}}
}

func endOf(id uint32, text, segment string, reason FinishReason, generated uint32) StreamResult {
	return StreamResult{Event: EndEvent{
		Token: genToken(id, text, -0.2),
		GeneratedText: GeneratedText{
			Text:            segment,
			GeneratedTokens: generated,
			FinishReason:    reason,
		},
		Start:  testStart,
		Queued: testQueued,
	}}
}

type coreOpts struct {
	capacity int
	meter    []uint64
	template ChatTemplateRenderer
}

// newTestCore wires an Infer around scripted collaborators.
func newTestCore(backend *scriptedBackend, validator *fakeValidator, opts coreOpts) *Infer {
	if opts.capacity == 0 {
		opts.capacity = 2
	}
	if len(opts.meter) == 0 {
		opts.meter = []uint64{1000, 1010, 1025, 1045, 1070, 1100, 1135, 1175, 1220, 1270}
	}
	return New(backend, validator, energy.NewScripted(opts.meter...), Config{
		MaxConcurrentRequests: opts.capacity,
		ChatTemplate:          opts.template,
		Logger:                zerolog.Nop(),
	})
}
