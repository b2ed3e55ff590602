// Package validation turns raw generate requests into normalized, bounded
// requests the backend can execute. It owns the tokenizer round-trip, the
// parameter range checks and seed materialization.
package validation

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"inferd/internal/infer"
	"inferd/pkg/types"
)

// Tokenizer counts and splits text into model tokens. The llama.cpp backend
// provides one over its native /tokenize endpoint.
type Tokenizer interface {
	Encode(ctx context.Context, text string, addSpecialTokens bool) (*infer.Encoding, error)
}

// Config bounds every request the validator will accept.
type Config struct {
	// MaxInputTokens is the largest accepted prompt length.
	MaxInputTokens int
	// MaxTotalTokens bounds prompt plus generation for one scheduling hop.
	MaxTotalTokens int
	// MaxBestOf caps the best_of fan-out width.
	MaxBestOf int
	// MaxStopSequences caps the number of stop strings per request.
	MaxStopSequences int
	// MaxTopNTokens caps the per-step top token report width.
	MaxTopNTokens int
	// DefaultMaxNewTokens applies when the request leaves max_new_tokens
	// unset. Clamped to the remaining total-token budget.
	DefaultMaxNewTokens int
}

func (c *Config) setDefaults() {
	if c.MaxInputTokens <= 0 {
		c.MaxInputTokens = 1024
	}
	if c.MaxTotalTokens <= 0 {
		c.MaxTotalTokens = 2048
	}
	if c.MaxBestOf <= 0 {
		c.MaxBestOf = 2
	}
	if c.MaxStopSequences <= 0 {
		c.MaxStopSequences = 4
	}
	if c.MaxTopNTokens <= 0 {
		c.MaxTopNTokens = 5
	}
	if c.DefaultMaxNewTokens <= 0 {
		c.DefaultMaxNewTokens = 100
	}
}

// Validator implements infer.Validator on top of a Tokenizer.
type Validator struct {
	cfg  Config
	tok  Tokenizer
	rand func() uint64
}

// New builds a Validator. Zero or negative Config fields fall back to
// defaults.
func New(cfg Config, tok Tokenizer) *Validator {
	cfg.setDefaults()
	return &Validator{cfg: cfg, tok: tok, rand: rand.Uint64}
}

// Validate normalizes req into a ValidatedRequest or reports the first
// constraint it violates. Errors are returned bare; the caller wraps them.
func (v *Validator) Validate(ctx context.Context, req types.GenerateRequest) (*infer.ValidatedRequest, error) {
	if strings.TrimSpace(req.Inputs) == "" {
		return nil, fmt.Errorf("`inputs` cannot be empty")
	}
	p := req.Parameters

	sampling, err := v.validateSampling(p)
	if err != nil {
		return nil, err
	}

	if p.Truncate != nil && *p.Truncate > v.cfg.MaxInputTokens {
		return nil, fmt.Errorf("`truncate` must be <= %d. Given: %d", v.cfg.MaxInputTokens, *p.Truncate)
	}

	text, enc, err := v.encode(ctx, req.Inputs, req.AddSpecialTokens, p.Truncate)
	if err != nil {
		return nil, err
	}
	inputLength := enc.Len()
	if inputLength > v.cfg.MaxInputTokens {
		return nil, fmt.Errorf("`inputs` tokens + `max_new_tokens` must be <= %d. Given: %d `inputs` tokens",
			v.cfg.MaxTotalTokens, inputLength)
	}

	stopping, err := v.validateStopping(p, inputLength)
	if err != nil {
		return nil, err
	}

	return &infer.ValidatedRequest{
		InputText:           text,
		InputLength:         uint32(inputLength),
		AddSpecialTokens:    req.AddSpecialTokens,
		Truncate:            p.Truncate,
		DecoderInputDetails: p.DecoderInputDetails,
		Parameters:          sampling,
		StoppingParameters:  stopping,
	}, nil
}

func (v *Validator) validateSampling(p types.GenerateParameters) (infer.SamplingParameters, error) {
	out := infer.SamplingParameters{Temperature: 1.0, TopP: 1.0}

	if p.Temperature != nil {
		if *p.Temperature <= 0 {
			return out, fmt.Errorf("`temperature` must be strictly positive")
		}
		out.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		if *p.TopP <= 0 || *p.TopP > 1.0 {
			return out, fmt.Errorf("`top_p` must be > 0.0 and <= 1.0")
		}
		out.TopP = *p.TopP
	}
	if p.TopK != nil {
		if *p.TopK == 0 {
			return out, fmt.Errorf("`top_k` must be strictly positive")
		}
		out.TopK = *p.TopK
	}
	if p.TopNTokens != nil {
		if int(*p.TopNTokens) > v.cfg.MaxTopNTokens {
			return out, fmt.Errorf("`top_n_tokens` must be <= %d. Given: %d", v.cfg.MaxTopNTokens, *p.TopNTokens)
		}
		out.TopNTokens = *p.TopNTokens
	}
	out.DoSample = p.DoSample
	if out.Temperature != 1.0 || out.TopK != 0 || out.TopP != 1.0 {
		out.DoSample = true
	}

	if p.Seed != nil {
		out.Seed = *p.Seed
	} else {
		out.Seed = v.rand()
	}
	return out, nil
}

func (v *Validator) validateStopping(p types.GenerateParameters, inputLength int) (infer.StoppingParameters, error) {
	var out infer.StoppingParameters

	if len(p.Stop) > v.cfg.MaxStopSequences {
		return out, fmt.Errorf("`stop` supports up to %d stop sequences. Given: %d", v.cfg.MaxStopSequences, len(p.Stop))
	}
	out.StopSequences = p.Stop

	budget := v.cfg.MaxTotalTokens - inputLength
	switch {
	case p.MaxNewTokens == nil:
		if budget <= 0 {
			return out, fmt.Errorf("`inputs` tokens + `max_new_tokens` must be <= %d. Given: %d `inputs` tokens",
				v.cfg.MaxTotalTokens, inputLength)
		}
		out.MaxNewTokens = uint32(min(v.cfg.DefaultMaxNewTokens, budget))
	case *p.MaxNewTokens == 0:
		return out, fmt.Errorf("`max_new_tokens` must be strictly positive")
	case int(*p.MaxNewTokens) > budget:
		return out, fmt.Errorf("`inputs` tokens + `max_new_tokens` must be <= %d. Given: %d `inputs` tokens and %d `max_new_tokens`",
			v.cfg.MaxTotalTokens, inputLength, *p.MaxNewTokens)
	default:
		out.MaxNewTokens = *p.MaxNewTokens
	}

	switch {
	case p.MaxTotalNewTokens == nil:
		out.MaxTotalNewTokens = out.MaxNewTokens
	case *p.MaxTotalNewTokens < out.MaxNewTokens:
		return out, fmt.Errorf("`max_total_new_tokens` must be >= `max_new_tokens`. Given: %d and %d",
			*p.MaxTotalNewTokens, out.MaxNewTokens)
	default:
		out.MaxTotalNewTokens = *p.MaxTotalNewTokens
	}
	return out, nil
}

// encode tokenizes text, applying truncation from the left so the tail of the
// prompt survives. Truncation needs offsets from the tokenizer; without them
// an over-long input is an error instead.
func (v *Validator) encode(ctx context.Context, text string, addSpecialTokens bool, truncate *int) (string, *infer.Encoding, error) {
	enc, err := v.tok.Encode(ctx, text, addSpecialTokens)
	if err != nil {
		return "", nil, fmt.Errorf("tokenization failed: %w", err)
	}
	if truncate == nil || enc.Len() <= *truncate {
		return text, enc, nil
	}
	drop := enc.Len() - *truncate
	if len(enc.Offsets) != enc.Len() {
		return "", nil, fmt.Errorf("`truncate` requires tokenizer offsets; input has %d tokens, limit is %d", enc.Len(), *truncate)
	}
	cut := enc.Offsets[drop][0]
	if int(cut) > len(text) {
		return "", nil, fmt.Errorf("tokenizer offsets out of range")
	}
	text = text[cut:]
	enc, err = v.tok.Encode(ctx, text, addSpecialTokens)
	if err != nil {
		return "", nil, fmt.Errorf("tokenization failed: %w", err)
	}
	return text, enc, nil
}

// Tokenize exposes the raw tokenizer, with the same left truncation applied.
func (v *Validator) Tokenize(ctx context.Context, text string, addSpecialTokens bool, truncate *int) (*infer.Encoding, error) {
	_, enc, err := v.encode(ctx, text, addSpecialTokens, truncate)
	return enc, err
}

// ValidateBestOf checks the fan-out width against the configured cap.
func (v *Validator) ValidateBestOf(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("`best_of` must be strictly positive. Given: %d", n)
	}
	if n > v.cfg.MaxBestOf {
		return 0, fmt.Errorf("`best_of` must be <= %d. Given: %d", v.cfg.MaxBestOf, n)
	}
	return n, nil
}
