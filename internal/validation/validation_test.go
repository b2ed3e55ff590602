package validation

import (
	"context"
	"strings"
	"testing"

	"inferd/internal/infer"
	"inferd/pkg/types"
)

// runeTokenizer treats every rune as one token and reports byte offsets, which
// is enough to exercise counting and truncation.
type runeTokenizer struct{}

func (runeTokenizer) Encode(_ context.Context, text string, _ bool) (*infer.Encoding, error) {
	enc := &infer.Encoding{}
	for i, r := range text {
		enc.IDs = append(enc.IDs, uint32(r))
		enc.Tokens = append(enc.Tokens, string(r))
		enc.Offsets = append(enc.Offsets, [2]uint{uint(i), uint(i + len(string(r)))})
	}
	return enc, nil
}

func newValidator(cfg Config) *Validator {
	v := New(cfg, runeTokenizer{})
	v.rand = func() uint64 { return 7 }
	return v
}

func uptr[T any](v T) *T { return &v }

func TestValidateDefaults(t *testing.T) {
	v := newValidator(Config{MaxInputTokens: 10, MaxTotalTokens: 20})
	got, err := v.Validate(context.Background(), types.GenerateRequest{Inputs: "hello"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.InputLength != 5 {
		t.Fatalf("expected 5 input tokens, got %d", got.InputLength)
	}
	if got.Parameters.Temperature != 1.0 || got.Parameters.TopP != 1.0 || got.Parameters.DoSample {
		t.Fatalf("unexpected sampling defaults: %+v", got.Parameters)
	}
	if got.Parameters.Seed != 7 {
		t.Fatalf("an omitted seed must be materialized, got %d", got.Parameters.Seed)
	}
	// Default budget is total minus input.
	if got.StoppingParameters.MaxNewTokens != 15 {
		t.Fatalf("expected max_new_tokens 15, got %d", got.StoppingParameters.MaxNewTokens)
	}
	if got.StoppingParameters.MaxTotalNewTokens != got.StoppingParameters.MaxNewTokens {
		t.Fatalf("max_total_new_tokens must default to max_new_tokens")
	}
}

func TestValidateKeepsExplicitSeed(t *testing.T) {
	v := newValidator(Config{})
	got, err := v.Validate(context.Background(), types.GenerateRequest{
		Inputs:     "x",
		Parameters: types.GenerateParameters{Seed: uptr(uint64(1234))},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Parameters.Seed != 1234 {
		t.Fatalf("explicit seed must survive, got %d", got.Parameters.Seed)
	}
}

func TestValidateRejections(t *testing.T) {
	v := newValidator(Config{MaxInputTokens: 8, MaxTotalTokens: 16, MaxStopSequences: 1, MaxTopNTokens: 3})
	cases := []struct {
		name string
		req  types.GenerateRequest
		want string
	}{
		{"empty inputs", types.GenerateRequest{Inputs: "  "}, "`inputs`"},
		{"zero temperature", types.GenerateRequest{Inputs: "x",
			Parameters: types.GenerateParameters{Temperature: uptr(float32(0))}}, "`temperature`"},
		{"top_p above one", types.GenerateRequest{Inputs: "x",
			Parameters: types.GenerateParameters{TopP: uptr(float32(1.5))}}, "`top_p`"},
		{"zero top_k", types.GenerateRequest{Inputs: "x",
			Parameters: types.GenerateParameters{TopK: uptr(uint32(0))}}, "`top_k`"},
		{"top_n_tokens over cap", types.GenerateRequest{Inputs: "x",
			Parameters: types.GenerateParameters{TopNTokens: uptr(uint32(4))}}, "`top_n_tokens`"},
		{"zero max_new_tokens", types.GenerateRequest{Inputs: "x",
			Parameters: types.GenerateParameters{MaxNewTokens: uptr(uint32(0))}}, "`max_new_tokens`"},
		{"budget exceeded", types.GenerateRequest{Inputs: "abcd",
			Parameters: types.GenerateParameters{MaxNewTokens: uptr(uint32(13))}}, "`max_new_tokens`"},
		{"total below hop", types.GenerateRequest{Inputs: "x",
			Parameters: types.GenerateParameters{MaxNewTokens: uptr(uint32(4)), MaxTotalNewTokens: uptr(uint32(2))}}, "`max_total_new_tokens`"},
		{"too many stops", types.GenerateRequest{Inputs: "x",
			Parameters: types.GenerateParameters{Stop: []string{"a", "b"}}}, "`stop`"},
		{"truncate over cap", types.GenerateRequest{Inputs: "x",
			Parameters: types.GenerateParameters{Truncate: uptr(64)}}, "`truncate`"},
		{"input too long", types.GenerateRequest{Inputs: "abcdefghij"}, "`inputs` tokens"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tc.req)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateTruncatesFromLeft(t *testing.T) {
	v := newValidator(Config{MaxInputTokens: 8, MaxTotalTokens: 16})
	got, err := v.Validate(context.Background(), types.GenerateRequest{
		Inputs:     "abcdefghij",
		Parameters: types.GenerateParameters{Truncate: uptr(4)},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.InputText != "ghij" {
		t.Fatalf("truncation must keep the tail, got %q", got.InputText)
	}
	if got.InputLength != 4 {
		t.Fatalf("expected 4 tokens after truncation, got %d", got.InputLength)
	}
}

func TestValidateSamplingImpliesDoSample(t *testing.T) {
	v := newValidator(Config{})
	got, err := v.Validate(context.Background(), types.GenerateRequest{
		Inputs:     "x",
		Parameters: types.GenerateParameters{Temperature: uptr(float32(0.7))},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !got.Parameters.DoSample {
		t.Fatalf("non-default temperature must enable sampling")
	}
}

func TestTokenize(t *testing.T) {
	v := newValidator(Config{})
	enc, err := v.Tokenize(context.Background(), "hello", false, nil)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if enc.Len() != 5 {
		t.Fatalf("expected 5 tokens, got %d", enc.Len())
	}
	enc, err = v.Tokenize(context.Background(), "hello", false, uptr(2))
	if err != nil {
		t.Fatalf("Tokenize truncated: %v", err)
	}
	if enc.Len() != 2 || enc.Tokens[0] != "l" {
		t.Fatalf("expected trailing 2 tokens, got %v", enc.Tokens)
	}
}

func TestValidateBestOf(t *testing.T) {
	v := newValidator(Config{MaxBestOf: 3})
	if _, err := v.ValidateBestOf(0); err == nil {
		t.Fatalf("best_of 0 must fail")
	}
	if _, err := v.ValidateBestOf(4); err == nil {
		t.Fatalf("best_of above cap must fail")
	}
	n, err := v.ValidateBestOf(3)
	if err != nil || n != 3 {
		t.Fatalf("best_of at cap must pass, got %d %v", n, err)
	}
}
