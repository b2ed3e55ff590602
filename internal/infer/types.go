package infer

import "time"

// FinishReason reports why a generation segment stopped.
type FinishReason string

const (
	FinishReasonLength       FinishReason = "length"
	FinishReasonEOSToken     FinishReason = "eos_token"
	FinishReasonStopSequence FinishReason = "stop_sequence"
	FinishReasonCancelled    FinishReason = "cancelled"
)

// Token is a single generated token.
type Token struct {
	ID      uint32  `json:"id"`
	Text    string  `json:"text"`
	Logprob float32 `json:"logprob"`
	Special bool    `json:"special"`
	// EnergyConsumption is the cumulative GPU energy (millijoules) attributed
	// up to this token's step. Stamped by the aggregator.
	EnergyConsumption *uint64 `json:"energy_consumption,omitempty"`
}

// PrefillToken echoes a prompt token. Delivered at most once per request,
// before any generated token.
type PrefillToken struct {
	ID      uint32  `json:"id"`
	Text    string  `json:"text"`
	Logprob float32 `json:"logprob"`
}

// GeneratedText is the aggregated textual result of a generation, spanning
// all continuation segments.
type GeneratedText struct {
	Text            string       `json:"text"`
	GeneratedTokens uint32       `json:"generated_tokens"`
	FinishReason    FinishReason `json:"finish_reason"`
	Seed            *uint64      `json:"seed,omitempty"`
}

// StreamEvent is one element of the public event stream. Exactly one of
// PrefillEvent, IntermediateEvent or EndEvent.
type StreamEvent interface {
	streamEvent()
}

// PrefillEvent carries the prompt tokens. Optional, at most once, first if
// present.
type PrefillEvent struct {
	Tokens []PrefillToken `json:"prefill"`
}

// IntermediateEvent carries one generated token. EnergyConsumption is the
// meter delta since request start, authoritative over anything the backend
// reported.
type IntermediateEvent struct {
	Token             Token   `json:"token"`
	TopTokens         []Token `json:"top_tokens,omitempty"`
	EnergyConsumption *uint64 `json:"energy_consumption,omitempty"`
}

// EndEvent terminates a successful stream. Exactly one per request.
type EndEvent struct {
	Token             Token         `json:"token"`
	TopTokens         []Token       `json:"top_tokens,omitempty"`
	GeneratedText     GeneratedText `json:"generated_text"`
	Start             time.Time     `json:"start"`
	Queued            time.Time     `json:"queued"`
	EnergyConsumption *uint64       `json:"energy_consumption,omitempty"`
}

func (PrefillEvent) streamEvent()      {}
func (IntermediateEvent) streamEvent() {}
func (EndEvent) streamEvent()          {}

// StreamResult is one backend (or driver) stream element: an event or an
// error, never both.
type StreamResult struct {
	Event StreamEvent
	Err   error
}

// InferResponse is the aggregated form of a completed generation.
type InferResponse struct {
	// InputLength is the prompt length as counted by the validation
	// tokenizer. Redundant with len(Prefill) but always filled.
	InputLength uint32
	Prefill     []PrefillToken
	Tokens      []Token
	GeneratedText GeneratedText
	Queued      time.Time
	Start       time.Time
	TopTokens   [][]Token
	// EnergyConsumption is the meter delta across the whole request.
	EnergyConsumption *uint64
	// TokenEnergyConsumptions has one entry per element of Tokens.
	TokenEnergyConsumptions []*uint64
}

// Encoding is the result of tokenizing a text.
type Encoding struct {
	IDs     []uint32   `json:"ids"`
	Tokens  []string   `json:"tokens"`
	Offsets [][2]uint  `json:"offsets,omitempty"`
}

// Len returns the number of tokens in the encoding.
func (e *Encoding) Len() int { return len(e.IDs) }

// SamplingParameters are the normalized sampling knobs of a validated request.
type SamplingParameters struct {
	Temperature float32
	TopK        uint32
	TopP        float32
	DoSample    bool
	// Seed is concrete after validation; an omitted seed is materialized once
	// and reused verbatim by continuations.
	Seed       uint64
	TopNTokens uint32
}

// StoppingParameters bound a validated request's generation.
type StoppingParameters struct {
	// MaxNewTokens bounds one scheduling hop.
	MaxNewTokens uint32
	// MaxTotalNewTokens bounds the whole logical generation across
	// continuations.
	MaxTotalNewTokens uint32
	StopSequences     []string
}

// ValidatedRequest is the validation output consumed by the backend.
type ValidatedRequest struct {
	// InputText is mutable: continuations append the generated text of the
	// previous segment before re-validation.
	InputText           string
	InputLength         uint32
	AddSpecialTokens    bool
	Truncate            *int
	DecoderInputDetails bool
	Parameters          SamplingParameters
	StoppingParameters  StoppingParameters
}
