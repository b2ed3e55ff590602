package types

// GenerateRequest is the raw generation request payload as received by the
// HTTP layer. It is validated into an internal request before scheduling.
type GenerateRequest struct {
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Inputs string `json:"inputs" example:"Write a haiku about the ocean."`
	// Whether special tokens (BOS/EOS) are added during tokenization.
	// example: true
	AddSpecialTokens bool `json:"add_special_tokens" example:"true"`
	// Sampling and stopping parameters.
	Parameters GenerateParameters `json:"parameters"`
}

// GenerateParameters carries the generation knobs. Pointer fields distinguish
// "unset" from zero; defaults are applied during validation.
type GenerateParameters struct {
	// Generate best_of sequences and return the one with the highest
	// per-token log probability.
	// example: 1
	BestOf *int `json:"best_of,omitempty" example:"1"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature *float32 `json:"temperature,omitempty" example:"0.7"`
	// Top-K sampling: limit candidates to the K most likely tokens.
	// example: 40
	TopK *uint32 `json:"top_k,omitempty" example:"40"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP *float32 `json:"top_p,omitempty" example:"0.9"`
	// Activate logits sampling.
	// example: true
	DoSample bool `json:"do_sample,omitempty" example:"true"`
	// Maximum number of new tokens per scheduling hop.
	// example: 128
	MaxNewTokens *uint32 `json:"max_new_tokens,omitempty" example:"128"`
	// Total new-token budget across automatic continuations. Defaults to
	// max_new_tokens when unset (i.e. no continuation).
	// example: 512
	MaxTotalNewTokens *uint32 `json:"max_total_new_tokens,omitempty" example:"512"`
	// Optional stop sequences. Generation stops when any sequence matches.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
	// Truncate the input to this many tokens before generation.
	// example: 1024
	Truncate *int `json:"truncate,omitempty" example:"1024"`
	// Random seed for reproducibility; omitted lets the server choose.
	// example: 42
	Seed *uint64 `json:"seed,omitempty" example:"42"`
	// Return the top N most likely tokens at each step.
	// example: 5
	TopNTokens *uint32 `json:"top_n_tokens,omitempty" example:"5"`
	// Return prompt (prefill) token details.
	// example: false
	DecoderInputDetails bool `json:"decoder_input_details,omitempty" example:"false"`
	// Return generation details (tokens, finish reason, seed).
	// example: true
	Details bool `json:"details,omitempty" example:"true"`
}

// Clone returns a deep copy so continuations can mutate the working request
// without aliasing caller state.
func (r GenerateRequest) Clone() GenerateRequest {
	out := r
	out.Parameters = r.Parameters.clone()
	return out
}

func (p GenerateParameters) clone() GenerateParameters {
	out := p
	out.BestOf = clone(p.BestOf)
	out.Temperature = clone(p.Temperature)
	out.TopK = clone(p.TopK)
	out.TopP = clone(p.TopP)
	out.MaxNewTokens = clone(p.MaxNewTokens)
	out.MaxTotalNewTokens = clone(p.MaxTotalNewTokens)
	out.Truncate = clone(p.Truncate)
	out.Seed = clone(p.Seed)
	out.TopNTokens = clone(p.TopNTokens)
	out.Stop = append([]string(nil), p.Stop...)
	return out
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Message is a single chat-template message.
type Message struct {
	// Role of the author (system, user, assistant, tool).
	// example: user
	Role string `json:"role" example:"user"`
	// Message content.
	// example: What is the capital of France?
	Content string `json:"content" example:"What is the capital of France?"`
}

// Tool is an opaque tool definition forwarded to the chat template.
type Tool struct {
	// Tool type discriminator.
	// example: function
	Type string `json:"type" example:"function"`
	// Function description as expected by the template.
	Function map[string]any `json:"function"`
}

// ChatTemplateRequest is the payload for POST /chat_template.
type ChatTemplateRequest struct {
	// Messages to render.
	Messages []Message `json:"messages"`
	// Optional tool definitions exposed to the template.
	Tools []Tool `json:"tools,omitempty"`
	// Prompt appended to the last message when tools are present.
	ToolPrompt string `json:"tool_prompt,omitempty"`
}

// TokenizeRequest is the payload for POST /tokenize.
type TokenizeRequest struct {
	// Text to tokenize.
	// example: Hello world
	Inputs string `json:"inputs" example:"Hello world"`
	// Whether special tokens are added.
	// example: true
	AddSpecialTokens bool `json:"add_special_tokens" example:"true"`
	// Truncate the input to this many tokens.
	// example: 1024
	Truncate *int `json:"truncate,omitempty" example:"1024"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: Model is overloaded
	Error string `json:"error" example:"Model is overloaded"`
	// Machine-readable error class.
	// example: overloaded
	ErrorType string `json:"error_type,omitempty" example:"overloaded"`
	// HTTP status code.
	// example: 429
	Code int `json:"code" example:"429"`
}
