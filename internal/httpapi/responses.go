package httpapi

import (
	"encoding/json"

	"inferd/internal/infer"
	"inferd/pkg/types"
)

// GenerateResponse is the aggregated wire result of POST /generate.
type GenerateResponse struct {
	GeneratedText string `json:"generated_text"`
	// Details are present when the request asked for them.
	Details *Details `json:"details,omitempty"`
	// EnergyConsumption is the GPU energy attributed to the request, in
	// millijoules.
	EnergyConsumption *uint64 `json:"energy_consumption,omitempty"`
}

// Details carries per-token information of a completed generation.
type Details struct {
	FinishReason    infer.FinishReason   `json:"finish_reason"`
	GeneratedTokens uint32               `json:"generated_tokens"`
	Seed            *uint64              `json:"seed,omitempty"`
	Prefill         []infer.PrefillToken `json:"prefill"`
	Tokens          []infer.Token        `json:"tokens"`
	TopTokens       [][]infer.Token      `json:"top_tokens,omitempty"`
	BestOfSequences []BestOfSequence     `json:"best_of_sequences,omitempty"`
}

// BestOfSequence is one non-winning candidate of a best_of generation.
type BestOfSequence struct {
	GeneratedText     string               `json:"generated_text"`
	FinishReason      infer.FinishReason   `json:"finish_reason"`
	GeneratedTokens   uint32               `json:"generated_tokens"`
	Seed              *uint64              `json:"seed,omitempty"`
	Prefill           []infer.PrefillToken `json:"prefill"`
	Tokens            []infer.Token        `json:"tokens"`
	TopTokens         [][]infer.Token      `json:"top_tokens,omitempty"`
	EnergyConsumption *uint64              `json:"energy_consumption,omitempty"`
}

// StreamResponse is one SSE chunk of POST /generate_stream.
type StreamResponse struct {
	Token     infer.Token   `json:"token"`
	TopTokens []infer.Token `json:"top_tokens,omitempty"`
	// GeneratedText is only set on the final chunk.
	GeneratedText *string `json:"generated_text,omitempty"`
	// Details are only set on the final chunk, when requested.
	Details           *StreamDetails `json:"details,omitempty"`
	EnergyConsumption *uint64        `json:"energy_consumption,omitempty"`
}

// StreamDetails closes out a streamed generation.
type StreamDetails struct {
	FinishReason    infer.FinishReason `json:"finish_reason"`
	GeneratedTokens uint32             `json:"generated_tokens"`
	Seed            *uint64            `json:"seed,omitempty"`
	InputLength     uint32             `json:"input_length"`
}

// prefillChunk delivers prompt tokens ahead of the generated ones.
type prefillChunk struct {
	Prefill []infer.PrefillToken `json:"prefill"`
}

// TokenizeToken is one element of the POST /tokenize response.
type TokenizeToken struct {
	ID   uint32 `json:"id"`
	Text string `json:"text"`
	// Start and Stop are byte offsets into the input, when known.
	Start *uint `json:"start,omitempty"`
	Stop  *uint `json:"stop,omitempty"`
}

// ChatTemplateResponse is the rendered prompt of POST /chat_template.
type ChatTemplateResponse struct {
	Prompt string `json:"prompt"`
}

// InfoResponse describes the running service.
type InfoResponse struct {
	Backend string `json:"backend"`
	Version string `json:"version,omitempty"`
}

func toGenerateResponse(req types.GenerateRequest, best *infer.InferResponse, rest []*infer.InferResponse) GenerateResponse {
	out := GenerateResponse{
		GeneratedText:     best.GeneratedText.Text,
		EnergyConsumption: best.EnergyConsumption,
	}
	if !req.Parameters.Details {
		return out
	}
	d := &Details{
		FinishReason:    best.GeneratedText.FinishReason,
		GeneratedTokens: best.GeneratedText.GeneratedTokens,
		Seed:            best.GeneratedText.Seed,
		Tokens:          best.Tokens,
		TopTokens:       best.TopTokens,
	}
	if req.Parameters.DecoderInputDetails {
		d.Prefill = best.Prefill
	}
	for _, r := range rest {
		seq := BestOfSequence{
			GeneratedText:     r.GeneratedText.Text,
			FinishReason:      r.GeneratedText.FinishReason,
			GeneratedTokens:   r.GeneratedText.GeneratedTokens,
			Seed:              r.GeneratedText.Seed,
			Tokens:            r.Tokens,
			TopTokens:         r.TopTokens,
			EnergyConsumption: r.EnergyConsumption,
		}
		if req.Parameters.DecoderInputDetails {
			seq.Prefill = r.Prefill
		}
		d.BestOfSequences = append(d.BestOfSequences, seq)
	}
	out.Details = d
	return out
}

// marshalStreamEvent converts one core event into its SSE payload. Prefill
// events are only forwarded when the request asked for decoder input details.
func marshalStreamEvent(ev infer.StreamEvent, params types.GenerateParameters, inputLength uint32) ([]byte, bool, error) {
	switch e := ev.(type) {
	case infer.PrefillEvent:
		if !params.DecoderInputDetails {
			return nil, false, nil
		}
		b, err := json.Marshal(prefillChunk{Prefill: e.Tokens})
		return b, err == nil, err
	case infer.IntermediateEvent:
		b, err := json.Marshal(StreamResponse{
			Token:             e.Token,
			TopTokens:         e.TopTokens,
			EnergyConsumption: e.EnergyConsumption,
		})
		return b, err == nil, err
	case infer.EndEvent:
		res := StreamResponse{
			Token:             e.Token,
			TopTokens:         e.TopTokens,
			GeneratedText:     &e.GeneratedText.Text,
			EnergyConsumption: e.EnergyConsumption,
		}
		if params.Details {
			res.Details = &StreamDetails{
				FinishReason:    e.GeneratedText.FinishReason,
				GeneratedTokens: e.GeneratedText.GeneratedTokens,
				Seed:            e.GeneratedText.Seed,
				InputLength:     inputLength,
			}
		}
		b, err := json.Marshal(res)
		return b, err == nil, err
	}
	return nil, false, nil
}

func toTokenizeResponse(enc *infer.Encoding) []TokenizeToken {
	out := make([]TokenizeToken, 0, enc.Len())
	for i, id := range enc.IDs {
		t := TokenizeToken{ID: id}
		if i < len(enc.Tokens) {
			t.Text = enc.Tokens[i]
		}
		if i < len(enc.Offsets) {
			start, stop := enc.Offsets[i][0], enc.Offsets[i][1]
			t.Start, t.Stop = &start, &stop
		}
		out = append(out, t)
	}
	return out
}
