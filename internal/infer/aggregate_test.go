package infer

import (
	"context"
	"errors"
	"testing"

	"inferd/pkg/types"
)

func TestGenerateHappyPath(t *testing.T) {
	backend := &scriptedBackend{segments: [][]StreamResult{{
		{Event: PrefillEvent{Tokens: []PrefillToken{{ID: 9, Text: "p"}}}},
		intermediateOf(1, "A"),
		endOf(2, ".", "A", FinishReasonEOSToken, 2),
	}}}
	core := newTestCore(backend, &fakeValidator{}, coreOpts{capacity: 2})

	resp, err := core.Generate(context.Background(), types.GenerateRequest{Inputs: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.Tokens) != 2 {
		t.Fatalf("expected 2 tokens (incl. final), got %d", len(resp.Tokens))
	}
	if resp.Tokens[0].Text != "A" || resp.Tokens[1].Text != "." {
		t.Fatalf("unexpected token texts: %+v", resp.Tokens)
	}
	if resp.GeneratedText.Text != "A" {
		t.Fatalf("expected generated text A, got %q", resp.GeneratedText.Text)
	}
	if resp.GeneratedText.GeneratedTokens != uint32(len(resp.Tokens)) {
		t.Fatalf("generated_tokens %d != len(tokens) %d", resp.GeneratedText.GeneratedTokens, len(resp.Tokens))
	}
	if resp.EnergyConsumption == nil || *resp.EnergyConsumption == 0 {
		t.Fatalf("expected positive total energy, got %v", resp.EnergyConsumption)
	}
	if len(resp.TokenEnergyConsumptions) != len(resp.Tokens) {
		t.Fatalf("energy series length %d != tokens %d", len(resp.TokenEnergyConsumptions), len(resp.Tokens))
	}
	if len(resp.Prefill) != 1 || resp.Prefill[0].Text != "p" {
		t.Fatalf("prefill not collected: %+v", resp.Prefill)
	}
	if resp.Queued.After(resp.Start) {
		t.Fatalf("queued must precede start")
	}
}

func TestGenerateTopTokensGating(t *testing.T) {
	seg := func() []StreamResult {
		return []StreamResult{
			{Event: IntermediateEvent{Token: genToken(1, "a", -0.1), TopTokens: []Token{genToken(1, "a", -0.1), genToken(2, "b", -0.4)}}},
			{Event: EndEvent{
				Token:         genToken(3, "c", -0.2),
				TopTokens:     []Token{genToken(3, "c", -0.2)},
				GeneratedText: GeneratedText{Text: "ac", GeneratedTokens: 2, FinishReason: FinishReasonEOSToken},
				Start:         testStart,
				Queued:        testQueued,
			}},
		}
	}

	// top_n_tokens unset: top tokens collected per event but not returned.
	backend := &scriptedBackend{segments: [][]StreamResult{seg()}}
	core := newTestCore(backend, &fakeValidator{}, coreOpts{})
	resp, err := core.Generate(context.Background(), types.GenerateRequest{Inputs: "x"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.TopTokens) != 0 {
		t.Fatalf("expected empty top_tokens when top_n_tokens=0, got %d", len(resp.TopTokens))
	}

	// top_n_tokens > 0: one entry per token.
	backend = &scriptedBackend{segments: [][]StreamResult{seg()}}
	core = newTestCore(backend, &fakeValidator{}, coreOpts{})
	resp, err = core.Generate(context.Background(), types.GenerateRequest{
		Inputs:     "x",
		Parameters: types.GenerateParameters{TopNTokens: uptr(uint32(2))},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.TopTokens) != len(resp.Tokens) {
		t.Fatalf("expected %d top_tokens entries, got %d", len(resp.Tokens), len(resp.TopTokens))
	}
}

func TestGenerateTokenEnergySeries(t *testing.T) {
	backend := &scriptedBackend{segments: [][]StreamResult{{
		intermediateOf(1, "a"),
		intermediateOf(2, "b"),
		endOf(3, "c", "abc", FinishReasonEOSToken, 3),
	}}}
	core := newTestCore(backend, &fakeValidator{}, coreOpts{meter: []uint64{10, 10, 20, 35, 55, 80}})

	resp, err := core.Generate(context.Background(), types.GenerateRequest{Inputs: "x"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.TokenEnergyConsumptions) != 3 {
		t.Fatalf("expected 3 energy entries, got %d", len(resp.TokenEnergyConsumptions))
	}
	var last uint64
	for i, e := range resp.TokenEnergyConsumptions {
		if e == nil {
			t.Fatalf("entry %d missing", i)
		}
		if *e < last {
			t.Fatalf("series decreased at %d: %d < %d", i, *e, last)
		}
		last = *e
	}
	for i, tok := range resp.Tokens[:len(resp.Tokens)-1] {
		if tok.EnergyConsumption == nil || *tok.EnergyConsumption != *resp.TokenEnergyConsumptions[i] {
			t.Fatalf("token %d energy not stamped from its step", i)
		}
	}
}

func TestGenerateIncompleteStream(t *testing.T) {
	// Backend closes its stream cleanly without an End event.
	backend := &scriptedBackend{segments: [][]StreamResult{{
		intermediateOf(1, "a"),
	}}}
	core := newTestCore(backend, &fakeValidator{}, coreOpts{})

	_, err := core.Generate(context.Background(), types.GenerateRequest{Inputs: "x"})
	var iErr *IncompleteGenerationError
	if !errors.As(err, &iErr) {
		t.Fatalf("expected IncompleteGeneration, got %v", err)
	}
}

func TestGenerateSurfacesStreamError(t *testing.T) {
	backend := &scriptedBackend{
		segments:    [][]StreamResult{{intermediateOf(1, "a"), {Err: errors.New("backend died")}}},
		startHealth: true,
	}
	core := newTestCore(backend, &fakeValidator{}, coreOpts{})

	_, err := core.Generate(context.Background(), types.GenerateRequest{Inputs: "x"})
	var gErr *GenerationError
	if !errors.As(err, &gErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if core.Health(context.Background()) {
		t.Fatalf("health must be false right after a stream error")
	}
}

func TestGenerateContinuationAggregates(t *testing.T) {
	backend := &scriptedBackend{segments: [][]StreamResult{
		{
			intermediateOf(1, "f"),
			intermediateOf(2, "o"),
			endOf(3, "o", "foo", FinishReasonLength, 3),
		},
		{
			intermediateOf(4, "b"),
			endOf(5, "ar", "bar", FinishReasonEOSToken, 2),
		},
	}}
	core := newTestCore(backend, &fakeValidator{}, coreOpts{})

	resp, err := core.Generate(context.Background(), types.GenerateRequest{
		Inputs: "in",
		Parameters: types.GenerateParameters{
			MaxNewTokens:      uptr(uint32(3)),
			MaxTotalNewTokens: uptr(uint32(6)),
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.GeneratedText.Text != "foobar" {
		t.Fatalf("expected foobar, got %q", resp.GeneratedText.Text)
	}
	// 2 + splice + 1 intermediates plus the final token.
	if len(resp.Tokens) != 5 {
		t.Fatalf("expected 5 tokens, got %d", len(resp.Tokens))
	}
	if resp.GeneratedText.GeneratedTokens != 5 {
		t.Fatalf("expected 5 generated tokens, got %d", resp.GeneratedText.GeneratedTokens)
	}
	if len(resp.TokenEnergyConsumptions) != len(resp.Tokens) {
		t.Fatalf("energy series must cover every token")
	}
}
