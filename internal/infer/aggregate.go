package infer

import (
	"context"

	"inferd/pkg/types"
)

// Generate drains a generation stream into a single InferResponse. The
// admission permit is held until the stream is fully consumed and closed.
func (i *Infer) Generate(ctx context.Context, req types.GenerateRequest) (*InferResponse, error) {
	// A separate meter handle gives the aggregate path its own authoritative
	// start/end delta, independent of the per-token series.
	meter, err := i.energy.Acquire()
	if err != nil {
		eErr := &EnergyConsumptionError{Msg: err.Error()}
		i.recordFailure(eErr)
		return nil, eErr
	}
	energyStart, err := meter.Read()
	if err != nil {
		eErr := &EnergyConsumptionError{Msg: err.Error()}
		i.recordFailure(eErr)
		return nil, eErr
	}

	useTopTokens := req.Parameters.TopNTokens != nil && *req.Parameters.TopNTokens > 0

	permit, inputLength, stream, err := i.GenerateStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	defer permit.Release()

	var (
		resultPrefill                 []PrefillToken
		resultTokens                  []Token
		resultTopTokens               [][]Token
		resultGeneratedText           *GeneratedText
		resultEnergyConsumption       *uint64
		resultTokenEnergyConsumptions []*uint64
	)

	var end *EndEvent
	for res := range stream.Events() {
		if res.Err != nil {
			i.recordFailure(res.Err)
			return nil, res.Err
		}
		switch ev := res.Event.(type) {
		case PrefillEvent:
			resultPrefill = ev.Tokens
		case IntermediateEvent:
			token := ev.Token
			token.EnergyConsumption = ev.EnergyConsumption
			resultTokens = append(resultTokens, token)
			resultTopTokens = append(resultTopTokens, ev.TopTokens)
			resultTokenEnergyConsumptions = append(resultTokenEnergyConsumptions, ev.EnergyConsumption)
		case EndEvent:
			resultTokens = append(resultTokens, ev.Token)
			resultTopTokens = append(resultTopTokens, ev.TopTokens)
			gt := ev.GeneratedText
			resultGeneratedText = &gt
			energyEnd, err := meter.Read()
			if err != nil {
				gErr := &GenerationError{Msg: err.Error()}
				i.recordFailure(gErr)
				return nil, gErr
			}
			total := energyEnd - energyStart
			resultEnergyConsumption = &total
			resultTokenEnergyConsumptions = append(resultTokenEnergyConsumptions, ev.EnergyConsumption)
			e := ev
			end = &e
		}
	}

	if end == nil || resultGeneratedText == nil {
		iErr := &IncompleteGenerationError{}
		i.recordFailure(iErr)
		return nil, iErr
	}

	topTokens := resultTopTokens
	if !useTopTokens {
		topTokens = nil
	}
	return &InferResponse{
		InputLength:             inputLength,
		Prefill:                 resultPrefill,
		Tokens:                  resultTokens,
		GeneratedText:           *resultGeneratedText,
		Queued:                  end.Queued,
		Start:                   end.Start,
		TopTokens:               topTokens,
		EnergyConsumption:       resultEnergyConsumption,
		TokenEnergyConsumptions: resultTokenEnergyConsumptions,
	}, nil
}
