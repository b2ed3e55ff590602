package infer

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"inferd/pkg/types"
)

// GenerateBestOf runs n generations of the same request in parallel and
// returns the one with the highest mean per-token log probability, plus the
// remaining responses in their original order. All-or-nothing: any failed
// branch fails the whole call.
func (i *Infer) GenerateBestOf(ctx context.Context, req types.GenerateRequest, bestOf int) (*InferResponse, []*InferResponse, error) {
	bestOf, err := i.validation.ValidateBestOf(bestOf)
	if err != nil {
		vErr := &ValidationError{Cause: err}
		i.recordFailure(vErr)
		return nil, nil, vErr
	}

	responses := make([]*InferResponse, bestOf)
	g, gctx := errgroup.WithContext(ctx)
	for idx := range responses {
		g.Go(func() error {
			resp, err := i.Generate(gctx, req.Clone())
			if err != nil {
				return err
			}
			responses[idx] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	best, rest := selectBest(responses)
	return best, rest, nil
}

// selectBest picks the response with the highest mean token logprob; ties go
// to the lowest index (strict >). An empty token list scores -Inf and never
// wins. The remaining responses keep their original order.
func selectBest(responses []*InferResponse) (*InferResponse, []*InferResponse) {
	maxIndex := 0
	maxLogprob := float32(math.Inf(-1))
	for idx, resp := range responses {
		score := meanLogprob(resp.Tokens)
		if score > maxLogprob {
			maxIndex = idx
			maxLogprob = score
		}
	}
	best := responses[maxIndex]
	rest := append(responses[:maxIndex:maxIndex], responses[maxIndex+1:]...)
	return best, rest
}

func meanLogprob(tokens []Token) float32 {
	if len(tokens) == 0 {
		return float32(math.Inf(-1))
	}
	var sum float32
	for _, t := range tokens {
		sum += t.Logprob
	}
	mean := sum / float32(len(tokens))
	if math.IsNaN(float64(mean)) {
		return float32(math.Inf(-1))
	}
	return mean
}
