package infer

import (
	"context"
	"sync"
	"time"

	"inferd/internal/energy"
	"inferd/pkg/types"
)

// EventStream is the caller-visible side of one logical generation. Events
// arrive on Events(); the channel closes after the terminal End or error.
// Close cancels the underlying backend subscription; together with the
// driver's own exit it bounds how long the admission slot stays held.
type EventStream struct {
	events    chan StreamResult
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Events returns the stream channel. A closed channel without a prior End
// event means the backend disconnected early.
func (s *EventStream) Events() <-chan StreamResult { return s.events }

// Close releases the backend subscription and, transitively, the admission
// permit. Safe to call more than once.
func (s *EventStream) Close() {
	s.closeOnce.Do(s.cancel)
}

// streamDriver is the state machine that rewrites the backend stream into the
// public one: it splices continuations for length-stopped segments while the
// token budget allows, interleaves energy counter reads, and guarantees
// exactly one terminal End (or error) per logical generation.
type streamDriver struct {
	infer             *Infer
	ctx               context.Context
	out               chan<- StreamResult
	meter             energy.Meter
	localReq          types.GenerateRequest
	maxTotalNewTokens uint32
	energyStart       uint64
}

// emit delivers one result, aborting if the consumer is gone.
func (d *streamDriver) emit(res StreamResult) bool {
	select {
	case d.out <- res:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *streamDriver) run(src <-chan StreamResult) {
	var (
		totalGeneratedTokens uint32
		firstStart           time.Time
		firstQueued          time.Time
		allGeneratedText     *GeneratedText
		energyTotal          *uint64
		energyLast           = d.energyStart
	)

	for {
		var (
			res StreamResult
			ok  bool
		)
		select {
		case res, ok = <-src:
		case <-d.ctx.Done():
			return
		}
		if !ok {
			// Source exhausted without an End event. Not an error here: a
			// cancelled subscription legitimately ends early. The aggregator
			// rejects it as incomplete when an End was required.
			return
		}
		if res.Err != nil {
			d.infer.health.latchUnhealthy()
			d.emit(StreamResult{Err: wrapGeneration(res.Err)})
			return
		}

		switch ev := res.Event.(type) {
		case PrefillEvent:
			if !d.emit(StreamResult{Event: ev}) {
				return
			}

		case IntermediateEvent:
			totalGeneratedTokens++
			now, err := d.meter.Read()
			if err != nil {
				d.emit(StreamResult{Err: &EnergyConsumptionError{Msg: err.Error()}})
				return
			}
			if now < energyLast {
				d.emit(StreamResult{Err: &EnergyConsumptionError{Msg: "energy counter went backwards"}})
				return
			}
			energyLast = now
			total := now - d.energyStart
			energyTotal = &total
			d.infer.logger.Debug().
				Uint32("generated_tokens", totalGeneratedTokens).
				Uint64("total_energy_mj", total).
				Msg("token step")
			if !d.emit(StreamResult{Event: IntermediateEvent{
				Token:             ev.Token,
				TopTokens:         ev.TopTokens,
				EnergyConsumption: energyTotal,
			}}) {
				return
			}

		case EndEvent:
			totalGeneratedTokens++
			if firstStart.IsZero() {
				firstStart = ev.Start
			}
			if firstQueued.IsZero() {
				firstQueued = ev.Queued
			}
			if allGeneratedText != nil {
				allGeneratedText.Text += ev.GeneratedText.Text
				allGeneratedText.GeneratedTokens = totalGeneratedTokens
				allGeneratedText.FinishReason = ev.GeneratedText.FinishReason
			}

			// Continuation: a length stop with budget remaining re-schedules
			// the request with the segment's text appended to the prompt.
			// A budget reached exactly on a length stop ends the generation.
			if ev.GeneratedText.FinishReason == FinishReasonLength && totalGeneratedTokens < d.maxTotalNewTokens {
				d.localReq.Inputs += ev.GeneratedText.Text
				if allGeneratedText == nil {
					g := ev.GeneratedText
					allGeneratedText = &g
				}

				valid, err := d.infer.validation.Validate(d.ctx, d.localReq)
				if err != nil {
					d.infer.logger.Debug().Err(err).Msg("failed to continue request")
					d.endAccumulated(ev, allGeneratedText, firstStart, firstQueued)
					return
				}
				newSrc, err := d.infer.backend.Schedule(d.ctx, valid)
				if err != nil {
					d.infer.logger.Debug().Err(err).Msg("failed to continue request")
					d.endAccumulated(ev, allGeneratedText, firstStart, firstQueued)
					return
				}
				d.infer.logger.Debug().Uint32("generated_tokens", totalGeneratedTokens).Msg("continue request")

				// Splice point: the boundary token becomes visible as one
				// Intermediate event. It was already counted by this End, so
				// the running count is untouched.
				if !d.emit(StreamResult{Event: IntermediateEvent{
					Token:             ev.Token,
					TopTokens:         ev.TopTokens,
					EnergyConsumption: energyTotal,
				}}) {
					return
				}
				src = newSrc
				continue
			}

			// Terminal End for the whole logical generation.
			now, err := d.meter.Read()
			if err != nil {
				d.emit(StreamResult{Err: &GenerationError{Msg: err.Error()}})
				return
			}
			total := now - d.energyStart
			generatedText := ev.GeneratedText
			if allGeneratedText != nil {
				generatedText = *allGeneratedText
			}
			d.emit(StreamResult{Event: EndEvent{
				Token:             ev.Token,
				TopTokens:         ev.TopTokens,
				GeneratedText:     generatedText,
				Start:             firstStart,
				Queued:            firstQueued,
				EnergyConsumption: &total,
			}})
			return
		}
	}
}

// endAccumulated finishes the stream gracefully when a continuation cannot be
// set up: the caller still receives one well-formed End carrying everything
// generated so far.
func (d *streamDriver) endAccumulated(ev EndEvent, acc *GeneratedText, firstStart, firstQueued time.Time) {
	var energyTotal *uint64
	if now, err := d.meter.Read(); err == nil {
		total := now - d.energyStart
		energyTotal = &total
	} else {
		d.emit(StreamResult{Err: &GenerationError{Msg: err.Error()}})
		return
	}
	d.emit(StreamResult{Event: EndEvent{
		Token:             ev.Token,
		TopTokens:         ev.TopTokens,
		GeneratedText:     *acc,
		Start:             firstStart,
		Queued:            firstQueued,
		EnergyConsumption: energyTotal,
	}})
}
