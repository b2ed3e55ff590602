package infer

import (
	"context"

	"github.com/rs/zerolog"

	"inferd/internal/energy"
	"inferd/pkg/types"
)

// Infer is the orchestration core between the transport layer and the model
// backend. It admits requests through a bounded gate, drives backend streams
// to completion (continuing length-stopped requests against the remaining
// token budget), attaches per-step GPU energy readings, and aggregates
// streaming output on demand.
type Infer struct {
	backend      Backend
	validation   Validator
	chatTemplate ChatTemplateRenderer
	gate         *AdmissionGate
	health       *healthTracker
	energy       energy.Source
	logger       zerolog.Logger
}

// Config encapsulates the tunables for Infer construction.
type Config struct {
	// MaxConcurrentRequests is the admission gate capacity.
	MaxConcurrentRequests int
	// ChatTemplate is optional; ApplyChatTemplate fails with a template
	// error when nil.
	ChatTemplate ChatTemplateRenderer
	Logger       zerolog.Logger
}

// New constructs the orchestration core.
func New(backend Backend, validation Validator, meters energy.Source, cfg Config) *Infer {
	return &Infer{
		backend:      backend,
		validation:   validation,
		chatTemplate: cfg.ChatTemplate,
		gate:         NewAdmissionGate(cfg.MaxConcurrentRequests),
		health:       newHealthTracker(backend.StartHealth()),
		energy:       meters,
		logger:       cfg.Logger,
	}
}

// recordFailure classifies err into the failure counter and emits it on the
// error channel.
func (i *Infer) recordFailure(err error) {
	requestFailure.WithLabelValues(ErrorType(err)).Inc()
	i.logger.Error().Err(err).Str("err_type", ErrorType(err)).Msg("request failed")
}

// wrapGeneration coerces an arbitrary backend error into the taxonomy,
// leaving already-classified errors untouched.
func wrapGeneration(err error) error {
	switch err.(type) {
	case *GenerationError, *OverloadedError, *ValidationError,
		*IncompleteGenerationError, *IncompleteGenerationStreamError,
		*TemplateError, *MissingTemplateVariableError, *ToolError,
		*StreamSerializationError, *EnergyConsumptionError:
		return err
	}
	return &GenerationError{Msg: err.Error()}
}

// GenerateStream admits and schedules a request, returning the admission
// permit, the tokenized input length and the rewritten event stream. The
// permit stays held for the lifetime of the stream; continuations never
// re-acquire. Entry failures (meter, admission, validation, scheduling) are
// returned synchronously and never reach the stream.
func (i *Infer) GenerateStream(ctx context.Context, req types.GenerateRequest) (*Permit, uint32, *EventStream, error) {
	// Energy first: a request that cannot be metered never takes a slot.
	meter, err := i.energy.Acquire()
	if err != nil {
		eErr := &EnergyConsumptionError{Msg: err.Error()}
		i.recordFailure(eErr)
		return nil, 0, nil, eErr
	}
	energyStart, err := meter.Read()
	if err != nil {
		eErr := &EnergyConsumptionError{Msg: err.Error()}
		i.recordFailure(eErr)
		return nil, 0, nil, eErr
	}

	permit, err := i.gate.TryAcquire()
	if err != nil {
		i.recordFailure(err)
		return nil, 0, nil, err
	}

	// localReq is the working copy mutated by continuations.
	localReq := req.Clone()
	valid, err := i.validation.Validate(ctx, req)
	if err != nil {
		permit.Release()
		vErr := &ValidationError{Cause: err}
		i.recordFailure(vErr)
		return nil, 0, nil, vErr
	}

	// Stabilize the seed so continuations re-validate with the same one.
	seed := valid.Parameters.Seed
	localReq.Parameters.Seed = &seed
	inputLength := valid.InputLength
	maxTotalNewTokens := valid.StoppingParameters.MaxTotalNewTokens

	streamCtx, cancel := context.WithCancel(ctx)
	src, err := i.backend.Schedule(streamCtx, valid)
	if err != nil {
		cancel()
		permit.Release()
		gErr := wrapGeneration(err)
		i.recordFailure(gErr)
		return nil, 0, nil, gErr
	}

	out := make(chan StreamResult)
	stream := &EventStream{events: out, cancel: cancel}
	d := &streamDriver{
		infer:             i,
		ctx:               streamCtx,
		out:               out,
		meter:             meter,
		localReq:          localReq,
		maxTotalNewTokens: maxTotalNewTokens,
		energyStart:       energyStart,
	}
	go func() {
		defer permit.Release()
		defer close(out)
		d.run(src)
	}()

	return permit, inputLength, stream, nil
}

// Tokenize runs pure tokenization on the request input via the validator.
func (i *Infer) Tokenize(ctx context.Context, req types.TokenizeRequest) (*Encoding, error) {
	enc, err := i.validation.Tokenize(ctx, req.Inputs, req.AddSpecialTokens, req.Truncate)
	if err != nil {
		vErr := &ValidationError{Cause: err}
		i.recordFailure(vErr)
		return nil, vErr
	}
	return enc, nil
}

// ApplyChatTemplate renders messages with the configured chat template.
func (i *Infer) ApplyChatTemplate(messages []types.Message, tools []types.Tool, toolPrompt string) (string, error) {
	if i.chatTemplate == nil {
		tErr := &TemplateError{Cause: ErrTemplateNotFound}
		i.recordFailure(tErr)
		return "", tErr
	}
	out, err := i.chatTemplate.Apply(messages, tools, toolPrompt)
	if err != nil {
		if !IsTemplate(err) {
			err = &TemplateError{Cause: err}
		}
		i.recordFailure(err)
		return "", err
	}
	return out, nil
}

// Health probes the backend, updates the latched state and returns the new
// value.
func (i *Infer) Health(ctx context.Context) bool {
	return i.health.probe(ctx, i.backend)
}

// BackendName reports the configured backend's name for /info.
func (i *Infer) BackendName() string { return i.backend.Name() }
