//go:build !llama

// Package local runs inference in-process through go-llama.cpp. This file is
// the no-CGO stub compiled when the 'llama' build tag is NOT set, keeping
// default builds and CI CGO-free.
package local

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"inferd/internal/infer"
)

// Built indicates this binary carries real llama support.
const Built = false

var errNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")

// Config describes the model to load.
type Config struct {
	ModelPath   string
	ContextSize int
	Threads     int
	Logger      zerolog.Logger
}

// Backend is a stub that satisfies infer.Backend but refuses to run.
type Backend struct{}

// New fails fast: the llama runtime is not available in this build.
func New(Config) (*Backend, error) {
	return nil, errNotBuilt
}

func (b *Backend) Name() string { return "llamacpp-local" }

func (b *Backend) StartHealth() bool { return false }

func (b *Backend) Health(context.Context, bool) bool { return false }

func (b *Backend) Close() error { return nil }

func (b *Backend) Schedule(context.Context, *infer.ValidatedRequest) (<-chan infer.StreamResult, error) {
	return nil, errNotBuilt
}

func (b *Backend) Encode(context.Context, string, bool) (*infer.Encoding, error) {
	return nil, errNotBuilt
}
