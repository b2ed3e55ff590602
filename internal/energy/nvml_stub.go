//go:build !nvml

package energy

import "errors"

// This file provides a no-CGO stub for the NVML source. It is compiled when
// the 'nvml' build tag is NOT set, keeping default builds and CI CGO-free.
// The real source lives in nvml.go (tagged 'nvml').

var nvmlBuilt = false

// NVML is the stub source compiled without the 'nvml' build tag.
type NVML struct{}

// InitNVML fails fast: NVML support is not compiled into this binary.
func InitNVML(index int) (*NVML, error) {
	return nil, errors.New("nvml support not built (missing 'nvml' build tag)")
}

func (n *NVML) Acquire() (Meter, error) {
	return nil, errors.New("nvml support not built (missing 'nvml' build tag)")
}

func (n *NVML) Shutdown() error { return nil }
