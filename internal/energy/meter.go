// Package energy reads the GPU's monotonic energy counter so the inference
// core can attribute per-token energy. One Source is shared by all requests;
// meters are acquired per request and readers may run concurrently.
package energy

import "sync"

// Meter reads the total energy consumed by a device since its last reset, in
// millijoules. Reads are expected to be sub-millisecond and thread-safe.
type Meter interface {
	Read() (uint64, error)
}

// Source hands out meters. Acquisition can fail per request (driver not
// loaded, device absent); the request then fails before scheduling.
type Source interface {
	Acquire() (Meter, error)
}

// Scripted is a test double replaying a fixed sequence of readings. After the
// sequence is exhausted it keeps returning the last value, matching the
// counter's monotonic behavior on an idle device.
type Scripted struct {
	mu     sync.Mutex
	values []uint64
	i      int
}

// NewScripted returns a scripted meter. At least one value is required.
func NewScripted(values ...uint64) *Scripted {
	if len(values) == 0 {
		values = []uint64{0}
	}
	return &Scripted{values: values}
}

func (s *Scripted) Acquire() (Meter, error) { return s, nil }

func (s *Scripted) Read() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.i]
	if s.i < len(s.values)-1 {
		s.i++
	}
	return v, nil
}

// Disabled is the source used when metering is turned off. Every reading is
// zero, so all attributed energy deltas are zero as well.
type Disabled struct{}

func (Disabled) Acquire() (Meter, error) { return Disabled{}, nil }

func (Disabled) Read() (uint64, error) { return 0, nil }

// FailingSource always fails acquisition; used to exercise the pre-schedule
// failure path.
type FailingSource struct{ Err error }

func (f FailingSource) Acquire() (Meter, error) { return nil, f.Err }

// FailingMeter acquires fine but fails every read.
type FailingMeter struct{ Err error }

func (f FailingMeter) Acquire() (Meter, error) { return f, nil }

func (f FailingMeter) Read() (uint64, error) { return 0, f.Err }
