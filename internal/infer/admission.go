package infer

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// AdmissionGate bounds the number of in-flight generations process-wide.
// Acquisition is non-blocking only: overload is a synchronous rejection so the
// front-end is free to shed load instead of queueing.
type AdmissionGate struct {
	sem *semaphore.Weighted
}

// NewAdmissionGate returns a gate with the given fixed capacity.
func NewAdmissionGate(maxConcurrentRequests int) *AdmissionGate {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = 1
	}
	return &AdmissionGate{sem: semaphore.NewWeighted(int64(maxConcurrentRequests))}
}

// TryAcquire takes one slot or fails immediately with OverloadedError.
func (g *AdmissionGate) TryAcquire() (*Permit, error) {
	if !g.sem.TryAcquire(1) {
		return nil, &OverloadedError{}
	}
	return &Permit{gate: g}, nil
}

// Permit is an ownership handle for one in-flight request slot. It is moved
// into the event stream so that its release coincides with the end of the
// stream's life. Release is idempotent: the slot returns to the gate when the
// first of (stream close, explicit release) happens.
type Permit struct {
	gate *AdmissionGate
	once sync.Once
}

// Release returns the slot to the gate. Safe to call more than once.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() { p.gate.sem.Release(1) })
}
