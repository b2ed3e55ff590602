package infer

import (
	"context"
	"sync/atomic"
)

// healthTracker latches the backend's last known health. Stream errors force
// it to false; explicit probes overwrite it with the backend's answer.
type healthTracker struct {
	healthy atomic.Bool
}

func newHealthTracker(start bool) *healthTracker {
	t := &healthTracker{}
	t.healthy.Store(start)
	return t
}

func (t *healthTracker) current() bool { return t.healthy.Load() }

func (t *healthTracker) latchUnhealthy() { t.healthy.Store(false) }

// probe asks the backend, passing the current latched value so a warming
// backend can keep its healthy status without re-warming.
func (t *healthTracker) probe(ctx context.Context, b Backend) bool {
	h := b.Health(ctx, t.healthy.Load())
	t.healthy.Store(h)
	return h
}
