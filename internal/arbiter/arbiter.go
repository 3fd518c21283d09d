// Package arbiter implements C3, the single-permit resource semaphore
// around one process's GPU.
//
// Grounded on original_source/inference/src/services/gpu_manager.py's
// GPUResourceManager: an asyncio.Semaphore(1) plus usage accounting,
// translated to a buffered channel of size 1 (the idiomatic Go single-permit
// semaphore) and a mutex-guarded stats struct.
package arbiter

import (
	"sync"
	"time"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

// Arbiter is the concrete, explicitly-constructed implementation of
// domain.Arbiter — one instance per process, one GPU per instance, no
// global singleton (a REDESIGN FLAG the original's module-level manager
// violated).
type Arbiter struct {
	permit chan struct{}

	mu                sync.Mutex
	held              bool
	holder            string
	acquiredAt        time.Time
	totalAcquisitions int64
	totalWaitTimeMS   int64
}

// New constructs an Arbiter with its single permit free.
func New() *Arbiter {
	a := &Arbiter{permit: make(chan struct{}, 1)}
	a.permit <- struct{}{}
	return a
}

// Acquire blocks until the permit is available or deadline passes,
// whichever comes first. holder identifies the caller for usage accounting
// and for the loud-fault message if Release is misused.
func (a *Arbiter) Acquire(ctx domain.Context, deadline time.Time, holder string) (domain.AcquireResult, error) {
	start := time.Now()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-a.permit:
		waited := time.Since(start)
		a.mu.Lock()
		a.held = true
		a.holder = holder
		a.acquiredAt = time.Now()
		a.totalAcquisitions++
		a.totalWaitTimeMS += waited.Milliseconds()
		a.mu.Unlock()
		return domain.Acquired, nil
	case <-timer.C:
		return domain.TimedOut, nil
	case <-ctx.Done():
		return domain.TimedOut, ctx.Err()
	}
}

// Release returns the permit. It panics if called without a prior
// successful Acquire — spec.md §4.3 requires the Arbiter to "raise loudly
// (not silently recover)", a deliberate inversion of the original's
// release_resource, which only logged a warning and returned.
func (a *Arbiter) Release() {
	a.mu.Lock()
	if !a.held {
		a.mu.Unlock()
		panic("arbiter: Release called without a held permit")
	}
	a.held = false
	a.holder = ""
	a.mu.Unlock()
	a.permit <- struct{}{}
}

// Stats returns a snapshot of usage accounting.
func (a *Arbiter) Stats() domain.ArbiterStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := domain.ArbiterStats{
		TotalAcquisitions: a.totalAcquisitions,
		TotalWaitTimeMS:   a.totalWaitTimeMS,
		CurrentHolder:     a.holder,
	}
	if a.held {
		acquiredAt := a.acquiredAt
		stats.AcquiredAt = &acquiredAt
	}
	return stats
}

var _ domain.Arbiter = (*Arbiter)(nil)
