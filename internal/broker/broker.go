// Package broker implements C2, the policy layer over domain.Store that
// gives the system its priority-fair FIFO queue, at-least-once delivery,
// and cached statistics.
package broker

import (
	"sync"
	"time"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

// statsCacheTTL matches original_source/inference/src/services/queue_service.py's
// _cache_ttl = timedelta(seconds=30).
const statsCacheTTL = 30 * time.Second

// Broker wraps a domain.Store with the stats-caching and queue-health
// policy spec.md §4.2 describes. It holds no other state: claim fairness
// and completion atomicity live entirely in the Store's SQL.
type Broker struct {
	store domain.Store

	mu        sync.Mutex
	cached    domain.QueueStats
	cachedAt  time.Time
	hasCached bool
}

// New constructs a Broker over the given Store.
func New(store domain.Store) *Broker {
	return &Broker{store: store}
}

// Enqueue inserts a new request, clamping priority to [1,10] (spec.md
// §4.7's silent-clamp rule lives here too since any direct Store caller
// should get the same guarantee the Intake API gives).
func (b *Broker) Enqueue(ctx domain.Context, r domain.Request) (string, error) {
	if r.Priority < 1 {
		r.Priority = 1
	}
	if r.Priority > 10 {
		r.Priority = 10
	}
	return b.store.InsertRequest(ctx, r)
}

// ClaimOne claims the next eligible row, or domain.ErrNotFound if the queue
// is empty.
func (b *Broker) ClaimOne(ctx domain.Context) (domain.Request, error) {
	return b.store.ClaimOne(ctx)
}

// Complete records a terminal outcome for a previously claimed row.
func (b *Broker) Complete(ctx domain.Context, id string, status domain.RequestStatus, content string, meta *domain.ResponseMetadata, errMsg string) (bool, error) {
	return b.store.Complete(ctx, id, status, content, meta, errMsg)
}

// IncrementRetry persists a retry attempt; the row stays in processing.
func (b *Broker) IncrementRetry(ctx domain.Context, id string) error {
	return b.store.IncrementRetry(ctx, id)
}

// Stats returns the cached snapshot if it is no more than 30 seconds stale,
// otherwise refreshes it from the Store.
func (b *Broker) Stats(ctx domain.Context) (domain.QueueStats, error) {
	b.mu.Lock()
	if b.hasCached && time.Since(b.cachedAt) < statsCacheTTL {
		stats := b.cached
		b.mu.Unlock()
		return stats, nil
	}
	b.mu.Unlock()

	fresh, err := b.store.GetStats(ctx)
	if err != nil {
		return domain.QueueStats{}, err
	}

	b.mu.Lock()
	b.cached = fresh
	b.cachedAt = time.Now()
	b.hasCached = true
	b.mu.Unlock()
	return fresh, nil
}

// Health classifies current load, a feature the distillation dropped that
// original_source/inference/src/services/queue_service.py's
// _calculate_queue_health provides: critical once pending exceeds 50,
// warning once pending exceeds 20 or average completion exceeds 30s,
// active when anything is in flight, idle otherwise.
func (b *Broker) Health(ctx domain.Context) (domain.QueueHealth, error) {
	stats, err := b.Stats(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case stats.Pending > 50:
		return domain.HealthCritical, nil
	case stats.Pending > 20 || stats.AverageCompletionMS > 30_000:
		return domain.HealthWarning, nil
	case stats.Pending > 0 || stats.Processing > 0:
		return domain.HealthActive, nil
	default:
		return domain.HealthIdle, nil
	}
}

// PurgeTerminalOlderThan deletes terminal rows created before cutoff.
func (b *Broker) PurgeTerminalOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	return b.store.PurgeTerminalOlderThan(ctx, cutoff)
}
