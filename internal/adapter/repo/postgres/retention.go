package postgres

import (
	"context"
	"log/slog"
	"time"
)

// RetentionService periodically purges terminal queue rows older than the
// configured cutoff. Grounded on cleanup.go's CleanupService/RunPeriodic
// shape; unlike the teacher's cascade-delete across jobs/results/uploads,
// this spec's retention guarantee (§4.2) applies only to terminal
// inference_queue rows — users/custom_gpts/threads/messages are not purged.
type RetentionService struct {
	Store         *Store
	RetentionDays int
}

// NewRetentionService constructs a RetentionService.
func NewRetentionService(store *Store, retentionDays int) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &RetentionService{Store: store, RetentionDays: retentionDays}
}

// PurgeOnce runs a single retention sweep.
func (s *RetentionService) PurgeOnce(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)
	deleted, err := s.Store.PurgeTerminalOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention sweep failed", slog.Any("error", err))
		return err
	}
	slog.Info("retention sweep completed", slog.Int64("deleted", deleted), slog.Time("cutoff", cutoff))
	return nil
}

// RunPeriodic runs PurgeOnce immediately and then on every tick of interval
// until ctx is cancelled.
func (s *RetentionService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if err := s.PurgeOnce(ctx); err != nil {
		slog.Error("initial retention sweep failed", slog.Any("error", err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweep stopping")
			return
		case <-ticker.C:
			if err := s.PurgeOnce(ctx); err != nil {
				slog.Error("periodic retention sweep failed", slog.Any("error", err))
			}
		}
	}
}
