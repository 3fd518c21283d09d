package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

// InsertRequest inserts a new queue row and returns its id.
//
// Grounded on jobs_repo.go's Create: generate a uuid when the caller leaves
// ID empty, insert within a span, wrap errors with an "op=" prefix.
func (s *Store) InsertRequest(ctx domain.Context, r domain.Request) (string, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.InsertRequest")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "inference_queue"))

	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	requestType, payload, err := domain.EncodeInputData(r.InputData)
	if err != nil {
		return "", fmt.Errorf("op=queue.insert: %w", err)
	}
	status := r.Status
	if status == "" {
		status = domain.StatusPending
	}
	q := `INSERT INTO inference_queue
		(id, user_id, custom_gpt_id, thread_id, request_type, input_data, priority, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = s.Pool.Exec(ctx, q, id, r.UserID, r.CustomGPTID, r.ThreadID, requestType, payload, r.Priority, status, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=queue.insert: %w: %w", domain.ErrStore, err)
	}
	return id, nil
}

// ClaimOne atomically selects and claims the highest-priority, oldest
// pending row. The inner SELECT ... FOR UPDATE SKIP LOCKED is the
// serialization discriminator spec.md §4.1 requires: two dispatchers racing
// on the same row never both win it, and a loser moves on to a different
// row (or finds none) instead of blocking.
func (s *Store) ClaimOne(ctx domain.Context) (domain.Request, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.ClaimOne")
	defer span.End()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Request{}, fmt.Errorf("op=queue.claim.begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	q := `UPDATE inference_queue SET status='processing', started_at=$1
		WHERE id = (
			SELECT id FROM inference_queue
			WHERE status='pending'
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, custom_gpt_id, thread_id, request_type, input_data, priority, status, retry_count, created_at, started_at`
	now := time.Now().UTC()
	row := tx.QueryRow(ctx, q, now)

	var r domain.Request
	var requestType domain.RequestType
	var payload []byte
	if err := row.Scan(&r.ID, &r.UserID, &r.CustomGPTID, &r.ThreadID, &requestType, &payload,
		&r.Priority, &r.Status, &r.RetryCount, &r.CreatedAt, &r.StartedAt); err != nil {
		if err == pgx.ErrNoRows {
			if cerr := tx.Commit(ctx); cerr != nil {
				return domain.Request{}, fmt.Errorf("op=queue.claim.commit: %w", cerr)
			}
			committed = true
			return domain.Request{}, fmt.Errorf("op=queue.claim: %w", domain.ErrNotFound)
		}
		return domain.Request{}, fmt.Errorf("op=queue.claim.scan: %w", err)
	}

	input, err := domain.DecodeInputData(requestType, payload)
	if err != nil {
		// Unsupported request type: let the caller see it, but still commit
		// the claim so the row transitions out of pending exactly once.
		r.RequestType = requestType
		if cerr := tx.Commit(ctx); cerr != nil {
			return domain.Request{}, fmt.Errorf("op=queue.claim.commit: %w", cerr)
		}
		committed = true
		return r, err
	}
	r.RequestType = requestType
	r.InputData = input

	if err := tx.Commit(ctx); err != nil {
		return domain.Request{}, fmt.Errorf("op=queue.claim.commit: %w", err)
	}
	committed = true
	return r, nil
}

// Complete writes the terminal outcome of a previously claimed row. It only
// succeeds against a row currently in status='processing' — the second half
// of the claim/complete discriminator pattern — and reports whether it did
// anything so the dispatcher can tell a lost race from a real write.
func (s *Store) Complete(ctx domain.Context, id string, status domain.RequestStatus, content string, meta *domain.ResponseMetadata, errMsg string) (bool, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.Complete")
	defer span.End()

	var metaJSON []byte
	var err error
	if meta != nil {
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return false, fmt.Errorf("op=queue.complete: %w", err)
		}
	}

	q := `UPDATE inference_queue
		SET status=$2, completed_at=$3, response_content=$4, response_metadata=$5, error_message=$6
		WHERE id=$1 AND status='processing'`
	tag, err := s.Pool.Exec(ctx, q, id, status, time.Now().UTC(), content, metaJSON, errMsg)
	if err != nil {
		return false, fmt.Errorf("op=queue.complete: %w: %w", domain.ErrStore, err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementRetry bumps retry_count on a row that is still in processing,
// per spec.md §4.6's bounded-retry policy (the dispatcher decides whether to
// retry and re-runs the attempt itself; the Store only persists the count).
// The row stays in processing so the dispatcher's final Complete still
// applies to it.
func (s *Store) IncrementRetry(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.IncrementRetry")
	defer span.End()

	q := `UPDATE inference_queue SET retry_count = retry_count + 1
		WHERE id=$1 AND status='processing'`
	tag, err := s.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=queue.increment_retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=queue.increment_retry: %w", domain.ErrConflict)
	}
	return nil
}

// GetStats computes the aggregate snapshot the broker caches for up to 30
// seconds (spec.md §4.2).
func (s *Store) GetStats(ctx domain.Context) (domain.QueueStats, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.GetStats")
	defer span.End()

	q := `SELECT
		COUNT(*) FILTER (WHERE status='pending'),
		COUNT(*) FILTER (WHERE status='processing'),
		COUNT(*) FILTER (WHERE status='completed'),
		COUNT(*) FILTER (WHERE status='failed'),
		COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000)
			FILTER (WHERE status='completed' AND completed_at IS NOT NULL AND started_at IS NOT NULL), 0)
		FROM inference_queue`
	row := s.Pool.QueryRow(ctx, q)
	var stats domain.QueueStats
	if err := row.Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed, &stats.AverageCompletionMS); err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=queue.get_stats: %w", err)
	}
	stats.AsOf = time.Now().UTC()
	return stats, nil
}

// PurgeTerminalOlderThan deletes completed/failed rows created before
// cutoff, per spec.md §4.2's retention guarantee (never touches
// pending/processing rows regardless of age).
func (s *Store) PurgeTerminalOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.PurgeTerminalOlderThan")
	defer span.End()

	q := `DELETE FROM inference_queue WHERE status IN ('completed','failed') AND created_at < $1`
	tag, err := s.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=queue.purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
