// Package dispatcher implements C6, the single-threaded poll-claim-process
// loop that drives the queue from pending to a terminal state.
//
// Grounded on the teacher's cmd/worker/main.go bootstrap/signal-handling
// shape (collapsed onto a single poll-claim-process cycle instead of a
// message-bus subscribe loop) and internal/observability/circuit_breaker.go's
// mutex-guarded state-struct shape, simplified to the single-threshold
// consecutive-exception counter spec.md §4.6 describes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
	"github.com/baker-compliant-ai/bakerbroker/internal/observability"
)

// breakerMaxExceptions is the consecutive-cycle-exception threshold at
// which the dispatcher gives up and exits (spec.md §4.6).
const breakerMaxExceptions = 5

// statsMilestone is how often processed-request statistics are flushed to
// the log.
const statsMilestone = 100

// Dispatcher owns one Arbiter and drives requests from the shared Store
// through the InferenceAdapter and SideEffectWriter to completion. One
// instance runs per process; operators scale by running more processes
// against more GPU hosts, each pointed at the same Store (spec.md §5).
type Dispatcher struct {
	store       domain.Store
	arbiter     domain.Arbiter
	adapter     domain.InferenceAdapter
	sideEffects domain.SideEffectWriter
	log         *slog.Logger

	pollInterval time.Duration
	gpuTimeout   time.Duration
	maxAttempts  int

	mu                    sync.Mutex
	consecutiveExceptions int
	processed             int64
}

// Config bundles the tunables the dispatcher loop reads from
// internal/config.Config without importing that package directly, keeping
// the dependency direction inward.
type Config struct {
	PollInterval    time.Duration
	GPUTimeout      time.Duration
	MaxQueueRetries int
}

// New constructs a Dispatcher over the given collaborators.
func New(store domain.Store, arbiter domain.Arbiter, adapter domain.InferenceAdapter, sideEffects domain.SideEffectWriter, log *slog.Logger, cfg Config) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:        store,
		arbiter:      arbiter,
		adapter:      adapter,
		sideEffects:  sideEffects,
		log:          log,
		pollInterval: cfg.PollInterval,
		gpuTimeout:   cfg.GPUTimeout,
		maxAttempts:  cfg.MaxQueueRetries + 1,
	}
}

// Run drives the loop until ctx is cancelled. It always finishes an
// in-flight request before returning (spec.md §4.6's shutdown contract) and
// exits early if the circuit breaker trips.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping: context cancelled")
			return nil
		default:
		}

		exception := d.tick(ctx)
		if exception == nil {
			d.resetBreaker()
			continue
		}
		if errors.Is(exception, context.Canceled) {
			return nil
		}

		observability.DispatcherCycleExceptions.Inc()
		tripped, sleep := d.recordException()
		d.log.Warn("dispatcher cycle exception", "error", exception, "sleep", sleep)
		if tripped {
			d.log.Error("dispatcher circuit breaker tripped, exiting", "consecutive_exceptions", breakerMaxExceptions)
			return fmt.Errorf("op=dispatcher.Run: consecutive cycle exceptions reached %d", breakerMaxExceptions)
		}
		sleepOrDone(ctx, sleep)
	}
}

// tick runs exactly one poll-claim-process cycle. A nil return means the
// cycle completed cleanly (including "queue was empty" and "request failed
// terminally" outcomes) — only an unexpected, unrecovered error counts
// against the circuit breaker.
func (d *Dispatcher) tick(ctx context.Context) error {
	req, err := d.store.ClaimOne(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			sleepOrDone(ctx, d.pollInterval)
			return nil
		}
		if errors.Is(err, domain.ErrUnsupportedRequestType) {
			d.failUnsupported(ctx, req)
			return nil
		}
		return fmt.Errorf("op=dispatcher.tick.claim: %w", err)
	}
	if req.RequestType != domain.RequestTypeChat {
		d.failUnsupported(ctx, req)
		return nil
	}

	d.audit(ctx, "claim", req, domain.ComplianceStatusCompliant, "ok")
	// A claimed request is processed to completion even if ctx is cancelled
	// meanwhile; cancellation is only observed between ticks.
	d.processClaimed(context.WithoutCancel(ctx), req)
	return nil
}

func (d *Dispatcher) failUnsupported(ctx context.Context, req domain.Request) {
	d.log.Warn("claimed request of unsupported type", "request_id", req.ID, "request_type", req.RequestType)
	if _, err := d.store.Complete(ctx, req.ID, domain.StatusFailed, "", nil, "unsupported request type"); err != nil {
		d.log.Error("failed to mark unsupported request as failed", "request_id", req.ID, "error", err)
	}
	d.audit(ctx, "fail", req, domain.ComplianceStatusCompliant, "unsupported request type")
	d.bumpProcessed()
}

// audit best-effort appends one row to the compliance audit stream
// (spec.md §6); a failure here never blocks or retries queue processing —
// it only gets a warning log. status is the compliance verdict
// (COMPLIANT/NON_COMPLIANT/REVIEW_REQUIRED), never an operational outcome
// like ok/error/timeout — those belong in details.
func (d *Dispatcher) audit(ctx context.Context, action string, req domain.Request, status domain.ComplianceStatus, details string) {
	if err := d.store.RecordAudit(ctx, action, req.UserID, req.ID, status, details); err != nil {
		d.log.Warn("audit record failed", "action", action, "request_id", req.ID, "error", err)
	}
}

// processClaimed runs steps 2-6 of spec.md §4.6's per-request state machine
// for one already-claimed row.
func (d *Dispatcher) processClaimed(ctx context.Context, req domain.Request) {
	defer d.bumpProcessed()

	acquireDeadline := time.Now().Add(d.gpuTimeout)
	waitStart := time.Now()
	result, err := d.arbiter.Acquire(ctx, acquireDeadline, req.ID)
	if err != nil {
		d.log.Error("arbiter acquire error", "request_id", req.ID, "error", err)
		d.audit(ctx, "arbiter_acquire", req, domain.ComplianceStatusCompliant, "error: "+err.Error())
		d.completeFailed(ctx, req, "GPU resource error")
		return
	}
	observability.ArbiterWaitDuration.Observe(time.Since(waitStart).Seconds())
	if result == domain.TimedOut {
		d.audit(ctx, "arbiter_acquire", req, domain.ComplianceStatusCompliant, "timeout")
		d.completeFailed(ctx, req, "GPU resource timeout")
		return
	}
	d.audit(ctx, "arbiter_acquire", req, domain.ComplianceStatusCompliant, "ok")
	defer func() {
		d.arbiter.Release()
		d.audit(ctx, "arbiter_release", req, domain.ComplianceStatusCompliant, "ok")
	}()

	gpt, err := d.store.GetCustomGPT(ctx, req.CustomGPTID)
	if err != nil {
		d.log.Warn("custom gpt lookup failed, using general defaults", "request_id", req.ID, "custom_gpt_id", req.CustomGPTID, "error", err)
		gpt = domain.CustomGPT{ID: req.CustomGPTID, Specialization: domain.SpecializationGeneral}
	}

	chatInput, ok := req.InputData.(domain.ChatInput)
	if !ok {
		d.completeFailed(ctx, req, "request carries no chat input")
		return
	}

	inferResult, err := d.inferWithRetries(ctx, req, chatInput, gpt)
	if err != nil {
		d.log.Warn("inference failed after retries", "request_id", req.ID, "error", err)
		d.completeFailed(ctx, req, err.Error())
		return
	}

	meta := inferResult.Metadata
	if err := d.sideEffects.Write(ctx, domain.SideEffectInput{
		UserID:           req.UserID,
		CustomGPTID:      req.CustomGPTID,
		ThreadID:         req.ThreadID,
		Specialization:   gpt.Specialization,
		UserMessage:      chatInput.Message,
		AssistantContent: inferResult.Content,
		Metadata:         meta,
	}); err != nil {
		d.log.Warn("side effect write failed, completing request anyway", "request_id", req.ID, "error", err)
	}

	if _, err := d.store.Complete(ctx, req.ID, domain.StatusCompleted, inferResult.Content, &meta, ""); err != nil {
		d.log.Error("failed to mark request completed", "request_id", req.ID, "error", err)
	}
	d.audit(ctx, "complete", req, complianceVerdict(meta), "ok")
	observability.RequestsCompletedTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
}

// complianceVerdict maps a completed response's metadata onto the
// compliance_audit_log enum (spec.md §6): a failed SEC check always wins
// over a mere review flag.
func complianceVerdict(meta domain.ResponseMetadata) domain.ComplianceStatus {
	if !meta.SecCompliant {
		return domain.ComplianceStatusNonCompliant
	}
	if meta.HumanReviewRequired {
		return domain.ComplianceStatusReviewRequired
	}
	return domain.ComplianceStatusCompliant
}

// inferWithRetries attempts up to d.maxAttempts calls to the adapter,
// backing off min(2^attempt, 10) seconds between failures. A
// domain.ErrBackendUsageLimit is never retried (spec.md §4.6).
func (d *Dispatcher) inferWithRetries(ctx context.Context, req domain.Request, in domain.ChatInput, gpt domain.CustomGPT) (domain.InferResult, error) {
	infReq := domain.InferRequest{
		Specialization:  gpt.Specialization,
		SystemPrompt:    gpt.SystemPrompt,
		ToolsEnabled:    gpt.ToolsEnabled,
		Message:         in.Message,
		ContextMessages: in.ContextMessages,
		Attachments:     in.Attachments,
		Deadline:        time.Now().Add(d.gpuTimeout),
	}

	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		start := time.Now()
		res, err := d.adapter.Infer(ctx, infReq)
		elapsed := time.Since(start)
		observability.InferenceDuration.WithLabelValues(string(gpt.Specialization)).Observe(elapsed.Seconds())
		if err == nil {
			res.Metadata.ProcessingTimeMS = elapsed.Milliseconds()
			return res, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrBackendUsageLimit) {
			return domain.InferResult{}, err
		}
		if attempt == d.maxAttempts-1 {
			break
		}
		if err := d.store.IncrementRetry(ctx, req.ID); err != nil {
			d.log.Warn("failed to persist retry count", "request_id", req.ID, "error", err)
		}
		d.audit(ctx, "retry", req, domain.ComplianceStatusCompliant, fmt.Sprintf("attempt %d: %v", attempt+1, lastErr))
		sleepOrDone(ctx, retryBackoff(attempt))
	}
	return domain.InferResult{}, lastErr
}

// retryBackoff implements spec.md §4.6's min(2^attempt, 10)s formula, where
// attempt is the 0-indexed count of the attempt that just failed —
// original_source/inference/src/services/inference_service.py:253,296 uses
// the same convention (1s/2s/4s.../10s, not 2s/4s/8s...).
func retryBackoff(attempt int) time.Duration {
	seconds := math.Min(math.Pow(2, float64(attempt)), 10)
	return time.Duration(seconds * float64(time.Second))
}

func (d *Dispatcher) completeFailed(ctx context.Context, req domain.Request, reason string) {
	if _, err := d.store.Complete(ctx, req.ID, domain.StatusFailed, "", nil, reason); err != nil {
		d.log.Error("failed to mark request failed", "request_id", req.ID, "error", err)
	}
	d.audit(ctx, "fail", req, domain.ComplianceStatusCompliant, reason)
	observability.RequestsCompletedTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
}

func (d *Dispatcher) bumpProcessed() {
	d.mu.Lock()
	d.processed++
	n := d.processed
	d.mu.Unlock()
	if n%statsMilestone == 0 {
		d.log.Info("dispatcher milestone", "requests_processed", n)
	}
}

// recordException increments the consecutive-exception counter and reports
// whether the breaker has now tripped plus how long to sleep before the
// next cycle (min(2*counter, 30)s, per spec.md §4.6).
func (d *Dispatcher) recordException() (tripped bool, sleep time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveExceptions++
	sleepSeconds := math.Min(2*float64(d.consecutiveExceptions), 30)
	return d.consecutiveExceptions >= breakerMaxExceptions, time.Duration(sleepSeconds * float64(time.Second))
}

func (d *Dispatcher) resetBreaker() {
	d.mu.Lock()
	d.consecutiveExceptions = 0
	d.mu.Unlock()
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
