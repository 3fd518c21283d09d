package domain

import "time"

// Store is C1: durable persistence for the queue and its referenced
// entities. A single Postgres-backed implementation lives in
// internal/adapter/repo/postgres; it is also the only cross-process shared
// state in the system (spec.md §5).
type Store interface {
	InsertRequest(ctx Context, r Request) (string, error)
	ClaimOne(ctx Context) (Request, error)
	Complete(ctx Context, id string, status RequestStatus, content string, meta *ResponseMetadata, errMsg string) (bool, error)
	IncrementRetry(ctx Context, id string) error
	GetStats(ctx Context) (QueueStats, error)
	PurgeTerminalOlderThan(ctx Context, cutoff time.Time) (int64, error)

	UpsertUserIfAbsent(ctx Context, u User) (string, error)
	UpsertCustomGPTIfAbsent(ctx Context, g CustomGPT) (string, error)
	UpsertThreadIfAbsent(ctx Context, t Thread) (string, error)
	InsertMessage(ctx Context, m Message) (string, error)

	// GetCustomGPT looks up the persona a queue row is addressed to, so the
	// dispatcher can assemble the adapter's InferRequest. Returns
	// ErrNotFound when custom_gpt_id names no row.
	GetCustomGPT(ctx Context, id string) (CustomGPT, error)

	RecordAudit(ctx Context, action, userID, requestID string, status ComplianceStatus, details string) error
}

// AcquireResult is the outcome of an Arbiter.Acquire call.
type AcquireResult int

const (
	Acquired AcquireResult = iota
	TimedOut
)

// Arbiter is C3: a single-permit resource semaphore around the process's
// one GPU, plus usage accounting.
type Arbiter interface {
	Acquire(ctx Context, deadline time.Time, holder string) (AcquireResult, error)
	// Release must panic if called without a prior successful Acquire
	// ("must raise loudly", spec.md §4.3 — a deliberate deviation from the
	// warn-only original).
	Release()
	Stats() ArbiterStats
}

// ArbiterStats mirrors the usage accounting the original GPU manager kept.
type ArbiterStats struct {
	TotalAcquisitions int64
	TotalWaitTimeMS   int64
	CurrentHolder     string
	AcquiredAt        *time.Time
}

// InferenceAdapter is C4: the sole interface to the large-language-model
// backend. Retrying a failed inference attempt is the dispatcher's job
// (spec.md §4.4); an implementation may still repeat a failed transport call
// within one Infer, as the real adapter does for network/5xx failures.
type InferenceAdapter interface {
	Infer(ctx Context, req InferRequest) (InferResult, error)
}

// InferRequest bundles everything the adapter needs to build a prompt.
type InferRequest struct {
	Specialization  Specialization
	SystemPrompt    string
	ToolsEnabled    []string
	Message         string
	ContextMessages []string
	Attachments     []Attachment
	Deadline        time.Time
}

// InferResult is the adapter's successful output.
type InferResult struct {
	Content  string
	Metadata ResponseMetadata
}

// SideEffectInput bundles everything the side-effect writer needs to run
// its idempotent chain after a successful inference (spec.md §4.5).
type SideEffectInput struct {
	UserID           string
	CustomGPTID      string
	ThreadID         string
	Specialization   Specialization
	UserMessage      string
	AssistantContent string
	Metadata         ResponseMetadata
}

// SideEffectWriter is C5: the idempotent ensure-user/ensure-gpt/ensure-
// thread/insert-message chain. Write returns ErrSideEffect only when the
// final message insert itself fails. The dispatcher treats that failure as
// non-fatal: it logs a warning and still completes the queue row. The
// failure is not recorded in the row's response metadata.
type SideEffectWriter interface {
	Write(ctx Context, in SideEffectInput) error
}
