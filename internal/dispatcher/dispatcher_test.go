package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

type fakeStore struct {
	domain.Store
	claims         []domain.Request
	claimErr       error
	gpt            domain.CustomGPT
	gptErr         error
	completed      []domain.RequestStatus
	retryCalls     int
	auditedActions []string
}

func (f *fakeStore) ClaimOne(ctx domain.Context) (domain.Request, error) {
	if f.claimErr != nil {
		return domain.Request{}, f.claimErr
	}
	if len(f.claims) == 0 {
		return domain.Request{}, domain.ErrNotFound
	}
	r := f.claims[0]
	f.claims = f.claims[1:]
	return r, nil
}

func (f *fakeStore) GetCustomGPT(ctx domain.Context, id string) (domain.CustomGPT, error) {
	if f.gptErr != nil {
		return domain.CustomGPT{}, f.gptErr
	}
	return f.gpt, nil
}

func (f *fakeStore) Complete(ctx domain.Context, id string, status domain.RequestStatus, content string, meta *domain.ResponseMetadata, errMsg string) (bool, error) {
	f.completed = append(f.completed, status)
	return true, nil
}

func (f *fakeStore) IncrementRetry(ctx domain.Context, id string) error {
	f.retryCalls++
	return nil
}

func (f *fakeStore) RecordAudit(ctx domain.Context, action, userID, requestID string, status domain.ComplianceStatus, details string) error {
	f.auditedActions = append(f.auditedActions, action+":"+string(status))
	return nil
}

type fakeArbiter struct {
	result domain.AcquireResult
	err    error
}

func (f *fakeArbiter) Acquire(ctx domain.Context, deadline time.Time, holder string) (domain.AcquireResult, error) {
	return f.result, f.err
}
func (f *fakeArbiter) Release()                  {}
func (f *fakeArbiter) Stats() domain.ArbiterStats { return domain.ArbiterStats{} }

type fakeAdapter struct {
	results []domain.InferResult
	errs    []error
	calls   int
}

func (f *fakeAdapter) Infer(ctx domain.Context, req domain.InferRequest) (domain.InferResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.InferResult{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return domain.InferResult{}, errors.New("no more canned results")
}

type fakeSideEffects struct {
	err   error
	calls int
}

func (f *fakeSideEffects) Write(ctx domain.Context, in domain.SideEffectInput) error {
	f.calls++
	return f.err
}

func newRequest(id string) domain.Request {
	return domain.Request{
		ID:          id,
		UserID:      "u1",
		CustomGPTID: "g1",
		ThreadID:    "t1",
		RequestType: domain.RequestTypeChat,
		InputData:   domain.ChatInput{Message: "hello"},
	}
}

func TestDispatcher_Tick_EmptyQueueReturnsNilAndSleeps(t *testing.T) {
	d := New(&fakeStore{}, &fakeArbiter{result: domain.Acquired}, &fakeAdapter{}, &fakeSideEffects{}, nil,
		Config{PollInterval: time.Millisecond, GPUTimeout: time.Second, MaxQueueRetries: 0})

	err := d.tick(context.Background())
	assert.NoError(t, err)
}

func TestDispatcher_ProcessClaimed_HappyPath(t *testing.T) {
	store := &fakeStore{
		claims: []domain.Request{newRequest("r1")},
		gpt:    domain.CustomGPT{ID: "g1", Specialization: domain.SpecializationGeneral},
	}
	adapter := &fakeAdapter{results: []domain.InferResult{{Content: "answer", Metadata: domain.ResponseMetadata{Confidence: 0.9}}}}
	sideEffects := &fakeSideEffects{}
	d := New(store, &fakeArbiter{result: domain.Acquired}, adapter, sideEffects, nil,
		Config{PollInterval: time.Millisecond, GPUTimeout: time.Second, MaxQueueRetries: 0})

	err := d.tick(context.Background())
	require.NoError(t, err)
	require.Len(t, store.completed, 1)
	assert.Equal(t, domain.StatusCompleted, store.completed[0])
	assert.Equal(t, 1, sideEffects.calls)
	assert.Equal(t, []string{
		"claim:COMPLIANT", "arbiter_acquire:COMPLIANT", "complete:COMPLIANT", "arbiter_release:COMPLIANT",
	}, store.auditedActions)
}

func TestDispatcher_ProcessClaimed_ArbiterTimeoutFailsFast(t *testing.T) {
	store := &fakeStore{claims: []domain.Request{newRequest("r1")}}
	d := New(store, &fakeArbiter{result: domain.TimedOut}, &fakeAdapter{}, &fakeSideEffects{}, nil,
		Config{PollInterval: time.Millisecond, GPUTimeout: time.Second, MaxQueueRetries: 0})

	err := d.tick(context.Background())
	require.NoError(t, err)
	require.Len(t, store.completed, 1)
	assert.Equal(t, domain.StatusFailed, store.completed[0])
}

func TestDispatcher_InferWithRetries_UsageLimitIsNotRetried(t *testing.T) {
	store := &fakeStore{gpt: domain.CustomGPT{Specialization: domain.SpecializationGeneral}}
	adapter := &fakeAdapter{errs: []error{domain.ErrBackendUsageLimit}}
	d := New(store, &fakeArbiter{result: domain.Acquired}, adapter, &fakeSideEffects{}, nil,
		Config{PollInterval: time.Millisecond, GPUTimeout: time.Second, MaxQueueRetries: 5})

	_, err := d.inferWithRetries(context.Background(), newRequest("r1"), domain.ChatInput{Message: "hi"}, store.gpt)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendUsageLimit)
	assert.Equal(t, 1, adapter.calls, "usage-limit errors must not be retried")
	assert.Equal(t, 0, store.retryCalls)
}

func TestDispatcher_InferWithRetries_RetriesTransientThenSucceeds(t *testing.T) {
	store := &fakeStore{gpt: domain.CustomGPT{Specialization: domain.SpecializationGeneral}}
	adapter := &fakeAdapter{
		errs:    []error{domain.ErrBackendTransient},
		results: []domain.InferResult{{}, {Content: "ok"}},
	}
	d := New(store, &fakeArbiter{result: domain.Acquired}, adapter, &fakeSideEffects{}, nil,
		Config{PollInterval: time.Millisecond, GPUTimeout: time.Second, MaxQueueRetries: 2})

	res, err := d.inferWithRetries(context.Background(), newRequest("r1"), domain.ChatInput{Message: "hi"}, store.gpt)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 2, adapter.calls)
	assert.Equal(t, 1, store.retryCalls)
}

func TestRetryBackoff_MatchesTwoToTheAttemptCappedAtTen(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // 2^4=16, capped at 10
		{5, 10 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, retryBackoff(c.attempt), "attempt %d", c.attempt)
	}
}

func TestDispatcher_ProcessClaimed_AuditsNonCompliantCompletion(t *testing.T) {
	store := &fakeStore{
		claims: []domain.Request{newRequest("r1")},
		gpt:    domain.CustomGPT{ID: "g1", Specialization: domain.SpecializationGeneral},
	}
	adapter := &fakeAdapter{results: []domain.InferResult{{Content: "guaranteed returns", Metadata: domain.ResponseMetadata{SecCompliant: false}}}}
	d := New(store, &fakeArbiter{result: domain.Acquired}, adapter, &fakeSideEffects{}, nil,
		Config{PollInterval: time.Millisecond, GPUTimeout: time.Second, MaxQueueRetries: 0})

	err := d.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"claim:COMPLIANT", "arbiter_acquire:COMPLIANT", "complete:NON_COMPLIANT", "arbiter_release:COMPLIANT",
	}, store.auditedActions)
}

func TestDispatcher_RecordException_TripsBreakerAfterFiveConsecutive(t *testing.T) {
	d := New(&fakeStore{}, &fakeArbiter{}, &fakeAdapter{}, &fakeSideEffects{}, nil, Config{})

	var tripped bool
	for i := 0; i < breakerMaxExceptions; i++ {
		var sleep time.Duration
		tripped, sleep = d.recordException()
		assert.True(t, sleep > 0)
	}
	assert.True(t, tripped)
}

func TestDispatcher_ResetBreaker_ClearsCounter(t *testing.T) {
	d := New(&fakeStore{}, &fakeArbiter{}, &fakeAdapter{}, &fakeSideEffects{}, nil, Config{})
	d.recordException()
	d.resetBreaker()
	d.mu.Lock()
	n := d.consecutiveExceptions
	d.mu.Unlock()
	assert.Equal(t, 0, n)
}
