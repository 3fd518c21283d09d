package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("baker_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, EnsureSchema(ctx, pool))
	return NewStore(pool)
}

func TestQueueRepo_ClaimOrdersByPriorityThenCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	low := domain.Request{UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Priority: 5, InputData: domain.ChatInput{Message: "low"}}
	high := domain.Request{UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Priority: 1, InputData: domain.ChatInput{Message: "high"}}

	_, err := store.InsertRequest(ctx, low)
	require.NoError(t, err)
	_, err = store.InsertRequest(ctx, high)
	require.NoError(t, err)
	lowLater := domain.Request{UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Priority: 5, InputData: domain.ChatInput{Message: "low-later"}}
	_, err = store.InsertRequest(ctx, lowLater)
	require.NoError(t, err)

	claimed, err := store.ClaimOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatInput{Message: "high"}, claimed.InputData)
	assert.Equal(t, domain.StatusProcessing, claimed.Status)

	// Equal priority: the earlier-created row is claimed first.
	claimed, err = store.ClaimOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatInput{Message: "low"}, claimed.InputData)
}

func TestQueueRepo_ClaimIsExclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertRequest(ctx, domain.Request{UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Priority: 5, InputData: domain.ChatInput{Message: "only"}})
	require.NoError(t, err)

	first, err := store.ClaimOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, "only", first.InputData.(domain.ChatInput).Message)

	_, err = store.ClaimOne(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// TestQueueRepo_ClaimIsExclusiveUnderConcurrentClaimers races goroutines
// against a single pending row and asserts exactly one of them wins it —
// the discriminator the SELECT ... FOR UPDATE SKIP LOCKED claim query exists
// to guarantee (spec.md §1, §8 scenario 2).
func TestQueueRepo_ClaimIsExclusiveUnderConcurrentClaimers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertRequest(ctx, domain.Request{UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Priority: 5, InputData: domain.ChatInput{Message: "only"}})
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	var wins int64
	var notFounds int64
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ClaimOne(ctx)
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case errors.Is(err, domain.ErrNotFound):
				atomic.AddInt64(&notFounds, 1)
			default:
				t.Errorf("unexpected ClaimOne error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins, "exactly one concurrent claimer must win the only pending row")
	assert.EqualValues(t, racers-1, notFounds)
}

func TestQueueRepo_CompleteRequiresProcessingStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertRequest(ctx, domain.Request{UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Priority: 5, InputData: domain.ChatInput{Message: "x"}})
	require.NoError(t, err)

	ok, err := store.Complete(ctx, id, domain.StatusCompleted, "done", &domain.ResponseMetadata{Confidence: 0.9}, "")
	require.NoError(t, err)
	assert.False(t, ok, "completing a pending (not processing) row must be a no-op")

	_, err = store.ClaimOne(ctx)
	require.NoError(t, err)

	ok, err = store.Complete(ctx, id, domain.StatusCompleted, "done", &domain.ResponseMetadata{Confidence: 0.9}, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Complete(ctx, id, domain.StatusCompleted, "done again", nil, "")
	require.NoError(t, err)
	assert.False(t, ok, "completing an already-terminal row must be a no-op")
}

func TestQueueRepo_PurgeOnlyTouchesOldTerminalRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pendingID, err := store.InsertRequest(ctx, domain.Request{UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Priority: 5, InputData: domain.ChatInput{Message: "keep-pending"}})
	require.NoError(t, err)

	doneID, err := store.InsertRequest(ctx, domain.Request{UserID: "u1", CustomGPTID: "g1", ThreadID: "t1", Priority: 1, InputData: domain.ChatInput{Message: "purge-me"}})
	require.NoError(t, err)
	_, err = store.ClaimOne(ctx)
	require.NoError(t, err)
	_, err = store.Complete(ctx, doneID, domain.StatusCompleted, "ok", nil, "")
	require.NoError(t, err)

	deleted, err := store.PurgeTerminalOlderThan(ctx, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = store.ClaimOne(ctx)
	require.NoError(t, err)
	claimedID := pendingID
	_ = claimedID // pendingID remains claimable; purge must not have touched it
}
