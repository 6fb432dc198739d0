package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/job/domain"
	"github.com/smallbiznis/newsdesk/internal/job/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   *Service
	clock *clock.FakeClock
	db    *gorm.DB
}

func setup(t *testing.T) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Job{}))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Repo:  repository.NewRepository(conn),
		GenID: node,
		Clock: clk,
		Config: config.Config{Worker: config.WorkerConfig{
			LeaseDuration:   time.Minute,
			MaxAttempts:     3,
			PayloadMaxBytes: 256,
			BackoffBase:     10 * time.Second,
			BackoffMax:      time.Minute,
		}},
	})
	return fixture{svc: svc, clock: clk, db: conn}
}

func scopeFor(accountID int64) accountctx.Scope {
	return accountctx.Scope{AccountID: snowflake.ID(accountID), UserID: "user-1", Role: accountctx.RoleEditor}
}

func (f fixture) enqueue(t *testing.T, scope accountctx.Scope, payload string) string {
	t.Helper()
	resp, err := f.svc.Enqueue(context.Background(), scope, domain.EnqueueRequest{
		Type:    domain.TypeContentGeneration,
		Payload: json.RawMessage(payload),
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return resp.JobID
}

func TestEnqueueThenRecentReadsBack(t *testing.T) {
	f := setup(t)
	scope := scopeFor(1)

	id := f.enqueue(t, scope, `{"limit":5}`)

	jobs, err := f.svc.Recent(context.Background(), scope, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
	assert.Equal(t, domain.TypeContentGeneration, jobs[0].Type)
	assert.Equal(t, domain.StatusQueued, jobs[0].Status)
	assert.JSONEq(t, `{"limit":5}`, string(jobs[0].Payload))
	assert.Equal(t, 0, jobs[0].Attempts)
	assert.Equal(t, 3, jobs[0].MaxAttempts)

	other, err := f.svc.Recent(context.Background(), scopeFor(2), 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestEnqueueValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	scope := scopeFor(1)

	_, err := f.svc.Enqueue(ctx, scope, domain.EnqueueRequest{Type: "mystery"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)

	_, err = f.svc.Enqueue(ctx, scope, domain.EnqueueRequest{Type: domain.TypeFullCycle, Payload: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = f.svc.Enqueue(ctx, scope, domain.EnqueueRequest{Type: domain.TypeContentGeneration, Payload: json.RawMessage(`{"specificStoryId":"abc"}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	big := `{"pad":"` + strings.Repeat("x", 300) + `"}`
	_, err = f.svc.Enqueue(ctx, scope, domain.EnqueueRequest{Type: domain.TypeAnalyzeArticles, Payload: json.RawMessage(big)})
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)

	_, err = f.svc.Enqueue(ctx, accountctx.Scope{}, domain.EnqueueRequest{Type: domain.TypeFullCycle})
	assert.Equal(t, apperr.KindScopeMissing, apperr.KindOf(err))

	resp, err := f.svc.Enqueue(ctx, scope, domain.EnqueueRequest{Type: domain.TypeFullCycle})
	require.NoError(t, err)
	job, err := f.svc.Get(ctx, scope, resp.JobID)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(job.Payload))
}

func TestLeaseIsFIFOPerAccountWithOneProcessingJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a1 := f.enqueue(t, scopeFor(1), `{}`)
	a2 := f.enqueue(t, scopeFor(1), `{}`)
	b1 := f.enqueue(t, scopeFor(2), `{}`)

	first, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, a1, first.ID.String())
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, domain.StatusProcessing, first.Status)

	second, err := f.svc.Lease(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, b1, second.ID.String(), "account 1 is busy so account 2 runs next")

	none, err := f.svc.Lease(ctx, "w3")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, f.svc.Complete(ctx, first, "w1", domain.ResultRefs{}))

	third, err := f.svc.Lease(ctx, "w3")
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, a2, third.ID.String())
}

func TestLeaseSkipsExcludedAccounts(t *testing.T) {
	f := setup(t)
	f.enqueue(t, scopeFor(1), `{}`)
	b1 := f.enqueue(t, scopeFor(2), `{}`)

	job, err := f.svc.Lease(context.Background(), "w1", "1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, b1, job.ID.String())
}

func TestReaperRequeuesStaleJobExactlyOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.enqueue(t, scopeFor(1), `{}`)

	job, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)

	res, err := f.svc.Reap(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Requeued, "lease is still valid")

	f.clock.Advance(2 * time.Minute)
	res, err = f.svc.Reap(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)

	res, err = f.svc.Reap(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.ReapResult{}, res)

	got, err := f.svc.Get(ctx, scopeFor(1), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// the stale owner can no longer finish the job
	err = f.svc.Complete(ctx, job, "w1", domain.ResultRefs{})
	assert.ErrorIs(t, err, domain.ErrLeaseLost)

	again, err := f.svc.Lease(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)
}

func TestReaperFailsJobOutOfAttempts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.enqueue(t, scopeFor(1), `{}`)

	for i := 0; i < 3; i++ {
		job, err := f.svc.Lease(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		f.clock.Advance(2 * time.Minute)
		_, err = f.svc.Reap(ctx, 10)
		require.NoError(t, err)
	}

	got, err := f.svc.Get(ctx, scopeFor(1), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "lease_expired", got.LastError.Code)
	assert.NotNil(t, got.FinishedAt)
}

func TestTransientFailureRequeuesWithBackoff(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.enqueue(t, scopeFor(1), `{}`)

	job, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)

	status, err := f.svc.Fail(ctx, job, "w1", domain.ResultRefs{}, apperr.Transient("llm_timeout", context.DeadlineExceeded))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, status)

	none, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none, "backoff keeps the job unavailable")

	f.clock.Advance(10 * time.Second)
	job, err = f.svc.Lease(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID.String())
	assert.Equal(t, 2, job.Attempts)

	got, err := f.svc.Get(ctx, scopeFor(1), id)
	require.NoError(t, err)
	require.NotNil(t, got.LastError)
	assert.Equal(t, string(apperr.KindTransientUpstream), got.LastError.Kind)
	assert.Equal(t, "llm_timeout", got.LastError.Code)
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	f := setup(t)
	assert.Equal(t, 10*time.Second, f.svc.Backoff(1))
	assert.Equal(t, 20*time.Second, f.svc.Backoff(2))
	assert.Equal(t, 40*time.Second, f.svc.Backoff(3))
	assert.Equal(t, time.Minute, f.svc.Backoff(4))
	assert.Equal(t, time.Minute, f.svc.Backoff(30))
}

func TestDeterministicFailureExhaustsAttempts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.enqueue(t, scopeFor(1), `{}`)

	job, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)

	refs := domain.ResultRefs{ContentIDs: []string{"11", "12"}}
	cause := apperr.New(apperr.KindParseFailure, "truncated", "model output was truncated")
	status, err := f.svc.Fail(ctx, job, "w1", refs, cause)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, status)

	got, err := f.svc.Get(ctx, scopeFor(1), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "ParseFailure", got.LastError.Kind)
	require.NotNil(t, got.ResultRefs)
	assert.Equal(t, []string{"11", "12"}, got.ResultRefs.ContentIDs)
}

func TestCancelQueuedProcessingAndTerminal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	scope := scopeFor(1)

	running := f.enqueue(t, scope, `{}`)
	queued := f.enqueue(t, scope, `{}`)

	job, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, running, job.ID.String())

	resp, err := f.svc.Cancel(ctx, scope, queued)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, resp.Status)

	resp, err = f.svc.Cancel(ctx, scope, running)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, resp.Status)
	assert.True(t, resp.CancelRequested)

	cancelRequested, err := f.svc.Heartbeat(ctx, job, "w1")
	require.NoError(t, err)
	assert.True(t, cancelRequested)

	status, err := f.svc.Fail(ctx, job, "w1", domain.ResultRefs{}, domain.ErrCancelRequested)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, status)

	resp, err = f.svc.Cancel(ctx, scope, running)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, resp.Status)
}

func TestCancelCompletedJobIsNoop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	scope := scopeFor(1)
	id := f.enqueue(t, scope, `{}`)

	job, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Complete(ctx, job, "w1", domain.ResultRefs{ArticleIDs: []string{"5"}}))

	resp, err := f.svc.Cancel(ctx, scope, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.False(t, resp.CancelRequested)
	assert.Nil(t, resp.LastError)
}

func TestRetryOnlyFromFailedOrCancelled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	scope := scopeFor(1)
	id := f.enqueue(t, scope, `{}`)

	_, err := f.svc.Retry(ctx, scope, id)
	assert.ErrorIs(t, err, domain.ErrRetryNotAllowed)

	job, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)
	_, err = f.svc.Fail(ctx, job, "w1", domain.ResultRefs{}, apperr.Validation("template_inactive", "inactive"))
	require.NoError(t, err)

	resp, err := f.svc.Retry(ctx, scope, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, resp.Status)
	assert.Equal(t, 0, resp.Attempts)
	assert.Nil(t, resp.LastError)
	assert.Nil(t, resp.FinishedAt)
}

func TestWorkerInterruptionIsRetried(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.enqueue(t, scopeFor(1), `{}`)

	job, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)

	status, err := f.svc.Fail(ctx, job, "w1", domain.ResultRefs{}, context.Canceled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, status)
}

func TestStatsAndByStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	scope := scopeFor(1)
	f.enqueue(t, scope, `{}`)
	f.enqueue(t, scope, `{}`)

	job, err := f.svc.Lease(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Complete(ctx, job, "w1", domain.ResultRefs{}))

	stats, err := f.svc.Stats(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStats{Queued: 1, Completed: 1}, *stats)

	done, err := f.svc.ByStatus(ctx, scope, domain.StatusCompleted, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, job.ID.String(), done[0].ID)

	_, err = f.svc.ByStatus(ctx, scope, "sleeping", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestGetIsScopedToAccount(t *testing.T) {
	f := setup(t)
	id := f.enqueue(t, scopeFor(1), `{}`)

	_, err := f.svc.Get(context.Background(), scopeFor(2), id)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
