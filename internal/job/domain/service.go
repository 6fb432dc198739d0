package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
)

type Service interface {
	Enqueue(ctx context.Context, scope accountctx.Scope, req EnqueueRequest) (*EnqueueResponse, error)
	Get(ctx context.Context, scope accountctx.Scope, id string) (*JobResponse, error)
	Cancel(ctx context.Context, scope accountctx.Scope, id string) (*JobResponse, error)
	Retry(ctx context.Context, scope accountctx.Scope, id string) (*JobResponse, error)
	Stats(ctx context.Context, scope accountctx.Scope) (*JobStats, error)
	Recent(ctx context.Context, scope accountctx.Scope, limit int) ([]JobResponse, error)
	ByStatus(ctx context.Context, scope accountctx.Scope, status string, limit int) ([]JobResponse, error)

	// EnqueueRegeneration queues a content_generation job for one story that
	// succeeds a previously archived article.
	EnqueueRegeneration(ctx context.Context, scope accountctx.Scope, scrapedArticleID, predecessorID string) (string, error)
}

// Queue is the worker side of the job store.
type Queue interface {
	Lease(ctx context.Context, owner string, exclude ...string) (*Job, error)
	// Heartbeat extends the lease and reports whether cancellation was requested.
	Heartbeat(ctx context.Context, job *Job, owner string) (bool, error)
	SaveRefs(ctx context.Context, job *Job, owner string, refs ResultRefs) error
	Complete(ctx context.Context, job *Job, owner string, refs ResultRefs) error
	// Fail records err on the job, requeueing with backoff when it is
	// transient and attempts remain.
	Fail(ctx context.Context, job *Job, owner string, refs ResultRefs, err error) (string, error)
	MarkCancelled(ctx context.Context, job *Job, owner string, refs ResultRefs) error
	// Reap returns jobs with an expired lease to the queue.
	Reap(ctx context.Context, limit int) (ReapResult, error)
}

type ReapResult struct {
	Requeued  int
	Failed    int
	Cancelled int
}

type EnqueueRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type EnqueueResponse struct {
	JobID string `json:"jobId"`
}

type JobError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type JobResponse struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"accountId"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	Status          string          `json:"status"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"maxAttempts"`
	CancelRequested bool            `json:"cancelRequested"`
	LeaseExpiresAt  *time.Time      `json:"leaseExpiresAt,omitempty"`
	AvailableAt     time.Time       `json:"availableAt"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
	LastError       *JobError       `json:"lastError,omitempty"`
	ResultRefs      *ResultRefs     `json:"resultRefs,omitempty"`
}

type JobStats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

var (
	ErrInvalidType      = apperr.Validation("invalid_job_type", "job type is not recognized")
	ErrInvalidPayload   = apperr.Validation("invalid_job_payload", "job payload is malformed")
	ErrPayloadTooLarge  = apperr.Validation("job_payload_too_large", "job payload exceeds the configured size")
	ErrInvalidStatus    = apperr.Validation("invalid_job_status", "job status is not recognized")
	ErrJobNotFound      = apperr.NotFound("job_not_found")
	ErrRetryNotAllowed  = apperr.Conflict("job_retry_not_allowed", "only failed or cancelled jobs can be retried")
	ErrCancelNotAllowed = apperr.Conflict("job_cancel_conflict", "job changed state while cancelling")
	ErrLeaseLost        = apperr.Conflict("job_lease_lost", "job lease is no longer held")
	ErrCancelRequested  = apperr.New(apperr.KindCancelled, "cancel_requested", "job cancelled at checkpoint")
)
