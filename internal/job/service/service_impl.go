package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/job/domain"
	"github.com/smallbiznis/newsdesk/internal/observability/metrics"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"github.com/smallbiznis/newsdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	maxErrorMessage  = 1000
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Tenancy tenancydomain.Service  `optional:"true"`
	Metrics *metrics.WorkerMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.WorkerConfig
	tenancy tenancydomain.Service
	metrics *metrics.WorkerMetrics
}

func NewService(p Params) *Service {
	cfg := p.Config.Worker
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	if cfg.PayloadMaxBytes <= 0 {
		cfg.PayloadMaxBytes = 64 * 1024
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("job.service"),
		repo:    p.Repo,
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     cfg,
		tenancy: p.Tenancy,
		metrics: p.Metrics,
	}
}

func (s *Service) Enqueue(ctx context.Context, scope accountctx.Scope, req domain.EnqueueRequest) (*domain.EnqueueResponse, error) {
	if scope.AccountID == 0 {
		return nil, apperr.New(apperr.KindScopeMissing, "account_scope_required", "account scope is required")
	}
	jobType := strings.TrimSpace(req.Type)
	if !domain.IsType(jobType) {
		return nil, domain.ErrInvalidType
	}
	payload, err := s.normalizePayload(jobType, req.Payload)
	if err != nil {
		return nil, err
	}
	if s.tenancy != nil {
		if _, err := s.tenancy.GetAccount(ctx, scope); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	job := domain.Job{
		ID:          s.genID.Generate(),
		AccountID:   scope.AccountID,
		Type:        jobType,
		Payload:     payload,
		Status:      domain.StatusQueued,
		MaxAttempts: s.cfg.MaxAttempts,
		AvailableAt: now,
		ResultRefs:  datatypes.JSON(`{"contentIds":[],"articleIds":[]}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, &job); err != nil {
		return nil, db.Classify(err)
	}

	s.log.Info("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("account_id", job.AccountID.String()),
		zap.String("job_type", job.Type),
	)
	return &domain.EnqueueResponse{JobID: job.ID.String()}, nil
}

func (s *Service) EnqueueRegeneration(ctx context.Context, scope accountctx.Scope, scrapedArticleID, predecessorID string) (string, error) {
	payload, err := json.Marshal(domain.ContentGenerationPayload{
		SpecificStoryID: scrapedArticleID,
		PredecessorID:   predecessorID,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "payload_encode", err)
	}
	resp, err := s.Enqueue(ctx, scope, domain.EnqueueRequest{Type: domain.TypeContentGeneration, Payload: payload})
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// normalizePayload validates size and shape. A missing payload becomes {}.
func (s *Service) normalizePayload(jobType string, raw json.RawMessage) (datatypes.JSON, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if len(raw) > s.cfg.PayloadMaxBytes {
		return nil, domain.ErrPayloadTooLarge
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	switch jobType {
	case domain.TypeContentGeneration:
		var p domain.ContentGenerationPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Limit < 0 {
			return nil, domain.ErrInvalidPayload
		}
		if story := p.Story(); story != "" {
			if _, err := snowflake.ParseString(story); err != nil {
				return nil, domain.ErrInvalidPayload
			}
		}
		for _, id := range p.TemplateIDs {
			if _, err := snowflake.ParseString(id); err != nil {
				return nil, domain.ErrInvalidPayload
			}
		}
	case domain.TypeAnalyzeArticles:
		var p domain.AnalyzeArticlesPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Limit < 0 {
			return nil, domain.ErrInvalidPayload
		}
	case domain.TypeFullCycle:
		var p domain.FullCyclePayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Limit < 0 || p.AnalyzeLimit < 0 {
			return nil, domain.ErrInvalidPayload
		}
	case domain.TypeSourceRefresh:
		var p domain.SourceRefreshPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		if p.SourceID != "" {
			if _, err := snowflake.ParseString(p.SourceID); err != nil {
				return nil, domain.ErrInvalidPayload
			}
		}
	}
	return datatypes.JSON(raw), nil
}

func (s *Service) Get(ctx context.Context, scope accountctx.Scope, id string) (*domain.JobResponse, error) {
	job, err := s.load(ctx, scope.AccountID, id)
	if err != nil {
		return nil, err
	}
	return toResponse(job), nil
}

// Cancel removes a queued job at once and flags a processing one for the
// worker. Terminal jobs are returned unchanged.
func (s *Service) Cancel(ctx context.Context, scope accountctx.Scope, id string) (*domain.JobResponse, error) {
	job, err := s.load(ctx, scope.AccountID, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for attempt := 0; attempt < 2; attempt++ {
		switch job.Status {
		case domain.StatusQueued:
			ok, err := s.repo.CancelQueued(ctx, job.AccountID, job.ID, now)
			if err != nil {
				return nil, db.Classify(err)
			}
			if ok {
				s.log.Info("job cancelled", zap.String("job_id", job.ID.String()), zap.String("from", domain.StatusQueued))
				return s.Get(ctx, scope, id)
			}
		case domain.StatusProcessing:
			ok, err := s.repo.RequestCancel(ctx, job.AccountID, job.ID, now)
			if err != nil {
				return nil, db.Classify(err)
			}
			if ok {
				s.log.Info("job cancel requested", zap.String("job_id", job.ID.String()))
				return s.Get(ctx, scope, id)
			}
		default:
			return toResponse(job), nil
		}
		// lost a race with the worker; re-read and decide again
		if job, err = s.load(ctx, scope.AccountID, id); err != nil {
			return nil, err
		}
	}
	return nil, domain.ErrCancelNotAllowed
}

func (s *Service) Retry(ctx context.Context, scope accountctx.Scope, id string) (*domain.JobResponse, error) {
	job, err := s.load(ctx, scope.AccountID, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusFailed && job.Status != domain.StatusCancelled {
		return nil, domain.ErrRetryNotAllowed
	}
	ok, err := s.repo.Requeue(ctx, job.AccountID, job.ID, s.clock.Now())
	if err != nil {
		return nil, db.Classify(err)
	}
	if !ok {
		return nil, domain.ErrRetryNotAllowed
	}
	s.log.Info("job requeued by retry", zap.String("job_id", job.ID.String()))
	return s.Get(ctx, scope, id)
}

func (s *Service) Stats(ctx context.Context, scope accountctx.Scope) (*domain.JobStats, error) {
	counts, err := s.repo.CountByStatus(ctx, scope.AccountID)
	if err != nil {
		return nil, db.Classify(err)
	}
	return &domain.JobStats{
		Queued:     counts[domain.StatusQueued],
		Processing: counts[domain.StatusProcessing],
		Completed:  counts[domain.StatusCompleted],
		Failed:     counts[domain.StatusFailed],
		Cancelled:  counts[domain.StatusCancelled],
	}, nil
}

func (s *Service) Recent(ctx context.Context, scope accountctx.Scope, limit int) ([]domain.JobResponse, error) {
	jobs, err := s.repo.ListRecent(ctx, scope.AccountID, clampLimit(limit))
	if err != nil {
		return nil, db.Classify(err)
	}
	return toResponses(jobs), nil
}

func (s *Service) ByStatus(ctx context.Context, scope accountctx.Scope, status string, limit int) ([]domain.JobResponse, error) {
	status = strings.TrimSpace(status)
	if !domain.IsStatus(status) {
		return nil, domain.ErrInvalidStatus
	}
	jobs, err := s.repo.ListByStatus(ctx, scope.AccountID, status, clampLimit(limit))
	if err != nil {
		return nil, db.Classify(err)
	}
	return toResponses(jobs), nil
}

// Lease claims the next runnable job across all accounts.
func (s *Service) Lease(ctx context.Context, owner string, exclude ...string) (*domain.Job, error) {
	now := s.clock.Now()
	lease := domain.Lease{Owner: owner, Now: now, Until: now.Add(s.cfg.LeaseDuration)}
	for _, raw := range exclude {
		if id, err := snowflake.ParseString(raw); err == nil {
			lease.ExcludeAccounts = append(lease.ExcludeAccounts, id)
		}
	}
	job, err := s.repo.LeaseNext(ctx, lease)
	if err != nil {
		s.metrics.IncLease("error")
		return nil, db.Classify(err)
	}
	if job == nil {
		s.metrics.IncLease("empty")
		return nil, nil
	}
	s.metrics.IncLease("leased")
	return job, nil
}

func (s *Service) Heartbeat(ctx context.Context, job *domain.Job, owner string) (bool, error) {
	now := s.clock.Now()
	until := now.Add(s.cfg.LeaseDuration)
	ok, cancelRequested, err := s.repo.Heartbeat(ctx, job.AccountID, job.ID, owner, until, now)
	if err != nil {
		return false, db.Classify(err)
	}
	if !ok {
		return false, domain.ErrLeaseLost
	}
	job.LeaseExpiresAt = &until
	job.CancelRequested = cancelRequested
	return cancelRequested, nil
}

func (s *Service) SaveRefs(ctx context.Context, job *domain.Job, owner string, refs domain.ResultRefs) error {
	encoded, err := encodeRefs(refs)
	if err != nil {
		return err
	}
	ok, err := s.repo.SaveRefs(ctx, job.AccountID, job.ID, owner, encoded, s.clock.Now())
	if err != nil {
		return db.Classify(err)
	}
	if !ok {
		return domain.ErrLeaseLost
	}
	job.ResultRefs = encoded
	return nil
}

func (s *Service) Complete(ctx context.Context, job *domain.Job, owner string, refs domain.ResultRefs) error {
	encoded, err := encodeRefs(refs)
	if err != nil {
		return err
	}
	return s.finish(ctx, job, owner, domain.Finish{
		Status: domain.StatusCompleted,
		Now:    s.clock.Now(),
		Refs:   encoded,
	})
}

func (s *Service) MarkCancelled(ctx context.Context, job *domain.Job, owner string, refs domain.ResultRefs) error {
	encoded, err := encodeRefs(refs)
	if err != nil {
		return err
	}
	return s.finish(ctx, job, owner, domain.Finish{
		Status:       domain.StatusCancelled,
		Now:          s.clock.Now(),
		Refs:         encoded,
		ErrorKind:    string(apperr.KindCancelled),
		ErrorCode:    domain.ErrCancelRequested.Code,
		ErrorMessage: domain.ErrCancelRequested.Message,
	})
}

// Fail records err and returns the status the job moved to. Transient
// failures requeue with exponential backoff until attempts run out;
// deterministic ones fail at once with attempts set to the maximum.
func (s *Service) Fail(ctx context.Context, job *domain.Job, owner string, refs domain.ResultRefs, cause error) (string, error) {
	if errors.Is(cause, domain.ErrCancelRequested) {
		if err := s.MarkCancelled(ctx, job, owner, refs); err != nil {
			return "", err
		}
		return domain.StatusCancelled, nil
	}
	if apperr.IsKind(cause, apperr.KindCancelled) {
		// the worker context went away, not the user
		cause = apperr.Transient("worker_interrupted", cause)
	}
	encoded, err := encodeRefs(refs)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	kind, code, message := describeError(cause)
	update := domain.Finish{
		Now:          now,
		Refs:         encoded,
		ErrorKind:    kind,
		ErrorCode:    code,
		ErrorMessage: message,
	}
	switch {
	case apperr.IsRetryable(cause) && job.Attempts < job.MaxAttempts:
		available := now.Add(s.Backoff(job.Attempts))
		update.Status = domain.StatusQueued
		update.AvailableAt = &available
	case apperr.IsRetryable(cause):
		update.Status = domain.StatusFailed
	default:
		attempts := job.MaxAttempts
		update.Status = domain.StatusFailed
		update.Attempts = &attempts
	}
	if err := s.finish(ctx, job, owner, update); err != nil {
		return "", err
	}
	return update.Status, nil
}

// Backoff is base*2^(attempts-1), capped.
func (s *Service) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := s.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if delay > s.cfg.BackoffMax {
		return s.cfg.BackoffMax
	}
	return delay
}

// Reap returns jobs whose lease expired to the queue. A job that was asked
// to cancel is cancelled and one out of attempts is failed.
func (s *Service) Reap(ctx context.Context, limit int) (domain.ReapResult, error) {
	var result domain.ReapResult
	now := s.clock.Now()
	stale, err := s.repo.ListExpired(ctx, now, limit)
	if err != nil {
		return result, db.Classify(err)
	}
	for _, job := range stale {
		update := domain.Finish{Now: now}
		switch {
		case job.CancelRequested:
			update.Status = domain.StatusCancelled
			update.ErrorKind = string(apperr.KindCancelled)
			update.ErrorCode = domain.ErrCancelRequested.Code
			update.ErrorMessage = "cancelled after lease expiry"
		case job.Attempts >= job.MaxAttempts:
			update.Status = domain.StatusFailed
			update.ErrorKind = string(apperr.KindTransientUpstream)
			update.ErrorCode = "lease_expired"
			update.ErrorMessage = "lease expired with no attempts left"
		default:
			update.Status = domain.StatusQueued
			available := now
			update.AvailableAt = &available
		}
		ok, err := s.repo.Reap(ctx, job, update)
		if err != nil {
			return result, db.Classify(err)
		}
		if !ok {
			continue
		}
		switch update.Status {
		case domain.StatusCancelled:
			result.Cancelled++
		case domain.StatusFailed:
			result.Failed++
		default:
			result.Requeued++
		}
		s.log.Warn("reaped stale job",
			zap.String("job_id", job.ID.String()),
			zap.String("account_id", job.AccountID.String()),
			zap.Int("attempts", job.Attempts),
			zap.String("status", update.Status),
		)
	}
	s.metrics.AddReaped(domain.StatusQueued, result.Requeued)
	s.metrics.AddReaped(domain.StatusFailed, result.Failed)
	s.metrics.AddReaped(domain.StatusCancelled, result.Cancelled)
	return result, nil
}

func (s *Service) finish(ctx context.Context, job *domain.Job, owner string, update domain.Finish) error {
	ok, err := s.repo.Finish(ctx, job.AccountID, job.ID, owner, update)
	if err != nil {
		return db.Classify(err)
	}
	if !ok {
		return domain.ErrLeaseLost
	}
	job.Status = update.Status
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
	if update.Refs != nil {
		job.ResultRefs = update.Refs
	}
	if update.Attempts != nil {
		job.Attempts = *update.Attempts
	}
	return nil
}

func (s *Service) load(ctx context.Context, accountID snowflake.ID, rawID string) (*domain.Job, error) {
	if accountID == 0 {
		return nil, apperr.New(apperr.KindScopeMissing, "account_scope_required", "account scope is required")
	}
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil {
		return nil, domain.ErrJobNotFound
	}
	job, err := s.repo.Get(ctx, accountID, id)
	if err != nil {
		return nil, db.Classify(err)
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func describeError(err error) (string, string, string) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		kind = apperr.KindInternal
	}
	message := ""
	if err != nil {
		message = err.Error()
	}
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage]
	}
	return string(kind), apperr.CodeOf(err), message
}

func encodeRefs(refs domain.ResultRefs) (datatypes.JSON, error) {
	if refs.ContentIDs == nil {
		refs.ContentIDs = []string{}
	}
	if refs.ArticleIDs == nil {
		refs.ArticleIDs = []string{}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "refs_encode", err)
	}
	return datatypes.JSON(raw), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func toResponses(jobs []domain.Job) []domain.JobResponse {
	out := make([]domain.JobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, *toResponse(&jobs[i]))
	}
	return out
}

func toResponse(job *domain.Job) *domain.JobResponse {
	resp := &domain.JobResponse{
		ID:              job.ID.String(),
		AccountID:       job.AccountID.String(),
		Type:            job.Type,
		Payload:         json.RawMessage(job.Payload),
		Status:          job.Status,
		Attempts:        job.Attempts,
		MaxAttempts:     job.MaxAttempts,
		CancelRequested: job.CancelRequested,
		LeaseExpiresAt:  job.LeaseExpiresAt,
		AvailableAt:     job.AvailableAt,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}
	if job.LastErrorKind != nil && *job.LastErrorKind != "" {
		resp.LastError = &domain.JobError{Kind: *job.LastErrorKind}
		if job.LastErrorCode != nil {
			resp.LastError.Code = *job.LastErrorCode
		}
		if job.LastErrorMessage != nil {
			resp.LastError.Message = *job.LastErrorMessage
		}
	}
	if len(job.ResultRefs) > 0 {
		refs := job.Refs()
		resp.ResultRefs = &refs
	}
	return resp
}

var _ domain.Service = (*Service)(nil)
var _ domain.Queue = (*Service)(nil)
