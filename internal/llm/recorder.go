package llm

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/observability/logger"
	"github.com/smallbiznis/newsdesk/internal/observability/metrics"
	"github.com/smallbiznis/newsdesk/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultTimeout = 60 * time.Second

// CallMeta identifies who a call is made for. It is persisted on the log row.
type CallMeta struct {
	AccountID          snowflake.ID
	GeneratedArticleID *snowflake.ID
	TemplateVersionID  *snowflake.ID
	JobID              *snowflake.ID
	PromptCategory     string
}

type RecorderParams struct {
	fx.In

	Gateway Gateway
	Repo    LogRepository
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// Recorder applies the per-call timeout, maps failures onto error kinds and
// writes an AiResponseLog row for every call.
type Recorder struct {
	gateway   Gateway
	repo      LogRepository
	genID     *snowflake.Node
	clock     clock.Clock
	timeout   time.Duration
	maxTokens int32
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewRecorder(p RecorderParams) *Recorder {
	timeout := p.Config.LLM.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Recorder{
		gateway:   p.Gateway,
		repo:      p.Repo,
		genID:     p.GenID,
		clock:     p.Clock,
		timeout:   timeout,
		maxTokens: p.Config.LLM.DefaultMaxTokens,
		log:       p.Log.Named("llm.recorder"),
		metrics:   p.Metrics,
	}
}

// Generate calls the gateway and logs the exchange. The returned id is the
// AiResponseLog row, which is written even when the call fails.
func (r *Recorder) Generate(ctx context.Context, meta CallMeta, req Request) (Response, snowflake.ID, error) {
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = r.maxTokens
	}
	ctx, span := tracing.StartSpan(ctx, "llm", "llm.generate",
		attribute.String("provider", r.gateway.Provider()),
		attribute.String("category", meta.PromptCategory),
	)

	started := r.clock.Now()
	resp, callErr := r.call(ctx, req)
	elapsed := r.clock.Now().Sub(started)
	if elapsed < 0 {
		elapsed = 0
	}

	entry := AiResponseLog{
		ID:                 r.genID.Generate(),
		AccountID:          meta.AccountID,
		GeneratedArticleID: meta.GeneratedArticleID,
		TemplateVersionID:  meta.TemplateVersionID,
		JobID:              meta.JobID,
		PromptCategory:     meta.PromptCategory,
		PromptText:         req.Prompt,
		ResponseText:       resp.Text,
		MaxOutputTokens:    req.MaxOutputTokens,
		TokensUsedInput:    resp.TokensUsedInput,
		TokensUsedOutput:   resp.TokensUsedOutput,
		StopReason:         resp.StopReason,
		IsTruncated:        resp.IsTruncated,
		ErrorKind:          string(apperr.KindOf(callErr)),
		ErrorCode:          apperr.CodeOf(callErr),
		LatencyMs:          elapsed.Milliseconds(),
		CreatedAt:          r.clock.Now(),
	}
	// The log must survive a cancelled job context.
	if err := r.repo.Create(context.WithoutCancel(ctx), &entry); err != nil {
		logger.WithContext(ctx, r.log).Error("failed to write ai response log", zap.Error(err))
		tracing.EndSpan(span, err)
		if callErr != nil {
			return resp, 0, callErr
		}
		return resp, 0, apperr.Wrap(apperr.KindInternal, "response_log_write_failed", err)
	}

	r.metrics.RecordLLMCall(ctx, r.gateway.Provider(), resp.StopReason, int(resp.TokensUsedInput), int(resp.TokensUsedOutput), elapsed)
	tracing.EndSpan(span, callErr)
	return resp, entry.ID, callErr
}

// MarkParseFailure records on a logged call that its output could not be
// parsed. Zero ids are ignored.
func (r *Recorder) MarkParseFailure(ctx context.Context, accountID, logID snowflake.ID, cause error) {
	if logID == 0 {
		return
	}
	if err := r.repo.MarkParseFailure(context.WithoutCancel(ctx), accountID, logID, apperr.CodeOf(cause)); err != nil {
		logger.WithContext(ctx, r.log).Warn("failed to flag parse failure on ai response log",
			zap.String("log_id", logID.String()), zap.Error(err))
	}
}

// LinkArticle attaches earlier calls to the generated article they fed.
func (r *Recorder) LinkArticle(ctx context.Context, accountID snowflake.ID, logIDs []string, articleID snowflake.ID) error {
	ids := make([]snowflake.ID, 0, len(logIDs))
	for _, raw := range logIDs {
		if id, err := snowflake.ParseString(raw); err == nil && id != 0 {
			ids = append(ids, id)
		}
	}
	return r.repo.LinkArticle(ctx, accountID, ids, articleID)
}

// DryRun calls the gateway under the same timeout without logging. It backs
// template testing.
func (r *Recorder) DryRun(ctx context.Context, req Request) (Response, error) {
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = r.maxTokens
	}
	return r.call(ctx, req)
}

func (r *Recorder) call(ctx context.Context, req Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.gateway.Generate(callCtx, req)
	switch {
	case ctx.Err() != nil:
		resp.StopReason = StopReasonError
		return resp, apperr.Wrap(apperr.KindCancelled, "llm_call_cancelled", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded) || (err != nil && callCtx.Err() != nil):
		return Response{StopReason: StopReasonTimeout, IsTruncated: false}, apperr.Transient("llm_timeout", context.DeadlineExceeded)
	case err != nil:
		if resp.StopReason == "" {
			resp.StopReason = StopReasonError
		}
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Transient("llm_upstream", err)
		}
		return resp, err
	}
	if resp.StopReason == "" {
		resp.StopReason = StopReasonStop
	}
	resp.IsTruncated = resp.StopReason == StopReasonLength
	return resp, nil
}
