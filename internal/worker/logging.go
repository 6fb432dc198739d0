package worker

import (
	"context"
	"time"

	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/generation"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	obslogger "github.com/smallbiznis/newsdesk/internal/observability/logger"
	"github.com/smallbiznis/newsdesk/internal/observability/metrics"
	"go.uber.org/zap"
)

func (w *Worker) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, w.log)
}

func (w *Worker) logJobStart(ctx context.Context, job *jobdomain.Job) {
	w.logger(ctx).Info("worker.job.start",
		zap.String("job_type", job.Type),
		zap.String("worker_id", w.id),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
	)
}

func (w *Worker) logJobFinish(ctx context.Context, job *jobdomain.Job, run *generation.Run, outcome string, started time.Time, err error) {
	fields := []zap.Field{
		zap.String("job_type", job.Type),
		zap.String("worker_id", w.id),
		zap.String("outcome", outcome),
		zap.Int64("duration_ms", w.clock.Now().Sub(started).Milliseconds()),
		zap.Int("content_count", len(run.Refs.ContentIDs)),
		zap.Int("article_count", len(run.Refs.ArticleIDs)),
	}
	log := w.logger(ctx)
	if err != nil {
		fields = append(fields,
			zap.String("error_kind", string(apperr.KindOf(err))),
			zap.String("error_reason", metrics.ClassifyJobReason(err)),
			zap.Bool("retryable", apperr.IsRetryable(err)),
			zap.Error(err),
		)
		log.Warn("worker.job.finish", fields...)
		return
	}
	log.Info("worker.job.finish", fields...)
}
