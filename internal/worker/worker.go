// Package worker leases jobs from the queue and runs them on a fixed pool
// of slots, keeping each lease alive until the job reaches a terminal state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/generation"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	"github.com/smallbiznis/newsdesk/internal/lock"
	obscontext "github.com/smallbiznis/newsdesk/internal/observability/context"
	"github.com/smallbiznis/newsdesk/internal/observability/metrics"
	"github.com/smallbiznis/newsdesk/internal/observability/tracing"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const finalizeTimeout = 10 * time.Second

var ErrInvalidConfig = errors.New("worker: invalid configuration")

type Params struct {
	fx.In

	Log      *zap.Logger
	Queue    jobdomain.Queue
	Tenancy  tenancydomain.Service
	Pipeline *Pipeline
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   Config
	Locker   *lock.Locker           `optional:"true"`
	Metrics  *metrics.WorkerMetrics `optional:"true"`
}

type Worker struct {
	log      *zap.Logger
	queue    jobdomain.Queue
	tenancy  tenancydomain.Service
	handlers map[string]Handler
	clock    clock.Clock
	cfg      Config
	id       string
	leader   *leader
	metrics  *metrics.WorkerMetrics

	slots    chan struct{}
	inflight sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(p Params) (*Worker, error) {
	if p.Log == nil || p.Queue == nil || p.Tenancy == nil || p.Pipeline == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return NewWithHandlers(p, p.Pipeline.Handlers()), nil
}

// NewWithHandlers builds a worker with an explicit handler table.
func NewWithHandlers(p Params, handlers map[string]Handler) *Worker {
	cfg := p.Config.withDefaults()
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	w := &Worker{
		log:      p.Log.Named("worker").With(zap.String("component", "worker")),
		queue:    p.Queue,
		tenancy:  p.Tenancy,
		handlers: handlers,
		clock:    p.Clock,
		cfg:      cfg,
		id:       fmt.Sprintf("%s-%s", host, p.GenID.Generate().String()),
		metrics:  p.Metrics,
		slots:    make(chan struct{}, cfg.Concurrency),
	}
	if cfg.LeaderLock && p.Locker != nil {
		w.leader = newLeader(p.Locker, cfg.LeaderLockKey, cfg.LeaseDuration)
	}
	return w
}

// ID is the lease owner recorded on jobs this worker runs.
func (w *Worker) ID() string { return w.id }

// Running reports whether the run loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start launches the run loop unless it is already running. It reports
// whether this call started it.
func (w *Worker) Start() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go func(done chan struct{}) {
		defer close(done)
		w.RunForever(ctx)
	}(w.done)
	w.log.Info("worker started", zap.String("worker_id", w.id), zap.Int("slots", w.cfg.Concurrency))
	return true
}

// Stop cancels the loop and waits for in-flight jobs to hand back their
// leases or until ctx ends.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	waited := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}
	if w.leader != nil {
		w.leader.release(ctx)
	}
	w.log.Info("worker stopped", zap.String("worker_id", w.id))
	return nil
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	nextRun := w.clock.Now().Add(w.cfg.PollInterval)
	nextReap := w.clock.Now()

	for {
		if lag := w.clock.Now().Sub(nextRun); lag > 0 {
			w.metrics.ObserveRunLoopLag(lag)
		}
		if w.isLeader(ctx) {
			if !w.clock.Now().Before(nextReap) {
				if _, err := w.Reap(ctx); err != nil {
					w.log.Warn("worker reap failed", zap.Error(err))
				}
				nextReap = w.clock.Now().Add(w.cfg.ReapInterval)
			}
			if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("worker run failed", zap.Error(err))
			}
		}
		nextRun = nextRun.Add(w.cfg.PollInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce fills free slots with leased jobs. Jobs run in the background.
func (w *Worker) RunOnce(ctx context.Context) error {
	for {
		select {
		case w.slots <- struct{}{}:
		default:
			return nil
		}
		job, err := w.queue.Lease(ctx, w.id)
		if err != nil || job == nil {
			<-w.slots
			return err
		}
		w.metrics.SetSlotsBusy(len(w.slots))
		w.inflight.Add(1)
		go func() {
			defer func() {
				<-w.slots
				w.metrics.SetSlotsBusy(len(w.slots))
				w.inflight.Done()
			}()
			w.Process(ctx, job)
		}()
	}
}

// ProcessNext leases one job and runs it on the calling goroutine. It
// reports false when nothing was runnable.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.Lease(ctx, w.id)
	if err != nil || job == nil {
		return false, err
	}
	w.Process(ctx, job)
	return true, nil
}

// Drain runs jobs until the queue has nothing runnable.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	count := 0
	for {
		ok, err := w.ProcessNext(ctx)
		if err != nil || !ok {
			return count, err
		}
		count++
	}
}

// Reap returns expired leases to the queue.
func (w *Worker) Reap(ctx context.Context) (jobdomain.ReapResult, error) {
	return w.queue.Reap(ctx, w.cfg.ReapBatchSize)
}

// Process runs a leased job to a terminal state or back to the queue.
func (w *Worker) Process(parent context.Context, job *jobdomain.Job) {
	started := w.clock.Now()
	ctx := obscontext.WithJobID(parent, job.ID.String())
	ctx = obscontext.WithAccountID(ctx, job.AccountID.String())
	ctx = obscontext.WithActor(ctx, "worker", w.id)
	ctx, span := tracing.StartSpan(ctx, "worker", "worker.job",
		attribute.String("job_type", job.Type),
		attribute.Int("attempt", job.Attempts),
	)

	run := &generation.Run{Job: job}
	refs := job.Refs()
	run.Refs = &refs
	w.logJobStart(ctx, job)

	err := w.execute(ctx, run)
	outcome := w.finalize(ctx, run, err)

	tracing.EndSpan(span, err)
	w.metrics.IncJobRun(job.Type)
	w.metrics.ObserveJobDuration(job.Type, w.clock.Now().Sub(started))
	w.metrics.IncJobOutcome(job.Type, outcome)
	if err != nil {
		w.metrics.IncJobError(job.Type, err)
	}
	w.logJobFinish(ctx, job, run, outcome, started, err)
}

func (w *Worker) execute(parent context.Context, run *generation.Run) (err error) {
	job := run.Job
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	ctx, timeoutCancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer timeoutCancel()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job panicked",
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = apperr.New(apperr.KindInternal, "job_panic", fmt.Sprint(r))
		}
	}()

	handler, ok := w.handlers[job.Type]
	if !ok {
		return jobdomain.ErrInvalidType
	}
	scope, err := w.tenancy.SystemScope(ctx, job.AccountID.String())
	if err != nil {
		return err
	}
	run.Scope = scope
	run.Checkpoint = func(ctx context.Context) error {
		cancelRequested, err := w.queue.Heartbeat(ctx, job, w.id)
		if err != nil {
			return err
		}
		if cancelRequested {
			return jobdomain.ErrCancelRequested
		}
		return w.queue.SaveRefs(ctx, job, w.id, *run.Refs)
	}

	stop := w.keepAlive(ctx, *job, cancel)
	defer stop()

	err = handler.Handle(ctx, run)
	if cause := context.Cause(ctx); err != nil && cause != nil && !errors.Is(cause, context.Canceled) {
		// the heartbeat interrupted the job; report why
		return cause
	}
	return err
}

// keepAlive extends the lease between checkpoints and interrupts the job
// once a cancel is requested or the lease is lost.
func (w *Worker) keepAlive(ctx context.Context, job jobdomain.Job, interrupt context.CancelCauseFunc) func() {
	stopped := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopped:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cancelRequested, err := w.queue.Heartbeat(ctx, &job, w.id)
			switch {
			case errors.Is(err, jobdomain.ErrLeaseLost):
				interrupt(jobdomain.ErrLeaseLost)
				return
			case err != nil:
				w.log.Warn("heartbeat failed", zap.String("job_id", job.ID.String()), zap.Error(err))
			case cancelRequested:
				interrupt(jobdomain.ErrCancelRequested)
				return
			}
		}
	}()
	return func() {
		close(stopped)
		<-finished
	}
}

// finalize records the result and returns the outcome label.
func (w *Worker) finalize(ctx context.Context, run *generation.Run, err error) string {
	job := run.Job
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err == nil {
		if ferr := w.queue.Complete(finCtx, job, w.id, *run.Refs); ferr != nil {
			w.log.Error("failed to complete job", zap.String("job_id", job.ID.String()), zap.Error(ferr))
			return "finalize_failed"
		}
		return jobdomain.StatusCompleted
	}
	if errors.Is(err, jobdomain.ErrLeaseLost) {
		return "lease_lost"
	}
	status, ferr := w.queue.Fail(finCtx, job, w.id, *run.Refs, err)
	if ferr != nil {
		if errors.Is(ferr, jobdomain.ErrLeaseLost) {
			return "lease_lost"
		}
		w.log.Error("failed to record job failure", zap.String("job_id", job.ID.String()), zap.Error(ferr))
		return "finalize_failed"
	}
	if status == jobdomain.StatusQueued {
		return "retry"
	}
	return status
}

func (w *Worker) isLeader(ctx context.Context) bool {
	if w.leader == nil {
		return true
	}
	ok, err := w.leader.ensure(ctx)
	if err != nil {
		w.log.Warn("leader lock failed", zap.Error(err))
		return false
	}
	return ok
}
