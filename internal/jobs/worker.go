package jobs

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/ratelimit"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

const (
	defaultPollInterval      = time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultStaleRunning      = 2 * time.Minute
)

// WorkerPool runs N stateless polling workers over the job_run table.
// Workers hold no retry state of their own; a restart loses nothing
// because scheduling lives entirely in next_retry_at.
type WorkerPool struct {
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *Registry
	sources  repos.ContentSourceRepo
	rawItems repos.RawItemRepo

	size              int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleRunning      time.Duration

	embedBudget ratelimit.Limiter
	embedKinds  []string
}

type WorkerOption func(*WorkerPool)

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *WorkerPool) { w.pollInterval = d }
}

func WithHeartbeatInterval(d time.Duration) WorkerOption {
	return func(w *WorkerPool) { w.heartbeatInterval = d }
}

func WithStaleRunning(d time.Duration) WorkerOption {
	return func(w *WorkerPool) { w.staleRunning = d }
}

// WithEmbedGate holds back jobs of the given kinds while the shared
// embedding budget is drained. Non-embedding work keeps flowing, and a
// claim never spends a token; the embed stage still pays for what it
// sends.
func WithEmbedGate(budget ratelimit.Limiter, kinds ...string) WorkerOption {
	return func(w *WorkerPool) {
		w.embedBudget = budget
		w.embedKinds = kinds
	}
}

func NewWorkerPool(
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	registry *Registry,
	sources repos.ContentSourceRepo,
	rawItems repos.RawItemRepo,
	size int,
	opts ...WorkerOption,
) (*WorkerPool, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if repo == nil {
		return nil, fmt.Errorf("job repo required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if size <= 0 {
		size = 2
	}
	w := &WorkerPool{
		log:               baseLog.With("component", "JobWorkerPool"),
		repo:              repo,
		registry:          registry,
		sources:           sources,
		rawItems:          rawItems,
		size:              size,
		pollInterval:      defaultPollInterval,
		heartbeatInterval: defaultHeartbeatInterval,
		staleRunning:      defaultStaleRunning,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < w.size; i++ {
		go w.runLoop(ctx, i)
	}
	w.log.Info("job workers started", "count", w.size)
}

func (w *WorkerPool) runLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.claimNext(ctx)
			if err != nil {
				w.log.Warn("claim failed", "worker", worker, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, worker, job)
		}
	}
}

// claimNext dequeues the next runnable job, skipping embedding-bound
// kinds while the shared budget has no token to spare.
func (w *WorkerPool) claimNext(ctx context.Context) (*types.JobRun, error) {
	var exclude []string
	if w.embedBudget != nil && !w.embedBudget.Ready() {
		exclude = w.embedKinds
	}
	return w.repo.ClaimNextRunnable(ctx, nil, w.staleRunning, exclude...)
}

func (w *WorkerPool) execute(ctx context.Context, worker int, job *types.JobRun) {
	handler, ok := w.registry.Get(job.Kind)
	if !ok {
		w.log.Error("no handler for job kind", "kind", job.Kind, "job_id", job.ID)
		_ = w.repo.MarkDead(ctx, nil, job.ID, "no handler registered for kind="+job.Kind)
		return
	}

	// Heartbeats stop when the handler returns.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeatLoop(hbCtx, job)

	err := w.runHandler(ctx, handler, job)
	stopHeartbeat()

	w.settle(ctx, job, err)
}

func (w *WorkerPool) runHandler(ctx context.Context, handler Handler, job *types.JobRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panic", "job_id", job.ID, "kind", job.Kind, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, job)
}

// settle applies the retry policy to a finished attempt.
func (w *WorkerPool) settle(ctx context.Context, job *types.JobRun, err error) {
	if err == nil {
		if mErr := w.repo.MarkSucceeded(ctx, nil, job.ID); mErr != nil {
			w.log.Error("mark succeeded failed", "job_id", job.ID, "error", mErr)
		}
		return
	}

	// Permanent input failures are retried like transients: content can
	// be fixed upstream between attempts, so only the attempt ceiling
	// makes a job terminal.
	if apperrors.IsPermanentInput(err) {
		w.log.Warn("job attempt failed on input error",
			"job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts, "error", err)
	}

	if job.Attempts >= MaxAttempts {
		w.log.Error("job dead after retry ceiling",
			"job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts, "error", err)
		w.kill(ctx, job, err)
		return
	}

	delay := BackoffFor(job.Attempts)
	nextRetryAt := time.Now().Add(delay)
	w.log.Warn("job attempt failed, retry scheduled",
		"job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts,
		"retry_in", delay, "error", err)
	if mErr := w.repo.MarkFailed(ctx, nil, job.ID, err.Error(), nextRetryAt); mErr != nil {
		w.log.Error("mark failed failed", "job_id", job.ID, "error", mErr)
	}
}

// kill terminates the job and flags the owning source for operator
// review instead of silently disabling it. Jobs that target a raw item
// resolve the item first to find the source.
func (w *WorkerPool) kill(ctx context.Context, job *types.JobRun, cause error) {
	if mErr := w.repo.MarkDead(ctx, nil, job.ID, cause.Error()); mErr != nil {
		w.log.Error("mark dead failed", "job_id", job.ID, "error", mErr)
	}
	if w.sources == nil {
		return
	}
	sourceID := job.TargetID
	switch job.TargetType {
	case "content_source":
	case "raw_item":
		if w.rawItems == nil {
			return
		}
		item, gErr := w.rawItems.GetByID(ctx, nil, job.TargetID)
		if gErr != nil {
			w.log.Error("resolve raw item for dead job failed", "item_id", job.TargetID, "error", gErr)
			return
		}
		sourceID = item.SourceID
	default:
		return
	}
	reason := fmt.Sprintf("job %s dead after %d attempts: %v", job.Kind, job.Attempts, cause)
	if fErr := w.sources.Flag(ctx, nil, sourceID, reason); fErr != nil {
		w.log.Error("flag source failed", "source_id", sourceID, "error", fErr)
	}
}

func (w *WorkerPool) heartbeatLoop(ctx context.Context, job *types.JobRun) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(ctx, nil, job.ID); err != nil {
				w.log.Warn("heartbeat failed", "job_id", job.ID, "error", err)
			}
		}
	}
}
