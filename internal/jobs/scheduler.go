package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

// Scheduler enqueues periodic work: digest assembly when a source's
// cadence period elapses, and the retention eviction sweep. It only
// writes job rows; the worker pool does the work.
type Scheduler struct {
	log     *logger.Logger
	cfg     ScheduleConfig
	jobs    repos.JobRunRepo
	sources repos.ContentSourceRepo
}

func NewScheduler(
	baseLog *logger.Logger,
	cfg ScheduleConfig,
	jobs repos.JobRunRepo,
	sources repos.ContentSourceRepo,
) (*Scheduler, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job repo required")
	}
	if sources == nil {
		return nil, fmt.Errorf("source repo required")
	}
	return &Scheduler{
		log:     baseLog.With("component", "JobScheduler"),
		cfg:     cfg,
		jobs:    jobs,
		sources: sources,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.digestLoop(ctx)
	go s.evictLoop(ctx)
	s.log.Info("scheduler started",
		"digest_interval", s.cfg.DigestInterval,
		"evict_interval", s.cfg.EvictInterval,
		"retention", s.cfg.Retention,
	)
}

func (s *Scheduler) digestLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DigestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepDigests(ctx); err != nil {
				s.log.Warn("digest sweep failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepEvictions(ctx); err != nil {
				s.log.Warn("eviction sweep failed", "error", err)
			}
		}
	}
}

// SweepDigests enqueues digest assembly for every due source and
// advances its next digest time by the source's cadence.
func (s *Scheduler) SweepDigests(ctx context.Context) error {
	now := time.Now()
	due, err := s.sources.ListDigestDue(ctx, nil, now, 200)
	if err != nil {
		return err
	}
	for _, source := range due {
		_, created, err := s.jobs.EnqueueCoalescing(ctx, nil, &types.JobRun{
			UserID:     source.UserID,
			Kind:       types.JobKindAssembleDigest,
			TargetType: "content_source",
			TargetID:   source.ID,
		})
		if err != nil {
			s.log.Warn("enqueue digest failed", "source_id", source.ID, "error", err)
			continue
		}
		if created {
			s.log.Debug("digest job enqueued", "source_id", source.ID, "cadence", source.Cadence)
		}
		next := now.Add(s.cfg.CadenceDuration(source.Cadence))
		if err := s.sources.SetNextDigestAt(ctx, nil, source.ID, next); err != nil {
			s.log.Warn("advance next_digest_at failed", "source_id", source.ID, "error", err)
		}
	}
	return nil
}

// SweepEvictions enqueues one eviction job per user holding indexed
// content.
func (s *Scheduler) SweepEvictions(ctx context.Context) error {
	userIDs, err := s.sources.ListDistinctUserIDs(ctx, nil)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, userID := range userIDs {
		g.Go(func() error {
			_, created, err := s.jobs.EnqueueCoalescing(gctx, nil, &types.JobRun{
				UserID:     userID,
				Kind:       types.JobKindEvictIndex,
				TargetType: "user",
				TargetID:   userID,
			})
			if err != nil {
				s.log.Warn("enqueue evict failed", "user_id", userID, "error", err)
				return nil
			}
			if created {
				s.log.Debug("evict job enqueued", "user_id", userID)
			}
			return nil
		})
	}
	return g.Wait()
}
