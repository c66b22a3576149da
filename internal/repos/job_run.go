package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type JobRunRepo interface {
	// EnqueueCoalescing inserts the job unless a queued, running, or
	// retry-pending job already exists for the same (kind, target).
	// Returns the live job and whether this call created it.
	EnqueueCoalescing(ctx context.Context, tx *gorm.DB, job *types.JobRun) (*types.JobRun, bool, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error)
	// ClaimNextRunnable atomically picks the next job that is queued,
	// failed with an elapsed next_retry_at, or running with a stale
	// heartbeat, and transitions it to running with attempts+1. Kinds
	// in excludeKinds are passed over, which lets workers hold back
	// provider-bound work while its budget is drained.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration, excludeKinds ...string) (*types.JobRun, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// MarkFailed records a transient failure and schedules the next
	// attempt at nextRetryAt.
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string, nextRetryAt time.Time) error
	// MarkDead terminates the job: retry ceiling exhausted or the input
	// itself is bad.
	MarkDead(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	CountByStatus(ctx context.Context, tx *gorm.DB, status string) (int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: baseLog.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) EnqueueCoalescing(ctx context.Context, tx *gorm.DB, job *types.JobRun) (*types.JobRun, bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil || job.Kind == "" || job.TargetType == "" || job.TargetID == uuid.Nil {
		return nil, false, apperrors.ErrInvalidArgument
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusQueued
	}

	var live *types.JobRun
	created := false
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var existing types.JobRun
		qErr := txx.
			Where("kind = ? AND target_type = ? AND target_id = ? AND status IN ?",
				job.Kind, job.TargetType, job.TargetID,
				[]string{types.JobStatusQueued, types.JobStatusRunning, types.JobStatusFailed}).
			Order("created_at DESC").
			First(&existing).Error
		if qErr == nil {
			live = &existing
			return nil
		}
		if !errors.Is(qErr, gorm.ErrRecordNotFound) {
			return qErr
		}
		if cErr := txx.Create(job).Error; cErr != nil {
			return cErr
		}
		live = job
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return live, created, nil
}

func (r *jobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var job types.JobRun
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration, excludeKinds ...string) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var claimed *types.JobRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		q := txx.Model(&types.JobRun{})
		// SKIP LOCKED keeps concurrent workers from fighting over the
		// same row; sqlite (tests) serializes writes anyway.
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if len(excludeKinds) > 0 {
			q = q.Where("kind NOT IN ?", excludeKinds)
		}
		var job types.JobRun
		qErr := q.
			Where(`
				status = ?
				OR (status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
				OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
			`, types.JobStatusQueued,
				types.JobStatusFailed, now,
				types.JobStatusRunning, staleCutoff).
			Order("priority DESC, created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":        types.JobStatusRunning,
				"attempts":      gorm.Expr("attempts + 1"),
				"next_retry_at": nil,
				"locked_at":     now,
				"heartbeat_at":  now,
				"updated_at":    now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.JobStatusRunning
		job.Attempts++
		job.NextRetryAt = nil
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRunRepo) MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.updateStatus(ctx, tx, id, map[string]interface{}{
		"status":        types.JobStatusSucceeded,
		"next_retry_at": nil,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	})
}

func (r *jobRunRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string, nextRetryAt time.Time) error {
	now := time.Now()
	return r.updateStatus(ctx, tx, id, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"last_error":    errMsg,
		"last_error_at": now,
		"next_retry_at": nextRetryAt,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	})
}

func (r *jobRunRepo) MarkDead(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	now := time.Now()
	return r.updateStatus(ctx, tx, id, map[string]interface{}{
		"status":        types.JobStatusDead,
		"last_error":    errMsg,
		"last_error_at": now,
		"next_retry_at": nil,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	})
}

func (r *jobRunRepo) CountByStatus(ctx context.Context, tx *gorm.DB, status string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("status = ?", status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *jobRunRepo) updateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return apperrors.ErrInvalidArgument
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}
