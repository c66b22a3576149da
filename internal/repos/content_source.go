package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type ContentSourceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, source *types.ContentSource) (*types.ContentSource, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ContentSource, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ContentSource, error)
	// ListDigestDue returns unflagged sources whose next_digest_at has
	// passed (or was never set).
	ListDigestDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.ContentSource, error)
	MarkCollected(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	SetNextDigestAt(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	Flag(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error
	Unflag(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// ListDistinctUserIDs returns every user that owns at least one
	// source. Drives per-user maintenance sweeps.
	ListDistinctUserIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error)
}

type contentSourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentSourceRepo(db *gorm.DB, baseLog *logger.Logger) ContentSourceRepo {
	return &contentSourceRepo{db: db, log: baseLog.With("repo", "ContentSourceRepo")}
}

func (r *contentSourceRepo) Create(ctx context.Context, tx *gorm.DB, source *types.ContentSource) (*types.ContentSource, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if source == nil || source.UserID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	switch source.Kind {
	case types.SourceKindYouTube, types.SourceKindReddit, types.SourceKindRSS:
	default:
		return nil, apperrors.ErrInvalidArgument
	}
	if source.Cadence == "" {
		source.Cadence = types.CadenceSixHourly
	}
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(source).Error; err != nil {
		return nil, err
	}
	return source, nil
}

func (r *contentSourceRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ContentSource, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var source types.ContentSource
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *contentSourceRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ContentSource, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ContentSource
	if userID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentSourceRepo) ListDigestDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.ContentSource, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.ContentSource
	if err := transaction.WithContext(ctx).
		Where("flagged_at IS NULL AND (next_digest_at IS NULL OR next_digest_at <= ?)", now).
		Order("next_digest_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentSourceRepo) MarkCollected(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.updateFields(ctx, tx, id, map[string]interface{}{
		"last_collected_at": at,
	})
}

func (r *contentSourceRepo) SetNextDigestAt(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.updateFields(ctx, tx, id, map[string]interface{}{
		"next_digest_at": at,
	})
}

func (r *contentSourceRepo) Flag(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error {
	return r.updateFields(ctx, tx, id, map[string]interface{}{
		"flagged_at":  time.Now(),
		"flag_reason": reason,
	})
}

func (r *contentSourceRepo) Unflag(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.updateFields(ctx, tx, id, map[string]interface{}{
		"flagged_at":  nil,
		"flag_reason": "",
	})
}

func (r *contentSourceRepo) ListDistinctUserIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []uuid.UUID
	if err := transaction.WithContext(ctx).
		Model(&types.ContentSource{}).
		Distinct("user_id").
		Pluck("user_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentSourceRepo) updateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return apperrors.ErrInvalidArgument
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.ContentSource{}).
		Where("id = ?", id).
		Updates(updates).Error
}
