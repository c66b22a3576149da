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

type RawItemRepo interface {
	// Upsert inserts the item unless one with the same (source_id,
	// external_id) already exists. Returns the stored row and whether
	// this call inserted it.
	Upsert(ctx context.Context, tx *gorm.DB, item *types.RawContentItem) (*types.RawContentItem, bool, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RawContentItem, error)
	GetBySourceExternal(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, externalID string) (*types.RawContentItem, error)
	ListBySourceSince(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, since time.Time) ([]*types.RawContentItem, error)
}

type rawItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRawItemRepo(db *gorm.DB, baseLog *logger.Logger) RawItemRepo {
	return &rawItemRepo{db: db, log: baseLog.With("repo", "RawItemRepo")}
}

func (r *rawItemRepo) Upsert(ctx context.Context, tx *gorm.DB, item *types.RawContentItem) (*types.RawContentItem, bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if item == nil {
		return nil, false, apperrors.ErrInvalidArgument
	}
	if item.SourceID == uuid.Nil || item.ExternalID == "" || item.UserID == uuid.Nil {
		return nil, false, apperrors.ErrInvalidArgument
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	result := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(item)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return item, true, nil
	}

	existing, err := r.GetBySourceExternal(ctx, transaction, item.SourceID, item.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *rawItemRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RawContentItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var item types.RawContentItem
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *rawItemRepo) GetBySourceExternal(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, externalID string) (*types.RawContentItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sourceID == uuid.Nil || externalID == "" {
		return nil, apperrors.ErrInvalidArgument
	}
	var item types.RawContentItem
	err := transaction.WithContext(ctx).
		Where("source_id = ? AND external_id = ?", sourceID, externalID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *rawItemRepo) ListBySourceSince(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, since time.Time) ([]*types.RawContentItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RawContentItem
	if sourceID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("source_id = ? AND published_at >= ?", sourceID, since).
		Order("published_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
