package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type ContentChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.ContentChunk) ([]*types.ContentChunk, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ContentChunk, error)
	GetByRawItemID(ctx context.Context, tx *gorm.DB, rawItemID uuid.UUID) ([]*types.ContentChunk, error)
	// ReplaceForRawItem deletes any existing chunks for the raw item and
	// writes the new set in one transaction, so a re-run of processing
	// never leaves a mixed generation behind.
	ReplaceForRawItem(ctx context.Context, tx *gorm.DB, rawItemID uuid.UUID, chunks []*types.ContentChunk) ([]*types.ContentChunk, error)
	GetLatestByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time, limit int) ([]*types.ContentChunk, error)
	MarkEmbedded(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, embedModel string, embeddedAt time.Time) error
}

type contentChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentChunkRepo(db *gorm.DB, baseLog *logger.Logger) ContentChunkRepo {
	return &contentChunkRepo{db: db, log: baseLog.With("repo", "ContentChunkRepo")}
}

func (r *contentChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.ContentChunk) ([]*types.ContentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.ContentChunk{}, nil
	}

	// Keep batches small because Text is large.
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *contentChunkRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ContentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ContentChunk
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentChunkRepo) GetByRawItemID(ctx context.Context, tx *gorm.DB, rawItemID uuid.UUID) ([]*types.ContentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ContentChunk
	if rawItemID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("raw_item_id = ?", rawItemID).
		Order("position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentChunkRepo) ReplaceForRawItem(ctx context.Context, tx *gorm.DB, rawItemID uuid.UUID, chunks []*types.ContentChunk) ([]*types.ContentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if rawItemID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}

	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("raw_item_id = ?", rawItemID).
			Delete(&types.ContentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return txx.CreateInBatches(chunks, 100).Error
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *contentChunkRepo) GetLatestByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time, limit int) ([]*types.ContentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 200
	}
	var out []*types.ContentChunk
	q := transaction.WithContext(ctx).
		Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Order("created_at DESC, position ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentChunkRepo) MarkEmbedded(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, embedModel string, embeddedAt time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.ContentChunk{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"embed_model": embedModel,
			"embedded_at": embeddedAt,
			"updated_at":  time.Now(),
		}).Error
}
