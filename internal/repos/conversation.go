package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, conv *types.Conversation) (*types.Conversation, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error)
	AppendTurn(ctx context.Context, tx *gorm.DB, turn *types.ConversationTurn) (*types.ConversationTurn, error)
	// GetRecentTurns returns the latest n turns in chronological order.
	GetRecentTurns(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, n int) ([]*types.ConversationTurn, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(ctx context.Context, tx *gorm.DB, conv *types.Conversation) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if conv == nil || conv.UserID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *conversationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var conv types.Conversation
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) AppendTurn(ctx context.Context, tx *gorm.DB, turn *types.ConversationTurn) (*types.ConversationTurn, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if turn == nil || turn.ConversationID == uuid.Nil || turn.Text == "" {
		return nil, apperrors.ErrInvalidArgument
	}
	if turn.Role != types.TurnRoleUser && turn.Role != types.TurnRoleAssistant {
		return nil, apperrors.ErrInvalidArgument
	}
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(turn).Error; err != nil {
		return nil, err
	}
	return turn, nil
}

func (r *conversationRepo) GetRecentTurns(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, n int) ([]*types.ConversationTurn, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if conversationID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	if n <= 0 {
		n = 8
	}
	var latest []*types.ConversationTurn
	if err := transaction.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&latest).Error; err != nil {
		return nil, err
	}
	// Reverse to chronological order for prompt assembly.
	out := make([]*types.ConversationTurn, 0, len(latest))
	for i := len(latest) - 1; i >= 0; i-- {
		out = append(out, latest[i])
	}
	return out, nil
}
