package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/answer"
	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/realtime"
	"github.com/driftnote/driftnote-backend/internal/realtime/bus"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type ChatService interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*types.Conversation, error)
	// PostMessage runs the grounded answer flow and publishes
	// answer.ready or answer.failed accordingly.
	PostMessage(ctx context.Context, userID, conversationID uuid.UUID, message string) (*answer.Result, error)
	History(ctx context.Context, userID, conversationID uuid.UUID, limit int) ([]*types.ConversationTurn, error)
}

type chatService struct {
	log           *logger.Logger
	composer      answer.Composer
	conversations repos.ConversationRepo
	events        bus.Bus
}

func NewChatService(
	baseLog *logger.Logger,
	composer answer.Composer,
	conversations repos.ConversationRepo,
	events bus.Bus,
) (ChatService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if composer == nil {
		return nil, fmt.Errorf("composer required")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation repo required")
	}
	return &chatService{
		log:           baseLog.With("service", "ChatService"),
		composer:      composer,
		conversations: conversations,
		events:        events,
	}, nil
}

func (s *chatService) CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*types.Conversation, error) {
	return s.conversations.Create(ctxutil.Default(ctx), nil, &types.Conversation{
		UserID: userID,
		Title:  title,
	})
}

func (s *chatService) PostMessage(ctx context.Context, userID, conversationID uuid.UUID, message string) (*answer.Result, error) {
	ctx = ctxutil.Default(ctx)
	result, err := s.composer.Compose(ctx, userID, conversationID, message)
	if err != nil {
		s.publish(ctx, realtime.NewAnswerFailed(userID, conversationID, err.Error()))
		return nil, err
	}
	s.publish(ctx, realtime.NewAnswerReady(userID, conversationID, result.TurnID))
	return result, nil
}

func (s *chatService) History(ctx context.Context, userID, conversationID uuid.UUID, limit int) ([]*types.ConversationTurn, error) {
	ctx = ctxutil.Default(ctx)
	conv, err := s.conversations.GetByID(ctx, nil, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return s.conversations.GetRecentTurns(ctx, nil, conversationID, limit)
}

func (s *chatService) publish(ctx context.Context, event realtime.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("event publish failed", "kind", event.Kind, "error", err)
	}
}
