// Package answer composes grounded assistant answers: retrieval-backed
// prompt assembly, generation, citation resolution, and turn persistence.
package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/openai"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/retrieve"
	"github.com/driftnote/driftnote-backend/internal/types"
)

const (
	// historyWindow bounds how many prior turns feed the prompt. Older
	// turns stay in the database but never re-enter generation.
	historyWindow = 8

	defaultGenerateTimeout = 30 * time.Second

	// ungroundedAnswerText is the deterministic reply when the user's
	// index holds nothing relevant. It is a normal assistant turn, not
	// an error.
	ungroundedAnswerText = "I don't have enough indexed content to answer that yet. Add sources or wait for the next collection run, then ask again."
)

// Result is a composed answer with its resolved citations.
type Result struct {
	ConversationID uuid.UUID
	TurnID         uuid.UUID
	Text           string
	Citations      []Citation
}

type Composer interface {
	// Compose answers the user's message inside the conversation.
	// The user turn is persisted before generation, so a failed
	// generation never loses the question. When retrieval grounds
	// nothing, the answer is the fixed ungroundedAnswerText with no
	// citations and no provider call. ErrGenerationTimeout is returned
	// when the provider call exceeds the deadline.
	Compose(ctx context.Context, userID, conversationID uuid.UUID, message string) (*Result, error)
}

type composer struct {
	log           *logger.Logger
	client        openai.Client
	retriever     retrieve.Retriever
	conversations repos.ConversationRepo
	timeout       time.Duration
}

func NewComposer(
	log *logger.Logger,
	client openai.Client,
	retriever retrieve.Retriever,
	conversations repos.ConversationRepo,
	timeout time.Duration,
) (Composer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("generation client required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever required")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation repo required")
	}
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &composer{
		log:           log.With("service", "AnswerComposer"),
		client:        client,
		retriever:     retriever,
		conversations: conversations,
		timeout:       timeout,
	}, nil
}

func (c *composer) Compose(ctx context.Context, userID, conversationID uuid.UUID, message string) (*Result, error) {
	if userID == uuid.Nil || conversationID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.ErrInvalidArgument
	}
	ctx = ctxutil.Default(ctx)

	conv, err := c.conversations.GetByID(ctx, nil, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, apperrors.ErrNotFound
	}

	// History is read before the new turn is appended so the question
	// appears in the prompt once.
	history, err := c.conversations.GetRecentTurns(ctx, nil, conversationID, historyWindow)
	if err != nil {
		return nil, err
	}

	if _, err := c.conversations.AppendTurn(ctx, nil, &types.ConversationTurn{
		ConversationID: conversationID,
		Role:           types.TurnRoleUser,
		Text:           message,
	}); err != nil {
		return nil, err
	}

	ranked, err := c.retriever.Retrieve(ctx, userID, message, retrieve.DefaultTopK)
	if err != nil && !errors.Is(err, apperrors.ErrEmptyIndex) {
		return nil, err
	}
	if err != nil || len(ranked) == 0 {
		return c.composeUngrounded(ctx, conversationID)
	}

	grounding := make([]*types.ContentChunk, len(ranked))
	for i, r := range ranked {
		grounding[i] = r.Chunk.Chunk
	}

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	raw, err := c.client.GenerateText(genCtx, composerSystemPrompt, buildUserPrompt(message, grounding, history))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || genCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: generation exceeded %s", apperrors.ErrGenerationTimeout, c.timeout)
		}
		return nil, err
	}

	text, citations := extractCitations(strings.TrimSpace(raw), grounding)
	citedJSON, err := json.Marshal(uuidStrings(citedChunkIDs(citations)))
	if err != nil {
		return nil, err
	}

	turn, err := c.conversations.AppendTurn(ctx, nil, &types.ConversationTurn{
		ConversationID: conversationID,
		Role:           types.TurnRoleAssistant,
		Text:           text,
		CitedChunkIDs:  citedJSON,
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("answer composed",
		"conversation_id", conversationID,
		"grounding_size", len(grounding),
		"citations", len(citations),
	)
	return &Result{
		ConversationID: conversationID,
		TurnID:         turn.ID,
		Text:           text,
		Citations:      citations,
	}, nil
}

// composeUngrounded persists the fixed no-grounding reply as an
// assistant turn. The provider is never called on this path.
func (c *composer) composeUngrounded(ctx context.Context, conversationID uuid.UUID) (*Result, error) {
	turn, err := c.conversations.AppendTurn(ctx, nil, &types.ConversationTurn{
		ConversationID: conversationID,
		Role:           types.TurnRoleAssistant,
		Text:           ungroundedAnswerText,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("answer composed without grounding", "conversation_id", conversationID)
	return &Result{
		ConversationID: conversationID,
		TurnID:         turn.ID,
		Text:           ungroundedAnswerText,
		Citations:      []Citation{},
	}, nil
}

func buildUserPrompt(message string, grounding []*types.ContentChunk, history []*types.ConversationTurn) string {
	var b strings.Builder

	b.WriteString("Sources:\n\n")
	for i, chunk := range grounding {
		fmt.Fprintf(&b, "%s %s", markerFor(i), describeChunk(chunk))
		b.WriteString("\n")
		b.WriteString(chunk.Text)
		b.WriteString("\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(message)
	return b.String()
}

func describeChunk(chunk *types.ContentChunk) string {
	parts := []string{chunk.SourceType}
	if chunk.Title != "" {
		parts = append(parts, fmt.Sprintf("%q", chunk.Title))
	}
	if chunk.Author != "" {
		parts = append(parts, "by "+chunk.Author)
	}
	if !chunk.PublishedAt.IsZero() {
		parts = append(parts, chunk.PublishedAt.Format("2006-01-02"))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
