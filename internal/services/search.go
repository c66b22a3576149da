package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/retrieve"
)

// SearchHit is the API projection of one reranked chunk.
type SearchHit struct {
	ChunkID     uuid.UUID       `json:"chunk_id"`
	Text        string          `json:"text"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	SourceType  string          `json:"source_type"`
	PublishedAt time.Time       `json:"published_at"`
	Anchor      json.RawMessage `json:"anchor,omitempty"`
	Score       float64         `json:"score"`
}

type SearchService interface {
	Search(ctx context.Context, userID uuid.UUID, query string, topK int) ([]SearchHit, error)
}

type searchService struct {
	log       *logger.Logger
	retriever retrieve.Retriever
}

func NewSearchService(baseLog *logger.Logger, retriever retrieve.Retriever) (SearchService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever required")
	}
	return &searchService{
		log:       baseLog.With("service", "SearchService"),
		retriever: retriever,
	}, nil
}

func (s *searchService) Search(ctx context.Context, userID uuid.UUID, query string, topK int) ([]SearchHit, error) {
	ranked, err := s.retriever.Retrieve(ctxutil.Default(ctx), userID, query, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(ranked))
	for _, r := range ranked {
		chunk := r.Chunk.Chunk
		hits = append(hits, SearchHit{
			ChunkID:     chunk.ID,
			Text:        chunk.Text,
			Title:       chunk.Title,
			Author:      chunk.Author,
			SourceType:  chunk.SourceType,
			PublishedAt: chunk.PublishedAt,
			Anchor:      json.RawMessage(chunk.Anchor),
			Score:       r.RerankScore,
		})
	}
	return hits, nil
}
