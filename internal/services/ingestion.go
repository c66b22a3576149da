// Package services holds the application services behind the HTTP
// surface: ingestion, search, and chat.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type SubmitItemInput struct {
	SourceID    uuid.UUID       `json:"source_id"`
	ExternalID  string          `json:"external_id"`
	SourceType  string          `json:"source_type"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Body        string          `json:"body"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

type SubmitItemResult struct {
	Item     *types.RawContentItem `json:"item"`
	Created  bool                  `json:"created"`
	JobID    *uuid.UUID            `json:"job_id,omitempty"`
	JobState string                `json:"job_state,omitempty"`
}

type IngestionService interface {
	// SubmitRawContentItem stores a collector item and queues its
	// processing. A duplicate (source_id, external_id) is acknowledged
	// without creating a second item or job.
	SubmitRawContentItem(ctx context.Context, in SubmitItemInput) (*SubmitItemResult, error)
	LatestChunks(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]*types.ContentChunk, error)
	CreateSource(ctx context.Context, source *types.ContentSource) (*types.ContentSource, error)
	ListSources(ctx context.Context, userID uuid.UUID) ([]*types.ContentSource, error)
}

type ingestionService struct {
	log      *logger.Logger
	rawItems repos.RawItemRepo
	chunks   repos.ContentChunkRepo
	sources  repos.ContentSourceRepo
	jobs     repos.JobRunRepo
}

func NewIngestionService(
	baseLog *logger.Logger,
	rawItems repos.RawItemRepo,
	chunks repos.ContentChunkRepo,
	sources repos.ContentSourceRepo,
	jobs repos.JobRunRepo,
) (IngestionService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rawItems == nil || chunks == nil || sources == nil || jobs == nil {
		return nil, fmt.Errorf("ingestion service missing dependency")
	}
	return &ingestionService{
		log:      baseLog.With("service", "IngestionService"),
		rawItems: rawItems,
		chunks:   chunks,
		sources:  sources,
		jobs:     jobs,
	}, nil
}

func (s *ingestionService) SubmitRawContentItem(ctx context.Context, in SubmitItemInput) (*SubmitItemResult, error) {
	ctx = ctxutil.Default(ctx)
	if in.SourceID == uuid.Nil || in.ExternalID == "" {
		return nil, fmt.Errorf("%w: source_id and external_id are required", apperrors.ErrInvalidArgument)
	}
	switch in.SourceType {
	case types.SourceTypeVideo, types.SourceTypeArticle, types.SourceTypeThread:
	default:
		return nil, fmt.Errorf("%w: source type %q", apperrors.ErrUnsupportedFormat, in.SourceType)
	}

	source, err := s.sources.GetByID(ctx, nil, in.SourceID)
	if err != nil {
		return nil, err
	}

	item := &types.RawContentItem{
		SourceID:    in.SourceID,
		ExternalID:  in.ExternalID,
		UserID:      source.UserID,
		SourceType:  in.SourceType,
		Title:       in.Title,
		Author:      in.Author,
		Body:        in.Body,
		PublishedAt: in.PublishedAt,
		Payload:     []byte(in.Payload),
	}
	stored, created, err := s.rawItems.Upsert(ctx, nil, item)
	if err != nil {
		return nil, err
	}
	result := &SubmitItemResult{Item: stored, Created: created}
	if !created {
		s.log.Debug("duplicate item acknowledged",
			"source_id", in.SourceID, "external_id", in.ExternalID)
		return result, nil
	}

	job, _, err := s.jobs.EnqueueCoalescing(ctx, nil, &types.JobRun{
		UserID:     source.UserID,
		Kind:       types.JobKindProcessContent,
		TargetType: "raw_item",
		TargetID:   stored.ID,
		Priority:   processPriority(source, time.Now()),
	})
	if err != nil {
		return nil, err
	}
	result.JobID = &job.ID
	result.JobState = job.Status
	s.log.Info("raw item accepted",
		"item_id", stored.ID,
		"source_id", in.SourceID,
		"source_type", in.SourceType,
		"job_id", job.ID,
	)
	return result, nil
}

const (
	// digestPriorityWindow is how close a source's next digest must be
	// for its processing jobs to jump the routine backlog.
	digestPriorityWindow = time.Hour

	digestSoonPriority = 10
)

// processPriority elevates processing jobs whose content feeds an
// imminent digest, so the digest assembles from an up-to-date index.
func processPriority(source *types.ContentSource, now time.Time) int {
	if source.NextDigestAt == nil {
		return 0
	}
	until := source.NextDigestAt.Sub(now)
	if until <= digestPriorityWindow {
		return digestSoonPriority
	}
	return 0
}

func (s *ingestionService) LatestChunks(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]*types.ContentChunk, error) {
	return s.chunks.GetLatestByUser(ctxutil.Default(ctx), nil, userID, since, limit)
}

func (s *ingestionService) CreateSource(ctx context.Context, source *types.ContentSource) (*types.ContentSource, error) {
	return s.sources.Create(ctxutil.Default(ctx), nil, source)
}

func (s *ingestionService) ListSources(ctx context.Context, userID uuid.UUID) ([]*types.ContentSource, error) {
	return s.sources.ListByUser(ctxutil.Default(ctx), nil, userID)
}
