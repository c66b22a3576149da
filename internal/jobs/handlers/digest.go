package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/realtime"
	"github.com/driftnote/driftnote-backend/internal/realtime/bus"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

// AssembleDigest collects what arrived on a source since its last
// digest window and announces the batch downstream. Digest rendering
// itself lives outside this service; the event carries everything a
// consumer needs to fetch the batch.
type AssembleDigest struct {
	log      *logger.Logger
	sources  repos.ContentSourceRepo
	rawItems repos.RawItemRepo
	chunks   repos.ContentChunkRepo
	window   time.Duration
	events   bus.Bus
}

func NewAssembleDigest(
	baseLog *logger.Logger,
	sources repos.ContentSourceRepo,
	rawItems repos.RawItemRepo,
	chunks repos.ContentChunkRepo,
	window time.Duration,
	events bus.Bus,
) (*AssembleDigest, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sources == nil || rawItems == nil || chunks == nil {
		return nil, fmt.Errorf("assemble digest handler missing dependency")
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &AssembleDigest{
		log:      baseLog.With("handler", types.JobKindAssembleDigest),
		sources:  sources,
		rawItems: rawItems,
		chunks:   chunks,
		window:   window,
		events:   events,
	}, nil
}

func (h *AssembleDigest) Kind() string { return types.JobKindAssembleDigest }

func (h *AssembleDigest) Handle(ctx context.Context, job *types.JobRun) error {
	source, err := h.sources.GetByID(ctx, nil, job.TargetID)
	if err != nil {
		return err
	}

	since := time.Now().Add(-h.window)
	if source.LastCollectedAt != nil && source.LastCollectedAt.After(since) {
		since = *source.LastCollectedAt
	}
	items, err := h.rawItems.ListBySourceSince(ctx, nil, source.ID, since)
	if err != nil {
		return err
	}

	chunkIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		rows, cErr := h.chunks.GetByRawItemID(ctx, nil, item.ID)
		if cErr != nil {
			return cErr
		}
		for _, row := range rows {
			chunkIDs = append(chunkIDs, row.ID)
		}
	}

	now := time.Now()
	if err := h.sources.MarkCollected(ctx, nil, source.ID, now); err != nil {
		return err
	}

	h.log.Info("digest batch assembled",
		"source_id", source.ID,
		"user_id", source.UserID,
		"items", len(items),
		"chunks", len(chunkIDs),
		"since", since,
	)
	if h.events != nil && len(items) > 0 {
		event := realtime.NewDigestDataReady(source.UserID, source.ID, since, now, chunkIDs)
		if pErr := h.events.Publish(ctx, event); pErr != nil {
			h.log.Warn("publish digest.data_ready failed", "error", pErr)
		}
	}
	return nil
}
