// Package handlers holds the job handlers the worker pool dispatches to.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/chunker"
	"github.com/driftnote/driftnote-backend/internal/embed"
	"github.com/driftnote/driftnote-backend/internal/index"
	"github.com/driftnote/driftnote-backend/internal/normalize"
	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/realtime"
	"github.com/driftnote/driftnote-backend/internal/realtime/bus"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

// ProcessContent runs the whole per-item pipeline: normalize, chunk,
// embed, index. The handler is resumable: chunks persisted by an earlier
// attempt are reused, and already-embedded chunks are skipped, so a
// retry after a partial embedding failure only pays for what is missing.
type ProcessContent struct {
	log      *logger.Logger
	rawItems repos.RawItemRepo
	chunks   repos.ContentChunkRepo
	norm     normalize.Normalizer
	chk      chunker.Chunker
	chunkOpt chunker.Options
	embedder embed.Embedder
	store    index.Store
	events   bus.Bus
}

func NewProcessContent(
	baseLog *logger.Logger,
	rawItems repos.RawItemRepo,
	chunks repos.ContentChunkRepo,
	norm normalize.Normalizer,
	chk chunker.Chunker,
	chunkOpt chunker.Options,
	embedder embed.Embedder,
	store index.Store,
	events bus.Bus,
) (*ProcessContent, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rawItems == nil || chunks == nil || norm == nil || chk == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("process content handler missing dependency")
	}
	return &ProcessContent{
		log:      baseLog.With("handler", types.JobKindProcessContent),
		rawItems: rawItems,
		chunks:   chunks,
		norm:     norm,
		chk:      chk,
		chunkOpt: chunkOpt,
		embedder: embedder,
		store:    store,
		events:   events,
	}, nil
}

func (h *ProcessContent) Kind() string { return types.JobKindProcessContent }

func (h *ProcessContent) Handle(ctx context.Context, job *types.JobRun) error {
	item, err := h.rawItems.GetByID(ctx, nil, job.TargetID)
	if err != nil {
		return err
	}

	rows, err := h.ensureChunks(ctx, item)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: item %s produced no chunks", apperrors.ErrEmptyDocument, item.ID)
	}

	result := h.embedder.EmbedChunks(ctx, rows)
	if len(result.Embedded) > 0 {
		if err := h.store.Insert(ctx, item.UserID, result.Embedded); err != nil {
			return err
		}
		embeddedIDs := make([]uuid.UUID, 0, len(result.Embedded))
		for _, cv := range result.Embedded {
			embeddedIDs = append(embeddedIDs, cv.ChunkID)
		}
		if err := h.chunks.MarkEmbedded(ctx, nil, embeddedIDs, h.embedder.ModelVersion(), time.Now()); err != nil {
			return err
		}
	}
	if result.Err != nil {
		// Progress above is durable; the retry resumes from Failed.
		return fmt.Errorf("embedding incomplete, %d chunks pending: %w", len(result.Failed), result.Err)
	}

	h.log.Info("content indexed",
		"raw_item_id", item.ID,
		"user_id", item.UserID,
		"chunks", len(rows),
		"newly_embedded", len(result.Embedded),
	)
	if h.events != nil {
		event := realtime.NewContentIndexed(item.UserID, item.SourceID, len(rows))
		if pErr := h.events.Publish(ctx, event); pErr != nil {
			h.log.Warn("publish content.indexed failed", "error", pErr)
		}
	}
	return nil
}

// ensureChunks returns the item's chunk rows, producing them on the
// first attempt and reusing them on retries.
func (h *ProcessContent) ensureChunks(ctx context.Context, item *types.RawContentItem) ([]*types.ContentChunk, error) {
	existing, err := h.chunks.GetByRawItemID(ctx, nil, item.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	doc, err := h.norm.Normalize(item)
	if err != nil {
		return nil, err
	}
	pieces, err := h.chk.Chunk(doc, h.chunkOpt)
	if err != nil {
		return nil, err
	}

	rows := make([]*types.ContentChunk, 0, len(pieces))
	for _, piece := range pieces {
		anchor, err := json.Marshal(piece.Anchor)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &types.ContentChunk{
			ID:          uuid.New(),
			UserID:      item.UserID,
			RawItemID:   item.ID,
			SourceID:    item.SourceID,
			Position:    piece.Position,
			Text:        piece.Text,
			TokenCount:  piece.TokenCount,
			Anchor:      anchor,
			Title:       item.Title,
			Author:      item.Author,
			SourceType:  item.SourceType,
			PublishedAt: item.PublishedAt,
		})
	}
	if _, err := h.chunks.ReplaceForRawItem(ctx, nil, item.ID, rows); err != nil {
		return nil, err
	}
	return rows, nil
}
