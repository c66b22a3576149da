package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/driftnote/driftnote-backend/internal/index"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/types"
)

// EvictIndex removes a user's vectors older than the retention window.
// Chunk rows stay behind so the content can be re-indexed later without
// re-processing.
type EvictIndex struct {
	log       *logger.Logger
	store     index.Store
	retention time.Duration
}

func NewEvictIndex(baseLog *logger.Logger, store index.Store, retention time.Duration) (*EvictIndex, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("index store required")
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &EvictIndex{
		log:       baseLog.With("handler", types.JobKindEvictIndex),
		store:     store,
		retention: retention,
	}, nil
}

func (h *EvictIndex) Kind() string { return types.JobKindEvictIndex }

func (h *EvictIndex) Handle(ctx context.Context, job *types.JobRun) error {
	cutoff := time.Now().Add(-h.retention)
	evicted, err := h.store.EvictOlderThan(ctx, job.TargetID, cutoff)
	if err != nil {
		return err
	}
	h.log.Info("retention sweep done",
		"user_id", job.TargetID,
		"evicted", evicted,
		"cutoff", cutoff,
	)
	return nil
}
