// Package embed turns content chunks into vectors via the configured
// embedding provider, batching requests and throttling against a shared
// rate budget.
package embed

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/openai"
	"github.com/driftnote/driftnote-backend/internal/platform/ratelimit"
	"github.com/driftnote/driftnote-backend/internal/types"
)

const defaultBatchSize = 32

// ChunkVector pairs a chunk with its embedding.
type ChunkVector struct {
	ChunkID uuid.UUID
	Vector  []float32
}

// Result reports a batch run. A transient provider failure mid-run leaves
// earlier batches in Embedded and the remainder in Failed, so the caller
// can persist partial progress and requeue only what is missing.
type Result struct {
	Embedded []ChunkVector
	Failed   []uuid.UUID
	Err      error
}

type Embedder interface {
	// EmbedChunks embeds chunks that need (re-)embedding for the active
	// model. Chunks already carrying a vector from the active model are
	// skipped.
	EmbedChunks(ctx context.Context, chunks []*types.ContentChunk) Result
	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelVersion() string
}

type embedder struct {
	log       *logger.Logger
	client    openai.Client
	limiter   ratelimit.Limiter
	batchSize int
}

func NewEmbedder(log *logger.Logger, client openai.Client, limiter ratelimit.Limiter, batchSize int) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("embedding client required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &embedder{
		log:       log.With("service", "Embedder"),
		client:    client,
		limiter:   limiter,
		batchSize: batchSize,
	}, nil
}

func (e *embedder) ModelVersion() string { return e.client.EmbedModel() }

func (e *embedder) EmbedChunks(ctx context.Context, chunks []*types.ContentChunk) Result {
	ctx = ctxutil.Default(ctx)
	model := e.client.EmbedModel()

	pending := make([]*types.ContentChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil || chunk.Text == "" {
			continue
		}
		if chunk.EmbedModel == model && chunk.EmbeddedAt != nil {
			continue
		}
		pending = append(pending, chunk)
	}
	if len(pending) == 0 {
		return Result{}
	}

	var result Result
	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		if err := e.limiter.Acquire(ctx, len(batch)); err != nil {
			result.Err = err
			result.Failed = append(result.Failed, chunkIDs(pending[start:])...)
			return result
		}

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}
		vectors, err := e.client.Embed(ctx, texts)
		if err != nil {
			e.log.Warn("embedding batch failed",
				"batch_size", len(batch),
				"embedded_so_far", len(result.Embedded),
				"error", err,
			)
			result.Err = err
			result.Failed = append(result.Failed, chunkIDs(pending[start:])...)
			return result
		}
		if len(vectors) != len(batch) {
			result.Err = fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(batch))
			result.Failed = append(result.Failed, chunkIDs(pending[start:])...)
			return result
		}
		for i, chunk := range batch {
			result.Embedded = append(result.Embedded, ChunkVector{
				ChunkID: chunk.ID,
				Vector:  vectors[i],
			})
		}
	}
	return result
}

func (e *embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, apperrors.ErrInvalidArgument
	}
	if err := e.limiter.Acquire(ctxutil.Default(ctx), 1); err != nil {
		return nil, err
	}
	vectors, err := e.client.Embed(ctxutil.Default(ctx), []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("provider returned %d vectors for single query", len(vectors))
	}
	return vectors[0], nil
}

func chunkIDs(chunks []*types.ContentChunk) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(chunks))
	for _, chunk := range chunks {
		ids = append(ids, chunk.ID)
	}
	return ids
}
