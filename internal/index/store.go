// Package index owns the per-user vector index: namespace layout,
// single-writer insertion, retention eviction, and hydration of vector
// matches back into chunk rows.
package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/embed"
	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/vecstore"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

// Match is a hydrated index hit: the similarity score from the vector
// store plus the full chunk row.
type Match struct {
	Chunk *types.ContentChunk
	Score float64
}

type Store interface {
	// Insert writes chunk vectors into the user's namespace. Vector IDs
	// are the chunk IDs, so re-inserting after a partial failure
	// replaces rather than duplicates.
	Insert(ctx context.Context, userID uuid.UUID, vectors []embed.ChunkVector) error
	Search(ctx context.Context, userID uuid.UUID, query []float32, topK int) ([]Match, error)
	// EvictOlderThan removes vectors inserted before the cutoff. Chunk
	// rows stay, so evicted content can be re-indexed without
	// re-processing the raw item. Returns the number of evicted vectors.
	EvictOlderThan(ctx context.Context, userID uuid.UUID, cutoff time.Time) (int, error)
	HasAny(ctx context.Context, userID uuid.UUID) (bool, error)
	DeleteChunks(ctx context.Context, userID uuid.UUID, chunkIDs []uuid.UUID) error
}

type store struct {
	log    *logger.Logger
	vecs   vecstore.VectorStore
	chunks repos.ContentChunkRepo

	mu      sync.Mutex
	writers map[uuid.UUID]*sync.Mutex
}

func NewStore(log *logger.Logger, vecs vecstore.VectorStore, chunks repos.ContentChunkRepo) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if vecs == nil {
		return nil, fmt.Errorf("vector store required")
	}
	if chunks == nil {
		return nil, fmt.Errorf("chunk repo required")
	}
	return &store{
		log:     log.With("service", "IndexStore"),
		vecs:    vecs,
		chunks:  chunks,
		writers: make(map[uuid.UUID]*sync.Mutex),
	}, nil
}

// Namespace returns the vector-store namespace for a user. All index
// operations stay inside it; there is no cross-user query path.
func Namespace(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// writerFor serializes writes per user. Reads stay concurrent; the
// vector store itself is safe for those.
func (s *store) writerFor(userID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[userID]
	if !ok {
		w = &sync.Mutex{}
		s.writers[userID] = w
	}
	return w
}

func (s *store) Insert(ctx context.Context, userID uuid.UUID, vectors []embed.ChunkVector) error {
	if userID == uuid.Nil {
		return apperrors.ErrInvalidArgument
	}
	if len(vectors) == 0 {
		return nil
	}

	now := time.Now().Unix()
	batch := make([]vecstore.Vector, 0, len(vectors))
	for _, cv := range vectors {
		if cv.ChunkID == uuid.Nil || len(cv.Vector) == 0 {
			return fmt.Errorf("%w: chunk vector missing id or values", apperrors.ErrInvalidArgument)
		}
		batch = append(batch, vecstore.Vector{
			ID:     cv.ChunkID.String(),
			Values: cv.Vector,
			Metadata: map[string]any{
				vecstore.MetadataInsertedAtKey: now,
			},
		})
	}

	w := s.writerFor(userID)
	w.Lock()
	defer w.Unlock()
	return s.vecs.Upsert(ctxutil.Default(ctx), Namespace(userID), batch)
}

func (s *store) Search(ctx context.Context, userID uuid.UUID, query []float32, topK int) ([]Match, error) {
	if userID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	if len(query) == 0 {
		return nil, apperrors.ErrInvalidArgument
	}
	ctx = ctxutil.Default(ctx)

	matches, err := s.vecs.QueryMatches(ctx, Namespace(userID), query, topK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []Match{}, nil
	}

	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		id, parseErr := uuid.Parse(m.ID)
		if parseErr != nil {
			s.log.Warn("non-uuid vector id in user namespace", "user_id", userID, "vector_id", m.ID)
			continue
		}
		ids = append(ids, id)
	}
	rows, err := s.chunks.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.ContentChunk, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		id, parseErr := uuid.Parse(m.ID)
		if parseErr != nil {
			continue
		}
		chunk, ok := byID[id]
		if !ok {
			// Orphan vector: chunk row was deleted under it. Drop the
			// hit rather than fabricate metadata.
			s.log.Warn("vector without chunk row", "user_id", userID, "chunk_id", id)
			continue
		}
		if chunk.UserID != userID {
			return nil, fmt.Errorf("%w: chunk %s crossed namespace boundary",
				apperrors.ErrConsistencyViolation, id)
		}
		out = append(out, Match{Chunk: chunk, Score: m.Score})
	}
	if len(out) == 0 && len(matches) > 0 {
		return nil, fmt.Errorf("%w: %d vector hits had no chunk rows",
			apperrors.ErrConsistencyViolation, len(matches))
	}
	return out, nil
}

func (s *store) EvictOlderThan(ctx context.Context, userID uuid.UUID, cutoff time.Time) (int, error) {
	if userID == uuid.Nil {
		return 0, apperrors.ErrInvalidArgument
	}
	ctx = ctxutil.Default(ctx)

	w := s.writerFor(userID)
	w.Lock()
	defer w.Unlock()

	evicted, err := s.vecs.DeleteOlderThan(ctx, Namespace(userID), cutoff)
	if err != nil {
		return 0, err
	}
	if evicted > 0 {
		s.log.Info("index eviction complete",
			"user_id", userID,
			"vectors_evicted", evicted,
			"cutoff", cutoff,
		)
	}
	return evicted, nil
}

func (s *store) HasAny(ctx context.Context, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, apperrors.ErrInvalidArgument
	}
	count, err := s.vecs.Count(ctxutil.Default(ctx), Namespace(userID))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *store) DeleteChunks(ctx context.Context, userID uuid.UUID, chunkIDs []uuid.UUID) error {
	if userID == uuid.Nil {
		return apperrors.ErrInvalidArgument
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, id.String())
	}
	w := s.writerFor(userID)
	w.Lock()
	defer w.Unlock()
	return s.vecs.DeleteIDs(ctxutil.Default(ctx), Namespace(userID), ids)
}
