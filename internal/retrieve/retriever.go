// Package retrieve implements the two-stage retrieval path: vector
// similarity recall followed by reranking down to the grounding set.
package retrieve

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/embed"
	"github.com/driftnote/driftnote-backend/internal/index"
	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
)

const (
	// DefaultRecallK is how many candidates the vector stage recalls
	// before reranking.
	DefaultRecallK = 15
	// DefaultTopK is the size of the grounding set handed to the
	// answer composer.
	DefaultTopK = 5
)

// Ranked is one reranked retrieval result.
type Ranked struct {
	Chunk       *index.Match
	RerankScore float64
	// SimRank is the candidate's position in the vector-similarity
	// stage, 0 being closest. Kept as the final tie-breaker so results
	// stay deterministic.
	SimRank int
}

type Retriever interface {
	// Retrieve returns up to topK reranked chunks for the query.
	// Returns ErrEmptyIndex when the user has nothing indexed yet.
	Retrieve(ctx context.Context, userID uuid.UUID, query string, topK int) ([]Ranked, error)
}

type retriever struct {
	log      *logger.Logger
	embedder embed.Embedder
	store    index.Store
	scorer   Scorer
	recallK  int
}

func NewRetriever(log *logger.Logger, embedder embed.Embedder, store index.Store, scorer Scorer, recallK int) (Retriever, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if store == nil {
		return nil, fmt.Errorf("index store required")
	}
	if scorer == nil {
		scorer = NewLexicalScorer()
	}
	if recallK <= 0 {
		recallK = DefaultRecallK
	}
	return &retriever{
		log:      log.With("service", "Retriever"),
		embedder: embedder,
		store:    store,
		scorer:   scorer,
		recallK:  recallK,
	}, nil
}

func (r *retriever) Retrieve(ctx context.Context, userID uuid.UUID, query string, topK int) ([]Ranked, error) {
	if userID == uuid.Nil || query == "" {
		return nil, apperrors.ErrInvalidArgument
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	ctx = ctxutil.Default(ctx)

	hasAny, err := r.store.HasAny(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !hasAny {
		return nil, apperrors.ErrEmptyIndex
	}

	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := r.store.Search(ctx, userID, queryVec, r.recallK)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Ranked{}, nil
	}

	scores, err := r.scorer.Score(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(candidates))
	}

	ranked := make([]Ranked, len(candidates))
	for i := range candidates {
		ranked[i] = Ranked{
			Chunk:       &candidates[i],
			RerankScore: scores[i],
			SimRank:     i,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		// Equal rerank scores: prefer newer content, then the vector
		// stage's own ordering.
		pi := ranked[i].Chunk.Chunk.PublishedAt
		pj := ranked[j].Chunk.Chunk.PublishedAt
		if !pi.Equal(pj) {
			return pi.After(pj)
		}
		return ranked[i].SimRank < ranked[j].SimRank
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}
