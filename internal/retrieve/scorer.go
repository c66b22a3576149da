package retrieve

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/driftnote/driftnote-backend/internal/index"
	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/openai"
)

// Scorer reranks retrieval candidates against the query. Scores are
// relative within one call; only their ordering matters.
type Scorer interface {
	Score(ctx context.Context, query string, candidates []index.Match) ([]float64, error)
}

// lexicalScorer is the default reranker: normalized term overlap between
// query and chunk text, deterministic and provider-free.
type lexicalScorer struct{}

func NewLexicalScorer() Scorer { return lexicalScorer{} }

func (lexicalScorer) Score(ctx context.Context, query string, candidates []index.Match) ([]float64, error) {
	if err := ctxutil.Default(ctx).Err(); err != nil {
		return nil, err
	}
	queryTerms := termSet(query)
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = overlap(queryTerms, termSet(c.Chunk.Text))
	}
	return scores, nil
}

func termSet(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		term := strings.Trim(raw, ".,;:!?\"'()[]")
		if len(term) < 3 {
			continue
		}
		out[term] = struct{}{}
	}
	return out
}

func overlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := chunk[term]; ok {
			hits++
		}
	}
	return float64(hits) / math.Sqrt(float64(len(query))*float64(len(chunk)))
}

// llmScorer asks the generation model to grade each candidate's relevance
// on a 0..1 scale in one structured call. Falls back to the lexical
// scorer when the provider output is unusable.
type llmScorer struct {
	log      *logger.Logger
	client   openai.Client
	fallback Scorer
}

func NewLLMScorer(log *logger.Logger, client openai.Client) (Scorer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("generation client required")
	}
	return &llmScorer{
		log:      log.With("service", "LLMScorer"),
		client:   client,
		fallback: NewLexicalScorer(),
	}, nil
}

const scorerSystemPrompt = "You grade how relevant each numbered passage is to the user's question. " +
	"Return a relevance score between 0 and 1 for every passage, in passage order."

func (s *llmScorer) Score(ctx context.Context, query string, candidates []index.Match) ([]float64, error) {
	if len(candidates) == 0 {
		return []float64{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, c.Chunk.Text)
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scores": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "number"},
			},
		},
		"required":             []string{"scores"},
		"additionalProperties": false,
	}
	raw, err := s.client.GenerateJSON(ctxutil.Default(ctx), scorerSystemPrompt, b.String(), "relevance_scores", schema)
	if err != nil {
		s.log.Warn("llm rerank failed, using lexical fallback", "error", err)
		return s.fallback.Score(ctx, query, candidates)
	}

	scores, ok := parseScores(raw, len(candidates))
	if !ok {
		s.log.Warn("llm rerank returned malformed scores, using lexical fallback")
		return s.fallback.Score(ctx, query, candidates)
	}
	return scores, nil
}

func parseScores(raw map[string]any, want int) ([]float64, bool) {
	values, ok := raw["scores"].([]any)
	if !ok || len(values) != want {
		return nil, false
	}
	out := make([]float64, want)
	for i, v := range values {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		out[i] = f
	}
	return out, true
}
