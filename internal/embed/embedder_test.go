package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type fakeClient struct {
	model     string
	calls     [][]string
	failAfter int // fail on call index >= failAfter; -1 never fails
	failWith  error
}

func (c *fakeClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	call := len(c.calls)
	c.calls = append(c.calls, inputs)
	if c.failAfter >= 0 && call >= c.failAfter {
		return nil, c.failWith
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

func (c *fakeClient) EmbedModel() string { return c.model }

func (c *fakeClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (c *fakeClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not implemented")
}

func mkChunks(n int) []*types.ContentChunk {
	chunks := make([]*types.ContentChunk, n)
	for i := range chunks {
		chunks[i] = &types.ContentChunk{
			ID:   uuid.New(),
			Text: fmt.Sprintf("chunk text %d", i),
		}
	}
	return chunks
}

func newTestEmbedder(t *testing.T, client *fakeClient, batchSize int) Embedder {
	t.Helper()
	e, err := NewEmbedder(logger.NewNop(), client, nil, batchSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func TestEmbedChunksBatchesInputs(t *testing.T) {
	client := &fakeClient{model: "text-embedding-3-small", failAfter: -1}
	embedder := newTestEmbedder(t, client, 4)

	chunks := mkChunks(10)
	result := embedder.EmbedChunks(context.Background(), chunks)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if len(result.Embedded) != 10 {
		t.Fatalf("want=10 embedded got=%d", len(result.Embedded))
	}
	if len(client.calls) != 3 {
		t.Fatalf("want=3 batches got=%d", len(client.calls))
	}
	if len(client.calls[0]) != 4 || len(client.calls[2]) != 2 {
		t.Fatalf("unexpected batch sizes: %d, %d", len(client.calls[0]), len(client.calls[2]))
	}
	for i, cv := range result.Embedded {
		if cv.ChunkID != chunks[i].ID {
			t.Fatalf("embedding order broken at index %d", i)
		}
	}
}

func TestEmbedChunksPartialFailureKeepsEarlierBatches(t *testing.T) {
	client := &fakeClient{
		model:     "text-embedding-3-small",
		failAfter: 1,
		failWith:  apperrors.ErrRateLimited,
	}
	embedder := newTestEmbedder(t, client, 4)

	chunks := mkChunks(10)
	result := embedder.EmbedChunks(context.Background(), chunks)
	if !errors.Is(result.Err, apperrors.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited got=%v", result.Err)
	}
	if len(result.Embedded) != 4 {
		t.Fatalf("want=4 embedded from first batch got=%d", len(result.Embedded))
	}
	if len(result.Failed) != 6 {
		t.Fatalf("want=6 failed got=%d", len(result.Failed))
	}
	for i, id := range result.Failed {
		if id != chunks[4+i].ID {
			t.Fatalf("failed set wrong at index %d", i)
		}
	}
}

func TestEmbedChunksSkipsCurrentModelVectors(t *testing.T) {
	client := &fakeClient{model: "text-embedding-3-small", failAfter: -1}
	embedder := newTestEmbedder(t, client, 8)

	now := time.Now()
	chunks := mkChunks(4)
	chunks[0].EmbedModel = "text-embedding-3-small"
	chunks[0].EmbeddedAt = &now
	chunks[1].EmbedModel = "text-embedding-ada-002" // stale model: re-embed
	chunks[1].EmbeddedAt = &now

	result := embedder.EmbedChunks(context.Background(), chunks)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if len(result.Embedded) != 3 {
		t.Fatalf("want=3 embedded got=%d", len(result.Embedded))
	}
	for _, cv := range result.Embedded {
		if cv.ChunkID == chunks[0].ID {
			t.Fatalf("current-model chunk should be skipped")
		}
	}
}

func TestEmbedChunksSkipsEmptyText(t *testing.T) {
	client := &fakeClient{model: "text-embedding-3-small", failAfter: -1}
	embedder := newTestEmbedder(t, client, 8)

	chunks := mkChunks(3)
	chunks[1].Text = ""

	result := embedder.EmbedChunks(context.Background(), chunks)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if len(result.Embedded) != 2 {
		t.Fatalf("want=2 embedded got=%d", len(result.Embedded))
	}
}

func TestEmbedQuery(t *testing.T) {
	client := &fakeClient{model: "text-embedding-3-small", failAfter: -1}
	embedder := newTestEmbedder(t, client, 8)

	vec, err := embedder.EmbedQuery(context.Background(), "what changed in rust this week")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) == 0 {
		t.Fatalf("want non-empty vector")
	}

	if _, err := embedder.EmbedQuery(context.Background(), ""); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument got=%v", err)
	}
}
