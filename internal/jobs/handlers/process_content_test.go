package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/driftnote/driftnote-backend/internal/chunker"
	"github.com/driftnote/driftnote-backend/internal/embed"
	"github.com/driftnote/driftnote-backend/internal/index"
	"github.com/driftnote/driftnote-backend/internal/normalize"
	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/vecstore"
	"github.com/driftnote/driftnote-backend/internal/realtime"
	"github.com/driftnote/driftnote-backend/internal/realtime/bus"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

const testVectorDim = 4

type flakyEmbedClient struct {
	failCalls int // fail the first N Embed calls
	calls     int
}

func (c *flakyEmbedClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	c.calls++
	if c.calls <= c.failCalls {
		return nil, apperrors.ErrRateLimited
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0, float32(i)}
	}
	return out, nil
}

func (c *flakyEmbedClient) EmbedModel() string { return "text-embedding-3-small" }

func (c *flakyEmbedClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (c *flakyEmbedClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not implemented")
}

type pipelineFixture struct {
	handler  *ProcessContent
	rawItems repos.RawItemRepo
	chunks   repos.ContentChunkRepo
	store    index.Store
	client   *flakyEmbedClient
	events   []realtime.Event
}

func newPipelineFixture(t *testing.T, client *flakyEmbedClient, batchSize int) *pipelineFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.RawContentItem{}, &types.ContentChunk{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	log := logger.NewNop()
	rawRepo := repos.NewRawItemRepo(db, log)
	chunkRepo := repos.NewContentChunkRepo(db, log)

	norm, err := normalize.NewNormalizer(log)
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}
	chk, err := chunker.NewChunker(log)
	if err != nil {
		t.Fatalf("chunker: %v", err)
	}
	embedder, err := embed.NewEmbedder(log, client, nil, batchSize)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	vecs, err := vecstore.NewMemoryStore(testVectorDim)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	store, err := index.NewStore(log, vecs, chunkRepo)
	if err != nil {
		t.Fatalf("index store: %v", err)
	}

	f := &pipelineFixture{rawItems: rawRepo, chunks: chunkRepo, store: store, client: client}
	eventBus := bus.NewMemoryBus()
	if err := eventBus.StartForwarder(context.Background(), func(e realtime.Event) {
		f.events = append(f.events, e)
	}); err != nil {
		t.Fatalf("forwarder: %v", err)
	}

	handler, err := NewProcessContent(log, rawRepo, chunkRepo, norm, chk,
		chunker.DefaultOptions(), embedder, store, eventBus)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	f.handler = handler
	return f
}

func seedArticle(t *testing.T, f *pipelineFixture, paragraphs int) *types.RawContentItem {
	t.Helper()
	var parts []string
	for i := 0; i < paragraphs; i++ {
		parts = append(parts, strings.Repeat(fmt.Sprintf("paragraph %d sentence words here. ", i), 8))
	}
	payload, err := json.Marshal(map[string]any{"paragraphs": parts})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	item := &types.RawContentItem{
		SourceID:   uuid.New(),
		ExternalID: uuid.NewString(),
		UserID:     uuid.New(),
		SourceType: types.SourceTypeArticle,
		Title:      "test article",
		Author:     "author",
		Payload:    payload,
	}
	stored, _, err := f.rawItems.Upsert(context.Background(), nil, item)
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return stored
}

func processJob(item *types.RawContentItem) *types.JobRun {
	return &types.JobRun{
		ID:         uuid.New(),
		UserID:     item.UserID,
		Kind:       types.JobKindProcessContent,
		TargetType: "raw_item",
		TargetID:   item.ID,
	}
}

func TestHandleIndexesContentEndToEnd(t *testing.T) {
	f := newPipelineFixture(t, &flakyEmbedClient{}, 32)
	ctx := context.Background()
	item := seedArticle(t, f, 12)

	if err := f.handler.Handle(ctx, processJob(item)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := f.chunks.GetByRawItemID(ctx, nil, item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) == 0 {
		t.Fatalf("no chunks persisted")
	}
	for _, row := range rows {
		if row.EmbeddedAt == nil || row.EmbedModel != "text-embedding-3-small" {
			t.Fatalf("chunk %s not marked embedded", row.ID)
		}
		if row.Title != "test article" || row.SourceType != types.SourceTypeArticle {
			t.Fatalf("denormalized metadata missing on chunk %s", row.ID)
		}
	}

	has, err := f.store.HasAny(ctx, item.UserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Fatalf("vectors missing from index")
	}

	if len(f.events) != 1 || f.events[0].Kind != realtime.EventContentIndexed {
		t.Fatalf("want one content.indexed event, got=%v", f.events)
	}
	if f.events[0].Payload["chunk_count"] != len(rows) {
		t.Fatalf("event chunk_count mismatch: %v vs %d", f.events[0].Payload["chunk_count"], len(rows))
	}
}

func TestHandlePartialEmbedFailureResumesOnRetry(t *testing.T) {
	client := &flakyEmbedClient{}
	f := newPipelineFixture(t, client, 2)
	ctx := context.Background()
	item := seedArticle(t, f, 16)

	if err := f.handler.Handle(ctx, processJob(item)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := f.chunks.GetByRawItemID(ctx, nil, item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	totalCallsFirstRun := client.calls

	// Re-run: every chunk already embedded for the active model, so the
	// handler terminates without another provider call.
	if err := f.handler.Handle(ctx, processJob(item)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != totalCallsFirstRun {
		t.Fatalf("re-run must not re-embed, calls went %d -> %d", totalCallsFirstRun, client.calls)
	}
	rowsAfter, err := f.chunks.GetByRawItemID(ctx, nil, item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rowsAfter) != len(rows) {
		t.Fatalf("re-run changed chunk set: %d -> %d", len(rows), len(rowsAfter))
	}
}

func TestHandleTransientEmbedFailureIsRetryable(t *testing.T) {
	client := &flakyEmbedClient{failCalls: 1000}
	f := newPipelineFixture(t, client, 4)
	ctx := context.Background()
	item := seedArticle(t, f, 8)

	err := f.handler.Handle(ctx, processJob(item))
	if err == nil {
		t.Fatalf("want error when embedding fails")
	}
	if !apperrors.IsTransient(err) {
		t.Fatalf("embed failure must classify transient, got=%v", err)
	}
	if apperrors.IsPermanentInput(err) {
		t.Fatalf("embed failure must not classify permanent")
	}

	// Chunk rows are durable; the retry will reuse them.
	rows, qErr := f.chunks.GetByRawItemID(ctx, nil, item.ID)
	if qErr != nil {
		t.Fatalf("unexpected error: %v", qErr)
	}
	if len(rows) == 0 {
		t.Fatalf("chunks should persist across embed failures")
	}

	// Provider recovers: the retry finishes the job.
	client.failCalls = 0
	client.calls = 0
	if err := f.handler.Handle(ctx, processJob(item)); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
}

func TestHandleUnsupportedSourceTypeIsPermanent(t *testing.T) {
	f := newPipelineFixture(t, &flakyEmbedClient{}, 32)
	ctx := context.Background()

	item := &types.RawContentItem{
		SourceID:   uuid.New(),
		ExternalID: uuid.NewString(),
		UserID:     uuid.New(),
		SourceType: "podcast",
	}
	stored, _, err := f.rawItems.Upsert(ctx, nil, item)
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}

	hErr := f.handler.Handle(ctx, processJob(stored))
	if !errors.Is(hErr, apperrors.ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat got=%v", hErr)
	}
	if !apperrors.IsPermanentInput(hErr) {
		t.Fatalf("unsupported format must classify permanent")
	}
}

func TestHandleMissingItemFails(t *testing.T) {
	f := newPipelineFixture(t, &flakyEmbedClient{}, 32)

	err := f.handler.Handle(context.Background(), &types.JobRun{
		ID:         uuid.New(),
		Kind:       types.JobKindProcessContent,
		TargetType: "raw_item",
		TargetID:   uuid.New(),
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("want ErrNotFound got=%v", err)
	}
}
