package index

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/driftnote/driftnote-backend/internal/embed"
	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/vecstore"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type fixture struct {
	store  Store
	chunks repos.ContentChunkRepo
	db     *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.ContentChunk{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	chunkRepo := repos.NewContentChunkRepo(db, logger.NewNop())
	vecs, err := vecstore.NewMemoryStore(3)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	s, err := NewStore(logger.NewNop(), vecs, chunkRepo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &fixture{store: s, chunks: chunkRepo, db: db}
}

func (f *fixture) seedChunk(t *testing.T, userID uuid.UUID, text string, publishedAt time.Time) *types.ContentChunk {
	t.Helper()
	chunk := &types.ContentChunk{
		ID:          uuid.New(),
		UserID:      userID,
		RawItemID:   uuid.New(),
		SourceID:    uuid.New(),
		Text:        text,
		TokenCount:  len(text) / 4,
		SourceType:  types.SourceTypeArticle,
		PublishedAt: publishedAt,
	}
	if _, err := f.chunks.Create(context.Background(), nil, []*types.ContentChunk{chunk}); err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
	return chunk
}

func TestInsertAndSearchHydratesChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	a := f.seedChunk(t, userID, "go generics deep dive", time.Now())
	b := f.seedChunk(t, userID, "rust borrow checker", time.Now())

	err := f.store.Insert(ctx, userID, []embed.ChunkVector{
		{ChunkID: a.ID, Vector: []float32{1, 0, 0}},
		{ChunkID: b.ID, Vector: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches, err := f.store.Search(ctx, userID, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("want=2 matches got=%d", len(matches))
	}
	if matches[0].Chunk.ID != a.ID {
		t.Fatalf("want closest chunk first, got=%s", matches[0].Chunk.ID)
	}
	if matches[0].Chunk.Text != "go generics deep dive" {
		t.Fatalf("hydration lost text: %q", matches[0].Chunk.Text)
	}
	if matches[0].Score <= matches[1].Score {
		t.Fatalf("scores not descending: %v, %v", matches[0].Score, matches[1].Score)
	}
}

func TestInsertIsIdempotentByChunkID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	chunk := f.seedChunk(t, userID, "same chunk", time.Now())

	for i := 0; i < 3; i++ {
		err := f.store.Insert(ctx, userID, []embed.ChunkVector{
			{ChunkID: chunk.ID, Vector: []float32{1, 0, 0}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	matches, err := f.store.Search(ctx, userID, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("re-insert must replace, want=1 got=%d", len(matches))
	}
}

func TestSearchNeverCrossesUserNamespaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	aliceChunk := f.seedChunk(t, alice, "alice private notes", time.Now())
	bobChunk := f.seedChunk(t, bob, "bob private notes", time.Now())

	if err := f.store.Insert(ctx, alice, []embed.ChunkVector{
		{ChunkID: aliceChunk.ID, Vector: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.store.Insert(ctx, bob, []embed.ChunkVector{
		{ChunkID: bobChunk.ID, Vector: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches, err := f.store.Search(ctx, alice, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.ID != aliceChunk.ID {
		t.Fatalf("namespace leak: got %d matches", len(matches))
	}
}

func TestSearchOrphanVectorsAreConsistencyViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	// Vector inserted with no chunk row behind it.
	err := f.store.Insert(ctx, userID, []embed.ChunkVector{
		{ChunkID: uuid.New(), Vector: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.store.Search(ctx, userID, []float32{1, 0, 0}, 5)
	if !errors.Is(err, apperrors.ErrConsistencyViolation) {
		t.Fatalf("want ErrConsistencyViolation got=%v", err)
	}
}

func TestEvictOlderThanRemovesVectorsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	old := f.seedChunk(t, userID, "stale content", time.Now().Add(-100*24*time.Hour))
	fresh := f.seedChunk(t, userID, "fresh content", time.Now())

	if err := f.store.Insert(ctx, userID, []embed.ChunkVector{
		{ChunkID: old.ID, Vector: []float32{1, 0, 0}},
		{ChunkID: fresh.ID, Vector: []float32{0, 1, 0}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evicted, err := f.store.EvictOlderThan(ctx, userID, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evicted != 2 {
		t.Fatalf("want=2 evicted vectors got=%d", evicted)
	}

	has, err := f.store.HasAny(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Fatalf("namespace should be empty after eviction")
	}

	// Chunk rows survive eviction: re-indexing old content must not
	// require re-processing the raw item.
	rows, err := f.chunks.GetByIDs(ctx, nil, []uuid.UUID{old.ID, fresh.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("chunk rows want=2 got=%d after eviction", len(rows))
	}

	if err := f.store.Insert(ctx, userID, []embed.ChunkVector{
		{ChunkID: old.ID, Vector: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("re-insert after eviction: %v", err)
	}
	matches, err := f.store.Search(ctx, userID, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.ID != old.ID {
		t.Fatalf("re-indexed chunk not searchable: got %d matches", len(matches))
	}
}

func TestEvictLeavesOtherUsersAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	aliceChunk := f.seedChunk(t, alice, "alice", time.Now().Add(-100*24*time.Hour))
	bobChunk := f.seedChunk(t, bob, "bob", time.Now().Add(-100*24*time.Hour))

	if err := f.store.Insert(ctx, alice, []embed.ChunkVector{
		{ChunkID: aliceChunk.ID, Vector: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.store.Insert(ctx, bob, []embed.ChunkVector{
		{ChunkID: bobChunk.ID, Vector: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.store.EvictOlderThan(ctx, alice, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	has, err := f.store.HasAny(ctx, bob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Fatalf("eviction crossed into another user's namespace")
	}
}

func TestHasAnyEmptyNamespace(t *testing.T) {
	f := newFixture(t)
	has, err := f.store.HasAny(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Fatalf("want empty namespace")
	}
}
