package repos

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

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.RawContentItem{},
		&types.ContentChunk{},
		&types.ContentSource{},
		&types.Conversation{},
		&types.ConversationTurn{},
		&types.JobRun{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testLogger() *logger.Logger {
	return logger.NewNop()
}

func TestRawItemUpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewRawItemRepo(db, testLogger())
	ctx := context.Background()

	sourceID := uuid.New()
	userID := uuid.New()
	first := &types.RawContentItem{
		SourceID:    sourceID,
		ExternalID:  "yt-abc123",
		UserID:      userID,
		SourceType:  types.SourceTypeVideo,
		Title:       "first title",
		PublishedAt: time.Now().Add(-time.Hour),
	}
	stored, created, err := repo.Upsert(ctx, nil, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("first upsert should insert")
	}

	dup := &types.RawContentItem{
		SourceID:    sourceID,
		ExternalID:  "yt-abc123",
		UserID:      userID,
		SourceType:  types.SourceTypeVideo,
		Title:       "second title",
		PublishedAt: time.Now(),
	}
	got, created, err := repo.Upsert(ctx, nil, dup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("duplicate upsert should not insert")
	}
	if got.ID != stored.ID {
		t.Fatalf("want=%s got=%s", stored.ID, got.ID)
	}
	if got.Title != "first title" {
		t.Fatalf("duplicate must not overwrite, got title=%q", got.Title)
	}
}

func TestRawItemGetByIDNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewRawItemRepo(db, testLogger())

	_, err := repo.GetByID(context.Background(), nil, uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("want ErrNotFound got=%v", err)
	}
}

func TestContentChunkReplaceForRawItem(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentChunkRepo(db, testLogger())
	ctx := context.Background()

	userID := uuid.New()
	rawItemID := uuid.New()
	sourceID := uuid.New()
	mk := func(pos int, text string) *types.ContentChunk {
		return &types.ContentChunk{
			ID:         uuid.New(),
			UserID:     userID,
			RawItemID:  rawItemID,
			SourceID:   sourceID,
			Position:   pos,
			Text:       text,
			TokenCount: 10,
			SourceType: types.SourceTypeArticle,
		}
	}

	if _, err := repo.Create(ctx, nil, []*types.ContentChunk{mk(0, "old a"), mk(1, "old b"), mk(2, "old c")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	replacement := []*types.ContentChunk{mk(0, "new a"), mk(1, "new b")}
	if _, err := repo.ReplaceForRawItem(ctx, nil, rawItemID, replacement); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.GetByRawItemID(ctx, nil, rawItemID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want=2 chunks got=%d", len(got))
	}
	if got[0].Text != "new a" || got[1].Text != "new b" {
		t.Fatalf("old generation survived: %q, %q", got[0].Text, got[1].Text)
	}
}

func TestContentChunkMarkEmbedded(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentChunkRepo(db, testLogger())
	ctx := context.Background()

	chunk := &types.ContentChunk{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		RawItemID:  uuid.New(),
		SourceID:   uuid.New(),
		Position:   0,
		Text:       "hello",
		TokenCount: 1,
		SourceType: types.SourceTypeArticle,
	}
	if _, err := repo.Create(ctx, nil, []*types.ContentChunk{chunk}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := repo.MarkEmbedded(ctx, nil, []uuid.UUID{chunk.ID}, "text-embedding-3-small", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.GetByIDs(ctx, nil, []uuid.UUID{chunk.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].EmbedModel != "text-embedding-3-small" {
		t.Fatalf("want embed model set, got=%q", got[0].EmbedModel)
	}
	if got[0].EmbeddedAt == nil {
		t.Fatalf("want embedded_at set")
	}
}

func TestJobRunEnqueueCoalescesInFlight(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRunRepo(db, testLogger())
	ctx := context.Background()

	targetID := uuid.New()
	mk := func() *types.JobRun {
		return &types.JobRun{
			UserID:     uuid.New(),
			Kind:       types.JobKindProcessContent,
			TargetType: "raw_item",
			TargetID:   targetID,
		}
	}

	first, created, err := repo.EnqueueCoalescing(ctx, nil, mk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("first enqueue should insert")
	}

	second, created, err := repo.EnqueueCoalescing(ctx, nil, mk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("second enqueue should coalesce")
	}
	if second.ID != first.ID {
		t.Fatalf("want=%s got=%s", first.ID, second.ID)
	}

	// A terminal job no longer blocks a new enqueue.
	if err := repo.MarkSucceeded(ctx, nil, first.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, created, err = repo.EnqueueCoalescing(ctx, nil, mk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("enqueue after terminal state should insert")
	}
}

func TestJobRunClaimPrefersPriorityThenAge(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRunRepo(db, testLogger())
	ctx := context.Background()

	low := &types.JobRun{
		UserID: uuid.New(), Kind: types.JobKindEvictIndex,
		TargetType: "user", TargetID: uuid.New(), Priority: 0,
	}
	high := &types.JobRun{
		UserID: uuid.New(), Kind: types.JobKindProcessContent,
		TargetType: "raw_item", TargetID: uuid.New(), Priority: 10,
	}
	if _, _, err := repo.EnqueueCoalescing(ctx, nil, low); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := repo.EnqueueCoalescing(ctx, nil, high); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(ctx, nil, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed == nil || claimed.ID != high.ID {
		t.Fatalf("want high-priority job first, got=%v", claimed)
	}
	if claimed.Status != types.JobStatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claim should transition to running attempts=1, got status=%s attempts=%d",
			claimed.Status, claimed.Attempts)
	}
}

func TestJobRunFailedIsNotRunnableUntilNextRetryAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRunRepo(db, testLogger())
	ctx := context.Background()

	job := &types.JobRun{
		UserID: uuid.New(), Kind: types.JobKindProcessContent,
		TargetType: "raw_item", TargetID: uuid.New(),
	}
	if _, _, err := repo.EnqueueCoalescing(ctx, nil, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.ClaimNextRunnable(ctx, nil, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Failure scheduled in the future: not runnable yet.
	if err := repo.MarkFailed(ctx, nil, job.ID, "embed timeout", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claimed, err := repo.ClaimNextRunnable(ctx, nil, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed != nil {
		t.Fatalf("job with future next_retry_at must not be claimed, got=%v", claimed.ID)
	}

	// Once the retry time passes it becomes runnable again.
	if err := repo.MarkFailed(ctx, nil, job.ID, "embed timeout", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claimed, err = repo.ClaimNextRunnable(ctx, nil, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("want job reclaimed after retry time, got=%v", claimed)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("want=2 attempts got=%d", claimed.Attempts)
	}
}

func TestJobRunStaleRunningIsReclaimed(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRunRepo(db, testLogger())
	ctx := context.Background()

	job := &types.JobRun{
		UserID: uuid.New(), Kind: types.JobKindProcessContent,
		TargetType: "raw_item", TargetID: uuid.New(),
	}
	if _, _, err := repo.EnqueueCoalescing(ctx, nil, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.ClaimNextRunnable(ctx, nil, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fresh heartbeat: not reclaimable.
	claimed, err := repo.ClaimNextRunnable(ctx, nil, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed != nil {
		t.Fatalf("running job with fresh heartbeat must not be reclaimed")
	}

	// Backdate the heartbeat past the stale window.
	stale := time.Now().Add(-time.Hour)
	if err := db.Model(&types.JobRun{}).
		Where("id = ?", job.ID).
		Update("heartbeat_at", stale).Error; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claimed, err = repo.ClaimNextRunnable(ctx, nil, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("want stale running job reclaimed, got=%v", claimed)
	}
}

func TestJobRunMarkDeadIsTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRunRepo(db, testLogger())
	ctx := context.Background()

	job := &types.JobRun{
		UserID: uuid.New(), Kind: types.JobKindProcessContent,
		TargetType: "raw_item", TargetID: uuid.New(),
	}
	if _, _, err := repo.EnqueueCoalescing(ctx, nil, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.ClaimNextRunnable(ctx, nil, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.MarkDead(ctx, nil, job.ID, "unsupported format"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(ctx, nil, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed != nil {
		t.Fatalf("dead job must never be claimed, got=%v", claimed.ID)
	}

	got, err := repo.GetByID(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != types.JobStatusDead || got.LastError != "unsupported format" {
		t.Fatalf("want dead with last error, got status=%s err=%q", got.Status, got.LastError)
	}
}

func TestConversationRecentTurnsAreChronologicalAndBounded(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db, testLogger())
	ctx := context.Background()

	conv, err := repo.Create(ctx, nil, &types.Conversation{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		role := types.TurnRoleUser
		if i%2 == 1 {
			role = types.TurnRoleAssistant
		}
		turn := &types.ConversationTurn{
			ConversationID: conv.ID,
			Role:           role,
			Text:           fmt.Sprintf("turn-%d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := repo.AppendTurn(ctx, nil, turn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	turns, err := repo.GetRecentTurns(ctx, nil, conv.ID, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 8 {
		t.Fatalf("want=8 turns got=%d", len(turns))
	}
	if turns[0].Text != "turn-4" || turns[7].Text != "turn-11" {
		t.Fatalf("window wrong: first=%q last=%q", turns[0].Text, turns[7].Text)
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].CreatedAt.Before(turns[i-1].CreatedAt) {
			t.Fatalf("turns not chronological at index %d", i)
		}
	}
}

func TestConversationAppendTurnValidatesRole(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db, testLogger())

	_, err := repo.AppendTurn(context.Background(), nil, &types.ConversationTurn{
		ConversationID: uuid.New(),
		Role:           "system",
		Text:           "nope",
	})
	if !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument got=%v", err)
	}
}

func TestContentSourceDigestDueSkipsFlagged(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentSourceRepo(db, testLogger())
	ctx := context.Background()

	userID := uuid.New()
	due, err := repo.Create(ctx, nil, &types.ContentSource{
		UserID: userID, Kind: types.SourceKindRSS, Cadence: types.CadenceHourly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	notDue, err := repo.Create(ctx, nil, &types.ContentSource{
		UserID: userID, Kind: types.SourceKindYouTube, Cadence: types.CadenceHourly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.SetNextDigestAt(ctx, nil, notDue.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flagged, err := repo.Create(ctx, nil, &types.ContentSource{
		UserID: userID, Kind: types.SourceKindReddit, Cadence: types.CadenceHourly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Flag(ctx, nil, flagged.ID, "retry ceiling exhausted"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.ListDigestDue(ctx, nil, time.Now(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("want only the due unflagged source, got=%d", len(got))
	}
}

func TestContentSourceFlagAndUnflag(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentSourceRepo(db, testLogger())
	ctx := context.Background()

	source, err := repo.Create(ctx, nil, &types.ContentSource{
		UserID: uuid.New(), Kind: types.SourceKindRSS,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.Flag(ctx, nil, source.ID, "5 consecutive failures"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := repo.GetByID(ctx, nil, source.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FlaggedAt == nil || got.FlagReason != "5 consecutive failures" {
		t.Fatalf("want flagged, got flagged_at=%v reason=%q", got.FlaggedAt, got.FlagReason)
	}

	if err := repo.Unflag(ctx, nil, source.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err = repo.GetByID(ctx, nil, source.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FlaggedAt != nil {
		t.Fatalf("want unflagged, got flagged_at=%v", got.FlaggedAt)
	}
}
