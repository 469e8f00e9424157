package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"channel-summarizer-go/internal/model"
)

type storePair struct {
	summaries SummaryStore
	delivery  DeliveryStore
}

func newGormPair(t *testing.T) storePair {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Summary{}, &model.DeliveryAttempt{}))
	s := NewGormStore(db)
	return storePair{summaries: s, delivery: s}
}

func newMemoryPair(t *testing.T) storePair {
	t.Helper()
	s := NewMemoryStore()
	return storePair{summaries: s, delivery: s}
}

func eachStore(t *testing.T, fn func(t *testing.T, p storePair)) {
	t.Run("gorm", func(t *testing.T) { fn(t, newGormPair(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryPair(t)) })
}

func draft(owner, channel, text string) model.SummaryDraft {
	return model.SummaryDraft{
		OwnerID:         owner,
		Title:           "Standup recap",
		SummaryText:     text,
		Skills:          []string{"go"},
		Sentiment:       model.SentimentNeutral,
		ConfidenceScore: 0.8,
		SourceChannelID: channel,
		Model:           "gpt-4o-mini",
	}
}

func TestCreateAssignsIDAndTimestamp(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()

		created, err := p.summaries.Create(ctx, draft("U1", "C1", "we shipped"))
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := p.summaries.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "we shipped", got.SummaryText)
		assert.Equal(t, model.StringList{"go"}, got.Skills)
	})
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		_, err := p.summaries.Get(context.Background(), 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListFilters(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()

		a, err := p.summaries.Create(ctx, draft("U1", "C1", "postgres migration went fine"))
		require.NoError(t, err)
		_, err = p.summaries.Create(ctx, draft("U2", "C1", "retro notes"))
		require.NoError(t, err)
		_, err = p.summaries.Create(ctx, draft("U1", "C2", "incident recap"))
		require.NoError(t, err)

		items, total, err := p.summaries.List(ctx, ListFilter{OwnerID: "U1"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		assert.Len(t, items, 2)

		items, total, err = p.summaries.List(ctx, ListFilter{Search: "migration"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, a.ID, items[0].ID)

		items, total, err = p.summaries.List(ctx, ListFilter{SourceChannelID: "C2"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		assert.Len(t, items, 1)
	})
}

func TestListTagIntersection(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()

		a, err := p.summaries.Create(ctx, draft("U1", "C1", "one"))
		require.NoError(t, err)
		b, err := p.summaries.Create(ctx, draft("U1", "C1", "two"))
		require.NoError(t, err)

		_, err = p.summaries.Update(ctx, a.ID, SummaryPatch{Tags: []string{"hiring", "urgent"}})
		require.NoError(t, err)
		_, err = p.summaries.Update(ctx, b.ID, SummaryPatch{Tags: []string{"hiring"}})
		require.NoError(t, err)

		items, total, err := p.summaries.List(ctx, ListFilter{Tags: []string{"hiring", "urgent"}})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, a.ID, items[0].ID)
	})
}

func TestListPaginationCap(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := p.summaries.Create(ctx, draft("U1", "C1", "entry"))
			require.NoError(t, err)
		}

		items, total, err := p.summaries.List(ctx, ListFilter{Limit: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 5, total)
		assert.Len(t, items, 2)

		items, _, err = p.summaries.List(ctx, ListFilter{Limit: 2, Offset: 4})
		require.NoError(t, err)
		assert.Len(t, items, 1)

		// a zero limit falls back to the default, an oversized one is capped
		items, _, err = p.summaries.List(ctx, ListFilter{Limit: MaxListLimit + 50})
		require.NoError(t, err)
		assert.Len(t, items, 5)
	})
}

func TestUpdateOnlyTouchesAnnotations(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()

		created, err := p.summaries.Create(ctx, draft("U1", "C1", "original summary"))
		require.NoError(t, err)

		rating := 4
		updated, err := p.summaries.Update(ctx, created.ID, SummaryPatch{
			Rating: &rating,
			Tags:   []string{"standup"},
		})
		require.NoError(t, err)

		require.NotNil(t, updated.Rating)
		assert.Equal(t, 4, *updated.Rating)
		assert.Equal(t, model.StringList{"standup"}, updated.Tags)
		// AI-derived content is untouched
		assert.Equal(t, "original summary", updated.SummaryText)
		assert.Equal(t, "Standup recap", updated.Title)
		assert.Equal(t, 0.8, updated.ConfidenceScore)
	})
}

func TestDeliveryTransitionCompareAndSet(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()

		attempt, err := p.delivery.CreateAttempt(ctx, model.DeliveryAttempt{
			SummaryID: 1,
			Target:    "C1",
			Status:    model.DeliveryStatusPending,
		})
		require.NoError(t, err)

		now := time.Now()
		ok, err := p.delivery.TransitionStatus(ctx, attempt.ID,
			[]string{model.DeliveryStatusPending}, model.DeliveryStatusPosted, "", &now)
		require.NoError(t, err)
		assert.True(t, ok)

		// second claim loses the compare-and-set
		ok, err = p.delivery.TransitionStatus(ctx, attempt.ID,
			[]string{model.DeliveryStatusPending}, model.DeliveryStatusFailed, "late", nil)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := p.delivery.GetAttempt(ctx, attempt.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusPosted, got.Status)
		require.NotNil(t, got.PostedAt)
	})
}

func TestListAttemptsRespectsStatusAndCutoff(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	current := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	old, err := s.CreateAttempt(ctx, model.DeliveryAttempt{SummaryID: 1, Target: "C1", Status: model.DeliveryStatusFailed})
	require.NoError(t, err)

	current = current.Add(48 * time.Hour)
	recent, err := s.CreateAttempt(ctx, model.DeliveryAttempt{SummaryID: 2, Target: "C1", Status: model.DeliveryStatusFailed})
	require.NoError(t, err)
	_, err = s.CreateAttempt(ctx, model.DeliveryAttempt{SummaryID: 3, Target: "C1", Status: model.DeliveryStatusPosted})
	require.NoError(t, err)

	attempts, err := s.ListAttempts(ctx, model.DeliveryStatusFailed, current.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, recent.ID, attempts[0].ID)
	assert.NotEqual(t, old.ID, attempts[0].ID)
}

func TestListAttemptsEmptyStatusMatchesAll(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()

		_, err := p.delivery.CreateAttempt(ctx, model.DeliveryAttempt{SummaryID: 1, Target: "C1", Status: model.DeliveryStatusFailed})
		require.NoError(t, err)
		_, err = p.delivery.CreateAttempt(ctx, model.DeliveryAttempt{SummaryID: 2, Target: "C2", Status: model.DeliveryStatusPosted})
		require.NoError(t, err)

		attempts, err := p.delivery.ListAttempts(ctx, "", time.Time{})
		require.NoError(t, err)
		assert.Len(t, attempts, 2)
	})
}

func TestLatestFailed(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()

		_, err := p.delivery.LatestFailed(ctx, 5)
		assert.ErrorIs(t, err, ErrNotFound)

		first, err := p.delivery.CreateAttempt(ctx, model.DeliveryAttempt{SummaryID: 5, Target: "C1", Status: model.DeliveryStatusFailed})
		require.NoError(t, err)
		second, err := p.delivery.CreateAttempt(ctx, model.DeliveryAttempt{SummaryID: 5, Target: "C2", Status: model.DeliveryStatusFailed})
		require.NoError(t, err)
		_, err = p.delivery.CreateAttempt(ctx, model.DeliveryAttempt{SummaryID: 5, Target: "C3", Status: model.DeliveryStatusPosted})
		require.NoError(t, err)

		got, err := p.delivery.LatestFailed(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
		assert.NotEqual(t, first.ID, got.ID)
	})
}

func TestHasPosted(t *testing.T) {
	eachStore(t, func(t *testing.T, p storePair) {
		ctx := context.Background()

		posted, err := p.delivery.HasPosted(ctx, 7)
		require.NoError(t, err)
		assert.False(t, posted)

		now := time.Now()
		_, err = p.delivery.CreateAttempt(ctx, model.DeliveryAttempt{
			SummaryID: 7, Target: "C1", Status: model.DeliveryStatusPosted, PostedAt: &now,
		})
		require.NoError(t, err)

		posted, err = p.delivery.HasPosted(ctx, 7)
		require.NoError(t, err)
		assert.True(t, posted)
	})
}
