package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/owntube/owntube/internal/database"
	"github.com/owntube/owntube/internal/video"
	"github.com/owntube/owntube/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCatalog(t *testing.T) (*Catalog, *database.DB) {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, database.Migrate(context.Background(), db))

	return New(db, 20), db
}

func TestSaveAndLoad(t *testing.T) {
	cat, _ := setupCatalog(t)
	ctx := context.Background()

	ch := &models.Channel{ID: "UC1", Name: "One", Description: "first"}
	require.NoError(t, cat.Save(ctx, ch))

	loaded, err := cat.Load(ctx, "UC1")
	require.NoError(t, err)
	assert.Equal(t, ch, loaded)

	exists, err := cat.Exists(ctx, "UC1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadMissingChannel(t *testing.T) {
	cat, _ := setupCatalog(t)

	_, err := cat.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestSaveUpdatesInPlace(t *testing.T) {
	cat, _ := setupCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.Save(ctx, &models.Channel{ID: "UC1", Name: "Old"}))
	require.NoError(t, cat.Save(ctx, &models.Channel{ID: "UC2", Name: "Other"}))
	require.NoError(t, cat.Save(ctx, &models.Channel{ID: "UC1", Name: "New"}))
	require.NoError(t, cat.Save(ctx, &models.Channel{ID: "UC1", Name: "New"}))

	channels, err := cat.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "UC1", channels[0].ID)
	assert.Equal(t, "New", channels[0].Name)
}

func seedVideos(t *testing.T, db *database.DB, channelID string, days int) {
	t.Helper()
	store := video.NewStore(db, video.Config{})
	for d := 1; d <= days; d++ {
		v := &models.Video{
			ID:            fmt.Sprintf("%s-%02d", channelID, d),
			ChannelID:     channelID,
			Title:         fmt.Sprintf("Day %d", d),
			PublishedDate: time.Date(2024, 3, d, 8, 30, 0, 0, time.UTC),
		}
		require.NoError(t, store.Save(context.Background(), v))
	}
}

func ids(videos []*models.Video) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.ID
	}
	return out
}

func TestListVideos(t *testing.T) {
	cat, db := setupCatalog(t)
	ctx := context.Background()

	ch := &models.Channel{ID: "UC1", Name: "One"}
	require.NoError(t, cat.Save(ctx, ch))
	require.NoError(t, cat.Save(ctx, &models.Channel{ID: "UC2", Name: "Two"}))
	seedVideos(t, db, "UC1", 10)
	seedVideos(t, db, "UC2", 3)

	t.Run("since filters inclusive and newest first", func(t *testing.T) {
		since := time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)
		videos, err := cat.ListVideos(ctx, ch, 0, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"UC1-10", "UC1-09", "UC1-08", "UC1-07", "UC1-06", "UC1-05"}, ids(videos))
		for _, v := range videos {
			assert.Same(t, ch, v.Channel)
		}
	})

	t.Run("count returns the most recent", func(t *testing.T) {
		videos, err := cat.ListVideos(ctx, ch, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"UC1-10", "UC1-09", "UC1-08"}, ids(videos))
	})

	t.Run("since then count", func(t *testing.T) {
		since := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
		videos, err := cat.ListVideos(ctx, ch, 2, &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"UC1-10", "UC1-09"}, ids(videos))
	})

	t.Run("default count", func(t *testing.T) {
		small := New(db, 4)
		videos, err := small.ListVideos(ctx, ch, 0, nil)
		require.NoError(t, err)
		assert.Len(t, videos, 4)
	})
}
