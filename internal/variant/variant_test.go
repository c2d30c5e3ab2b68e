package variant

import (
	"context"
	"testing"
	"time"

	"github.com/owntube/owntube/internal/database"
	"github.com/owntube/owntube/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVideos struct {
	video *models.Video
	calls int
}

func (s *stubVideos) Load(ctx context.Context, id string, channel *models.Channel) (*models.Video, error) {
	s.calls++
	return s.video, nil
}

func setupStore(t *testing.T) (*Store, *database.DB, *stubVideos) {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, database.Migrate(ctx, db))

	require.NoError(t, db.Exec(ctx, "INSERT INTO channels (cid, name) VALUES ('UC1', 'one')"))
	require.NoError(t, db.Exec(ctx, "INSERT INTO videos (vid, channel_cid, title, published_date) VALUES ('vid1', 'UC1', 't', ?)",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02 15:04:05")))

	videos := &stubVideos{video: &models.Video{ID: "vid1", ChannelID: "UC1"}}
	return NewStore(db, videos), db, videos
}

func countVariants(t *testing.T, db *database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), "SELECT COUNT(*) FROM downloaded_videos").Scan(&n))
	return n
}

func TestIDIsDeterministic(t *testing.T) {
	assert.Equal(t, ID("vid1", 720), ID("vid1", 720))
	assert.NotEqual(t, ID("vid1", 720), ID("vid1", 1080))
	assert.NotEqual(t, ID("vid1", 720), ID("vid2", 720))
	assert.Len(t, ID("vid1", 720), 36)
}

func TestSaveAndLoad(t *testing.T) {
	store, _, videos := setupStore(t)
	ctx := context.Background()

	d := &models.DownloadedVariant{VideoID: "vid1", Width: 1280, Height: 720, FPS: 30, Filesize: 1 << 20, Extension: "mp4"}
	require.NoError(t, store.Save(ctx, d))
	assert.Equal(t, ID("vid1", 720), d.ID)

	loaded, err := store.Load(ctx, d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1280, loaded.Width)
	assert.Equal(t, int64(1<<20), loaded.Filesize)
	assert.Equal(t, "vid1_720.mp4", loaded.StoragePath())
	assert.Same(t, videos.video, loaded.Video)
	assert.Equal(t, 1, videos.calls)

	exists, err := store.Exists(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadWithVideoSkipsLookup(t *testing.T) {
	store, _, videos := setupStore(t)
	ctx := context.Background()

	d := &models.DownloadedVariant{VideoID: "vid1", Width: 640, Height: 360, FPS: 25, Filesize: 10, Extension: "mp4"}
	require.NoError(t, store.Save(ctx, d))

	v := &models.Video{ID: "vid1"}
	loaded, err := store.Load(ctx, d.ID, v)
	require.NoError(t, err)
	assert.Same(t, v, loaded.Video)
	assert.Zero(t, videos.calls)
}

func TestLoadMissingVariant(t *testing.T) {
	store, _, _ := setupStore(t)

	_, err := store.Load(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrVariantNotFound)
}

func TestSecondSaveAtSameHeightUpdates(t *testing.T) {
	store, db, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &models.DownloadedVariant{VideoID: "vid1", Width: 1280, Height: 720, FPS: 30, Filesize: 100, Extension: "mp4"}))
	require.NoError(t, store.Save(ctx, &models.DownloadedVariant{VideoID: "vid1", Width: 1280, Height: 720, FPS: 60, Filesize: 200, Extension: "mp4"}))
	require.NoError(t, store.Save(ctx, &models.DownloadedVariant{VideoID: "vid1", Width: 1920, Height: 1080, FPS: 30, Filesize: 300, Extension: "mp4"}))

	assert.Equal(t, 2, countVariants(t, db))

	variants, err := store.ListForVideo(ctx, &models.Video{ID: "vid1"})
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, 1080, variants[0].Height)
	assert.Equal(t, int64(200), variants[1].Filesize)
	assert.Equal(t, 60.0, variants[1].FPS)
}
