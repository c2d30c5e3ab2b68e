// Package video persists catalog entries and enriches them with extended
// metadata on demand.
package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/owntube/owntube/internal/database"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/metrics"
	"github.com/owntube/owntube/pkg/models"
)

// ChannelLoader resolves the owning channel of a video
type ChannelLoader interface {
	Load(ctx context.Context, channelID string) (*models.Channel, error)
}

// InfoExtractor returns media metadata for a watch URL
type InfoExtractor interface {
	ExtractInfo(ctx context.Context, url string) (*models.MediaInfo, error)
}

// AssetFetcher downloads a single asset to a local path
type AssetFetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Locker provides mutual exclusion per key
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Config wires the collaborators of a Store
type Config struct {
	Channels     ChannelLoader
	Extractor    InfoExtractor
	Thumbnails   AssetFetcher
	Locks        Locker
	ThumbnailDir string
	DefaultCount int
	Logger       *logging.Logger
}

// Store loads and saves videos
type Store struct {
	table        *database.Table
	channels     ChannelLoader
	extractor    InfoExtractor
	thumbnails   AssetFetcher
	locks        Locker
	thumbnailDir string
	defaultCount int
	logger       *logging.Logger
}

// NewStore creates a Store on top of exec
func NewStore(exec database.Executor, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		table:        database.NewTable(exec, database.VideosTable, "vid", Columns...),
		channels:     cfg.Channels,
		extractor:    cfg.Extractor,
		thumbnails:   cfg.Thumbnails,
		locks:        cfg.Locks,
		thumbnailDir: cfg.ThumbnailDir,
		defaultCount: cfg.DefaultCount,
		logger:       logger,
	}
}

// Load returns the video with the given id. When channel is nil the owning
// channel is resolved from the stored key. A video without extended metadata
// is enriched before it is returned.
func (s *Store) Load(ctx context.Context, id string, channel *models.Channel) (*models.Video, error) {
	v, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if channel == nil {
		if channel, err = s.channels.Load(ctx, v.ChannelID); err != nil {
			return nil, err
		}
	}
	v.Channel = channel

	if !v.HasExtendedMetadata() {
		if err := s.Enrich(ctx, v); err != nil {
			return nil, err
		}
	}

	return v, nil
}

func (s *Store) fetch(ctx context.Context, id string) (*models.Video, error) {
	t := newScanTarget()
	err := s.table.FetchByKey(ctx, id, t.dest()...)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return t.finish()
}

// Save writes every column of v
func (s *Store) Save(ctx context.Context, v *models.Video) error {
	return s.table.Upsert(ctx, allFields(v))
}

// Exists reports whether a video with the given id is stored
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.table.Exists(ctx, id)
}

// List returns videos of every channel, newest first, with their channels
// attached. count and since follow the rules of ListOptions.
func (s *Store) List(ctx context.Context, count int, since *time.Time) ([]*models.Video, error) {
	videos, err := s.Query(ctx, ListOptions("", count, since, s.defaultCount))
	if err != nil {
		return nil, err
	}

	channels := make(map[string]*models.Channel)
	for _, v := range videos {
		ch, ok := channels[v.ChannelID]
		if !ok {
			if ch, err = s.channels.Load(ctx, v.ChannelID); err != nil {
				return nil, err
			}
			channels[v.ChannelID] = ch
		}
		v.Channel = ch
	}

	return videos, nil
}

// Query runs a raw listing on the videos table. Returned videos carry no
// channel and are not enriched.
func (s *Store) Query(ctx context.Context, opts database.ListOptions) ([]*models.Video, error) {
	var videos []*models.Video
	err := s.table.List(ctx, opts, func(row database.Row) error {
		v, err := ScanRow(row)
		if err != nil {
			return err
		}
		videos = append(videos, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return videos, nil
}

// Enrich fetches the extended metadata group of v and persists it. Only one
// enrichment runs at a time for a given video; a caller that waited for
// another enrichment reuses its result.
func (s *Store) Enrich(ctx context.Context, v *models.Video) error {
	if s.locks != nil {
		unlock, err := s.locks.Lock(ctx, "enrich:"+v.ID)
		if err != nil {
			return &MetadataFetchError{VideoID: v.ID, Err: err}
		}
		defer unlock()

		stored, err := s.fetch(ctx, v.ID)
		if err != nil {
			return err
		}
		if stored.HasExtendedMetadata() {
			v.Duration, v.Width, v.Height, v.FPS, v.Chapters =
				stored.Duration, stored.Width, stored.Height, stored.FPS, stored.Chapters
			return nil
		}
	}

	logger := s.logger.WithVideoID(v.ID)

	info, err := s.extractor.ExtractInfo(ctx, v.URL())
	metrics.RecordEnrichment(err)
	if err != nil {
		v.ClearExtendedMetadata()
		logger.WithError(err).Warn("Metadata enrichment failed")
		return &MetadataFetchError{VideoID: v.ID, Err: err}
	}

	v.SetExtendedMetadata(info)
	// Only the enrichment columns: a concurrent import may have rewritten the
	// core columns since v was read.
	if err := s.table.Upsert(ctx, extendedFields(v)); err != nil {
		v.ClearExtendedMetadata()
		return err
	}

	logger.WithField("height", info.Height).Debug("Metadata enriched")
	return nil
}

// ImportResult is the outcome of importing one remote video
type ImportResult struct {
	Video        *models.Video
	ThumbnailErr error
}

// Import persists a remote video summary for channel. Re-importing a known
// video rewrites its core columns and keeps its extended metadata. The
// thumbnail is fetched only when no local copy exists; a thumbnail failure is
// logged and reported in the result without failing the import.
func (s *Store) Import(ctx context.Context, channel *models.Channel, remote models.RemoteVideo) (*ImportResult, error) {
	v := &models.Video{
		ID:            remote.ID,
		ChannelID:     channel.ID,
		Channel:       channel,
		Title:         remote.Title,
		Description:   remote.Description,
		PublishedDate: remote.Published.UTC().Truncate(time.Second),
	}

	if err := s.table.Upsert(ctx, coreFields(v)); err != nil {
		return nil, err
	}

	result := &ImportResult{Video: v}
	if err := s.fetchThumbnail(ctx, v, remote.Thumbnails); err != nil {
		s.logger.WithVideoID(v.ID).WithError(err).Warn("Thumbnail fetch failed")
		result.ThumbnailErr = err
	}

	return result, nil
}

// ThumbnailPath returns the local path of a video thumbnail
func (s *Store) ThumbnailPath(videoID string) string {
	return filepath.Join(s.thumbnailDir, videoID+".jpg")
}

func (s *Store) fetchThumbnail(ctx context.Context, v *models.Video, candidates []models.RemoteThumbnail) error {
	if s.thumbnails == nil || s.thumbnailDir == "" {
		return nil
	}

	best, ok := SelectThumbnail(candidates)
	if !ok {
		return nil
	}

	dest := s.ThumbnailPath(v.ID)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	return s.thumbnails.Fetch(ctx, best.URL, dest)
}

// SelectThumbnail returns the candidate with the largest area. On a tie the
// candidate seen first wins.
func SelectThumbnail(candidates []models.RemoteThumbnail) (models.RemoteThumbnail, bool) {
	var best models.RemoteThumbnail
	found := false
	for _, c := range candidates {
		if !found || c.Width*c.Height > best.Width*best.Height {
			best = c
			found = true
		}
	}
	return best, found
}
