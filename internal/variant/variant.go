// Package variant records the locally downloaded resolutions of videos.
package variant

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/owntube/owntube/internal/database"
	"github.com/owntube/owntube/pkg/models"
)

// ErrVariantNotFound is returned when no variant exists for an id
var ErrVariantNotFound = errors.New("variant not found")

// namespace scopes the name based variant ids
var namespace = uuid.MustParse("7d0f5c1e-4f0b-4c55-9d2c-6c1b2c9a8e31")

// ID returns the surrogate id of the variant of videoID at height. The id is
// derived from both values, so saving a second download at the same height
// updates the existing row.
func ID(videoID string, height int) string {
	return uuid.NewSHA1(namespace, []byte(videoID+"/"+strconv.Itoa(height))).String()
}

// VideoLoader resolves the owning video of a variant
type VideoLoader interface {
	Load(ctx context.Context, id string, channel *models.Channel) (*models.Video, error)
}

var columns = []string{"id", "vid", "width", "height", "fps", "filesize", "extension"}

// Store loads and saves downloaded variants
type Store struct {
	table  *database.Table
	videos VideoLoader
}

// NewStore creates a Store. videos may be nil when callers always pass the
// owning video to Load.
func NewStore(exec database.Executor, videos VideoLoader) *Store {
	return &Store{
		table:  database.NewTable(exec, database.VariantsTable, "id", columns...),
		videos: videos,
	}
}

func scan(row database.Row) (*models.DownloadedVariant, error) {
	d := &models.DownloadedVariant{}
	err := row.Scan(&d.ID, &d.VideoID, &d.Width, &d.Height, &d.FPS, &d.Filesize, &d.Extension)
	return d, err
}

// Load returns the variant with the given id. When video is nil the owning
// video is loaded as well.
func (s *Store) Load(ctx context.Context, id string, video *models.Video) (*models.DownloadedVariant, error) {
	d := &models.DownloadedVariant{}
	err := s.table.FetchByKey(ctx, id, &d.ID, &d.VideoID, &d.Width, &d.Height, &d.FPS, &d.Filesize, &d.Extension)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if video == nil && s.videos != nil {
		if video, err = s.videos.Load(ctx, d.VideoID, nil); err != nil {
			return nil, err
		}
	}
	d.Video = video

	return d, nil
}

// Save writes the variant. An empty id is replaced by ID(VideoID, Height).
func (s *Store) Save(ctx context.Context, d *models.DownloadedVariant) error {
	if d.ID == "" {
		d.ID = ID(d.VideoID, d.Height)
	}
	return s.table.Upsert(ctx, database.Fields{
		"id":        d.ID,
		"vid":       d.VideoID,
		"width":     d.Width,
		"height":    d.Height,
		"fps":       d.FPS,
		"filesize":  d.Filesize,
		"extension": d.Extension,
	})
}

// Exists reports whether a variant with the given id is stored
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.table.Exists(ctx, id)
}

// ListForVideo returns the variants of a video, highest resolution first
func (s *Store) ListForVideo(ctx context.Context, video *models.Video) ([]*models.DownloadedVariant, error) {
	opts := database.ListOptions{
		Where:      []database.Condition{{Column: "vid", Op: "=", Value: video.ID}},
		OrderBy:    "height",
		Descending: true,
	}

	var variants []*models.DownloadedVariant
	err := s.table.List(ctx, opts, func(row database.Row) error {
		d, err := scan(row)
		if err != nil {
			return err
		}
		d.Video = video
		variants = append(variants, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return variants, nil
}
