// Package catalog keeps the list of subscribed channels and reads their
// remote listings.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/owntube/owntube/internal/database"
	"github.com/owntube/owntube/internal/video"
	"github.com/owntube/owntube/pkg/models"
)

// Catalog loads and saves channels
type Catalog struct {
	channels     *database.Table
	videos       *database.Table
	defaultCount int
}

// New creates a Catalog. defaultCount caps ListVideos when neither a count
// nor a since instant is given.
func New(exec database.Executor, defaultCount int) *Catalog {
	return &Catalog{
		channels:     database.NewTable(exec, database.ChannelsTable, "cid", "cid", "name", "description"),
		videos:       database.NewTable(exec, database.VideosTable, "vid", video.Columns...),
		defaultCount: defaultCount,
	}
}

// Load returns the channel with the given id
func (c *Catalog) Load(ctx context.Context, channelID string) (*models.Channel, error) {
	ch := &models.Channel{}
	var description sql.NullString

	err := c.channels.FetchByKey(ctx, channelID, &ch.ID, &ch.Name, &description)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	if err != nil {
		return nil, err
	}

	ch.Description = description.String
	return ch, nil
}

// Save inserts the channel or updates the stored one
func (c *Catalog) Save(ctx context.Context, ch *models.Channel) error {
	return c.channels.Upsert(ctx, database.Fields{
		"cid":         ch.ID,
		"name":        ch.Name,
		"description": ch.Description,
	})
}

// Exists reports whether a channel with the given id is stored
func (c *Catalog) Exists(ctx context.Context, channelID string) (bool, error) {
	return c.channels.Exists(ctx, channelID)
}

// ListAll returns every known channel ordered by id
func (c *Catalog) ListAll(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	err := c.channels.List(ctx, database.ListOptions{OrderBy: "cid"}, func(row database.Row) error {
		ch := &models.Channel{}
		var description sql.NullString
		if err := row.Scan(&ch.ID, &ch.Name, &description); err != nil {
			return err
		}
		ch.Description = description.String
		channels = append(channels, ch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return channels, nil
}

// ListVideos returns the stored videos of ch, newest first. since keeps the
// videos published at or after that instant, count caps the result. When
// both are unset the configured default count applies. Videos are returned
// as stored, without triggering enrichment.
func (c *Catalog) ListVideos(ctx context.Context, ch *models.Channel, count int, since *time.Time) ([]*models.Video, error) {
	opts := video.ListOptions(ch.ID, count, since, c.defaultCount)

	var videos []*models.Video
	err := c.videos.List(ctx, opts, func(row database.Row) error {
		v, err := video.ScanRow(row)
		if err != nil {
			return err
		}
		v.Channel = ch
		videos = append(videos, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return videos, nil
}
