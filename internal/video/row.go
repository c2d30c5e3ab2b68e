package video

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/owntube/owntube/internal/database"
	"github.com/owntube/owntube/pkg/models"
)

// TimeLayout is the fixed precision text form of published_date
const TimeLayout = "2006-01-02 15:04:05"

// Columns lists the videos table columns in the order ScanRow expects
var Columns = []string{
	"vid", "channel_cid", "title", "description", "published_date",
	"duration", "width", "height", "fps", "chapters",
}

// FormatTime converts t to the stored published_date form
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ScanRow reads one videos row selected with Columns
func ScanRow(row database.Row) (*models.Video, error) {
	t := newScanTarget()
	if err := row.Scan(t.dest()...); err != nil {
		return nil, err
	}
	return t.finish()
}

// scanTarget holds the intermediate values of one videos row
type scanTarget struct {
	v           *models.Video
	description sql.NullString
	published   string
}

func newScanTarget() *scanTarget {
	return &scanTarget{v: &models.Video{}}
}

func (t *scanTarget) dest() []interface{} {
	v := t.v
	return []interface{}{&v.ID, &v.ChannelID, &v.Title, &t.description, &t.published,
		&v.Duration, &v.Width, &v.Height, &v.FPS, &v.Chapters}
}

func (t *scanTarget) finish() (*models.Video, error) {
	v := t.v
	v.Description = t.description.String

	published, err := time.ParseInLocation(TimeLayout, t.published, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid published_date %q for video %s: %w", t.published, v.ID, err)
	}
	v.PublishedDate = published

	// Height is the marker of the extended metadata group.
	if v.Height == nil {
		v.ClearExtendedMetadata()
	}

	return v, nil
}

func coreFields(v *models.Video) database.Fields {
	return database.Fields{
		"vid":            v.ID,
		"channel_cid":    v.ChannelID,
		"title":          v.Title,
		"description":    v.Description,
		"published_date": FormatTime(v.PublishedDate),
	}
}

func allFields(v *models.Video) database.Fields {
	fields := coreFields(v)
	for column, value := range extendedFields(v) {
		fields[column] = value
	}
	return fields
}

// extendedFields holds the key and the enrichment columns only
func extendedFields(v *models.Video) database.Fields {
	return database.Fields{
		"vid":      v.ID,
		"duration": v.Duration,
		"width":    v.Width,
		"height":   v.Height,
		"fps":      v.FPS,
		"chapters": v.Chapters,
	}
}

// ListOptions builds the query for a newest first video listing. A zero count
// and a nil since fall back to defaultCount. since filters first, count caps
// the result afterwards.
func ListOptions(channelID string, count int, since *time.Time, defaultCount int) database.ListOptions {
	opts := database.ListOptions{OrderBy: "published_date", Descending: true}

	if channelID != "" {
		opts.Where = append(opts.Where, database.Condition{Column: "channel_cid", Op: "=", Value: channelID})
	}
	if since != nil {
		// Publish dates are stored in whole seconds.
		from := since.UTC()
		if whole := from.Truncate(time.Second); !whole.Equal(from) {
			from = whole.Add(time.Second)
		}
		opts.Where = append(opts.Where, database.Condition{Column: "published_date", Op: ">=", Value: FormatTime(from)})
	}

	switch {
	case count > 0:
		opts.Limit = count
	case since == nil:
		opts.Limit = defaultCount
	}

	return opts
}
