package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/owntube/owntube/pkg/models"
)

type dumpResourceID struct {
	ChannelID string `json:"channelId"`
	VideoID   string `json:"videoId"`
}

type dumpChannel struct {
	ResourceID  dumpResourceID    `json:"resourceId"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Thumbnails  labeledThumbnails `json:"thumbnails"`
	Videos      []dumpVideo       `json:"videos"`
}

type dumpVideo struct {
	ResourceID  dumpResourceID    `json:"resourceId"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	PublishedAt string            `json:"publishedAt"`
	Thumbnails  labeledThumbnails `json:"thumbnails"`
}

// labeledThumbnail keeps the label of a thumbnail candidate
type labeledThumbnail struct {
	Label string
	models.RemoteThumbnail
}

// labeledThumbnails decodes a JSON object of label to thumbnail while
// keeping the document order, which decides ties in thumbnail selection.
type labeledThumbnails []labeledThumbnail

func (l *labeledThumbnails) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*l = nil
		return nil
	}

	order, err := objectKeys(data)
	if err != nil {
		return err
	}

	out := make(labeledThumbnails, 0, len(order))
	for _, label := range order {
		var thumb models.RemoteThumbnail
		if err := json.Unmarshal(raw[label], &thumb); err != nil {
			return fmt.Errorf("thumbnail %q: %w", label, err)
		}
		out = append(out, labeledThumbnail{Label: label, RemoteThumbnail: thumb})
	}
	*l = out
	return nil
}

// objectKeys returns the top level keys of a JSON object in document order
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := tok.(string)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func (l labeledThumbnails) candidates() []models.RemoteThumbnail {
	out := make([]models.RemoteThumbnail, len(l))
	for i, t := range l {
		out[i] = t.RemoteThumbnail
	}
	return out
}

func (l labeledThumbnails) labeled() map[string]models.RemoteThumbnail {
	out := make(map[string]models.RemoteThumbnail, len(l))
	for _, t := range l {
		out[t.Label] = t.RemoteThumbnail
	}
	return out
}

// DecodeDump reads a channel export: the channel, its avatar candidates and
// its videos.
func DecodeDump(r io.Reader) (*models.RemoteChannel, error) {
	var dump dumpChannel
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDump, err)
	}
	if dump.ResourceID.ChannelID == "" {
		return nil, fmt.Errorf("%w: missing resourceId.channelId", ErrInvalidDump)
	}

	listing := &models.RemoteChannel{
		ID:          dump.ResourceID.ChannelID,
		Name:        dump.Title,
		Description: dump.Description,
		Thumbnails:  dump.Thumbnails.labeled(),
		Videos:      make([]models.RemoteVideo, 0, len(dump.Videos)),
	}

	for _, v := range dump.Videos {
		published, err := parsePublished(v.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: video %s: %w", ErrInvalidDump, v.ResourceID.VideoID, err)
		}
		listing.Videos = append(listing.Videos, models.RemoteVideo{
			ID:          v.ResourceID.VideoID,
			Title:       v.Title,
			Description: v.Description,
			Published:   published,
			Thumbnails:  v.Thumbnails.candidates(),
		})
	}

	return listing, nil
}

var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parsePublished accepts ISO-8601 timestamps with or without an offset.
// Timestamps without one are taken as UTC.
func parsePublished(s string) (time.Time, error) {
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid publishedAt %q", s)
}
