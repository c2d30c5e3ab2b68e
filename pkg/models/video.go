package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WatchURLPrefix is prepended to a video id to build its canonical URL
const WatchURLPrefix = "https://www.youtube.com/watch?v="

// Video represents one catalog entry of a channel.
//
// Duration, Width, Height, FPS and Chapters form the extended metadata group.
// The group is only meaningful when Height is set.
type Video struct {
	ID            string    `json:"id" db:"vid"`
	ChannelID     string    `json:"channel_id" db:"channel_cid"`
	Channel       *Channel  `json:"-"`
	Title         string    `json:"title" db:"title"`
	Description   string    `json:"description" db:"description"`
	PublishedDate time.Time `json:"published_date" db:"published_date"`

	Duration *float64 `json:"duration,omitempty" db:"duration"`
	Width    *int     `json:"width,omitempty" db:"width"`
	Height   *int     `json:"height,omitempty" db:"height"`
	FPS      *float64 `json:"fps,omitempty" db:"fps"`
	Chapters Chapters `json:"chapters" db:"chapters"`
}

// URL returns the canonical watch URL of the video
func (v *Video) URL() string {
	return WatchURLPrefix + v.ID
}

// HasExtendedMetadata reports whether the extended metadata group is populated
func (v *Video) HasExtendedMetadata() bool {
	return v.Height != nil
}

// SetExtendedMetadata assigns the whole extended metadata group from info
func (v *Video) SetExtendedMetadata(info *MediaInfo) {
	duration, width, height, fps := info.Duration, info.Width, info.Height, info.FPS
	v.Duration = &duration
	v.Width = &width
	v.Height = &height
	v.FPS = &fps
	v.Chapters = info.Chapters
}

// ClearExtendedMetadata unsets the whole extended metadata group
func (v *Video) ClearExtendedMetadata() {
	v.Duration = nil
	v.Width = nil
	v.Height = nil
	v.FPS = nil
	v.Chapters = nil
}

// Chapter is a named section of a video, in seconds
type Chapter struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Title string  `json:"title"`
}

// Chapters is an ordered list of chapters. A nil value means the list is
// unknown, which is stored as NULL; an empty value is stored as "[]".
type Chapters []Chapter

// Value implements driver.Valuer for database storage
func (c Chapters) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval
func (c *Chapters) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*c = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into Chapters", value)
	}

	var chapters Chapters
	if err := json.Unmarshal(data, &chapters); err != nil {
		return err
	}
	if chapters == nil {
		chapters = Chapters{}
	}
	*c = chapters
	return nil
}
