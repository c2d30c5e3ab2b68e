package models

import "fmt"

// DefaultContainer is the container extension downloads are merged into
const DefaultContainer = "mp4"

// DownloadedVariant records one committed local media file of a video
type DownloadedVariant struct {
	ID        string  `json:"id" db:"id"`
	VideoID   string  `json:"video_id" db:"vid"`
	Video     *Video  `json:"-"`
	Width     int     `json:"width" db:"width"`
	Height    int     `json:"height" db:"height"`
	FPS       float64 `json:"fps" db:"fps"`
	Filesize  int64   `json:"filesize" db:"filesize"`
	Extension string  `json:"extension" db:"extension"`
}

// StoragePath returns the file name of the variant relative to the media directory
func (d *DownloadedVariant) StoragePath() string {
	ext := d.Extension
	if ext == "" {
		ext = DefaultContainer
	}
	return VariantFilename(d.VideoID, d.Height, ext)
}

// VariantFilename builds the file name used for a video at a given height
func VariantFilename(videoID string, height int, ext string) string {
	return fmt.Sprintf("%s_%d.%s", videoID, height, ext)
}
