package models

import "time"

// RemoteThumbnail is one thumbnail candidate advertised by a feed or dump
type RemoteThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// RemoteVideo is the summary of a video as listed by a channel feed or dump
type RemoteVideo struct {
	ID          string
	Title       string
	Description string
	Published   time.Time
	Thumbnails  []RemoteThumbnail
}

// RemoteChannel is a channel listing together with its videos
type RemoteChannel struct {
	ID          string
	Name        string
	Description string
	Thumbnails  map[string]RemoteThumbnail
	Videos      []RemoteVideo
}

// MediaInfo is the metadata returned by the download engine for a URL or a
// produced file.
type MediaInfo struct {
	ID       string   `json:"id"`
	Duration float64  `json:"duration"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	FPS      float64  `json:"fps"`
	Chapters Chapters `json:"chapters"`
	Ext      string   `json:"ext"`
	Filepath string   `json:"filepath"`
	Filesize int64    `json:"filesize"`
}
