package models

import "time"

// Job is a unit of work carried by the job queue
type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ChannelID  string    `json:"channel_id,omitempty"`
	VideoID    string    `json:"video_id,omitempty"`
	Height     int       `json:"height,omitempty"`
	Path       string    `json:"path,omitempty"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobType constants
const (
	JobTypeIngestFeed = "ingest_feed"
	JobTypeIngestDump = "ingest_dump"
	JobTypeDownload   = "download"
)

// JobPriority constants
const (
	JobPriorityLow    = 0
	JobPriorityNormal = 5
	JobPriorityHigh   = 10
)
