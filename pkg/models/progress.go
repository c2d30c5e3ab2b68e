package models

// ProgressStatus is the status carried by a download engine event
type ProgressStatus string

// ProgressStatus constants
const (
	ProgressStarted     ProgressStatus = "started"
	ProgressDownloading ProgressStatus = "downloading"
	ProgressFinished    ProgressStatus = "finished"
	ProgressError       ProgressStatus = "error"
)

// ProgressEvent is one event emitted by the download engine
type ProgressEvent struct {
	Status          ProgressStatus `json:"status"`
	Filename        string         `json:"filename,omitempty"`
	DownloadedBytes int64          `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64          `json:"total_bytes,omitempty"`
	Info            *MediaInfo     `json:"info,omitempty"`
	Diagnostic      string         `json:"diagnostic,omitempty"`
}

// Fraction returns the completed fraction of the transfer, or 0 when unknown
func (e ProgressEvent) Fraction() float64 {
	if e.TotalBytes <= 0 {
		return 0
	}
	return float64(e.DownloadedBytes) / float64(e.TotalBytes)
}
