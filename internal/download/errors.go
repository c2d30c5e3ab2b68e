package download

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is the cause of a download stopped by its caller
	ErrCancelled = errors.New("download cancelled")
	// ErrEngine is the cause of a download the engine reported as failed
	ErrEngine = errors.New("download engine failed")
)

// Failure reasons carried by DownloadError
const (
	ReasonEngine    = "engine"
	ReasonCancelled = "cancelled"
	ReasonContainer = "container"
	ReasonStorage   = "storage"
)

// DownloadError is the terminal error of a failed download
type DownloadError struct {
	VideoID    string
	Height     int
	Reason     string
	Diagnostic string
	Err        error
}

func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("download %s at %dp failed (%s)", e.VideoID, e.Height, e.Reason)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err is a download stopped by its caller
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
