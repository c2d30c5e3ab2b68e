package video

import (
	"errors"
	"fmt"
)

// ErrVideoNotFound is returned when no video exists for an id
var ErrVideoNotFound = errors.New("video not found")

// MetadataFetchError is returned when the extended metadata of a video could
// not be extracted. The video keeps its extended metadata unset.
type MetadataFetchError struct {
	VideoID string
	Err     error
}

func (e *MetadataFetchError) Error() string {
	return fmt.Sprintf("metadata fetch for video %s: %v", e.VideoID, e.Err)
}

func (e *MetadataFetchError) Unwrap() error {
	return e.Err
}
