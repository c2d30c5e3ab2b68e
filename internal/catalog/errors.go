package catalog

import (
	"errors"
	"fmt"
)

// ErrChannelNotFound is returned when no channel exists for an id
var ErrChannelNotFound = errors.New("channel not found")

// ErrInvalidDump is returned when a channel export cannot be decoded
var ErrInvalidDump = errors.New("invalid channel dump")

// FeedFetchError is returned when a channel feed could not be retrieved or parsed
type FeedFetchError struct {
	ChannelID  string
	StatusCode int
	Err        error
}

func (e *FeedFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed fetch for channel %s: HTTP %d", e.ChannelID, e.StatusCode)
	}
	return fmt.Sprintf("feed fetch for channel %s: %v", e.ChannelID, e.Err)
}

func (e *FeedFetchError) Unwrap() error {
	return e.Err
}
