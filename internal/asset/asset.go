// Package asset downloads single binary assets such as thumbnails and avatars.
package asset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/metrics"
)

// FetchError is returned when an asset could not be retrieved or written
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("asset fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("asset fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher streams remote assets to local files
type Fetcher struct {
	client *http.Client
	kind   string
	logger *logging.Logger
}

// NewFetcher creates a Fetcher. kind labels the assets in metrics (thumbnail, avatar).
func NewFetcher(client *http.Client, kind string, logger *logging.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{client: client, kind: kind, logger: logger}
}

// Fetch downloads url to dest, replacing any existing file. The body is
// copied in chunks and never held in memory as a whole.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) error {
	start := time.Now()
	size, err := f.fetch(ctx, url, dest)

	metrics.RecordAssetFetch(f.kind, size, err)
	f.logger.LogAssetFetch(url, dest, size, time.Since(start), err)

	return err
}

func (f *Fetcher) fetch(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &FetchError{URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, &FetchError{URL: url, Err: err}
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, &FetchError{URL: url, Err: err}
	}

	size, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return size, &FetchError{URL: url, Err: err}
	}

	return size, nil
}
