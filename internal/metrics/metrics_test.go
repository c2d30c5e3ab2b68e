package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/channels", "200", 0.123)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/channels", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordFeedFetch(t *testing.T) {
	FeedFetchesTotal.Reset()

	RecordFeedFetch(nil)
	RecordFeedFetch(errors.New("HTTP 500"))
	RecordFeedFetch(nil)

	if got := testutil.ToFloat64(FeedFetchesTotal.WithLabelValues("success")); got != 2.0 {
		t.Errorf("Expected 2 successful fetches, got %f", got)
	}
	if got := testutil.ToFloat64(FeedFetchesTotal.WithLabelValues("error")); got != 1.0 {
		t.Errorf("Expected 1 failed fetch, got %f", got)
	}
}

func TestRecordChannelIngest(t *testing.T) {
	VideosImportedTotal.Reset()

	RecordChannelIngest("feed", 15, 1.5)
	RecordChannelIngest("dump", 3, 0.5)

	if got := testutil.ToFloat64(VideosImportedTotal.WithLabelValues("feed")); got != 15.0 {
		t.Errorf("Expected 15 feed videos, got %f", got)
	}
}

func TestRecordAssetFetch(t *testing.T) {
	AssetFetchesTotal.Reset()

	RecordAssetFetch("thumbnail", 1024, nil)
	RecordAssetFetch("thumbnail", 0, errors.New("HTTP 404"))

	if got := testutil.ToFloat64(AssetFetchesTotal.WithLabelValues("thumbnail", "error")); got != 1.0 {
		t.Errorf("Expected 1 failed fetch, got %f", got)
	}
}

func TestRecordDownloadFinished(t *testing.T) {
	DownloadsTotal.Reset()
	DownloadsInProgress.Set(0)

	RecordDownloadStarted()
	RecordDownloadStarted()
	RecordDownloadFinished("completed", 720, 1000, 12)

	if got := testutil.ToFloat64(DownloadsInProgress); got != 1.0 {
		t.Errorf("Expected 1 download in progress, got %f", got)
	}
	if got := testutil.ToFloat64(DownloadsTotal.WithLabelValues("completed", "720")); got != 1.0 {
		t.Errorf("Expected 1 completed download, got %f", got)
	}
}

func TestRecordDatabaseOperation(t *testing.T) {
	DatabaseOperationsTotal.Reset()

	RecordDatabaseOperation("upsert", "videos", 0.01, nil)
	RecordDatabaseOperation("upsert", "videos", 0.01, errors.New("constraint"))

	if got := testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("upsert", "videos", "error")); got != 1.0 {
		t.Errorf("Expected 1 failed upsert, got %f", got)
	}
}

func TestServerHandler(t *testing.T) {
	srv := NewServer(0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Unexpected health response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "owntube_") {
		t.Error("Expected owntube metrics in exposition")
	}
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(7)
	if got := testutil.ToFloat64(QueueDepth); got != 7.0 {
		t.Errorf("Expected queue depth 7, got %f", got)
	}
}
