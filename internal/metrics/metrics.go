package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owntube_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "owntube_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ingestion Metrics
	FeedFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owntube_feed_fetches_total",
			Help: "Total number of channel feed fetches",
		},
		[]string{"status"},
	)

	VideosImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owntube_videos_imported_total",
			Help: "Total number of videos written during ingestion",
		},
		[]string{"source"},
	)

	ChannelIngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "owntube_channel_ingest_duration_seconds",
			Help:    "Time spent importing one channel",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"source"},
	)

	// Asset Metrics
	AssetFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owntube_asset_fetches_total",
			Help: "Total number of thumbnail and avatar fetches",
		},
		[]string{"kind", "status"},
	)

	AssetBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "owntube_asset_bytes_total",
			Help: "Total bytes written by the asset fetcher",
		},
	)

	// Enrichment Metrics
	EnrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owntube_metadata_enrichments_total",
			Help: "Total number of extended metadata fetches",
		},
		[]string{"status"},
	)

	// Download Metrics
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owntube_downloads_total",
			Help: "Total number of downloads by terminal state",
		},
		[]string{"state", "height"},
	)

	DownloadsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "owntube_downloads_in_progress",
			Help: "Number of downloads currently transferring",
		},
	)

	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "owntube_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"height"},
	)

	DownloadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "owntube_downloaded_bytes_total",
			Help: "Total size of committed downloads",
		},
	)

	// Queue Metrics
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owntube_jobs_processed_total",
			Help: "Total number of queue jobs processed",
		},
		[]string{"type", "status"},
	)

	// Database Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "owntube_queue_depth",
			Help: "Number of jobs waiting in the job queue",
		},
	)

	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owntube_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "table", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "owntube_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordFeedFetch records a channel feed fetch
func RecordFeedFetch(err error) {
	FeedFetchesTotal.WithLabelValues(status(err)).Inc()
}

// RecordChannelIngest records the import of one channel
func RecordChannelIngest(source string, videos int, duration float64) {
	VideosImportedTotal.WithLabelValues(source).Add(float64(videos))
	ChannelIngestDuration.WithLabelValues(source).Observe(duration)
}

// RecordAssetFetch records a thumbnail or avatar download
func RecordAssetFetch(kind string, size int64, err error) {
	AssetFetchesTotal.WithLabelValues(kind, status(err)).Inc()
	if err == nil {
		AssetBytesTotal.Add(float64(size))
	}
}

// RecordEnrichment records an extended metadata fetch
func RecordEnrichment(err error) {
	EnrichmentsTotal.WithLabelValues(status(err)).Inc()
}

// RecordDownloadStarted marks a download as transferring
func RecordDownloadStarted() {
	DownloadsInProgress.Inc()
}

// RecordDownloadFinished records the terminal state of a download
func RecordDownloadFinished(state string, height int, size int64, duration float64) {
	h := strconv.Itoa(height)
	DownloadsInProgress.Dec()
	DownloadsTotal.WithLabelValues(state, h).Inc()
	DownloadDuration.WithLabelValues(h).Observe(duration)
	if size > 0 {
		DownloadedBytesTotal.Add(float64(size))
	}
}

// RecordJobProcessed records a queue job outcome
func RecordJobProcessed(jobType string, err error) {
	JobsProcessedTotal.WithLabelValues(jobType, status(err)).Inc()
}

// SetQueueDepth records the number of waiting jobs
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, table string, duration float64, err error) {
	DatabaseOperationsTotal.WithLabelValues(operation, table, status(err)).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}
