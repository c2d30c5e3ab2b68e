// Package ingest imports channel catalogs from feeds and bulk exports.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/owntube/owntube/internal/catalog"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/metrics"
	"github.com/owntube/owntube/internal/tracing"
	"github.com/owntube/owntube/internal/video"
	"github.com/owntube/owntube/pkg/models"
)

// ChannelStore persists channels
type ChannelStore interface {
	Load(ctx context.Context, channelID string) (*models.Channel, error)
	Save(ctx context.Context, ch *models.Channel) error
	ListAll(ctx context.Context) ([]*models.Channel, error)
}

// FeedSource lists the current videos of a channel
type FeedSource interface {
	FetchRemoteListing(ctx context.Context, channelID string) (*models.RemoteChannel, error)
}

// VideoImporter persists one remote video summary
type VideoImporter interface {
	Import(ctx context.Context, channel *models.Channel, remote models.RemoteVideo) (*video.ImportResult, error)
}

// AssetFetcher downloads a single asset to a local path
type AssetFetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Config wires the collaborators of a Pipeline
type Config struct {
	Avatars        AssetFetcher
	AvatarDir      string
	ChannelWorkers int
	VideoWorkers   int
	Logger         *logging.Logger
}

// Pipeline imports channels and their videos
type Pipeline struct {
	channels ChannelStore
	feed     FeedSource
	videos   VideoImporter
	cfg      Config
	logger   *logging.Logger
}

// New creates a Pipeline
func New(channels ChannelStore, feed FeedSource, videos VideoImporter, cfg Config) *Pipeline {
	if cfg.ChannelWorkers <= 0 {
		cfg.ChannelWorkers = 1
	}
	if cfg.VideoWorkers <= 0 {
		cfg.VideoWorkers = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{channels: channels, feed: feed, videos: videos, cfg: cfg, logger: logger}
}

// Report summarizes an import
type Report struct {
	Channels          int
	Videos            int
	ThumbnailFailures int
	AvatarFailures    int
	Errors            []error
}

func (r *Report) merge(other *Report) {
	r.Channels += other.Channels
	r.Videos += other.Videos
	r.ThumbnailFailures += other.ThumbnailFailures
	r.AvatarFailures += other.AvatarFailures
	r.Errors = append(r.Errors, other.Errors...)
}

// Err joins every error collected by the import
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

// ImportFeed imports the current feed listing of a channel. An unknown channel
// is created from the feed; a known channel keeps its stored fields.
func (p *Pipeline) ImportFeed(ctx context.Context, channelID string) (*Report, error) {
	span, ctx := tracing.StartSpan(ctx, "ingest.feed")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "channel_id", channelID)
	start := time.Now()

	listing, err := p.feed.FetchRemoteListing(ctx, channelID)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	ch, err := p.channels.Load(ctx, channelID)
	if errors.Is(err, catalog.ErrChannelNotFound) {
		ch = &models.Channel{ID: channelID, Name: listing.Name}
		err = p.channels.Save(ctx, ch)
	}
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	report := p.importVideos(ctx, ch, listing.Videos)
	metrics.RecordChannelIngest("feed", report.Videos, time.Since(start).Seconds())
	p.logReport(channelID, "feed", report)

	err = report.Err()
	tracing.LogError(span, err)
	return report, err
}

// ImportDump imports a channel export, overwriting the stored channel fields
func (p *Pipeline) ImportDump(ctx context.Context, r io.Reader) (*Report, error) {
	span, ctx := tracing.StartSpan(ctx, "ingest.dump")
	defer tracing.FinishSpan(span)
	start := time.Now()

	listing, err := catalog.DecodeDump(r)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	tracing.SetTag(span, "channel_id", listing.ID)

	ch := &models.Channel{ID: listing.ID, Name: listing.Name, Description: listing.Description}
	if err := p.channels.Save(ctx, ch); err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	avatarFailed := false
	if err := p.fetchAvatar(ctx, ch, listing.Thumbnails); err != nil {
		p.logger.WithChannelID(ch.ID).WithError(err).Warn("Avatar fetch failed")
		avatarFailed = true
	}

	report := p.importVideos(ctx, ch, listing.Videos)
	if avatarFailed {
		report.AvatarFailures++
	}
	metrics.RecordChannelIngest("dump", report.Videos, time.Since(start).Seconds())
	p.logReport(ch.ID, "dump", report)

	err = report.Err()
	tracing.LogError(span, err)
	return report, err
}

// ImportDumpFile imports a channel export stored in a file
func (p *Pipeline) ImportDumpFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	return p.ImportDump(ctx, f)
}

// RefreshAll imports the feed of every known channel. Channels are processed
// concurrently; a failing channel does not stop the others.
func (p *Pipeline) RefreshAll(ctx context.Context) (*Report, error) {
	channels, err := p.channels.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	total := &Report{}
	sem := make(chan struct{}, p.cfg.ChannelWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, ch := range channels {
		wg.Add(1)
		go func(ch *models.Channel) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			report, err := p.ImportFeed(ctx, ch.ID)

			mu.Lock()
			defer mu.Unlock()
			if report != nil {
				total.merge(report)
			} else if err != nil {
				total.Errors = append(total.Errors, fmt.Errorf("channel %s: %w", ch.ID, err))
			}
		}(ch)
	}
	wg.Wait()

	return total, total.Err()
}

func (p *Pipeline) importVideos(ctx context.Context, ch *models.Channel, videos []models.RemoteVideo) *Report {
	report := &Report{Channels: 1}
	sem := make(chan struct{}, p.cfg.VideoWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, remote := range videos {
		wg.Add(1)
		go func(remote models.RemoteVideo) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := p.videos.Import(ctx, ch, remote)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("video %s: %w", remote.ID, err))
				return
			}
			report.Videos++
			if result.ThumbnailErr != nil {
				report.ThumbnailFailures++
			}
		}(remote)
	}
	wg.Wait()

	return report
}

// AvatarPath returns the local path of a channel avatar
func (p *Pipeline) AvatarPath(channelID string) string {
	return filepath.Join(p.cfg.AvatarDir, channelID+".jpg")
}

func (p *Pipeline) fetchAvatar(ctx context.Context, ch *models.Channel, thumbs map[string]models.RemoteThumbnail) error {
	if p.cfg.Avatars == nil || p.cfg.AvatarDir == "" {
		return nil
	}
	best, ok := SelectAvatar(thumbs)
	if !ok {
		return nil
	}
	return p.cfg.Avatars.Fetch(ctx, best.URL, p.AvatarPath(ch.ID))
}

// SelectAvatar prefers the "high" thumbnail and otherwise picks the largest
// one, breaking ties by label.
func SelectAvatar(thumbs map[string]models.RemoteThumbnail) (models.RemoteThumbnail, bool) {
	if high, ok := thumbs["high"]; ok {
		return high, true
	}

	labels := make([]string, 0, len(thumbs))
	for label := range thumbs {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	candidates := make([]models.RemoteThumbnail, len(labels))
	for i, label := range labels {
		candidates[i] = thumbs[label]
	}
	return video.SelectThumbnail(candidates)
}

func (p *Pipeline) logReport(channelID, source string, report *Report) {
	p.logger.LogIngestEvent(channelID, "imported", map[string]interface{}{
		"source":             source,
		"videos":             report.Videos,
		"thumbnail_failures": report.ThumbnailFailures,
		"errors":             len(report.Errors),
	})
}
