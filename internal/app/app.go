package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/owntube/owntube/internal/asset"
	"github.com/owntube/owntube/internal/cache"
	"github.com/owntube/owntube/internal/catalog"
	"github.com/owntube/owntube/internal/config"
	"github.com/owntube/owntube/internal/database"
	"github.com/owntube/owntube/internal/download"
	"github.com/owntube/owntube/internal/ingest"
	"github.com/owntube/owntube/internal/keylock"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/queue"
	"github.com/owntube/owntube/internal/storage"
	"github.com/owntube/owntube/internal/variant"
	"github.com/owntube/owntube/internal/video"
	"github.com/owntube/owntube/internal/webhook"
	"github.com/owntube/owntube/internal/ytdlp"
	"github.com/owntube/owntube/pkg/models"
)

// App holds the wired components shared by the commands
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	DB        *database.DB
	Catalog   *catalog.Catalog
	Videos    *video.Store
	Variants  *variant.Store
	Ingest    *ingest.Pipeline
	Downloads *download.Orchestrator

	// Optional infrastructure, nil when disabled
	Cache   *cache.Cache
	Storage *storage.Storage
	Webhook *webhook.Service
}

// New connects to the configured backends and wires every component
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, DB: db}

	var locks interface {
		Lock(ctx context.Context, key string) (func(), error)
	} = keylock.New()

	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Cache = c
		locks = c.NewLocker(cfg.Redis.LockTTL)
	}

	if cfg.Storage.Enabled {
		s, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.Storage = s
	}

	if cfg.Webhook.URL != "" {
		a.Webhook = webhook.NewService(cfg.Webhook, logger)
	}

	engine := ytdlp.New(cfg.Downloader, logger)
	httpClient := &http.Client{Timeout: cfg.Feed.Timeout}

	a.Catalog = catalog.New(db, cfg.Library.VideoCount)
	a.Videos = video.NewStore(db, video.Config{
		Channels:     a.Catalog,
		Extractor:    engine,
		Thumbnails:   asset.NewFetcher(nil, "thumbnail", logger),
		Locks:        locks,
		ThumbnailDir: cfg.Library.ThumbnailDir,
		DefaultCount: cfg.Library.VideoCount,
		Logger:       logger,
	})
	a.Variants = variant.NewStore(db, a.Videos)

	a.Ingest = ingest.New(a.Catalog, catalog.NewFeed(httpClient, cfg.Feed.BaseURL, cfg.Feed.Timeout), a.Videos, ingest.Config{
		Avatars:        asset.NewFetcher(nil, "avatar", logger),
		AvatarDir:      cfg.Library.AvatarDir,
		ChannelWorkers: cfg.Library.ChannelWorkers,
		VideoWorkers:   cfg.Library.VideoWorkers,
		Logger:         logger,
	})

	dcfg := download.Config{
		MediaDir:       cfg.Library.MediaDir,
		PreferredCodec: cfg.Downloader.PreferredCodec,
		Container:      cfg.Downloader.Container,
		Locks:          locks,
		Logger:         logger,
	}
	// Optional collaborators are assigned only when present so the
	// interfaces stay nil rather than holding typed nil pointers.
	if a.Cache != nil {
		dcfg.Progress = a.Cache
	}
	if a.Storage != nil {
		dcfg.Archiver = a.Storage
	}
	if a.Webhook != nil {
		dcfg.Notifier = a.Webhook
	}
	a.Downloads = download.New(engine, a.Variants, dcfg)

	return a, nil
}

// Migrate creates the schema
func (a *App) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, a.DB)
}

// Close releases every backend connection
func (a *App) Close() {
	if a.Webhook != nil {
		a.Webhook.Close()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// OpenQueue connects to the configured job queue
func (a *App) OpenQueue() (*queue.Queue, error) {
	return queue.New(a.Config.Queue, a.Logger)
}

// HandleJob executes one queued job. Failures that a retry cannot fix are
// marked permanent so the job goes straight to the dead letter queue.
func (a *App) HandleJob(ctx context.Context, job *models.Job) error {
	logger := a.Logger.WithJobID(job.ID).WithField("type", job.Type)

	switch job.Type {
	case models.JobTypeIngestFeed:
		report, err := a.Ingest.ImportFeed(ctx, job.ChannelID)
		if err != nil {
			var fe *catalog.FeedFetchError
			if errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound {
				return queue.Permanent(err)
			}
			return err
		}
		logger.WithField("videos", report.Videos).Info("Feed imported")
		return nil

	case models.JobTypeIngestDump:
		report, err := a.Ingest.ImportDumpFile(ctx, job.Path)
		if err != nil {
			if errors.Is(err, catalog.ErrInvalidDump) || errors.Is(err, fs.ErrNotExist) {
				return queue.Permanent(err)
			}
			return err
		}
		logger.WithField("videos", report.Videos).Info("Dump imported")
		return nil

	case models.JobTypeDownload:
		v, err := a.Videos.Load(ctx, job.VideoID, nil)
		if err != nil {
			if errors.Is(err, video.ErrVideoNotFound) || errors.Is(err, catalog.ErrChannelNotFound) {
				return queue.Permanent(err)
			}
			return err
		}
		d, err := a.Downloads.Download(ctx, v, job.Height)
		if err != nil {
			var de *download.DownloadError
			if errors.As(err, &de) && (de.Reason == download.ReasonEngine || de.Reason == download.ReasonContainer) {
				return queue.Permanent(err)
			}
			return err
		}
		logger.WithField("variant_id", d.ID).Info("Download committed")
		return nil
	}

	return queue.Permanent(fmt.Errorf("unknown job type %q", job.Type))
}
