// Package download materializes one resolution of a video as a local file and
// records it as a downloaded variant.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/metrics"
	"github.com/owntube/owntube/internal/tracing"
	"github.com/owntube/owntube/internal/ytdlp"
	"github.com/owntube/owntube/pkg/models"
)

// State is the state of a download job
type State string

// State constants
const (
	StateRequested  State = "requested"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Engine transfers media and reports progress events
type Engine interface {
	Download(ctx context.Context, req ytdlp.Request) (<-chan models.ProgressEvent, error)
}

// VariantSaver commits downloaded variants
type VariantSaver interface {
	Save(ctx context.Context, d *models.DownloadedVariant) error
}

// Locker provides mutual exclusion per key
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// ProgressSink receives progress snapshots
type ProgressSink interface {
	PublishProgress(ctx context.Context, videoID string, height int, state string, fraction float64) error
}

// Notifier is told about committed variants
type Notifier interface {
	NotifyDownloadCompleted(ctx context.Context, d *models.DownloadedVariant) error
}

// Archiver copies committed files to long term storage
type Archiver interface {
	Archive(ctx context.Context, localPath string, d *models.DownloadedVariant) error
}

// Config wires the collaborators of an Orchestrator. Progress, Notifier and
// Archiver are optional.
type Config struct {
	MediaDir       string
	PreferredCodec string
	Container      string
	Locks          Locker
	Progress       ProgressSink
	Notifier       Notifier
	Archiver       Archiver
	Logger         *logging.Logger
}

// Orchestrator runs downloads. At most one download runs at a time for a
// given video and height.
type Orchestrator struct {
	engine   Engine
	variants VariantSaver
	cfg      Config
	logger   *logging.Logger
}

// New creates an Orchestrator
func New(engine Engine, variants VariantSaver, cfg Config) *Orchestrator {
	if cfg.Container == "" {
		cfg.Container = models.DefaultContainer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{engine: engine, variants: variants, cfg: cfg, logger: logger}
}

// Job is one requested download
type Job struct {
	VideoID string
	Height  int

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	variant *models.DownloadedVariant
	err     error
}

// State returns the current state of the job
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Cancel stops the download. A job that has not completed yet ends Failed
// with ErrCancelled.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed once the job reached a terminal state
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is terminal and returns the committed variant or
// the DownloadError that failed it.
func (j *Job) Wait() (*models.DownloadedVariant, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.variant, j.err
}

func (j *Job) finish(state State, variant *models.DownloadedVariant, err error) {
	j.mu.Lock()
	j.state = state
	j.variant = variant
	j.err = err
	j.mu.Unlock()
	close(j.done)
}

// Start requests the download of video at height and returns immediately
func (o *Orchestrator) Start(ctx context.Context, video *models.Video, height int) *Job {
	ctx, cancel := context.WithCancel(ctx)
	job := &Job{
		VideoID: video.ID,
		Height:  height,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateRequested,
	}

	go func() {
		defer cancel()
		o.run(ctx, job, video)
	}()

	return job
}

// Download runs a download to completion
func (o *Orchestrator) Download(ctx context.Context, video *models.Video, height int) (*models.DownloadedVariant, error) {
	return o.Start(ctx, video, height).Wait()
}

func (o *Orchestrator) run(ctx context.Context, job *Job, video *models.Video) {
	span, ctx := tracing.StartSpan(ctx, "download")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "video_id", video.ID)
	tracing.SetTag(span, "height", job.Height)

	logger := o.logger.WithVideoID(video.ID).WithField("height", job.Height)
	start := time.Now()

	fail := func(reason, diagnostic string, err error) {
		derr := &DownloadError{VideoID: video.ID, Height: job.Height, Reason: reason, Diagnostic: diagnostic, Err: err}
		tracing.LogError(span, derr)
		logger.WithError(derr).Warn("Download failed")
		o.publish(ctx, job, StateFailed, 0)
		job.finish(StateFailed, nil, derr)
	}

	if o.cfg.Locks != nil {
		unlock, err := o.cfg.Locks.Lock(ctx, fmt.Sprintf("download:%s:%d", video.ID, job.Height))
		if err != nil {
			if ctx.Err() != nil {
				fail(ReasonCancelled, "", ErrCancelled)
			} else {
				fail(ReasonStorage, "", err)
			}
			return
		}
		defer unlock()
	}

	if ctx.Err() != nil {
		fail(ReasonCancelled, "", ErrCancelled)
		return
	}

	req := ytdlp.Request{
		URL:            video.URL(),
		Format:         ytdlp.FormatSelector(job.Height, o.cfg.PreferredCodec),
		OutputTemplate: filepath.Join(o.cfg.MediaDir, fmt.Sprintf("%s_%d.%%(ext)s", video.ID, job.Height)),
	}

	events, err := o.engine.Download(ctx, req)
	if err != nil {
		fail(ReasonEngine, "", err)
		return
	}

	job.setState(StateInProgress)
	metrics.RecordDownloadStarted()
	o.publish(ctx, job, StateInProgress, 0)
	logger.Info("Download started")

	variant, reason, diagnostic, err := o.consume(ctx, job, video, events)
	if err == nil && variant == nil {
		reason, err = ReasonEngine, ErrEngine
	}
	if err != nil {
		if reason == ReasonCancelled {
			o.discardPartial(video.ID, job.Height)
		}
		metrics.RecordDownloadFinished(string(StateFailed), job.Height, 0, time.Since(start).Seconds())
		fail(reason, diagnostic, err)
		return
	}

	metrics.RecordDownloadFinished(string(StateCompleted), job.Height, variant.Filesize, time.Since(start).Seconds())
	logger.WithField("filesize", variant.Filesize).Info("Download completed")

	// The variant is committed; follow-up work must not be undone by a late cancel.
	ctx = context.WithoutCancel(ctx)
	o.publish(ctx, job, StateCompleted, 1)
	o.afterCommit(ctx, logger, variant)
	job.finish(StateCompleted, variant, nil)
}

// consume drives the job from the engine events until a terminal event. A
// cancelled job returns only once the engine closed its events, so nothing
// writes to the media directory afterwards.
func (o *Orchestrator) consume(ctx context.Context, job *Job, video *models.Video, events <-chan models.ProgressEvent) (*models.DownloadedVariant, string, string, error) {
	for {
		select {
		case <-ctx.Done():
			for range events {
			}
			return nil, ReasonCancelled, "", ErrCancelled

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil, ReasonCancelled, "", ErrCancelled
				}
				return nil, ReasonEngine, "event stream ended without a result", ErrEngine
			}

			switch ev.Status {
			case models.ProgressDownloading:
				o.publish(ctx, job, StateInProgress, ev.Fraction())

			case models.ProgressError:
				return nil, ReasonEngine, ev.Diagnostic, ErrEngine

			case models.ProgressFinished:
				variant, err := o.commit(context.WithoutCancel(ctx), video, ev)
				if err != nil {
					reason := ReasonStorage
					var cerr *containerError
					if errors.As(err, &cerr) {
						reason = ReasonContainer
					}
					return nil, reason, "", err
				}
				return variant, "", "", nil
			}
		}
	}
}

type containerError struct {
	got, want string
}

func (e *containerError) Error() string {
	return fmt.Sprintf("produced container %q, expected %q", e.got, e.want)
}

// commit records the finished file as a variant. The file is renamed to the
// variant's storage path when the engine delivered a different height than
// requested.
func (o *Orchestrator) commit(ctx context.Context, video *models.Video, ev models.ProgressEvent) (*models.DownloadedVariant, error) {
	info := ev.Info
	if info == nil {
		info = &models.MediaInfo{Filepath: ev.Filename}
	}

	ext := info.Ext
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(info.Filepath), ".")
	}
	if !strings.EqualFold(ext, o.cfg.Container) {
		return nil, &containerError{got: ext, want: o.cfg.Container}
	}

	variant := &models.DownloadedVariant{
		VideoID:   video.ID,
		Video:     video,
		Width:     info.Width,
		Height:    info.Height,
		FPS:       info.FPS,
		Filesize:  info.Filesize,
		Extension: o.cfg.Container,
	}

	dest := filepath.Join(o.cfg.MediaDir, variant.StoragePath())
	if info.Filepath != "" && filepath.Clean(info.Filepath) != filepath.Clean(dest) {
		if err := os.Rename(info.Filepath, dest); err != nil {
			return nil, fmt.Errorf("failed to move %s to %s: %w", info.Filepath, dest, err)
		}
	}

	if err := o.variants.Save(ctx, variant); err != nil {
		return nil, err
	}
	return variant, nil
}

func (o *Orchestrator) afterCommit(ctx context.Context, logger *logging.Logger, variant *models.DownloadedVariant) {
	if o.cfg.Archiver != nil {
		path := filepath.Join(o.cfg.MediaDir, variant.StoragePath())
		if err := o.cfg.Archiver.Archive(ctx, path, variant); err != nil {
			logger.WithError(err).Warn("Failed to archive variant")
		}
	}
	if o.cfg.Notifier != nil {
		if err := o.cfg.Notifier.NotifyDownloadCompleted(ctx, variant); err != nil {
			logger.WithError(err).Warn("Failed to send download notification")
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, job *Job, state State, fraction float64) {
	o.logger.LogDownloadProgress(job.VideoID, job.Height, string(state), fraction)
	if o.cfg.Progress == nil {
		return
	}
	if err := o.cfg.Progress.PublishProgress(context.WithoutCancel(ctx), job.VideoID, job.Height, string(state), fraction); err != nil {
		o.logger.WithError(err).Debug("Failed to publish download progress")
	}
}

// discardPartial removes the intermediate files of an interrupted download.
// A committed file from an earlier download at the same height is kept; the
// engine only writes that name once a download is complete.
func (o *Orchestrator) discardPartial(videoID string, height int) {
	pattern := filepath.Join(o.cfg.MediaDir, fmt.Sprintf("%s_%d.*", videoID, height))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	final := models.VariantFilename(videoID, height, o.cfg.Container)
	for _, path := range matches {
		if filepath.Base(path) == final {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			o.logger.WithError(err).WithField("path", path).Warn("Failed to remove partial download")
		}
	}
}
