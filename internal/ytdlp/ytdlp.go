// Package ytdlp drives yt-dlp: it extracts media metadata and downloads media
// while reporting progress as a stream of events.
package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/owntube/owntube/internal/config"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/pkg/models"
)

const progressInterval = 500 * time.Millisecond

// Engine runs yt-dlp
type Engine struct {
	path            string
	retries         int
	fragmentRetries int
	container       string
	logger          *logging.Logger
}

// New creates an Engine from the downloader configuration
func New(cfg config.DownloaderConfig, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	container := cfg.Container
	if container == "" {
		container = models.DefaultContainer
	}
	return &Engine{
		path:            cfg.YtdlpPath,
		retries:         cfg.Retries,
		fragmentRetries: cfg.FragmentRetries,
		container:       container,
		logger:          logger,
	}
}

// Request describes one download
type Request struct {
	URL            string
	Format         string
	OutputTemplate string
}

// FormatSelector selects the best video stream at or below height, preferring
// codec, combined with the best audio. It falls back to any stream at or
// below height.
func FormatSelector(height int, codec string) string {
	h := strconv.Itoa(height)
	return fmt.Sprintf("bestvideo[height<=%s][vcodec^=%s]+bestaudio[ext=m4a]/bestvideo[height<=%s]+bestaudio/best[height<=%s]",
		h, codec, h, h)
}

func (e *Engine) command() *goytdlp.Command {
	cmd := goytdlp.New().NoPlaylist()
	if e.path != "" {
		cmd.SetExecutable(e.path)
	}
	return cmd
}

func (e *Engine) downloadCommand(req Request) *goytdlp.Command {
	return e.command().
		PrintJSON().
		Retries(strconv.Itoa(e.retries)).
		FragmentRetries(strconv.Itoa(e.fragmentRetries)).
		MergeOutputFormat(e.container).
		Format(req.Format).
		Output(req.OutputTemplate)
}

// Download starts yt-dlp and returns its events. The channel carries a
// started event, downloading events and at most one terminal event (finished
// or error), and is closed once the process exited. Cancelling ctx kills the
// process; no terminal event is sent in that case.
func (e *Engine) Download(ctx context.Context, req Request) (<-chan models.ProgressEvent, error) {
	events := make(chan models.ProgressEvent, 16)

	send := func(ev models.ProgressEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	cmd := e.downloadCommand(req)
	cmd.ProgressFunc(progressInterval, func(update goytdlp.ProgressUpdate) {
		send(progressEvent(update))
	})

	go func() {
		defer close(events)
		send(models.ProgressEvent{Status: models.ProgressStarted})

		result, err := cmd.Run(ctx, req.URL)
		if ctx.Err() != nil {
			return
		}
		e.logWarnings(result)
		if err != nil {
			send(models.ProgressEvent{Status: models.ProgressError, Diagnostic: diagnostic(stderrOf(result), err)})
			return
		}

		info, err := finalInfo(result)
		if err != nil {
			send(models.ProgressEvent{Status: models.ProgressError, Diagnostic: err.Error()})
			return
		}
		send(models.ProgressEvent{Status: models.ProgressFinished, Filename: info.Filepath, Info: info})
	}()

	return events, nil
}

// progressEvent converts a progress update. A finished stream is not the
// finished download: formats are merged afterwards, and only the printed info
// of the run reports the result.
func progressEvent(update goytdlp.ProgressUpdate) models.ProgressEvent {
	return models.ProgressEvent{
		Status:          models.ProgressDownloading,
		DownloadedBytes: int64(update.DownloadedBytes),
		TotalBytes:      int64(update.TotalBytes),
	}
}

// finalInfo describes the file a successful run left behind
func finalInfo(result *goytdlp.Result) (*models.MediaInfo, error) {
	infos, err := result.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to read yt-dlp result: %w", err)
	}
	if len(infos) == 0 || infos[0].Filename == nil {
		return nil, errors.New("yt-dlp exited without producing a file")
	}

	data, err := json.Marshal(infos[0])
	if err != nil {
		return nil, fmt.Errorf("failed to encode yt-dlp result: %w", err)
	}
	info, err := parseInfo(data)
	if err != nil {
		return nil, err
	}
	info.Filepath = *infos[0].Filename
	fillFilesize(info)
	return info, nil
}

// fillFilesize uses the size on disk. yt-dlp prints the info before merging,
// so its filesize is the one of a single stream or missing.
func fillFilesize(info *models.MediaInfo) {
	if info == nil || info.Filepath == "" {
		return
	}
	if stat, err := os.Stat(info.Filepath); err == nil {
		info.Filesize = stat.Size()
	}
}

func stderrOf(result *goytdlp.Result) string {
	if result == nil {
		return ""
	}
	return result.Stderr
}

// diagnostic returns the ERROR lines of stderr, or err when there are none
func diagnostic(stderr string, err error) string {
	var lines []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
		}
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func (e *Engine) logWarnings(result *goytdlp.Result) {
	for _, line := range strings.Split(stderrOf(result), "\n") {
		if strings.HasPrefix(line, "WARNING:") {
			e.logger.Warn(line)
		}
	}
}

// infoJSON is the subset of the yt-dlp info dict used for enrichment
type infoJSON struct {
	ID       string  `json:"id"`
	Duration float64 `json:"duration"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	FPS      float64 `json:"fps"`
	Ext      string  `json:"ext"`
	Filesize float64 `json:"filesize"`
	Chapters []struct {
		StartTime float64 `json:"start_time"`
		EndTime   float64 `json:"end_time"`
		Title     string  `json:"title"`
	} `json:"chapters"`
}

// ExtractInfo returns the metadata of the media at url without downloading it
func (e *Engine) ExtractInfo(ctx context.Context, url string) (*models.MediaInfo, error) {
	result, err := e.command().
		SkipDownload().
		NoWarnings().
		DumpSingleJSON().
		Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, stderrOf(result))
	}

	infos, err := result.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	if len(infos) == 0 {
		return nil, errors.New("yt-dlp returned no info")
	}

	data, err := json.Marshal(infos[0])
	if err != nil {
		return nil, fmt.Errorf("failed to encode yt-dlp info: %w", err)
	}
	return parseInfo(data)
}

func parseInfo(data []byte) (*models.MediaInfo, error) {
	var raw infoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	if raw.Height == 0 {
		return nil, errors.New("yt-dlp output has no video height")
	}

	info := &models.MediaInfo{
		ID:       raw.ID,
		Duration: raw.Duration,
		Width:    int(raw.Width),
		Height:   int(raw.Height),
		FPS:      raw.FPS,
		Ext:      raw.Ext,
		Filesize: int64(raw.Filesize),
	}
	if raw.Chapters != nil {
		info.Chapters = make(models.Chapters, 0, len(raw.Chapters))
		for _, c := range raw.Chapters {
			info.Chapters = append(info.Chapters, models.Chapter{Start: c.StartTime, End: c.EndTime, Title: c.Title})
		}
	}

	return info, nil
}
