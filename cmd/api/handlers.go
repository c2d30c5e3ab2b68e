package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/owntube/owntube/internal/app"
	"github.com/owntube/owntube/internal/catalog"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/middleware"
	"github.com/owntube/owntube/internal/queue"
	"github.com/owntube/owntube/internal/variant"
	"github.com/owntube/owntube/internal/video"
	"github.com/owntube/owntube/pkg/models"
)

// JobPublisher hands download requests to the worker fleet
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.Job) error
}

// API serves the catalog over HTTP
type API struct {
	app       *app.App
	files     *variant.Store
	publisher JobPublisher

	// background downloads started without a queue
	ctx context.Context
	wg  sync.WaitGroup
}

// NewAPI creates the handlers. ctx bounds downloads started in-process.
func NewAPI(ctx context.Context, a *app.App) *API {
	return &API{
		app:   a,
		files: variant.NewStore(a.DB, nil),
		ctx:   ctx,
	}
}

func (api *API) wait() {
	api.wg.Wait()
}

func setupRouter(api *API, logger *logging.Logger, limiter *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}
	{
		// Channels
		v1.GET("/channels", api.listChannels)
		v1.GET("/channels/:id", api.getChannel)
		v1.GET("/channels/:id/videos", api.listChannelVideos)

		// Videos
		v1.GET("/videos", api.listVideos)
		v1.GET("/videos/:id", api.getVideo)
		v1.POST("/videos/:id/downloads", api.requestDownload)
		v1.GET("/videos/:id/downloads/:height", api.getDownloadProgress)

		// Variants
		v1.GET("/variants/:id/file", api.getVariantFile)
	}

	return router
}

// respondError maps domain errors to status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrChannelNotFound),
		errors.Is(err, video.ErrVideoNotFound),
		errors.Is(err, variant.ErrVariantNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// parseListQuery reads the count and since query parameters
func parseListQuery(c *gin.Context) (int, *time.Time, bool) {
	count := 0
	if s := c.Query("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(c, "count must be a non-negative integer")
			return 0, nil, false
		}
		count = n
	}

	var since *time.Time
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t, err = time.Parse("2006-01-02", s)
		}
		if err != nil {
			badRequest(c, "since must be an RFC 3339 timestamp or a date")
			return 0, nil, false
		}
		t = t.UTC()
		since = &t
	}

	return count, since, true
}

func renderVideos(videos []*models.Video, expand bool) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(videos))
	for _, v := range videos {
		out = append(out, models.RenderVideo(v, expand))
	}
	return out
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.app.DB.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (api *API) listChannels(c *gin.Context) {
	channels, err := api.app.Catalog.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(channels))
	for _, ch := range channels {
		out = append(out, models.RenderChannel(ch))
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

func (api *API) getChannel(c *gin.Context) {
	ch, err := api.app.Catalog.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.RenderChannel(ch))
}

func (api *API) listChannelVideos(c *gin.Context) {
	count, since, ok := parseListQuery(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ch, err := api.app.Catalog.Load(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	videos, err := api.app.Catalog.ListVideos(ctx, ch, count, since)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"videos": renderVideos(videos, false)})
}

func (api *API) listVideos(c *gin.Context) {
	count, since, ok := parseListQuery(c)
	if !ok {
		return
	}

	videos, err := api.app.Videos.List(c.Request.Context(), count, since)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"videos": renderVideos(videos, true)})
}

func (api *API) getVideo(c *gin.Context) {
	ctx := c.Request.Context()
	v, err := api.app.Videos.Load(ctx, c.Param("id"), nil)
	if err != nil {
		respondError(c, err)
		return
	}

	variants, err := api.app.Variants.ListForVideo(ctx, v)
	if err != nil {
		respondError(c, err)
		return
	}

	out := models.RenderVideo(v, true)
	rendered := make([]map[string]interface{}, 0, len(variants))
	for _, d := range variants {
		rendered = append(rendered, models.RenderVariant(d, false))
	}
	out["variants"] = rendered

	c.JSON(http.StatusOK, out)
}

type downloadRequest struct {
	Height int `json:"height" binding:"required,min=1"`
}

func (api *API) requestDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "height must be a positive integer")
		return
	}

	ctx := c.Request.Context()
	videoID := c.Param("id")

	exists, err := api.app.Videos.Exists(ctx, videoID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		respondError(c, fmt.Errorf("%w: %s", video.ErrVideoNotFound, videoID))
		return
	}

	if api.publisher != nil {
		job := queue.NewJob(models.JobTypeDownload, models.JobPriorityHigh)
		job.VideoID = videoID
		job.Height = req.Height
		if err := api.publisher.PublishJob(ctx, job); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "state": "requested"})
		return
	}

	v, err := api.app.Videos.Load(ctx, videoID, nil)
	if err != nil {
		respondError(c, err)
		return
	}

	job := api.app.Downloads.Start(api.ctx, v, req.Height)
	api.wg.Add(1)
	go func() {
		defer api.wg.Done()
		job.Wait()
	}()

	c.JSON(http.StatusAccepted, gin.H{"state": string(job.State())})
}

func (api *API) getDownloadProgress(c *gin.Context) {
	height, err := strconv.Atoi(c.Param("height"))
	if err != nil || height <= 0 {
		badRequest(c, "height must be a positive integer")
		return
	}

	if api.app.Cache == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "progress tracking is disabled"})
		return
	}

	progress, err := api.app.Cache.GetProgress(c.Request.Context(), c.Param("id"), height)
	if err != nil {
		respondError(c, err)
		return
	}
	if progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no download in progress"})
		return
	}

	c.JSON(http.StatusOK, progress)
}

func (api *API) getVariantFile(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := api.files.Load(ctx, c.Param("id"), nil)
	if err != nil {
		respondError(c, err)
		return
	}

	path := filepath.Join(api.app.Config.Library.MediaDir, d.StoragePath())
	if _, err := os.Stat(path); err == nil {
		c.FileAttachment(path, d.StoragePath())
		return
	}

	if api.app.Storage != nil {
		url, err := api.app.Storage.GetURL(ctx, d, time.Hour)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Redirect(http.StatusTemporaryRedirect, url)
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "file not found: " + d.StoragePath()})
}
