package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides shared state on top of Redis: download progress snapshots
// and distributed per-key locks.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Progress is the last known state of a download
type Progress struct {
	State     string    `json:"state"`
	Fraction  float64   `json:"fraction"`
	UpdatedAt time.Time `json:"updated_at"`
}

// progressTTL bounds how long a snapshot outlives its download
const progressTTL = time.Hour

func progressKey(videoID string, height int) string {
	return fmt.Sprintf("download:progress:%s:%d", videoID, height)
}

// PublishProgress stores a progress snapshot for a download
func (c *Cache) PublishProgress(ctx context.Context, videoID string, height int, state string, fraction float64) error {
	data, err := json.Marshal(Progress{State: state, Fraction: fraction, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return c.client.Set(ctx, progressKey(videoID, height), data, progressTTL).Err()
}

// GetProgress returns the last snapshot of a download, or nil when none exists
func (c *Cache) GetProgress(ctx context.Context, videoID string, height int) (*Progress, error) {
	data, err := c.client.Get(ctx, progressKey(videoID, height)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get progress from cache: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &p, nil
}
