package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/owntube/owntube/internal/config"
	"github.com/owntube/owntube/pkg/models"
)

// Storage archives committed variants to object storage
type Storage struct {
	client     *minio.Client
	bucketName string
}

// New creates a new storage client
func New(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

// ObjectName returns the key a variant is archived under
func ObjectName(d *models.DownloadedVariant) string {
	return path.Join("videos", d.VideoID, d.StoragePath())
}

// Archive uploads the committed file of a variant
func (s *Storage) Archive(ctx context.Context, localPath string, d *models.DownloadedVariant) error {
	_, err := s.client.FPutObject(ctx, s.bucketName, ObjectName(d), localPath, minio.PutObjectOptions{
		ContentType: getContentType(localPath),
		UserMetadata: map[string]string{
			"video-id": d.VideoID,
			"height":   strconv.Itoa(d.Height),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	return nil
}

// Exists reports whether a variant has been archived
func (s *Storage) Exists(ctx context.Context, d *models.DownloadedVariant) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, ObjectName(d), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// GetURL returns a presigned URL for an archived variant
func (s *Storage) GetURL(ctx context.Context, d *models.DownloadedVariant, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, ObjectName(d), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return url.String(), nil
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := filepath.Ext(filePath)
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
