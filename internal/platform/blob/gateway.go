package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pagelift/pagelift-api/internal/config"
	"github.com/pagelift/pagelift-api/internal/platform/logger"
)

// ErrNotConfigured is returned by every Gateway operation when the blob
// store settings are absent. Callers must treat it as a user-facing
// 503-equivalent, not a 500: the deployment is incomplete, the request was
// fine.
var ErrNotConfigured = errors.New("blob storage is not configured")

// Gateway is the object storage client for task input and output artifacts.
// Keys follow uploads/{owner}/{task}/input.pdf for inputs and
// outputs/{owner}/{task}/... for outputs.
type Gateway struct {
	client  *minio.Client
	bucket  string
	ttlDays int
}

// New builds a Gateway from configuration. When the required settings are
// missing it returns a gateway whose every operation fails with
// ErrNotConfigured; construction itself never fails for that reason, so the
// process can start and report the condition per request.
func New(cfg config.BlobConfig) (*Gateway, error) {
	if !cfg.Configured() {
		return &Gateway{ttlDays: cfg.FileTTLDays}, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	return &Gateway{client: client, bucket: cfg.Bucket, ttlDays: cfg.FileTTLDays}, nil
}

// Configured reports whether the gateway can reach a store.
func (g *Gateway) Configured() bool {
	return g.client != nil
}

// Put uploads data under the given key. Objects are tagged with an
// expires_at horizon so an external reaper can collect them; the tag is
// advisory only.
func (g *Gateway) Put(ctx context.Context, data []byte, key, contentType string) error {
	if g.client == nil {
		return ErrNotConfigured
	}

	opts := minio.PutObjectOptions{ContentType: contentType}
	if g.ttlDays > 0 {
		expiresAt := time.Now().UTC().AddDate(0, 0, g.ttlDays)
		opts.UserTags = map[string]string{
			"expires_at": fmt.Sprintf("%d", expiresAt.Unix()),
		}
	}

	_, err := g.client.PutObject(ctx, g.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// PresignedGet returns a short-lived retrieval URL for the key.
func (g *Gateway) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if g.client == nil {
		return "", ErrNotConfigured
	}

	u, err := g.client.PresignedGetObject(ctx, g.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Get downloads the object stored under the key.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	if g.client == nil {
		return nil, ErrNotConfigured
	}

	obj, err := g.client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Delete removes the object stored under the key.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	if g.client == nil {
		return ErrNotConfigured
	}

	if err := g.client.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every object under the prefix. Individual failures
// are logged and skipped; prefix cleanup is best-effort by contract.
func (g *Gateway) DeletePrefix(ctx context.Context, prefix string) error {
	if g.client == nil {
		return ErrNotConfigured
	}

	log := logger.FromContext(ctx)

	objects := g.client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var lastErr error
	for obj := range objects {
		if obj.Err != nil {
			lastErr = obj.Err
			log.Warn("failed to list object under prefix",
				"prefix", prefix,
				"error", obj.Err)
			continue
		}
		if err := g.client.RemoveObject(ctx, g.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			lastErr = err
			log.Warn("failed to delete object under prefix",
				"key", obj.Key,
				"error", err)
		}
	}

	if lastErr != nil {
		return fmt.Errorf("delete prefix %s: %w", prefix, lastErr)
	}
	return nil
}

// InputKey returns the canonical storage key for a task's input document.
func InputKey(ownerID, taskID string) string {
	return fmt.Sprintf("uploads/%s/%s/input.pdf", ownerID, taskID)
}

// OutputKey returns a storage key under the task's output prefix.
func OutputKey(ownerID, taskID, name string) string {
	return fmt.Sprintf("outputs/%s/%s/%s", ownerID, taskID, name)
}

// OutputPrefix returns the task's output directory prefix.
func OutputPrefix(ownerID, taskID string) string {
	return fmt.Sprintf("outputs/%s/%s/", ownerID, taskID)
}

// ExtractJobPrefix returns the prefix holding artifacts mirrored from the
// extraction vendor for the given job.
func ExtractJobPrefix(jobID string) string {
	return fmt.Sprintf("extract/%s/", jobID)
}
