package gcs

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/utils"
)

// BucketService stores temporary training bundles. Objects are uploaded with
// CustomTime so a bucket lifecycle rule keyed on days-since-custom-time can
// expire orphaned bundles.
type BucketService interface {
	UploadBundle(ctx context.Context, key string, bundle io.Reader, ttl time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
	GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
	SignedURL(key string, expires time.Duration) (string, error)
	PublicURL(key string) string
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	CustomTime  time.Time
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
	publicBaseURL string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	bucketName := utils.GetEnv("TRAINING_GCS_BUCKET_NAME", "", log)
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var TRAINING_GCS_BUCKET_NAME")
	}
	publicBaseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")), "/")

	ctx := context.Background()
	var opts []option.ClientOption
	if emulator := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); emulator != "" {
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info("Object storage initialized", "bucket", bucketName, "public_base_url", publicBaseURL)

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    bucketName,
		publicBaseURL: publicBaseURL,
	}, nil
}

func (bs *bucketService) UploadBundle(ctx context.Context, key string, bundle io.Reader, ttl time.Duration) (string, error) {
	uploadCtx, cancel := context.WithTimeout(ctx, 4*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bs.bucketName).Object(key).NewWriter(uploadCtx)
	w.ContentType = contentTypeForKey(key)
	// Lifecycle rules match on CustomTime; backdating by the TTL makes a
	// days-since-custom-time=1 rule behave as the per-object deadline.
	w.CustomTime = time.Now().UTC().Add(ttl).Add(-24 * time.Hour)
	if _, err := io.Copy(w, bundle); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write bundle to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return bs.PublicURL(key), nil
}

func (bs *bucketService) DeleteObject(ctx context.Context, key string) error {
	deleteCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	o := bs.storageClient.Bucket(bs.bucketName).Object(key)
	if err := o.Delete(deleteCtx); err != nil {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, bs.bucketName, err)
	}
	return nil
}

func (bs *bucketService) GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	attrCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := bs.storageClient.Bucket(bs.bucketName).Object(key).Attrs(attrCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to stat GCS object %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		CustomTime:  attrs.CustomTime,
	}, nil
}

func (bs *bucketService) SignedURL(key string, expires time.Duration) (string, error) {
	u, err := bs.storageClient.Bucket(bs.bucketName).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().UTC().Add(expires),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %q: %w", key, err)
	}
	return u, nil
}

func (bs *bucketService) PublicURL(key string) string {
	escaped := url.PathEscape(key)
	if bs.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", bs.publicBaseURL, bs.bucketName, escaped)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, escaped)
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".zip"):
		return "application/zip"
	case strings.HasSuffix(s, ".tar"):
		return "application/x-tar"
	case strings.HasSuffix(s, ".tar.gz"), strings.HasSuffix(s, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
