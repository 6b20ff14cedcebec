package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lumapix/lumapix-backend/internal/pkg/httpx"
	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/platform/gcs"
	"github.com/lumapix/lumapix-backend/internal/types"
	"github.com/lumapix/lumapix-backend/internal/utils"
)

// PackagedArtifact is the result of packaging one run's images. The remote
// provider owns the durable copy; this value is consumed once at submission.
type PackagedArtifact struct {
	Success        bool   `json:"success"`
	BundleURL      string `json:"bundle_url"`
	BundleFilename string `json:"bundle_filename"`
	TotalSize      int64  `json:"total_size"`
	ImageCount     int    `json:"image_count"`
	Error          string `json:"error,omitempty"`
}

type PackagerService interface {
	Package(ctx context.Context, modelName string, images []types.ImageRef, rec *DiagnosticRecorder) PackagedArtifact
}

const (
	packagerStage = "packaging"

	downloadAttempts       = 3
	downloadInitialBackoff = 2 * time.Second
	downloadTimeout        = 30 * time.Second
	downloadConcurrency    = 4

	minImageSide     = 512
	maxImageSide     = 2048
	maxImageBytes    = 10 << 20
	normalizeQuality = 95

	recommendedMinImages = 5
)

var allowedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"webp": true,
	"tiff": true,
}

type packagerService struct {
	log        *logger.Logger
	bucket     gcs.BucketService
	httpClient *http.Client
	bundleTTL  time.Duration
}

func NewPackagerService(log *logger.Logger, bucket gcs.BucketService) PackagerService {
	ttlHours := utils.GetEnvAsInt("TRAINING_BUNDLE_TTL_HOURS", 24, log)
	return &packagerService{
		log:        log.With("service", "PackagerService"),
		bucket:     bucket,
		httpClient: &http.Client{Timeout: downloadTimeout},
		bundleTTL:  time.Duration(ttlHours) * time.Hour,
	}
}

type preparedImage struct {
	filename string
	path     string
	size     int64
}

type imageFailure struct {
	ref    types.ImageRef
	reason string
}

func (s *packagerService) Package(ctx context.Context, modelName string, images []types.ImageRef, rec *DiagnosticRecorder) PackagedArtifact {
	if len(images) == 0 {
		return failedArtifact("no training images provided")
	}
	if len(images) < recommendedMinImages {
		s.log.Warn("Few training images, quality may suffer", "model_name", modelName, "image_count", len(images))
		if rec != nil {
			rec.Log("warn", packagerStage, fmt.Sprintf("only %d images provided, at least %d recommended", len(images), recommendedMinImages), nil)
		}
	}

	scratchDir, err := os.MkdirTemp("", "training-bundle-*")
	if err != nil {
		return failedArtifact(fmt.Sprintf("create scratch dir: %v", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(scratchDir); rmErr != nil {
			s.log.Warn("Failed to remove scratch dir", "dir", scratchDir, "error", rmErr)
		}
	}()

	prepared, failures := s.prepareImages(ctx, scratchDir, images, rec)

	if len(prepared) == 0 {
		return failedArtifact(aggregateFailures(failures))
	}
	if len(prepared)*2 < len(images) {
		msg := fmt.Sprintf("only %d of %d images survived validation, training quality may be degraded", len(prepared), len(images))
		s.log.Warn("Low image survival rate", "model_name", modelName, "survived", len(prepared), "total", len(images))
		if rec != nil {
			rec.Log("warn", packagerStage, msg, nil)
		}
	}

	bundleFilename := fmt.Sprintf("%s-%s.zip", sanitizeName(modelName), uuid.NewString()[:8])
	bundlePath := filepath.Join(scratchDir, bundleFilename)
	totalSize, err := writeZipBundle(bundlePath, prepared)
	if err != nil {
		return failedArtifact(fmt.Sprintf("archive bundle: %v", err))
	}

	bundleFile, err := os.Open(bundlePath)
	if err != nil {
		return failedArtifact(fmt.Sprintf("open bundle: %v", err))
	}
	defer bundleFile.Close()

	bundleURL, err := s.bucket.UploadBundle(ctx, bundleFilename, bundleFile, s.bundleTTL)
	if err != nil {
		if rec != nil {
			rec.LogError(packagerStage, err, "Bundle upload failed", map[string]any{"bundle": bundleFilename})
		}
		return failedArtifact(fmt.Sprintf("upload bundle: %v", err))
	}

	s.log.Info("Training bundle uploaded",
		"model_name", modelName,
		"bundle", bundleFilename,
		"image_count", len(prepared),
		"total_size", totalSize,
	)
	return PackagedArtifact{
		Success:        true,
		BundleURL:      bundleURL,
		BundleFilename: bundleFilename,
		TotalSize:      totalSize,
		ImageCount:     len(prepared),
	}
}

func (s *packagerService) prepareImages(ctx context.Context, scratchDir string, images []types.ImageRef, rec *DiagnosticRecorder) ([]preparedImage, []imageFailure) {
	var (
		mu       sync.Mutex
		prepared []preparedImage
		failures []imageFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrency)

	for i, ref := range images {
		i, ref := i, ref
		g.Go(func() error {
			img, err := s.prepareOne(gctx, scratchDir, i, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, imageFailure{ref: ref, reason: err.Error()})
				if rec != nil {
					rec.Log("warn", packagerStage, fmt.Sprintf("skipping image %s: %v", ref.Filename, err), nil)
				}
				return nil
			}
			prepared = append(prepared, *img)
			return nil
		})
	}
	// Per-image errors are recorded, never propagated; only ctx cancellation
	// can end the group early.
	_ = g.Wait()

	return prepared, failures
}

func (s *packagerService) prepareOne(ctx context.Context, scratchDir string, index int, ref types.ImageRef) (*preparedImage, error) {
	raw, err := s.downloadWithRetry(ctx, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if len(raw) > maxImageBytes {
		return nil, fmt.Errorf("file too large: %d bytes, limit %d", len(raw), maxImageBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unsupported format: decode image header: %v", err)
	}
	if !allowedFormats[format] {
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if cfg.Width < minImageSide || cfg.Height < minImageSide {
		return nil, fmt.Errorf("image %dx%d below minimum side %d", cfg.Width, cfg.Height, minImageSide)
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide {
		return nil, fmt.Errorf("image %dx%d above maximum side %d", cfg.Width, cfg.Height, maxImageSide)
	}

	decoded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %v", err)
	}

	filename := fmt.Sprintf("image_%03d.jpg", index)
	outPath := filepath.Join(scratchDir, filename)
	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("write scratch file: %v", err)
	}
	if err := jpeg.Encode(out, decoded, &jpeg.Options{Quality: normalizeQuality}); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("re-encode image: %v", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close scratch file: %v", err)
	}
	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("stat scratch file: %v", err)
	}

	return &preparedImage{filename: filename, path: outPath, size: info.Size()}, nil
}

func (s *packagerService) downloadWithRetry(ctx context.Context, url string) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("empty image url")
	}
	backoff := downloadInitialBackoff
	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, err := s.downloadOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if code := httpx.StatusCodeOf(err); code != 0 && !httpx.IsRetryableHTTPStatus(code) {
			return nil, err
		}
		if attempt < downloadAttempts {
			s.log.Debug("Image download retrying", "url", url, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(httpx.JitterSleep(backoff)):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (s *packagerService) downloadOnce(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpx.StatusError{StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func writeZipBundle(bundlePath string, prepared []preparedImage) (int64, error) {
	out, err := os.Create(bundlePath)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(out)
	for _, img := range prepared {
		w, err := zw.Create(img.filename)
		if err != nil {
			_ = zw.Close()
			_ = out.Close()
			return 0, err
		}
		f, err := os.Open(img.path)
		if err != nil {
			_ = zw.Close()
			_ = out.Close()
			return 0, err
		}
		_, copyErr := io.Copy(w, f)
		_ = f.Close()
		if copyErr != nil {
			_ = zw.Close()
			_ = out.Close()
			return 0, copyErr
		}
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	info, err := os.Stat(bundlePath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

const maxReportedFailures = 5

func aggregateFailures(failures []imageFailure) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("no images passed validation (%d failed)", len(failures)))
	limit := len(failures)
	if limit > maxReportedFailures {
		limit = maxReportedFailures
	}
	for i := 0; i < limit; i++ {
		name := failures[i].ref.Filename
		if name == "" {
			name = failures[i].ref.ID
		}
		b.WriteString(fmt.Sprintf("; %s: %s", name, failures[i].reason))
	}
	if len(failures) > maxReportedFailures {
		b.WriteString(fmt.Sprintf("; and %d more", len(failures)-maxReportedFailures))
	}
	return b.String()
}

func failedArtifact(reason string) PackagedArtifact {
	return PackagedArtifact{Success: false, Error: reason}
}

func sanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '_', r == '.':
			return '-'
		default:
			return -1
		}
	}, strings.TrimSpace(name))
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "model"
	}
	return cleaned
}
