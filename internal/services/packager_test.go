package services

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/platform/gcs"
	"github.com/lumapix/lumapix-backend/internal/types"
)

type fakeBucket struct {
	uploadedKey  string
	uploadedSize int64
	uploadedTTL  time.Duration
	uploadErr    error
}

func (f *fakeBucket) UploadBundle(ctx context.Context, key string, bundle io.Reader, ttl time.Duration) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	n, err := io.Copy(io.Discard, bundle)
	if err != nil {
		return "", err
	}
	f.uploadedKey = key
	f.uploadedSize = n
	f.uploadedTTL = ttl
	return "https://storage.example.com/" + key, nil
}

func (f *fakeBucket) DeleteObject(ctx context.Context, key string) error { return nil }

func (f *fakeBucket) GetObjectAttrs(ctx context.Context, key string) (*gcs.ObjectAttrs, error) {
	return nil, nil
}

func (f *fakeBucket) SignedURL(key string, expires time.Duration) (string, error) { return "", nil }

func (f *fakeBucket) PublicURL(key string) string { return "" }

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y += 64 {
		for x := 0; x < width; x += 64 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newImageServer(t *testing.T, payloads map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := payloads[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPackager(bucket gcs.BucketService) PackagerService {
	return &packagerService{
		log:        logger.NewNop(),
		bucket:     bucket,
		httpClient: &http.Client{Timeout: downloadTimeout},
		bundleTTL:  24 * time.Hour,
	}
}

func TestPackageBundlesValidImages(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/a.jpg": encodeTestJPEG(t, 512, 512),
		"/b.png": encodeTestPNG(t, 1024, 768),
	})
	bucket := &fakeBucket{}
	svc := newTestPackager(bucket)

	artifact := svc.Package(context.Background(), "My Portrait Model", []types.ImageRef{
		{ID: "1", Filename: "a.jpg", URL: srv.URL + "/a.jpg"},
		{ID: "2", Filename: "b.png", URL: srv.URL + "/b.png"},
	}, nil)

	if !artifact.Success {
		t.Fatalf("package failed: %s", artifact.Error)
	}
	if artifact.ImageCount != 2 {
		t.Fatalf("image count: want=2 got=%d", artifact.ImageCount)
	}
	if !strings.HasPrefix(artifact.BundleFilename, "my-portrait-model-") || !strings.HasSuffix(artifact.BundleFilename, ".zip") {
		t.Fatalf("bundle filename: got=%s", artifact.BundleFilename)
	}
	if artifact.BundleURL != "https://storage.example.com/"+artifact.BundleFilename {
		t.Fatalf("bundle url: got=%s", artifact.BundleURL)
	}
	if bucket.uploadedTTL != 24*time.Hour {
		t.Fatalf("bundle ttl: want=24h got=%v", bucket.uploadedTTL)
	}
	if bucket.uploadedSize != artifact.TotalSize {
		t.Fatalf("uploaded size: want=%d got=%d", artifact.TotalSize, bucket.uploadedSize)
	}
}

func TestPackageSkipsBadImagesInsteadOfFailing(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/good.jpg":  encodeTestJPEG(t, 600, 600),
		"/small.jpg": encodeTestJPEG(t, 100, 100),
		"/junk.jpg":  []byte("not an image at all"),
	})
	svc := newTestPackager(&fakeBucket{})

	artifact := svc.Package(context.Background(), "portrait", []types.ImageRef{
		{ID: "1", Filename: "good.jpg", URL: srv.URL + "/good.jpg"},
		{ID: "2", Filename: "small.jpg", URL: srv.URL + "/small.jpg"},
		{ID: "3", Filename: "junk.jpg", URL: srv.URL + "/junk.jpg"},
	}, nil)

	if !artifact.Success {
		t.Fatalf("package failed: %s", artifact.Error)
	}
	if artifact.ImageCount != 1 {
		t.Fatalf("image count: want=1 got=%d", artifact.ImageCount)
	}
}

func TestPackageFailsWhenNoImageSurvives(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/junk1.jpg": []byte("garbage"),
		"/tiny.png":  encodeTestPNG(t, 32, 32),
	})
	svc := newTestPackager(&fakeBucket{})

	artifact := svc.Package(context.Background(), "portrait", []types.ImageRef{
		{ID: "1", Filename: "junk1.jpg", URL: srv.URL + "/junk1.jpg"},
		{ID: "2", Filename: "tiny.png", URL: srv.URL + "/tiny.png"},
	}, nil)

	if artifact.Success {
		t.Fatalf("expected failure when nothing survives")
	}
	if !strings.Contains(artifact.Error, "no images passed validation (2 failed)") {
		t.Fatalf("aggregate error: got=%q", artifact.Error)
	}
	if !strings.Contains(artifact.Error, "junk1.jpg") || !strings.Contains(artifact.Error, "tiny.png") {
		t.Fatalf("aggregate error must name the failed files: got=%q", artifact.Error)
	}
}

func TestPackageFailsOnEmptyInput(t *testing.T) {
	svc := newTestPackager(&fakeBucket{})
	artifact := svc.Package(context.Background(), "portrait", nil, nil)
	if artifact.Success {
		t.Fatalf("expected failure on empty input")
	}
}

func TestPackageReportsUploadFailure(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{
		"/a.jpg": encodeTestJPEG(t, 512, 512),
	})
	svc := newTestPackager(&fakeBucket{uploadErr: io.ErrUnexpectedEOF})

	artifact := svc.Package(context.Background(), "portrait", []types.ImageRef{
		{ID: "1", Filename: "a.jpg", URL: srv.URL + "/a.jpg"},
	}, nil)

	if artifact.Success {
		t.Fatalf("expected failure on upload error")
	}
	if !strings.Contains(artifact.Error, "upload bundle") {
		t.Fatalf("upload error: got=%q", artifact.Error)
	}
}

func TestWriteZipBundleLayout(t *testing.T) {
	dir := t.TempDir()
	var prepared []preparedImage
	for i, body := range []string{"first", "second"} {
		name := "image_00" + string(rune('0'+i)) + ".jpg"
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write scratch file: %v", err)
		}
		prepared = append(prepared, preparedImage{filename: name, path: path, size: int64(len(body))})
	}

	bundlePath := filepath.Join(dir, "bundle.zip")
	size, err := writeZipBundle(bundlePath, prepared)
	if err != nil {
		t.Fatalf("writeZipBundle: %v", err)
	}
	if size <= 0 {
		t.Fatalf("bundle size: want>0 got=%d", size)
	}

	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 2 {
		t.Fatalf("entries: want=2 got=%d", len(zr.File))
	}
	for i, entry := range zr.File {
		if entry.Name != prepared[i].filename {
			t.Fatalf("entry %d: want=%s got=%s", i, prepared[i].filename, entry.Name)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Portrait Model", "my-portrait-model"},
		{"  spaced  ", "spaced"},
		{"weird/../chars!!", "weird--chars"},
		{"___", "model"},
		{"", "model"},
	}
	for _, c := range cases {
		if got := sanitizeName(c.in); got != c.want {
			t.Fatalf("sanitizeName(%q): want=%q got=%q", c.in, c.want, got)
		}
	}
}

func TestAggregateFailuresCapsReportedReasons(t *testing.T) {
	var failures []imageFailure
	for i := 0; i < 8; i++ {
		failures = append(failures, imageFailure{
			ref:    types.ImageRef{Filename: "f" + string(rune('0'+i)) + ".jpg"},
			reason: "unsupported format",
		})
	}
	msg := aggregateFailures(failures)
	if !strings.Contains(msg, "no images passed validation (8 failed)") {
		t.Fatalf("aggregate header: got=%q", msg)
	}
	if !strings.Contains(msg, "and 3 more") {
		t.Fatalf("expected capped tail, got=%q", msg)
	}
	if strings.Count(msg, "unsupported format") != maxReportedFailures {
		t.Fatalf("reported reasons: want=%d got=%d", maxReportedFailures, strings.Count(msg, "unsupported format"))
	}
}
