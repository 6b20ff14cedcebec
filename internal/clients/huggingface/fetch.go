package huggingface

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/lumapix/lumapix-backend/internal/pkg/httpx"
)

// Artifact downloads are held in memory before upload; LoRA weights are tens
// of megabytes, so cap well above that but below anything pathological.
const maxArtifactBytes = 2 << 30

var singleFileSuffixes = []string{".safetensors", ".bin", ".pt", ".ckpt"}

func (c *client) FetchArtifact(ctx context.Context, artifactURL string) ([]RepoFile, error) {
	lower := strings.ToLower(artifactURL)
	if i := strings.Index(lower, "?"); i >= 0 {
		lower = lower[:i]
	}

	switch {
	case hasAnySuffix(lower, singleFileSuffixes):
		data, err := c.downloadBytes(ctx, artifactURL)
		if err != nil {
			return nil, fmt.Errorf("fetch artifact: %w", err)
		}
		return []RepoFile{{Path: path.Base(lower), Content: data}}, nil
	case strings.HasSuffix(lower, ".zip"):
		data, err := c.downloadBytes(ctx, artifactURL)
		if err != nil {
			return nil, fmt.Errorf("fetch artifact: %w", err)
		}
		return extractZip(data)
	case strings.HasSuffix(lower, ".tar"):
		data, err := c.downloadBytes(ctx, artifactURL)
		if err != nil {
			return nil, fmt.Errorf("fetch artifact: %w", err)
		}
		return extractTar(bytes.NewReader(data))
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		data, err := c.downloadBytes(ctx, artifactURL)
		if err != nil {
			return nil, fmt.Errorf("fetch artifact: %w", err)
		}
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("fetch artifact: open gzip: %w", err)
		}
		defer gz.Close()
		return extractTar(gz)
	default:
		return nil, fmt.Errorf("fetch artifact: unsupported artifact url suffix: %s", path.Base(lower))
	}
}

func (c *client) downloadBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpx.StatusError{StatusCode: resp.StatusCode, Message: "artifact download failed"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArtifactBytes {
		return nil, fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("artifact is empty")
	}
	return data, nil
}

func extractZip(data []byte) ([]RepoFile, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	var files []RepoFile
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArtifactBytes))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip entry %s: %w", f.Name, err)
		}
		files = append(files, RepoFile{Path: safeEntryPath(f.Name), Content: content})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("zip bundle holds no files")
	}
	return files, nil
}

func extractTar(r io.Reader) ([]RepoFile, error) {
	tr := tar.NewReader(r)
	var files []RepoFile
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(tr, maxArtifactBytes))
		if err != nil {
			return nil, fmt.Errorf("read tar entry %s: %w", hdr.Name, err)
		}
		files = append(files, RepoFile{Path: safeEntryPath(hdr.Name), Content: content})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("tar bundle holds no files")
	}
	return files, nil
}

// safeEntryPath flattens traversal attempts out of archive entry names.
func safeEntryPath(name string) string {
	cleaned := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	for strings.HasPrefix(cleaned, "../") {
		cleaned = strings.TrimPrefix(cleaned, "../")
	}
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "artifact.bin"
	}
	return cleaned
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
