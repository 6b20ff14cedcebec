package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/lumapix/lumapix-backend/internal/pkg/errors"
	"github.com/lumapix/lumapix-backend/internal/pkg/httpx"
	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
)

// ErrRepoNameTaken signals that the provider refused a publish because the
// repository name is already claimed. Callers decide the retry policy.
var ErrRepoNameTaken = fmt.Errorf("model repo name already taken: %w", apperrors.ErrConflict)

// RepoFile is one file staged for publishing.
type RepoFile struct {
	Path    string
	Content []byte
}

// Readiness reports whether a published repo exists and is servable.
type Readiness struct {
	Exists bool
	Ready  bool
}

type CreateRepoOptions struct {
	Private bool
	License string
}

// Client is the model hosting provider API.
type Client interface {
	// CreateRepo creates a model repository. An already-existing repo is
	// success: repos are legitimately recreated across publish retries.
	CreateRepo(ctx context.Context, repoID string, opts CreateRepoOptions) error
	// FetchArtifact downloads trained weights from the training provider's
	// output URL, extracting bundles into individual files.
	FetchArtifact(ctx context.Context, artifactURL string) ([]RepoFile, error)
	PublishFiles(ctx context.Context, repoID string, files []RepoFile) error
	GetReadiness(ctx context.Context, repoID string) (*Readiness, error)
	DeleteRepo(ctx context.Context, repoID string) error
	ListRepos(ctx context.Context) ([]string, error)
	Owner() string
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiToken   string
	owner      string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiToken := strings.TrimSpace(os.Getenv("HF_API_TOKEN"))
	if apiToken == "" {
		return nil, fmt.Errorf("missing HF_API_TOKEN")
	}
	owner := strings.TrimSpace(os.Getenv("HF_OWNER"))
	if owner == "" {
		return nil, fmt.Errorf("missing HF_OWNER")
	}

	baseURL := strings.TrimSpace(os.Getenv("HF_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://huggingface.co"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 120
	if v := os.Getenv("HF_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &client{
		log:        log.With("client", "HuggingFaceClient"),
		baseURL:    baseURL,
		apiToken:   apiToken,
		owner:      owner,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

func (c *client) Owner() string { return c.owner }

func (c *client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpx.StatusError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *client) CreateRepo(ctx context.Context, repoID string, opts CreateRepoOptions) error {
	name := repoName(repoID)
	body := map[string]any{
		"type":    "model",
		"name":    name,
		"private": opts.Private,
	}
	if opts.License != "" {
		body["license"] = opts.License
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/repos/create", body, nil)
	if err == nil {
		return nil
	}
	if httpx.StatusCodeOf(err) == http.StatusConflict {
		c.log.Debug("Model repo already exists, treating as created", "repo_id", repoID)
		return nil
	}
	return fmt.Errorf("create repo %s: %w", repoID, err)
}

func (c *client) PublishFiles(ctx context.Context, repoID string, files []RepoFile) error {
	if len(files) == 0 {
		return fmt.Errorf("publish %s: no files to upload", repoID)
	}
	for _, f := range files {
		if err := c.uploadFile(ctx, repoID, f); err != nil {
			if isNameTaken(err) {
				return fmt.Errorf("publish %s: %w", repoID, ErrRepoNameTaken)
			}
			return fmt.Errorf("publish %s: upload %s: %w", repoID, f.Path, err)
		}
	}
	return nil
}

func (c *client) uploadFile(ctx context.Context, repoID string, f RepoFile) error {
	path := fmt.Sprintf("/api/models/%s/upload/main/%s", repoID, strings.TrimLeft(f.Path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(f.Content))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpx.StatusError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	return nil
}

type modelInfoResponse struct {
	ID       string `json:"id"`
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

func (c *client) GetReadiness(ctx context.Context, repoID string) (*Readiness, error) {
	var info modelInfoResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/models/"+repoID, nil, &info)
	if err != nil {
		if httpx.StatusCodeOf(err) == http.StatusNotFound {
			return &Readiness{Exists: false, Ready: false}, nil
		}
		return nil, fmt.Errorf("get readiness %s: %w", repoID, err)
	}
	ready := false
	for _, s := range info.Siblings {
		if strings.HasSuffix(s.RFilename, ".safetensors") || strings.HasSuffix(s.RFilename, ".bin") {
			ready = true
			break
		}
	}
	return &Readiness{Exists: true, Ready: ready}, nil
}

func (c *client) DeleteRepo(ctx context.Context, repoID string) error {
	body := map[string]any{
		"type": "model",
		"name": repoName(repoID),
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/repos/delete", body, nil); err != nil {
		if httpx.StatusCodeOf(err) == http.StatusNotFound {
			return fmt.Errorf("delete repo %s: %w", repoID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("delete repo %s: %w", repoID, err)
	}
	return nil
}

type listModelsItem struct {
	ID string `json:"id"`
}

func (c *client) ListRepos(ctx context.Context) ([]string, error) {
	var items []listModelsItem
	if err := c.doJSON(ctx, http.MethodGet, "/api/models?author="+c.owner, nil, &items); err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out, nil
}

func repoName(repoID string) string {
	if i := strings.LastIndex(repoID, "/"); i >= 0 {
		return repoID[i+1:]
	}
	return repoID
}

func isNameTaken(err error) bool {
	if httpx.StatusCodeOf(err) == http.StatusConflict {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already created") || strings.Contains(msg, "already exists")
}
