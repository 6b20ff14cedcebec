package replicate

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

	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/types"
)

// Training statuses as reported by the provider.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// SubmitSpec describes one training job submission.
type SubmitSpec struct {
	ModelName   string
	TriggerWord string
	BundleURL   string
	Params      types.TrainingParams
}

// Submission is the provider's acknowledgement of a new training job.
type Submission struct {
	ID     string
	Status string
}

// PollResult is one poll of a running or finished training job. Output holds
// the normalized weight URLs when the provider reported any.
type PollResult struct {
	ID     string
	Status string
	Output []string
	Error  string
	Logs   string
}

// Client is the training provider API. It performs no retries: submission
// creates a paid job and is not idempotent, so retry policy belongs to the
// caller.
type Client interface {
	Submit(ctx context.Context, spec SubmitSpec) (*Submission, error)
	Poll(ctx context.Context, id string) (*PollResult, error)
	Cancel(ctx context.Context, id string) bool
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiToken   string
	version    string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiToken := strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN"))
	if apiToken == "" {
		return nil, fmt.Errorf("missing REPLICATE_API_TOKEN")
	}

	baseURL := strings.TrimSpace(os.Getenv("REPLICATE_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.replicate.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	version := strings.TrimSpace(os.Getenv("REPLICATE_TRAINER_VERSION"))
	if version == "" {
		return nil, fmt.Errorf("missing REPLICATE_TRAINER_VERSION")
	}

	timeoutSec := 60
	if v := os.Getenv("REPLICATE_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &client{
		log:        log.With("client", "ReplicateClient"),
		baseURL:    baseURL,
		apiToken:   apiToken,
		version:    version,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

type replicateHTTPError struct {
	StatusCode int
	Body       string
}

func (e *replicateHTTPError) Error() string {
	return fmt.Sprintf("replicate http %d: %s", e.StatusCode, e.Body)
}

func (e *replicateHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
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
		return &replicateHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("replicate decode error: %w; raw=%s", uErr, string(raw))
	}
	return nil
}

type trainingResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	Logs   string          `json:"logs"`
}

type trainingRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

func (c *client) Submit(ctx context.Context, spec SubmitSpec) (*Submission, error) {
	if strings.TrimSpace(spec.BundleURL) == "" {
		return nil, fmt.Errorf("submit: missing bundle url")
	}
	req := trainingRequest{
		Version: c.version,
		Input: map[string]any{
			"input_images":  spec.BundleURL,
			"trigger_word":  spec.TriggerWord,
			"steps":         spec.Params.Steps,
			"learning_rate": spec.Params.LearningRate,
			"lora_rank":     spec.Params.Rank,
		},
	}
	var resp trainingResponse
	if err := c.do(ctx, http.MethodPost, "/v1/trainings", req, &resp); err != nil {
		return nil, fmt.Errorf("submit training: %w", err)
	}
	if strings.TrimSpace(resp.ID) == "" {
		return nil, fmt.Errorf("submit training: provider returned no id")
	}
	c.log.Info("Training submitted", "training_id", resp.ID, "model_name", spec.ModelName)
	return &Submission{ID: resp.ID, Status: normalizeStatus(resp.Status)}, nil
}

func (c *client) Poll(ctx context.Context, id string) (*PollResult, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("poll: missing training id")
	}
	var resp trainingResponse
	if err := c.do(ctx, http.MethodGet, "/v1/trainings/"+id, nil, &resp); err != nil {
		return nil, fmt.Errorf("poll training %s: %w", id, err)
	}

	result := &PollResult{
		ID:     resp.ID,
		Status: normalizeStatus(resp.Status),
		Error:  resp.Error,
		Logs:   resp.Logs,
	}
	if len(resp.Output) > 0 && string(resp.Output) != "null" {
		urls, err := NormalizeOutput(resp.Output)
		if err != nil {
			if result.Status == StatusSucceeded {
				return result, fmt.Errorf("poll training %s: %w", id, err)
			}
			c.log.Debug("Ignoring unparseable output on non-terminal poll", "training_id", id, "error", err)
		} else {
			result.Output = urls
		}
	}
	return result, nil
}

func (c *client) Cancel(ctx context.Context, id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	if err := c.do(ctx, http.MethodPost, "/v1/trainings/"+id+"/cancel", nil, nil); err != nil {
		c.log.Warn("Cancel training failed", "training_id", id, "error", err)
		return false
	}
	return true
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusStarting, "queued", "pending":
		return StatusStarting
	case StatusProcessing, "running":
		return StatusProcessing
	case StatusSucceeded:
		return StatusSucceeded
	case StatusFailed:
		return StatusFailed
	case StatusCanceled, "cancelled":
		return StatusCanceled
	default:
		return StatusStarting
	}
}
