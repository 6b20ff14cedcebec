package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lumapix/lumapix-backend/internal/pkg/httpx"
	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
)

type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "NETWORK"
	CategoryAuth       ErrorCategory = "AUTH"
	CategoryValidation ErrorCategory = "VALIDATION"
	CategoryRateLimit  ErrorCategory = "RATE_LIMIT"
	CategoryService    ErrorCategory = "SERVICE"
	CategoryFile       ErrorCategory = "FILE"
	CategoryTimeout    ErrorCategory = "TIMEOUT"
	CategoryUnknown    ErrorCategory = "UNKNOWN"
)

// TrainingError is a categorized fault recorded during a pipeline run.
type TrainingError struct {
	Stage     string         `json:"stage"`
	Category  ErrorCategory  `json:"category"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

type logEntry struct {
	Level   string         `json:"level"`
	Stage   string         `json:"stage"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// DiagnosticsSummary is a point-in-time view of one recorder.
type DiagnosticsSummary struct {
	CurrentStage    string                   `json:"current_stage"`
	TotalErrors     int                      `json:"total_errors"`
	RetryableErrors int                      `json:"retryable_errors"`
	LastError       *TrainingError           `json:"last_error,omitempty"`
	StageTimings    map[string]time.Duration `json:"stage_timings"`
	RecentLogs      []logEntry               `json:"recent_logs"`
}

const (
	maxBufferedLogs   = 200
	summaryRecentLogs = 10
)

// DiagnosticRecorder collects per-run stage timings and categorized errors.
// It only logs and buffers; it never fails a pipeline itself.
type DiagnosticRecorder struct {
	log   *logger.Logger
	runID string

	mu           sync.Mutex
	currentStage string
	stageStarts  map[string]time.Time
	stageTimings map[string]time.Duration
	errors       []TrainingError
	logs         []logEntry
}

func NewDiagnosticRecorder(log *logger.Logger, runID string) *DiagnosticRecorder {
	return &DiagnosticRecorder{
		log:          log.With("service", "DiagnosticRecorder", "run_id", runID),
		runID:        runID,
		stageStarts:  map[string]time.Time{},
		stageTimings: map[string]time.Duration{},
	}
}

func (r *DiagnosticRecorder) StartStage(stage, msg string) {
	r.mu.Lock()
	r.currentStage = stage
	r.stageStarts[stage] = time.Now()
	r.appendLogLocked("info", stage, msg, nil)
	r.mu.Unlock()
	r.log.Info(msg, "stage", stage)
}

func (r *DiagnosticRecorder) EndStage(stage, msg string) {
	r.mu.Lock()
	if start, ok := r.stageStarts[stage]; ok {
		r.stageTimings[stage] = time.Since(start)
		delete(r.stageStarts, stage)
	}
	elapsed := r.stageTimings[stage]
	r.appendLogLocked("info", stage, msg, map[string]any{"elapsed": elapsed.String()})
	r.mu.Unlock()
	r.log.Info(msg, "stage", stage, "elapsed", elapsed.String())
}

func (r *DiagnosticRecorder) Log(level, stage, msg string, data map[string]any) {
	r.mu.Lock()
	r.appendLogLocked(level, stage, msg, data)
	r.mu.Unlock()
	switch strings.ToLower(level) {
	case "debug":
		r.log.Debug(msg, "stage", stage)
	case "warn":
		r.log.Warn(msg, "stage", stage)
	case "error":
		r.log.Error(msg, "stage", stage)
	default:
		r.log.Info(msg, "stage", stage)
	}
}

// LogError categorizes err, records it, and returns the categorized form.
// A nil err yields a nil result and records nothing.
func (r *DiagnosticRecorder) LogError(stage string, err error, msg string, errCtx map[string]any) *TrainingError {
	if err == nil {
		return nil
	}
	category := Categorize(err)
	te := TrainingError{
		Stage:     stage,
		Category:  category,
		Message:   err.Error(),
		Retryable: IsRetryableCategory(category, httpx.StatusCodeOf(err)),
		Timestamp: time.Now().UTC(),
		Context:   errCtx,
	}
	r.mu.Lock()
	r.errors = append(r.errors, te)
	r.appendLogLocked("error", stage, err.Error(), errCtx)
	r.mu.Unlock()

	if msg == "" {
		msg = "Stage error"
	}
	r.log.Error(msg,
		"stage", stage,
		"category", string(category),
		"retryable", te.Retryable,
		"error", err.Error(),
	)
	return &te
}

func (r *DiagnosticRecorder) Summary() DiagnosticsSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	timings := make(map[string]time.Duration, len(r.stageTimings))
	for k, v := range r.stageTimings {
		timings[k] = v
	}
	retryable := 0
	for _, e := range r.errors {
		if e.Retryable {
			retryable++
		}
	}
	var last *TrainingError
	if n := len(r.errors); n > 0 {
		e := r.errors[n-1]
		last = &e
	}
	recent := r.logs
	if len(recent) > summaryRecentLogs {
		recent = recent[len(recent)-summaryRecentLogs:]
	}
	recentCopy := make([]logEntry, len(recent))
	copy(recentCopy, recent)

	return DiagnosticsSummary{
		CurrentStage:    r.currentStage,
		TotalErrors:     len(r.errors),
		RetryableErrors: retryable,
		LastError:       last,
		StageTimings:    timings,
		RecentLogs:      recentCopy,
	}
}

func (r *DiagnosticRecorder) appendLogLocked(level, stage, msg string, data map[string]any) {
	r.logs = append(r.logs, logEntry{
		Level:   level,
		Stage:   stage,
		Message: msg,
		Data:    data,
		At:      time.Now().UTC(),
	})
	if len(r.logs) > maxBufferedLogs {
		r.logs = r.logs[len(r.logs)-maxBufferedLogs:]
	}
}

// Categorize infers an error category from the message text and any carried
// HTTP status. Checks run in a fixed order; the first match wins.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	msg := strings.ToLower(err.Error())
	code := httpx.StatusCodeOf(err)

	switch {
	case containsAny(msg, "connection refused", "connection reset", "no such host", "dial tcp", "broken pipe", "econnreset", "network is unreachable"):
		return CategoryNetwork
	case code == 401 || code == 403 || containsAny(msg, "unauthorized", "forbidden", "invalid token", "authentication failed", "api key"):
		return CategoryAuth
	case code == 429 || containsAny(msg, "rate limit", "too many requests", "quota exceeded"):
		return CategoryRateLimit
	case code == 400 || code == 422 || containsAny(msg, "validation", "invalid input", "unprocessable", "bad request"):
		return CategoryValidation
	case containsAny(msg, "no such file", "file too large", "unsupported format", "unsupported image", "decode image", "permission denied", "disk"):
		return CategoryFile
	case code == 408 || errors.Is(err, context.DeadlineExceeded) || containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return CategoryTimeout
	case code >= 500 || containsAny(msg, "internal server error", "service unavailable", "bad gateway", "server error"):
		return CategoryService
	default:
		return CategoryUnknown
	}
}

// IsRetryableCategory is pure in the category, except SERVICE which consults
// the carried status code: retryable only when >=500 or absent.
func IsRetryableCategory(category ErrorCategory, statusCode int) bool {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit:
		return true
	case CategoryService:
		return statusCode == 0 || statusCode >= 500
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
