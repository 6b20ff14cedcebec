package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lumapix/lumapix-backend/internal/pkg/httpx"
	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/types"
)

func newTestClient(baseURL string) *client {
	return &client{
		log:        logger.NewNop(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   "test-token",
		version:    "trainer-v1",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestSubmitSendsTrainingRequest(t *testing.T) {
	var gotReq trainingRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/trainings" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "tr-123", "status": "queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	sub, err := c.Submit(context.Background(), SubmitSpec{
		ModelName:   "portrait",
		TriggerWord: "TOK",
		BundleURL:   "https://bundles/b.zip",
		Params:      types.TrainingParams{Steps: 1000, LearningRate: 0.0004, Rank: 16},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.ID != "tr-123" {
		t.Fatalf("id: want=tr-123 got=%s", sub.ID)
	}
	if sub.Status != StatusStarting {
		t.Fatalf("status: want=%s got=%s", StatusStarting, sub.Status)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("auth header: got=%q", gotAuth)
	}
	if gotReq.Version != "trainer-v1" {
		t.Fatalf("version: got=%q", gotReq.Version)
	}
	if gotReq.Input["input_images"] != "https://bundles/b.zip" {
		t.Fatalf("input_images: got=%v", gotReq.Input["input_images"])
	}
	if gotReq.Input["trigger_word"] != "TOK" {
		t.Fatalf("trigger_word: got=%v", gotReq.Input["trigger_word"])
	}
}

func TestSubmitRejectsEmptyBundleURL(t *testing.T) {
	c := newTestClient("http://unused.invalid")
	if _, err := c.Submit(context.Background(), SubmitSpec{ModelName: "portrait"}); err == nil {
		t.Fatalf("want error on empty bundle url")
	}
}

func TestSubmitSurfacesHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"detail": "insufficient credit"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Submit(context.Background(), SubmitSpec{BundleURL: "https://bundles/b.zip"})
	if err == nil {
		t.Fatalf("want error")
	}
	if code := httpx.StatusCodeOf(err); code != http.StatusPaymentRequired {
		t.Fatalf("status code: want=402 got=%d (%v)", code, err)
	}
}

func TestPollNormalizesStatusAndOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/trainings/tr-123" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"id": "tr-123",
			"status": "succeeded",
			"output": {"weights": "https://weights/w.safetensors"},
			"logs": "step 1000/1000"
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Poll(context.Background(), "tr-123")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Fatalf("status: want=%s got=%s", StatusSucceeded, result.Status)
	}
	if len(result.Output) != 1 || result.Output[0] != "https://weights/w.safetensors" {
		t.Fatalf("output: got=%v", result.Output)
	}
	if result.Logs != "step 1000/1000" {
		t.Fatalf("logs: got=%q", result.Logs)
	}
}

func TestPollSucceededWithBadOutputIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "tr-1", "status": "succeeded", "output": {"metrics": {}}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Poll(context.Background(), "tr-1")
	if err == nil {
		t.Fatalf("want error on succeeded run with unusable output")
	}
	if result == nil || result.Status != StatusSucceeded {
		t.Fatalf("partial result must still carry the status, got %+v", result)
	}
}

func TestPollIgnoresBadOutputWhileRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "tr-1", "status": "processing", "output": {"metrics": {}}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Poll(context.Background(), "tr-1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.Status != StatusProcessing || result.Output != nil {
		t.Fatalf("got %+v", result)
	}
}

func TestCancel(t *testing.T) {
	cancelled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/trainings/tr-1/cancel" {
			cancelled = true
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if !c.Cancel(context.Background(), "tr-1") {
		t.Fatalf("cancel should succeed")
	}
	if !cancelled {
		t.Fatalf("cancel endpoint not called")
	}
	if c.Cancel(context.Background(), "") {
		t.Fatalf("cancel with empty id should fail")
	}
}

func TestNormalizeStatusAliases(t *testing.T) {
	cases := map[string]string{
		"queued":     StatusStarting,
		"pending":    StatusStarting,
		"running":    StatusProcessing,
		"processing": StatusProcessing,
		"succeeded":  StatusSucceeded,
		"FAILED":     StatusFailed,
		"cancelled":  StatusCanceled,
		"canceled":   StatusCanceled,
		"weird":      StatusStarting,
	}
	for in, want := range cases {
		if got := normalizeStatus(in); got != want {
			t.Fatalf("normalizeStatus(%q): want=%s got=%s", in, want, got)
		}
	}
}
