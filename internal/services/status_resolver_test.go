package services

import (
	"reflect"
	"testing"
	"time"

	"github.com/lumapix/lumapix-backend/internal/types"
)

func TestResolveStatusPrecedence(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name         string
		sources      types.StatusSources
		wantStatus   string
		wantProgress int
		wantPublish  bool
		wantError    string
	}{
		{
			name: "publish-ready model record wins",
			sources: types.StatusSources{
				ModelRecord: &types.ModelRecordView{
					Status:          types.TrainedModelStatusPublished,
					PublishedRepoID: "acme/portrait-lora",
					IsPublishReady:  true,
					CompletedAt:     &now,
				},
				ProviderStatus: &types.ProviderStatusView{Status: "succeeded"},
			},
			wantStatus:   types.RunStatusCompleted,
			wantProgress: 100,
		},
		{
			name: "model record wins over contradictory provider status",
			sources: types.StatusSources{
				ModelRecord: &types.ModelRecordView{
					PublishedRepoID: "acme/portrait-lora",
					IsPublishReady:  true,
				},
				ProviderStatus: &types.ProviderStatusView{Status: "processing"},
			},
			wantStatus:   types.RunStatusCompleted,
			wantProgress: 100,
		},
		{
			name: "succeeded with no repo id needs publish",
			sources: types.StatusSources{
				JobRecord:      &types.JobRecordView{Status: types.JobStatusRunning},
				ProviderStatus: &types.ProviderStatusView{Status: "succeeded"},
			},
			wantStatus:   types.RunStatusPublishing,
			wantProgress: 90,
			wantPublish:  true,
		},
		{
			name: "succeeded with repo id but not ready is publish in flight",
			sources: types.StatusSources{
				ProviderStatus: &types.ProviderStatusView{Status: "succeeded"},
				ModelRecord: &types.ModelRecordView{
					PublishedRepoID: "acme/portrait-lora",
					IsPublishReady:  false,
				},
			},
			wantStatus:   types.RunStatusPublishing,
			wantProgress: 95,
		},
		{
			name: "provider failure copies the provider error",
			sources: types.StatusSources{
				ProviderStatus: &types.ProviderStatusView{Status: "failed", Error: "GPU capacity exceeded"},
			},
			wantStatus:   types.RunStatusFailed,
			wantProgress: 0,
			wantError:    "GPU capacity exceeded",
		},
		{
			name: "canceled counts as failed",
			sources: types.StatusSources{
				ProviderStatus: &types.ProviderStatusView{Status: "canceled"},
			},
			wantStatus:   types.RunStatusFailed,
			wantProgress: 0,
		},
		{
			name: "processing maps to training",
			sources: types.StatusSources{
				ProviderStatus: &types.ProviderStatusView{Status: "processing"},
			},
			wantStatus:   types.RunStatusTraining,
			wantProgress: 40,
		},
		{
			name:         "all-absent snapshot defaults to starting",
			sources:      types.StatusSources{},
			wantStatus:   types.RunStatusStarting,
			wantProgress: 10,
		},
		{
			name: "provider starting defaults to starting",
			sources: types.StatusSources{
				JobRecord:      &types.JobRecordView{Status: types.JobStatusRunning},
				ProviderStatus: &types.ProviderStatusView{Status: "starting"},
			},
			wantStatus:   types.RunStatusStarting,
			wantProgress: 10,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveStatus("run-1", tc.sources)
			if got.Status != tc.wantStatus {
				t.Fatalf("status: want=%q got=%q", tc.wantStatus, got.Status)
			}
			if got.Progress != tc.wantProgress {
				t.Fatalf("progress: want=%d got=%d", tc.wantProgress, got.Progress)
			}
			if got.NeedsPublish != tc.wantPublish {
				t.Fatalf("needs_publish: want=%v got=%v", tc.wantPublish, got.NeedsPublish)
			}
			if tc.wantError != "" && got.Error != tc.wantError {
				t.Fatalf("error: want=%q got=%q", tc.wantError, got.Error)
			}
			if got.Stage == "" {
				t.Fatalf("stage must never be empty")
			}
			if got.ID != "run-1" {
				t.Fatalf("id: want=%q got=%q", "run-1", got.ID)
			}
		})
	}
}

func TestResolveStatusDeterminism(t *testing.T) {
	sources := types.StatusSources{
		JobRecord:      &types.JobRecordView{Status: types.JobStatusRunning},
		ProviderStatus: &types.ProviderStatusView{Status: "succeeded", Logs: "step 1000/1000"},
	}
	first := ResolveStatus("run-7", sources)
	for i := 0; i < 50; i++ {
		got := ResolveStatus("run-7", sources)
		if !reflect.DeepEqual(first, got) {
			t.Fatalf("resolve not deterministic on call %d: first=%+v got=%+v", i, first, got)
		}
	}
}

func TestResolveStatusCarriesRepoIDAndLogs(t *testing.T) {
	got := ResolveStatus("run-2", types.StatusSources{
		ProviderStatus: &types.ProviderStatusView{Status: "succeeded", Logs: "flux lora ready"},
		ModelRecord: &types.ModelRecordView{
			PublishedRepoID: "acme/x",
			IsPublishReady:  false,
		},
	})
	if got.PublishedRepoID != "acme/x" {
		t.Fatalf("published_repo_id: want=%q got=%q", "acme/x", got.PublishedRepoID)
	}
	if got.Logs != "flux lora ready" {
		t.Fatalf("logs: want=%q got=%q", "flux lora ready", got.Logs)
	}
}
