package services

import (
	"github.com/lumapix/lumapix-backend/internal/clients/replicate"
	"github.com/lumapix/lumapix-backend/internal/types"
)

// ResolveStatus merges the three independently-maintained views of one run
// into the canonical, caller-visible status. It is a pure function of its
// snapshot: no I/O, no clock, no hidden state, so two concurrent calls over
// the same snapshot always agree.
//
// Precedence, highest confidence first:
//  1. model record publish-ready with a repo id        -> completed
//  2. provider succeeded, no repo id yet               -> publishing (publish needed)
//  3. provider succeeded, repo id set, not ready yet   -> publishing (in flight)
//  4. provider failed or canceled                      -> failed
//  5. provider processing                              -> training
//  6. anything else, including an all-absent snapshot  -> starting
//
// The durable application-owned model record outranks the live provider
// status; absence of both is treated as normal startup latency, not an error.
func ResolveStatus(id string, src types.StatusSources) types.CanonicalStatus {
	out := types.CanonicalStatus{
		ID:      id,
		Sources: src,
	}

	model := src.ModelRecord
	provider := src.ProviderStatus

	if provider != nil {
		out.Logs = provider.Logs
	}
	if model != nil {
		out.PublishedRepoID = model.PublishedRepoID
	}

	switch {
	case model != nil && model.IsPublishReady && model.PublishedRepoID != "":
		out.Status = types.RunStatusCompleted
		out.Progress = 100
		out.Stage = "Model published and ready"

	case provider != nil && provider.Status == replicate.StatusSucceeded && (model == nil || model.PublishedRepoID == ""):
		out.Status = types.RunStatusPublishing
		out.Progress = 90
		out.Stage = "Training finished, publishing model"
		out.NeedsPublish = true
		out.CanRetryPublish = true

	case provider != nil && provider.Status == replicate.StatusSucceeded && model != nil && model.PublishedRepoID != "" && !model.IsPublishReady:
		out.Status = types.RunStatusPublishing
		out.Progress = 95
		out.Stage = "Publish in flight, waiting for model to become ready"

	case provider != nil && (provider.Status == replicate.StatusFailed || provider.Status == replicate.StatusCanceled):
		out.Status = types.RunStatusFailed
		out.Progress = 0
		out.Stage = "Training failed"
		out.Error = provider.Error
		if out.Error == "" && src.JobRecord != nil {
			out.Error = src.JobRecord.ErrorMessage
		}

	case provider != nil && provider.Status == replicate.StatusProcessing:
		out.Status = types.RunStatusTraining
		out.Progress = 40
		out.Stage = "Training model"

	default:
		out.Status = types.RunStatusStarting
		out.Progress = 10
		out.Stage = "Preparing training job"
	}

	return out
}
