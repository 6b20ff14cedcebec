package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/lumapix/lumapix-backend/internal/clients/huggingface"
	redisbus "github.com/lumapix/lumapix-backend/internal/clients/redis"
	"github.com/lumapix/lumapix-backend/internal/clients/replicate"
	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/repos"
	"github.com/lumapix/lumapix-backend/internal/types"
)

// StartSpec is one training request. Params left zero are filled from the
// preset (or the default preset when Preset is empty).
type StartSpec struct {
	ModelName   string               `json:"model_name"`
	TriggerWord string               `json:"trigger_word"`
	Images      []types.ImageRef     `json:"images"`
	Preset      string               `json:"preset,omitempty"`
	Params      types.TrainingParams `json:"params"`
}

// TrainingPipelineService drives the train-then-publish pipeline. Progress
// happens only when a caller polls; there is no background scheduler.
type TrainingPipelineService interface {
	Start(ctx context.Context, spec StartSpec) types.CanonicalStatus
	GetStatus(ctx context.Context, id, modelName string, allowPublish bool) types.CanonicalStatus
	TriggerPublish(ctx context.Context, id, modelName string) types.CanonicalStatus
	Cancel(ctx context.Context, id string) bool
	Diagnostics(id string) *DiagnosticsSummary
}

type trainingPipelineService struct {
	db        *gorm.DB
	log       *logger.Logger
	packager  PackagerService
	trainer   replicate.Client
	publisher huggingface.Client
	jobRepo   repos.JobRunRepo
	modelRepo repos.TrainedModelRepo
	guard     PublishGuard
	bus       redisbus.StatusBus
	tracer    oteltrace.Tracer

	recMu     sync.Mutex
	recorders map[string]*DiagnosticRecorder
}

func NewTrainingPipelineService(
	db *gorm.DB,
	log *logger.Logger,
	packager PackagerService,
	trainer replicate.Client,
	publisher huggingface.Client,
	jobRepo repos.JobRunRepo,
	modelRepo repos.TrainedModelRepo,
	guard PublishGuard,
	bus redisbus.StatusBus,
) TrainingPipelineService {
	return &trainingPipelineService{
		db:        db,
		log:       log.With("service", "TrainingPipelineService"),
		packager:  packager,
		trainer:   trainer,
		publisher: publisher,
		jobRepo:   jobRepo,
		modelRepo: modelRepo,
		guard:     guard,
		bus:       bus,
		tracer:    otel.Tracer("github.com/lumapix/lumapix-backend/internal/services"),
		recorders: map[string]*DiagnosticRecorder{},
	}
}

func (s *trainingPipelineService) recorder(id string) *DiagnosticRecorder {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	if rec, ok := s.recorders[id]; ok {
		return rec
	}
	rec := NewDiagnosticRecorder(s.log, id)
	s.recorders[id] = rec
	return rec
}

// adoptRecorder re-keys a recorder created before the provider assigned the
// public run id.
func (s *trainingPipelineService) adoptRecorder(tempID, runID string) *DiagnosticRecorder {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	rec, ok := s.recorders[tempID]
	if !ok {
		rec = NewDiagnosticRecorder(s.log, runID)
	}
	delete(s.recorders, tempID)
	s.recorders[runID] = rec
	return rec
}

func (s *trainingPipelineService) Diagnostics(id string) *DiagnosticsSummary {
	s.recMu.Lock()
	rec, ok := s.recorders[id]
	s.recMu.Unlock()
	if !ok {
		return nil
	}
	summary := rec.Summary()
	return &summary
}

// Start packages the images and submits the training job. Packaging and
// submission failures are terminal: the caller must start a new run.
func (s *trainingPipelineService) Start(ctx context.Context, spec StartSpec) types.CanonicalStatus {
	ctx, span := s.tracer.Start(ctx, "pipeline.Start",
		oteltrace.WithAttributes(attribute.String("model_name", spec.ModelName)))
	defer span.End()

	tempID := "pending-" + uuid.NewString()
	rec := s.recorder(tempID)

	params := ApplyParamDefaults(spec.Params)
	if spec.Params == (types.TrainingParams{}) && spec.Preset != "" {
		params = ParamsPreset(spec.Preset)
	}
	if err := ValidateParams(params); err != nil {
		rec.LogError("validation", err, "Invalid training params", nil)
		return s.failedStatus(tempID, fmt.Sprintf("invalid training params: %v", err))
	}

	rec.StartStage(packagerStage, "Packaging training images")
	artifact := s.packager.Package(ctx, spec.ModelName, spec.Images, rec)
	rec.EndStage(packagerStage, "Packaging finished")
	if !artifact.Success {
		rec.LogError(packagerStage, errors.New(artifact.Error), "Packaging failed", nil)
		// Fail before any remote cost is incurred.
		return s.failedStatus(tempID, artifact.Error)
	}

	rec.StartStage("submission", "Submitting training job")
	submission, err := s.trainer.Submit(ctx, replicate.SubmitSpec{
		ModelName:   spec.ModelName,
		TriggerWord: spec.TriggerWord,
		BundleURL:   artifact.BundleURL,
		Params:      params,
	})
	if err != nil {
		rec.LogError("submission", err, "Training submission failed", nil)
		return s.failedStatus(tempID, fmt.Sprintf("training submission failed: %v", err))
	}
	rec.EndStage("submission", "Training job submitted")

	runID := submission.ID
	rec = s.adoptRecorder(tempID, runID)
	span.SetAttributes(attribute.String("run_id", runID))

	if _, err := s.jobRepo.Create(ctx, nil, &types.JobRun{
		RunID:     runID,
		ModelName: spec.ModelName,
		Status:    types.JobStatusRunning,
	}); err != nil {
		rec.LogError("submission", err, "Failed to persist job record", nil)
	}
	if _, err := s.modelRepo.Upsert(ctx, nil, &types.TrainedModel{
		RunID:       runID,
		ModelName:   spec.ModelName,
		TriggerWord: spec.TriggerWord,
		Status:      types.TrainedModelStatusTraining,
	}); err != nil {
		rec.LogError("submission", err, "Failed to persist model record", nil)
	}

	status := types.CanonicalStatus{
		ID:       runID,
		Status:   types.RunStatusStarting,
		Progress: 10,
		Stage:    "Training job submitted",
		Sources: types.StatusSources{
			ProviderStatus: &types.ProviderStatusView{Status: submission.Status},
		},
	}
	s.emit(ctx, runID, status)
	return status
}

// GetStatus polls the provider, refreshes the records, and resolves the
// canonical status. When the run needs publishing and allowPublish is set it
// also drives the single-flight publish flow, so the call can block for the
// full publish sequence.
func (s *trainingPipelineService) GetStatus(ctx context.Context, id, modelName string, allowPublish bool) types.CanonicalStatus {
	ctx, span := s.tracer.Start(ctx, "pipeline.GetStatus",
		oteltrace.WithAttributes(attribute.String("run_id", id), attribute.Bool("allow_publish", allowPublish)))
	defer span.End()

	rec := s.recorder(id)

	poll, pollErr := s.trainer.Poll(ctx, id)
	if pollErr != nil {
		// Transient: resolve from the remaining sources rather than failing
		// the status call.
		rec.LogError("poll", pollErr, "Provider poll failed", nil)
	}

	sources := s.collectSources(ctx, id, poll)
	resolved := ResolveStatus(id, sources)

	s.writeBackJobRecord(ctx, id, resolved)

	if resolved.NeedsPublish && allowPublish {
		resolved = s.publishFlow(ctx, id, modelName, poll, rec)
	}

	s.emit(ctx, id, resolved)
	return resolved
}

// TriggerPublish re-checks the provider reported success and then invokes the
// publish flow. Used for manual retry after a failed publish.
func (s *trainingPipelineService) TriggerPublish(ctx context.Context, id, modelName string) types.CanonicalStatus {
	ctx, span := s.tracer.Start(ctx, "pipeline.TriggerPublish",
		oteltrace.WithAttributes(attribute.String("run_id", id)))
	defer span.End()

	rec := s.recorder(id)

	poll, err := s.trainer.Poll(ctx, id)
	if err != nil {
		rec.LogError("poll", err, "Provider poll failed", nil)
		resolved := ResolveStatus(id, s.collectSources(ctx, id, nil))
		resolved.Error = fmt.Sprintf("cannot verify training status: %v", err)
		return resolved
	}
	if poll.Status != replicate.StatusSucceeded {
		resolved := ResolveStatus(id, s.collectSources(ctx, id, poll))
		resolved.Error = fmt.Sprintf("cannot publish: training status is %q", poll.Status)
		return resolved
	}

	resolved := s.publishFlow(ctx, id, modelName, poll, rec)
	s.emit(ctx, id, resolved)
	return resolved
}

// Cancel is a best-effort pass-through to the provider. It does not touch
// publish state or any in-flight publish.
func (s *trainingPipelineService) Cancel(ctx context.Context, id string) bool {
	return s.trainer.Cancel(ctx, id)
}

// publishFlow runs the single-flight publish: at most one concurrent attempt
// per id, and at most one success per id for the process lifetime.
func (s *trainingPipelineService) publishFlow(ctx context.Context, id, modelName string, poll *replicate.PollResult, rec *DiagnosticRecorder) types.CanonicalStatus {
	switch s.guard.Begin(id) {
	case GuardCompleted:
		return ResolveStatus(id, s.collectSources(ctx, id, poll))
	case GuardOngoing:
		resolved := ResolveStatus(id, s.collectSources(ctx, id, poll))
		resolved.Status = types.RunStatusPublishing
		resolved.Stage = "Publish already in flight"
		resolved.NeedsPublish = false
		return resolved
	}

	rec.StartStage("publishing", "Publishing trained model")
	repoID, err := s.performPublish(ctx, id, modelName, poll, rec)
	if err != nil {
		s.guard.Fail(id)
		te := rec.LogError("publishing", err, "Publish failed", map[string]any{"model_name": modelName})

		resolved := ResolveStatus(id, s.collectSources(ctx, id, poll))
		// Training itself succeeded; stay retryable instead of reporting failed.
		resolved.Status = types.RunStatusPublishing
		resolved.Stage = "Publish failed, retry available"
		resolved.Error = te.Message
		resolved.CanRetryPublish = true
		return resolved
	}

	s.guard.Succeed(id)
	rec.EndStage("publishing", "Model published")

	resolved := ResolveStatus(id, s.collectSources(ctx, id, poll))
	if resolved.PublishedRepoID == "" {
		resolved.PublishedRepoID = repoID
	}
	return resolved
}

// performPublish does the remote work: create the repository, fetch the
// trained weights, upload files plus a model card, confirm readiness, and
// update the persisted records.
func (s *trainingPipelineService) performPublish(ctx context.Context, id, modelName string, poll *replicate.PollResult, rec *DiagnosticRecorder) (string, error) {
	weightsURL, err := replicate.WeightsURL(poll)
	if err != nil {
		return "", err
	}

	files, err := s.publisher.FetchArtifact(ctx, weightsURL)
	if err != nil {
		return "", err
	}
	files = append(files, huggingface.RepoFile{
		Path:    "README.md",
		Content: []byte(modelCard(modelName, id)),
	})

	repoID := fmt.Sprintf("%s/%s", s.publisher.Owner(), sanitizeName(modelName))
	repoID, err = s.publishToRepo(ctx, repoID, files)
	if err != nil {
		return "", err
	}

	readiness, err := s.publisher.GetReadiness(ctx, repoID)
	if err != nil {
		rec.LogError("publishing", err, "Readiness check failed", map[string]any{"repo_id": repoID})
		readiness = &huggingface.Readiness{Exists: true, Ready: false}
	}

	now := time.Now().UTC()
	modelStatus := types.TrainedModelStatusTraining
	var completedAt *time.Time
	if readiness.Ready {
		modelStatus = types.TrainedModelStatusPublished
		completedAt = &now
	}
	if err := s.modelRepo.UpdateFieldsByRunID(ctx, nil, id, map[string]interface{}{
		"status":            modelStatus,
		"published_repo_id": repoID,
		"is_publish_ready":  readiness.Ready,
		"completed_at":      completedAt,
	}); err != nil {
		rec.LogError("publishing", err, "Failed to update model record", map[string]any{"repo_id": repoID})
	}
	if err := s.jobRepo.MarkCompleted(ctx, nil, id, types.JobStatusSucceeded, ""); err != nil {
		rec.LogError("publishing", err, "Failed to update job record", nil)
	}

	s.log.Info("Model published", "run_id", id, "repo_id", repoID, "ready", readiness.Ready)
	return repoID, nil
}

// publishToRepo creates the repo and uploads the files. A name collision gets
// exactly one retry with a random suffix; a second collision is terminal.
func (s *trainingPipelineService) publishToRepo(ctx context.Context, repoID string, files []huggingface.RepoFile) (string, error) {
	if err := s.publisher.CreateRepo(ctx, repoID, huggingface.CreateRepoOptions{Private: true}); err != nil {
		return "", err
	}
	err := s.publisher.PublishFiles(ctx, repoID, files)
	if err == nil {
		return repoID, nil
	}
	if !errors.Is(err, huggingface.ErrRepoNameTaken) {
		return "", err
	}

	suffixed := fmt.Sprintf("%s-%s", repoID, uuid.NewString()[:8])
	s.log.Warn("Repo name collision, retrying with suffix", "repo_id", repoID, "retry_repo_id", suffixed)
	if err := s.publisher.CreateRepo(ctx, suffixed, huggingface.CreateRepoOptions{Private: true}); err != nil {
		return "", err
	}
	if err := s.publisher.PublishFiles(ctx, suffixed, files); err != nil {
		if errors.Is(err, huggingface.ErrRepoNameTaken) {
			return "", fmt.Errorf("repo name collision persisted after suffix retry: %w", err)
		}
		return "", err
	}
	return suffixed, nil
}

func (s *trainingPipelineService) collectSources(ctx context.Context, id string, poll *replicate.PollResult) types.StatusSources {
	var sources types.StatusSources

	if poll != nil {
		sources.ProviderStatus = &types.ProviderStatusView{
			Status: poll.Status,
			Error:  poll.Error,
			Logs:   poll.Logs,
			Output: poll.Output,
		}
	}

	if job, err := s.jobRepo.GetByRunID(ctx, nil, id); err != nil {
		s.log.Warn("Failed to read job record", "run_id", id, "error", err)
	} else if job != nil {
		sources.JobRecord = &types.JobRecordView{
			Status:       job.Status,
			ErrorMessage: job.ErrorMessage,
			CompletedAt:  job.CompletedAt,
		}
	}

	if model, err := s.modelRepo.GetByRunID(ctx, nil, id); err != nil {
		s.log.Warn("Failed to read model record", "run_id", id, "error", err)
	} else if model != nil {
		sources.ModelRecord = &types.ModelRecordView{
			Status:          model.Status,
			PublishedRepoID: model.PublishedRepoID,
			IsPublishReady:  model.IsPublishReady,
			CompletedAt:     model.CompletedAt,
		}
	}

	return sources
}

// writeBackJobRecord keeps the ledger aligned with the resolved status:
// starting|training map to running, publishing and completed to succeeded,
// failed to failed.
func (s *trainingPipelineService) writeBackJobRecord(ctx context.Context, id string, resolved types.CanonicalStatus) {
	if resolved.Sources.JobRecord == nil {
		return
	}
	var target string
	switch resolved.Status {
	case types.RunStatusStarting, types.RunStatusTraining:
		target = types.JobStatusRunning
	case types.RunStatusPublishing, types.RunStatusCompleted:
		target = types.JobStatusSucceeded
	case types.RunStatusFailed:
		target = types.JobStatusFailed
	default:
		return
	}
	if resolved.Sources.JobRecord.Status == target {
		return
	}
	if target == types.JobStatusFailed {
		if err := s.jobRepo.MarkCompleted(ctx, nil, id, target, resolved.Error); err != nil {
			s.log.Warn("Failed to write back job record", "run_id", id, "error", err)
		}
		return
	}
	if err := s.jobRepo.UpdateFieldsByRunID(ctx, nil, id, map[string]interface{}{"status": target}); err != nil {
		s.log.Warn("Failed to write back job record", "run_id", id, "error", err)
	}
}

func (s *trainingPipelineService) failedStatus(id, message string) types.CanonicalStatus {
	return types.CanonicalStatus{
		ID:       id,
		Status:   types.RunStatusFailed,
		Progress: 0,
		Stage:    "Training could not be started",
		Error:    message,
	}
}

func (s *trainingPipelineService) emit(ctx context.Context, id string, status types.CanonicalStatus) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, redisbus.StatusEvent{RunID: id, Status: status}); err != nil {
		s.log.Debug("Status event publish failed", "run_id", id, "error", err)
	}
}

func modelCard(modelName, runID string) string {
	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("tags:\n- lora\n- text-to-image\n")
	b.WriteString("---\n\n")
	b.WriteString(fmt.Sprintf("# %s\n\n", modelName))
	b.WriteString(fmt.Sprintf("LoRA weights trained from user images (training id `%s`).\n", runID))
	return b.String()
}
