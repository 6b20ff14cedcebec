package services

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	apperrors "github.com/lumapix/lumapix-backend/internal/pkg/errors"
	"github.com/lumapix/lumapix-backend/internal/types"
)

const paramsPresetEnv = "TRAINING_PARAMS_YAML"

//go:embed params_presets.yaml
var paramsPresetFS embed.FS

// fallback used when the YAML is missing or invalid
var fallbackParams = types.TrainingParams{
	Steps:        1000,
	LearningRate: 0.0004,
	Rank:         16,
}

const (
	minSteps        = 100
	maxSteps        = 4000
	minLearningRate = 1e-6
	maxLearningRate = 1e-2
	minRank         = 4
	maxRank         = 128
)

var (
	presetOnce sync.Once
	presetMap  map[string]types.TrainingParams
)

func loadPresets() map[string]types.TrainingParams {
	presetOnce.Do(func() {
		raw, err := readPresetBytes()
		if err != nil {
			presetMap = map[string]types.TrainingParams{"default": fallbackParams}
			return
		}
		var parsed map[string]types.TrainingParams
		if err := yaml.Unmarshal(raw, &parsed); err != nil || len(parsed) == 0 {
			presetMap = map[string]types.TrainingParams{"default": fallbackParams}
			return
		}
		if _, ok := parsed["default"]; !ok {
			parsed["default"] = fallbackParams
		}
		presetMap = parsed
	})
	return presetMap
}

func readPresetBytes() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(paramsPresetEnv)); path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			return raw, nil
		}
	}
	return paramsPresetFS.ReadFile("params_presets.yaml")
}

// ParamsPreset returns the named preset, or the default one when the name is
// empty or unknown.
func ParamsPreset(name string) types.TrainingParams {
	presets := loadPresets()
	if p, ok := presets[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return presets["default"]
}

// ApplyParamDefaults fills zero-valued fields from the default preset.
func ApplyParamDefaults(p types.TrainingParams) types.TrainingParams {
	def := ParamsPreset("default")
	if p.Steps == 0 {
		p.Steps = def.Steps
	}
	if p.LearningRate == 0 {
		p.LearningRate = def.LearningRate
	}
	if p.Rank == 0 {
		p.Rank = def.Rank
	}
	return p
}

// ValidateParams bounds-checks hyperparameters before submission.
func ValidateParams(p types.TrainingParams) error {
	if p.Steps < minSteps || p.Steps > maxSteps {
		return fmt.Errorf("%w: steps %d out of range [%d, %d]", apperrors.ErrInvalidArgument, p.Steps, minSteps, maxSteps)
	}
	if p.LearningRate < minLearningRate || p.LearningRate > maxLearningRate {
		return fmt.Errorf("%w: learning rate %g out of range [%g, %g]", apperrors.ErrInvalidArgument, p.LearningRate, minLearningRate, maxLearningRate)
	}
	if p.Rank < minRank || p.Rank > maxRank {
		return fmt.Errorf("%w: rank %d out of range [%d, %d]", apperrors.ErrInvalidArgument, p.Rank, minRank, maxRank)
	}
	return nil
}
