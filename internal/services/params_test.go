package services

import (
	"testing"

	"github.com/lumapix/lumapix-backend/internal/types"
)

func TestParamsPreset(t *testing.T) {
	def := ParamsPreset("default")
	if def.Steps == 0 || def.LearningRate == 0 || def.Rank == 0 {
		t.Fatalf("default preset incomplete: %+v", def)
	}
	if got := ParamsPreset(""); got != def {
		t.Fatalf("empty name must fall back to default: got=%+v", got)
	}
	if got := ParamsPreset("no-such-preset"); got != def {
		t.Fatalf("unknown name must fall back to default: got=%+v", got)
	}
	if got := ParamsPreset(" Fast "); got == (types.TrainingParams{}) {
		t.Fatalf("fast preset missing")
	}
}

func TestApplyParamDefaults(t *testing.T) {
	def := ParamsPreset("default")

	filled := ApplyParamDefaults(types.TrainingParams{})
	if filled != def {
		t.Fatalf("all-zero params: want=%+v got=%+v", def, filled)
	}

	partial := ApplyParamDefaults(types.TrainingParams{Steps: 2000})
	if partial.Steps != 2000 {
		t.Fatalf("explicit steps overwritten: got=%d", partial.Steps)
	}
	if partial.LearningRate != def.LearningRate || partial.Rank != def.Rank {
		t.Fatalf("zero fields not defaulted: got=%+v", partial)
	}
}

func TestValidateParams(t *testing.T) {
	valid := types.TrainingParams{Steps: 1000, LearningRate: 0.0004, Rank: 16}
	if err := ValidateParams(valid); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	cases := []types.TrainingParams{
		{Steps: 50, LearningRate: 0.0004, Rank: 16},
		{Steps: 5000, LearningRate: 0.0004, Rank: 16},
		{Steps: 1000, LearningRate: 0.5, Rank: 16},
		{Steps: 1000, LearningRate: 1e-9, Rank: 16},
		{Steps: 1000, LearningRate: 0.0004, Rank: 2},
		{Steps: 1000, LearningRate: 0.0004, Rank: 512},
	}
	for i, p := range cases {
		if err := ValidateParams(p); err == nil {
			t.Fatalf("case %d: want validation error for %+v", i, p)
		}
	}
}
