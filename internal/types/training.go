package types

// TrainingParams are the LoRA hyperparameters for one run.
type TrainingParams struct {
	Steps        int     `json:"steps" yaml:"steps"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Rank         int     `json:"rank" yaml:"rank"`
}

// ImageRef points at one caller-supplied training image. Read-only input.
type ImageRef struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}
