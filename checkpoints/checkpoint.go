package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Format defines the serialization format for a checkpoint.
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatBinary:
		return "ckpt"
	default:
		return "json"
	}
}

// Checkpoint represents a persisted snapshot of model parameters and
// training progress, enabling resume or deployment.
type Checkpoint struct {
	// Model parameters
	Weights []WeightTensor `json:"weights"`

	// Training progress at save time
	TrainingState TrainingState `json:"training_state"`

	// Metadata
	Metadata Metadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState captures the training progress counters at save time.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	GlobalStep   int     `json:"global_step"`
	LearningRate float64 `json:"learning_rate"`
	BestLoss     float64 `json:"best_loss"`
}

// Metadata describes the checkpoint itself.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Tags        []string  `json:"tags,omitempty"`
}

// Saver persists and restores checkpoints in a configured format.
type Saver struct {
	format Format
}

// NewSaver creates a checkpoint saver for the given format.
func NewSaver(format Format) *Saver {
	return &Saver{format: format}
}

// Format returns the saver's serialization format.
func (s *Saver) Format() Format {
	return s.format
}

// Save writes the checkpoint to path.
func (s *Saver) Save(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return fmt.Errorf("cannot save nil checkpoint")
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	switch s.format {
	case FormatJSON:
		return s.saveJSON(checkpoint, path)
	case FormatBinary:
		return s.saveBinary(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %v", s.format)
	}
}

// Load reads a checkpoint from path.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	switch s.format {
	case FormatJSON:
		return s.loadJSON(path)
	case FormatBinary:
		return s.loadBinary(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %v", s.format)
	}
}

func (s *Saver) saveJSON(checkpoint *Checkpoint, path string) error {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}

	return nil
}

func (s *Saver) loadJSON(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %v", err)
	}

	return &checkpoint, nil
}
