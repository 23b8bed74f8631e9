package training

import (
	"fmt"
)

// EpochOutputs carries the epoch-level metrics produced by one pass of the
// inner step loop or the evaluation loop.
type EpochOutputs map[string]float64

// TrainingLoop is the inner step loop contract the epoch loop drives: one
// Run performs a full training epoch, and the progress counters stay
// readable between runs. The epoch loop owns when Run is called; the step
// loop owns every counter except the per-epoch accumulated-grad increment,
// which the epoch loop triggers explicitly at epoch end.
type TrainingLoop interface {
	// Run performs one full training epoch and returns its outputs.
	Run() (EpochOutputs, error)

	// GlobalStep is the monotonically increasing count of optimizer
	// updates across the run.
	GlobalStep() int

	// TotalBatchIdx counts batches across all epochs.
	TotalBatchIdx() int

	// BatchIdx is the index of the last batch within the current epoch.
	BatchIdx() int

	// SplitIdx is the index of the current batch split under truncated
	// backpropagation; zero when splitting is not in use.
	SplitIdx() int

	// IsLastBatch reports whether the last processed batch closed the
	// epoch.
	IsLastBatch() bool

	// MinSteps and MaxSteps are the optional step-based duration bounds;
	// nil means no bound.
	MinSteps() *int
	MaxSteps() *int

	// ShouldCheckVal is the validation-scheduling policy.
	ShouldCheckVal(batchIdx int, isLastBatch bool, onEpoch bool) bool

	// IncrementAccumulatedGradGlobalStep advances the global step for the
	// final accumulation window of the epoch. At most one increment per
	// epoch; a no-op when the last window was already counted.
	IncrementAccumulatedGradGlobalStep()

	// ResetRunningLoss replaces the running loss window with a fresh one
	// of the given length.
	ResetRunningLoss(windowLength int)
}

// StepLoopConfig configures the default step loop.
type StepLoopConfig struct {
	MinSteps *int // Optional minimum optimizer steps before an early stop is honored
	MaxSteps *int // Optional maximum optimizer steps; training halts when reached

	// ValCheckInterval runs epoch-level validation every N epochs
	// (0 or 1 = every epoch).
	ValCheckInterval int
}

// StepLoop is the default TrainingLoop: it batches through the trainer's
// train dataloader, delegates each batch to the TrainStepFunc, and applies
// the optimizer once per gradient accumulation window.
type StepLoop struct {
	trainer   *Trainer
	trainStep TrainStepFunc
	config    StepLoopConfig

	globalStep    int
	totalBatchIdx int
	batchIdx      int
	splitIdx      int
	isLastBatch   bool
	epochsRun     int

	// pendingAccum is true while the epoch's final accumulation window has
	// been applied but not yet counted into the global step.
	pendingAccum bool

	runningLoss *RunningAccum
}

// NewStepLoop creates the default step loop.
func NewStepLoop(trainer *Trainer, trainStep TrainStepFunc, config StepLoopConfig) *StepLoop {
	return &StepLoop{
		trainer:     trainer,
		trainStep:   trainStep,
		config:      config,
		runningLoss: NewRunningAccum(trainer.AccumulateGradBatches()),
	}
}

func (s *StepLoop) GlobalStep() int    { return s.globalStep }
func (s *StepLoop) TotalBatchIdx() int { return s.totalBatchIdx }
func (s *StepLoop) BatchIdx() int      { return s.batchIdx }
func (s *StepLoop) SplitIdx() int      { return s.splitIdx }
func (s *StepLoop) IsLastBatch() bool  { return s.isLastBatch }
func (s *StepLoop) MinSteps() *int     { return s.config.MinSteps }
func (s *StepLoop) MaxSteps() *int     { return s.config.MaxSteps }

// RunningLoss returns the running loss accumulator.
func (s *StepLoop) RunningLoss() *RunningAccum { return s.runningLoss }

// ResetRunningLoss implements TrainingLoop.
func (s *StepLoop) ResetRunningLoss(windowLength int) {
	s.runningLoss = NewRunningAccum(windowLength)
}

// ShouldCheckVal implements the validation-scheduling policy: epoch-level
// validation runs when the epoch completed on its last batch and the
// configured epoch interval has elapsed. Epochs cut short by a step bound
// do not trigger validation, and neither does a run with no validation
// batches at all.
func (s *StepLoop) ShouldCheckVal(batchIdx int, isLastBatch bool, onEpoch bool) bool {
	if !onEpoch || !isLastBatch {
		return false
	}
	if s.trainer.DisableValidation() || s.trainer.NumValBatches() == 0 {
		return false
	}
	interval := s.config.ValCheckInterval
	if interval <= 0 {
		interval = 1
	}
	return s.epochsRun%interval == 0
}

// IncrementAccumulatedGradGlobalStep implements TrainingLoop.
func (s *StepLoop) IncrementAccumulatedGradGlobalStep() {
	if !s.pendingAccum {
		return
	}
	s.globalStep++
	s.pendingAccum = false
	s.trainer.Collector().SetGlobalStep(s.globalStep)
}

// Run performs one training epoch.
func (s *StepLoop) Run() (EpochOutputs, error) {
	loader := s.trainer.TrainLoader()
	if loader == nil {
		return nil, fmt.Errorf("no train dataloader configured")
	}
	optimizer := s.trainer.OptimizerConnector().Optimizer()

	loader.Reset()
	numBatches := loader.Len()
	window := s.trainer.AccumulateGradBatches()
	if window <= 0 {
		window = 1
	}

	s.isLastBatch = false
	optimizer.ZeroGrad()

	var totalLoss float64
	accumulated := 0
	batches := 0
	bar := s.trainer.progressBar

	for b := 0; ; b++ {
		if s.config.MaxSteps != nil && s.globalStep >= *s.config.MaxSteps {
			break
		}

		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch batch %d: %v", b, err)
		}
		if batch == nil {
			break // End of epoch
		}

		s.batchIdx = b
		s.totalBatchIdx++
		s.isLastBatch = b == numBatches-1

		loss, err := s.trainStep(s.trainer.Model(), batch)
		if err != nil {
			return nil, fmt.Errorf("train step failed at batch %d: %v", b, err)
		}

		s.runningLoss.Append(loss)
		totalLoss += loss
		batches++
		accumulated++
		s.pendingAccum = true

		// Apply full accumulation windows as they complete. The window
		// that closes the epoch is applied after the loop and counted by
		// IncrementAccumulatedGradGlobalStep.
		if accumulated >= window && !s.isLastBatch {
			if err := optimizer.Step(); err != nil {
				return nil, fmt.Errorf("optimizer step failed at batch %d: %v", b, err)
			}
			optimizer.ZeroGrad()
			accumulated = 0
			s.globalStep++
			s.pendingAccum = false
			s.trainer.CheckpointConnector().MarkTrained()
			s.trainer.OptimizerConnector().UpdateLearningRates(IntervalStep)
			s.trainer.Collector().SetGlobalStep(s.globalStep)
		}

		if bar != nil {
			bar.Update(b+1, map[string]float64{
				"loss":         loss,
				"running_loss": s.runningLoss.Mean(),
			})
		}
	}

	// Flush the remainder window (epoch end or step-bound cutoff).
	if accumulated > 0 {
		if err := optimizer.Step(); err != nil {
			return nil, fmt.Errorf("optimizer step failed at epoch end: %v", err)
		}
		optimizer.ZeroGrad()
		s.trainer.CheckpointConnector().MarkTrained()
	}

	if bar != nil {
		bar.Finish()
	}

	s.epochsRun++

	if batches == 0 {
		return EpochOutputs{"train_loss": 0, "running_loss": 0, "batches": 0}, nil
	}

	return EpochOutputs{
		"train_loss":   totalLoss / float64(batches),
		"running_loss": s.runningLoss.Mean(),
		"batches":      float64(batches),
	}, nil
}
