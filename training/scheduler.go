package training

import (
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the loop counters; stateful strategies
// (like plateau detection) keep their state CPU-side and expose it through
// dedicated methods.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step.
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging.
	GetName() string
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs.
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler.
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30 // Default: reduce every 30 epochs
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1 // Default: reduce by 10x
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially.
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler.
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95 // Default: 5% reduction per epoch
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements a cosine annealing schedule.
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler.
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100 // Default: 100 epochs
	}
	if etaMin < 0 {
		etaMin = 0 // Default: anneal to 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}

	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces LR when a monitored metric has stopped
// improving. It is stateful: feed it the metric once per validation pass
// through Step, typically via a SchedulerCallback.
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Epochs with no improvement after which LR is reduced
	Threshold float64 // Threshold for measuring the new optimum
	Mode      string  // One of "min" or "max"

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler.
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min" // Default: minimize loss
	}

	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

// Step checks if LR should be reduced based on the metric. Called once per
// validation pass.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	improved := false
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}

	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// NoOpScheduler maintains a constant learning rate (default behavior).
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// SchedulerCallback feeds a monitored validation metric to a plateau
// scheduler and applies the resulting learning rate.
type SchedulerCallback struct {
	BaseCallback
	Monitor   string
	scheduler *ReduceLROnPlateauScheduler
}

// NewSchedulerCallback creates a callback driving a plateau scheduler from
// the given validation metric (default "val_loss").
func NewSchedulerCallback(scheduler *ReduceLROnPlateauScheduler, monitor string) *SchedulerCallback {
	if monitor == "" {
		monitor = "val_loss"
	}
	return &SchedulerCallback{Monitor: monitor, scheduler: scheduler}
}

// CallbackName implements Callback.
func (c *SchedulerCallback) CallbackName() string { return "lr_scheduler" }

// OnValidationEnd implements ValidationEndHandler.
func (c *SchedulerCallback) OnValidationEnd(trainer *Trainer, metrics EpochOutputs) error {
	metric, ok := metrics[c.Monitor]
	if !ok {
		return nil
	}
	oc := trainer.OptimizerConnector()
	if oc == nil || oc.Optimizer() == nil {
		return nil
	}
	opt := oc.Optimizer()
	opt.SetLearningRate(c.scheduler.Step(metric, opt.LearningRate()))
	return nil
}

// AccumulationScheduler maps epochs to gradient accumulation window sizes,
// so the number of batches per optimizer update can change over the run.
type AccumulationScheduler struct {
	// schedule maps the first epoch a window size takes effect to that
	// window size. Epoch numbering starts at 1.
	schedule map[int]int
}

// NewAccumulationScheduler creates a scheduler from an epoch-to-window map.
// A nil or empty schedule leaves the trainer's window unchanged.
func NewAccumulationScheduler(schedule map[int]int) *AccumulationScheduler {
	return &AccumulationScheduler{schedule: schedule}
}

// WindowFor returns the accumulation window in effect at the given epoch,
// or 0 when the schedule does not cover it.
func (as *AccumulationScheduler) WindowFor(epoch int) int {
	window := 0
	bestEpoch := -1
	for from, w := range as.schedule {
		if from <= epoch && from > bestEpoch {
			bestEpoch = from
			window = w
		}
	}
	return window
}

// OnTrainEpochStart applies the scheduled window for the new epoch to the
// trainer.
func (as *AccumulationScheduler) OnTrainEpochStart(trainer *Trainer, epoch int) {
	if as == nil {
		return
	}
	if window := as.WindowFor(epoch); window > 0 {
		trainer.SetAccumulateGradBatches(window)
	}
}
