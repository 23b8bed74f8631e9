package training

import (
	"log/slog"
	"math"
)

// Hook names dispatched through Trainer.CallHook. Each name maps to one
// capability interface; callbacks implement only the interfaces they need.
const (
	HookOnTrainStart      = "on_train_start"
	HookOnEpochStart      = "on_epoch_start"
	HookOnTrainEpochStart = "on_train_epoch_start"
	HookOnTrainEnd        = "on_train_end"
)

// Callback is the marker interface for loop lifecycle callbacks. Callbacks
// are kept in an ordered registry and invoked in registration order through
// the capability interfaces below.
type Callback interface {
	CallbackName() string
}

// TrainStartHandler is invoked once when the run starts, before the first
// done check (it fires even for a zero-epoch run).
type TrainStartHandler interface {
	OnTrainStart(trainer *Trainer) error
}

// EpochStartHandler is invoked at the start of every epoch.
type EpochStartHandler interface {
	OnEpochStart(trainer *Trainer, epoch int) error
}

// TrainEpochStartHandler is invoked at the start of every training epoch,
// after EpochStartHandler.
type TrainEpochStartHandler interface {
	OnTrainEpochStart(trainer *Trainer, epoch int) error
}

// TrainEndHandler is invoked exactly once during run teardown.
type TrainEndHandler interface {
	OnTrainEnd(trainer *Trainer) error
}

// ValidationEndHandler is invoked after each epoch-level validation pass
// with the metrics it produced.
type ValidationEndHandler interface {
	OnValidationEnd(trainer *Trainer, metrics EpochOutputs) error
}

// BaseCallback provides default no-op implementations for every hook so
// concrete callbacks only override what they need.
type BaseCallback struct{}

func (BaseCallback) OnTrainStart(*Trainer) error                  { return nil }
func (BaseCallback) OnEpochStart(*Trainer, int) error             { return nil }
func (BaseCallback) OnTrainEpochStart(*Trainer, int) error        { return nil }
func (BaseCallback) OnTrainEnd(*Trainer) error                    { return nil }
func (BaseCallback) OnValidationEnd(*Trainer, EpochOutputs) error { return nil }

// EarlyStoppingConfig configures the EarlyStopping callback.
type EarlyStoppingConfig struct {
	Monitor  string  // Metric to watch, default "val_loss"
	MinDelta float64 // Minimum change that counts as an improvement
	Patience int     // Epochs without improvement before requesting a stop
	Mode     string  // "min" or "max"
}

// EarlyStopping watches a validation metric and requests a stop once it has
// not improved for Patience epochs. The request goes through the trainer's
// stop state machine, so the loop may defer it until the configured minimum
// epochs/steps have elapsed.
type EarlyStopping struct {
	BaseCallback
	config EarlyStoppingConfig

	best         float64
	wait         int
	stoppedEpoch int
	log          *slog.Logger
}

// NewEarlyStopping creates an early stopping callback.
func NewEarlyStopping(config EarlyStoppingConfig) *EarlyStopping {
	if config.Monitor == "" {
		config.Monitor = "val_loss"
	}
	if config.Patience <= 0 {
		config.Patience = 3
	}
	if config.Mode != "min" && config.Mode != "max" {
		config.Mode = "min"
	}
	return &EarlyStopping{
		config: config,
		best:   initialBest(config.Mode),
		log:    slog.Default(),
	}
}

// CallbackName implements Callback.
func (es *EarlyStopping) CallbackName() string { return "early_stopping" }

// OnTrainStart resets the improvement tracking for a fresh run.
func (es *EarlyStopping) OnTrainStart(*Trainer) error {
	es.best = initialBest(es.config.Mode)
	es.wait = 0
	es.stoppedEpoch = 0
	return nil
}

// OnValidationEnd compares the monitored metric against the best seen value
// and requests a stop once patience is exhausted.
func (es *EarlyStopping) OnValidationEnd(trainer *Trainer, metrics EpochOutputs) error {
	current, ok := metrics[es.config.Monitor]
	if !ok {
		return nil
	}

	improved := false
	if es.config.Mode == "max" {
		improved = current > es.best+es.config.MinDelta
	} else {
		improved = current < es.best-es.config.MinDelta
	}

	if improved {
		es.best = current
		es.wait = 0
		return nil
	}

	es.wait++
	if es.wait >= es.config.Patience {
		es.stoppedEpoch = trainer.CurrentEpoch()
		es.log.Info("early stopping: metric did not improve, requesting stop",
			"monitor", es.config.Monitor,
			"best", es.best,
			"patience", es.config.Patience,
			"epoch", es.stoppedEpoch)
		trainer.RequestStop()
	}
	return nil
}

// StoppedEpoch returns the epoch at which the stop was requested, or zero
// if no stop has been requested.
func (es *EarlyStopping) StoppedEpoch() int { return es.stoppedEpoch }

func initialBest(mode string) float64 {
	if mode == "max" {
		return math.Inf(-1)
	}
	return math.Inf(1)
}
