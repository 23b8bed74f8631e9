package training

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/fitloop/fitloop/accelerator"
	"github.com/fitloop/fitloop/metrics"
	"github.com/fitloop/fitloop/profiler"
)

// RunningStage marks what the trainer is currently doing.
type RunningStage int

const (
	StageNone RunningStage = iota
	StageTraining
	StageValidating
)

func (s RunningStage) String() string {
	switch s {
	case StageTraining:
		return "training"
	case StageValidating:
		return "validating"
	default:
		return "none"
	}
}

// TrainerConfig configures a training run.
type TrainerConfig struct {
	// Duration bounds. Nil means unset: when both MaxEpochs and MaxSteps
	// are unset MaxEpochs defaults to 1000, and when both MinEpochs and
	// MinSteps are unset MinEpochs defaults to 1.
	MinEpochs *int
	MaxEpochs *int
	MinSteps  *int
	MaxSteps  *int

	// ValCheckInterval runs epoch-level validation every N epochs
	// (0 or 1 = every epoch).
	ValCheckInterval int

	// AccumulateGradBatches is the initial gradient accumulation window
	// (batches per optimizer update). Defaults to 1.
	AccumulateGradBatches int

	// ReloadDataloadersEveryEpoch rebuilds the train dataloader through
	// the registered factory at the start of every epoch after the first.
	ReloadDataloadersEveryEpoch bool

	// DisableValidation skips all validation passes.
	DisableValidation bool

	// Optional collaborators; nil picks a no-op or default.
	Profiler    profiler.Profiler
	Accelerator accelerator.Accelerator
	Logger      ExperimentLogger
	Collector   *metrics.Collector
	Log         *slog.Logger
}

// Trainer is the host of the training run: it owns the collaborators the
// epoch loop coordinates (callbacks, dataloaders, connectors, profiler,
// accelerator) and the stop state machine.
type Trainer struct {
	config TrainerConfig
	model  Model
	log    *slog.Logger

	callbacks []Callback

	fitLoop               *FitLoop
	stepLoop              TrainingLoop
	evalLoop              *EvaluationLoop
	loggerConnector       *LoggerConnector
	optimizerConnector    *OptimizerConnector
	accumulationScheduler *AccumulationScheduler
	checkpointConnector   *CheckpointConnector

	profiler    profiler.Profiler
	accelerator accelerator.Accelerator
	collector   *metrics.Collector
	logger      ExperimentLogger

	trainLoader        DataLoader
	valLoader          DataLoader
	trainLoaderFactory func() DataLoader
	numValBatches      int

	accumulateGradBatches int
	stage                 RunningStage
	stopState             StopState
	latestMetrics         EpochOutputs
	progressBar           *ProgressBar
}

// NewTrainer wires a trainer and its loops. Configuration conflicts
// (minimum bounds above maximum bounds) are reported here, before the loop
// ever starts.
func NewTrainer(model Model, optimizer Optimizer, trainStep TrainStepFunc, evalStep EvalStepFunc, config TrainerConfig) (*Trainer, error) {
	if model == nil {
		return nil, errors.New("trainer requires a model")
	}
	if optimizer == nil {
		return nil, errors.New("trainer requires an optimizer")
	}
	if trainStep == nil {
		return nil, errors.New("trainer requires a train step function")
	}

	log := config.Log
	if log == nil {
		log = slog.Default()
	}

	prof := config.Profiler
	if prof == nil {
		prof = profiler.PassThrough{}
	}

	accumulate := config.AccumulateGradBatches
	if accumulate <= 0 {
		accumulate = 1
	}

	t := &Trainer{
		config:                config,
		model:                 model,
		log:                   log,
		profiler:              prof,
		accelerator:           config.Accelerator,
		collector:             config.Collector,
		logger:                config.Logger,
		accumulateGradBatches: accumulate,
		accumulationScheduler: NewAccumulationScheduler(nil),
		checkpointConnector:   &CheckpointConnector{},
		latestMetrics:         EpochOutputs{},
	}

	t.optimizerConnector = NewOptimizerConnector(t, optimizer)
	t.loggerConnector = NewLoggerConnector(log, config.Collector, config.Logger)
	t.stepLoop = NewStepLoop(t, trainStep, StepLoopConfig{
		MinSteps:         config.MinSteps,
		MaxSteps:         config.MaxSteps,
		ValCheckInterval: config.ValCheckInterval,
	})
	t.evalLoop = NewEvaluationLoop(t, evalStep)

	fitLoop, err := NewFitLoop(t, t.stepLoop, config.MinEpochs, config.MaxEpochs)
	if err != nil {
		return nil, err
	}
	t.fitLoop = fitLoop

	return t, nil
}

// RegisterCallbacks appends callbacks to the ordered registry.
func (t *Trainer) RegisterCallbacks(callbacks ...Callback) {
	t.callbacks = append(t.callbacks, callbacks...)
}

// Callbacks returns the registered callbacks in registration order.
func (t *Trainer) Callbacks() []Callback {
	return t.callbacks
}

// CheckpointCallbacks returns the registered callbacks that persist
// checkpoints, in registration order.
func (t *Trainer) CheckpointCallbacks() []CheckpointCallback {
	var cbs []CheckpointCallback
	for _, cb := range t.callbacks {
		if ccb, ok := cb.(CheckpointCallback); ok {
			cbs = append(cbs, ccb)
		}
	}
	return cbs
}

// SetTrainLoaderFactory registers the factory used to rebuild the train
// dataloader when ReloadDataloadersEveryEpoch is set.
func (t *Trainer) SetTrainLoaderFactory(factory func() DataLoader) {
	t.trainLoaderFactory = factory
}

// SetAccumulationSchedule replaces the gradient accumulation schedule
// (first-epoch -> window size).
func (t *Trainer) SetAccumulationSchedule(schedule map[int]int) {
	t.accumulationScheduler = NewAccumulationScheduler(schedule)
}

// Fit runs the full training loop over the given dataloaders. valLoader
// may be nil to train without validation.
func (t *Trainer) Fit(trainLoader, valLoader DataLoader) error {
	if trainLoader == nil {
		return errors.New("fit requires a train dataloader")
	}

	t.trainLoader = trainLoader
	t.valLoader = valLoader
	t.numValBatches = 0
	if valLoader != nil {
		t.numValBatches = valLoader.Len()
	}

	if t.accelerator != nil {
		if err := t.accelerator.Setup(); err != nil {
			return errors.Wrap(err, "accelerator setup failed")
		}
		t.log.Info("accelerator ready", "device", t.accelerator.Description())
	}

	t.stage = StageTraining
	return t.fitLoop.Run()
}

// FitLoop returns the epoch loop.
func (t *Trainer) FitLoop() *FitLoop { return t.fitLoop }

// Model returns the model under training.
func (t *Trainer) Model() Model { return t.model }

// CurrentEpoch returns the epoch loop's current epoch.
func (t *Trainer) CurrentEpoch() int { return t.fitLoop.CurrentEpoch() }

// GlobalStep returns the step loop's global step.
func (t *Trainer) GlobalStep() int { return t.stepLoop.GlobalStep() }

// TrainLoader returns the current train dataloader.
func (t *Trainer) TrainLoader() DataLoader { return t.trainLoader }

// ValLoader returns the validation dataloader, or nil.
func (t *Trainer) ValLoader() DataLoader { return t.valLoader }

// NumValBatches returns the number of validation batches per epoch.
func (t *Trainer) NumValBatches() int { return t.numValBatches }

// DisableValidation reports whether validation is disabled for this run.
func (t *Trainer) DisableValidation() bool { return t.config.DisableValidation }

// ReloadDataloadersEveryEpoch reports whether the train dataloader is
// rebuilt every epoch.
func (t *Trainer) ReloadDataloadersEveryEpoch() bool {
	return t.config.ReloadDataloadersEveryEpoch
}

// AccumulateGradBatches returns the gradient accumulation window currently
// in effect.
func (t *Trainer) AccumulateGradBatches() int { return t.accumulateGradBatches }

// SetAccumulateGradBatches sets the gradient accumulation window; used by
// the accumulation scheduler at epoch boundaries.
func (t *Trainer) SetAccumulateGradBatches(window int) {
	if window > 0 {
		t.accumulateGradBatches = window
	}
}

// Stage returns what the trainer is currently doing.
func (t *Trainer) Stage() RunningStage { return t.stage }

func (t *Trainer) setStage(stage RunningStage) { t.stage = stage }

// OptimizerConnector returns the optimizer connector.
func (t *Trainer) OptimizerConnector() *OptimizerConnector { return t.optimizerConnector }

// CheckpointConnector returns the checkpoint connector.
func (t *Trainer) CheckpointConnector() *CheckpointConnector { return t.checkpointConnector }

// LoggerConnector returns the logger connector.
func (t *Trainer) LoggerConnector() *LoggerConnector { return t.loggerConnector }

// AccumulationScheduler returns the gradient accumulation scheduler.
func (t *Trainer) AccumulationScheduler() *AccumulationScheduler { return t.accumulationScheduler }

// Profiler returns the profiler collaborator.
func (t *Trainer) Profiler() profiler.Profiler { return t.profiler }

// Accelerator returns the accelerator collaborator, or nil.
func (t *Trainer) Accelerator() accelerator.Accelerator { return t.accelerator }

// Collector returns the Prometheus collector; may be nil, which every
// collector method tolerates.
func (t *Trainer) Collector() *metrics.Collector { return t.collector }

// ExperimentLogger returns the experiment logger, or nil.
func (t *Trainer) ExperimentLogger() ExperimentLogger { return t.logger }

// LatestMetrics returns the most recent train/validation metrics, merged.
func (t *Trainer) LatestMetrics() EpochOutputs { return t.latestMetrics }

func (t *Trainer) mergeMetrics(outputs EpochOutputs) {
	for k, v := range outputs {
		t.latestMetrics[k] = v
	}
}

// RequestStop asks the loop to terminate. The request is honored at the
// next done check, and only once the configured minimum epochs/steps have
// elapsed; otherwise it is deferred and training continues.
func (t *Trainer) RequestStop() {
	if t.stopState == StopStateRunning || t.stopState == StopStateDeferred {
		t.stopState = StopStateRequested
	}
}

// ShouldStop reports whether an unconsumed stop request is pending.
func (t *Trainer) ShouldStop() bool {
	return t.stopState == StopStateRequested
}

// StopState returns the current stop state.
func (t *Trainer) StopState() StopState { return t.stopState }

// honorStop consumes a pending stop request: the loop is terminating.
func (t *Trainer) honorStop() {
	t.stopState = StopStateStopped
}

// deferStop consumes a pending stop request that arrived before a minimum
// duration floor was met. ShouldStop turns false; a collaborator may
// request again later.
func (t *Trainer) deferStop() {
	t.stopState = StopStateDeferred
	t.collector.RecordEarlyStopDeferred()
}

// ResetTrainDataloader rebuilds the train dataloader through the registered
// factory; without a factory the current loader is kept.
func (t *Trainer) ResetTrainDataloader() {
	if t.trainLoaderFactory != nil {
		t.trainLoader = t.trainLoaderFactory()
	}
}

// CallHook dispatches a named lifecycle hook to every registered callback
// implementing the matching capability, in registration order. The first
// callback error aborts the dispatch and propagates unmodified semantics
// to the loop: no retry, no recovery.
func (t *Trainer) CallHook(name string) error {
	for _, cb := range t.callbacks {
		var err error
		switch name {
		case HookOnTrainStart:
			if h, ok := cb.(TrainStartHandler); ok {
				err = h.OnTrainStart(t)
			}
		case HookOnEpochStart:
			if h, ok := cb.(EpochStartHandler); ok {
				err = h.OnEpochStart(t, t.CurrentEpoch())
			}
		case HookOnTrainEpochStart:
			if h, ok := cb.(TrainEpochStartHandler); ok {
				err = h.OnTrainEpochStart(t, t.CurrentEpoch())
			}
		case HookOnTrainEnd:
			if h, ok := cb.(TrainEndHandler); ok {
				err = h.OnTrainEnd(t)
			}
		default:
			return errors.Errorf("unknown hook %q", name)
		}
		if err != nil {
			return errors.Wrapf(err, "callback %q failed in hook %s", cb.CallbackName(), name)
		}
	}
	return nil
}

// RunEvaluation performs the epoch-level validation pass: it runs the
// evaluation loop, logs the metrics, notifies validation-end handlers
// (early stopping, plateau schedulers) and then runs the checkpoint check.
func (t *Trainer) RunEvaluation(onEpoch bool) error {
	outputs, err := t.evalLoop.Run(onEpoch)
	if err != nil {
		return err
	}
	t.mergeMetrics(outputs)

	if err := t.loggerConnector.LogValidationMetrics(t.CurrentEpoch(), outputs); err != nil {
		return err
	}

	for _, cb := range t.callbacks {
		if h, ok := cb.(ValidationEndHandler); ok {
			if err := h.OnValidationEnd(t, outputs); err != nil {
				return errors.Wrapf(err, "callback %q failed in validation end", cb.CallbackName())
			}
		}
	}

	return t.fitLoop.CheckCheckpointCallbacks(true, false)
}

func (t *Trainer) setProgressBar(bar *ProgressBar) { t.progressBar = bar }
