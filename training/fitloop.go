package training

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// FitLoop is the epoch-level training loop. It repeatedly drives the inner
// step loop through full epochs, evaluates the stop conditions combining
// epoch/step bounds with early-stopping requests, interleaves validation
// and checkpoint checks, and fires the lifecycle hooks around each epoch
// and around the run.
//
// All of its state is owned and mutated by the loop itself; collaborators
// only read it or, for the stop request, signal through the trainer's stop
// state machine.
type FitLoop struct {
	trainer  *Trainer
	stepLoop TrainingLoop

	minEpochs *int
	maxEpochs *int

	currentEpoch       int
	iterationCount     int
	teardownAlreadyRun bool

	log *slog.Logger
}

// NewFitLoop creates the epoch loop over the given step loop, applying the
// default bounds and rejecting conflicting configurations.
//
// Defaults: when neither maxEpochs nor the step loop's maxSteps is set,
// maxEpochs becomes 1000; when neither minEpochs nor minSteps is set,
// minEpochs becomes 1.
func NewFitLoop(trainer *Trainer, stepLoop TrainingLoop, minEpochs, maxEpochs *int) (*FitLoop, error) {
	if maxEpochs == nil && stepLoop.MaxSteps() == nil {
		maxEpochs = intPtr(1000)
	}
	if minEpochs == nil && stepLoop.MinSteps() == nil {
		// The default floor never overrides an explicit smaller ceiling, so
		// a zero-epoch run stays configurable.
		if maxEpochs != nil && *maxEpochs < 1 {
			minEpochs = intPtr(*maxEpochs)
		} else {
			minEpochs = intPtr(1)
		}
	} else if minEpochs != nil && maxEpochs != nil && *minEpochs > *maxEpochs {
		return nil, errors.Errorf("min_epochs (%d) must not exceed max_epochs (%d)", *minEpochs, *maxEpochs)
	}
	if stepLoop.MinSteps() != nil && stepLoop.MaxSteps() != nil && *stepLoop.MinSteps() > *stepLoop.MaxSteps() {
		return nil, errors.Errorf("min_steps (%d) must not exceed max_steps (%d)", *stepLoop.MinSteps(), *stepLoop.MaxSteps())
	}
	if maxEpochs != nil && *maxEpochs < 0 {
		return nil, errors.Errorf("max_epochs must not be negative, got %d", *maxEpochs)
	}

	return &FitLoop{
		trainer:   trainer,
		stepLoop:  stepLoop,
		minEpochs: minEpochs,
		maxEpochs: maxEpochs,
		log:       trainer.log,
	}, nil
}

// CurrentEpoch returns the current epoch. It is zero before the first
// epoch starts and equals the number of the running (or last completed)
// epoch afterwards.
func (l *FitLoop) CurrentEpoch() int { return l.currentEpoch }

// MinEpochs returns the minimum epoch bound, or nil.
func (l *FitLoop) MinEpochs() *int { return l.minEpochs }

// MaxEpochs returns the maximum epoch bound, or nil.
func (l *FitLoop) MaxEpochs() *int { return l.maxEpochs }

// StepLoop returns the inner step loop.
func (l *FitLoop) StepLoop() TrainingLoop { return l.stepLoop }

// Run drives the loop to completion: run-start, then advance cycles until
// Done, then run-end. Teardown runs exactly once even when an epoch fails,
// and the original error wins over any teardown error.
func (l *FitLoop) Run() (err error) {
	if err := l.OnRunStart(); err != nil {
		return err
	}

	defer func() {
		endErr := l.OnRunEnd()
		if err == nil {
			err = endErr
		}
	}()

	for !l.Done() {
		if err = l.OnAdvanceStart(); err != nil {
			return err
		}
		if err = l.Advance(); err != nil {
			return err
		}
		if err = l.OnAdvanceEnd(); err != nil {
			return err
		}
		l.iterationCount++
	}

	return nil
}

// Done evaluates the stop conditions, in order: the step bound, a pending
// stop request gated by the minimum duration floors, and the epoch bound.
// A stop request observed before the floors are met is deferred: it is
// cleared and training continues.
func (l *FitLoop) Done() bool {
	maxSteps := l.stepLoop.MaxSteps()
	stopSteps := maxSteps != nil && *maxSteps <= l.stepLoop.GlobalStep()

	honored := false
	if l.trainer.ShouldStop() {
		metMinEpochs := l.minEpochs == nil || l.currentEpoch >= *l.minEpochs-1
		minSteps := l.stepLoop.MinSteps()
		metMinSteps := minSteps == nil || l.stepLoop.GlobalStep() >= *minSteps

		if metMinEpochs && metMinSteps {
			l.trainer.honorStop()
			honored = true
		} else {
			l.log.Info("stop requested before the minimum duration was met, continuing training",
				"min_epochs", optionalInt(l.minEpochs),
				"min_steps", optionalInt(minSteps),
				"current_epoch", l.currentEpoch,
				"global_step", l.stepLoop.GlobalStep())
			l.trainer.deferStop()
		}
	}

	stopEpochs := l.maxEpochs != nil && l.currentEpoch >= *l.maxEpochs

	return stopSteps || honored || stopEpochs
}

// OnRunStart fires the train-start hook. It runs exactly once per run,
// even when the first Done check terminates the loop immediately.
func (l *FitLoop) OnRunStart() error {
	return l.trainer.CallHook(HookOnTrainStart)
}

// OnAdvanceStart performs the per-epoch bookkeeping before the step loop
// runs: epoch counter update, dataloader reload and reseeding, gradient
// accumulation window update, running loss reset, and the epoch-start
// hooks.
func (l *FitLoop) OnAdvanceStart() error {
	epoch := l.iterationCount + 1
	l.currentEpoch = epoch

	if l.iterationCount != 0 && l.trainer.ReloadDataloadersEveryEpoch() {
		l.trainer.ResetTrainDataloader()
	}

	// Epoch seeding is a typed capability of the dataloader: loaders that
	// do not shuffle simply lack it.
	if seeder, ok := l.trainer.TrainLoader().(EpochSeeder); ok {
		seeder.SetEpoch(epoch)
	}

	l.trainer.AccumulationScheduler().OnTrainEpochStart(l.trainer, epoch)
	l.stepLoop.ResetRunningLoss(l.trainer.AccumulateGradBatches())

	if err := l.trainer.CallHook(HookOnEpochStart); err != nil {
		return err
	}
	return l.trainer.CallHook(HookOnTrainEpochStart)
}

// Advance delegates one full epoch to the step loop and logs its outputs.
// Stop-condition logic lives entirely in Done.
func (l *FitLoop) Advance() error {
	stop := l.trainer.Profiler().Profile("run_training_epoch")
	start := time.Now()

	outputs, err := l.stepLoop.Run()

	stop()
	if err != nil {
		return err
	}

	l.trainer.Collector().RecordEpoch(time.Since(start))
	l.trainer.mergeMetrics(outputs)

	return l.trainer.LoggerConnector().LogTrainEpochEndMetrics(l.currentEpoch, outputs)
}

// OnAdvanceEnd coordinates validation, learning-rate updates and the
// checkpoint check at the end of an epoch, then applies the single
// per-epoch accumulated-grad global step increment.
func (l *FitLoop) OnAdvanceEnd() error {
	shouldCheckVal := l.stepLoop.ShouldCheckVal(l.stepLoop.BatchIdx(), l.stepLoop.IsLastBatch(), true)
	shouldSkipEval := l.trainer.evalLoop.ShouldSkipEvaluation(l.trainer.NumValBatches())
	shouldTrainOnly := l.trainer.DisableValidation() || shouldSkipEval

	// Epoch-interval schedulers update here when no validation pass will
	// trigger them this epoch.
	if !shouldCheckVal || shouldTrainOnly {
		l.trainer.OptimizerConnector().UpdateLearningRates(IntervalEpoch)
	}

	if shouldTrainOnly {
		if err := l.CheckCheckpointCallbacks(true, false); err != nil {
			return err
		}
	}

	if shouldCheckVal {
		l.trainer.setStage(StageValidating)
		if err := l.trainer.RunEvaluation(true); err != nil {
			return err
		}
		l.trainer.setStage(StageTraining)
	}

	l.stepLoop.IncrementAccumulatedGradGlobalStep()
	return nil
}

// OnRunEnd finalizes the run exactly once: the final checkpoint flush, the
// train-end hook, logger finalization, profiler summary, accelerator
// teardown and stage reset. Calling it again is a safe no-op.
func (l *FitLoop) OnRunEnd() error {
	if l.teardownAlreadyRun {
		return nil
	}
	l.teardownAlreadyRun = true

	// Final checkpoint flush. The callbacks decide on the effective step
	// as it was before the final per-epoch increment; see
	// CheckCheckpointCallbacks.
	if err := l.CheckCheckpointCallbacks(true, true); err != nil {
		return err
	}

	if err := l.trainer.CallHook(HookOnTrainEnd); err != nil {
		return err
	}

	if logger := l.trainer.ExperimentLogger(); logger != nil {
		if err := logger.Finalize("success"); err != nil {
			return errors.Wrap(err, "logger finalize failed")
		}
	}

	l.trainer.Profiler().Describe()

	if acc := l.trainer.Accelerator(); acc != nil {
		if err := acc.OnTrainEnd(); err != nil {
			return errors.Wrap(err, "accelerator teardown failed")
		}
	}

	l.trainer.setStage(StageNone)
	return nil
}

// CheckCheckpointCallbacks runs the registered checkpoint callbacks. It is
// a no-op when shouldUpdate is false or no optimizer update has happened
// yet. During the final flush (isLast) the callbacks observe an effective
// step one below the global step, so "is this the last step" decisions see
// the value from before the final increment without the global step itself
// ever being mutated; a duplicate checkpoint at the boundary is avoided
// the same way.
func (l *FitLoop) CheckCheckpointCallbacks(shouldUpdate bool, isLast bool) error {
	if !shouldUpdate || !l.trainer.CheckpointConnector().HasTrained() {
		return nil
	}

	callbacks := l.trainer.CheckpointCallbacks()
	if len(callbacks) == 0 {
		return nil
	}

	effectiveStep := l.stepLoop.GlobalStep()
	if isLast {
		effectiveStep--
	}

	if isLast {
		for _, cb := range callbacks {
			if cb.SaveLast() && cb.Verbose() {
				l.log.Info("Saving latest checkpoint...")
				break
			}
		}
	}

	ctx := &CheckpointContext{
		Trainer:       l.trainer,
		Model:         l.trainer.Model(),
		Epoch:         l.currentEpoch,
		EffectiveStep: effectiveStep,
		IsLast:        isLast,
		Metrics:       l.trainer.LatestMetrics(),
	}

	for _, cb := range callbacks {
		if err := cb.OnValidationEnd(ctx); err != nil {
			return errors.Wrapf(err, "checkpoint callback %q failed", cb.CallbackName())
		}
	}

	return nil
}

func intPtr(v int) *int { return &v }

// optionalInt renders an optional bound for logging.
func optionalInt(v *int) any {
	if v == nil {
		return "unset"
	}
	return *v
}
