package training

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/fitloop/metrics"
)

func newTestTrainer(t *testing.T, config TrainerConfig) (*Trainer, *stubOptimizer, *int) {
	t.Helper()

	if config.Log == nil {
		config.Log = quietLogger()
	}

	optimizer := &stubOptimizer{lr: 0.1}
	steps := new(int)

	trainer, err := NewTrainer(stubModel{}, optimizer, constantLossStep(1.0, steps), constantEvalStep(0.5, nil), config)
	require.NoError(t, err)

	return trainer, optimizer, steps
}

func TestFitLoopRunsExactlyMaxEpochs(t *testing.T) {
	trainer, optimizer, steps := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(3),
	})

	require.NoError(t, trainer.Fit(makeLoader(8, 2), nil))

	assert.Equal(t, 3, trainer.CurrentEpoch())
	// 4 batches per epoch, accumulation window 1: every batch is one
	// optimizer update.
	assert.Equal(t, 12, *steps)
	assert.Equal(t, 12, trainer.GlobalStep())
	assert.Equal(t, 12, optimizer.steps)
}

func TestFitLoopMaxStepsStopsMidEpoch(t *testing.T) {
	trainer, _, steps := newTestTrainer(t, TrainerConfig{
		MaxSteps: intPtr(5),
	})

	require.NoError(t, trainer.Fit(makeLoader(8, 2), nil))

	// 4 steps in the first epoch, then the second epoch is cut off once
	// the bound is hit.
	assert.Equal(t, 5, trainer.GlobalStep())
	assert.Equal(t, 2, trainer.CurrentEpoch())
	assert.Equal(t, 5, *steps)
}

func TestFitLoopDefaultBounds(t *testing.T) {
	t.Run("no bounds at all", func(t *testing.T) {
		trainer, _, _ := newTestTrainer(t, TrainerConfig{})
		require.NotNil(t, trainer.FitLoop().MaxEpochs())
		assert.Equal(t, 1000, *trainer.FitLoop().MaxEpochs())
		require.NotNil(t, trainer.FitLoop().MinEpochs())
		assert.Equal(t, 1, *trainer.FitLoop().MinEpochs())
	})

	t.Run("max steps set leaves max epochs unbounded", func(t *testing.T) {
		trainer, _, _ := newTestTrainer(t, TrainerConfig{MaxSteps: intPtr(10)})
		assert.Nil(t, trainer.FitLoop().MaxEpochs())
	})

	t.Run("min steps set leaves min epochs unset", func(t *testing.T) {
		trainer, _, _ := newTestTrainer(t, TrainerConfig{MinSteps: intPtr(10)})
		assert.Nil(t, trainer.FitLoop().MinEpochs())
	})
}

func TestNewTrainerRejectsConflictingBounds(t *testing.T) {
	cases := []struct {
		name   string
		config TrainerConfig
	}{
		{"min epochs above max epochs", TrainerConfig{MinEpochs: intPtr(5), MaxEpochs: intPtr(2)}},
		{"min steps above max steps", TrainerConfig{MinSteps: intPtr(100), MaxSteps: intPtr(10)}},
		{"negative max epochs", TrainerConfig{MaxEpochs: intPtr(-2)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.config.Log = quietLogger()
			_, err := NewTrainer(stubModel{}, &stubOptimizer{lr: 0.1}, constantLossStep(1.0, nil), nil, tc.config)
			assert.Error(t, err)
		})
	}
}

func TestStopDeferredUntilMinEpochs(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollectorWith(registry)

	requester := &stopRequester{}
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MinEpochs: intPtr(3),
		MaxEpochs: intPtr(10),
		Collector: collector,
	})
	trainer.RegisterCallbacks(requester)

	require.NoError(t, trainer.Fit(makeLoader(8, 2), makeLoader(4, 2)))

	// The request after epoch 1 arrives below the floor and is deferred;
	// the request after epoch 2 is honored.
	assert.Equal(t, 2, trainer.CurrentEpoch())
	assert.Equal(t, StopStateStopped, trainer.StopState())
	assert.Equal(t, 2, requester.requests)

	expected := strings.NewReader(`
# HELP fitloop_early_stop_deferred_total Stop requests deferred because a minimum duration floor was not met.
# TYPE fitloop_early_stop_deferred_total counter
fitloop_early_stop_deferred_total 1
`)
	require.NoError(t, testutil.GatherAndCompare(registry, expected, "fitloop_early_stop_deferred_total"))
}

func TestStopHonoredImmediatelyWithoutFloors(t *testing.T) {
	requester := &stopRequester{}
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(10),
	})
	trainer.RegisterCallbacks(requester)

	require.NoError(t, trainer.Fit(makeLoader(8, 2), makeLoader(4, 2)))

	assert.Equal(t, 1, trainer.CurrentEpoch())
	assert.Equal(t, StopStateStopped, trainer.StopState())
}

func TestStopGatedByMinSteps(t *testing.T) {
	requester := &stopRequester{}
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MinSteps:  intPtr(10),
		MaxEpochs: intPtr(10),
	})
	trainer.RegisterCallbacks(requester)

	require.NoError(t, trainer.Fit(makeLoader(8, 2), makeLoader(4, 2)))

	// 4 optimizer updates per epoch: the floor of 10 steps is first met
	// after the third epoch.
	assert.Equal(t, 3, trainer.CurrentEpoch())
	assert.GreaterOrEqual(t, trainer.GlobalStep(), 10)
	assert.Equal(t, StopStateStopped, trainer.StopState())
}

func TestRunEndIsIdempotent(t *testing.T) {
	recorder := &hookRecorder{}
	logger := &finalizeRecorder{}
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(2),
		Logger:    logger,
	})
	trainer.RegisterCallbacks(recorder)

	require.NoError(t, trainer.Fit(makeLoader(4, 2), nil))
	assert.Equal(t, 1, recorder.count("train_end"))
	assert.Equal(t, []string{"success"}, logger.finalized)

	// A second teardown must not re-fire hooks or re-finalize.
	require.NoError(t, trainer.FitLoop().OnRunEnd())
	assert.Equal(t, 1, recorder.count("train_end"))
	assert.Equal(t, []string{"success"}, logger.finalized)
}

func TestTeardownRunsWhenEpochFails(t *testing.T) {
	recorder := &hookRecorder{}
	logger := &finalizeRecorder{}

	calls := 0
	failingStep := func(Model, *Batch) (float64, error) {
		calls++
		if calls > 5 {
			return 0, fmt.Errorf("synthetic step failure")
		}
		return 1.0, nil
	}

	trainer, err := NewTrainer(stubModel{}, &stubOptimizer{lr: 0.1}, failingStep, nil, TrainerConfig{
		MaxEpochs: intPtr(5),
		Logger:    logger,
		Log:       quietLogger(),
	})
	require.NoError(t, err)
	trainer.RegisterCallbacks(recorder)

	err = trainer.Fit(makeLoader(8, 2), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthetic step failure")

	// Teardown still ran, exactly once.
	assert.Equal(t, 1, recorder.count("train_end"))
	assert.Len(t, logger.finalized, 1)
}

func TestZeroEpochRunStillFiresLifecycleHooks(t *testing.T) {
	recorder := &hookRecorder{}
	trainer, _, steps := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(0),
	})
	trainer.RegisterCallbacks(recorder)

	require.NoError(t, trainer.Fit(makeLoader(4, 2), nil))

	assert.Equal(t, 0, *steps)
	assert.Equal(t, []string{"train_start", "train_end"}, recorder.events)
}

func TestHookOrderAcrossEpochs(t *testing.T) {
	recorder := &hookRecorder{}
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(2),
	})
	trainer.RegisterCallbacks(recorder)

	require.NoError(t, trainer.Fit(makeLoader(4, 2), nil))

	assert.Equal(t, []string{
		"train_start",
		"epoch_start", "train_epoch_start",
		"epoch_start", "train_epoch_start",
		"train_end",
	}, recorder.events)
}

func TestFinalCheckpointSeesEffectiveStep(t *testing.T) {
	recorder := &checkpointRecorder{name: "recorder", saveLast: true}
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(2),
	})
	trainer.RegisterCallbacks(recorder)

	require.NoError(t, trainer.Fit(makeLoader(6, 2), makeLoader(4, 2)))

	// 3 batches per epoch: 2 in-loop updates plus the deferred epoch-end
	// increment.
	require.Equal(t, 6, trainer.GlobalStep())

	require.Len(t, recorder.records, 3)

	// Per-epoch checks run before the deferred increment.
	assert.Equal(t, checkpointRecord{epoch: 1, effectiveStep: 2, isLast: false}, recorder.records[0])
	assert.Equal(t, checkpointRecord{epoch: 2, effectiveStep: 5, isLast: false}, recorder.records[1])

	// The final flush observes the step before the last increment while the
	// global step itself stays untouched.
	assert.Equal(t, checkpointRecord{epoch: 2, effectiveStep: 5, isLast: true}, recorder.records[2])
	assert.Equal(t, 6, trainer.GlobalStep())
}

func TestSaveLastAnnouncementLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	first := &checkpointRecorder{name: "first", saveLast: true, verbose: true}
	second := &checkpointRecorder{name: "second", saveLast: true, verbose: true}

	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(1),
		Log:       log,
	})
	trainer.RegisterCallbacks(first, second)

	require.NoError(t, trainer.Fit(makeLoader(4, 2), nil))

	assert.Equal(t, 1, strings.Count(buf.String(), "Saving latest checkpoint"))
	assert.True(t, recorderSawFinal(first))
	assert.True(t, recorderSawFinal(second))
}

func recorderSawFinal(r *checkpointRecorder) bool {
	for _, rec := range r.records {
		if rec.isLast {
			return true
		}
	}
	return false
}

func TestDataloaderReloadAndReseeding(t *testing.T) {
	factoryCalls := 0
	var epochs []int

	loader := &seedRecordingLoader{inner: makeLoader(4, 2), epochs: &epochs}

	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs:                   intPtr(3),
		ReloadDataloadersEveryEpoch: true,
	})
	trainer.SetTrainLoaderFactory(func() DataLoader {
		factoryCalls++
		return loader
	})

	require.NoError(t, trainer.Fit(loader, nil))

	// The reload happens before every epoch except the very first.
	assert.Equal(t, 2, factoryCalls)
	assert.Equal(t, []int{1, 2, 3}, epochs)
}

// seedRecordingLoader wraps a loader and records SetEpoch calls.
type seedRecordingLoader struct {
	inner  *SliceDataLoader
	epochs *[]int
}

func (l *seedRecordingLoader) Len() int              { return l.inner.Len() }
func (l *seedRecordingLoader) Reset()                { l.inner.Reset() }
func (l *seedRecordingLoader) Next() (*Batch, error) { return l.inner.Next() }
func (l *seedRecordingLoader) SetEpoch(epoch int)    { *l.epochs = append(*l.epochs, epoch) }

func TestValidationIntervalSkipsEpochs(t *testing.T) {
	requester := &stopRequester{}
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs:        intPtr(4),
		ValCheckInterval: 2,
	})
	trainer.RegisterCallbacks(requester)

	// The stop request fires on validation end; with an interval of 2 the
	// first validation pass happens after epoch 2 and stops the run there.
	require.NoError(t, trainer.Fit(makeLoader(4, 2), makeLoader(4, 2)))

	assert.Equal(t, 1, requester.requests)
	assert.Equal(t, 2, trainer.CurrentEpoch())
}

func TestNoValLoaderRunsSingleCheckpointCheckPerEpoch(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollectorWith(registry)

	recorder := &checkpointRecorder{name: "recorder", saveLast: true}
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(1),
		Collector: collector,
	})
	trainer.RegisterCallbacks(recorder)

	require.NoError(t, trainer.Fit(makeLoader(4, 2), nil))

	// Without a validation loader the epoch runs exactly one train-only
	// checkpoint check, then the final flush; no phantom validation pass.
	require.Len(t, recorder.records, 2)
	assert.False(t, recorder.records[0].isLast)
	assert.True(t, recorder.records[1].isLast)

	expected := strings.NewReader(`
# HELP fitloop_validation_runs_total Number of epoch-level validation passes.
# TYPE fitloop_validation_runs_total counter
fitloop_validation_runs_total 0
`)
	require.NoError(t, testutil.GatherAndCompare(registry, expected, "fitloop_validation_runs_total"))
}

func TestDisableValidationSkipsEvalAndStillCheckpoints(t *testing.T) {
	recorder := &checkpointRecorder{name: "recorder", saveLast: true}
	evalCalls := 0

	trainer, err := NewTrainer(stubModel{}, &stubOptimizer{lr: 0.1},
		constantLossStep(1.0, nil), constantEvalStep(0.5, &evalCalls), TrainerConfig{
			MaxEpochs:         intPtr(2),
			DisableValidation: true,
			Log:               quietLogger(),
		})
	require.NoError(t, err)
	trainer.RegisterCallbacks(recorder)

	require.NoError(t, trainer.Fit(makeLoader(4, 2), makeLoader(4, 2)))

	assert.Equal(t, 0, evalCalls)
	// Two train-only epoch checks plus the final flush.
	require.Len(t, recorder.records, 3)
	assert.True(t, recorder.records[2].isLast)
}

func TestAccumulationScheduleChangesWindow(t *testing.T) {
	trainer, optimizer, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs:             intPtr(2),
		AccumulateGradBatches: 1,
	})
	trainer.SetAccumulationSchedule(map[int]int{2: 4})

	require.NoError(t, trainer.Fit(makeLoader(8, 2), nil))

	// Epoch 1 at window 1: 4 updates. Epoch 2 at window 4: one update for
	// the whole epoch.
	assert.Equal(t, 4, trainer.AccumulateGradBatches())
	assert.Equal(t, 5, optimizer.steps)
	assert.Equal(t, 5, trainer.GlobalStep())
}

func TestLatestMetricsMergeTrainAndValidation(t *testing.T) {
	trainer, _, _ := newTestTrainer(t, TrainerConfig{
		MaxEpochs: intPtr(1),
	})

	require.NoError(t, trainer.Fit(makeLoader(4, 2), makeLoader(4, 2)))

	latest := trainer.LatestMetrics()
	assert.InDelta(t, 1.0, latest["train_loss"], 1e-9)
	assert.InDelta(t, 0.5, latest["val_loss"], 1e-9)
}
