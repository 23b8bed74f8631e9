package training

import (
	"io"
	"log/slog"
)

// Shared test doubles for the loop tests.

type stubModel struct{}

func (stubModel) Name() string { return "stub" }

func (stubModel) StateDict() map[string][]float64 {
	return map[string][]float64{
		"weights": {0.1, 0.2, 0.3},
		"bias":    {0.5},
	}
}

type stubOptimizer struct {
	steps     int
	zeroGrads int
	lr        float64
}

func (o *stubOptimizer) Step() error                { o.steps++; return nil }
func (o *stubOptimizer) ZeroGrad()                  { o.zeroGrads++ }
func (o *stubOptimizer) LearningRate() float64      { return o.lr }
func (o *stubOptimizer) SetLearningRate(lr float64) { o.lr = lr }

// makeDataset builds n one-feature samples.
func makeDataset(n int) *SliceDataset {
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{
			Input:  []float64{float64(i)},
			Target: []float64{float64(i) * 2},
		}
	}
	return NewSliceDataset(samples)
}

func makeLoader(samples, batchSize int) *SliceDataLoader {
	return NewSliceDataLoader(makeDataset(samples), batchSize, false, 1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func constantLossStep(loss float64, calls *int) TrainStepFunc {
	return func(Model, *Batch) (float64, error) {
		if calls != nil {
			*calls++
		}
		return loss, nil
	}
}

func constantEvalStep(loss float64, calls *int) EvalStepFunc {
	return func(Model, *Batch) (float64, error) {
		if calls != nil {
			*calls++
		}
		return loss, nil
	}
}

// hookRecorder records every lifecycle hook in invocation order.
type hookRecorder struct {
	events []string
}

func (r *hookRecorder) CallbackName() string { return "hook_recorder" }

func (r *hookRecorder) OnTrainStart(*Trainer) error {
	r.events = append(r.events, "train_start")
	return nil
}

func (r *hookRecorder) OnEpochStart(_ *Trainer, epoch int) error {
	r.events = append(r.events, "epoch_start")
	return nil
}

func (r *hookRecorder) OnTrainEpochStart(_ *Trainer, epoch int) error {
	r.events = append(r.events, "train_epoch_start")
	return nil
}

func (r *hookRecorder) OnTrainEnd(*Trainer) error {
	r.events = append(r.events, "train_end")
	return nil
}

func (r *hookRecorder) count(event string) int {
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// stopRequester requests a stop after every validation pass.
type stopRequester struct {
	BaseCallback
	requests int
}

func (r *stopRequester) CallbackName() string { return "stop_requester" }

func (r *stopRequester) OnValidationEnd(trainer *Trainer, _ EpochOutputs) error {
	r.requests++
	trainer.RequestStop()
	return nil
}

// checkpointRecord is the view one checkpoint-callback invocation saw.
type checkpointRecord struct {
	epoch         int
	effectiveStep int
	isLast        bool
}

// checkpointRecorder records every checkpoint check it receives.
type checkpointRecorder struct {
	name     string
	saveLast bool
	verbose  bool
	records  []checkpointRecord
}

func (c *checkpointRecorder) CallbackName() string { return c.name }
func (c *checkpointRecorder) SaveLast() bool       { return c.saveLast }
func (c *checkpointRecorder) Verbose() bool        { return c.verbose }

func (c *checkpointRecorder) OnValidationEnd(ctx *CheckpointContext) error {
	c.records = append(c.records, checkpointRecord{
		epoch:         ctx.Epoch,
		effectiveStep: ctx.EffectiveStep,
		isLast:        ctx.IsLast,
	})
	return nil
}

// finalizeRecorder records experiment logger activity.
type finalizeRecorder struct {
	logged    int
	finalized []string
}

func (f *finalizeRecorder) LogMetrics(int, EpochOutputs) error {
	f.logged++
	return nil
}

func (f *finalizeRecorder) Finalize(status string) error {
	f.finalized = append(f.finalized, status)
	return nil
}
