package training

// Model is the minimal contract the loop needs from a trainable model.
// Forward/backward mechanics live entirely in the TrainStepFunc and
// EvalStepFunc supplied by the caller; the loop itself only needs to
// identify the model and snapshot its parameters for checkpointing.
type Model interface {
	// Name returns a human-readable model identifier used in logs and
	// checkpoint metadata.
	Name() string

	// StateDict returns the current parameter values keyed by parameter
	// name. The returned slices are snapshots owned by the caller.
	StateDict() map[string][]float64
}

// TrainStepFunc executes one training batch: forward pass, loss computation
// and gradient accumulation. It must not apply the optimizer update; the
// step loop decides when a full accumulation window has been seen.
type TrainStepFunc func(model Model, batch *Batch) (loss float64, err error)

// EvalStepFunc executes one evaluation batch and returns its loss. No
// gradients are produced.
type EvalStepFunc func(model Model, batch *Batch) (loss float64, err error)
