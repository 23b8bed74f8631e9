package training

import (
	"fmt"
)

// EvaluationLoop runs the epoch-level validation pass over the trainer's
// validation dataloader.
type EvaluationLoop struct {
	trainer  *Trainer
	evalStep EvalStepFunc
}

// NewEvaluationLoop creates an evaluation loop delegating per-batch work to
// evalStep.
func NewEvaluationLoop(trainer *Trainer, evalStep EvalStepFunc) *EvaluationLoop {
	return &EvaluationLoop{trainer: trainer, evalStep: evalStep}
}

// ShouldSkipEvaluation reports whether validation should be skipped, e.g.
// when there are no validation batches at all.
func (e *EvaluationLoop) ShouldSkipEvaluation(numValBatches int) bool {
	return numValBatches == 0
}

// Run performs one full validation pass and returns its metrics.
func (e *EvaluationLoop) Run(onEpoch bool) (EpochOutputs, error) {
	loader := e.trainer.ValLoader()
	if loader == nil {
		return EpochOutputs{}, nil
	}
	if e.evalStep == nil {
		return nil, fmt.Errorf("no eval step configured")
	}

	loader.Reset()

	var totalLoss float64
	batches := 0

	for b := 0; ; b++ {
		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch validation batch %d: %v", b, err)
		}
		if batch == nil {
			break
		}

		loss, err := e.evalStep(e.trainer.Model(), batch)
		if err != nil {
			return nil, fmt.Errorf("eval step failed at batch %d: %v", b, err)
		}

		totalLoss += loss
		batches++
	}

	if batches == 0 {
		return EpochOutputs{"val_loss": 0, "val_batches": 0}, nil
	}

	return EpochOutputs{
		"val_loss":    totalLoss / float64(batches),
		"val_batches": float64(batches),
	}, nil
}
