package main

import (
	"fmt"
	"math/rand"

	"github.com/fitloop/fitloop/training"
)

// The run command trains a small linear regression model on synthetic data.
// It exists to exercise the full loop end to end; real models plug into the
// same Model/Optimizer/step function seams.

// linearModel is y = w·x + b with hand-computed gradients.
type linearModel struct {
	weights []float64
	bias    float64

	gradWeights []float64
	gradBias    float64
}

func newLinearModel(features int, rng *rand.Rand) *linearModel {
	weights := make([]float64, features)
	for i := range weights {
		weights[i] = rng.NormFloat64() * 0.1
	}
	return &linearModel{
		weights:     weights,
		gradWeights: make([]float64, features),
	}
}

// Name implements training.Model.
func (m *linearModel) Name() string { return "linear_regression" }

// StateDict implements training.Model.
func (m *linearModel) StateDict() map[string][]float64 {
	weights := make([]float64, len(m.weights))
	copy(weights, m.weights)
	return map[string][]float64{
		"weights": weights,
		"bias":    {m.bias},
	}
}

func (m *linearModel) forward(inputs []float64) float64 {
	out := m.bias
	for i, w := range m.weights {
		out += w * inputs[i]
	}
	return out
}

// accumulate adds the squared-error gradients for one sample.
func (m *linearModel) accumulate(inputs []float64, pred, target float64) {
	diff := pred - target
	for i, x := range inputs {
		m.gradWeights[i] += 2 * diff * x
	}
	m.gradBias += 2 * diff
}

// sgd applies plain gradient descent to a linearModel.
type sgd struct {
	model *linearModel
	lr    float64
}

func newSGD(model *linearModel, lr float64) *sgd {
	return &sgd{model: model, lr: lr}
}

// Step implements training.Optimizer.
func (o *sgd) Step() error {
	for i, g := range o.model.gradWeights {
		o.model.weights[i] -= o.lr * g
	}
	o.model.bias -= o.lr * o.model.gradBias
	return nil
}

// ZeroGrad implements training.Optimizer.
func (o *sgd) ZeroGrad() {
	for i := range o.model.gradWeights {
		o.model.gradWeights[i] = 0
	}
	o.model.gradBias = 0
}

// LearningRate implements training.Optimizer.
func (o *sgd) LearningRate() float64 { return o.lr }

// SetLearningRate implements training.Optimizer.
func (o *sgd) SetLearningRate(lr float64) { o.lr = lr }

// trainStep computes the batch MSE and accumulates gradients on the model.
func trainStep(model training.Model, batch *training.Batch) (float64, error) {
	m, ok := model.(*linearModel)
	if !ok {
		return 0, fmt.Errorf("unexpected model type %T", model)
	}

	var loss float64
	for i, inputs := range batch.Inputs {
		pred := m.forward(inputs)
		target := batch.Targets[i][0]
		diff := pred - target
		loss += diff * diff
		m.accumulate(inputs, pred, target)
	}
	n := float64(len(batch.Inputs))
	// Gradients scale with the mean, matching the loss.
	for i := range m.gradWeights {
		m.gradWeights[i] /= n
	}
	m.gradBias /= n

	return loss / n, nil
}

// evalStep computes the batch MSE without touching gradients.
func evalStep(model training.Model, batch *training.Batch) (float64, error) {
	m, ok := model.(*linearModel)
	if !ok {
		return 0, fmt.Errorf("unexpected model type %T", model)
	}

	var loss float64
	for i, inputs := range batch.Inputs {
		diff := m.forward(inputs) - batch.Targets[i][0]
		loss += diff * diff
	}
	return loss / float64(len(batch.Inputs)), nil
}

// makeDataset generates noisy samples of y = 3*x0 - 2*x1 + 0.5.
func makeDataset(n int, rng *rand.Rand) *training.SliceDataset {
	samples := make([]training.Sample, n)
	for i := range samples {
		x0 := rng.Float64()*4 - 2
		x1 := rng.Float64()*4 - 2
		y := 3*x0 - 2*x1 + 0.5 + rng.NormFloat64()*0.05
		samples[i] = training.Sample{
			Input:  []float64{x0, x1},
			Target: []float64{y},
		}
	}
	return training.NewSliceDataset(samples)
}
