package training

// Optimizer applies parameter updates from accumulated gradients.
// The step loop calls Step once per accumulation window; learning rate
// changes arrive through SetLearningRate from the optimizer connector.
type Optimizer interface {
	// Step applies the accumulated gradients to the model parameters.
	Step() error

	// ZeroGrad clears accumulated gradients before a new window.
	ZeroGrad()

	// LearningRate returns the current learning rate.
	LearningRate() float64

	// SetLearningRate replaces the current learning rate.
	SetLearningRate(lr float64)
}

// ScheduleInterval selects when a bound scheduler is applied.
type ScheduleInterval string

const (
	// IntervalEpoch schedulers update once per epoch, either after the
	// epoch-level validation pass or directly at epoch end when no
	// validation runs.
	IntervalEpoch ScheduleInterval = "epoch"

	// IntervalStep schedulers update after every optimizer step.
	IntervalStep ScheduleInterval = "step"
)

// SchedulerBinding attaches a learning rate scheduler to an update interval.
type SchedulerBinding struct {
	Scheduler LRScheduler
	Interval  ScheduleInterval
}

// OptimizerConnector mediates between the loop and the optimizer: it owns
// the scheduler bindings and applies the ones matching the requested
// interval using the loop's current epoch and global step.
type OptimizerConnector struct {
	trainer   *Trainer
	optimizer Optimizer
	baseLR    float64
	bindings  []SchedulerBinding
}

// NewOptimizerConnector creates a connector for the given optimizer. The
// optimizer's learning rate at construction time becomes the base rate fed
// to every scheduler.
func NewOptimizerConnector(trainer *Trainer, optimizer Optimizer) *OptimizerConnector {
	return &OptimizerConnector{
		trainer:   trainer,
		optimizer: optimizer,
		baseLR:    optimizer.LearningRate(),
	}
}

// BindScheduler registers a scheduler to run at the given interval.
func (oc *OptimizerConnector) BindScheduler(s LRScheduler, interval ScheduleInterval) {
	oc.bindings = append(oc.bindings, SchedulerBinding{Scheduler: s, Interval: interval})
}

// Optimizer returns the wrapped optimizer.
func (oc *OptimizerConnector) Optimizer() Optimizer {
	return oc.optimizer
}

// UpdateLearningRates applies every scheduler bound to the given interval.
func (oc *OptimizerConnector) UpdateLearningRates(interval ScheduleInterval) {
	if oc == nil || oc.optimizer == nil {
		return
	}
	epoch := oc.trainer.CurrentEpoch()
	step := oc.trainer.GlobalStep()
	for _, b := range oc.bindings {
		if b.Interval != interval {
			continue
		}
		lr := b.Scheduler.GetLR(epoch, step, oc.baseLR)
		oc.optimizer.SetLearningRate(lr)
	}
}
