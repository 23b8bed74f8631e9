package training

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/fitloop/fitloop/checkpoints"
)

// CheckpointContext carries the point-in-time view a checkpoint callback
// decides on. EffectiveStep is the global step the "is this the last step"
// logic should see: during the final flush it is the step value before the
// last per-epoch increment, passed explicitly instead of mutating and
// restoring the shared counter.
type CheckpointContext struct {
	Trainer       *Trainer
	Model         Model
	Epoch         int
	EffectiveStep int
	IsLast        bool
	Metrics       EpochOutputs
}

// CheckpointCallback is a callback that persists model state. Callbacks are
// invoked through their validation-end hook by the epoch loop's checkpoint
// check.
type CheckpointCallback interface {
	Callback

	// SaveLast reports whether the callback writes a "last" checkpoint at
	// the end of training.
	SaveLast() bool

	// Verbose reports whether the callback announces its saves.
	Verbose() bool

	// OnValidationEnd decides whether to persist model state for the
	// given context.
	OnValidationEnd(ctx *CheckpointContext) error
}

// CheckpointConnector tracks whether any optimizer update has happened in
// this run. Checkpoint checks are skipped entirely until it has.
type CheckpointConnector struct {
	hasTrained bool
}

// HasTrained reports whether at least one optimizer step has been applied.
func (cc *CheckpointConnector) HasTrained() bool {
	return cc.hasTrained
}

// MarkTrained records that an optimizer step has been applied.
func (cc *CheckpointConnector) MarkTrained() {
	cc.hasTrained = true
}

// ModelCheckpointConfig configures the ModelCheckpoint callback.
type ModelCheckpointConfig struct {
	Dir          string             // Directory checkpoints are written to
	EveryNEpochs int                // Save every N epochs (0 = only save-last)
	SaveLast     bool               // Write a "last" checkpoint at the end of training
	Verbose      bool               // Announce saves
	MaxKeep      int                // Maximum periodic checkpoints kept (0 = unlimited)
	Format       checkpoints.Format // Serialization format
}

// DefaultModelCheckpointConfig returns a sensible default configuration.
func DefaultModelCheckpointConfig() ModelCheckpointConfig {
	return ModelCheckpointConfig{
		Dir:          "./checkpoints",
		EveryNEpochs: 1,
		SaveLast:     true,
		Verbose:      false,
		MaxKeep:      10,
		Format:       checkpoints.FormatJSON,
	}
}

// ModelCheckpoint persists model state periodically and at the end of
// training.
type ModelCheckpoint struct {
	config     ModelCheckpointConfig
	saver      *checkpoints.Saver
	bestLoss   float64
	savedFiles []string
	log        *slog.Logger
}

// NewModelCheckpoint creates a checkpoint callback with the given config.
func NewModelCheckpoint(config ModelCheckpointConfig) *ModelCheckpoint {
	if config.Dir == "" {
		config.Dir = "./checkpoints"
	}
	return &ModelCheckpoint{
		config:   config,
		saver:    checkpoints.NewSaver(config.Format),
		bestLoss: 1e10,
		log:      slog.Default(),
	}
}

// CallbackName implements Callback.
func (mc *ModelCheckpoint) CallbackName() string { return "model_checkpoint" }

// SaveLast implements CheckpointCallback.
func (mc *ModelCheckpoint) SaveLast() bool { return mc.config.SaveLast }

// Verbose implements CheckpointCallback.
func (mc *ModelCheckpoint) Verbose() bool { return mc.config.Verbose }

// OnValidationEnd implements CheckpointCallback. During the run it saves a
// periodic checkpoint every EveryNEpochs epochs; during the final flush it
// writes the "last" checkpoint when configured to.
func (mc *ModelCheckpoint) OnValidationEnd(ctx *CheckpointContext) error {
	if ctx.IsLast {
		if !mc.config.SaveLast {
			return nil
		}
		return mc.save(ctx, fmt.Sprintf("last.%s", mc.config.Format.Extension()), false)
	}

	if mc.config.EveryNEpochs <= 0 || ctx.Epoch%mc.config.EveryNEpochs != 0 {
		return nil
	}

	filename := fmt.Sprintf("checkpoint_epoch_%d_step_%d.%s", ctx.Epoch, ctx.EffectiveStep, mc.config.Format.Extension())
	return mc.save(ctx, filename, true)
}

// SavedFiles returns the periodic checkpoint files still on disk, oldest
// first.
func (mc *ModelCheckpoint) SavedFiles() []string {
	return mc.savedFiles
}

func (mc *ModelCheckpoint) save(ctx *CheckpointContext, filename string, trackForCleanup bool) error {
	if err := os.MkdirAll(mc.config.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	if loss, ok := ctx.Metrics["val_loss"]; ok && loss < mc.bestLoss {
		mc.bestLoss = loss
	}

	checkpoint := mc.buildCheckpoint(ctx)
	path := filepath.Join(mc.config.Dir, filename)

	if err := mc.saver.Save(checkpoint, path); err != nil {
		return fmt.Errorf("failed to save checkpoint: %v", err)
	}

	if mc.config.Verbose {
		mc.log.Info("saved checkpoint", "path", path, "epoch", ctx.Epoch, "step", ctx.EffectiveStep)
	}

	if collector := ctx.Trainer.Collector(); collector != nil {
		collector.RecordCheckpointSaved()
	}

	if trackForCleanup {
		mc.savedFiles = append(mc.savedFiles, path)
		if err := mc.cleanupOldCheckpoints(); err != nil {
			// Cleanup failure should not fail the save
			mc.log.Warn("failed to clean up old checkpoints", "error", err)
		}
	}

	return nil
}

func (mc *ModelCheckpoint) buildCheckpoint(ctx *CheckpointContext) *checkpoints.Checkpoint {
	state := ctx.Model.StateDict()

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]checkpoints.WeightTensor, 0, len(state))
	for _, name := range names {
		data := state[name]
		weights = append(weights, checkpoints.WeightTensor{
			Name:  name,
			Shape: []int{len(data)},
			Data:  data,
		})
	}

	var lr float64
	if oc := ctx.Trainer.OptimizerConnector(); oc != nil && oc.Optimizer() != nil {
		lr = oc.Optimizer().LearningRate()
	}

	return &checkpoints.Checkpoint{
		Weights: weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:        ctx.Epoch,
			GlobalStep:   ctx.EffectiveStep,
			LearningRate: lr,
			BestLoss:     mc.bestLoss,
		},
		Metadata: checkpoints.Metadata{
			Version:     "1.0.0",
			Framework:   "fitloop",
			Description: fmt.Sprintf("%s at epoch %d", ctx.Model.Name(), ctx.Epoch),
			Tags:        []string{fmt.Sprintf("epoch_%d", ctx.Epoch)},
		},
	}
}

func (mc *ModelCheckpoint) cleanupOldCheckpoints() error {
	if mc.config.MaxKeep <= 0 {
		return nil // No limit
	}

	if len(mc.savedFiles) <= mc.config.MaxKeep {
		return nil
	}

	toRemove := len(mc.savedFiles) - mc.config.MaxKeep
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(mc.savedFiles[i]); err != nil {
			return fmt.Errorf("failed to remove old checkpoint %s: %v", mc.savedFiles[i], err)
		}
	}

	mc.savedFiles = mc.savedFiles[toRemove:]
	return nil
}
