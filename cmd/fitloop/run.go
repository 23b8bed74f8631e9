package main

import (
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fitloop/fitloop/accelerator"
	"github.com/fitloop/fitloop/checkpoints"
	"github.com/fitloop/fitloop/config"
	"github.com/fitloop/fitloop/metrics"
	"github.com/fitloop/fitloop/profiler"
	"github.com/fitloop/fitloop/training"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Train the demo regression model",
	Long: `Run trains a small linear regression model on synthetic data using
the full training loop: epoch/step bounds, validation, learning rate
scheduling, early stopping, checkpointing and metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		return runTraining(cfg)
	},
}

func runTraining(cfg config.Config) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			log.Info("serving metrics", "addr", cfg.Metrics.Addr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	model := newLinearModel(2, rng)
	optimizer := newSGD(model, cfg.LearningRate)

	trainData := makeDataset(800, rng)
	valData := makeDataset(200, rng)
	trainLoader := training.NewSliceDataLoader(trainData, cfg.BatchSize, true, cfg.Seed)
	valLoader := training.NewSliceDataLoader(valData, cfg.BatchSize, false, cfg.Seed)

	if err := os.MkdirAll(cfg.Checkpoint.Dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}
	expLogger, err := training.NewJSONLinesLogger(filepath.Join(cfg.Checkpoint.Dir, "metrics.jsonl"))
	if err != nil {
		return err
	}

	trainer, err := training.NewTrainer(model, optimizer, trainStep, evalStep, training.TrainerConfig{
		MinEpochs:                   cfg.MinEpochs,
		MaxEpochs:                   cfg.MaxEpochs,
		MinSteps:                    cfg.MinSteps,
		MaxSteps:                    cfg.MaxSteps,
		ValCheckInterval:            cfg.ValCheckInterval,
		AccumulateGradBatches:       cfg.AccumulateGradBatches,
		ReloadDataloadersEveryEpoch: cfg.ReloadDataloadersEveryEpoch,
		DisableValidation:           cfg.DisableValidation,
		Profiler:                    profiler.NewSimple(log),
		Accelerator:                 accelerator.NewCPU(),
		Logger:                      expLogger,
		Collector:                   collector,
		Log:                         log,
	})
	if err != nil {
		return err
	}

	trainer.RegisterCallbacks(
		training.NewProgressCallback(),
		training.NewModelCheckpoint(training.ModelCheckpointConfig{
			Dir:          cfg.Checkpoint.Dir,
			EveryNEpochs: cfg.Checkpoint.EveryNEpochs,
			SaveLast:     cfg.Checkpoint.SaveLast,
			Verbose:      cfg.Checkpoint.Verbose,
			MaxKeep:      cfg.Checkpoint.MaxKeep,
			Format:       checkpoints.FormatJSON,
		}),
	)

	if cfg.EarlyStopping.Enabled {
		trainer.RegisterCallbacks(training.NewEarlyStopping(training.EarlyStoppingConfig{
			Monitor:  cfg.EarlyStopping.Monitor,
			MinDelta: cfg.EarlyStopping.MinDelta,
			Patience: cfg.EarlyStopping.Patience,
			Mode:     cfg.EarlyStopping.Mode,
		}))
	}

	log.Info("starting training",
		"model", model.Name(),
		"train_batches", trainLoader.Len(),
		"val_batches", valLoader.Len())

	if err := trainer.Fit(trainLoader, valLoader); err != nil {
		return errors.Wrap(err, "training failed")
	}

	log.Info("training complete",
		"epochs", trainer.CurrentEpoch(),
		"global_step", trainer.GlobalStep(),
		"final_metrics", trainer.LatestMetrics())
	return nil
}
