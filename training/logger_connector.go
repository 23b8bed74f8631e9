package training

import (
	"log/slog"

	"github.com/fitloop/fitloop/metrics"
)

// ExperimentLogger is the experiment-tracking collaborator: it receives
// epoch metrics during the run and is finalized exactly once at run end
// with the terminal status.
type ExperimentLogger interface {
	// LogMetrics records metrics for the given epoch.
	LogMetrics(epoch int, values EpochOutputs) error

	// Finalize marks the run finished with the given status ("success",
	// "failed", ...). Implementations flush buffered state here.
	Finalize(status string) error
}

// LoggerConnector routes epoch-level metrics to the structured log, the
// Prometheus collector and the experiment logger, and keeps an in-memory
// history for callbacks that want to inspect past epochs.
type LoggerConnector struct {
	log       *slog.Logger
	collector *metrics.Collector
	logger    ExperimentLogger
	history   []EpochOutputs
}

// NewLoggerConnector creates a connector. collector and logger may be nil.
func NewLoggerConnector(log *slog.Logger, collector *metrics.Collector, logger ExperimentLogger) *LoggerConnector {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerConnector{log: log, collector: collector, logger: logger}
}

// LogTrainEpochEndMetrics records the outputs of a completed training
// epoch.
func (lc *LoggerConnector) LogTrainEpochEndMetrics(epoch int, outputs EpochOutputs) error {
	lc.history = append(lc.history, outputs)

	attrs := []any{"epoch", epoch}
	for _, key := range []string{"train_loss", "running_loss", "batches"} {
		if v, ok := outputs[key]; ok {
			attrs = append(attrs, key, v)
		}
	}
	lc.log.Info("train epoch finished", attrs...)

	if lc.logger != nil {
		return lc.logger.LogMetrics(epoch, outputs)
	}
	return nil
}

// LogValidationMetrics records the outputs of a validation pass.
func (lc *LoggerConnector) LogValidationMetrics(epoch int, outputs EpochOutputs) error {
	attrs := []any{"epoch", epoch}
	for _, key := range []string{"val_loss", "val_batches"} {
		if v, ok := outputs[key]; ok {
			attrs = append(attrs, key, v)
		}
	}
	lc.log.Info("validation finished", attrs...)

	lc.collector.RecordValidationRun()

	if lc.logger != nil {
		return lc.logger.LogMetrics(epoch, outputs)
	}
	return nil
}

// History returns the train-epoch outputs recorded so far, oldest first.
func (lc *LoggerConnector) History() []EpochOutputs {
	return lc.history
}
