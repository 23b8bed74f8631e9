package training

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// JSONLinesLogger is an ExperimentLogger writing one JSON document per
// epoch to a file, plus a terminal status record on Finalize. The format is
// append-only so a crashed run keeps everything logged up to the crash.
type JSONLinesLogger struct {
	file      *os.File
	finalized bool
}

// NewJSONLinesLogger opens (or creates) the metrics file at path.
func NewJSONLinesLogger(path string) (*JSONLinesLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %v", err)
	}
	return &JSONLinesLogger{file: file}, nil
}

type metricsRecord struct {
	Epoch     int                `json:"epoch,omitempty"`
	Status    string             `json:"status,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// LogMetrics implements ExperimentLogger.
func (l *JSONLinesLogger) LogMetrics(epoch int, values EpochOutputs) error {
	return l.append(metricsRecord{
		Epoch:     epoch,
		Timestamp: time.Now(),
		Metrics:   values,
	})
}

// Finalize implements ExperimentLogger: it writes the terminal status and
// closes the file. Later calls are no-ops.
func (l *JSONLinesLogger) Finalize(status string) error {
	if l.finalized {
		return nil
	}
	l.finalized = true

	if err := l.append(metricsRecord{Status: status, Timestamp: time.Now()}); err != nil {
		return err
	}
	return l.file.Close()
}

func (l *JSONLinesLogger) append(record metricsRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics record: %v", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write metrics record: %v", err)
	}
	return nil
}
