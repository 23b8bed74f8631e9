package training

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProgressBar renders in-terminal training progress for one epoch.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar over total batches.
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       70, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the progress bar.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Println() // New line after completion
}

// render redraws the bar line in place. A zero-batch epoch renders an
// empty bar instead of dividing by the total.
func (pb *ProgressBar) render() {
	var frac float64
	if pb.total > 0 {
		frac = float64(pb.current) / float64(pb.total)
		if frac > 1 {
			frac = 1
		}
	}
	filled := int(frac * float64(pb.width))

	var line strings.Builder
	fmt.Fprintf(&line, "\r%s: %3.0f%%|", pb.description, frac*100)
	line.WriteString(strings.Repeat("█", filled))
	line.WriteString(strings.Repeat(" ", pb.width-filled))
	fmt.Fprintf(&line, "| %d/%d", pb.current, pb.total)

	elapsed := time.Since(pb.startTime)
	eta := "00:00"
	if pb.showETA && frac > 0 {
		eta = formatDuration(time.Duration(float64(elapsed)/frac) - elapsed)
	}
	fmt.Fprintf(&line, " [%s<%s", formatDuration(elapsed), eta)

	if pb.showRate && pb.current > 0 && elapsed > 0 {
		fmt.Fprintf(&line, ", %.2fbatch/s", float64(pb.current)/elapsed.Seconds())
	}

	keys := make([]string, 0, len(pb.metrics))
	for key := range pb.metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&line, ", %s=%.4f", key, pb.metrics[key])
	}
	line.WriteString("]")

	fmt.Print(line.String())
}

// formatDuration renders a duration as MM:SS.
func formatDuration(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ProgressCallback attaches a fresh progress bar to the trainer at every
// training epoch start; the step loop drives it batch by batch.
type ProgressCallback struct {
	BaseCallback
}

// NewProgressCallback creates the progress visualization callback.
func NewProgressCallback() *ProgressCallback {
	return &ProgressCallback{}
}

// CallbackName implements Callback.
func (pc *ProgressCallback) CallbackName() string { return "progress_bar" }

// OnTrainEpochStart implements TrainEpochStartHandler.
func (pc *ProgressCallback) OnTrainEpochStart(trainer *Trainer, epoch int) error {
	total := 0
	if loader := trainer.TrainLoader(); loader != nil {
		total = loader.Len()
	}

	description := fmt.Sprintf("Epoch %d", epoch)
	if max := trainer.FitLoop().MaxEpochs(); max != nil {
		description = fmt.Sprintf("Epoch %d/%d", epoch, *max)
	}

	trainer.setProgressBar(NewProgressBar(description, total))
	return nil
}

// OnTrainEnd implements TrainEndHandler.
func (pc *ProgressCallback) OnTrainEnd(trainer *Trainer) error {
	trainer.setProgressBar(nil)
	return nil
}
