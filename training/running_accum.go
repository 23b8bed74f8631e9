package training

// RunningAccum tracks a running window of accumulated loss values in a
// fixed-size circular buffer. The window is sized to the gradient
// accumulation window so the mean reflects one optimizer update's worth of
// batches. It is reset at every epoch start when the accumulation window
// may have changed.
type RunningAccum struct {
	window []float64
	next   int
	filled int
}

// NewRunningAccum creates an accumulator over a window of the given length.
func NewRunningAccum(windowLength int) *RunningAccum {
	if windowLength <= 0 {
		windowLength = 1
	}
	return &RunningAccum{window: make([]float64, windowLength)}
}

// WindowLength returns the configured window size.
func (ra *RunningAccum) WindowLength() int {
	return len(ra.window)
}

// Append pushes a value, evicting the oldest once the window is full.
func (ra *RunningAccum) Append(v float64) {
	ra.window[ra.next] = v
	ra.next = (ra.next + 1) % len(ra.window)
	if ra.filled < len(ra.window) {
		ra.filled++
	}
}

// Mean returns the mean of the values currently in the window, or zero if
// nothing has been appended yet.
func (ra *RunningAccum) Mean() float64 {
	if ra.filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < ra.filled; i++ {
		sum += ra.window[i]
	}
	return sum / float64(ra.filled)
}

// Last returns the most recently appended value, or zero if empty.
func (ra *RunningAccum) Last() float64 {
	if ra.filled == 0 {
		return 0
	}
	idx := ra.next - 1
	if idx < 0 {
		idx = len(ra.window) - 1
	}
	return ra.window[idx]
}

// Reset clears the window without changing its length.
func (ra *RunningAccum) Reset() {
	ra.next = 0
	ra.filled = 0
}
