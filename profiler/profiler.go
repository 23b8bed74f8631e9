// Package profiler provides lightweight wall-clock profiling of named
// actions inside the training loop, with a summary report at run end.
package profiler

import (
	"log/slog"
	"sync"
	"time"
)

// Profiler times named actions. Profile returns a stop function closing the
// scope; Describe reports a summary of everything recorded.
type Profiler interface {
	Profile(action string) (stop func())
	Describe()
}

// PassThrough is a no-op Profiler.
type PassThrough struct{}

// Profile implements Profiler.
func (PassThrough) Profile(action string) func() { return func() {} }

// Describe implements Profiler.
func (PassThrough) Describe() {}

type actionStats struct {
	count int
	total time.Duration
	max   time.Duration
}

// Simple records per-action durations and logs a summary on Describe.
type Simple struct {
	mu      sync.Mutex
	order   []string
	records map[string]*actionStats
	log     *slog.Logger
}

// NewSimple creates a Simple profiler logging through the given logger
// (slog.Default when nil).
func NewSimple(log *slog.Logger) *Simple {
	if log == nil {
		log = slog.Default()
	}
	return &Simple{
		records: make(map[string]*actionStats),
		log:     log,
	}
}

// Profile implements Profiler.
func (p *Simple) Profile(action string) func() {
	start := time.Now()
	return func() {
		p.record(action, time.Since(start))
	}
}

func (p *Simple) record(action string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats, ok := p.records[action]
	if !ok {
		stats = &actionStats{}
		p.records[action] = stats
		p.order = append(p.order, action)
	}
	stats.count++
	stats.total += d
	if d > stats.max {
		stats.max = d
	}
}

// Describe implements Profiler: it logs one summary line per recorded
// action, in first-seen order.
func (p *Simple) Describe() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, action := range p.order {
		stats := p.records[action]
		mean := stats.total / time.Duration(stats.count)
		p.log.Info("profiler summary",
			"action", action,
			"count", stats.count,
			"total", stats.total,
			"mean", mean,
			"max", stats.max)
	}
}

// Stats returns (count, total) for an action; zeros when never recorded.
func (p *Simple) Stats(action string) (int, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats, ok := p.records[action]
	if !ok {
		return 0, 0
	}
	return stats.count, stats.total
}
