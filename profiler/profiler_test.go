package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimpleProfilerRecordsActions(t *testing.T) {
	p := NewSimple(nil)

	stop := p.Profile("run_training_epoch")
	time.Sleep(time.Millisecond)
	stop()

	stop = p.Profile("run_training_epoch")
	stop()

	count, total := p.Stats("run_training_epoch")
	assert.Equal(t, 2, count)
	assert.Greater(t, total, time.Duration(0))
}

func TestSimpleProfilerUnknownAction(t *testing.T) {
	p := NewSimple(nil)

	count, total := p.Stats("never_profiled")
	assert.Equal(t, 0, count)
	assert.Equal(t, time.Duration(0), total)
}

func TestPassThroughProfiler(t *testing.T) {
	p := PassThrough{}

	assert.NotPanics(t, func() {
		stop := p.Profile("anything")
		stop()
		p.Describe()
	})
}
