package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsInstruments(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWith(registry)

	c.RecordEpoch(2 * time.Second)
	c.RecordEpoch(3 * time.Second)
	c.SetGlobalStep(42)
	c.RecordEarlyStopDeferred()
	c.RecordCheckpointSaved()
	c.RecordCheckpointSaved()
	c.RecordValidationRun()

	expected := strings.NewReader(`
# HELP fitloop_epochs_completed_total Number of completed training epochs.
# TYPE fitloop_epochs_completed_total counter
fitloop_epochs_completed_total 2
# HELP fitloop_global_step Current global step (optimizer updates applied).
# TYPE fitloop_global_step gauge
fitloop_global_step 42
# HELP fitloop_early_stop_deferred_total Stop requests deferred because a minimum duration floor was not met.
# TYPE fitloop_early_stop_deferred_total counter
fitloop_early_stop_deferred_total 1
# HELP fitloop_checkpoints_saved_total Number of checkpoints written.
# TYPE fitloop_checkpoints_saved_total counter
fitloop_checkpoints_saved_total 2
# HELP fitloop_validation_runs_total Number of epoch-level validation passes.
# TYPE fitloop_validation_runs_total counter
fitloop_validation_runs_total 1
`)
	require.NoError(t, testutil.GatherAndCompare(registry, expected,
		"fitloop_epochs_completed_total",
		"fitloop_global_step",
		"fitloop_early_stop_deferred_total",
		"fitloop_checkpoints_saved_total",
		"fitloop_validation_runs_total",
	))

	// The histogram observed both epochs.
	count, err := testutil.GatherAndCount(registry, "fitloop_epoch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordEpoch(time.Second)
		c.SetGlobalStep(1)
		c.RecordEarlyStopDeferred()
		c.RecordCheckpointSaved()
		c.RecordValidationRun()
	})
}
