package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceDataLoaderBatching(t *testing.T) {
	loader := NewSliceDataLoader(makeDataset(5), 2, false, 1)
	assert.Equal(t, 3, loader.Len())

	loader.Reset()

	first, err := loader.Next()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 2, first.Size())
	assert.Equal(t, []float64{0}, first.Inputs[0])

	second, err := loader.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, second.Size())

	// Final partial batch, then epoch end.
	third, err := loader.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, third.Size())

	done, err := loader.Next()
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestSliceDataLoaderResetRewinds(t *testing.T) {
	loader := NewSliceDataLoader(makeDataset(4), 2, false, 1)

	loader.Reset()
	for {
		batch, err := loader.Next()
		require.NoError(t, err)
		if batch == nil {
			break
		}
	}

	loader.Reset()
	batch, err := loader.Next()
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, []float64{0}, batch.Inputs[0])
}

func collectOrder(t *testing.T, loader *SliceDataLoader) []float64 {
	t.Helper()

	loader.Reset()
	var order []float64
	for {
		batch, err := loader.Next()
		require.NoError(t, err)
		if batch == nil {
			return order
		}
		for _, input := range batch.Inputs {
			order = append(order, input[0])
		}
	}
}

func TestSliceDataLoaderShuffleIsSeedDeterministic(t *testing.T) {
	a := NewSliceDataLoader(makeDataset(32), 4, true, 7)
	b := NewSliceDataLoader(makeDataset(32), 4, true, 7)

	a.SetEpoch(1)
	b.SetEpoch(1)
	assert.Equal(t, collectOrder(t, a), collectOrder(t, b))
}

func TestSliceDataLoaderEpochChangesShuffleOrder(t *testing.T) {
	loader := NewSliceDataLoader(makeDataset(32), 4, true, 7)

	loader.SetEpoch(1)
	first := collectOrder(t, loader)

	loader.SetEpoch(2)
	second := collectOrder(t, loader)

	assert.NotEqual(t, first, second)
	assert.ElementsMatch(t, first, second)
}

func TestSliceDatasetGetOutOfRange(t *testing.T) {
	ds := makeDataset(3)

	_, err := ds.Get(-1)
	assert.Error(t, err)
	_, err = ds.Get(3)
	assert.Error(t, err)

	sample, err := ds.Get(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, sample.Input)
}
