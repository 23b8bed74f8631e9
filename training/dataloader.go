package training

import (
	"fmt"
	"math/rand"
	"sync"
)

// Sample is a single training example.
type Sample struct {
	Input  []float64
	Target []float64
}

// Batch represents a batch of inputs and targets.
type Batch struct {
	Inputs  [][]float64
	Targets [][]float64
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Inputs)
}

// Dataset defines methods that all datasets must implement.
type Dataset interface {
	Len() int                      // Total number of samples
	Get(idx int) (Sample, error)   // Returns a single sample
}

// DataLoader provides batched iteration over a dataset for one epoch.
// Next returns nil when the epoch is exhausted; Reset rewinds (and
// reshuffles) for the next epoch.
type DataLoader interface {
	Len() int // Number of batches per epoch
	Reset()
	Next() (*Batch, error)
}

// EpochSeeder is an optional capability of a DataLoader: loaders that
// shuffle can reseed per epoch so every epoch sees a different, but
// reproducible, sample order. The epoch loop checks for this capability
// explicitly instead of attempting the call and swallowing failures.
type EpochSeeder interface {
	SetEpoch(epoch int)
}

// SliceDataLoader is an in-memory DataLoader over a Dataset.
type SliceDataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	seed      int64
	epoch     int
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewSliceDataLoader creates a new SliceDataLoader. When shuffle is enabled
// the sample order is derived from seed and the current epoch.
func NewSliceDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) *SliceDataLoader {
	if batchSize <= 0 {
		batchSize = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &SliceDataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		seed:      seed,
		indices:   indices,
	}
}

// Len returns the number of batches in an epoch.
func (dl *SliceDataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// SetEpoch records the epoch used to derive the shuffle order. Implements
// EpochSeeder.
func (dl *SliceDataLoader) SetEpoch(epoch int) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	dl.epoch = epoch
}

// Reset rewinds the loader for a new epoch, reshuffling when enabled.
func (dl *SliceDataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		rng := rand.New(rand.NewSource(dl.seed + int64(dl.epoch)))
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := rng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch or nil if the epoch is complete.
func (dl *SliceDataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch := &Batch{
		Inputs:  make([][]float64, 0, len(batchIndices)),
		Targets: make([][]float64, 0, len(batchIndices)),
	}

	for _, idx := range batchIndices {
		sample, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		batch.Inputs = append(batch.Inputs, sample.Input)
		batch.Targets = append(batch.Targets, sample.Target)
	}

	return batch, nil
}

// SliceDataset is a Dataset backed by pre-built samples.
type SliceDataset struct {
	samples []Sample
}

// NewSliceDataset wraps samples into a Dataset.
func NewSliceDataset(samples []Sample) *SliceDataset {
	return &SliceDataset{samples: samples}
}

// Len returns the number of samples.
func (ds *SliceDataset) Len() int {
	return len(ds.samples)
}

// Get returns the sample at idx.
func (ds *SliceDataset) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= len(ds.samples) {
		return Sample{}, fmt.Errorf("sample index %d out of range [0, %d)", idx, len(ds.samples))
	}
	return ds.samples[idx], nil
}
