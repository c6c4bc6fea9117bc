package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-trainhelpers/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                 // Total number of samples
	Get(idx int) (features []float32, label int32, err error) // Returns a single sample
}

// Batch represents a batch of inputs and their integer class labels
type Batch struct {
	Data   *tensor.Tensor // [batch, features]
	Labels []int32
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return len(b.Labels)
}

// BatchIterator is a finite, restartable sequence of batches.
type BatchIterator interface {
	// Reset starts a new pass over the data.
	Reset()
	// Next returns the next batch, or nil at the end of the pass.
	Next() (*Batch, error)
	// DatasetLen is the total number of samples in one full pass.
	DatasetLen() int
}

// DataLoader provides batching and shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. Shuffling, when enabled, is
// reproducible for a given seed.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) *DataLoader {
	if batchSize <= 0 {
		batchSize = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// DatasetLen returns the number of samples in the underlying dataset
func (dl *DataLoader) DatasetLen() int {
	return dl.dataset.Len()
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
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

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	return batch, nil
}

// loadBatch loads samples and stacks them into a [batch, features] tensor
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	first, _, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %w", indices[0], err)
	}
	features := len(first)

	data, err := tensor.Zeros([]int{len(indices), features}, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %w", err)
	}
	labels := make([]int32, len(indices))

	for i, idx := range indices {
		sample, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		if len(sample) != features {
			return nil, fmt.Errorf("%w: sample %d has %d features, expected %d", tensor.ErrShapeMismatch, idx, len(sample), features)
		}
		copy(data.Row(i), sample)
		labels[i] = label
	}

	return &Batch{Data: data, Labels: labels}, nil
}

// SimpleDataset provides a basic in-memory implementation of Dataset
type SimpleDataset struct {
	features [][]float32
	labels   []int32
}

// NewSimpleDataset creates a new SimpleDataset
func NewSimpleDataset(features [][]float32, labels []int32) (*SimpleDataset, error) {
	if len(features) != len(labels) {
		return nil, fmt.Errorf("features and labels must have the same length: got %d and %d", len(features), len(labels))
	}

	return &SimpleDataset{
		features: features,
		labels:   labels,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *SimpleDataset) Len() int {
	return len(ds.features)
}

// Get returns a sample at the given index
func (ds *SimpleDataset) Get(idx int) ([]float32, int32, error) {
	if idx < 0 || idx >= len(ds.features) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.features))
	}

	return ds.features[idx], ds.labels[idx], nil
}
