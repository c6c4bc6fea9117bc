package training

import (
	"fmt"
)

// SubsetDataset exposes the first limit samples of an underlying dataset.
type SubsetDataset struct {
	original Dataset
	limit    int
}

// NewSubsetDataset wraps original. A limit larger than the dataset is
// clamped to its length.
func NewSubsetDataset(original Dataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit > original.Len() {
		limit = original.Len()
	}
	return &SubsetDataset{
		original: original,
		limit:    limit,
	}, nil
}

// Len returns the number of samples in the subset
func (sd *SubsetDataset) Len() int {
	return sd.limit
}

// Get returns a sample at the given index from the original dataset.
func (sd *SubsetDataset) Get(idx int) ([]float32, int32, error) {
	if idx < 0 || idx >= sd.limit {
		return nil, 0, fmt.Errorf("index out of bounds for subset: %d (limit: %d)", idx, sd.limit)
	}
	return sd.original.Get(idx)
}
