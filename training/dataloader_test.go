package training

import (
	"errors"
	"testing"

	"github.com/tsawler/go-trainhelpers/tensor"
)

func rangeDataset(t *testing.T, n int) *SimpleDataset {
	t.Helper()
	features := make([][]float32, n)
	labels := make([]int32, n)
	for i := range features {
		features[i] = []float32{float32(i), float32(2 * i)}
		labels[i] = int32(i % 3)
	}
	ds, err := NewSimpleDataset(features, labels)
	if err != nil {
		t.Fatalf("NewSimpleDataset failed: %v", err)
	}
	return ds
}

// drain collects the first feature of every sample in one pass
func drain(t *testing.T, dl *DataLoader) (order []int, sizes []int) {
	t.Helper()
	dl.Reset()
	for {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			return order, sizes
		}
		sizes = append(sizes, batch.Size())
		for i := 0; i < batch.Size(); i++ {
			order = append(order, int(batch.Data.Row(i)[0]))
		}
	}
}

func TestDataLoaderBatching(t *testing.T) {
	dl := NewDataLoader(rangeDataset(t, 10), 4, false, 0)

	if dl.Len() != 3 {
		t.Errorf("Expected 3 batches, got %d", dl.Len())
	}
	if dl.DatasetLen() != 10 {
		t.Errorf("Expected dataset length 10, got %d", dl.DatasetLen())
	}

	order, sizes := drain(t, dl)
	wantSizes := []int{4, 4, 2}
	for i, s := range wantSizes {
		if sizes[i] != s {
			t.Errorf("Batch %d: expected size %d, got %d", i, s, sizes[i])
		}
	}
	for i, v := range order {
		if v != i {
			t.Errorf("Expected sequential order without shuffle, got %v", order)
			break
		}
	}

	// a second pass yields the same batches
	again, _ := drain(t, dl)
	if len(again) != 10 {
		t.Errorf("Expected 10 samples after Reset, got %d", len(again))
	}
}

func TestDataLoaderBatchContents(t *testing.T) {
	dl := NewDataLoader(rangeDataset(t, 5), 5, false, 0)
	dl.Reset()
	batch, err := dl.Next()
	if err != nil || batch == nil {
		t.Fatalf("Next failed: %v", err)
	}

	if batch.Data.Shape[0] != 5 || batch.Data.Shape[1] != 2 {
		t.Errorf("Expected shape [5 2], got %v", batch.Data.Shape)
	}
	if batch.Data.Device != tensor.CPU {
		t.Errorf("Expected CPU batch, got %s", batch.Data.Device)
	}
	if batch.Data.Row(3)[1] != 6 || batch.Labels[4] != 1 {
		t.Errorf("Unexpected batch contents: row=%v labels=%v", batch.Data.Row(3), batch.Labels)
	}
}

func TestDataLoaderShuffleIsSeeded(t *testing.T) {
	a, _ := drain(t, NewDataLoader(rangeDataset(t, 20), 6, true, 7))
	b, _ := drain(t, NewDataLoader(rangeDataset(t, 20), 6, true, 7))

	seen := make(map[int]bool)
	sequential := true
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Same seed produced different orders: %v vs %v", a, b)
		}
		if a[i] != i {
			sequential = false
		}
		seen[a[i]] = true
	}
	if len(seen) != 20 {
		t.Errorf("Expected every sample exactly once, got %d distinct", len(seen))
	}
	if sequential {
		t.Error("Expected shuffled order")
	}
}

// failingDataset returns an error for one index
type failingDataset struct {
	*SimpleDataset
	bad int
}

var errBadSample = errors.New("corrupt sample")

func (d *failingDataset) Get(idx int) ([]float32, int32, error) {
	if idx == d.bad {
		return nil, 0, errBadSample
	}
	return d.SimpleDataset.Get(idx)
}

func TestDataLoaderErrors(t *testing.T) {
	dl := NewDataLoader(&failingDataset{SimpleDataset: rangeDataset(t, 4), bad: 2}, 2, false, 0)
	dl.Reset()
	if _, err := dl.Next(); err != nil {
		t.Fatalf("First batch failed: %v", err)
	}
	if _, err := dl.Next(); !errors.Is(err, errBadSample) {
		t.Errorf("Expected wrapped sample error, got %v", err)
	}

	ragged, _ := NewSimpleDataset([][]float32{{1, 2}, {3}}, []int32{0, 1})
	dl = NewDataLoader(ragged, 2, false, 0)
	dl.Reset()
	if _, err := dl.Next(); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for ragged samples, got %v", err)
	}

	if _, err := NewSimpleDataset([][]float32{{1}}, nil); err == nil {
		t.Error("Expected error for mismatched features and labels")
	}
}

func TestSubsetDataset(t *testing.T) {
	ds := rangeDataset(t, 10)

	subset, err := NewSubsetDataset(ds, 4)
	if err != nil {
		t.Fatalf("NewSubsetDataset failed: %v", err)
	}
	if subset.Len() != 4 {
		t.Errorf("Expected 4 samples, got %d", subset.Len())
	}
	if _, _, err := subset.Get(4); err == nil {
		t.Error("Expected error past the subset limit")
	}

	clamped, _ := NewSubsetDataset(ds, 100)
	if clamped.Len() != 10 {
		t.Errorf("Expected limit clamped to 10, got %d", clamped.Len())
	}
	if _, err := NewSubsetDataset(ds, -1); err == nil {
		t.Error("Expected error for negative limit")
	}
}
