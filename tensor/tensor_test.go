package tensor

import (
	"errors"
	"math"
	"testing"
)

// TestNewTensor tests creation with and without backing data
func TestNewTensor(t *testing.T) {
	tt, err := NewTensor([]int{2, 3}, CPU, nil)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	if tt.NumElems != 6 || len(tt.Data) != 6 {
		t.Errorf("Expected 6 elements, got %d (data %d)", tt.NumElems, len(tt.Data))
	}
	if tt.Strides[0] != 3 || tt.Strides[1] != 1 {
		t.Errorf("Unexpected strides %v", tt.Strides)
	}

	_, err = NewTensor([]int{2, 2}, CPU, []float32{1, 2, 3})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	if _, err := NewTensor([]int{0, 2}, CPU, nil); err == nil {
		t.Error("Expected error for zero-sized dimension")
	}
}

// TestArgMax tests row-wise argmax with a tie
func TestArgMax(t *testing.T) {
	tt, _ := NewTensor([]int{3, 2}, CPU, []float32{
		0.9, 0.1,
		0.2, 0.8,
		0.5, 0.5,
	})

	got, err := ArgMax(tt)
	if err != nil {
		t.Fatalf("ArgMax failed: %v", err)
	}
	want := []int{0, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	flat, _ := NewTensor([]int{4}, CPU, nil)
	if _, err := ArgMax(flat); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for 1-D input, got %v", err)
	}
}

// TestToSharesOrCopies tests device placement bookkeeping
func TestToSharesOrCopies(t *testing.T) {
	tt, _ := NewTensor([]int{2}, CPU, []float32{1, 2})

	if same := tt.To(CPU); same != tt {
		t.Error("Expected To on the same device to return the receiver")
	}

	moved := tt.To(GPU)
	if moved.Device != GPU {
		t.Errorf("Expected GPU, got %s", moved.Device)
	}
	moved.Data[0] = 42
	if tt.Data[0] != 1 {
		t.Error("Moving to another device must not alias the source data")
	}
}

// TestEqualIsBitwise tests that Equal distinguishes NaN payloads and signed zeros
func TestEqualIsBitwise(t *testing.T) {
	a, _ := NewTensor([]int{2}, CPU, []float32{0, 1})
	b, _ := NewTensor([]int{2}, CPU, []float32{float32(math.Copysign(0, -1)), 1})
	if Equal(a, b) {
		t.Error("Expected +0 and -0 to differ bitwise")
	}
	if !Equal(a, a.Clone()) {
		t.Error("Expected clone to be equal")
	}
}

// TestParseDevice tests device name parsing
func TestParseDevice(t *testing.T) {
	tests := []struct {
		name    string
		want    DeviceType
		wantErr bool
	}{
		{"", CPU, false},
		{"cpu", CPU, false},
		{"CUDA", GPU, false},
		{"mps", GPU, false},
		{"tpu", CPU, true},
	}

	for _, test := range tests {
		got, err := ParseDevice(test.name)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseDevice(%q) error = %v, wantErr %v", test.name, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParseDevice(%q) = %s, expected %s", test.name, got, test.want)
		}
	}
}

// TestDescribeDevice tests that host information is populated
func TestDescribeDevice(t *testing.T) {
	info := DescribeDevice(GPU)
	if info.Device != GPU {
		t.Errorf("Expected GPU device, got %s", info.Device)
	}
	if info.LogicalCores < 0 {
		t.Errorf("Unexpected logical core count %d", info.LogicalCores)
	}
	if info.String() == "" {
		t.Error("Expected non-empty description")
	}
}
