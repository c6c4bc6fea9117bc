package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when two tensors (or a tensor and its data)
// disagree on shape.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// Tensor is a dense, row-major float32 array tagged with the device it lives on.
type Tensor struct {
	Shape    []int
	Strides  []int
	Device   DeviceType
	Data     []float32
	NumElems int
}

// NewTensor creates a tensor of the given shape backed by data.
// When data is nil a zero-filled buffer is allocated.
func NewTensor(shape []int, device DeviceType, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShapeMismatch, shape, numElems, len(data))
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Device:   device,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, device DeviceType) (*Tensor, error) {
	return NewTensor(shape, device, nil)
}

// ZerosLike creates a zero-filled tensor with the shape and device of t.
func ZerosLike(t *Tensor) *Tensor {
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Device:   t.Device,
		Data:     make([]float32, t.NumElems),
		NumElems: t.NumElems,
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s, elements=%d)", t.Shape, t.Device, t.NumElems)
}

// Size returns the length of dimension dim.
func (t *Tensor) Size(dim int) int {
	if dim < 0 || dim >= len(t.Shape) {
		return 0
	}
	return t.Shape[dim]
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	c := ZerosLike(t)
	copy(c.Data, t.Data)
	return c
}

// To returns t placed on device. Placement is bookkeeping only: the data is
// shared when the device already matches and copied otherwise.
func (t *Tensor) To(device DeviceType) *Tensor {
	if t.Device == device {
		return t
	}
	c := t.Clone()
	c.Device = device
	return c
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Row returns a view of row i of a 2-D tensor.
func (t *Tensor) Row(i int) []float32 {
	cols := t.Shape[1]
	return t.Data[i*cols : (i+1)*cols]
}

// Equal reports whether a and b have the same shape and bit-identical data.
func Equal(a, b *Tensor) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.Data {
		if math.Float32bits(a.Data[i]) != math.Float32bits(b.Data[i]) {
			return false
		}
	}
	return true
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i, dim := range a.Shape {
		if dim != b.Shape[i] {
			return false
		}
	}
	return true
}

// ArgMax returns the index of the largest element of each row of a
// [batch, classes] tensor. Ties resolve to the lowest index.
func ArgMax(t *Tensor) ([]int, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("%w: argmax expects a 2-D tensor, got shape %v", ErrShapeMismatch, t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := t.Data[r*cols : (r+1)*cols]
		best := 0
		for c := 1; c < cols; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out[r] = best
	}
	return out, nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: at least one dimension is required")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
