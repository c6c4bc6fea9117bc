package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-trainhelpers/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns the loss averaged over the batch.
type Loss interface {
	Forward(output *tensor.Tensor, labels []int32) (float64, error)
	Backward(output *tensor.Tensor, labels []int32) (*tensor.Tensor, error)
}

// CrossEntropyLoss applies log-softmax over the class dimension followed by
// negative log-likelihood, averaged over the batch.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a new cross-entropy loss
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward computes L = -(1/N) * sum(log(softmax(x)[y]))
func (ce *CrossEntropyLoss) Forward(output *tensor.Tensor, labels []int32) (float64, error) {
	if err := checkLogits(output, labels); err != nil {
		return 0, err
	}

	batch := output.Shape[0]
	total := 0.0
	for n := 0; n < batch; n++ {
		row := output.Row(n)
		total += logSumExp(row) - float64(row[labels[n]])
	}
	return total / float64(batch), nil
}

// Backward computes dL/dx = (softmax(x) - onehot(y)) / N
func (ce *CrossEntropyLoss) Backward(output *tensor.Tensor, labels []int32) (*tensor.Tensor, error) {
	if err := checkLogits(output, labels); err != nil {
		return nil, err
	}

	batch := output.Shape[0]
	grad := tensor.ZerosLike(output)
	scale := 1.0 / float64(batch)
	for n := 0; n < batch; n++ {
		row := output.Row(n)
		g := grad.Row(n)
		lse := logSumExp(row)
		for c, v := range row {
			p := math.Exp(float64(v) - lse)
			if c == int(labels[n]) {
				p -= 1
			}
			g[c] = float32(p * scale)
		}
	}
	return grad, nil
}

func checkLogits(output *tensor.Tensor, labels []int32) error {
	if len(output.Shape) != 2 {
		return fmt.Errorf("%w: cross-entropy expects [batch, classes], got %v", tensor.ErrShapeMismatch, output.Shape)
	}
	if output.Shape[0] != len(labels) {
		return fmt.Errorf("%w: %d outputs for %d labels", tensor.ErrShapeMismatch, output.Shape[0], len(labels))
	}
	classes := output.Shape[1]
	for i, y := range labels {
		if y < 0 || int(y) >= classes {
			return fmt.Errorf("label %d at index %d out of range [0, %d)", y, i, classes)
		}
	}
	return nil
}

func logSumExp(row []float32) float64 {
	maxV := float64(row[0])
	for _, v := range row[1:] {
		if float64(v) > maxV {
			maxV = float64(v)
		}
	}
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(float64(v) - maxV)
	}
	return maxV + math.Log(sum)
}
