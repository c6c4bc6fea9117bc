package training

import (
	"errors"
	"math"
	"testing"

	"github.com/tsawler/go-trainhelpers/tensor"
)

// newFixedLinear builds a 2->2 layer with known weights
func newFixedLinear(t *testing.T) *Linear {
	t.Helper()
	l, err := NewLinear(2, 2, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	w, _ := tensor.NewTensor([]int{2, 2}, tensor.CPU, []float32{1, 2, 3, 4})
	b, _ := tensor.NewTensor([]int{2}, tensor.CPU, []float32{0.5, -0.5})
	if err := l.LoadStateDict(map[string]*tensor.Tensor{"weight": w, "bias": b}); err != nil {
		t.Fatalf("LoadStateDict failed: %v", err)
	}
	return l
}

func TestLinearInitialization(t *testing.T) {
	SetRandomSeed(42)
	l, err := NewLinear(10, 5, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	params := l.Parameters()
	if len(params) != 2 || params[0].Name != "weight" || params[1].Name != "bias" {
		t.Fatalf("Unexpected parameters %v", params)
	}

	bound := float32(math.Sqrt(6.0 / 15.0))
	for _, v := range params[0].Value.Data {
		if v < -bound || v > bound {
			t.Errorf("Weight %f outside Xavier bound %f", v, bound)
		}
	}
	for _, v := range params[1].Value.Data {
		if v != 0 {
			t.Errorf("Expected zero bias, got %f", v)
		}
	}

	SetRandomSeed(42)
	again, _ := NewLinear(10, 5, true, tensor.CPU)
	if !tensor.Equal(again.Parameters()[0].Value, params[0].Value) {
		t.Error("Expected identical weights for the same seed")
	}

	noBias, _ := NewLinear(3, 2, false, tensor.CPU)
	if len(noBias.Parameters()) != 1 {
		t.Errorf("Expected a single parameter without bias, got %d", len(noBias.Parameters()))
	}
}

func TestLinearForward(t *testing.T) {
	l := newFixedLinear(t)
	x, _ := tensor.NewTensor([]int{2, 2}, tensor.CPU, []float32{1, 0, 1, 1})

	out, err := l.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// [1 0] * W + b = [1.5 1.5]; [1 1] * W + b = [4.5 5.5]
	want := []float32{1.5, 1.5, 4.5, 5.5}
	for i, v := range want {
		if out.Data[i] != v {
			t.Errorf("out[%d] = %f, expected %f", i, out.Data[i], v)
		}
	}

	bad, _ := tensor.NewTensor([]int{1, 3}, tensor.CPU, nil)
	if _, err := l.Forward(bad); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	gpu, _ := tensor.NewTensor([]int{1, 2}, tensor.GPU, nil)
	if _, err := l.Forward(gpu); !errors.Is(err, ErrDeviceMismatch) {
		t.Errorf("Expected ErrDeviceMismatch, got %v", err)
	}
}

func TestLinearBackward(t *testing.T) {
	l := newFixedLinear(t)
	x, _ := tensor.NewTensor([]int{2, 2}, tensor.CPU, []float32{1, 2, 3, 4})
	if _, err := l.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	dy, _ := tensor.NewTensor([]int{2, 2}, tensor.CPU, []float32{1, 0, 0, 1})
	if err := l.Backward(dy); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// dW = x^T dy = [[1 3] [2 4]], db = [1 1]
	params := l.Parameters()
	wantW := []float32{1, 3, 2, 4}
	for i, v := range wantW {
		if params[0].Grad.Data[i] != v {
			t.Errorf("dW[%d] = %f, expected %f", i, params[0].Grad.Data[i], v)
		}
	}
	if params[1].Grad.Data[0] != 1 || params[1].Grad.Data[1] != 1 {
		t.Errorf("Unexpected bias gradient %v", params[1].Grad.Data)
	}

	// gradients accumulate until cleared
	if err := l.Backward(dy); err != nil {
		t.Fatalf("Second Backward failed: %v", err)
	}
	if params[0].Grad.Data[0] != 2 {
		t.Errorf("Expected accumulated gradient 2, got %f", params[0].Grad.Data[0])
	}
	params[0].ZeroGrad()
	if params[0].Grad.Data[0] != 0 {
		t.Error("ZeroGrad did not clear the gradient")
	}
}

func TestLinearEvalMode(t *testing.T) {
	l := newFixedLinear(t)
	l.SetMode(EvalMode)
	if l.Mode() != EvalMode || l.Mode().String() != "eval" {
		t.Errorf("Unexpected mode %s", l.Mode())
	}

	x, _ := tensor.NewTensor([]int{1, 2}, tensor.CPU, []float32{1, 1})
	if _, err := l.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	dy, _ := tensor.NewTensor([]int{1, 2}, tensor.CPU, []float32{1, 1})
	if err := l.Backward(dy); !errors.Is(err, ErrNoGradient) {
		t.Errorf("Expected ErrNoGradient, got %v", err)
	}

	fresh := newFixedLinear(t)
	if err := fresh.Backward(dy); !errors.Is(err, ErrNoGradient) {
		t.Errorf("Expected ErrNoGradient before Forward, got %v", err)
	}
}

func TestLinearTo(t *testing.T) {
	l := newFixedLinear(t)
	if err := l.To(tensor.GPU); err != nil {
		t.Fatalf("To failed: %v", err)
	}
	for _, p := range l.Parameters() {
		if p.Value.Device != tensor.GPU || p.Grad.Device != tensor.GPU {
			t.Errorf("Parameter %q not moved to GPU", p.Name)
		}
	}

	x, _ := tensor.NewTensor([]int{1, 2}, tensor.GPU, []float32{1, 0})
	out, err := l.Forward(x)
	if err != nil {
		t.Fatalf("Forward on GPU failed: %v", err)
	}
	if out.Device != tensor.GPU {
		t.Errorf("Expected output on GPU, got %s", out.Device)
	}
}

func TestLoadStateDictErrors(t *testing.T) {
	l := newFixedLinear(t)
	state := l.StateDict()

	// StateDict returns copies
	state["weight"].Data[0] = 100
	if l.Parameters()[0].Value.Data[0] == 100 {
		t.Error("StateDict aliased the parameter data")
	}

	delete(state, "bias")
	if err := l.LoadStateDict(state); err == nil {
		t.Error("Expected error for missing parameter")
	}

	state = l.StateDict()
	state["bias"], _ = tensor.NewTensor([]int{3}, tensor.CPU, nil)
	if err := l.LoadStateDict(state); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	state = l.StateDict()
	state["extra"], _ = tensor.NewTensor([]int{1}, tensor.CPU, nil)
	if err := l.LoadStateDict(state); err == nil {
		t.Error("Expected error for unexpected extra entry")
	}
}
