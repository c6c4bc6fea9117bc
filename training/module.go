package training

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-trainhelpers/tensor"
)

var (
	// ErrNoGradient is returned by Backward when the module has nothing to
	// differentiate: it ran in EvalMode or Forward was never called.
	ErrNoGradient = errors.New("training: no gradient information recorded")

	// ErrDeviceMismatch is returned when an input lives on a different
	// device than the module's parameters.
	ErrDeviceMismatch = errors.New("training: device mismatch")
)

// Global random source for deterministic initialization
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Mode is the two-state train/eval flag of a module.
type Mode int

const (
	// TrainMode records what Backward needs and lets the optimizer update parameters.
	TrainMode Mode = iota
	// EvalMode disables gradient tracking; Backward fails.
	EvalMode
)

func (m Mode) String() string {
	switch m {
	case TrainMode:
		return "train"
	case EvalMode:
		return "eval"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Parameter is a named trainable tensor and its accumulated gradient.
type Parameter struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	if p.Grad != nil {
		p.Grad.Fill(0)
	}
}

// Module is the boundary to whatever computes forward and backward passes.
type Module interface {
	// Forward maps a [batch, features] input to a [batch, classes] output.
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	// Backward accumulates parameter gradients given dLoss/dOutput for the
	// most recent Forward call.
	Backward(gradOutput *tensor.Tensor) error
	Parameters() []*Parameter
	SetMode(mode Mode)
	Mode() Mode
	// To places the parameters on device.
	To(device tensor.DeviceType) error
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	weight *Parameter
	bias   *Parameter
	mode   Mode
	device tensor.DeviceType

	// input of the last Forward in TrainMode
	lastInput *tensor.Tensor
}

// NewLinear creates a new Linear layer
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	// Xavier/Glorot uniform: W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, device, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}

	linear := &Linear{
		weight: &Parameter{Name: "weight", Value: weight, Grad: tensor.ZerosLike(weight)},
		mode:   TrainMode,
		device: device,
	}

	if bias {
		b, err := tensor.Zeros([]int{outputSize}, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		linear.bias = &Parameter{Name: "bias", Value: b, Grad: tensor.ZerosLike(b)}
	}

	return linear, nil
}

// Forward computes y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.Device != l.device {
		return nil, fmt.Errorf("%w: input on %s, parameters on %s", ErrDeviceMismatch, input.Device, l.device)
	}
	inFeatures, outFeatures := l.weight.Value.Shape[0], l.weight.Value.Shape[1]
	if len(input.Shape) != 2 || input.Shape[1] != inFeatures {
		return nil, fmt.Errorf("%w: linear expects [batch, %d], got %v", tensor.ErrShapeMismatch, inFeatures, input.Shape)
	}

	batch := input.Shape[0]
	out, err := tensor.Zeros([]int{batch, outFeatures}, l.device)
	if err != nil {
		return nil, err
	}

	w := l.weight.Value.Data
	for n := 0; n < batch; n++ {
		x := input.Row(n)
		y := out.Row(n)
		if l.bias != nil {
			copy(y, l.bias.Value.Data)
		}
		for i, xi := range x {
			if xi == 0 {
				continue
			}
			row := w[i*outFeatures : (i+1)*outFeatures]
			for j, wij := range row {
				y[j] += xi * wij
			}
		}
	}

	if l.mode == TrainMode {
		l.lastInput = input
	} else {
		l.lastInput = nil
	}
	return out, nil
}

// Backward accumulates dW = x^T * dy and db = sum(dy)
func (l *Linear) Backward(gradOutput *tensor.Tensor) error {
	if l.mode != TrainMode || l.lastInput == nil {
		return ErrNoGradient
	}
	x := l.lastInput
	inFeatures, outFeatures := l.weight.Value.Shape[0], l.weight.Value.Shape[1]
	if len(gradOutput.Shape) != 2 || gradOutput.Shape[0] != x.Shape[0] || gradOutput.Shape[1] != outFeatures {
		return fmt.Errorf("%w: gradient shape %v for output [%d, %d]", tensor.ErrShapeMismatch, gradOutput.Shape, x.Shape[0], outFeatures)
	}

	gw := l.weight.Grad.Data
	for n := 0; n < x.Shape[0]; n++ {
		xr := x.Row(n)
		gr := gradOutput.Row(n)
		for i := 0; i < inFeatures; i++ {
			xi := xr[i]
			if xi == 0 {
				continue
			}
			row := gw[i*outFeatures : (i+1)*outFeatures]
			for j, g := range gr {
				row[j] += xi * g
			}
		}
		if l.bias != nil {
			for j, g := range gr {
				l.bias.Grad.Data[j] += g
			}
		}
	}
	return nil
}

// Parameters returns the trainable parameters, weight first.
func (l *Linear) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

// SetMode switches between TrainMode and EvalMode.
func (l *Linear) SetMode(mode Mode) {
	l.mode = mode
	if mode != TrainMode {
		l.lastInput = nil
	}
}

// Mode returns the current mode.
func (l *Linear) Mode() Mode {
	return l.mode
}

// To places weights, biases and gradients on device.
func (l *Linear) To(device tensor.DeviceType) error {
	for _, p := range l.Parameters() {
		p.Value = p.Value.To(device)
		p.Grad = p.Grad.To(device)
	}
	l.device = device
	l.lastInput = nil
	return nil
}

// StateDict returns a copy of every parameter keyed by name.
func (l *Linear) StateDict() map[string]*tensor.Tensor {
	return StateDict(l)
}

// LoadStateDict overwrites parameter values from state.
func (l *Linear) LoadStateDict(state map[string]*tensor.Tensor) error {
	return LoadStateDict(l, state)
}

// StateDict copies the parameters of any module into a name-keyed map.
func StateDict(m Module) map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for _, p := range m.Parameters() {
		state[p.Name] = p.Value.Clone()
	}
	return state
}

// LoadStateDict copies values from state into the parameters of m. Every
// parameter must be present with a matching shape.
func LoadStateDict(m Module, state map[string]*tensor.Tensor) error {
	params := m.Parameters()
	for _, p := range params {
		src, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q in state dict", p.Name)
		}
		if !tensor.SameShape(src, p.Value) {
			return fmt.Errorf("%w: parameter %q has shape %v, state has %v", tensor.ErrShapeMismatch, p.Name, p.Value.Shape, src.Shape)
		}
	}
	if len(state) != len(params) {
		return fmt.Errorf("state dict has %d entries, module has %d parameters", len(state), len(params))
	}
	for _, p := range params {
		copy(p.Value.Data, state[p.Name].Data)
	}
	return nil
}
