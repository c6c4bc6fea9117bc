package training

import (
	"math"
	"sync"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// SGD implements Stochastic Gradient Descent optimizer
type SGD struct {
	parameters   []*Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64
	dampening    float64
	nesterov     bool
	velocities   map[*Parameter][]float32
	mutex        sync.RWMutex
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*Parameter, lr float64, momentum float64, weightDecay float64, dampening float64, nesterov bool) *SGD {
	return &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		dampening:    dampening,
		nesterov:     nesterov,
		velocities:   make(map[*Parameter][]float32),
	}
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	lr := float32(sgd.learningRate)
	wd := float32(sgd.weightDecay)
	mom := float32(sgd.momentum)
	damp := float32(1.0 - sgd.dampening)

	for _, param := range sgd.parameters {
		if param.Grad == nil {
			continue
		}
		data := param.Value.Data

		var velocity []float32
		if sgd.momentum > 0 {
			v, ok := sgd.velocities[param]
			if !ok {
				// first step seeds the buffer with the raw gradient
				v = make([]float32, len(data))
				sgd.velocities[param] = v
				for i, g := range param.Grad.Data {
					v[i] = g + wd*data[i]
				}
			} else {
				for i, g := range param.Grad.Data {
					v[i] = mom*v[i] + damp*(g+wd*data[i])
				}
			}
			velocity = v
		}

		for i, g := range param.Grad.Data {
			d := g + wd*data[i]
			if velocity != nil {
				if sgd.nesterov {
					d += mom * velocity[i]
				} else {
					d = velocity[i]
				}
			}
			data[i] -= lr * d
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	for _, param := range sgd.parameters {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}

// Adam implements the Adam optimizer
type Adam struct {
	parameters   []*Parameter
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	weightDecay  float64
	stepCount    int
	m            map[*Parameter][]float64 // First moment estimates
	v            map[*Parameter][]float64 // Second moment estimates
	mutex        sync.RWMutex
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*Parameter, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	adam := &Adam{
		parameters:   parameters,
		learningRate: lr,
		beta1:        beta1,
		beta2:        beta2,
		epsilon:      eps,
		weightDecay:  weightDecay,
		m:            make(map[*Parameter][]float64),
		v:            make(map[*Parameter][]float64),
	}

	for _, param := range parameters {
		adam.m[param] = make([]float64, param.Value.NumElems)
		adam.v[param] = make([]float64, param.Value.NumElems)
	}

	return adam
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.stepCount++

	// Bias correction factors
	bc1 := 1.0 - math.Pow(adam.beta1, float64(adam.stepCount))
	bc2 := 1.0 - math.Pow(adam.beta2, float64(adam.stepCount))

	for _, param := range adam.parameters {
		if param.Grad == nil {
			continue
		}
		m, v := adam.m[param], adam.v[param]
		data := param.Value.Data

		for i, g32 := range param.Grad.Data {
			g := float64(g32) + adam.weightDecay*float64(data[i])

			m[i] = adam.beta1*m[i] + (1-adam.beta1)*g
			v[i] = adam.beta2*v[i] + (1-adam.beta2)*g*g

			mHat := m[i] / bc1
			vHat := v[i] / bc2
			data[i] -= float32(adam.learningRate * mHat / (math.Sqrt(vHat) + adam.epsilon))
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	for _, param := range adam.parameters {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.learningRate
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.learningRate = lr
}

// StepCount returns how many steps have been applied.
func (adam *Adam) StepCount() int {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.stepCount
}
