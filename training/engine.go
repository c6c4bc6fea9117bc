package training

import (
	"errors"
	"fmt"
	"io"

	"github.com/tsawler/go-trainhelpers/tensor"
)

var (
	// ErrEmptyDataset is returned when an epoch sees no samples.
	ErrEmptyDataset = errors.New("training: dataset is empty")

	// ErrModeChanged is returned when a module leaves the epoch's mode
	// before the epoch is over.
	ErrModeChanged = errors.New("training: module mode changed mid-epoch")
)

// EpochResult holds the metrics of one pass over a dataset.
type EpochResult struct {
	Loss     float64 // batch-size weighted mean loss
	Accuracy float64 // fraction of arg-max predictions equal to the label
	Samples  int
}

// Runner executes single epochs. The zero value is ready to use.
type Runner struct {
	// Progress, when set, receives a per-batch progress bar.
	Progress io.Writer
}

// TrainEpoch runs one training pass with a zero-value Runner.
func TrainEpoch(model Module, data BatchIterator, lossFn Loss, opt Optimizer, device tensor.DeviceType) (EpochResult, error) {
	var r Runner
	return r.TrainEpoch(model, data, lossFn, opt, device)
}

// EvaluateEpoch runs one evaluation pass with a zero-value Runner.
func EvaluateEpoch(model Module, data BatchIterator, lossFn Loss, device tensor.DeviceType) (EpochResult, error) {
	var r Runner
	return r.EvaluateEpoch(model, data, lossFn, device)
}

// TrainEpoch puts model in TrainMode and, for every batch, clears gradients,
// runs forward, loss and backward, then applies one optimizer step.
func (r *Runner) TrainEpoch(model Module, data BatchIterator, lossFn Loss, opt Optimizer, device tensor.DeviceType) (EpochResult, error) {
	return r.run(TrainMode, model, data, lossFn, opt, device)
}

// EvaluateEpoch puts model in EvalMode and accumulates loss and accuracy
// without computing gradients or touching any optimizer.
func (r *Runner) EvaluateEpoch(model Module, data BatchIterator, lossFn Loss, device tensor.DeviceType) (EpochResult, error) {
	return r.run(EvalMode, model, data, lossFn, nil, device)
}

func (r *Runner) run(mode Mode, model Module, data BatchIterator, lossFn Loss, opt Optimizer, device tensor.DeviceType) (EpochResult, error) {
	if mode == TrainMode && opt == nil {
		return EpochResult{}, errors.New("training: optimizer is required for a training epoch")
	}
	if err := model.To(device); err != nil {
		return EpochResult{}, fmt.Errorf("failed to move model to %s: %w", device, err)
	}
	model.SetMode(mode)
	data.Reset()

	var bar *ProgressBar
	if r.Progress != nil {
		total := 0
		if dl, ok := data.(interface{ Len() int }); ok {
			total = dl.Len()
		}
		bar = NewProgressBar(r.Progress, mode.String(), total)
	}

	var (
		totalLoss float64
		correct   int
		samples   int
	)

	for step := 0; ; step++ {
		batch, err := data.Next()
		if err != nil {
			return EpochResult{}, fmt.Errorf("%s batch %d: %w", mode, step, err)
		}
		if batch == nil {
			break
		}

		inputs := batch.Data.To(device)

		if mode == TrainMode {
			opt.ZeroGrad()
		}

		outputs, err := model.Forward(inputs)
		if err != nil {
			return EpochResult{}, fmt.Errorf("%s batch %d: forward: %w", mode, step, err)
		}

		loss, err := lossFn.Forward(outputs, batch.Labels)
		if err != nil {
			return EpochResult{}, fmt.Errorf("%s batch %d: loss: %w", mode, step, err)
		}

		if mode == TrainMode {
			grad, err := lossFn.Backward(outputs, batch.Labels)
			if err != nil {
				return EpochResult{}, fmt.Errorf("%s batch %d: loss gradient: %w", mode, step, err)
			}
			if err := model.Backward(grad); err != nil {
				return EpochResult{}, fmt.Errorf("%s batch %d: backward: %w", mode, step, err)
			}
			if err := opt.Step(); err != nil {
				return EpochResult{}, fmt.Errorf("%s batch %d: optimizer step: %w", mode, step, err)
			}
		}

		if model.Mode() != mode {
			return EpochResult{}, fmt.Errorf("%w: expected %s, got %s at batch %d", ErrModeChanged, mode, model.Mode(), step)
		}

		predicted, err := tensor.ArgMax(outputs)
		if err != nil {
			return EpochResult{}, fmt.Errorf("%s batch %d: %w", mode, step, err)
		}
		if len(predicted) != batch.Size() || inputs.Size(0) != batch.Size() {
			return EpochResult{}, fmt.Errorf("%w: %s batch %d has %d inputs, %d outputs and %d labels",
				tensor.ErrShapeMismatch, mode, step, inputs.Size(0), len(predicted), batch.Size())
		}

		totalLoss += loss * float64(inputs.Size(0))
		for i, p := range predicted {
			if p == int(batch.Labels[i]) {
				correct++
			}
		}
		samples += batch.Size()

		if bar != nil {
			bar.Update(step+1, map[string]float64{"loss": loss})
		}
	}

	if bar != nil {
		bar.Finish()
	}

	datasetLen := data.DatasetLen()
	if samples == 0 || datasetLen == 0 {
		return EpochResult{}, ErrEmptyDataset
	}

	return EpochResult{
		Loss:     totalLoss / float64(datasetLen),
		Accuracy: float64(correct) / float64(samples),
		Samples:  samples,
	}, nil
}
