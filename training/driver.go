package training

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tsawler/go-trainhelpers/tensor"
)

// ErrInvalidConfig is returned by FitConfig.Validate.
var ErrInvalidConfig = errors.New("training: invalid config")

// FitConfig contains the knobs of a Fit run
type FitConfig struct {
	Epochs int
	Device tensor.DeviceType

	// Writer, when non-nil, receives the four epoch scalars.
	Writer         ScalarWriter
	WriterLifetime WriterLifetime

	// Out receives the per-epoch console report. Defaults to os.Stdout.
	Out io.Writer

	// ShowProgress renders a batch progress bar on Out for every phase.
	ShowProgress bool

	// Scheduler, when non-nil, sets the optimizer learning rate before every
	// epoch from the rate the optimizer had when Fit started.
	Scheduler LRScheduler
}

// DefaultFitConfig returns a config for a single CPU epoch without a writer
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Epochs:         1,
		Device:         tensor.CPU,
		WriterLifetime: CloseAfterRun,
		Out:            os.Stdout,
	}
}

// Validate verifies the config is runnable.
func (c FitConfig) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be > 0 (got %d)", ErrInvalidConfig, c.Epochs)
	}
	switch c.WriterLifetime {
	case CloseAfterRun, CloseEachEpoch, LeaveOpen:
	default:
		return fmt.Errorf("%w: unknown writer lifetime %d", ErrInvalidConfig, int(c.WriterLifetime))
	}
	return nil
}

var separator = strings.Repeat("=", 50)

// Fit runs cfg.Epochs rounds of one training epoch followed by one
// evaluation epoch, printing and optionally logging the metrics of each.
// On failure the history recorded so far is returned with the error.
func Fit(model Module, trainData, testData BatchIterator, opt Optimizer, lossFn Loss, cfg FitConfig) (*History, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opt == nil {
		return nil, fmt.Errorf("%w: optimizer is required", ErrInvalidConfig)
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	if err := model.To(cfg.Device); err != nil {
		return nil, fmt.Errorf("failed to move model to %s: %w", cfg.Device, err)
	}

	runner := Runner{}
	if cfg.ShowProgress {
		runner.Progress = out
	}

	baseLR := opt.GetLR()
	history := NewHistory(cfg.Epochs)
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		fmt.Fprintf(out, "Epoch [%d/%d]\n", epoch+1, cfg.Epochs)
		if cfg.Scheduler != nil {
			opt.SetLR(cfg.Scheduler.LR(epoch, baseLR))
		}

		train, err := runner.TrainEpoch(model, trainData, lossFn, opt, cfg.Device)
		if err != nil {
			return history, fmt.Errorf("epoch %d: train: %w", epoch+1, err)
		}

		test, err := runner.EvaluateEpoch(model, testData, lossFn, cfg.Device)
		if err != nil {
			return history, fmt.Errorf("epoch %d: test: %w", epoch+1, err)
		}

		history.Append(train, test)
		if obs, ok := cfg.Scheduler.(MetricObserver); ok {
			obs.Observe(test.Loss)
		}

		fmt.Fprintf(out, "Train Loss: %.4f - Train Accuracy: %.4f\n", train.Loss, train.Accuracy)
		fmt.Fprintf(out, "Test Loss: %.4f - Test Accuracy: %.4f\n", test.Loss, test.Accuracy)
		fmt.Fprintln(out, separator)

		if cfg.Writer == nil {
			continue
		}
		if err := writeEpochScalars(cfg.Writer, epoch, train, test); err != nil {
			return history, err
		}
		if cfg.WriterLifetime == CloseEachEpoch {
			if err := cfg.Writer.Close(); err != nil {
				return history, fmt.Errorf("failed to close writer after epoch %d: %w", epoch+1, err)
			}
		}
	}

	if cfg.Writer != nil && cfg.WriterLifetime == CloseAfterRun {
		if err := cfg.Writer.Close(); err != nil {
			return history, fmt.Errorf("failed to close writer: %w", err)
		}
	}

	return history, nil
}
