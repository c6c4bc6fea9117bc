package training

import "fmt"

// Scalar tags written for every epoch.
const (
	TagTrainLoss     = "Loss/Train"
	TagTestLoss      = "Loss/Test"
	TagTrainAccuracy = "Accuracy/Train"
	TagTestAccuracy  = "Accuracy/Test"
)

// ScalarWriter records scalar values against a step index. summary.Writer
// satisfies it.
type ScalarWriter interface {
	AddScalar(tag string, value float64, step int) error
	Close() error
}

// WriterLifetime controls when Fit closes its ScalarWriter.
type WriterLifetime int

const (
	// CloseAfterRun closes the writer once, after the last epoch.
	CloseAfterRun WriterLifetime = iota
	// CloseEachEpoch closes the writer after every epoch's scalars are
	// written. Only useful with writers that reopen on the next write.
	CloseEachEpoch
	// LeaveOpen never closes the writer; the caller owns it.
	LeaveOpen
)

func (wl WriterLifetime) String() string {
	switch wl {
	case CloseAfterRun:
		return "after-run"
	case CloseEachEpoch:
		return "each-epoch"
	case LeaveOpen:
		return "leave-open"
	default:
		return fmt.Sprintf("WriterLifetime(%d)", int(wl))
	}
}

// ParseWriterLifetime maps the String form back to a WriterLifetime.
func ParseWriterLifetime(s string) (WriterLifetime, error) {
	for _, wl := range []WriterLifetime{CloseAfterRun, CloseEachEpoch, LeaveOpen} {
		if wl.String() == s {
			return wl, nil
		}
	}
	return CloseAfterRun, fmt.Errorf("unknown writer lifetime %q", s)
}

func writeEpochScalars(w ScalarWriter, epoch int, train, test EpochResult) error {
	scalars := []struct {
		tag   string
		value float64
	}{
		{TagTrainLoss, train.Loss},
		{TagTestLoss, test.Loss},
		{TagTrainAccuracy, train.Accuracy},
		{TagTestAccuracy, test.Accuracy},
	}
	for _, s := range scalars {
		if err := w.AddScalar(s.tag, s.value, epoch); err != nil {
			return fmt.Errorf("failed to write %s for epoch %d: %w", s.tag, epoch, err)
		}
	}
	return nil
}
