package training

// Keys used by History.Map.
const (
	KeyTrainLoss     = "train_loss"
	KeyTrainAccuracy = "train_acc"
	KeyTestLoss      = "test_loss"
	KeyTestAccuracy  = "test_acc"
)

// History is the per-epoch metrics record produced by Fit. Index i of every
// series belongs to epoch i.
type History struct {
	TrainLoss     []float64 `json:"train_loss"`
	TrainAccuracy []float64 `json:"train_acc"`
	TestLoss      []float64 `json:"test_loss"`
	TestAccuracy  []float64 `json:"test_acc"`
}

// NewHistory creates an empty history with room for epochs entries.
func NewHistory(epochs int) *History {
	if epochs < 0 {
		epochs = 0
	}
	return &History{
		TrainLoss:     make([]float64, 0, epochs),
		TrainAccuracy: make([]float64, 0, epochs),
		TestLoss:      make([]float64, 0, epochs),
		TestAccuracy:  make([]float64, 0, epochs),
	}
}

// Append records one epoch.
func (h *History) Append(train, test EpochResult) {
	h.TrainLoss = append(h.TrainLoss, train.Loss)
	h.TrainAccuracy = append(h.TrainAccuracy, train.Accuracy)
	h.TestLoss = append(h.TestLoss, test.Loss)
	h.TestAccuracy = append(h.TestAccuracy, test.Accuracy)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int {
	return len(h.TrainLoss)
}

// Map returns the series keyed by train_loss, train_acc, test_loss and test_acc.
func (h *History) Map() map[string][]float64 {
	return map[string][]float64{
		KeyTrainLoss:     h.TrainLoss,
		KeyTrainAccuracy: h.TrainAccuracy,
		KeyTestLoss:      h.TestLoss,
		KeyTestAccuracy:  h.TestAccuracy,
	}
}

// BestEpoch returns the zero-based epoch with the lowest test loss, or -1
// when nothing has been recorded.
func (h *History) BestEpoch() int {
	best := -1
	for i, loss := range h.TestLoss {
		if best < 0 || loss < h.TestLoss[best] {
			best = i
		}
	}
	return best
}
