package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/go-trainhelpers/tensor"
	"k8s.io/klog/v2"
)

// ErrUnknownExtension is returned for checkpoint paths whose extension does
// not name a supported format.
var ErrUnknownExtension = errors.New("checkpoints: unrecognized file extension")

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatProto CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProto:
		return "Proto"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

const (
	frameworkName    = "go-trainhelpers"
	frameworkVersion = "1.0.0"
)

// FormatForPath picks the format from the file extension: .pt, .pth and .pb
// are protobuf, .json is JSON.
func FormatForPath(path string) (CheckpointFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pt", ".pth", ".pb":
		return FormatProto, nil
	case ".json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("%w: %q (want .pt, .pth, .pb or .json)", ErrUnknownExtension, filepath.Base(path))
	}
}

// StateDicter is a model whose parameters can be exported by name.
type StateDicter interface {
	StateDict() map[string]*tensor.Tensor
}

// StateLoader is a model whose parameters can be restored by name.
type StateLoader interface {
	LoadStateDict(state map[string]*tensor.Tensor) error
}

// Checkpoint is a model parameter mapping plus metadata
type Checkpoint struct {
	Weights  []WeightTensor     `json:"weights"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Framework string    `json:"framework"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// FromStateDict builds a checkpoint with weights sorted by name.
func FromStateDict(state map[string]*tensor.Tensor) *Checkpoint {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	cp := &Checkpoint{
		Metadata: CheckpointMetadata{
			Framework: frameworkName,
			Version:   frameworkVersion,
			CreatedAt: time.Now().UTC(),
		},
	}
	for _, name := range names {
		t := state[name]
		cp.Weights = append(cp.Weights, WeightTensor{
			Name:  name,
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float32(nil), t.Data...),
		})
	}
	return cp
}

// StateDict converts the checkpoint weights back into CPU tensors.
func (cp *Checkpoint) StateDict() (map[string]*tensor.Tensor, error) {
	state := make(map[string]*tensor.Tensor, len(cp.Weights))
	for _, w := range cp.Weights {
		if _, dup := state[w.Name]; dup {
			return nil, fmt.Errorf("duplicate weight %q in checkpoint", w.Name)
		}
		t, err := tensor.NewTensor(w.Shape, tensor.CPU, append([]float32(nil), w.Data...))
		if err != nil {
			return nil, fmt.Errorf("weight %q: %w", w.Name, err)
		}
		state[w.Name] = t
	}
	return state, nil
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete model checkpoint. FormatJSON returns an
// error for non-finite weights.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	var (
		data []byte
		err  error
	)
	switch cs.format {
	case FormatProto:
		data, err = marshalProto(checkpoint)
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}

	var checkpoint *Checkpoint
	switch cs.format {
	case FormatProto:
		checkpoint, err = unmarshalProto(data)
	case FormatJSON:
		checkpoint = &Checkpoint{}
		err = json.Unmarshal(data, checkpoint)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return checkpoint, nil
}

// SaveModel writes the model's state dict to targetDir/filename, creating
// targetDir if needed. The extension of filename selects the format and must
// be one FormatForPath recognizes. It returns the written path.
//
// JSON cannot represent NaN or infinite weights; saving such a model as .json
// fails without writing the file. The protobuf formats store them unchanged.
func SaveModel(model StateDicter, targetDir, filename string) (string, error) {
	format, err := FormatForPath(filename)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	path := filepath.Join(targetDir, filename)
	if err := NewCheckpointSaver(format).SaveCheckpoint(FromStateDict(model.StateDict()), path); err != nil {
		return "", err
	}

	klog.Infof("Model saved to %s", path)
	return path, nil
}

// LoadModel restores the parameters saved at path into model.
func LoadModel(model StateLoader, path string) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}

	checkpoint, err := NewCheckpointSaver(format).LoadCheckpoint(path)
	if err != nil {
		return err
	}

	state, err := checkpoint.StateDict()
	if err != nil {
		return err
	}
	if err := model.LoadStateDict(state); err != nil {
		return fmt.Errorf("failed to load state dict from %s: %w", path, err)
	}

	klog.V(1).Infof("Model loaded from %s", path)
	return nil
}
