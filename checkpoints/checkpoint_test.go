package checkpoints

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-trainhelpers/tensor"
	"github.com/tsawler/go-trainhelpers/training"
)

// fakeModel is a minimal StateDicter/StateLoader
type fakeModel struct {
	state map[string]*tensor.Tensor
}

func newFakeModel(t *testing.T) *fakeModel {
	t.Helper()
	w, err := tensor.NewTensor([]int{2, 3}, tensor.CPU, []float32{1, -2, 3.5, 0, 1e-7, -0.25})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	b, err := tensor.NewTensor([]int{3}, tensor.CPU, []float32{0.1, 0.2, 0.3})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return &fakeModel{state: map[string]*tensor.Tensor{"weight": w, "bias": b}}
}

func (m *fakeModel) StateDict() map[string]*tensor.Tensor {
	return m.state
}

func (m *fakeModel) LoadStateDict(state map[string]*tensor.Tensor) error {
	m.state = state
	return nil
}

// TestFormatForPath tests extension detection
func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path    string
		format  CheckpointFormat
		wantErr bool
	}{
		{"model.pt", FormatProto, false},
		{"model.PTH", FormatProto, false},
		{"dir/model.pb", FormatProto, false},
		{"model.json", FormatJSON, false},
		{"model", 0, true},
		{"model.bin", 0, true},
	}

	for _, test := range tests {
		format, err := FormatForPath(test.path)
		if test.wantErr {
			if !errors.Is(err, ErrUnknownExtension) {
				t.Errorf("FormatForPath(%q): expected ErrUnknownExtension, got %v", test.path, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("FormatForPath(%q) failed: %v", test.path, err)
			continue
		}
		if format != test.format {
			t.Errorf("FormatForPath(%q) = %s, expected %s", test.path, format, test.format)
		}
	}
}

// TestSaveModelCreatesDirectory tests that a missing target directory is created
func TestSaveModelCreatesDirectory(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "models")
	model := newFakeModel(t)

	path, err := SaveModel(model, target, "model.pth")
	if err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	want := filepath.Join(target, "model.pth")
	if path != want {
		t.Errorf("Expected path %s, got %s", want, path)
	}
	info, err := os.Stat(want)
	if err != nil {
		t.Fatalf("Expected checkpoint file at %s: %v", want, err)
	}
	if info.Size() == 0 {
		t.Error("Expected non-empty checkpoint file")
	}

	// idempotent directory creation
	if _, err := SaveModel(model, target, "model.pth"); err != nil {
		t.Errorf("Second SaveModel failed: %v", err)
	}
}

// TestSaveModelRejectsUnknownExtension tests the extension precondition
func TestSaveModelRejectsUnknownExtension(t *testing.T) {
	target := filepath.Join(t.TempDir(), "never-created")

	_, err := SaveModel(newFakeModel(t), target, "model.bin")
	if !errors.Is(err, ErrUnknownExtension) {
		t.Fatalf("Expected ErrUnknownExtension, got %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("Expected target directory to be left untouched, stat err = %v", err)
	}
}

// TestSaveLoadRoundTrip tests both formats restore bit-identical values
func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"model.pt", "model.json"} {
		t.Run(name, func(t *testing.T) {
			src := newFakeModel(t)
			path, err := SaveModel(src, t.TempDir(), name)
			if err != nil {
				t.Fatalf("SaveModel failed: %v", err)
			}

			dst := &fakeModel{}
			if err := LoadModel(dst, path); err != nil {
				t.Fatalf("LoadModel failed: %v", err)
			}

			if len(dst.state) != len(src.state) {
				t.Fatalf("Expected %d tensors, got %d", len(src.state), len(dst.state))
			}
			for key, want := range src.state {
				got, ok := dst.state[key]
				if !ok {
					t.Errorf("Missing tensor %q", key)
					continue
				}
				if !tensor.Equal(got, want) {
					t.Errorf("Tensor %q differs: got %v, want %v", key, got.Data, want.Data)
				}
			}
		})
	}
}

// TestCheckpointMetadataRoundTrip tests protobuf metadata encoding
func TestCheckpointMetadataRoundTrip(t *testing.T) {
	cp := FromStateDict(newFakeModel(t).StateDict())

	data, err := marshalProto(cp)
	if err != nil {
		t.Fatalf("marshalProto failed: %v", err)
	}
	got, err := unmarshalProto(data)
	if err != nil {
		t.Fatalf("unmarshalProto failed: %v", err)
	}

	if got.Metadata.Framework != frameworkName || got.Metadata.Version != frameworkVersion {
		t.Errorf("Unexpected metadata %+v", got.Metadata)
	}
	if !got.Metadata.CreatedAt.Equal(cp.Metadata.CreatedAt) {
		t.Errorf("Expected created_at %v, got %v", cp.Metadata.CreatedAt, got.Metadata.CreatedAt)
	}
	// weights are sorted by name
	if got.Weights[0].Name != "bias" || got.Weights[1].Name != "weight" {
		t.Errorf("Unexpected weight order: %s, %s", got.Weights[0].Name, got.Weights[1].Name)
	}
}

// TestLoadInvalidProto tests importing garbage data
func TestLoadInvalidProto(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pb")
	if err := os.WriteFile(path, []byte("invalid protobuf data"), 0644); err != nil {
		t.Fatalf("Failed to create invalid protobuf file: %v", err)
	}

	if err := LoadModel(&fakeModel{}, path); err == nil {
		t.Error("Expected error for invalid protobuf data")
	}
}

// TestLinearCheckpoint tests saving and restoring a real module
func TestLinearCheckpoint(t *testing.T) {
	training.SetRandomSeed(7)
	src, err := training.NewLinear(4, 3, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	path, err := SaveModel(src, t.TempDir(), "linear.pt")
	if err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	training.SetRandomSeed(99)
	dst, err := training.NewLinear(4, 3, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	if err := LoadModel(dst, path); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	want := src.StateDict()
	for name, got := range dst.StateDict() {
		if !tensor.Equal(got, want[name]) {
			t.Errorf("Parameter %q not restored", name)
		}
	}

	wrong, _ := training.NewLinear(5, 3, true, tensor.CPU)
	if err := LoadModel(wrong, path); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch loading into a different shape, got %v", err)
	}
}

// TestSaveModelNonFinite tests NaN and Inf weights in both formats
func TestSaveModelNonFinite(t *testing.T) {
	w, err := tensor.NewTensor([]int{3}, tensor.CPU, []float32{float32(math.NaN()), float32(math.Inf(-1)), 1})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	src := &fakeModel{state: map[string]*tensor.Tensor{"weight": w}}
	dir := t.TempDir()

	if _, err := SaveModel(src, dir, "diverged.json"); err == nil {
		t.Error("Expected error saving non-finite weights as JSON")
	}
	if _, err := os.Stat(filepath.Join(dir, "diverged.json")); !os.IsNotExist(err) {
		t.Errorf("Expected no JSON file to be written, stat err = %v", err)
	}

	path, err := SaveModel(src, dir, "diverged.pt")
	if err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	dst := &fakeModel{}
	if err := LoadModel(dst, path); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if !tensor.Equal(dst.state["weight"], w) {
		t.Errorf("Expected bit-identical non-finite weights, got %v", dst.state["weight"].Data)
	}
}
