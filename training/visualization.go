package training

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	LossCurves     PlotType = "loss_curves"
	AccuracyCurves PlotType = "accuracy_curves"
)

// PlotData represents the universal JSON format for the sidecar plotting service
type PlotData struct {
	// Metadata
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter", "bar"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point. NaN and infinite coordinates
// are encoded as JSON null.
type DataPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p DataPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}{finiteOrNil(p.X), finiteOrNil(p.Y)})
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	XAxisScale string `json:"x_axis_scale"` // "linear", "log"
	YAxisScale string `json:"y_axis_scale"` // "linear", "log"
	ShowLegend bool   `json:"show_legend"`
	ShowGrid   bool   `json:"show_grid"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	// Subplot places the plot in a grid of Rows x Cols, 1-based Index.
	Subplot Subplot `json:"subplot"`
}

// Subplot is a position in a figure grid
type Subplot struct {
	Rows  int `json:"rows"`
	Cols  int `json:"cols"`
	Index int `json:"index"`
}

// PlotMetrics builds the side-by-side loss and accuracy curves of a history.
// Epochs on the x axis start at 1.
func PlotMetrics(h *History, modelName string) []PlotData {
	now := time.Now()
	title := func(s string) string {
		if modelName == "" {
			return s
		}
		return fmt.Sprintf("%s - %s", s, modelName)
	}

	loss := PlotData{
		PlotType:  LossCurves,
		Title:     title("Training and Testing Loss"),
		Timestamp: now,
		ModelName: modelName,
		Series: []SeriesData{
			lineSeries("Training Loss", h.TrainLoss, "#FF6B6B", false),
			lineSeries("Testing Loss", h.TestLoss, "#FF9F43", true),
		},
		Config: curveConfig("Loss", 1),
	}

	accuracy := PlotData{
		PlotType:  AccuracyCurves,
		Title:     title("Training and Testing Accuracy"),
		Timestamp: now,
		ModelName: modelName,
		Series: []SeriesData{
			lineSeries("Training Accuracy", h.TrainAccuracy, "#4ECDC4", false),
			lineSeries("Testing Accuracy", h.TestAccuracy, "#5F27CD", true),
		},
		Config: curveConfig("Accuracy", 2),
	}

	return []PlotData{loss, accuracy}
}

func lineSeries(name string, values []float64, color string, dashed bool) SeriesData {
	points := make([]DataPoint, len(values))
	for i, v := range values {
		points[i] = DataPoint{X: float64(i + 1), Y: v}
	}
	style := map[string]interface{}{
		"color":      color,
		"line_width": 2,
	}
	if dashed {
		style["line_style"] = "dashed"
	}
	return SeriesData{Name: name, Type: "line", Data: points, Style: style}
}

func curveConfig(yLabel string, index int) PlotConfig {
	return PlotConfig{
		XAxisLabel: "Epochs",
		YAxisLabel: yLabel,
		XAxisScale: "linear",
		YAxisScale: "linear",
		ShowLegend: true,
		ShowGrid:   true,
		Width:      600,
		Height:     500,
		Subplot:    Subplot{Rows: 1, Cols: 2, Index: index},
	}
}

// SavePlots writes plots as indented JSON to path, creating parent directories.
func SavePlots(path string, plots []PlotData) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create plot directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(plots, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plot data: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plot file: %w", err)
	}
	return nil
}
