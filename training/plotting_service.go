package training

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrPlottingDisabled is returned by PlottingService calls made while disabled.
var ErrPlottingDisabled = errors.New("plotting service is disabled")

// PlottingService handles communication with the sidecar plotting application
type PlottingService struct {
	baseURL    string
	httpClient *http.Client
	config     PlottingServiceConfig
	enabled    bool
}

// PlottingServiceConfig contains configuration for the plotting service
type PlottingServiceConfig struct {
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
}

// PlottingResponse represents the response from the plotting service
type PlottingResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PlotURL   string `json:"plot_url,omitempty"`
	ViewURL   string `json:"view_url,omitempty"`
	PlotID    string `json:"plot_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// BatchPlottingResponse represents the response from the batch plotting endpoint
type BatchPlottingResponse struct {
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	BatchID      string             `json:"batch_id,omitempty"`
	Results      []PlottingResponse `json:"results,omitempty"`
	DashboardURL string             `json:"dashboard_url,omitempty"`
}

// DefaultPlottingServiceConfig returns default configuration for the plotting service
func DefaultPlottingServiceConfig() PlottingServiceConfig {
	return PlottingServiceConfig{
		BaseURL:       "http://localhost:8080",
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// NewPlottingService creates a new plotting service client. It starts disabled.
func NewPlottingService(config PlottingServiceConfig) *PlottingService {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	return &PlottingService{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

// Enable enables the plotting service
func (ps *PlottingService) Enable() {
	ps.enabled = true
}

// Disable disables the plotting service
func (ps *PlottingService) Disable() {
	ps.enabled = false
}

// IsEnabled returns whether the plotting service is enabled
func (ps *PlottingService) IsEnabled() bool {
	return ps.enabled
}

// SendPlotData sends one plot to the sidecar, retrying per the config
func (ps *PlottingService) SendPlotData(plotData PlotData) (*PlottingResponse, error) {
	var resp PlottingResponse
	if err := ps.postWithRetry("/api/plot", plotData, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchSendPlots sends multiple plots in a single request
func (ps *PlottingService) BatchSendPlots(plots []PlotData) (*BatchPlottingResponse, error) {
	payload := map[string]interface{}{
		"plots": plots,
		"batch": true,
	}
	var resp BatchPlottingResponse
	if err := ps.postWithRetry("/api/batch-plot", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendHistory renders the loss and accuracy curves of h and sends them as one batch
func (ps *PlottingService) SendHistory(h *History, modelName string) (*BatchPlottingResponse, error) {
	return ps.BatchSendPlots(PlotMetrics(h, modelName))
}

// CheckHealth checks if the plotting service is available
func (ps *PlottingService) CheckHealth() error {
	if !ps.enabled {
		return ErrPlottingDisabled
	}

	resp, err := ps.httpClient.Get(ps.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func (ps *PlottingService) postWithRetry(path string, payload, out interface{}) error {
	if !ps.enabled {
		return ErrPlottingDisabled
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal plot data: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < ps.config.RetryAttempts; attempt++ {
		lastErr = ps.post(path, body, out)
		if lastErr == nil {
			return nil
		}
		// Wait before retry (except for the last attempt)
		if attempt < ps.config.RetryAttempts-1 {
			time.Sleep(ps.config.RetryDelay)
		}
	}
	return fmt.Errorf("failed to send plot data after %d attempts: %w", ps.config.RetryAttempts, lastErr)
}

func (ps *PlottingService) post(path string, body []byte, out interface{}) error {
	req, err := http.NewRequest(http.MethodPost, ps.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-trainhelpers")

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}
