// Package analysis calls the statistical analysis service that runs Gage
// R&R, capability, normality and related studies over uploaded data.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mesura-ai/mesura/internal/log"
)

// Supported analysis types. The analysis service rejects anything else.
const (
	TypeGageRR      = "gage_rr"
	TypeCapability  = "capability"
	TypeNormality   = "normality"
	TypeDescriptive = "descriptive"
	TypeControl     = "control_chart"
)

// defaultTimeout bounds a single analysis call. Retries are handled by the
// caller, not here.
const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 64 * 1024

// Result is a successful analysis response. Results and ChartData are kept
// as raw JSON; this service relays them without interpreting their shape.
type Result struct {
	AnalysisType string          `json:"analysisType"`
	Results      json.RawMessage `json:"results"`
	ChartData    json.RawMessage `json:"chartData,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
}

// RowError describes a data problem in a specific row of the input file.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// ServiceError is a structured failure from the analysis service.
type ServiceError struct {
	Status           int        `json:"-"`
	Code             string     `json:"code"`
	Message          string     `json:"message"`
	ValidationErrors []RowError `json:"validationErrors,omitempty"`
}

func (e *ServiceError) Error() string {
	if len(e.ValidationErrors) > 0 {
		return fmt.Sprintf("analysis service: %s (%d row errors)", e.Message, len(e.ValidationErrors))
	}
	return fmt.Sprintf("analysis service: %s", e.Message)
}

// StatusCode returns the HTTP status the service responded with.
func (e *ServiceError) StatusCode() int { return e.Status }

// IsValidation reports whether the failure is a data validation rejection
// rather than a service fault.
func (e *ServiceError) IsValidation() bool {
	return e.Status == http.StatusUnprocessableEntity || len(e.ValidationErrors) > 0
}

// Client calls the analysis service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     log.Logger
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL, apiKey string, logger log.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("analysis: base URL is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}, nil
}

type invokeRequest struct {
	AnalysisType string    `json:"analysisType"`
	FileID       uuid.UUID `json:"fileId"`
	MessageID    uuid.UUID `json:"messageId"`
}

// Invoke runs one analysis of analysisType over fileID. messageID ties the
// run to the assistant message being produced, for service-side tracing.
//
// A non-2xx response is returned as *ServiceError.
func (c *Client) Invoke(ctx context.Context, analysisType string, fileID, messageID uuid.UUID) (*Result, error) {
	body, err := json.Marshal(invokeRequest{
		AnalysisType: analysisType,
		FileID:       fileID,
		MessageID:    messageID,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("analysis: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis: call service: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("analysis call completed",
		"analysis_type", analysisType,
		"file_id", fileID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.decodeError(resp)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("analysis: decode response: %w", err)
	}
	if result.AnalysisType == "" {
		result.AnalysisType = analysisType
	}
	return &result, nil
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	svcErr := &ServiceError{Status: resp.StatusCode}
	if readErr == nil && len(raw) > 0 {
		// The service wraps errors as {"error": {...}}; tolerate a bare
		// object too.
		var envelope struct {
			Error *ServiceError `json:"error"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
			envelope.Error.Status = resp.StatusCode
			return envelope.Error
		}
		if err := json.Unmarshal(raw, svcErr); err == nil && svcErr.Message != "" {
			svcErr.Status = resp.StatusCode
			return svcErr
		}
	}

	svcErr.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	return svcErr
}
