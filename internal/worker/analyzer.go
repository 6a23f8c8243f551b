package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
)

// Analyzer produces an analysis document for a stored image.
type Analyzer interface {
	Analyze(ctx context.Context, filePath string) (json.RawMessage, error)
}

const maxAnalysisBytes = 1 << 20

// HTTPAnalyzer calls the ML service's POST /analyze endpoint.
type HTTPAnalyzer struct {
	base   string
	client *http.Client
}

func NewHTTPAnalyzer(baseURL string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAnalyzer{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	FilePath string `json:"file_path"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, filePath string) (json.RawMessage, error) {
	body, err := gojson.Marshal(analyzeRequest{FilePath: filePath})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAnalysisBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read analysis: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%d %s for url: %s/analyze", resp.StatusCode, http.StatusText(resp.StatusCode), a.base)
	}
	if len(data) > maxAnalysisBytes {
		return nil, fmt.Errorf("analysis exceeds %d bytes", maxAnalysisBytes)
	}
	var obj map[string]any
	if err := gojson.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("analysis is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("analysis is not a JSON object: null")
	}
	return json.RawMessage(bytes.TrimSpace(data)), nil
}
