package wrapper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// HTTPClassifier calls out to an opaque text-classification service over
// HTTP. The service is expected to run the real model process (GPU
// drivers, batching, warm weights) out of process; this client only
// speaks the wire contract.
//
// Request:  {"text": "..."}
// Response: {"label": "...", "scores": {"label_a": 0.1, ...}}
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClassifier builds a classifier that POSTs to endpoint.
func NewHTTPClassifier(endpoint string, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClassifier{endpoint: endpoint, client: client}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label  string             `json:"label"`
	Scores map[string]float64 `json:"scores"`
}

// Classify implements Classifier. Network and 5xx failures are reported as
// transient (retryable); 4xx and decode failures are fatal (configuration
// errors, not worth retrying).
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (RawResult, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return RawResult{}, fmt.Errorf("wrapper: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return RawResult{}, fmt.Errorf("wrapper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return RawResult{}, NewTransientError(model.ErrorTimeout, err)
		}
		return RawResult{}, NewTransientError(model.ErrorRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return RawResult{}, NewTransientError(model.ErrorResource, fmt.Errorf("wrapper: classifier returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return RawResult{}, fmt.Errorf("wrapper: classifier rejected request: %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RawResult{}, fmt.Errorf("wrapper: decode response: %w", err)
	}
	return RawResult{Label: out.Label, AllScores: out.Scores}, nil
}
