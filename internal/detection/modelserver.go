package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PredictRequest is the body sent to the model server
type PredictRequest struct {
	Instances []PredictInstance `json:"instances"`
}

// PredictInstance carries one base64 encoded image
type PredictInstance struct {
	B64 string `json:"b64"`
}

// PredictResponse is the model server reply
type PredictResponse struct {
	Predictions []struct {
		ClassName  string   `json:"class_name"`
		Confidence *float64 `json:"confidence"`
	} `json:"predictions"`
}

// ModelServerClassifier calls a Food-101 model behind a TF-Serving style REST API
type ModelServerClassifier struct {
	url    string
	client *http.Client
}

// NewModelServerClassifier creates a classifier for {baseURL}/v1/models/{model}:predict
func NewModelServerClassifier(baseURL, model string, client *http.Client) *ModelServerClassifier {
	if client == nil {
		client = &http.Client{}
	}
	return &ModelServerClassifier{
		url:    fmt.Sprintf("%s/v1/models/%s:predict", strings.TrimRight(baseURL, "/"), model),
		client: client,
	}
}

// Classify implements Classifier
func (m *ModelServerClassifier) Classify(ctx context.Context, image []byte) ([]Prediction, error) {
	jsonData, err := json.Marshal(PredictRequest{
		Instances: []PredictInstance{{B64: base64.StdEncoding.EncodeToString(image)}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server returned status %d", resp.StatusCode)
	}

	var result PredictResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	preds := make([]Prediction, 0, len(result.Predictions))
	for _, p := range result.Predictions {
		if p.Confidence == nil {
			return nil, fmt.Errorf("prediction %q has no confidence", p.ClassName)
		}
		preds = append(preds, Prediction{Label: p.ClassName, Score: *p.Confidence})
	}
	return preds, nil
}
