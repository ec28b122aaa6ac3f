package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/docustitch/internal/generator"
)

type OllamaBackend struct {
	host   string
	model  string
	client *http.Client
}

func NewOllamaBackend(host, model string) *OllamaBackend {
	return &OllamaBackend{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

func (b *OllamaBackend) Complete(ctx context.Context, req generator.CompletionRequest) (string, error) {
	// format=json constrains the model to emit a single JSON value.
	reqBody := map[string]interface{}{
		"model":  b.model,
		"prompt": req.Prompt,
		"images": []string{req.ImageData},
		"format": "json",
		"stream": false,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call ollama: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errBody)
	}

	var respBody struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("%w: failed to decode ollama response: %v", generator.ErrMalformedResponse, err)
	}

	return respBody.Response, nil
}
