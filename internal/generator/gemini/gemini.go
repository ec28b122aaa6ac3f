package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vbonduro/docustitch/internal/generator"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// request types mirror the Generative Language generateContent API.
type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"response_mime_type,omitempty"`
}

type request struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type response struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

type GeminiBackend struct {
	apiKey  string
	model   string
	client  *http.Client
	baseURL string
}

func NewGeminiBackend(apiKey, model, baseURL string) *GeminiBackend {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &GeminiBackend{
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

func (b *GeminiBackend) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", b.baseURL, url.PathEscape(b.model))
}

func (b *GeminiBackend) Complete(ctx context.Context, req generator.CompletionRequest) (string, error) {
	body := request{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: req.MimeType, Data: req.ImageData}},
				{Text: req.Prompt},
			},
		}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The key stays out of the URL so transport errors cannot echo it.
	httpReq.Header.Set("x-goog-api-key", b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call gemini: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close gemini response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, errBody)
	}

	var respBody response
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("%w: failed to decode gemini response: %v", generator.ErrMalformedResponse, err)
	}
	if len(respBody.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in gemini response", generator.ErrMalformedResponse)
	}

	for _, p := range respBody.Candidates[0].Content.Parts {
		if p.Text != "" {
			return p.Text, nil
		}
	}
	return "", fmt.Errorf("%w: no text part in gemini response (finish reason %q)",
		generator.ErrMalformedResponse, respBody.Candidates[0].FinishReason)
}
