package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/docustitch/internal/generator"
)

func testCompletion() generator.CompletionRequest {
	return generator.CompletionRequest{ImageData: "aGVsbG8=", MimeType: "image/png", Prompt: "make a script"}
}

func TestGeminiComplete(t *testing.T) {
	var got request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.RawQuery)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]interface{}{{"text": `{"script":"print(1)"}`}},
				}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	backend := NewGeminiBackend("key-123", "gemini-test", server.URL)
	text, err := backend.Complete(context.Background(), testCompletion())
	require.NoError(t, err)
	assert.Equal(t, `{"script":"print(1)"}`, text)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	assert.Equal(t, "image/png", got.Contents[0].Parts[0].InlineData.MimeType)
	assert.Equal(t, "aGVsbG8=", got.Contents[0].Parts[0].InlineData.Data)
	assert.Equal(t, "make a script", got.Contents[0].Parts[1].Text)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
}

func TestGeminiCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "API key not valid", http.StatusBadRequest)
	}))
	defer server.Close()

	backend := NewGeminiBackend("bad", "gemini-test", server.URL)
	_, err := backend.Complete(context.Background(), testCompletion())
	require.Error(t, err)
	assert.NotErrorIs(t, err, generator.ErrMalformedResponse)
}

func TestGeminiCompleteNoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	backend := NewGeminiBackend("k", "gemini-test", server.URL)
	_, err := backend.Complete(context.Background(), testCompletion())
	assert.ErrorIs(t, err, generator.ErrMalformedResponse)
}

func TestGeminiCompleteInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer server.Close()

	backend := NewGeminiBackend("k", "gemini-test", server.URL)
	_, err := backend.Complete(context.Background(), testCompletion())
	assert.ErrorIs(t, err, generator.ErrMalformedResponse)
}

func TestGeminiCompleteNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	backend := NewGeminiBackend("secret-key-123", "gemini-test", url)
	_, err := backend.Complete(context.Background(), testCompletion())
	require.Error(t, err)
	assert.NotErrorIs(t, err, generator.ErrMalformedResponse)
	assert.NotContains(t, err.Error(), "secret-key-123")
}

func TestNewGeminiBackendDefaultBaseURL(t *testing.T) {
	backend := NewGeminiBackend("k", "m", "")
	assert.Equal(t, defaultBaseURL, backend.baseURL)
}
