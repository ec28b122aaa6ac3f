package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/docustitch/internal/domain"
)

// stubBackend returns a canned reply and records the last request.
type stubBackend struct {
	reply string
	err   error
	last  CompletionRequest
	calls int
	ctx   context.Context
}

func (s *stubBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	s.calls++
	s.last = req
	s.ctx = ctx
	return s.reply, s.err
}

func testRequest() domain.GenerationRequest {
	return domain.GenerationRequest{
		EncodedImage: "aGVsbG8=",
		MimeType:     "image/png",
		TargetURL:    "https://docs.example.com",
		UserNotes:    "skip the community links",
	}
}

func TestOrchestratorGenerate(t *testing.T) {
	backend := &stubBackend{reply: `{"script":"print(1)","instructions":"run it","explanation":"test"}`}
	o := NewOrchestrator(backend, slog.Default())

	result, err := o.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, &domain.GeneratedResult{Script: "print(1)", Instructions: "run it", Explanation: "test"}, result)

	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, "aGVsbG8=", backend.last.ImageData)
	assert.Equal(t, "image/png", backend.last.MimeType)
	assert.Contains(t, backend.last.Prompt, "https://docs.example.com")
	assert.Contains(t, backend.last.Prompt, "skip the community links")
}

func TestOrchestratorGenerate_TransportError(t *testing.T) {
	backend := &stubBackend{err: errors.New("dial tcp: connection refused")}
	o := NewOrchestrator(backend, slog.Default())

	result, err := o.Generate(context.Background(), testRequest())
	assert.Nil(t, result)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindNetwork, genErr.Kind)
	assert.Equal(t, FailureMessage, err.Error())
	assert.Contains(t, errors.Unwrap(err).Error(), "connection refused")
}

func TestOrchestratorGenerate_BackendMalformed(t *testing.T) {
	backend := &stubBackend{err: fmt.Errorf("gemini: %w: no candidates", ErrMalformedResponse)}
	o := NewOrchestrator(backend, slog.Default())

	_, err := o.Generate(context.Background(), testRequest())
	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindMalformedResponse, genErr.Kind)
}

func TestOrchestratorGenerate_MissingFieldNoPartialResult(t *testing.T) {
	backend := &stubBackend{reply: `{"script":"print(1)","instructions":"run it"}`}
	o := NewOrchestrator(backend, slog.Default())

	result, err := o.Generate(context.Background(), testRequest())
	assert.Nil(t, result)
	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindMalformedResponse, genErr.Kind)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestOrchestratorGenerate_EmptyImage(t *testing.T) {
	backend := &stubBackend{}
	o := NewOrchestrator(backend, slog.Default())

	req := testRequest()
	req.EncodedImage = ""
	_, err := o.Generate(context.Background(), req)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindImageRead, genErr.Kind)
	assert.Zero(t, backend.calls)
}

func TestOrchestratorGenerate_Timeout(t *testing.T) {
	backend := &stubBackend{reply: `{"script":"","instructions":"","explanation":""}`}
	o := NewOrchestrator(backend, slog.Default(), WithTimeout(time.Minute))

	_, err := o.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	_, hasDeadline := backend.ctx.Deadline()
	assert.True(t, hasDeadline)
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(PromptData{TargetURL: "https://docs.example.com"})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Target URL: https://docs.example.com")
	assert.Contains(t, prompt, "User notes: (none)")
	assert.Contains(t, prompt, "instructions in English")

	prompt, err = BuildPrompt(PromptData{TargetURL: "u", Notes: "remove the top bar", Language: "Simplified Chinese"})
	require.NoError(t, err)
	assert.Contains(t, prompt, "User notes: remove the top bar")
	assert.Contains(t, prompt, "instructions in Simplified Chinese")
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "image_read", KindImageRead.String())
	assert.Equal(t, "network", KindNetwork.String())
	assert.Equal(t, "malformed_response", KindMalformedResponse.String())
	assert.Equal(t, "unknown", ErrorKind(0).String())
}
