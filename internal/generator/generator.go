package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/docustitch/internal/domain"
)

// FailureMessage is the only failure text shown to users; the cause is kept
// for logs.
const FailureMessage = "Failed to generate script. Please check your API key and try again."

// ErrMalformedResponse marks a backend reply that arrived but could not be
// turned into a result. Backends wrap it so the orchestrator can classify the
// failure.
var ErrMalformedResponse = errors.New("malformed response")

// CompletionRequest is what a Backend sends to its provider.
type CompletionRequest struct {
	// ImageData is the base64-encoded screenshot.
	ImageData string
	MimeType  string
	Prompt    string
}

// Backend sends one image+prompt request to a generation service and returns
// the raw response text.
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ErrorKind classifies a failed generation.
type ErrorKind int

const (
	KindImageRead ErrorKind = iota + 1
	KindNetwork
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindImageRead:
		return "image_read"
	case KindNetwork:
		return "network"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error is returned for every failed generation. Its message is always
// FailureMessage.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return FailureMessage
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a generation failure of the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Orchestrator builds the prompt, calls the backend and parses its reply.
type Orchestrator struct {
	backend  Backend
	timeout  time.Duration
	language string
	logger   *slog.Logger
}

type Option func(*Orchestrator)

// WithTimeout bounds each backend call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithInstructionsLanguage sets the language the model is asked to write the
// run instructions in.
func WithInstructionsLanguage(lang string) Option {
	return func(o *Orchestrator) {
		if lang != "" {
			o.language = lang
		}
	}
}

func NewOrchestrator(backend Backend, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		language: defaultLanguage,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate issues one request and returns the complete result or an *Error.
// It never returns a partial result.
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedResult, error) {
	if req.EncodedImage == "" {
		return nil, NewError(KindImageRead, errors.New("empty image payload"))
	}

	prompt, err := BuildPrompt(PromptData{
		TargetURL: req.TargetURL,
		Notes:     req.UserNotes,
		Language:  o.language,
	})
	if err != nil {
		return nil, NewError(KindMalformedResponse, fmt.Errorf("failed to build prompt: %w", err))
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := o.backend.Complete(ctx, CompletionRequest{
		ImageData: req.EncodedImage,
		MimeType:  req.MimeType,
		Prompt:    prompt,
	})
	if err != nil {
		kind := KindNetwork
		if errors.Is(err, ErrMalformedResponse) {
			kind = KindMalformedResponse
		}
		o.logger.Error("generation backend failed", "kind", kind.String(), "error", err)
		return nil, NewError(kind, err)
	}
	o.logger.Debug("generation backend replied", "bytes", len(raw), "duration_ms", time.Since(start).Milliseconds())

	result, err := ParseResult(raw)
	if err != nil {
		o.logger.Error("generation response rejected", "kind", KindMalformedResponse.String(), "error", err)
		return nil, NewError(KindMalformedResponse, err)
	}
	return result, nil
}
