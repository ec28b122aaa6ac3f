package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status is the phase of a session's generation workflow.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusAnalyzing  Status = "analyzing"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ErrInvalidTransition is returned when a status change skips or reverses a
// step of the workflow.
var ErrInvalidTransition = errors.New("invalid status transition")

// allowedTransitions lists the statuses reachable from each status.
// completed and error may only start a fresh submission.
var allowedTransitions = map[Status][]Status{
	StatusIdle:       {StatusAnalyzing},
	StatusAnalyzing:  {StatusGenerating, StatusError},
	StatusGenerating: {StatusCompleted, StatusError},
	StatusCompleted:  {StatusAnalyzing},
	StatusError:      {StatusAnalyzing},
}

// InFlight reports whether a generation request is currently running.
func (s Status) InFlight() bool {
	return s == StatusAnalyzing || s == StatusGenerating
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	for _, st := range allowedTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// GenerationState is the single state a session is in, with an optional
// progress message and, for StatusError, the failure text.
type GenerationState struct {
	Status  Status
	Message string
	Error   string
}

// Transition returns the state reached by moving to next, or
// ErrInvalidTransition.
func (g GenerationState) Transition(next Status, message string) (GenerationState, error) {
	if !g.Status.CanTransition(next) {
		return g, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, next)
	}
	out := GenerationState{Status: next}
	if next == StatusError {
		out.Error = message
	} else {
		out.Message = message
	}
	return out, nil
}

// UploadedImage references a screenshot held in the photo store.
type UploadedImage struct {
	StorageKey string
	Filename   string
	MimeType   string
	Size       int64
}

// GeneratedResult is the text returned by the generation service, shown
// verbatim.
type GeneratedResult struct {
	Script       string `json:"script"`
	Instructions string `json:"instructions"`
	Explanation  string `json:"explanation"`
}

// GenerationRequest is built once per submission and never stored.
type GenerationRequest struct {
	EncodedImage string
	MimeType     string
	TargetURL    string
	UserNotes    string
}

// Session is the server-side form state of one browser session.
type Session struct {
	ID        string
	TargetURL string
	Notes     string
	Image     *UploadedImage
	State     GenerationState
	Result    *GeneratedResult
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanSubmit reports whether the submit action is enabled.
func (s *Session) CanSubmit() bool {
	return s.TargetURL != "" && s.Image != nil && !s.State.Status.InFlight()
}
