package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/docustitch/internal/domain"
	"github.com/vbonduro/docustitch/internal/encoder"
	"github.com/vbonduro/docustitch/internal/generator"
	"github.com/vbonduro/docustitch/internal/imagestore"
	"github.com/vbonduro/docustitch/internal/metrics"
	"github.com/vbonduro/docustitch/internal/store"
)

const (
	MessageAnalyzing  = "Analyzing page structure..."
	MessageGenerating = "Writing the Colab script..."
)

var (
	// ErrIncomplete means the URL or the screenshot is missing.
	ErrIncomplete = errors.New("url and screenshot are required")
	// ErrInFlight means the session already has a generation running.
	ErrInFlight         = errors.New("generation already in progress")
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrNoImage          = errors.New("session has no screenshot")
	ErrImageTooLarge    = errors.New("screenshot dimensions too large")
)

// sessionRepository is the subset of store.SessionStore that SessionService requires.
type sessionRepository interface {
	Create(ctx context.Context) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	UpdateForm(ctx context.Context, id, targetURL, notes string) error
	SetImage(ctx context.Context, id string, img *domain.UploadedImage) error
	ClaimSubmission(ctx context.Context, id, targetURL, notes, message string) error
	UpdateState(ctx context.Context, id string, from domain.Status, state domain.GenerationState) error
	SetState(ctx context.Context, id string, state domain.GenerationState) error
	Complete(ctx context.Context, id string, res *domain.GeneratedResult) error
	FailStaleBefore(ctx context.Context, cutoff time.Time, errMessage string) (int64, error)
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, []string, error)
}

// scriptGenerator is satisfied by *generator.Orchestrator.
type scriptGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedResult, error)
}

type SessionService struct {
	sessions  sessionRepository
	generator scriptGenerator
	images    imagestore.ImageStore
	maxDim    int
	logger    *slog.Logger

	// background tracks generations started by Start.
	background sync.WaitGroup
}

func NewSessionService(
	sessions sessionRepository,
	gen scriptGenerator,
	images imagestore.ImageStore,
	maxDimension int,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		generator: gen,
		images:    images,
		maxDim:    maxDimension,
		logger:    logger,
	}
}

// GetOrCreate returns the session with id, or a new idle session when id is
// empty or unknown.
func (s *SessionService) GetOrCreate(ctx context.Context, id string) (*domain.Session, error) {
	if id != "" {
		sess, err := s.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}
	sess, err := s.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("session created", "session_id", sess.ID)
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// SelectImage stores data as the session's screenshot, replacing and
// deleting any previous one.
func (s *SessionService) SelectImage(ctx context.Context, id, filename string, data []byte) (*domain.Session, error) {
	mimeType, ok := DetectImageMIME(data)
	if !ok {
		metrics.ScreenshotsRejectedTotal.Inc()
		return nil, ErrUnsupportedImage
	}
	if err := encoder.CheckPixels(data); err != nil {
		metrics.ScreenshotsRejectedTotal.Inc()
		s.logger.Warn("screenshot rejected", "session_id", id, "error", err)
		return nil, ErrImageTooLarge
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	key, err := s.images.Save(ctx, "session_"+id, mimeType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to save screenshot: %w", err)
	}
	img := &domain.UploadedImage{
		StorageKey: key,
		Filename:   filename,
		MimeType:   mimeType,
		Size:       int64(len(data)),
	}
	if err := s.sessions.SetImage(ctx, id, img); err != nil {
		s.deleteImage(ctx, key)
		return nil, s.mapStoreErr(err)
	}
	metrics.ScreenshotsUploadedTotal.Inc()
	s.logger.Info("screenshot selected", "session_id", id, "mime_type", mimeType, "bytes", len(data))

	if sess.Image != nil {
		s.deleteImage(ctx, sess.Image.StorageKey)
	}
	sess.Image = img
	return sess, nil
}

// OpenImage returns the session's screenshot for previewing. The caller must
// close the reader.
func (s *SessionService) OpenImage(ctx context.Context, id string) (io.ReadCloser, string, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if sess.Image == nil {
		return nil, "", ErrNoImage
	}
	rc, _, err := s.images.Get(ctx, sess.Image.StorageKey)
	if errors.Is(err, imagestore.ErrNotFound) {
		return nil, "", ErrNoImage
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open screenshot: %w", err)
	}
	return rc, sess.Image.MimeType, nil
}

// ClearImage removes the session's screenshot. Clearing a session without
// one is a no-op.
func (s *SessionService) ClearImage(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Image == nil {
		return sess, nil
	}
	if err := s.sessions.SetImage(ctx, id, nil); err != nil {
		return nil, s.mapStoreErr(err)
	}
	s.deleteImage(ctx, sess.Image.StorageKey)
	sess.Image = nil
	return sess, nil
}

// UpdateForm saves the URL and notes. It never affects a running generation.
func (s *SessionService) UpdateForm(ctx context.Context, id, targetURL, notes string) (*domain.Session, error) {
	if err := s.sessions.UpdateForm(ctx, id, targetURL, notes); err != nil {
		return nil, s.mapStoreErr(err)
	}
	return s.Get(ctx, id)
}

// generation is a claimed session whose request has been built. req is nil
// when building it failed and the session already moved to StatusError.
type generation struct {
	sess  *domain.Session
	req   *domain.GenerationRequest
	start time.Time
}

// Submit runs one generation to completion and returns the session in its
// terminal state. A failed generation is not an error: the session is
// returned in StatusError.
func (s *SessionService) Submit(ctx context.Context, id, targetURL, notes string) (*domain.Session, error) {
	g, err := s.prepare(ctx, id, targetURL, notes)
	if err != nil {
		return nil, err
	}
	if g.req != nil {
		s.run(ctx, g)
	}
	return s.Get(ctx, id)
}

// Start claims the session and encodes the screenshot like Submit, then
// runs the backend call in the background and returns the session in
// StatusAnalyzing. The work is detached from ctx cancellation.
func (s *SessionService) Start(ctx context.Context, id, targetURL, notes string) (*domain.Session, error) {
	ctx = context.WithoutCancel(ctx)
	g, err := s.prepare(ctx, id, targetURL, notes)
	if err != nil {
		return nil, err
	}
	if g.req == nil {
		return s.Get(ctx, id)
	}
	snapshot := *g.sess
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.run(ctx, g)
	}()
	return &snapshot, nil
}

// Wait blocks until every generation started by Start has finished or ctx
// is done, and returns ctx.Err() in the latter case.
func (s *SessionService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prepare claims the session and builds the request from the screenshot as
// it is at claim time, so later image edits cannot affect this generation.
func (s *SessionService) prepare(ctx context.Context, id, targetURL, notes string) (*generation, error) {
	sess, err := s.claim(ctx, id, targetURL, notes)
	if err != nil {
		return nil, err
	}
	g := &generation{sess: sess, start: time.Now()}
	req, err := s.buildRequest(ctx, sess)
	if err != nil {
		record(g.start, s.fail(ctx, sess, generator.NewError(generator.KindImageRead, err)))
		return g, nil
	}
	g.req = req
	return g, nil
}

func (s *SessionService) claim(ctx context.Context, id, targetURL, notes string) (*domain.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.TargetURL = targetURL
	sess.Notes = notes
	if targetURL == "" || sess.Image == nil {
		return nil, ErrIncomplete
	}
	if sess.State.Status.InFlight() {
		return nil, ErrInFlight
	}

	next, err := sess.State.Transition(domain.StatusAnalyzing, MessageAnalyzing)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.ClaimSubmission(ctx, id, targetURL, notes, MessageAnalyzing); err != nil {
		return nil, s.mapStoreErr(err)
	}
	sess.State = next
	sess.Result = nil
	s.logger.Info("generation started", "session_id", id, "target_url", targetURL)
	return sess, nil
}

// run drives a prepared generation from analyzing to completed or error.
func (s *SessionService) run(ctx context.Context, g *generation) {
	sess := g.sess
	metrics.GenerationsInFlight.Inc()
	defer metrics.GenerationsInFlight.Dec()

	outcome := "completed"
	defer func() { record(g.start, outcome) }()

	if err := s.advance(ctx, sess, domain.StatusGenerating, MessageGenerating); err != nil {
		outcome = s.abandon(ctx, sess, "failed to record generating state", err)
		return
	}

	result, err := s.generator.Generate(ctx, *g.req)
	if err != nil {
		outcome = s.fail(ctx, sess, err)
		return
	}

	if _, err := sess.State.Transition(domain.StatusCompleted, ""); err != nil {
		outcome = s.abandon(ctx, sess, "unexpected completion", err)
		return
	}
	if err := s.sessions.Complete(ctx, sess.ID, result); err != nil {
		outcome = s.abandon(ctx, sess, "failed to store result", err)
		return
	}
	s.logger.Info("generation complete", "session_id", sess.ID,
		"script_bytes", len(result.Script), "duration_ms", time.Since(g.start).Milliseconds())
}

func record(start time.Time, outcome string) {
	metrics.GenerationsTotal.WithLabelValues(outcome).Inc()
	metrics.GenerationDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func (s *SessionService) buildRequest(ctx context.Context, sess *domain.Session) (*domain.GenerationRequest, error) {
	rc, mimeType, err := s.images.Get(ctx, sess.Image.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open screenshot: %w", err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Error("failed to close screenshot", "session_id", sess.ID, "error", cerr)
		}
	}()

	if sess.Image.MimeType != "" {
		mimeType = sess.Image.MimeType
	}
	payload := encoder.New(rc, mimeType, encoder.WithMaxDimension(s.maxDim))
	data, err := payload.Data()
	if err != nil {
		return nil, err
	}
	return &domain.GenerationRequest{
		EncodedImage: data,
		MimeType:     payload.MimeType(),
		TargetURL:    sess.TargetURL,
		UserNotes:    sess.Notes,
	}, nil
}

func (s *SessionService) advance(ctx context.Context, sess *domain.Session, next domain.Status, message string) error {
	state, err := sess.State.Transition(next, message)
	if err != nil {
		return err
	}
	if err := s.sessions.UpdateState(ctx, sess.ID, sess.State.Status, state); err != nil {
		return err
	}
	sess.State = state
	return nil
}

// fail moves the session to StatusError with the user-facing failure text and
// returns the metrics outcome label.
func (s *SessionService) fail(ctx context.Context, sess *domain.Session, err error) string {
	kind, cause := "unknown", err
	var genErr *generator.Error
	if errors.As(err, &genErr) {
		kind, cause = genErr.Kind.String(), genErr.Err
	}
	s.logger.Error("generation failed", "session_id", sess.ID, "kind", kind, "error", cause)

	if aerr := s.advance(ctx, sess, domain.StatusError, generator.FailureMessage); aerr != nil {
		s.forceError(ctx, sess, aerr)
	}
	return kind
}

// abandon ends a generation whose progress could not be stored and returns
// the metrics outcome label.
func (s *SessionService) abandon(ctx context.Context, sess *domain.Session, msg string, err error) string {
	s.logger.Error(msg, "session_id", sess.ID, "error", err)
	s.forceError(ctx, sess, err)
	return "store"
}

// forceError writes StatusError unconditionally so the session never stays
// in flight after its generation has ended.
func (s *SessionService) forceError(ctx context.Context, sess *domain.Session, cause error) {
	s.logger.Warn("forcing session to error state", "session_id", sess.ID, "cause", cause)
	state := domain.GenerationState{Status: domain.StatusError, Error: generator.FailureMessage}
	if err := s.sessions.SetState(ctx, sess.ID, state); err != nil {
		s.logger.Error("failed to record error state", "session_id", sess.ID, "error", err)
		return
	}
	sess.State = state
}

// PurgeExpired deletes sessions idle for longer than ttl along with their
// screenshots and returns how many sessions were removed. Sessions stuck in
// flight for longer than ttl are moved to StatusError first.
func (s *SessionService) PurgeExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	stale, err := s.sessions.FailStaleBefore(ctx, cutoff, generator.FailureMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale sessions: %w", err)
	}
	if stale > 0 {
		s.logger.Warn("stale generations marked failed", "sessions", stale)
	}

	n, keys, err := s.sessions.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	for _, key := range keys {
		s.deleteImage(ctx, key)
	}
	metrics.SessionsPurgedTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("expired sessions purged", "sessions", n, "screenshots", len(keys))
	}
	return n, nil
}

func (s *SessionService) deleteImage(ctx context.Context, key string) {
	if err := s.images.Delete(ctx, key); err != nil && !errors.Is(err, imagestore.ErrNotFound) {
		s.logger.Error("failed to delete screenshot", "storage_key", key, "error", err)
	}
}

func (s *SessionService) mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrInFlight
	default:
		return err
	}
}
