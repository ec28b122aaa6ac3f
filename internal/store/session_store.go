package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/docustitch/internal/domain"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrConflict means the session was not in the status the update expected.
	ErrConflict = errors.New("session state conflict")
)

type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

const sessionColumns = `id, target_url, notes, image_key, image_name, image_mime, image_size,
	status, message, error_message, script, instructions, explanation, created_at, updated_at`

func (s *SessionStore) Create(ctx context.Context) (*domain.Session, error) {
	id := uuid.NewString()
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)
	`, id, string(domain.StatusIdle), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns the session or nil if it does not exist.
func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) UpdateForm(ctx context.Context, id, targetURL, notes string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET target_url = ?, notes = ?, updated_at = ? WHERE id = ?
	`, targetURL, notes, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update form: %w", err)
	}
	return requireRow(result)
}

// SetImage replaces the session's image reference; nil clears it.
func (s *SessionStore) SetImage(ctx context.Context, id string, img *domain.UploadedImage) error {
	var key, name, mime sql.NullString
	var size sql.NullInt64
	if img != nil {
		key = sql.NullString{String: img.StorageKey, Valid: true}
		name = sql.NullString{String: img.Filename, Valid: true}
		mime = sql.NullString{String: img.MimeType, Valid: true}
		size = sql.NullInt64{Int64: img.Size, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET image_key = ?, image_name = ?, image_mime = ?, image_size = ?, updated_at = ?
		WHERE id = ?
	`, key, name, mime, size, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to set image: %w", err)
	}
	return requireRow(result)
}

// ClaimSubmission atomically moves a session that is not in flight to
// analyzing, saving the submitted form and clearing any previous result.
// It returns ErrConflict if a generation is already running.
func (s *SessionStore) ClaimSubmission(ctx context.Context, id, targetURL, notes, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, message = ?, error_message = '',
			target_url = ?, notes = ?,
			script = NULL, instructions = NULL, explanation = NULL,
			updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, string(domain.StatusAnalyzing), message, targetURL, notes, s.now(), id,
		string(domain.StatusAnalyzing), string(domain.StatusGenerating))
	if err != nil {
		return fmt.Errorf("failed to claim session: %w", err)
	}
	return s.conflictOrMissing(ctx, result, id)
}

// UpdateState moves the session from status from to state. It returns
// ErrConflict if the session is no longer in from.
func (s *SessionStore) UpdateState(ctx context.Context, id string, from domain.Status, state domain.GenerationState) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, message = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(state.Status), state.Message, state.Error, s.now(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	return s.conflictOrMissing(ctx, result, id)
}

// SetState writes state regardless of the current status. It is the
// fallback for moving a session out of flight when a conditional update
// could not be recorded.
func (s *SessionStore) SetState(ctx context.Context, id string, state domain.GenerationState) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, message = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, string(state.Status), state.Message, state.Error, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to set session state: %w", err)
	}
	return requireRow(result)
}

// FailStaleBefore moves sessions that have been in flight since before cutoff
// to error with errMessage and returns how many it moved.
func (s *SessionStore) FailStaleBefore(ctx context.Context, cutoff time.Time, errMessage string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, message = '', error_message = ?, updated_at = ?
		WHERE updated_at < ? AND status IN (?, ?)
	`, string(domain.StatusError), errMessage, s.now(), cutoff.UTC().Truncate(time.Second),
		string(domain.StatusAnalyzing), string(domain.StatusGenerating))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Complete stores the result and moves a generating session to completed in
// one statement, so a session never shows completed without its result.
func (s *SessionStore) Complete(ctx context.Context, id string, res *domain.GeneratedResult) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, message = '', error_message = '',
			script = ?, instructions = ?, explanation = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.StatusCompleted), res.Script, res.Instructions, res.Explanation, s.now(),
		id, string(domain.StatusGenerating))
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	return s.conflictOrMissing(ctx, result, id)
}

// DeleteIdleBefore removes sessions untouched since cutoff that are not in
// flight. It returns how many were removed and the image storage keys they
// referenced.
func (s *SessionStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT image_key FROM sessions
		WHERE updated_at < ? AND status NOT IN (?, ?) AND image_key IS NOT NULL
	`, cutoff.UTC().Truncate(time.Second), string(domain.StatusAnalyzing), string(domain.StatusGenerating))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			_ = rows.Close()
			return 0, nil, fmt.Errorf("failed to scan image key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Close(); err != nil {
		return 0, nil, fmt.Errorf("failed to close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to iterate expired sessions: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM sessions WHERE updated_at < ? AND status NOT IN (?, ?)
	`, cutoff.UTC().Truncate(time.Second), string(domain.StatusAnalyzing), string(domain.StatusGenerating))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit purge: %w", err)
	}
	return n, keys, nil
}

func (s *SessionStore) conflictOrMissing(ctx context.Context, result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	sess, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	return ErrConflict
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess                              domain.Session
		status                            string
		imageKey, imageName, imageMime    sql.NullString
		imageSize                         sql.NullInt64
		script, instructions, explanation sql.NullString
	)
	err := row.Scan(
		&sess.ID, &sess.TargetURL, &sess.Notes,
		&imageKey, &imageName, &imageMime, &imageSize,
		&status, &sess.State.Message, &sess.State.Error,
		&script, &instructions, &explanation,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.State.Status = domain.Status(status)
	if imageKey.Valid {
		sess.Image = &domain.UploadedImage{
			StorageKey: imageKey.String,
			Filename:   imageName.String,
			MimeType:   imageMime.String,
			Size:       imageSize.Int64,
		}
	}
	if sess.State.Status == domain.StatusCompleted && script.Valid {
		sess.Result = &domain.GeneratedResult{
			Script:       script.String,
			Instructions: instructions.String,
			Explanation:  explanation.String,
		}
	}
	return &sess, nil
}
