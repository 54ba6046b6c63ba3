package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// TimeLayout is the persisted timestamp format: fixed-width UTC so that
// lexicographic comparison on a timestamp column equals time comparison.
// The age-based purge relies on this for its strict less-than cutoff.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrNotFound is returned when no record matches the given key.
	ErrNotFound = errors.New("record not found")
	// ErrRevisionConflict is returned when a compare-and-swap update loses
	// against a concurrent writer.
	ErrRevisionConflict = errors.New("revision conflict")
)

// Signature lifecycle states.
const (
	StatusSent         = "sent"
	StatusAcknowledged = "acknowledged"
	StatusQuizPending  = "quiz_pending"
	StatusQuizFailed   = "quiz_failed"
	StatusCompleted    = "completed"
)

type Signature struct {
	TrackingID             string  `json:"tracking_id"`
	DocumentID             string  `json:"document_id"`
	DocumentTitle          string  `json:"document_title"`
	Purpose                string  `json:"purpose"`
	SenderEmail            string  `json:"sender_email"`
	SenderName             string  `json:"sender_name"`
	ReceiverEmail          string  `json:"receiver_email"`
	Status                 string  `json:"status"`
	Acknowledged           bool    `json:"acknowledged"`
	AcknowledgmentDate     string  `json:"acknowledgment_date,omitempty"`
	AcknowledgmentLocation string  `json:"acknowledgment_location,omitempty"`
	SignerName             string  `json:"signer_name,omitempty"`
	QuizID                 *string `json:"quiz_id"`
	QuizPassed             bool    `json:"quiz_passed"`
	CompletedAt            *string `json:"completed_at"`
	CreatedAt              string  `json:"created_at"`
	UpdatedAt              string  `json:"updated_at"`
	Revision               int64   `json:"-"`
}

type Question struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

type Quiz struct {
	QuizID      string     `json:"quiz_id"`
	TrackingID  string     `json:"tracking_id"`
	Questions   []Question `json:"questions"`
	Attempts    int        `json:"attempts"`
	Passed      bool       `json:"passed"`
	LastScore   *int       `json:"last_score"`
	LastAttempt *string    `json:"last_attempt"`
	CreatedAt   string     `json:"created_at"`
}

// AckUpdate is the field-merge applied to a signature when the receiver
// submits the acknowledgment form. The submitted values are recorded
// verbatim, including acknowledged=false.
type AckUpdate struct {
	Acknowledged bool
	Date         string
	Location     string
	SignerName   string
	QuizID       string
}

// Store is the durable record store for signature requests and quizzes.
// sqlite runs with a single writer connection, so mutations (including the
// bulk purge) never interleave.
type Store struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path, creating parent
// directories as needed, and applies pragmas and the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// Single writer avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FormatTime renders t in the persisted timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

const signatureColumns = `tracking_id,document_id,document_title,purpose,sender_email,sender_name,
receiver_email,status,acknowledged,acknowledgment_date,acknowledgment_location,signer_name,
quiz_id,quiz_passed,completed_at,created_at,updated_at,revision`

func (s *Store) InsertSignature(ctx context.Context, sig Signature) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO signatures(`+signatureColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig.TrackingID, sig.DocumentID, sig.DocumentTitle, sig.Purpose, sig.SenderEmail, sig.SenderName,
		sig.ReceiverEmail, sig.Status, sig.Acknowledged, sig.AcknowledgmentDate, sig.AcknowledgmentLocation,
		sig.SignerName, sig.QuizID, sig.QuizPassed, sig.CompletedAt, sig.CreatedAt, sig.UpdatedAt, sig.Revision)
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

func scanSignature(row interface{ Scan(...any) error }) (Signature, error) {
	var sig Signature
	err := row.Scan(
		&sig.TrackingID, &sig.DocumentID, &sig.DocumentTitle, &sig.Purpose, &sig.SenderEmail, &sig.SenderName,
		&sig.ReceiverEmail, &sig.Status, &sig.Acknowledged, &sig.AcknowledgmentDate, &sig.AcknowledgmentLocation,
		&sig.SignerName, &sig.QuizID, &sig.QuizPassed, &sig.CompletedAt, &sig.CreatedAt, &sig.UpdatedAt, &sig.Revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Signature{}, ErrNotFound
		}
		return Signature{}, fmt.Errorf("scan signature: %w", err)
	}
	return sig, nil
}

func (s *Store) GetSignatureByTrackingID(ctx context.Context, trackingID string) (Signature, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signatureColumns+` FROM signatures WHERE tracking_id=?`, trackingID)
	return scanSignature(row)
}

func (s *Store) GetSignatureByQuizID(ctx context.Context, quizID string) (Signature, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signatureColumns+` FROM signatures WHERE quiz_id=?`, quizID)
	return scanSignature(row)
}

// ListSignatures returns one dashboard page ordered by created_at
// descending, together with the total record count.
func (s *Store) ListSignatures(ctx context.Context, limit, offset int) ([]Signature, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signatures`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count signatures: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signatureColumns+` FROM signatures ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	sigs := []Signature{}
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, 0, err
		}
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list signatures: %w", err)
	}
	return sigs, total, nil
}

// ApplyAcknowledgment merges the acknowledgment fields into the signature
// and moves it to quiz_pending. The update is a compare-and-swap on the
// revision column: losing against a concurrent acknowledge returns
// ErrRevisionConflict (an unknown tracking id returns ErrNotFound).
func (s *Store) ApplyAcknowledgment(ctx context.Context, trackingID string, revision int64, upd AckUpdate, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE signatures SET
  acknowledged=?, acknowledgment_date=?, acknowledgment_location=?, signer_name=?,
  status=?, quiz_id=?, updated_at=?, revision=revision+1
WHERE tracking_id=? AND revision=?`,
		upd.Acknowledged, upd.Date, upd.Location, upd.SignerName,
		StatusQuizPending, upd.QuizID, FormatTime(now), trackingID, revision)
	if err != nil {
		return fmt.Errorf("apply acknowledgment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply acknowledgment: %w", err)
	}
	if n == 0 {
		// Zero rows means either an unknown tracking id or a stale
		// revision; a failed re-read must not be mistaken for either.
		if _, err := s.GetSignatureByTrackingID(ctx, trackingID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		return ErrRevisionConflict
	}
	return nil
}

// SetSignatureOutcome records the quiz outcome on the owning signature,
// keyed by the quiz_id back-reference.
func (s *Store) SetSignatureOutcome(ctx context.Context, quizID, status string, passed bool, completedAt *time.Time, now time.Time) error {
	var completed any
	if completedAt != nil {
		completed = FormatTime(*completedAt)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE signatures SET status=?, quiz_passed=?, completed_at=?, updated_at=?, revision=revision+1
WHERE quiz_id=?`,
		status, passed, completed, FormatTime(now), quizID)
	if err != nil {
		return fmt.Errorf("set signature outcome: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) InsertQuiz(ctx context.Context, quiz Quiz) error {
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO quizzes(quiz_id,tracking_id,questions,attempts,passed,last_score,last_attempt,created_at)
VALUES(?,?,?,?,?,?,?,?)`,
		quiz.QuizID, quiz.TrackingID, string(questions), quiz.Attempts, quiz.Passed,
		quiz.LastScore, quiz.LastAttempt, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	return nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (Quiz, error) {
	var quiz Quiz
	var questions string
	err := s.db.QueryRowContext(ctx, `
SELECT quiz_id,tracking_id,questions,attempts,passed,last_score,last_attempt,created_at
FROM quizzes WHERE quiz_id=?`, quizID).Scan(
		&quiz.QuizID, &quiz.TrackingID, &questions, &quiz.Attempts, &quiz.Passed,
		&quiz.LastScore, &quiz.LastAttempt, &quiz.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Quiz{}, ErrNotFound
		}
		return Quiz{}, fmt.Errorf("get quiz: %w", err)
	}
	if err := json.Unmarshal([]byte(questions), &quiz.Questions); err != nil {
		return Quiz{}, fmt.Errorf("unmarshal questions: %w", err)
	}
	return quiz, nil
}

// RecordQuizAttempt increments the attempt counter unconditionally and
// stores the latest grading outcome. Returns the new attempt count.
func (s *Store) RecordQuizAttempt(ctx context.Context, quizID string, passed bool, score int, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE quizzes SET attempts=attempts+1, passed=?, last_score=?, last_attempt=?
WHERE quiz_id=?`,
		passed, score, FormatTime(at), quizID)
	if err != nil {
		return 0, fmt.Errorf("record quiz attempt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, ErrNotFound
	}
	var attempts int
	if err := s.db.QueryRowContext(ctx, `SELECT attempts FROM quizzes WHERE quiz_id=?`, quizID).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("record quiz attempt: %w", err)
	}
	return attempts, nil
}

// DeleteQuiz removes a quiz record. Used to back out the quiz inserted by
// an acknowledge that lost its compare-and-swap.
func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quizzes WHERE quiz_id=?`, quizID); err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	return nil
}

// TruncateAll deletes every record from both collections and returns the
// per-collection deleted counts.
func (s *Store) TruncateAll(ctx context.Context) (signatures, quizzes int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("truncate: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM signatures`)
	if err != nil {
		return 0, 0, fmt.Errorf("truncate signatures: %w", err)
	}
	n, _ := res.RowsAffected()
	signatures = int(n)

	res, err = tx.ExecContext(ctx, `DELETE FROM quizzes`)
	if err != nil {
		return 0, 0, fmt.Errorf("truncate quizzes: %w", err)
	}
	n, _ = res.RowsAffected()
	quizzes = int(n)

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("truncate: %w", err)
	}
	return signatures, quizzes, nil
}

// DeleteOlderThan removes records whose created_at is strictly before the
// cutoff. A record created exactly at the cutoff survives.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (signatures, quizzes int, err error) {
	cut := FormatTime(cutoff)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("delete old records: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM signatures WHERE created_at < ?`, cut)
	if err != nil {
		return 0, 0, fmt.Errorf("delete old signatures: %w", err)
	}
	n, _ := res.RowsAffected()
	signatures = int(n)

	res, err = tx.ExecContext(ctx, `DELETE FROM quizzes WHERE created_at < ?`, cut)
	if err != nil {
		return 0, 0, fmt.Errorf("delete old quizzes: %w", err)
	}
	n, _ = res.RowsAffected()
	quizzes = int(n)

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("delete old records: %w", err)
	}
	return signatures, quizzes, nil
}

// Counts returns the record count of each collection.
func (s *Store) Counts(ctx context.Context) (signatures, quizzes int, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signatures`).Scan(&signatures); err != nil {
		return 0, 0, fmt.Errorf("count signatures: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quizzes`).Scan(&quizzes); err != nil {
		return 0, 0, fmt.Errorf("count quizzes: %w", err)
	}
	return signatures, quizzes, nil
}
