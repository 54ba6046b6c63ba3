// Package engine owns the signature lifecycle state machine: it decides
// when questions are generated, when notifications go out, when quizzes
// are graded, and how signature status transitions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"signgate/internal/docs"
	"signgate/internal/notify"
	"signgate/internal/quizgen"
	"signgate/internal/store"
)

const questionCount = 3

var (
	// ErrNotFound covers unknown tracking ids, quiz ids, and document ids.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an acknowledge loses against a
	// concurrent acknowledge for the same tracking id.
	ErrConflict = errors.New("conflict")
)

// Generator produces comprehension questions from document text. The
// engine falls back to the static set when it fails.
type Generator interface {
	Generate(ctx context.Context, content string, count int) ([]quizgen.Question, error)
}

// Notifier delivers a webhook event, reporting success as a boolean.
type Notifier interface {
	Send(ctx context.Context, ev notify.Event) bool
}

// Engine coordinates the record store, document catalog, question
// generator, and notifier. All collaborators are injected; the engine
// holds no global state.
type Engine struct {
	store    *store.Store
	library  *docs.Library
	gen      Generator
	notifier Notifier
	appURL   string
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	// wg tracks in-flight asynchronous notification sends so Close can
	// drain them.
	wg sync.WaitGroup
}

func New(st *store.Store, library *docs.Library, gen Generator, notifier Notifier, appURL string, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		library:  library,
		gen:      gen,
		notifier: notifier,
		appURL:   appURL,
		logger:   logger,
		now:      time.Now,
	}
}

// Close waits for in-flight notifications to finish.
func (e *Engine) Close() {
	e.wg.Wait()
}

// dispatch sends a notification without blocking the calling operation.
// Delivery failure is logged by the notifier and never propagated; the
// notifier bounds its own lifetime with timeouts, so the background
// context is safe here.
func (e *Engine) dispatch(ev notify.Event) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if !e.notifier.Send(context.Background(), ev) {
			e.logger.Warn("notification not delivered", "event_type", ev.EventType)
		}
	}()
}

type CreateRequest struct {
	SenderEmail   string
	SenderName    string
	Purpose       string
	ReceiverEmail string
	DocumentID    string
}

type CreateResult struct {
	TrackingID string `json:"tracking_id"`
	Status     string `json:"status"`
	SigningURL string `json:"signing_url"`
}

// CreateSignatureRequest starts a workflow: it persists a SENT record and
// dispatches the signature-request email. An unknown document id fails
// with ErrNotFound before anything is written.
func (e *Engine) CreateSignatureRequest(ctx context.Context, req CreateRequest) (CreateResult, error) {
	doc, err := e.library.Load(req.DocumentID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: document %s", ErrNotFound, req.DocumentID)
	}

	trackingID := "sig_" + uuid.NewString()
	now := store.FormatTime(e.now())
	sig := store.Signature{
		TrackingID:    trackingID,
		DocumentID:    req.DocumentID,
		DocumentTitle: doc.Title,
		Purpose:       req.Purpose,
		SenderEmail:   req.SenderEmail,
		SenderName:    req.SenderName,
		ReceiverEmail: req.ReceiverEmail,
		Status:        store.StatusSent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.InsertSignature(ctx, sig); err != nil {
		return CreateResult{}, err
	}

	signingURL := e.appURL + "/sign/" + trackingID
	e.dispatch(notify.SignatureRequestEvent(
		trackingID, req.SenderName, req.SenderEmail, req.ReceiverEmail, doc.Title, req.Purpose, signingURL))

	return CreateResult{TrackingID: trackingID, Status: store.StatusSent, SigningURL: signingURL}, nil
}

// GetSignature returns the signature record along with its resolved
// document.
func (e *Engine) GetSignature(ctx context.Context, trackingID string) (store.Signature, docs.Document, error) {
	sig, err := e.store.GetSignatureByTrackingID(ctx, trackingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Signature{}, docs.Document{}, fmt.Errorf("%w: signature %s", ErrNotFound, trackingID)
		}
		return store.Signature{}, docs.Document{}, err
	}
	doc, err := e.library.Load(sig.DocumentID)
	if err != nil {
		return store.Signature{}, docs.Document{}, fmt.Errorf("%w: document %s", ErrNotFound, sig.DocumentID)
	}
	return sig, doc, nil
}

type Acknowledgment struct {
	Acknowledged bool
	Date         string
	Location     string
	SignerName   string
}

type AckResult struct {
	QuizID  string `json:"quiz_id"`
	QuizURL string `json:"quiz_url"`
}

// Acknowledge records the acknowledgment submission, creates the quiz,
// and moves the signature to quiz_pending. The submitted acknowledged
// flag is recorded verbatim; a false value does not block the quiz.
//
// The signature update is a compare-and-swap against the revision read
// here, so concurrent acknowledges for the same tracking id cannot leave
// two quizzes behind: the loser's quiz is deleted and ErrConflict
// returned.
func (e *Engine) Acknowledge(ctx context.Context, trackingID string, ack Acknowledgment) (AckResult, error) {
	sig, err := e.store.GetSignatureByTrackingID(ctx, trackingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AckResult{}, fmt.Errorf("%w: signature %s", ErrNotFound, trackingID)
		}
		return AckResult{}, err
	}
	doc, err := e.library.Load(sig.DocumentID)
	if err != nil {
		return AckResult{}, fmt.Errorf("%w: document %s", ErrNotFound, sig.DocumentID)
	}

	questions, err := e.gen.Generate(ctx, doc.Content, questionCount)
	if err != nil {
		e.logger.Warn("question generation failed, using fallback set", "tracking_id", trackingID, "error", err)
		questions = quizgen.Fallback()
	}

	quizID := "quiz_" + uuid.NewString()
	quiz := store.Quiz{
		QuizID:     quizID,
		TrackingID: trackingID,
		Questions:  toStoreQuestions(questions),
		CreatedAt:  store.FormatTime(e.now()),
	}
	if err := e.store.InsertQuiz(ctx, quiz); err != nil {
		return AckResult{}, err
	}

	upd := store.AckUpdate{
		Acknowledged: ack.Acknowledged,
		Date:         ack.Date,
		Location:     ack.Location,
		SignerName:   ack.SignerName,
		QuizID:       quizID,
	}
	if err := e.store.ApplyAcknowledgment(ctx, trackingID, sig.Revision, upd, e.now()); err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			if delErr := e.store.DeleteQuiz(ctx, quizID); delErr != nil {
				e.logger.Error("failed to remove quiz after lost acknowledge race", "quiz_id", quizID, "error", delErr)
			}
			return AckResult{}, fmt.Errorf("%w: signature %s was acknowledged concurrently", ErrConflict, trackingID)
		}
		if errors.Is(err, store.ErrNotFound) {
			return AckResult{}, fmt.Errorf("%w: signature %s", ErrNotFound, trackingID)
		}
		// The quiz is persisted but the signature is not updated. This is
		// a fatal store failure for this request, surfaced as-is.
		return AckResult{}, err
	}

	quizURL := e.appURL + "/quiz/" + quizID
	e.dispatch(notify.QuizLinkEvent(quizID, sig.ReceiverEmail, sig.DocumentTitle, quizURL))

	return AckResult{QuizID: quizID, QuizURL: quizURL}, nil
}

type QuestionView struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type QuizView struct {
	QuizID    string         `json:"quiz_id"`
	Questions []QuestionView `json:"questions"`
	Attempts  int            `json:"attempts"`
}

// QuizForTaker returns the quiz without correct answers.
func (e *Engine) QuizForTaker(ctx context.Context, quizID string) (QuizView, error) {
	quiz, err := e.store.GetQuiz(ctx, quizID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return QuizView{}, fmt.Errorf("%w: quiz %s", ErrNotFound, quizID)
		}
		return QuizView{}, err
	}
	view := QuizView{QuizID: quiz.QuizID, Attempts: quiz.Attempts}
	for _, q := range quiz.Questions {
		view.Questions = append(view.Questions, QuestionView{ID: q.ID, Question: q.Question, Options: q.Options})
	}
	return view, nil
}

type SubmitResult struct {
	Passed   bool   `json:"passed"`
	Score    string `json:"score"`
	Attempts int    `json:"attempts"`
}

// SubmitQuiz grades a submission by exact string equality, records the
// attempt, and transitions the owning signature. Passing requires every
// question correct; an unanswered question counts as wrong.
//
// A quiz without an owning signature still has its outcome recorded, but
// no status update or notification happens. A signature that already
// completed is never downgraded by a later submission.
func (e *Engine) SubmitQuiz(ctx context.Context, quizID string, answers map[string]string) (SubmitResult, error) {
	quiz, err := e.store.GetQuiz(ctx, quizID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SubmitResult{}, fmt.Errorf("%w: quiz %s", ErrNotFound, quizID)
		}
		return SubmitResult{}, err
	}

	correct := 0
	for _, q := range quiz.Questions {
		if answers[q.ID] == q.CorrectAnswer {
			correct++
		}
	}
	passed := correct == len(quiz.Questions)

	now := e.now()
	attempts, err := e.store.RecordQuizAttempt(ctx, quizID, passed, correct, now)
	if err != nil {
		return SubmitResult{}, err
	}
	result := SubmitResult{
		Passed:   passed,
		Score:    fmt.Sprintf("%d/%d", correct, len(quiz.Questions)),
		Attempts: attempts,
	}

	sig, err := e.store.GetSignatureByQuizID(ctx, quizID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("quiz has no owning signature, outcome recorded only", "quiz_id", quizID)
			return result, nil
		}
		return SubmitResult{}, err
	}
	if sig.Status == store.StatusCompleted {
		e.logger.Info("quiz resubmitted after completion, signature unchanged", "quiz_id", quizID)
		return result, nil
	}

	if passed {
		completedAt := now
		if err := e.store.SetSignatureOutcome(ctx, quizID, store.StatusCompleted, true, &completedAt, now); err != nil {
			return SubmitResult{}, err
		}
		e.dispatch(notify.CompletionEvent(sig.ReceiverEmail, sig.DocumentTitle))
		e.dispatch(notify.SenderCompletionEvent(sig.SenderEmail, sig.ReceiverEmail, sig.DocumentTitle, e.appURL))
	} else {
		if err := e.store.SetSignatureOutcome(ctx, quizID, store.StatusQuizFailed, false, nil, now); err != nil {
			return SubmitResult{}, err
		}
		e.dispatch(notify.QuizFailedEvent(sig.ReceiverEmail, sig.DocumentTitle, e.appURL+"/quiz/"+quizID))
	}
	return result, nil
}

type DashboardPage struct {
	Signatures []store.Signature `json:"signatures"`
	Total      int               `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// Dashboard returns one page of signature records ordered newest first.
// Pure read, no side effects.
func (e *Engine) Dashboard(ctx context.Context, limit, offset int) (DashboardPage, error) {
	sigs, total, err := e.store.ListSignatures(ctx, limit, offset)
	if err != nil {
		return DashboardPage{}, err
	}
	return DashboardPage{Signatures: sigs, Total: total, Limit: limit, Offset: offset}, nil
}

type CleanupResult struct {
	SignaturesCleared int    `json:"signatures_cleared"`
	QuizzesCleared    int    `json:"quizzes_cleared"`
	CutoffDate        string `json:"cutoff_date,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// ClearAll removes every signature and quiz record.
func (e *Engine) ClearAll(ctx context.Context) (CleanupResult, error) {
	sigs, quizzes, err := e.store.TruncateAll(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	e.logger.Info("data cleared", "signatures", sigs, "quizzes", quizzes)
	return CleanupResult{
		SignaturesCleared: sigs,
		QuizzesCleared:    quizzes,
		Timestamp:         e.now().UTC().Format(time.RFC3339),
	}, nil
}

// ClearOlderThan removes records created strictly before now minus the
// given number of days.
func (e *Engine) ClearOlderThan(ctx context.Context, days int) (CleanupResult, error) {
	cutoff := e.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	sigs, quizzes, err := e.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return CleanupResult{}, err
	}
	e.logger.Info("old data cleared", "days", days, "signatures", sigs, "quizzes", quizzes)
	return CleanupResult{
		SignaturesCleared: sigs,
		QuizzesCleared:    quizzes,
		CutoffDate:        store.FormatTime(cutoff),
		Timestamp:         e.now().UTC().Format(time.RFC3339),
	}, nil
}

// RunScheduledCleanup is the nightly job body: full truncation followed
// by a scheduled_cleanup notification.
func (e *Engine) RunScheduledCleanup(ctx context.Context) {
	result, err := e.ClearAll(ctx)
	if err != nil {
		e.logger.Error("scheduled cleanup failed", "error", err)
		return
	}
	e.logger.Info("scheduled cleanup completed",
		"signatures_cleared", result.SignaturesCleared, "quizzes_cleared", result.QuizzesCleared)
	e.dispatch(notify.ScheduledCleanupEvent(result, e.now()))
}

func toStoreQuestions(questions []quizgen.Question) []store.Question {
	out := make([]store.Question, len(questions))
	for i, q := range questions {
		out[i] = store.Question(q)
	}
	return out
}
