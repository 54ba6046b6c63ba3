package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"signgate/internal/docs"
	"signgate/internal/notify"
	"signgate/internal/quizgen"
	"signgate/internal/store"
)

type stubGenerator struct {
	questions []quizgen.Question
	err       error

	// hook runs inside Generate, between the engine's signature read and
	// its compare-and-swap update. Used to simulate a concurrent writer.
	hook func()
}

func (g *stubGenerator) Generate(ctx context.Context, content string, count int) ([]quizgen.Question, error) {
	if g.hook != nil {
		g.hook()
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.questions, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Send(_ context.Context, ev notify.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeNotifier) byType(eventType string) []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Event
	for _, ev := range f.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func threeQuestions() []quizgen.Question {
	return []quizgen.Question{
		{ID: "q1", Question: "First?", Options: []string{"a1", "b1", "c1", "d1"}, CorrectAnswer: "a1"},
		{ID: "q2", Question: "Second?", Options: []string{"a2", "b2", "c2", "d2"}, CorrectAnswer: "b2"},
		{ID: "q3", Question: "Third?", Options: []string{"a3", "b3", "c3", "d3"}, CorrectAnswer: "c3"},
	}
}

func correctAnswers() map[string]string {
	return map[string]string{"q1": "a1", "q2": "b2", "q3": "c3"}
}

func newTestEngine(t *testing.T, gen Generator) (*Engine, *fakeNotifier, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	lib, err := docs.NewLibrary()
	if err != nil {
		t.Fatalf("build library: %v", err)
	}
	fn := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, lib, gen, fn, "http://app.test", logger), fn, st
}

func createRequest() CreateRequest {
	return CreateRequest{
		SenderEmail:   "hr@example.com",
		SenderName:    "HR Team",
		Purpose:       "Annual policy review",
		ReceiverEmail: "jane.doe@example.com",
		DocumentID:    "company_policy",
	}
}

func TestCreateSignatureRequest(t *testing.T) {
	eng, fn, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()

	res, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(res.TrackingID, "sig_") {
		t.Fatalf("tracking id %q missing sig_ prefix", res.TrackingID)
	}
	if res.Status != store.StatusSent {
		t.Fatalf("status = %q, want %q", res.Status, store.StatusSent)
	}
	if res.SigningURL != "http://app.test/sign/"+res.TrackingID {
		t.Fatalf("unexpected signing url %q", res.SigningURL)
	}

	res2, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if res2.TrackingID == res.TrackingID {
		t.Fatalf("tracking ids must be unique, got %q twice", res.TrackingID)
	}

	sig, err := st.GetSignatureByTrackingID(ctx, res.TrackingID)
	if err != nil {
		t.Fatalf("get persisted signature: %v", err)
	}
	if sig.Status != store.StatusSent || sig.QuizID != nil || sig.CompletedAt != nil {
		t.Fatalf("unexpected persisted record: %+v", sig)
	}

	eng.Close()
	if got := len(fn.byType(notify.EventSignatureRequest)); got != 2 {
		t.Fatalf("expected 2 signature_request events, got %d", got)
	}
}

func TestCreateUnknownDocument(t *testing.T) {
	eng, _, st := newTestEngine(t, &stubGenerator{})
	ctx := context.Background()

	req := createRequest()
	req.DocumentID = "no_such_doc"
	if _, err := eng.CreateSignatureRequest(ctx, req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if sigs, _, err := st.Counts(ctx); err != nil || sigs != 0 {
		t.Fatalf("expected no records written, got %d (err %v)", sigs, err)
	}
}

func TestGetSignatureUnknown(t *testing.T) {
	eng, _, _ := newTestEngine(t, &stubGenerator{})
	if _, _, err := eng.GetSignature(context.Background(), "sig_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcknowledgeCreatesQuiz(t *testing.T) {
	eng, fn, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()

	created, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ack := Acknowledgment{Acknowledged: true, Date: "2026-08-28", Location: "Chennai", SignerName: "Jane Doe"}
	res, err := eng.Acknowledge(ctx, created.TrackingID, ack)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !strings.HasPrefix(res.QuizID, "quiz_") {
		t.Fatalf("quiz id %q missing quiz_ prefix", res.QuizID)
	}
	if res.QuizURL != "http://app.test/quiz/"+res.QuizID {
		t.Fatalf("unexpected quiz url %q", res.QuizURL)
	}

	sig, err := st.GetSignatureByTrackingID(ctx, created.TrackingID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if sig.Status != store.StatusQuizPending {
		t.Fatalf("status = %q, want %q", sig.Status, store.StatusQuizPending)
	}
	if sig.QuizID == nil || *sig.QuizID != res.QuizID {
		t.Fatalf("quiz_id not linked: %v", sig.QuizID)
	}
	if !sig.Acknowledged || sig.SignerName != "Jane Doe" || sig.AcknowledgmentLocation != "Chennai" {
		t.Fatalf("acknowledgment fields not recorded: %+v", sig)
	}

	quiz, err := st.GetQuiz(ctx, res.QuizID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if len(quiz.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(quiz.Questions))
	}
	if quiz.TrackingID != created.TrackingID {
		t.Fatalf("quiz tracking id = %q, want %q", quiz.TrackingID, created.TrackingID)
	}

	eng.Close()
	if got := len(fn.byType(notify.EventQuizLink)); got != 1 {
		t.Fatalf("expected 1 quiz_link event, got %d", got)
	}
}

func TestAcknowledgeFalseIsRecordedVerbatim(t *testing.T) {
	eng, _, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()

	created, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ack := Acknowledgment{Acknowledged: false, Date: "2026-08-28", Location: "Remote", SignerName: "Jane Doe"}
	res, err := eng.Acknowledge(ctx, created.TrackingID, ack)
	if err != nil {
		t.Fatalf("acknowledge with acknowledged=false: %v", err)
	}
	sig, err := st.GetSignatureByTrackingID(ctx, created.TrackingID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if sig.Acknowledged {
		t.Fatalf("acknowledged flag should be recorded as false")
	}
	if sig.Status != store.StatusQuizPending || sig.QuizID == nil || *sig.QuizID != res.QuizID {
		t.Fatalf("workflow should still advance to quiz: %+v", sig)
	}
}

func TestAcknowledgeFallsBackWhenGenerationFails(t *testing.T) {
	eng, _, st := newTestEngine(t, &stubGenerator{err: errors.New("model unavailable")})
	ctx := context.Background()

	created, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := eng.Acknowledge(ctx, created.TrackingID, Acknowledgment{Acknowledged: true, Date: "2026-08-28", SignerName: "Jane"})
	if err != nil {
		t.Fatalf("acknowledge should succeed via fallback: %v", err)
	}
	quiz, err := st.GetQuiz(ctx, res.QuizID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	want := quizgen.Fallback()
	if len(quiz.Questions) != len(want) {
		t.Fatalf("expected %d fallback questions, got %d", len(want), len(quiz.Questions))
	}
	for i, q := range quiz.Questions {
		if q.Question != want[i].Question || q.CorrectAnswer != want[i].CorrectAnswer {
			t.Fatalf("question %d does not match fallback set: %+v", i, q)
		}
	}
}

func TestAcknowledgeUnknownSignature(t *testing.T) {
	eng, _, _ := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	_, err := eng.Acknowledge(context.Background(), "sig_missing", Acknowledgment{Acknowledged: true})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcknowledgeLosesRaceToConcurrentWriter(t *testing.T) {
	gen := &stubGenerator{questions: threeQuestions()}
	eng, _, st := newTestEngine(t, gen)
	ctx := context.Background()

	created, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Bump the revision while the engine is between its read and its
	// update, as a concurrent acknowledge would.
	gen.hook = func() {
		upd := store.AckUpdate{Acknowledged: true, Date: "2026-08-28", SignerName: "Other", QuizID: "quiz_winner"}
		if err := st.ApplyAcknowledgment(ctx, created.TrackingID, 0, upd, time.Now()); err != nil {
			t.Errorf("concurrent acknowledge: %v", err)
		}
	}

	_, err = eng.Acknowledge(ctx, created.TrackingID, Acknowledgment{Acknowledged: true, Date: "2026-08-28", SignerName: "Loser"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The loser's quiz must not be left behind.
	if _, quizzes, err := st.Counts(ctx); err != nil || quizzes != 0 {
		t.Fatalf("expected orphan quiz removed, got %d quizzes (err %v)", quizzes, err)
	}
	sig, err := st.GetSignatureByTrackingID(ctx, created.TrackingID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if sig.QuizID == nil || *sig.QuizID != "quiz_winner" {
		t.Fatalf("winner's quiz link should survive: %v", sig.QuizID)
	}
}

func TestQuizForTakerHidesAnswers(t *testing.T) {
	eng, _, _ := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()

	created, _ := eng.CreateSignatureRequest(ctx, createRequest())
	ack, err := eng.Acknowledge(ctx, created.TrackingID, Acknowledgment{Acknowledged: true, Date: "2026-08-28"})
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	view, err := eng.QuizForTaker(ctx, ack.QuizID)
	if err != nil {
		t.Fatalf("quiz for taker: %v", err)
	}
	if view.QuizID != ack.QuizID || len(view.Questions) != 3 || view.Attempts != 0 {
		t.Fatalf("unexpected view: %+v", view)
	}
	raw, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal view: %v", err)
	}
	if strings.Contains(string(raw), "correct_answer") {
		t.Fatalf("taker view leaks correct answers: %s", raw)
	}
}

func TestQuizForTakerUnknown(t *testing.T) {
	eng, _, _ := newTestEngine(t, &stubGenerator{})
	if _, err := eng.QuizForTaker(context.Background(), "quiz_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func ackThroughQuiz(t *testing.T, eng *Engine) (trackingID, quizID string) {
	t.Helper()
	ctx := context.Background()
	created, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ack, err := eng.Acknowledge(ctx, created.TrackingID, Acknowledgment{Acknowledged: true, Date: "2026-08-28", SignerName: "Jane"})
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	return created.TrackingID, ack.QuizID
}

func TestSubmitQuizAllCorrectCompletes(t *testing.T) {
	eng, fn, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()
	trackingID, quizID := ackThroughQuiz(t, eng)

	res, err := eng.SubmitQuiz(ctx, quizID, correctAnswers())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Passed || res.Score != "3/3" || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	sig, err := st.GetSignatureByTrackingID(ctx, trackingID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if sig.Status != store.StatusCompleted || !sig.QuizPassed || sig.CompletedAt == nil {
		t.Fatalf("signature not completed: %+v", sig)
	}

	eng.Close()
	if got := len(fn.byType(notify.EventSignatureCompleted)); got != 1 {
		t.Fatalf("expected receiver completion event, got %d", got)
	}
	if got := len(fn.byType(notify.EventCompletedNotification)); got != 1 {
		t.Fatalf("expected sender completion event, got %d", got)
	}
}

func TestSubmitQuizWrongAnswerFails(t *testing.T) {
	eng, fn, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()
	trackingID, quizID := ackThroughQuiz(t, eng)

	answers := correctAnswers()
	answers["q3"] = "d3"
	res, err := eng.SubmitQuiz(ctx, quizID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Passed || res.Score != "2/3" || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	sig, err := st.GetSignatureByTrackingID(ctx, trackingID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if sig.Status != store.StatusQuizFailed || sig.QuizPassed || sig.CompletedAt != nil {
		t.Fatalf("signature should be quiz_failed: %+v", sig)
	}

	eng.Close()
	if got := len(fn.byType(notify.EventQuizFailed)); got != 1 {
		t.Fatalf("expected quiz_failed event, got %d", got)
	}
}

func TestSubmitQuizMissingAnswerCountsWrong(t *testing.T) {
	eng, _, _ := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	_, quizID := ackThroughQuiz(t, eng)

	answers := correctAnswers()
	delete(answers, "q2")
	res, err := eng.SubmitQuiz(context.Background(), quizID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Passed || res.Score != "2/3" {
		t.Fatalf("missing answer should count as wrong: %+v", res)
	}
}

func TestSubmitQuizRetakeAfterFailure(t *testing.T) {
	eng, _, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()
	trackingID, quizID := ackThroughQuiz(t, eng)

	wrong := correctAnswers()
	wrong["q1"] = "d1"
	if res, err := eng.SubmitQuiz(ctx, quizID, wrong); err != nil || res.Passed {
		t.Fatalf("first submit should fail: %+v (err %v)", res, err)
	}

	res, err := eng.SubmitQuiz(ctx, quizID, correctAnswers())
	if err != nil {
		t.Fatalf("retake: %v", err)
	}
	if !res.Passed || res.Attempts != 2 {
		t.Fatalf("retake should pass on attempt 2: %+v", res)
	}
	sig, err := st.GetSignatureByTrackingID(ctx, trackingID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if sig.Status != store.StatusCompleted {
		t.Fatalf("status = %q, want %q", sig.Status, store.StatusCompleted)
	}
}

func TestSubmitQuizCompletedSignatureIsLocked(t *testing.T) {
	eng, _, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()
	trackingID, quizID := ackThroughQuiz(t, eng)

	if _, err := eng.SubmitQuiz(ctx, quizID, correctAnswers()); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	wrong := correctAnswers()
	wrong["q1"] = "d1"
	res, err := eng.SubmitQuiz(ctx, quizID, wrong)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	// The attempt is still recorded, the signature is not downgraded.
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Attempts)
	}
	sig, err := st.GetSignatureByTrackingID(ctx, trackingID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if sig.Status != store.StatusCompleted || !sig.QuizPassed {
		t.Fatalf("completed signature was downgraded: %+v", sig)
	}
}

func TestSubmitQuizOrphanRecordsOutcomeOnly(t *testing.T) {
	eng, fn, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()

	quiz := store.Quiz{
		QuizID:     "quiz_orphan",
		TrackingID: "sig_gone",
		Questions:  []store.Question{{ID: "q1", Question: "First?", Options: []string{"a1", "b1", "c1", "d1"}, CorrectAnswer: "a1"}},
		CreatedAt:  store.FormatTime(time.Now()),
	}
	if err := st.InsertQuiz(ctx, quiz); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}

	res, err := eng.SubmitQuiz(ctx, "quiz_orphan", map[string]string{"q1": "a1"})
	if err != nil {
		t.Fatalf("submit orphan quiz: %v", err)
	}
	if !res.Passed || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	eng.Close()
	if len(fn.events) != 0 {
		t.Fatalf("no notification should be sent for an orphan quiz, got %d", len(fn.events))
	}
}

func TestSubmitQuizUnknown(t *testing.T) {
	eng, _, _ := newTestEngine(t, &stubGenerator{})
	if _, err := eng.SubmitQuiz(context.Background(), "quiz_missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDashboard(t *testing.T) {
	eng, _, _ := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		eng.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		if _, err := eng.CreateSignatureRequest(ctx, createRequest()); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	page, err := eng.Dashboard(ctx, 2, 0)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if page.Total != 3 || len(page.Signatures) != 2 || page.Limit != 2 || page.Offset != 0 {
		t.Fatalf("unexpected page: total=%d len=%d", page.Total, len(page.Signatures))
	}
	if page.Signatures[0].CreatedAt < page.Signatures[1].CreatedAt {
		t.Fatalf("dashboard must be ordered newest first")
	}
}

func TestClearAll(t *testing.T) {
	eng, _, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()
	ackThroughQuiz(t, eng)

	res, err := eng.ClearAll(ctx)
	if err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if res.SignaturesCleared != 1 || res.QuizzesCleared != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if sigs, quizzes, err := st.Counts(ctx); err != nil || sigs != 0 || quizzes != 0 {
		t.Fatalf("store not empty after clear: %d/%d (err %v)", sigs, quizzes, err)
	}
}

func TestClearOlderThan(t *testing.T) {
	eng, _, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()

	now := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
	old, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("create old: %v", err)
	}
	eng.now = func() time.Time { return now.Add(-5 * 24 * time.Hour) }
	recent, err := eng.CreateSignatureRequest(ctx, createRequest())
	if err != nil {
		t.Fatalf("create recent: %v", err)
	}

	eng.now = func() time.Time { return now }
	res, err := eng.ClearOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("clear older than: %v", err)
	}
	if res.SignaturesCleared != 1 {
		t.Fatalf("expected 1 signature cleared, got %d", res.SignaturesCleared)
	}
	if res.CutoffDate != store.FormatTime(now.Add(-30*24*time.Hour)) {
		t.Fatalf("unexpected cutoff %q", res.CutoffDate)
	}
	if _, err := st.GetSignatureByTrackingID(ctx, old.TrackingID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old record should be gone, got %v", err)
	}
	if _, err := st.GetSignatureByTrackingID(ctx, recent.TrackingID); err != nil {
		t.Fatalf("recent record should survive: %v", err)
	}
}

func TestRunScheduledCleanup(t *testing.T) {
	eng, fn, st := newTestEngine(t, &stubGenerator{questions: threeQuestions()})
	ctx := context.Background()
	ackThroughQuiz(t, eng)

	eng.RunScheduledCleanup(ctx)
	eng.Close()

	if sigs, quizzes, err := st.Counts(ctx); err != nil || sigs != 0 || quizzes != 0 {
		t.Fatalf("store not empty after scheduled cleanup: %d/%d (err %v)", sigs, quizzes, err)
	}
	events := fn.byType(notify.EventScheduledCleanup)
	if len(events) != 1 {
		t.Fatalf("expected 1 scheduled_cleanup event, got %d", len(events))
	}
	if events[0].Message == "" || events[0].Data == nil {
		t.Fatalf("cleanup event missing payload: %+v", events[0])
	}
}
