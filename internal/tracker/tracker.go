// Package tracker runs the exam attempt lifecycle: start, answer, violations,
// submission, staff intervention and server-side timeouts.
//
// An attempt moves from in_progress to exactly one of completed (student
// submit), submitted (staff or timeout), or suspended. Every write is a
// conditional write on the attempt's store version, so concurrent changes to
// the same attempt fail with a conflict instead of overwriting each other.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/events"
	"github.com/pavelanni/examportal/internal/grading"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

// FinalizedBySystem marks attempts closed by the timeout policy or the
// tab-switch limit.
const FinalizedBySystem = "system"

// DefaultGrace is the tolerance added to exam deadlines.
const DefaultGrace = 30 * time.Second

var (
	ErrNotOpen       = apperr.InvalidState("exam is not open for attempts")
	ErrOutsideWindow = apperr.InvalidState("exam is outside its scheduled window")
	ErrAttemptLimit  = apperr.InvalidState("attempt limit reached")
	ErrFinished      = apperr.InvalidState("attempt is already finished")
	ErrTimeUp        = apperr.InvalidState("time is up for this attempt")
	ErrNotGraded     = apperr.InvalidState("attempt has not been graded")
)

// Tracker coordinates attempts stored in the record store.
type Tracker struct {
	store *store.Store
	pub   events.Publisher
	now   func() time.Time
	grace time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithGrace sets the deadline tolerance.
func WithGrace(d time.Duration) Option {
	return func(t *Tracker) { t.grace = d }
}

// New creates a Tracker. A nil publisher discards events.
func New(s *store.Store, pub events.Publisher, opts ...Option) *Tracker {
	if pub == nil {
		pub = events.Nop{}
	}
	t := &Tracker{store: s, pub: pub, now: time.Now, grace: DefaultGrace}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start opens a new attempt for the student.
func (t *Tracker) Start(ctx context.Context, examID, studentID string) (*model.Attempt, error) {
	exam, err := t.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	switch {
	case exam.Status != model.ExamActive && exam.Status != model.ExamScheduled:
		return nil, ErrNotOpen
	case !exam.OpenAt(now):
		return nil, ErrOutsideWindow
	}

	if open, err := t.openAttempt(ctx, exam, studentID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, fmt.Errorf("start exam %s: %w", examID, store.ErrAttemptOpen)
	}
	if exam.Settings.MaxAttempts > 0 {
		prev, err := t.store.ListAttempts(ctx, store.AttemptFilter{ExamID: examID, StudentID: studentID})
		if err != nil {
			return nil, err
		}
		if len(prev) >= exam.Settings.MaxAttempts {
			return nil, ErrAttemptLimit
		}
	}

	a := &model.Attempt{
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.AttemptInProgress,
		StartTime: now,
		Answers:   []model.AttemptAnswer{},
	}
	if err := t.store.CreateAttempt(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("attempt started", "attempt_id", a.ID, "exam_id", examID, "student_id", studentID)
	t.emit(ctx, events.AttemptStarted, a, nil)
	return a, nil
}

// Resume returns the student's open attempt, or ErrNotFound.
func (t *Tracker) Resume(ctx context.Context, examID, studentID string) (*model.Attempt, error) {
	exam, err := t.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	a, err := t.openAttempt(ctx, exam, studentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, store.ErrNotFound
	}
	return a, nil
}

// openAttempt returns the open attempt after applying the timeout policy,
// or nil when there is none.
func (t *Tracker) openAttempt(ctx context.Context, exam *model.Exam, studentID string) (*model.Attempt, error) {
	a, err := t.store.OpenAttempt(ctx, exam.ID, studentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := t.enforceDeadline(ctx, a, exam); err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, nil
	}
	return a, nil
}

// Get returns an attempt, finalizing it first if its deadline passed.
func (t *Tracker) Get(ctx context.Context, attemptID string) (*model.Attempt, error) {
	a, _, _, err := t.load(ctx, attemptID)
	return a, err
}

// load reads an attempt and its exam and applies the timeout policy. expired
// reports an in-progress attempt past its deadline that was not auto-submitted.
func (t *Tracker) load(ctx context.Context, attemptID string) (a *model.Attempt, exam *model.Exam, expired bool, err error) {
	a, err = t.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, false, err
	}
	exam, err = t.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, nil, false, err
	}
	expired, err = t.enforceDeadline(ctx, a, exam)
	return a, exam, expired, err
}

// Deadline returns when the attempt stops accepting changes, including grace.
// ok is false for attempts without a time limit.
func (t *Tracker) Deadline(a *model.Attempt, exam *model.Exam) (deadline time.Time, ok bool) {
	if exam.DurationMinutes > 0 {
		deadline, ok = a.StartTime.Add(exam.Duration()), true
	}
	if exam.EndAt != nil && (!ok || exam.EndAt.Before(deadline)) {
		deadline, ok = *exam.EndAt, true
	}
	if !ok {
		return time.Time{}, false
	}
	return deadline.Add(t.grace), true
}

// enforceDeadline auto-submits an overdue attempt when the exam allows it.
func (t *Tracker) enforceDeadline(ctx context.Context, a *model.Attempt, exam *model.Exam) (bool, error) {
	if a.Status.Terminal() {
		return false, nil
	}
	deadline, ok := t.Deadline(a, exam)
	if !ok || !t.now().After(deadline) {
		return false, nil
	}
	if !exam.Settings.AutoSubmit {
		return true, nil
	}
	if err := t.finalize(ctx, a, exam, model.AttemptSubmitted, FinalizedBySystem); err != nil {
		return false, err
	}
	slog.Info("attempt auto-submitted", "attempt_id", a.ID, "deadline", deadline)
	return false, nil
}

// SaveAnswers merges answers into an in-progress attempt.
func (t *Tracker) SaveAnswers(ctx context.Context, attemptID string, answers []model.AttemptAnswer) (*model.Attempt, error) {
	a, exam, expired, err := t.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := writable(a, expired); err != nil {
		return nil, err
	}
	questions, err := t.store.GetQuestions(ctx, exam.QuestionIDs)
	if err != nil {
		return nil, err
	}
	if err := grading.ValidateAnswers(questions, answers); err != nil {
		return nil, err
	}
	a.Answers = mergeAnswers(a.Answers, answers)
	if err := t.store.SaveAttempt(ctx, a); err != nil {
		return nil, err
	}
	t.emit(ctx, events.AttemptAnswers, a, map[string]any{"answered": len(a.Answers)})
	return a, nil
}

// RecordViolation counts an anti-cheating signal. Reaching the exam's
// tab-switch limit suspends the attempt.
func (t *Tracker) RecordViolation(ctx context.Context, attemptID string, kind model.ViolationKind) (*model.Attempt, error) {
	a, exam, expired, err := t.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := writable(a, expired); err != nil {
		return nil, err
	}
	count, ok := a.Violations.Add(kind)
	if !ok {
		return nil, apperr.ValidationFields("unknown violation", map[string]string{"kind": string(kind)})
	}
	limit := exam.Settings.TabSwitchLimit
	suspend := kind == model.ViolationTabSwitch && limit > 0 && count >= limit
	if suspend {
		now := t.now().UTC()
		a.Status = model.AttemptSuspended
		a.EndTime = &now
		a.FinalizedBy = FinalizedBySystem
	}
	if err := t.store.SaveAttempt(ctx, a); err != nil {
		return nil, err
	}
	slog.Warn("violation recorded", "attempt_id", a.ID, "kind", kind, "count", count)
	t.emit(ctx, events.AttemptViolation, a, map[string]any{"kind": kind, "count": count})
	if suspend {
		t.emit(ctx, events.AttemptSuspended, a, map[string]any{"by": FinalizedBySystem, "reason": "tab_switch_limit"})
	}
	return a, nil
}

// Submit grades and completes the attempt. After the deadline only the
// answers recorded in time are graded.
func (t *Tracker) Submit(ctx context.Context, attemptID string, answers []model.AttemptAnswer, timeSpent int) (*model.Attempt, error) {
	a, exam, expired, err := t.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrFinished
	}
	if !expired && len(answers) > 0 {
		questions, err := t.store.GetQuestions(ctx, exam.QuestionIDs)
		if err != nil {
			return nil, err
		}
		if err := grading.ValidateAnswers(questions, answers); err != nil {
			return nil, err
		}
		a.Answers = mergeAnswers(a.Answers, answers)
	}
	if timeSpent > 0 {
		a.TimeSpent = timeSpent
	}
	if err := t.finalize(ctx, a, exam, model.AttemptCompleted, a.StudentID); err != nil {
		return nil, err
	}
	return a, nil
}

// ForceSubmit grades the recorded answers on behalf of staff.
func (t *Tracker) ForceSubmit(ctx context.Context, attemptID, by string) (*model.Attempt, error) {
	a, exam, _, err := t.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrFinished
	}
	if err := t.finalize(ctx, a, exam, model.AttemptSubmitted, by); err != nil {
		return nil, err
	}
	return a, nil
}

// Suspend stops the attempt without grading it. The result stays absent so a
// suspended attempt is never mistaken for a zero score.
func (t *Tracker) Suspend(ctx context.Context, attemptID, by string) (*model.Attempt, error) {
	a, _, _, err := t.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrFinished
	}
	now := t.now().UTC()
	a.Status = model.AttemptSuspended
	a.EndTime = &now
	a.FinalizedBy = by
	if err := t.store.SaveAttempt(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("attempt suspended", "attempt_id", a.ID, "by", by)
	t.emit(ctx, events.AttemptSuspended, a, map[string]any{"by": by})
	return a, nil
}

// Review records a staff score for one answer and re-totals the result.
func (t *Tracker) Review(ctx context.Context, attemptID, questionID string, points float64, by string) (*model.Attempt, error) {
	a, exam, _, err := t.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Result == nil {
		return nil, ErrNotGraded
	}
	if err := grading.ApplyManualScore(a.Result, *exam, questionID, points); err != nil {
		return nil, err
	}
	now := t.now().UTC()
	a.ReviewedBy = by
	a.ReviewedAt = &now
	if err := t.store.SaveAttempt(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("answer reviewed", "attempt_id", a.ID, "question_id", questionID, "points", points, "by", by)
	t.emit(ctx, events.AttemptReviewed, a, map[string]any{"question_id": questionID, "points": points})
	return a, nil
}

// RecordSuggestion stores an advisory score for an answer awaiting review.
func (t *Tracker) RecordSuggestion(ctx context.Context, attemptID, questionID string, points float64, feedback string) (*model.Attempt, error) {
	a, _, _, err := t.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Result == nil {
		return nil, ErrNotGraded
	}
	for i := range a.Result.Answers {
		ga := &a.Result.Answers[i]
		if ga.QuestionID != questionID {
			continue
		}
		p := min(max(points, 0), ga.MaxPoints)
		ga.SuggestedPoints = &p
		ga.SuggestedFeedback = feedback
		if err := t.store.SaveAttempt(ctx, a); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, apperr.NotFound("no answer for question %s", questionID)
}

// Sweep auto-submits every overdue attempt of an auto-submit exam and returns
// how many were finalized.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	open, err := t.store.ListAttempts(ctx, store.AttemptFilter{Status: model.AttemptInProgress})
	if err != nil {
		return 0, err
	}
	exams := make(map[string]*model.Exam)
	swept := 0
	var errs []error
	for i := range open {
		a := &open[i]
		exam, ok := exams[a.ExamID]
		if !ok {
			exam, err = t.store.GetExam(ctx, a.ExamID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			exams[a.ExamID] = exam
		}
		if _, err := t.enforceDeadline(ctx, a, exam); err != nil {
			// Someone else touched the attempt; the next access or sweep retries.
			if !errors.Is(err, store.ErrConflict) {
				errs = append(errs, fmt.Errorf("attempt %s: %w", a.ID, err))
			}
			continue
		}
		if a.Status.Terminal() {
			swept++
		}
	}
	return swept, errors.Join(errs...)
}

func (t *Tracker) finalize(ctx context.Context, a *model.Attempt, exam *model.Exam, status model.AttemptStatus, by string) error {
	questions, err := t.store.GetQuestions(ctx, exam.QuestionIDs)
	if err != nil {
		return err
	}
	res, err := grading.Grade(*exam, questions, a.Answers)
	if err != nil {
		return fmt.Errorf("grade attempt %s: %w", a.ID, err)
	}
	now := t.now().UTC()
	res.GradedAt = now
	a.Result = &res
	a.Status = status
	a.EndTime = &now
	a.FinalizedBy = by
	if a.TimeSpent == 0 {
		a.TimeSpent = int(now.Sub(a.StartTime).Seconds())
	}
	if err := t.store.SaveAttempt(ctx, a); err != nil {
		return err
	}
	slog.Info("attempt graded", "attempt_id", a.ID, "status", status, "by", by,
		"total_score", res.TotalScore, "max_score", res.MaxScore, "percentage", res.Percentage)
	t.emit(ctx, events.AttemptSubmitted, a, map[string]any{
		"status": status, "by": by, "percentage": res.Percentage, "passed": res.Passed,
	})
	return nil
}

func (t *Tracker) emit(ctx context.Context, typ string, a *model.Attempt, data map[string]any) {
	e := events.Event{
		Type:      typ,
		ExamID:    a.ExamID,
		AttemptID: a.ID,
		StudentID: a.StudentID,
		Data:      data,
		At:        t.now().UTC(),
	}
	if err := t.pub.Publish(ctx, e); err != nil {
		slog.Warn("failed to publish event", "type", typ, "attempt_id", a.ID, "error", err)
	}
}

func writable(a *model.Attempt, expired bool) error {
	if a.Status.Terminal() {
		return ErrFinished
	}
	if expired {
		return ErrTimeUp
	}
	return nil
}

// mergeAnswers replaces answers by question ID and appends new ones in order.
func mergeAnswers(current, updates []model.AttemptAnswer) []model.AttemptAnswer {
	pos := make(map[string]int, len(current))
	out := make([]model.AttemptAnswer, len(current), len(current)+len(updates))
	copy(out, current)
	for i, a := range out {
		pos[a.QuestionID] = i
	}
	for _, u := range updates {
		if i, ok := pos[u.QuestionID]; ok {
			out[i] = u
			continue
		}
		pos[u.QuestionID] = len(out)
		out = append(out, u)
	}
	return out
}
