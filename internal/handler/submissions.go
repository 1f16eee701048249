package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
	"github.com/pavelanni/examportal/internal/tracker"
)

var (
	errNoAssistant = apperr.NotFound("review assistant is not configured")
	errNoReview    = apperr.Validation("answer does not need review")
)

type createSubmissionRequest struct {
	ExamID    string                `json:"exam_id" validate:"required"`
	Answers   []model.AttemptAnswer `json:"answers" validate:"dive"`
	TimeSpent int                   `json:"time_spent" validate:"gte=0"`
}

// handleCreateSubmission resumes the caller's open attempt, or starts one,
// and submits it in the same request.
func (h *Handler) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createSubmissionRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user := model.UserFromContext(ctx)

	a, err := h.tracker.Resume(ctx, req.ExamID, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		a, err = h.tracker.Start(ctx, req.ExamID, user.ID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err = h.tracker.Submit(ctx, a.ID, req.Answers, req.TimeSpent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusCreated, a)
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	attempts, err := h.store.ListAttempts(r.Context(), store.AttemptFilter{
		ExamID:    q.Get("exam_id"),
		StudentID: q.Get("student_id"),
		Status:    model.AttemptStatus(q.Get("status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q.Get("pending_review") == "true" {
		pending := attempts[:0]
		for _, a := range attempts {
			if a.Result != nil && a.Result.PendingReview {
				pending = append(pending, a)
			}
		}
		attempts = pending
	}
	page, p := paginate(r, attempts)
	respondList(w, "submissions", page, p)
}

// handleMySubmissions lists the caller's attempts in the student view.
func (h *Handler) handleMySubmissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := model.UserFromContext(ctx)
	attempts, err := h.store.ListAttempts(ctx, store.AttemptFilter{StudentID: user.ID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, p := paginate(r, attempts)

	exams := make(map[string]*model.Exam)
	out := make([]attemptView, 0, len(page))
	for i := range page {
		a := &page[i]
		exam, seen := exams[a.ExamID]
		if !seen {
			exam, err = h.store.GetExam(ctx, a.ExamID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				h.fail(w, r, err)
				return
			}
			exams[a.ExamID] = exam
		}
		// The answer key is only attached on the single-attempt view.
		out = append(out, h.studentAttemptView(a, exam, nil))
	}
	respondList(w, "submissions", out, p)
}

type scoreRequest struct {
	Points *float64 `json:"points" validate:"required"`
}

func (h *Handler) handleScoreAnswer(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user := model.UserFromContext(r.Context())
	a, err := h.tracker.Review(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "questionID"), *req.Points, user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusOK, a)
}

type suggestRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
}

// handleSuggestScore asks the review assistant for an advisory score on a
// short answer and stores it next to the answer. Staff confirm it through
// the score endpoint.
func (h *Handler) handleSuggestScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.llm == nil {
		h.fail(w, r, errNoAssistant)
		return
	}
	var req suggestRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.tracker.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if a.Result == nil {
		h.fail(w, r, tracker.ErrNotGraded)
		return
	}
	var graded *model.GradedAnswer
	for i := range a.Result.Answers {
		if a.Result.Answers[i].QuestionID == req.QuestionID {
			graded = &a.Result.Answers[i]
		}
	}
	if graded == nil {
		h.fail(w, r, apperr.NotFound("no answer for question %s", req.QuestionID))
		return
	}
	if !graded.NeedsReview {
		h.fail(w, r, errNoReview)
		return
	}
	q, err := h.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	s, err := h.llm.SuggestScore(ctx, *q, graded.Answer.Text())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err = h.tracker.RecordSuggestion(ctx, a.ID, q.ID, s.Score, s.Feedback)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("recorded score suggestion", "attempt_id", a.ID, "question_id", q.ID, "score", s.Score)
	h.renderAttempt(w, r, http.StatusOK, a)
}
