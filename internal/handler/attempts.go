package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

var errNotOwner = apperr.Forbidden("attempt belongs to another student")

type answersRequest struct {
	Answers []model.AttemptAnswer `json:"answers" validate:"dive"`
}

type submitRequest struct {
	Answers   []model.AttemptAnswer `json:"answers" validate:"dive"`
	TimeSpent int                   `json:"time_spent" validate:"gte=0"`
}

type violationRequest struct {
	Kind model.ViolationKind `json:"kind" validate:"required"`
}

// ownAttempt loads the attempt in the URL and checks that the caller took it.
func (h *Handler) ownAttempt(r *http.Request) (*model.Attempt, error) {
	a, err := h.store.GetAttempt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if a.StudentID != model.UserFromContext(r.Context()).ID {
		return nil, errNotOwner
	}
	return a, nil
}

// renderAttempt writes the attempt in the view matching the caller.
func (h *Handler) renderAttempt(w http.ResponseWriter, r *http.Request, status int, a *model.Attempt) {
	ctx := r.Context()
	exam, err := h.store.GetExam(ctx, a.ExamID)
	// A deleted exam leaves its attempts readable.
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.fail(w, r, err)
		return
	}
	user := model.UserFromContext(ctx)
	if Can(user, CapReview) {
		respond(w, status, "attempt", h.staffAttemptView(a, exam))
		return
	}
	var questions map[string]model.Question
	if exam != nil && a.Status.Terminal() && exam.Settings.AllowReview {
		questions, err = h.store.GetQuestions(ctx, exam.QuestionIDs)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}
	respond(w, status, "attempt", h.studentAttemptView(a, exam, questions))
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	a, err := h.tracker.Start(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusCreated, a)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	if !Can(user, CapReview) {
		if _, err := h.ownAttempt(r); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	a, err := h.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusOK, a)
}

func (h *Handler) handleSaveAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.ownAttempt(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err = h.tracker.SaveAnswers(r.Context(), a.ID, req.Answers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusOK, a)
}

func (h *Handler) handleRecordViolation(w http.ResponseWriter, r *http.Request) {
	var req violationRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.ownAttempt(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err = h.tracker.RecordViolation(r.Context(), a.ID, req.Kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusOK, a)
}

func (h *Handler) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.ownAttempt(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err = h.tracker.Submit(r.Context(), a.ID, req.Answers, req.TimeSpent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusOK, a)
}

func (h *Handler) handleForceSubmit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	a, err := h.tracker.ForceSubmit(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusOK, a)
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	a, err := h.tracker.Suspend(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderAttempt(w, r, http.StatusOK, a)
}
