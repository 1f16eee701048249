package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/grading"
	appI18n "github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

type examRequest struct {
	Title           string              `json:"title" validate:"required,max=300"`
	Description     string              `json:"description"`
	Subject         string              `json:"subject"`
	ClassGroup      string              `json:"class_group"`
	DurationMinutes int                 `json:"duration_minutes" validate:"gte=0"`
	StartAt         *time.Time          `json:"start_at"`
	EndAt           *time.Time          `json:"end_at"`
	QuestionIDs     []string            `json:"question_ids" validate:"required,min=1,unique,dive,required"`
	PassingMarks    float64             `json:"passing_marks" validate:"gte=0,lte=100"`
	ScoringMode     model.ScoringMode   `json:"scoring_mode" validate:"omitempty,oneof=per-question-points uniform-marking-scheme"`
	MarkingScheme   model.MarkingScheme `json:"marking_scheme"`
	Settings        model.ExamSettings  `json:"settings"`
	Status          model.ExamStatus    `json:"status" validate:"omitempty,oneof=draft scheduled active completed"`
}

func (req examRequest) exam() (model.Exam, error) {
	if req.StartAt != nil && req.EndAt != nil && !req.EndAt.After(*req.StartAt) {
		return model.Exam{}, apperr.ValidationFields("validation failed", map[string]string{"end_at": "gtfield"})
	}
	if req.Settings.TabSwitchLimit < 0 || req.Settings.MaxAttempts < 0 {
		return model.Exam{}, apperr.ValidationFields("validation failed", map[string]string{"settings": "gte"})
	}
	e := model.Exam{
		Title:           req.Title,
		Description:     req.Description,
		Subject:         req.Subject,
		ClassGroup:      req.ClassGroup,
		DurationMinutes: req.DurationMinutes,
		StartAt:         req.StartAt,
		EndAt:           req.EndAt,
		QuestionIDs:     req.QuestionIDs,
		PassingMarks:    req.PassingMarks,
		ScoringMode:     req.ScoringMode,
		MarkingScheme:   req.MarkingScheme,
		Settings:        req.Settings,
		Status:          req.Status,
	}
	e.ApplyDefaults()
	return e, nil
}

// totalMarks recomputes the stored total from the referenced questions.
func (h *Handler) totalMarks(r *http.Request, exam *model.Exam) error {
	questions, err := h.store.GetQuestions(r.Context(), exam.QuestionIDs)
	if err != nil {
		return err
	}
	total, err := grading.MaxScore(*exam, questions)
	if err != nil {
		return err
	}
	exam.TotalMarks = total
	return nil
}

func (h *Handler) decodeExam(r *http.Request) (model.Exam, error) {
	var req examRequest
	if err := h.decodeValid(r, &req); err != nil {
		return model.Exam{}, err
	}
	e, err := req.exam()
	if err != nil {
		return model.Exam{}, err
	}
	if err := h.totalMarks(r, &e); err != nil {
		return model.Exam{}, err
	}
	return e, nil
}

// visibleExam loads an exam, hiding drafts from students.
func (h *Handler) visibleExam(r *http.Request, id string) (*model.Exam, error) {
	exam, err := h.store.GetExam(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if exam.Status == model.ExamDraft && !model.UserFromContext(r.Context()).Role.IsStaff() {
		return nil, store.ErrNotFound
	}
	return exam, nil
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	q := r.URL.Query()
	f := store.ExamFilter{
		Status:     model.ExamStatus(q.Get("status")),
		Subject:    q.Get("subject"),
		ClassGroup: q.Get("class_group"),
	}
	if !user.Role.IsStaff() {
		f.ExcludeDraft = true
	}
	exams, err := h.store.ListExams(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, p := paginate(r, exams)
	respondList(w, "exams", page, p)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.visibleExam(r, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "exam", exam)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	e, err := h.decodeExam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e.CreatedBy = model.UserFromContext(r.Context()).ID
	if err := h.store.CreateExam(r.Context(), &e); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "exam", e)
}

func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	e, err := h.decodeExam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e.ID = chi.URLParam(r, "id")
	if err := h.store.UpdateExam(r.Context(), &e); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "exam", e)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteExam(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTakeExam returns the exam as the caller would take it: answer keys
// stripped for every role, order randomized per student when configured,
// and the caller's open attempt if one exists.
func (h *Handler) handleTakeExam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := model.UserFromContext(ctx)
	exam, err := h.visibleExam(r, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	questions, err := h.store.GetQuestions(ctx, exam.QuestionIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := grading.MaxScore(*exam, questions); err != nil {
		h.fail(w, r, err)
		return
	}

	view := takeView{
		Exam:      *exam,
		Summary:   appI18n.Tp(ctx, "QuestionCount", len(exam.QuestionIDs)),
		Questions: arrangeForStudent(exam, questions, user.ID),
	}
	if exam.DurationMinutes > 0 {
		view.TimeLimit = appI18n.Td(ctx, "TimeLimit", map[string]any{"Minutes": exam.DurationMinutes})
	}
	if Can(user, CapTake) {
		a, err := h.tracker.Resume(ctx, exam.ID, user.ID)
		switch {
		case err == nil:
			av := h.studentAttemptView(a, exam, questions)
			view.Attempt = &av
		case !errors.Is(err, store.ErrNotFound):
			h.fail(w, r, err)
			return
		}
	}
	respond(w, http.StatusOK, "exam", view)
}
