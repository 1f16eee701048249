package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/grading"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

var errQuestionInUse = apperr.Conflict("question is in use by an exam")

type questionRequest struct {
	Text          string             `json:"question"`
	Type          model.QuestionType `json:"type"`
	Options       []string           `json:"options"`
	CorrectAnswer model.Answer       `json:"correct_answer"`
	Points        int                `json:"points"`
	Subject       string             `json:"subject"`
	Topic         string             `json:"topic"`
	Difficulty    model.Difficulty   `json:"difficulty"`
	Explanation   string             `json:"explanation"`
}

func (req questionRequest) question() model.Question {
	return model.Question{
		Text:          req.Text,
		Type:          req.Type,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		Points:        req.Points,
		Subject:       req.Subject,
		Topic:         req.Topic,
		Difficulty:    req.Difficulty,
		Explanation:   req.Explanation,
	}
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	questions, err := h.store.ListQuestions(r.Context(), store.QuestionFilter{
		Subject:    q.Get("subject"),
		Topic:      q.Get("topic"),
		Difficulty: model.Difficulty(q.Get("difficulty")),
		Type:       model.QuestionType(q.Get("type")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user := model.UserFromContext(r.Context())
	out := make([]any, len(questions))
	for i, q := range questions {
		out[i] = questionFor(user, q)
	}
	page, p := paginate(r, out)
	respondList(w, "questions", page, p)
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.store.GetQuestion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "question", questionFor(model.UserFromContext(r.Context()), *q))
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	q := req.question()
	if err := grading.ValidateQuestion(q); err != nil {
		h.fail(w, r, err)
		return
	}
	q.CreatedBy = model.UserFromContext(r.Context()).ID
	if err := h.store.CreateQuestion(r.Context(), &q); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "question", q)
}

// handleUpdateQuestion edits in place. Exams referencing the question are
// re-totaled so their stored total marks stay in step.
func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	q := req.question()
	q.ID = chi.URLParam(r, "id")
	if err := grading.ValidateQuestion(q); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.UpdateQuestion(r.Context(), &q); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.retotalExamsUsing(r, q.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "question", q)
}

func (h *Handler) retotalExamsUsing(r *http.Request, questionID string) error {
	ctx := r.Context()
	ids, err := h.store.ExamsUsingQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		exam, err := h.store.GetExam(ctx, id)
		if err != nil {
			return err
		}
		if err := h.totalMarks(r, exam); err != nil {
			return err
		}
		if err := h.store.UpdateExam(ctx, exam); err != nil {
			return err
		}
		slog.Debug("re-totaled exam", "exam_id", id, "total_marks", exam.TotalMarks)
	}
	return nil
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	using, err := h.store.ExamsUsingQuestion(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(using) > 0 {
		e := *errQuestionInUse
		e.Fields = map[string]string{"exams": strings.Join(using, ",")}
		h.fail(w, r, &e)
		return
	}
	if err := h.store.DeleteQuestion(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
