package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/events"
	"github.com/pavelanni/examportal/internal/model"
)

var (
	errSessionClosed   = apperr.InvalidState("session is already closed")
	errNotSessionOwner = apperr.Forbidden("session belongs to another student")
	errNoLiveFeed      = apperr.NotFound("live monitoring is not enabled")
	errAttemptExam     = apperr.ValidationFields("attempt is for another exam", map[string]string{"attempt_id": "exam_id"})
)

type createSessionRequest struct {
	ExamID    string `json:"exam_id" validate:"required"`
	AttemptID string `json:"attempt_id"`
}

type warningRequest struct {
	Kind    string `json:"kind" validate:"required,max=64"`
	Message string `json:"message" validate:"max=500"`
}

type updateSessionRequest struct {
	Status    model.SessionStatus `json:"status" validate:"omitempty,oneof=in-progress completed abandoned"`
	AttemptID string              `json:"attempt_id"`
	Warning   *warningRequest     `json:"warning"`
}

func (h *Handler) publishSession(r *http.Request, typ string, sess *model.Session, data map[string]any) {
	err := h.pub.Publish(r.Context(), events.Event{
		Type:      typ,
		ExamID:    sess.ExamID,
		AttemptID: sess.AttemptID,
		StudentID: sess.StudentID,
		SessionID: sess.ID,
		Data:      data,
		At:        h.now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to publish event", "type", typ, "session_id", sess.ID, "error", err)
	}
}

// sessionAttempt loads an attempt to be linked to a session and checks that
// the caller took it. An empty id links nothing.
func (h *Handler) sessionAttempt(r *http.Request, attemptID string) (*model.Attempt, error) {
	if attemptID == "" {
		return nil, nil
	}
	a, err := h.store.GetAttempt(r.Context(), attemptID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != model.UserFromContext(r.Context()).ID {
		return nil, errNotOwner
	}
	return a, nil
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.visibleExam(r, req.ExamID); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.sessionAttempt(r, req.AttemptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if a != nil && a.ExamID != req.ExamID {
		h.fail(w, r, errAttemptExam)
		return
	}
	user := model.UserFromContext(r.Context())
	sess := &model.Session{
		ExamID:    req.ExamID,
		StudentID: user.ID,
		AttemptID: req.AttemptID,
		Warnings:  []model.Warning{},
	}
	if err := h.store.CreateSession(r.Context(), sess); err != nil {
		h.fail(w, r, err)
		return
	}
	h.publishSession(r, events.SessionStarted, sess, nil)
	respond(w, http.StatusCreated, "session", sess)
}

func (h *Handler) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	linked, err := h.sessionAttempt(r, req.AttemptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user := model.UserFromContext(r.Context())
	sess, err := h.store.UpdateSession(r.Context(), chi.URLParam(r, "id"), func(s *model.Session) error {
		if s.StudentID != user.ID {
			return errNotSessionOwner
		}
		if s.Status != model.SessionInProgress {
			return errSessionClosed
		}
		if req.Status != "" {
			s.Status = req.Status
		}
		if linked != nil {
			if linked.ExamID != s.ExamID {
				return errAttemptExam
			}
			s.AttemptID = linked.ID
		}
		if req.Warning != nil {
			s.Warnings = append(s.Warnings, model.Warning{
				Kind:    req.Warning.Kind,
				Message: req.Warning.Message,
				At:      h.now().UTC(),
			})
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data := map[string]any{"status": sess.Status, "warnings": len(sess.Warnings)}
	if req.Warning != nil {
		data["warning"] = req.Warning.Kind
	}
	h.publishSession(r, events.SessionUpdated, sess, data)
	respond(w, http.StatusOK, "session", sess)
}

func (h *Handler) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ActiveSessions(r.Context(), activeSessionWindow)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if examID := r.URL.Query().Get("exam_id"); examID != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if s.ExamID == examID {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}
	page, p := paginate(r, sessions)
	respondList(w, "sessions", page, p)
}

// handleMonitorWS streams live events to staff. An exam_id query parameter
// limits the stream to one exam.
func (h *Handler) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.fail(w, r, errNoLiveFeed)
		return
	}
	if err := h.hub.ServeWS(w, r, r.URL.Query().Get("exam_id")); err != nil {
		// The upgrader has already written the HTTP error.
		slog.Warn("websocket upgrade failed", "error", err)
	}
}
