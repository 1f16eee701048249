package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

func (h *Handler) loadStudent(r *http.Request) (*model.User, error) {
	u, err := h.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if u.Role != model.UserRoleStudent {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context(), model.UserRoleStudent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	group, status := q.Get("class_group"), model.UserStatus(q.Get("status"))
	students := make([]*model.User, 0, len(users))
	for i := range users {
		u := &users[i]
		if group != "" && u.ClassGroup != group {
			continue
		}
		if status != "" && u.Status != status {
			continue
		}
		students = append(students, userView(u))
	}
	page, p := paginate(r, students)
	respondList(w, "students", page, p)
}

type studentRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required,min=8"`
	DisplayName   string `json:"display_name" validate:"required,max=200"`
	ClassGroup    string `json:"class_group"`
	StudentNumber string `json:"student_number"`
	Course        string `json:"course"`
	Year          string `json:"year"`
}

func (h *Handler) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.identity.SignUp(r.Context(), identity.SignUpInput{
		Email:         req.Email,
		Password:      req.Password,
		DisplayName:   req.DisplayName,
		Role:          model.UserRoleStudent,
		ClassGroup:    req.ClassGroup,
		StudentNumber: req.StudentNumber,
		Course:        req.Course,
		Year:          req.Year,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("created student", "id", u.ID, "by", model.UserFromContext(r.Context()).ID)
	respond(w, http.StatusCreated, "student", userView(u))
}

func (h *Handler) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	u, err := h.loadStudent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "student", userView(u))
}

// studentUpdate holds the mutable profile fields. Absent fields are kept.
type studentUpdate struct {
	Email         *string           `json:"email" validate:"omitempty,email"`
	Password      *string           `json:"password" validate:"omitempty,min=8"`
	DisplayName   *string           `json:"display_name" validate:"omitempty,max=200"`
	Status        *model.UserStatus `json:"status" validate:"omitempty,oneof=active inactive"`
	ClassGroup    *string           `json:"class_group"`
	StudentNumber *string           `json:"student_number"`
	Course        *string           `json:"course"`
	Year          *string           `json:"year"`
}

func (upd studentUpdate) apply(u *model.User) error {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&u.Email, upd.Email)
	set(&u.DisplayName, upd.DisplayName)
	set(&u.ClassGroup, upd.ClassGroup)
	set(&u.StudentNumber, upd.StudentNumber)
	set(&u.Course, upd.Course)
	set(&u.Year, upd.Year)
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	if upd.Password != nil {
		hash, err := identity.HashPassword(*upd.Password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
	}
	return nil
}

func (h *Handler) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	var req studentUpdate
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.loadStudent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := req.apply(u); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.UpdateUser(r.Context(), u); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "student", userView(u))
}

// handleDeleteStudent deactivates the account. Attempts keep referencing
// the student, so records are never removed.
func (h *Handler) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	u, err := h.loadStudent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.SetUserStatus(r.Context(), u.ID, model.UserInactive); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
