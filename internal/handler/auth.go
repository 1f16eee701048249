package handler

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/model"
)

const sessionCookieName = "session"

// Capability is a permission checked by route middleware.
type Capability string

const (
	CapRead           Capability = "read"
	CapTake           Capability = "take"
	CapManageContent  Capability = "manage_content"
	CapManageStudents Capability = "manage_students"
	CapManageStaff    Capability = "manage_staff"
	CapReview         Capability = "review"
	CapMonitor        Capability = "monitor"
)

var roleCapabilities = map[model.UserRole][]Capability{
	model.UserRoleAdmin: {
		CapRead, CapManageContent, CapManageStudents, CapManageStaff, CapReview, CapMonitor,
	},
	model.UserRoleModerator: {
		CapRead, CapManageContent, CapManageStudents, CapReview, CapMonitor,
	},
	model.UserRoleStudent: {CapRead, CapTake},
}

// Can reports whether the user's role grants c.
func Can(u *model.User, c Capability) bool {
	return u != nil && slices.Contains(roleCapabilities[u.Role], c)
}

var (
	errAuthRequired = apperr.Unauthenticated("authentication required")
	errForbidden    = apperr.Forbidden("insufficient permissions")
)

// bearerToken extracts the request token. fromCookie reports whether it came
// from the session cookie.
func bearerToken(r *http.Request) (token string, fromCookie bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, tok, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok), false
		}
		return "", false
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value, true
	}
	return "", false
}

// cookieRequestAllowed rejects cookie-authenticated state changes that a
// cross-site form could forge. Such forms cannot send a JSON content type or
// custom headers without a CORS preflight.
func cookieRequestAllowed(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	if r.Header.Get("X-Requested-With") != "" {
		return true
	}
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/json")
}

// authenticate resolves the token, if any, and stores the user in the context.
// Requests without a valid token continue anonymously.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, fromCookie := bearerToken(r)
		if token == "" || (fromCookie && !cookieRequestAllowed(r)) {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.identity.GetSession(r.Context(), token)
		if err != nil {
			slog.Error("failed to resolve session", "error", err)
			h.fail(w, r, err)
			return
		}
		if user == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require returns middleware that checks the user holds capability c.
func (h *Handler) require(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				h.fail(w, r, errAuthRequired)
				return
			}
			if !Can(user, c) {
				slog.Warn("capability denied", "user_id", user.ID, "role", user.Role, "capability", c, "path", r.URL.Path)
				h.fail(w, r, errForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.config.SecureCookies,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.config.SecureCookies,
	})
}

type signUpRequest struct {
	Email         string         `json:"email" validate:"required,email"`
	Password      string         `json:"password" validate:"required,min=8"`
	DisplayName   string         `json:"display_name" validate:"max=200"`
	Role          model.UserRole `json:"role" validate:"omitempty,oneof=admin moderator student"`
	ClassGroup    string         `json:"class_group"`
	StudentNumber string         `json:"student_number"`
	Course        string         `json:"course"`
	Year          string         `json:"year"`
}

func (req signUpRequest) input() identity.SignUpInput {
	return identity.SignUpInput{
		Email:         req.Email,
		Password:      req.Password,
		DisplayName:   req.DisplayName,
		Role:          req.Role,
		ClassGroup:    req.ClassGroup,
		StudentNumber: req.StudentNumber,
		Course:        req.Course,
		Year:          req.Year,
	}
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	caller := model.UserFromContext(r.Context())
	staffCaller := Can(caller, CapManageStaff)
	if !h.config.AllowSignup && !staffCaller {
		h.fail(w, r, apperr.Forbidden("signup is disabled"))
		return
	}
	if req.Role != "" && req.Role != model.UserRoleStudent && !staffCaller {
		h.fail(w, r, apperr.Forbidden("only an admin can create staff accounts"))
		return
	}

	u, err := h.identity.SignUp(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("user signed up", "user_id", u.ID, "role", u.Role)
	respond(w, http.StatusCreated, "user", userView(u))
}

type signInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type sessionView struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := h.decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setSessionCookie(w, sess.Token, sess.ExpiresAt)
	respond(w, http.StatusOK, "session", sessionView{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      userView(sess.User),
	})
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	if err := h.identity.SignOut(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "user", userView(model.UserFromContext(r.Context())))
}
