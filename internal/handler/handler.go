package handler

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examportal/internal/events"
	appI18n "github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/llm"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
	"github.com/pavelanni/examportal/internal/tracker"
)

// activeSessionWindow bounds how far back GET /monitoring/active looks for
// sessions that are no longer in progress.
const activeSessionWindow = 24 * time.Hour

// Suggester proposes scores for short answers.
type Suggester interface {
	SuggestScore(ctx context.Context, question model.Question, answer string) (*llm.Suggestion, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	tracker  *tracker.Tracker
	identity *identity.Service
	pub      events.Publisher
	hub      *events.Hub
	llm      Suggester
	validate *validator.Validate
	config   model.PortalConfig
	now      func() time.Time
}

// Deps are the collaborators of a Handler. Hub and LLM are optional.
type Deps struct {
	Store     *store.Store
	Tracker   *tracker.Tracker
	Identity  *identity.Service
	Publisher events.Publisher
	Hub       *events.Hub
	LLM       Suggester
}

// New creates a new Handler.
func New(d Deps, cfg model.PortalConfig) *Handler {
	pub := d.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Handler{
		store:    d.Store,
		tracker:  d.Tracker,
		identity: d.Identity,
		pub:      pub,
		hub:      d.Hub,
		llm:      d.LLM,
		validate: newValidator(),
		config:   cfg,
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes registers all HTTP routes under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(appI18n.Middleware(h.config.Lang))
		r.Use(h.authenticate)

		r.Get("/health", h.handleHealth)
		r.Post("/auth/signup", h.handleSignUp)
		r.Post("/auth/signin", h.handleSignIn)

		r.Group(func(r chi.Router) {
			r.Use(h.require(CapRead))
			r.Post("/auth/signout", h.handleSignOut)
			r.Get("/user/profile", h.handleProfile)

			r.Get("/questions", h.handleListQuestions)
			r.Get("/questions/{id}", h.handleGetQuestion)
			r.Get("/exams", h.handleListExams)
			r.Get("/exams/{id}", h.handleGetExam)
			r.Get("/exams/{id}/take", h.handleTakeExam)

			// Ownership is checked per attempt.
			r.Get("/attempts/{id}", h.handleGetAttempt)
			r.Put("/attempts/{id}/answers", h.handleSaveAnswers)
			r.Post("/attempts/{id}/violations", h.handleRecordViolation)
			r.Post("/attempts/{id}/submit", h.handleSubmitAttempt)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.require(CapManageStudents))
			r.Get("/students", h.handleListStudents)
			r.Post("/students", h.handleCreateStudent)
			r.Get("/students/{id}", h.handleGetStudent)
			r.Put("/students/{id}", h.handleUpdateStudent)
			r.Delete("/students/{id}", h.handleDeleteStudent)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.require(CapManageContent))
			r.Post("/questions", h.handleCreateQuestion)
			r.Put("/questions/{id}", h.handleUpdateQuestion)
			r.Delete("/questions/{id}", h.handleDeleteQuestion)
			r.Post("/exams", h.handleCreateExam)
			r.Put("/exams/{id}", h.handleUpdateExam)
			r.Delete("/exams/{id}", h.handleDeleteExam)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.require(CapTake))
			r.Post("/exams/{id}/attempts", h.handleStartAttempt)
			r.Post("/submissions", h.handleCreateSubmission)
			r.Get("/submissions/my", h.handleMySubmissions)
			r.Post("/sessions", h.handleCreateSession)
			r.Put("/sessions/{id}", h.handleUpdateSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.require(CapReview))
			r.Get("/submissions", h.handleListSubmissions)
			r.Put("/submissions/{id}/answers/{questionID}/score", h.handleScoreAnswer)
			r.Post("/submissions/{id}/suggest", h.handleSuggestScore)
			r.Get("/analytics/stats", h.handleStats)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.require(CapMonitor))
			r.Post("/attempts/{id}/force-submit", h.handleForceSubmit)
			r.Post("/attempts/{id}/suspend", h.handleSuspend)
			r.Get("/monitoring/active", h.handleActiveSessions)
			r.Get("/monitoring/ws", h.handleMonitorWS)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "status", map[string]string{
		"service": appI18n.T(r.Context(), "AppTitle"),
		"state":   "ok",
	})
}
