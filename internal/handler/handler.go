// Package handler exposes the tutoring workflow as a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pberezin/tutor/internal/i18n"
	"github.com/pberezin/tutor/internal/progress"
	"github.com/pberezin/tutor/internal/storage"
	"github.com/pberezin/tutor/internal/tutor"
)

// Config holds the serving-level handler settings.
type Config struct {
	// AccessCodeHash is the bcrypt hash of the shared access code.
	// Empty disables authentication.
	AccessCodeHash string
	SecureCookies  bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc      *tutor.Service
	config   Config
	sessions *sessionStore
	quizzes  *quizStore
}

// New creates a new Handler.
func New(svc *tutor.Service, cfg Config) *Handler {
	return &Handler{
		svc:      svc,
		config:   cfg,
		sessions: newSessionStore(),
		quizzes:  newQuizStore(),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.csrfMiddleware)

		r.Get("/api/users", h.handleListUsers)
		r.Delete("/api/users/{userID}", h.handleDeleteUser)

		r.Route("/api/users/{userID}", func(r chi.Router) {
			r.Get("/resume", h.handleResume)
			r.Get("/history", h.handleHistory)
			r.Post("/objectives", h.handleCreateObjective)
			r.Route("/objectives/{objectiveID}", func(r chi.Router) {
				r.Get("/", h.handleGetObjective)
				r.Post("/replan", h.handleReplan)
				r.Post("/reopen", h.handleReopen)
				r.Route("/topics/{topic}", func(r chi.Router) {
					r.Post("/lesson", h.handleLesson)
					r.Post("/quiz", h.handleQuiz)
					r.Post("/attempts", h.handleAttempt)
					r.Post("/skip", h.handleSkip)
				})
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	target, err := h.svc.Engine().ResolveResume(chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, target)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.Engine().Store().LearningHistory(chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"objectives": history})
}

func (h *Handler) handleGetObjective(w http.ResponseWriter, r *http.Request) {
	obj, err := h.svc.Engine().Objective(chi.URLParam(r, "userID"), chi.URLParam(r, "objectiveID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, obj)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Engine().Store().Users()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Engine().Store().DeleteUser(chi.URLParam(r, "userID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respondError maps the error taxonomy onto HTTP statuses: missing
// records are 404, invariant violations 422, upstream LLM failures 502
// and storage failures 500. Messages are localized; details beyond the
// validation rule stay in the server log.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var ve *progress.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": appI18n.T(ctx, "ObjectiveNotFound"),
		})
	case errors.As(err, &ve):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": appI18n.Td(ctx, "ValidationFailed", map[string]any{"Detail": ve.Detail}),
			"rule":  ve.Rule,
		})
	case isStorageError(err):
		slog.Error("storage failure", "path", r.URL.Path, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": appI18n.T(ctx, "StorageFailed"),
		})
	default:
		slog.Error("tutoring backend failure", "path", r.URL.Path, "error", err)
		respondJSON(w, http.StatusBadGateway, map[string]string{
			"error": appI18n.T(ctx, "TutorUnavailable"),
		})
	}
}

func isStorageError(err error) bool {
	var se *storage.StorageError
	return errors.As(err, &se)
}
