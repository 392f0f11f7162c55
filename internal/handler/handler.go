package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appI18n "github.com/textchamp/textchamp/internal/i18n"
	"github.com/textchamp/textchamp/internal/llm"
	"github.com/textchamp/textchamp/internal/model"
	"github.com/textchamp/textchamp/internal/practice"
	"github.com/textchamp/textchamp/internal/store"
	"github.com/textchamp/textchamp/internal/validate"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	attempts *practice.Service
	grader   practice.Evaluator
	validate *validate.Validator
	config   model.ServerConfig
}

// New creates a new Handler. The store holds users and exercises; attempts may
// be backed by a different repository.
func New(s *store.Store, attempts *practice.Service, grader practice.Evaluator, cfg model.ServerConfig) (*Handler, error) {
	if s == nil || attempts == nil || grader == nil {
		return nil, errors.New("handler: store, attempts and grader are required")
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Handler{
		store:    s,
		attempts: attempts,
		grader:   grader,
		validate: validate.NewValidator(),
		config:   cfg,
	}, nil
}

// Router returns the full HTTP stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	if len(h.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", csrfHeaderName, "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware(h.config.Lang))
	h.Routes(r)
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.csrfMiddleware)

		r.Post("/evaluate", h.handleEvaluate)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.handleSignup)
			r.Post("/login", h.handleLogin)
			r.Post("/logout", h.handleLogout)
			r.Get("/csrf", h.handleCSRFToken)
			r.With(h.requireAuth).Get("/me", h.handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Get("/exercises", h.handleListExercises)
			r.Get("/exercises/{id}", h.handleGetExercise)

			r.Post("/attempts", h.handleStartAttempt)
			r.Get("/attempts/current", h.handleCurrentAttempt)
			r.Get("/attempts/recent", h.handleRecentAttempts)
			r.Get("/attempts/{id}", h.handleGetAttempt)
			r.Put("/attempts/{id}", h.handleSaveAttempt)
			r.Post("/attempts/{id}/submit", h.handleSubmitAttempt)
			r.Post("/attempts/{id}/timer", h.handleStartTimer)
			r.Delete("/attempts/{id}/timer", h.handleStopTimer)

			r.Post("/practice", h.handleNewPractice)
			r.Get("/practice/{id}", h.handleGetPractice)
			r.Get("/results", h.handleResults)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))

				r.Get("/exercises", h.handleAdminListExercises)
				r.Post("/exercises", h.handleAdminCreateExercise)
				r.Post("/exercises/upload", h.handleAdminUploadExercises)
				r.Get("/exercises/{id}", h.handleAdminGetExercise)
				r.Put("/exercises/{id}", h.handleAdminUpdateExercise)
				r.Delete("/exercises/{id}", h.handleAdminDeleteExercise)

				r.Get("/users", h.handleAdminListUsers)
				r.Post("/users", h.handleAdminCreateUser)
				r.Post("/users/{id}/toggle", h.handleAdminToggleUser)

				r.Get("/results", h.handleAdminExportResults)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type evaluateRequest struct {
	Story                string               `json:"story" validate:"required"`
	QuestionsWithAnswers []model.AnswerTriple `json:"questionsWithAnswers" validate:"required,min=1"`
}

// handleEvaluate grades a set of answers against a source text. Grader
// failures come back as the fallback result, never as an error status.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := h.validate.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	evalReq, err := llm.BuildRequest(req.Story, req.QuestionsWithAnswers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	timer := prometheus.NewTimer(evaluationDuration.WithLabelValues("evaluate"))
	result := h.grader.Evaluate(r.Context(), evalReq)
	timer.ObserveDuration()
	evaluations.WithLabelValues("evaluate", outcomeLabel(result.Degraded)).Inc()
	respondJSON(w, http.StatusOK, result)
}

// Response helpers

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error  apiError          `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, msgID string) {
	respondJSON(w, status, errorResponse{
		Error: apiError{Code: code, Message: appI18n.T(r.Context(), msgID)},
	})
}

// fail maps a domain error to an HTTP response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var fieldsErr *validate.FieldsError
	switch {
	case errors.As(err, &fieldsErr):
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error:  apiError{Code: "validation_failed", Message: appI18n.T(r.Context(), "ErrValidation")},
			Fields: fieldsErr.Fields,
		})
	case errors.Is(err, validate.ErrBadBody):
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
	case errors.Is(err, llm.ErrInvalidInput):
		respondError(w, r, http.StatusBadRequest, "invalid_input", "ErrInvalidInput")
	case errors.Is(err, model.ErrInvalidExercise):
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error: apiError{Code: "invalid_exercise", Message: err.Error()},
		})
	case errors.Is(err, practice.ErrSectionMismatch):
		respondError(w, r, http.StatusBadRequest, "section_mismatch", "ErrSectionMismatch")
	case errors.Is(err, model.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "not_found", "ErrNotFound")
	case errors.Is(err, practice.ErrSubmitInProgress):
		respondError(w, r, http.StatusConflict, "submit_in_progress", "ErrSubmitInProgress")
	case errors.Is(err, practice.ErrAttemptCompleted):
		respondError(w, r, http.StatusConflict, "attempt_completed", "ErrAttemptCompleted")
	case errors.Is(err, practice.ErrAttemptBusy):
		respondError(w, r, http.StatusConflict, "attempt_busy", "ErrAttemptBusy")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this response.
		slog.Info("request cancelled", "path", r.URL.Path)
		respondError(w, r, http.StatusServiceUnavailable, "cancelled", "ErrInternal")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

// loggingMiddleware logs HTTP requests using slog
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
