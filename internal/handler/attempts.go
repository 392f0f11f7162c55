package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	appI18n "github.com/textchamp/textchamp/internal/i18n"
	"github.com/textchamp/textchamp/internal/model"
	"github.com/textchamp/textchamp/internal/practice"
	"github.com/textchamp/textchamp/internal/scoring"
)

// exerciseKindFilter reads the optional ?kind= or ?section= filter.
func exerciseKindFilter(r *http.Request) (model.ExerciseKind, bool) {
	q := r.URL.Query()
	if s := q.Get("section"); s != "" {
		section := model.SectionID(s)
		if !section.Valid() {
			return "", false
		}
		return model.KindForSection(section), true
	}
	kind := model.ExerciseKind(q.Get("kind"))
	return kind, kind == "" || kind.Valid()
}

func (h *Handler) handleListExercises(w http.ResponseWriter, r *http.Request) {
	kind, ok := exerciseKindFilter(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}
	exercises, err := h.store.ListExercises(r.Context(), kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]model.Exercise, 0, len(exercises))
	for _, e := range exercises {
		out = append(out, e.ForStudent())
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}
	e, err := h.store.GetExercise(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e.ForStudent())
}

// attemptView is an attempt as a student sees it. Ideal answers and flowchart
// keys stay hidden until the attempt is completed; completed attempts carry
// their derived marks. The grading source is never sent.
type attemptView struct {
	model.PracticeAttempt
	SectionScore *model.SectionScore `json:"section_score,omitempty"`
	Summary      *model.MarkSummary  `json:"summary,omitempty"`
}

func (h *Handler) viewAttempt(a model.PracticeAttempt) attemptView {
	if remaining, ok := h.attempts.Remaining(a.ID); ok {
		a.TimeRemaining = remaining
	}
	a.GradingSource = ""
	v := attemptView{PracticeAttempt: a}
	if !a.Completed() {
		hidden := model.Exercise{Questions: a.Questions, Flowchart: a.Flowchart}.ForStudent()
		v.Questions = hidden.Questions
		v.Flowchart = hidden.Flowchart
		return v
	}
	section := practice.SectionScore(a)
	v.SectionScore = &section
	if a.Score != nil {
		summary := scoring.Normalize(a.Questions, a.Answers, *a.Score)
		v.Summary = &summary
	}
	return v
}

// ownAttempt loads an attempt belonging to the current user. Attempts of other
// students are reported as not found.
func (h *Handler) ownAttempt(w http.ResponseWriter, r *http.Request) (model.PracticeAttempt, bool) {
	user := model.UserFromContext(r.Context())
	a, err := h.attempts.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && a.StudentID != user.ID {
		err = model.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return model.PracticeAttempt{}, false
	}
	return a, true
}

type startAttemptRequest struct {
	Section    model.SectionID `json:"section" validate:"required,oneof=A B C"`
	ExerciseID int64           `json:"exercise_id" validate:"required,gt=0"`
	PracticeID string          `json:"practice_id" validate:"omitempty,uuid"`
	StartTimer bool            `json:"start_timer"`
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if err := h.validate.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user := model.UserFromContext(r.Context())
	a, err := h.attempts.Start(r.Context(), user.ID, req.Section, req.ExerciseID, req.PracticeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.StartTimer && a.TimeRemaining > 0 {
		if err := h.attempts.StartCountdown(r.Context(), a.ID); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusCreated, h.viewAttempt(a))
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.viewAttempt(a))
}

type saveAttemptRequest struct {
	Answers       model.AnswerSet `json:"answers"`
	TimeRemaining int             `json:"time_remaining" validate:"gte=0"`
}

type saveFailedResponse struct {
	Error   apiError    `json:"error"`
	Attempt attemptView `json:"attempt"`
}

// handleSaveAttempt persists answers. When storage fails the edited attempt is
// returned with the error so the client can keep it and retry.
func (h *Handler) handleSaveAttempt(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownAttempt(w, r); !ok {
		return
	}
	var req saveAttemptRequest
	if err := h.validate.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	a, err := h.attempts.Save(r.Context(), chi.URLParam(r, "id"), req.Answers, req.TimeRemaining)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, h.viewAttempt(a))
	case errors.Is(err, practice.ErrAttemptCompleted),
		errors.Is(err, practice.ErrSubmitInProgress),
		errors.Is(err, practice.ErrAttemptBusy),
		errors.Is(err, model.ErrNotFound),
		a.ID == "":
		h.fail(w, r, err)
	default:
		slog.Error("failed to save attempt", "attempt", a.ID, "error", err)
		respondJSON(w, http.StatusInternalServerError, saveFailedResponse{
			Error:   apiError{Code: "save_failed", Message: appI18n.T(r.Context(), "ErrSaving")},
			Attempt: h.viewAttempt(a),
		})
	}
}

type submitResponse struct {
	practice.SubmitResult
	Message string `json:"message"`
	Notice  string `json:"notice,omitempty"`
}

func (h *Handler) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	timer := prometheus.NewTimer(evaluationDuration.WithLabelValues("submit"))
	res, err := h.attempts.Submit(r.Context(), a.ID)
	if err != nil {
		submissions.WithLabelValues(string(a.Section), "rejected").Inc()
		h.fail(w, r, err)
		return
	}
	timer.ObserveDuration()
	submissions.WithLabelValues(string(a.Section), "completed").Inc()
	evaluations.WithLabelValues("submit", outcomeLabel(res.Degraded)).Inc()

	ctx := r.Context()
	resp := submitResponse{
		SubmitResult: res,
		Message: appI18n.Td(ctx, "SectionScored", map[string]any{
			"Section": string(res.Section.Section),
			"Score":   formatScore(res.Section.Score),
		}) + " · " + appI18n.Tp(ctx, "QuestionsCorrect", res.Summary.CorrectCount),
	}
	if res.Degraded {
		resp.Notice = appI18n.T(ctx, "EvaluationUnavailable")
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStartTimer(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	if err := h.attempts.StartCountdown(r.Context(), a.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewAttempt(a))
}

func (h *Handler) handleStopTimer(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	if remaining, running := h.attempts.Remaining(a.ID); running {
		h.attempts.StopCountdown(a.ID)
		saved, err := h.attempts.Save(r.Context(), a.ID, a.Answers, remaining)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		a = saved
	}
	respondJSON(w, http.StatusOK, h.viewAttempt(a))
}

func (h *Handler) handleCurrentAttempt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	section := model.SectionID(q.Get("section"))
	exerciseID, err := strconv.ParseInt(q.Get("exercise"), 10, 64)
	if !section.Valid() || err != nil {
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}

	user := model.UserFromContext(r.Context())
	key := model.AttemptKey{StudentID: user.ID, Section: section, ExerciseID: exerciseID}
	a, err := h.attempts.Current(r.Context(), key)
	if errors.Is(err, model.ErrNotFound) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":      model.AttemptNotStarted,
			"section":     section,
			"exercise_id": exerciseID,
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewAttempt(a))
}

func (h *Handler) handleRecentAttempts(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	attempts, err := h.attempts.Recent(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, h.viewAttempt(a))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleNewPractice(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusCreated, map[string]string{"practice_id": practice.NewPracticeID()})
}

type practiceView struct {
	PracticeID string                          `json:"practice_id"`
	Attempts   map[model.SectionID]attemptView `json:"attempts"`
	Composite  model.Composite                 `json:"composite"`
	Complete   bool                            `json:"complete"`
	MaxTotal   float64                         `json:"max_total"`
}

func (h *Handler) handleGetPractice(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	summary, err := h.attempts.Practice(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v := practiceView{
		PracticeID: summary.PracticeID,
		Attempts:   make(map[model.SectionID]attemptView, len(summary.Attempts)),
		Composite:  summary.Composite,
		Complete:   summary.Complete,
		MaxTotal:   scoring.MaxScore * float64(len(model.Sections)),
	}
	for sec, a := range summary.Attempts {
		v.Attempts[sec] = h.viewAttempt(a)
	}
	respondJSON(w, http.StatusOK, v)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	results, err := h.attempts.Results(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if results == nil {
		results = []model.PracticeResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
