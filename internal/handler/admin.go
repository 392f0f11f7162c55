package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/textchamp/textchamp/internal/importer"
	"github.com/textchamp/textchamp/internal/model"
)

const maxUploadBytes = 10 << 20

func (h *Handler) handleAdminListExercises(w http.ResponseWriter, r *http.Request) {
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
	if exercises == nil {
		exercises = []model.Exercise{}
	}
	respondJSON(w, http.StatusOK, exercises)
}

func (h *Handler) handleAdminGetExercise(w http.ResponseWriter, r *http.Request) {
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
	respondJSON(w, http.StatusOK, e)
}

// decodeExercise reads an exercise in content-file form and normalizes it.
func (h *Handler) decodeExercise(w http.ResponseWriter, r *http.Request) (model.Exercise, bool) {
	var in model.ExerciseImport
	if err := h.validate.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return model.Exercise{}, false
	}
	e := in.Normalize()
	if err := e.Validate(); err != nil {
		h.fail(w, r, err)
		return model.Exercise{}, false
	}
	return e, true
}

func (h *Handler) handleAdminCreateExercise(w http.ResponseWriter, r *http.Request) {
	e, ok := h.decodeExercise(w, r)
	if !ok {
		return
	}
	id, err := h.store.CreateExercise(r.Context(), e)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("created exercise", "id", id, "kind", e.Kind, "title", e.Title)
	created, err := h.store.GetExercise(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleAdminUpdateExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}
	e, ok := h.decodeExercise(w, r)
	if !ok {
		return
	}
	e.ID = id
	if err := h.store.UpdateExercise(r.Context(), e); err != nil {
		h.fail(w, r, err)
		return
	}
	updated, err := h.store.GetExercise(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleAdminDeleteExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}
	if err := h.store.DeleteExercise(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("deleted exercise", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminUploadExercises imports a JSON or YAML content file sent as the
// multipart field "file". A file already imported under the same name is
// rejected.
func (h *Handler) handleAdminUploadExercises(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	outcome, n, err := importer.ImportData(r.Context(), h.store, header.Filename, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	switch outcome {
	case importer.Unchanged:
		respondError(w, r, http.StatusConflict, "duplicate_upload", "UploadDuplicate")
	case importer.Changed:
		respondError(w, r, http.StatusConflict, "changed_upload", "UploadChanged")
	default:
		slog.Info("uploaded exercises via admin", "filename", header.Filename, "count", n)
		respondJSON(w, http.StatusCreated, map[string]int{"imported": n})
	}
}

func (h *Handler) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	respondJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,min=3,max=32,alphanum"`
	DisplayName string         `json:"display_name" validate:"max=64"`
	Password    string         `json:"password" validate:"required,min=8,max=72"`
	Role        model.UserRole `json:"role" validate:"required,oneof=student admin"`
}

func (h *Handler) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := h.validate.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, ok := h.createUser(w, r, req.Username, req.DisplayName, req.Password, req.Role)
	if !ok {
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleAdminToggleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest")
		return
	}
	if err := h.store.ToggleUserActive(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) handleAdminExportResults(w http.ResponseWriter, r *http.Request) {
	log, err := h.attempts.Results(r.Context(), 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	results, err := h.store.ExportResults(r.Context(), log)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, model.ResultsExport{
		ExportedAt: time.Now().UTC(),
		Results:    results,
	})
}
