package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/technosupport/ts-attend/internal/recognition"
	"github.com/technosupport/ts-attend/internal/students"
	"github.com/technosupport/ts-attend/internal/training"
	"github.com/technosupport/ts-attend/internal/vision"
)

// Helpers
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}

// serviceError maps the domain sentinels onto HTTP statuses. Anything the
// switch does not name is an internal error.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, students.ErrNameRequired),
		errors.Is(err, students.ErrDepartmentRequired),
		errors.Is(err, students.ErrImageRequired),
		errors.Is(err, training.ErrUnknownMode),
		errors.Is(err, vision.ErrImageDecode):
		respondError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, students.ErrNameTaken):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, students.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, training.ErrNoStudents),
		errors.Is(err, training.ErrExternalUnavailable):
		respondError(w, http.StatusPreconditionFailed, "precondition", err.Error())
	case errors.Is(err, training.ErrNoFaces):
		respondError(w, http.StatusInternalServerError, "training", err.Error())
	case errors.Is(err, recognition.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, "already_running", err.Error())
	case errors.Is(err, recognition.ErrModelNotFound):
		respondError(w, http.StatusNotFound, "model_not_found", err.Error())
	case errors.Is(err, vision.ErrCameraOpen):
		respondError(w, http.StatusServiceUnavailable, "camera_unavailable", err.Error())
	case errors.Is(err, vision.ErrNoFaceInView):
		respondError(w, http.StatusBadRequest, "no_face", err.Error())
	case errors.Is(err, vision.ErrCascadeLoad), errors.Is(err, vision.ErrModelLoad):
		respondError(w, http.StatusInternalServerError, "recognizer", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
