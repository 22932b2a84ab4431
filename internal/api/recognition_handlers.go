package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/technosupport/ts-attend/internal/recognition"
)

type RecognitionHandler struct {
	Controller *recognition.Controller
	Images     *recognition.ImageService
}

func NewRecognitionHandler(controller *recognition.Controller, images *recognition.ImageService) *RecognitionHandler {
	return &RecognitionHandler{Controller: controller, Images: images}
}

// POST /api/v1/recognition/start
func (h *RecognitionHandler) Start(w http.ResponseWriter, r *http.Request) {
	err := h.Controller.Start()
	if err == nil {
		respondJSON(w, http.StatusOK, h.Controller.Status())
		return
	}
	if errors.Is(err, recognition.ErrStartTimeout) {
		// Still initializing; the caller should poll status.
		respondJSON(w, http.StatusAccepted, h.Controller.Status())
		return
	}
	serviceError(w, err)
}

// POST /api/v1/recognition/stop
func (h *RecognitionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	stopped, err := h.Controller.Stop()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stop_timeout", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

// GET /api/v1/recognition/status
func (h *RecognitionHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Controller.Status())
}

// POST /api/v1/recognition/image
func (h *RecognitionHandler) Image(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "expected multipart form with an image")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation", "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil || len(data) == 0 {
		respondError(w, http.StatusBadRequest, "validation", "could not read image upload")
		return
	}
	if len(data) > maxUploadBytes {
		respondError(w, http.StatusBadRequest, "validation", "image upload too large")
		return
	}

	matches, err := h.Images.Identify(r.Context(), data)
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"faces": matches, "count": len(matches)})
}
