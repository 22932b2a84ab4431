package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/technosupport/ts-attend/internal/students"
)

// maxUploadBytes caps a registration image upload.
const maxUploadBytes = 10 << 20

type StudentHandler struct {
	Service *students.Service
}

func NewStudentHandler(svc *students.Service) *StudentHandler {
	return &StudentHandler{Service: svc}
}

// POST /api/v1/students
func (h *StudentHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "validation", "expected multipart form with name, department and image")
		return
	}

	name := r.FormValue("name")
	department := r.FormValue("department")

	var image []byte
	var mimeType string
	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()
		image, err = io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation", "could not read image upload")
			return
		}
		if len(image) > maxUploadBytes {
			respondError(w, http.StatusBadRequest, "validation", "image upload too large")
			return
		}
		mimeType = header.Header.Get("Content-Type")
	}

	student, err := h.Service.Register(r.Context(), name, department, image, mimeType)
	if err != nil {
		serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, student)
}

// GET /api/v1/students
func (h *StudentHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.List(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"students": list, "count": len(list)})
}

// DELETE /api/v1/students/{id}
func (h *StudentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation", "invalid student id")
		return
	}

	if err := h.Service.Delete(r.Context(), id); err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
