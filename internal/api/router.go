package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/technosupport/ts-attend/internal/middleware"
)

// Deps gathers the handlers the router mounts.
type Deps struct {
	Students    *StudentHandler
	Training    *TrainingHandler
	Recognition *RecognitionHandler
	Attendance  *AttendanceHandler
	Metrics     http.Handler
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/students", d.Students.Register)
		r.Get("/students", d.Students.List)
		r.Delete("/students/{id}", d.Students.Delete)

		r.Post("/training/train", d.Training.Train)

		r.Route("/recognition", func(r chi.Router) {
			r.Post("/start", d.Recognition.Start)
			r.Post("/stop", d.Recognition.Stop)
			r.Get("/status", d.Recognition.Status)
			r.Post("/image", d.Recognition.Image)
		})

		r.Get("/attendance/file", d.Attendance.FileInfo)
	})

	return r
}
