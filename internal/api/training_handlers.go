package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/training"
)

type TrainingHandler struct {
	Trainer *training.Trainer
	Metrics *metrics.Collector
}

func NewTrainingHandler(trainer *training.Trainer, collector *metrics.Collector) *TrainingHandler {
	return &TrainingHandler{Trainer: trainer, Metrics: collector}
}

// POST /api/v1/training/train
func (h *TrainingHandler) Train(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "validation", "invalid JSON")
		return
	}

	mode, err := training.ParseMode(req.Mode)
	if err != nil {
		serviceError(w, err)
		return
	}

	result, err := h.Trainer.Train(r.Context(), mode)
	if err != nil {
		h.Metrics.TrainingRun(string(mode), err)
		serviceError(w, err)
		return
	}
	h.Metrics.TrainingRun(result.Implementation, nil)

	respondJSON(w, http.StatusOK, map[string]any{
		"trained_count":  result.TrainedCount,
		"implementation": result.Implementation,
	})
}
