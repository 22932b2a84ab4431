package api

import (
	"net/http"
	"os"

	"github.com/technosupport/ts-attend/internal/attendance"
)

type AttendanceHandler struct {
	Ledger *attendance.Ledger
}

func NewAttendanceHandler(ledger *attendance.Ledger) *AttendanceHandler {
	return &AttendanceHandler{Ledger: ledger}
}

// GET /api/v1/attendance/file
func (h *AttendanceHandler) FileInfo(w http.ResponseWriter, r *http.Request) {
	path := h.Ledger.Path()

	info, err := os.Stat(path)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"path":   path,
			"exists": false,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"path":     path,
		"exists":   true,
		"size":     info.Size(),
		"modified": info.ModTime(),
	})
}
