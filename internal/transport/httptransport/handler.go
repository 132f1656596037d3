package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/awmpietro/golang-declarative-debugger/internal/app"
	"github.com/awmpietro/golang-declarative-debugger/internal/transport/sessiondto"
)

const maxBodyBytes = 32 << 20

type Handler struct {
	svc     app.DiagnoseService
	maxBody int64
}

func NewHandler(svc app.DiagnoseService) *Handler {
	return &Handler{svc: svc, maxBody: maxBodyBytes}
}

func (h *Handler) Diagnose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in sessiondto.DiagnoseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request too large", "limit": tooLarge.Limit})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json", "details": err.Error()})
		return
	}

	res, err := h.svc.Diagnose(r.Context(), in.ToApp())
	if err != nil {
		status, body := sessiondto.ErrorBody(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, sessiondto.FromResult(res))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
