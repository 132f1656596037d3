package sessiondto

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/app"
	"github.com/awmpietro/golang-declarative-debugger/internal/collect"
	"github.com/awmpietro/golang-declarative-debugger/internal/diagnosis"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine/replay"
)

type DiagnoseRequest struct {
	Log        json.RawMessage `json:"log"`
	At         uint64          `json:"at"`
	Assertions []string        `json:"assertions,omitempty"`
	DepthStep  uint64          `json:"depth_step,omitempty"`
	Strategy   string          `json:"strategy,omitempty"`
	Render     bool            `json:"render,omitempty"`
}

func (r DiagnoseRequest) ToApp() app.DiagnoseRequest {
	return app.DiagnoseRequest{
		Log:        r.Log,
		At:         r.At,
		Assertions: r.Assertions,
		DepthStep:  r.DepthStep,
		Strategy:   r.Strategy,
		Render:     r.Render,
	}
}

type DiagnoseResponse struct {
	SessionID string              `json:"session_id"`
	Verdicts  []diagnosis.Verdict `json:"verdicts"`
	Restarts  int                 `json:"restarts"`
	Retries   int                 `json:"retries"`
	Stop      replay.Stop         `json:"stop"`
	Tree      *aet.Snapshot       `json:"tree,omitempty"`
	DOT       string              `json:"dot,omitempty"`
}

func FromResult(res *app.DiagnoseResult) DiagnoseResponse {
	verdicts := res.Verdicts
	if verdicts == nil {
		verdicts = []diagnosis.Verdict{}
	}
	return DiagnoseResponse{
		SessionID: res.SessionID,
		Verdicts:  verdicts,
		Restarts:  res.Restarts,
		Retries:   res.Retries,
		Stop:      res.Stop,
		Tree:      res.Tree,
		DOT:       res.DOT,
	}
}

// ErrorStatus maps a service error to an HTTP status and a short label.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, collect.ErrCannotStart):
		return http.StatusUnprocessableEntity, "cannot start"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timed out"
	default:
		return http.StatusInternalServerError, "diagnosis failed"
	}
}

func ErrorBody(err error) (int, map[string]any) {
	status, label := ErrorStatus(err)
	return status, map[string]any{"error": label, "details": err.Error()}
}
