package app

import (
	"context"
	"errors"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/diagnosis"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine/replay"
)

// ErrInvalidRequest marks problems with the request itself, as opposed to
// sessions that were refused or failed while running.
var ErrInvalidRequest = errors.New("invalid request")

type DiagnoseRequest struct {
	// Log is a JSON event log as accepted by replay.Decode.
	Log []byte
	// At is the final event of the call to debug.
	At         uint64
	Assertions []string
	DepthStep  uint64
	// Strategy is "contour" or "slot"; empty uses the service default.
	Strategy string
	// Render skips diagnosis and returns the first tree as DOT.
	Render bool
	// Output, when set with Render, names a file the DOT is written to
	// instead of being returned.
	Output string
}

type DiagnoseResult struct {
	SessionID string
	Verdicts  []diagnosis.Verdict
	Restarts  int
	Retries   int
	Stop      replay.Stop
	Tree      *aet.Snapshot
	DOT       string
}

type DiagnoseService interface {
	Diagnose(ctx context.Context, req DiagnoseRequest) (*DiagnoseResult, error)
}
