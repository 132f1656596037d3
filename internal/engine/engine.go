// Package engine describes the execution engine as seen by the declarative
// debugger back end: the events it reports and the control transfers it
// accepts.
package engine

import (
	"context"
	"fmt"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
)

// ProcLayout is the static layout metadata of the procedure owning a frame.
type ProcLayout struct {
	Module            string
	Name              string
	Arity             int
	Kind              aet.PredOrFunc
	CompilerGenerated bool
	// HasProcID is false when the layout carries no procedure identity.
	HasProcID bool
	// HasExecTrace is false for procedures compiled without execution tracing.
	HasExecTrace bool
	// HasDeclSlot is true when the frame reserves a slot for the debugger.
	HasDeclSlot bool
}

// Frame is the stack frame active at an event.
type Frame struct {
	Layout *ProcLayout
	// Args are the live head-variable bindings, available to CaptureAtom.
	Args []aet.Arg
}

// Event is one execution event.
type Event struct {
	Number uint64
	Seqno  uint64
	Depth  uint64
	Port   aet.Port
	Path   string
	Frame  Frame
}

func (e Event) String() string {
	name := "?"
	if e.Frame.Layout != nil {
		name = e.Frame.Layout.Name
	}
	return fmt.Sprintf("#%d seq=%d depth=%d %s %s %s", e.Number, e.Seqno, e.Depth, e.Port, name, e.Path)
}

// RetryTarget names the call to rewind: execution restarts just before the
// latest CALL event of Seqno that is not after Event.
type RetryTarget struct {
	Event uint64
	Seqno uint64
}

// JumpTarget is an opaque resume point returned by a successful retry.
type JumpTarget struct {
	Event uint64
	pos   int
}

func NewJumpTarget(event uint64, pos int) JumpTarget {
	return JumpTarget{Event: event, pos: pos}
}

func (j JumpTarget) Pos() int { return j.pos }

// RetryError carries the engine's diagnostic when a retry is refused.
type RetryError struct {
	Message string
}

func (e *RetryError) Error() string { return "retry failed: " + e.Message }

// StepOptions tells the engine to report every event until Until.
type StepOptions struct {
	Until uint64
}

// BreakpointOptions controls the goto used to land on a bug event.
type BreakpointOptions struct {
	Strict bool `json:"strict"`
	Quiet  bool `json:"quiet"`
}

// Interactive hands control back to the user at an event, optionally with
// a message to show first.
type Interactive struct {
	At      uint64
	Message string
}

// Engine is the external collaborator that produces events and supports
// replay. Calls are synchronous with respect to the event being processed;
// transfers take effect when the current event handler returns.
type Engine interface {
	Retry(ctx context.Context, target RetryTarget) (JumpTarget, error)
	Step(ctx context.Context, from JumpTarget, opts StepOptions)
	ResumeGoto(ctx context.Context, from JumpTarget, event uint64, opts BreakpointOptions)
	ResumeInteractive(ctx context.Context, in Interactive)
	CaptureAtom(frame Frame) (aet.Atom, error)
	CaptureException() any
}

// Handler consumes events. The back end's collector implements it.
type Handler interface {
	OnEvent(ctx context.Context, evt Event) error
}
