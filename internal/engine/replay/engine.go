// Package replay implements the engine contract over a recorded event log.
// Re-execution after a retry is the same walk over the same records, so
// event numbers and sequence numbers repeat exactly.
package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine"
)

type mode int

const (
	modeStopped mode = iota
	modeStepping
	modeGoto
	modeInteractive
)

// Stop describes where the engine handed control back to the user.
type Stop struct {
	At         uint64                    `json:"at"`
	Message    string                    `json:"message,omitempty"`
	Breakpoint *engine.BreakpointOptions `json:"breakpoint,omitempty"`
	EndOfLog   bool                      `json:"end_of_log,omitempty"`
}

type Engine struct {
	log    *Log
	logger *zap.Logger

	pos     int
	cur     int
	jump    int
	mode    mode
	gotoEvt uint64
	gotoOpt engine.BreakpointOptions
	stop    Stop
	retries int
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(log *Log, opts ...Option) *Engine {
	e := &Engine{log: log, logger: zap.NewNop(), cur: -1, jump: -1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Seek positions the engine at the event with the given number, as if the
// user had stopped there, and returns that event.
func (e *Engine) Seek(number uint64) (engine.Event, error) {
	idx, ok := e.log.Find(number)
	if !ok {
		return engine.Event{}, fmt.Errorf("event %d is not in the log", number)
	}
	e.cur = idx
	e.pos = idx + 1
	e.mode = modeStopped
	return e.log.events[idx], nil
}

func (e *Engine) Retries() int { return e.retries }

func (e *Engine) Retry(ctx context.Context, target engine.RetryTarget) (engine.JumpTarget, error) {
	e.retries++
	for i := len(e.log.events) - 1; i >= 0; i-- {
		evt := e.log.events[i]
		if evt.Number > target.Event || evt.Port != aet.PortCall || evt.Seqno != target.Seqno {
			continue
		}
		if e.log.unretryable[target.Seqno] {
			return engine.JumpTarget{}, &engine.RetryError{
				Message: fmt.Sprintf("cannot retry call %d: the values it needs are no longer available", target.Seqno),
			}
		}
		e.logger.Debug("retry", zap.Uint64("seqno", target.Seqno), zap.Uint64("to_event", evt.Number))
		return engine.NewJumpTarget(evt.Number, i), nil
	}
	return engine.JumpTarget{}, &engine.RetryError{
		Message: fmt.Sprintf("no call event for sequence number %d at or before event %d", target.Seqno, target.Event),
	}
}

func (e *Engine) Step(ctx context.Context, from engine.JumpTarget, opts engine.StepOptions) {
	e.mode = modeStepping
	e.jump = from.Pos()
}

func (e *Engine) ResumeGoto(ctx context.Context, from engine.JumpTarget, event uint64, opts engine.BreakpointOptions) {
	e.mode = modeGoto
	e.jump = from.Pos()
	e.gotoEvt = event
	e.gotoOpt = opts
}

func (e *Engine) ResumeInteractive(ctx context.Context, in engine.Interactive) {
	e.mode = modeInteractive
	e.jump = -1
	e.stop = Stop{At: in.At, Message: in.Message}
}

func (e *Engine) CaptureAtom(frame engine.Frame) (aet.Atom, error) {
	return engine.AtomFromFrame(frame)
}

func (e *Engine) CaptureException() any {
	if e.cur < 0 || e.cur >= len(e.log.exceptions) {
		return nil
	}
	return e.log.exceptions[e.cur]
}

// Run feeds events to h until the engine is handed back to the user or the
// log is exhausted. An error from h ends the run and is returned as is.
func (e *Engine) Run(ctx context.Context, h engine.Handler) (Stop, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Stop{}, err
		}
		if e.jump >= 0 {
			e.pos = e.jump
			e.jump = -1
		}

		switch e.mode {
		case modeInteractive:
			return e.stop, nil
		case modeStopped:
			at := uint64(0)
			if e.cur >= 0 {
				at = e.log.events[e.cur].Number
			}
			return Stop{At: at}, nil
		}

		if e.pos >= len(e.log.events) {
			last := e.log.events[len(e.log.events)-1].Number
			e.mode = modeInteractive
			e.stop = Stop{At: last, EndOfLog: true}
			return e.stop, nil
		}

		e.cur = e.pos
		e.pos++
		evt := e.log.events[e.cur]

		if e.mode == modeGoto {
			if evt.Number == e.gotoEvt {
				opts := e.gotoOpt
				e.mode = modeInteractive
				e.stop = Stop{At: evt.Number, Breakpoint: &opts}
			}
			continue
		}

		if err := h.OnEvent(ctx, evt); err != nil {
			if e.mode == modeInteractive {
				return e.stop, err
			}
			return Stop{At: evt.Number}, err
		}
	}
}
