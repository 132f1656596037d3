package collect

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/diagnosis"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine"
)

// Controller runs declarative debugging sessions: it anchors a collection
// at a user event, passes finished trees to the front end (or to a sink in
// test mode) and turns each verdict into an engine transfer.
type Controller struct {
	engine    engine.Engine
	collector *Collector
	frontEnd  diagnosis.FrontEnd
	sink      diagnosis.Sink
	session   SessionObserver
	logger    *zap.Logger
	strategy  MatchStrategy
	depthStep uint64

	origin   uint64
	history  []diagnosis.Verdict
	restarts int
}

func NewController(eng engine.Engine, opts ...Option) *Controller {
	o := buildOptions(opts)
	c := &Controller{
		engine:    eng,
		frontEnd:  o.frontEnd,
		sink:      o.sink,
		session:   o.session,
		logger:    o.logger,
		strategy:  o.strategy,
		depthStep: o.depthStep,
	}
	c.collector = NewCollector(eng, c, opts...)
	return c
}

func (c *Controller) Collector() *Collector { return c.collector }

// TestMode reports whether finished trees go to a sink instead of a front end.
func (c *Controller) TestMode() bool { return c.sink != nil }

// History lists the verdicts of the current session in order.
func (c *Controller) History() []diagnosis.Verdict {
	out := make([]diagnosis.Verdict, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Controller) Restarts() int { return c.restarts }

// Origin is the event the session was started from.
func (c *Controller) Origin() uint64 { return c.origin }

// OnEvent forwards engine events to the collector.
func (c *Controller) OnEvent(ctx context.Context, evt engine.Event) error {
	return c.collector.OnEvent(ctx, evt)
}

// Start begins a session at evt, which must be the final event of the call
// to be debugged. A refused start leaves the engine untouched.
func (c *Controller) Start(ctx context.Context, evt engine.Event) error {
	l := evt.Frame.Layout
	switch {
	case l == nil || !l.HasExecTrace:
		return fmt.Errorf("%w: this procedure was not compiled with execution tracing enabled", ErrCannotStart)
	case l.CompilerGenerated:
		return fmt.Errorf("%w: compiler generated procedures cannot be debugged", ErrCannotStart)
	case c.strategy == MatchSlot && !l.HasDeclSlot:
		return fmt.Errorf("%w: this procedure was not compiled with a reserved debugger slot", ErrCannotStart)
	}

	if c.sink != nil {
		if err := c.sink.Open(); err != nil {
			return fmt.Errorf("%w: %w", ErrCannotStart, err)
		}
	} else if c.frontEnd == nil {
		return fmt.Errorf("%w: no diagnosis front end configured", ErrCannotStart)
	}

	c.origin = evt.Number
	c.history = nil
	c.restarts = 0

	c.logger.Info("declarative debugging started",
		zap.Uint64("event", evt.Number),
		zap.Uint64("seqno", evt.Seqno),
		zap.Uint64("depth", evt.Depth),
		zap.Stringer("strategy", c.strategy),
	)

	target := engine.RetryTarget{Event: evt.Number, Seqno: evt.Seqno}
	err := c.startCollection(ctx, target, evt.Number, evt.Seqno, evt.Depth+c.depthStep)
	if err != nil {
		c.closeSink()
	}
	var rerr *engine.RetryError
	if errors.As(err, &rerr) {
		c.observeRetryFailure()
		c.logger.Warn("cannot start collecting events", zap.String("reason", rerr.Message))
		return fmt.Errorf("%w: failed to start collecting events: %s", ErrCannotStart, rerr.Message)
	}
	return err
}

// Close releases the test-mode sink. Sessions that end before the bound
// event is reached must be closed by the caller.
func (c *Controller) Close() error {
	if c.sink == nil {
		return nil
	}
	return c.sink.Close()
}

func (c *Controller) closeSink() {
	if err := c.Close(); err != nil {
		c.logger.Warn("closing test output", zap.Error(err))
	}
}

// startCollection rewinds the engine to the call named by retry and sets
// the collector up for a window ending at lastEvent.
func (c *Controller) startCollection(ctx context.Context, retry engine.RetryTarget, lastEvent, seqno, maxDepth uint64) error {
	jump, err := c.engine.Retry(ctx, retry)
	if err != nil {
		return err
	}
	c.collector.Begin(lastEvent, seqno, maxDepth)
	c.engine.Step(ctx, jump, engine.StepOptions{Until: lastEvent})
	return nil
}

// HandleTree is called by the collector when its bound event is reached.
func (c *Controller) HandleTree(ctx context.Context, tree aet.Tree) error {
	if c.session != nil {
		c.session.ObserveTree(tree.Len())
	}

	if c.sink != nil {
		err := c.sink.Save(tree)
		c.engine.ResumeInteractive(ctx, engine.Interactive{At: c.origin})
		if err != nil {
			return fmt.Errorf("saving tree: %w", err)
		}
		return nil
	}

	if c.frontEnd == nil {
		return fatalf(ErrUnexpectedMode, "tree finished with no front end and no sink")
	}

	verdict, err := c.frontEnd.Diagnose(ctx, tree, c.collector.Version())
	if err != nil {
		c.engine.ResumeInteractive(ctx, engine.Interactive{At: c.origin, Message: "diagnosis failed: " + err.Error()})
		return fmt.Errorf("diagnosis: %w", err)
	}
	c.history = append(c.history, verdict)
	if c.session != nil {
		c.session.ObserveVerdict(verdict.Kind.String())
	}
	c.logger.Info("verdict", zap.Stringer("verdict", verdict), zap.Int("nodes", tree.Len()))

	bound := c.collector.LastEvent()
	current := engine.RetryTarget{Event: bound, Seqno: c.collector.StartSeqno()}

	switch verdict.Kind {
	case diagnosis.BugFound:
		if verdict.Event == 0 || verdict.Event > bound {
			return fatalf(ErrFrontEndContract, "bug event %d is outside the collected window ending at %d", verdict.Event, bound)
		}
		jump, err := c.engine.Retry(ctx, current)
		if err != nil {
			return c.abort(ctx, err)
		}
		c.engine.ResumeGoto(ctx, jump, verdict.Event, engine.BreakpointOptions{Strict: true, Quiet: true})
		return nil

	case diagnosis.RequireSubtree:
		if verdict.Event == 0 || verdict.Event > bound {
			return fatalf(ErrFrontEndContract, "subtree final event %d is outside the collected window ending at %d", verdict.Event, bound)
		}
		c.restarts++
		if c.session != nil {
			c.session.ObserveRestart()
		}
		depth := c.collector.MaxDepth() + c.depthStep
		c.logger.Debug("restarting collection",
			zap.Uint64("final_event", verdict.Event),
			zap.Uint64("seqno", verdict.Seqno),
			zap.Uint64("max_depth", depth),
		)
		if err := c.startCollection(ctx, current, verdict.Event, verdict.Seqno, depth); err != nil {
			return c.abort(ctx, err)
		}
		return nil

	case diagnosis.NoBug:
		c.engine.ResumeInteractive(ctx, engine.Interactive{At: c.origin})
		return nil
	}

	return fatalf(ErrFrontEndContract, "unknown verdict %s", verdict.Kind)
}

// abort turns a refused retry into a message and hands the engine back at
// the origin event. Other errors are returned unchanged.
func (c *Controller) abort(ctx context.Context, err error) error {
	var rerr *engine.RetryError
	if !errors.As(err, &rerr) {
		return err
	}
	c.observeRetryFailure()
	c.logger.Warn("diagnosis aborted", zap.String("reason", rerr.Message), zap.Uint64("origin", c.origin))
	c.collector.Stop()
	c.engine.ResumeInteractive(ctx, engine.Interactive{
		At:      c.origin,
		Message: "diagnosis aborted:\n" + rerr.Message,
	})
	return nil
}

func (c *Controller) observeRetryFailure() {
	if c.session != nil {
		c.session.ObserveRetryFailure()
	}
}
