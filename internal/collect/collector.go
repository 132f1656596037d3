// Package collect builds annotated execution trees from trace events and
// drives the collection sessions that feed a diagnosis front end.
package collect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine"
)

type State int

const (
	Idle State = iota
	Collecting
	Terminating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Terminating:
		return "terminating"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TreeHandler receives the finished tree when the bound event is reached.
// It runs inside OnEvent and may issue engine transfers.
type TreeHandler interface {
	HandleTree(ctx context.Context, tree aet.Tree) error
}

// Collector consumes events for one collection window and appends a node
// per accepted event. It is not safe for concurrent use; the engine
// delivers events one at a time.
type Collector struct {
	engine   engine.Engine
	handler  TreeHandler
	logger   *zap.Logger
	observer EventObserver
	strategy MatchStrategy

	version aet.Version
	store   *aet.Store
	builder *builder

	state      State
	cursor     aet.NodeID
	maxDepth   uint64
	lastEvent  uint64
	startSeqno uint64
	inside     bool
}

func NewCollector(eng engine.Engine, handler TreeHandler, opts ...Option) *Collector {
	o := buildOptions(opts)
	return &Collector{
		engine:   eng,
		handler:  handler,
		logger:   o.logger,
		observer: o.observer,
		strategy: o.strategy,
	}
}

// Begin discards any previous tree and starts a collection that ends at
// lastEvent, keeps events of the call seqno and everything nested in it,
// and materializes nothing deeper than maxDepth.
func (c *Collector) Begin(lastEvent, startSeqno, maxDepth uint64) {
	c.store = aet.NewStore(&c.version)
	c.builder = newBuilder(c.store, c.engine, c.strategy, c.logger)
	c.cursor = aet.NoNode
	c.lastEvent = lastEvent
	c.startSeqno = startSeqno
	c.maxDepth = maxDepth
	c.inside = false
	c.state = Collecting
	c.logger.Debug("collection started",
		zap.Uint64("last_event", lastEvent),
		zap.Uint64("start_seqno", startSeqno),
		zap.Uint64("max_depth", maxDepth),
	)
}

func (c *Collector) State() State { return c.state }

func (c *Collector) Cursor() aet.NodeID { return c.cursor }

func (c *Collector) MaxDepth() uint64 { return c.maxDepth }

func (c *Collector) LastEvent() uint64 { return c.lastEvent }

func (c *Collector) StartSeqno() uint64 { return c.startSeqno }

// Version is the current graph generation, shared by every tree this
// collector has built.
func (c *Collector) Version() uint64 { return c.version.Load() }

// Tree is a view of the tree collected so far.
func (c *Collector) Tree() aet.Tree {
	if c.store == nil {
		return aet.Tree{}
	}
	return aet.NewTree(c.store, c.cursor)
}

// Stop abandons the current collection.
func (c *Collector) Stop() { c.state = Idle }

func (c *Collector) OnEvent(ctx context.Context, evt engine.Event) error {
	if c.state != Collecting {
		return fatalf(ErrNotCollecting, "event %d arrived while %s", evt.Number, c.state)
	}

	if evt.Number > c.lastEvent {
		c.state = Idle
		c.logger.Warn("missed final event", zap.Uint64("event", evt.Number), zap.Uint64("bound", c.lastEvent))
		c.engine.ResumeInteractive(ctx, engine.Interactive{
			At:      evt.Number,
			Message: "declarative debugging missed the final event",
		})
		return &MissedBoundEventError{Event: evt.Number, Bound: c.lastEvent}
	}

	l := evt.Frame.Layout
	if l == nil || !l.HasExecTrace {
		c.state = Idle
		return fatalf(ErrNoTraceMetadata, "event %d", evt.Number)
	}

	if evt.Depth > c.maxDepth {
		c.observe(evt, DroppedDepth, aet.NoNode)
		return nil
	}

	// Outside the window's call only its own events count; they re-enter it.
	// A terminal event of that call is still built before leaving.
	if !c.inside {
		if evt.Seqno != c.startSeqno {
			c.observe(evt, DroppedWindow, aet.NoNode)
			return nil
		}
		c.inside = true
	} else if evt.Seqno == c.startSeqno && evt.Port.IsFinal() {
		c.inside = false
	}

	// A dropped bound event is not handed over; the next event reports it
	// as missed.
	if l.CompilerGenerated {
		c.observe(evt, DroppedGenerated, aet.NoNode)
		return nil
	}
	if c.strategy == MatchSlot && !l.HasDeclSlot {
		c.observe(evt, DroppedNoSlot, aet.NoNode)
		return nil
	}

	id, err := c.builder.build(evt, c.cursor, evt.Depth == c.maxDepth)
	if err != nil {
		c.state = Idle
		c.logger.Error("tree construction failed", zap.Uint64("event", evt.Number), zap.Error(err))
		return err
	}
	c.cursor = id
	c.observe(evt, Accepted, id)

	return c.checkBound(ctx, evt)
}

func (c *Collector) checkBound(ctx context.Context, evt engine.Event) error {
	if evt.Number != c.lastEvent {
		return nil
	}
	c.state = Terminating
	if c.handler == nil {
		c.state = Idle
		return fatalf(ErrUnexpectedMode, "no handler for the finished tree")
	}
	err := c.handler.HandleTree(ctx, aet.NewTree(c.store, c.cursor))
	if c.state == Terminating {
		c.state = Idle
	}
	return err
}

func (c *Collector) observe(evt engine.Event, outcome Outcome, id aet.NodeID) {
	if c.observer != nil {
		c.observer.ObserveEvent(evt, outcome, id)
	}
}
