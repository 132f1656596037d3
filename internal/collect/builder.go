package collect

import (
	"errors"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine"
)

// builder turns one accepted event into one node appended after the cursor.
type builder struct {
	store    *aet.Store
	engine   engine.Engine
	strategy MatchStrategy
	slots    map[uint64]aet.NodeID
	logger   *zap.Logger
}

func newBuilder(store *aet.Store, eng engine.Engine, strategy MatchStrategy, logger *zap.Logger) *builder {
	return &builder{
		store:    store,
		engine:   eng,
		strategy: strategy,
		slots:    map[uint64]aet.NodeID{},
		logger:   logger,
	}
}

// build dispatches on the event port. atDepthLimit is only used for calls.
func (b *builder) build(evt engine.Event, cursor aet.NodeID, atDepthLimit bool) (aet.NodeID, error) {
	var (
		id  aet.NodeID
		err error
	)

	switch evt.Port {
	case aet.PortCall:
		id, err = b.call(evt, cursor, atDepthLimit)
	case aet.PortExit:
		id, err = b.exit(evt, cursor)
	case aet.PortRedo:
		id, err = b.redo(evt, cursor)
	case aet.PortFail:
		id, err = b.fail(evt, cursor)
	case aet.PortException:
		id, err = b.exception(evt, cursor)
	case aet.PortCond:
		id, err = b.store.AddBranch(aet.KindCond, cursor, evt.Path)
	case aet.PortThen:
		id, err = b.resolve(aet.KindThen, aet.KindCond, evt, cursor)
	case aet.PortElse:
		id, err = b.resolve(aet.KindElse, aet.KindCond, evt, cursor)
	case aet.PortNegEnter:
		id, err = b.store.AddBranch(aet.KindNegEnter, cursor, evt.Path)
	case aet.PortNegSuccess:
		id, err = b.resolve(aet.KindNegSuccess, aet.KindNegEnter, evt, cursor)
	case aet.PortNegFailure:
		id, err = b.resolve(aet.KindNegFailure, aet.KindNegEnter, evt, cursor)
	case aet.PortSwitch:
		id, err = b.store.AddBranch(aet.KindSwitch, cursor, evt.Path)
	case aet.PortDisj:
		id, err = b.disj(evt, cursor)
	case aet.PortPragmaFirst, aet.PortPragmaLater:
		return aet.NoNode, fatalf(ErrUnsupportedPort, "event %d at %s", evt.Number, evt.Port)
	default:
		return aet.NoNode, fatalf(ErrInvariant, "event %d has unknown port %d", evt.Number, int(evt.Port))
	}
	if err != nil {
		return aet.NoNode, asFatal(err)
	}

	b.logger.Debug("ALLOC",
		zap.Int("node", int(id)),
		zap.Stringer("port", evt.Port),
		zap.Uint64("event", evt.Number),
	)
	return id, nil
}

func (b *builder) call(evt engine.Event, cursor aet.NodeID, atDepthLimit bool) (aet.NodeID, error) {
	atom, err := b.engine.CaptureAtom(evt.Frame)
	if err != nil {
		return aet.NoNode, err
	}
	id := b.store.AddCall(cursor, atom, evt.Seqno, evt.Number, atDepthLimit)
	if b.strategy == MatchSlot {
		b.slots[evt.Seqno] = id
	}
	return id, nil
}

func (b *builder) exit(evt engine.Event, cursor aet.NodeID) (aet.NodeID, error) {
	atom, err := b.engine.CaptureAtom(evt.Frame)
	if err != nil {
		return aet.NoNode, err
	}
	call, err := b.matchCall(evt, cursor)
	if err != nil {
		return aet.NoNode, err
	}
	return b.store.AddInterface(aet.KindExit, cursor, call, &atom, nil, evt.Number)
}

func (b *builder) exception(evt engine.Event, cursor aet.NodeID) (aet.NodeID, error) {
	call, err := b.matchCall(evt, cursor)
	if err != nil {
		return aet.NoNode, err
	}
	return b.store.AddInterface(aet.KindException, cursor, call, nil, b.engine.CaptureException(), evt.Number)
}

func (b *builder) fail(evt engine.Event, cursor aet.NodeID) (aet.NodeID, error) {
	var call aet.NodeID
	if n, ok := b.store.Node(cursor); ok && n.Kind == aet.KindCall && b.strategy == MatchContour {
		call = cursor
		b.match(evt, call)
	} else {
		var err error
		if call, err = b.failedCall(evt, cursor); err != nil {
			return aet.NoNode, err
		}
	}
	if err := b.checkSeqno(evt, call); err != nil {
		return aet.NoNode, err
	}
	return b.store.AddInterface(aet.KindFail, cursor, call, nil, nil, evt.Number)
}

func (b *builder) failedCall(evt engine.Event, cursor aet.NodeID) (aet.NodeID, error) {
	if b.strategy == MatchSlot {
		return b.slot(evt)
	}
	start, err := b.findPrev(cursor)
	if err != nil {
		return aet.NoNode, err
	}
	return b.search(evt, start, func(n aet.Node) bool { return n.Kind == aet.KindCall })
}

func (b *builder) redo(evt engine.Event, cursor aet.NodeID) (aet.NodeID, error) {
	var call aet.NodeID
	if b.strategy == MatchSlot {
		var err error
		if call, err = b.slot(evt); err != nil {
			return aet.NoNode, err
		}
	} else {
		start, err := b.findPrev(cursor)
		if err != nil {
			return aet.NoNode, err
		}
		exit, err := b.search(evt, start, func(n aet.Node) bool {
			return n.Kind == aet.KindExit && n.Seqno == evt.Seqno
		})
		if err != nil {
			return aet.NoNode, err
		}
		n, _ := b.store.Node(exit)
		call = n.Call
	}
	if err := b.checkSeqno(evt, call); err != nil {
		return aet.NoNode, err
	}
	return b.store.AddInterface(aet.KindRedo, cursor, call, nil, nil, evt.Number)
}

// resolve attaches a Then/Else/NegSuccess/NegFailure node to the nearest
// unresolved construct of the given kind on the contour whose goal path
// matches the event's.
func (b *builder) resolve(kind, target aet.Kind, evt engine.Event, cursor aet.NodeID) (aet.NodeID, error) {
	ref, err := b.search(evt, cursor, func(n aet.Node) bool {
		return n.Kind == target && aet.SameConstruct(n.Path, evt.Path)
	})
	if err != nil {
		return aet.NoNode, err
	}
	return b.store.AddResolution(kind, cursor, ref)
}

func (b *builder) disj(evt engine.Event, cursor aet.NodeID) (aet.NodeID, error) {
	if aet.IsFirstDisjunct(evt.Path) {
		return b.store.AddBranch(aet.KindFirstDisj, cursor, evt.Path)
	}

	start, err := b.findPrev(cursor)
	if err != nil {
		return aet.NoNode, err
	}
	prev, err := b.search(evt, start, func(n aet.Node) bool {
		return (n.Kind == aet.KindFirstDisj || n.Kind == aet.KindLaterDisj) && aet.SameConstruct(n.Path, evt.Path)
	})
	if err != nil {
		return aet.NoNode, err
	}
	n, _ := b.store.Node(prev)
	first := prev
	if n.Kind == aet.KindLaterDisj {
		first = n.Ref
	}
	b.store.Version().Bump()
	return b.store.AddLaterDisj(cursor, evt.Path, first)
}

// matchCall finds the Call node an Exit or Exception event completes.
func (b *builder) matchCall(evt engine.Event, cursor aet.NodeID) (aet.NodeID, error) {
	var (
		call aet.NodeID
		err  error
	)
	if b.strategy == MatchSlot {
		call, err = b.slot(evt)
	} else {
		call, err = b.search(evt, cursor, func(n aet.Node) bool { return n.Kind == aet.KindCall })
	}
	if err != nil {
		return aet.NoNode, err
	}
	if err := b.checkSeqno(evt, call); err != nil {
		return aet.NoNode, err
	}
	return call, nil
}

// search steps left along the contour from start, start included, until
// match holds.
func (b *builder) search(evt engine.Event, start aet.NodeID, match func(aet.Node) bool) (aet.NodeID, error) {
	cur := start
	for {
		if n, ok := b.store.Node(cur); ok && match(n) {
			b.match(evt, cur)
			return cur, nil
		}
		next, err := b.store.StepLeftInContour(cur)
		if err != nil {
			return aet.NoNode, err
		}
		b.logger.Debug("STEP", zap.Int("from", int(cur)), zap.Int("to", int(next)))
		cur = next
	}
}

func (b *builder) findPrev(id aet.NodeID) (aet.NodeID, error) {
	prev, err := b.store.FindPrevContour(id)
	if err != nil {
		return aet.NoNode, err
	}
	b.logger.Debug("FIND", zap.Int("from", int(id)), zap.Int("to", int(prev)))
	return prev, nil
}

func (b *builder) slot(evt engine.Event) (aet.NodeID, error) {
	id, ok := b.slots[evt.Seqno]
	if !ok {
		return aet.NoNode, fatalf(ErrInvariant, "event %d: no call recorded for sequence number %d", evt.Number, evt.Seqno)
	}
	b.match(evt, id)
	return id, nil
}

func (b *builder) match(evt engine.Event, id aet.NodeID) {
	b.logger.Debug("MATCH", zap.Uint64("event", evt.Number), zap.Int("node", int(id)))
}

// checkSeqno holds the engine to its ordering guarantee: the call found for
// an interface event is the call the event belongs to.
func (b *builder) checkSeqno(evt engine.Event, call aet.NodeID) error {
	n, ok := b.store.Node(call)
	if !ok || n.Kind != aet.KindCall {
		return fatalf(ErrInvariant, "event %d matched node %d, which is not a call", evt.Number, call)
	}
	if n.Seqno != evt.Seqno {
		return fatalf(ErrInvariant, "event %d (seqno %d) matched call %d with seqno %d", evt.Number, evt.Seqno, call, n.Seqno)
	}
	return nil
}

func asFatal(err error) error {
	var gb *aet.GraphBoundsError
	if errors.As(err, &gb) && !errors.Is(err, ErrFatal) {
		return fatalGraph(err)
	}
	if errors.Is(err, ErrFatal) {
		return err
	}
	return fatalf(ErrInvariant, "%w", err)
}
