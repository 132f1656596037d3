package collect

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine"
)

// Outcome is what the collector did with one event.
type Outcome int

const (
	Accepted Outcome = iota
	DroppedDepth
	DroppedWindow
	DroppedGenerated
	DroppedNoSlot
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case DroppedDepth:
		return "dropped_depth"
	case DroppedWindow:
		return "dropped_window"
	case DroppedGenerated:
		return "dropped_generated"
	case DroppedNoSlot:
		return "dropped_no_slot"
	}
	return "unknown"
}

type EventObserver interface {
	ObserveEvent(evt engine.Event, outcome Outcome, node aet.NodeID)
}

// EventLogger writes one debug line per event.
type EventLogger struct {
	logger *zap.Logger
}

func NewEventLogger(logger *zap.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

func (l *EventLogger) ObserveEvent(evt engine.Event, outcome Outcome, node aet.NodeID) {
	if l == nil || l.logger == nil {
		return
	}
	msg := "EVENT"
	if outcome != Accepted {
		msg = "FILTER"
	}
	l.logger.Debug(msg,
		zap.Uint64("event", evt.Number),
		zap.Uint64("seqno", evt.Seqno),
		zap.Uint64("depth", evt.Depth),
		zap.Stringer("port", evt.Port),
		zap.Stringer("outcome", outcome),
		zap.Int("node", int(node)),
	)
}

// AsyncEventObserver hands events to next on its own goroutine. Events that
// do not fit the buffer are counted and dropped so the collector never
// blocks on an observer.
type AsyncEventObserver struct {
	next    EventObserver
	events  chan observedEvent
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type observedEvent struct {
	evt     engine.Event
	outcome Outcome
	node    aet.NodeID
}

func NewAsyncEventObserver(next EventObserver, buffer int) *AsyncEventObserver {
	if buffer <= 0 {
		buffer = 1
	}

	o := &AsyncEventObserver{
		next:   next,
		events: make(chan observedEvent, buffer),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for ev := range o.events {
			if o.next == nil {
				continue
			}
			o.next.ObserveEvent(ev.evt, ev.outcome, ev.node)
		}
	}()

	return o
}

func (o *AsyncEventObserver) ObserveEvent(evt engine.Event, outcome Outcome, node aet.NodeID) {
	if o == nil {
		return
	}
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		o.dropped.Add(1)
		return
	}
	select {
	case o.events <- observedEvent{evt: evt, outcome: outcome, node: node}:
	default:
		o.dropped.Add(1)
	}
	o.mu.RUnlock()
}

func (o *AsyncEventObserver) Dropped() uint64 {
	if o == nil {
		return 0
	}
	return o.dropped.Load()
}

// Close drains buffered events and stops the worker. Safe to call twice.
func (o *AsyncEventObserver) Close() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.events)
		o.mu.Unlock()
		o.wg.Wait()
	})
}

// SessionObserver receives controller level milestones.
type SessionObserver interface {
	ObserveTree(nodes int)
	ObserveVerdict(kind string)
	ObserveRestart()
	ObserveRetryFailure()
}

type observers []EventObserver

func (os observers) ObserveEvent(evt engine.Event, outcome Outcome, node aet.NodeID) {
	for _, o := range os {
		o.ObserveEvent(evt, outcome, node)
	}
}
