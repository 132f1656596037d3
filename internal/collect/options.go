package collect

import (
	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/diagnosis"
)

// MatchStrategy selects how Exit, Redo and Fail events find their Call node.
type MatchStrategy int

const (
	// MatchContour searches the tree along the current contour.
	MatchContour MatchStrategy = iota
	// MatchSlot looks the call up by sequence number in a table filled when
	// the call was built. Procedures without a reserved slot are skipped.
	MatchSlot
)

func (s MatchStrategy) String() string {
	if s == MatchSlot {
		return "slot"
	}
	return "contour"
}

func ParseMatchStrategy(s string) (MatchStrategy, bool) {
	switch s {
	case "", "contour":
		return MatchContour, true
	case "slot":
		return MatchSlot, true
	}
	return MatchContour, false
}

const DefaultDepthStep = 3

type options struct {
	logger    *zap.Logger
	strategy  MatchStrategy
	observer  EventObserver
	session   SessionObserver
	depthStep uint64
	frontEnd  diagnosis.FrontEnd
	sink      diagnosis.Sink
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMatchStrategy(s MatchStrategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithEventObserver adds an observer; repeated use adds more.
func WithEventObserver(obs EventObserver) Option {
	return func(o *options) {
		if obs == nil {
			return
		}
		if o.observer == nil {
			o.observer = obs
			return
		}
		if list, ok := o.observer.(observers); ok {
			o.observer = append(list, obs)
			return
		}
		o.observer = observers{o.observer, obs}
	}
}

func WithSessionObserver(obs SessionObserver) Option {
	return func(o *options) { o.session = obs }
}

// WithDepthStep sets how many levels each collection materializes below its
// anchor.
func WithDepthStep(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.depthStep = n
		}
	}
}

func WithFrontEnd(fe diagnosis.FrontEnd) Option {
	return func(o *options) { o.frontEnd = fe }
}

// WithTestSink switches the controller to test mode: trees go to sink and
// no front end is consulted.
func WithTestSink(sink diagnosis.Sink) Option {
	return func(o *options) { o.sink = sink }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), depthStep: DefaultDepthStep}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
