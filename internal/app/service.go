package app

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/collect"
	"github.com/awmpietro/golang-declarative-debugger/internal/diagnosis"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine/replay"
)

type Cache interface {
	GetOrCompute(src []byte, fn func() (*replay.Log, error)) (*replay.Log, error)
}

type Service struct {
	cache     Cache
	logger    *zap.Logger
	events    []collect.EventObserver
	session   collect.SessionObserver
	depthStep uint64
	strategy  collect.MatchStrategy
	newID     func() string
}

type ServiceOption func(*Service)

func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithEventObserver(obs collect.EventObserver) ServiceOption {
	return func(s *Service) {
		if obs != nil {
			s.events = append(s.events, obs)
		}
	}
}

func WithSessionObserver(obs collect.SessionObserver) ServiceOption {
	return func(s *Service) { s.session = obs }
}

// WithDefaults sets the depth step and match strategy used when a request
// leaves them unset.
func WithDefaults(depthStep uint64, strategy collect.MatchStrategy) ServiceOption {
	return func(s *Service) {
		if depthStep > 0 {
			s.depthStep = depthStep
		}
		s.strategy = strategy
	}
}

func withIDs(fn func() string) ServiceOption {
	return func(s *Service) { s.newID = fn }
}

func NewService(cache Cache, opts ...ServiceOption) *Service {
	s := &Service{
		cache:     cache,
		logger:    zap.NewNop(),
		depthStep: collect.DefaultDepthStep,
		strategy:  collect.MatchContour,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Diagnose replays the log from the requested event and runs one
// declarative debugging session over it. The input log is never mutated;
// each session drives its own engine over the shared decoded log.
func (s *Service) Diagnose(ctx context.Context, req DiagnoseRequest) (*DiagnoseResult, error) {
	if len(req.Log) == 0 {
		return nil, fmt.Errorf("%w: log is required", ErrInvalidRequest)
	}
	if req.At == 0 {
		return nil, fmt.Errorf("%w: at is required", ErrInvalidRequest)
	}
	if !req.Render && len(req.Assertions) == 0 {
		return nil, fmt.Errorf("%w: at least one assertion is required", ErrInvalidRequest)
	}

	log, err := s.cache.GetOrCompute(req.Log, func() (*replay.Log, error) {
		return replay.Decode(req.Log)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	id := s.newID()
	logger := s.logger.With(zap.String("session", id))

	eng := replay.NewEngine(log, replay.WithLogger(logger))
	evt, err := eng.Seek(req.At)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	depthStep := req.DepthStep
	if depthStep == 0 {
		depthStep = s.depthStep
	}
	strategy := s.strategy
	if req.Strategy != "" {
		var ok bool
		if strategy, ok = collect.ParseMatchStrategy(req.Strategy); !ok {
			return nil, fmt.Errorf("%w: unknown match strategy %q", ErrInvalidRequest, req.Strategy)
		}
	}

	opts := []collect.Option{
		collect.WithLogger(logger),
		collect.WithDepthStep(depthStep),
		collect.WithMatchStrategy(strategy),
		collect.WithSessionObserver(s.session),
	}
	for _, obs := range s.events {
		opts = append(opts, collect.WithEventObserver(obs))
	}

	var dot bytes.Buffer
	switch {
	case req.Render && req.Output != "":
		opts = append(opts, collect.WithTestSink(diagnosis.NewFileSink(req.Output)))
	case req.Render:
		opts = append(opts, collect.WithTestSink(diagnosis.NewDOTSink(&dot)))
	default:
		fe, err := diagnosis.NewAssertionFrontEnd(req.Assertions, diagnosis.WithAssertionLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		opts = append(opts, collect.WithFrontEnd(fe))
	}

	ctrl := collect.NewController(eng, opts...)
	if err := ctrl.Start(ctx, evt); err != nil {
		return nil, err
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Warn("closing test output", zap.Error(err))
		}
	}()

	stop, err := eng.Run(ctx, ctrl)
	if err != nil {
		logger.Error("session failed", zap.Error(err), zap.Uint64("at", stop.At))
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	res := &DiagnoseResult{
		SessionID: id,
		Verdicts:  ctrl.History(),
		Restarts:  ctrl.Restarts(),
		Retries:   eng.Retries(),
		Stop:      stop,
		DOT:       dot.String(),
	}
	if tree := ctrl.Collector().Tree(); tree.Len() > 0 {
		res.Tree = aet.TakeSnapshot(tree)
	}
	logger.Info("session finished",
		zap.Int("verdicts", len(res.Verdicts)),
		zap.Int("restarts", res.Restarts),
		zap.Uint64("stop", stop.At),
	)
	return res, nil
}
