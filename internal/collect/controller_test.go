package collect

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/diagnosis"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine/replay"
)

// main calls p, p calls q and r. r answers wrongly.
func sampleLog(t *testing.T, unretryable ...uint64) *replay.Log {
	t.Helper()
	rec := func(n, seq, depth uint64, port, name string) replay.Record {
		return replay.Record{
			Number: n, Seqno: seq, Depth: depth, Port: port,
			Proc: replay.ProcRecord{Module: "m", Name: name, Arity: 1},
			Args: []aet.Arg{{Pos: 1, Value: name}},
		}
	}
	log, err := replay.NewLog([]replay.Record{
		rec(1, 1, 1, "call", "main"),
		rec(2, 2, 2, "call", "p"),
		rec(3, 3, 3, "call", "q"),
		rec(4, 3, 3, "exit", "q"),
		rec(5, 4, 3, "call", "r"),
		rec(6, 4, 3, "exit", "r"),
		rec(7, 2, 2, "exit", "p"),
		rec(8, 1, 1, "exit", "main"),
	}, unretryable...)
	if err != nil {
		t.Fatalf("building log: %v", err)
	}
	return log
}

type scriptedFrontEnd struct {
	verdicts []diagnosis.Verdict
	trees    []aet.Tree
	versions []uint64
}

func (s *scriptedFrontEnd) Diagnose(ctx context.Context, tree aet.Tree, version uint64) (diagnosis.Verdict, error) {
	s.trees = append(s.trees, tree)
	s.versions = append(s.versions, version)
	if len(s.verdicts) == 0 {
		return diagnosis.NoBugVerdict(), nil
	}
	v := s.verdicts[0]
	s.verdicts = s.verdicts[1:]
	return v, nil
}

func startAt(t *testing.T, eng *replay.Engine, ctrl *Controller, number uint64) {
	t.Helper()
	evt, err := eng.Seek(number)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if err := ctrl.Start(context.Background(), evt); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestController_NoBugReturnsToOrigin(t *testing.T) {
	eng := replay.NewEngine(sampleLog(t))
	fe := &scriptedFrontEnd{}
	ctrl := NewController(eng, WithFrontEnd(fe), WithDepthStep(1))

	startAt(t, eng, ctrl, 7)
	stop, err := eng.Run(context.Background(), ctrl)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stop.At != 7 || stop.Breakpoint != nil {
		t.Fatalf("expected interactive stop at 7, got %+v", stop)
	}
	if len(fe.trees) != 1 {
		t.Fatalf("expected one diagnosis, got %d", len(fe.trees))
	}
	// p at depth 2 with step 1 keeps q and r as depth-limited calls.
	if got := kinds(fe.trees[0]); strings.Join(got, ",") != "call,call,exit,call,exit,exit" {
		t.Fatalf("unexpected tree %v", got)
	}
	if fe.versions[0] != fe.trees[0].Version() {
		t.Fatalf("front end should get the hand-over version, got %d want %d", fe.versions[0], fe.trees[0].Version())
	}
}

func TestController_BugFoundLandsOnBugEvent(t *testing.T) {
	eng := replay.NewEngine(sampleLog(t))
	fe := &scriptedFrontEnd{verdicts: []diagnosis.Verdict{diagnosis.BugFoundVerdict(6)}}
	ctrl := NewController(eng, WithFrontEnd(fe))

	startAt(t, eng, ctrl, 7)
	stop, err := eng.Run(context.Background(), ctrl)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stop.At != 6 || stop.Breakpoint == nil || !stop.Breakpoint.Strict || !stop.Breakpoint.Quiet {
		t.Fatalf("expected strict quiet breakpoint at 6, got %+v", stop)
	}
	if eng.Retries() != 2 {
		t.Fatalf("expected a retry to start and one to relocate, got %d", eng.Retries())
	}
}

func TestController_RequireSubtreeRestartsDeeper(t *testing.T) {
	eng := replay.NewEngine(sampleLog(t))
	fe := &scriptedFrontEnd{verdicts: []diagnosis.Verdict{
		diagnosis.RequireSubtreeVerdict(6, 4),
		diagnosis.BugFoundVerdict(6),
	}}
	ctrl := NewController(eng, WithFrontEnd(fe), WithDepthStep(1))

	startAt(t, eng, ctrl, 7)
	stop, err := eng.Run(context.Background(), ctrl)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fe.trees) != 2 {
		t.Fatalf("expected two diagnoses, got %d", len(fe.trees))
	}
	first, second := fe.trees[0], fe.trees[1]
	if first.Len() != 6 {
		t.Fatalf("first tree should be left untouched by the restart, has %d nodes", first.Len())
	}
	if got := strings.Join(kinds(second), ","); got != "call,exit" {
		t.Fatalf("second tree should hold only r, got %s", got)
	}
	call, _ := second.Node(1)
	if call.Seqno != 4 || call.AtDepthLimit {
		t.Fatalf("restarted call should be r below the new depth limit, got %+v", call)
	}
	if fe.versions[1] <= fe.versions[0] {
		t.Fatalf("version must keep growing across restarts: %v", fe.versions)
	}
	if ctrl.Restarts() != 1 || ctrl.Collector().MaxDepth() != 4 {
		t.Fatalf("expected one restart to max depth 4, got %d restarts, depth %d", ctrl.Restarts(), ctrl.Collector().MaxDepth())
	}
	if stop.At != 6 || stop.Breakpoint == nil {
		t.Fatalf("expected breakpoint at 6, got %+v", stop)
	}
	want := []diagnosis.VerdictKind{diagnosis.RequireSubtree, diagnosis.BugFound}
	for i, v := range ctrl.History() {
		if v.Kind != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, v.Kind, want[i])
		}
	}
}

func TestController_StartRefusals(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		layout func(l *engine.ProcLayout)
	}{
		{name: "no trace", opts: []Option{WithFrontEnd(&scriptedFrontEnd{})}, layout: func(l *engine.ProcLayout) { l.HasExecTrace = false }},
		{name: "compiler generated", opts: []Option{WithFrontEnd(&scriptedFrontEnd{})}, layout: func(l *engine.ProcLayout) { l.CompilerGenerated = true }},
		{name: "no slot", opts: []Option{WithFrontEnd(&scriptedFrontEnd{}), WithMatchStrategy(MatchSlot)}, layout: func(l *engine.ProcLayout) { l.HasDeclSlot = false }},
		{name: "no front end", layout: func(l *engine.ProcLayout) {}},
		{name: "sink cannot open", opts: []Option{WithTestSink(diagnosis.NewFileSink("/nonexistent/dir/tree.dot"))}, layout: func(l *engine.ProcLayout) {}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{}
			ctrl := NewController(eng, tc.opts...)
			evt := ev(7, 2, 2, aet.PortExit, "p", "")
			tc.layout(evt.Frame.Layout)

			err := ctrl.Start(context.Background(), evt)
			if !errors.Is(err, ErrCannotStart) {
				t.Fatalf("expected ErrCannotStart, got %v", err)
			}
			if IsFatal(err) {
				t.Fatalf("start refusals are recoverable")
			}
			if len(eng.retries) != 0 {
				t.Fatalf("refused start must not touch the engine")
			}
		})
	}
}

func TestController_StartRetryFailure(t *testing.T) {
	eng := replay.NewEngine(sampleLog(t, 2))
	ctrl := NewController(eng, WithFrontEnd(&scriptedFrontEnd{}))

	evt, _ := eng.Seek(7)
	err := ctrl.Start(context.Background(), evt)
	if !errors.Is(err, ErrCannotStart) {
		t.Fatalf("expected ErrCannotStart, got %v", err)
	}
	if !strings.Contains(err.Error(), "cannot retry call 2") {
		t.Fatalf("engine diagnostic should be reported, got %v", err)
	}
	if ctrl.Collector().State() != Idle {
		t.Fatalf("collector should stay idle")
	}
}

type spySink struct {
	diagnosis.Sink
	opened, closed int
}

func (s *spySink) Open() error {
	s.opened++
	return s.Sink.Open()
}

func (s *spySink) Close() error {
	s.closed++
	return s.Sink.Close()
}

func TestController_RefusedStartReleasesSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.dot")
	sink := &spySink{Sink: diagnosis.NewFileSink(path)}
	eng := replay.NewEngine(sampleLog(t, 2))
	ctrl := NewController(eng, WithTestSink(sink))

	evt, _ := eng.Seek(7)
	err := ctrl.Start(context.Background(), evt)
	if !errors.Is(err, ErrCannotStart) {
		t.Fatalf("expected ErrCannotStart, got %v", err)
	}
	if sink.opened != 1 || sink.closed != 1 {
		t.Fatalf("expected the sink opened and closed once, got %d and %d", sink.opened, sink.closed)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("refused start should not leave %s behind, stat err %v", path, err)
	}
}

func TestController_CloseReleasesUnfinishedTestSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.dot")
	sink := &spySink{Sink: diagnosis.NewFileSink(path)}
	eng := replay.NewEngine(sampleLog(t))
	ctrl := NewController(eng, WithTestSink(sink))

	startAt(t, eng, ctrl, 7)
	// A bound below the depth limit is dropped, so the run ends before any tree.
	ctrl.Collector().Begin(4, 2, 2)
	var missed *MissedBoundEventError
	if _, err := eng.Run(context.Background(), ctrl); !errors.As(err, &missed) {
		t.Fatalf("expected MissedBoundEventError, got %v", err)
	}

	if err := ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ctrl.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("unsaved output should be removed, stat err %v", err)
	}
}

func TestController_RetryFailureDuringRestartReturnsToOrigin(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusObserver(reg)
	eng := &fakeEngine{retryErrs: []error{nil, &engine.RetryError{Message: "frame is gone"}}}
	fe := &scriptedFrontEnd{verdicts: []diagnosis.Verdict{diagnosis.RequireSubtreeVerdict(2, 1)}}
	ctrl := NewController(eng, WithFrontEnd(fe), WithSessionObserver(metrics), WithEventObserver(metrics))

	if err := ctrl.Start(context.Background(), ev(2, 1, 0, aet.PortExit, "p", "")); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, e := range []engine.Event{ev(1, 1, 0, aet.PortCall, "p", ""), ev(2, 1, 0, aet.PortExit, "p", "")} {
		if err := ctrl.OnEvent(context.Background(), e); err != nil {
			t.Fatalf("event %d: %v", e.Number, err)
		}
	}

	if len(eng.interactive) != 1 {
		t.Fatalf("expected one interactive transfer, got %+v", eng.interactive)
	}
	in := eng.interactive[0]
	if in.At != 2 || !strings.Contains(in.Message, "frame is gone") {
		t.Fatalf("expected return to origin with the engine message, got %+v", in)
	}
	if ctrl.Collector().State() != Idle {
		t.Fatalf("collector should be idle after an abort, got %s", ctrl.Collector().State())
	}
	if got := testutil.ToFloat64(metrics.retryFailures); got != 1 {
		t.Fatalf("expected one retry failure counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.events.WithLabelValues("exit", "accepted")); got != 1 {
		t.Fatalf("expected one accepted exit counted, got %v", got)
	}
}

func TestController_BugFoundRetryFailure(t *testing.T) {
	eng := &fakeEngine{retryErrs: []error{nil, &engine.RetryError{Message: "no"}}}
	fe := &scriptedFrontEnd{verdicts: []diagnosis.Verdict{diagnosis.BugFoundVerdict(2)}}
	ctrl := NewController(eng, WithFrontEnd(fe))

	if err := ctrl.Start(context.Background(), ev(2, 1, 0, aet.PortExit, "p", "")); err != nil {
		t.Fatalf("start: %v", err)
	}
	feed(t, ctrl.Collector(), ev(1, 1, 0, aet.PortCall, "p", ""), ev(2, 1, 0, aet.PortExit, "p", ""))

	if len(eng.gotos) != 0 {
		t.Fatalf("no goto after a refused retry")
	}
	if len(eng.interactive) != 1 || eng.interactive[0].At != 2 {
		t.Fatalf("expected fallback to origin, got %+v", eng.interactive)
	}
}

func TestController_FrontEndContractViolations(t *testing.T) {
	for _, v := range []diagnosis.Verdict{
		diagnosis.RequireSubtreeVerdict(9, 1),
		diagnosis.RequireSubtreeVerdict(0, 1),
		diagnosis.BugFoundVerdict(9),
		{Kind: diagnosis.VerdictKind(42)},
	} {
		t.Run(v.String(), func(t *testing.T) {
			fe := &scriptedFrontEnd{verdicts: []diagnosis.Verdict{v}}
			ctrl := NewController(&fakeEngine{}, WithFrontEnd(fe))
			if err := ctrl.Start(context.Background(), ev(2, 1, 0, aet.PortExit, "p", "")); err != nil {
				t.Fatalf("start: %v", err)
			}
			if err := ctrl.OnEvent(context.Background(), ev(1, 1, 0, aet.PortCall, "p", "")); err != nil {
				t.Fatalf("call: %v", err)
			}
			err := ctrl.OnEvent(context.Background(), ev(2, 1, 0, aet.PortExit, "p", ""))
			if !errors.Is(err, ErrFrontEndContract) || !IsFatal(err) {
				t.Fatalf("expected fatal front end contract error, got %v", err)
			}
		})
	}
}

func TestController_TestModeWritesTree(t *testing.T) {
	var buf bytes.Buffer
	eng := replay.NewEngine(sampleLog(t))
	ctrl := NewController(eng, WithTestSink(diagnosis.NewDOTSink(&buf)), WithDepthStep(1))

	startAt(t, eng, ctrl, 7)
	stop, err := eng.Run(context.Background(), ctrl)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stop.At != 7 {
		t.Fatalf("expected stop at origin 7, got %+v", stop)
	}

	snap, err := aet.ParseDOT(buf.String())
	if err != nil {
		t.Fatalf("parse written tree: %v", err)
	}
	if got := strings.Join(snap.Kinds(), ","); got != "call,call,exit,call,exit,exit" {
		t.Fatalf("unexpected tree in sink: %s", got)
	}
}

func TestController_MissedBoundEndsRun(t *testing.T) {
	eng := replay.NewEngine(sampleLog(t))
	ctrl := NewController(eng, WithFrontEnd(&scriptedFrontEnd{}))
	startAt(t, eng, ctrl, 7)
	// A bound below the depth limit is dropped, so event 5 overshoots it.
	ctrl.Collector().Begin(4, 2, 2)

	stop, err := eng.Run(context.Background(), ctrl)
	var missed *MissedBoundEventError
	if !errors.As(err, &missed) {
		t.Fatalf("expected MissedBoundEventError, got %v", err)
	}
	if missed.Event != 5 || stop.At != 5 {
		t.Fatalf("expected interactive stop at 5, got %+v (%v)", stop, missed)
	}
}
