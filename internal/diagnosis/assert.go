package diagnosis

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/diagnosis/eval"
)

// AssertionFrontEnd judges answers with user assertions: an Exit whose atom
// satisfies any assertion is wrong. It reports the earliest wrong Exit.
// Since a call's children exit before it does, the earliest wrong Exit never
// has a wrong Exit nested inside its call.
type AssertionFrontEnd struct {
	rules  []*eval.Program
	logger *zap.Logger

	mu           sync.Mutex
	cacheVersion uint64
	judged       map[aet.NodeID]bool
	evals        int
}

type AssertionOption func(*AssertionFrontEnd)

func WithAssertionLogger(logger *zap.Logger) AssertionOption {
	return func(f *AssertionFrontEnd) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func NewAssertionFrontEnd(assertions []string, opts ...AssertionOption) (*AssertionFrontEnd, error) {
	f := &AssertionFrontEnd{logger: zap.NewNop(), judged: map[aet.NodeID]bool{}}
	for _, opt := range opts {
		opt(f)
	}
	for _, src := range assertions {
		p, err := eval.Compile(src)
		if err != nil {
			return nil, err
		}
		f.rules = append(f.rules, p)
	}
	return f, nil
}

// Evaluations reports how many node judgements were computed rather than
// served from the cache.
func (f *AssertionFrontEnd) Evaluations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evals
}

func (f *AssertionFrontEnd) Diagnose(ctx context.Context, tree aet.Tree, version uint64) (Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if version != f.cacheVersion {
		f.judged = map[aet.NodeID]bool{}
		f.cacheVersion = version
	}

	var bug *aet.Node
	for _, n := range tree.Nodes() {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}
		if n.Kind != aet.KindExit {
			continue
		}
		wrong, err := f.judge(n)
		if err != nil {
			return Verdict{}, err
		}
		if wrong && (bug == nil || n.Event < bug.Event) {
			n := n
			bug = &n
		}
	}

	if bug == nil {
		f.logger.Debug("no wrong answer", zap.Uint64("version", version), zap.Int("nodes", tree.Len()))
		return NoBugVerdict(), nil
	}

	call, ok := tree.Node(bug.Call)
	if !ok {
		return Verdict{}, fmt.Errorf("exit node %d has no call node", bug.ID)
	}
	f.logger.Debug("wrong answer",
		zap.Uint64("event", bug.Event),
		zap.Uint64("seqno", call.Seqno),
		zap.Bool("at_depth_limit", call.AtDepthLimit),
	)
	if call.AtDepthLimit {
		return RequireSubtreeVerdict(bug.Event, call.Seqno), nil
	}
	return BugFoundVerdict(bug.Event), nil
}

func (f *AssertionFrontEnd) judge(n aet.Node) (bool, error) {
	if wrong, ok := f.judged[n.ID]; ok {
		return wrong, nil
	}
	f.evals++

	vars := atomVars(n)
	wrong := false
	for _, r := range f.rules {
		hit, err := r.Eval(vars)
		if err != nil {
			return false, err
		}
		if hit {
			wrong = true
			break
		}
	}
	f.judged[n.ID] = wrong
	return wrong, nil
}

func atomVars(n aet.Node) map[string]any {
	vars := map[string]any{
		"module":   "",
		"name":     "",
		"arity":    0,
		"function": false,
		"args":     []any{},
		"event":    int(n.Event),
		"seqno":    int(n.Seqno),
	}
	if n.Atom == nil {
		return vars
	}
	args := make([]any, len(n.Atom.Args))
	for i, a := range n.Atom.Args {
		args[i] = a.Value
	}
	vars["module"] = n.Atom.Proc.Module
	vars["name"] = n.Atom.Proc.Name
	vars["arity"] = n.Atom.Proc.Arity
	vars["function"] = n.Atom.Proc.Kind == aet.Function
	vars["args"] = args
	return vars
}
