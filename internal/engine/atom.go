package engine

import (
	"errors"
	"sort"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
)

var ErrNoLayout = errors.New("frame has no procedure layout")

// AtomFromFrame builds an atom from a frame's layout and live bindings. It
// is the capture used by engines whose frames already hold plain values.
func AtomFromFrame(frame Frame) (aet.Atom, error) {
	l := frame.Layout
	if l == nil {
		return aet.Atom{}, ErrNoLayout
	}

	name := l.Name
	switch {
	case !l.HasProcID:
		name = aet.UnknownProcName
	case l.CompilerGenerated:
		name = aet.InternalProcName
	}
	kind := l.Kind
	if l.CompilerGenerated {
		kind = aet.Predicate
	}

	args := make([]aet.Arg, len(frame.Args))
	copy(args, frame.Args)
	sort.SliceStable(args, func(i, j int) bool { return args[i].Pos < args[j].Pos })

	return aet.Atom{
		Proc: aet.ProcID{
			Module:            l.Module,
			Name:              name,
			Arity:             l.Arity,
			Kind:              kind,
			CompilerGenerated: l.CompilerGenerated,
		},
		Args: args,
	}, nil
}
