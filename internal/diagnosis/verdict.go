// Package diagnosis holds the contract between the back end and a diagnosis
// front end, and the front ends shipped with this module.
package diagnosis

import (
	"context"
	"fmt"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
)

type VerdictKind int

const (
	NoBug VerdictKind = iota
	BugFound
	RequireSubtree
)

func (k VerdictKind) String() string {
	switch k {
	case NoBug:
		return "no_bug"
	case BugFound:
		return "bug_found"
	case RequireSubtree:
		return "require_subtree"
	}
	return fmt.Sprintf("verdict(%d)", int(k))
}

func (k VerdictKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *VerdictKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "no_bug":
		*k = NoBug
	case "bug_found":
		*k = BugFound
	case "require_subtree":
		*k = RequireSubtree
	default:
		return fmt.Errorf("unknown verdict kind %q", b)
	}
	return nil
}

// Verdict is a front end's answer for one tree. Event is the bug event for
// BugFound and the final event of the wanted subtree for RequireSubtree;
// Seqno is the subtree's call sequence number.
type Verdict struct {
	Kind  VerdictKind `json:"kind"`
	Event uint64      `json:"event,omitempty"`
	Seqno uint64      `json:"seqno,omitempty"`
}

func NoBugVerdict() Verdict { return Verdict{Kind: NoBug} }

func BugFoundVerdict(event uint64) Verdict { return Verdict{Kind: BugFound, Event: event} }

func RequireSubtreeVerdict(finalEvent, seqno uint64) Verdict {
	return Verdict{Kind: RequireSubtree, Event: finalEvent, Seqno: seqno}
}

func (v Verdict) String() string {
	switch v.Kind {
	case BugFound:
		return fmt.Sprintf("%s(event=%d)", v.Kind, v.Event)
	case RequireSubtree:
		return fmt.Sprintf("%s(event=%d, seqno=%d)", v.Kind, v.Event, v.Seqno)
	}
	return v.Kind.String()
}

// FrontEnd analyses a collected tree. version is the graph generation the
// tree was handed over at; results cached against older generations must
// not be reused.
type FrontEnd interface {
	Diagnose(ctx context.Context, tree aet.Tree, version uint64) (Verdict, error)
}

// FrontEndFunc adapts a function to FrontEnd.
type FrontEndFunc func(ctx context.Context, tree aet.Tree, version uint64) (Verdict, error)

func (f FrontEndFunc) Diagnose(ctx context.Context, tree aet.Tree, version uint64) (Verdict, error) {
	return f(ctx, tree, version)
}
