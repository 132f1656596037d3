package aet

import (
	"fmt"
	"sync/atomic"
)

// Version is the generation counter shared between the collector and the
// front end. It only ever grows; consumers compare values to decide whether
// results computed against an older generation are stale.
type Version struct {
	n atomic.Uint64
}

func (v *Version) Bump() uint64 { return v.n.Add(1) }

func (v *Version) Load() uint64 { return v.n.Load() }

type mutable struct {
	lastInterface NodeID
	status        Status
}

// Store is the append-only arena holding one collection's tree. Nodes are
// never removed; IDs are stable for the lifetime of the store.
type Store struct {
	nodes   []Node
	mut     []mutable
	version *Version
}

func NewStore(version *Version) *Store {
	if version == nil {
		version = &Version{}
	}
	return &Store{version: version}
}

func (s *Store) Version() *Version { return s.version }

func (s *Store) Len() int { return len(s.nodes) }

func (s *Store) valid(id NodeID) bool {
	return id > NoNode && int(id) <= len(s.nodes)
}

// Node returns the payload of id. The second result is false for NoNode or
// an id this store never issued.
func (s *Store) Node(id NodeID) (Node, bool) {
	if !s.valid(id) {
		return Node{}, false
	}
	return s.nodes[id-1], true
}

func (s *Store) mustNode(id NodeID) Node {
	n, ok := s.Node(id)
	if !ok {
		panic(fmt.Sprintf("aet: node %d not in store", id))
	}
	return n
}

// LastInterface is the most recent interface node recorded for a Call node.
func (s *Store) LastInterface(call NodeID) NodeID {
	if !s.valid(call) {
		return NoNode
	}
	return s.mut[call-1].lastInterface
}

func (s *Store) Status(id NodeID) Status {
	if !s.valid(id) {
		return Undecided
	}
	return s.mut[id-1].status
}

// InterfaceChain walks lastInterface/priorInterface backwards from a call.
func (s *Store) InterfaceChain(call NodeID) []NodeID {
	var out []NodeID
	for cur := s.LastInterface(call); cur != NoNode; {
		out = append(out, cur)
		n := s.mustNode(cur)
		cur = n.PriorInterface
	}
	return out
}

func (s *Store) add(n Node) NodeID {
	if n.Pred != NoNode && !s.valid(n.Pred) {
		panic(fmt.Sprintf("aet: predecessor %d not in store", n.Pred))
	}
	n.ID = NodeID(len(s.nodes) + 1)
	s.nodes = append(s.nodes, n)
	s.mut = append(s.mut, mutable{})
	s.version.Bump()
	return n.ID
}

func (s *Store) AddCall(pred NodeID, atom Atom, seqno, event uint64, atDepthLimit bool) NodeID {
	return s.add(Node{
		Kind:         KindCall,
		Pred:         pred,
		Atom:         &atom,
		Seqno:        seqno,
		Event:        event,
		AtDepthLimit: atDepthLimit,
	})
}

// AddInterface appends an Exit, Redo, Fail or Exception node for call,
// chains it to the call's current last interface and then makes it the new
// last interface.
func (s *Store) AddInterface(kind Kind, pred, call NodeID, atom *Atom, exception any, event uint64) (NodeID, error) {
	if !kind.IsInterface() {
		return NoNode, fmt.Errorf("%s is not an interface kind", kind)
	}
	c, ok := s.Node(call)
	if !ok || c.Kind != KindCall {
		return NoNode, fmt.Errorf("%s node needs a call node, got %d", kind, call)
	}
	if atom != nil {
		cp := *atom
		atom = &cp
	}
	id := s.add(Node{
		Kind:           kind,
		Pred:           pred,
		Atom:           atom,
		Seqno:          c.Seqno,
		Event:          event,
		Call:           call,
		PriorInterface: s.mut[call-1].lastInterface,
		Exception:      exception,
	})
	s.mut[call-1].lastInterface = id
	return id, nil
}

// AddBranch appends a node that carries only a goal path: Cond, NegEnter,
// Switch or FirstDisj.
func (s *Store) AddBranch(kind Kind, pred NodeID, path string) (NodeID, error) {
	switch kind {
	case KindCond, KindNegEnter, KindSwitch, KindFirstDisj:
	default:
		return NoNode, fmt.Errorf("%s is not a branch kind", kind)
	}
	return s.add(Node{Kind: kind, Pred: pred, Path: path}), nil
}

// AddLaterDisj appends a later-disjunct node referring to the first disjunct
// of the same disjunction.
func (s *Store) AddLaterDisj(pred NodeID, path string, first NodeID) (NodeID, error) {
	f, ok := s.Node(first)
	if !ok || f.Kind != KindFirstDisj {
		return NoNode, fmt.Errorf("later disjunct needs a first disjunct node, got %d", first)
	}
	return s.add(Node{Kind: KindLaterDisj, Pred: pred, Path: path, Ref: first}), nil
}

// AddResolution resolves a Cond (Then/Else) or NegEnter (NegSuccess/NegFailure)
// and appends the resolving node. The status of the target changes exactly once.
func (s *Store) AddResolution(kind Kind, pred, target NodeID) (NodeID, error) {
	var want Kind
	var status Status
	switch kind {
	case KindThen:
		want, status = KindCond, Succeeded
	case KindElse:
		want, status = KindCond, Failed
	case KindNegSuccess:
		want, status = KindNegEnter, Succeeded
	case KindNegFailure:
		want, status = KindNegEnter, Failed
	default:
		return NoNode, fmt.Errorf("%s is not a resolution kind", kind)
	}
	t, ok := s.Node(target)
	if !ok || t.Kind != want {
		return NoNode, fmt.Errorf("%s node needs a %s node, got %d", kind, want, target)
	}
	if cur := s.mut[target-1].status; cur != Undecided {
		return NoNode, fmt.Errorf("%s node %d already %s", want, target, cur)
	}
	s.version.Bump()
	s.mut[target-1].status = status
	return s.add(Node{Kind: kind, Pred: pred, Ref: target}), nil
}

// Tree is the read-only view of a finished collection handed to a front end.
type Tree struct {
	store   *Store
	final   NodeID
	version uint64
}

func NewTree(store *Store, final NodeID) Tree {
	return Tree{store: store, final: final, version: store.version.Load()}
}

// Final is the last node collected; every other node is reachable from it
// through predecessor links.
func (t Tree) Final() NodeID { return t.final }

// Version is the graph generation at the time the tree was handed over.
func (t Tree) Version() uint64 { return t.version }

func (t Tree) Len() int {
	if t.store == nil {
		return 0
	}
	return t.store.Len()
}

func (t Tree) Node(id NodeID) (Node, bool) {
	if t.store == nil {
		return Node{}, false
	}
	return t.store.Node(id)
}

func (t Tree) LastInterface(call NodeID) NodeID {
	if t.store == nil {
		return NoNode
	}
	return t.store.LastInterface(call)
}

func (t Tree) Status(id NodeID) Status {
	if t.store == nil {
		return Undecided
	}
	return t.store.Status(id)
}

func (t Tree) InterfaceChain(call NodeID) []NodeID {
	if t.store == nil {
		return nil
	}
	return t.store.InterfaceChain(call)
}

// Nodes returns all nodes in construction order.
func (t Tree) Nodes() []Node {
	if t.store == nil {
		return nil
	}
	out := make([]Node, len(t.store.nodes))
	copy(out, t.store.nodes)
	return out
}
