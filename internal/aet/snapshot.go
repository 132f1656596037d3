package aet

// Snapshot is a self-contained, serializable copy of a tree, including the
// mutable fields as they stood when it was taken.
type Snapshot struct {
	Final   NodeID         `json:"final" yaml:"final"`
	Version uint64         `json:"version" yaml:"version"`
	Nodes   []SnapshotNode `json:"nodes" yaml:"nodes"`
}

type SnapshotNode struct {
	ID             NodeID `json:"id" yaml:"id"`
	Kind           string `json:"kind" yaml:"kind"`
	Pred           NodeID `json:"pred,omitempty" yaml:"pred,omitempty"`
	Atom           *Atom  `json:"atom,omitempty" yaml:"atom,omitempty"`
	Seqno          uint64 `json:"seqno,omitempty" yaml:"seqno,omitempty"`
	Event          uint64 `json:"event,omitempty" yaml:"event,omitempty"`
	AtDepthLimit   bool   `json:"at_depth_limit,omitempty" yaml:"at_depth_limit,omitempty"`
	Call           NodeID `json:"call,omitempty" yaml:"call,omitempty"`
	PriorInterface NodeID `json:"prior_interface,omitempty" yaml:"prior_interface,omitempty"`
	Exception      any    `json:"exception,omitempty" yaml:"exception,omitempty"`
	Path           string `json:"path,omitempty" yaml:"path,omitempty"`
	Ref            NodeID `json:"ref,omitempty" yaml:"ref,omitempty"`
	LastInterface  NodeID `json:"last_interface,omitempty" yaml:"last_interface,omitempty"`
	Status         string `json:"status,omitempty" yaml:"status,omitempty"`
}

func TakeSnapshot(t Tree) *Snapshot {
	out := &Snapshot{Final: t.Final(), Version: t.Version()}
	for _, n := range t.Nodes() {
		sn := SnapshotNode{
			ID:             n.ID,
			Kind:           n.Kind.String(),
			Pred:           n.Pred,
			Atom:           n.Atom,
			Seqno:          n.Seqno,
			Event:          n.Event,
			AtDepthLimit:   n.AtDepthLimit,
			Call:           n.Call,
			PriorInterface: n.PriorInterface,
			Exception:      n.Exception,
			Path:           n.Path,
			Ref:            n.Ref,
		}
		switch n.Kind {
		case KindCall:
			sn.LastInterface = t.LastInterface(n.ID)
		case KindCond, KindNegEnter:
			sn.Status = t.Status(n.ID).String()
		}
		out.Nodes = append(out.Nodes, sn)
	}
	return out
}

// Kinds lists the node kinds in construction order.
func (s *Snapshot) Kinds() []string {
	out := make([]string, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		out = append(out, n.Kind)
	}
	return out
}
