package aet

import "fmt"

// Port is the kind of execution event reported by the engine.
type Port int

const (
	PortCall Port = iota + 1
	PortExit
	PortRedo
	PortFail
	PortException
	PortCond
	PortThen
	PortElse
	PortNegEnter
	PortNegSuccess
	PortNegFailure
	PortSwitch
	PortDisj
	PortPragmaFirst
	PortPragmaLater
)

var portNames = map[Port]string{
	PortCall:        "call",
	PortExit:        "exit",
	PortRedo:        "redo",
	PortFail:        "fail",
	PortException:   "exception",
	PortCond:        "cond",
	PortThen:        "then",
	PortElse:        "else",
	PortNegEnter:    "neg_enter",
	PortNegSuccess:  "neg_success",
	PortNegFailure:  "neg_failure",
	PortSwitch:      "switch",
	PortDisj:        "disj",
	PortPragmaFirst: "pragma_first",
	PortPragmaLater: "pragma_later",
}

func (p Port) String() string {
	if s, ok := portNames[p]; ok {
		return s
	}
	return fmt.Sprintf("port(%d)", int(p))
}

// ParsePort is the inverse of Port.String.
func ParsePort(s string) (Port, error) {
	for p, name := range portNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown port %q", s)
}

// IsFinal reports whether the port leaves a call: exit, fail or exception.
func (p Port) IsFinal() bool {
	return p == PortExit || p == PortFail || p == PortException
}

// Kind tags a node of the tree. Disjunction events split into two kinds.
type Kind int

const (
	KindCall Kind = iota + 1
	KindExit
	KindRedo
	KindFail
	KindException
	KindCond
	KindThen
	KindElse
	KindNegEnter
	KindNegSuccess
	KindNegFailure
	KindSwitch
	KindFirstDisj
	KindLaterDisj
)

var kindNames = map[Kind]string{
	KindCall:       "call",
	KindExit:       "exit",
	KindRedo:       "redo",
	KindFail:       "fail",
	KindException:  "exception",
	KindCond:       "cond",
	KindThen:       "then",
	KindElse:       "else",
	KindNegEnter:   "neg_enter",
	KindNegSuccess: "neg_success",
	KindNegFailure: "neg_failure",
	KindSwitch:     "switch",
	KindFirstDisj:  "first_disj",
	KindLaterDisj:  "later_disj",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func parseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// Port returns the event port a node of this kind was built from.
func (k Kind) Port() Port {
	switch k {
	case KindCall:
		return PortCall
	case KindExit:
		return PortExit
	case KindRedo:
		return PortRedo
	case KindFail:
		return PortFail
	case KindException:
		return PortException
	case KindCond:
		return PortCond
	case KindThen:
		return PortThen
	case KindElse:
		return PortElse
	case KindNegEnter:
		return PortNegEnter
	case KindNegSuccess:
		return PortNegSuccess
	case KindNegFailure:
		return PortNegFailure
	case KindSwitch:
		return PortSwitch
	case KindFirstDisj, KindLaterDisj:
		return PortDisj
	}
	return 0
}

// IsInterface reports whether the kind is one of a call's interface events.
func (k Kind) IsInterface() bool {
	return k == KindExit || k == KindRedo || k == KindFail || k == KindException
}

// Status is the resolution of a Cond or NegEnter node.
type Status int

const (
	Undecided Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "undecided"
	}
}

type PredOrFunc int

const (
	Predicate PredOrFunc = iota
	Function
)

func (p PredOrFunc) String() string {
	if p == Function {
		return "func"
	}
	return "pred"
}

const (
	InternalProcName = "<<internal>>"
	UnknownProcName  = "<<unknown>>"
)

// ProcID identifies the procedure an atom belongs to.
type ProcID struct {
	Module            string     `json:"module,omitempty"`
	Name              string     `json:"name"`
	Arity             int        `json:"arity"`
	Kind              PredOrFunc `json:"kind"`
	CompilerGenerated bool       `json:"compiler_generated,omitempty"`
}

func (p ProcID) String() string {
	name := p.Name
	if p.Module != "" {
		name = p.Module + "." + name
	}
	return fmt.Sprintf("%s %s/%d", p.Kind, name, p.Arity)
}

// Arg is one argument binding captured at an event, keyed by head position.
type Arg struct {
	Pos   int `json:"pos"`
	Value any `json:"value"`
}

// Atom is a snapshot of a procedure invocation: identity plus argument values.
type Atom struct {
	Proc ProcID `json:"proc"`
	Args []Arg  `json:"args,omitempty"`
}

func (a Atom) String() string {
	s := a.Proc.Name + "("
	for i, arg := range a.Args {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%v", arg.Value)
	}
	return s + ")"
}

// NodeID addresses a node in a Store. NoNode is the empty reference.
type NodeID int

const NoNode NodeID = 0

// Node is the immutable payload of a tree node. Fields that do not apply to
// a node's Kind are left zero.
type Node struct {
	ID   NodeID
	Kind Kind
	Pred NodeID

	// Call, Exit, Exception.
	Atom *Atom
	// Call, and the interface nodes of that call.
	Seqno uint64
	Event uint64
	// Call only.
	AtDepthLimit bool

	// Exit, Redo, Fail, Exception.
	Call           NodeID
	PriorInterface NodeID
	Exception      any

	// Cond, NegEnter, Switch, FirstDisj, LaterDisj.
	Path string
	// Then/Else -> Cond, NegSuccess/NegFailure -> NegEnter, LaterDisj -> FirstDisj.
	Ref NodeID
}

func (n Node) Port() Port { return n.Kind.Port() }
