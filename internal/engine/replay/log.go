package replay

import (
	"encoding/json"
	"fmt"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine"
)

// Log is a recorded execution: the full event sequence of one deterministic
// run, plus the calls the engine would refuse to retry.
type Log struct {
	Events      []Record `json:"events"`
	Unretryable []uint64 `json:"unretryable,omitempty"`

	events      []engine.Event
	exceptions  []any
	unretryable map[uint64]bool
}

type Record struct {
	Number    uint64     `json:"number"`
	Seqno     uint64     `json:"seqno"`
	Depth     uint64     `json:"depth"`
	Port      string     `json:"port"`
	Path      string     `json:"path,omitempty"`
	Proc      ProcRecord `json:"proc"`
	Args      []aet.Arg  `json:"args,omitempty"`
	Exception any        `json:"exception,omitempty"`
}

type ProcRecord struct {
	Module            string `json:"module,omitempty"`
	Name              string `json:"name"`
	Arity             int    `json:"arity"`
	Func              bool   `json:"func,omitempty"`
	CompilerGenerated bool   `json:"compiler_generated,omitempty"`
	NoProcID          bool   `json:"no_proc_id,omitempty"`
	NoTrace           bool   `json:"no_trace,omitempty"`
	NoDeclSlot        bool   `json:"no_decl_slot,omitempty"`
}

// Decode parses and indexes a JSON event log.
func Decode(data []byte) (*Log, error) {
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("invalid event log: %w", err)
	}
	if err := l.index(); err != nil {
		return nil, err
	}
	return &l, nil
}

// NewLog indexes records built in code.
func NewLog(records []Record, unretryable ...uint64) (*Log, error) {
	l := &Log{Events: records, Unretryable: unretryable}
	if err := l.index(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) index() error {
	if len(l.Events) == 0 {
		return fmt.Errorf("event log is empty")
	}

	l.events = make([]engine.Event, 0, len(l.Events))
	l.exceptions = make([]any, 0, len(l.Events))
	var last uint64
	for i, r := range l.Events {
		if r.Number <= last {
			return fmt.Errorf("event %d: number %d does not increase (previous %d)", i, r.Number, last)
		}
		last = r.Number
		port, err := aet.ParsePort(r.Port)
		if err != nil {
			return fmt.Errorf("event %d: %w", r.Number, err)
		}

		layout := &engine.ProcLayout{
			Module:            r.Proc.Module,
			Name:              r.Proc.Name,
			Arity:             r.Proc.Arity,
			CompilerGenerated: r.Proc.CompilerGenerated,
			HasProcID:         !r.Proc.NoProcID,
			HasExecTrace:      !r.Proc.NoTrace,
			HasDeclSlot:       !r.Proc.NoDeclSlot,
		}
		if r.Proc.Func {
			layout.Kind = aet.Function
		}

		l.events = append(l.events, engine.Event{
			Number: r.Number,
			Seqno:  r.Seqno,
			Depth:  r.Depth,
			Port:   port,
			Path:   r.Path,
			Frame:  engine.Frame{Layout: layout, Args: r.Args},
		})
		l.exceptions = append(l.exceptions, r.Exception)
	}

	l.unretryable = make(map[uint64]bool, len(l.Unretryable))
	for _, seqno := range l.Unretryable {
		l.unretryable[seqno] = true
	}
	return nil
}

func (l *Log) Len() int { return len(l.events) }

// Find returns the position of the event with the given number.
func (l *Log) Find(number uint64) (int, bool) {
	lo, hi := 0, len(l.events)
	for lo < hi {
		mid := (lo + hi) / 2
		if l.events[mid].Number < number {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(l.events) && l.events[lo].Number == number {
		return lo, true
	}
	return -1, false
}
