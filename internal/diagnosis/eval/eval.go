// Package eval compiles and runs the boolean expressions used as assertions
// about procedure answers.
package eval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Variables every assertion can refer to, with the types they are checked
// against at compile time.
var envTypes = map[string]any{
	"module":   "",
	"name":     "",
	"arity":    0,
	"function": false,
	"args":     []any{},
	"event":    0,
	"seqno":    0,
}

type Program struct {
	Source  string
	program *vm.Program
}

func Compile(cond string) (*Program, error) {
	cond = strings.TrimSpace(cond)
	if err := Validate(cond); err != nil {
		return nil, fmt.Errorf("assertion %q: %w", cond, err)
	}
	p, err := expr.Compile(cond, expr.Env(envTypes), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("assertion %q: %w", cond, err)
	}
	return &Program{Source: cond, program: p}, nil
}

func (p *Program) Eval(vars map[string]any) (bool, error) {
	out, err := expr.Run(p.program, vars)
	if err != nil {
		return false, fmt.Errorf("assertion %q: %w", p.Source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("assertion %q must evaluate to bool (got %T)", p.Source, out)
	}
	return b, nil
}

// Eval compiles and runs cond once.
func Eval(cond string, vars map[string]any) (bool, error) {
	p, err := Compile(cond)
	if err != nil {
		return false, err
	}
	return p.Eval(vars)
}
