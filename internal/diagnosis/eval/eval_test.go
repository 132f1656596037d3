package eval

import "testing"

func vars() map[string]any {
	return map[string]any{
		"module":   "lists",
		"name":     "append",
		"arity":    3,
		"function": false,
		"args":     []any{[]any{1, 2}, []any{3}, []any{1, 2, 3, 4}},
		"event":    12,
		"seqno":    4,
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		cond string
		want bool
	}{
		{`name == "append"`, true},
		{`name == "append" && len(args[2]) != len(args[0]) + len(args[1])`, true},
		{`len(args[2]) == 3`, false},
		{`upper(module) == "LISTS"`, true},
		{`name in ["append", "reverse"]`, true},
		{`name startsWith "app" and not function`, true},
		{`event > 10 || seqno == 1`, true},
		{`arity == 2.5`, false},
		{`name == "a.b(c)"`, false},
	}
	for _, tc := range tests {
		got, err := Eval(tc.cond, vars())
		if err != nil {
			t.Fatalf("Eval(%q) unexpected error: %v", tc.cond, err)
		}
		if got != tc.want {
			t.Fatalf("Eval(%q) = %v, want %v", tc.cond, got, tc.want)
		}
	}
}

func TestCompile_Rejects(t *testing.T) {
	for _, cond := range []string{
		``,
		`   `,
		`name == "x"; 1`,
		`{"a": 1}.a`,
		`args.len`,
		`env("HOME") == ""`,
		`name == "unterminated`,
		`arity`,
		`missing == 1`,
		"`raw`",
	} {
		if _, err := Compile(cond); err == nil {
			t.Fatalf("Compile(%q) should fail", cond)
		}
	}
}

func TestValidate_IgnoresStringContents(t *testing.T) {
	for _, cond := range []string{`name == "x.y"`, `name == "f(x)"`, `name == "a;b"`, `name == 'it\'s'`} {
		if err := Validate(cond); err != nil {
			t.Fatalf("Validate(%q) unexpected error: %v", cond, err)
		}
	}
}

func TestProgram_RuntimeError(t *testing.T) {
	p, err := Compile(`args[0] == 1`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	v := vars()
	v["args"] = []any{}
	if _, err := p.Eval(v); err == nil {
		t.Fatalf("indexing past the end should fail at run time")
	}
}
