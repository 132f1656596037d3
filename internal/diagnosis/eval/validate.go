package eval

import (
	"fmt"
	"strings"
	"unicode"
)

var allowedFuncs = map[string]bool{
	"len":    true,
	"lower":  true,
	"upper":  true,
	"abs":    true,
	"int":    true,
	"float":  true,
	"string": true,
}

// Validate rejects assertion sources outside the small expression subset the
// front end accepts. String literals are skipped while scanning.
func Validate(cond string) error {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return fmt.Errorf("empty assertion")
	}

	code, err := stripLiterals(cond)
	if err != nil {
		return err
	}

	illegalChars := []rune{'{', '}', ';', ':', '?', '@', '#', '$', '\\', '`'}
	for _, ch := range illegalChars {
		if strings.ContainsRune(code, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}

	for i := 0; i < len(code); i++ {
		if code[i] != '.' {
			continue
		}
		if i > 0 && i+1 < len(code) && isDigit(code[i-1]) && isDigit(code[i+1]) {
			continue
		}
		return fmt.Errorf("dot access is not allowed")
	}

	for i := 0; i < len(code); i++ {
		if code[i] != '(' {
			continue
		}
		j := i - 1
		for j >= 0 && unicode.IsSpace(rune(code[j])) {
			j--
		}
		if j < 0 || !(unicode.IsLetter(rune(code[j])) || code[j] == '_' || unicode.IsDigit(rune(code[j]))) {
			continue
		}
		k := j
		for k >= 0 && (unicode.IsLetter(rune(code[k])) || unicode.IsDigit(rune(code[k])) || code[k] == '_') {
			k--
		}
		ident := code[k+1 : j+1]
		if isOperatorWord(ident) {
			continue
		}
		if !allowedFuncs[ident] {
			return fmt.Errorf("function %q is not allowed", ident)
		}
	}

	return nil
}

// stripLiterals blanks out the contents of quoted strings.
func stripLiterals(s string) (string, error) {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
				b.WriteByte(c)
				continue
			}
			b.WriteByte(' ')
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
		}
		b.WriteByte(c)
	}
	if quote != 0 {
		return "", fmt.Errorf("unterminated string literal")
	}
	return b.String(), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isOperatorWord(s string) bool {
	switch s {
	case "and", "or", "not", "in", "matches", "contains", "startsWith", "endsWith":
		return true
	}
	return false
}
