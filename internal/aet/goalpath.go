package aet

import "strings"

// Goal paths are written outermost component first, each component
// terminated by ';', e.g. "c2;d1;t;".
const (
	pathTerminator = ';'
	firstDisjunct  = "d1;"
)

// SameConstruct reports whether two goal paths denote branches of the same
// construct: identical strings, or identical up to exactly one trailing
// component on each side.
func SameConstruct(a, b string) bool {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	if i == len(a) && i == len(b) {
		return true
	}
	if i == len(a) || i == len(b) {
		return false
	}
	return SingleComponent(a[i:]) && SingleComponent(b[i:])
}

// SingleComponent reports whether path holds exactly one component: its
// only terminator is the last character.
func SingleComponent(path string) bool {
	idx := strings.IndexByte(path, pathTerminator)
	return idx >= 0 && idx == len(path)-1
}

// IsFirstDisjunct reports whether the final component of path selects the
// first disjunct.
func IsFirstDisjunct(path string) bool {
	if !strings.HasSuffix(path, firstDisjunct) {
		return false
	}
	rest := path[:len(path)-len(firstDisjunct)]
	return rest == "" || rest[len(rest)-1] == pathTerminator
}
