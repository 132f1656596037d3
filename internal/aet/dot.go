package aet

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

const dotGraphName = "aet"

// WriteDOT renders a tree as a Graphviz digraph. Every node carries its full
// snapshot record in a comment attribute so ParseDOT can rebuild it; edges
// are drawn for predecessor, call, prior-interface and construct references.
func WriteDOT(w io.Writer, t Tree) error {
	dot, err := RenderDOT(TakeSnapshot(t))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, dot)
	return err
}

func RenderDOT(s *Snapshot) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(dotGraphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	header, err := json.Marshal(map[string]any{"final": s.Final, "version": s.Version})
	if err != nil {
		return "", err
	}
	if err := g.AddAttr(dotGraphName, "comment", quote(string(header))); err != nil {
		return "", fmt.Errorf("graph attrs: %w", err)
	}

	for _, n := range s.Nodes {
		payload, err := json.Marshal(n)
		if err != nil {
			return "", fmt.Errorf("encode node %d: %w", n.ID, err)
		}
		attrs := map[string]string{
			"label":   quote(nodeLabel(n)),
			"comment": quote(string(payload)),
			"shape":   nodeShape(n.Kind),
		}
		if err := g.AddNode(dotGraphName, dotName(n.ID), attrs); err != nil {
			return "", fmt.Errorf("add node %d: %w", n.ID, err)
		}
	}

	for _, n := range s.Nodes {
		edges := []struct {
			to    NodeID
			label string
			style string
		}{
			{n.Pred, "pred", "solid"},
			{n.Call, "call", "dashed"},
			{n.PriorInterface, "prior", "dotted"},
			{n.Ref, "ref", "dashed"},
		}
		for _, e := range edges {
			if e.to == NoNode {
				continue
			}
			attrs := map[string]string{"label": quote(e.label), "style": e.style}
			if err := g.AddEdge(dotName(n.ID), dotName(e.to), true, attrs); err != nil {
				return "", fmt.Errorf("add edge %d->%d: %w", n.ID, e.to, err)
			}
		}
	}

	return g.String(), nil
}

// ParseDOT reads back a tree written by WriteDOT.
func ParseDOT(dot string) (*Snapshot, error) {
	ast, err := gographviz.ParseString(dot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}
	g := gographviz.NewGraph()
	if err := gographviz.Analyse(ast, g); err != nil {
		return nil, fmt.Errorf("failed to analyze DOT: %w", err)
	}

	out := &Snapshot{}
	if raw := getAttr(g.Attrs, "comment"); raw != "" {
		var header struct {
			Final   NodeID `json:"final"`
			Version uint64 `json:"version"`
		}
		if err := json.Unmarshal([]byte(raw), &header); err != nil {
			return nil, fmt.Errorf("invalid graph header: %w", err)
		}
		out.Final, out.Version = header.Final, header.Version
	}

	for _, n := range g.Nodes.Nodes {
		raw := getAttr(n.Attrs, "comment")
		if raw == "" {
			return nil, fmt.Errorf("node %q has no payload", n.Name)
		}
		var sn SnapshotNode
		if err := json.Unmarshal([]byte(raw), &sn); err != nil {
			return nil, fmt.Errorf("invalid payload in node %q: %w", n.Name, err)
		}
		if dotName(sn.ID) != n.Name {
			return nil, fmt.Errorf("node %q carries payload for %d", n.Name, sn.ID)
		}
		if _, err := parseKind(sn.Kind); err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		out.Nodes = append(out.Nodes, sn)
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })

	return out, nil
}

func dotName(id NodeID) string { return "n" + strconv.Itoa(int(id)) }

func nodeLabel(n SnapshotNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", n.ID, strings.ToUpper(n.Kind))
	switch {
	case n.Atom != nil:
		fmt.Fprintf(&b, " %s", n.Atom)
	case n.Path != "":
		fmt.Fprintf(&b, " %s", n.Path)
	}
	if n.Event != 0 {
		fmt.Fprintf(&b, " #%d", n.Event)
	}
	if n.Status != "" {
		fmt.Fprintf(&b, " [%s]", n.Status)
	}
	return b.String()
}

func nodeShape(kind string) string {
	switch kind {
	case KindCall.String():
		return "box"
	case KindExit.String(), KindFail.String(), KindRedo.String(), KindException.String():
		return "ellipse"
	default:
		return "diamond"
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// getAttr reads a Graphviz attribute and undoes quote.
func getAttr(attrs gographviz.Attrs, key string) string {
	val, ok := attrs[gographviz.Attr(key)]
	if !ok {
		return ""
	}

	val = strings.TrimSpace(val)
	if len(val) < 2 || val[0] != '"' || val[len(val)-1] != '"' {
		return val
	}
	val = val[1 : len(val)-1]

	var b strings.Builder
	escape := false
	for _, r := range val {
		if escape {
			b.WriteRune(r)
			escape = false
			continue
		}
		if r == '\\' {
			escape = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
