package visualization

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Format specifies the output format for state rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// ParseFormat maps a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatDOT:
		return FormatDOT, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want dot or json)", s)
	}
}

// Options selects what a DOT rendering highlights.
type Options struct {
	// Entity is shaded on nodes by its level relative to the highest node.
	// Empty renders nodes unshaded.
	Entity string

	// Subsection restricts shading to one subsection. Empty sums all
	// subsections of a node.
	Subsection string
}

// stateColors maps vesicle states to DOT colors.
var stateColors = map[string]string{
	"unattached": "lightgray",
	"attached":   "goldenrod",
	"propelled":  "tomato",
}

// Render produces st in the given format.
func Render(st State, format Format, opts Options) ([]byte, error) {
	switch format {
	case FormatDOT:
		return []byte(RenderDOT(st, opts)), nil
	case FormatJSON:
		data, err := json.MarshalIndent(RenderJSON(st), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal state: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// RenderDOT produces a Graphviz DOT representation of st. Positions are
// pinned, so the output is meant for neato or fdp.
func RenderDOT(st State, opts Options) string {
	var b strings.Builder
	b.WriteString("graph cellsim {\n")
	fmt.Fprintf(&b, "  label=%q;\n", fmt.Sprintf("run %s step %d t=%gs", st.RunID, st.Step, st.Time))
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [color=gray60];\n\n")

	peak := 0.0
	if opts.Entity != "" {
		for _, n := range st.Nodes {
			peak = max(peak, level(n.Concentrations, opts))
		}
	}

	for _, n := range st.Nodes {
		label := n.ID
		fill := "white"
		if opts.Entity != "" {
			v := level(n.Concentrations, opts)
			label = fmt.Sprintf("%s\n%s=%.3g M", n.ID, opts.Entity, v)
			if peak > 0 {
				fill = fmt.Sprintf("0.600 %.3f 1.000", v/peak)
			}
		}
		fmt.Fprintf(&b, "  %q [label=%q, fillcolor=%q, pos=\"%g,%g!\", tooltip=%q];\n",
			n.ID, label, fill, n.X, n.Y, n.Region)
	}
	if len(st.Edges) > 0 {
		b.WriteString("\n")
	}
	for _, e := range st.Edges {
		fmt.Fprintf(&b, "  %q -- %q;\n", e.Source, e.Target)
	}

	if len(st.Vesicles) > 0 {
		b.WriteString("\n")
	}
	for _, v := range st.Vesicles {
		color := stateColors[v.State]
		if color == "" {
			color = "lightgray"
		}
		label := v.ID
		if opts.Entity != "" {
			label = fmt.Sprintf("%s\n%.3g M", v.ID, level(v.Concentrations, opts))
		}
		fmt.Fprintf(&b, "  %q [shape=circle, label=%q, fillcolor=%q, fontsize=8, pos=\"%g,%g!\", tooltip=%q];\n",
			v.ID, truncate(label, 40), color, v.X, v.Y, v.State)
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON state representation with nodes, edges and
// vesicles arrays.
func RenderJSON(st State) map[string]interface{} {
	nodes := st.Nodes
	if nodes == nil {
		nodes = []NodeState{}
	}
	edges := st.Edges
	if edges == nil {
		edges = []Edge{}
	}
	vesicles := st.Vesicles
	if vesicles == nil {
		vesicles = []VesicleState{}
	}
	return map[string]interface{}{
		"run_id":        st.RunID,
		"step":          st.Step,
		"time":          st.Time,
		"entities":      st.Entities(),
		"nodes":         nodes,
		"edges":         edges,
		"vesicles":      vesicles,
		"node_count":    len(nodes),
		"edge_count":    len(edges),
		"vesicle_count": len(vesicles),
	}
}

func level(l Levels, opts Options) float64 {
	if opts.Subsection != "" {
		return l.Get(opts.Subsection, opts.Entity)
	}
	subs := make([]string, 0, len(l))
	for sub := range l {
		subs = append(subs, sub)
	}
	sort.Strings(subs)
	total := 0.0
	for _, sub := range subs {
		total += l[sub][opts.Entity]
	}
	return total
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
