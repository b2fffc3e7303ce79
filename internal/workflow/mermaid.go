package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

const start = "__start__"

var mermaidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func mermaidID(name string) string {
	return mermaidIDChars.ReplaceAllString(name, "_")
}

// Mermaid renders the graph as a Mermaid flowchart. Conditional edges are
// drawn dotted and labelled with their route key.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("%%{init: {'flowchart': {'curve': 'linear'}}}%%\n")
	b.WriteString("graph TD;\n")
	fmt.Fprintf(&b, "\t%s([<p>%s</p>]):::first\n", start, start)
	for _, name := range g.order {
		fmt.Fprintf(&b, "\t%s(%s)\n", mermaidID(name), name)
	}
	fmt.Fprintf(&b, "\t%s([<p>%s</p>]):::last\n", End, End)

	if g.entry != "" {
		fmt.Fprintf(&b, "\t%s --> %s;\n", start, mermaidID(g.entry))
	}
	for _, from := range g.order {
		edge, ok := g.edges[from]
		if !ok {
			continue
		}
		for _, route := range sortedKeys(edge.targets) {
			fmt.Fprintf(&b, "\t%s -. &nbsp;%s&nbsp; .-> %s;\n", mermaidID(from), route, mermaidID(edge.targets[route]))
		}
	}

	b.WriteString("\tclassDef default fill:#fad7de,line-height:1.2\n")
	b.WriteString("\tclassDef first fill:#ffdfba\n")
	b.WriteString("\tclassDef last fill:#baffc9\n")
	return b.String()
}
