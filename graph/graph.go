package graph

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
)

type Field struct {
	Name, Value string
}

// Child is an input of a node. Name labels the edge, like left or right for joins.
type Child struct {
	Name string
	Node *Node
}

// Node is a described plan operator.
// Nodes with the same non-empty Key are the same operator, used by more than one parent, and are rendered once.
type Node struct {
	Name     string
	Key      string
	Fields   []Field
	Children []Child
}

func NewNode(name string) *Node {
	return &Node{
		Name: name,
	}
}

func (n *Node) AddField(name, value string) {
	n.Fields = append(n.Fields, Field{Name: name, Value: value})
}

func (n *Node) AddChild(name string, node *Node) {
	n.Children = append(n.Children, Child{Name: name, Node: node})
}

// Show renders the plan as a graph with data flowing upwards, from the sources to the root.
func Show(node *Node) (*gographviz.Graph, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("plan"); err != nil {
		return nil, fmt.Errorf("couldn't name graph: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return nil, fmt.Errorf("couldn't make graph directed: %w", err)
	}
	if err := g.AddAttr("plan", "rankdir", "BT"); err != nil {
		return nil, fmt.Errorf("couldn't set graph attribute: %w", err)
	}

	r := &renderer{
		graph: g,
		keyed: make(map[string]string),
	}
	if _, err := r.render(node); err != nil {
		return nil, err
	}
	return g, nil
}

type renderer struct {
	graph *gographviz.Graph
	next  int
	// keyed maps node keys to the ids they were rendered with.
	keyed map[string]string
}

var labelEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"{", `\{`,
	"}", `\}`,
	"|", `\|`,
	"<", `\<`,
	">", `\>`,
)

// label renders the node as a record: the operator name on top, one left-aligned line per field below.
func label(node *Node) string {
	var sb strings.Builder
	sb.WriteString(`"{`)
	sb.WriteString(labelEscaper.Replace(strings.ToUpper(node.Name)))
	if len(node.Fields) > 0 {
		sb.WriteString("|")
		for _, field := range node.Fields {
			fmt.Fprintf(&sb, `%s: %s\l`, labelEscaper.Replace(field.Name), labelEscaper.Replace(field.Value))
		}
	}
	sb.WriteString(`}"`)
	return sb.String()
}

func (r *renderer) render(node *Node) (string, error) {
	if node.Key != "" {
		if id, ok := r.keyed[node.Key]; ok {
			return id, nil
		}
	}

	id := fmt.Sprintf("n%d", r.next)
	r.next++
	if node.Key != "" {
		r.keyed[node.Key] = id
	}
	attrs := map[string]string{
		"shape": "record",
		"label": label(node),
	}
	if len(node.Children) == 0 {
		attrs["style"] = "filled"
		attrs["fillcolor"] = "lightgrey"
	}
	if err := r.graph.AddNode("plan", id, attrs); err != nil {
		return "", fmt.Errorf("couldn't add node %s: %w", id, err)
	}

	for _, child := range node.Children {
		childID, err := r.render(child.Node)
		if err != nil {
			return "", err
		}
		if err := r.graph.AddEdge(childID, id, true, map[string]string{"label": fmt.Sprintf("%q", child.Name)}); err != nil {
			return "", fmt.Errorf("couldn't add edge from %s to %s: %w", childID, id, err)
		}
	}
	return id, nil
}
