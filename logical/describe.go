package logical

import (
	"fmt"
	"strings"

	"github.com/cube2222/octoframe/graph"
)

func expressionList(exprs []Expression) string {
	parts := make([]string, len(exprs))
	for i := range exprs {
		parts[i] = exprs[i].String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func describeHeader(node Node) (string, []graph.Field) {
	var fields []graph.Field
	add := func(name, value string) {
		fields = append(fields, graph.Field{Name: name, Value: value})
	}
	switch node.NodeType {
	case NodeTypeScan:
		add("source", node.Scan.Source.Name())
		if node.Scan.Projection != nil {
			add("projection", "["+strings.Join(node.Scan.Projection, ", ")+"]")
		}
		if node.Scan.Predicate != nil {
			add("predicate", node.Scan.Predicate.String())
		}
		if node.Scan.Limit >= 0 {
			add("limit", fmt.Sprint(node.Scan.Limit))
		}
	case NodeTypeFilter:
		add("predicate", node.Filter.Predicate.String())
	case NodeTypeProject:
		add("expressions", expressionList(node.Project.Expressions))
	case NodeTypeGroupBy:
		add("keys", expressionList(node.GroupBy.Keys))
		add("aggregations", expressionList(node.GroupBy.Aggregations))
		if node.GroupBy.MaintainOrder {
			add("maintain_order", "true")
		}
	case NodeTypeJoin:
		add("how", node.Join.How.String())
		add("left_on", expressionList(node.Join.LeftOn))
		add("right_on", expressionList(node.Join.RightOn))
		if node.Join.BuildSide != BuildSideAuto {
			add("build_side", node.Join.BuildSide.String())
		}
	case NodeTypeSort:
		add("by", expressionList(node.Sort.By))
		add("descending", fmt.Sprint(node.Sort.Descending))
		add("nulls_last", fmt.Sprint(node.Sort.NullsLast))
		if node.Sort.Limit >= 0 {
			add("limit", fmt.Sprint(node.Sort.Limit))
		}
	case NodeTypeDistinct:
		if node.Distinct.Subset != nil {
			add("subset", "["+strings.Join(node.Distinct.Subset, ", ")+"]")
		}
		add("keep", node.Distinct.Keep.String())
		if node.Distinct.MaintainOrder {
			add("maintain_order", "true")
		}
	case NodeTypeLimit:
		add("n", fmt.Sprint(node.Limit.N))
		if node.Limit.Offset > 0 {
			add("offset", fmt.Sprint(node.Limit.Offset))
		}
	case NodeTypeUnion:
	case NodeTypeCache:
		add("id", fmt.Sprint(node.Cache.ID))
	case NodeTypeExplode:
		add("columns", "["+strings.Join(node.Explode.Columns, ", ")+"]")
	case NodeTypeMelt:
		add("id_columns", "["+strings.Join(node.Melt.IDColumns, ", ")+"]")
		add("value_columns", "["+strings.Join(node.Melt.ValueColumns, ", ")+"]")
		if node.Melt.VariableName != DefaultMeltVariableName {
			add("variable_name", node.Melt.VariableName)
		}
		if node.Melt.ValueName != DefaultMeltValueName {
			add("value_name", node.Melt.ValueName)
		}
	default:
		panic("unexhaustive node type match")
	}
	return node.NodeType.String(), fields
}

func childNames(node Node) []string {
	switch node.NodeType {
	case NodeTypeJoin:
		return []string{"left", "right"}
	case NodeTypeUnion:
		names := make([]string, len(node.Union.Inputs))
		for i := range names {
			names[i] = fmt.Sprintf("input_%d", i)
		}
		return names
	}
	return []string{"source"}
}

// DescribeNode returns a graph description of the plan, for rendering with graphviz.
func DescribeNode(node Node) *graph.Node {
	name, fields := describeHeader(node)
	out := graph.NewNode(name)
	if node.NodeType == NodeTypeCache {
		out.Key = fmt.Sprintf("cache_%d", node.Cache.ID)
	}
	for _, field := range fields {
		out.AddField(field.Name, field.Value)
	}
	names := childNames(node)
	for i, child := range node.Children() {
		out.AddChild(names[i], DescribeNode(child))
	}
	return out
}

// Explain returns an indented, human-readable description of the plan.
func Explain(node Node) string {
	var sb strings.Builder
	explain(&sb, node, 0)
	return sb.String()
}

func explain(sb *strings.Builder, node Node, depth int) {
	name, fields := describeHeader(node)
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(strings.ToUpper(name))
	for _, field := range fields {
		fmt.Fprintf(sb, " %s=%s", field.Name, field.Value)
	}
	sb.WriteString("\n")
	for _, child := range node.Children() {
		explain(sb, child, depth+1)
	}
}

func (node Node) String() string {
	return Explain(node)
}
