package optimizer

import (
	"github.com/cube2222/octoframe/logical"
)

func MergeFilters(node logical.Node) (logical.Node, bool) {
	changed := false
	t := Transformers{
		NodeTransformer: func(node logical.Node) logical.Node {
			if node.NodeType != logical.NodeTypeFilter {
				return node
			}
			if node.Filter.Input.NodeType != logical.NodeTypeFilter {
				return node
			}
			inner := node.Filter.Input.Filter

			predicate, _ := logical.Conjunction(append(node.Filter.Predicate.SplitByAnd(), inner.Predicate.SplitByAnd()...))
			out, err := logical.NewFilter(inner.Input, predicate)
			if err != nil {
				return node
			}
			changed = true
			return out
		},
	}
	output := t.TransformNode(node)

	if changed {
		return output, true
	} else {
		return node, false
	}
}
