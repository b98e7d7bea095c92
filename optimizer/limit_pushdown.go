package optimizer

import (
	"math"

	"github.com/cube2222/octoframe/logical"
)

// PushDownLimit moves limits below projections, and turns them into hints for scans and sorts.
func PushDownLimit(node logical.Node) (logical.Node, bool) {
	changed := false
	t := Transformers{
		NodeTransformer: func(node logical.Node) logical.Node {
			if node.NodeType != logical.NodeTypeLimit {
				return node
			}
			out, ok := pushLimit(node)
			if !ok {
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

func pushLimit(node logical.Node) (logical.Node, bool) {
	limit := node.Limit
	// A limit reaching the end of the input, or overflowing, bounds nothing.
	needed := limit.N + limit.Offset
	if needed < 0 || needed == math.MaxInt {
		return node, false
	}

	input := limit.Input
	switch input.NodeType {
	case logical.NodeTypeProject:
		for _, expr := range input.Project.Expressions {
			if expr.Contains(logical.ExpressionTypeWindow) {
				return node, false
			}
		}
		pushed, err := logical.NewLimit(input.Project.Input, limit.N, limit.Offset)
		if err != nil {
			return node, false
		}
		out, err := input.WithChildren([]logical.Node{pushed})
		if err != nil {
			return node, false
		}
		return out, true

	case logical.NodeTypeScan:
		scan := input.Scan
		if scan.Limit >= 0 && scan.Limit <= needed {
			return node, false
		}
		newScan, err := logical.NewScanWith(scan.Source, scan.Projection, scan.Predicate, needed)
		if err != nil {
			return node, false
		}
		out, err := node.WithChildren([]logical.Node{newScan})
		if err != nil {
			return node, false
		}
		return out, true

	case logical.NodeTypeSort:
		if input.Sort.Limit >= 0 && input.Sort.Limit <= needed {
			return node, false
		}
		sort, err := input.WithSortLimit(needed)
		if err != nil {
			return node, false
		}
		out, err := node.WithChildren([]logical.Node{sort})
		if err != nil {
			return node, false
		}
		return out, true
	}
	return node, false
}
