package optimizer

import (
	"github.com/cube2222/octoframe/logical"
)

// SelectJoinBuildSide makes joins build their hash table on the input estimated to be smaller.
// Joins whose inputs can't be estimated are left for the executor to decide on actual sizes.
func SelectJoinBuildSide(node logical.Node) (logical.Node, bool) {
	changed := false
	t := Transformers{
		NodeTransformer: func(node logical.Node) logical.Node {
			if node.NodeType != logical.NodeTypeJoin || node.Join.BuildSide != logical.BuildSideAuto {
				return node
			}
			if node.Join.How == logical.JoinTypeSemi || node.Join.How == logical.JoinTypeAnti {
				return node
			}
			left, right := EstimateRows(node.Join.Left), EstimateRows(node.Join.Right)
			if left < 0 || right < 0 {
				return node
			}
			changed = true
			if left < right {
				return node.WithBuildSide(logical.BuildSideLeft)
			}
			return node.WithBuildSide(logical.BuildSideRight)
		},
	}
	output := t.TransformNode(node)

	if changed {
		return output, true
	} else {
		return node, false
	}
}

// EstimateRows returns a rough row count estimate of the node's output, -1 if unknown.
func EstimateRows(node logical.Node) int {
	switch node.NodeType {
	case logical.NodeTypeScan:
		estimate := node.Scan.Source.Capabilities().EstimatedRows
		if limit := node.Scan.Limit; limit >= 0 && (estimate < 0 || limit < estimate) {
			return limit
		}
		return estimate

	case logical.NodeTypeFilter:
		return half(EstimateRows(node.Filter.Input))

	case logical.NodeTypeGroupBy:
		if len(node.GroupBy.Keys) == 0 {
			return 1
		}
		return half(EstimateRows(node.GroupBy.Input))

	case logical.NodeTypeLimit:
		input := EstimateRows(node.Limit.Input)
		if input < 0 {
			return node.Limit.N
		}
		return min(node.Limit.N, max(input-node.Limit.Offset, 0))

	case logical.NodeTypeSort:
		input := EstimateRows(node.Sort.Input)
		if limit := node.Sort.Limit; limit >= 0 && (input < 0 || limit < input) {
			return limit
		}
		return input

	case logical.NodeTypeJoin:
		left, right := EstimateRows(node.Join.Left), EstimateRows(node.Join.Right)
		if left < 0 || right < 0 {
			return -1
		}
		return max(left, right)

	case logical.NodeTypeUnion:
		total := 0
		for _, input := range node.Union.Inputs {
			estimate := EstimateRows(input)
			if estimate < 0 {
				return -1
			}
			total += estimate
		}
		return total

	case logical.NodeTypeProject, logical.NodeTypeDistinct, logical.NodeTypeCache:
		return EstimateRows(node.Children()[0])

	case logical.NodeTypeExplode:
		// Every input row produces at least one row.
		return EstimateRows(node.Explode.Input)

	case logical.NodeTypeMelt:
		input := EstimateRows(node.Melt.Input)
		if input < 0 {
			return input
		}
		return input * len(node.Melt.ValueColumns)
	}
	panic("unexhaustive node type match")
}

func half(estimate int) int {
	if estimate < 0 {
		return estimate
	}
	return (estimate + 1) / 2
}
