package optimizer

import (
	"slices"

	"github.com/cube2222/octoframe/logical"
)

// PushDownProjections removes expressions and columns nobody reads, narrowing the scans to the columns actually used.
func PushDownProjections(node logical.Node) (logical.Node, bool) {
	p := &projectionPruner{}
	output, err := p.prune(node, nil)
	if err != nil || !p.changed {
		return node, false
	}
	return output, true
}

type projectionPruner struct {
	changed bool
}

// columnSet is the set of columns required from a node's output. A nil set means all columns.
type columnSet map[string]bool

func (s columnSet) with(names ...string) columnSet {
	if s == nil {
		return nil
	}
	out := make(columnSet, len(s)+len(names))
	for name := range s {
		out[name] = true
	}
	for _, name := range names {
		out[name] = true
	}
	return out
}

func columnsOf(exprs ...logical.Expression) []string {
	var out []string
	for _, expr := range exprs {
		out = append(out, expr.ColumnNames()...)
	}
	return out
}

func (p *projectionPruner) prune(node logical.Node, required columnSet) (logical.Node, error) {
	switch node.NodeType {
	case logical.NodeTypeScan:
		return p.pruneScan(node, required)

	case logical.NodeTypeFilter:
		return p.pruneChildren(node, required.with(columnsOf(node.Filter.Predicate)...))

	case logical.NodeTypeProject:
		exprs := node.Project.Expressions
		if required != nil {
			var kept []logical.Expression
			for _, expr := range exprs {
				if required[expr.OutputName()] {
					kept = append(kept, expr)
				}
			}
			if len(kept) == 0 {
				kept = exprs[:min(len(exprs), 1)]
			}
			if len(kept) < len(exprs) {
				p.changed = true
				exprs = kept
			}
		}
		child, err := p.prune(node.Project.Input, columnSet{}.with(columnsOf(exprs...)...))
		if err != nil {
			return logical.Node{}, err
		}
		return logical.NewProject(child, exprs...)

	case logical.NodeTypeGroupBy:
		groupBy := node.GroupBy
		aggregations := groupBy.Aggregations
		if required != nil {
			var kept []logical.Expression
			for _, agg := range aggregations {
				if required[agg.OutputName()] {
					kept = append(kept, agg)
				}
			}
			if len(kept) == 0 && len(groupBy.Keys) == 0 {
				kept = aggregations[:min(len(aggregations), 1)]
			}
			if len(kept) < len(aggregations) {
				p.changed = true
				aggregations = kept
			}
		}
		child, err := p.prune(groupBy.Input, columnSet{}.with(columnsOf(append(append([]logical.Expression(nil), groupBy.Keys...), aggregations...)...)...))
		if err != nil {
			return logical.Node{}, err
		}
		return logical.NewGroupBy(child, groupBy.Keys, aggregations, groupBy.MaintainOrder)

	case logical.NodeTypeJoin:
		return p.pruneJoin(node, required)

	case logical.NodeTypeSort:
		return p.pruneChildren(node, required.with(columnsOf(node.Sort.By...)...))

	case logical.NodeTypeDistinct:
		if node.Distinct.Subset == nil {
			return p.pruneChildren(node, nil)
		}
		return p.pruneChildren(node, required.with(node.Distinct.Subset...))

	case logical.NodeTypeLimit:
		return p.pruneChildren(node, required)

	case logical.NodeTypeUnion, logical.NodeTypeCache:
		return p.pruneChildren(node, nil)

	case logical.NodeTypeExplode:
		// Exploded columns decide the row count, so they're read even if nobody uses them.
		return p.pruneChildren(node, required.with(node.Explode.Columns...))

	case logical.NodeTypeMelt:
		melt := node.Melt
		return p.pruneChildren(node, columnSet{}.with(append(slices.Clone(melt.IDColumns), melt.ValueColumns...)...))
	}
	panic("unexhaustive node type match")
}

func (p *projectionPruner) pruneChildren(node logical.Node, required columnSet) (logical.Node, error) {
	children := node.Children()
	newChildren := make([]logical.Node, len(children))
	for i := range children {
		child, err := p.prune(children[i], required)
		if err != nil {
			return logical.Node{}, err
		}
		newChildren[i] = child
	}
	return node.WithChildren(newChildren)
}

// pruneScan narrows the scan projection, keeping source order. At least one column is always scanned.
func (p *projectionPruner) pruneScan(node logical.Node, required columnSet) (logical.Node, error) {
	if required == nil {
		return node, nil
	}
	sourceSchema, err := node.Scan.Source.Schema()
	if err != nil {
		return logical.Node{}, err
	}
	var projection []string
	for _, name := range sourceSchema.Names() {
		if required[name] && node.Schema.Has(name) {
			projection = append(projection, name)
		}
	}
	if len(projection) == 0 {
		projection = node.Schema.Names()[:min(node.Schema.Len(), 1)]
	}
	if len(projection) == node.Schema.Len() {
		return node, nil
	}
	p.changed = true
	scan := node.Scan
	return logical.NewScanWith(scan.Source, projection, scan.Predicate, scan.Limit)
}

// pruneJoin requires the keys on both sides, plus the left columns whose names cause suffixes
// on required right columns, so that output names don't change.
func (p *projectionPruner) pruneJoin(node logical.Node, required columnSet) (logical.Node, error) {
	join := node.Join
	var leftRequired, rightRequired columnSet
	if required != nil {
		columns, err := join.OutputColumns()
		if err != nil {
			return logical.Node{}, err
		}
		leftRequired, rightRequired = columnSet{}, columnSet{}
		for _, column := range columns {
			if !required[column.Name] {
				continue
			}
			if column.FromRight {
				name := join.Right.Schema.Fields[column.Index].Name
				rightRequired[name] = true
				if column.Name != name {
					leftRequired[name] = true
				}
				continue
			}
			leftRequired[join.Left.Schema.Fields[column.Index].Name] = true
			if column.CoalesceRightIndex != -1 {
				rightRequired[join.Right.Schema.Fields[column.CoalesceRightIndex].Name] = true
			}
		}
	}
	if join.How == logical.JoinTypeSemi || join.How == logical.JoinTypeAnti {
		rightRequired = columnSet{}
	}

	left, err := p.prune(join.Left, leftRequired.with(columnsOf(join.LeftOn...)...))
	if err != nil {
		return logical.Node{}, err
	}
	right, err := p.prune(join.Right, rightRequired.with(columnsOf(join.RightOn...)...))
	if err != nil {
		return logical.Node{}, err
	}
	return node.WithChildren([]logical.Node{left, right})
}
