package optimizer

import (
	"slices"

	"github.com/cube2222/octoframe/logical"
)

// PushDownPredicates moves filter conjuncts as close to the scans as they can go,
// eventually into the scan predicates themselves.
func PushDownPredicates(node logical.Node) (logical.Node, bool) {
	changed := false
	t := Transformers{
		NodeTransformer: func(node logical.Node) logical.Node {
			if node.NodeType != logical.NodeTypeFilter {
				return node
			}
			out, ok, err := pushDown(node.Filter.Input, node.Filter.Predicate.SplitByAnd())
			if err != nil || !ok {
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

// pushDown returns a plan equivalent to filtering input by all the conjuncts.
// It reports false if no conjunct could be moved below input.
func pushDown(input logical.Node, conjuncts []logical.Expression) (logical.Node, bool, error) {
	var newInput logical.Node
	var remaining []logical.Expression
	var pushed bool
	var err error

	switch input.NodeType {
	case logical.NodeTypeFilter:
		// Adjacent filters get merged and pushed down together.
		merged := append(append([]logical.Expression(nil), conjuncts...), input.Filter.Predicate.SplitByAnd()...)
		out, err := filterWith(input.Filter.Input, merged)
		return out, err == nil, err
	case logical.NodeTypeProject:
		newInput, remaining, pushed, err = pushThroughProject(input, conjuncts)
	case logical.NodeTypeSort:
		if input.Sort.Limit >= 0 {
			return input, false, nil
		}
		newInput, remaining, pushed, err = pushIntoSingleInput(input, conjuncts, func(logical.Expression) bool { return true })
	case logical.NodeTypeUnion:
		newInput, remaining, pushed, err = pushThroughUnion(input, conjuncts)
	case logical.NodeTypeGroupBy:
		plainKeys := make(map[string]bool)
		for _, key := range input.GroupBy.Keys {
			if key.ExpressionType == logical.ExpressionTypeColumn {
				plainKeys[key.Column.Name] = true
			}
		}
		if len(plainKeys) == 0 {
			return input, false, nil
		}
		newInput, remaining, pushed, err = pushIntoSingleInput(input, conjuncts, referencesOnly(plainKeys))
	case logical.NodeTypeDistinct:
		subset := make(map[string]bool)
		for _, name := range input.Distinct.SubsetColumns() {
			subset[name] = true
		}
		newInput, remaining, pushed, err = pushIntoSingleInput(input, conjuncts, referencesOnly(subset))
	case logical.NodeTypeExplode:
		kept := make(map[string]bool)
		for _, name := range input.Explode.Input.Schema.Names() {
			if !slices.Contains(input.Explode.Columns, name) {
				kept[name] = true
			}
		}
		newInput, remaining, pushed, err = pushIntoSingleInput(input, conjuncts, referencesOnly(kept))
	case logical.NodeTypeMelt:
		ids := make(map[string]bool)
		for _, name := range input.Melt.IDColumns {
			ids[name] = true
		}
		newInput, remaining, pushed, err = pushIntoSingleInput(input, conjuncts, referencesOnly(ids))
	case logical.NodeTypeJoin:
		newInput, remaining, pushed, err = pushThroughJoin(input, conjuncts)
	case logical.NodeTypeScan:
		newInput, remaining, pushed, err = pushIntoScan(input, conjuncts)
	default:
		return input, false, nil
	}
	if err != nil || !pushed {
		return input, false, err
	}

	predicate, ok := logical.Conjunction(remaining)
	if !ok {
		return newInput, true, nil
	}
	out, err := logical.NewFilter(newInput, predicate)
	if err != nil {
		return logical.Node{}, false, err
	}
	return out, true, nil
}

// filterWith filters the node by the conjuncts, pushing them further down where possible.
func filterWith(node logical.Node, conjuncts []logical.Expression) (logical.Node, error) {
	out, ok, err := pushDown(node, conjuncts)
	if err != nil {
		return logical.Node{}, err
	}
	if ok {
		return out, nil
	}
	predicate, _ := logical.Conjunction(conjuncts)
	return logical.NewFilter(node, predicate)
}

func referencesOnly(allowed map[string]bool) func(logical.Expression) bool {
	return func(conjunct logical.Expression) bool {
		for _, name := range conjunct.ColumnNames() {
			if !allowed[name] {
				return false
			}
		}
		return true
	}
}

func partition(conjuncts []logical.Expression, pushable func(logical.Expression) bool) (pushed, remaining []logical.Expression) {
	for _, conjunct := range conjuncts {
		if pushable(conjunct) {
			pushed = append(pushed, conjunct)
		} else {
			remaining = append(remaining, conjunct)
		}
	}
	return pushed, remaining
}

// pushIntoSingleInput handles nodes which keep the columns of their only input as they are.
func pushIntoSingleInput(node logical.Node, conjuncts []logical.Expression, pushable func(logical.Expression) bool) (logical.Node, []logical.Expression, bool, error) {
	toPush, remaining := partition(conjuncts, pushable)
	if len(toPush) == 0 {
		return node, conjuncts, false, nil
	}
	child, err := filterWith(node.Children()[0], toPush)
	if err != nil {
		return logical.Node{}, nil, false, err
	}
	out, err := node.WithChildren([]logical.Node{child})
	if err != nil {
		return logical.Node{}, nil, false, err
	}
	return out, remaining, true, nil
}

// pushThroughProject rewrites every column reference to the expression producing it,
// so that a renamed column is filtered by its source column.
func pushThroughProject(node logical.Node, conjuncts []logical.Expression) (logical.Node, []logical.Expression, bool, error) {
	producers := make(map[string]logical.Expression, len(node.Project.Expressions))
	for _, expr := range node.Project.Expressions {
		producers[expr.OutputName()] = stripAliases(expr)
	}

	var toPush, remaining []logical.Expression
	for _, conjunct := range conjuncts {
		pushable := true
		for _, name := range conjunct.ColumnNames() {
			producer, ok := producers[name]
			if !ok || producer.Contains(logical.ExpressionTypeWindow) {
				pushable = false
				break
			}
		}
		if !pushable {
			remaining = append(remaining, conjunct)
			continue
		}
		toPush = append(toPush, conjunct.Transform(func(expr logical.Expression) logical.Expression {
			if expr.ExpressionType == logical.ExpressionTypeColumn {
				return producers[expr.Column.Name]
			}
			return expr
		}))
	}
	if len(toPush) == 0 {
		return node, conjuncts, false, nil
	}

	child, err := filterWith(node.Project.Input, toPush)
	if err != nil {
		return logical.Node{}, nil, false, err
	}
	out, err := node.WithChildren([]logical.Node{child})
	if err != nil {
		return logical.Node{}, nil, false, err
	}
	return out, remaining, true, nil
}

func stripAliases(expr logical.Expression) logical.Expression {
	for expr.ExpressionType == logical.ExpressionTypeAlias {
		expr = expr.Alias.Operand
	}
	return expr
}

func pushThroughUnion(node logical.Node, conjuncts []logical.Expression) (logical.Node, []logical.Expression, bool, error) {
	inputs := node.Union.Inputs
	children := make([]logical.Node, len(inputs))
	for i := range inputs {
		child, err := filterWith(inputs[i], conjuncts)
		if err != nil {
			return logical.Node{}, nil, false, err
		}
		children[i] = child
	}
	out, err := node.WithChildren(children)
	if err != nil {
		return logical.Node{}, nil, false, err
	}
	return out, nil, true, nil
}

// pushThroughJoin pushes conjuncts referencing a single side into that side, as long as the join type
// doesn't produce rows with that side's columns missing.
func pushThroughJoin(node logical.Node, conjuncts []logical.Expression) (logical.Node, []logical.Expression, bool, error) {
	join := node.Join
	columns, err := join.OutputColumns()
	if err != nil {
		return logical.Node{}, nil, false, err
	}
	leftColumns := make(map[string]bool)
	rightColumns := make(map[string]string)
	for _, column := range columns {
		switch {
		case column.FromRight:
			rightColumns[column.Name] = join.Right.Schema.Fields[column.Index].Name
		case column.CoalesceRightIndex == -1:
			leftColumns[column.Name] = true
		}
	}
	toLeftAllowed := join.How == logical.JoinTypeInner || join.How == logical.JoinTypeLeft || join.How == logical.JoinTypeSemi || join.How == logical.JoinTypeAnti
	toRightAllowed := join.How == logical.JoinTypeInner || join.How == logical.JoinTypeRight

	var toLeft, toRight, remaining []logical.Expression
	for _, conjunct := range conjuncts {
		names := conjunct.ColumnNames()
		if toLeftAllowed && referencesOnly(leftColumns)(conjunct) {
			toLeft = append(toLeft, conjunct)
			continue
		}
		if toRightAllowed && len(names) > 0 && allIn(names, rightColumns) {
			toRight = append(toRight, conjunct.Transform(func(expr logical.Expression) logical.Expression {
				if expr.ExpressionType == logical.ExpressionTypeColumn {
					return logical.Col(rightColumns[expr.Column.Name])
				}
				return expr
			}))
			continue
		}
		remaining = append(remaining, conjunct)
	}
	if len(toLeft) == 0 && len(toRight) == 0 {
		return node, conjuncts, false, nil
	}

	left, right := join.Left, join.Right
	if len(toLeft) > 0 {
		if left, err = filterWith(left, toLeft); err != nil {
			return logical.Node{}, nil, false, err
		}
	}
	if len(toRight) > 0 {
		if right, err = filterWith(right, toRight); err != nil {
			return logical.Node{}, nil, false, err
		}
	}
	out, err := node.WithChildren([]logical.Node{left, right})
	if err != nil {
		return logical.Node{}, nil, false, err
	}
	return out, remaining, true, nil
}

func allIn(names []string, set map[string]string) bool {
	for _, name := range names {
		if _, ok := set[name]; !ok {
			return false
		}
	}
	return true
}

// pushIntoScan adds the conjuncts to the scan predicate. Scans with a limit are left alone,
// as the limit applies to the rows passing the predicate.
func pushIntoScan(node logical.Node, conjuncts []logical.Expression) (logical.Node, []logical.Expression, bool, error) {
	scan := node.Scan
	if scan.Limit >= 0 {
		return node, conjuncts, false, nil
	}
	var all []logical.Expression
	if scan.Predicate != nil {
		all = append(all, scan.Predicate.SplitByAnd()...)
	}
	all = append(all, conjuncts...)
	predicate, _ := logical.Conjunction(all)
	out, err := logical.NewScanWith(scan.Source, scan.Projection, &predicate, scan.Limit)
	if err != nil {
		return logical.Node{}, nil, false, err
	}
	return out, nil, true, nil
}
