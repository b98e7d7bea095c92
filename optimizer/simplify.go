package optimizer

import (
	"context"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

// SimplifyExpressions folds constant subexpressions, applies Boolean identities
// and removes filters with a constant predicate.
func SimplifyExpressions(cfg config.Config) func(node logical.Node) (logical.Node, bool) {
	return func(node logical.Node) (logical.Node, bool) {
		ctx := execution.NewContext(context.Background(), cfg)
		changed := false
		t := Transformers{
			NodeTransformer: func(node logical.Node) logical.Node {
				if out, ok := simplifyNodeExpressions(ctx, node); ok {
					changed = true
					node = out
				}
				if out, ok := removeConstantFilter(node); ok {
					changed = true
					node = out
				}
				return node
			},
		}
		output := t.TransformNode(node)

		if changed {
			return output, true
		} else {
			return node, false
		}
	}
}

func simplifyNodeExpressions(ctx execution.Context, node logical.Node) (logical.Node, bool) {
	exprs := node.Expressions()
	if len(exprs) == 0 {
		return node, false
	}
	schemas, err := node.ExpressionSchemas()
	if err != nil {
		return node, false
	}
	// Only projections and aggregations name their output columns after their expressions.
	keepNames := node.NodeType == logical.NodeTypeProject || node.NodeType == logical.NodeTypeGroupBy
	changed := false
	out := make([]logical.Expression, len(exprs))
	for i := range exprs {
		var curChanged bool
		out[i], curChanged = simplifyExpression(ctx, exprs[i], schemas[i])
		if keepNames && curChanged {
			out[i] = withOutputName(out[i], exprs[i].OutputName())
		}
		changed = changed || curChanged
	}
	if !changed {
		return node, false
	}
	rebuilt, err := node.WithExpressions(out)
	if err != nil {
		return node, false
	}
	return rebuilt, true
}

func simplifyExpression(ctx execution.Context, expr logical.Expression, schema octoframe.Schema) (logical.Expression, bool) {
	changed := false
	out := expr.Transform(func(expr logical.Expression) logical.Expression {
		simplified, ok := foldConstant(ctx, expr)
		if !ok {
			simplified, ok = applyBooleanIdentities(expr, schema)
		}
		if !ok {
			return expr
		}
		changed = true
		return simplified
	})
	return out, changed
}

// foldConstant evaluates expressions which don't depend on any row.
// Expressions failing to evaluate are left as they are, so they fail at execution time.
func foldConstant(ctx execution.Context, expr logical.Expression) (logical.Expression, bool) {
	switch expr.ExpressionType {
	case logical.ExpressionTypeLiteral, logical.ExpressionTypeColumn, logical.ExpressionTypeAlias,
		logical.ExpressionTypeAggregate, logical.ExpressionTypeWindow:
		return expr, false
	}
	if expr.Contains(logical.ExpressionTypeColumn) || expr.Contains(logical.ExpressionTypeAggregate) || expr.Contains(logical.ExpressionTypeWindow) {
		return expr, false
	}
	value, err := execution.EvaluateConstant(ctx, expr)
	if err != nil || value.Type.TypeID == octoframe.TypeIDList {
		return expr, false
	}
	return logical.Lit(value), true
}

// applyBooleanIdentities rewrites the identities which hold under three-valued logic.
// Dropping an operand is only done when it's Boolean already, as it would otherwise change the type.
func applyBooleanIdentities(expr logical.Expression, schema octoframe.Schema) (logical.Expression, bool) {
	isBoolean := func(expr logical.Expression) bool {
		t, err := logical.TypeOf(expr, schema)
		return err == nil && t.TypeID == octoframe.TypeIDBoolean
	}

	switch expr.ExpressionType {
	case logical.ExpressionTypeBinaryOp:
		op := expr.BinaryOp.Op
		if op != logical.BinaryOperatorAnd && op != logical.BinaryOperatorOr {
			return expr, false
		}
		for _, operands := range [][2]logical.Expression{
			{expr.BinaryOp.Left, expr.BinaryOp.Right},
			{expr.BinaryOp.Right, expr.BinaryOp.Left},
		} {
			value, ok := booleanLiteral(operands[0])
			if !ok {
				continue
			}
			other := operands[1]
			switch {
			case op == logical.BinaryOperatorAnd && !value:
				return logical.Lit(false), true
			case op == logical.BinaryOperatorOr && value:
				return logical.Lit(true), true
			case isBoolean(other):
				return other, true
			}
		}

	case logical.ExpressionTypeUnaryOp:
		if expr.UnaryOp.Op != logical.UnaryOperatorNot {
			return expr, false
		}
		inner := expr.UnaryOp.Operand
		if inner.ExpressionType == logical.ExpressionTypeUnaryOp && inner.UnaryOp.Op == logical.UnaryOperatorNot && isBoolean(inner.UnaryOp.Operand) {
			return inner.UnaryOp.Operand, true
		}
	}
	return expr, false
}

func booleanLiteral(expr logical.Expression) (bool, bool) {
	if expr.ExpressionType != logical.ExpressionTypeLiteral {
		return false, false
	}
	value := expr.Literal.Value
	if value.IsNull() || value.Type.TypeID != octoframe.TypeIDBoolean {
		return false, false
	}
	return value.Boolean, true
}

func withOutputName(expr logical.Expression, name string) logical.Expression {
	if expr.OutputName() == name {
		return expr
	}
	return expr.As(name)
}

// removeConstantFilter drops filters which keep every row and turns filters which keep no row into an empty limit.
func removeConstantFilter(node logical.Node) (logical.Node, bool) {
	switch node.NodeType {
	case logical.NodeTypeFilter:
		predicate := node.Filter.Predicate
		if predicate.ExpressionType != logical.ExpressionTypeLiteral {
			return node, false
		}
		if value, ok := booleanLiteral(predicate); ok && value {
			return node.Filter.Input, true
		}
		out, err := logical.NewLimit(node.Filter.Input, 0, 0)
		if err != nil {
			return node, false
		}
		return out, true

	case logical.NodeTypeScan:
		if node.Scan.Predicate == nil {
			return node, false
		}
		if value, ok := booleanLiteral(*node.Scan.Predicate); !ok || !value {
			return node, false
		}
		out, err := logical.NewScanWith(node.Scan.Source, node.Scan.Projection, nil, node.Scan.Limit)
		if err != nil {
			return node, false
		}
		return out, true
	}
	return node, false
}
