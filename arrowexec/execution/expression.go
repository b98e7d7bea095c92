package execution

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cube2222/octoframe/arrowexec/kernels"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// Evaluate computes expr over tbl, chunk by chunk in parallel. The resulting column is co-chunked with tbl.
func Evaluate(ctx Context, expr logical.Expression, tbl *table.Table) (*table.Column, error) {
	info, err := logical.Typecheck(expr, tbl.Schema())
	if err != nil {
		return nil, err
	}
	if info.HasAggregate {
		return nil, octoframe.NewPlanError("aggregate expression %s can only be used in a group by", expr)
	}
	if info.HasWindow {
		return nil, octoframe.NewPlanError("window expression %s can only be used in a projection", expr)
	}

	chunks, err := ForEachChunk(ctx, tbl.NumChunks(), func(chunk int) (arrow.Array, error) {
		return evaluateChunk(ctx, expr, tbl, chunk)
	})
	if err != nil {
		return nil, err
	}
	return table.NewColumn(expr.OutputName(), info.Type, chunks...)
}

// EvaluateAll evaluates a list of expressions over the same table.
func EvaluateAll(ctx Context, exprs []logical.Expression, tbl *table.Table) ([]*table.Column, error) {
	out := make([]*table.Column, len(exprs))
	for i := range exprs {
		col, err := Evaluate(ctx, exprs[i], tbl)
		if err != nil {
			return nil, fmt.Errorf("couldn't evaluate expression %s: %w", exprs[i], err)
		}
		out[i] = col
	}
	return out, nil
}

// EvaluateConstant evaluates an expression which doesn't reference any columns.
func EvaluateConstant(ctx Context, expr logical.Expression) (octoframe.Value, error) {
	col, err := Evaluate(ctx, expr, table.NewEmptyTable(1))
	if err != nil {
		return octoframe.Value{}, err
	}
	return col.Value(0), nil
}

type typedArray struct {
	arr arrow.Array
	typ octoframe.Type
}

func evaluateChunk(ctx Context, expr logical.Expression, tbl *table.Table, chunk int) (arrow.Array, error) {
	mem := ctx.Allocator
	n := tbl.ChunkLen(chunk)
	columns := tbl.ChunkColumns(chunk)
	schema := tbl.Schema()

	// Every intermediate array is owned by this evaluation and released at the end, except the result.
	var owned []arrow.Array
	own := func(arr arrow.Array, typ octoframe.Type) typedArray {
		owned = append(owned, arr)
		return typedArray{arr: arr, typ: typ}
	}
	cast := func(value typedArray, to octoframe.Type) (arrow.Array, error) {
		out, err := kernels.Cast(mem, value.arr, value.typ, to, false)
		if err != nil {
			return nil, err
		}
		owned = append(owned, out)
		return out, nil
	}

	result, err := logical.Fold(expr, func(expr logical.Expression, children []typedArray) (typedArray, error) {
		if err := ctx.Context.Err(); err != nil {
			return typedArray{}, err
		}

		switch expr.ExpressionType {
		case logical.ExpressionTypeColumn:
			index := schema.FieldIndex(expr.Column.Name)
			if index == -1 {
				return typedArray{}, octoframe.NewSchemaError("unknown column '%s'", expr.Column.Name)
			}
			arr := columns[index]
			arr.Retain()
			return own(arr, schema.Fields[index].Type), nil

		case logical.ExpressionTypeLiteral:
			value := expr.Literal.Value
			arr, err := kernels.Broadcast(mem, value, value.Type, n)
			if err != nil {
				return typedArray{}, fmt.Errorf("couldn't broadcast literal: %w", err)
			}
			return own(arr, value.Type), nil

		case logical.ExpressionTypeBinaryOp:
			return evaluateBinaryOp(ctx, expr.BinaryOp.Op, children[0], children[1], cast, own)

		case logical.ExpressionTypeUnaryOp:
			operand := children[0]
			switch expr.UnaryOp.Op {
			case logical.UnaryOperatorNot:
				booleans, err := cast(operand, octoframe.Boolean)
				if err != nil {
					return typedArray{}, err
				}
				return own(kernels.Not(mem, booleans), octoframe.Boolean), nil
			case logical.UnaryOperatorNegate:
				arr, err := kernels.Negate(mem, operand.arr, operand.typ, ctx.Config.CheckedArithmetic)
				if err != nil {
					return typedArray{}, octoframe.ExecutionFailure("negate", err)
				}
				return own(arr, operand.typ), nil
			case logical.UnaryOperatorIsNull:
				return own(kernels.IsNull(mem, operand.arr), octoframe.Boolean), nil
			case logical.UnaryOperatorIsNotNull:
				return own(kernels.IsNotNull(mem, operand.arr), octoframe.Boolean), nil
			}
			panic("unexhaustive unary operator match")

		case logical.ExpressionTypeCast:
			operand := children[0]
			arr, err := kernels.Cast(mem, operand.arr, operand.typ, expr.Cast.Target, expr.Cast.Strict)
			if err != nil {
				return typedArray{}, err
			}
			return own(arr, expr.Cast.Target), nil

		case logical.ExpressionTypeAlias:
			operand := children[0]
			operand.arr.Retain()
			return own(operand.arr, operand.typ), nil

		case logical.ExpressionTypeTernary:
			predicate, ifTrue, ifFalse := children[0], children[1], children[2]
			typ, ok := octoframe.Supertype(ifTrue.typ, ifFalse.typ)
			if !ok {
				return typedArray{}, octoframe.NewTypeError("ternary branches have incompatible types %s and %s", ifTrue.typ, ifFalse.typ)
			}
			mask, err := cast(predicate, octoframe.Boolean)
			if err != nil {
				return typedArray{}, err
			}
			left, err := cast(ifTrue, typ)
			if err != nil {
				return typedArray{}, err
			}
			right, err := cast(ifFalse, typ)
			if err != nil {
				return typedArray{}, err
			}
			return own(kernels.Ternary(mem, mask, left, right), typ), nil

		case logical.ExpressionTypeAggregate:
			return typedArray{}, octoframe.NewPlanError("aggregate expression %s can only be used in a group by", expr)

		case logical.ExpressionTypeWindow:
			return typedArray{}, octoframe.NewPlanError("window expression %s can only be used in a projection", expr)
		}
		panic("unexhaustive expression type match")
	})

	if err == nil {
		result.arr.Retain()
	}
	for _, arr := range owned {
		arr.Release()
	}
	if err != nil {
		return nil, err
	}
	return result.arr, nil
}

func evaluateBinaryOp(
	ctx Context,
	op logical.BinaryOperator,
	left, right typedArray,
	cast func(value typedArray, to octoframe.Type) (arrow.Array, error),
	own func(arr arrow.Array, typ octoframe.Type) typedArray,
) (typedArray, error) {
	mem := ctx.Allocator
	outType, err := logical.BinaryOpType(op, left.typ, right.typ)
	if err != nil {
		return typedArray{}, err
	}

	switch {
	case op.IsLogical():
		l, err := cast(left, octoframe.Boolean)
		if err != nil {
			return typedArray{}, err
		}
		r, err := cast(right, octoframe.Boolean)
		if err != nil {
			return typedArray{}, err
		}
		if op == logical.BinaryOperatorAnd {
			return own(kernels.And(mem, l, r), octoframe.Boolean), nil
		}
		return own(kernels.Or(mem, l, r), octoframe.Boolean), nil

	case op.IsComparison():
		operandType, _ := octoframe.Supertype(left.typ, right.typ)
		l, err := cast(left, operandType)
		if err != nil {
			return typedArray{}, err
		}
		r, err := cast(right, operandType)
		if err != nil {
			return typedArray{}, err
		}
		arr, err := kernels.Compare(mem, op, l, r, operandType)
		if err != nil {
			return typedArray{}, err
		}
		return own(arr, octoframe.Boolean), nil
	}

	leftType, rightType := logical.ArithmeticOperandType(op, left.typ, right.typ)
	l, err := cast(left, leftType)
	if err != nil {
		return typedArray{}, err
	}
	r, err := cast(right, rightType)
	if err != nil {
		return typedArray{}, err
	}
	arr, err := kernels.Arithmetic(mem, op, l, r, outType, ctx.Config.CheckedArithmetic)
	if err != nil {
		return typedArray{}, octoframe.ExecutionFailure(op.String(), err)
	}
	return own(arr, outType), nil
}
