package logical

import (
	"fmt"
	"time"

	"github.com/cube2222/octoframe/octoframe"
)

func Col(name string) Expression {
	return Expression{
		ExpressionType: ExpressionTypeColumn,
		Column:         &Column{Name: name},
	}
}

func Cols(names ...string) []Expression {
	out := make([]Expression, len(names))
	for i := range names {
		out[i] = Col(names[i])
	}
	return out
}

// Lit creates a literal out of a Go value or an octoframe.Value. nil is the untyped null.
func Lit(value interface{}) Expression {
	var v octoframe.Value
	switch x := value.(type) {
	case nil:
		v = octoframe.NewNull()
	case octoframe.Value:
		v = x
	case bool:
		v = octoframe.NewBoolean(x)
	case int:
		v = octoframe.NewInt(int64(x))
	case int64:
		v = octoframe.NewInt(x)
	case int32:
		v = octoframe.NewIntOfType(octoframe.Int32, int64(x))
	case uint64:
		v = octoframe.NewUInt(x)
	case uint32:
		v = octoframe.NewUIntOfType(octoframe.UInt32, uint64(x))
	case float64:
		v = octoframe.NewFloat(x)
	case float32:
		v = octoframe.NewFloat32(x)
	case string:
		v = octoframe.NewString(x)
	case time.Time:
		v = octoframe.NewDatetime(x)
	case time.Duration:
		v = octoframe.NewDuration(x)
	default:
		panic(fmt.Sprintf("unsupported literal Go type %T", value))
	}
	return Expression{
		ExpressionType: ExpressionTypeLiteral,
		Literal:        &Literal{Value: v},
	}
}

func NewBinaryOp(op BinaryOperator, left, right Expression) Expression {
	return Expression{
		ExpressionType: ExpressionTypeBinaryOp,
		BinaryOp:       &BinaryOp{Op: op, Left: left, Right: right},
	}
}

func NewUnaryOp(op UnaryOperator, operand Expression) Expression {
	return Expression{
		ExpressionType: ExpressionTypeUnaryOp,
		UnaryOp:        &UnaryOp{Op: op, Operand: operand},
	}
}

func (e Expression) Add(other Expression) Expression { return NewBinaryOp(BinaryOperatorAdd, e, other) }
func (e Expression) Sub(other Expression) Expression { return NewBinaryOp(BinaryOperatorSub, e, other) }
func (e Expression) Mul(other Expression) Expression { return NewBinaryOp(BinaryOperatorMul, e, other) }
func (e Expression) Div(other Expression) Expression { return NewBinaryOp(BinaryOperatorDiv, e, other) }
func (e Expression) Mod(other Expression) Expression { return NewBinaryOp(BinaryOperatorMod, e, other) }
func (e Expression) Eq(other Expression) Expression  { return NewBinaryOp(BinaryOperatorEq, e, other) }
func (e Expression) NotEq(other Expression) Expression {
	return NewBinaryOp(BinaryOperatorNotEq, e, other)
}
func (e Expression) Lt(other Expression) Expression   { return NewBinaryOp(BinaryOperatorLt, e, other) }
func (e Expression) LtEq(other Expression) Expression { return NewBinaryOp(BinaryOperatorLtEq, e, other) }
func (e Expression) Gt(other Expression) Expression   { return NewBinaryOp(BinaryOperatorGt, e, other) }
func (e Expression) GtEq(other Expression) Expression { return NewBinaryOp(BinaryOperatorGtEq, e, other) }
func (e Expression) And(other Expression) Expression  { return NewBinaryOp(BinaryOperatorAnd, e, other) }
func (e Expression) Or(other Expression) Expression   { return NewBinaryOp(BinaryOperatorOr, e, other) }

func (e Expression) Not() Expression       { return NewUnaryOp(UnaryOperatorNot, e) }
func (e Expression) Negate() Expression    { return NewUnaryOp(UnaryOperatorNegate, e) }
func (e Expression) IsNull() Expression    { return NewUnaryOp(UnaryOperatorIsNull, e) }
func (e Expression) IsNotNull() Expression { return NewUnaryOp(UnaryOperatorIsNotNull, e) }

func (e Expression) As(name string) Expression {
	return Expression{
		ExpressionType: ExpressionTypeAlias,
		Alias:          &Alias{Name: name, Operand: e},
	}
}

// CastTo converts values to the target type, producing nulls for values which can't be represented.
func (e Expression) CastTo(target octoframe.Type) Expression {
	return Expression{
		ExpressionType: ExpressionTypeCast,
		Cast:           &Cast{Target: target, Operand: e},
	}
}

// StrictCast converts values to the target type, failing execution on values which can't be represented.
func (e Expression) StrictCast(target octoframe.Type) Expression {
	return Expression{
		ExpressionType: ExpressionTypeCast,
		Cast:           &Cast{Target: target, Operand: e, Strict: true},
	}
}

func (e Expression) aggregate(kind AggregateKind) Expression {
	operand := e
	return Expression{
		ExpressionType: ExpressionTypeAggregate,
		Aggregate:      &Aggregate{Kind: kind, Operand: &operand, DDOF: 1},
	}
}

// Count counts the non-null values.
func (e Expression) Count() Expression         { return e.aggregate(AggregateKindCount) }
func (e Expression) Sum() Expression           { return e.aggregate(AggregateKindSum) }
func (e Expression) Mean() Expression          { return e.aggregate(AggregateKindMean) }
func (e Expression) Min() Expression           { return e.aggregate(AggregateKindMin) }
func (e Expression) Max() Expression           { return e.aggregate(AggregateKindMax) }
func (e Expression) First() Expression         { return e.aggregate(AggregateKindFirst) }
func (e Expression) Last() Expression          { return e.aggregate(AggregateKindLast) }
func (e Expression) NUnique() Expression       { return e.aggregate(AggregateKindNUnique) }
func (e Expression) List() Expression          { return e.aggregate(AggregateKindList) }
func (e Expression) Median() Expression        { return e.aggregate(AggregateKindMedian) }
func (e Expression) ApproxNUnique() Expression { return e.aggregate(AggregateKindApproxNUnique) }

func (e Expression) Std(ddof int) Expression {
	out := e.aggregate(AggregateKindStd)
	out.Aggregate.DDOF = ddof
	return out
}

func (e Expression) Var(ddof int) Expression {
	out := e.aggregate(AggregateKindVar)
	out.Aggregate.DDOF = ddof
	return out
}

func (e Expression) Quantile(q float64) Expression {
	out := e.aggregate(AggregateKindQuantile)
	out.Aggregate.Quantile = q
	return out
}

// CountRows counts all rows, nulls included.
func CountRows() Expression {
	return Expression{
		ExpressionType: ExpressionTypeAggregate,
		Aggregate:      &Aggregate{Kind: AggregateKindCount},
	}
}

func newWindow(kind WindowKind, operand *Expression, offset int) Expression {
	return Expression{
		ExpressionType: ExpressionTypeWindow,
		Window:         &Window{Kind: kind, Operand: operand, Offset: offset},
	}
}

func RowNumber() Expression { return newWindow(WindowKindRowNumber, nil, 0) }
func Rank() Expression      { return newWindow(WindowKindRank, nil, 0) }
func DenseRank() Expression { return newWindow(WindowKindDenseRank, nil, 0) }

func (e Expression) CumSum() Expression {
	operand := e
	return newWindow(WindowKindCumSum, &operand, 0)
}

// Lag returns the value n rows before the current one within the partition, or null.
func (e Expression) Lag(n int) Expression {
	operand := e
	return newWindow(WindowKindLag, &operand, n)
}

// Lead returns the value n rows after the current one within the partition, or null.
func (e Expression) Lead(n int) Expression {
	operand := e
	return newWindow(WindowKindLead, &operand, n)
}

// Over turns an aggregate into a window broadcast over each partition,
// or sets the partitioning of a window function.
func (e Expression) Over(partitionBy ...Expression) Expression {
	switch e.ExpressionType {
	case ExpressionTypeAggregate:
		function := *e.Aggregate
		return Expression{
			ExpressionType: ExpressionTypeWindow,
			Window: &Window{
				Kind:        WindowKindAggregate,
				Function:    &function,
				PartitionBy: partitionBy,
			},
		}
	case ExpressionTypeWindow:
		window := *e.Window
		window.PartitionBy = partitionBy
		return Expression{ExpressionType: ExpressionTypeWindow, Window: &window}
	case ExpressionTypeAlias:
		return e.Alias.Operand.Over(partitionBy...).As(e.Alias.Name)
	}
	panic(fmt.Sprintf("Over can only be used with aggregates and window functions, got %s", e.ExpressionType))
}

// OrderBy sets the ordering of rows within each window partition.
// descending may be nil, or have one entry per key.
func (e Expression) OrderBy(by []Expression, descending []bool) Expression {
	switch e.ExpressionType {
	case ExpressionTypeWindow:
		window := *e.Window
		window.OrderBy = by
		window.Descending = descending
		return Expression{ExpressionType: ExpressionTypeWindow, Window: &window}
	case ExpressionTypeAlias:
		return e.Alias.Operand.OrderBy(by, descending).As(e.Alias.Name)
	}
	panic(fmt.Sprintf("OrderBy can only be used with window expressions, got %s", e.ExpressionType))
}

type WhenBuilder struct {
	predicate Expression
}

type ThenBuilder struct {
	predicate Expression
	ifTrue    Expression
}

func When(predicate Expression) WhenBuilder {
	return WhenBuilder{predicate: predicate}
}

func (w WhenBuilder) Then(ifTrue Expression) ThenBuilder {
	return ThenBuilder{predicate: w.predicate, ifTrue: ifTrue}
}

func (t ThenBuilder) Otherwise(ifFalse Expression) Expression {
	return Expression{
		ExpressionType: ExpressionTypeTernary,
		Ternary:        &Ternary{Predicate: t.predicate, IfTrue: t.ifTrue, IfFalse: ifFalse},
	}
}
