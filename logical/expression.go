package logical

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cube2222/octoframe/octoframe"
)

// Expression is an immutable expression tree node.
// Child expressions are held by value, with their payloads behind pointers,
// so subtrees can be shared between several parents.
type Expression struct {
	ExpressionType ExpressionType
	// Only one of the below may be non-null.
	Column    *Column
	Literal   *Literal
	BinaryOp  *BinaryOp
	UnaryOp   *UnaryOp
	Aggregate *Aggregate
	Window    *Window
	Cast      *Cast
	Alias     *Alias
	Ternary   *Ternary
}

type ExpressionType int

const (
	ExpressionTypeColumn ExpressionType = iota
	ExpressionTypeLiteral
	ExpressionTypeBinaryOp
	ExpressionTypeUnaryOp
	ExpressionTypeAggregate
	ExpressionTypeWindow
	ExpressionTypeCast
	ExpressionTypeAlias
	ExpressionTypeTernary
)

func (t ExpressionType) String() string {
	switch t {
	case ExpressionTypeColumn:
		return "column"
	case ExpressionTypeLiteral:
		return "literal"
	case ExpressionTypeBinaryOp:
		return "binary_op"
	case ExpressionTypeUnaryOp:
		return "unary_op"
	case ExpressionTypeAggregate:
		return "aggregate"
	case ExpressionTypeWindow:
		return "window"
	case ExpressionTypeCast:
		return "cast"
	case ExpressionTypeAlias:
		return "alias"
	case ExpressionTypeTernary:
		return "ternary"
	}
	return "unknown"
}

type Column struct {
	Name string
}

type Literal struct {
	Value octoframe.Value
}

type BinaryOperator int

const (
	BinaryOperatorAdd BinaryOperator = iota
	BinaryOperatorSub
	BinaryOperatorMul
	BinaryOperatorDiv
	BinaryOperatorMod
	BinaryOperatorEq
	BinaryOperatorNotEq
	BinaryOperatorLt
	BinaryOperatorLtEq
	BinaryOperatorGt
	BinaryOperatorGtEq
	BinaryOperatorAnd
	BinaryOperatorOr
)

func (op BinaryOperator) String() string {
	switch op {
	case BinaryOperatorAdd:
		return "+"
	case BinaryOperatorSub:
		return "-"
	case BinaryOperatorMul:
		return "*"
	case BinaryOperatorDiv:
		return "/"
	case BinaryOperatorMod:
		return "%"
	case BinaryOperatorEq:
		return "=="
	case BinaryOperatorNotEq:
		return "!="
	case BinaryOperatorLt:
		return "<"
	case BinaryOperatorLtEq:
		return "<="
	case BinaryOperatorGt:
		return ">"
	case BinaryOperatorGtEq:
		return ">="
	case BinaryOperatorAnd:
		return "AND"
	case BinaryOperatorOr:
		return "OR"
	}
	return "?"
}

func (op BinaryOperator) IsArithmetic() bool {
	return op <= BinaryOperatorMod
}

func (op BinaryOperator) IsComparison() bool {
	return op >= BinaryOperatorEq && op <= BinaryOperatorGtEq
}

func (op BinaryOperator) IsLogical() bool {
	return op == BinaryOperatorAnd || op == BinaryOperatorOr
}

type BinaryOp struct {
	Op    BinaryOperator
	Left  Expression
	Right Expression
}

type UnaryOperator int

const (
	UnaryOperatorNot UnaryOperator = iota
	UnaryOperatorNegate
	UnaryOperatorIsNull
	UnaryOperatorIsNotNull
)

func (op UnaryOperator) String() string {
	switch op {
	case UnaryOperatorNot:
		return "not"
	case UnaryOperatorNegate:
		return "negate"
	case UnaryOperatorIsNull:
		return "is_null"
	case UnaryOperatorIsNotNull:
		return "is_not_null"
	}
	return "?"
}

type UnaryOp struct {
	Op      UnaryOperator
	Operand Expression
}

type AggregateKind int

const (
	AggregateKindCount AggregateKind = iota
	AggregateKindSum
	AggregateKindMean
	AggregateKindMin
	AggregateKindMax
	AggregateKindFirst
	AggregateKindLast
	AggregateKindNUnique
	AggregateKindList
	AggregateKindStd
	AggregateKindVar
	AggregateKindMedian
	AggregateKindQuantile
	AggregateKindApproxNUnique
)

func (k AggregateKind) String() string {
	switch k {
	case AggregateKindCount:
		return "count"
	case AggregateKindSum:
		return "sum"
	case AggregateKindMean:
		return "mean"
	case AggregateKindMin:
		return "min"
	case AggregateKindMax:
		return "max"
	case AggregateKindFirst:
		return "first"
	case AggregateKindLast:
		return "last"
	case AggregateKindNUnique:
		return "n_unique"
	case AggregateKindList:
		return "list"
	case AggregateKindStd:
		return "std"
	case AggregateKindVar:
		return "var"
	case AggregateKindMedian:
		return "median"
	case AggregateKindQuantile:
		return "quantile"
	case AggregateKindApproxNUnique:
		return "approx_n_unique"
	}
	return "?"
}

// Aggregate reduces all values of a group to a single value.
type Aggregate struct {
	Kind AggregateKind
	// Operand is nil only for count(), which counts all rows including nulls.
	Operand *Expression
	// Quantile is used by AggregateKindQuantile.
	Quantile float64
	// DDOF is the delta degrees of freedom used by std and var.
	DDOF int
}

type WindowKind int

const (
	// WindowKindAggregate computes an aggregate over each partition and broadcasts it to every row of the partition.
	WindowKindAggregate WindowKind = iota
	WindowKindRowNumber
	WindowKindRank
	WindowKindDenseRank
	WindowKindCumSum
	WindowKindLag
	WindowKindLead
)

func (k WindowKind) String() string {
	switch k {
	case WindowKindAggregate:
		return "aggregate"
	case WindowKindRowNumber:
		return "row_number"
	case WindowKindRank:
		return "rank"
	case WindowKindDenseRank:
		return "dense_rank"
	case WindowKindCumSum:
		return "cum_sum"
	case WindowKindLag:
		return "lag"
	case WindowKindLead:
		return "lead"
	}
	return "?"
}

// Window evaluates a function over partitions of the input, producing one value per input row.
type Window struct {
	Kind WindowKind
	// Function is set for WindowKindAggregate.
	Function *Aggregate
	// Operand is set for cum_sum, lag and lead.
	Operand *Expression
	// Offset is used by lag and lead.
	Offset      int
	PartitionBy []Expression
	OrderBy     []Expression
	Descending  []bool
}

type Cast struct {
	Target  octoframe.Type
	Operand Expression
	// Strict casts fail on values which can't be represented in the target type, instead of producing nulls.
	Strict bool
}

type Alias struct {
	Name    string
	Operand Expression
}

type Ternary struct {
	Predicate Expression
	IfTrue    Expression
	IfFalse   Expression
}

// id returns the identity of the expression node, which is the address of its payload.
func (e Expression) id() interface{} {
	switch e.ExpressionType {
	case ExpressionTypeColumn:
		return e.Column
	case ExpressionTypeLiteral:
		return e.Literal
	case ExpressionTypeBinaryOp:
		return e.BinaryOp
	case ExpressionTypeUnaryOp:
		return e.UnaryOp
	case ExpressionTypeAggregate:
		return e.Aggregate
	case ExpressionTypeWindow:
		return e.Window
	case ExpressionTypeCast:
		return e.Cast
	case ExpressionTypeAlias:
		return e.Alias
	case ExpressionTypeTernary:
		return e.Ternary
	}
	panic("unexhaustive expression type match")
}

// Children returns the direct sub-expressions.
// For windows the order is: operand, partition by, order by.
func (e Expression) Children() []Expression {
	switch e.ExpressionType {
	case ExpressionTypeColumn, ExpressionTypeLiteral:
		return nil
	case ExpressionTypeBinaryOp:
		return []Expression{e.BinaryOp.Left, e.BinaryOp.Right}
	case ExpressionTypeUnaryOp:
		return []Expression{e.UnaryOp.Operand}
	case ExpressionTypeAggregate:
		if e.Aggregate.Operand == nil {
			return nil
		}
		return []Expression{*e.Aggregate.Operand}
	case ExpressionTypeWindow:
		var out []Expression
		if operand := e.Window.operand(); operand != nil {
			out = append(out, *operand)
		}
		out = append(out, e.Window.PartitionBy...)
		out = append(out, e.Window.OrderBy...)
		return out
	case ExpressionTypeCast:
		return []Expression{e.Cast.Operand}
	case ExpressionTypeAlias:
		return []Expression{e.Alias.Operand}
	case ExpressionTypeTernary:
		return []Expression{e.Ternary.Predicate, e.Ternary.IfTrue, e.Ternary.IfFalse}
	}
	panic("unexhaustive expression type match")
}

func (w *Window) operand() *Expression {
	if w.Kind == WindowKindAggregate && w.Function != nil {
		return w.Function.Operand
	}
	return w.Operand
}

// WithChildren returns a copy of the node with its children replaced, in the order returned by Children.
func (e Expression) WithChildren(children []Expression) Expression {
	switch e.ExpressionType {
	case ExpressionTypeColumn, ExpressionTypeLiteral:
		return e
	case ExpressionTypeBinaryOp:
		return Expression{
			ExpressionType: ExpressionTypeBinaryOp,
			BinaryOp:       &BinaryOp{Op: e.BinaryOp.Op, Left: children[0], Right: children[1]},
		}
	case ExpressionTypeUnaryOp:
		return Expression{
			ExpressionType: ExpressionTypeUnaryOp,
			UnaryOp:        &UnaryOp{Op: e.UnaryOp.Op, Operand: children[0]},
		}
	case ExpressionTypeAggregate:
		agg := *e.Aggregate
		if agg.Operand != nil {
			operand := children[0]
			agg.Operand = &operand
		}
		return Expression{ExpressionType: ExpressionTypeAggregate, Aggregate: &agg}
	case ExpressionTypeWindow:
		window := *e.Window
		if operand := e.Window.operand(); operand != nil {
			newOperand := children[0]
			children = children[1:]
			if window.Kind == WindowKindAggregate && window.Function != nil {
				function := *window.Function
				function.Operand = &newOperand
				window.Function = &function
			} else {
				window.Operand = &newOperand
			}
		}
		window.PartitionBy = append([]Expression(nil), children[:len(e.Window.PartitionBy)]...)
		window.OrderBy = append([]Expression(nil), children[len(e.Window.PartitionBy):]...)
		return Expression{ExpressionType: ExpressionTypeWindow, Window: &window}
	case ExpressionTypeCast:
		return Expression{
			ExpressionType: ExpressionTypeCast,
			Cast:           &Cast{Target: e.Cast.Target, Operand: children[0], Strict: e.Cast.Strict},
		}
	case ExpressionTypeAlias:
		return Expression{
			ExpressionType: ExpressionTypeAlias,
			Alias:          &Alias{Name: e.Alias.Name, Operand: children[0]},
		}
	case ExpressionTypeTernary:
		return Expression{
			ExpressionType: ExpressionTypeTernary,
			Ternary:        &Ternary{Predicate: children[0], IfTrue: children[1], IfFalse: children[2]},
		}
	}
	panic("unexhaustive expression type match")
}

// Fold computes f bottom-up over the expression tree using an explicit stack, so arbitrarily deep
// trees don't grow the goroutine stack. Each node instance is visited once, nodes shared by
// several parents reuse the memoized result.
func Fold[T any](root Expression, f func(expr Expression, children []T) (T, error)) (T, error) {
	type frame struct {
		expr     Expression
		children []Expression
		results  []T
	}
	memo := make(map[interface{}]T)
	stack := []*frame{{expr: root, children: root.Children()}}
	for {
		top := stack[len(stack)-1]
		if next := len(top.results); next < len(top.children) {
			child := top.children[next]
			if result, ok := memo[child.id()]; ok {
				top.results = append(top.results, result)
				continue
			}
			stack = append(stack, &frame{expr: child, children: child.Children()})
			continue
		}

		out, err := f(top.expr, top.results)
		if err != nil {
			var zero T
			return zero, err
		}
		memo[top.expr.id()] = out
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return out, nil
		}
		parent := stack[len(stack)-1]
		parent.results = append(parent.results, out)
	}
}

// Walk calls f for each node in pre-order, without recursion.
// Returning false from f skips the children of the node.
func Walk(root Expression, f func(expr Expression) bool) {
	stack := []Expression{root}
	for len(stack) > 0 {
		expr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !f(expr) {
			continue
		}
		children := expr.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// Transform rebuilds the tree bottom-up, replacing every node with the output of f.
// f receives nodes whose children have already been transformed.
func (e Expression) Transform(f func(expr Expression) Expression) Expression {
	out, _ := Fold(e, func(expr Expression, children []Expression) (Expression, error) {
		if len(children) > 0 {
			expr = expr.WithChildren(children)
		}
		return f(expr), nil
	})
	return out
}

// ColumnNames returns the sorted, unique names of all columns referenced by the expression.
func (e Expression) ColumnNames() []string {
	set := make(map[string]struct{})
	Walk(e, func(expr Expression) bool {
		if expr.ExpressionType == ExpressionTypeColumn {
			set[expr.Column.Name] = struct{}{}
		}
		return true
	})
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether any node of the expression is of the given type.
func (e Expression) Contains(t ExpressionType) bool {
	found := false
	Walk(e, func(expr Expression) bool {
		if expr.ExpressionType == t {
			found = true
		}
		return !found
	})
	return found
}

// OutputName returns the name of the column the expression produces.
func (e Expression) OutputName() string {
	for {
		switch e.ExpressionType {
		case ExpressionTypeColumn:
			return e.Column.Name
		case ExpressionTypeLiteral:
			return "literal"
		case ExpressionTypeAlias:
			return e.Alias.Name
		case ExpressionTypeBinaryOp:
			e = e.BinaryOp.Left
		case ExpressionTypeUnaryOp:
			e = e.UnaryOp.Operand
		case ExpressionTypeAggregate:
			if e.Aggregate.Operand == nil {
				return e.Aggregate.Kind.String()
			}
			e = *e.Aggregate.Operand
		case ExpressionTypeWindow:
			operand := e.Window.operand()
			if operand == nil {
				if e.Window.Kind == WindowKindAggregate && e.Window.Function != nil {
					return e.Window.Function.Kind.String()
				}
				return e.Window.Kind.String()
			}
			e = *operand
		case ExpressionTypeCast:
			e = e.Cast.Operand
		case ExpressionTypeTernary:
			e = e.Ternary.IfTrue
		default:
			panic("unexhaustive expression type match")
		}
	}
}

func (e Expression) String() string {
	out, _ := Fold(e, func(expr Expression, children []string) (string, error) {
		switch expr.ExpressionType {
		case ExpressionTypeColumn:
			return fmt.Sprintf("col(%s)", expr.Column.Name), nil
		case ExpressionTypeLiteral:
			return fmt.Sprintf("lit(%s)", expr.Literal.Value), nil
		case ExpressionTypeBinaryOp:
			return fmt.Sprintf("(%s %s %s)", children[0], expr.BinaryOp.Op, children[1]), nil
		case ExpressionTypeUnaryOp:
			return fmt.Sprintf("%s(%s)", expr.UnaryOp.Op, children[0]), nil
		case ExpressionTypeAggregate:
			args := strings.Join(children, ", ")
			switch expr.Aggregate.Kind {
			case AggregateKindQuantile:
				args = fmt.Sprintf("%s, %g", args, expr.Aggregate.Quantile)
			case AggregateKindStd, AggregateKindVar:
				args = fmt.Sprintf("%s, ddof=%d", args, expr.Aggregate.DDOF)
			}
			return fmt.Sprintf("%s(%s)", expr.Aggregate.Kind, args), nil
		case ExpressionTypeWindow:
			w := expr.Window
			name := w.Kind.String()
			if w.Kind == WindowKindAggregate && w.Function != nil {
				name = w.Function.Kind.String()
			}
			var args []string
			if w.operand() != nil {
				args = append(args, children[0])
				children = children[1:]
			}
			if w.Kind == WindowKindLag || w.Kind == WindowKindLead {
				args = append(args, fmt.Sprint(w.Offset))
			}
			partition := children[:len(w.PartitionBy)]
			order := make([]string, len(w.OrderBy))
			for i, key := range children[len(w.PartitionBy):] {
				order[i] = key
				if i < len(w.Descending) && w.Descending[i] {
					order[i] += " desc"
				}
			}
			out := fmt.Sprintf("%s(%s).over([%s])", name, strings.Join(args, ", "), strings.Join(partition, ", "))
			if len(order) > 0 {
				out += fmt.Sprintf(".order_by([%s])", strings.Join(order, ", "))
			}
			return out, nil
		case ExpressionTypeCast:
			if expr.Cast.Strict {
				return fmt.Sprintf("strict_cast(%s, %s)", children[0], expr.Cast.Target), nil
			}
			return fmt.Sprintf("cast(%s, %s)", children[0], expr.Cast.Target), nil
		case ExpressionTypeAlias:
			return fmt.Sprintf("%s AS %s", children[0], expr.Alias.Name), nil
		case ExpressionTypeTernary:
			return fmt.Sprintf("when(%s).then(%s).otherwise(%s)", children[0], children[1], children[2]), nil
		}
		panic("unexhaustive expression type match")
	})
	return out
}

// SplitByAnd returns the conjuncts of a predicate.
func (e Expression) SplitByAnd() []Expression {
	var out []Expression
	stack := []Expression{e}
	for len(stack) > 0 {
		expr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if expr.ExpressionType == ExpressionTypeBinaryOp && expr.BinaryOp.Op == BinaryOperatorAnd {
			stack = append(stack, expr.BinaryOp.Right, expr.BinaryOp.Left)
			continue
		}
		out = append(out, expr)
	}
	return out
}

// Conjunction joins predicates with AND. It returns false if there are no predicates.
func Conjunction(predicates []Expression) (Expression, bool) {
	if len(predicates) == 0 {
		return Expression{}, false
	}
	out := predicates[0]
	for _, predicate := range predicates[1:] {
		out = out.And(predicate)
	}
	return out, true
}
