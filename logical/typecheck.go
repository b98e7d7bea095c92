package logical

import (
	"sort"

	"github.com/cube2222/octoframe/octoframe"
)

// TypeInfo is what type checking learns about an expression.
type TypeInfo struct {
	Type octoframe.Type
	// HasAggregate is set if the expression contains an aggregate which isn't part of a window.
	HasAggregate bool
	HasWindow    bool
	// BareColumns are the columns referenced outside of any aggregate or window.
	BareColumns []string
}

// TypeOf returns the output type of the expression evaluated against the schema.
func TypeOf(expr Expression, schema octoframe.Schema) (octoframe.Type, error) {
	info, err := Typecheck(expr, schema)
	if err != nil {
		return octoframe.Type{}, err
	}
	return info.Type, nil
}

// Typecheck infers the type of the expression, validating column references, operand types and nesting.
func Typecheck(expr Expression, schema octoframe.Schema) (TypeInfo, error) {
	return Fold(expr, func(expr Expression, children []TypeInfo) (TypeInfo, error) {
		var out TypeInfo
		for _, child := range children {
			out.HasAggregate = out.HasAggregate || child.HasAggregate
			out.HasWindow = out.HasWindow || child.HasWindow
			out.BareColumns = mergeNames(out.BareColumns, child.BareColumns)
		}

		switch expr.ExpressionType {
		case ExpressionTypeColumn:
			field, err := schema.Field(expr.Column.Name)
			if err != nil {
				return TypeInfo{}, err
			}
			out.Type = field.Type
			out.BareColumns = []string{expr.Column.Name}

		case ExpressionTypeLiteral:
			out.Type = expr.Literal.Value.Type

		case ExpressionTypeBinaryOp:
			t, err := BinaryOpType(expr.BinaryOp.Op, children[0].Type, children[1].Type)
			if err != nil {
				return TypeInfo{}, err
			}
			out.Type = t

		case ExpressionTypeUnaryOp:
			t, err := UnaryOpType(expr.UnaryOp.Op, children[0].Type)
			if err != nil {
				return TypeInfo{}, err
			}
			out.Type = t

		case ExpressionTypeAggregate:
			operandType := octoframe.Null
			if len(children) > 0 {
				if children[0].HasAggregate {
					return TypeInfo{}, octoframe.NewPlanError("aggregate %s can't contain another aggregate", expr)
				}
				if children[0].HasWindow {
					return TypeInfo{}, octoframe.NewPlanError("aggregate %s can't contain a window expression", expr)
				}
				operandType = children[0].Type
			}
			t, err := AggregateOutputType(*expr.Aggregate, operandType)
			if err != nil {
				return TypeInfo{}, err
			}
			out.Type = t
			out.HasAggregate = true
			out.BareColumns = nil

		case ExpressionTypeWindow:
			for _, child := range children {
				if child.HasAggregate || child.HasWindow {
					return TypeInfo{}, octoframe.NewPlanError("window expression %s can't contain aggregate or window sub-expressions", expr)
				}
			}
			w := expr.Window
			keys := children
			if w.operand() != nil {
				keys = children[1:]
			}
			for i, key := range keys[len(w.PartitionBy):] {
				if key.Type.TypeID != octoframe.TypeIDNull && !key.Type.IsOrdered() {
					return TypeInfo{}, octoframe.NewTypeError("window order key %s has unordered type %s", w.OrderBy[i], key.Type)
				}
			}
			if len(w.Descending) != 0 && len(w.Descending) != len(w.OrderBy) {
				return TypeInfo{}, octoframe.NewPlanError("window %s has %d order keys but %d descending flags", expr, len(w.OrderBy), len(w.Descending))
			}
			switch w.Kind {
			case WindowKindAggregate:
				if w.Function == nil {
					return TypeInfo{}, octoframe.NewPlanError("aggregate window without a function")
				}
				operandType := octoframe.Null
				if w.Function.Operand != nil {
					operandType = children[0].Type
				}
				t, err := AggregateOutputType(*w.Function, operandType)
				if err != nil {
					return TypeInfo{}, err
				}
				out.Type = t
			case WindowKindRowNumber, WindowKindRank, WindowKindDenseRank:
				out.Type = octoframe.UInt32
			case WindowKindCumSum:
				t, err := AggregateOutputType(Aggregate{Kind: AggregateKindSum}, children[0].Type)
				if err != nil {
					return TypeInfo{}, err
				}
				out.Type = t
			case WindowKindLag, WindowKindLead:
				if w.Offset < 0 {
					return TypeInfo{}, octoframe.NewPlanError("%s offset must not be negative, got %d", w.Kind, w.Offset)
				}
				out.Type = children[0].Type
			default:
				panic("unexhaustive window kind match")
			}
			out.HasWindow = true
			out.BareColumns = nil

		case ExpressionTypeCast:
			if !CanCast(children[0].Type, expr.Cast.Target) {
				return TypeInfo{}, octoframe.NewTypeError("can't cast %s to %s", children[0].Type, expr.Cast.Target)
			}
			out.Type = expr.Cast.Target

		case ExpressionTypeAlias:
			out.Type = children[0].Type

		case ExpressionTypeTernary:
			if predicate := children[0].Type; predicate.TypeID != octoframe.TypeIDBoolean && predicate.TypeID != octoframe.TypeIDNull {
				return TypeInfo{}, octoframe.NewTypeError("when predicate must be Boolean, got %s", predicate)
			}
			t, ok := octoframe.Supertype(children[1].Type, children[2].Type)
			if !ok {
				return TypeInfo{}, octoframe.NewTypeError("then and otherwise branches have incompatible types %s and %s", children[1].Type, children[2].Type)
			}
			out.Type = t

		default:
			panic("unexhaustive expression type match")
		}
		return out, nil
	})
}

func mergeNames(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, name := range a {
		set[name] = struct{}{}
	}
	for _, name := range b {
		set[name] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BinaryOpType returns the result type of a binary operator, or a TypeError if the operands aren't compatible.
func BinaryOpType(op BinaryOperator, left, right octoframe.Type) (octoframe.Type, error) {
	switch {
	case op.IsLogical():
		if !isBooleanOrNull(left) || !isBooleanOrNull(right) {
			return octoframe.Type{}, octoframe.NewTypeError("operator %s requires Boolean operands, got %s and %s", op, left, right)
		}
		return octoframe.Boolean, nil

	case op.IsComparison():
		t, ok := octoframe.Supertype(left, right)
		if !ok {
			return octoframe.Type{}, octoframe.NewTypeError("can't compare %s with %s", left, right)
		}
		if t.TypeID == octoframe.TypeIDList {
			return octoframe.Type{}, octoframe.NewTypeError("can't compare values of type %s", t)
		}
		if op != BinaryOperatorEq && op != BinaryOperatorNotEq && t.TypeID != octoframe.TypeIDNull && !t.IsOrdered() {
			return octoframe.Type{}, octoframe.NewTypeError("operator %s isn't defined for %s", op, t)
		}
		return octoframe.Boolean, nil
	}

	// Temporal arithmetic.
	switch {
	case left.TypeID == octoframe.TypeIDDatetime && right.TypeID == octoframe.TypeIDDatetime && op == BinaryOperatorSub:
		return octoframe.Duration, nil
	case left.TypeID == octoframe.TypeIDDatetime && right.TypeID == octoframe.TypeIDDuration && (op == BinaryOperatorAdd || op == BinaryOperatorSub):
		return octoframe.Datetime, nil
	case left.TypeID == octoframe.TypeIDDuration && right.TypeID == octoframe.TypeIDDatetime && op == BinaryOperatorAdd:
		return octoframe.Datetime, nil
	case left.TypeID == octoframe.TypeIDDuration && right.TypeID == octoframe.TypeIDDuration && (op == BinaryOperatorAdd || op == BinaryOperatorSub):
		return octoframe.Duration, nil
	}

	t, ok := octoframe.Supertype(left, right)
	if !ok {
		return octoframe.Type{}, octoframe.NewTypeError("operator %s isn't defined for %s and %s", op, left, right)
	}
	switch {
	case t.TypeID == octoframe.TypeIDNull:
		return octoframe.Null, nil
	case t.IsNumeric():
		return t, nil
	case t.TypeID == octoframe.TypeIDString && op == BinaryOperatorAdd:
		return octoframe.String, nil
	}
	return octoframe.Type{}, octoframe.NewTypeError("operator %s isn't defined for %s and %s", op, left, right)
}

// ArithmeticOperandType returns the type both operands get cast to before evaluating an arithmetic operator.
func ArithmeticOperandType(op BinaryOperator, left, right octoframe.Type) (octoframe.Type, octoframe.Type) {
	if left.IsTemporal() || right.IsTemporal() {
		return left, right
	}
	t, _ := octoframe.Supertype(left, right)
	return t, t
}

func UnaryOpType(op UnaryOperator, operand octoframe.Type) (octoframe.Type, error) {
	switch op {
	case UnaryOperatorNot:
		if !isBooleanOrNull(operand) {
			return octoframe.Type{}, octoframe.NewTypeError("not requires a Boolean operand, got %s", operand)
		}
		return octoframe.Boolean, nil
	case UnaryOperatorNegate:
		if operand.IsSignedInteger() || operand.IsFloat() || operand.TypeID == octoframe.TypeIDDuration || operand.TypeID == octoframe.TypeIDNull {
			return operand, nil
		}
		return octoframe.Type{}, octoframe.NewTypeError("can't negate %s", operand)
	case UnaryOperatorIsNull, UnaryOperatorIsNotNull:
		return octoframe.Boolean, nil
	}
	panic("unexhaustive unary operator match")
}

func isBooleanOrNull(t octoframe.Type) bool {
	return t.TypeID == octoframe.TypeIDBoolean || t.TypeID == octoframe.TypeIDNull
}

// AggregateOutputType returns the result type of an aggregate over values of the given type.
func AggregateOutputType(agg Aggregate, operand octoframe.Type) (octoframe.Type, error) {
	unsupported := func() (octoframe.Type, error) {
		return octoframe.Type{}, octoframe.NewTypeError("aggregate %s isn't supported for %s", agg.Kind, operand)
	}
	isNull := operand.TypeID == octoframe.TypeIDNull

	switch agg.Kind {
	case AggregateKindCount, AggregateKindNUnique, AggregateKindApproxNUnique:
		if agg.Kind != AggregateKindCount && operand.TypeID == octoframe.TypeIDList {
			return unsupported()
		}
		return octoframe.UInt32, nil
	case AggregateKindSum:
		switch {
		case operand.IsSignedInteger(), operand.TypeID == octoframe.TypeIDBoolean, isNull:
			return octoframe.Int64, nil
		case operand.IsUnsignedInteger():
			return octoframe.UInt64, nil
		case operand.IsFloat(), operand.TypeID == octoframe.TypeIDDuration:
			return operand, nil
		}
		return unsupported()
	case AggregateKindMean, AggregateKindMedian:
		if operand.IsNumeric() || operand.TypeID == octoframe.TypeIDBoolean || isNull {
			return octoframe.Float64, nil
		}
		return unsupported()
	case AggregateKindQuantile:
		if agg.Quantile < 0 || agg.Quantile > 1 {
			return octoframe.Type{}, octoframe.NewPlanError("quantile must be within [0, 1], got %g", agg.Quantile)
		}
		if operand.IsNumeric() || isNull {
			return octoframe.Float64, nil
		}
		return unsupported()
	case AggregateKindStd, AggregateKindVar:
		if agg.DDOF < 0 {
			return octoframe.Type{}, octoframe.NewPlanError("ddof must not be negative, got %d", agg.DDOF)
		}
		if operand.IsNumeric() || isNull {
			return octoframe.Float64, nil
		}
		return unsupported()
	case AggregateKindMin, AggregateKindMax:
		if operand.IsOrdered() || isNull {
			return operand, nil
		}
		return unsupported()
	case AggregateKindFirst, AggregateKindLast:
		return operand, nil
	case AggregateKindList:
		return octoframe.ListOf(operand), nil
	}
	panic("unexhaustive aggregate kind match")
}

// CanCast reports whether values of type from can be cast to type to.
func CanCast(from, to octoframe.Type) bool {
	if from.Equal(to) || from.TypeID == octoframe.TypeIDNull {
		return true
	}
	numericOrBoolean := func(t octoframe.Type) bool {
		return t.IsNumeric() || t.TypeID == octoframe.TypeIDBoolean
	}
	switch {
	case numericOrBoolean(from) && numericOrBoolean(to):
		return true
	case to.TypeID == octoframe.TypeIDString:
		return numericOrBoolean(from) || from.IsTemporal()
	case from.TypeID == octoframe.TypeIDString:
		return numericOrBoolean(to) || to.IsTemporal()
	case from.IsTemporal() && to.IsInteger(), from.IsInteger() && to.IsTemporal():
		return true
	case from.TypeID == octoframe.TypeIDDate && to.TypeID == octoframe.TypeIDDatetime,
		from.TypeID == octoframe.TypeIDDatetime && to.TypeID == octoframe.TypeIDDate:
		return true
	case from.TypeID == octoframe.TypeIDList && to.TypeID == octoframe.TypeIDList:
		return CanCast(*from.List.Element, *to.List.Element)
	}
	return false
}
