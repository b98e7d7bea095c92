package cmd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

var binaryOperators = map[string]func(left, right logical.Expression) logical.Expression{
	"add": logical.Expression.Add,
	"sub": logical.Expression.Sub,
	"mul": logical.Expression.Mul,
	"div": logical.Expression.Div,
	"mod": logical.Expression.Mod,
	"eq":  logical.Expression.Eq,
	"neq": logical.Expression.NotEq,
	"lt":  logical.Expression.Lt,
	"lte": logical.Expression.LtEq,
	"gt":  logical.Expression.Gt,
	"gte": logical.Expression.GtEq,
	"and": logical.Expression.And,
	"or":  logical.Expression.Or,
}

var unaryOperators = map[string]func(operand logical.Expression) logical.Expression{
	"not":             logical.Expression.Not,
	"neg":             logical.Expression.Negate,
	"is_null":         logical.Expression.IsNull,
	"is_not_null":     logical.Expression.IsNotNull,
	"count":           logical.Expression.Count,
	"sum":             logical.Expression.Sum,
	"mean":            logical.Expression.Mean,
	"min":             logical.Expression.Min,
	"max":             logical.Expression.Max,
	"first":           logical.Expression.First,
	"last":            logical.Expression.Last,
	"n_unique":        logical.Expression.NUnique,
	"approx_n_unique": logical.Expression.ApproxNUnique,
	"list":            logical.Expression.List,
	"median":          logical.Expression.Median,
	"cum_sum":         logical.Expression.CumSum,
}

var nullaryExpressions = map[string]func() logical.Expression{
	"count_rows": logical.CountRows,
	"row_number": logical.RowNumber,
	"rank":       logical.Rank,
	"dense_rank": logical.DenseRank,
}

// parseExpression decodes an expression written as a single-key YAML map, like {gt: [{col: a}, {lit: 3}]}.
// A plain scalar is a column reference.
func parseExpression(node *yaml.Node) (out logical.Expression, outErr error) {
	// The expression builders panic on misuse, like Over applied to a column.
	defer func() {
		if r := recover(); r != nil {
			outErr = fmt.Errorf("invalid expression: %v", r)
		}
	}()
	return parseExpressionInternal(node)
}

func parseExpressionInternal(node *yaml.Node) (logical.Expression, error) {
	if node.Kind == yaml.ScalarNode {
		return logical.Col(node.Value), nil
	}
	name, arg, err := singleKey(node)
	if err != nil {
		return logical.Expression{}, err
	}

	if op, ok := binaryOperators[name]; ok {
		args, err := parseExpressions(arg, 2)
		if err != nil {
			return logical.Expression{}, errors.Wrapf(err, "invalid arguments of %s", name)
		}
		return op(args[0], args[1]), nil
	}
	if op, ok := unaryOperators[name]; ok {
		operand, err := parseExpressionInternal(arg)
		if err != nil {
			return logical.Expression{}, errors.Wrapf(err, "invalid argument of %s", name)
		}
		return op(operand), nil
	}
	if op, ok := nullaryExpressions[name]; ok {
		return op(), nil
	}

	switch name {
	case "col":
		var column string
		if err := arg.Decode(&column); err != nil {
			return logical.Expression{}, errors.Wrap(err, "invalid column name")
		}
		return logical.Col(column), nil

	case "lit":
		return parseLiteral(arg)

	case "alias", "cast", "strict_cast", "quantile", "std", "var", "lag", "lead":
		// These take an expression and a scalar parameter.
		if arg.Kind != yaml.SequenceNode || len(arg.Content) != 2 {
			return logical.Expression{}, errors.Errorf("%s expects a list of an expression and a parameter", name)
		}
		operand, err := parseExpressionInternal(arg.Content[0])
		if err != nil {
			return logical.Expression{}, errors.Wrapf(err, "invalid argument of %s", name)
		}
		return withParameter(name, operand, arg.Content[1])

	case "when":
		args, err := parseExpressions(arg, 3)
		if err != nil {
			return logical.Expression{}, errors.Wrap(err, "when expects a predicate, a value if true and a value if false")
		}
		return logical.When(args[0]).Then(args[1]).Otherwise(args[2]), nil

	case "over":
		var spec struct {
			Expr        yaml.Node   `yaml:"expr"`
			PartitionBy []yaml.Node `yaml:"partition_by"`
			OrderBy     []yaml.Node `yaml:"order_by"`
			Descending  []bool      `yaml:"descending"`
		}
		if err := arg.Decode(&spec); err != nil {
			return logical.Expression{}, errors.Wrap(err, "invalid window")
		}
		expr, err := parseExpressionInternal(&spec.Expr)
		if err != nil {
			return logical.Expression{}, errors.Wrap(err, "invalid window expression")
		}
		partitionBy, err := parseExpressionList(nodeRefs(spec.PartitionBy))
		if err != nil {
			return logical.Expression{}, errors.Wrap(err, "invalid window partitioning")
		}
		expr = expr.Over(partitionBy...)
		if len(spec.OrderBy) > 0 {
			orderBy, err := parseExpressionList(nodeRefs(spec.OrderBy))
			if err != nil {
				return logical.Expression{}, errors.Wrap(err, "invalid window ordering")
			}
			expr = expr.OrderBy(orderBy, spec.Descending)
		}
		return expr, nil
	}
	return logical.Expression{}, errors.Errorf("unknown expression '%s'", name)
}

func withParameter(name string, operand logical.Expression, param *yaml.Node) (logical.Expression, error) {
	switch name {
	case "alias":
		return operand.As(param.Value), nil
	case "cast", "strict_cast":
		t, err := parseType(param.Value)
		if err != nil {
			return logical.Expression{}, err
		}
		if name == "strict_cast" {
			return operand.StrictCast(t), nil
		}
		return operand.CastTo(t), nil
	case "quantile":
		var q float64
		if err := param.Decode(&q); err != nil {
			return logical.Expression{}, errors.Wrap(err, "invalid quantile")
		}
		return operand.Quantile(q), nil
	}

	var n int
	if err := param.Decode(&n); err != nil {
		return logical.Expression{}, errors.Wrapf(err, "invalid parameter of %s", name)
	}
	switch name {
	case "std":
		return operand.Std(n), nil
	case "var":
		return operand.Var(n), nil
	case "lag":
		return operand.Lag(n), nil
	default:
		return operand.Lead(n), nil
	}
}

func parseLiteral(node *yaml.Node) (logical.Expression, error) {
	if node.Kind != yaml.ScalarNode {
		return logical.Expression{}, errors.Errorf("literal must be a scalar, got %s", node.Tag)
	}
	var value interface{}
	switch node.ShortTag() {
	case "!!null":
		value = nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return logical.Expression{}, err
		}
		value = b
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return logical.Expression{}, err
		}
		value = i
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return logical.Expression{}, err
		}
		value = f
	default:
		value = node.Value
	}
	return logical.Lit(value), nil
}

func parseExpressions(node *yaml.Node, n int) ([]logical.Expression, error) {
	if node.Kind != yaml.SequenceNode || len(node.Content) != n {
		return nil, errors.Errorf("expected a list of %d expressions", n)
	}
	return parseExpressionList(node.Content)
}

func parseExpressionList(nodes []*yaml.Node) ([]logical.Expression, error) {
	out := make([]logical.Expression, len(nodes))
	for i := range nodes {
		var err error
		if out[i], err = parseExpressionInternal(nodes[i]); err != nil {
			return nil, errors.Wrapf(err, "invalid expression %d", i)
		}
	}
	return out, nil
}

// nodeRefs addresses the elements of a decoded node list.
func nodeRefs(nodes []yaml.Node) []*yaml.Node {
	out := make([]*yaml.Node, len(nodes))
	for i := range nodes {
		out[i] = &nodes[i]
	}
	return out
}

func singleKey(node *yaml.Node) (string, *yaml.Node, error) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return "", nil, errors.Errorf("expected a map with a single key on line %d", node.Line)
	}
	return node.Content[0].Value, node.Content[1], nil
}

var typesByName = func() map[string]octoframe.Type {
	out := make(map[string]octoframe.Type)
	for _, t := range []octoframe.Type{
		octoframe.Null, octoframe.Boolean,
		octoframe.Int8, octoframe.Int16, octoframe.Int32, octoframe.Int64,
		octoframe.UInt8, octoframe.UInt16, octoframe.UInt32, octoframe.UInt64,
		octoframe.Float32, octoframe.Float64,
		octoframe.String, octoframe.Date, octoframe.Datetime, octoframe.Duration,
	} {
		out[t.String()] = t
	}
	return out
}()

// parseType parses type names as they're printed, like Int64 or List[String].
func parseType(name string) (octoframe.Type, error) {
	if t, ok := typesByName[name]; ok {
		return t, nil
	}
	if strings.HasPrefix(name, "List[") && strings.HasSuffix(name, "]") {
		element, err := parseType(name[len("List[") : len(name)-1])
		if err != nil {
			return octoframe.Type{}, err
		}
		return octoframe.ListOf(element), nil
	}
	return octoframe.Type{}, octoframe.NewTypeError("unknown type '%s'", name)
}
