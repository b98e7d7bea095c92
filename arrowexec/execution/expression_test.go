package execution

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/kernels"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func testTable(t *testing.T) *table.Table {
	tbl, err := table.NewTable(
		table.MustColumn("a", octoframe.Int64, 1, nil, 3),
		table.MustColumn("b", octoframe.Int64, nil, 2, 3),
		table.MustColumn("small", octoframe.Int32, 10, 20, 30),
		table.MustColumn("f", octoframe.Float64, 0.5, 1.5, nil),
		table.MustColumn("u", octoframe.UInt64, 1, 2, 3),
		table.MustColumn("s", octoframe.String, "x", "y", nil),
		table.MustColumn("p", octoframe.Boolean, nil, nil, true),
		table.MustColumn("q", octoframe.Boolean, false, true, nil),
	)
	require.NoError(t, err)
	tbl, err = tbl.RechunkTo([]int{0, 2, 3})
	require.NoError(t, err)
	return tbl
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		expr     logical.Expression
		typ      octoframe.Type
		expected []octoframe.Value
	}{
		{
			name: "null propagation",
			expr: logical.Col("a").Add(logical.Col("b")),
			typ:  octoframe.Int64,
			expected: []octoframe.Value{
				octoframe.NewTypedNull(octoframe.Int64), octoframe.NewTypedNull(octoframe.Int64), octoframe.NewInt(6),
			},
		},
		{
			name: "integer widening",
			expr: logical.Col("small").Mul(logical.Col("a")),
			typ:  octoframe.Int64,
			expected: []octoframe.Value{
				octoframe.NewInt(10), octoframe.NewTypedNull(octoframe.Int64), octoframe.NewInt(90),
			},
		},
		{
			name: "integer and float promote to float",
			expr: logical.Col("small").Add(logical.Col("f")),
			typ:  octoframe.Float64,
			expected: []octoframe.Value{
				octoframe.NewFloat(10.5), octoframe.NewFloat(21.5), octoframe.NewTypedNull(octoframe.Float64),
			},
		},
		{
			name: "unsigned 64 with signed promotes to float",
			expr: logical.Col("u").Sub(logical.Lit(2)),
			typ:  octoframe.Float64,
			expected: []octoframe.Value{
				octoframe.NewFloat(-1), octoframe.NewFloat(0), octoframe.NewFloat(1),
			},
		},
		{
			name: "and",
			expr: logical.Col("p").And(logical.Col("q")),
			typ:  octoframe.Boolean,
			expected: []octoframe.Value{
				octoframe.NewBoolean(false), octoframe.NewTypedNull(octoframe.Boolean), octoframe.NewTypedNull(octoframe.Boolean),
			},
		},
		{
			name: "or",
			expr: logical.Col("p").Or(logical.Col("q")),
			typ:  octoframe.Boolean,
			expected: []octoframe.Value{
				octoframe.NewTypedNull(octoframe.Boolean), octoframe.NewBoolean(true), octoframe.NewBoolean(true),
			},
		},
		{
			name: "ternary with null predicate",
			expr: logical.When(logical.Col("p")).Then(logical.Lit(1)).Otherwise(logical.Col("small")),
			typ:  octoframe.Int64,
			expected: []octoframe.Value{
				octoframe.NewInt(10), octoframe.NewInt(20), octoframe.NewInt(1),
			},
		},
		{
			name: "comparison with literal",
			expr: logical.Col("s").Eq(logical.Lit("y")),
			typ:  octoframe.Boolean,
			expected: []octoframe.Value{
				octoframe.NewBoolean(false), octoframe.NewBoolean(true), octoframe.NewTypedNull(octoframe.Boolean),
			},
		},
		{
			name: "cast and alias",
			expr: logical.Col("f").CastTo(octoframe.Int32).As("g"),
			typ:  octoframe.Int32,
			expected: []octoframe.Value{
				octoframe.NewIntOfType(octoframe.Int32, 0), octoframe.NewIntOfType(octoframe.Int32, 1), octoframe.NewTypedNull(octoframe.Int32),
			},
		},
		{
			name: "is null",
			expr: logical.Col("a").IsNull().Not(),
			typ:  octoframe.Boolean,
			expected: []octoframe.Value{
				octoframe.NewBoolean(true), octoframe.NewBoolean(false), octoframe.NewBoolean(true),
			},
		},
	}

	ctx := NewContext(context.Background(), config.Default())
	tbl := testTable(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, err := Evaluate(ctx, tt.expr, tbl)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, col.Type())
			assert.Equal(t, tbl.Offsets(), col.Offsets())
			values := col.Values()
			require.Len(t, values, len(tt.expected))
			for i := range values {
				assert.Truef(t, tt.expected[i].Equal(values[i]), "row %d: expected %s, got %s", i, tt.expected[i], values[i])
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	ctx := NewContext(context.Background(), config.Default())
	tbl := testTable(t)

	_, err := Evaluate(ctx, logical.Col("missing"), tbl)
	assert.True(t, octoframe.IsSchemaError(err))

	_, err = Evaluate(ctx, logical.Col("s").Add(logical.Col("a")), tbl)
	assert.True(t, octoframe.IsTypeError(err))

	_, err = Evaluate(ctx, logical.Col("a").Sum(), tbl)
	assert.True(t, octoframe.IsPlanError(err))

	_, err = Evaluate(ctx, logical.Col("a").CumSum(), tbl)
	assert.True(t, octoframe.IsPlanError(err))
}

func TestCheckedArithmetic(t *testing.T) {
	cfg := config.Default()
	tbl, err := table.NewTable(table.MustColumn("a", octoframe.Int64, math.MaxInt64))
	require.NoError(t, err)
	expr := logical.Col("a").Add(logical.Lit(1))

	col, err := Evaluate(NewContext(context.Background(), cfg), expr, tbl)
	require.NoError(t, err)
	assert.Equal(t, octoframe.NewInt(math.MinInt64), col.Value(0))

	cfg.CheckedArithmetic = true
	_, err = Evaluate(NewContext(context.Background(), cfg), expr, tbl)
	assert.True(t, octoframe.IsExecutionError(err))
	assert.True(t, errors.Is(err, kernels.ErrOverflow))
}

func TestEvaluateIsIdempotent(t *testing.T) {
	ctx := NewContext(context.Background(), config.Default())
	tbl := testTable(t)
	shared := logical.Col("a").Mul(logical.Col("small"))
	expr := shared.Add(shared).Div(logical.Lit(2))

	first, err := Evaluate(ctx, expr, tbl)
	require.NoError(t, err)
	second, err := Evaluate(ctx, expr, tbl)
	require.NoError(t, err)
	assert.Equal(t, first.Values(), second.Values())
	assert.Equal(t, octoframe.NewInt(90), first.Value(2))
}

func TestEvaluateConstant(t *testing.T) {
	ctx := NewContext(context.Background(), config.Default())
	v, err := EvaluateConstant(ctx, logical.Lit(2).Mul(logical.Lit(3)).Gt(logical.Lit(5)))
	require.NoError(t, err)
	assert.Equal(t, octoframe.NewBoolean(true), v)
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(NewContext(ctx, config.Default()), logical.Col("a"), testTable(t))
	assert.True(t, errors.Is(err, context.Canceled))
}
