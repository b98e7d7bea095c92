package aggregates

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/nodes/hashtable"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// groupsOf builds groups out of explicit row lists.
func groupsOf(rows ...[]uint32) *hashtable.Groups {
	groups := &hashtable.Groups{Offsets: []uint32{0}}
	for _, group := range rows {
		groups.Rows = append(groups.Rows, group...)
		groups.Offsets = append(groups.Offsets, uint32(len(groups.Rows)))
		if len(group) > 0 {
			groups.First = append(groups.First, group[0])
		} else {
			groups.First = append(groups.First, 0)
		}
	}
	return groups
}

func compute(t *testing.T, agg logical.Aggregate, operand *table.Column, groups *hashtable.Groups) []octoframe.Value {
	cfg := config.Default()
	cfg.ChunkSize = 2
	ctx := execution.NewContext(context.Background(), cfg)
	out, err := Compute(ctx, "out", agg, operand, groups)
	require.NoError(t, err)
	return out.Values()
}

func operand(expr logical.Expression) *logical.Expression {
	return &expr
}

func TestSumAndMeanSkipNulls(t *testing.T) {
	col := table.MustColumn("a", octoframe.Int64, 1, 2, nil, 4)
	groups := groupsOf([]uint32{0, 1, 2, 3})

	sum := compute(t, logical.Aggregate{Kind: logical.AggregateKindSum, Operand: operand(logical.Col("a"))}, col, groups)
	assert.Equal(t, []octoframe.Value{octoframe.NewInt(7)}, sum)

	mean := compute(t, logical.Aggregate{Kind: logical.AggregateKindMean, Operand: operand(logical.Col("a"))}, col, groups)
	require.Len(t, mean, 1)
	assert.InDelta(t, 7.0/3.0, mean[0].Float, 1e-12)
}

func TestAggregates(t *testing.T) {
	ints := table.MustColumn("a", octoframe.Int32, 5, nil, 3, 8, nil, nil, 3)
	groups := groupsOf([]uint32{0, 1, 2, 3}, []uint32{4, 5}, []uint32{6}, []uint32{})
	col := operand(logical.Col("a"))
	null := octoframe.NewTypedNull

	tests := []struct {
		name     string
		agg      logical.Aggregate
		operand  *table.Column
		expected []octoframe.Value
	}{
		{
			name:     "count rows",
			agg:      logical.Aggregate{Kind: logical.AggregateKindCount},
			expected: []octoframe.Value{octoframe.NewUIntOfType(octoframe.UInt32, 4), octoframe.NewUIntOfType(octoframe.UInt32, 2), octoframe.NewUIntOfType(octoframe.UInt32, 1), octoframe.NewUIntOfType(octoframe.UInt32, 0)},
		},
		{
			name:     "count values",
			agg:      logical.Aggregate{Kind: logical.AggregateKindCount, Operand: col},
			operand:  ints,
			expected: []octoframe.Value{octoframe.NewUIntOfType(octoframe.UInt32, 3), octoframe.NewUIntOfType(octoframe.UInt32, 0), octoframe.NewUIntOfType(octoframe.UInt32, 1), octoframe.NewUIntOfType(octoframe.UInt32, 0)},
		},
		{
			name:     "sum",
			agg:      logical.Aggregate{Kind: logical.AggregateKindSum, Operand: col},
			operand:  ints,
			expected: []octoframe.Value{octoframe.NewInt(16), null(octoframe.Int64), octoframe.NewInt(3), null(octoframe.Int64)},
		},
		{
			name:     "min",
			agg:      logical.Aggregate{Kind: logical.AggregateKindMin, Operand: col},
			operand:  ints,
			expected: []octoframe.Value{octoframe.NewIntOfType(octoframe.Int32, 3), null(octoframe.Int32), octoframe.NewIntOfType(octoframe.Int32, 3), null(octoframe.Int32)},
		},
		{
			name:     "max",
			agg:      logical.Aggregate{Kind: logical.AggregateKindMax, Operand: col},
			operand:  ints,
			expected: []octoframe.Value{octoframe.NewIntOfType(octoframe.Int32, 8), null(octoframe.Int32), octoframe.NewIntOfType(octoframe.Int32, 3), null(octoframe.Int32)},
		},
		{
			name:     "first includes nulls",
			agg:      logical.Aggregate{Kind: logical.AggregateKindFirst, Operand: col},
			operand:  table.MustColumn("a", octoframe.Int32, nil, 1, 2, 3, 4, 5, 6),
			expected: []octoframe.Value{null(octoframe.Int32), octoframe.NewIntOfType(octoframe.Int32, 4), octoframe.NewIntOfType(octoframe.Int32, 6), null(octoframe.Int32)},
		},
		{
			name:     "last",
			agg:      logical.Aggregate{Kind: logical.AggregateKindLast, Operand: col},
			operand:  ints,
			expected: []octoframe.Value{octoframe.NewIntOfType(octoframe.Int32, 8), null(octoframe.Int32), octoframe.NewIntOfType(octoframe.Int32, 3), null(octoframe.Int32)},
		},
		{
			name:     "n_unique counts null",
			agg:      logical.Aggregate{Kind: logical.AggregateKindNUnique, Operand: col},
			operand:  table.MustColumn("a", octoframe.Int32, 5, nil, 5, nil, 1, 1, 1),
			expected: []octoframe.Value{octoframe.NewUIntOfType(octoframe.UInt32, 2), octoframe.NewUIntOfType(octoframe.UInt32, 1), octoframe.NewUIntOfType(octoframe.UInt32, 1), octoframe.NewUIntOfType(octoframe.UInt32, 0)},
		},
		{
			name:    "list",
			agg:     logical.Aggregate{Kind: logical.AggregateKindList, Operand: col},
			operand: ints,
			expected: []octoframe.Value{
				octoframe.NewList(octoframe.Int32, []octoframe.Value{octoframe.NewIntOfType(octoframe.Int32, 5), null(octoframe.Int32), octoframe.NewIntOfType(octoframe.Int32, 3), octoframe.NewIntOfType(octoframe.Int32, 8)}),
				octoframe.NewList(octoframe.Int32, []octoframe.Value{null(octoframe.Int32), null(octoframe.Int32)}),
				octoframe.NewList(octoframe.Int32, []octoframe.Value{octoframe.NewIntOfType(octoframe.Int32, 3)}),
				octoframe.NewList(octoframe.Int32, []octoframe.Value{}),
			},
		},
		{
			name:     "median",
			agg:      logical.Aggregate{Kind: logical.AggregateKindMedian, Operand: col},
			operand:  ints,
			expected: []octoframe.Value{octoframe.NewFloat(5), null(octoframe.Float64), octoframe.NewFloat(3), null(octoframe.Float64)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compute(t, tt.agg, tt.operand, groups)
			require.Len(t, got, len(tt.expected))
			for i := range got {
				assert.True(t, tt.expected[i].Equal(got[i]), "group %d: expected %s, got %s", i, tt.expected[i], got[i])
			}
		})
	}
}

func TestStd(t *testing.T) {
	col := table.MustColumn("a", octoframe.Float64, 2.0, 4.0, 4.0, 4.0, 5.0, 5.0, 7.0, 9.0)
	groups := groupsOf([]uint32{0, 1, 2, 3, 4, 5, 6, 7})

	population := compute(t, logical.Aggregate{Kind: logical.AggregateKindStd, Operand: operand(logical.Col("a")), DDOF: 0}, col, groups)
	assert.InDelta(t, 2.0, population[0].Float, 1e-12)

	sample := compute(t, logical.Aggregate{Kind: logical.AggregateKindStd, Operand: operand(logical.Col("a")), DDOF: 1}, col, groups)
	assert.InDelta(t, math.Sqrt(32.0/7.0), sample[0].Float, 1e-12)

	ints := table.MustColumn("a", octoframe.Int32, 5, nil, 3, 8, 1)
	variance := compute(t, logical.Aggregate{Kind: logical.AggregateKindVar, Operand: operand(logical.Col("a")), DDOF: 1}, ints, groupsOf([]uint32{0, 1, 2, 3}, []uint32{4}))
	assert.InDelta(t, 19.0/3.0, variance[0].Float, 1e-12)
	assert.True(t, variance[1].IsNull())
}

func TestQuantileOf(t *testing.T) {
	assert.Equal(t, 2.5, QuantileOf([]float64{4, 1, 3, 2}, 0.5))
	assert.Equal(t, 1.0, QuantileOf([]float64{4, 1, 3, 2}, 0))
	assert.Equal(t, 4.0, QuantileOf([]float64{4, 1, 3, 2}, 1))
	assert.InDelta(t, 1.75, QuantileOf([]float64{4, 1, 3, 2}, 0.25), 1e-12)
}

func TestApproxNUnique(t *testing.T) {
	values := make([]interface{}, 5000)
	for i := range values {
		values[i] = i % 1000
	}
	rows := make([]uint32, len(values))
	for i := range rows {
		rows[i] = uint32(i)
	}
	got := compute(t, logical.Aggregate{Kind: logical.AggregateKindApproxNUnique, Operand: operand(logical.Col("a"))}, table.MustColumn("a", octoframe.Int64, values...), groupsOf(rows))
	assert.InDelta(t, 1000, float64(got[0].UInt), 50)
}

func TestUnsupportedAggregate(t *testing.T) {
	ctx := execution.NewContext(context.Background(), config.Default())
	_, err := Compute(ctx, "out", logical.Aggregate{Kind: logical.AggregateKindSum, Operand: operand(logical.Col("s"))}, table.MustColumn("s", octoframe.String, "x"), groupsOf([]uint32{0}))
	assert.True(t, octoframe.IsTypeError(err))
}
