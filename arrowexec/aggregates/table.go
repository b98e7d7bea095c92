package aggregates

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/nodes/hashtable"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// Aggregate computes a single value out of the rows of a group.
type Aggregate interface {
	// MakeGroupConsumer returns a function which appends the aggregate of the given rows of arr to the builder.
	// Row indices are positions in arr. The function is called once per group.
	MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32)
}

type AggregateDetails struct {
	Description string
	Prototype   func(agg logical.Aggregate, operandType octoframe.Type) Aggregate
}

var Aggregates = map[logical.AggregateKind]AggregateDetails{
	logical.AggregateKindCount: {
		Description: "Counts non-null values in the group, or all rows when used without an argument.",
		Prototype:   NewCountPrototype,
	},
	logical.AggregateKindSum: {
		Description: "Sums the non-null values in the group.",
		Prototype:   NewSumPrototype,
	},
	logical.AggregateKindMean: {
		Description: "Averages the non-null values in the group.",
		Prototype:   NewMeanPrototype,
	},
	logical.AggregateKindMin: {
		Description: "Returns the smallest non-null value in the group.",
		Prototype:   NewMinPrototype,
	},
	logical.AggregateKindMax: {
		Description: "Returns the largest non-null value in the group.",
		Prototype:   NewMaxPrototype,
	},
	logical.AggregateKindFirst: {
		Description: "Returns the first value in the group, which may be null.",
		Prototype:   NewFirstPrototype,
	},
	logical.AggregateKindLast: {
		Description: "Returns the last value in the group, which may be null.",
		Prototype:   NewLastPrototype,
	},
	logical.AggregateKindNUnique: {
		Description: "Counts distinct values in the group, null included.",
		Prototype:   NewNUniquePrototype,
	},
	logical.AggregateKindList: {
		Description: "Collects all values of the group into a list.",
		Prototype:   NewListPrototype,
	},
	logical.AggregateKindStd: {
		Description: "Computes the standard deviation of the non-null values in the group.",
		Prototype:   NewStdPrototype,
	},
	logical.AggregateKindVar: {
		Description: "Computes the variance of the non-null values in the group.",
		Prototype:   NewVarPrototype,
	},
	logical.AggregateKindMedian: {
		Description: "Computes the median of the non-null values in the group.",
		Prototype:   NewMedianPrototype,
	},
	logical.AggregateKindQuantile: {
		Description: "Computes a quantile of the non-null values in the group, interpolating linearly.",
		Prototype:   NewQuantilePrototype,
	},
	logical.AggregateKindApproxNUnique: {
		Description: "Estimates the count of distinct values in the group using HyperLogLog.",
		Prototype:   NewApproxNUniquePrototype,
	},
}

// Compute evaluates the aggregate for every group, in parallel over ranges of groups.
// The operand is nil for count without an argument. Each range of groups becomes one output chunk.
func Compute(ctx execution.Context, name string, agg logical.Aggregate, operand *table.Column, groups *hashtable.Groups) (*table.Column, error) {
	operandType := octoframe.Null
	if operand != nil {
		operandType = operand.Type()
	}
	outputType, err := logical.AggregateOutputType(agg, operandType)
	if err != nil {
		return nil, err
	}
	details, ok := Aggregates[agg.Kind]
	if !ok {
		return nil, octoframe.NewPlanError("unknown aggregate %s", agg.Kind)
	}
	aggregate := details.Prototype(agg, operandType)

	var arr arrow.Array
	if operand != nil {
		if arr, err = operand.Combined(ctx.Allocator); err != nil {
			return nil, err
		}
	}

	boundaries := table.SplitBoundaries(groups.Len(), ctx.ChunkSize())
	chunks, err := execution.ForEachChunk(ctx, len(boundaries)-1, func(chunk int) (arrow.Array, error) {
		builder := array.NewBuilder(ctx.Allocator, outputType.ArrowType())
		defer builder.Release()
		builder.Reserve(boundaries[chunk+1] - boundaries[chunk])

		consume := aggregate.MakeGroupConsumer(builder, arr)
		for group := boundaries[chunk]; group < boundaries[chunk+1]; group++ {
			consume(groups.Group(group))
		}
		return builder.NewArray(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't compute %s: %w", agg.Kind, err)
	}
	return table.NewColumn(name, outputType, chunks...)
}

// nonNullCount returns the number of rows which are non-null in arr.
func nonNullCount(arr arrow.Array, rows []uint32) int {
	if arr.NullN() == 0 {
		return len(rows)
	}
	count := 0
	for _, row := range rows {
		if arr.IsValid(int(row)) {
			count++
		}
	}
	return count
}
