package aggregates

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func NewMinPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Extremum{sign: 1}
}

func NewMaxPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Extremum{sign: -1}
}

// Extremum picks the smallest value when sign is 1, and the largest one when sign is -1.
type Extremum struct {
	sign int
}

func (agg *Extremum) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	rewrite := table.MakeColumnRewriter(builder, arr)
	compare := helpers.MakeValueComparator(arr, false, true)
	return func(rows []uint32) {
		best := -1
		for _, row := range rows {
			if arr.IsNull(int(row)) {
				continue
			}
			if best == -1 || agg.sign*compare(int(row), best) < 0 {
				best = int(row)
			}
		}
		if best == -1 {
			builder.AppendNull()
			return
		}
		rewrite(best)
	}
}

func NewFirstPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Pick{last: false}
}

func NewLastPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Pick{last: true}
}

// Pick takes the first or last row of the group, whether it's null or not.
type Pick struct {
	last bool
}

func (agg *Pick) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	rewrite := table.MakeColumnRewriter(builder, arr)
	return func(rows []uint32) {
		switch {
		case len(rows) == 0:
			builder.AppendNull()
		case agg.last:
			rewrite(int(rows[len(rows)-1]))
		default:
			rewrite(int(rows[0]))
		}
	}
}
