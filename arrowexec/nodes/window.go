package nodes

import (
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/arrowexec/aggregates"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/arrowexec/kernels"
	"github.com/cube2222/octoframe/arrowexec/nodes/hashtable"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// computeWindows evaluates every window expression over the whole input. It returns the expressions
// with windows replaced by hidden column references, and the input extended with those columns.
func computeWindows(ctx execution.Context, exprs []logical.Expression, input *table.Table) ([]logical.Expression, *table.Table, error) {
	var windowColumns []*table.Column
	var windowErr error
	out := make([]logical.Expression, len(exprs))
	for i := range exprs {
		if !exprs[i].Contains(logical.ExpressionTypeWindow) {
			out[i] = exprs[i]
			continue
		}
		out[i] = exprs[i].Transform(func(expr logical.Expression) logical.Expression {
			if expr.ExpressionType != logical.ExpressionTypeWindow || windowErr != nil {
				return expr
			}
			name := fmt.Sprintf("__window_%d", len(windowColumns))
			col, err := computeWindow(ctx, name, *expr.Window, input)
			if err != nil {
				windowErr = fmt.Errorf("couldn't compute window expression %s: %w", expr, err)
				return expr
			}
			windowColumns = append(windowColumns, col)
			return logical.Col(name).As(expr.OutputName())
		})
	}
	if windowErr != nil {
		return nil, nil, windowErr
	}
	if len(windowColumns) == 0 {
		return exprs, input, nil
	}

	columns := input.Columns()
	for _, col := range windowColumns {
		rechunked, err := col.Rechunk(input.Offsets())
		if err != nil {
			return nil, nil, err
		}
		columns = append(columns, rechunked)
	}
	extended, err := table.NewTable(columns...)
	if err != nil {
		return nil, nil, err
	}
	return out, extended, nil
}

// computeWindow returns a single-chunk column with one value per input row.
func computeWindow(ctx execution.Context, name string, window logical.Window, input *table.Table) (*table.Column, error) {
	numRows := input.NumRows()
	partitionKeys, err := execution.EvaluateAll(ctx, window.PartitionBy, input)
	if err != nil {
		return nil, err
	}
	groups, err := hashtable.GroupRows(ctx, partitionKeys, numRows, true)
	if err != nil {
		return nil, fmt.Errorf("couldn't partition rows: %w", err)
	}

	ordered, ties, err := orderPartitions(ctx, window, input, groups)
	if err != nil {
		return nil, err
	}

	switch window.Kind {
	case logical.WindowKindAggregate:
		var operand *table.Column
		if window.Function.Operand != nil {
			if operand, err = execution.Evaluate(ctx, *window.Function.Operand, input); err != nil {
				return nil, err
			}
		}
		perGroup, err := aggregates.Compute(ctx, name, *window.Function, operand, groups)
		if err != nil {
			return nil, err
		}
		return perGroup.Take(groups.RowGroups())

	case logical.WindowKindRowNumber, logical.WindowKindRank, logical.WindowKindDenseRank:
		values := make([]uint32, numRows)
		for group := range ordered {
			rank, denseRank := uint32(1), uint32(1)
			for position, row := range ordered[group] {
				if position > 0 && !ties(ordered[group][position-1], row) {
					rank = uint32(position + 1)
					denseRank++
				}
				switch window.Kind {
				case logical.WindowKindRowNumber:
					values[row] = uint32(position + 1)
				case logical.WindowKindRank:
					values[row] = rank
				default:
					values[row] = denseRank
				}
			}
		}
		builder := array.NewUint32Builder(ctx.Allocator)
		defer builder.Release()
		builder.AppendValues(values, nil)
		return table.NewColumn(name, octoframe.UInt32, builder.NewArray())

	case logical.WindowKindLag, logical.WindowKindLead:
		operand, err := execution.Evaluate(ctx, *window.Operand, input)
		if err != nil {
			return nil, err
		}
		shift := window.Offset
		if window.Kind == logical.WindowKindLead {
			shift = -shift
		}
		indices := make([]uint32, numRows)
		for group := range ordered {
			for position, row := range ordered[group] {
				source := position - shift
				if source < 0 || source >= len(ordered[group]) {
					indices[row] = table.NullIndex
				} else {
					indices[row] = ordered[group][source]
				}
			}
		}
		out, err := operand.Take(indices)
		if err != nil {
			return nil, err
		}
		return out.Rename(name), nil

	case logical.WindowKindCumSum:
		operand, err := execution.Evaluate(ctx, *window.Operand, input)
		if err != nil {
			return nil, err
		}
		return cumulativeSum(ctx, name, operand, ordered)
	}
	panic("unexhaustive window kind match")
}

// orderPartitions returns the rows of every partition in window order, together with a function
// reporting whether two rows tie on the order keys. Without order keys, rows keep input order and all tie.
func orderPartitions(ctx execution.Context, window logical.Window, input *table.Table, groups *hashtable.Groups) ([][]uint32, func(a, b uint32) bool, error) {
	ordered := make([][]uint32, groups.Len())
	for group := range ordered {
		ordered[group] = groups.Group(group)
	}
	if len(window.OrderBy) == 0 {
		return ordered, func(a, b uint32) bool { return true }, nil
	}

	keys, err := execution.EvaluateAll(ctx, window.OrderBy, input)
	if err != nil {
		return nil, nil, err
	}
	combined, err := hashtable.CombineKeys(ctx, keys)
	if err != nil {
		return nil, nil, err
	}
	descending := make([]bool, len(keys))
	nullsLast := make([]bool, len(keys))
	for i := range keys {
		if i < len(window.Descending) {
			descending[i] = window.Descending[i]
		}
		nullsLast[i] = !descending[i]
	}
	compare := helpers.MakeRowComparator(combined, descending, nullsLast)

	if err := ctx.Pool.Run(ctx.Context, len(ordered), func(group int) error {
		rows := slices.Clone(ordered[group])
		slices.SortStableFunc(rows, func(a, b uint32) int {
			return compare(int(a), int(b))
		})
		ordered[group] = rows
		return nil
	}); err != nil {
		return nil, nil, err
	}
	return ordered, func(a, b uint32) bool { return compare(int(a), int(b)) == 0 }, nil
}

// cumulativeSum computes running sums in window order. Null values stay null and don't reset the sum.
func cumulativeSum(ctx execution.Context, name string, operand *table.Column, ordered [][]uint32) (*table.Column, error) {
	outputType, err := logical.AggregateOutputType(logical.Aggregate{Kind: logical.AggregateKindSum}, operand.Type())
	if err != nil {
		return nil, err
	}
	workType := outputType
	switch {
	case outputType.TypeID == octoframe.TypeIDDuration:
		workType = octoframe.Int64
	case outputType.IsFloat():
		workType = octoframe.Float64
	}

	combined, err := operand.Combined(ctx.Allocator)
	if err != nil {
		return nil, err
	}
	values, err := kernels.Cast(ctx.Allocator, combined, operand.Type(), workType, false)
	if err != nil {
		return nil, err
	}
	defer values.Release()

	var sums arrow.Array
	switch workType.TypeID {
	case octoframe.TypeIDInt64:
		sums = runningSum(kernels.Values[int64](values), values, ordered, array.NewInt64Builder(ctx.Allocator))
	case octoframe.TypeIDUInt64:
		sums = runningSum(kernels.Values[uint64](values), values, ordered, array.NewUint64Builder(ctx.Allocator))
	default:
		sums = runningSum(kernels.Values[float64](values), values, ordered, array.NewFloat64Builder(ctx.Allocator))
	}
	defer sums.Release()

	out, err := kernels.Cast(ctx.Allocator, sums, workType, outputType, false)
	if err != nil {
		return nil, err
	}
	return table.NewColumn(name, outputType, out)
}

func runningSum[T int64 | uint64 | float64](values []T, arr arrow.Array, ordered [][]uint32, builder interface {
	AppendValues(v []T, valid []bool)
	NewArray() arrow.Array
	Release()
}) arrow.Array {
	defer builder.Release()
	out := make([]T, len(values))
	valid := make([]bool, len(values))
	for _, rows := range ordered {
		var sum T
		for _, row := range rows {
			if arr.IsNull(int(row)) {
				continue
			}
			sum += values[row]
			out[row] = sum
			valid[row] = true
		}
	}
	builder.AppendValues(out, valid)
	return builder.NewArray()
}
