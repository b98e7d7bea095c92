package nodes

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/kernels"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

type Filter struct {
	Source    execution.NodeWithMeta
	Predicate logical.Expression
}

func (f *Filter) Run(ctx execution.Context) (*table.Table, error) {
	input, err := f.Source.Node.Run(ctx)
	if err != nil {
		return nil, err
	}
	return filterTable(ctx, input, f.Predicate)
}

// filterTable keeps the rows for which the predicate is true. Rows with a null predicate are dropped.
func filterTable(ctx execution.Context, input *table.Table, predicate logical.Expression) (*table.Table, error) {
	selection, err := execution.Evaluate(ctx, predicate, input)
	if err != nil {
		return nil, fmt.Errorf("couldn't evaluate filter predicate: %w", err)
	}
	if selection.Type().TypeID == octoframe.TypeIDNull {
		return table.NewEmptyTableWithSchema(input.Schema())
	}

	if input.NumColumns() == 0 {
		counts, err := execution.ForEachChunk(ctx, input.NumChunks(), func(chunk int) (int, error) {
			return kernels.CountSelected(selection.Chunk(chunk)), nil
		})
		if err != nil {
			return nil, err
		}
		offsets := []int{0}
		for _, count := range counts {
			offsets = append(offsets, offsets[len(offsets)-1]+count)
		}
		return table.NewTableWithOffsets(offsets), nil
	}

	records, err := execution.ForEachChunk(ctx, input.NumChunks(), func(chunk int) (arrow.Record, error) {
		out, err := kernels.FilterRecord(ctx.Context, ctx.Allocator, input.Chunk(chunk), selection.Chunk(chunk))
		if err != nil {
			return nil, octoframe.ExecutionFailure("filter", fmt.Errorf("couldn't filter record batch: %w", err))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return table.FromRecords(input.Schema(), records)
}
