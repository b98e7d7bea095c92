package kernels

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cube2222/octoframe/table"
)

// Here there are two filter implementations.
// FilterRecord just uses the arrow library function, which is faster if most of the rows are filtered out.
// FilterInto appends the selected rows to builders, which lets the caller re-batch small outputs
// and is much faster if only few rows get filtered out.

// FilterRecord keeps the rows of rec for which mask is true. Null mask slots drop the row.
func FilterRecord(ctx context.Context, mem memory.Allocator, rec arrow.Record, mask arrow.Array) (arrow.Record, error) {
	out, err := compute.FilterRecordBatch(compute.WithAllocator(ctx, mem), rec, mask, &compute.FilterOptions{
		NullSelection: compute.SelectionDropNulls,
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't filter record batch: %w", err)
	}
	return out, nil
}

// FilterInto appends the rows of columns selected by mask to the corresponding builders.
func FilterInto(builders []array.Builder, columns []arrow.Array, mask *array.Boolean) {
	for i := range columns {
		rewrite := table.MakeColumnRewriter(builders[i], columns[i])
		for row := 0; row < mask.Len(); row++ {
			if mask.IsValid(row) && mask.Value(row) {
				rewrite(row)
			}
		}
	}
}

// CountSelected returns the number of rows a mask keeps.
func CountSelected(mask arrow.Array) int {
	booleans, ok := mask.(*array.Boolean)
	if !ok {
		return 0
	}
	count := 0
	for i := 0; i < booleans.Len(); i++ {
		if booleans.IsValid(i) && booleans.Value(i) {
			count++
		}
	}
	return count
}
