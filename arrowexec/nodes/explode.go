package nodes

import (
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/table"
)

type Explode struct {
	Source  execution.NodeWithMeta
	Columns []string
}

// Run gathers the other columns once per list element, and the list elements themselves, by row index.
func (e *Explode) Run(ctx execution.Context) (*table.Table, error) {
	input, err := e.Source.Node.Run(ctx)
	if err != nil {
		return nil, err
	}

	lists := make([]*array.List, len(e.Columns))
	elements := make([]*table.Table, len(e.Columns))
	for i, name := range e.Columns {
		col, err := input.Column(name)
		if err != nil {
			return nil, err
		}
		combined, err := col.Combined(ctx.Allocator)
		if err != nil {
			return nil, err
		}
		list, ok := combined.(*array.List)
		if !ok {
			return nil, fmt.Errorf("column '%s' of type %s can't be exploded", name, col.Type())
		}
		lists[i] = list
		elementColumn, err := table.NewColumn(name, *col.Type().List.Element, list.ListValues())
		if err != nil {
			return nil, err
		}
		if elements[i], err = table.NewTable(elementColumn); err != nil {
			return nil, err
		}
	}

	rows, positions, err := explodeIndices(lists, input.NumRows())
	if err != nil {
		return nil, err
	}

	var others []string
	for _, name := range input.Schema().Names() {
		if !slices.Contains(e.Columns, name) {
			others = append(others, name)
		}
	}
	var repeated *table.Table
	if len(others) > 0 {
		kept, err := input.Select(others...)
		if err != nil {
			return nil, err
		}
		if repeated, err = table.Take(kept, rows, ctx.ChunkSize()); err != nil {
			return nil, err
		}
	}

	columns := make([]*table.Column, 0, input.NumColumns())
	for _, name := range input.Schema().Names() {
		if i := slices.Index(e.Columns, name); i != -1 {
			exploded, err := table.Take(elements[i], positions[i], ctx.ChunkSize())
			if err != nil {
				return nil, err
			}
			columns = append(columns, exploded.ColumnAt(0))
			continue
		}
		col, err := repeated.Column(name)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return table.NewTable(columns...)
}

// explodeIndices returns the input row of every output row, and for every list, the position of the element
// in its values array. All lists must have the same number of elements in a row, null lists count as empty.
func explodeIndices(lists []*array.List, numRows int) ([]uint32, [][]uint32, error) {
	rows := make([]uint32, 0, numRows)
	positions := make([][]uint32, len(lists))
	for row := 0; row < numRows; row++ {
		count := -1
		for _, list := range lists {
			length := 0
			if list.IsValid(row) {
				start, end := list.ValueOffsets(row)
				length = int(end - start)
			}
			if count != -1 && length != count {
				return nil, nil, fmt.Errorf("exploded columns have %d and %d elements in row %d", count, length, row)
			}
			count = length
		}

		if count == 0 {
			rows = append(rows, uint32(row))
			for i := range positions {
				positions[i] = append(positions[i], table.NullIndex)
			}
			continue
		}
		if err := table.CheckRowCount(len(rows) + count); err != nil {
			return nil, nil, err
		}
		for k := 0; k < count; k++ {
			rows = append(rows, uint32(row))
		}
		for i, list := range lists {
			start, _ := list.ValueOffsets(row)
			for k := 0; k < count; k++ {
				positions[i] = append(positions[i], uint32(int(start)+k))
			}
		}
	}
	return rows, positions, nil
}
