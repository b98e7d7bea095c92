package nodes

import (
	"slices"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/kernels"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

type Melt struct {
	Source       execution.NodeWithMeta
	IDColumns    []string
	ValueColumns []string
	VariableName string
	ValueName    string
	ValueType    octoframe.Type
}

// Run builds one block per value column, in parallel, and stacks them in value column order.
// A block reuses the id column chunks, so only the variable and value columns are new.
func (m *Melt) Run(ctx execution.Context) (*table.Table, error) {
	input, err := m.Source.Node.Run(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]*table.Column, len(m.IDColumns))
	for i, name := range m.IDColumns {
		if ids[i], err = input.Column(name); err != nil {
			return nil, err
		}
	}

	blocks, err := execution.ForEachChunk(ctx, len(m.ValueColumns), func(i int) (*table.Table, error) {
		col, err := input.Column(m.ValueColumns[i])
		if err != nil {
			return nil, err
		}
		variable := octoframe.NewString(m.ValueColumns[i])
		values := make([]arrow.Array, col.NumChunks())
		variables := make([]arrow.Array, col.NumChunks())
		for j, chunk := range col.Chunks() {
			if values[j], err = kernels.Cast(ctx.Allocator, chunk, col.Type(), m.ValueType, false); err != nil {
				return nil, err
			}
			if variables[j], err = kernels.Broadcast(ctx.Allocator, variable, octoframe.String, chunk.Len()); err != nil {
				return nil, err
			}
		}
		variableColumn, err := table.NewColumn(m.VariableName, octoframe.String, variables...)
		if err != nil {
			return nil, err
		}
		valueColumn, err := table.NewColumn(m.ValueName, m.ValueType, values...)
		if err != nil {
			return nil, err
		}
		return table.NewTable(append(slices.Clone(ids), variableColumn, valueColumn)...)
	})
	if err != nil {
		return nil, err
	}
	return blocks[0].VStack(blocks[1:]...)
}
