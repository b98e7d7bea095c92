package nodes

import (
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/table"
)

type Union struct {
	Sources []execution.NodeWithMeta
}

// Run materializes the inputs in parallel and concatenates their chunks in input order.
func (u *Union) Run(ctx execution.Context) (*table.Table, error) {
	inputs, err := execution.ForEachChunk(ctx, len(u.Sources), func(i int) (*table.Table, error) {
		return u.Sources[i].Node.Run(ctx)
	})
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return table.NewEmptyTable(0), nil
	}
	return inputs[0].VStack(inputs[1:]...)
}
