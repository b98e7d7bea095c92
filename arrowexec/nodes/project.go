package nodes

import (
	"fmt"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/table"
)

type Project struct {
	Source      execution.NodeWithMeta
	Expressions []logical.Expression
}

func (p *Project) Run(ctx execution.Context) (*table.Table, error) {
	input, err := p.Source.Node.Run(ctx)
	if err != nil {
		return nil, err
	}

	// Windows need the whole input, so they're computed first and replaced by references to hidden columns.
	exprs, withWindows, err := computeWindows(ctx, p.Expressions, input)
	if err != nil {
		return nil, err
	}

	columns, err := execution.EvaluateAll(ctx, exprs, withWindows)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return table.NewTableWithOffsets(input.Offsets()), nil
	}
	out, err := table.NewTable(columns...)
	if err != nil {
		return nil, fmt.Errorf("couldn't assemble projection: %w", err)
	}
	return out, nil
}
