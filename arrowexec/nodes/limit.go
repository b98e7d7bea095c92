package nodes

import (
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/table"
)

type Limit struct {
	Source    execution.NodeWithMeta
	N, Offset int
}

// Run slices the chunks covering rows [Offset, Offset+N) without copying.
func (l *Limit) Run(ctx execution.Context) (*table.Table, error) {
	input, err := l.Source.Node.Run(ctx)
	if err != nil {
		return nil, err
	}
	return input.Slice(l.Offset, l.N), nil
}
