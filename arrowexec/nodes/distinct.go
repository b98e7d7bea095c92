package nodes

import (
	"fmt"
	"slices"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/nodes/hashtable"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/table"
)

type Distinct struct {
	Source execution.NodeWithMeta
	// Subset is nil if all columns make up the key.
	Subset        []string
	Keep          logical.DistinctKeep
	MaintainOrder bool
}

func (d *Distinct) Run(ctx execution.Context) (*table.Table, error) {
	input, err := d.Source.Node.Run(ctx)
	if err != nil {
		return nil, err
	}

	keys := input.Columns()
	if d.Subset != nil {
		keys = make([]*table.Column, len(d.Subset))
		for i, name := range d.Subset {
			if keys[i], err = input.Column(name); err != nil {
				return nil, err
			}
		}
	}
	groups, err := hashtable.GroupRows(ctx, keys, input.NumRows(), d.MaintainOrder)
	if err != nil {
		return nil, fmt.Errorf("couldn't group rows: %w", err)
	}

	indices := make([]uint32, 0, groups.Len())
	for group := 0; group < groups.Len(); group++ {
		rows := groups.Group(group)
		switch d.Keep {
		case logical.DistinctKeepFirst:
			if len(rows) > 0 {
				indices = append(indices, rows[0])
			}
		case logical.DistinctKeepLast:
			if len(rows) > 0 {
				indices = append(indices, rows[len(rows)-1])
			}
		case logical.DistinctKeepNone:
			if len(rows) == 1 {
				indices = append(indices, rows[0])
			}
		}
	}
	if d.MaintainOrder {
		slices.Sort(indices)
	}
	return table.Take(input, indices, ctx.ChunkSize())
}
