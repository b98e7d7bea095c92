package nodes

import (
	"fmt"

	"github.com/cube2222/octoframe/arrowexec/aggregates"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/nodes/hashtable"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/table"
)

type GroupBy struct {
	Source execution.NodeWithMeta

	Keys []logical.Expression
	// Aggregations may wrap aggregates in further expressions, which are evaluated over the aggregated table.
	Aggregations  []logical.Expression
	MaintainOrder bool
}

func (g *GroupBy) Run(ctx execution.Context) (*table.Table, error) {
	input, err := g.Source.Node.Run(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := execution.EvaluateAll(ctx, g.Keys, input)
	if err != nil {
		return nil, err
	}
	maintainOrder := g.MaintainOrder || ctx.Config.GroupBy.MaintainOrder
	groups, err := hashtable.GroupRows(ctx, keys, input.NumRows(), maintainOrder)
	if err != nil {
		return nil, fmt.Errorf("couldn't group rows: %w", err)
	}

	boundaries := table.SplitBoundaries(groups.Len(), ctx.ChunkSize())
	keyColumns := make([]*table.Column, len(keys))
	for i := range keys {
		gathered, err := keys[i].Take(groups.First)
		if err != nil {
			return nil, fmt.Errorf("couldn't gather group keys: %w", err)
		}
		if keyColumns[i], err = gathered.Rechunk(boundaries); err != nil {
			return nil, err
		}
	}

	aggregated := table.NewTableWithOffsets(boundaries)
	if len(keyColumns) > 0 {
		if aggregated, err = table.NewTable(keyColumns...); err != nil {
			return nil, err
		}
	}

	outputs := make([]logical.Expression, len(g.Aggregations))
	hidden := 0
	for i := range g.Aggregations {
		var aggErr error
		outputs[i] = g.Aggregations[i].Transform(func(expr logical.Expression) logical.Expression {
			if expr.ExpressionType != logical.ExpressionTypeAggregate || aggErr != nil {
				return expr
			}
			name := fmt.Sprintf("__aggregate_%d", hidden)
			hidden++

			var operand *table.Column
			if expr.Aggregate.Operand != nil {
				if operand, aggErr = execution.Evaluate(ctx, *expr.Aggregate.Operand, input); aggErr != nil {
					return expr
				}
			}
			col, err := aggregates.Compute(ctx, name, *expr.Aggregate, operand, groups)
			if err != nil {
				aggErr = err
				return expr
			}
			if aggregated, aggErr = aggregated.HStack(col); aggErr != nil {
				return expr
			}
			return logical.Col(name).As(expr.OutputName())
		})
		if aggErr != nil {
			return nil, fmt.Errorf("couldn't compute aggregation %s: %w", g.Aggregations[i], aggErr)
		}
	}

	aggregationColumns, err := execution.EvaluateAll(ctx, outputs, aggregated)
	if err != nil {
		return nil, err
	}
	columns := append(keyColumns, aggregationColumns...)
	if len(columns) == 0 {
		return table.NewTableWithOffsets(boundaries), nil
	}
	return table.NewTable(columns...)
}
