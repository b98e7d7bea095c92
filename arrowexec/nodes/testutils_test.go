package nodes

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// TestNode returns a fixed table and counts how many times it was run.
type TestNode struct {
	Table *table.Table
	Err   error
	runs  atomic.Int32
}

func (t *TestNode) Run(ctx execution.Context) (*table.Table, error) {
	t.runs.Add(1)
	if t.Err != nil {
		return nil, t.Err
	}
	return t.Table, nil
}

func source(tbl *table.Table) execution.NodeWithMeta {
	return execution.NodeWithMeta{Node: &TestNode{Table: tbl}, Schema: tbl.Schema()}
}

func testContext(t *testing.T) execution.Context {
	cfg := config.Default()
	cfg.ChunkSize = 3
	cfg.MaxThreads = 4
	ctx := execution.NewContext(context.Background(), cfg)
	pool := execution.NewPool(4)
	t.Cleanup(pool.Close)
	ctx.Pool = pool
	return ctx
}

// mustTable builds a table whose columns are split into chunks of at most two rows.
func mustTable(t *testing.T, columns ...*table.Column) *table.Table {
	tbl, err := table.NewTable(columns...)
	require.NoError(t, err)
	tbl, err = tbl.RechunkTo(table.SplitBoundaries(tbl.NumRows(), 2))
	require.NoError(t, err)
	return tbl
}

func goValue(v octoframe.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	switch {
	case v.Type.TypeID == octoframe.TypeIDBoolean:
		return v.Boolean
	case v.Type.IsSignedInteger() || v.Type.IsTemporal():
		return v.Int
	case v.Type.IsUnsignedInteger():
		return v.UInt
	case v.Type.IsFloat():
		return v.Float
	case v.Type.TypeID == octoframe.TypeIDString:
		return v.Str
	case v.Type.TypeID == octoframe.TypeIDList:
		out := make([]interface{}, len(v.List))
		for i := range v.List {
			out[i] = goValue(v.List[i])
		}
		return out
	}
	return v.String()
}

// goRows returns the rows of the table as plain Go values: int64, uint64, float64, string, bool or nil.
func goRows(tbl *table.Table) [][]interface{} {
	out := [][]interface{}{}
	for _, row := range tbl.Rows() {
		converted := make([]interface{}, len(row))
		for i := range row {
			converted[i] = goValue(row[i])
		}
		out = append(out, converted)
	}
	return out
}
