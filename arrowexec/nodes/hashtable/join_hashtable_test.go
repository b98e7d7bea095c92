package hashtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func TestJoinTableLookup(t *testing.T) {
	ctx := testContext(t, 3, true)

	buildKeys := []*table.Column{
		chunked(t, table.MustColumn("a", octoframe.Int64, 1, 2, 2, nil, 3), 0, 2, 5),
		chunked(t, table.MustColumn("b", octoframe.String, "x", "y", "y", "x", "z"), 0, 2, 5),
	}
	joinTable, err := BuildJoinTable(ctx, buildKeys, 5)
	require.NoError(t, err)

	lookupKeys := []*table.Column{
		chunked(t, table.MustColumn("a", octoframe.Int64, 2, nil, 1, 4, 2), 0, 1, 3, 5),
		chunked(t, table.MustColumn("b", octoframe.String, "y", "x", "x", "x", "q"), 0, 1, 3, 5),
	}
	result, err := joinTable.Lookup(ctx, lookupKeys, 5)
	require.NoError(t, err)

	assert.Equal(t, []uint32{0, 0, 2}, result.LookupRows)
	assert.Equal(t, []uint32{1, 2, 0}, result.BuildRows)
	assert.Equal(t, []bool{true, false, true, false, false}, result.LookupMatched)
	assert.Equal(t, []uint32{0, 1, 2}, result.BuildMatched.ToArray())
	assert.Equal(t, 5, joinTable.NumRows())
}

func TestJoinTableNullKeysNeverMatch(t *testing.T) {
	ctx := testContext(t, 2, true)

	buildKeys := []*table.Column{table.MustColumn("k", octoframe.String, nil, "a")}
	joinTable, err := BuildJoinTable(ctx, buildKeys, 2)
	require.NoError(t, err)

	result, err := joinTable.Lookup(ctx, []*table.Column{table.MustColumn("k", octoframe.String, nil, nil)}, 2)
	require.NoError(t, err)
	assert.Empty(t, result.LookupRows)
	assert.True(t, result.BuildMatched.IsEmpty())
}

func TestJoinTableManyDuplicates(t *testing.T) {
	ctx := testContext(t, 4, true)

	const n = 3000
	values := make([]interface{}, n)
	for i := range values {
		values[i] = int64(i % 3)
	}
	joinTable, err := BuildJoinTable(ctx, []*table.Column{table.MustColumn("k", octoframe.Int64, values...)}, n)
	require.NoError(t, err)

	result, err := joinTable.Lookup(ctx, []*table.Column{table.MustColumn("k", octoframe.Int64, 1)}, 1)
	require.NoError(t, err)
	require.Len(t, result.BuildRows, n/3)
	for i, row := range result.BuildRows {
		assert.Equal(t, uint32(3*i+1), row)
	}
}

func TestPartitionCount(t *testing.T) {
	assert.Equal(t, 2, partitionCount(1))
	assert.Equal(t, 5, partitionCount(4))
	assert.Equal(t, 11, partitionCount(8))
}
