package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func TestFilterDropsNullPredicates(t *testing.T) {
	input := mustTable(t,
		table.MustColumn("a", octoframe.Int64, 1, 5, nil, 7, 2),
		table.MustColumn("b", octoframe.String, "x", "y", "z", "w", "v"),
	)
	filter := &Filter{Source: source(input), Predicate: logical.Col("a").Gt(logical.Lit(1))}

	out, err := filter.Run(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(5), "y"}, {int64(7), "w"}, {int64(2), "v"}}, goRows(out))
	assert.True(t, out.Schema().Equal(input.Schema()))
}

func TestFilterNullLiteral(t *testing.T) {
	input := mustTable(t, table.MustColumn("a", octoframe.Int64, 1, 2))
	filter := &Filter{Source: source(input), Predicate: logical.Lit(nil)}

	out, err := filter.Run(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
	assert.True(t, out.Schema().Equal(input.Schema()))
}

func TestFilterWithoutColumns(t *testing.T) {
	filter := &Filter{Source: source(table.NewEmptyTable(4)), Predicate: logical.Lit(true)}

	out, err := filter.Run(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 4, out.NumRows())
}
