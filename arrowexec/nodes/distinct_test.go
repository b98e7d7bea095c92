package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func TestDistinct(t *testing.T) {
	input := mustTable(t,
		table.MustColumn("a", octoframe.Int64, 1, 2, 1, 3, 2),
		table.MustColumn("b", octoframe.String, "x", "y", "z", "w", "v"),
	)
	tests := []struct {
		name     string
		subset   []string
		keep     logical.DistinctKeep
		expected [][]interface{}
	}{
		{
			name:     "keep first",
			subset:   []string{"a"},
			keep:     logical.DistinctKeepFirst,
			expected: [][]interface{}{{int64(1), "x"}, {int64(2), "y"}, {int64(3), "w"}},
		},
		{
			name:     "keep last",
			subset:   []string{"a"},
			keep:     logical.DistinctKeepLast,
			expected: [][]interface{}{{int64(1), "z"}, {int64(3), "w"}, {int64(2), "v"}},
		},
		{
			name:     "keep none",
			subset:   []string{"a"},
			keep:     logical.DistinctKeepNone,
			expected: [][]interface{}{{int64(3), "w"}},
		},
		{
			name: "all columns",
			keep: logical.DistinctKeepFirst,
			expected: [][]interface{}{
				{int64(1), "x"},
				{int64(2), "y"},
				{int64(1), "z"},
				{int64(3), "w"},
				{int64(2), "v"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			distinct := &Distinct{
				Source:        source(input),
				Subset:        tt.subset,
				Keep:          tt.keep,
				MaintainOrder: true,
			}
			out, err := distinct.Run(testContext(t))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, goRows(out))
		})
	}
}

func TestDistinctNullsAreEqual(t *testing.T) {
	input := mustTable(t, table.MustColumn("a", octoframe.Float64, nil, 1.0, nil, 1.0))
	distinct := &Distinct{Source: source(input), Keep: logical.DistinctKeepFirst}

	out, err := distinct.Run(testContext(t))
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]interface{}{{nil}, {1.0}}, goRows(out))
}
