package nodes

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func sortInput(t *testing.T) *table.Table {
	return mustTable(t,
		table.MustColumn("a", octoframe.Int64, 3, nil, 1, 3, 2),
		table.MustColumn("b", octoframe.Int64, 0, 1, 2, 3, 4),
	)
}

func TestSort(t *testing.T) {
	tests := []struct {
		name       string
		descending bool
		nullsLast  bool
		limit      int
		expected   [][]interface{}
	}{
		{
			name:      "ascending",
			nullsLast: true,
			limit:     -1,
			expected: [][]interface{}{
				{int64(1), int64(2)},
				{int64(2), int64(4)},
				{int64(3), int64(0)},
				{int64(3), int64(3)},
				{nil, int64(1)},
			},
		},
		{
			name:       "descending",
			descending: true,
			limit:      -1,
			expected: [][]interface{}{
				{nil, int64(1)},
				{int64(3), int64(0)},
				{int64(3), int64(3)},
				{int64(2), int64(4)},
				{int64(1), int64(2)},
			},
		},
		{
			name:     "ascending nulls first",
			limit:    -1,
			expected: [][]interface{}{{nil, int64(1)}, {int64(1), int64(2)}, {int64(2), int64(4)}, {int64(3), int64(0)}, {int64(3), int64(3)}},
		},
		{
			name:      "top k keeps ties stable",
			nullsLast: true,
			limit:     3,
			expected:  [][]interface{}{{int64(1), int64(2)}, {int64(2), int64(4)}, {int64(3), int64(0)}},
		},
		{
			name:      "top k larger than input",
			nullsLast: true,
			limit:     10,
			expected: [][]interface{}{
				{int64(1), int64(2)},
				{int64(2), int64(4)},
				{int64(3), int64(0)},
				{int64(3), int64(3)},
				{nil, int64(1)},
			},
		},
		{
			name:     "top zero",
			limit:    0,
			expected: [][]interface{}{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sort := &Sort{
				Source:     source(sortInput(t)),
				By:         logical.Cols("a"),
				Descending: []bool{tt.descending},
				NullsLast:  []bool{tt.nullsLast},
				Limit:      tt.limit,
			}
			out, err := sort.Run(testContext(t))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, goRows(out))
		})
	}
}

func TestParallelSortMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 5000
	keys := make([]interface{}, n)
	positions := make([]interface{}, n)
	for i := 0; i < n; i++ {
		if rng.Intn(20) == 0 {
			keys[i] = nil
		} else {
			keys[i] = int64(rng.Intn(100))
		}
		positions[i] = int64(i)
	}
	input, err := table.NewTable(
		table.MustColumn("k", octoframe.Int64, keys...),
		table.MustColumn("position", octoframe.Int64, positions...),
	)
	require.NoError(t, err)
	input, err = input.RechunkTo(table.SplitBoundaries(n, 512))
	require.NoError(t, err)

	run := func(threshold int, limit int) [][]interface{} {
		ctx := testContext(t)
		ctx.Config.ParallelSortThreshold = threshold
		sort := &Sort{
			Source:     source(input),
			By:         logical.Cols("k"),
			Descending: []bool{true},
			NullsLast:  []bool{true},
			Limit:      limit,
		}
		out, err := sort.Run(ctx)
		require.NoError(t, err)
		return goRows(out)
	}

	sequential := run(n+1, -1)
	assert.Equal(t, sequential, run(1, -1))
	assert.Equal(t, sequential[:100], run(n+1, 100))

	for i := 1; i < len(sequential); i++ {
		prev, cur := sequential[i-1], sequential[i]
		if prev[0] == nil || cur[0] == nil || prev[0] != cur[0] {
			continue
		}
		assert.Less(t, prev[1].(int64), cur[1].(int64), "sort must be stable")
	}
}

func TestSortByMultipleKeys(t *testing.T) {
	input := mustTable(t,
		table.MustColumn("a", octoframe.String, "x", "y", "x", "y"),
		table.MustColumn("b", octoframe.Float64, 1.5, 2.5, 0.5, 3.5),
	)
	sort := &Sort{
		Source:     source(input),
		By:         logical.Cols("a", "b"),
		Descending: []bool{false, true},
		NullsLast:  []bool{true, true},
		Limit:      -1,
	}

	out, err := sort.Run(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"x", 1.5}, {"x", 0.5}, {"y", 3.5}, {"y", 2.5}}, goRows(out))
}
