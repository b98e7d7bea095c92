package nodes

import (
	"fmt"
	"slices"

	"github.com/go-kit/log/level"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/arrowexec/nodes/hashtable"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/table"
)

type Sort struct {
	Source     execution.NodeWithMeta
	By         []logical.Expression
	Descending []bool
	NullsLast  []bool
	// Limit is -1 if unlimited, otherwise only the first Limit rows are kept, using top-k selection.
	Limit int
}

func (s *Sort) Run(ctx execution.Context) (*table.Table, error) {
	input, err := s.Source.Node.Run(ctx)
	if err != nil {
		return nil, err
	}
	compare, err := s.makeComparator(ctx, input)
	if err != nil {
		return nil, err
	}

	var indices []uint32
	if s.Limit >= 0 {
		indices, err = topK(ctx, input.Offsets(), s.Limit, compare)
	} else {
		indices, err = sortIndices(ctx, input.NumRows(), compare)
	}
	if err != nil {
		return nil, err
	}
	return table.Take(input, indices, ctx.ChunkSize())
}

// makeComparator evaluates the sort keys and returns a comparison of global row indices.
func (s *Sort) makeComparator(ctx execution.Context, input *table.Table) (func(i, j int) int, error) {
	keys, err := execution.EvaluateAll(ctx, s.By, input)
	if err != nil {
		return nil, fmt.Errorf("couldn't evaluate sort keys: %w", err)
	}
	combined, err := hashtable.CombineKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	return helpers.MakeRowComparator(combined, s.Descending, s.NullsLast), nil
}

// sortIndices returns the row indices in stable sorted order. Large inputs are split into runs
// which are sorted in parallel and then merged pairwise, in parallel rounds.
func sortIndices(ctx execution.Context, numRows int, compare func(i, j int) int) ([]uint32, error) {
	indices := make([]uint32, numRows)
	for i := range indices {
		indices[i] = uint32(i)
	}
	compareIndices := func(a, b uint32) int {
		return compare(int(a), int(b))
	}

	threads := ctx.Pool.Size()
	if numRows < ctx.Config.ParallelSortThreshold || threads < 2 || numRows < 2*threads {
		slices.SortStableFunc(indices, compareIndices)
		return indices, nil
	}

	level.Debug(ctx.Logger).Log("msg", "using parallel sort", "rows", numRows, "runs", threads)
	runs := table.SplitBoundaries(numRows, (numRows+threads-1)/threads)
	if err := ctx.Pool.Run(ctx.Context, len(runs)-1, func(run int) error {
		slices.SortStableFunc(indices[runs[run]:runs[run+1]], compareIndices)
		return nil
	}); err != nil {
		return nil, err
	}

	buffer := make([]uint32, numRows)
	for len(runs) > 2 {
		merged := []int{0}
		pairs := (len(runs) - 1) / 2
		if err := ctx.Pool.Run(ctx.Context, pairs, func(pair int) error {
			start, middle, end := runs[2*pair], runs[2*pair+1], runs[2*pair+2]
			mergeRuns(buffer[start:end], indices[start:middle], indices[middle:end], compareIndices)
			return nil
		}); err != nil {
			return nil, err
		}
		for pair := 0; pair < pairs; pair++ {
			merged = append(merged, runs[2*pair+2])
		}
		if (len(runs)-1)%2 == 1 {
			// The odd run out is carried over unchanged.
			start, end := runs[len(runs)-2], runs[len(runs)-1]
			copy(buffer[start:end], indices[start:end])
			merged = append(merged, end)
		}
		indices, buffer = buffer, indices
		runs = merged
	}
	return indices, nil
}

// mergeRuns merges two sorted runs into out. On ties, elements of the left run go first.
func mergeRuns(out, left, right []uint32, compare func(a, b uint32) int) {
	i, j, k := 0, 0, 0
	for i < len(left) && j < len(right) {
		if compare(right[j], left[i]) < 0 {
			out[k] = right[j]
			j++
		} else {
			out[k] = left[i]
			i++
		}
		k++
	}
	k += copy(out[k:], left[i:])
	copy(out[k:], right[j:])
}
