package nodes

import (
	"slices"

	"github.com/google/btree"

	"github.com/cube2222/octoframe/arrowexec/execution"
)

// topK returns the indices of the first k rows in sort order. Each chunk keeps its best k rows
// in a bounded ordered set, and the per-chunk candidates are merged at the end.
// Ties are broken by row index, which keeps the selection stable.
func topK(ctx execution.Context, offsets []int, k int, compare func(i, j int) int) ([]uint32, error) {
	if k == 0 {
		return []uint32{}, nil
	}
	less := func(a, b uint32) bool {
		if c := compare(int(a), int(b)); c != 0 {
			return c < 0
		}
		return a < b
	}

	candidates, err := execution.ForEachChunk(ctx, len(offsets)-1, func(chunk int) ([]uint32, error) {
		best := btree.NewG[uint32](16, less)
		for row := offsets[chunk]; row < offsets[chunk+1]; row++ {
			if best.Len() == k {
				if worst, _ := best.Max(); !less(uint32(row), worst) {
					continue
				}
				best.DeleteMax()
			}
			best.ReplaceOrInsert(uint32(row))
		}
		out := make([]uint32, 0, best.Len())
		best.Ascend(func(row uint32) bool {
			out = append(out, row)
			return true
		})
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	var merged []uint32
	for _, chunkCandidates := range candidates {
		merged = append(merged, chunkCandidates...)
	}
	slices.SortFunc(merged, func(a, b uint32) int {
		if less(a, b) {
			return -1
		} else if less(b, a) {
			return 1
		}
		return 0
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}
