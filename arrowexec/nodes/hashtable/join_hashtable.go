package hashtable

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/brentp/intintmap"
	"github.com/twotwotwo/sorts"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/table"
)

// JoinTable indexes the build side of a join by key hash.
// Rows are partitioned by hash, and each partition is sorted by hash, so that all rows
// with a given hash are stored contiguously starting at the index kept in hashStartIndices.
type JoinTable struct {
	partitions []JoinTablePartition
	keys       []arrow.Array
	numRows    int
}

type JoinTablePartition struct {
	hashStartIndices *intintmap.Map
	positions        []hashRowPosition
}

type hashRowPosition struct {
	hash uint64
	row  uint32
}

// BuildJoinTable builds the table over the given key columns.
// Rows with a null in any key column are left out, as they can't match anything.
func BuildJoinTable(ctx execution.Context, keys []*table.Column, numRows int) (*JoinTable, error) {
	hashes, err := HashRows(ctx, keys, numRows)
	if err != nil {
		return nil, err
	}
	combined, err := CombineKeys(ctx, keys)
	if err != nil {
		return nil, err
	}

	partitionCount := partitionCount(ctx.Pool.Size())
	hashPositionsOrdered := make([][]hashRowPosition, partitionCount)
	for i := range hashPositionsOrdered {
		hashPositionsOrdered[i] = make([]hashRowPosition, 0, numRows/partitionCount)
	}
	for row, hash := range hashes {
		if helpers.HasNull(combined, row) {
			continue
		}
		partition := int(hash % uint64(partitionCount))
		hashPositionsOrdered[partition] = append(hashPositionsOrdered[partition], hashRowPosition{
			hash: hash,
			row:  uint32(row),
		})
	}

	partitions := make([]JoinTablePartition, partitionCount)
	if err := ctx.Pool.Run(ctx.Context, partitionCount, func(partition int) error {
		positions := hashPositionsOrdered[partition]
		sorts.ByUint64(SortHashPosition(positions))
		sortRowsWithinHashes(positions)

		partitions[partition] = JoinTablePartition{
			hashStartIndices: buildHashIndex(positions),
			positions:        positions,
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("couldn't build join table partitions: %w", err)
	}

	return &JoinTable{
		partitions: partitions,
		keys:       combined,
		numRows:    numRows,
	}, nil
}

// partitionCount returns the first prime number larger than the thread count.
func partitionCount(threads int) int {
	for n := threads + 1; ; n++ {
		prime := true
		for d := 2; d*d <= n; d++ {
			if n%d == 0 {
				prime = false
				break
			}
		}
		if prime && n > 1 {
			return n
		}
	}
}

// sortRowsWithinHashes orders the rows sharing a hash, as the radix sort by hash isn't stable.
func sortRowsWithinHashes(positions []hashRowPosition) {
	for start := 0; start < len(positions); {
		end := start + 1
		for end < len(positions) && positions[end].hash == positions[start].hash {
			end++
		}
		if end-start > 1 {
			slices.SortFunc(positions[start:end], func(a, b hashRowPosition) int {
				return cmp.Compare(a.row, b.row)
			})
		}
		start = end
	}
}

func buildHashIndex(hashPositionsOrdered []hashRowPosition) *intintmap.Map {
	if len(hashPositionsOrdered) == 0 {
		return intintmap.New(1, 0.6)
	}
	hashIndex := intintmap.New(len(hashPositionsOrdered), 0.6)
	hashIndex.Put(int64(hashPositionsOrdered[0].hash), 0)
	for i := 1; i < len(hashPositionsOrdered); i++ {
		if hashPositionsOrdered[i].hash != hashPositionsOrdered[i-1].hash {
			hashIndex.Put(int64(hashPositionsOrdered[i].hash), int64(i))
		}
	}
	return hashIndex
}

type SortHashPosition []hashRowPosition

func (h SortHashPosition) Len() int {
	return len(h)
}

func (h SortHashPosition) Less(i, j int) bool {
	return h[i].hash < h[j].hash
}

func (h SortHashPosition) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h SortHashPosition) Key(i int) uint64 {
	return h[i].hash
}

// LookupResult holds the matching row pairs, in lookup row order.
// The matches of a single lookup row are contiguous and ordered by build row.
type LookupResult struct {
	LookupRows    []uint32
	BuildRows     []uint32
	LookupMatched []bool
	BuildMatched  *roaring.Bitmap
}

// Lookup matches every row of the lookup keys against the table, in parallel per chunk.
// The lookup key columns must have the same types as the build key columns.
func (t *JoinTable) Lookup(ctx execution.Context, keys []*table.Column, numRows int) (*LookupResult, error) {
	type chunkMatches struct {
		lookupRows, buildRows []uint32
		buildMatched          *roaring.Bitmap
	}

	lookupMatched := make([]bool, numRows)
	numChunks := 0
	var offsets []int
	if len(keys) > 0 {
		numChunks = keys[0].NumChunks()
		offsets = keys[0].Offsets()
	}

	results, err := execution.ForEachChunk(ctx, numChunks, func(chunk int) (chunkMatches, error) {
		arrays := make([]arrow.Array, len(keys))
		for i := range keys {
			arrays[i] = keys[i].Chunk(chunk)
		}
		hasher := helpers.MakeRowHasher(arrays)
		keysEqual := helpers.MakeRowEqualityChecker(arrays, t.keys)

		out := chunkMatches{buildMatched: roaring.New()}
		offset := offsets[chunk]
		chunkLen := arrays[0].Len()
		for row := 0; row < chunkLen; row++ {
			if row%cancellationCheckInterval == 0 {
				if err := ctx.Context.Err(); err != nil {
					return chunkMatches{}, err
				}
			}
			if helpers.HasNull(arrays, row) {
				continue
			}
			hash := hasher(row)
			partition := t.partitions[hash%uint64(len(t.partitions))]
			start, ok := partition.hashStartIndices.Get(int64(hash))
			if !ok {
				continue
			}
			for i := int(start); i < len(partition.positions) && partition.positions[i].hash == hash; i++ {
				buildRow := partition.positions[i].row
				if !keysEqual(row, int(buildRow)) {
					continue
				}
				out.lookupRows = append(out.lookupRows, uint32(offset+row))
				out.buildRows = append(out.buildRows, buildRow)
				out.buildMatched.Add(buildRow)
				lookupMatched[offset+row] = true
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't look up join table: %w", err)
	}

	total := 0
	bitmaps := make([]*roaring.Bitmap, len(results))
	for i := range results {
		total += len(results[i].lookupRows)
		bitmaps[i] = results[i].buildMatched
	}
	if err := table.CheckRowCount(total); err != nil {
		return nil, err
	}
	result := &LookupResult{
		LookupRows:    make([]uint32, 0, total),
		BuildRows:     make([]uint32, 0, total),
		LookupMatched: lookupMatched,
		BuildMatched:  roaring.FastOr(bitmaps...),
	}
	for i := range results {
		result.LookupRows = append(result.LookupRows, results[i].lookupRows...)
		result.BuildRows = append(result.BuildRows, results[i].buildRows...)
	}
	return result, nil
}

// NumRows returns the row count of the build side, including rows with null keys.
func (t *JoinTable) NumRows() int {
	return t.numRows
}
