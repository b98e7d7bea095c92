package hashtable

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/brentp/intintmap"
	"github.com/dolthub/swiss"
	"github.com/go-kit/log/level"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/table"
)

// Groups lists the rows of every group in a compressed layout.
// The rows of group i are Rows[Offsets[i]:Offsets[i+1]], in ascending order.
type Groups struct {
	Offsets []uint32
	Rows    []uint32
	// First is the representative row of each group, which is also its smallest row.
	First []uint32
}

func (g *Groups) Len() int {
	return len(g.Offsets) - 1
}

func (g *Groups) Group(i int) []uint32 {
	return g.Rows[g.Offsets[i]:g.Offsets[i+1]]
}

// RowGroups returns the group index of each row.
func (g *Groups) RowGroups() []uint32 {
	out := make([]uint32, len(g.Rows))
	for group := 0; group < g.Len(); group++ {
		for _, row := range g.Group(group) {
			out[row] = uint32(group)
		}
	}
	return out
}

type Strategy int

const (
	StrategySingleTable Strategy = iota
	StrategyThreadLocal
)

func (s Strategy) String() string {
	switch s {
	case StrategySingleTable:
		return "single_table"
	case StrategyThreadLocal:
		return "thread_local"
	}
	return "unknown"
}

// HashRows hashes the key columns of every row, in parallel per chunk.
// The key columns have to be co-chunked.
func HashRows(ctx execution.Context, keys []*table.Column, numRows int) ([]uint64, error) {
	hashes := make([]uint64, numRows)
	if len(keys) == 0 || numRows == 0 {
		return hashes, nil
	}
	offsets := keys[0].Offsets()
	if _, err := execution.ForEachChunk(ctx, keys[0].NumChunks(), func(chunk int) (struct{}, error) {
		arrays := make([]arrow.Array, len(keys))
		for i := range keys {
			arrays[i] = keys[i].Chunk(chunk)
		}
		hasher := helpers.MakeRowHasher(arrays)
		out := hashes[offsets[chunk]:offsets[chunk+1]]
		for row := range out {
			out[row] = hasher(row)
		}
		return struct{}{}, nil
	}); err != nil {
		return nil, fmt.Errorf("couldn't hash keys: %w", err)
	}
	return hashes, nil
}

// CombineKeys returns each key column as a single array, so that rows can be addressed by their global index.
func CombineKeys(ctx execution.Context, keys []*table.Column) ([]arrow.Array, error) {
	out := make([]arrow.Array, len(keys))
	for i := range keys {
		arr, err := keys[i].Combined(ctx.Allocator)
		if err != nil {
			return nil, err
		}
		out[i] = arr
	}
	return out, nil
}

// GroupRows assigns every row to the group of its key tuple. Null keys form a group of their own.
// With no keys, all rows belong to a single, possibly empty, group.
// With maintainOrder, groups are ordered by their first row, otherwise the group order is unspecified.
func GroupRows(ctx execution.Context, keys []*table.Column, numRows int, maintainOrder bool) (*Groups, error) {
	if err := table.CheckRowCount(numRows); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		rows := make([]uint32, numRows)
		for i := range rows {
			rows[i] = uint32(i)
		}
		return &Groups{
			Offsets: []uint32{0, uint32(numRows)},
			Rows:    rows,
			First:   []uint32{0},
		}, nil
	}

	hashes, err := HashRows(ctx, keys, numRows)
	if err != nil {
		return nil, err
	}
	combined, err := CombineKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	keysEqual := helpers.MakeRowEqualityChecker(combined, combined)

	strategy, sampledFraction := chooseStrategy(ctx.Config.GroupBy, hashes, ctx.Pool.Size())
	level.Debug(ctx.Logger).Log("msg", "group by strategy", "strategy", strategy, "rows", numRows, "sampled_cardinality", sampledFraction)

	rowGroups := make([]uint32, numRows)
	var first []uint32
	switch strategy {
	case StrategySingleTable:
		first, err = groupSingleTable(ctx, hashes, keysEqual, rowGroups)
	case StrategyThreadLocal:
		first, err = groupThreadLocal(ctx, hashes, keysEqual, rowGroups, maintainOrder)
	}
	if err != nil {
		return nil, err
	}
	return buildGroups(rowGroups, first), nil
}

// chooseStrategy samples the first key hashes. A high distinct fraction means many groups,
// in which case thread-local tables would mostly duplicate each other.
func chooseStrategy(cfg config.GroupByConfig, hashes []uint64, threads int) (Strategy, float64) {
	if !cfg.Partitioned || threads < 2 || len(hashes) == 0 {
		return StrategySingleTable, -1
	}
	sample := hashes[:min(len(hashes), cfg.PartitionSampleSize)]
	distinct := swiss.NewMap[uint64, struct{}](uint32(len(sample)))
	for _, hash := range sample {
		distinct.Put(hash, struct{}{})
	}
	fraction := float64(distinct.Count()) / float64(len(sample))
	if fraction > cfg.PartitionCardinalityFraction {
		return StrategySingleTable, fraction
	}
	return StrategyThreadLocal, fraction
}

// groupTable maps key hashes to groups. Groups sharing a hash are chained through next.
type groupTable struct {
	heads  *intintmap.Map
	next   []int32
	hashes []uint64
	first  []uint32
}

func newGroupTable(capacity int) *groupTable {
	return &groupTable{
		heads: intintmap.New(max(capacity, 1), 0.6),
	}
}

func (t *groupTable) len() int {
	return len(t.first)
}

// findOrInsert returns the group of the row, creating a new one if no group with an equal key exists.
func (t *groupTable) findOrInsert(hash uint64, row uint32, keysEqual func(leftRowIndex, rightRowIndex int) bool) uint32 {
	head, ok := t.heads.Get(int64(hash))
	if ok {
		for group := int32(head); group != -1; group = t.next[group] {
			if keysEqual(int(t.first[group]), int(row)) {
				return uint32(group)
			}
		}
	} else {
		head = -1
	}

	group := len(t.first)
	t.first = append(t.first, row)
	t.hashes = append(t.hashes, hash)
	t.next = append(t.next, int32(head))
	t.heads.Put(int64(hash), int64(group))
	return uint32(group)
}

const cancellationCheckInterval = 64 * 1024

func groupSingleTable(ctx execution.Context, hashes []uint64, keysEqual func(leftRowIndex, rightRowIndex int) bool, rowGroups []uint32) ([]uint32, error) {
	groups := newGroupTable(1024)
	for row := range hashes {
		if row%cancellationCheckInterval == 0 {
			if err := ctx.Context.Err(); err != nil {
				return nil, err
			}
		}
		rowGroups[row] = groups.findOrInsert(hashes[row], uint32(row), keysEqual)
	}
	return groups.first, nil
}

// groupThreadLocal builds one table per contiguous row range and merges them afterward.
// Local group indices are written to rowGroups and translated to global ones at the end.
func groupThreadLocal(ctx execution.Context, hashes []uint64, keysEqual func(leftRowIndex, rightRowIndex int) bool, rowGroups []uint32, maintainOrder bool) ([]uint32, error) {
	workers := ctx.Pool.Size()
	ranges := table.SplitBoundaries(len(hashes), (len(hashes)+workers-1)/workers)
	workers = len(ranges) - 1

	locals := make([]*groupTable, workers)
	if err := ctx.Pool.Run(ctx.Context, workers, func(worker int) error {
		local := newGroupTable(1024)
		for row := ranges[worker]; row < ranges[worker+1]; row++ {
			rowGroups[row] = local.findOrInsert(hashes[row], uint32(row), keysEqual)
		}
		locals[worker] = local
		return nil
	}); err != nil {
		return nil, fmt.Errorf("couldn't build thread-local group tables: %w", err)
	}

	localToGlobal := make([][]uint32, workers)
	for worker := range locals {
		localToGlobal[worker] = make([]uint32, locals[worker].len())
	}

	var first []uint32
	if maintainOrder {
		global := newGroupTable(locals[0].len())
		for worker, local := range locals {
			for group := 0; group < local.len(); group++ {
				localToGlobal[worker][group] = global.findOrInsert(local.hashes[group], local.first[group], keysEqual)
			}
		}
		first = global.first
	} else {
		partitions := workers
		merged := make([]*groupTable, partitions)
		if err := ctx.Pool.Run(ctx.Context, partitions, func(partition int) error {
			global := newGroupTable(locals[0].len() / partitions)
			for worker, local := range locals {
				for group := 0; group < local.len(); group++ {
					if int(local.hashes[group]%uint64(partitions)) != partition {
						continue
					}
					localToGlobal[worker][group] = global.findOrInsert(local.hashes[group], local.first[group], keysEqual)
				}
			}
			merged[partition] = global
			return nil
		}); err != nil {
			return nil, fmt.Errorf("couldn't merge group tables: %w", err)
		}

		bases := make([]uint32, partitions)
		for partition := range merged {
			bases[partition] = uint32(len(first))
			first = append(first, merged[partition].first...)
		}
		for worker, local := range locals {
			for group := 0; group < local.len(); group++ {
				localToGlobal[worker][group] += bases[local.hashes[group]%uint64(partitions)]
			}
		}
	}

	if err := ctx.Pool.Run(ctx.Context, workers, func(worker int) error {
		mapping := localToGlobal[worker]
		for row := ranges[worker]; row < ranges[worker+1]; row++ {
			rowGroups[row] = mapping[rowGroups[row]]
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return first, nil
}

// buildGroups lays out the rows of every group contiguously, keeping rows ascending within a group.
func buildGroups(rowGroups []uint32, first []uint32) *Groups {
	offsets := make([]uint32, len(first)+1)
	for _, group := range rowGroups {
		offsets[group+1]++
	}
	for i := 1; i < len(offsets); i++ {
		offsets[i] += offsets[i-1]
	}
	positions := make([]uint32, len(first))
	copy(positions, offsets[:len(first)])
	rows := make([]uint32, len(rowGroups))
	for row, group := range rowGroups {
		rows[positions[group]] = uint32(row)
		positions[group]++
	}
	return &Groups{
		Offsets: offsets,
		Rows:    rows,
		First:   first,
	}
}
