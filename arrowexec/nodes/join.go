package nodes

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/kernels"
	"github.com/cube2222/octoframe/arrowexec/nodes/hashtable"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

type Join struct {
	Left, Right     execution.NodeWithMeta
	LeftOn, RightOn []logical.Expression
	// KeyTypes are the supertypes both sides' keys are cast to before hashing.
	KeyTypes  []octoframe.Type
	How       logical.JoinType
	BuildSide logical.BuildSide
	Columns   []logical.JoinColumn
}

func (j *Join) Run(ctx execution.Context) (*table.Table, error) {
	// Both inputs are materialized concurrently. If both fail, the left error wins.
	var left, right *table.Table
	var leftErr, rightErr error
	var g errgroup.Group
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				leftErr = execution.RecoveredError(r)
			}
		}()
		left, leftErr = j.Left.Node.Run(ctx)
		return nil
	})
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				rightErr = execution.RecoveredError(r)
			}
		}()
		right, rightErr = j.Right.Node.Run(ctx)
		return nil
	})
	g.Wait()
	if leftErr != nil {
		return nil, leftErr
	}
	if rightErr != nil {
		return nil, rightErr
	}

	leftKeys, err := j.evaluateKeys(ctx, j.LeftOn, left)
	if err != nil {
		return nil, fmt.Errorf("couldn't evaluate left join keys: %w", err)
	}
	rightKeys, err := j.evaluateKeys(ctx, j.RightOn, right)
	if err != nil {
		return nil, fmt.Errorf("couldn't evaluate right join keys: %w", err)
	}

	buildLeft := j.buildOnLeft(left.NumRows(), right.NumRows())
	level.Debug(ctx.Logger).Log("msg", "join build side", "how", j.How, "build_left", buildLeft, "left_rows", left.NumRows(), "right_rows", right.NumRows())

	var pairs joinPairs
	if buildLeft {
		joinTable, err := hashtable.BuildJoinTable(ctx, leftKeys, left.NumRows())
		if err != nil {
			return nil, err
		}
		result, err := joinTable.Lookup(ctx, rightKeys, right.NumRows())
		if err != nil {
			return nil, err
		}
		pairs = joinPairs{
			left:         result.BuildRows,
			right:        result.LookupRows,
			leftMatched:  func(row int) bool { return result.BuildMatched.Contains(uint32(row)) },
			rightMatched: func(row int) bool { return result.LookupMatched[row] },
			rightOrdered: true,
		}
	} else {
		joinTable, err := hashtable.BuildJoinTable(ctx, rightKeys, right.NumRows())
		if err != nil {
			return nil, err
		}
		result, err := joinTable.Lookup(ctx, leftKeys, left.NumRows())
		if err != nil {
			return nil, err
		}
		pairs = joinPairs{
			left:         result.LookupRows,
			right:        result.BuildRows,
			leftMatched:  func(row int) bool { return result.LookupMatched[row] },
			rightMatched: func(row int) bool { return result.BuildMatched.Contains(uint32(row)) },
			rightOrdered: false,
		}
	}

	leftIndices, rightIndices := pairs.emit(j.How, left.NumRows(), right.NumRows())
	if err := table.CheckRowCount(len(leftIndices)); err != nil {
		return nil, err
	}
	return j.assemble(ctx, left, right, leftIndices, rightIndices)
}

func (j *Join) evaluateKeys(ctx execution.Context, exprs []logical.Expression, input *table.Table) ([]*table.Column, error) {
	casted := make([]logical.Expression, len(exprs))
	for i := range exprs {
		casted[i] = exprs[i].CastTo(j.KeyTypes[i])
	}
	return execution.EvaluateAll(ctx, casted, input)
}

// buildOnLeft picks the side the hash table is built on.
// Semi and anti joins always build on the right, as they only emit left rows.
func (j *Join) buildOnLeft(leftRows, rightRows int) bool {
	if j.How == logical.JoinTypeSemi || j.How == logical.JoinTypeAnti {
		return false
	}
	switch j.BuildSide {
	case logical.BuildSideLeft:
		return true
	case logical.BuildSideRight:
		return false
	}
	return leftRows < rightRows
}

// joinPairs are the matching (left, right) row pairs, ordered by the lookup side.
type joinPairs struct {
	left, right               []uint32
	leftMatched, rightMatched func(row int) bool
	// rightOrdered is set when the pairs are in right row order, otherwise they're in left row order.
	rightOrdered bool
}

// orderBy stably reorders the pairs by the left or right row.
func (p *joinPairs) orderBy(right bool) {
	if p.rightOrdered == right {
		return
	}
	permutation := make([]int, len(p.left))
	for i := range permutation {
		permutation[i] = i
	}
	keys := p.left
	if right {
		keys = p.right
	}
	slices.SortStableFunc(permutation, func(a, b int) int {
		return cmp.Compare(keys[a], keys[b])
	})
	left := make([]uint32, len(p.left))
	rightRows := make([]uint32, len(p.right))
	for i, from := range permutation {
		left[i] = p.left[from]
		rightRows[i] = p.right[from]
	}
	p.left, p.right = left, rightRows
	p.rightOrdered = right
}

// emit returns the row indices to gather from both sides. table.NullIndex marks a missing row.
func (p *joinPairs) emit(how logical.JoinType, leftRows, rightRows int) (leftIndices, rightIndices []uint32) {
	switch how {
	case logical.JoinTypeInner:
		p.orderBy(false)
		return p.left, p.right

	case logical.JoinTypeLeft, logical.JoinTypeOuter:
		p.orderBy(false)
		leftIndices = make([]uint32, 0, len(p.left))
		rightIndices = make([]uint32, 0, len(p.right))
		next := 0
		for row := 0; row < leftRows; row++ {
			if next < len(p.left) && p.left[next] == uint32(row) {
				for next < len(p.left) && p.left[next] == uint32(row) {
					leftIndices = append(leftIndices, p.left[next])
					rightIndices = append(rightIndices, p.right[next])
					next++
				}
				continue
			}
			leftIndices = append(leftIndices, uint32(row))
			rightIndices = append(rightIndices, table.NullIndex)
		}
		if how == logical.JoinTypeOuter {
			for row := 0; row < rightRows; row++ {
				if !p.rightMatched(row) {
					leftIndices = append(leftIndices, table.NullIndex)
					rightIndices = append(rightIndices, uint32(row))
				}
			}
		}
		return leftIndices, rightIndices

	case logical.JoinTypeRight:
		p.orderBy(true)
		leftIndices = make([]uint32, 0, len(p.left))
		rightIndices = make([]uint32, 0, len(p.right))
		next := 0
		for row := 0; row < rightRows; row++ {
			if next < len(p.right) && p.right[next] == uint32(row) {
				for next < len(p.right) && p.right[next] == uint32(row) {
					leftIndices = append(leftIndices, p.left[next])
					rightIndices = append(rightIndices, p.right[next])
					next++
				}
				continue
			}
			leftIndices = append(leftIndices, table.NullIndex)
			rightIndices = append(rightIndices, uint32(row))
		}
		return leftIndices, rightIndices

	case logical.JoinTypeSemi, logical.JoinTypeAnti:
		wantMatch := how == logical.JoinTypeSemi
		for row := 0; row < leftRows; row++ {
			if p.leftMatched(row) == wantMatch {
				leftIndices = append(leftIndices, uint32(row))
			}
		}
		return leftIndices, nil
	}
	panic("unexhaustive join type match")
}

// assemble gathers the output columns. Merged key columns of right and outer joins take the
// right key's value on rows without a left match.
func (j *Join) assemble(ctx execution.Context, left, right *table.Table, leftIndices, rightIndices []uint32) (*table.Table, error) {
	chunkSize := ctx.ChunkSize()
	leftGathered, err := table.Take(left, leftIndices, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("couldn't gather left rows: %w", err)
	}
	if j.How == logical.JoinTypeSemi || j.How == logical.JoinTypeAnti {
		return leftGathered, nil
	}
	rightGathered, err := table.Take(right, rightIndices, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("couldn't gather right rows: %w", err)
	}

	columns := make([]*table.Column, len(j.Columns))
	for i, spec := range j.Columns {
		switch {
		case spec.FromRight:
			columns[i] = rightGathered.ColumnAt(spec.Index).Rename(spec.Name)
		case spec.CoalesceRightIndex >= 0:
			coalesced, err := coalesceKey(ctx, spec.Name, leftGathered.ColumnAt(spec.Index), rightGathered.ColumnAt(spec.CoalesceRightIndex), leftIndices)
			if err != nil {
				return nil, err
			}
			columns[i] = coalesced
		default:
			columns[i] = leftGathered.ColumnAt(spec.Index).Rename(spec.Name)
		}
	}
	if len(columns) == 0 {
		return table.NewEmptyTable(len(leftIndices)), nil
	}
	return table.NewTable(columns...)
}

func coalesceKey(ctx execution.Context, name string, leftKey, rightKey *table.Column, leftIndices []uint32) (*table.Column, error) {
	offsets := leftKey.Offsets()
	chunks, err := execution.ForEachChunk(ctx, leftKey.NumChunks(), func(chunk int) (arrow.Array, error) {
		hasLeft := make([]bool, offsets[chunk+1]-offsets[chunk])
		for i := range hasLeft {
			hasLeft[i] = leftIndices[offsets[chunk]+i] != table.NullIndex
		}
		builder := array.NewBooleanBuilder(ctx.Allocator)
		defer builder.Release()
		builder.AppendValues(hasLeft, nil)
		mask := builder.NewArray()
		defer mask.Release()
		return kernels.Ternary(ctx.Allocator, mask, leftKey.Chunk(chunk), rightKey.Chunk(chunk)), nil
	})
	if err != nil {
		return nil, err
	}
	return table.NewColumn(name, leftKey.Type(), chunks...)
}
