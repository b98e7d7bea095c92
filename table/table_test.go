package table

import (
	"bytes"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/octoframe"
)

func int64Chunk(values []int64, valid []bool) arrow.Array {
	builder := array.NewInt64Builder(memory.NewGoAllocator())
	builder.AppendValues(values, valid)
	return builder.NewArray()
}

func TestNewTableValidation(t *testing.T) {
	a := MustColumn("a", octoframe.Int64, 1, 2, 3)
	b := MustColumn("b", octoframe.String, "x", nil, "z")
	short := MustColumn("c", octoframe.Int64, 1)

	tbl, err := NewTable(a, b)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, []string{"a", "b"}, tbl.Schema().Names())

	_, err = NewTable(a, a)
	assert.True(t, octoframe.IsSchemaError(err), "duplicate names must be rejected")

	_, err = NewTable(a, short)
	assert.True(t, octoframe.IsSchemaError(err), "row count mismatch must be rejected")

	_, err = NewColumn("mixed", octoframe.Int64, int64Chunk([]int64{1}, nil), MustColumn("x", octoframe.String, "a").Chunk(0))
	assert.True(t, octoframe.IsTypeError(err))
}

func TestCoChunking(t *testing.T) {
	a, err := NewColumn("a", octoframe.Int64,
		int64Chunk([]int64{1, 2}, nil),
		int64Chunk([]int64{3, 4, 5}, nil),
	)
	require.NoError(t, err)
	b, err := NewColumn("b", octoframe.Int64,
		int64Chunk([]int64{10, 20, 30}, nil),
		int64Chunk([]int64{40, 50}, []bool{false, true}),
	)
	require.NoError(t, err)

	tbl, err := NewTable(a, b)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 3, 5}, tbl.Offsets())
	for _, col := range tbl.Columns() {
		assert.Equal(t, tbl.Offsets(), col.Offsets())
	}
	assert.Equal(t, octoframe.NewInt(3), tbl.ColumnAt(0).Value(2))
	assert.True(t, tbl.ColumnAt(1).Value(3).IsNull())
	assert.Equal(t, 1, tbl.ColumnAt(1).NullCount())
}

func TestSliceClampsToTable(t *testing.T) {
	tbl, err := NewTable(MustColumn("a", octoframe.Int64, 1, 2, 3, 4))
	require.NoError(t, err)

	rest := tbl.Slice(1, math.MaxInt)
	assert.Equal(t, 3, rest.NumRows())
	assert.Equal(t, []octoframe.Value{octoframe.NewInt(2), octoframe.NewInt(3), octoframe.NewInt(4)}, rest.ColumnAt(0).Values())

	assert.Equal(t, 0, tbl.Slice(4, math.MaxInt).NumRows())
	assert.Equal(t, 0, tbl.Slice(10, 2).NumRows())
	assert.Equal(t, 0, NewEmptyTable(3).Slice(5, math.MaxInt).NumRows())
	assert.Equal(t, 2, NewEmptyTable(3).Slice(1, math.MaxInt).NumRows())
}

func TestSliceAndStack(t *testing.T) {
	a, err := NewColumn("a", octoframe.Int64,
		int64Chunk([]int64{1, 2, 3}, nil),
		int64Chunk([]int64{4, 5, 6}, nil),
	)
	require.NoError(t, err)
	tbl, err := NewTable(a)
	require.NoError(t, err)

	sliced := tbl.Slice(2, 3)
	assert.Equal(t, 3, sliced.NumRows())
	assert.Equal(t, 2, sliced.NumChunks())
	assert.Equal(t, []octoframe.Value{octoframe.NewInt(3), octoframe.NewInt(4), octoframe.NewInt(5)}, sliced.ColumnAt(0).Values())

	assert.Equal(t, 2, tbl.Head(2).NumRows())
	assert.Equal(t, octoframe.NewInt(6), tbl.Tail(1).ColumnAt(0).Value(0))

	stacked, err := tbl.VStack(sliced)
	require.NoError(t, err)
	assert.Equal(t, 9, stacked.NumRows())
	assert.Equal(t, 4, stacked.NumChunks())

	other, err := NewTable(MustColumn("b", octoframe.Int64, 1))
	require.NoError(t, err)
	_, err = tbl.VStack(other)
	assert.True(t, octoframe.IsSchemaError(err))

	single, err := stacked.Rechunk()
	require.NoError(t, err)
	assert.Equal(t, 1, single.NumChunks())
	assert.True(t, single.Equal(stacked, true))
}

func TestZeroColumnTableKeepsRows(t *testing.T) {
	tbl, err := NewTable(MustColumn("a", octoframe.Int64, 1, 2, 3))
	require.NoError(t, err)

	empty, err := tbl.Select()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.NumColumns())
	assert.Equal(t, 3, empty.NumRows())
	assert.Equal(t, int64(3), empty.Chunk(0).NumRows())
}

func TestEqualNullSemantics(t *testing.T) {
	left, err := NewTable(MustColumn("a", octoframe.Int64, 1, nil))
	require.NoError(t, err)
	right, err := NewTable(MustColumn("a", octoframe.Int64, 1, nil))
	require.NoError(t, err)

	assert.True(t, left.Equal(right, true))
	assert.False(t, left.Equal(right, false))
}

func TestArrowIPCInterchange(t *testing.T) {
	a, err := NewColumn("a", octoframe.Int64,
		int64Chunk([]int64{1, 2}, []bool{true, false}),
		int64Chunk([]int64{3}, nil),
	)
	require.NoError(t, err)
	tbl, err := NewTable(a, MustColumn("b", octoframe.String, "x", "y", nil).Slice(0, 3))
	require.NoError(t, err)

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(tbl.Schema().ArrowSchema()))
	for _, record := range tbl.Records() {
		require.NoError(t, writer.Write(record))
	}
	require.NoError(t, writer.Close())

	reader, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer reader.Release()
	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}
	require.NoError(t, reader.Err())

	schema, err := octoframe.SchemaFromArrow(reader.Schema())
	require.NoError(t, err)
	read, err := FromRecords(schema, records)
	require.NoError(t, err)

	assert.Equal(t, tbl.Offsets(), read.Offsets(), "chunk boundaries survive the round trip")
	assert.True(t, tbl.Equal(read, true))

	fromArrow, err := FromArrowTable(tbl.ToArrowTable())
	require.NoError(t, err)
	assert.True(t, tbl.Equal(fromArrow, true))
}

func TestListColumn(t *testing.T) {
	col := MustColumn("l", octoframe.ListOf(octoframe.Int64), []interface{}{1, nil}, nil, []interface{}{})
	assert.Equal(t, 3, col.Len())
	assert.Equal(t, "[1, null]", col.Value(0).String())
	assert.True(t, col.Value(1).IsNull())
	assert.Equal(t, "[]", col.Value(2).String())
}

func TestTake(t *testing.T) {
	a, err := NewColumn("a", octoframe.Int64,
		int64Chunk([]int64{10, 20}, []bool{true, false}),
		int64Chunk([]int64{30, 40}, nil),
	)
	require.NoError(t, err)
	tbl, err := NewTable(a, MustColumn("b", octoframe.String, "w", "x", "y", "z"))
	require.NoError(t, err)

	taken, err := Take(tbl, []uint32{3, 0, NullIndex, 1, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 5}, taken.Offsets())
	assert.Equal(t, []octoframe.Value{
		octoframe.NewInt(40), octoframe.NewInt(10), octoframe.NewTypedNull(octoframe.Int64), octoframe.NewTypedNull(octoframe.Int64), octoframe.NewInt(30),
	}, taken.ColumnAt(0).Values())
	assert.Equal(t, []octoframe.Value{
		octoframe.NewString("z"), octoframe.NewString("w"), octoframe.NewTypedNull(octoframe.String), octoframe.NewString("x"), octoframe.NewString("y"),
	}, taken.ColumnAt(1).Values())

	lists := MustColumn("l", octoframe.ListOf(octoframe.Int64), []interface{}{1, 2}, nil)
	takenList, err := lists.Take([]uint32{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "[1, 2]", takenList.Value(2).String())
	assert.True(t, takenList.Value(0).IsNull())
}

func TestColumnBuilder(t *testing.T) {
	builder := NewColumnBuilder("x", octoframe.Float64, nil)
	require.NoError(t, builder.Append(octoframe.NewFloat(1.5)))
	builder.AppendNull()
	builder.NewChunk()
	require.NoError(t, builder.Append(octoframe.NewInt(2)))
	col, err := builder.Finish()
	require.NoError(t, err)
	assert.Equal(t, 2, col.NumChunks())
	assert.Equal(t, 3, col.Len())
	assert.Equal(t, octoframe.NewFloat(2), col.Value(2))

	assert.True(t, octoframe.IsCapacityError(CheckRowCount(NullIndex)))
	assert.NoError(t, CheckRowCount(NullIndex-1))
}
