package table

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/octoframe"
)

// Table is an ordered set of uniquely named columns which agree on row count and chunk boundaries.
type Table struct {
	schema  octoframe.Schema
	columns []*Column
	numRows int
	// offsets are the shared chunk boundaries, len(offsets) == NumChunks()+1.
	offsets []int
}

// NewTable creates a table out of columns.
// Columns with differing chunk boundaries get aligned to the common refinement of all boundaries,
// which only slices chunks and never copies data.
func NewTable(columns ...*Column) (*Table, error) {
	if len(columns) == 0 {
		return NewEmptyTable(0), nil
	}
	fields := make([]octoframe.SchemaField, len(columns))
	for i, col := range columns {
		fields[i] = octoframe.SchemaField{Name: col.Name(), Type: col.Type()}
		if col.Len() != columns[0].Len() {
			return nil, octoframe.NewSchemaError("column '%s' has %d rows, but column '%s' has %d rows", col.Name(), col.Len(), columns[0].Name(), columns[0].Len())
		}
	}
	schema := octoframe.NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := CheckRowCount(columns[0].Len()); err != nil {
		return nil, err
	}

	offsets := columns[0].Offsets()
	aligned := true
	for _, col := range columns[1:] {
		if !equalInts(offsets, col.Offsets()) {
			aligned = false
			break
		}
	}
	if !aligned {
		offsets = commonRefinement(columns)
		realigned := make([]*Column, len(columns))
		for i, col := range columns {
			rechunked, err := col.Rechunk(offsets)
			if err != nil {
				return nil, fmt.Errorf("couldn't align chunks of column '%s': %w", col.Name(), err)
			}
			realigned[i] = rechunked
		}
		columns = realigned
	}

	return &Table{
		schema:  schema,
		columns: columns,
		numRows: columns[0].Len(),
		offsets: offsets,
	}, nil
}

// NewEmptyTable creates a table without columns which still has a row count.
// Operators like count() over a fully pruned projection rely on it.
func NewEmptyTable(numRows int) *Table {
	offsets := []int{0}
	if numRows > 0 {
		offsets = append(offsets, numRows)
	}
	return &Table{
		numRows: numRows,
		offsets: offsets,
	}
}

// NewTableWithOffsets creates a table without columns with the given chunk boundaries.
func NewTableWithOffsets(offsets []int) *Table {
	numRows := 0
	if len(offsets) > 0 {
		numRows = offsets[len(offsets)-1]
	} else {
		offsets = []int{0}
	}
	return &Table{
		numRows: numRows,
		offsets: offsets,
	}
}

// NewEmptyTableWithSchema creates a table with the given schema and no rows.
func NewEmptyTableWithSchema(schema octoframe.Schema) (*Table, error) {
	if len(schema.Fields) == 0 {
		return NewEmptyTable(0), nil
	}
	columns := make([]*Column, len(schema.Fields))
	for i, field := range schema.Fields {
		col, err := NewColumn(field.Name, field.Type)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return NewTable(columns...)
}

func commonRefinement(columns []*Column) []int {
	set := map[int]struct{}{}
	for _, col := range columns {
		for _, offset := range col.Offsets() {
			set[offset] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for offset := range set {
		out = append(out, offset)
	}
	sort.Ints(out)
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FromRecords creates a table whose chunks are the given records.
func FromRecords(schema octoframe.Schema, records []arrow.Record) (*Table, error) {
	if len(schema.Fields) == 0 {
		offsets := []int{0}
		for _, record := range records {
			offsets = append(offsets, offsets[len(offsets)-1]+int(record.NumRows()))
		}
		return NewTableWithOffsets(offsets), nil
	}
	chunks := make([][]arrow.Array, len(schema.Fields))
	for _, record := range records {
		if int(record.NumCols()) != len(schema.Fields) {
			return nil, octoframe.NewSchemaError("record has %d columns, expected %d", record.NumCols(), len(schema.Fields))
		}
		for i := range schema.Fields {
			chunks[i] = append(chunks[i], record.Column(i))
		}
	}
	columns := make([]*Column, len(schema.Fields))
	for i, field := range schema.Fields {
		col, err := NewColumn(field.Name, field.Type, chunks[i]...)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return NewTable(columns...)
}

// FromArrowTable wraps an Arrow table without copying.
func FromArrowTable(tbl arrow.Table) (*Table, error) {
	schema, err := octoframe.SchemaFromArrow(tbl.Schema())
	if err != nil {
		return nil, err
	}
	if len(schema.Fields) == 0 {
		return NewEmptyTable(int(tbl.NumRows())), nil
	}
	columns := make([]*Column, len(schema.Fields))
	for i, field := range schema.Fields {
		col, err := NewColumn(field.Name, field.Type, tbl.Column(i).Data().Chunks()...)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return NewTable(columns...)
}

// ToArrowTable exposes the table as an Arrow table without copying.
func (t *Table) ToArrowTable() arrow.Table {
	return array.NewTableFromRecords(t.schema.ArrowSchema(), t.Records())
}

func (t *Table) Schema() octoframe.Schema {
	return t.schema
}

func (t *Table) NumRows() int {
	return t.numRows
}

func (t *Table) NumColumns() int {
	return len(t.columns)
}

func (t *Table) NumChunks() int {
	return len(t.offsets) - 1
}

// Offsets returns the shared chunk boundaries of all columns.
func (t *Table) Offsets() []int {
	out := make([]int, len(t.offsets))
	copy(out, t.offsets)
	return out
}

func (t *Table) ChunkLen(i int) int {
	return t.offsets[i+1] - t.offsets[i]
}

func (t *Table) Columns() []*Column {
	out := make([]*Column, len(t.columns))
	copy(out, t.columns)
	return out
}

func (t *Table) ColumnAt(i int) *Column {
	return t.columns[i]
}

func (t *Table) Column(name string) (*Column, error) {
	i := t.schema.FieldIndex(name)
	if i == -1 {
		return nil, octoframe.NewSchemaError("unknown column '%s', available columns: %s", name, strings.Join(t.schema.Names(), ", "))
	}
	return t.columns[i], nil
}

// Chunk returns the i-th chunk of every column as an Arrow record.
func (t *Table) Chunk(i int) arrow.Record {
	arrays := make([]arrow.Array, len(t.columns))
	for j, col := range t.columns {
		arrays[j] = col.Chunk(i)
	}
	return array.NewRecord(t.schema.ArrowSchema(), arrays, int64(t.ChunkLen(i)))
}

func (t *Table) Records() []arrow.Record {
	out := make([]arrow.Record, t.NumChunks())
	for i := range out {
		out[i] = t.Chunk(i)
	}
	return out
}

// ChunkColumns returns the i-th chunk of every column.
func (t *Table) ChunkColumns(i int) []arrow.Array {
	out := make([]arrow.Array, len(t.columns))
	for j, col := range t.columns {
		out[j] = col.Chunk(i)
	}
	return out
}

// Select returns a table with the given columns in the given order.
// Selecting no columns keeps the row count.
func (t *Table) Select(names ...string) (*Table, error) {
	if len(names) == 0 {
		return NewTableWithOffsets(t.Offsets()), nil
	}
	columns := make([]*Column, len(names))
	for i, name := range names {
		col, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return NewTable(columns...)
}

// WithColumn returns a table with the column added, or replacing the column with the same name.
func (t *Table) WithColumn(col *Column) (*Table, error) {
	if col.Len() != t.numRows && len(t.columns) > 0 {
		return nil, octoframe.NewSchemaError("column '%s' has %d rows, but the table has %d rows", col.Name(), col.Len(), t.numRows)
	}
	columns := t.Columns()
	if i := t.schema.FieldIndex(col.Name()); i != -1 {
		columns[i] = col
	} else {
		columns = append(columns, col)
	}
	return NewTable(columns...)
}

// HStack appends columns horizontally.
func (t *Table) HStack(cols ...*Column) (*Table, error) {
	for _, col := range cols {
		if len(t.columns) == 0 && col.Len() != t.numRows {
			return nil, octoframe.NewSchemaError("column '%s' has %d rows, but the table has %d rows", col.Name(), col.Len(), t.numRows)
		}
	}
	return NewTable(append(t.Columns(), cols...)...)
}

func (t *Table) Rename(oldName, newName string) (*Table, error) {
	i := t.schema.FieldIndex(oldName)
	if i == -1 {
		return nil, octoframe.NewSchemaError("unknown column '%s'", oldName)
	}
	columns := t.Columns()
	columns[i] = columns[i].Rename(newName)
	return NewTable(columns...)
}

// Slice returns a zero-copy view of rows [offset, offset+length).
func (t *Table) Slice(offset, length int) *Table {
	if offset > t.numRows {
		offset = t.numRows
	}
	if length > t.numRows-offset {
		length = t.numRows - offset
	}
	if len(t.columns) == 0 {
		return NewEmptyTable(length)
	}
	columns := make([]*Column, len(t.columns))
	for i, col := range t.columns {
		columns[i] = col.Slice(offset, length)
	}
	out, err := NewTable(columns...)
	if err != nil {
		panic(fmt.Errorf("slicing broke table invariants: %w", err))
	}
	return out
}

func (t *Table) Head(n int) *Table {
	return t.Slice(0, n)
}

func (t *Table) Tail(n int) *Table {
	if n > t.numRows {
		n = t.numRows
	}
	return t.Slice(t.numRows-n, n)
}

// VStack appends the rows of other tables, which must have an equal schema.
// Chunks are reused as is.
func (t *Table) VStack(others ...*Table) (*Table, error) {
	if len(t.columns) == 0 {
		offsets := t.Offsets()
		for _, other := range others {
			if other.NumColumns() != 0 {
				return nil, octoframe.NewSchemaError("can't stack table with schema %s onto table with schema %s", other.schema, t.schema)
			}
			base := offsets[len(offsets)-1]
			for _, offset := range other.offsets[1:] {
				offsets = append(offsets, base+offset)
			}
		}
		return NewTableWithOffsets(offsets), nil
	}
	columns := t.Columns()
	for _, other := range others {
		if !other.schema.Equal(t.schema) {
			return nil, octoframe.NewSchemaError("can't stack table with schema %s onto table with schema %s", other.schema, t.schema)
		}
		for i := range columns {
			merged, err := columns[i].Concat(other.columns[i])
			if err != nil {
				return nil, err
			}
			columns[i] = merged
		}
	}
	return NewTable(columns...)
}

// NullCount returns the number of nulls per column, in schema order.
func (t *Table) NullCount() []int {
	out := make([]int, len(t.columns))
	for i, col := range t.columns {
		out[i] = col.NullCount()
	}
	return out
}

// Rechunk returns a table with every column in a single chunk.
func (t *Table) Rechunk() (*Table, error) {
	return t.RechunkTo([]int{0, t.numRows})
}

// RechunkTo splits the table on the given chunk boundaries.
func (t *Table) RechunkTo(boundaries []int) (*Table, error) {
	if len(t.columns) == 0 {
		return NewTableWithOffsets(boundaries), nil
	}
	columns := make([]*Column, len(t.columns))
	for i, col := range t.columns {
		rechunked, err := col.Rechunk(boundaries)
		if err != nil {
			return nil, err
		}
		columns[i] = rechunked
	}
	return NewTable(columns...)
}

// SplitBoundaries returns chunk boundaries which split numRows rows into chunks of at most chunkSize rows.
func SplitBoundaries(numRows, chunkSize int) []int {
	if chunkSize <= 0 {
		chunkSize = numRows
	}
	out := []int{0}
	for start := 0; start < numRows; start += chunkSize {
		out = append(out, min(start+chunkSize, numRows))
	}
	return out
}

// Rows returns all the rows of the table, for tests and inspection.
func (t *Table) Rows() [][]octoframe.Value {
	out := make([][]octoframe.Value, t.numRows)
	for i := range out {
		out[i] = make([]octoframe.Value, len(t.columns))
	}
	for j, col := range t.columns {
		for i, v := range col.Values() {
			out[i][j] = v
		}
	}
	return out
}

// Equal compares schemas and values row by row.
// With nullEqual set, nulls in the same position are considered equal.
func (t *Table) Equal(other *Table, nullEqual bool) bool {
	if !t.schema.Equal(other.schema) || t.numRows != other.numRows {
		return false
	}
	for j := range t.columns {
		left, right := t.columns[j].Values(), other.columns[j].Values()
		for i := range left {
			if left[i].IsNull() || right[i].IsNull() {
				if !nullEqual || !(left[i].IsNull() && right[i].IsNull()) {
					return false
				}
				continue
			}
			if !left[i].Equal(right[i]) {
				return false
			}
		}
	}
	return true
}

func (t *Table) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(t.schema.Names(), "\t"))
	sb.WriteString("\n")
	for _, row := range t.Rows() {
		parts := make([]string, len(row))
		for i := range row {
			parts[i] = row[i].String()
		}
		sb.WriteString(strings.Join(parts, "\t"))
		sb.WriteString("\n")
	}
	return sb.String()
}
