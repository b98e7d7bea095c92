package parquet

import (
	"context"
	"io"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

const defaultBatchSize = 16 * 1024

// Datasource reads a Parquet file. Only the requested columns are decoded.
// Columns with types that have no counterpart in the engine are left out of the schema.
type Datasource struct {
	name      string
	path      string
	batchSize int
	allocator memory.Allocator

	schema octoframe.Schema
	// fieldIndices maps schema fields to top-level fields of the file.
	fieldIndices []int
	rows         int
}

type Option func(*Datasource)

// WithBatchSize sets the maximum number of rows per read table.
func WithBatchSize(n int) Option {
	return func(d *Datasource) {
		d.batchSize = n
	}
}

func WithAllocator(allocator memory.Allocator) Option {
	return func(d *Datasource) {
		d.allocator = allocator
	}
}

// New reads the file metadata to get the schema and row count.
func New(name, path string, opts ...Option) (*Datasource, error) {
	d := &Datasource{
		name:      name,
		path:      path,
		batchSize: defaultBatchSize,
		allocator: memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", d.batchSize)
	}

	pf, fr, err := d.open()
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	arrowSchema, err := fr.Schema()
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't get arrow schema of %s", path)
	}
	for i, field := range arrowSchema.Fields() {
		t, err := octoframe.TypeFromArrow(field.Type)
		if err != nil {
			continue
		}
		d.schema.Fields = append(d.schema.Fields, octoframe.SchemaField{Name: field.Name, Type: t})
		d.fieldIndices = append(d.fieldIndices, i)
	}
	if err := d.schema.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid schema of %s", path)
	}
	d.rows = int(pf.NumRows())
	return d, nil
}

func (d *Datasource) open() (*file.Reader, *pqarrow.FileReader, error) {
	pf, err := file.OpenParquetFile(d.path, false)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "couldn't open parquet file %s", d.path)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(d.batchSize)}, d.allocator)
	if err != nil {
		pf.Close()
		return nil, nil, errors.Wrapf(err, "couldn't create arrow reader for %s", d.path)
	}
	return pf, fr, nil
}

func (d *Datasource) Name() string {
	return d.name
}

func (d *Datasource) Schema() (octoframe.Schema, error) {
	return d.schema, nil
}

func (d *Datasource) Capabilities() logical.Capabilities {
	return logical.Capabilities{
		Rescannable:   true,
		EstimatedRows: d.rows,
	}
}

// Scan decodes the requested columns batch by batch, across all row groups.
func (d *Datasource) Scan(ctx context.Context, req logical.ScanRequest) (logical.TableReader, error) {
	names := req.Columns
	if len(names) == 0 {
		names = d.schema.Names()
	}
	schema, err := d.schema.Select(names...)
	if err != nil {
		return nil, errors.Wrap(err, "invalid scan columns")
	}
	// The columns are decoded in file order, so they get reordered to the request order afterwards.
	fields := make([]int, len(names))
	for i, name := range names {
		fields[i] = d.fieldIndices[d.schema.FieldIndex(name)]
	}
	sorted, order := fileOrder(fields)

	pf, fr, err := d.open()
	if err != nil {
		return nil, err
	}
	leaves, err := fr.Manifest.GetFieldIndices(sorted)
	if err != nil {
		pf.Close()
		return nil, errors.Wrap(err, "couldn't get leaf column indices")
	}
	rr, err := fr.GetRecordReader(ctx, leaves, nil)
	if err != nil {
		pf.Close()
		return nil, errors.Wrap(err, "couldn't create record reader")
	}
	return &reader{
		file:    pf,
		records: rr,
		schema:  schema,
		order:   order,
		limit:   req.Limit,
	}, nil
}

// fileOrder returns the distinct field indices in ascending order,
// together with the position of each requested field in that order.
func fileOrder(fields []int) ([]int, []int) {
	present := make(map[int]bool, len(fields))
	var sorted []int
	for _, field := range fields {
		if !present[field] {
			present[field] = true
			sorted = append(sorted, field)
		}
	}
	slices.Sort(sorted)
	position := make(map[int]int, len(sorted))
	for i, field := range sorted {
		position[field] = i
	}
	order := make([]int, len(fields))
	for i, field := range fields {
		order[i] = position[field]
	}
	return sorted, order
}

type reader struct {
	file    *file.Reader
	records pqarrow.RecordReader
	schema  octoframe.Schema
	order   []int
	limit   int
	read    int
}

func (r *reader) Read(ctx context.Context) (*table.Table, error) {
	if r.limit >= 0 && r.read >= r.limit {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.records.Next() {
		if err := r.records.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "couldn't read record batch")
		}
		return nil, io.EOF
	}
	record := r.records.Record()

	columns := make([]arrow.Array, len(r.order))
	for i, index := range r.order {
		columns[i] = record.Column(index)
		columns[i].Retain()
	}
	out := array.NewRecord(r.schema.ArrowSchema(), columns, record.NumRows())
	tbl, err := table.FromRecords(r.schema, []arrow.Record{out})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't convert record batch")
	}
	if r.limit >= 0 && r.read+tbl.NumRows() > r.limit {
		tbl = tbl.Head(r.limit - r.read)
	}
	r.read += tbl.NumRows()
	return tbl, nil
}

func (r *reader) Close() error {
	r.records.Release()
	return r.file.Close()
}
