package arrowipc

import (
	"context"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// Datasource reads an Arrow IPC file. Files in the streaming format are accepted too,
// though their row count isn't known upfront.
type Datasource struct {
	name      string
	path      string
	schema    octoframe.Schema
	rows      int
	allocator memory.Allocator
}

type Option func(*Datasource)

func WithAllocator(allocator memory.Allocator) Option {
	return func(d *Datasource) {
		d.allocator = allocator
	}
}

// New opens the file once to read its schema.
func New(name, path string, opts ...Option) (*Datasource, error) {
	d := &Datasource{
		name:      name,
		path:      path,
		rows:      -1,
		allocator: memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(d)
	}

	r, err := d.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if d.schema, err = octoframe.SchemaFromArrow(r.Schema()); err != nil {
		return nil, errors.Wrapf(err, "couldn't map schema of %s", path)
	}
	if r.file != nil {
		rows := 0
		for i := 0; i < r.file.NumRecords(); i++ {
			record, err := r.file.Record(i)
			if err != nil {
				return nil, errors.Wrapf(err, "couldn't read record %d of %s", i, path)
			}
			rows += int(record.NumRows())
		}
		d.rows = rows
	}
	return d, nil
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

// Scan returns one table per record batch of the file.
func (d *Datasource) Scan(ctx context.Context, req logical.ScanRequest) (logical.TableReader, error) {
	schema := d.schema
	var indices []int
	if len(req.Columns) > 0 {
		var err error
		if schema, err = d.schema.Select(req.Columns...); err != nil {
			return nil, errors.Wrap(err, "invalid scan columns")
		}
		for _, name := range req.Columns {
			indices = append(indices, d.schema.FieldIndex(name))
		}
	}
	r, err := d.open()
	if err != nil {
		return nil, err
	}
	return &reader{
		recordReader: r,
		schema:       schema,
		indices:      indices,
		limit:        req.Limit,
	}, nil
}

// recordReader reads either IPC format through a common interface.
type recordReader struct {
	f      *os.File
	file   *ipc.FileReader
	stream *ipc.Reader
	next   int
}

func (d *Datasource) open() (*recordReader, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open %s", d.path)
	}
	file, fileErr := ipc.NewFileReader(f, ipc.WithAllocator(d.allocator))
	if fileErr == nil {
		return &recordReader{f: f, file: file}, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "couldn't rewind %s", d.path)
	}
	stream, err := ipc.NewReader(f, ipc.WithAllocator(d.allocator))
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "couldn't read %s as an arrow ipc file (%s) or stream", d.path, fileErr)
	}
	return &recordReader{f: f, stream: stream}, nil
}

func (r *recordReader) Schema() *arrow.Schema {
	if r.file != nil {
		return r.file.Schema()
	}
	return r.stream.Schema()
}

// Next returns the next record, which stays valid after later calls.
func (r *recordReader) Next() (arrow.Record, error) {
	if r.file != nil {
		if r.next >= r.file.NumRecords() {
			return nil, io.EOF
		}
		record, err := r.file.RecordAt(r.next)
		if err != nil {
			return nil, err
		}
		r.next++
		return record, nil
	}

	if !r.stream.Next() {
		if err := r.stream.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	record := r.stream.Record()
	record.Retain()
	return record, nil
}

func (r *recordReader) Close() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			r.f.Close()
			return err
		}
	} else {
		r.stream.Release()
	}
	return r.f.Close()
}

type reader struct {
	*recordReader
	schema  octoframe.Schema
	indices []int
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
	record, err := r.Next()
	if err == io.EOF {
		return nil, io.EOF
	} else if err != nil {
		return nil, errors.Wrap(err, "couldn't read record batch")
	}

	if r.indices != nil {
		columns := make([]arrow.Array, len(r.indices))
		for i, index := range r.indices {
			columns[i] = record.Column(index)
		}
		record = array.NewRecord(r.schema.ArrowSchema(), columns, record.NumRows())
	}
	tbl, err := table.FromRecords(r.schema, []arrow.Record{record})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't convert record batch")
	}
	if r.limit >= 0 && r.read+tbl.NumRows() > r.limit {
		tbl = tbl.Head(r.limit - r.read)
	}
	r.read += tbl.NumRows()
	return tbl, nil
}
