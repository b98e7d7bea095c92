package memory

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// Datasource serves tables which are already in memory. Every table is returned as one part of a scan.
type Datasource struct {
	name        string
	schema      octoframe.Schema
	tables      []*table.Table
	rescannable bool
	scanned     atomic.Bool
}

type Option func(*Datasource)

// NonRescannable makes the datasource behave like a stream, which fails when scanned a second time.
func NonRescannable() Option {
	return func(d *Datasource) {
		d.rescannable = false
	}
}

func New(name string, schema octoframe.Schema, tables []*table.Table, opts ...Option) (*Datasource, error) {
	if err := schema.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid schema of datasource '%s'", name)
	}
	for i, tbl := range tables {
		if !tbl.Schema().Equal(schema) {
			return nil, octoframe.NewSchemaError("table %d of datasource '%s' has schema %s, expected %s", i, name, tbl.Schema(), schema)
		}
	}
	d := &Datasource{
		name:        name,
		schema:      schema,
		tables:      tables,
		rescannable: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// FromTable creates a datasource serving a single table.
func FromTable(name string, tbl *table.Table, opts ...Option) *Datasource {
	d, err := New(name, tbl.Schema(), []*table.Table{tbl}, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Datasource) Name() string {
	return d.name
}

func (d *Datasource) Schema() (octoframe.Schema, error) {
	return d.schema, nil
}

func (d *Datasource) Capabilities() logical.Capabilities {
	rows := 0
	for _, tbl := range d.tables {
		rows += tbl.NumRows()
	}
	return logical.Capabilities{
		Rescannable:   d.rescannable,
		EstimatedRows: rows,
	}
}

// Scan returns the requested columns of every table. The predicate is left to the engine,
// and the limit only stops the scan once enough rows have been returned.
func (d *Datasource) Scan(ctx context.Context, req logical.ScanRequest) (logical.TableReader, error) {
	if d.scanned.Swap(true) && !d.rescannable {
		return nil, octoframe.NewExecutionError("datasource '%s' can only be scanned once", d.name)
	}
	if len(req.Columns) > 0 {
		if _, err := d.schema.Select(req.Columns...); err != nil {
			return nil, errors.Wrap(err, "invalid scan columns")
		}
	}
	return &reader{
		tables:  d.tables,
		columns: req.Columns,
		limit:   req.Limit,
	}, nil
}

type reader struct {
	tables  []*table.Table
	columns []string
	limit   int
	read    int
}

func (r *reader) Read(ctx context.Context) (*table.Table, error) {
	if len(r.tables) == 0 || (r.limit >= 0 && r.read >= r.limit) {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tbl := r.tables[0]
	r.tables = r.tables[1:]

	if len(r.columns) > 0 {
		var err error
		if tbl, err = tbl.Select(r.columns...); err != nil {
			return nil, errors.Wrap(err, "couldn't select columns")
		}
	}
	if r.limit >= 0 && r.read+tbl.NumRows() > r.limit {
		tbl = tbl.Head(r.limit - r.read)
	}
	r.read += tbl.NumRows()
	return tbl, nil
}

func (r *reader) Close() error {
	return nil
}
