package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

const (
	defaultInferenceLines = 100
	defaultBatchSize      = 4 * 1024
)

// Datasource reads a delimited text file.
// Empty cells are nulls. Column types are inferred from the first lines unless a schema is given.
type Datasource struct {
	name           string
	path           string
	separator      rune
	header         bool
	inferenceLines int
	batchSize      int
	schema         octoframe.Schema
}

type Option func(*Datasource)

func WithSeparator(separator rune) Option {
	return func(d *Datasource) {
		d.separator = separator
	}
}

// WithoutHeader treats the first line as data. Columns are then named column_1, column_2 and so on.
func WithoutHeader() Option {
	return func(d *Datasource) {
		d.header = false
	}
}

func WithInferenceLines(n int) Option {
	return func(d *Datasource) {
		d.inferenceLines = n
	}
}

func WithBatchSize(n int) Option {
	return func(d *Datasource) {
		d.batchSize = n
	}
}

// WithSchema skips inference. The schema must have as many fields as the file has columns.
func WithSchema(schema octoframe.Schema) Option {
	return func(d *Datasource) {
		d.schema = schema
	}
}

func New(name, path string, opts ...Option) (*Datasource, error) {
	d := &Datasource{
		name:           name,
		path:           path,
		separator:      ',',
		header:         true,
		inferenceLines: defaultInferenceLines,
		batchSize:      defaultBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.inferenceLines <= 0 || d.batchSize <= 0 {
		return nil, errors.Errorf("inference lines and batch size must be positive, got %d and %d", d.inferenceLines, d.batchSize)
	}

	inferred, err := d.inferSchema()
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't infer schema of %s", path)
	}
	if d.schema.Fields == nil {
		d.schema = inferred
	} else if len(d.schema.Fields) != len(inferred.Fields) {
		return nil, octoframe.NewSchemaError("%s has %d columns, but the schema has %d fields", path, len(inferred.Fields), len(d.schema.Fields))
	}
	if err := d.schema.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid schema of %s", path)
	}
	for _, field := range d.schema.Fields {
		if parsers[field.Type.TypeID] == nil {
			return nil, octoframe.NewTypeError("column '%s' of %s has type %s, which can't be read from CSV", field.Name, path, field.Type)
		}
	}
	return d, nil
}

func (d *Datasource) newDecoder(r io.Reader) *csv.Reader {
	decoder := csv.NewReader(bufio.NewReaderSize(r, 4096*1024))
	decoder.Comma = d.separator
	decoder.ReuseRecord = true
	return decoder
}

func (d *Datasource) inferSchema() (octoframe.Schema, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return octoframe.Schema{}, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	decoder := d.newDecoder(f)
	row, err := decoder.Read()
	if err == io.EOF {
		return octoframe.Schema{}, errors.New("file is empty")
	} else if err != nil {
		return octoframe.Schema{}, errors.Wrap(err, "couldn't decode first row")
	}

	names := make([]string, len(row))
	for i := range row {
		if d.header {
			names[i] = row[i]
		} else {
			names[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	fields := make([]octoframe.Type, len(row))
	filled := make([]bool, len(row))
	observe := func(row []string) {
		for i, str := range row {
			if str == "" {
				continue
			}
			t := inferType(str)
			if !filled[i] {
				fields[i] = t
				filled[i] = true
			} else if sum, ok := octoframe.Supertype(fields[i], t); ok {
				fields[i] = sum
			} else {
				fields[i] = octoframe.String
			}
		}
	}
	if !d.header {
		observe(row)
	}

	for i := 0; i < d.inferenceLines; i++ {
		row, err = decoder.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return octoframe.Schema{}, errors.Wrap(err, "couldn't decode row")
		}
		observe(row)
	}

	schemaFields := make([]octoframe.SchemaField, len(names))
	for i := range names {
		t := fields[i]
		if !filled[i] {
			t = octoframe.String
		}
		schemaFields[i] = octoframe.SchemaField{Name: names[i], Type: t}
	}
	return octoframe.NewSchema(schemaFields...), nil
}

func inferType(str string) octoframe.Type {
	if _, err := strconv.ParseInt(str, 10, 64); err == nil {
		return octoframe.Int64
	}
	if _, err := strconv.ParseFloat(str, 64); err == nil {
		return octoframe.Float64
	}
	if _, err := strconv.ParseBool(str); err == nil {
		return octoframe.Boolean
	}
	if _, err := time.Parse(time.RFC3339Nano, str); err == nil {
		return octoframe.Datetime
	}
	return octoframe.String
}

type parser func(str string) (octoframe.Value, error)

var parsers = map[octoframe.TypeID]parser{
	octoframe.TypeIDBoolean: func(str string) (octoframe.Value, error) {
		b, err := strconv.ParseBool(str)
		return octoframe.NewBoolean(b), err
	},
	octoframe.TypeIDInt64: func(str string) (octoframe.Value, error) {
		i, err := strconv.ParseInt(str, 10, 64)
		return octoframe.NewInt(i), err
	},
	octoframe.TypeIDFloat64: func(str string) (octoframe.Value, error) {
		f, err := strconv.ParseFloat(str, 64)
		return octoframe.NewFloat(f), err
	},
	octoframe.TypeIDString: func(str string) (octoframe.Value, error) {
		return octoframe.NewString(str), nil
	},
	octoframe.TypeIDDatetime: func(str string) (octoframe.Value, error) {
		t, err := time.Parse(time.RFC3339Nano, str)
		return octoframe.NewDatetime(t), err
	},
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
		EstimatedRows: -1,
	}
}

// Scan decodes the file in batches, parsing only the requested columns.
func (d *Datasource) Scan(ctx context.Context, req logical.ScanRequest) (logical.TableReader, error) {
	schema := d.schema
	indices := make([]int, len(d.schema.Fields))
	for i := range indices {
		indices[i] = i
	}
	if len(req.Columns) > 0 {
		var err error
		if schema, err = d.schema.Select(req.Columns...); err != nil {
			return nil, errors.Wrap(err, "invalid scan columns")
		}
		indices = make([]int, len(req.Columns))
		for i, name := range req.Columns {
			indices[i] = d.schema.FieldIndex(name)
		}
	}

	f, err := os.Open(d.path)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open %s", d.path)
	}
	decoder := d.newDecoder(f)
	if d.header {
		if _, err := decoder.Read(); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "couldn't decode csv header row")
		}
	}

	return &reader{
		file:      f,
		decoder:   decoder,
		schema:    schema,
		indices:   indices,
		batchSize: d.batchSize,
		limit:     req.Limit,
	}, nil
}

type reader struct {
	file      io.Closer
	decoder   *csv.Reader
	schema    octoframe.Schema
	indices   []int
	batchSize int
	limit     int
	read      int
	done      bool
}

func (r *reader) Read(ctx context.Context) (*table.Table, error) {
	if r.done || (r.limit >= 0 && r.read >= r.limit) {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batchSize := r.batchSize
	if r.limit >= 0 && r.limit-r.read < batchSize {
		batchSize = r.limit - r.read
	}
	builders := make([]*table.ColumnBuilder, len(r.schema.Fields))
	for i, field := range r.schema.Fields {
		builders[i] = table.NewColumnBuilder(field.Name, field.Type, nil)
	}

	rows := 0
	for rows < batchSize {
		row, err := r.decoder.Read()
		if err == io.EOF {
			r.done = true
			break
		} else if err != nil {
			return nil, octoframe.ExecutionFailure("csv scan", errors.Wrap(err, "couldn't decode row"))
		}
		for i, index := range r.indices {
			if row[index] == "" {
				builders[i].AppendNull()
				continue
			}
			field := r.schema.Fields[i]
			value, err := parsers[field.Type.TypeID](row[index])
			if err != nil {
				line, _ := r.decoder.FieldPos(index)
				return nil, octoframe.ExecutionFailure("csv scan", errors.Wrapf(err, "couldn't parse column '%s' on line %d", field.Name, line))
			}
			if err := builders[i].Append(value); err != nil {
				return nil, octoframe.ExecutionFailure("csv scan", err)
			}
		}
		rows++
	}
	r.read += rows
	if rows == 0 {
		return nil, io.EOF
	}

	if len(builders) == 0 {
		return table.NewEmptyTable(rows), nil
	}
	columns := make([]*table.Column, len(builders))
	for i := range builders {
		var err error
		if columns[i], err = builders[i].Finish(); err != nil {
			return nil, err
		}
	}
	return table.NewTable(columns...)
}

func (r *reader) Close() error {
	return r.file.Close()
}
