package json

import (
	"bufio"
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

const (
	defaultInferenceLines = 100
	defaultBatchSize      = 4 * 1024
	maxLineSize           = 8 * 1024 * 1024
)

// Datasource reads a file of JSON objects, one per line.
// The schema is inferred from the first lines, in the order fields first appear.
type Datasource struct {
	name           string
	path           string
	inferenceLines int
	batchSize      int
	workers        int
	schema         octoframe.Schema
}

type Option func(*Datasource)

// WithInferenceLines sets the number of lines the schema is inferred from.
func WithInferenceLines(n int) Option {
	return func(d *Datasource) {
		d.inferenceLines = n
	}
}

// WithBatchSize sets the number of lines parsed per job, which is also the maximum number of rows per read table.
func WithBatchSize(n int) Option {
	return func(d *Datasource) {
		d.batchSize = n
	}
}

// WithWorkers sets the number of parser goroutines of each scan.
func WithWorkers(n int) Option {
	return func(d *Datasource) {
		d.workers = n
	}
}

// WithSchema skips inference and uses the given schema.
func WithSchema(schema octoframe.Schema) Option {
	return func(d *Datasource) {
		d.schema = schema
	}
}

func New(name, path string, opts ...Option) (*Datasource, error) {
	d := &Datasource{
		name:           name,
		path:           path,
		inferenceLines: defaultInferenceLines,
		batchSize:      defaultBatchSize,
		workers:        defaultWorkers(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.inferenceLines <= 0 || d.batchSize <= 0 || d.workers <= 0 {
		return nil, errors.Errorf("inference lines, batch size and workers must be positive, got %d, %d and %d", d.inferenceLines, d.batchSize, d.workers)
	}

	if d.schema.Fields == nil {
		schema, err := inferSchema(d.path, d.inferenceLines)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't infer schema of %s", path)
		}
		d.schema = schema
	}
	if err := d.schema.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid schema of %s", path)
	}
	for _, field := range d.schema.Fields {
		if !readable(field.Type) {
			return nil, octoframe.NewTypeError("column '%s' of %s has type %s, which can't be read from JSON", field.Name, path, field.Type)
		}
	}
	return d, nil
}

func inferSchema(path string, lines int) (octoframe.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return octoframe.Schema{}, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	var names []string
	fields := make(map[string]octoframe.Type)

	sc := bufio.NewScanner(bufio.NewReaderSize(f, 4096*1024))
	sc.Buffer(nil, maxLineSize)

	var p fastjson.Parser
	i := 0
	for i < lines && sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		i++
		v, err := p.ParseBytes(sc.Bytes())
		if err != nil {
			return octoframe.Schema{}, errors.Wrapf(err, "couldn't parse json on line %d", i)
		}
		o, err := v.Object()
		if err != nil {
			return octoframe.Schema{}, errors.Errorf("expected JSON object, got '%s'", sc.Text())
		}

		o.Visit(func(key []byte, v *fastjson.Value) {
			if t, ok := fields[string(key)]; ok {
				fields[string(key)] = unify(t, inferType(v))
			} else {
				names = append(names, string(key))
				fields[string(key)] = inferType(v)
			}
		})
	}
	if err := sc.Err(); err != nil {
		return octoframe.Schema{}, errors.Wrap(err, "couldn't scan lines")
	}

	schemaFields := make([]octoframe.SchemaField, len(names))
	for i, name := range names {
		schemaFields[i] = octoframe.SchemaField{Name: name, Type: fields[name]}
	}
	return octoframe.NewSchema(schemaFields...), nil
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

// Scan parses the file on a pool of workers, returning tables in file order.
// Only the requested columns are built.
func (d *Datasource) Scan(ctx context.Context, req logical.ScanRequest) (logical.TableReader, error) {
	schema := d.schema
	if len(req.Columns) > 0 {
		var err error
		if schema, err = d.schema.Select(req.Columns...); err != nil {
			return nil, errors.Wrap(err, "invalid scan columns")
		}
	}
	f, err := os.Open(d.path)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open %s", d.path)
	}
	return startReader(ctx, f, schema, d.batchSize, d.workers, req.Limit), nil
}
