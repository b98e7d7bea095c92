package postgres

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx"
	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/logs"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

const defaultBatchSize = 4 * 1024

type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must be set")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// pgxLogger forwards driver logs to a go-kit logger.
type pgxLogger struct {
	logger log.Logger
}

func (l *pgxLogger) Log(lvl pgx.LogLevel, msg string, data map[string]interface{}) {
	keyvals := []interface{}{"msg", msg}
	for _, k := range slices.Sorted(maps.Keys(data)) {
		keyvals = append(keyvals, k, data[k])
	}
	switch lvl {
	case pgx.LogLevelError:
		level.Error(l.logger).Log(keyvals...)
	case pgx.LogLevelWarn:
		level.Warn(l.logger).Log(keyvals...)
	case pgx.LogLevelInfo:
		level.Info(l.logger).Log(keyvals...)
	default:
		level.Debug(l.logger).Log(keyvals...)
	}
}

func connect(config *Config, logger log.Logger) (*pgx.Conn, error) {
	db, err := pgx.Connect(pgx.ConnConfig{
		Host:      config.Host,
		Port:      uint16(config.Port),
		User:      config.User,
		Database:  config.Database,
		Password:  config.Password,
		TLSConfig: nil,
		Logger:    &pgxLogger{logger: logs.OrNop(logger)},
		LogLevel:  pgx.LogLevelWarn,
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't open database: %w", err)
	}
	return db, nil
}

// column is a table column together with the select expression producing a value pgx can decode.
type column struct {
	field octoframe.SchemaField
	cast  string
}

// Datasource reads a single table. Each scan uses its own connection.
type Datasource struct {
	name      string
	config    *Config
	table     pgx.Identifier
	logger    log.Logger
	batchSize int
	columns   []column
	rows      int
}

type Option func(*Datasource)

func WithLogger(logger log.Logger) Option {
	return func(d *Datasource) {
		d.logger = logger
	}
}

// WithBatchSize sets the maximum number of rows per read table.
func WithBatchSize(n int) Option {
	return func(d *Datasource) {
		d.batchSize = n
	}
}

// New describes the table, which may be qualified with a schema, like reports.sales.
// Columns of unsupported types are skipped.
func New(ctx context.Context, name string, config *Config, tableName string, opts ...Option) (*Datasource, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid postgres config")
	}
	d := &Datasource{
		name:      name,
		config:    config,
		table:     pgx.Identifier(strings.Split(tableName, ".")),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logs.OrNop(d.logger)
	if d.batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", d.batchSize)
	}
	if len(d.table) > 2 {
		return nil, errors.Errorf("invalid table name '%s'", tableName)
	}

	db, err := connect(config, d.logger)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't connect to database")
	}
	defer db.Close()

	if err := d.describe(ctx, db); err != nil {
		return nil, errors.Wrapf(err, "couldn't describe table %s", tableName)
	}
	return d, nil
}

func (d *Datasource) describe(ctx context.Context, db *pgx.Conn) error {
	schemaCondition := "table_schema = current_schema()"
	args := []interface{}{d.table[len(d.table)-1]}
	if len(d.table) == 2 {
		schemaCondition = "table_schema = $2"
		args = append(args, d.table[0])
	}
	rows, err := db.QueryEx(ctx, "SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND "+schemaCondition+" ORDER BY ordinal_position", nil, args...)
	if err != nil {
		return fmt.Errorf("couldn't query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return fmt.Errorf("couldn't scan table description: %w", err)
		}
		t, cast, ok := columnType(dataType)
		if !ok {
			level.Warn(d.logger).Log("msg", "skipping column of unsupported type", "table", d.table.Sanitize(), "column", name, "type", dataType)
			continue
		}
		d.columns = append(d.columns, column{
			field: octoframe.SchemaField{Name: name, Type: t},
			cast:  cast,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("couldn't read table description: %w", err)
	}
	if len(d.columns) == 0 {
		return octoframe.NewSchemaError("table %s doesn't exist or has no supported columns", d.table.Sanitize())
	}

	// reltuples is only an estimate, and negative for tables never analyzed.
	var estimate float32
	if err := db.QueryRowEx(ctx, "SELECT reltuples FROM pg_class WHERE oid = $1::regclass", nil, d.table.Sanitize()).Scan(&estimate); err != nil {
		return fmt.Errorf("couldn't estimate row count: %w", err)
	}
	d.rows = -1
	if estimate >= 0 {
		d.rows = int(estimate)
	}
	return nil
}

// columnType maps a Postgres data type to a column type, and to the cast needed for pgx to decode it.
func columnType(dataType string) (octoframe.Type, string, bool) {
	switch dataType {
	case "smallint":
		return octoframe.Int16, "", true
	case "integer":
		return octoframe.Int32, "", true
	case "bigint":
		return octoframe.Int64, "", true
	case "real":
		return octoframe.Float32, "", true
	case "double precision":
		return octoframe.Float64, "", true
	case "numeric":
		return octoframe.Float64, "double precision", true
	case "text", "character varying", "character":
		return octoframe.String, "", true
	case "boolean":
		return octoframe.Boolean, "", true
	case "date":
		return octoframe.Date, "", true
	case "timestamp without time zone", "timestamp with time zone":
		return octoframe.Datetime, "", true
	}
	return octoframe.Type{}, "", false
}

func (d *Datasource) Name() string {
	return d.name
}

func (d *Datasource) Schema() (octoframe.Schema, error) {
	fields := make([]octoframe.SchemaField, len(d.columns))
	for i := range d.columns {
		fields[i] = d.columns[i].field
	}
	return octoframe.NewSchema(fields...), nil
}

func (d *Datasource) Capabilities() logical.Capabilities {
	return logical.Capabilities{
		Rescannable:   true,
		EstimatedRows: d.rows,
	}
}

// Scan pushes the projection and the limit into the query.
func (d *Datasource) Scan(ctx context.Context, req logical.ScanRequest) (logical.TableReader, error) {
	columns := d.columns
	if len(req.Columns) > 0 {
		columns = make([]column, len(req.Columns))
		for i, name := range req.Columns {
			index := slices.IndexFunc(d.columns, func(c column) bool { return c.field.Name == name })
			if index == -1 {
				return nil, octoframe.NewSchemaError("column '%s' not found in %s", name, d.table.Sanitize())
			}
			columns[i] = d.columns[index]
		}
	}

	db, err := connect(d.config, d.logger)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't connect to database")
	}
	rows, err := db.QueryEx(ctx, selectQuery(d.table, columns, req.Limit), nil)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "couldn't execute database query")
	}
	return &reader{
		db:        db,
		rows:      rows,
		columns:   columns,
		batchSize: d.batchSize,
	}, nil
}

func selectQuery(tbl pgx.Identifier, columns []column, limit int) string {
	exprs := make([]string, len(columns))
	for i, c := range columns {
		exprs[i] = pgx.Identifier{c.field.Name}.Sanitize()
		if c.cast != "" {
			exprs[i] = fmt.Sprintf("%s::%s", exprs[i], c.cast)
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), tbl.Sanitize())
	if limit >= 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query
}

type reader struct {
	db        *pgx.Conn
	rows      *pgx.Rows
	columns   []column
	batchSize int
	done      bool
}

func (r *reader) Read(ctx context.Context) (*table.Table, error) {
	if r.done {
		return nil, io.EOF
	}
	builders := make([]*table.ColumnBuilder, len(r.columns))
	for i, c := range r.columns {
		builders[i] = table.NewColumnBuilder(c.field.Name, c.field.Type, nil)
	}

	n := 0
	for n < r.batchSize {
		if !r.rows.Next() {
			r.done = true
			if err := r.rows.Err(); err != nil {
				return nil, octoframe.ExecutionFailure("postgres scan", err)
			}
			break
		}
		values, err := r.rows.Values()
		if err != nil {
			return nil, octoframe.ExecutionFailure("postgres scan", errors.Wrap(err, "couldn't decode row"))
		}
		for i := range builders {
			value, err := toValue(r.columns[i].field.Type, values[i])
			if err != nil {
				return nil, octoframe.ExecutionFailure("postgres scan", errors.Wrapf(err, "invalid value of column '%s'", r.columns[i].field.Name))
			}
			if err := builders[i].Append(value); err != nil {
				return nil, octoframe.ExecutionFailure("postgres scan", err)
			}
		}
		n++
	}
	if n == 0 {
		return nil, io.EOF
	}

	if len(builders) == 0 {
		return table.NewEmptyTable(n), nil
	}
	out := make([]*table.Column, len(builders))
	for i := range builders {
		var err error
		if out[i], err = builders[i].Finish(); err != nil {
			return nil, err
		}
	}
	return table.NewTable(out...)
}

// toValue converts a value decoded by pgx.
func toValue(t octoframe.Type, v interface{}) (octoframe.Value, error) {
	switch v := v.(type) {
	case nil:
		return octoframe.NewTypedNull(t), nil
	case int16:
		return octoframe.NewIntOfType(t, int64(v)), nil
	case int32:
		return octoframe.NewIntOfType(t, int64(v)), nil
	case int64:
		return octoframe.NewIntOfType(t, v), nil
	case float32:
		return octoframe.NewFloat32(v), nil
	case float64:
		return octoframe.NewFloat(v), nil
	case string:
		return octoframe.NewString(v), nil
	case bool:
		return octoframe.NewBoolean(v), nil
	case time.Time:
		if t.TypeID == octoframe.TypeIDDate {
			y, m, day := v.Date()
			return octoframe.NewDate(int32(time.Date(y, m, day, 0, 0, 0, 0, time.UTC).Unix() / (24 * 60 * 60))), nil
		}
		return octoframe.NewDatetime(v), nil
	}
	return octoframe.Value{}, octoframe.NewTypeError("unsupported Go value %v of type %T for %s", v, v, t)
}

func (r *reader) Close() error {
	r.rows.Close()
	return r.db.Close()
}
