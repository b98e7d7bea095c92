package postgres

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/logs"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func TestColumnType(t *testing.T) {
	tests := []struct {
		dataType string
		expected octoframe.Type
		cast     string
		ok       bool
	}{
		{dataType: "smallint", expected: octoframe.Int16, ok: true},
		{dataType: "bigint", expected: octoframe.Int64, ok: true},
		{dataType: "numeric", expected: octoframe.Float64, cast: "double precision", ok: true},
		{dataType: "character varying", expected: octoframe.String, ok: true},
		{dataType: "timestamp with time zone", expected: octoframe.Datetime, ok: true},
		{dataType: "jsonb"},
	}
	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			typ, cast, ok := columnType(tt.dataType)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected.String(), typ.String())
				assert.Equal(t, tt.cast, cast)
			}
		})
	}
}

func TestSelectQuery(t *testing.T) {
	columns := []column{
		{field: octoframe.SchemaField{Name: "id", Type: octoframe.Int64}},
		{field: octoframe.SchemaField{Name: "Price", Type: octoframe.Float64}, cast: "double precision"},
	}
	assert.Equal(t,
		`SELECT "id", "Price"::double precision FROM "reports"."sales" LIMIT 10`,
		selectQuery(pgx.Identifier{"reports", "sales"}, columns, 10),
	)
	assert.Equal(t,
		`SELECT "id" FROM "sales"`,
		selectQuery(pgx.Identifier{"sales"}, columns[:1], -1),
	)
}

func TestToValue(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		typ      octoframe.Type
		value    interface{}
		expected string
	}{
		{typ: octoframe.Int16, value: int16(3), expected: "3"},
		{typ: octoframe.Int32, value: int32(-7), expected: "-7"},
		{typ: octoframe.Float32, value: float32(1.5), expected: "1.5"},
		{typ: octoframe.String, value: "abc", expected: `"abc"`},
		{typ: octoframe.Boolean, value: nil, expected: "null"},
		{typ: octoframe.Date, value: at, expected: "2024-01-02"},
		{typ: octoframe.Datetime, value: at, expected: "2024-01-02T03:04:05Z"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			v, err := toValue(tt.typ, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v.String())
		})
	}

	_, err := toValue(octoframe.String, []byte("raw"))
	assert.True(t, octoframe.IsTypeError(err))
}

func TestDriverLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := &pgxLogger{logger: logs.New(&buf, false)}
	logger.Log(pgx.LogLevelWarn, "slow query", map[string]interface{}{"sql": "SELECT 1", "args": 0})
	logger.Log(pgx.LogLevelDebug, "hidden", nil)
	assert.Contains(t, buf.String(), `level=warn msg="slow query" args=0 sql="SELECT 1"`)
	assert.NotContains(t, buf.String(), "hidden")
}

// testConfig returns the database configured with OCTOFRAME_TEST_POSTGRES_* variables, or skips the test.
func testConfig(t *testing.T) *Config {
	host := os.Getenv("OCTOFRAME_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("OCTOFRAME_TEST_POSTGRES_HOST not set")
	}
	port, err := strconv.Atoi(os.Getenv("OCTOFRAME_TEST_POSTGRES_PORT"))
	if err != nil {
		port = 5432
	}
	return &Config{
		Host:     host,
		Port:     port,
		User:     os.Getenv("OCTOFRAME_TEST_POSTGRES_USER"),
		Password: os.Getenv("OCTOFRAME_TEST_POSTGRES_PASSWORD"),
		Database: os.Getenv("OCTOFRAME_TEST_POSTGRES_DATABASE"),
	}
}

func TestDatasource(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	db, err := connect(cfg, nil)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS octoframe_bikes`,
		`CREATE TABLE octoframe_bikes (id bigint, color text, price numeric, tags jsonb, bought date)`,
		`INSERT INTO octoframe_bikes VALUES (1, 'red', 10.5, '[]', '2024-01-02'), (2, NULL, 3, NULL, NULL), (3, 'blue', NULL, '{}', '2023-12-31')`,
	} {
		_, err := db.ExecEx(ctx, stmt, nil)
		require.NoError(t, err)
	}

	source, err := New(ctx, "bikes", cfg, "octoframe_bikes", WithBatchSize(2))
	require.NoError(t, err)
	schema, err := source.Schema()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "color", "price", "bought"}, schema.Names())

	reader, err := source.Scan(ctx, logical.ScanRequest{Columns: []string{"price", "id"}, Limit: -1})
	require.NoError(t, err)
	defer reader.Close()

	var parts []*table.Table
	for {
		tbl, err := reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		parts = append(parts, tbl)
	}
	require.Len(t, parts, 2)
	tbl, err := parts[0].VStack(parts[1:]...)
	require.NoError(t, err)
	expected, err := table.NewTable(
		table.MustColumn("price", octoframe.Float64, 10.5, 3.0, nil),
		table.MustColumn("id", octoframe.Int64, 1, 2, 3),
	)
	require.NoError(t, err)
	assert.True(t, tbl.Equal(expected, true), tbl.String())
}
