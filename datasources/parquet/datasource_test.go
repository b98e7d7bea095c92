package parquet

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func bikes(t *testing.T) *table.Table {
	tbl, err := table.NewTable(
		table.MustColumn("id", octoframe.Int64, 1, 2, 3, 4, 5),
		table.MustColumn("color", octoframe.String, "green", "black", nil, "orange", "red"),
		table.MustColumn("wheels", octoframe.Int64, 3, 2, 2, nil, 2),
		table.MustColumn("electric", octoframe.Boolean, true, false, false, true, nil),
		table.MustColumn("weight", octoframe.Float64, 12.5, 9.0, 11.25, 8.5, 10.0),
	)
	require.NoError(t, err)
	return tbl
}

func writeFile(t *testing.T, tbl *table.Table, rowGroupSize int64) string {
	path := filepath.Join(t.TempDir(), "bikes.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pqarrow.WriteTable(tbl.ToArrowTable(), f, rowGroupSize, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps()))
	return path
}

func readAll(t *testing.T, source logical.Source, req logical.ScanRequest) *table.Table {
	reader, err := source.Scan(context.Background(), req)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, reader.Close())
	}()

	var parts []*table.Table
	for {
		tbl, err := reader.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		parts = append(parts, tbl)
	}
	require.NotEmpty(t, parts)
	out, err := parts[0].VStack(parts[1:]...)
	require.NoError(t, err)
	return out
}

func TestDatasource(t *testing.T) {
	tbl := bikes(t)
	source, err := New("bikes", writeFile(t, tbl, 2), WithBatchSize(2))
	require.NoError(t, err)

	schema, err := source.Schema()
	require.NoError(t, err)
	assert.True(t, tbl.Schema().Equal(schema))
	assert.Equal(t, 5, source.Capabilities().EstimatedRows)
	assert.True(t, source.Capabilities().Rescannable)

	tests := []struct {
		name     string
		req      logical.ScanRequest
		expected *table.Table
	}{
		{
			name:     "all columns",
			req:      logical.ScanRequest{Limit: -1},
			expected: tbl,
		},
		{
			name: "columns in request order",
			req:  logical.ScanRequest{Columns: []string{"weight", "id"}, Limit: -1},
			expected: func() *table.Table {
				out, err := tbl.Select("weight", "id")
				require.NoError(t, err)
				return out
			}(),
		},
		{
			name: "limit",
			req:  logical.ScanRequest{Columns: []string{"color"}, Limit: 3},
			expected: func() *table.Table {
				out, err := tbl.Select("color")
				require.NoError(t, err)
				return out.Head(3)
			}(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			read := readAll(t, source, tt.req)
			assert.True(t, tt.expected.Equal(read, true), "expected:\n%s\ngot:\n%s", tt.expected, read)
		})
	}

	_, err = source.Scan(context.Background(), logical.ScanRequest{Columns: []string{"missing"}, Limit: -1})
	assert.True(t, octoframe.IsSchemaError(err))
}

func TestFileOrder(t *testing.T) {
	sorted, order := fileOrder([]int{4, 0, 2})
	assert.Equal(t, []int{0, 2, 4}, sorted)
	assert.Equal(t, []int{2, 0, 1}, order)
}

func TestInvalid(t *testing.T) {
	_, err := New("bikes", filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)

	_, err = New("bikes", writeFile(t, bikes(t), 2), WithBatchSize(0))
	assert.Error(t, err)
}
