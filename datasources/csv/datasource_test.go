package csv

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

const fixture = `id,name,score,active,at
1,ann,1.5,true,2024-01-02T03:04:05Z
2,"b,ob",2,false,
3,,,true,2024-01-03T00:00:00Z
4,dan,7.25,,
`

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAll(t *testing.T, source logical.Source, req logical.ScanRequest) ([]*table.Table, error) {
	reader, err := source.Scan(context.Background(), req)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, reader.Close())
	}()

	var out []*table.Table
	for {
		tbl, err := reader.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return out, nil
		} else if err != nil {
			return nil, err
		}
		out = append(out, tbl)
	}
}

func rows(t *testing.T, parts []*table.Table) [][]string {
	require.NotEmpty(t, parts)
	tbl, err := parts[0].VStack(parts[1:]...)
	require.NoError(t, err)
	out := [][]string{}
	for _, row := range tbl.Rows() {
		values := make([]string, len(row))
		for i := range row {
			values[i] = row[i].String()
		}
		out = append(out, values)
	}
	return out
}

func TestSchemaInference(t *testing.T) {
	source, err := New("data", writeFile(t, fixture))
	require.NoError(t, err)

	schema, err := source.Schema()
	require.NoError(t, err)
	assert.Equal(t, octoframe.NewSchema(
		octoframe.SchemaField{Name: "id", Type: octoframe.Int64},
		octoframe.SchemaField{Name: "name", Type: octoframe.String},
		octoframe.SchemaField{Name: "score", Type: octoframe.Float64},
		octoframe.SchemaField{Name: "active", Type: octoframe.Boolean},
		octoframe.SchemaField{Name: "at", Type: octoframe.Datetime},
	).String(), schema.String())

	headless, err := New("data", writeFile(t, "1;x\n2;3\n"), WithoutHeader(), WithSeparator(';'))
	require.NoError(t, err)
	schema, err = headless.Schema()
	require.NoError(t, err)
	assert.Equal(t, octoframe.NewSchema(
		octoframe.SchemaField{Name: "column_1", Type: octoframe.Int64},
		octoframe.SchemaField{Name: "column_2", Type: octoframe.String},
	).String(), schema.String())
}

func TestScan(t *testing.T) {
	source, err := New("data", writeFile(t, fixture), WithBatchSize(3))
	require.NoError(t, err)

	parts, err := readAll(t, source, logical.ScanRequest{Limit: -1})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, [][]string{
		{"1", `"ann"`, "1.5", "true", "2024-01-02T03:04:05Z"},
		{"2", `"b,ob"`, "2", "false", "null"},
		{"3", "null", "null", "true", "2024-01-03T00:00:00Z"},
		{"4", `"dan"`, "7.25", "null", "null"},
	}, rows(t, parts))

	parts, err = readAll(t, source, logical.ScanRequest{Columns: []string{"score", "id"}, Limit: 3})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, [][]string{
		{"1.5", "1"},
		{"2", "2"},
		{"null", "3"},
	}, rows(t, parts))

	_, err = source.Scan(context.Background(), logical.ScanRequest{Columns: []string{"missing"}, Limit: -1})
	assert.True(t, octoframe.IsSchemaError(err))
}

func TestScanErrors(t *testing.T) {
	content := "n\n1\n2\nthree\n"
	source, err := New("data", writeFile(t, content), WithInferenceLines(2))
	require.NoError(t, err)
	_, err = readAll(t, source, logical.ScanRequest{Limit: -1})
	require.Error(t, err)
	assert.True(t, octoframe.IsExecutionError(err))
	assert.Contains(t, err.Error(), "line 4")

	_, err = New("data", writeFile(t, ""))
	assert.Error(t, err)

	_, err = New("data", writeFile(t, content), WithSchema(octoframe.NewSchema(
		octoframe.SchemaField{Name: "a", Type: octoframe.String},
		octoframe.SchemaField{Name: "b", Type: octoframe.String},
	)))
	assert.True(t, octoframe.IsSchemaError(err))

	_, err = New("data", writeFile(t, content), WithSchema(octoframe.NewSchema(
		octoframe.SchemaField{Name: "n", Type: octoframe.Int8},
	)))
	assert.True(t, octoframe.IsTypeError(err))

	explicit, err := New("data", writeFile(t, content), WithSchema(octoframe.NewSchema(
		octoframe.SchemaField{Name: "n", Type: octoframe.String},
	)))
	require.NoError(t, err)
	parts, err := readAll(t, explicit, logical.ScanRequest{Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{`"1"`}, {`"2"`}, {`"three"`}}, rows(t, parts))
}
