package arrowipc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func fixture(t *testing.T) *table.Table {
	first, err := table.NewTable(
		table.MustColumn("id", octoframe.Int64, 1, 2, 3),
		table.MustColumn("name", octoframe.String, "a", nil, "c"),
		table.MustColumn("score", octoframe.Float64, 0.5, 1.5, nil),
	)
	require.NoError(t, err)
	second, err := table.NewTable(
		table.MustColumn("id", octoframe.Int64, 4, 5),
		table.MustColumn("name", octoframe.String, "d", "e"),
		table.MustColumn("score", octoframe.Float64, 2.5, 3.5),
	)
	require.NoError(t, err)
	tbl, err := first.VStack(second)
	require.NoError(t, err)
	return tbl
}

func writeFile(t *testing.T, tbl *table.Table, stream bool) string {
	path := filepath.Join(t.TempDir(), "data.arrow")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	type writer interface {
		Write(record arrow.Record) error
		Close() error
	}
	var w writer
	if stream {
		w = ipc.NewWriter(f, ipc.WithSchema(tbl.Schema().ArrowSchema()))
	} else {
		w, err = ipc.NewFileWriter(f, ipc.WithSchema(tbl.Schema().ArrowSchema()))
		require.NoError(t, err)
	}
	for _, record := range tbl.Records() {
		require.NoError(t, w.Write(record))
	}
	require.NoError(t, w.Close())
	return path
}

func readAll(t *testing.T, source logical.Source, req logical.ScanRequest) []*table.Table {
	reader, err := source.Scan(context.Background(), req)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, reader.Close())
	}()

	var out []*table.Table
	for {
		tbl, err := reader.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, tbl)
	}
}

func TestDatasource(t *testing.T) {
	tbl := fixture(t)
	for _, stream := range []bool{false, true} {
		name := "file"
		if stream {
			name = "stream"
		}
		t.Run(name, func(t *testing.T) {
			source, err := New("data", writeFile(t, tbl, stream))
			require.NoError(t, err)

			schema, err := source.Schema()
			require.NoError(t, err)
			assert.True(t, tbl.Schema().Equal(schema))
			if stream {
				assert.Equal(t, -1, source.Capabilities().EstimatedRows)
			} else {
				assert.Equal(t, 5, source.Capabilities().EstimatedRows)
			}

			parts := readAll(t, source, logical.ScanRequest{Limit: -1})
			require.Len(t, parts, 2)
			read, err := parts[0].VStack(parts[1:]...)
			require.NoError(t, err)
			assert.True(t, tbl.Equal(read, true))

			// Scanning again reads the file from the start.
			parts = readAll(t, source, logical.ScanRequest{Columns: []string{"id", "score"}, Limit: 4})
			require.Len(t, parts, 2)
			assert.Equal(t, []string{"id", "score"}, parts[0].Schema().Names())
			assert.Equal(t, 3, parts[0].NumRows())
			assert.Equal(t, 1, parts[1].NumRows())
			assert.Equal(t, "4", parts[1].Rows()[0][0].String())

			_, err = source.Scan(context.Background(), logical.ScanRequest{Columns: []string{"missing"}, Limit: -1})
			assert.True(t, octoframe.IsSchemaError(err))
		})
	}
}

func TestNotArrow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.arrow")
	require.NoError(t, os.WriteFile(path, []byte("not arrow"), 0o644))
	_, err := New("data", path)
	assert.Error(t, err)

	_, err = New("data", filepath.Join(t.TempDir(), "missing.arrow"))
	assert.Error(t, err)
}
