package memory

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func readAll(t *testing.T, reader logical.TableReader) []*table.Table {
	var out []*table.Table
	for {
		tbl, err := reader.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out = append(out, tbl)
	}
	require.NoError(t, reader.Close())
	return out
}

func TestDatasourceScan(t *testing.T) {
	first, err := table.NewTable(
		table.MustColumn("a", octoframe.Int64, 1, 2, 3),
		table.MustColumn("b", octoframe.String, "x", "y", "z"),
	)
	require.NoError(t, err)
	second, err := table.NewTable(
		table.MustColumn("a", octoframe.Int64, 4, 5),
		table.MustColumn("b", octoframe.String, "v", "w"),
	)
	require.NoError(t, err)
	ds, err := New("numbers", first.Schema(), []*table.Table{first, second})
	require.NoError(t, err)
	assert.Equal(t, 5, ds.Capabilities().EstimatedRows)
	assert.True(t, ds.Capabilities().Rescannable)

	reader, err := ds.Scan(context.Background(), logical.ScanRequest{Columns: []string{"b"}, Limit: 4})
	require.NoError(t, err)
	parts := readAll(t, reader)
	require.Len(t, parts, 2)
	assert.Equal(t, []string{"b"}, parts[0].Schema().Names())
	assert.Equal(t, 3, parts[0].NumRows())
	assert.Equal(t, 1, parts[1].NumRows())

	reader, err = ds.Scan(context.Background(), logical.ScanRequest{Limit: -1})
	require.NoError(t, err)
	assert.Len(t, readAll(t, reader), 2)
}

func TestDatasourceNonRescannable(t *testing.T) {
	tbl, err := table.NewTable(table.MustColumn("a", octoframe.Int64, 1))
	require.NoError(t, err)
	ds := FromTable("stream", tbl, NonRescannable())
	assert.False(t, ds.Capabilities().Rescannable)

	_, err = ds.Scan(context.Background(), logical.ScanRequest{Limit: -1})
	require.NoError(t, err)
	_, err = ds.Scan(context.Background(), logical.ScanRequest{Limit: -1})
	assert.True(t, octoframe.IsExecutionError(err))
}

func TestDatasourceSchemaMismatch(t *testing.T) {
	tbl, err := table.NewTable(table.MustColumn("a", octoframe.Int64, 1))
	require.NoError(t, err)
	_, err = New("bad", octoframe.NewSchema(octoframe.SchemaField{Name: "a", Type: octoframe.String}), []*table.Table{tbl})
	assert.True(t, octoframe.IsSchemaError(err))
}
