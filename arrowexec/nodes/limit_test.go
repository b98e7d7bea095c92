package nodes

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func TestLimit(t *testing.T) {
	input := mustTable(t, table.MustColumn("a", octoframe.Int64, 0, 1, 2, 3, 4))
	tests := []struct {
		n, offset int
		expected  [][]interface{}
	}{
		{n: 2, offset: 1, expected: [][]interface{}{{int64(1)}, {int64(2)}}},
		{n: 10, offset: 3, expected: [][]interface{}{{int64(3)}, {int64(4)}}},
		{n: 2, offset: 10, expected: [][]interface{}{}},
		{n: 0, offset: 0, expected: [][]interface{}{}},
	}
	for _, tt := range tests {
		out, err := (&Limit{Source: source(input), N: tt.n, Offset: tt.offset}).Run(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, tt.expected, goRows(out))
	}
}

func TestUnion(t *testing.T) {
	first := mustTable(t, table.MustColumn("a", octoframe.Int64, 1, 2, 3))
	second := mustTable(t, table.MustColumn("a", octoframe.Int64, 4))
	union := &Union{Sources: []execution.NodeWithMeta{source(first), source(second), source(first)}}

	out, err := union.Run(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(1)}, {int64(2)}, {int64(3)}, {int64(4)}, {int64(1)}, {int64(2)}, {int64(3)}}, goRows(out))
}

func TestCacheRunsInputOnce(t *testing.T) {
	input := &TestNode{Table: mustTable(t, table.MustColumn("a", octoframe.Int64, 1, 2))}
	registry := NewCacheRegistry()
	cached := execution.NodeWithMeta{
		Node:   &Cache{ID: 7, Source: execution.NodeWithMeta{Node: input, Schema: input.Table.Schema()}, Registry: registry},
		Schema: input.Table.Schema(),
	}
	union := &Union{Sources: []execution.NodeWithMeta{cached, cached, cached}}

	out, err := union.Run(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 6, out.NumRows())
	assert.EqualValues(t, 1, input.runs.Load())
}

// onceSource can only be scanned a single time.
type onceSource struct {
	table *table.Table
	scans atomic.Int32
}

func (s *onceSource) Name() string                      { return "once" }
func (s *onceSource) Schema() (octoframe.Schema, error) { return s.table.Schema(), nil }
func (s *onceSource) Capabilities() logical.Capabilities {
	return logical.Capabilities{EstimatedRows: s.table.NumRows()}
}

func (s *onceSource) Scan(ctx context.Context, req logical.ScanRequest) (logical.TableReader, error) {
	if s.scans.Add(1) > 1 {
		return nil, errors.New("source already consumed")
	}
	tbl := s.table
	if len(req.Columns) > 0 {
		var err error
		if tbl, err = tbl.Select(req.Columns...); err != nil {
			return nil, err
		}
	}
	return &onceReader{table: tbl}, nil
}

type onceReader struct {
	table *table.Table
}

func (r *onceReader) Read(ctx context.Context) (*table.Table, error) {
	if r.table == nil {
		return nil, io.EOF
	}
	out := r.table
	r.table = nil
	return out, nil
}

func (r *onceReader) Close() error {
	return nil
}

func TestScan(t *testing.T) {
	src := &onceSource{table: mustTable(t,
		table.MustColumn("a", octoframe.Int64, 1, 2, 3, 4),
		table.MustColumn("b", octoframe.String, "w", "x", "y", "z"),
	)}
	predicate := logical.Col("a").Gt(logical.Lit(1))
	scan := &Scan{Source: src, Projection: []string{"b"}, Predicate: &predicate, Limit: 2}

	out, err := scan.Run(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, out.Schema().Names())
	assert.Equal(t, [][]interface{}{{"x"}, {"y"}}, goRows(out))
}

func TestScanSharesNonRescannableSource(t *testing.T) {
	src := &onceSource{table: mustTable(t,
		table.MustColumn("a", octoframe.Int64, 1, 2, 3),
		table.MustColumn("b", octoframe.String, "x", "y", "z"),
	)}
	registry := NewScanRegistry()
	predicate := logical.Col("a").Eq(logical.Lit(2))
	first := &Scan{Source: src, Projection: []string{"a"}, Limit: -1, Registry: registry}
	second := &Scan{Source: src, Projection: []string{"b"}, Predicate: &predicate, Limit: -1, Registry: registry}
	registry.Register(src)
	registry.Register(src)

	ctx := testContext(t)
	firstOut, err := first.Run(ctx)
	require.NoError(t, err)
	secondOut, err := second.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, [][]interface{}{{int64(1)}, {int64(2)}, {int64(3)}}, goRows(firstOut))
	assert.Equal(t, [][]interface{}{{"y"}}, goRows(secondOut))
	assert.EqualValues(t, 1, src.scans.Load())
}
