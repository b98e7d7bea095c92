package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/octoframe"
)

const orders = `{"id": 1, "customer": "ann", "amount": 10}
{"id": 2, "customer": "bob", "amount": 5}
{"id": 3, "customer": "ann", "amount": 7}
{"id": 4, "customer": "cid", "amount": null}
{"id": 5, "customer": "bob", "amount": 1}
`

const customers = `{"name": "ann", "city": "Warsaw"}
{"name": "bob", "city": "Berlin"}
`

func writeQuery(t *testing.T, query string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.json"), []byte(orders), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers.json"), []byte(customers), 0o644))

	content := strings.ReplaceAll(query, "$DIR", dir)
	path := filepath.Join(dir, "query.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

const sources = `
sources:
  - name: orders
    path: $DIR/orders.json
    format: json
    options:
      batch_size: 2
      workers: 2
  - name: customers
    path: $DIR/customers.json
    format: json
`

func TestQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{
			name: "group by",
			query: `
query:
  from: orders
  steps:
    - filter: {is_not_null: amount}
    - group_by:
        keys: [customer]
        agg:
          - alias: [{sum: amount}, total]
          - alias: [count_rows, orders]
    - sort: {by: [customer]}
`,
			expected: "customer,total,orders\n" +
				"ann,17,2\n" +
				"bob,6,2\n",
		},
		{
			name: "join",
			query: `
query:
  from: orders
  steps:
    - join:
        with: {from: customers}
        left_on: [customer]
        right_on: [name]
        how: left
    - select: [id, city]
    - sort: {by: [id]}
    - limit: 4
`,
			expected: "id,city\n" +
				"1,Warsaw\n" +
				"2,Berlin\n" +
				"3,Warsaw\n" +
				"4,\n",
		},
		{
			name: "expressions",
			query: `
query:
  from: orders
  steps:
    - with_columns:
        - alias: [{mul: [amount, {lit: 2}]}, doubled]
        - alias: [{when: [{gt: [amount, {lit: 6}]}, {lit: big}, {lit: small}]}, size]
    - select: [id, doubled, size]
    - slice: {offset: 1, length: 3}
`,
			expected: "id,doubled,size\n" +
				"2,10,small\n" +
				"3,14,big\n" +
				"4,,small\n",
		},
		{
			name: "window",
			query: `
query:
  from: orders
  steps:
    - filter: {is_not_null: amount}
    - with_columns:
        - alias: [{over: {expr: {cum_sum: amount}, partition_by: [customer], order_by: [id]}}, running]
    - select: [id, running]
    - sort: {by: [id], descending: [false]}
`,
			expected: "id,running\n" +
				"1,10\n" +
				"2,5\n" +
				"3,17\n" +
				"5,6\n",
		},
		{
			name: "explode",
			query: `
query:
  from: orders
  steps:
    - group_by:
        keys: [customer]
        agg:
          - alias: [{list: id}, ids]
    - explode: ids
    - sort: {by: [ids]}
`,
			expected: "customer,ids\n" +
				"ann,1\n" +
				"bob,2\n" +
				"ann,3\n" +
				"cid,4\n" +
				"bob,5\n",
		},
		{
			name: "fill null and melt",
			query: `
query:
  from: orders
  steps:
    - fill_null: {value: {lit: 0}, subset: [amount]}
    - select: [id, amount]
    - slice: {offset: 2, length: 2}
    - melt: {id_columns: [id], value_name: amt}
`,
			expected: "id,variable,amt\n" +
				"3,amount,7\n" +
				"4,amount,0\n",
		},
		{
			name: "drop nulls",
			query: `
query:
  from: orders
  steps:
    - drop_nulls: {subset: [amount]}
    - select: [id]
`,
			expected: "id\n" +
				"1\n" +
				"2\n" +
				"3\n" +
				"5\n",
		},
		{
			name: "distinct and union",
			query: `
query:
  from: customers
  steps:
    - select: [{alias: [name, customer]}]
    - union:
        - from: orders
          steps:
            - select: [customer]
    - distinct: {maintain_order: true}
`,
			expected: "customer\n" +
				"ann\n" +
				"bob\n" +
				"cid\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, "query", "--output", "csv", writeQuery(t, sources+tt.query))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{
			name:  "unknown source",
			query: "query: {from: missing}",
		},
		{
			name:  "unknown step",
			query: "query: {from: orders, steps: [{pivot: amount}]}",
		},
		{
			name:  "unknown column",
			query: "query: {from: orders, steps: [{select: [price]}]}",
		},
		{
			name:  "explode non-list",
			query: "query: {from: orders, steps: [{explode: amount}]}",
		},
		{
			name:  "fill null without value",
			query: "query: {from: orders, steps: [{fill_null: {subset: [amount]}}]}",
		},
		{
			name:  "misused window",
			query: "query: {from: orders, steps: [{select: [{over: {expr: amount, partition_by: [customer]}}]}]}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "query", writeQuery(t, sources+tt.query))
			assert.Error(t, err)
		})
	}

	_, err := run(t, "query", "--output", "xml", writeQuery(t, sources+"query: {from: orders}"))
	assert.ErrorContains(t, err, "unknown output format")
}

func TestExplain(t *testing.T) {
	path := writeQuery(t, sources+`
query:
  from: orders
  steps:
    - filter: {gt: [amount, {lit: 5}]}
    - select: [id]
`)

	out, err := run(t, "explain", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "PROJECT"), out)
	assert.Contains(t, out, "SCAN source=orders")
	assert.Contains(t, out, "predicate=(col(amount) > lit(5))")

	out, err = run(t, "explain", "--optimize=false", path)
	require.NoError(t, err)
	assert.Contains(t, out, "FILTER")

	out, err = run(t, "explain", "--dot", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "digraph"), out)
}

func TestParseExpression(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "amount", expected: "col(amount)"},
		{input: "{col: amount}", expected: "col(amount)"},
		{input: "{lit: 3}", expected: "lit(3)"},
		{input: "{add: [a, {lit: 1.5}]}", expected: "(col(a) + lit(1.5))"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var node yaml.Node
			require.NoError(t, yaml.Unmarshal([]byte(tt.input), &node))
			expr, err := parseExpression(node.Content[0])
			require.NoError(t, err)
			assert.Equal(t, tt.expected, expr.String())
		})
	}

	for _, input := range []string{
		"{frobnicate: a}",
		"{add: [a]}",
		"{cast: [a, Int128]}",
		"{a: 1, b: 2}",
	} {
		var node yaml.Node
		require.NoError(t, yaml.Unmarshal([]byte(input), &node))
		_, err := parseExpression(node.Content[0])
		assert.Error(t, err, input)
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range []octoframe.Type{
		octoframe.Int64,
		octoframe.Datetime,
		octoframe.ListOf(octoframe.String),
		octoframe.ListOf(octoframe.ListOf(octoframe.Float32)),
	} {
		parsed, err := parseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ.String(), parsed.String())
	}
	_, err := parseType("List[Int128]")
	assert.True(t, octoframe.IsTypeError(err))
}

func TestSourceOptions(t *testing.T) {
	path := writeQuery(t, `
sources:
  - name: orders
    path: $DIR/orders.json
    format: json
    options:
      batch_size: two
query: {from: orders}
`)
	queryFile, err := ReadQueryFile(path)
	require.NoError(t, err)
	_, err = queryFile.OpenSources(context.Background(), nil)
	assert.Error(t, err)

	queryFile.Sources[0].Options = config.Options{"inference_lines": 1}
	opened, err := queryFile.OpenSources(context.Background(), nil)
	require.NoError(t, err)
	lf, err := queryFile.Query.Frame(opened)
	require.NoError(t, err)
	schema, err := lf.Schema()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "customer", "amount"}, schema.Names())

	queryFile.Sources = append(queryFile.Sources, queryFile.Sources[0])
	_, err = queryFile.OpenSources(context.Background(), nil)
	assert.ErrorContains(t, err, "more than once")

}

func TestCSVSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prices.csv"), []byte("item;price\napple;1.5\npear;\nplum;0.75\n"), 0o644))
	path := filepath.Join(dir, "query.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - name: prices
    path: `+filepath.Join(dir, "prices.csv")+`
    format: csv
    options:
      separator: ";"
query:
  from: prices
  steps:
    - filter: {is_not_null: price}
    - sort: {by: [price], descending: [true]}
`), 0o644))

	out, err := run(t, "query", "-o", "json", path)
	require.NoError(t, err)
	assert.Equal(t, `{"item":"apple","price":1.5}`+"\n"+`{"item":"plum","price":0.75}`+"\n", out)

	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - name: prices
    path: `+filepath.Join(dir, "prices.csv")+`
    format: csv
    options:
      separator: ";;"
query: {from: prices}
`), 0o644))
	_, err = run(t, "query", path)
	assert.ErrorContains(t, err, "separator")
}

func TestHomeRelativePaths(t *testing.T) {
	homedir.DisableCache = true
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "orders.json"), []byte(orders), 0o644))

	queryFile := &QueryFile{
		Sources: []SourceSpec{{Name: "orders", Path: "~/orders.json", Format: "json"}},
		Query:   QuerySpec{From: "orders"},
	}
	sources, err := queryFile.OpenSources(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, -1, sources["orders"].Capabilities().EstimatedRows)
}
