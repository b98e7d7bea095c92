package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func fixture(t *testing.T) *table.Table {
	tbl, err := table.NewTable(
		table.MustColumn("name", octoframe.String, "ann", "b,ob", nil),
		table.MustColumn("age", octoframe.Int64, 30, nil, 41),
		table.MustColumn("active", octoframe.Boolean, true, false, nil),
		table.MustColumn("score", octoframe.Float64, 1.5, 2, nil),
	)
	require.NoError(t, err)
	return tbl
}

func TestFormats(t *testing.T) {
	tests := []struct {
		format   string
		expected string
	}{
		{
			format: "csv",
			expected: "name,age,active,score\n" +
				"ann,30,true,1.5\n" +
				"\"b,ob\",,false,2\n" +
				",41,,\n",
		},
		{
			format: "json",
			expected: `{"name":"ann","age":30,"active":true,"score":1.5}` + "\n" +
				`{"name":"b,ob","age":null,"active":false,"score":2}` + "\n" +
				`{"name":null,"age":41,"active":null,"score":null}` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Print(Formats[tt.format](&buf), fixture(t)))
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestTableFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(NewTableFormatter(&buf), fixture(t)))
	out := buf.String()
	for _, expected := range []string{"name", "Int64", `"b,ob"`, "null", "41", "1.5", "3 rows"} {
		assert.Contains(t, out, expected)
	}

	buf.Reset()
	require.NoError(t, Print(NewTableFormatter(&buf), table.NewEmptyTable(2)))
	assert.Equal(t, "(no columns, 2 rows)\n", buf.String())
}
