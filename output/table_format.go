package output

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/cube2222/octoframe/octoframe"
)

// TableFormatter renders an ASCII table. The header shows each column's type below its name,
// and the footer shows the row count.
type TableFormatter struct {
	w      io.Writer
	schema octoframe.Schema
	rows   [][]string
}

func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{w: w}
}

func (t *TableFormatter) SetSchema(schema octoframe.Schema) {
	t.schema = schema
}

func (t *TableFormatter) Write(values []octoframe.Value) error {
	if len(values) != len(t.schema.Fields) {
		return fmt.Errorf("got %d values for %d columns", len(values), len(t.schema.Fields))
	}
	row := make([]string, len(values))
	for i := range values {
		row[i] = values[i].String()
	}
	t.rows = append(t.rows, row)
	return nil
}

func (t *TableFormatter) Close() error {
	if len(t.schema.Fields) == 0 {
		_, err := fmt.Fprintf(t.w, "(no columns, %s rows)\n", humanize.Comma(int64(len(t.rows))))
		return err
	}

	table := tablewriter.NewWriter(t.w)
	table.SetColWidth(24)
	table.SetAutoFormatHeaders(false)

	header := make([]string, len(t.schema.Fields))
	alignment := make([]int, len(t.schema.Fields))
	for i, field := range t.schema.Fields {
		header[i] = field.Name + "\n" + field.Type.String()
		alignment[i] = tablewriter.ALIGN_LEFT
		if field.Type.IsNumeric() {
			alignment[i] = tablewriter.ALIGN_RIGHT
		}
	}
	table.SetHeader(header)
	table.SetColumnAlignment(alignment)

	footer := make([]string, len(t.schema.Fields))
	footer[0] = humanize.Comma(int64(len(t.rows))) + " rows"
	table.SetFooter(footer)

	table.AppendBulk(t.rows)
	table.Render()
	return nil
}
