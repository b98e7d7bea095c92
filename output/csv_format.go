package output

import (
	"encoding/csv"
	"io"

	"github.com/cube2222/octoframe/octoframe"
)

type CSVFormatter struct {
	writer *csv.Writer
}

func NewCSVFormatter(w io.Writer) *CSVFormatter {
	return &CSVFormatter{
		writer: csv.NewWriter(w),
	}
}

func (t *CSVFormatter) SetSchema(schema octoframe.Schema) {
	t.writer.Write(schema.Names())
}

// Write leaves nulls empty and strings unquoted, the csv writer quotes them when needed.
func (t *CSVFormatter) Write(values []octoframe.Value) error {
	row := make([]string, len(values))
	for i := range values {
		switch {
		case values[i].IsNull():
		case values[i].Type.TypeID == octoframe.TypeIDString:
			row[i] = values[i].Str
		default:
			row[i] = values[i].String()
		}
	}
	return t.writer.Write(row)
}

func (t *CSVFormatter) Close() error {
	t.writer.Flush()
	return t.writer.Error()
}
