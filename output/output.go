package output

import (
	"io"

	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

type Format interface {
	SetSchema(octoframe.Schema)
	Write([]octoframe.Value) error
	Close() error
}

// Formats maps format names accepted on the command line to their constructors.
var Formats = map[string]func(io.Writer) Format{
	"table": func(w io.Writer) Format { return NewTableFormatter(w) },
	"csv":   func(w io.Writer) Format { return NewCSVFormatter(w) },
	"json":  func(w io.Writer) Format { return NewJSONFormatter(w) },
}

// Print writes the whole table, row by row.
func Print(format Format, tbl *table.Table) error {
	format.SetSchema(tbl.Schema())
	for i, row := range tbl.Rows() {
		if err := format.Write(row); err != nil {
			return errors.Wrapf(err, "couldn't write row %d", i)
		}
	}
	return format.Close()
}
