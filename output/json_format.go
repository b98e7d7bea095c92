package output

import (
	"io"

	"github.com/valyala/fastjson"

	"github.com/cube2222/octoframe/octoframe"
)

// JSONFormatter writes one JSON object per row.
type JSONFormatter struct {
	buf    []byte
	arena  *fastjson.Arena
	w      io.Writer
	fields []octoframe.SchemaField
}

func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{
		buf:   make([]byte, 0, 1024),
		arena: new(fastjson.Arena),
		w:     w,
	}
}

func (t *JSONFormatter) SetSchema(schema octoframe.Schema) {
	t.fields = schema.Fields
}

func (t *JSONFormatter) Write(values []octoframe.Value) error {
	obj := t.arena.NewObject()
	for i := range t.fields {
		obj.Set(t.fields[i].Name, ValueToJson(t.arena, values[i]))
	}

	t.buf = obj.MarshalTo(t.buf)
	t.buf = append(t.buf, '\n')
	_, err := t.w.Write(t.buf)
	t.buf = t.buf[:0]
	t.arena.Reset()
	return err
}

// ValueToJson maps numbers and booleans to their JSON counterparts and temporal values to strings.
func ValueToJson(arena *fastjson.Arena, value octoframe.Value) *fastjson.Value {
	if value.IsNull() {
		return arena.NewNull()
	}
	switch {
	case value.Type.TypeID == octoframe.TypeIDBoolean:
		if value.Boolean {
			return arena.NewTrue()
		} else {
			return arena.NewFalse()
		}
	case value.Type.IsSignedInteger():
		return arena.NewNumberInt(int(value.Int))
	case value.Type.IsUnsignedInteger():
		return arena.NewNumberString(value.String())
	case value.Type.IsFloat():
		return arena.NewNumberFloat64(value.Float)
	case value.Type.TypeID == octoframe.TypeIDString:
		return arena.NewString(value.Str)
	case value.Type.TypeID == octoframe.TypeIDList:
		arr := arena.NewArray()
		for i := range value.List {
			arr.SetArrayItem(i, ValueToJson(arena, value.List[i]))
		}
		return arr
	default:
		return arena.NewString(value.String())
	}
}

func (t *JSONFormatter) Close() error {
	return nil
}
