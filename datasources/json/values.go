package json

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/valyala/fastjson"

	"github.com/cube2222/octoframe/octoframe"
)

type ValueReaderFunc func(value *fastjson.Value) error

// recordReader returns a function appending the fields of a JSON object to the builder's columns.
func recordReader(schema octoframe.Schema, recordBuilder *array.RecordBuilder) (ValueReaderFunc, error) {
	fields := schema.Fields
	readers := make([]ValueReaderFunc, len(fields))
	for i, field := range fields {
		var err error
		readers[i], err = valueReader(field.Type, recordBuilder.Field(i))
		if err != nil {
			return nil, fmt.Errorf("couldn't create value reader for field %v: %w", field.Name, err)
		}
	}

	return func(value *fastjson.Value) error {
		obj, err := value.Object()
		if err != nil {
			return fmt.Errorf("expected JSON object, got %s", value.Type())
		}
		for i, field := range fields {
			if err := readers[i](obj.Get(field.Name)); err != nil {
				return fmt.Errorf("couldn't read field %v: %w", field.Name, err)
			}
		}
		return nil
	}, nil
}

func valueReader(t octoframe.Type, builder array.Builder) (ValueReaderFunc, error) {
	switch t.TypeID {
	case octoframe.TypeIDNull:
		return func(value *fastjson.Value) error {
			if value != nil && value.Type() != fastjson.TypeNull {
				return fmt.Errorf("expected null, got %s", value.Type())
			}
			builder.AppendNull()
			return nil
		}, nil
	case octoframe.TypeIDBoolean:
		return nullableReader(boolReader(builder.(*array.BooleanBuilder)), builder), nil
	case octoframe.TypeIDInt64:
		return nullableReader(intReader(builder.(*array.Int64Builder)), builder), nil
	case octoframe.TypeIDFloat64:
		return nullableReader(floatReader(builder.(*array.Float64Builder)), builder), nil
	case octoframe.TypeIDString:
		return nullableReader(stringReader(builder.(*array.StringBuilder)), builder), nil
	case octoframe.TypeIDDatetime:
		return nullableReader(datetimeReader(builder.(*array.TimestampBuilder)), builder), nil
	case octoframe.TypeIDList:
		listBuilder := builder.(*array.ListBuilder)
		elementReader, err := valueReader(*t.List.Element, listBuilder.ValueBuilder())
		if err != nil {
			return nil, fmt.Errorf("couldn't create list element reader: %w", err)
		}
		return nullableReader(listReader(listBuilder, elementReader), builder), nil
	default:
		return nil, fmt.Errorf("unsupported type: %v", t)
	}
}

func readable(t octoframe.Type) bool {
	switch t.TypeID {
	case octoframe.TypeIDNull, octoframe.TypeIDBoolean, octoframe.TypeIDInt64, octoframe.TypeIDFloat64,
		octoframe.TypeIDString, octoframe.TypeIDDatetime:
		return true
	case octoframe.TypeIDList:
		return readable(*t.List.Element)
	}
	return false
}

func boolReader(builder *array.BooleanBuilder) ValueReaderFunc {
	return func(value *fastjson.Value) error {
		v, err := value.Bool()
		if err != nil {
			return fmt.Errorf("couldn't read bool: %w", err)
		}
		builder.Append(v)
		return nil
	}
}

func intReader(builder *array.Int64Builder) ValueReaderFunc {
	return func(value *fastjson.Value) error {
		v, err := value.Int64()
		if err != nil {
			return fmt.Errorf("couldn't read int: %w", err)
		}
		builder.Append(v)
		return nil
	}
}

func floatReader(builder *array.Float64Builder) ValueReaderFunc {
	return func(value *fastjson.Value) error {
		v, err := value.Float64()
		if err != nil {
			return fmt.Errorf("couldn't read float: %w", err)
		}
		builder.Append(v)
		return nil
	}
}

// stringReader reads strings as they are, and any other value as its JSON text.
func stringReader(builder *array.StringBuilder) ValueReaderFunc {
	var buf []byte
	return func(value *fastjson.Value) error {
		if value.Type() == fastjson.TypeString {
			v, _ := value.StringBytes()
			builder.BinaryBuilder.Append(v)
			return nil
		}
		buf = value.MarshalTo(buf[:0])
		builder.BinaryBuilder.Append(buf)
		return nil
	}
}

func datetimeReader(builder *array.TimestampBuilder) ValueReaderFunc {
	return func(value *fastjson.Value) error {
		v, err := value.StringBytes()
		if err != nil {
			return fmt.Errorf("couldn't read datetime: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return fmt.Errorf("couldn't parse datetime: %w", err)
		}
		builder.Append(arrow.Timestamp(parsed.UnixMicro()))
		return nil
	}
}

func listReader(builder *array.ListBuilder, elementReader ValueReaderFunc) ValueReaderFunc {
	return func(value *fastjson.Value) error {
		arr, err := value.Array()
		if err != nil {
			return fmt.Errorf("couldn't read list: %w", err)
		}
		builder.Append(true)
		for i := range arr {
			if err := elementReader(arr[i]); err != nil {
				return fmt.Errorf("couldn't read list element %d: %w", i, err)
			}
		}
		return nil
	}
}

func nullableReader(reader ValueReaderFunc, builder array.Builder) ValueReaderFunc {
	return func(value *fastjson.Value) error {
		if value == nil || value.Type() == fastjson.TypeNull {
			builder.AppendNull()
			return nil
		}
		return reader(value)
	}
}

// inferType returns the narrowest type able to hold the value.
// Objects have no counterpart in the type system, so they're kept as JSON text.
func inferType(value *fastjson.Value) octoframe.Type {
	switch value.Type() {
	case fastjson.TypeNull:
		return octoframe.Null
	case fastjson.TypeString:
		v, _ := value.StringBytes()
		if _, err := time.Parse(time.RFC3339Nano, string(v)); err == nil {
			return octoframe.Datetime
		}
		return octoframe.String
	case fastjson.TypeNumber:
		if _, err := value.Int64(); err == nil {
			return octoframe.Int64
		}
		return octoframe.Float64
	case fastjson.TypeTrue, fastjson.TypeFalse:
		return octoframe.Boolean
	case fastjson.TypeArray:
		arr, _ := value.Array()
		element := octoframe.Null
		for i := range arr {
			element = unify(element, inferType(arr[i]))
		}
		return octoframe.ListOf(element)
	case fastjson.TypeObject:
		return octoframe.String
	}

	panic(fmt.Sprintf("unexhaustive json input value match: %s", value.Type()))
}

// unify merges the types seen for one field. Incompatible types fall back to JSON text.
func unify(a, b octoframe.Type) octoframe.Type {
	if t, ok := octoframe.Supertype(a, b); ok {
		return t
	}
	return octoframe.String
}
