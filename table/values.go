package table

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/octoframe"
)

// ValueAt reads a single slot of an Arrow array as a Value.
func ValueAt(arr arrow.Array, typ octoframe.Type, i int) octoframe.Value {
	if arr.IsNull(i) {
		return octoframe.NewTypedNull(typ)
	}
	switch typ.TypeID {
	case octoframe.TypeIDNull:
		return octoframe.NewNull()
	case octoframe.TypeIDBoolean:
		return octoframe.NewBoolean(arr.(*array.Boolean).Value(i))
	case octoframe.TypeIDInt8:
		return octoframe.NewIntOfType(typ, int64(arr.(*array.Int8).Value(i)))
	case octoframe.TypeIDInt16:
		return octoframe.NewIntOfType(typ, int64(arr.(*array.Int16).Value(i)))
	case octoframe.TypeIDInt32:
		return octoframe.NewIntOfType(typ, int64(arr.(*array.Int32).Value(i)))
	case octoframe.TypeIDInt64:
		return octoframe.NewIntOfType(typ, arr.(*array.Int64).Value(i))
	case octoframe.TypeIDUInt8:
		return octoframe.NewUIntOfType(typ, uint64(arr.(*array.Uint8).Value(i)))
	case octoframe.TypeIDUInt16:
		return octoframe.NewUIntOfType(typ, uint64(arr.(*array.Uint16).Value(i)))
	case octoframe.TypeIDUInt32:
		return octoframe.NewUIntOfType(typ, uint64(arr.(*array.Uint32).Value(i)))
	case octoframe.TypeIDUInt64:
		return octoframe.NewUIntOfType(typ, arr.(*array.Uint64).Value(i))
	case octoframe.TypeIDFloat32:
		return octoframe.NewFloat32(arr.(*array.Float32).Value(i))
	case octoframe.TypeIDFloat64:
		return octoframe.NewFloat(arr.(*array.Float64).Value(i))
	case octoframe.TypeIDString:
		return octoframe.NewString(arr.(*array.String).Value(i))
	case octoframe.TypeIDDate:
		return octoframe.NewIntOfType(typ, int64(arr.(*array.Date32).Value(i)))
	case octoframe.TypeIDDatetime:
		return octoframe.NewIntOfType(typ, int64(arr.(*array.Timestamp).Value(i)))
	case octoframe.TypeIDDuration:
		return octoframe.NewIntOfType(typ, int64(arr.(*array.Duration).Value(i)))
	case octoframe.TypeIDList:
		list := arr.(*array.List)
		start, end := list.ValueOffsets(i)
		values := list.ListValues()
		out := make([]octoframe.Value, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, ValueAt(values, *typ.List.Element, int(j)))
		}
		return octoframe.NewList(*typ.List.Element, out)
	}
	panic("impossible, type switch bug")
}

// AppendValue appends a Value to a builder of the matching type.
// Integer and float values are converted to the builder's width, the caller is responsible for range checks.
func AppendValue(builder array.Builder, typ octoframe.Type, v octoframe.Value) error {
	if v.IsNull() {
		builder.AppendNull()
		return nil
	}
	switch typ.TypeID {
	case octoframe.TypeIDNull:
		builder.AppendNull()
	case octoframe.TypeIDBoolean:
		if v.Type.TypeID != octoframe.TypeIDBoolean {
			return octoframe.NewTypeError("can't append %s value to Boolean column", v.Type)
		}
		builder.(*array.BooleanBuilder).Append(v.Boolean)
	case octoframe.TypeIDInt8, octoframe.TypeIDInt16, octoframe.TypeIDInt32, octoframe.TypeIDInt64:
		i, err := asInt(v)
		if err != nil {
			return err
		}
		switch b := builder.(type) {
		case *array.Int8Builder:
			b.Append(int8(i))
		case *array.Int16Builder:
			b.Append(int16(i))
		case *array.Int32Builder:
			b.Append(int32(i))
		case *array.Int64Builder:
			b.Append(i)
		}
	case octoframe.TypeIDUInt8, octoframe.TypeIDUInt16, octoframe.TypeIDUInt32, octoframe.TypeIDUInt64:
		u, err := asUInt(v)
		if err != nil {
			return err
		}
		switch b := builder.(type) {
		case *array.Uint8Builder:
			b.Append(uint8(u))
		case *array.Uint16Builder:
			b.Append(uint16(u))
		case *array.Uint32Builder:
			b.Append(uint32(u))
		case *array.Uint64Builder:
			b.Append(u)
		}
	case octoframe.TypeIDFloat32, octoframe.TypeIDFloat64:
		if !v.Type.IsNumeric() {
			return octoframe.NewTypeError("can't append %s value to %s column", v.Type, typ)
		}
		switch b := builder.(type) {
		case *array.Float32Builder:
			b.Append(float32(v.AsFloat()))
		case *array.Float64Builder:
			b.Append(v.AsFloat())
		}
	case octoframe.TypeIDString:
		if v.Type.TypeID != octoframe.TypeIDString {
			return octoframe.NewTypeError("can't append %s value to String column", v.Type)
		}
		builder.(*array.StringBuilder).Append(v.Str)
	case octoframe.TypeIDDate:
		if v.Type.TypeID != octoframe.TypeIDDate {
			return octoframe.NewTypeError("can't append %s value to Date column", v.Type)
		}
		builder.(*array.Date32Builder).Append(arrow.Date32(v.Int))
	case octoframe.TypeIDDatetime:
		if v.Type.TypeID != octoframe.TypeIDDatetime {
			return octoframe.NewTypeError("can't append %s value to Datetime column", v.Type)
		}
		builder.(*array.TimestampBuilder).Append(arrow.Timestamp(v.Int))
	case octoframe.TypeIDDuration:
		if v.Type.TypeID != octoframe.TypeIDDuration {
			return octoframe.NewTypeError("can't append %s value to Duration column", v.Type)
		}
		builder.(*array.DurationBuilder).Append(arrow.Duration(v.Int))
	case octoframe.TypeIDList:
		if v.Type.TypeID != octoframe.TypeIDList {
			return octoframe.NewTypeError("can't append %s value to %s column", v.Type, typ)
		}
		listBuilder := builder.(*array.ListBuilder)
		listBuilder.Append(true)
		for i := range v.List {
			if err := AppendValue(listBuilder.ValueBuilder(), *typ.List.Element, v.List[i]); err != nil {
				return fmt.Errorf("couldn't append list element %d: %w", i, err)
			}
		}
	default:
		panic("impossible, type switch bug")
	}
	return nil
}

func asInt(v octoframe.Value) (int64, error) {
	switch {
	case v.Type.IsSignedInteger():
		return v.Int, nil
	case v.Type.IsUnsignedInteger():
		return int64(v.UInt), nil
	}
	return 0, octoframe.NewTypeError("can't use %s value as an integer", v.Type)
}

func asUInt(v octoframe.Value) (uint64, error) {
	switch {
	case v.Type.IsUnsignedInteger():
		return v.UInt, nil
	case v.Type.IsSignedInteger():
		if v.Int < 0 {
			return 0, octoframe.NewTypeError("can't use negative value %d as an unsigned integer", v.Int)
		}
		return uint64(v.Int), nil
	}
	return 0, octoframe.NewTypeError("can't use %s value as an unsigned integer", v.Type)
}

// GoValue converts a plain Go value into a Value of the given type.
// nil becomes a typed null.
func GoValue(typ octoframe.Type, v interface{}) (octoframe.Value, error) {
	if v == nil {
		return octoframe.NewTypedNull(typ), nil
	}
	if value, ok := v.(octoframe.Value); ok {
		return value, nil
	}
	switch {
	case typ.TypeID == octoframe.TypeIDBoolean:
		b, ok := v.(bool)
		if !ok {
			break
		}
		return octoframe.NewBoolean(b), nil
	case typ.IsSignedInteger() || typ.IsTemporal():
		switch x := v.(type) {
		case int:
			return octoframe.NewIntOfType(typ, int64(x)), nil
		case int64:
			return octoframe.NewIntOfType(typ, x), nil
		case int32:
			return octoframe.NewIntOfType(typ, int64(x)), nil
		}
	case typ.IsUnsignedInteger():
		switch x := v.(type) {
		case int:
			if x < 0 {
				return octoframe.Value{}, octoframe.NewTypeError("can't use negative value %d as %s", x, typ)
			}
			return octoframe.NewUIntOfType(typ, uint64(x)), nil
		case uint64:
			return octoframe.NewUIntOfType(typ, x), nil
		case uint32:
			return octoframe.NewUIntOfType(typ, uint64(x)), nil
		}
	case typ.IsFloat():
		switch x := v.(type) {
		case float64:
			return octoframe.Value{Type: typ, Float: x}, nil
		case float32:
			return octoframe.Value{Type: typ, Float: float64(x)}, nil
		case int:
			return octoframe.Value{Type: typ, Float: float64(x)}, nil
		}
	case typ.TypeID == octoframe.TypeIDString:
		s, ok := v.(string)
		if !ok {
			break
		}
		return octoframe.NewString(s), nil
	case typ.TypeID == octoframe.TypeIDList:
		items, ok := v.([]interface{})
		if !ok {
			break
		}
		out := make([]octoframe.Value, len(items))
		for i := range items {
			item, err := GoValue(*typ.List.Element, items[i])
			if err != nil {
				return octoframe.Value{}, err
			}
			out[i] = item
		}
		return octoframe.NewList(*typ.List.Element, out), nil
	}
	return octoframe.Value{}, octoframe.NewTypeError("can't use Go value %v of type %T as %s", v, v, typ)
}
