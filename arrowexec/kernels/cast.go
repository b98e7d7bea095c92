package kernels

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

const microsPerDay = 24 * 60 * 60 * 1000 * 1000

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.DateOnly,
}

// Cast converts arr from one type to another.
// Values which can't be represented in the target type become nulls, or fail the cast when strict.
func Cast(mem memory.Allocator, arr arrow.Array, from, to octoframe.Type, strict bool) (arrow.Array, error) {
	if from.Equal(to) {
		arr.Retain()
		return arr, nil
	}
	if from.TypeID == octoframe.TypeIDNull || to.TypeID == octoframe.TypeIDNull {
		return array.MakeArrayOfNull(mem, to.ArrowType(), arr.Len()), nil
	}
	if !logical.CanCast(from, to) {
		return nil, octoframe.NewTypeError("can't cast %s to %s", from, to)
	}
	if from.IsNumeric() && to.IsNumeric() {
		return castNumeric(mem, arr, from, to, strict)
	}

	builder := array.NewBuilder(mem, to.ArrowType())
	defer builder.Release()
	builder.Reserve(arr.Len())
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			builder.AppendNull()
			continue
		}
		v, err := CastValue(table.ValueAt(arr, from, i), to, strict)
		if err != nil {
			return nil, err
		}
		if err := table.AppendValue(builder, to, v); err != nil {
			return nil, err
		}
	}
	return builder.NewArray(), nil
}

// CastValue converts a single value. A failed non-strict conversion returns a typed null.
func CastValue(v octoframe.Value, to octoframe.Type, strict bool) (octoframe.Value, error) {
	if v.IsNull() || v.Type.Equal(to) {
		if v.IsNull() {
			return octoframe.NewTypedNull(to), nil
		}
		return v, nil
	}
	out, ok := castValue(v, to, strict)
	if ok {
		return out, nil
	}
	if strict {
		return octoframe.Value{}, octoframe.NewExecutionError("strict cast of %s value %s to %s failed", v.Type, v, to)
	}
	return octoframe.NewTypedNull(to), nil
}

func castValue(v octoframe.Value, to octoframe.Type, strict bool) (octoframe.Value, bool) {
	from := v.Type
	switch {
	case from.TypeID == octoframe.TypeIDList && to.TypeID == octoframe.TypeIDList:
		elements := make([]octoframe.Value, len(v.List))
		for i := range v.List {
			element, err := CastValue(v.List[i], *to.List.Element, strict)
			if err != nil {
				return octoframe.Value{}, false
			}
			elements[i] = element
		}
		return octoframe.NewList(*to.List.Element, elements), true

	case to.TypeID == octoframe.TypeIDString:
		return octoframe.NewString(formatValue(v)), true

	case from.TypeID == octoframe.TypeIDString:
		return parseValue(strings.TrimSpace(v.Str), to)

	case from.TypeID == octoframe.TypeIDBoolean:
		if to.TypeID == octoframe.TypeIDBoolean {
			return v, true
		}
		var i int64
		if v.Boolean {
			i = 1
		}
		return numericValue(to, i, uint64(i), float64(i), from)

	case to.TypeID == octoframe.TypeIDBoolean:
		switch {
		case from.IsSignedInteger():
			return octoframe.NewBoolean(v.Int != 0), true
		case from.IsUnsignedInteger():
			return octoframe.NewBoolean(v.UInt != 0), true
		case from.IsFloat():
			return octoframe.NewBoolean(v.Float != 0), true
		}

	case from.TypeID == octoframe.TypeIDDate && to.TypeID == octoframe.TypeIDDatetime:
		if v.Int > math.MaxInt64/microsPerDay || v.Int < math.MinInt64/microsPerDay {
			return octoframe.Value{}, false
		}
		return octoframe.NewIntOfType(to, v.Int*microsPerDay), true

	case from.TypeID == octoframe.TypeIDDatetime && to.TypeID == octoframe.TypeIDDate:
		days := v.Int / microsPerDay
		if v.Int%microsPerDay < 0 {
			days--
		}
		return octoframe.NewIntOfType(to, days), true

	case from.IsTemporal():
		return numericValue(to, v.Int, uint64(v.Int), float64(v.Int), octoframe.Int64)

	case to.IsTemporal():
		var i int64
		switch {
		case from.IsSignedInteger():
			i = v.Int
		case from.IsUnsignedInteger():
			if v.UInt > math.MaxInt64 {
				return octoframe.Value{}, false
			}
			i = int64(v.UInt)
		default:
			return octoframe.Value{}, false
		}
		if to.TypeID == octoframe.TypeIDDate && (i < math.MinInt32 || i > math.MaxInt32) {
			return octoframe.Value{}, false
		}
		return octoframe.NewIntOfType(to, i), true

	case from.IsNumeric():
		return numericValue(to, v.Int, v.UInt, v.Float, from)
	}
	return octoframe.Value{}, false
}

// numericValue converts a number held in the field matching its source type into the target numeric type.
func numericValue(to octoframe.Type, i int64, u uint64, f float64, from octoframe.Type) (octoframe.Value, bool) {
	var w wide
	switch {
	case from.IsSignedInteger():
		w = wide{kind: wideSigned, ints: []int64{i}}
	case from.IsUnsignedInteger():
		w = wide{kind: wideUnsigned, uints: []uint64{u}}
	default:
		w = wide{kind: wideFloat, floats: []float64{f}}
	}
	switch {
	case to.IsSignedInteger():
		out, ok := toSigned[int64](to.BitWidth())(w, 0)
		return octoframe.NewIntOfType(to, out), ok
	case to.IsUnsignedInteger():
		out, ok := toUnsigned[uint64](to.BitWidth())(w, 0)
		return octoframe.NewUIntOfType(to, out), ok
	case to.TypeID == octoframe.TypeIDFloat32:
		out, _ := toFloat[float32](w, 0)
		return octoframe.NewFloat32(out), true
	case to.TypeID == octoframe.TypeIDFloat64:
		out, _ := toFloat[float64](w, 0)
		return octoframe.NewFloat(out), true
	case to.TypeID == octoframe.TypeIDBoolean:
		return octoframe.NewBoolean(i != 0 || u != 0 || f != 0), true
	}
	return octoframe.Value{}, false
}

func formatValue(v octoframe.Value) string {
	switch {
	case v.Type.TypeID == octoframe.TypeIDString:
		return v.Str
	case v.Type.TypeID == octoframe.TypeIDFloat32:
		return strconv.FormatFloat(v.Float, 'g', -1, 32)
	}
	return v.String()
}

func parseValue(s string, to octoframe.Type) (octoframe.Value, bool) {
	switch {
	case to.TypeID == octoframe.TypeIDBoolean:
		b, err := strconv.ParseBool(s)
		return octoframe.NewBoolean(b), err == nil
	case to.IsSignedInteger():
		i, err := strconv.ParseInt(s, 10, to.BitWidth())
		return octoframe.NewIntOfType(to, i), err == nil
	case to.IsUnsignedInteger():
		u, err := strconv.ParseUint(s, 10, to.BitWidth())
		return octoframe.NewUIntOfType(to, u), err == nil
	case to.TypeID == octoframe.TypeIDFloat32:
		f, err := strconv.ParseFloat(s, 32)
		return octoframe.NewFloat32(float32(f)), err == nil
	case to.TypeID == octoframe.TypeIDFloat64:
		f, err := strconv.ParseFloat(s, 64)
		return octoframe.NewFloat(f), err == nil
	case to.TypeID == octoframe.TypeIDDate:
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return octoframe.Value{}, false
		}
		return octoframe.NewDate(int32(t.Unix() / (24 * 60 * 60))), true
	case to.TypeID == octoframe.TypeIDDatetime:
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return octoframe.NewDatetime(t), true
			}
		}
		return octoframe.Value{}, false
	case to.TypeID == octoframe.TypeIDDuration:
		d, err := time.ParseDuration(s)
		return octoframe.NewDuration(d), err == nil
	}
	return octoframe.Value{}, false
}

type wideKind int

const (
	wideSigned wideKind = iota
	wideUnsigned
	wideFloat
)

// wide holds numeric values widened to 64 bits, which is lossless for every numeric type.
type wide struct {
	kind   wideKind
	ints   []int64
	uints  []uint64
	floats []float64
}

func widen(arr arrow.Array, from octoframe.Type) wide {
	switch from.TypeID {
	case octoframe.TypeIDInt8:
		return wide{kind: wideSigned, ints: widenValues[int8, int64](Values[int8](arr))}
	case octoframe.TypeIDInt16:
		return wide{kind: wideSigned, ints: widenValues[int16, int64](Values[int16](arr))}
	case octoframe.TypeIDInt32:
		return wide{kind: wideSigned, ints: widenValues[int32, int64](Values[int32](arr))}
	case octoframe.TypeIDInt64:
		return wide{kind: wideSigned, ints: Values[int64](arr)}
	case octoframe.TypeIDUInt8:
		return wide{kind: wideUnsigned, uints: widenValues[uint8, uint64](Values[uint8](arr))}
	case octoframe.TypeIDUInt16:
		return wide{kind: wideUnsigned, uints: widenValues[uint16, uint64](Values[uint16](arr))}
	case octoframe.TypeIDUInt32:
		return wide{kind: wideUnsigned, uints: widenValues[uint32, uint64](Values[uint32](arr))}
	case octoframe.TypeIDUInt64:
		return wide{kind: wideUnsigned, uints: Values[uint64](arr)}
	case octoframe.TypeIDFloat32:
		return wide{kind: wideFloat, floats: widenValues[float32, float64](Values[float32](arr))}
	case octoframe.TypeIDFloat64:
		return wide{kind: wideFloat, floats: Values[float64](arr)}
	}
	panic("impossible, type switch bug")
}

func widenValues[From, To Numeric](values []From) []To {
	out := make([]To, len(values))
	for i := range values {
		out[i] = To(values[i])
	}
	return out
}

func toSigned[T ~int8 | ~int16 | ~int32 | ~int64](bits int) func(w wide, i int) (T, bool) {
	lo, hi := int64(math.MinInt64)>>(64-bits), int64(math.MaxInt64)>>(64-bits)
	return func(w wide, i int) (T, bool) {
		switch w.kind {
		case wideSigned:
			v := w.ints[i]
			return T(v), v >= lo && v <= hi
		case wideUnsigned:
			v := w.uints[i]
			return T(v), v <= uint64(hi)
		}
		v := math.Trunc(w.floats[i])
		if math.IsNaN(v) || v < float64(lo) || v >= math.Ldexp(1, bits-1) {
			return 0, false
		}
		return T(v), true
	}
}

func toUnsigned[T ~uint8 | ~uint16 | ~uint32 | ~uint64](bits int) func(w wide, i int) (T, bool) {
	hi := uint64(math.MaxUint64) >> (64 - bits)
	return func(w wide, i int) (T, bool) {
		switch w.kind {
		case wideSigned:
			v := w.ints[i]
			return T(v), v >= 0 && uint64(v) <= hi
		case wideUnsigned:
			v := w.uints[i]
			return T(v), v <= hi
		}
		v := math.Trunc(w.floats[i])
		if math.IsNaN(v) || v < 0 || v >= math.Ldexp(1, bits) {
			return 0, false
		}
		return T(v), true
	}
}

func toFloat[T ~float32 | ~float64](w wide, i int) (T, bool) {
	switch w.kind {
	case wideSigned:
		return T(w.ints[i]), true
	case wideUnsigned:
		return T(w.uints[i]), true
	}
	return T(w.floats[i]), true
}

func castNumeric(mem memory.Allocator, arr arrow.Array, from, to octoframe.Type, strict bool) (arrow.Array, error) {
	w := widen(arr, from)
	valid := inputValidity(mem, arr.Len(), arr)
	dt := to.ArrowType()
	switch to.TypeID {
	case octoframe.TypeIDInt8:
		return narrow(mem, w, valid, dt, strict, from, to, toSigned[int8](8))
	case octoframe.TypeIDInt16:
		return narrow(mem, w, valid, dt, strict, from, to, toSigned[int16](16))
	case octoframe.TypeIDInt32:
		return narrow(mem, w, valid, dt, strict, from, to, toSigned[int32](32))
	case octoframe.TypeIDInt64:
		return narrow(mem, w, valid, dt, strict, from, to, toSigned[int64](64))
	case octoframe.TypeIDUInt8:
		return narrow(mem, w, valid, dt, strict, from, to, toUnsigned[uint8](8))
	case octoframe.TypeIDUInt16:
		return narrow(mem, w, valid, dt, strict, from, to, toUnsigned[uint16](16))
	case octoframe.TypeIDUInt32:
		return narrow(mem, w, valid, dt, strict, from, to, toUnsigned[uint32](32))
	case octoframe.TypeIDUInt64:
		return narrow(mem, w, valid, dt, strict, from, to, toUnsigned[uint64](64))
	case octoframe.TypeIDFloat32:
		return narrow(mem, w, valid, dt, strict, from, to, toFloat[float32])
	case octoframe.TypeIDFloat64:
		return narrow(mem, w, valid, dt, strict, from, to, toFloat[float64])
	}
	panic("impossible, type switch bug")
}

func narrow[T Numeric](mem memory.Allocator, w wide, valid *validity, dt arrow.DataType, strict bool, from, to octoframe.Type, convert func(w wide, i int) (T, bool)) (arrow.Array, error) {
	n := len(w.ints) + len(w.uints) + len(w.floats)
	out := make([]T, n)
	for i := range out {
		if !valid.isValid(i) {
			continue
		}
		v, ok := convert(w, i)
		if !ok {
			if strict {
				valid.buf.Release()
				return nil, octoframe.NewExecutionError("strict cast of %s value %s to %s failed", from, wideValue(w, i), to)
			}
			valid.setNull(i)
			continue
		}
		out[i] = v
	}
	return newFixedWidthArray(mem, dt, out, valid), nil
}

func wideValue(w wide, i int) string {
	switch w.kind {
	case wideSigned:
		return strconv.FormatInt(w.ints[i], 10)
	case wideUnsigned:
		return strconv.FormatUint(w.uints[i], 10)
	}
	return strconv.FormatFloat(w.floats[i], 'g', -1, 64)
}
