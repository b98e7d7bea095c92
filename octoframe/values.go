package octoframe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Value is a single scalar, used for literals and for row access.
// Null values still carry a type, so that typed null literals can be expressed.
type Value struct {
	Type    Type
	Null    bool
	Boolean bool
	// Int holds signed integers as well as the physical value of temporal types.
	Int   int64
	UInt  uint64
	Float float64
	Str   string
	List  []Value
}

func NewNull() Value {
	return Value{Type: Null, Null: true}
}

func NewTypedNull(t Type) Value {
	return Value{Type: t, Null: true}
}

func NewBoolean(value bool) Value {
	return Value{Type: Boolean, Boolean: value}
}

func NewInt(value int64) Value {
	return Value{Type: Int64, Int: value}
}

// NewIntOfType creates an integer value of a specific signed integer or temporal type.
func NewIntOfType(t Type, value int64) Value {
	return Value{Type: t, Int: value}
}

func NewUInt(value uint64) Value {
	return Value{Type: UInt64, UInt: value}
}

func NewUIntOfType(t Type, value uint64) Value {
	return Value{Type: t, UInt: value}
}

func NewFloat(value float64) Value {
	return Value{Type: Float64, Float: value}
}

func NewFloat32(value float32) Value {
	return Value{Type: Float32, Float: float64(value)}
}

func NewString(value string) Value {
	return Value{Type: String, Str: value}
}

// NewDate creates a date value from the number of days since the Unix epoch.
func NewDate(days int32) Value {
	return Value{Type: Date, Int: int64(days)}
}

func NewDatetime(t time.Time) Value {
	return Value{Type: Datetime, Int: t.UnixMicro()}
}

func NewDuration(d time.Duration) Value {
	return Value{Type: Duration, Int: d.Microseconds()}
}

func NewList(element Type, values []Value) Value {
	return Value{Type: ListOf(element), List: values}
}

// IsNull reports whether the value is null, either untyped or typed.
func (v Value) IsNull() bool {
	return v.Null || v.Type.TypeID == TypeIDNull
}

// AsFloat returns the numeric value as a float64.
func (v Value) AsFloat() float64 {
	switch {
	case v.Type.IsSignedInteger():
		return float64(v.Int)
	case v.Type.IsUnsignedInteger():
		return float64(v.UInt)
	case v.Type.IsFloat():
		return v.Float
	}
	return math.NaN()
}

func (v Value) Equal(other Value) bool {
	if v.IsNull() || other.IsNull() {
		return v.IsNull() && other.IsNull()
	}
	if !v.Type.Equal(other.Type) {
		return false
	}
	switch {
	case v.Type.TypeID == TypeIDBoolean:
		return v.Boolean == other.Boolean
	case v.Type.IsSignedInteger() || v.Type.IsTemporal():
		return v.Int == other.Int
	case v.Type.IsUnsignedInteger():
		return v.UInt == other.UInt
	case v.Type.IsFloat():
		return v.Float == other.Float || (math.IsNaN(v.Float) && math.IsNaN(other.Float))
	case v.Type.TypeID == TypeIDString:
		return v.Str == other.Str
	case v.Type.TypeID == TypeIDList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	}
	panic("impossible, type switch bug")
}

func (v Value) String() string {
	if v.IsNull() {
		return "null"
	}
	switch {
	case v.Type.TypeID == TypeIDBoolean:
		return strconv.FormatBool(v.Boolean)
	case v.Type.IsSignedInteger():
		return strconv.FormatInt(v.Int, 10)
	case v.Type.IsUnsignedInteger():
		return strconv.FormatUint(v.UInt, 10)
	case v.Type.IsFloat():
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case v.Type.TypeID == TypeIDString:
		return strconv.Quote(v.Str)
	case v.Type.TypeID == TypeIDDate:
		return time.Unix(v.Int*24*60*60, 0).UTC().Format(time.DateOnly)
	case v.Type.TypeID == TypeIDDatetime:
		return time.UnixMicro(v.Int).UTC().Format(time.RFC3339Nano)
	case v.Type.TypeID == TypeIDDuration:
		return (time.Duration(v.Int) * time.Microsecond).String()
	case v.Type.TypeID == TypeIDList:
		parts := make([]string, len(v.List))
		for i := range v.List {
			parts[i] = v.List[i].String()
		}
		return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
	}
	panic("impossible, type switch bug")
}
