package octoframe

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

type TypeID int

const (
	TypeIDNull TypeID = iota
	TypeIDBoolean
	TypeIDInt8
	TypeIDInt16
	TypeIDInt32
	TypeIDInt64
	TypeIDUInt8
	TypeIDUInt16
	TypeIDUInt32
	TypeIDUInt64
	TypeIDFloat32
	TypeIDFloat64
	TypeIDString
	TypeIDDate
	TypeIDDatetime
	TypeIDDuration
	TypeIDList
)

// Type is a closed set of column types.
// Each one maps to exactly one Arrow data type, which keeps the chunk layout
// compatible with Arrow IPC and Parquet.
type Type struct {
	TypeID TypeID
	List   struct {
		Element *Type
	}
}

var (
	Null     = Type{TypeID: TypeIDNull}
	Boolean  = Type{TypeID: TypeIDBoolean}
	Int8     = Type{TypeID: TypeIDInt8}
	Int16    = Type{TypeID: TypeIDInt16}
	Int32    = Type{TypeID: TypeIDInt32}
	Int64    = Type{TypeID: TypeIDInt64}
	UInt8    = Type{TypeID: TypeIDUInt8}
	UInt16   = Type{TypeID: TypeIDUInt16}
	UInt32   = Type{TypeID: TypeIDUInt32}
	UInt64   = Type{TypeID: TypeIDUInt64}
	Float32  = Type{TypeID: TypeIDFloat32}
	Float64  = Type{TypeID: TypeIDFloat64}
	String   = Type{TypeID: TypeIDString}
	Date     = Type{TypeID: TypeIDDate}
	Datetime = Type{TypeID: TypeIDDatetime}
	Duration = Type{TypeID: TypeIDDuration}
)

func ListOf(element Type) Type {
	out := Type{TypeID: TypeIDList}
	out.List.Element = &element
	return out
}

func (t Type) String() string {
	switch t.TypeID {
	case TypeIDNull:
		return "Null"
	case TypeIDBoolean:
		return "Boolean"
	case TypeIDInt8:
		return "Int8"
	case TypeIDInt16:
		return "Int16"
	case TypeIDInt32:
		return "Int32"
	case TypeIDInt64:
		return "Int64"
	case TypeIDUInt8:
		return "UInt8"
	case TypeIDUInt16:
		return "UInt16"
	case TypeIDUInt32:
		return "UInt32"
	case TypeIDUInt64:
		return "UInt64"
	case TypeIDFloat32:
		return "Float32"
	case TypeIDFloat64:
		return "Float64"
	case TypeIDString:
		return "String"
	case TypeIDDate:
		return "Date"
	case TypeIDDatetime:
		return "Datetime"
	case TypeIDDuration:
		return "Duration"
	case TypeIDList:
		return fmt.Sprintf("List[%s]", *t.List.Element)
	}
	panic("impossible, type switch bug")
}

func (t Type) Equal(other Type) bool {
	if t.TypeID != other.TypeID {
		return false
	}
	if t.TypeID == TypeIDList {
		return t.List.Element.Equal(*other.List.Element)
	}
	return true
}

func (t Type) IsSignedInteger() bool {
	return t.TypeID >= TypeIDInt8 && t.TypeID <= TypeIDInt64
}

func (t Type) IsUnsignedInteger() bool {
	return t.TypeID >= TypeIDUInt8 && t.TypeID <= TypeIDUInt64
}

func (t Type) IsInteger() bool {
	return t.IsSignedInteger() || t.IsUnsignedInteger()
}

func (t Type) IsFloat() bool {
	return t.TypeID == TypeIDFloat32 || t.TypeID == TypeIDFloat64
}

func (t Type) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

func (t Type) IsTemporal() bool {
	return t.TypeID == TypeIDDate || t.TypeID == TypeIDDatetime || t.TypeID == TypeIDDuration
}

// IsOrdered reports whether values of the type can be compared with < and >.
func (t Type) IsOrdered() bool {
	return t.IsNumeric() || t.IsTemporal() || t.TypeID == TypeIDString || t.TypeID == TypeIDBoolean
}

// BitWidth returns the width of integer and float types, 0 for everything else.
func (t Type) BitWidth() int {
	switch t.TypeID {
	case TypeIDInt8, TypeIDUInt8:
		return 8
	case TypeIDInt16, TypeIDUInt16:
		return 16
	case TypeIDInt32, TypeIDUInt32, TypeIDFloat32:
		return 32
	case TypeIDInt64, TypeIDUInt64, TypeIDFloat64:
		return 64
	}
	return 0
}

var signedByWidth = map[int]Type{8: Int8, 16: Int16, 32: Int32, 64: Int64}
var unsignedByWidth = map[int]Type{8: UInt8, 16: UInt16, 32: UInt32, 64: UInt64}

// Supertype returns the type both arguments can be losslessly (or as close to it as the lattice allows) cast to.
func Supertype(a, b Type) (Type, bool) {
	if a.Equal(b) {
		return a, true
	}
	if a.TypeID == TypeIDNull {
		return b, true
	}
	if b.TypeID == TypeIDNull {
		return a, true
	}
	switch {
	case a.IsSignedInteger() && b.IsSignedInteger():
		return signedByWidth[max(a.BitWidth(), b.BitWidth())], true
	case a.IsUnsignedInteger() && b.IsUnsignedInteger():
		return unsignedByWidth[max(a.BitWidth(), b.BitWidth())], true
	case a.IsInteger() && b.IsInteger():
		signed, unsigned := a, b
		if a.IsUnsignedInteger() {
			signed, unsigned = b, a
		}
		if unsigned.BitWidth() == 64 {
			return Float64, true
		}
		return signedByWidth[max(signed.BitWidth(), unsigned.BitWidth()*2)], true
	case a.IsFloat() && b.IsFloat():
		return Float64, true
	case a.IsNumeric() && b.IsNumeric():
		integer, float := a, b
		if a.IsFloat() {
			integer, float = b, a
		}
		if float.TypeID == TypeIDFloat32 && integer.BitWidth() <= 16 {
			return Float32, true
		}
		return Float64, true
	case a.TypeID == TypeIDList && b.TypeID == TypeIDList:
		element, ok := Supertype(*a.List.Element, *b.List.Element)
		if !ok {
			return Type{}, false
		}
		return ListOf(element), true
	}
	return Type{}, false
}

// ArrowType returns the Arrow data type backing columns of this type.
func (t Type) ArrowType() arrow.DataType {
	switch t.TypeID {
	case TypeIDNull:
		return arrow.Null
	case TypeIDBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeIDInt8:
		return arrow.PrimitiveTypes.Int8
	case TypeIDInt16:
		return arrow.PrimitiveTypes.Int16
	case TypeIDInt32:
		return arrow.PrimitiveTypes.Int32
	case TypeIDInt64:
		return arrow.PrimitiveTypes.Int64
	case TypeIDUInt8:
		return arrow.PrimitiveTypes.Uint8
	case TypeIDUInt16:
		return arrow.PrimitiveTypes.Uint16
	case TypeIDUInt32:
		return arrow.PrimitiveTypes.Uint32
	case TypeIDUInt64:
		return arrow.PrimitiveTypes.Uint64
	case TypeIDFloat32:
		return arrow.PrimitiveTypes.Float32
	case TypeIDFloat64:
		return arrow.PrimitiveTypes.Float64
	case TypeIDString:
		return arrow.BinaryTypes.String
	case TypeIDDate:
		return arrow.FixedWidthTypes.Date32
	case TypeIDDatetime:
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	case TypeIDDuration:
		return &arrow.DurationType{Unit: arrow.Microsecond}
	case TypeIDList:
		return arrow.ListOf(t.List.Element.ArrowType())
	}
	panic("impossible, type switch bug")
}

// TypeFromArrow maps an Arrow data type onto the engine's type system.
func TypeFromArrow(dt arrow.DataType) (Type, error) {
	switch dt.ID() {
	case arrow.NULL:
		return Null, nil
	case arrow.BOOL:
		return Boolean, nil
	case arrow.INT8:
		return Int8, nil
	case arrow.INT16:
		return Int16, nil
	case arrow.INT32:
		return Int32, nil
	case arrow.INT64:
		return Int64, nil
	case arrow.UINT8:
		return UInt8, nil
	case arrow.UINT16:
		return UInt16, nil
	case arrow.UINT32:
		return UInt32, nil
	case arrow.UINT64:
		return UInt64, nil
	case arrow.FLOAT32:
		return Float32, nil
	case arrow.FLOAT64:
		return Float64, nil
	case arrow.STRING:
		return String, nil
	case arrow.DATE32:
		return Date, nil
	case arrow.TIMESTAMP:
		if dt.(*arrow.TimestampType).Unit != arrow.Microsecond {
			return Type{}, NewTypeError("unsupported timestamp unit %s, only microseconds are supported", dt.(*arrow.TimestampType).Unit)
		}
		return Datetime, nil
	case arrow.DURATION:
		if dt.(*arrow.DurationType).Unit != arrow.Microsecond {
			return Type{}, NewTypeError("unsupported duration unit %s, only microseconds are supported", dt.(*arrow.DurationType).Unit)
		}
		return Duration, nil
	case arrow.LIST:
		element, err := TypeFromArrow(dt.(*arrow.ListType).Elem())
		if err != nil {
			return Type{}, fmt.Errorf("couldn't map list element type: %w", err)
		}
		return ListOf(element), nil
	}
	return Type{}, NewTypeError("unsupported arrow type %s", dt)
}
