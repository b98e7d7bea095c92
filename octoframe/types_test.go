package octoframe

import (
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupertype(t *testing.T) {
	some := func(t Type) *Type {
		return &t
	}

	tests := []struct {
		t1   Type
		t2   Type
		want *Type
	}{
		{t1: String, t2: String, want: some(String)},
		{t1: Int64, t2: String, want: nil},
		{t1: Null, t2: Int32, want: some(Int32)},
		{t1: Int8, t2: Int32, want: some(Int32)},
		{t1: UInt16, t2: UInt8, want: some(UInt16)},
		{t1: UInt8, t2: Int8, want: some(Int16)},
		{t1: Int32, t2: UInt32, want: some(Int64)},
		{t1: UInt64, t2: Int8, want: some(Float64)},
		{t1: Int16, t2: Float32, want: some(Float32)},
		{t1: Int32, t2: Float32, want: some(Float64)},
		{t1: Float32, t2: Float64, want: some(Float64)},
		{t1: Boolean, t2: Int64, want: nil},
		{t1: Datetime, t2: Datetime, want: some(Datetime)},
		{t1: Date, t2: Datetime, want: nil},
		{t1: ListOf(Int8), t2: ListOf(Int64), want: some(ListOf(Int64))},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			got, ok := Supertype(tt.t1, tt.t2)
			if tt.want == nil {
				assert.False(t, ok, "Supertype(%s, %s) = %s, want none", tt.t1, tt.t2, got)
				return
			}
			require.True(t, ok, "Supertype(%s, %s) missing, want %s", tt.t1, tt.t2, *tt.want)
			assert.True(t, got.Equal(*tt.want), "Supertype(%s, %s) = %s, want %s", tt.t1, tt.t2, got, *tt.want)

			reversed, ok := Supertype(tt.t2, tt.t1)
			require.True(t, ok)
			assert.True(t, reversed.Equal(got), "supertype should be symmetric")
		})
	}
}

func TestArrowTypeRoundTrip(t *testing.T) {
	for _, typ := range []Type{Null, Boolean, Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64, Float32, Float64, String, Date, Datetime, Duration, ListOf(String)} {
		t.Run(typ.String(), func(t *testing.T) {
			got, err := TypeFromArrow(typ.ArrowType())
			require.NoError(t, err)
			assert.True(t, got.Equal(typ))
		})
	}

	_, err := TypeFromArrow(&arrow.TimestampType{Unit: arrow.Nanosecond})
	assert.True(t, IsTypeError(err))
}

func TestSchema(t *testing.T) {
	schema := NewSchema(SchemaField{Name: "a", Type: Int64}, SchemaField{Name: "b", Type: String})

	field, err := schema.Field("b")
	require.NoError(t, err)
	assert.Equal(t, String, field.Type)

	_, err = schema.Field("c")
	assert.True(t, IsSchemaError(err))

	duplicated := NewSchema(SchemaField{Name: "a", Type: Int64}, SchemaField{Name: "a", Type: String})
	assert.True(t, IsSchemaError(duplicated.Validate()))
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("couldn't run query: %w", ExecutionFailure("filter", fmt.Errorf("boom")))
	assert.True(t, IsExecutionError(err))
	assert.False(t, IsSchemaError(err))
	assert.Contains(t, err.Error(), "execution error in filter")

	// Engine errors keep their kind when passing through operators.
	err = ExecutionFailure("project", NewTypeError("bad operand"))
	assert.True(t, IsTypeError(err))
	assert.False(t, IsExecutionError(err))
}
