package aggregates

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

func NewSumPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Sum{}
}

// Sum wraps around on integer overflow, like the arithmetic kernels do in unchecked mode.
type Sum struct{}

func (agg *Sum) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	switch typedBuilder := builder.(type) {
	case *array.Int64Builder:
		read := int64Reader(arr)
		return sumConsumer(arr, read, typedBuilder.Append, typedBuilder.AppendNull)
	case *array.Uint64Builder:
		read := uint64Reader(arr)
		return sumConsumer(arr, read, typedBuilder.Append, typedBuilder.AppendNull)
	case *array.Float32Builder:
		read := float64Reader(arr)
		return sumConsumer(arr, read, func(v float64) { typedBuilder.Append(float32(v)) }, typedBuilder.AppendNull)
	case *array.Float64Builder:
		read := float64Reader(arr)
		return sumConsumer(arr, read, typedBuilder.Append, typedBuilder.AppendNull)
	case *array.DurationBuilder:
		read := int64Reader(arr)
		return sumConsumer(arr, read, func(v int64) { typedBuilder.Append(arrow.Duration(v)) }, typedBuilder.AppendNull)
	}
	panic("unsupported sum output type: " + builder.Type().String())
}

func sumConsumer[T int64 | uint64 | float64](arr arrow.Array, read func(i int) T, appendValue func(T), appendNull func()) func(rows []uint32) {
	return func(rows []uint32) {
		var sum T
		nonNull := 0
		for _, row := range rows {
			if arr.IsNull(int(row)) {
				continue
			}
			sum += read(int(row))
			nonNull++
		}
		if nonNull == 0 {
			appendNull()
			return
		}
		appendValue(sum)
	}
}

func NewMeanPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Mean{}
}

type Mean struct{}

func (agg *Mean) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	typedBuilder := builder.(*array.Float64Builder)
	read := float64Reader(arr)
	return func(rows []uint32) {
		var sum float64
		nonNull := 0
		for _, row := range rows {
			if arr.IsNull(int(row)) {
				continue
			}
			sum += read(int(row))
			nonNull++
		}
		if nonNull == 0 {
			typedBuilder.AppendNull()
			return
		}
		typedBuilder.Append(sum / float64(nonNull))
	}
}
