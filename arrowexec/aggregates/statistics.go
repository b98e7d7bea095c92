package aggregates

import (
	"math"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

func NewStdPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Variance{ddof: agg.DDOF, sqrt: true}
}

func NewVarPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Variance{ddof: agg.DDOF}
}

// Variance uses Welford's online algorithm. The result is null when there are no more than ddof values.
type Variance struct {
	ddof int
	sqrt bool
}

func (agg *Variance) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	typedBuilder := builder.(*array.Float64Builder)
	read := float64Reader(arr)
	return func(rows []uint32) {
		var count int
		var mean, m2 float64
		for _, row := range rows {
			if arr.IsNull(int(row)) {
				continue
			}
			x := read(int(row))
			count++
			delta := x - mean
			mean += delta / float64(count)
			m2 += delta * (x - mean)
		}
		if count == 0 || count <= agg.ddof {
			typedBuilder.AppendNull()
			return
		}
		variance := m2 / float64(count-agg.ddof)
		if agg.sqrt {
			variance = math.Sqrt(variance)
		}
		typedBuilder.Append(variance)
	}
}

func NewMedianPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Quantile{q: 0.5}
}

func NewQuantilePrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Quantile{q: agg.Quantile}
}

// Quantile sorts the non-null values of the group and interpolates linearly between the closest ranks.
type Quantile struct {
	q float64
}

func (agg *Quantile) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	typedBuilder := builder.(*array.Float64Builder)
	read := float64Reader(arr)
	var values []float64
	return func(rows []uint32) {
		values = values[:0]
		for _, row := range rows {
			if arr.IsValid(int(row)) {
				values = append(values, read(int(row)))
			}
		}
		if len(values) == 0 {
			typedBuilder.AppendNull()
			return
		}
		typedBuilder.Append(QuantileOf(values, agg.q))
	}
}

// QuantileOf sorts values in place and returns the q-th quantile, interpolating linearly.
func QuantileOf(values []float64, q float64) float64 {
	slices.Sort(values)
	position := q * float64(len(values)-1)
	lower := int(math.Floor(position))
	upper := int(math.Ceil(position))
	if lower == upper {
		return values[lower]
	}
	return values[lower] + (values[upper]-values[lower])*(position-float64(lower))
}
