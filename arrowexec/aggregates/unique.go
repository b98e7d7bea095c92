package aggregates

import (
	"encoding/binary"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/axiomhq/hyperloglog"
	"github.com/dolthub/swiss"

	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

func NewNUniquePrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &NUnique{}
}

// NUnique counts distinct values exactly. Values are bucketed by hash and compared within a bucket.
type NUnique struct{}

func (agg *NUnique) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	typedBuilder := builder.(*array.Uint32Builder)
	hash := helpers.MakeValueHasher(arr)
	equal := helpers.MakeValueEqualityChecker(arr, arr)
	return func(rows []uint32) {
		seen := swiss.NewMap[uint64, []uint32](uint32(max(1, min(len(rows), 1024))))
		distinct := 0
	rowLoop:
		for _, row := range rows {
			h := hash(int(row))
			bucket, _ := seen.Get(h)
			for _, other := range bucket {
				if equal(int(other), int(row)) {
					continue rowLoop
				}
			}
			seen.Put(h, append(bucket, row))
			distinct++
		}
		typedBuilder.Append(uint32(distinct))
	}
}

func NewApproxNUniquePrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &ApproxNUnique{}
}

type ApproxNUnique struct{}

func (agg *ApproxNUnique) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	typedBuilder := builder.(*array.Uint32Builder)
	hash := helpers.MakeValueHasher(arr)
	return func(rows []uint32) {
		if len(rows) == 0 {
			typedBuilder.Append(0)
			return
		}
		sketch := hyperloglog.New14()
		var buf [8]byte
		for _, row := range rows {
			binary.LittleEndian.PutUint64(buf[:], hash(int(row)))
			sketch.Insert(buf[:])
		}
		typedBuilder.Append(uint32(sketch.Estimate()))
	}
}
