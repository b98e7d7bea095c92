package execution

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/c2h5oh/datasize"

	"github.com/cube2222/octoframe/octoframe"
)

// LimitedAllocator enforces a memory budget on top of another allocator.
// Going over the budget panics with a CapacityError, which the pool and the executor recover.
type LimitedAllocator struct {
	mem   memory.Allocator
	limit int64
	used  atomic.Int64
}

// NewLimitedAllocator wraps mem with a budget. A zero limit means unlimited, and mem is returned as is.
func NewLimitedAllocator(mem memory.Allocator, limit datasize.ByteSize) memory.Allocator {
	if limit == 0 {
		return mem
	}
	return &LimitedAllocator{
		mem:   mem,
		limit: int64(limit.Bytes()),
	}
}

func (a *LimitedAllocator) reserve(size int) {
	if used := a.used.Add(int64(size)); used > a.limit {
		a.used.Add(-int64(size))
		panic(octoframe.NewCapacityError("allocating %s would exceed the memory limit of %s", datasize.ByteSize(size).HR(), datasize.ByteSize(a.limit).HR()))
	}
}

func (a *LimitedAllocator) Allocate(size int) []byte {
	a.reserve(size)
	return a.mem.Allocate(size)
}

func (a *LimitedAllocator) Reallocate(size int, b []byte) []byte {
	if delta := size - len(b); delta > 0 {
		a.reserve(delta)
	} else {
		a.used.Add(int64(delta))
	}
	return a.mem.Reallocate(size, b)
}

func (a *LimitedAllocator) Free(b []byte) {
	a.used.Add(-int64(len(b)))
	a.mem.Free(b)
}

// Allocated returns the number of bytes currently allocated.
func (a *LimitedAllocator) Allocated() int64 {
	return a.used.Load()
}
