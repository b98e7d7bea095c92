package execution

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"

	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// All nodes will try to create chunks of approximately this size. Different sizes are allowed.
const IdealBatchSize = 16 * 1024

type Context struct {
	Context   context.Context
	Config    config.Config
	Pool      *Pool
	Allocator memory.Allocator
	Logger    log.Logger
	Metrics   *Metrics
}

// NewContext returns a context using the process-wide pool, the default allocator, and no logging or metrics.
func NewContext(ctx context.Context, cfg config.Config) Context {
	return Context{
		Context:   ctx,
		Config:    cfg,
		Pool:      DefaultPool(cfg.Threads()),
		Allocator: memory.DefaultAllocator,
		Logger:    log.NewNopLogger(),
	}
}

// ChunkSize returns the configured chunk size, falling back to IdealBatchSize.
func (ctx Context) ChunkSize() int {
	if ctx.Config.ChunkSize > 0 {
		return ctx.Config.ChunkSize
	}
	return IdealBatchSize
}

// Node is a physical operator. Each node fully materializes its output.
type Node interface {
	Run(ctx Context) (*table.Table, error)
}

type NodeWithMeta struct {
	Node   Node
	Schema octoframe.Schema
}
