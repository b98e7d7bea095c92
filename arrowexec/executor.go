package arrowexec

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/nodes"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// Executor materializes logical plans into physical operators and runs them.
// It's safe for concurrent use, every execution gets its own registries and allocation budget.
type Executor struct {
	cfg       config.Config
	logger    log.Logger
	metrics   *execution.Metrics
	allocator memory.Allocator
	pool      *execution.Pool
}

type Option func(*Executor)

func WithLogger(logger log.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithRegisterer registers the executor metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Executor) {
		e.metrics = execution.NewMetrics(reg)
	}
}

func WithAllocator(mem memory.Allocator) Option {
	return func(e *Executor) {
		e.allocator = mem
	}
}

// WithPool makes the executor use the given pool instead of the process-wide one.
func WithPool(pool *execution.Pool) Option {
	return func(e *Executor) {
		e.pool = pool
	}
}

func NewExecutor(cfg config.Config, opts ...Option) *Executor {
	e := &Executor{
		cfg:       cfg,
		logger:    log.NewNopLogger(),
		allocator: memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = execution.NewMetrics(nil)
	}
	if e.pool == nil {
		e.pool = execution.DefaultPool(cfg.Threads())
	}
	return e
}

// Execute runs the plan and returns its fully materialized result.
// Errors always carry one of the engine's error kinds, and partial results are never returned.
func (e *Executor) Execute(ctx context.Context, plan logical.Node) (out *table.Table, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, execution.RecoveredError(r)
		}
		if err != nil {
			out, err = nil, octoframe.ExecutionFailure("query", err)
		}
		e.metrics.ObserveQuery(err)
	}()

	m := &materializer{
		scans:  nodes.NewScanRegistry(),
		caches: nodes.NewCacheRegistry(),
		cached: make(map[uint64]execution.NodeWithMeta),
	}
	physical := m.materialize(plan)

	// Every log line of an execution carries its id, so concurrent queries can be told apart.
	logger := log.With(e.logger, "query", ulid.MustNew(ulid.Timestamp(start), rand.Reader).String())
	execCtx := execution.Context{
		Context:   ctx,
		Config:    e.cfg,
		Pool:      e.pool,
		Allocator: execution.NewLimitedAllocator(e.allocator, e.cfg.MemoryLimit),
		Logger:    logger,
		Metrics:   e.metrics,
	}
	out, err = physical.Node.Run(execCtx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	level.Debug(logger).Log("msg", "query finished", "rows", out.NumRows(), "chunks", out.NumChunks(), "duration", time.Since(start))
	return out, nil
}

type materializer struct {
	scans  *nodes.ScanRegistry
	caches *nodes.CacheRegistry
	// cached holds the materialized input of every cache node, so that shared subplans are materialized once.
	cached map[uint64]execution.NodeWithMeta
}

func (m *materializer) materializeAll(inputs []logical.Node) []execution.NodeWithMeta {
	out := make([]execution.NodeWithMeta, len(inputs))
	for i := range inputs {
		out[i] = m.materialize(inputs[i])
	}
	return out
}

func (m *materializer) materialize(node logical.Node) execution.NodeWithMeta {
	var out execution.Node
	switch node.NodeType {
	case logical.NodeTypeScan:
		m.scans.Register(node.Scan.Source)
		out = &nodes.Scan{
			Source:     node.Scan.Source,
			Projection: node.Scan.Projection,
			Predicate:  node.Scan.Predicate,
			Limit:      node.Scan.Limit,
			Registry:   m.scans,
		}
	case logical.NodeTypeFilter:
		out = &nodes.Filter{
			Source:    m.materialize(node.Filter.Input),
			Predicate: node.Filter.Predicate,
		}
	case logical.NodeTypeProject:
		out = &nodes.Project{
			Source:      m.materialize(node.Project.Input),
			Expressions: node.Project.Expressions,
		}
	case logical.NodeTypeGroupBy:
		out = &nodes.GroupBy{
			Source:        m.materialize(node.GroupBy.Input),
			Keys:          node.GroupBy.Keys,
			Aggregations:  node.GroupBy.Aggregations,
			MaintainOrder: node.GroupBy.MaintainOrder,
		}
	case logical.NodeTypeJoin:
		// Both were validated when the node was created.
		keyTypes, err := node.Join.KeyTypes()
		if err != nil {
			panic(err)
		}
		columns, err := node.Join.OutputColumns()
		if err != nil {
			panic(err)
		}
		out = &nodes.Join{
			Left:      m.materialize(node.Join.Left),
			Right:     m.materialize(node.Join.Right),
			LeftOn:    node.Join.LeftOn,
			RightOn:   node.Join.RightOn,
			KeyTypes:  keyTypes,
			How:       node.Join.How,
			BuildSide: node.Join.BuildSide,
			Columns:   columns,
		}
	case logical.NodeTypeSort:
		out = &nodes.Sort{
			Source:     m.materialize(node.Sort.Input),
			By:         node.Sort.By,
			Descending: node.Sort.Descending,
			NullsLast:  node.Sort.NullsLast,
			Limit:      node.Sort.Limit,
		}
	case logical.NodeTypeDistinct:
		out = &nodes.Distinct{
			Source:        m.materialize(node.Distinct.Input),
			Subset:        node.Distinct.Subset,
			Keep:          node.Distinct.Keep,
			MaintainOrder: node.Distinct.MaintainOrder,
		}
	case logical.NodeTypeLimit:
		out = &nodes.Limit{
			Source: m.materialize(node.Limit.Input),
			N:      node.Limit.N,
			Offset: node.Limit.Offset,
		}
	case logical.NodeTypeUnion:
		out = &nodes.Union{
			Sources: m.materializeAll(node.Union.Inputs),
		}
	case logical.NodeTypeCache:
		input, ok := m.cached[node.Cache.ID]
		if !ok {
			input = m.materialize(node.Cache.Input)
			m.cached[node.Cache.ID] = input
		}
		out = &nodes.Cache{
			ID:       node.Cache.ID,
			Source:   input,
			Registry: m.caches,
		}
	case logical.NodeTypeExplode:
		out = &nodes.Explode{
			Source:  m.materialize(node.Explode.Input),
			Columns: node.Explode.Columns,
		}
	case logical.NodeTypeMelt:
		out = &nodes.Melt{
			Source:       m.materialize(node.Melt.Input),
			IDColumns:    node.Melt.IDColumns,
			ValueColumns: node.Melt.ValueColumns,
			VariableName: node.Melt.VariableName,
			ValueName:    node.Melt.ValueName,
			ValueType:    node.MeltValueType(),
		}
	default:
		panic("unexhaustive node type match")
	}

	return execution.NodeWithMeta{
		Node: &instrumented{
			operator: node.NodeType.String(),
			node:     out,
		},
		Schema: node.Schema,
	}
}

// instrumented checks for cancellation before running an operator, and logs and measures it afterwards.
type instrumented struct {
	operator string
	node     execution.Node
}

func (n *instrumented) Run(ctx execution.Context) (*table.Table, error) {
	if err := ctx.Context.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := n.node.Run(ctx)
	if err != nil {
		return nil, octoframe.ExecutionFailure(n.operator, err)
	}
	duration := time.Since(start)
	ctx.Metrics.ObserveOperator(n.operator, duration, out.NumRows())
	level.Debug(ctx.Logger).Log("msg", "operator finished", "operator", n.operator, "rows", out.NumRows(), "chunks", out.NumChunks(), "duration", duration)
	return out, nil
}
