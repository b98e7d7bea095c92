package lazy

import (
	"context"
	"fmt"

	"github.com/cube2222/octoframe/arrowexec"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/datasources/memory"
	"github.com/cube2222/octoframe/graph"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/optimizer"
	"github.com/cube2222/octoframe/table"
)

// LazyFrame builds a logical plan step by step. Nothing is computed until Collect.
// Every step is validated eagerly, the first failure is kept and returned by Err and Collect.
type LazyFrame struct {
	node logical.Node
	err  error
}

func newFrame(node logical.Node, err error) LazyFrame {
	return LazyFrame{node: node, err: err}
}

func Scan(source logical.Source, columns ...string) LazyFrame {
	var projection []string
	if len(columns) > 0 {
		projection = columns
	}
	return newFrame(logical.NewScan(source, projection))
}

// FromTable wraps an in-memory table, which may be scanned any number of times.
func FromTable(name string, tbl *table.Table) LazyFrame {
	return Scan(memory.FromTable(name, tbl))
}

// FromPlan wraps an already built logical plan.
func FromPlan(node logical.Node) LazyFrame {
	return LazyFrame{node: node}
}

func (lf LazyFrame) then(f func(node logical.Node) (logical.Node, error)) LazyFrame {
	if lf.err != nil {
		return lf
	}
	return newFrame(f(lf.node))
}

func (lf LazyFrame) Filter(predicate logical.Expression) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewFilter(node, predicate)
	})
}

func (lf LazyFrame) Select(exprs ...logical.Expression) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewProject(node, exprs...)
	})
}

// WithColumns adds the expressions as columns. An expression named like an existing column replaces it in place.
func (lf LazyFrame) WithColumns(exprs ...logical.Expression) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		byName := make(map[string]logical.Expression, len(exprs))
		for _, expr := range exprs {
			name := expr.OutputName()
			if _, ok := byName[name]; ok {
				return logical.Node{}, octoframe.NewSchemaError("column '%s' is added more than once", name)
			}
			byName[name] = expr
		}

		out := make([]logical.Expression, 0, len(node.Schema.Fields)+len(exprs))
		for _, name := range node.Schema.Names() {
			if expr, ok := byName[name]; ok {
				out = append(out, expr)
				delete(byName, name)
				continue
			}
			out = append(out, logical.Col(name))
		}
		for _, expr := range exprs {
			if _, ok := byName[expr.OutputName()]; ok {
				out = append(out, expr)
			}
		}
		return logical.NewProject(node, out...)
	})
}

type GroupBy struct {
	frame         LazyFrame
	keys          []logical.Expression
	maintainOrder bool
}

// GroupBy groups by the keys. Group order is unspecified, see GroupByStable.
func (lf LazyFrame) GroupBy(keys ...logical.Expression) GroupBy {
	return GroupBy{frame: lf, keys: keys}
}

// GroupByStable groups by the keys, with groups in the order they first appear.
func (lf LazyFrame) GroupByStable(keys ...logical.Expression) GroupBy {
	return GroupBy{frame: lf, keys: keys, maintainOrder: true}
}

func (g GroupBy) Agg(aggregations ...logical.Expression) LazyFrame {
	return g.frame.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewGroupBy(node, g.keys, aggregations, g.maintainOrder)
	})
}

type joinOptions struct {
	suffix string
}

type JoinOption func(*joinOptions)

// WithSuffix sets the suffix added to right column names colliding with left ones.
func WithSuffix(suffix string) JoinOption {
	return func(o *joinOptions) {
		o.suffix = suffix
	}
}

func (lf LazyFrame) Join(other LazyFrame, leftOn, rightOn []logical.Expression, how logical.JoinType, opts ...JoinOption) LazyFrame {
	if other.err != nil && lf.err == nil {
		return other
	}
	options := &joinOptions{suffix: logical.DefaultJoinSuffix}
	for _, opt := range opts {
		opt(options)
	}
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewJoin(node, other.node, leftOn, rightOn, how, options.suffix)
	})
}

// Sort sorts by the keys. descending and nullsLast may be nil, have a single entry, or one entry per key.
func (lf LazyFrame) Sort(by []logical.Expression, descending []bool, nullsLast []bool) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewSort(node, by, descending, nullsLast)
	})
}

// Distinct removes duplicate rows, comparing the subset columns, or all columns if subset is nil.
func (lf LazyFrame) Distinct(subset []string, keep logical.DistinctKeep, maintainOrder bool) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewDistinct(node, subset, keep, maintainOrder)
	})
}

// Explode turns every element of the list columns into its own row, repeating the other columns.
// The lists of a row must all have the same length. Null and empty lists become a single null.
func (lf LazyFrame) Explode(columns ...string) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewExplode(node, columns...)
	})
}

type meltOptions struct {
	variableName string
	valueName    string
}

type MeltOption func(*meltOptions)

func WithVariableName(name string) MeltOption {
	return func(o *meltOptions) {
		o.variableName = name
	}
}

func WithValueName(name string) MeltOption {
	return func(o *meltOptions) {
		o.valueName = name
	}
}

// Melt unpivots the value columns into variable and value columns, keeping the id columns.
// A nil valueColumns melts every column that isn't an id.
func (lf LazyFrame) Melt(idColumns, valueColumns []string, opts ...MeltOption) LazyFrame {
	options := &meltOptions{variableName: logical.DefaultMeltVariableName, valueName: logical.DefaultMeltValueName}
	for _, opt := range opts {
		opt(options)
	}
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewMelt(node, idColumns, valueColumns, options.variableName, options.valueName)
	})
}

// DropNulls removes the rows with a null in any of the subset columns, or in any column if none are given.
func (lf LazyFrame) DropNulls(subset ...string) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		if len(subset) == 0 {
			subset = node.Schema.Names()
		}
		predicates := make([]logical.Expression, len(subset))
		for i, name := range subset {
			predicates[i] = logical.Col(name).IsNotNull()
		}
		predicate, ok := logical.Conjunction(predicates)
		if !ok {
			return node, nil
		}
		return logical.NewFilter(node, predicate)
	})
}

// FillNull replaces nulls in the subset columns with the value. Without a subset it fills every column
// the value is type compatible with, a named column must be compatible.
func (lf LazyFrame) FillNull(value logical.Expression, subset ...string) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		valueType, err := logical.TypeOf(value, node.Schema)
		if err != nil {
			return logical.Node{}, err
		}
		fill := make(map[string]bool, len(subset))
		for _, name := range subset {
			field, err := node.Schema.Field(name)
			if err != nil {
				return logical.Node{}, err
			}
			if _, ok := octoframe.Supertype(field.Type, valueType); !ok {
				return logical.Node{}, octoframe.NewTypeError("can't fill nulls of column '%s' of type %s with %s", name, field.Type, valueType)
			}
			fill[name] = true
		}

		exprs := make([]logical.Expression, len(node.Schema.Fields))
		for i, field := range node.Schema.Fields {
			exprs[i] = logical.Col(field.Name)
			if len(subset) > 0 && !fill[field.Name] {
				continue
			}
			if _, ok := octoframe.Supertype(field.Type, valueType); !ok {
				continue
			}
			exprs[i] = logical.When(logical.Col(field.Name).IsNull()).Then(value).Otherwise(logical.Col(field.Name)).As(field.Name)
		}
		return logical.NewProject(node, exprs...)
	})
}

func (lf LazyFrame) Limit(n int) LazyFrame {
	return lf.Slice(0, n)
}

func (lf LazyFrame) Head(n int) LazyFrame {
	return lf.Limit(n)
}

// Slice returns at most length rows, starting at offset.
func (lf LazyFrame) Slice(offset, length int) LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewLimit(node, length, offset)
	})
}

// Union appends the rows of the other frames, which must have the same schema.
func (lf LazyFrame) Union(others ...LazyFrame) LazyFrame {
	for _, other := range others {
		if other.err != nil && lf.err == nil {
			return other
		}
	}
	return lf.then(func(node logical.Node) (logical.Node, error) {
		inputs := []logical.Node{node}
		for _, other := range others {
			inputs = append(inputs, other.node)
		}
		return logical.NewUnion(inputs...)
	})
}

// Cache makes the frame computed at most once per Collect, however many times it's used.
func (lf LazyFrame) Cache() LazyFrame {
	return lf.then(func(node logical.Node) (logical.Node, error) {
		return logical.NewCache(node), nil
	})
}

func (lf LazyFrame) Err() error {
	return lf.err
}

func (lf LazyFrame) Schema() (octoframe.Schema, error) {
	if lf.err != nil {
		return octoframe.Schema{}, lf.err
	}
	return lf.node.Schema, nil
}

// Plan returns the logical plan, optimized unless disabled by the options.
func (lf LazyFrame) Plan(opts ...CollectOption) (logical.Node, error) {
	if lf.err != nil {
		return logical.Node{}, lf.err
	}
	options, err := getCollectOptions(opts...)
	if err != nil {
		return logical.Node{}, err
	}
	return options.plan(lf.node), nil
}

// Describe returns a graph of the plan, which can be rendered with graph.Show.
func (lf LazyFrame) Describe(opts ...CollectOption) (*graph.Node, error) {
	plan, err := lf.Plan(opts...)
	if err != nil {
		return nil, err
	}
	return logical.DescribeNode(plan), nil
}

func (lf LazyFrame) Explain(opts ...CollectOption) (string, error) {
	plan, err := lf.Plan(opts...)
	if err != nil {
		return "", err
	}
	return logical.Explain(plan), nil
}

// Executor runs logical plans. *arrowexec.Executor is the default implementation.
type Executor interface {
	Execute(ctx context.Context, plan logical.Node) (*table.Table, error)
}

type collectOptions struct {
	config           *config.Config
	optimize         bool
	optimizerOptions []optimizer.Option
	executor         Executor
}

type CollectOption func(*collectOptions)

// WithConfig overrides the process configuration.
func WithConfig(cfg config.Config) CollectOption {
	return func(o *collectOptions) {
		o.config = &cfg
	}
}

func WithoutOptimization() CollectOption {
	return func(o *collectOptions) {
		o.optimize = false
	}
}

// WithOptimizerOptions passes options to the optimizer, like the set of rules to run.
func WithOptimizerOptions(opts ...optimizer.Option) CollectOption {
	return func(o *collectOptions) {
		o.optimizerOptions = append(o.optimizerOptions, opts...)
	}
}

func WithExecutor(executor Executor) CollectOption {
	return func(o *collectOptions) {
		o.executor = executor
	}
}

func getCollectOptions(opts ...CollectOption) (*collectOptions, error) {
	options := &collectOptions{
		optimize: true,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.config == nil {
		cfg, err := config.Process()
		if err != nil {
			return nil, fmt.Errorf("couldn't get configuration: %w", err)
		}
		options.config = &cfg
	}
	return options, nil
}

func (o *collectOptions) plan(node logical.Node) logical.Node {
	if !o.optimize {
		return node
	}
	return optimizer.Optimize(node, append([]optimizer.Option{optimizer.WithConfig(*o.config)}, o.optimizerOptions...)...)
}

// Collect optimizes the plan and executes it.
func (lf LazyFrame) Collect(ctx context.Context, opts ...CollectOption) (*table.Table, error) {
	if lf.err != nil {
		return nil, lf.err
	}
	options, err := getCollectOptions(opts...)
	if err != nil {
		return nil, err
	}
	executor := options.executor
	if executor == nil {
		executor = arrowexec.NewExecutor(*options.config)
	}
	return executor.Execute(ctx, options.plan(lf.node))
}
