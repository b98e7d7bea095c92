package optimizer

import (
	"context"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/datasources/memory"
	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func ordersSource(t *testing.T) *memory.Datasource {
	tbl, err := table.NewTable(
		table.MustColumn("id", octoframe.Int64, 1, 2, 3, 4, 5, 6, 7),
		table.MustColumn("customer", octoframe.String, "alice", "bob", "alice", "carol", nil, "bob", "dave"),
		table.MustColumn("amount", octoframe.Int64, 10, 20, 30, nil, 50, 60, 70),
	)
	require.NoError(t, err)
	return memory.FromTable("orders", tbl)
}

func customersSource(t *testing.T) *memory.Datasource {
	tbl, err := table.NewTable(
		table.MustColumn("customer", octoframe.String, "alice", "bob", "carol", "erin"),
		table.MustColumn("amount", octoframe.Int64, 100, 200, 300, 400),
		table.MustColumn("city", octoframe.String, "paris", "berlin", nil, "rome"),
	)
	require.NoError(t, err)
	return memory.FromTable("customers", tbl)
}

func mustNode(t *testing.T) func(node logical.Node, err error) logical.Node {
	return func(node logical.Node, err error) logical.Node {
		t.Helper()
		require.NoError(t, err)
		return node
	}
}

func execute(t *testing.T, node logical.Node) (octoframe.Schema, []string) {
	t.Helper()
	pool := execution.NewPool(4)
	t.Cleanup(pool.Close)
	cfg := config.Default()
	cfg.ChunkSize = 2
	cfg.ParallelSortThreshold = 3

	out, err := arrowexec.NewExecutor(cfg, arrowexec.WithPool(pool)).Execute(context.Background(), node)
	require.NoError(t, err)
	rows := []string{}
	for _, row := range out.Rows() {
		values := make([]string, len(row))
		for i := range row {
			values[i] = row[i].String()
		}
		rows = append(rows, strings.Join(values, "|"))
	}
	sort.Strings(rows)
	return out.Schema(), rows
}

func TestOptimizePreservesResults(t *testing.T) {
	must := mustNode(t)
	orders := func() logical.Node { return must(logical.NewScan(ordersSource(t), nil)) }
	customers := func() logical.Node { return must(logical.NewScan(customersSource(t), nil)) }

	tests := []struct {
		name string
		plan func() logical.Node
	}{
		{
			name: "filter over inner join",
			plan: func() logical.Node {
				join := must(logical.NewJoin(orders(), customers(), logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeInner, ""))
				filter := must(logical.NewFilter(join, logical.Col("amount").Gt(logical.Lit(15)).And(logical.Col("city").NotEq(logical.Lit("rome")))))
				return must(logical.NewProject(filter, logical.Col("id"), logical.Col("amount_right").As("limit"), logical.Col("amount").Mul(logical.Lit(2)).As("double")))
			},
		},
		{
			name: "filter over left and right joins",
			plan: func() logical.Node {
				left := must(logical.NewJoin(orders(), customers(), logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeLeft, ""))
				leftFiltered := must(logical.NewFilter(left, logical.Col("amount").Lt(logical.Lit(60)).And(logical.Col("city").IsNull())))
				right := must(logical.NewJoin(orders(), customers(), logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeRight, "_c"))
				rightFiltered := must(logical.NewFilter(right, logical.Col("amount_c").GtEq(logical.Lit(200)).And(logical.Col("id").IsNull().Not())))
				return must(logical.NewProject(must(logical.NewUnion(
					must(logical.NewProject(leftFiltered, logical.Col("customer"), logical.Col("id"))),
					must(logical.NewProject(rightFiltered, logical.Col("customer"), logical.Col("id"))),
				)), logical.Col("customer"), logical.Col("id")))
			},
		},
		{
			name: "filter over renaming projection",
			plan: func() logical.Node {
				project := must(logical.NewProject(orders(), logical.Col("amount").As("id"), logical.Col("id").As("amount"), logical.Col("customer")))
				return must(logical.NewFilter(project, logical.Col("id").Gt(logical.Lit(20)).And(logical.Col("amount").Lt(logical.Lit(6)))))
			},
		},
		{
			name: "filter over window projection",
			plan: func() logical.Node {
				project := must(logical.NewProject(orders(),
					logical.Col("customer"),
					logical.Col("amount"),
					logical.Col("amount").Sum().Over(logical.Col("customer")).As("total"),
				))
				return must(logical.NewFilter(project, logical.Col("total").Gt(logical.Lit(40)).And(logical.Col("amount").Gt(logical.Lit(10)))))
			},
		},
		{
			name: "filter over aggregation",
			plan: func() logical.Node {
				groupBy := must(logical.NewGroupBy(orders(), logical.Cols("customer"), []logical.Expression{
					logical.Col("amount").Sum().As("total"),
					logical.CountRows(),
					logical.Col("id").Max(),
				}, false))
				filter := must(logical.NewFilter(groupBy, logical.Col("customer").NotEq(logical.Lit("bob")).And(logical.Col("total").Gt(logical.Lit(10)))))
				return must(logical.NewProject(filter, logical.Col("customer"), logical.Col("total")))
			},
		},
		{
			name: "limit over sorted projection",
			plan: func() logical.Node {
				project := must(logical.NewProject(orders(), logical.Col("id"), logical.Col("amount").Add(logical.Lit(1)).As("next")))
				sorted := must(logical.NewSort(project, logical.Cols("next"), []bool{true}, nil))
				return must(logical.NewLimit(sorted, 3, 1))
			},
		},
		{
			name: "limit over scan",
			plan: func() logical.Node {
				project := must(logical.NewProject(orders(), logical.Col("customer")))
				return must(logical.NewLimit(project, 2, 1))
			},
		},
		{
			name: "distinct over union",
			plan: func() logical.Node {
				first := must(logical.NewProject(orders(), logical.Col("customer")))
				second := must(logical.NewProject(customers(), logical.Col("customer")))
				distinct := must(logical.NewDistinct(must(logical.NewUnion(first, second)), nil, logical.DistinctKeepFirst, false))
				return must(logical.NewFilter(distinct, logical.Col("customer").NotEq(logical.Lit("alice"))))
			},
		},
		{
			name: "constant predicates",
			plan: func() logical.Node {
				always := must(logical.NewFilter(orders(), logical.Lit(1).Add(logical.Lit(1)).Eq(logical.Lit(2)).Or(logical.Col("amount").Gt(logical.Lit(0)))))
				never := must(logical.NewFilter(orders(), logical.Lit(1).Gt(logical.Lit(2)).And(logical.Col("amount").Gt(logical.Lit(0)))))
				return must(logical.NewUnion(always, never))
			},
		},
		{
			name: "semi and anti joins",
			plan: func() logical.Node {
				semi := must(logical.NewJoin(orders(), customers(), logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeSemi, ""))
				anti := must(logical.NewJoin(orders(), customers(), logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeAnti, ""))
				union := must(logical.NewUnion(semi, anti))
				return must(logical.NewFilter(union, logical.Col("amount").Gt(logical.Lit(10))))
			},
		},
		{
			name: "aggregation without keys",
			plan: func() logical.Node {
				filter := must(logical.NewFilter(orders(), logical.Col("amount").Gt(logical.Lit(1000))))
				return must(logical.NewGroupBy(filter, nil, []logical.Expression{logical.CountRows()}, false))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := tt.plan()
			expectedSchema, expectedRows := execute(t, plan)

			optimized := Optimize(plan)
			schema, rows := execute(t, optimized)
			assert.True(t, expectedSchema.Equal(schema), "schema changed from %s to %s", expectedSchema, schema)
			assert.Equal(t, expectedRows, rows, "optimized plan:\n%s", logical.Explain(optimized))
		})
	}
}

func TestPushDownPredicatesRewritesRenamedColumns(t *testing.T) {
	must := mustNode(t)
	scan := must(logical.NewScan(ordersSource(t), nil))
	project := must(logical.NewProject(scan, logical.Col("amount").As("id"), logical.Col("id").As("amount")))
	filter := must(logical.NewFilter(project, logical.Col("id").Gt(logical.Lit(1))))

	out := Optimize(filter, WithRules(RulePushDownPredicates))
	require.Equal(t, logical.NodeTypeProject, out.NodeType)
	pushed := out.Project.Input
	require.Equal(t, logical.NodeTypeScan, pushed.NodeType)
	require.NotNil(t, pushed.Scan.Predicate)
	assert.Equal(t, "(col(amount) > lit(1))", pushed.Scan.Predicate.String())
}

func TestPushDownPredicatesKeepsWindowConjunctsAbove(t *testing.T) {
	must := mustNode(t)
	scan := must(logical.NewScan(ordersSource(t), nil))
	project := must(logical.NewProject(scan, logical.Col("amount"), logical.RowNumber().Over(logical.Col("customer")).As("n")))
	filter := must(logical.NewFilter(project, logical.Col("n").Eq(logical.Lit(1)).And(logical.Col("amount").Gt(logical.Lit(10)))))

	out := Optimize(filter, WithRules(RulePushDownPredicates))
	require.Equal(t, logical.NodeTypeFilter, out.NodeType)
	assert.Equal(t, "(col(n) == lit(1))", out.Filter.Predicate.String())
	pushed := out.Filter.Input.Project.Input
	require.Equal(t, logical.NodeTypeScan, pushed.NodeType)
	assert.Equal(t, "(col(amount) > lit(10))", pushed.Scan.Predicate.String())
}

func TestPushDownPredicatesRespectsJoinType(t *testing.T) {
	must := mustNode(t)
	orders := must(logical.NewScan(ordersSource(t), nil))
	customers := must(logical.NewScan(customersSource(t), nil))
	join := must(logical.NewJoin(orders, customers, logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeLeft, ""))
	filter := must(logical.NewFilter(join, logical.Col("amount").Gt(logical.Lit(10)).And(logical.Col("amount_right").Gt(logical.Lit(100)))))

	out := Optimize(filter, WithRules(RulePushDownPredicates))
	require.Equal(t, logical.NodeTypeFilter, out.NodeType)
	assert.Equal(t, "(col(amount_right) > lit(100))", out.Filter.Predicate.String())
	left := out.Filter.Input.Join.Left
	require.NotNil(t, left.Scan.Predicate)
	assert.Equal(t, "(col(amount) > lit(10))", left.Scan.Predicate.String())
	assert.Nil(t, out.Filter.Input.Join.Right.Scan.Predicate)

	innerJoin := must(logical.NewJoin(orders, customers, logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeInner, ""))
	innerFilter := must(logical.NewFilter(innerJoin, logical.Col("amount_right").Gt(logical.Lit(100))))
	out = Optimize(innerFilter, WithRules(RulePushDownPredicates))
	require.Equal(t, logical.NodeTypeJoin, out.NodeType)
	require.NotNil(t, out.Join.Right.Scan.Predicate)
	assert.Equal(t, "(col(amount) > lit(100))", out.Join.Right.Scan.Predicate.String())
}

func TestPushDownPredicatesThroughExplodeAndMelt(t *testing.T) {
	must := mustNode(t)
	scan := must(logical.NewScan(ordersSource(t), nil))
	melt := must(logical.NewMelt(scan, []string{"id", "customer"}, []string{"amount"}, "", ""))
	filter := must(logical.NewFilter(melt, logical.Col("customer").Eq(logical.Lit("bob")).And(logical.Col("value").Gt(logical.Lit(15)))))

	out := Optimize(filter, WithRules(RulePushDownPredicates))
	require.Equal(t, logical.NodeTypeFilter, out.NodeType)
	assert.Equal(t, "(col(value) > lit(15))", out.Filter.Predicate.String())
	pushed := out.Filter.Input.Melt.Input
	require.Equal(t, logical.NodeTypeScan, pushed.NodeType)
	require.NotNil(t, pushed.Scan.Predicate)
	assert.Equal(t, `(col(customer) == lit("bob"))`, pushed.Scan.Predicate.String())
	_, rows := execute(t, out)
	assert.Equal(t, []string{`2|"bob"|"amount"|20`, `6|"bob"|"amount"|60`}, rows)

	tagged, err := table.NewTable(
		table.MustColumn("id", octoframe.Int64, 1, 2),
		table.MustColumn("tags", octoframe.ListOf(octoframe.String), []interface{}{"x", "y"}, []interface{}{"z"}),
	)
	require.NoError(t, err)
	tags := must(logical.NewScan(memory.FromTable("tags", tagged), nil))
	explode := must(logical.NewExplode(tags, "tags"))
	filter = must(logical.NewFilter(explode, logical.Col("id").Eq(logical.Lit(1)).And(logical.Col("tags").NotEq(logical.Lit("y")))))

	out = Optimize(filter, WithRules(RulePushDownPredicates))
	require.Equal(t, logical.NodeTypeFilter, out.NodeType)
	assert.Equal(t, `(col(tags) != lit("y"))`, out.Filter.Predicate.String())
	require.Equal(t, logical.NodeTypeExplode, out.Filter.Input.NodeType)
	assert.Equal(t, "(col(id) == lit(1))", out.Filter.Input.Explode.Input.Scan.Predicate.String())
	_, rows = execute(t, out)
	assert.Equal(t, []string{`1|"x"`}, rows)
}

func TestSimplifyExpressions(t *testing.T) {
	must := mustNode(t)
	scan := must(logical.NewScan(ordersSource(t), nil))

	filter := must(logical.NewFilter(scan, logical.Lit(1).Add(logical.Lit(2)).Gt(logical.Lit(2)).And(logical.Col("amount").Gt(logical.Lit(0)))))
	out := Optimize(filter, WithRules(RuleSimplifyExpressions))
	require.Equal(t, logical.NodeTypeFilter, out.NodeType)
	assert.Equal(t, "(col(amount) > lit(0))", out.Filter.Predicate.String())

	never := must(logical.NewFilter(scan, logical.Col("amount").Gt(logical.Lit(0)).And(logical.Lit(false))))
	out = Optimize(never, WithRules(RuleSimplifyExpressions))
	require.Equal(t, logical.NodeTypeLimit, out.NodeType)
	assert.Equal(t, 0, out.Limit.N)

	always := must(logical.NewFilter(scan, logical.Lit(true).Not().Not()))
	out = Optimize(always, WithRules(RuleSimplifyExpressions))
	assert.Equal(t, logical.NodeTypeScan, out.NodeType)

	project := must(logical.NewProject(scan, logical.Lit(2).Mul(logical.Lit(3)).As("six"), logical.Col("amount").Add(logical.Lit(1).Sub(logical.Lit(1)))))
	out = Optimize(project, WithRules(RuleSimplifyExpressions))
	assert.Equal(t, project.Schema, out.Schema)
	assert.Equal(t, "lit(6) AS six", out.Project.Expressions[0].String())
	assert.Equal(t, "(col(amount) + lit(0))", out.Project.Expressions[1].String())
}

func TestSimplifyExpressionsKeepsFailingConstants(t *testing.T) {
	must := mustNode(t)
	scan := must(logical.NewScan(ordersSource(t), nil))
	project := must(logical.NewProject(scan, logical.Lit("abc").StrictCast(octoframe.Int64).As("x")))

	out := Optimize(project, WithRules(RuleSimplifyExpressions))
	assert.Equal(t, logical.ExpressionTypeAlias, out.Project.Expressions[0].ExpressionType)
	assert.Equal(t, logical.ExpressionTypeCast, out.Project.Expressions[0].Alias.Operand.ExpressionType)
}

func TestMergeFilters(t *testing.T) {
	must := mustNode(t)
	scan := must(logical.NewScan(ordersSource(t), nil))
	inner := must(logical.NewFilter(scan, logical.Col("amount").Gt(logical.Lit(1))))
	outer := must(logical.NewFilter(inner, logical.Col("id").Lt(logical.Lit(5))))

	out := Optimize(outer, WithRules(RuleMergeFilters))
	require.Equal(t, logical.NodeTypeFilter, out.NodeType)
	assert.Equal(t, logical.NodeTypeScan, out.Filter.Input.NodeType)
	assert.Equal(t, "((col(id) < lit(5)) AND (col(amount) > lit(1)))", out.Filter.Predicate.String())
}

func TestPushDownLimit(t *testing.T) {
	must := mustNode(t)
	scan := must(logical.NewScan(ordersSource(t), nil))
	sorted := must(logical.NewSort(scan, logical.Cols("amount"), nil, nil))
	limit := must(logical.NewLimit(sorted, 2, 3))

	out := Optimize(limit, WithRules(RulePushDownLimit))
	require.Equal(t, logical.NodeTypeLimit, out.NodeType)
	assert.Equal(t, 5, out.Limit.Input.Sort.Limit)

	project := must(logical.NewProject(scan, logical.Col("id")))
	limit = must(logical.NewLimit(project, 2, 0))
	out = Optimize(limit, WithRules(RulePushDownLimit))
	require.Equal(t, logical.NodeTypeProject, out.NodeType)
	require.Equal(t, logical.NodeTypeLimit, out.Project.Input.NodeType)
	assert.Equal(t, 2, out.Project.Input.Limit.Input.Scan.Limit)

	windowed := must(logical.NewProject(scan, logical.Col("id").CumSum()))
	limit = must(logical.NewLimit(windowed, 2, 0))
	out = Optimize(limit, WithRules(RulePushDownLimit))
	assert.Equal(t, logical.NodeTypeLimit, out.NodeType)
	assert.Equal(t, -1, out.Limit.Input.Project.Input.Scan.Limit)

	rest := must(logical.NewLimit(sorted, math.MaxInt, 1))
	out = Optimize(rest, WithRules(RulePushDownLimit))
	require.Equal(t, logical.NodeTypeLimit, out.NodeType)
	assert.Equal(t, -1, out.Limit.Input.Sort.Limit)
}

func TestPushDownProjections(t *testing.T) {
	must := mustNode(t)
	orders := must(logical.NewScan(ordersSource(t), nil))
	customers := must(logical.NewScan(customersSource(t), nil))
	join := must(logical.NewJoin(orders, customers, logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeInner, ""))
	project := must(logical.NewProject(join, logical.Col("id"), logical.Col("amount_right")))

	out := Optimize(project, WithRules(RulePushDownProjections))
	assert.Equal(t, project.Schema, out.Schema)
	// amount stays on the left, so that the right amount keeps its suffix.
	assert.Equal(t, []string{"id", "customer", "amount"}, out.Project.Input.Join.Left.Schema.Names())
	assert.Equal(t, []string{"customer", "amount"}, out.Project.Input.Join.Right.Schema.Names())

	groupBy := must(logical.NewGroupBy(orders, nil, []logical.Expression{logical.CountRows()}, false))
	out = Optimize(groupBy, WithRules(RulePushDownProjections))
	assert.Equal(t, []string{"id"}, out.GroupBy.Input.Schema.Names())

	unused := must(logical.NewGroupBy(orders, logical.Cols("customer"), []logical.Expression{
		logical.Col("amount").Sum(),
		logical.Col("id").Max().As("max_id"),
	}, false))
	out = Optimize(must(logical.NewProject(unused, logical.Col("max_id"))), WithRules(RulePushDownProjections))
	assert.Equal(t, []string{"customer", "max_id"}, out.Project.Input.Schema.Names())
	assert.Equal(t, []string{"id", "customer"}, out.Project.Input.GroupBy.Input.Schema.Names())
}

func TestSelectJoinBuildSide(t *testing.T) {
	must := mustNode(t)
	orders := must(logical.NewScan(ordersSource(t), nil))
	customers := must(logical.NewScan(customersSource(t), nil))

	join := must(logical.NewJoin(orders, customers, logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeInner, ""))
	out := Optimize(join, WithRules(RuleSelectJoinBuildSide))
	assert.Equal(t, logical.BuildSideRight, out.Join.BuildSide)

	limited := must(logical.NewLimit(orders, 2, 0))
	join = must(logical.NewJoin(limited, customers, logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeOuter, ""))
	out = Optimize(join, WithRules(RuleSelectJoinBuildSide))
	assert.Equal(t, logical.BuildSideLeft, out.Join.BuildSide)

	semi := must(logical.NewJoin(limited, customers, logical.Cols("customer"), logical.Cols("customer"), logical.JoinTypeSemi, ""))
	out = Optimize(semi, WithRules(RuleSelectJoinBuildSide))
	assert.Equal(t, logical.BuildSideAuto, out.Join.BuildSide)
}

func TestOptimizeSkipsDisabledRules(t *testing.T) {
	must := mustNode(t)
	scan := must(logical.NewScan(ordersSource(t), nil))
	filter := must(logical.NewFilter(scan, logical.Col("amount").Gt(logical.Lit(1))))

	cfg := config.Default()
	cfg.DisabledOptimizerRules = []string{RulePushDownPredicates}
	out := Optimize(filter, WithConfig(cfg))
	assert.Equal(t, logical.NodeTypeFilter, out.NodeType)

	out = Optimize(filter, WithoutRules(RulePushDownPredicates, RulePushDownProjections))
	assert.Equal(t, logical.NodeTypeFilter, out.NodeType)

	out = Optimize(filter)
	require.Equal(t, logical.NodeTypeScan, out.NodeType)
	assert.NotNil(t, out.Scan.Predicate)
}
