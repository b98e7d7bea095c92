package logical

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/cube2222/octoframe/octoframe"
)

// Node is an immutable logical plan node with its output schema.
// Nodes should be created with the New* constructors, which validate eagerly.
type Node struct {
	Schema octoframe.Schema

	NodeType NodeType
	// Only one of the below may be non-null.
	Scan     *Scan
	Filter   *Filter
	Project  *Project
	GroupBy  *GroupBy
	Join     *Join
	Sort     *Sort
	Distinct *Distinct
	Limit    *Limit
	Union    *Union
	Cache    *Cache
	Explode  *Explode
	Melt     *Melt
}

type NodeType int

const (
	NodeTypeScan NodeType = iota
	NodeTypeFilter
	NodeTypeProject
	NodeTypeGroupBy
	NodeTypeJoin
	NodeTypeSort
	NodeTypeDistinct
	NodeTypeLimit
	NodeTypeUnion
	NodeTypeCache
	NodeTypeExplode
	NodeTypeMelt
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeScan:
		return "scan"
	case NodeTypeFilter:
		return "filter"
	case NodeTypeProject:
		return "project"
	case NodeTypeGroupBy:
		return "group_by"
	case NodeTypeJoin:
		return "join"
	case NodeTypeSort:
		return "sort"
	case NodeTypeDistinct:
		return "distinct"
	case NodeTypeLimit:
		return "limit"
	case NodeTypeUnion:
		return "union"
	case NodeTypeCache:
		return "cache"
	case NodeTypeExplode:
		return "explode"
	case NodeTypeMelt:
		return "melt"
	}
	return "unknown"
}

type Scan struct {
	Source Source
	// Projection lists the scanned columns in source order, nil means all columns.
	Projection []string
	Predicate  *Expression
	// Limit is -1 if unlimited.
	Limit int
}

type Filter struct {
	Predicate Expression
	Input     Node
}

type Project struct {
	Expressions []Expression
	Input       Node
}

type GroupBy struct {
	Keys []Expression
	// Aggregations may combine several aggregates, like sum(a) / count(a).
	Aggregations []Expression
	// MaintainOrder makes groups appear in first-encountered order.
	MaintainOrder bool
	Input         Node
}

type JoinType int

const (
	JoinTypeInner JoinType = iota
	JoinTypeLeft
	JoinTypeRight
	JoinTypeOuter
	JoinTypeSemi
	JoinTypeAnti
)

func (t JoinType) String() string {
	switch t {
	case JoinTypeInner:
		return "inner"
	case JoinTypeLeft:
		return "left"
	case JoinTypeRight:
		return "right"
	case JoinTypeOuter:
		return "outer"
	case JoinTypeSemi:
		return "semi"
	case JoinTypeAnti:
		return "anti"
	}
	return "unknown"
}

type BuildSide int

const (
	// BuildSideAuto lets the executor build on the smaller actual input.
	BuildSideAuto BuildSide = iota
	BuildSideLeft
	BuildSideRight
)

func (s BuildSide) String() string {
	switch s {
	case BuildSideAuto:
		return "auto"
	case BuildSideLeft:
		return "left"
	case BuildSideRight:
		return "right"
	}
	return "unknown"
}

const DefaultJoinSuffix = "_right"

type Join struct {
	Left, Right     Node
	LeftOn, RightOn []Expression
	How             JoinType
	Suffix          string
	BuildSide       BuildSide
}

type Sort struct {
	By         []Expression
	Descending []bool
	NullsLast  []bool
	// Limit is -1 if unlimited. When set, only the first Limit rows are produced.
	Limit int
	Input Node
}

type DistinctKeep int

const (
	DistinctKeepFirst DistinctKeep = iota
	DistinctKeepLast
	// DistinctKeepNone drops all rows whose key is duplicated.
	DistinctKeepNone
)

func (k DistinctKeep) String() string {
	switch k {
	case DistinctKeepFirst:
		return "first"
	case DistinctKeepLast:
		return "last"
	case DistinctKeepNone:
		return "none"
	}
	return "unknown"
}

type Distinct struct {
	// Subset is nil if all columns are used.
	Subset        []string
	Keep          DistinctKeep
	MaintainOrder bool
	Input         Node
}

type Limit struct {
	N, Offset int
	Input     Node
}

type Union struct {
	Inputs []Node
}

type Cache struct {
	ID    uint64
	Input Node
}

var cacheIDCounter atomic.Uint64

// Explode turns every element of the list columns into its own row, repeating the other columns.
// Null and empty lists produce a single row with nulls in the exploded columns.
type Explode struct {
	Columns []string
	Input   Node
}

const (
	DefaultMeltVariableName = "variable"
	DefaultMeltValueName    = "value"
)

// Melt unpivots the value columns into rows of the id columns, the value column name and the value.
type Melt struct {
	IDColumns    []string
	ValueColumns []string
	VariableName string
	ValueName    string
	Input        Node
}

func NewScan(source Source, projection []string) (Node, error) {
	return newScan(&Scan{Source: source, Projection: projection, Limit: -1})
}

func newScan(scan *Scan) (Node, error) {
	schema, err := scan.Source.Schema()
	if err != nil {
		return Node{}, fmt.Errorf("couldn't get schema of source '%s': %w", scan.Source.Name(), err)
	}
	if err := schema.Validate(); err != nil {
		return Node{}, err
	}
	if scan.Predicate != nil {
		if err := checkPredicate(*scan.Predicate, schema); err != nil {
			return Node{}, err
		}
	}
	if scan.Projection != nil {
		projected, err := schema.Select(scan.Projection...)
		if err != nil {
			return Node{}, err
		}
		schema = projected
	}
	return Node{
		Schema:   schema,
		NodeType: NodeTypeScan,
		Scan:     scan,
	}, nil
}

// NewScanWith creates a scan with a pushed down projection, predicate and limit.
// The predicate may reference any source column, projected or not. The limit applies after the predicate.
func NewScanWith(source Source, projection []string, predicate *Expression, limit int) (Node, error) {
	return newScan(&Scan{Source: source, Projection: projection, Predicate: predicate, Limit: limit})
}

func checkPredicate(predicate Expression, schema octoframe.Schema) error {
	info, err := Typecheck(predicate, schema)
	if err != nil {
		return err
	}
	if info.HasAggregate {
		return octoframe.NewPlanError("aggregate expressions aren't allowed in filter predicates: %s", predicate)
	}
	if info.HasWindow {
		return octoframe.NewPlanError("window expressions aren't allowed in filter predicates: %s", predicate)
	}
	if info.Type.TypeID != octoframe.TypeIDBoolean && info.Type.TypeID != octoframe.TypeIDNull {
		return octoframe.NewTypeError("filter predicate must be Boolean, got %s: %s", info.Type, predicate)
	}
	return nil
}

func NewFilter(input Node, predicate Expression) (Node, error) {
	if err := checkPredicate(predicate, input.Schema); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   input.Schema,
		NodeType: NodeTypeFilter,
		Filter:   &Filter{Predicate: predicate, Input: input},
	}, nil
}

func NewProject(input Node, expressions ...Expression) (Node, error) {
	fields := make([]octoframe.SchemaField, len(expressions))
	for i, expr := range expressions {
		info, err := Typecheck(expr, input.Schema)
		if err != nil {
			return Node{}, err
		}
		if info.HasAggregate {
			return Node{}, octoframe.NewPlanError("aggregate expressions are only allowed in group by aggregations, use a window instead: %s", expr)
		}
		fields[i] = octoframe.SchemaField{Name: expr.OutputName(), Type: info.Type}
	}
	schema := octoframe.NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   schema,
		NodeType: NodeTypeProject,
		Project:  &Project{Expressions: expressions, Input: input},
	}, nil
}

func NewGroupBy(input Node, keys []Expression, aggregations []Expression, maintainOrder bool) (Node, error) {
	fields := make([]octoframe.SchemaField, 0, len(keys)+len(aggregations))
	keyNames := make(map[string]bool, len(keys))
	for _, key := range keys {
		info, err := Typecheck(key, input.Schema)
		if err != nil {
			return Node{}, err
		}
		if info.HasAggregate || info.HasWindow {
			return Node{}, octoframe.NewPlanError("group by keys can't contain aggregate or window expressions: %s", key)
		}
		if info.Type.TypeID == octoframe.TypeIDList {
			return Node{}, octoframe.NewTypeError("can't group by %s of type %s", key, info.Type)
		}
		keyNames[key.OutputName()] = true
		fields = append(fields, octoframe.SchemaField{Name: key.OutputName(), Type: info.Type})
	}
	for _, agg := range aggregations {
		info, err := Typecheck(agg, input.Schema)
		if err != nil {
			return Node{}, err
		}
		if info.HasWindow {
			return Node{}, octoframe.NewPlanError("window expressions aren't allowed in aggregations: %s", agg)
		}
		for _, name := range info.BareColumns {
			if !keyNames[name] {
				return Node{}, octoframe.NewPlanError("column '%s' is used outside of an aggregate in %s", name, agg)
			}
		}
		fields = append(fields, octoframe.SchemaField{Name: agg.OutputName(), Type: info.Type})
	}
	schema := octoframe.NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   schema,
		NodeType: NodeTypeGroupBy,
		GroupBy: &GroupBy{
			Keys:          keys,
			Aggregations:  aggregations,
			MaintainOrder: maintainOrder,
			Input:         input,
		},
	}, nil
}

// JoinColumn describes where an output column of a join comes from.
type JoinColumn struct {
	Name string
	Type octoframe.Type
	// FromRight is set if the column comes from the right input.
	FromRight bool
	// Index is the index of the column in its input's schema.
	Index int
	// CoalesceRightIndex is the index of the right key column merged into this left column, -1 if none.
	CoalesceRightIndex int
}

func NewJoin(left, right Node, leftOn, rightOn []Expression, how JoinType, suffix string) (Node, error) {
	return newJoin(&Join{
		Left:    left,
		Right:   right,
		LeftOn:  leftOn,
		RightOn: rightOn,
		How:     how,
		Suffix:  suffix,
	})
}

func newJoin(join *Join) (Node, error) {
	if len(join.LeftOn) == 0 || len(join.LeftOn) != len(join.RightOn) {
		return Node{}, octoframe.NewPlanError("join needs the same non-zero number of keys on both sides, got %d and %d", len(join.LeftOn), len(join.RightOn))
	}
	if join.Suffix == "" {
		join.Suffix = DefaultJoinSuffix
	}
	if _, err := join.KeyTypes(); err != nil {
		return Node{}, err
	}
	columns, err := join.OutputColumns()
	if err != nil {
		return Node{}, err
	}
	fields := make([]octoframe.SchemaField, len(columns))
	for i := range columns {
		fields[i] = octoframe.SchemaField{Name: columns[i].Name, Type: columns[i].Type}
	}
	schema := octoframe.NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   schema,
		NodeType: NodeTypeJoin,
		Join:     join,
	}, nil
}

// KeyTypes returns the supertype of each pair of join keys.
func (join *Join) KeyTypes() ([]octoframe.Type, error) {
	out := make([]octoframe.Type, len(join.LeftOn))
	for i := range join.LeftOn {
		leftType, err := checkJoinKey(join.LeftOn[i], join.Left.Schema)
		if err != nil {
			return nil, err
		}
		rightType, err := checkJoinKey(join.RightOn[i], join.Right.Schema)
		if err != nil {
			return nil, err
		}
		t, ok := octoframe.Supertype(leftType, rightType)
		if !ok || t.TypeID == octoframe.TypeIDList {
			return nil, octoframe.NewTypeError("can't join %s of type %s with %s of type %s", join.LeftOn[i], leftType, join.RightOn[i], rightType)
		}
		out[i] = t
	}
	return out, nil
}

func checkJoinKey(key Expression, schema octoframe.Schema) (octoframe.Type, error) {
	info, err := Typecheck(key, schema)
	if err != nil {
		return octoframe.Type{}, err
	}
	if info.HasAggregate || info.HasWindow {
		return octoframe.Type{}, octoframe.NewPlanError("join keys can't contain aggregate or window expressions: %s", key)
	}
	return info.Type, nil
}

// mergedRightKeys returns, for each right column index merged into a left key column, the left column index.
func (join *Join) mergedRightKeys() map[int]int {
	out := make(map[int]int)
	if join.How == JoinTypeSemi || join.How == JoinTypeAnti {
		return out
	}
	for i := range join.LeftOn {
		if join.LeftOn[i].ExpressionType != ExpressionTypeColumn || join.RightOn[i].ExpressionType != ExpressionTypeColumn {
			continue
		}
		name := join.LeftOn[i].Column.Name
		if join.RightOn[i].Column.Name != name {
			continue
		}
		leftIndex := join.Left.Schema.FieldIndex(name)
		rightIndex := join.Right.Schema.FieldIndex(name)
		if leftIndex == -1 || rightIndex == -1 {
			continue
		}
		if !join.Left.Schema.Fields[leftIndex].Type.Equal(join.Right.Schema.Fields[rightIndex].Type) {
			continue
		}
		out[rightIndex] = leftIndex
	}
	return out
}

// OutputColumns returns the layout of the join output: left columns, then the right columns
// which aren't merged into their left key counterparts, suffixed on name collisions.
func (join *Join) OutputColumns() ([]JoinColumn, error) {
	merged := join.mergedRightKeys()
	coalesce := join.How == JoinTypeRight || join.How == JoinTypeOuter

	out := make([]JoinColumn, 0, len(join.Left.Schema.Fields)+len(join.Right.Schema.Fields))
	leftNames := make(map[string]bool, len(join.Left.Schema.Fields))
	for i, field := range join.Left.Schema.Fields {
		out = append(out, JoinColumn{Name: field.Name, Type: field.Type, Index: i, CoalesceRightIndex: -1})
		leftNames[field.Name] = true
	}
	if coalesce {
		for rightIndex, leftIndex := range merged {
			out[leftIndex].CoalesceRightIndex = rightIndex
		}
	}
	if join.How == JoinTypeSemi || join.How == JoinTypeAnti {
		return out, nil
	}
	for i, field := range join.Right.Schema.Fields {
		if _, ok := merged[i]; ok {
			continue
		}
		name := field.Name
		if leftNames[name] {
			name += join.Suffix
		}
		out = append(out, JoinColumn{Name: name, Type: field.Type, FromRight: true, Index: i, CoalesceRightIndex: -1})
	}
	return out, nil
}

// NewSort creates a sort node. descending and nullsLast may be nil, have a single entry used for all keys,
// or have one entry per key. By default nulls go last when ascending and first when descending.
func NewSort(input Node, by []Expression, descending []bool, nullsLast []bool) (Node, error) {
	if len(by) == 0 {
		return Node{}, octoframe.NewPlanError("sort needs at least one key")
	}
	resolvedDescending, err := broadcastFlags("descending", descending, len(by), nil)
	if err != nil {
		return Node{}, err
	}
	resolvedNullsLast, err := broadcastFlags("nulls_last", nullsLast, len(by), func(i int) bool { return !resolvedDescending[i] })
	if err != nil {
		return Node{}, err
	}
	return newSort(&Sort{By: by, Descending: resolvedDescending, NullsLast: resolvedNullsLast, Limit: -1, Input: input})
}

func newSort(sort *Sort) (Node, error) {
	for _, key := range sort.By {
		info, err := Typecheck(key, sort.Input.Schema)
		if err != nil {
			return Node{}, err
		}
		if info.HasAggregate || info.HasWindow {
			return Node{}, octoframe.NewPlanError("sort keys can't contain aggregate or window expressions: %s", key)
		}
		if info.Type.TypeID != octoframe.TypeIDNull && !info.Type.IsOrdered() {
			return Node{}, octoframe.NewTypeError("can't sort by %s of type %s", key, info.Type)
		}
	}
	return Node{
		Schema:   sort.Input.Schema,
		NodeType: NodeTypeSort,
		Sort:     sort,
	}, nil
}

func broadcastFlags(name string, flags []bool, n int, defaultFlag func(i int) bool) ([]bool, error) {
	out := make([]bool, n)
	switch len(flags) {
	case 0:
		if defaultFlag != nil {
			for i := range out {
				out[i] = defaultFlag(i)
			}
		}
	case 1:
		for i := range out {
			out[i] = flags[0]
		}
	case n:
		copy(out, flags)
	default:
		return nil, octoframe.NewPlanError("sort has %d keys but %d %s flags", n, len(flags), name)
	}
	return out, nil
}

// NewDistinct creates a distinct node. A nil subset means all columns.
func NewDistinct(input Node, subset []string, keep DistinctKeep, maintainOrder bool) (Node, error) {
	for _, name := range subset {
		if _, err := input.Schema.Field(name); err != nil {
			return Node{}, err
		}
	}
	if subset != nil && len(subset) == 0 {
		subset = nil
	}
	return Node{
		Schema:   input.Schema,
		NodeType: NodeTypeDistinct,
		Distinct: &Distinct{Subset: subset, Keep: keep, MaintainOrder: maintainOrder, Input: input},
	}, nil
}

// SubsetColumns returns the columns the distinct keys are made of.
func (d *Distinct) SubsetColumns() []string {
	if d.Subset != nil {
		return d.Subset
	}
	return d.Input.Schema.Names()
}

func NewLimit(input Node, n, offset int) (Node, error) {
	if n < 0 || offset < 0 {
		return Node{}, octoframe.NewPlanError("limit and offset must not be negative, got %d and %d", n, offset)
	}
	return Node{
		Schema:   input.Schema,
		NodeType: NodeTypeLimit,
		Limit:    &Limit{N: n, Offset: offset, Input: input},
	}, nil
}

func NewUnion(inputs ...Node) (Node, error) {
	if len(inputs) == 0 {
		return Node{}, octoframe.NewPlanError("union needs at least one input")
	}
	for _, input := range inputs[1:] {
		if !input.Schema.Equal(inputs[0].Schema) {
			return Node{}, octoframe.NewSchemaError("union inputs must have equal schemas, got %s and %s", inputs[0].Schema, input.Schema)
		}
	}
	return Node{
		Schema:   inputs[0].Schema,
		NodeType: NodeTypeUnion,
		Union:    &Union{Inputs: inputs},
	}, nil
}

// NewCache creates a node whose input gets computed at most once per execution, however often it's referenced.
func NewCache(input Node) Node {
	return newCache(cacheIDCounter.Add(1), input)
}

func newCache(id uint64, input Node) Node {
	return Node{
		Schema:   input.Schema,
		NodeType: NodeTypeCache,
		Cache:    &Cache{ID: id, Input: input},
	}
}

func NewExplode(input Node, columns ...string) (Node, error) {
	if len(columns) == 0 {
		return Node{}, octoframe.NewPlanError("explode needs at least one column")
	}
	fields := slices.Clone(input.Schema.Fields)
	seen := make(map[string]bool, len(columns))
	for _, name := range columns {
		if seen[name] {
			return Node{}, octoframe.NewSchemaError("column '%s' is exploded more than once", name)
		}
		seen[name] = true
		index := input.Schema.FieldIndex(name)
		if index == -1 {
			return Node{}, octoframe.NewSchemaError("column '%s' not found", name)
		}
		if fields[index].Type.TypeID != octoframe.TypeIDList {
			return Node{}, octoframe.NewTypeError("can't explode column '%s' of type %s", name, fields[index].Type)
		}
		fields[index].Type = *fields[index].Type.List.Element
	}
	return Node{
		Schema:   octoframe.NewSchema(fields...),
		NodeType: NodeTypeExplode,
		Explode:  &Explode{Columns: columns, Input: input},
	}, nil
}

// NewMelt creates a melt node. Empty value columns mean all columns which aren't id columns,
// and empty names get the defaults. The value column has the supertype of all value columns.
func NewMelt(input Node, idColumns, valueColumns []string, variableName, valueName string) (Node, error) {
	if variableName == "" {
		variableName = DefaultMeltVariableName
	}
	if valueName == "" {
		valueName = DefaultMeltValueName
	}
	isID := make(map[string]bool, len(idColumns))
	fields := make([]octoframe.SchemaField, 0, len(idColumns)+2)
	for _, name := range idColumns {
		field, err := input.Schema.Field(name)
		if err != nil {
			return Node{}, err
		}
		isID[name] = true
		fields = append(fields, field)
	}
	if len(valueColumns) == 0 {
		valueColumns = nil
		for _, name := range input.Schema.Names() {
			if !isID[name] {
				valueColumns = append(valueColumns, name)
			}
		}
	}
	if len(valueColumns) == 0 {
		return Node{}, octoframe.NewPlanError("melt needs at least one value column")
	}

	valueType := octoframe.Null
	for _, name := range valueColumns {
		if isID[name] {
			return Node{}, octoframe.NewPlanError("column '%s' can't be both an id and a value column", name)
		}
		field, err := input.Schema.Field(name)
		if err != nil {
			return Node{}, err
		}
		t, ok := octoframe.Supertype(valueType, field.Type)
		if !ok {
			return Node{}, octoframe.NewTypeError("can't melt column '%s' of type %s together with columns of type %s", name, field.Type, valueType)
		}
		valueType = t
	}
	fields = append(fields,
		octoframe.SchemaField{Name: variableName, Type: octoframe.String},
		octoframe.SchemaField{Name: valueName, Type: valueType},
	)
	schema := octoframe.NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   schema,
		NodeType: NodeTypeMelt,
		Melt: &Melt{
			IDColumns:    idColumns,
			ValueColumns: valueColumns,
			VariableName: variableName,
			ValueName:    valueName,
			Input:        input,
		},
	}, nil
}

// MeltValueType returns the type of the value column of a melt node.
func (node Node) MeltValueType() octoframe.Type {
	return node.Schema.Fields[len(node.Schema.Fields)-1].Type
}

func (node Node) Children() []Node {
	switch node.NodeType {
	case NodeTypeScan:
		return nil
	case NodeTypeFilter:
		return []Node{node.Filter.Input}
	case NodeTypeProject:
		return []Node{node.Project.Input}
	case NodeTypeGroupBy:
		return []Node{node.GroupBy.Input}
	case NodeTypeJoin:
		return []Node{node.Join.Left, node.Join.Right}
	case NodeTypeSort:
		return []Node{node.Sort.Input}
	case NodeTypeDistinct:
		return []Node{node.Distinct.Input}
	case NodeTypeLimit:
		return []Node{node.Limit.Input}
	case NodeTypeUnion:
		return node.Union.Inputs
	case NodeTypeCache:
		return []Node{node.Cache.Input}
	case NodeTypeExplode:
		return []Node{node.Explode.Input}
	case NodeTypeMelt:
		return []Node{node.Melt.Input}
	}
	panic("unexhaustive node type match")
}

// WithChildren returns a copy of the node with its inputs replaced, revalidating it and recomputing its schema.
func (node Node) WithChildren(children []Node) (Node, error) {
	switch node.NodeType {
	case NodeTypeScan:
		return node, nil
	case NodeTypeFilter:
		return NewFilter(children[0], node.Filter.Predicate)
	case NodeTypeProject:
		return NewProject(children[0], node.Project.Expressions...)
	case NodeTypeGroupBy:
		return NewGroupBy(children[0], node.GroupBy.Keys, node.GroupBy.Aggregations, node.GroupBy.MaintainOrder)
	case NodeTypeJoin:
		join := *node.Join
		join.Left, join.Right = children[0], children[1]
		return newJoin(&join)
	case NodeTypeSort:
		sort := *node.Sort
		sort.Input = children[0]
		return newSort(&sort)
	case NodeTypeDistinct:
		return NewDistinct(children[0], node.Distinct.Subset, node.Distinct.Keep, node.Distinct.MaintainOrder)
	case NodeTypeLimit:
		return NewLimit(children[0], node.Limit.N, node.Limit.Offset)
	case NodeTypeUnion:
		return NewUnion(children...)
	case NodeTypeCache:
		return newCache(node.Cache.ID, children[0]), nil
	case NodeTypeExplode:
		return NewExplode(children[0], node.Explode.Columns...)
	case NodeTypeMelt:
		melt := node.Melt
		return NewMelt(children[0], melt.IDColumns, melt.ValueColumns, melt.VariableName, melt.ValueName)
	}
	panic("unexhaustive node type match")
}

// WithSortLimit returns a copy of a sort node producing only its first limit rows.
func (node Node) WithSortLimit(limit int) (Node, error) {
	sort := *node.Sort
	sort.Limit = limit
	return newSort(&sort)
}

// WithBuildSide returns a copy of a join node with the build side set.
func (node Node) WithBuildSide(side BuildSide) Node {
	join := *node.Join
	join.BuildSide = side
	node.Join = &join
	return node
}

// Expressions returns all expressions held directly by the node.
func (node Node) Expressions() []Expression {
	switch node.NodeType {
	case NodeTypeScan:
		if node.Scan.Predicate != nil {
			return []Expression{*node.Scan.Predicate}
		}
		return nil
	case NodeTypeFilter:
		return []Expression{node.Filter.Predicate}
	case NodeTypeProject:
		return node.Project.Expressions
	case NodeTypeGroupBy:
		return append(append([]Expression(nil), node.GroupBy.Keys...), node.GroupBy.Aggregations...)
	case NodeTypeJoin:
		return append(append([]Expression(nil), node.Join.LeftOn...), node.Join.RightOn...)
	case NodeTypeSort:
		return node.Sort.By
	case NodeTypeDistinct, NodeTypeLimit, NodeTypeUnion, NodeTypeCache, NodeTypeExplode, NodeTypeMelt:
		return nil
	}
	panic("unexhaustive node type match")
}

// WithExpressions returns a copy of the node with its expressions replaced, in the order returned by Expressions.
// The node is revalidated.
func (node Node) WithExpressions(exprs []Expression) (Node, error) {
	exprs = slices.Clone(exprs)
	switch node.NodeType {
	case NodeTypeScan:
		if node.Scan.Predicate == nil {
			return node, nil
		}
		return NewScanWith(node.Scan.Source, node.Scan.Projection, &exprs[0], node.Scan.Limit)
	case NodeTypeFilter:
		return NewFilter(node.Filter.Input, exprs[0])
	case NodeTypeProject:
		return NewProject(node.Project.Input, exprs...)
	case NodeTypeGroupBy:
		keys := len(node.GroupBy.Keys)
		return NewGroupBy(node.GroupBy.Input, exprs[:keys], exprs[keys:], node.GroupBy.MaintainOrder)
	case NodeTypeJoin:
		join := *node.Join
		keys := len(join.LeftOn)
		join.LeftOn, join.RightOn = exprs[:keys], exprs[keys:]
		return newJoin(&join)
	case NodeTypeSort:
		sort := *node.Sort
		sort.By = exprs
		return newSort(&sort)
	case NodeTypeDistinct, NodeTypeLimit, NodeTypeUnion, NodeTypeCache, NodeTypeExplode, NodeTypeMelt:
		return node, nil
	}
	panic("unexhaustive node type match")
}

// ExpressionSchemas returns, for each expression returned by Expressions, the schema it's evaluated against.
func (node Node) ExpressionSchemas() ([]octoframe.Schema, error) {
	exprs := node.Expressions()
	out := make([]octoframe.Schema, len(exprs))
	var schema octoframe.Schema
	switch node.NodeType {
	case NodeTypeScan:
		var err error
		if schema, err = node.Scan.Source.Schema(); err != nil {
			return nil, err
		}
	case NodeTypeJoin:
		for i := range out {
			if i < len(node.Join.LeftOn) {
				out[i] = node.Join.Left.Schema
			} else {
				out[i] = node.Join.Right.Schema
			}
		}
		return out, nil
	default:
		if children := node.Children(); len(children) > 0 {
			schema = children[0].Schema
		}
	}
	for i := range out {
		out[i] = schema
	}
	return out, nil
}
