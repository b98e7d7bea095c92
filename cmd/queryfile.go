package cmd

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/go-kit/log"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/datasources/arrowipc"
	"github.com/cube2222/octoframe/datasources/csv"
	"github.com/cube2222/octoframe/datasources/json"
	"github.com/cube2222/octoframe/datasources/parquet"
	"github.com/cube2222/octoframe/datasources/postgres"
	"github.com/cube2222/octoframe/lazy"
	"github.com/cube2222/octoframe/logical"
)

// QueryFile declares the sources and the query built on top of them.
type QueryFile struct {
	Sources []SourceSpec `yaml:"sources"`
	Query   QuerySpec    `yaml:"query"`
}

type SourceSpec struct {
	Name string `yaml:"name"`
	// Path is the file path, or the table name for databases.
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
	// Options are specific to the format, like batch_size.
	Options config.Options `yaml:"options"`
}

// QuerySpec reads a source and applies the steps in order.
// Each step is a single-key map, like {filter: ...} or {limit: 10}.
type QuerySpec struct {
	From  string      `yaml:"from"`
	Steps []yaml.Node `yaml:"steps"`
}

func ReadQueryFile(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read query file")
	}
	var out QueryFile
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "couldn't decode query file")
	}
	return &out, nil
}

var sourceCreators = map[string]func(ctx context.Context, spec SourceSpec, logger log.Logger) (logical.Source, error){
	"arrow": func(ctx context.Context, spec SourceSpec, logger log.Logger) (logical.Source, error) {
		return arrowipc.New(spec.Name, spec.Path)
	},
	"csv": func(ctx context.Context, spec SourceSpec, logger log.Logger) (logical.Source, error) {
		header, err := config.GetBool(spec.Options, "header", config.WithDefault(true))
		if err != nil {
			return nil, err
		}
		separator, err := config.GetString(spec.Options, "separator", config.WithDefault(","))
		if err != nil {
			return nil, err
		}
		r, size := utf8.DecodeRuneInString(separator)
		if r == utf8.RuneError || size != len(separator) {
			return nil, errors.Errorf("couldn't decode separator '%s' to a single rune", separator)
		}
		inferenceLines, err := config.GetInt(spec.Options, "inference_lines", config.WithDefault(100))
		if err != nil {
			return nil, err
		}
		batchSize, err := config.GetInt(spec.Options, "batch_size", config.WithDefault(4*1024))
		if err != nil {
			return nil, err
		}
		opts := []csv.Option{csv.WithSeparator(r), csv.WithInferenceLines(inferenceLines), csv.WithBatchSize(batchSize)}
		if !header {
			opts = append(opts, csv.WithoutHeader())
		}
		return csv.New(spec.Name, spec.Path, opts...)
	},
	"postgres": func(ctx context.Context, spec SourceSpec, logger log.Logger) (logical.Source, error) {
		var cfg postgres.Config
		var err error
		if cfg.Host, err = config.GetString(spec.Options, "host", config.WithDefault("localhost")); err != nil {
			return nil, err
		}
		if cfg.Port, err = config.GetInt(spec.Options, "port", config.WithDefault(5432)); err != nil {
			return nil, err
		}
		if cfg.User, err = config.GetString(spec.Options, "user", config.WithDefault("postgres")); err != nil {
			return nil, err
		}
		if cfg.Password, err = config.GetString(spec.Options, "password", config.WithDefault("")); err != nil {
			return nil, err
		}
		if cfg.Database, err = config.GetString(spec.Options, "database", config.WithDefault("postgres")); err != nil {
			return nil, err
		}
		batchSize, err := config.GetInt(spec.Options, "batch_size", config.WithDefault(4*1024))
		if err != nil {
			return nil, err
		}
		return postgres.New(ctx, spec.Name, &cfg, spec.Path, postgres.WithBatchSize(batchSize), postgres.WithLogger(logger))
	},
	"parquet": func(ctx context.Context, spec SourceSpec, logger log.Logger) (logical.Source, error) {
		batchSize, err := config.GetInt(spec.Options, "batch_size", config.WithDefault(16*1024))
		if err != nil {
			return nil, err
		}
		return parquet.New(spec.Name, spec.Path, parquet.WithBatchSize(batchSize))
	},
	"json": func(ctx context.Context, spec SourceSpec, logger log.Logger) (logical.Source, error) {
		var opts []json.Option
		inferenceLines, err := config.GetInt(spec.Options, "inference_lines", config.WithDefault(100))
		if err != nil {
			return nil, err
		}
		opts = append(opts, json.WithInferenceLines(inferenceLines))
		batchSize, err := config.GetInt(spec.Options, "batch_size", config.WithDefault(4*1024))
		if err != nil {
			return nil, err
		}
		opts = append(opts, json.WithBatchSize(batchSize))
		workers, err := config.GetInt(spec.Options, "workers", config.WithDefault(0))
		if err != nil {
			return nil, err
		}
		if workers > 0 {
			opts = append(opts, json.WithWorkers(workers))
		}
		return json.New(spec.Name, spec.Path, opts...)
	},
}

// OpenSources opens every declared source.
func (f *QueryFile) OpenSources(ctx context.Context, logger log.Logger) (map[string]logical.Source, error) {
	out := make(map[string]logical.Source, len(f.Sources))
	for _, spec := range f.Sources {
		if _, ok := out[spec.Name]; ok {
			return nil, errors.Errorf("source '%s' is declared more than once", spec.Name)
		}
		creator, ok := sourceCreators[spec.Format]
		if !ok {
			return nil, errors.Errorf("source '%s' has unknown format '%s'", spec.Name, spec.Format)
		}
		if spec.Format != "postgres" {
			path, err := homedir.Expand(spec.Path)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid path of source '%s'", spec.Name)
			}
			spec.Path = path
		}
		source, err := creator(ctx, spec, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't open source '%s'", spec.Name)
		}
		out[spec.Name] = source
	}
	return out, nil
}

// Frame builds the lazy frame of the query. Nothing is read besides source metadata.
func (q *QuerySpec) Frame(sources map[string]logical.Source) (lazy.LazyFrame, error) {
	source, ok := sources[q.From]
	if !ok {
		return lazy.LazyFrame{}, errors.Errorf("unknown source '%s'", q.From)
	}
	lf := lazy.Scan(source)
	for i := range q.Steps {
		var err error
		if lf, err = applyStep(lf, &q.Steps[i], sources); err != nil {
			return lazy.LazyFrame{}, errors.Wrapf(err, "invalid step %d", i)
		}
		if err := lf.Err(); err != nil {
			return lazy.LazyFrame{}, errors.Wrapf(err, "invalid step %d", i)
		}
	}
	return lf, nil
}

var joinTypes = map[string]logical.JoinType{
	"inner": logical.JoinTypeInner,
	"left":  logical.JoinTypeLeft,
	"right": logical.JoinTypeRight,
	"outer": logical.JoinTypeOuter,
	"semi":  logical.JoinTypeSemi,
	"anti":  logical.JoinTypeAnti,
}

var distinctKeeps = map[string]logical.DistinctKeep{
	"first": logical.DistinctKeepFirst,
	"last":  logical.DistinctKeepLast,
	"none":  logical.DistinctKeepNone,
}

func applyStep(lf lazy.LazyFrame, node *yaml.Node, sources map[string]logical.Source) (lazy.LazyFrame, error) {
	name, arg, err := singleKey(node)
	if err != nil {
		return lf, err
	}

	switch name {
	case "filter":
		predicate, err := parseExpression(arg)
		if err != nil {
			return lf, err
		}
		return lf.Filter(predicate), nil

	case "select", "with_columns":
		var nodes []yaml.Node
		if err := arg.Decode(&nodes); err != nil {
			return lf, errors.Wrapf(err, "%s expects a list of expressions", name)
		}
		exprs, err := parseExpressionsRecovered(nodes)
		if err != nil {
			return lf, err
		}
		if name == "select" {
			return lf.Select(exprs...), nil
		}
		return lf.WithColumns(exprs...), nil

	case "group_by":
		var spec struct {
			Keys          []yaml.Node `yaml:"keys"`
			Agg           []yaml.Node `yaml:"agg"`
			MaintainOrder bool        `yaml:"maintain_order"`
		}
		if err := arg.Decode(&spec); err != nil {
			return lf, errors.Wrap(err, "invalid group_by")
		}
		keys, err := parseExpressionsRecovered(spec.Keys)
		if err != nil {
			return lf, errors.Wrap(err, "invalid group_by keys")
		}
		aggs, err := parseExpressionsRecovered(spec.Agg)
		if err != nil {
			return lf, errors.Wrap(err, "invalid aggregations")
		}
		if spec.MaintainOrder {
			return lf.GroupByStable(keys...).Agg(aggs...), nil
		}
		return lf.GroupBy(keys...).Agg(aggs...), nil

	case "join":
		var spec struct {
			With    QuerySpec   `yaml:"with"`
			On      []yaml.Node `yaml:"on"`
			LeftOn  []yaml.Node `yaml:"left_on"`
			RightOn []yaml.Node `yaml:"right_on"`
			How     string      `yaml:"how"`
			Suffix  string      `yaml:"suffix"`
		}
		if err := arg.Decode(&spec); err != nil {
			return lf, errors.Wrap(err, "invalid join")
		}
		if len(spec.On) > 0 {
			spec.LeftOn, spec.RightOn = spec.On, spec.On
		}
		if spec.How == "" {
			spec.How = "inner"
		}
		how, ok := joinTypes[spec.How]
		if !ok {
			return lf, errors.Errorf("unknown join type '%s'", spec.How)
		}
		other, err := spec.With.Frame(sources)
		if err != nil {
			return lf, errors.Wrap(err, "invalid right side of join")
		}
		leftOn, err := parseExpressionsRecovered(spec.LeftOn)
		if err != nil {
			return lf, errors.Wrap(err, "invalid left join keys")
		}
		rightOn, err := parseExpressionsRecovered(spec.RightOn)
		if err != nil {
			return lf, errors.Wrap(err, "invalid right join keys")
		}
		var opts []lazy.JoinOption
		if spec.Suffix != "" {
			opts = append(opts, lazy.WithSuffix(spec.Suffix))
		}
		return lf.Join(other, leftOn, rightOn, how, opts...), nil

	case "sort":
		var spec struct {
			By         []yaml.Node `yaml:"by"`
			Descending []bool      `yaml:"descending"`
			NullsLast  []bool      `yaml:"nulls_last"`
		}
		if err := arg.Decode(&spec); err != nil {
			return lf, errors.Wrap(err, "invalid sort")
		}
		by, err := parseExpressionsRecovered(spec.By)
		if err != nil {
			return lf, errors.Wrap(err, "invalid sort keys")
		}
		return lf.Sort(by, spec.Descending, spec.NullsLast), nil

	case "distinct":
		var spec struct {
			Subset        []string `yaml:"subset"`
			Keep          string   `yaml:"keep"`
			MaintainOrder bool     `yaml:"maintain_order"`
		}
		if err := arg.Decode(&spec); err != nil {
			return lf, errors.Wrap(err, "invalid distinct")
		}
		if spec.Keep == "" {
			spec.Keep = "first"
		}
		keep, ok := distinctKeeps[spec.Keep]
		if !ok {
			return lf, errors.Errorf("unknown distinct keep strategy '%s'", spec.Keep)
		}
		return lf.Distinct(spec.Subset, keep, spec.MaintainOrder), nil

	case "limit":
		var n int
		if err := arg.Decode(&n); err != nil {
			return lf, errors.Wrap(err, "limit expects a row count")
		}
		return lf.Limit(n), nil

	case "slice":
		var spec struct {
			Offset int `yaml:"offset"`
			Length int `yaml:"length"`
		}
		if err := arg.Decode(&spec); err != nil {
			return lf, errors.Wrap(err, "invalid slice")
		}
		return lf.Slice(spec.Offset, spec.Length), nil

	case "union":
		var specs []QuerySpec
		if err := arg.Decode(&specs); err != nil {
			return lf, errors.Wrap(err, "union expects a list of queries")
		}
		others := make([]lazy.LazyFrame, len(specs))
		for i := range specs {
			var err error
			if others[i], err = specs[i].Frame(sources); err != nil {
				return lf, errors.Wrapf(err, "invalid union input %d", i)
			}
		}
		return lf.Union(others...), nil

	case "explode":
		var columns []string
		if arg.Kind == yaml.ScalarNode {
			columns = []string{arg.Value}
		} else if err := arg.Decode(&columns); err != nil {
			return lf, errors.Wrap(err, "explode expects a list of columns")
		}
		return lf.Explode(columns...), nil

	case "melt":
		var spec struct {
			IDColumns    []string `yaml:"id_columns"`
			ValueColumns []string `yaml:"value_columns"`
			VariableName string   `yaml:"variable_name"`
			ValueName    string   `yaml:"value_name"`
		}
		if err := arg.Decode(&spec); err != nil {
			return lf, errors.Wrap(err, "invalid melt")
		}
		var opts []lazy.MeltOption
		if spec.VariableName != "" {
			opts = append(opts, lazy.WithVariableName(spec.VariableName))
		}
		if spec.ValueName != "" {
			opts = append(opts, lazy.WithValueName(spec.ValueName))
		}
		return lf.Melt(spec.IDColumns, spec.ValueColumns, opts...), nil

	case "drop_nulls":
		var spec struct {
			Subset []string `yaml:"subset"`
		}
		if err := arg.Decode(&spec); err != nil {
			return lf, errors.Wrap(err, "invalid drop_nulls")
		}
		return lf.DropNulls(spec.Subset...), nil

	case "fill_null":
		var spec struct {
			Value  yaml.Node `yaml:"value"`
			Subset []string  `yaml:"subset"`
		}
		if err := arg.Decode(&spec); err != nil {
			return lf, errors.Wrap(err, "invalid fill_null")
		}
		if spec.Value.IsZero() {
			return lf, errors.New("fill_null expects a value")
		}
		value, err := parseExpression(&spec.Value)
		if err != nil {
			return lf, errors.Wrap(err, "invalid fill value")
		}
		return lf.FillNull(value, spec.Subset...), nil

	case "cache":
		return lf.Cache(), nil
	}
	return lf, errors.Errorf("unknown step '%s'", name)
}

func parseExpressionsRecovered(nodes []yaml.Node) ([]logical.Expression, error) {
	out := make([]logical.Expression, len(nodes))
	for i := range nodes {
		var err error
		if out[i], err = parseExpression(&nodes[i]); err != nil {
			return nil, errors.Wrapf(err, "invalid expression %d", i)
		}
	}
	return out, nil
}
