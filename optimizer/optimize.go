package optimizer

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/logical"
)

const (
	RuleSimplifyExpressions = "simplify_expressions"
	RuleMergeFilters        = "merge_filters"
	RulePushDownPredicates  = "push_down_predicates"
	RulePushDownLimit       = "push_down_limit"
	RulePushDownProjections = "push_down_projections"
	RuleSelectJoinBuildSide = "select_join_build_side"
)

// Rule is a single rewrite pass. Apply returns the rewritten plan and whether anything changed.
// Every rule preserves the output schema and the row multiset of the plan.
type Rule struct {
	Name  string
	Apply func(node logical.Node) (output logical.Node, changed bool)
}

// DefaultRules returns all rules in the order they're applied.
func DefaultRules(cfg config.Config) []Rule {
	return []Rule{
		{Name: RuleSimplifyExpressions, Apply: SimplifyExpressions(cfg)},
		{Name: RuleMergeFilters, Apply: MergeFilters},
		{Name: RulePushDownPredicates, Apply: PushDownPredicates},
		{Name: RulePushDownLimit, Apply: PushDownLimit},
		{Name: RulePushDownProjections, Apply: PushDownProjections},
		{Name: RuleSelectJoinBuildSide, Apply: SelectJoinBuildSide},
	}
}

type options struct {
	config  config.Config
	only    map[string]bool
	skipped map[string]bool
	logger  log.Logger
}

type Option func(*options)

// WithConfig sets the configuration, otherwise config.Default() is used.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithRules makes only the named rules run.
func WithRules(names ...string) Option {
	return func(o *options) {
		o.only = make(map[string]bool, len(names))
		for _, name := range names {
			o.only[name] = true
		}
	}
}

// WithoutRules skips the named rules.
func WithoutRules(names ...string) Option {
	return func(o *options) {
		for _, name := range names {
			o.skipped[name] = true
		}
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Optimize applies the rules until none of them changes the plan, or the iteration limit is reached.
func Optimize(node logical.Node, opts ...Option) logical.Node {
	o := &options{
		config:  config.Default(),
		skipped: make(map[string]bool),
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, name := range o.config.DisabledOptimizerRules {
		o.skipped[name] = true
	}

	var rules []Rule
	for _, rule := range DefaultRules(o.config) {
		if o.skipped[rule.Name] || (o.only != nil && !o.only[rule.Name]) {
			continue
		}
		rules = append(rules, rule)
	}

	maxIterations := max(o.config.OptimizerMaxIterations, 1)
	for i := 0; i < maxIterations; i++ {
		changed := false
		for _, rule := range rules {
			output, curChanged := rule.Apply(node)
			if curChanged {
				level.Debug(o.logger).Log("msg", "optimizer rule applied", "rule", rule.Name, "iteration", i)
				changed = true
				node = output
			}
		}
		if !changed {
			break
		}
	}
	return node
}
