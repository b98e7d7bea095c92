package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath                   = "OCTOFRAME_CONFIG"
	EnvParallelSortThreshold        = "OCTOFRAME_PARALLEL_SORT_THRESHOLD"
	EnvMaxThreads                   = "OCTOFRAME_MAX_THREADS"
	EnvVerbose                      = "OCTOFRAME_VERBOSE"
	EnvChunkSize                    = "OCTOFRAME_CHUNK_SIZE"
	EnvMemoryLimit                  = "OCTOFRAME_MEMORY_LIMIT"
	EnvCheckedArithmetic            = "OCTOFRAME_CHECKED_ARITHMETIC"
	EnvNoPartition                  = "OCTOFRAME_NO_PARTITION"
	EnvPartitionCardinalityFraction = "OCTOFRAME_PARTITION_CARDINALITY_FRAC"
	EnvPartitionSampleSize          = "OCTOFRAME_PARTITION_SAMPLE_SIZE"
)

// Config is an immutable snapshot of the engine tuning knobs.
// It's passed explicitly to the optimizer and the executor.
type Config struct {
	// ParallelSortThreshold is the row count above which sorting switches to the parallel sort-and-merge strategy.
	ParallelSortThreshold int `yaml:"parallelSortThreshold"`
	// MaxThreads is the worker pool size, 0 means the number of CPUs.
	MaxThreads int  `yaml:"maxThreads"`
	Verbose    bool `yaml:"verbose"`
	// ChunkSize is the target number of rows per chunk of operator outputs.
	ChunkSize int `yaml:"chunkSize"`
	// MemoryLimit bounds the memory allocated by a single execution, 0 means unlimited.
	MemoryLimit datasize.ByteSize `yaml:"memoryLimit"`
	// CheckedArithmetic makes integer overflow fail the query instead of wrapping around.
	CheckedArithmetic      bool          `yaml:"checkedArithmetic"`
	OptimizerMaxIterations int           `yaml:"optimizerMaxIterations"`
	DisabledOptimizerRules []string      `yaml:"disabledOptimizerRules"`
	GroupBy                GroupByConfig `yaml:"groupBy"`
}

type GroupByConfig struct {
	// Partitioned allows the thread-local partitioned strategy, otherwise a single table is always used.
	Partitioned bool `yaml:"partitioned"`
	// PartitionCardinalityFraction is the sampled distinct key fraction above which the single table strategy is used.
	PartitionCardinalityFraction float64 `yaml:"partitionCardinalityFraction"`
	PartitionSampleSize          int     `yaml:"partitionSampleSize"`
	// MaintainOrder makes every group by keep first-encountered group order.
	MaintainOrder bool `yaml:"maintainOrder"`
}

func Default() Config {
	return Config{
		ParallelSortThreshold:  1000000,
		MaxThreads:             0,
		ChunkSize:              16 * 1024,
		OptimizerMaxIterations: 10,
		GroupBy: GroupByConfig{
			Partitioned:                  true,
			PartitionCardinalityFraction: 0.1,
			PartitionSampleSize:          1250,
		},
	}
}

// Threads returns the effective worker pool size.
func (c Config) Threads() int {
	if c.MaxThreads > 0 {
		return c.MaxThreads
	}
	return runtime.NumCPU()
}

func (c Config) Validate() error {
	if c.ParallelSortThreshold < 0 {
		return errors.Errorf("parallel sort threshold must not be negative, got %d", c.ParallelSortThreshold)
	}
	if c.MaxThreads < 0 {
		return errors.Errorf("max threads must not be negative, got %d", c.MaxThreads)
	}
	if c.ChunkSize <= 0 {
		return errors.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.OptimizerMaxIterations <= 0 {
		return errors.Errorf("optimizer max iterations must be positive, got %d", c.OptimizerMaxIterations)
	}
	if c.GroupBy.PartitionCardinalityFraction < 0 || c.GroupBy.PartitionCardinalityFraction > 1 {
		return errors.Errorf("partition cardinality fraction must be within [0, 1], got %g", c.GroupBy.PartitionCardinalityFraction)
	}
	if c.GroupBy.PartitionSampleSize <= 0 {
		return errors.Errorf("partition sample size must be positive, got %d", c.GroupBy.PartitionSampleSize)
	}
	return nil
}

// ReadConfig reads a YAML configuration file on top of the defaults.
func ReadConfig(path string) (Config, error) {
	config := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, errors.Wrap(err, "couldn't decode yaml configuration")
	}

	return config, nil
}

// FromEnvironment builds the configuration out of the defaults, the file named by OCTOFRAME_CONFIG if any,
// and the OCTOFRAME_* environment variables, with later sources overriding earlier ones.
func FromEnvironment(lookup func(string) (string, bool)) (Config, error) {
	config := Default()
	if path, ok := lookup(EnvConfigPath); ok && path != "" {
		fromFile, err := ReadConfig(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "couldn't read config file %s", path)
		}
		config = fromFile
	}

	intVar := func(name string, target *int) error {
		value, ok := lookup(name)
		if !ok || value == "" {
			return nil
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return errors.Wrapf(err, "couldn't parse %s", name)
		}
		*target = parsed
		return nil
	}
	boolVar := func(name string, target *bool) error {
		value, ok := lookup(name)
		if !ok || value == "" {
			return nil
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return errors.Wrapf(err, "couldn't parse %s", name)
		}
		*target = parsed
		return nil
	}

	if err := intVar(EnvParallelSortThreshold, &config.ParallelSortThreshold); err != nil {
		return Config{}, err
	}
	if err := intVar(EnvMaxThreads, &config.MaxThreads); err != nil {
		return Config{}, err
	}
	if err := boolVar(EnvVerbose, &config.Verbose); err != nil {
		return Config{}, err
	}
	if err := intVar(EnvChunkSize, &config.ChunkSize); err != nil {
		return Config{}, err
	}
	if value, ok := lookup(EnvMemoryLimit); ok && value != "" {
		var limit datasize.ByteSize
		if err := limit.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
			return Config{}, errors.Wrapf(err, "couldn't parse %s", EnvMemoryLimit)
		}
		config.MemoryLimit = limit
	}
	if err := boolVar(EnvCheckedArithmetic, &config.CheckedArithmetic); err != nil {
		return Config{}, err
	}
	noPartition := false
	if err := boolVar(EnvNoPartition, &noPartition); err != nil {
		return Config{}, err
	}
	if noPartition {
		config.GroupBy.Partitioned = false
	}
	if value, ok := lookup(EnvPartitionCardinalityFraction); ok && value != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return Config{}, errors.Wrapf(err, "couldn't parse %s", EnvPartitionCardinalityFraction)
		}
		config.GroupBy.PartitionCardinalityFraction = parsed
	}
	if err := intVar(EnvPartitionSampleSize, &config.GroupBy.PartitionSampleSize); err != nil {
		return Config{}, err
	}

	if err := config.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid configuration")
	}
	return config, nil
}

// Process returns the process-wide configuration, read from the environment once.
var Process = sync.OnceValues(func() (Config, error) {
	return FromEnvironment(os.LookupEnv)
})
