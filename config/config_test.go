package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := env[name]
		return value, ok
	}
}

func TestFromEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		want    func(c *Config)
		wantErr bool
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: func(c *Config) {},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				EnvParallelSortThreshold:        "10",
				EnvMaxThreads:                   "3",
				EnvVerbose:                      "true",
				EnvChunkSize:                    "128",
				EnvMemoryLimit:                  "64MB",
				EnvCheckedArithmetic:            "1",
				EnvNoPartition:                  "true",
				EnvPartitionCardinalityFraction: "0.5",
				EnvPartitionSampleSize:          "100",
			},
			want: func(c *Config) {
				c.ParallelSortThreshold = 10
				c.MaxThreads = 3
				c.Verbose = true
				c.ChunkSize = 128
				c.MemoryLimit = 64 * datasize.MB
				c.CheckedArithmetic = true
				c.GroupBy.Partitioned = false
				c.GroupBy.PartitionCardinalityFraction = 0.5
				c.GroupBy.PartitionSampleSize = 100
			},
		},
		{
			name: "file then environment",
			file: "chunkSize: 256\nmaxThreads: 2\ngroupBy:\n  maintainOrder: true\ndisabledOptimizerRules: [push_down_limit]\n",
			env: map[string]string{
				EnvMaxThreads: "4",
			},
			want: func(c *Config) {
				c.ChunkSize = 256
				c.MaxThreads = 4
				c.GroupBy.MaintainOrder = true
				c.DisabledOptimizerRules = []string{"push_down_limit"}
			},
		},
		{
			name:    "invalid number",
			env:     map[string]string{EnvChunkSize: "lots"},
			wantErr: true,
		},
		{
			name:    "invalid value",
			env:     map[string]string{EnvPartitionCardinalityFraction: "2"},
			wantErr: true,
		},
		{
			name:    "unknown file field",
			file:    "chunkSizes: 12\n",
			env:     map[string]string{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{}
			for k, v := range tt.env {
				env[k] = v
			}
			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "octoframe.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0644))
				env[EnvConfigPath] = path
			}

			got, err := FromEnvironment(lookupFrom(env))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			want := Default()
			tt.want(&want)
			assert.Equal(t, want, got)
		})
	}
}

func TestGetters(t *testing.T) {
	options := Options{
		"path": "data.json",
		"sampling": map[string]interface{}{
			"lines": 10,
			"ratio": 1,
		},
		"columns":   []interface{}{"a", "b"},
		"batchSize": "1MB",
	}

	path, err := GetString(options, "path")
	require.NoError(t, err)
	assert.Equal(t, "data.json", path)

	lines, err := GetInt(options, "sampling.lines")
	require.NoError(t, err)
	assert.Equal(t, 10, lines)

	ratio, err := GetFloat64(options, "sampling.ratio")
	require.NoError(t, err)
	assert.Equal(t, 1.0, ratio)

	columns, err := GetStringList(options, "columns")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, columns)

	size, err := GetByteSize(options, "batchSize")
	require.NoError(t, err)
	assert.Equal(t, datasize.MB, size)

	verbose, err := GetBool(options, "verbose", WithDefault(true))
	require.NoError(t, err)
	assert.True(t, verbose)

	_, err = GetInt(options, "path")
	assert.Error(t, err)

	_, err = GetString(options, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
