package logs

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
)

func TestVerbosity(t *testing.T) {
	var quiet, verbose bytes.Buffer

	level.Debug(New(&quiet, false)).Log("msg", "hidden")
	level.Info(New(&quiet, false)).Log("msg", "shown")
	level.Debug(New(&verbose, true)).Log("msg", "groupby strategy", "strategy", "partitioned")

	assert.NotContains(t, quiet.String(), "hidden")
	assert.Contains(t, quiet.String(), "msg=shown")
	assert.Contains(t, verbose.String(), "strategy=partitioned")
	assert.Contains(t, verbose.String(), "level=debug")

	assert.NoError(t, OrNop(nil).Log("msg", "discarded"))
}
