//go:build unix

package stage

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetProcessGroup(t *testing.T) {
	cmd := exec.Command("true")
	setProcessGroup(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
	assert.NotNil(t, cmd.Cancel)
}

func TestRunArgvTimeoutKillsSpawnedChildren(t *testing.T) {
	// The background sleep inherits the output pipe. If only the direct
	// child died on timeout, Run would block the full WaitDelay waiting
	// for the pipe to close; the group kill takes the whole tree down at
	// once.
	start := time.Now()
	inv := runArgv(context.Background(), 150*time.Millisecond, t.TempDir(),
		"sh", "-c", "sleep 30 & wait")
	require.Error(t, inv.exitErr)
	assert.True(t, inv.timedOut)
	assert.Less(t, time.Since(start), 2*time.Second)
}
