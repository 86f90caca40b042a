package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDetachedCommand verifies the child runs the guard without a bridge
// in its own session.
func TestDetachedCommand(t *testing.T) {
	cmd := DetachedCommand("/usr/local/bin/capguard", "--platform", "desktop", "--config", "/etc/capguard.yaml")

	assert.Equal(t, "/usr/local/bin/capguard", cmd.Path)
	assert.Equal(t, []string{
		"/usr/local/bin/capguard", "run", "--no-bridge",
		"--platform", "desktop", "--config", "/etc/capguard.yaml",
	}, cmd.Args)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setsid)
	assert.Nil(t, cmd.Stdin)
	assert.Nil(t, cmd.Stdout)
	assert.Nil(t, cmd.Stderr)
}

func TestDetachedCommand_NoExtraArgs(t *testing.T) {
	cmd := DetachedCommand("capguard")
	assert.Equal(t, []string{"capguard", "run", "--no-bridge"}, cmd.Args)
}
