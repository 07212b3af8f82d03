package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAddAndList(t *testing.T) {
	path, _ := writeConfig(t, nil)

	out, err := execute(t, "--config", path, "user", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No registered users")

	out, err = execute(t, "--config", path, "user", "add", "ops-bot", "--password", "long-enough-pass", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "User ops-bot added with role admin")

	out, err = execute(t, "--config", path, "user", "add", "viewer", "--password", "long-enough-pass")
	require.NoError(t, err)
	assert.Contains(t, out, "User viewer added with role user")

	out, err = execute(t, "--config", path, "user", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "ops-bot")
	assert.Contains(t, out, "viewer")
	assert.Contains(t, out, "never")
}

func TestUserAddRejectsInvalidInput(t *testing.T) {
	path, _ := writeConfig(t, nil)

	_, err := execute(t, "--config", path, "user", "add", "shorty", "--password", "short")
	assert.Error(t, err)

	_, err = execute(t, "--config", path, "user", "add", "x", "--password", "long-enough-pass")
	assert.Error(t, err)

	_, err = execute(t, "--config", path, "user", "add", "someone", "--password", "long-enough-pass", "--role", "root")
	assert.Error(t, err)
}

func TestUserAddRejectsDuplicates(t *testing.T) {
	t.Setenv("MC_USERNAME", "")
	path, _ := writeConfig(t, nil)

	_, err := execute(t, "--config", path, "user", "add", "viewer", "--password", "long-enough-pass")
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "user", "add", "viewer", "--password", "long-enough-pass")
	assert.Error(t, err)

	// the built-in admin name is reserved
	_, err = execute(t, "--config", path, "user", "add", "tolga", "--password", "long-enough-pass")
	assert.Error(t, err)
}
