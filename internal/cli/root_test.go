package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-userman/internal/auth"
	"github.com/celerix-dev/celerix-userman/pkg/sdk"
)

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "celerix", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"init", "get", "add", "update", "delete", "exists", "permission", "list", "access", "import", "token"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	t.Setenv("CELERIX_CHANNEL", "")
	cmd := NewRootCommand()

	channel := cmd.PersistentFlags().Lookup("channel")
	require.NotNil(t, channel)
	assert.Equal(t, "c", channel.Shorthand)
	assert.Equal(t, "mychannel", channel.DefValue)

	for _, name := range []string{"addr", "token", "data-dir", "as"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestEmbeddedLifecycle(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--as", "mychannel"}

	out, err := run(t, append(base, "init")...)
	require.NoError(t, err)
	assert.Equal(t, `{"description":"KhoHong","name":"Alice","permission":"11","position":"Owner","userID":"user1"}`+"\n", out)

	_, err = run(t, append(base, "add", "u2", "Bob", "3", "Dev", "backend team")...)
	require.NoError(t, err)

	out, err = run(t, append(base, "update", "u2", "7")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"permission":"7"`)

	out, err = run(t, append(base, "permission", "u2")...)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	out, err = run(t, append(base, "list")...)
	require.NoError(t, err)
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "list", []byte(out))

	out, err = run(t, append(base, "exists", "nobody")...)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)

	_, err = run(t, append(base, "delete", "u2")...)
	require.NoError(t, err)

	_, err = run(t, append(base, "get", "u2")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "User u2 does not exist")
}

func TestEmbeddedWrongUserIsDenied(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "--data-dir", dir, "--as", "someone-else", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PERMISSION_DENIED")

	// Reads need no username.
	out, err := run(t, "--data-dir", dir, "list")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestAccess(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--as", "mychannel"}

	_, err := run(t, append(base, "init")...)
	require.NoError(t, err)
	_, err = run(t, append(base, "add", "w", "Walt", "10", "Clerk", "")...)
	require.NoError(t, err)

	out, err := run(t, "--data-dir", dir, "access", "user1", "read")
	require.NoError(t, err)
	assert.Equal(t, "granted\n", out)

	out, err = run(t, "--data-dir", dir, "access", "w", "write")
	require.NoError(t, err)
	assert.Equal(t, "granted\n", out)

	_, err = run(t, "--data-dir", dir, "access", "w", "read")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorContains(t, err, "PERMISSION_DENIED")

	_, err = run(t, "--data-dir", dir, "access", "nobody", "read")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorContains(t, err, "USER_NOT_FOUND")

	_, err = run(t, "--data-dir", dir, "access", "w", "delete")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`users:
  - userID: user1
    name: Alice
    permission: "11"
    position: Owner
    description: KhoHong
  - userID: u2
    name: Bob
    permission: 7
    position: Dev
    description: backend team
`), 0o600))

	base := []string{"--data-dir", dir, "--as", "mychannel"}
	_, err := run(t, append(base, "init")...)
	require.NoError(t, err)

	_, err = run(t, append(base, "import", file)...)
	require.Error(t, err, "user1 already exists")

	out, err := run(t, append(base, "import", "--skip-existing", file)...)
	require.NoError(t, err)
	assert.Equal(t, "imported 1, skipped 1\n", out)

	out, err = run(t, append(base, "permission", "u2")...)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestImportRejectsEntriesWithoutID(t *testing.T) {
	file := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(file, []byte("users:\n  - name: nobody\n"), 0o600))

	_, err := LoadImportFile(file)
	assert.ErrorContains(t, err, "has no userID")

	_, err = run(t, "--data-dir", t.TempDir(), "import", file)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestToken(t *testing.T) {
	out, err := run(t, "token", "mychannel", "--secret", "cli-secret", "--issuer", "test", "--attr", "role=admin")
	require.NoError(t, err)

	claims, err := auth.NewTokenManager("cli-secret", "test", time.Hour).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "mychannel", claims.Username)
	role, ok := claims.GetAttributeValue("role")
	assert.True(t, ok)
	assert.Equal(t, "admin", role)

	_, err = run(t, "token", "mychannel", "--secret", "x", "--attr", "broken")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConnectFailureIsCommandError(t *testing.T) {
	opts := &RootOptions{Channel: "mychannel", open: func(*RootOptions) (sdk.UserService, error) {
		return nil, errors.New("dial refused")
	}}
	err := opts.withChannel(func(sdk.ChannelScope) error { return nil })
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorContains(t, err, "dial refused")
}

func TestEmptyChannelRejected(t *testing.T) {
	_, err := run(t, "--channel", "", "list")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
