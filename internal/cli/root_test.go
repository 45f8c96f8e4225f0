package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args against a fresh SQLite
// database in dir and returns stdout.
func executeCommand(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	// Keep the developer's environment out of the test.
	for _, key := range []string{"AUTOCHAIN_DB_DRIVER", "AUTOCHAIN_DB_DSN", "AUTOCHAIN_BROKER", "AUTOCHAIN_REDIS_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT", "SMTP_HOST"} {
		t.Setenv(key, "")
	}

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", filepath.Join(dir, "autochain.db")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "autochain", cmd.Use)
	assert.Contains(t, cmd.Long, "zaps")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"hooks"}, {"relay"}, {"worker"}, {"up"},
		{"zap", "create"}, {"zap", "validate"}, {"zap", "show"},
		{"run", "show"}, {"run", "list"},
		{"catalog"}, {"test"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	for flag, def := range map[string]string{"format": "text", "log-format": "text", "env-file": "", "db": "", "db-driver": "", "broker": ""} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	tests := []struct {
		command string
		flags   []string
	}{
		{"hooks", []string{"addr"}},
		{"relay", []string{"batch", "interval"}},
		{"worker", []string{"attempts", "halt-on-failure"}},
		{"up", []string{"addr", "batch", "interval", "attempts", "halt-on-failure"}},
	}
	for _, tt := range tests {
		sub, _, err := cmd.Find([]string{tt.command})
		require.NoError(t, err)
		for _, name := range tt.flags {
			assert.NotNil(t, sub.Flags().Lookup(name), "%s --%s", tt.command, name)
		}
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := executeCommand(t, t.TempDir(), "catalog", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestInvalidLogFormat(t *testing.T) {
	_, err := executeCommand(t, t.TempDir(), "catalog", "--log-format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := executeCommand(t, t.TempDir(), "catalog", "--broker", "carrier-pigeon")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "AUTOCHAIN_BROKER")
}
