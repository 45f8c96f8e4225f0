package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const welcomeYAML = `zap:
  user: user-1
  name: Welcome mail
  trigger:
    type: webhook
  actions:
    - type: email
      metadata:
        email: "{email}"
        body: "Hi {name}"
    - type: email
      metadata:
        email: "{email}"
        body: "Your role is {data.role}"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// decodeData unmarshals the data of a JSON CLI response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func createZap(t *testing.T, dir string) ZapView {
	t.Helper()
	path := writeFile(t, dir, "welcome.yaml", welcomeYAML)
	out, err := executeCommand(t, dir, "zap", "create", path, "--format", "json")
	require.NoError(t, err, out)

	var view ZapView
	decodeData(t, out, &view)
	return view
}

func TestZapCreate(t *testing.T) {
	dir := t.TempDir()
	view := createZap(t, dir)

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "user-1", view.UserID)
	assert.Equal(t, "Welcome mail", view.Name)
	assert.Equal(t, "webhook", view.Trigger)
	assert.Equal(t, "/hooks/catch/user-1/"+view.ID, view.HookPath)
	require.Len(t, view.Actions, 2)
	assert.Equal(t, 1, view.Actions[1].Stage)
	assert.Equal(t, "Your role is {data.role}", view.Actions[1].Metadata["body"])
}

func TestZapCreate_ExampleFiles(t *testing.T) {
	for _, file := range []string{"welcome.cue", "welcome.yaml"} {
		t.Run(file, func(t *testing.T) {
			out, err := executeCommand(t, t.TempDir(), "zap", "create", filepath.Join("..", "..", "examples", file))
			require.NoError(t, err, out)
			assert.Contains(t, out, "Zap ")
			assert.Contains(t, out, "(Welcome mail)")
			assert.Contains(t, out, `stage 1: email body="Your role is {data.role}." email="{email}" subject="Your access"`)
		})
	}
}

func TestZapCreate_InvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "zap:\n  user: user-1\n  trigger: { type: webhook }\n  actions: []\n")

	out, err := executeCommand(t, dir, "zap", "create", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]: invalid zap definition")
}

func TestZapCreate_UnknownActionType(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sms.yaml", `zap:
  user: user-1
  trigger: { type: webhook }
  actions:
    - type: sms
      metadata: { to: "{phone}" }
`)

	out, err := executeCommand(t, dir, "zap", "create", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, ErrCodeUnknownType, resp.Error.Code)
	assert.Contains(t, resp.Error.Details, `unknown action type "sms"`)
}

func TestZapValidate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "welcome.yaml", welcomeYAML)

	out, err := executeCommand(t, dir, "zap", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (2 action(s))")

	_, statErr := os.Stat(filepath.Join(dir, "autochain.db"))
	assert.True(t, os.IsNotExist(statErr), "validate must not open the database")
}

func TestZapShow(t *testing.T) {
	dir := t.TempDir()
	created := createZap(t, dir)

	out, err := executeCommand(t, dir, "zap", "show", created.ID, "--format", "json")
	require.NoError(t, err)
	var shown ZapView
	decodeData(t, out, &shown)
	assert.Equal(t, created, shown)

	out, err = executeCommand(t, dir, "zap", "show", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "zap missing not found")
}

func TestCatalog(t *testing.T) {
	out, err := executeCommand(t, t.TempDir(), "catalog", "--format", "json")
	require.NoError(t, err)

	var view CatalogView
	decodeData(t, out, &view)
	require.NotEmpty(t, view.Triggers)
	assert.Equal(t, "webhook", view.Triggers[0].ID)

	var actionIDs []string
	for _, a := range view.Actions {
		actionIDs = append(actionIDs, a.ID)
	}
	assert.Contains(t, actionIDs, "email")
}
