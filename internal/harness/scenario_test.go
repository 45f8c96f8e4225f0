package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario(t *testing.T) {
	s := mustParse(t, `
name: parsed
description: "all sections"
zap:
  id: zap-9
  user: user-1
  trigger: { type: webhook }
  actions:
    - type: email
      metadata: { email: "{email}", body: "Hi" }
events:
  - user: user-2
    payload: { email: a@b.com, n: 1 }
faults:
  relay_publish_failures: 1
  stage_publish_failures: 2
  mail_failures: 3
restart:
  after_messages: 4
options:
  attempts: 5
  halt_on_failure: true
  ledger: true
assertions:
  - type: stage_sequence
    run: id-1
    stages: [0]
`)
	assert.Equal(t, "parsed", s.Name)
	assert.Equal(t, "zap-9", s.Zap.ID)
	assert.Equal(t, "webhook", s.Zap.Trigger.Type)
	assert.Equal(t, "{email}", s.Zap.Actions[0].Metadata["email"])
	assert.Equal(t, "user-2", s.Events[0].User)
	assert.Equal(t, 1, s.Events[0].Payload["n"])
	assert.Equal(t, Faults{RelayPublishFailures: 1, StagePublishFailures: 2, MailFailures: 3}, s.Faults)
	assert.Equal(t, &Restart{AfterMessages: 4}, s.Restart)
	assert.Equal(t, Options{Attempts: 5, HaltOnFailure: true, Ledger: true}, s.Options)
	assert.Equal(t, []int{0}, s.Assertions[0].Stages)
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
zap:
  user: user-1
  actions: [{ type: email, metadata: {} }]
events: [{ payload: {} }]
fualts: {}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fualts")
}

func TestParseScenario_Invalid(t *testing.T) {
	base := `
zap:
  user: user-1
  actions: [{ type: email, metadata: {} }]
events: [{ payload: {} }]
`
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"missing name", base, "name is required"},
		{"missing user", "name: x\nzap: { actions: [{ type: email, metadata: {} }] }\nevents: [{ payload: {} }]\n", "zap.user is required"},
		{"no actions", "name: x\nzap: { user: u }\nevents: [{ payload: {} }]\n", "zap.actions must not be empty"},
		{"no events", "name: x\nzap: { user: u, actions: [{ type: email, metadata: {} }] }\n", "at least one event"},
		{"bad restart", "name: x" + base + "restart: { after_messages: 0 }\n", "after_messages"},
		{"assertion without type", "name: x" + base + "assertions: [{ event: email }]\n", "type is required"},
		{"unknown assertion", "name: x" + base + "assertions: [{ type: trace_magic }]\n", "unknown assertion type"},
		{"contains without event", "name: x" + base + "assertions: [{ type: trace_contains }]\n", "event is required"},
		{"order without events", "name: x" + base + "assertions: [{ type: trace_order }]\n", "events list is required"},
		{"sequence without run", "name: x" + base + "assertions: [{ type: stage_sequence }]\n", "run is required"},
		{"state without table", "name: x" + base + "assertions: [{ type: final_state }]\n", "table is required"},
		{"state without count", "name: x" + base + "assertions: [{ type: final_state, table: runs }]\n", "expect.count is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
