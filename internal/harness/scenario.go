package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Atif-27/AutoChain/internal/zapdef"
)

// Scenario defines an end-to-end test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Zap is the workflow under test. An empty trigger type means webhook.
	Zap zapdef.Definition `yaml:"zap"`

	// Events are the webhook deliveries, ingested in order.
	Events []Event `yaml:"events"`

	// Faults injects failures into the collaborators.
	Faults Faults `yaml:"faults,omitempty"`

	// Restart simulates a consumer crash between processing and commit.
	Restart *Restart `yaml:"restart,omitempty"`

	// Options tune the executor.
	Options Options `yaml:"options,omitempty"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Event is one webhook delivery.
type Event struct {
	// User is the user id in the hook URL. Empty means the zap owner.
	User string `yaml:"user,omitempty"`

	// Payload is the JSON object body.
	Payload map[string]any `yaml:"payload"`
}

// Faults counts injected failures. Each counter is consumed by the first
// matching calls.
type Faults struct {
	RelayPublishFailures int `yaml:"relay_publish_failures,omitempty"`
	StagePublishFailures int `yaml:"stage_publish_failures,omitempty"`
	MailFailures         int `yaml:"mail_failures,omitempty"`
}

// Restart closes the consumer after it processed AfterMessages messages,
// before committing the last one, and starts a new consumer in the same
// group.
type Restart struct {
	AfterMessages int `yaml:"after_messages"`
}

// Options mirror the executor settings a scenario may change.
type Options struct {
	Attempts      int  `yaml:"attempts,omitempty"`
	HaltOnFailure bool `yaml:"halt_on_failure,omitempty"`
	Ledger        bool `yaml:"ledger,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Event type has every field in Fields
	// - "trace_order": event types appear in the given order
	// - "trace_count": Event type appears exactly Count times
	// - "stage_sequence": stage events of Run have exactly Stages
	// - "final_state": a State counter equals Expect["count"]
	Type string `yaml:"type"`

	// Event is the trace event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Fields are expected event fields (trace_contains). Subset match.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Events is the expected event type order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Run is the run id (stage_sequence).
	Run string `yaml:"run,omitempty"`

	// Stages is the expected stage sequence (stage_sequence).
	Stages []int `yaml:"stages,omitempty"`

	// Table is the state counter name (final_state).
	Table string `yaml:"table,omitempty"`

	// Expect holds the expected counter under "count" (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertStageSequence = "stage_sequence"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and well-formed.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Zap.User == "" {
		return fmt.Errorf("zap.user is required")
	}
	if len(s.Zap.Actions) == 0 {
		return fmt.Errorf("zap.actions must not be empty")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("at least one event is required")
	}
	if s.Restart != nil && s.Restart.AfterMessages < 1 {
		return fmt.Errorf("restart.after_messages must be at least 1")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertStageSequence:
		if a.Run == "" {
			return fmt.Errorf("assertions[%d]: run is required for stage_sequence", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if _, ok := a.Expect["count"]; !ok {
			return fmt.Errorf("assertions[%d]: expect.count is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
