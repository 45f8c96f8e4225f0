package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Atif-27/AutoChain/internal/canonical"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fields, err := canonical.Marshal(event.Fields)
			if err != nil {
				fields = []byte(fmt.Sprint(event.Fields))
			}
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Type, fields)
		}
	}

	return buf.String()
}

func checkAssertion(a Assertion, result *Result) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertStageSequence:
		return assertStageSequence(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceContains checks that some event of the given type carries
// every expected field (subset match).
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Type == a.Event && matchFields(event.Fields, a.Fields) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s event with fields %v", a.Event, a.Fields),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the event types occur in the given order.
// Other events may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Events) && event.Type == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: strings.Join(a.Events, " -> "),
		Actual:   fmt.Sprintf("matched only %s", strings.Join(a.Events[:next], " -> ")),
		Trace:    trace,
	}
}

// assertTraceCount checks the exact number of events of a type.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == a.Event {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d %s events", a.Count, a.Event),
		Actual:   fmt.Sprintf("%d %s events", count, a.Event),
		Trace:    trace,
	}
}

// assertStageSequence checks the stages a run was processed at, in order.
// Redelivered stages appear once per processing.
func assertStageSequence(trace []TraceEvent, a Assertion) error {
	stages := []int{}
	for _, event := range trace {
		if event.Type != EventStage || event.Fields["run"] != a.Run {
			continue
		}
		if stage, ok := event.Fields["stage"].(int); ok {
			stages = append(stages, stage)
		}
	}
	want := a.Stages
	if want == nil {
		want = []int{}
	}
	if slices.Equal(stages, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertStageSequence,
		Expected: fmt.Sprintf("run %s stages %v", a.Run, want),
		Actual:   fmt.Sprintf("run %s stages %v", a.Run, stages),
		Trace:    trace,
	}
}

// assertFinalState checks a final state counter.
func assertFinalState(result *Result, a Assertion) error {
	actual, ok := result.State[a.Table]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("state counter %q", a.Table),
			Actual:   "no such counter",
		}
	}
	expected := fmt.Sprint(a.Expect["count"])
	if expected == fmt.Sprint(actual) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s count %s", a.Table, expected),
		Actual:   fmt.Sprintf("%s count %d", a.Table, actual),
	}
}

// matchFields reports whether actual contains every expected key with an
// equal value. Values compare by their printed form so YAML and trace
// integers of different widths still match.
func matchFields(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
