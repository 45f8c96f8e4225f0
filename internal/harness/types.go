package harness

// Trace event types.
const (
	EventIngest         = "ingest"
	EventIngestRejected = "ingest_rejected"
	EventPublish        = "publish"
	EventPublishFailed  = "publish_failed"
	EventEmail          = "email"
	EventEmailFailed    = "email_failed"
	EventStage          = "stage"
	EventStageError     = "stage_error"
	EventCommit         = "commit"
	EventRestart        = "restart"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Trace contains every event in the order it happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds final counters: pending_relays, runs, uncommitted.
	State map[string]int `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends an event with the next sequence number.
func (r *Result) record(eventType string, fields map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Type:   eventType,
		Fields: fields,
	})
}
