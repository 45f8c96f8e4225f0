// Package workflow defines the AutoChain domain model: zaps, their trigger
// and ordered actions, runs, pending relay markers and the stage message
// carried on the broker.
//
// A Zap is immutable after creation. A Run captures the triggering payload
// once at ingest time and every stage of the run reads from that snapshot.
package workflow

import (
	"time"
)

// Catalog identifiers seeded by the store schema.
const (
	TriggerWebhook = "webhook"
	ActionEmail    = "email"
	ActionSolana   = "solana"
)

// Email action metadata keys. MetaSubject is optional.
const (
	MetaEmail   = "email"
	MetaBody    = "body"
	MetaSubject = "subject"
)

// Zap is a saved workflow definition: one trigger, ordered actions.
type Zap struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
	Trigger   Trigger
	Actions   []Action // ordered by SortingOrder
}

// Trigger is the event source of a zap.
type Trigger struct {
	ID       string
	ZapID    string
	TypeID   string // available_triggers.id
	TypeName string
	Metadata map[string]any
}

// Action is one link of the chain.
type Action struct {
	ID           string
	ZapID        string
	TypeID       string // available_actions.id
	TypeName     string
	SortingOrder int
	Metadata     map[string]string
}

// AvailableTrigger is a read-only catalog row.
type AvailableTrigger struct {
	ID    string
	Name  string
	Image string
}

// AvailableAction is a read-only catalog row.
type AvailableAction struct {
	ID    string
	Name  string
	Image string
}

// Run is one execution of a zap. Metadata is the verbatim payload that
// triggered it and is never mutated.
type Run struct {
	ID        string
	ZapID     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// PendingRelay marks a run whose stage-0 message has not been published yet.
type PendingRelay struct {
	ID        string
	RunID     string
	CreatedAt time.Time
}

// StageCount returns the number of stages a run of this zap goes through.
func (z Zap) StageCount() int {
	return len(z.Actions)
}

// ActionAt returns the action for a stage index.
// ok is false when stage is outside [0, len(Actions)).
func (z Zap) ActionAt(stage int) (Action, bool) {
	if stage < 0 || stage >= len(z.Actions) {
		return Action{}, false
	}
	return z.Actions[stage], true
}

// IsLastStage reports whether stage is the final index of the chain.
func (z Zap) IsLastStage(stage int) bool {
	return stage == len(z.Actions)-1
}
