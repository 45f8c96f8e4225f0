package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Atif-27/AutoChain/internal/workflow"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open("sqlite3", path, WithClock(func() time.Time { return testEpoch }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestZap creates a zap with one email action per template pair.
func createTestZap(t *testing.T, s *Store, zapID, userID string, bodies ...string) workflow.Zap {
	t.Helper()
	zap := workflow.Zap{
		ID:     zapID,
		UserID: userID,
		Name:   "test zap",
		Trigger: workflow.Trigger{
			ID:     zapID + "-trigger",
			TypeID: workflow.TriggerWebhook,
		},
	}
	for i, body := range bodies {
		zap.Actions = append(zap.Actions, workflow.Action{
			ID:     zapID + "-action-" + string(rune('a'+i)),
			TypeID: workflow.ActionEmail,
			Metadata: map[string]string{
				workflow.MetaEmail: "{email}",
				workflow.MetaBody:  body,
			},
		})
	}
	created, err := s.CreateZap(context.Background(), zap)
	if err != nil {
		t.Fatalf("CreateZap() failed: %v", err)
	}
	return created
}

// ingestTestRun writes a run and its relay marker the way the ingest writer does.
func ingestTestRun(t *testing.T, s *Store, zapID, runID string, payload map[string]any) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		if _, err := tx.InsertRun(context.Background(), workflow.Run{ID: runID, ZapID: zapID, Metadata: payload}); err != nil {
			return err
		}
		_, err := tx.InsertPendingRelay(context.Background(), workflow.PendingRelay{ID: "relay-" + runID, RunID: runID})
		return err
	})
	if err != nil {
		t.Fatalf("ingest run %s: %v", runID, err)
	}
}

func createTestZapValue(zapID string) workflow.Zap {
	return workflow.Zap{
		ID:      zapID,
		UserID:  "user-1",
		Trigger: workflow.Trigger{ID: zapID + "-trigger", TypeID: workflow.TriggerWebhook},
		Actions: []workflow.Action{{
			ID:       zapID + "-action-a",
			TypeID:   workflow.ActionEmail,
			Metadata: map[string]string{workflow.MetaEmail: "{email}", workflow.MetaBody: "Hi"},
		}},
	}
}

func runValue(runID, zapID string) workflow.Run {
	return workflow.Run{ID: runID, ZapID: zapID, Metadata: map[string]any{}}
}

func relayValue(id, runID string) workflow.PendingRelay {
	return workflow.PendingRelay{ID: id, RunID: runID}
}
