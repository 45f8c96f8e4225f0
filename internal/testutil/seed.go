package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Atif-27/AutoChain/internal/store"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

// OpenStore opens a SQLite store in a per-test directory. Timestamps come
// from a StepClock so row order is reproducible.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "autochain.db"),
		store.WithClock(NewStepClock(time.Millisecond).Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// EmailZap builds a webhook zap with one email action per body. Every
// action sends to the "{email}" field of the run payload.
func EmailZap(zapID, userID string, bodies ...string) workflow.Zap {
	zap := workflow.Zap{
		ID:     zapID,
		UserID: userID,
		Name:   zapID,
		Trigger: workflow.Trigger{
			ID:     zapID + "-trigger",
			TypeID: workflow.TriggerWebhook,
		},
	}
	for i, body := range bodies {
		zap.Actions = append(zap.Actions, workflow.Action{
			ID:     fmt.Sprintf("%s-action-%d", zapID, i),
			TypeID: workflow.ActionEmail,
			Metadata: map[string]string{
				workflow.MetaEmail: "{email}",
				workflow.MetaBody:  body,
			},
		})
	}
	return zap
}

// SeedZap writes zap to s and returns it as read back.
func SeedZap(t testing.TB, s *store.Store, zap workflow.Zap) workflow.Zap {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateZap(ctx, zap)
	require.NoError(t, err)
	got, err := s.GetZap(ctx, zap.ID)
	require.NoError(t, err)
	return got
}

// SeedRun writes a run with its pending relay marker in one transaction,
// the same way the ingest writer does. The marker id is "relay-" + runID.
func SeedRun(t testing.TB, s *store.Store, runID, zapID string, payload map[string]any) workflow.Run {
	t.Helper()
	ctx := context.Background()
	var run workflow.Run
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		run, err = tx.InsertRun(ctx, workflow.Run{ID: runID, ZapID: zapID, Metadata: payload})
		if err != nil {
			return err
		}
		_, err = tx.InsertPendingRelay(ctx, workflow.PendingRelay{ID: "relay-" + runID, RunID: runID})
		return err
	})
	require.NoError(t, err)
	return run
}
