// Package ingest records incoming trigger events.
//
// Ingest writes a Run holding the verbatim payload together with its
// PendingRelay marker in one transaction, so an event is either fully
// recorded and bound to be relayed, or not recorded at all. The rest of the
// workflow happens asynchronously.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Atif-27/AutoChain/internal/ids"
	"github.com/Atif-27/AutoChain/internal/store"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

// ErrZapNotFound is returned when the zap does not exist or belongs to a
// different user. Nothing is written.
var ErrZapNotFound = errors.New("zap not found")

// Writer performs the ingest transaction.
type Writer struct {
	store  *store.Store
	ids    ids.Generator
	logger *slog.Logger
}

// NewWriter creates a writer. A nil generator selects UUIDv7 ids.
func NewWriter(s *store.Store, gen ids.Generator, logger *slog.Logger) *Writer {
	if gen == nil {
		gen = ids.UUIDv7Generator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: s, ids: gen, logger: logger}
}

// Ingest records payload as a new run of zapID owned by userID and queues
// it for relay. The returned run carries its generated id.
func (w *Writer) Ingest(ctx context.Context, userID, zapID string, payload map[string]any) (workflow.Run, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	var run workflow.Run
	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		owner, err := tx.ZapOwner(ctx, zapID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrZapNotFound
		}
		if err != nil {
			return err
		}
		if owner != userID {
			return ErrZapNotFound
		}

		run, err = tx.InsertRun(ctx, workflow.Run{
			ID:       w.ids.Generate(),
			ZapID:    zapID,
			Metadata: payload,
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertPendingRelay(ctx, workflow.PendingRelay{
			ID:    w.ids.Generate(),
			RunID: run.ID,
		})
		return err
	})
	if errors.Is(err, ErrZapNotFound) {
		return workflow.Run{}, fmt.Errorf("zap %s for user %s: %w", zapID, userID, ErrZapNotFound)
	}
	if err != nil {
		return workflow.Run{}, fmt.Errorf("ingest: %w", err)
	}

	w.logger.InfoContext(ctx, "run recorded", "run_id", run.ID, "zap_id", zapID)
	return run, nil
}
