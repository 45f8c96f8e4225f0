package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Atif-27/AutoChain/internal/workflow"
)

// Tx is a store transaction. Every write made through it commits or rolls
// back together.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
	now     func() time.Time
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(&Tx{tx: sqlTx, dialect: s.dialect, now: s.now}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, rebind(t.dialect, query), args...)
}

// ZapOwner returns the user id that owns zapID.
// Returns ErrNotFound if the zap does not exist.
func (t *Tx) ZapOwner(ctx context.Context, zapID string) (string, error) {
	var owner string
	err := t.tx.QueryRowContext(ctx, rebind(t.dialect, `SELECT user_id FROM zaps WHERE id = ?`), zapID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("zap %s: %w", zapID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query zap owner: %w", err)
	}
	return owner, nil
}

// InsertRun writes a run with its payload snapshot.
// A zero CreatedAt is filled from the store clock.
func (t *Tx) InsertRun(ctx context.Context, run workflow.Run) (workflow.Run, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = t.now()
	}
	payload, err := marshalPayload(run.Metadata)
	if err != nil {
		return workflow.Run{}, fmt.Errorf("insert run: %w", err)
	}

	_, err = t.exec(ctx, `
		INSERT INTO zap_runs (id, zap_id, metadata, created_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.ZapID, payload, run.CreatedAt)
	if err != nil {
		return workflow.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// InsertPendingRelay writes the outbox marker for a run.
// Fails on a second marker for the same run (UNIQUE zap_run_id).
func (t *Tx) InsertPendingRelay(ctx context.Context, pr workflow.PendingRelay) (workflow.PendingRelay, error) {
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = t.now()
	}

	_, err := t.exec(ctx, `
		INSERT INTO zap_run_outbox (id, zap_run_id, created_at)
		VALUES (?, ?, ?)
	`, pr.ID, pr.RunID, pr.CreatedAt)
	if err != nil {
		return workflow.PendingRelay{}, fmt.Errorf("insert pending relay: %w", err)
	}
	return pr, nil
}

// CreateZap writes a zap with its trigger and actions in one transaction.
// Action sorting orders are taken from slice position, so Actions[i] gets
// sorting order i regardless of the value passed in.
func (s *Store) CreateZap(ctx context.Context, zap workflow.Zap) (workflow.Zap, error) {
	if zap.ID == "" {
		return workflow.Zap{}, errors.New("create zap: missing id")
	}
	if zap.CreatedAt.IsZero() {
		zap.CreatedAt = s.now()
	}

	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.exec(ctx, `
			INSERT INTO zaps (id, user_id, name, created_at)
			VALUES (?, ?, ?, ?)
		`, zap.ID, zap.UserID, zap.Name, zap.CreatedAt); err != nil {
			return fmt.Errorf("insert zap: %w", err)
		}

		zap.Trigger.ZapID = zap.ID
		triggerMeta, err := marshalPayload(zap.Trigger.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.exec(ctx, `
			INSERT INTO triggers (id, zap_id, trigger_id, metadata)
			VALUES (?, ?, ?, ?)
		`, zap.Trigger.ID, zap.ID, zap.Trigger.TypeID, triggerMeta); err != nil {
			return fmt.Errorf("insert trigger: %w", err)
		}

		for i := range zap.Actions {
			a := &zap.Actions[i]
			a.ZapID = zap.ID
			a.SortingOrder = i
			meta, err := marshalActionMetadata(a.Metadata)
			if err != nil {
				return err
			}
			if _, err := tx.exec(ctx, `
				INSERT INTO actions (id, zap_id, action_id, sorting_order, metadata)
				VALUES (?, ?, ?, ?, ?)
			`, a.ID, zap.ID, a.TypeID, a.SortingOrder, meta); err != nil {
				return fmt.Errorf("insert action %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return workflow.Zap{}, fmt.Errorf("create zap: %w", err)
	}
	return zap, nil
}

// DeletePendingRelays removes relay markers by id and returns how many rows
// were deleted. Unknown ids are ignored.
func (s *Store) DeletePendingRelays(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args := deleteRelaysQuery(s.dialect, ids)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete pending relays: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete pending relays: %w", err)
	}
	return n, nil
}
