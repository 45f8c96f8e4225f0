package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Atif-27/AutoChain/internal/workflow"
)

// ClaimPendingRelays hands up to limit pending relay markers to publish and
// deletes exactly those markers once publish returns nil. When publish
// fails the markers stay in place for the next claim and the publish error
// is returned unwrapped.
//
// On PostgreSQL the batch is selected FOR UPDATE SKIP LOCKED inside one
// transaction, so concurrent relays never hand out the same marker. On
// SQLite the single-connection pool already serializes writers and the
// batch is read, published, then deleted.
//
// Returns the number of markers relayed and deleted.
func (s *Store) ClaimPendingRelays(ctx context.Context, limit int, publish func([]workflow.PendingRelay) error) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("claim pending relays: limit must be positive, got %d", limit)
	}
	if s.dialect == Postgres {
		return s.claimLocked(ctx, limit, publish)
	}

	batch, err := s.ListPendingRelays(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := publish(batch); err != nil {
		return 0, err
	}
	if _, err := s.DeletePendingRelays(ctx, relayIDs(batch)); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func (s *Store) claimLocked(ctx context.Context, limit int, publish func([]workflow.PendingRelay) error) (int, error) {
	var claimed int
	err := s.WithTx(ctx, func(tx *Tx) error {
		rows, err := tx.tx.QueryContext(ctx, `
			SELECT id, zap_run_id, created_at
			FROM zap_run_outbox
			ORDER BY created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("claim pending relays: %w", err)
		}
		batch, err := scanPendingRelays(rows)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := publish(batch); err != nil {
			return err
		}

		query, args := deleteRelaysQuery(Postgres, relayIDs(batch))
		if _, err := tx.tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete pending relays: %w", err)
		}
		claimed = len(batch)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return claimed, nil
}

// ListPendingRelays returns up to limit markers, oldest first.
func (s *Store) ListPendingRelays(ctx context.Context, limit int) ([]workflow.PendingRelay, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, zap_run_id, created_at
		FROM zap_run_outbox
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending relays: %w", err)
	}
	return scanPendingRelays(rows)
}

// PendingRelaysForRun returns the markers referencing runID.
// The UNIQUE constraint keeps this at zero or one.
func (s *Store) PendingRelaysForRun(ctx context.Context, runID string) ([]workflow.PendingRelay, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, zap_run_id, created_at
		FROM zap_run_outbox
		WHERE zap_run_id = ?
		ORDER BY id ASC
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("query pending relays: %w", err)
	}
	return scanPendingRelays(rows)
}

// CountPendingRelays returns the outbox backlog size.
func (s *Store) CountPendingRelays(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zap_run_outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending relays: %w", err)
	}
	return n, nil
}

func scanPendingRelays(rows *sql.Rows) ([]workflow.PendingRelay, error) {
	defer rows.Close()

	batch := []workflow.PendingRelay{}
	for rows.Next() {
		var pr workflow.PendingRelay
		if err := rows.Scan(&pr.ID, &pr.RunID, &pr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending relay: %w", err)
		}
		batch = append(batch, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending relays: %w", err)
	}
	return batch, nil
}

func deleteRelaysQuery(dialect Dialect, ids []string) (string, []any) {
	if dialect == Postgres {
		return `DELETE FROM zap_run_outbox WHERE id = ANY($1)`, []any{pq.Array(ids)}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return `DELETE FROM zap_run_outbox WHERE id IN (` + placeholders + `)`, args
}

func relayIDs(batch []workflow.PendingRelay) []string {
	ids := make([]string, len(batch))
	for i, pr := range batch {
		ids[i] = pr.ID
	}
	return ids
}
