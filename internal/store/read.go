package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Atif-27/AutoChain/internal/workflow"
)

// GetZap returns a zap with its trigger and actions. Actions are ordered by
// sorting_order and carry their catalog names.
// Returns ErrNotFound if the zap does not exist.
func (s *Store) GetZap(ctx context.Context, zapID string) (workflow.Zap, error) {
	var zap workflow.Zap
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, name, created_at
		FROM zaps
		WHERE id = ?
	`), zapID).Scan(&zap.ID, &zap.UserID, &zap.Name, &zap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Zap{}, fmt.Errorf("zap %s: %w", zapID, ErrNotFound)
	}
	if err != nil {
		return workflow.Zap{}, fmt.Errorf("query zap: %w", err)
	}

	trigger, err := s.readTrigger(ctx, zapID)
	if err != nil {
		return workflow.Zap{}, err
	}
	zap.Trigger = trigger

	actions, err := s.readActions(ctx, zapID)
	if err != nil {
		return workflow.Zap{}, err
	}
	zap.Actions = actions

	return zap, nil
}

func (s *Store) readTrigger(ctx context.Context, zapID string) (workflow.Trigger, error) {
	var (
		t    workflow.Trigger
		meta string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT t.id, t.zap_id, t.trigger_id, at.name, t.metadata
		FROM triggers t
		JOIN available_triggers at ON at.id = t.trigger_id
		WHERE t.zap_id = ?
	`), zapID).Scan(&t.ID, &t.ZapID, &t.TypeID, &t.TypeName, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Trigger{}, fmt.Errorf("trigger for zap %s: %w", zapID, ErrNotFound)
	}
	if err != nil {
		return workflow.Trigger{}, fmt.Errorf("query trigger: %w", err)
	}
	t.Metadata, err = unmarshalPayload(meta)
	if err != nil {
		return workflow.Trigger{}, err
	}
	return t, nil
}

func (s *Store) readActions(ctx context.Context, zapID string) ([]workflow.Action, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT a.id, a.zap_id, a.action_id, aa.name, a.sorting_order, a.metadata
		FROM actions a
		JOIN available_actions aa ON aa.id = a.action_id
		WHERE a.zap_id = ?
		ORDER BY a.sorting_order ASC
	`), zapID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []workflow.Action{}
	for rows.Next() {
		var (
			a    workflow.Action
			meta string
		)
		if err := rows.Scan(&a.ID, &a.ZapID, &a.TypeID, &a.TypeName, &a.SortingOrder, &meta); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if a.Metadata, err = unmarshalActionMetadata(meta); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// GetRun returns a run with its payload snapshot.
// Returns ErrNotFound if the run does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (workflow.Run, error) {
	var (
		run  workflow.Run
		meta string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, zap_id, metadata, created_at
		FROM zap_runs
		WHERE id = ?
	`), runID).Scan(&run.ID, &run.ZapID, &meta, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return workflow.Run{}, fmt.Errorf("query run: %w", err)
	}
	if run.Metadata, err = unmarshalPayload(meta); err != nil {
		return workflow.Run{}, err
	}
	return run, nil
}

// ListRuns returns the runs of a zap, oldest first.
func (s *Store) ListRuns(ctx context.Context, zapID string) ([]workflow.Run, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, zap_id, metadata, created_at
		FROM zap_runs
		WHERE zap_id = ?
		ORDER BY created_at ASC, id ASC
	`), zapID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []workflow.Run{}
	for rows.Next() {
		var (
			run  workflow.Run
			meta string
		)
		if err := rows.Scan(&run.ID, &run.ZapID, &meta, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.Metadata, err = unmarshalPayload(meta); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// AvailableTriggers returns the trigger catalog ordered by id.
func (s *Store) AvailableTriggers(ctx context.Context) ([]workflow.AvailableTrigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, image FROM available_triggers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query available triggers: %w", err)
	}
	defer rows.Close()

	out := []workflow.AvailableTrigger{}
	for rows.Next() {
		var t workflow.AvailableTrigger
		if err := rows.Scan(&t.ID, &t.Name, &t.Image); err != nil {
			return nil, fmt.Errorf("scan available trigger: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate available triggers: %w", err)
	}
	return out, nil
}

// AvailableActions returns the action catalog ordered by id.
func (s *Store) AvailableActions(ctx context.Context) ([]workflow.AvailableAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, image FROM available_actions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query available actions: %w", err)
	}
	defer rows.Close()

	out := []workflow.AvailableAction{}
	for rows.Next() {
		var a workflow.AvailableAction
		if err := rows.Scan(&a.ID, &a.Name, &a.Image); err != nil {
			return nil, fmt.Errorf("scan available action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate available actions: %w", err)
	}
	return out, nil
}
