// Package store provides the relational event store behind AutoChain.
//
// Tables:
//   - zaps, triggers, actions: immutable workflow definitions
//   - available_triggers, available_actions: read-only catalog, seeded by the schema
//   - zap_runs: one row per triggering event, holding the payload snapshot
//   - zap_run_outbox: pending relay markers, one per run
//
// # Outbox Invariants
//
// A run and its pending relay marker are written in the same transaction
// (see Store.WithTx). zap_run_outbox.zap_run_id is UNIQUE, so a run can
// never have two markers. Markers are deleted only after the caller's
// publish reports success (see Store.ClaimPendingRelays).
//
// # Dialects
//
// SQLite (github.com/mattn/go-sqlite3) is the default. PostgreSQL
// (github.com/lib/pq) additionally claims relay batches with
// FOR UPDATE SKIP LOCKED so several relays can run side by side.
//
// SQLite databases are configured with:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Run and trigger metadata columns hold the payload exactly as received
// (workflow.EncodePayload) and are decoded with json.Number, so keys,
// strings and numeric literals round-trip byte for byte. Action
// parameters are stored as canonical JSON (internal/canonical).
package store
