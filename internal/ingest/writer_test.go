package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atif-27/AutoChain/internal/ids"
	"github.com/Atif-27/AutoChain/internal/store"
	"github.com/Atif-27/AutoChain/internal/testutil"
)

func newTestWriter(t *testing.T) (*Writer, *store.Store) {
	t.Helper()
	s := testutil.OpenStore(t)
	testutil.SeedZap(t, s, testutil.EmailZap("zap-1", "user-1", "Hi {name}"))
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewWriter(s, ids.NewSequenceGenerator("id"), logger), s
}

func TestIngest_WritesRunAndExactlyOneMarker(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	run, err := w.Ingest(ctx, "user-1", "zap-1", map[string]any{
		"name":  "Ann",
		"count": json.Number("3"),
		"data":  map[string]any{"role": "admin"},
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", run.ID)

	stored, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "zap-1", stored.ZapID)
	assert.Equal(t, map[string]any{
		"name":  "Ann",
		"count": json.Number("3"),
		"data":  map[string]any{"role": "admin"},
	}, stored.Metadata)

	relays, err := s.PendingRelaysForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, relays, 1)
	assert.Equal(t, "id-2", relays[0].ID)
}

func TestIngest_UnknownZap(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Ingest(ctx, "user-1", "zap-404", map[string]any{})
	require.ErrorIs(t, err, ErrZapNotFound)

	n, err := s.CountPendingRelays(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngest_WrongOwner(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Ingest(ctx, "user-2", "zap-1", map[string]any{})
	require.ErrorIs(t, err, ErrZapNotFound)

	runs, err := s.ListRuns(ctx, "zap-1")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestIngest_RollsBackOnMarkerFailure(t *testing.T) {
	s := testutil.OpenStore(t)
	testutil.SeedZap(t, s, testutil.EmailZap("zap-1", "user-1", "Hi"))
	ctx := context.Background()
	testutil.SeedRun(t, s, "run-0", "zap-1", nil)

	// The second id collides with the existing marker, so the marker insert
	// fails after the run insert succeeded.
	w := NewWriter(s, ids.NewFixedGenerator("run-1", "relay-run-0"), nil)
	_, err := w.Ingest(ctx, "user-1", "zap-1", map[string]any{"a": "b"})
	require.Error(t, err)

	_, err = s.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "run must not survive without its marker")
}

func TestIngest_NilPayloadIsEmptyObject(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	run, err := w.Ingest(ctx, "user-1", "zap-1", nil)
	require.NoError(t, err)

	stored, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, stored.Metadata)
}

func TestIngest_PayloadStoredVerbatim(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	// Same visible key, decomposed and precomposed.
	nfdKey := "ke\u0301"
	nfcKey := "k\u00e9"
	payload := map[string]any{
		"nfd":   "e\u0301",
		nfdKey:  "nfd-key",
		nfcKey:  "nfc-key",
		"big":   json.Number("123456789012345678901234567890"),
		"price": json.Number("1.50"),
		"html":  "<b>&</b>",
	}

	run, err := w.Ingest(ctx, "user-1", "zap-1", payload)
	require.NoError(t, err)

	stored, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, stored.Metadata)
	assert.Len(t, stored.Metadata, 6)

	var raw string
	require.NoError(t, s.DB().QueryRowContext(ctx, "SELECT metadata FROM zap_runs WHERE id = ?", run.ID).Scan(&raw))
	assert.Contains(t, raw, `"big":123456789012345678901234567890`)
	assert.Contains(t, raw, `"price":1.50`)
	assert.Contains(t, raw, "\"nfd\":\"e\u0301\"")
	assert.Contains(t, raw, `"html":"<b>&</b>"`)
}
