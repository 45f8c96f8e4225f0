package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postHook(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCatchHook_Accepts(t *testing.T) {
	w, s := newTestWriter(t)
	router := NewRouter(NewHandler(w, s))

	rec := postHook(t, router, "/hooks/catch/user-1/zap-1", `{"name":"Ann","data":{"role":"admin"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "webhook received", resp.Message)
	assert.Equal(t, "id-1", resp.RunID)

	n, err := s.CountPendingRelays(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCatchHook_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"array body", "/hooks/catch/user-1/zap-1", `[1,2]`, http.StatusBadRequest, "invalid_payload"},
		{"scalar body", "/hooks/catch/user-1/zap-1", `"hi"`, http.StatusBadRequest, "invalid_payload"},
		{"empty body", "/hooks/catch/user-1/zap-1", ``, http.StatusBadRequest, "invalid_payload"},
		{"broken json", "/hooks/catch/user-1/zap-1", `{"a":`, http.StatusBadRequest, "invalid_payload"},
		{"trailing value", "/hooks/catch/user-1/zap-1", `{} {}`, http.StatusBadRequest, "invalid_payload"},
		{"unknown zap", "/hooks/catch/user-1/zap-404", `{}`, http.StatusNotFound, "zap_not_found"},
		{"wrong owner", "/hooks/catch/user-2/zap-1", `{}`, http.StatusNotFound, "zap_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, s := newTestWriter(t)
			router := NewRouter(NewHandler(w, s))

			rec := postHook(t, router, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)

			n, err := s.CountPendingRelays(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n, "rejected requests write nothing")
		})
	}
}

func TestCatchHook_StoreFailure(t *testing.T) {
	w, s := newTestWriter(t)
	router := NewRouter(NewHandler(w, s))
	require.NoError(t, s.Close())

	rec := postHook(t, router, "/hooks/catch/user-1/zap-1", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCatchHook_MethodNotAllowed(t *testing.T) {
	w, s := newTestWriter(t)
	router := NewRouter(NewHandler(w, s))

	req := httptest.NewRequest(http.MethodGet, "/hooks/catch/user-1/zap-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	w, _ := newTestWriter(t)

	ok := NewRouter(NewHandler(w, pingFunc(func(context.Context) error { return nil })))
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := NewRouter(NewHandler(w, pingFunc(func(context.Context) error { return errors.New("db down") })))
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatchHook_KeepsNumberLiterals(t *testing.T) {
	w, s := newTestWriter(t)
	router := NewRouter(NewHandler(w, s))

	rec := postHook(t, router, "/hooks/catch/user-1/zap-1",
		`{"huge":1e400,"big":123456789012345678901234567890,"price":1.50}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	runs, err := s.ListRuns(context.Background(), "zap-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, map[string]any{
		"huge":  json.Number("1e400"),
		"big":   json.Number("123456789012345678901234567890"),
		"price": json.Number("1.50"),
	}, runs[0].Metadata)
}
