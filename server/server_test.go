package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizenheimer/sufdex"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *sufdex.MemoryStore) {
	t.Helper()
	store := sufdex.NewMemoryStore()
	sa, err := sufdex.NewSuffixArray(context.Background(), store,
		sufdex.WithMaxLevel(8), sufdex.WithLogger(quietLogger()))
	require.NoError(t, err)
	return New(sa, store, Options{Logger: quietLogger()}), store
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func queryRows(t *testing.T, h http.Handler, target string) []sufdex.RowID {
	t.Helper()
	rec := do(t, h, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Results
}

// ═══════════════════════════════════════════════════════════════════════════════
// INDEX ROUTES
// ═══════════════════════════════════════════════════════════════════════════════

func TestServer_RecordLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/records", sufdex.Record{ID: 1, Text: "hello world"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodPost, "/records", sufdex.Record{ID: 2, Text: "worldly"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.ElementsMatch(t, []sufdex.RowID{1, 2}, queryRows(t, srv, "/query?pattern=worl"))
	assert.Equal(t, []sufdex.RowID{1}, queryRows(t, srv, "/query?pattern=hello&n=5"))
	assert.Empty(t, queryRows(t, srv, "/query?pattern=zebra"))

	rec = do(t, srv, http.MethodGet, "/length", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"length":20}`, rec.Body.String())

	rec = do(t, srv, http.MethodPut, "/records/2", updateRequest{Old: "worldly", New: "wordy"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, []sufdex.RowID{1}, queryRows(t, srv, "/query?pattern=worl"))
	assert.Equal(t, []sufdex.RowID{2}, queryRows(t, srv, "/query?pattern=dy"))

	rec = do(t, srv, http.MethodPost, "/records/delete", sufdex.Record{ID: 1, Text: "hello world"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, queryRows(t, srv, "/query?pattern=hello"))
}

func TestServer_QueryCapsResults(t *testing.T) {
	srv, _ := newTestServer(t)
	for i := 1; i <= 5; i++ {
		do(t, srv, http.MethodPost, "/records", sufdex.Record{ID: sufdex.RowID(i), Text: "same"})
	}

	assert.Len(t, queryRows(t, srv, "/query?pattern=am&n=2"), 2)

	capped := New(srv.index, srv.store, Options{MaxResults: 3, Logger: quietLogger()})
	assert.Len(t, queryRows(t, capped, "/query?pattern=am&n=100"), 3)
}

func TestServer_ErrorStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/records", sufdex.Record{ID: 1, Text: "hello"})

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"zero limit", http.MethodGet, "/query?pattern=h&n=0", nil, http.StatusBadRequest},
		{"non numeric limit", http.MethodGet, "/query?pattern=h&n=lots", nil, http.StatusBadRequest},
		{"delete wrong text", http.MethodPost, "/records/delete", sufdex.Record{ID: 1, Text: "help"}, http.StatusConflict},
		{"malformed body", http.MethodPost, "/records", "not a record", http.StatusBadRequest},
		{"bad row path", http.MethodPut, "/records/abc", updateRequest{}, http.StatusNotFound},
		{"missing node", http.MethodGet, "/nodes/12345", nil, http.StatusNotFound},
		{"bad node id", http.MethodGet, "/nodes/middle", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, []sufdex.RowID{1}, queryRows(t, srv, "/query?pattern=hell"))
}

// ═══════════════════════════════════════════════════════════════════════════════
// NODE ROUTES
// ═══════════════════════════════════════════════════════════════════════════════

func TestServer_NodeRoutes(t *testing.T) {
	store := sufdex.NewMemoryStore()
	srv := New(nil, store, Options{Logger: quietLogger()})

	rec := do(t, srv, http.MethodPost, "/nodes/ids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":0}`, rec.Body.String())

	node := sufdex.Node{ID: sufdex.Head, Forward: []sufdex.NodeID{sufdex.Tail}}
	rec = do(t, srv, http.MethodPut, "/nodes/head", node)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodPut, "/nodes/4", node)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "path and body ids differ")

	rec = do(t, srv, http.MethodGet, "/nodes/head", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got sufdex.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, node.Forward, got.Forward)

	rec = do(t, srv, http.MethodDelete, "/nodes/head", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, store.Count())

	rec = do(t, srv, http.MethodGet, "/query?pattern=a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "index routes are not mounted without an index")
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/records", sufdex.Record{ID: 1, Text: "abc"})
	do(t, srv, http.MethodGet, "/query?pattern=b", nil)
	do(t, srv, http.MethodGet, "/query?pattern=b&n=-1", nil)

	rec := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `sufdex_operations_total{op="insert_record",status="ok"} 1`), body)
	assert.True(t, strings.Contains(body, `sufdex_operations_total{op="query",status="error"} 1`), body)
	assert.Contains(t, body, "sufdex_operation_duration_seconds")
}

func TestServer_IndexRoutesReportLostNodesAsServerErrors(t *testing.T) {
	srv, store := newTestServer(t)
	do(t, srv, http.MethodPost, "/records", sufdex.Record{ID: 1, Text: "hello"})

	// Ids 0..5 hold the terminal key and "o", "l", "l", "e", "h"; drop the middle of the chain.
	require.NoError(t, store.RemoveNode(context.Background(), sufdex.RefID(3)))

	rec := do(t, srv, http.MethodGet, "/query?pattern=hello", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/nodes/3", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "a missing node is still 404 on the node routes")
}

// ═══════════════════════════════════════════════════════════════════════════════
// SYNC CURSOR AND HEALTH
// ═══════════════════════════════════════════════════════════════════════════════

func TestServer_LastRow(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/last-row", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lastRow":null}`, rec.Body.String())

	rec = do(t, srv, http.MethodPut, "/last-row", map[string]int{"row": 41})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/last-row", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lastRow":41}`, rec.Body.String())

	rec = do(t, srv, http.MethodPut, "/last-row", map[string]int{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "row is required")
	rec = do(t, srv, http.MethodPut, "/last-row", map[string]int{"row": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "rows are unsigned")
}

// downStore fails every read the way an unreachable backend does.
type downStore struct {
	*sufdex.MemoryStore
}

func (downStore) GetNode(context.Context, sufdex.NodeID) (*sufdex.Node, error) {
	return nil, errors.New("connection refused")
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"implemented":true}`, rec.Body.String())

	bare := New(nil, sufdex.NewMemoryStore(), Options{Logger: quietLogger()})
	rec = do(t, bare, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "a node store without HEAD is healthy")

	down := New(nil, downStore{sufdex.NewMemoryStore()}, Options{Logger: quietLogger()})
	rec = do(t, down, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) WriteHeader(int)           {}
func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("client went away") }

func TestServer_LogsFailedErrorResponses(t *testing.T) {
	var logs bytes.Buffer
	srv := New(nil, sufdex.NewMemoryStore(), Options{Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	srv.fail(&brokenWriter{header: http.Header{}}, http.StatusBadRequest, errors.New("bad input"))

	assert.Contains(t, logs.String(), "write error response")
	assert.Contains(t, logs.String(), "client went away")
}
