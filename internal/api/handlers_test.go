package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyrag.io/backend/internal/auth"
	"moneyrag.io/backend/internal/core"
	"moneyrag.io/backend/internal/engine"
	"moneyrag.io/backend/internal/ingest"
	"moneyrag.io/backend/internal/ledger"
	"moneyrag.io/backend/internal/metrics"
	"moneyrag.io/backend/internal/store"
)

const testSecret = "test-secret"

type fakeEngine struct {
	mu      sync.Mutex
	indexed int
}

func (e *fakeEngine) Ask(ctx context.Context, question string, history []store.Message) (string, error) {
	return "you spent 42.50 at whole foods", nil
}

func (e *fakeEngine) Extract(ctx context.Context, doc engine.Document) ([]store.Transaction, error) {
	fileID := doc.FileID
	return []store.Transaction{{
		Description:  "Groceries",
		Amount:       decimal.RequireFromString("42.50"),
		TransDate:    time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Category:     "Food",
		MerchantName: "Whole Foods",
		Source:       store.SourceCSV,
		FileID:       &fileID,
	}}, nil
}

func (e *fakeEngine) Index(ctx context.Context, txs []store.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexed += len(txs)
	return nil
}

func (e *fakeEngine) Teardown(ctx context.Context) error { return nil }

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := metrics.New(prometheus.NewRegistry())
	cache := engine.NewCache(engine.FactoryFunc(func(ctx context.Context, tenantID string, cfg store.EngineConfig) (engine.Engine, error) {
		return &fakeEngine{}, nil
	}), engine.WithMetrics(m))
	tracker := ingest.NewTracker(ingest.WithMetrics(m))
	dedup := ledger.NewDeduplicator(s, m)

	configs := core.NewConfigService(s, cache)
	files := core.NewFileService(s, configs, dedup, tracker)
	t.Cleanup(func() { _ = files.Close(context.Background()) })

	h := NewAPIHandler(Services{
		Configs:      configs,
		Files:        files,
		Transactions: core.NewTransactionService(s, dedup, cache),
		Chat:         core.NewChatService(s, configs),
		Tracker:      tracker,
	})
	srv := httptest.NewServer(NewRouter(h, auth.NewJWTVerifier(testSecret, "authenticated"), m))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(testSecret, userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) upload(t *testing.T, user, filename, contentType, content string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="files"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/files/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, user))
	return ts.send(t, req)
}

func validConfig() map[string]string {
	return map[string]string{
		"llm_provider":    "Google",
		"api_key":         "k1",
		"decode_model":    "gemini-2.0-flash",
		"embedding_model": "text-embedding-004",
	}
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing header", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/api/v1/config", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Authorization header is required", body["detail"])
	})

	t.Run("bad token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/config", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		resp, body := ts.send(t, req)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, body["detail"], "invalid token")
	})

	t.Run("me", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/api/v1/auth/me", "u1", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "u1", body["id"])
		assert.Equal(t, "u1@example.com", body["email"])
	})
}

func TestConfigEndpoints(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/config", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "u1"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var got any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Nil(t, got, "unconfigured tenant reads null")

	bad := validConfig()
	bad["llm_provider"] = "Anthropic"
	r, body := ts.do(t, http.MethodPut, "/api/v1/config", "u1", bad)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	assert.Contains(t, body["detail"], "llm_provider")

	missing := validConfig()
	delete(missing, "api_key")
	r, body = ts.do(t, http.MethodPut, "/api/v1/config", "u1", missing)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	assert.Contains(t, body["detail"], "api_key")

	r, body = ts.do(t, http.MethodPut, "/api/v1/config", "u1", validConfig())
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "gemini-2.0-flash", body["decode_model"])

	r, body = ts.do(t, http.MethodGet, "/api/v1/config", "u1", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "Google", body["llm_provider"])

	// tenants are isolated
	r, _ = ts.do(t, http.MethodPost, "/api/v1/chat", "u2", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestUploadIngestAndDelete(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.upload(t, "u1", "jan.csv", "text/csv", "date,amount\n2024-01-05,42.50\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "upload requires a configuration")
	assert.NotEmpty(t, body["detail"])

	r, _ := ts.do(t, http.MethodPut, "/api/v1/config", "u1", validConfig())
	require.Equal(t, http.StatusOK, r.StatusCode)

	resp, body = ts.upload(t, "u1", "notes.txt", "text/plain", "hello")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.upload(t, "u1", "jan.csv", "text/csv", "date,amount\n2024-01-05,42.50\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Uploaded 1 file(s). Ingestion is processing in the background.", body["message"])
	ids, ok := body["file_ids"].([]any)
	require.True(t, ok)
	require.Len(t, ids, 1)
	fileID := ids[0].(string)

	require.Eventually(t, func() bool {
		_, status := ts.do(t, http.MethodGet, "/api/v1/files/ingestion-status", "u1", nil)
		return status["status"] == string(ingest.StateDone)
	}, 5*time.Second, 20*time.Millisecond)

	_, body = ts.do(t, http.MethodGet, "/api/v1/transactions", "u1", nil)
	txs := body["transactions"].([]any)
	require.Len(t, txs, 1)
	tx := txs[0].(map[string]any)
	assert.Equal(t, "2024-01-05", tx["trans_date"])
	assert.Equal(t, 42.5, tx["amount"])
	assert.Equal(t, fileID, tx["file_id"])

	_, body = ts.do(t, http.MethodGet, "/api/v1/files", "u1", nil)
	assert.Len(t, body["files"], 1)

	r, body = ts.do(t, http.MethodDelete, "/api/v1/files/"+fileID, "u1", nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode, "type is required")

	r, _ = ts.do(t, http.MethodDelete, "/api/v1/files/"+fileID+"?type=bill", "u1", nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode, "kind must match")

	r, _ = ts.do(t, http.MethodDelete, "/api/v1/files/"+fileID+"?type=csv", "u2", nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode, "other tenants cannot delete")

	r, body = ts.do(t, http.MethodDelete, "/api/v1/files/"+fileID+"?type=csv", "u1", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "Deleted jan.csv", body["message"])

	_, body = ts.do(t, http.MethodGet, "/api/v1/transactions", "u1", nil)
	assert.Empty(t, body["transactions"])
}

func TestCreateTransaction(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		body   map[string]any
		detail string
	}{
		{"negative amount", map[string]any{"description": "x", "amount": -1, "trans_date": "2024-01-05"}, "amount must be greater than 0"},
		{"bad date", map[string]any{"description": "x", "amount": 5, "trans_date": "05/01/2024"}, "trans_date"},
		{"missing description", map[string]any{"amount": 5, "trans_date": "2024-01-05"}, "description"},
		{"unknown field", map[string]any{"description": "x", "amount": 5, "trans_date": "2024-01-05", "tip": 1}, "invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, body := ts.do(t, http.MethodPost, "/api/v1/transactions", "u1", tc.body)
			assert.Equal(t, http.StatusBadRequest, r.StatusCode)
			assert.Contains(t, body["detail"], tc.detail)
		})
	}

	req := map[string]any{"description": "Coffee", "amount": "4.75", "trans_date": "2024-02-01"}
	r, first := ts.do(t, http.MethodPost, "/api/v1/transactions", "u1", req)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, 4.75, first["amount"])
	assert.Equal(t, core.DefaultCategory, first["category"])
	assert.Equal(t, "Coffee", first["merchant_name"])
	assert.Equal(t, store.SourceManual, first["source"])
	assert.NotContains(t, first, "file_id")

	// the same transaction again updates the existing row
	req["category"] = "Drinks"
	r, second := ts.do(t, http.MethodPost, "/api/v1/transactions", "u1", req)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, "Drinks", second["category"])

	r, _ = ts.do(t, http.MethodGet, "/api/v1/transactions?limit=zero", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	_, body := ts.do(t, http.MethodGet, "/api/v1/transactions?limit=10", "u1", nil)
	assert.Len(t, body["transactions"], 1)
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)

	r, _ := ts.do(t, http.MethodPut, "/api/v1/config", "u1", validConfig())
	require.Equal(t, http.StatusOK, r.StatusCode)

	r, body := ts.do(t, http.MethodPost, "/api/v1/chat", "u1", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	assert.Contains(t, body["detail"], "message")

	r, body = ts.do(t, http.MethodPost, "/api/v1/chat", "u1", map[string]string{"message": "How much on groceries?"})
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "you spent 42.50 at whole foods", body["reply"])
	assert.NotEmpty(t, body["message_id"])

	_, body = ts.do(t, http.MethodGet, "/api/v1/chat/history", "u1", nil)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "How much on groceries?", msgs[0].(map[string]any)["content"])

	_, body = ts.do(t, http.MethodGet, "/api/v1/chat/history", "u2", nil)
	assert.Empty(t, body["messages"])
}

func TestUnknownRouteAndTrailingSlash(t *testing.T) {
	ts := newTestServer(t)

	r, _ := ts.do(t, http.MethodGet, "/api/v1/health/", "", nil)
	assert.Equal(t, http.StatusOK, r.StatusCode)

	r, _ = ts.do(t, http.MethodGet, "/api/v1/nope", "u1", nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
	assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain"))
}
