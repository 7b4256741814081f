package main

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/config"
)

func testServer(t *testing.T) *server {
	t.Helper()
	cfg := config.Default()
	cfg.APIEndpoint.Primary = "http://127.0.0.1:0/v1/chat/completions"
	d, err := wire(cfg, "", "")
	require.NoError(t, err)
	return newServer(d, slog.Default())
}

func TestCreateAndEndSession(t *testing.T) {
	srv := testServer(t)
	mux := srv.routes()

	req := httptest.NewRequest("POST", "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, 201, rec.Code)

	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, "active", created.Status)

	req = httptest.NewRequest("POST", "/v1/sessions/"+created.SessionID+"/end", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var ended createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ended))
	assert.Equal(t, "ended", ended.Status)
}

func TestCreateSessionWithExplicitID(t *testing.T) {
	srv := testServer(t)
	mux := srv.routes()

	body := `{"session_id":"my-session"}`
	req := httptest.NewRequest("POST", "/v1/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, 201, rec.Code)

	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "my-session", created.SessionID)
}

func TestStartRunRequiresExistingSession(t *testing.T) {
	srv := testServer(t)
	mux := srv.routes()

	body := `{"request":"do something"}`
	req := httptest.NewRequest("POST", "/v1/sessions/nonexistent/runs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestStartRunRequiresNonEmptyRequest(t *testing.T) {
	srv := testServer(t)
	mux := srv.routes()

	req := httptest.NewRequest("POST", "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	body := `{"request":""}`
	req = httptest.NewRequest("POST", "/v1/sessions/"+created.SessionID+"/runs", strings.NewReader(body))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func TestRunStatusUnknownRun(t *testing.T) {
	srv := testServer(t)
	mux := srv.routes()

	req := httptest.NewRequest("GET", "/v1/runs/unknown", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)
	mux := srv.routes()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}
