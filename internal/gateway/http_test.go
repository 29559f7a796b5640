package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/sessionmgr"
	"github.com/haasonsaas/agentgate/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *sessionmgr.Manager) {
	t.Helper()
	sessions := sessionmgr.New(sessionmgr.NewMemStore())
	srv := New(Deps{Sessions: sessions, Version: "test"})
	return srv, sessions
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointReturnsOKWithoutAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestTokenAuthRejectsMissingOrWrongBearer(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte(`
gateway:
  auth:
    mode: token
    token: secret
`), 0o644))
	mgr, err := config.NewManager(path)
	require.NoError(t, err)

	sessions := sessionmgr.New(sessionmgr.NewMemStore())
	srv := New(Deps{Sessions: sessions, Config: mgr})

	rec := doRequest(t, srv, http.MethodGet, "/api/sessions", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions", nil, map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions", nil, map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionsExportImportRoundTrips(t *testing.T) {
	srv, sessions := newTestServer(t)

	_, err := sessions.GetOrCreate("web", "u1")
	require.NoError(t, err)
	require.NoError(t, sessions.AddMessage("web:u1", models.Message{Role: models.RoleUser, Content: "hi"}))

	rec := doRequest(t, srv, http.MethodGet, "/api/sessions/web:u1/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var exported sessionmgr.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	require.Equal(t, "web:u1", exported.Session.ID)
	require.Len(t, exported.Messages, 1)

	require.NoError(t, sessions.DeleteSession("web:u1"))

	rec = doRequest(t, srv, http.MethodPost, "/api/sessions/import", exported, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := sessions.GetMessages("web:u1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Content)
}

func TestSessionsItemDeleteRemovesSession(t *testing.T) {
	srv, sessions := newTestServer(t)
	_, err := sessions.GetOrCreate("web", "u1")
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodDelete, "/api/sessions/web:u1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = sessions.GetSession("web:u1")
	require.Error(t, err)
}
