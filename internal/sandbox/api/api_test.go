package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-infra/sandboxd/internal/logging"
	"github.com/agent-infra/sandboxd/internal/sandbox/engine"
	"github.com/agent-infra/sandboxd/internal/sandbox/lifecycle"
	"github.com/agent-infra/sandboxd/internal/sandbox/registry"
	"github.com/agent-infra/sandboxd/internal/sandbox/session"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Fake) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
containers:
  python-sandbox:
    description: run python
    image: sandboxd/python-sandbox:latest
    security:
      network_mode: none
`), 0o644))

	reg := registry.New(path, logging.OrNop(nil))
	require.NoError(t, reg.Load())

	fake := engine.NewFake()
	lazy := engine.NewLazy(fake)
	table := session.New(900, 3600)
	ctl := lifecycle.New(reg, lazy, table, logging.OrNop(nil), nil, lifecycle.Config{MaxOutputLength: 1000})

	server := New(ctl, logging.OrNop(nil))
	return httptest.NewServer(server.Handler()), fake
}

func TestHealth_OKWhenEngineReachable(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestListProfiles_ReturnsRegistryCatalog(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/containers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Containers []registry.Profile `json:"containers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Containers, 1)
	assert.Equal(t, "python-sandbox", body.Containers[0].Name)
}

func TestStart_UnknownProfileReturns403(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	payload, _ := json.Marshal(map[string]any{"container_name": "nope", "keep_alive": true})
	resp, err := http.Post(srv.URL+"/containers/start", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStart_ValidProfileReturns200WithSession(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	payload, _ := json.Marshal(map[string]any{"container_name": "python-sandbox", "keep_alive": true, "ttl_seconds": 300})
	resp, err := http.Post(srv.URL+"/containers/start", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body lifecycle.StartResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Session)
	assert.Equal(t, 300, body.Session.TTLSeconds)
}

func TestStop_MissingContainerIDReturns400(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/containers/stop", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionsLifecycle_ExtendAndClose(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	startPayload, _ := json.Marshal(map[string]any{"container_name": "python-sandbox", "keep_alive": true, "ttl_seconds": 300})
	startResp, err := http.Post(srv.URL+"/containers/start", "application/json", bytes.NewReader(startPayload))
	require.NoError(t, err)
	defer startResp.Body.Close()

	var started lifecycle.StartResult
	require.NoError(t, json.NewDecoder(startResp.Body).Decode(&started))
	require.NotNil(t, started.Session)

	extendPayload, _ := json.Marshal(map[string]any{"extend_seconds": 50})
	extendResp, err := http.Post(srv.URL+"/sessions/"+started.Session.SessionID+"/extend", "application/json", bytes.NewReader(extendPayload))
	require.NoError(t, err)
	defer extendResp.Body.Close()
	assert.Equal(t, http.StatusOK, extendResp.StatusCode)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, srv.URL+"/sessions/"+started.Session.SessionID, nil)
	require.NoError(t, err)
	closeResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer closeResp.Body.Close()
	assert.Equal(t, http.StatusOK, closeResp.StatusCode)
}
