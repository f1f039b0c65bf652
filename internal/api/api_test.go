// Package api_test provides behavior tests for the API package.
package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jroosing/madns/internal/api"
	"github.com/jroosing/madns/internal/api/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func performRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNew_CreatesServer(t *testing.T) {
	server := api.New("127.0.0.1", 0, nil)
	assert.NotNil(t, server)
}

func TestServer_Addr(t *testing.T) {
	server := api.New("0.0.0.0", 9090, nil)
	assert.Equal(t, "0.0.0.0:9090", server.Addr())
}

func TestServer_Engine(t *testing.T) {
	server := api.New("127.0.0.1", 0, nil)
	assert.NotNil(t, server.Engine())
}

func TestRoutes_HealthEndpoint(t *testing.T) {
	server := api.New("127.0.0.1", 0, nil)

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp handlers.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRoutes_StatsEndpoint(t *testing.T) {
	server := api.New("127.0.0.1", 0, nil)

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp handlers.ServerStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Uptime)
}

func TestRoutes_DumpEndpoint(t *testing.T) {
	server := api.New("127.0.0.1", 0, nil)

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/dump")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SUMMARY")
}

func TestServer_HandlerUpdatesServedStats(t *testing.T) {
	server := api.New("127.0.0.1", 0, nil)
	server.Handler().Update(handlers.Snapshot{Ready: 7})

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/stats")
	var resp handlers.ServerStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Resolver.Ready)
}

func TestRoutes_NotFound(t *testing.T) {
	server := api.New("127.0.0.1", 0, nil)

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/nonexistent")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Shutdown(t *testing.T) {
	server := api.New("127.0.0.1", 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, server.Shutdown(ctx))
}
