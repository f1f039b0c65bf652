// Package handlers_test provides behavior tests for the diagnostics handlers.
package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/madns/internal/api/handlers"
	"github.com/jroosing/madns/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	api := r.Group("/api/v1")
	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)
	api.GET("/dump", h.Dump)
	return r
}

func performRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth_ReturnsOK(t *testing.T) {
	h := handlers.New(nil)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp handlers.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStats_ReportsEmptySnapshotBeforeFirstUpdate(t *testing.T) {
	h := handlers.New(nil)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp handlers.ServerStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Uptime)
	assert.Positive(t, resp.CPU.NumCPU)
	assert.Equal(t, 0, resp.Resolver.Ready)
}

func TestStats_ReflectsLastSnapshot(t *testing.T) {
	h := handlers.New(nil)
	h.Update(handlers.Snapshot{
		Ready:        5,
		Active:       3,
		CacheEntries: 12,
		Servers:      []handlers.ServerStat{{IP: "8.8.8.8", InFlight: 2, Latency: 0.01}},
	})
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp handlers.ServerStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Resolver.Ready)
	assert.Equal(t, 3, resp.Resolver.Active)
	assert.Equal(t, 12, resp.Resolver.CacheEntries)
	require.Len(t, resp.Resolver.Servers, 1)
	assert.Equal(t, "8.8.8.8", resp.Resolver.Servers[0].IP)
}

func TestDump_DefaultsToAllSections(t *testing.T) {
	h := handlers.New(nil)
	h.Update(handlers.Snapshot{
		Dump: diag.DumpData{
			Summary: diag.Summary{Ready: 1, Active: 0, CacheEntries: 0, Servers: 1},
		},
	})
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/dump")
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "SUMMARY")
	assert.Contains(t, body, "QUERIES")
	assert.Contains(t, body, "CACHE")
}

func TestDump_OptsFiltersSections(t *testing.T) {
	h := handlers.New(nil)
	h.Update(handlers.Snapshot{Dump: diag.DumpData{Summary: diag.Summary{Ready: 1}}})
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/dump?opts=cache")
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.False(t, strings.Contains(body, "QUERIES"))
	assert.Contains(t, body, "CACHE")
}
