package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) ServiceHealthResponse {
	t.Helper()
	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func passing(context.Context) error { return nil }

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	// 存活探针不执行依赖检查
	h.RegisterCheck(NewCheck("database", failing("down")))
	router := mux.NewRouter()
	h.Register(router, "1.2.3", "", "")

	for _, path := range []string{"/health", "/healthz"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusOK, w.Code)
			status := decodeHealth(t, w)
			assert.Equal(t, StatusHealthy, status.Status)
			assert.Empty(t, status.Checks)
			assert.False(t, status.Timestamp.IsZero())
			if path == "/health" {
				assert.Equal(t, "1.2.3", status.Version)
			}
		})
	}
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantCode   int
		wantStatus string
		wantFailed []string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "all pass",
			checks:     []HealthCheck{NewCheck("database", passing), NewCheck("mongo", passing)},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "optional cache down",
			checks:     []HealthCheck{NewCheck("database", passing), NewOptionalCheck("redis", failing("connection refused"))},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantFailed: []string{"redis"},
		},
		{
			name:       "critical store down",
			checks:     []HealthCheck{NewCheck("database", failing("no such host")), NewOptionalCheck("redis", passing)},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
			wantFailed: []string{"database"},
		},
		{
			name:       "critical wins over optional",
			checks:     []HealthCheck{NewOptionalCheck("redis", failing("x")), NewCheck("mongo", failing("y"))},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
			wantFailed: []string{"redis", "mongo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(nil)
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			status := decodeHealth(t, w)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			for _, name := range tt.wantFailed {
				assert.Equal(t, "fail", status.Checks[name].Status, name)
				assert.NotEmpty(t, status.Checks[name].Message, name)
			}
		})
	}
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler(nil)
	var running, peak atomic.Int32
	slow := func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-time.After(50 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, name := range []string{"database", "redis", "mongo"} {
		h.RegisterCheck(NewCheck(name, slow))
	}

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(3), peak.Load())
}

func TestHealthHandler_CheckTimeout(t *testing.T) {
	h := NewHealthHandler(nil)
	h.checkTimeout = 20 * time.Millisecond
	h.RegisterCheck(NewCheck("mongo", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, context.DeadlineExceeded.Error(), decodeHealth(t, w).Checks["mongo"].Message)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(nil).HandleVersion("1.0.0", "2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]string{
		"version": "1.0.0", "build_time": "2026-01-01T00:00:00Z", "git_commit": "abc123",
	}, resp.Data)
}

func TestHealthHandler_RegisterRoutesOnlyGET(t *testing.T) {
	router := mux.NewRouter()
	NewHealthHandler(nil).Register(router, "dev", "", "")

	for _, path := range HealthPaths {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
	}
}
