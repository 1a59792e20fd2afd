package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/treeaudit/internal/errors"
	"github.com/3leaps/treeaudit/pkg/audit"
	"github.com/3leaps/treeaudit/pkg/contentstore"
	"github.com/3leaps/treeaudit/pkg/contentstore/memory"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(context.Context) error {
	return s.err
}

type snapshotFunc func() audit.Status

func (f snapshotFunc) Snapshot() audit.Status { return f() }

func staticStatus(st audit.Status) snapshotFunc {
	return func() audit.Status { return st }
}

func probeHealth(t *testing.T, manager *HealthManager, handler func(*HealthManager) http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-health")
	rec := httptest.NewRecorder()
	handler(manager)(rec, req)
	return rec
}

func health(m *HealthManager) http.HandlerFunc    { return m.HealthHandler }
func readiness(m *HealthManager) http.HandlerFunc { return m.ReadinessHandler }

func TestAuditHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		status     audit.Status
		errContain string
	}{
		{name: "idle", status: audit.Status{Phase: audit.PhaseIdle}},
		{name: "running", status: audit.Status{Phase: audit.PhaseRunning, Running: true}},
		{name: "done", status: audit.Status{Phase: audit.PhaseDone}},
		{
			name:       "failed",
			status:     audit.Status{Phase: audit.PhaseFailed, LastError: "resolve root: entity not found"},
			errContain: "last audit failed: resolve root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AuditHealthChecker{Job: staticStatus(tt.status)}.CheckHealth(context.Background())
			if tt.errContain == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContain)
		})
	}

	t.Run("nil job", func(t *testing.T) {
		require.Error(t, AuditHealthChecker{}.CheckHealth(context.Background()))
	})
}

func TestHealthHandler_HealthyWithIdleAudit(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("audit", AuditHealthChecker{Job: staticStatus(audit.Status{Phase: audit.PhaseIdle})})

	rec := probeHealth(t, manager, health)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, StatusHealthy, resp.Checks["audit"])
}

func TestReadinessHandler_UnavailableAfterFailedAudit(t *testing.T) {
	root := &contentstore.Node{Type: "sling:Folder"}
	job, err := audit.New(memory.New(root, memory.Config{Password: "secret"}), audit.DefaultConfig())
	require.NoError(t, err)

	require.True(t, job.Start("/", contentstore.Credentials{Username: "admin", Password: "wrong"}, false))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, job.Wait(ctx))
	require.Equal(t, audit.PhaseFailed, job.Snapshot().Phase)

	manager := NewHealthManager("dev")
	manager.RegisterChecker("audit", AuditHealthChecker{Job: job})
	manager.RegisterChecker("identity", stubChecker{})

	rec := probeHealth(t, manager, readiness)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(apperrors.KindExternalService), resp.Error.Code)
	assert.Equal(t, "req-health", resp.Error.RequestID)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok, "details.checks missing: %v", resp.Error.Details)
	assert.Equal(t, StatusUnhealthy, checks["audit"])
	assert.Equal(t, StatusHealthy, checks["identity"])

	failures, ok := resp.Error.Details["errors"].(map[string]any)
	require.True(t, ok, "details.errors missing: %v", resp.Error.Details)
	assert.Contains(t, failures["audit"], "last audit failed: ")
	assert.NotContains(t, failures, "identity")
}

func TestReadinessHandler_RecoversAfterSuccessfulRun(t *testing.T) {
	st := audit.Status{Phase: audit.PhaseFailed, LastError: "open session as admin: unauthorized"}
	manager := NewHealthManager("dev")
	manager.RegisterChecker("audit", AuditHealthChecker{Job: snapshotFunc(func() audit.Status { return st })})

	assert.Equal(t, http.StatusServiceUnavailable, probeHealth(t, manager, readiness).Code)

	st = audit.Status{Phase: audit.PhaseDone}
	assert.Equal(t, http.StatusOK, probeHealth(t, manager, readiness).Code)
}

func TestDetermineOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")

	tests := []struct {
		name   string
		checks map[string]string
		want   string
	}{
		{name: "no checks", checks: nil, want: StatusHealthy},
		{name: "timeout degrades", checks: map[string]string{"audit": StatusTimeout}, want: StatusDegraded},
		{name: "unhealthy wins", checks: map[string]string{"audit": StatusUnhealthy, "metrics": StatusTimeout}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, manager.determineOverallStatus(tt.checks))
		})
	}
}

func TestHealthHandler_SlowCheckerTimesOut(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("slow", stubChecker{err: context.DeadlineExceeded})

	rec := probeHealth(t, manager, health)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusTimeout, resp.Checks["slow"])
}

func TestGlobalHealthHandlers(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	handlers := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"HealthHandler", HealthHandler},
		{"LivenessHandler", LivenessHandler},
		{"ReadinessHandler", ReadinessHandler},
		{"StartupHandler", StartupHandler},
	}

	t.Run("not initialized", func(t *testing.T) {
		globalHealthManager = nil
		assert.Nil(t, GetHealthManager())

		for _, h := range handlers {
			rec := httptest.NewRecorder()
			h.handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code, h.name)
		}
	})

	t.Run("failed audit fails probes that run checks", func(t *testing.T) {
		InitHealthManager("test-version")
		require.NotNil(t, GetHealthManager())
		GetHealthManager().RegisterChecker("audit", stubChecker{err: errors.New("last audit failed: boom")})

		want := map[string]int{
			"HealthHandler":    http.StatusServiceUnavailable,
			"LivenessHandler":  http.StatusOK,
			"ReadinessHandler": http.StatusServiceUnavailable,
			"StartupHandler":   http.StatusOK,
		}
		for _, h := range handlers {
			rec := httptest.NewRecorder()
			h.handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, want[h.name], rec.Code, h.name)
		}
	})
}
