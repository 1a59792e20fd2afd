package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/treeaudit/pkg/audit"
)

type fakeSource struct {
	st   audit.Status
	runs int64
}

func (f fakeSource) Snapshot() audit.Status { return f.st }
func (f fakeSource) Runs() int64            { return f.runs }

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		profile string
		wantErr bool
	}{
		{"structured info", "info", "STRUCTURED", false},
		{"console debug", "debug", "console", false},
		{"empty profile", "warn", "", false},
		{"bad level", "loud", "STRUCTURED", true},
		{"bad profile", "info", "FANCY", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.profile)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("treeaudit", true)
	assert.NotNil(t, CLILogger)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel), "verbose enables debug")

	InitCLILogger("treeaudit", false)
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}

func TestAuditCollector(t *testing.T) {
	src := fakeSource{
		st: audit.Status{
			Phase:        audit.PhaseDone,
			NodesVisited: 12,
			LeavesSeen:   4,
			LeavesFixed:  3,
		},
		runs: 2,
	}
	c := NewAuditCollector(src)

	// 5 scalar metrics plus one phase series per phase.
	assert.Equal(t, 9, testutil.CollectAndCount(c))

	reg, err := NewRegistry(c)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += "{" + lp.GetValue() + "}"
			}
			switch {
			case m.GetGauge() != nil:
				values[name] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[name] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 12.0, values["treeaudit_audit_nodes_visited"])
	assert.Equal(t, 4.0, values["treeaudit_audit_leaves_seen"])
	assert.Equal(t, 3.0, values["treeaudit_audit_leaves_fixed"])
	assert.Equal(t, 0.0, values["treeaudit_audit_running"])
	assert.Equal(t, 1.0, values["treeaudit_audit_phase{Done}"])
	assert.Equal(t, 0.0, values["treeaudit_audit_phase{Idle}"])
	assert.Equal(t, 2.0, values["treeaudit_audit_runs_total"])
}

func TestMetricsHandler(t *testing.T) {
	reg, err := NewRegistry(NewAuditCollector(fakeSource{st: audit.Status{Phase: audit.PhaseIdle}}))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `treeaudit_audit_phase{phase="Idle"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
