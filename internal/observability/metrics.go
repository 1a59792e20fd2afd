package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3leaps/treeaudit/pkg/audit"
)

const metricsNamespace = "treeaudit"

// SnapshotSource yields the current state of an audit job.
type SnapshotSource interface {
	Snapshot() audit.Status
	Runs() int64
}

// AuditCollector exports audit job progress. Values are read from the job
// at scrape time.
type AuditCollector struct {
	source SnapshotSource

	nodesVisited *prometheus.Desc
	leavesSeen   *prometheus.Desc
	leavesFixed  *prometheus.Desc
	running      *prometheus.Desc
	phase        *prometheus.Desc
	runs         *prometheus.Desc
}

// NewAuditCollector creates a collector over source.
func NewAuditCollector(source SnapshotSource) *AuditCollector {
	return &AuditCollector{
		source: source,
		nodesVisited: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "audit", "nodes_visited"),
			"Nodes visited by the current or last run.", nil, nil),
		leavesSeen: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "audit", "leaves_seen"),
			"Leaves with a legacy string value found by the current or last run.", nil, nil),
		leavesFixed: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "audit", "leaves_fixed"),
			"Leaves repaired by the current or last run.", nil, nil),
		running: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "audit", "running"),
			"1 while a run is in progress.", nil, nil),
		phase: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "audit", "phase"),
			"Lifecycle phase of the job; the active phase is 1.", []string{"phase"}, nil),
		runs: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "audit", "runs_total"),
			"Runs started since process start.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *AuditCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.nodesVisited
	ch <- c.leavesSeen
	ch <- c.leavesFixed
	ch <- c.running
	ch <- c.phase
	ch <- c.runs
}

// Collect implements prometheus.Collector.
func (c *AuditCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.nodesVisited, prometheus.GaugeValue, float64(st.NodesVisited))
	ch <- prometheus.MustNewConstMetric(c.leavesSeen, prometheus.GaugeValue, float64(st.LeavesSeen))
	ch <- prometheus.MustNewConstMetric(c.leavesFixed, prometheus.GaugeValue, float64(st.LeavesFixed))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolValue(st.Running))
	for _, p := range []audit.Phase{audit.PhaseIdle, audit.PhaseRunning, audit.PhaseDone, audit.PhaseFailed} {
		ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue, boolValue(st.Phase == p), string(p))
	}
	ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(c.source.Runs()))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRegistry returns a registry with Go runtime and process collectors
// plus the given collectors.
func NewRegistry(cs ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	base := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range append(base, cs...) {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// MetricsHandler serves reg in the Prometheus exposition format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
