// Package observability records per-run metrics and pushes them to a
// Prometheus Pushgateway. A batch job lives too briefly to be scraped.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ignite/report-etl/internal/pkg/httpretry"
	"github.com/ignite/report-etl/internal/report"
)

// Metrics holds the collectors for one run on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	cells       *prometheus.CounterVec
	rowsLoaded  *prometheus.CounterVec
	runDuration prometheus.Gauge
	lastSuccess prometheus.Gauge
	loginFailed prometheus.Gauge
	client      httpretry.Doer
}

// New creates and registers the run collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		client:   httpretry.New(nil, 3, 500*time.Millisecond),
		cells: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_etl_cells_total",
				Help: "Report cells processed, by outcome",
			},
			[]string{"location", "campaign", "outcome"},
		),
		rowsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_etl_rows_loaded_total",
				Help: "Rows appended to the destination table",
			},
			[]string{"location", "campaign"},
		),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "report_etl_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "report_etl_last_completed_timestamp_seconds",
			Help: "Unix time the last run finished its matrix",
		}),
		loginFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "report_etl_login_failed",
			Help: "1 if the last run could not log in to the dashboard",
		}),
	}
	m.registry.MustRegister(m.cells, m.rowsLoaded, m.runDuration, m.lastSuccess, m.loginFailed)
	return m
}

// ObserveCell records the outcome of one (location, campaign) cell.
func (m *Metrics) ObserveCell(r report.IterationResult) {
	m.cells.WithLabelValues(string(r.Location), string(r.Campaign), string(r.Outcome)).Inc()
	if r.Outcome == report.OutcomeLoaded {
		m.rowsLoaded.WithLabelValues(string(r.Location), string(r.Campaign)).Add(float64(r.Rows))
	}
}

// ObserveRun records run-level figures once the run ends. The completion
// timestamp only moves when the whole matrix was processed.
func (m *Metrics) ObserveRun(started, finished time.Time, loginFailed, completed bool) {
	m.runDuration.Set(finished.Sub(started).Seconds())
	if loginFailed {
		m.loginFailed.Set(1)
	} else {
		m.loginFailed.Set(0)
	}
	if completed {
		m.lastSuccess.Set(float64(finished.Unix()))
	}
}

// Push replaces the job's metric group on the Pushgateway at url.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Client(m.client).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
