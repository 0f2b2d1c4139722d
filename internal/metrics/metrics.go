package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RosterLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "academy", Name: "roster_loads_total", Help: "Roster loads by outcome (ok, empty, error, stale)",
	}, []string{"outcome"})
	RecordWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "academy", Name: "attendance_writes_total", Help: "Per-record attendance writes by outcome",
	}, []string{"outcome"})
	SaveBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "academy", Name: "save_batches_total", Help: "Save batches by outcome (clean, partial)",
	}, []string{"outcome"})
	SaveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "academy", Name: "save_batch_seconds", Help: "Duration of a full save batch",
		Buckets: prometheus.DefBuckets,
	})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "academy", Name: "dashboard_sessions", Help: "Open dashboard sessions",
	})
	QueueEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "academy", Name: "queue_events_total", Help: "Attendance events by stage (published, processed, failed)",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(RosterLoads, RecordWrites, SaveBatches, SaveDuration, ActiveSessions, QueueEvents)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveSave(d time.Duration) { SaveDuration.Observe(d.Seconds()) }
