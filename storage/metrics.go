package storage

import "github.com/prometheus/client_golang/prometheus"

type StoreMetrics struct {
	recordsAppended prometheus.Counter
	recordsEvicted  prometheus.Counter
	liveRecords     prometheus.Gauge
	liveBytes       prometheus.Gauge
	pendingBytes    prometheus.Gauge
	replayDuration  prometheus.Summary
	replaysFailed   prometheus.Counter
}

func NewStoreMetrics(registerer prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{}

	m.recordsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "records_appended_total",
		Help: "Total number of records appended.",
	})

	m.recordsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "records_evicted_total",
		Help: "Total number of records evicted to make room for newer ones.",
	})

	m.liveRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_records",
		Help: "Number of records currently retained.",
	})

	m.liveBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_bytes",
		Help: "Number of bytes in retained records.",
	})

	m.pendingBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pending_bytes",
		Help: "Number of buffered bytes not yet terminated by a delimiter.",
	})

	m.replayDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "replay_duration_seconds",
		Help:       "Duration of full log replays.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	m.replaysFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replays_failed_total",
		Help: "Total number of full log replays aborted by the sink.",
	})

	if registerer != nil {
		registerer.MustRegister(
			m.recordsAppended,
			m.recordsEvicted,
			m.liveRecords,
			m.liveBytes,
			m.pendingBytes,
			m.replayDuration,
			m.replaysFailed,
		)
	}

	return m
}
