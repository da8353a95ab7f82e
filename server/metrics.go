package server

import "github.com/prometheus/client_golang/prometheus"

type ServerMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	connectionsFailed   prometheus.Counter
	linesReceived       prometheus.Counter
	seekCommands        prometheus.Counter
}

func NewServerMetrics(registerer prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{}

	m.connectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connections_accepted_total",
		Help: "Total number of accepted connections.",
	})

	m.connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connections_active",
		Help: "Number of connections currently being served.",
	})

	m.connectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connections_failed_total",
		Help: "Total number of connections terminated by a transport or store error.",
	})

	m.linesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lines_received_total",
		Help: "Total number of delimited lines received.",
	})

	m.seekCommands = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seek_commands_total",
		Help: "Total number of in-band seek commands received.",
	})

	if registerer != nil {
		registerer.MustRegister(
			m.connectionsAccepted,
			m.connectionsActive,
			m.connectionsFailed,
			m.linesReceived,
			m.seekCommands,
		)
	}

	return m
}
