package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MetricBufferedRecords tracks the current metrics buffer depth
	MetricBufferedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tunnelproxy_buffered_records",
		Help: "Current number of buffered metric records",
	})

	// MetricRecordsEvicted counts records dropped by the hard-cap safety valve
	MetricRecordsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_records_evicted_total",
		Help: "Total metric records evicted because the buffer hard cap was reached",
	})

	// MetricReports counts report attempts by outcome
	MetricReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelproxy_reports_total",
		Help: "Total metric report attempts by outcome",
	}, []string{"outcome"})

	// MetricReportedRecords counts records successfully shipped to the collector
	MetricReportedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_reported_records_total",
		Help: "Total metric records successfully reported to the collector",
	})
)
