package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracer"

var (
	// LogQueriesTotal counts eth_getLogs queries by result (ok, error).
	LogQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetcher",
		Name:      "log_queries_total",
		Help:      "Total number of topic-filtered log queries",
	}, []string{"result"})

	// EventsMergedTotal counts events newly added to the accumulated set by origin (past, live).
	EventsMergedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "merger",
		Name:      "events_merged_total",
		Help:      "Total number of events added to the accumulated set",
	}, []string{"origin"})

	// UnknownEventsTotal counts logs that fell back to the unknown variant.
	UnknownEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "unknown_events_total",
		Help:      "Total number of logs decoded as unknown",
	})

	// TailBlocksTotal counts processed live-tail notifications by result (merged, empty, error, discarded).
	TailBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "livetail",
		Name:      "blocks_total",
		Help:      "Total number of block notifications handled",
	}, []string{"result"})

	// HistoryRecordsTotal counts transfer records produced by source (local, chain).
	HistoryRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "records_total",
		Help:      "Total number of transfer history records produced",
	}, []string{"source"})
)
