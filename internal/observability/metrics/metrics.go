package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "aire_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestRows     prometheus.Counter
	ingestLatency  *prometheus.HistogramVec

	evaluateRuns    *prometheus.CounterVec
	evaluateLatency *prometheus.HistogramVec

	alertEventsTotal *prometheus.CounterVec
)

// Init registers observability metrics and the DB pool gauge.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestRows = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Total measurement rows upserted",
			},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		evaluateRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluate_runs_total",
				Help: "Total rule evaluation runs by result",
			},
			[]string{"result"},
		)
		evaluateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluate_latency_seconds",
				Help:    "Rule evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert events by outcome",
			},
			[]string{"outcome"},
		)

		collectors := []prometheus.Collector{
			ingestRequests, ingestRows, ingestLatency,
			evaluateRuns, evaluateLatency, alertEventsTotal,
		}
		if db != nil {
			collectors = append(collectors, prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: metricPrefix + "db_open_connections",
					Help: "Open connections in the DB pool",
				},
				func() float64 { return float64(db.Stats().OpenConnections) },
			))
		}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if logger != nil {
					logger.Printf("metrics register error: %v", err)
				}
			}
		}
	})
}

// ObserveIngest records one ingest request.
func ObserveIngest(result string, rows int, elapsed time.Duration) {
	if ingestRequests == nil {
		return
	}
	ingestRequests.WithLabelValues(result).Inc()
	if rows > 0 {
		ingestRows.Add(float64(rows))
	}
	ingestLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveEvaluate records one evaluation run.
func ObserveEvaluate(result string, elapsed time.Duration) {
	if evaluateRuns == nil {
		return
	}
	evaluateRuns.WithLabelValues(result).Inc()
	evaluateLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

// IncAlertEvent counts a created or refreshed alert event.
func IncAlertEvent(outcome string) {
	if alertEventsTotal == nil {
		return
	}
	alertEventsTotal.WithLabelValues(outcome).Inc()
}
