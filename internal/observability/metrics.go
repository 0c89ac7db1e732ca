package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	recallDuration      prometheus.Histogram
	rememberDuration    prometheus.Histogram
	memoryEntriesTotal  prometheus.Gauge
	consolidateTotal    prometheus.Counter
	consolidateMerged   prometheus.Counter
	indexDuration       prometheus.Histogram
	chunksIndexedTotal  prometheus.Gauge
	codeSearchDuration  prometheus.Histogram
	embedDuration       *prometheus.HistogramVec
	cartImportTotal     *prometheus.CounterVec
	cartExportTotal     prometheus.Counter
	maintenanceRunTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			recallDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_recall_duration_seconds",
					Help:    "Memory recall duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			rememberDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_remember_duration_seconds",
					Help:    "Memory write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryEntriesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_entries_total",
					Help: "Total memories stored.",
				},
			),
			consolidateTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_consolidate_runs_total",
					Help: "Total consolidation runs.",
				},
			),
			consolidateMerged: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_consolidate_merged_total",
					Help: "Total memories merged away by consolidation.",
				},
			),
			indexDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "project_index_duration_seconds",
					Help:    "Project indexing duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			chunksIndexedTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "project_chunks_total",
					Help: "Total code chunks indexed.",
				},
			),
			codeSearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "project_search_duration_seconds",
					Help:    "Code search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			embedDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "embed_duration_seconds",
					Help:    "Embedding call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			cartImportTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cartridge_import_total",
					Help: "Total cartridge imports by mode and status.",
				},
				[]string{"mode", "status"},
			),
			cartExportTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "cartridge_export_total",
					Help: "Total cartridge exports.",
				},
			),
			maintenanceRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "maintenance_runs_total",
					Help: "Total maintenance job runs by job and status.",
				},
				[]string{"job", "status"},
			),
		}

		prometheus.MustRegister(
			m.recallDuration,
			m.rememberDuration,
			m.memoryEntriesTotal,
			m.consolidateTotal,
			m.consolidateMerged,
			m.indexDuration,
			m.chunksIndexedTotal,
			m.codeSearchDuration,
			m.embedDuration,
			m.cartImportTotal,
			m.cartExportTotal,
			m.maintenanceRunTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordRecall(duration time.Duration) {
	getMetrics().recallDuration.Observe(duration.Seconds())
}

func RecordRemember(duration time.Duration) {
	getMetrics().rememberDuration.Observe(duration.Seconds())
}

func SetMemoryEntries(total int) {
	getMetrics().memoryEntriesTotal.Set(float64(total))
}

func RecordConsolidation(merged int) {
	m := getMetrics()
	m.consolidateTotal.Inc()
	m.consolidateMerged.Add(float64(merged))
}

func RecordIndexRun(duration time.Duration) {
	getMetrics().indexDuration.Observe(duration.Seconds())
}

func SetChunksIndexed(total int) {
	getMetrics().chunksIndexedTotal.Set(float64(total))
}

func RecordCodeSearch(duration time.Duration) {
	getMetrics().codeSearchDuration.Observe(duration.Seconds())
}

func RecordEmbed(provider string, duration time.Duration) {
	getMetrics().embedDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordCartImport(mode string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().cartImportTotal.WithLabelValues(mode, status).Inc()
}

func RecordCartExport() {
	getMetrics().cartExportTotal.Inc()
}

func RecordMaintenanceRun(job string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().maintenanceRunTotal.WithLabelValues(job, status).Inc()
}
