// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// scanMetrics holds process-wide Prometheus collectors for the
// scanner, constructed once regardless of how many Scan calls run
// concurrently across sources.
type scanMetrics struct {
	once sync.Once

	filesDiscovered prometheus.Counter
	filesPersisted  prometheus.Counter
	batchFailures   prometheus.Counter
	scanDuration    prometheus.Histogram
}

var metrics scanMetrics

func (m *scanMetrics) init() {
	m.once.Do(func() {
		m.filesDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casparian_scanner_files_discovered_total", Help: "Files observed by the scanner across all sources.",
		})
		m.filesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casparian_scanner_files_persisted_total", Help: "Files successfully upserted into the catalog.",
		})
		m.batchFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casparian_scanner_batch_failures_total", Help: "Batch upsert calls that returned an error.",
		})
		m.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "casparian_scanner_scan_seconds",
			Help:    "Wall-clock duration of a full Scan call.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		})
		prometheus.MustRegister(m.filesDiscovered, m.filesPersisted, m.batchFailures, m.scanDuration)
	})
}

func recordFilesDiscovered(n int) {
	metrics.init()
	metrics.filesDiscovered.Add(float64(n))
}

func recordFilesPersisted(n int) {
	metrics.init()
	metrics.filesPersisted.Add(float64(n))
}

func recordBatchFailure() {
	metrics.init()
	metrics.batchFailures.Inc()
}

func recordScanDuration(seconds float64) {
	metrics.init()
	metrics.scanDuration.Observe(seconds)
}
