// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sentinel

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics is the dispatcher's lock-free counters, one struct per
// Dispatcher; each counter is additionally registered as a Prometheus collector so
// Dump() can export the same numbers as a text exposition.
type Metrics struct {
	JobsDispatched atomic.Uint64
	JobsCompleted  atomic.Uint64
	JobsFailed     atomic.Uint64
	JobsRejected   atomic.Uint64
	JobsRetried    atomic.Uint64
	MessagesRecv   atomic.Uint64
	MessagesSent   atomic.Uint64

	DispatchTimeUs atomic.Uint64
	ConcludeTimeUs atomic.Uint64

	once     sync.Once
	registry *prometheus.Registry
}

func (m *Metrics) init() {
	m.once.Do(func() {
		m.registry = prometheus.NewRegistry()
		counters := []struct {
			name string
			help string
			val  *atomic.Uint64
		}{
			{"casparian_sentinel_jobs_dispatched_total", "Jobs handed to a worker.", &m.JobsDispatched},
			{"casparian_sentinel_jobs_completed_total", "Jobs that concluded with SUCCESS.", &m.JobsCompleted},
			{"casparian_sentinel_jobs_failed_total", "Jobs that concluded with FAILED.", &m.JobsFailed},
			{"casparian_sentinel_jobs_rejected_total", "Jobs with no capable worker available.", &m.JobsRejected},
			{"casparian_sentinel_jobs_retried_total", "Jobs requeued after failure or a stale worker.", &m.JobsRetried},
			{"casparian_sentinel_messages_received_total", "Wire messages received from workers.", &m.MessagesRecv},
			{"casparian_sentinel_messages_sent_total", "Wire messages sent to workers.", &m.MessagesSent},
		}
		for _, c := range counters {
			cv := c.val
			m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: c.name, Help: c.help,
			}, func() float64 { return float64(cv.Load()) }))
		}
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "casparian_sentinel_dispatch_time_us", Help: "Microseconds spent in the most recent dispatch pass.",
		}, func() float64 { return float64(m.DispatchTimeUs.Load()) }))
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "casparian_sentinel_conclude_time_us", Help: "Microseconds spent handling the most recent Conclude.",
		}, func() float64 { return float64(m.ConcludeTimeUs.Load()) }))
	})
}

// Dump renders the current metrics as Prometheus text exposition
// format, satisfying the "export a Prometheus-format text dump"
// requirement without standing up an HTTP listener.
func (m *Metrics) Dump() (string, error) {
	m.init()
	mfs, err := m.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
