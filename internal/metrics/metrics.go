// Package metrics exposes the Prometheus collectors shared by the session
// document, the workspace service and the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OpenDocuments  prometheus.Gauge
	Transactions   *prometheus.CounterVec
	SignalsEmitted *prometheus.CounterVec
	UpdatesStored  prometheus.Counter
	Compactions    prometheus.Counter
	RelayPeers     prometheus.Gauge
	RelayMessages  *prometheus.CounterVec
	CatalogFetches *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide collectors, registering them on first use.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			OpenDocuments: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "gluedoc_open_documents",
				Help: "Current number of open session documents",
			}),
			Transactions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "gluedoc_transactions_total",
				Help: "Total number of committed document transactions",
			}, []string{"origin"}),
			SignalsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "gluedoc_signals_emitted_total",
				Help: "Total number of change notifications emitted",
			}, []string{"channel"}),
			UpdatesStored: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gluedoc_updates_stored_total",
				Help: "Total number of document updates appended to the update log",
			}),
			Compactions: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gluedoc_update_log_compactions_total",
				Help: "Total number of update log compactions",
			}),
			RelayPeers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "gluedoc_relay_peers",
				Help: "Current number of connected relay peers",
			}),
			RelayMessages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "gluedoc_relay_messages_total",
				Help: "Total number of relay messages by type and direction",
			}, []string{"type", "direction"}),
			CatalogFetches: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "gluedoc_catalog_fetches_total",
				Help: "Total number of advanced link catalog fetches by result",
			}, []string{"result"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) DocumentOpened() {
	if m == nil || m.OpenDocuments == nil {
		return
	}
	m.OpenDocuments.Inc()
}

func (m *Metrics) DocumentClosed() {
	if m == nil || m.OpenDocuments == nil {
		return
	}
	m.OpenDocuments.Dec()
}

func (m *Metrics) RecordTransaction(local bool) {
	if m == nil || m.Transactions == nil {
		return
	}
	origin := "remote"
	if local {
		origin = "local"
	}
	m.Transactions.WithLabelValues(origin).Inc()
}

func (m *Metrics) RecordSignal(channel string) {
	if m == nil || m.SignalsEmitted == nil {
		return
	}
	m.SignalsEmitted.WithLabelValues(channel).Inc()
}

func (m *Metrics) RecordStoredUpdate() {
	if m == nil || m.UpdatesStored == nil {
		return
	}
	m.UpdatesStored.Inc()
}

func (m *Metrics) RecordCompaction() {
	if m == nil || m.Compactions == nil {
		return
	}
	m.Compactions.Inc()
}

func (m *Metrics) PeerConnected() {
	if m == nil || m.RelayPeers == nil {
		return
	}
	m.RelayPeers.Inc()
}

func (m *Metrics) PeerDisconnected() {
	if m == nil || m.RelayPeers == nil {
		return
	}
	m.RelayPeers.Dec()
}

func (m *Metrics) RecordRelayMessage(msgType, direction string) {
	if m == nil || m.RelayMessages == nil {
		return
	}
	m.RelayMessages.WithLabelValues(msgType, direction).Inc()
}

func (m *Metrics) RecordCatalogFetch(ok bool) {
	if m == nil || m.CatalogFetches == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.CatalogFetches.WithLabelValues(result).Inc()
}
