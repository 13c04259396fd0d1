package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DocumentOpened()
		m.DocumentClosed()
		m.RecordTransaction(true)
		m.RecordSignal("tabs")
		m.RecordStoredUpdate()
		m.RecordCompaction()
		m.PeerConnected()
		m.PeerDisconnected()
		m.RecordRelayMessage("update", "in")
		m.RecordCatalogFetch(false)
	})
}

func TestNewIsSingleton(t *testing.T) {
	m := New()
	assert.Same(t, m, New())

	before := testutil.ToFloat64(m.Transactions.WithLabelValues("local"))
	m.RecordTransaction(true)
	assert.Equal(t, before+1, testutil.ToFloat64(m.Transactions.WithLabelValues("local")))
}
