package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/api/todos", "200", time.Millisecond)
		m.Mutation("create", "confirmed")
		m.MutationRoundTrip("create", time.Millisecond)
		m.ReconcilerEvent("applied")
		m.Reconnect()
		m.SetConnected(true)
		m.FeedSubscribers(1)
		m.FeedPublished("inserted")
		m.RealtimeClientsDelta(1)
		m.UpdateDatabasePool(1, 1, 0)
		m.RecordDatabaseQuery("select", time.Millisecond)
	})
}

func TestMutationCounters(t *testing.T) {
	m := NewMetrics()

	m.Mutation("create", "applied")
	m.Mutation("create", "applied")
	m.Mutation("create", "rolled_back")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues("create", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues("create", "rolled_back")))
}

func TestConnectedGauge(t *testing.T) {
	m := NewMetrics()

	m.SetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RealtimeConnected))
	m.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RealtimeConnected))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.FeedPublished("deleted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `todosync_feed_events_published_total{kind="deleted"} 1`))
}

func TestNewMetricsIsolated(t *testing.T) {
	// two sets must not collide on registration
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}
