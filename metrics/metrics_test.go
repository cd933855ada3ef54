package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// value returns the sum of every sample of the named family.
func value(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		sum := 0.0
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				sum += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				sum += metric.GetGauge().GetValue()
			}
		}
		return sum
	}
	return 0
}

func TestMetrics(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Received(100)
	m.Sent(40)
	m.MessageIn("Video")
	m.MessageIn("Audio")
	m.MessageOut("CommandAMF0")
	m.ProtocolError()
	m.StreamPublished()
	m.SubscriberAdded()
	m.SubscriberAdded()
	m.SubscriberRemoved()
	m.Dropped()

	require.Equal(t, 1.0, value(t, m, "rtmp_connections_active"))
	require.Equal(t, 2.0, value(t, m, "rtmp_connections_total"))
	require.Equal(t, 100.0, value(t, m, "rtmp_rx_bytes_total"))
	require.Equal(t, 40.0, value(t, m, "rtmp_tx_bytes_total"))
	require.Equal(t, 3.0, value(t, m, "rtmp_messages_total"))
	require.Equal(t, 1.0, value(t, m, "rtmp_protocol_errors_total"))
	require.Equal(t, 1.0, value(t, m, "rtmp_streams_active"))
	require.Equal(t, 1.0, value(t, m, "rtmp_subscribers_active"))
	require.Equal(t, 1.0, value(t, m, "rtmp_dropped_messages_total"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ConnectionOpened()
		m.Received(1)
		m.MessageOut("Audio")
		m.Dropped()
	})
}

func TestHTTPHandler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.ConnectionOpened()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "rtmp_connections_active 1"))
}
