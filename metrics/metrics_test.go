package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/e4stream/client"
)

func TestMetricsRecorder(t *testing.T) {
	m := New(nil)

	m.SampleDecoded("E4_Acc")
	m.SampleDecoded("E4_Acc")
	m.SampleDecoded("E4_Tag")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.samples.WithLabelValues("E4_Acc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samples.WithLabelValues("E4_Tag")))

	m.AckMismatch("device_subscribe")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ackMismatches.WithLabelValues("device_subscribe")))

	m.MalformedSample()
	m.Timeout()
	m.Timeout()
	m.ConnectionLost()
	m.Reconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.malformed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.timeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsLost))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))

	m.StateChanged(client.StateStreaming)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.state))
}

func TestMetricsHandler(t *testing.T) {
	m := New(nil)
	m.SampleDecoded("E4_Bvp")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `e4_samples_decoded_total{stream="E4_Bvp"} 1`)
}
