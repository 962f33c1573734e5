package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err, "second registration on the same registry must fail")
}

func TestObserveUplink(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveUplink(OutcomeHandled)
	m.ObserveUplink(OutcomeHandled)
	m.ObserveUplink(OutcomeUnknownDevice)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Uplinks.WithLabelValues(OutcomeHandled)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Uplinks.WithLabelValues(OutcomeUnknownDevice)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.Uplinks.WithLabelValues(OutcomeDecodeError)), 0)
}

func TestObserveDelivery(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveDelivery("temperature", true, 20*time.Millisecond)
	m.ObserveDelivery("temperature", false, time.Second)
	m.ObserveDelivery("humidity", true, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Deliveries.WithLabelValues("temperature", OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Deliveries.WithLabelValues("temperature", OutcomeFailed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Deliveries.WithLabelValues("humidity", OutcomeOK)), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.DeliveryDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveUplink(OutcomeHandled)
		m.ObserveDelivery("humidity", true, time.Millisecond)
	})
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.ObserveUplink(OutcomeFiltered)

	srv := NewServer(reg, "/metrics")
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Close() })

	status, body, err := fasthttp.Get(nil, "http://"+srv.Addr()+"/metrics")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), `uplink_bridge_uplinks_total{outcome="filtered"} 1`)

	status, _, err = fasthttp.Get(nil, "http://"+srv.Addr()+"/other")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusNotFound, status)
}

func TestServerCloseWithoutStart(t *testing.T) {
	srv := NewServer(prometheus.NewRegistry(), "")
	require.NoError(t, srv.Close())
}
