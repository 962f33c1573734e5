package bridge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sandrolain/uplink-bridge/src/common/expreval"
	"github.com/sandrolain/uplink-bridge/src/message"
	"github.com/sandrolain/uplink-bridge/src/metrics"
	"github.com/sandrolain/uplink-bridge/src/payload"
	"github.com/sandrolain/uplink-bridge/src/rawlog"
	"github.com/sandrolain/uplink-bridge/src/routing"
	"github.com/sandrolain/uplink-bridge/src/targets"
	"github.com/sandrolain/uplink-bridge/src/targets/httptarget"
	"github.com/sandrolain/uplink-bridge/src/uplink"
	tu "github.com/sandrolain/uplink-bridge/src/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reference frame: humidity 50, temperature 14.8, windspeed 92.16, id 1
const referenceFrame = "MogCEAEAAAA="

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type fixture struct {
	bridge    *Bridge
	collector *tu.Collector
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, table func(url string) routing.Table, opts ...Option) *fixture {
	t.Helper()
	collector := tu.NewCollector(t)

	target, err := httptarget.New(&targets.TargetHTTPConfig{Timeout: 2 * time.Second, MaxConnsPerHost: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = target.Close() })

	router, err := routing.NewRouter(table(collector.URL), target)
	require.NoError(t, err)

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	opts = append([]Option{WithLogger(newTestLogger()), WithMetrics(m), WithCloseDelay(time.Millisecond)}, opts...)
	b, err := New(router, opts...)
	require.NoError(t, err)
	return &fixture{bridge: b, collector: collector, metrics: m}
}

func stationTable(url string) routing.Table {
	return routing.Table{
		"station-1": {
			"humidity":    url + "/h",
			"temperature": url + "/t",
		},
	}
}

func uplinkCount(m *metrics.Metrics, outcome string) float64 {
	return testutil.ToFloat64(m.Uplinks.WithLabelValues(outcome))
}

func TestNewRequiresRouter(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestHandleUplinkDeliversEachRoute(t *testing.T) {
	f := newFixture(t, stationTable)

	results, err := f.bridge.HandleUplink(context.Background(), "station-1", time.Now(), referenceFrame)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.OK(), "%s: %v", r.Sensor, r.Err)
		assert.Equal(t, 200, r.Status)
	}

	reqs := f.collector.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/h", reqs[0].Path)
	assert.Equal(t, "POST", reqs[0].Method)
	assert.Equal(t, "application/json", reqs[0].ContentType)
	assert.JSONEq(t, `{"result":50}`, string(reqs[0].Body))
	assert.Equal(t, "/t", reqs[1].Path)
	assert.JSONEq(t, `{"result":14.8}`, string(reqs[1].Body))

	assert.InDelta(t, 1, uplinkCount(f.metrics, metrics.OutcomeHandled), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues("humidity", metrics.OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues("temperature", metrics.OutcomeOK)), 0)
}

func TestHandleUplinkUnknownDevice(t *testing.T) {
	f := newFixture(t, stationTable)

	results, err := f.bridge.HandleUplink(context.Background(), "station-9", time.Now(), referenceFrame)
	var unknown *routing.UnknownDeviceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "station-9", unknown.DeviceID)
	assert.Empty(t, results)
	assert.Empty(t, f.collector.Requests())
	assert.InDelta(t, 1, uplinkCount(f.metrics, metrics.OutcomeUnknownDevice), 0)
}

func TestHandleUplinkFailedSiblingDoesNotAffectOthers(t *testing.T) {
	f := newFixture(t, stationTable)
	f.collector.RespondWith("/t", 500)

	results, err := f.bridge.HandleUplink(context.Background(), "station-1", time.Now(), referenceFrame)
	require.NoError(t, err)
	require.Len(t, results, 2)

	bySensor := map[string]routing.DeliveryResult{}
	for _, r := range results {
		bySensor[r.Sensor] = r
	}
	assert.True(t, bySensor["humidity"].OK())
	assert.False(t, bySensor["temperature"].OK())
	assert.ErrorIs(t, bySensor["temperature"].Err, routing.ErrStatus)
	assert.Equal(t, 500, bySensor["temperature"].Status)

	assert.Len(t, f.collector.Requests(), 2)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues("temperature", metrics.OutcomeFailed)), 0)
}

func TestHandleUplinkDecodeErrors(t *testing.T) {
	f := newFixture(t, stationTable)

	cases := map[string]string{
		"short payload":  "MogC",
		"invalid base64": "!!not base64!!",
		"empty":          "",
	}
	for name, b64 := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.bridge.HandleUplink(context.Background(), "station-1", time.Now(), b64)
			var de *payload.DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
	assert.Empty(t, f.collector.Requests())
	assert.InDelta(t, float64(len(cases)), uplinkCount(f.metrics, metrics.OutcomeDecodeError), 0)
}

func TestHandleUplinkMissingDevice(t *testing.T) {
	f := newFixture(t, stationTable)

	_, err := f.bridge.HandleUplink(context.Background(), "", time.Now(), referenceFrame)
	var ee *uplink.EnvelopeError
	require.ErrorAs(t, err, &ee)
	require.ErrorIs(t, err, uplink.ErrMissingDevice)
	var de *payload.DecodeError
	assert.False(t, errors.As(err, &de))

	assert.Empty(t, f.collector.Requests())
	assert.InDelta(t, 1, uplinkCount(f.metrics, metrics.OutcomeEnvelopeError), 0)
	assert.InDelta(t, 0, uplinkCount(f.metrics, metrics.OutcomeDecodeError), 0)
}

func TestHandleUplinkIsRepeatable(t *testing.T) {
	f := newFixture(t, stationTable)

	for i := 0; i < 2; i++ {
		_, err := f.bridge.HandleUplink(context.Background(), "station-1", time.Now(), referenceFrame)
		require.NoError(t, err)
	}
	reqs := f.collector.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, reqs[0].Body, reqs[1].Body)
	assert.Equal(t, reqs[2].Body, reqs[3].Body)
}

func v2Envelope(dev, b64 string, port int) []byte {
	return []byte(`{"app_id":"weather","dev_id":"` + dev + `","port":` + strconv.Itoa(port) +
		`,"counter":7,"payload_raw":"` + b64 + `","metadata":{"time":"2024-03-02T10:00:00Z"}}`)
}

func newMessage(data []byte) (*message.SourceMessage, chan message.ResponseStatus) {
	done := make(chan message.ResponseStatus, 1)
	return message.NewSourceMessage("weather/devices/station-1/up", data, time.Now(), done), done
}

func status(t *testing.T, done chan message.ResponseStatus) message.ResponseStatus {
	t.Helper()
	select {
	case s := <-done:
		return s
	case <-time.After(time.Second):
		t.Fatal("message was neither acked nor nacked")
	}
	return 0
}

func TestHandleMessageOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		data    []byte
		want    message.ResponseStatus
		outcome string
		posts   int
	}{
		{"handled", v2Envelope("station-1", referenceFrame, 1), message.ResponseStatusAck, metrics.OutcomeHandled, 2},
		{"unknown device", v2Envelope("station-9", referenceFrame, 1), message.ResponseStatusAck, metrics.OutcomeUnknownDevice, 0},
		{"short payload", v2Envelope("station-1", "MogC", 1), message.ResponseStatusNak, metrics.OutcomeDecodeError, 0},
		{"not json", []byte("garbage"), message.ResponseStatusNak, metrics.OutcomeEnvelopeError, 0},
		{"no device", []byte(`{"payload_raw":"` + referenceFrame + `"}`), message.ResponseStatusNak, metrics.OutcomeEnvelopeError, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, stationTable)
			msg, done := newMessage(c.data)

			f.bridge.HandleMessage(context.Background(), msg)

			assert.Equal(t, c.want, status(t, done))
			assert.InDelta(t, 1, uplinkCount(f.metrics, c.outcome), 0)
			assert.Len(t, f.collector.Requests(), c.posts)
		})
	}
}

func TestHandleMessageFilter(t *testing.T) {
	filter, err := expreval.NewExprEvaluator("port == 1")
	require.NoError(t, err)
	f := newFixture(t, stationTable, WithFilter(filter))

	msg, done := newMessage(v2Envelope("station-1", referenceFrame, 2))
	f.bridge.HandleMessage(context.Background(), msg)
	assert.Equal(t, message.ResponseStatusAck, status(t, done))
	assert.InDelta(t, 1, uplinkCount(f.metrics, metrics.OutcomeFiltered), 0)
	assert.Empty(t, f.collector.Requests())

	msg, done = newMessage(v2Envelope("station-1", referenceFrame, 1))
	f.bridge.HandleMessage(context.Background(), msg)
	assert.Equal(t, message.ResponseStatusAck, status(t, done))
	assert.Len(t, f.collector.Requests(), 2)
}

func TestHandleMessageFilterRuntimeError(t *testing.T) {
	filter, err := expreval.NewExprEvaluator("counter % port == 0")
	require.NoError(t, err)
	f := newFixture(t, stationTable, WithFilter(filter))

	msg, done := newMessage(v2Envelope("station-1", referenceFrame, 0))
	f.bridge.HandleMessage(context.Background(), msg)

	assert.Equal(t, message.ResponseStatusNak, status(t, done))
	assert.InDelta(t, 1, uplinkCount(f.metrics, metrics.OutcomeFilterError), 0)
	assert.InDelta(t, 0, uplinkCount(f.metrics, metrics.OutcomeFiltered), 0)
	assert.Empty(t, f.collector.Requests())
}

func TestHandleMessageWritesRawLog(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	w, err := rawlog.New(dir, rawlog.WithClock(func() time.Time { return day }))
	require.NoError(t, err)
	f := newFixture(t, stationTable, WithRawLog(w), WithCloser("rawlog", w.Close))

	msg, done := newMessage([]byte("garbage"))
	f.bridge.HandleMessage(context.Background(), msg)
	status(t, done)
	require.NoError(t, f.bridge.Close())

	data, err := os.ReadFile(filepath.Join(dir, "20240302_proxy.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"raw":"garbage"`)
}

type stubSource struct {
	c        chan *message.SourceMessage
	err      error
	closeErr error
	closes   atomic.Int32
}

func (s *stubSource) Produce(int) (<-chan *message.SourceMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.c, nil
}

func (s *stubSource) Close() error {
	s.closes.Add(1)
	return s.closeErr
}

func TestRunProcessesMessagesInOrder(t *testing.T) {
	src := &stubSource{c: make(chan *message.SourceMessage, 3)}
	dir := t.TempDir()
	w, err := rawlog.New(dir)
	require.NoError(t, err)
	f := newFixture(t, stationTable, WithSource(src), WithRawLog(w), WithCloser("rawlog", w.Close))

	dones := make([]chan message.ResponseStatus, 0, 3)
	for _, dev := range []string{"station-1", "station-9", "station-1"} {
		msg, done := newMessage(v2Envelope(dev, referenceFrame, 1))
		src.c <- msg
		dones = append(dones, done)
	}
	close(src.c)

	require.NoError(t, f.bridge.Run(context.Background()))
	for _, d := range dones {
		assert.Equal(t, message.ResponseStatusAck, status(t, d))
	}
	assert.Len(t, f.collector.Requests(), 4)
	assert.InDelta(t, 2, uplinkCount(f.metrics, metrics.OutcomeHandled), 0)

	require.NoError(t, f.bridge.Close())
	assert.Equal(t, int32(1), src.closes.Load())

	data, err := os.ReadFile(filepath.Join(dir, rawlog.FileName(time.Now())))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"kind":"routing_table"`)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	src := &stubSource{c: make(chan *message.SourceMessage)}
	f := newFixture(t, stationTable, WithSource(src))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.bridge.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunErrors(t *testing.T) {
	f := newFixture(t, stationTable)
	require.Error(t, f.bridge.Run(context.Background()))

	f = newFixture(t, stationTable, WithSource(&stubSource{err: errors.New("broker down")}))
	err := f.bridge.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestCloseRetriesAndReportsErrors(t *testing.T) {
	src := &stubSource{closeErr: errors.New("still busy")}
	var calls int
	f := newFixture(t, stationTable, WithSource(src), WithCloser("flaky", func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}))

	err := f.bridge.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close source")
	assert.NotContains(t, err.Error(), "flaky")
	assert.Equal(t, int32(defaultCloseRetries), src.closes.Load())
	assert.Equal(t, 2, calls)
}

func TestMessageHandlerNilMessage(t *testing.T) {
	h := NewMessageHandler(newTestLogger())
	assert.NotPanics(t, func() {
		h.HandleSuccess(nil, "op")
		h.HandleSkipped(nil, "op")
		h.HandleError(nil, errors.New("boom"), "op")
	})
}
