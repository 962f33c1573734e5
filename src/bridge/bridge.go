// Package bridge ties the uplink source to the decoder and the router.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/sandrolain/uplink-bridge/src/common/expreval"
	"github.com/sandrolain/uplink-bridge/src/message"
	"github.com/sandrolain/uplink-bridge/src/metrics"
	"github.com/sandrolain/uplink-bridge/src/payload"
	"github.com/sandrolain/uplink-bridge/src/rawlog"
	"github.com/sandrolain/uplink-bridge/src/routing"
	"github.com/sandrolain/uplink-bridge/src/sources"
	"github.com/sandrolain/uplink-bridge/src/uplink"
)

const (
	defaultCloseRetries = 3
	defaultCloseDelay   = time.Second
)

type closer struct {
	name string
	fn   func() error
}

// Bridge decodes every uplink received from its source and dispatches the
// measurements through the router. Messages are handled one at a time in
// arrival order.
type Bridge struct {
	logger     *slog.Logger
	router     *routing.Router
	source     sources.Source
	filter     *expreval.ExprEvaluator
	rawlog     *rawlog.Writer
	metrics    *metrics.Metrics
	handler    *MessageHandler
	closers    []closer
	closeDelay time.Duration
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSource sets the source consumed by Run. The bridge closes it.
func WithSource(s sources.Source) Option {
	return func(b *Bridge) {
		b.source = s
	}
}

// WithFilter skips uplinks for which f evaluates to false.
func WithFilter(f *expreval.ExprEvaluator) Option {
	return func(b *Bridge) {
		b.filter = f
	}
}

func WithRawLog(w *rawlog.Writer) Option {
	return func(b *Bridge) {
		b.rawlog = w
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithCloser registers an additional resource released by Close, after the
// source.
func WithCloser(name string, fn func() error) Option {
	return func(b *Bridge) {
		b.closers = append(b.closers, closer{name: name, fn: fn})
	}
}

// WithCloseDelay sets the pause between close retries.
func WithCloseDelay(d time.Duration) Option {
	return func(b *Bridge) {
		b.closeDelay = d
	}
}

func New(router *routing.Router, opts ...Option) (*Bridge, error) {
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	b := &Bridge{
		logger:     slog.Default().With("context", "Bridge"),
		router:     router,
		closeDelay: defaultCloseDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.handler = NewMessageHandler(b.logger)
	return b, nil
}

// HandleUplink processes one uplink given its transport device id, reception
// time and base64 payload. Delivery failures are reported in the results; the
// returned error is non-nil only when nothing could be delivered at all.
func (b *Bridge) HandleUplink(ctx context.Context, deviceID string, receivedAt time.Time, payloadBase64 string) ([]routing.DeliveryResult, error) {
	u, err := uplink.New(deviceID, receivedAt, payloadBase64)
	if errors.Is(err, uplink.ErrMissingDevice) {
		b.metrics.ObserveUplink(metrics.OutcomeEnvelopeError)
		return nil, &uplink.EnvelopeError{Err: err}
	}
	if err != nil {
		b.metrics.ObserveUplink(metrics.OutcomeDecodeError)
		return nil, &payload.DecodeError{Err: err}
	}
	return b.process(ctx, u)
}

func (b *Bridge) process(ctx context.Context, u *uplink.RawUplink) ([]routing.DeliveryResult, error) {
	set, err := payload.Decode(u.Payload)
	if err != nil {
		b.metrics.ObserveUplink(metrics.OutcomeDecodeError)
		return nil, err
	}
	set.DeviceID = u.DeviceID

	b.logger.Info("uplink decoded",
		"device", u.DeviceID,
		"time", u.ReceivedAt,
		"devid", set.EmbeddedID,
		"humidity", set.Humidity,
		"temperature", set.Temperature,
		"windspeed", set.Windspeed,
	)

	results, err := b.router.Dispatch(ctx, u.DeviceID, set)
	var unknown *routing.UnknownDeviceError
	if errors.As(err, &unknown) {
		b.metrics.ObserveUplink(metrics.OutcomeUnknownDevice)
		return nil, err
	}

	for _, r := range results {
		b.metrics.ObserveDelivery(r.Sensor, r.OK(), r.Duration)
		if r.OK() {
			b.logger.Info("measurement delivered", "device", u.DeviceID, "sensor", r.Sensor, "url", r.URL, "result", r.Value, "status", r.Status)
		} else {
			b.logger.Error("measurement delivery failed", "device", u.DeviceID, "sensor", r.Sensor, "url", r.URL, "status", r.Status, "error", r.Err)
		}
	}
	b.metrics.ObserveUplink(metrics.OutcomeHandled)
	return results, err
}

// HandleMessage processes one raw source message and acks or naks it.
func (b *Bridge) HandleMessage(ctx context.Context, msg *message.SourceMessage) {
	if err := b.rawlog.WriteUplink(msg.Topic, msg.Data); err != nil {
		b.logger.Error("failed to write raw log", "error", err)
	}

	u, err := uplink.ParseEnvelope(msg.Topic, msg.Data, msg.ReceivedAt)
	if err != nil {
		b.metrics.ObserveUplink(metrics.OutcomeEnvelopeError)
		b.handler.HandleError(msg, err, "failed to parse uplink", "topic", msg.Topic)
		return
	}

	if b.filter != nil {
		pass, err := b.filter.EvalUplink(u)
		if err != nil {
			b.metrics.ObserveUplink(metrics.OutcomeFilterError)
			b.handler.HandleError(msg, err, "failed to evaluate filter, skipping uplink", "filter", b.filter.String())
			return
		}
		if !pass {
			b.metrics.ObserveUplink(metrics.OutcomeFiltered)
			b.handler.HandleSuccess(msg, "uplink filtered out", "device", u.DeviceID, "filter", b.filter.String())
			return
		}
	}

	results, err := b.process(ctx, u)
	var unknown *routing.UnknownDeviceError
	switch {
	case errors.As(err, &unknown):
		b.handler.HandleSkipped(msg, "invalid device", "device", unknown.DeviceID)
	case err != nil:
		b.handler.HandleError(msg, err, "failed to handle uplink", "device", u.DeviceID)
	default:
		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
			}
		}
		b.handler.HandleSuccess(msg, "uplink handled", "device", u.DeviceID, "deliveries", len(results), "failed", failed)
	}
}

// Run consumes the source until ctx is cancelled or the source channel is
// closed.
func (b *Bridge) Run(ctx context.Context) error {
	if b.source == nil {
		return fmt.Errorf("no source configured")
	}

	if err := b.rawlog.WriteTable(b.router.Table()); err != nil {
		b.logger.Error("failed to write routing table to raw log", "error", err)
	}

	c, err := b.source.Produce(1)
	if err != nil {
		return fmt.Errorf("failed to produce messages from source: %w", err)
	}
	b.logger.Info("waiting for uplinks")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c:
			if !ok {
				return nil
			}
			b.HandleMessage(ctx, msg)
		}
	}
}

// Close releases the source and every registered closer, retrying each on
// failure.
func (b *Bridge) Close() error {
	all := make([]closer, 0, len(b.closers)+1)
	if b.source != nil {
		all = append(all, closer{name: "source", fn: b.source.Close})
	}
	all = append(all, b.closers...)

	var closeErrors []error
	for _, c := range all {
		if err := closeWithRetry(c.fn, defaultCloseRetries, b.closeDelay); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("failed to close %s: %w", c.name, err))
		}
	}

	for _, err := range closeErrors {
		b.logger.Error("close error", "error", err)
	}
	if len(closeErrors) > 0 {
		return fmt.Errorf("encountered %d close errors: %w", len(closeErrors), errors.Join(closeErrors...))
	}
	return nil
}

// closeWithRetry calls closeFunc up to maxRetries times.
func closeWithRetry(closeFunc func() error, maxRetries int, delay time.Duration) error {
	r := retrier.New(retrier.ConstantBackoff(maxRetries-1, delay), nil)
	return r.Run(closeFunc)
}
