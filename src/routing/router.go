// Package routing maps a device to its collector URLs and delivers each
// decoded measurement to them.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/destel/rill"
	"github.com/sandrolain/uplink-bridge/src/payload"
)

const DefaultRoutines = 4

// Sender performs one HTTP POST of a JSON body and returns the response
// status code. A non-nil error means no response was received.
type Sender interface {
	Send(ctx context.Context, url string, body []byte) (int, error)
}

// Body is the JSON document posted to a collector.
type Body struct {
	Result float64 `json:"result"`
}

// DeliveryResult is the outcome of one delivery attempt.
type DeliveryResult struct {
	URL      string
	Sensor   string
	Value    float64
	Status   int
	Duration time.Duration
	Err      error
}

func (r DeliveryResult) OK() bool {
	return r.Err == nil
}

type Router struct {
	table    Table
	sender   Sender
	routines int
	slog     *slog.Logger
}

type Option func(*Router)

// WithRoutines bounds the number of concurrent deliveries for one message.
func WithRoutines(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.routines = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.slog = l
		}
	}
}

// NewRouter creates a router over a private copy of table.
func NewRouter(table Table, sender Sender, opts ...Option) (*Router, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	r := &Router{
		table:    table.Clone(),
		sender:   sender,
		routines: DefaultRoutines,
		slog:     slog.Default().With("context", "Router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Table returns a copy of the routing table.
func (r *Router) Table() Table {
	return r.table.Clone()
}

// Dispatch delivers every measurement of set routed for deviceID. Each
// destination gets exactly one attempt and failures are reported in the
// returned results only. An *UnknownDeviceError is returned, with no
// results, when the device has no routes.
func (r *Router) Dispatch(ctx context.Context, deviceID string, set payload.MeasurementSet) ([]DeliveryResult, error) {
	routes, ok := r.table.Routes(deviceID)
	if !ok {
		return nil, &UnknownDeviceError{DeviceID: deviceID}
	}

	results := make([]DeliveryResult, len(routes))
	idx := make([]int, len(routes))
	for i := range idx {
		idx[i] = i
	}

	err := rill.ForEach(rill.FromSlice(idx, nil), r.routines, func(i int) error {
		results[i] = r.deliver(ctx, set, routes[i])
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("error dispatching measurements: %w", err)
	}
	return results, nil
}

func (r *Router) deliver(ctx context.Context, set payload.MeasurementSet, route Route) (res DeliveryResult) {
	res = DeliveryResult{URL: route.URL, Sensor: route.Sensor}
	fail := func(status int, err error) DeliveryResult {
		res.Status = status
		res.Err = &DeliveryError{URL: route.URL, Sensor: route.Sensor, Status: status, Err: err}
		return res
	}

	kind, ok := payload.ParseKind(route.Sensor)
	if !ok {
		return fail(0, ErrUnknownSensor)
	}
	m, _ := set.Get(kind)
	res.Value = m.Value

	if err := ValidateURL(route.URL); err != nil {
		return fail(0, err)
	}

	body, err := sonic.Marshal(Body{Result: m.Value})
	if err != nil {
		return fail(0, fmt.Errorf("error encoding body: %w", err))
	}

	r.slog.Debug("delivering", "sensor", route.Sensor, "url", route.URL, "body", string(body))

	start := time.Now()
	status, err := r.sender.Send(ctx, route.URL, body)
	res.Duration = time.Since(start)
	if err != nil {
		return fail(status, err)
	}
	if status < 200 || status > 299 {
		return fail(status, ErrStatus)
	}
	res.Status = status
	return res
}
