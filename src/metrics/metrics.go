// Package metrics exposes bridge counters and latencies in the Prometheus
// text format.
package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const namespace = "uplink_bridge"

// Uplink outcomes.
const (
	OutcomeHandled       = "handled"
	OutcomeDecodeError   = "decode_error"
	OutcomeEnvelopeError = "envelope_error"
	OutcomeFiltered      = "filtered"
	OutcomeFilterError   = "filter_error"
	OutcomeUnknownDevice = "unknown_device"
)

// Delivery outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics holds the collectors updated by the bridge. The zero value is not
// usable; a nil *Metrics is, and records nothing.
type Metrics struct {
	Uplinks          *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Uplinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplinks_total",
			Help:      "Total number of uplinks received, by outcome",
		}, []string{"outcome"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of measurement deliveries, by measurement kind and outcome",
		}, []string{"kind", "outcome"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of measurement deliveries in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.Uplinks, m.Deliveries, m.DeliveryDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) ObserveUplink(outcome string) {
	if m == nil {
		return
	}
	m.Uplinks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDelivery(kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeFailed
	}
	m.Deliveries.WithLabelValues(kind, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Server serves a Prometheus gatherer on a fasthttp listener.
type Server struct {
	slog   *slog.Logger
	server *fasthttp.Server
	ln     net.Listener
	path   string
}

// NewServer builds a server exposing gatherer on path. Any other path
// answers 404.
func NewServer(gatherer prometheus.Gatherer, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	)
	s := &Server{
		slog: slog.Default().With("context", "Metrics"),
		path: path,
	}
	s.server = &fasthttp.Server{
		Name: "uplink-bridge",
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != s.path {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				return
			}
			metricsHandler(ctx)
		},
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.ln = ln
	s.slog.Info("metrics server listening", "address", ln.Addr().String(), "path", s.path)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			s.slog.Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.server.Shutdown()
}
