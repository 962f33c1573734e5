package httptarget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandrolain/uplink-bridge/src/targets"
	"github.com/valyala/fasthttp"
)

const contentTypeJSON = "application/json"

type HTTPTarget struct {
	slog    *slog.Logger
	config  *targets.TargetHTTPConfig
	timeout time.Duration
	client  *fasthttp.Client
}

var _ targets.Target = (*HTTPTarget)(nil)

func New(cfg *targets.TargetHTTPConfig) (*HTTPTarget, error) {
	if cfg == nil {
		return nil, fmt.Errorf("http target config cannot be nil")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = targets.DefaultTimeout
	}

	client := &fasthttp.Client{
		Name:                     cfg.UserAgent,
		NoDefaultUserAgentHeader: cfg.UserAgent == "",
		ReadTimeout:              timeout,
		WriteTimeout:             timeout,
		MaxConnsPerHost:          cfg.MaxConnsPerHost,
		Dial: (&fasthttp.TCPDialer{
			Concurrency: 4096,
		}).Dial,
	}

	return &HTTPTarget{
		slog:    slog.Default().With("context", "HTTP"),
		config:  cfg,
		timeout: timeout,
		client:  client,
	}, nil
}

// Send POSTs body to url. The request is bounded by the configured timeout
// and by the context deadline, whichever comes first.
func (s *HTTPTarget) Send(ctx context.Context, url string, body []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("error sending request: %w", err)
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(url)
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.SetContentType(contentTypeJSON)
	req.SetBody(body)

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	s.slog.Debug("publishing", "url", url, "bodysize", len(body))

	if err := s.client.DoDeadline(req, res, deadline); err != nil {
		return 0, fmt.Errorf("error sending request: %w", err)
	}

	s.slog.Debug("published", "url", url, "status", res.StatusCode())
	return res.StatusCode(), nil
}

func (s *HTTPTarget) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
