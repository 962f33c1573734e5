// Package testutil provides test helpers shared by the bridge packages.
package testutil

import (
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
)

// Request is one request received by a Collector.
type Request struct {
	Method      string
	Path        string
	ContentType string
	Body        []byte
}

// Collector is a local HTTP server that records every request it receives.
// Paths listed in Statuses are answered with the configured status code,
// every other path with 200.
type Collector struct {
	URL string

	mu       sync.Mutex
	requests []Request
	statuses map[string]int
	delays   map[string]time.Duration
	ln       net.Listener
	done     chan struct{}
}

// NewCollector starts a collector on an ephemeral port and registers its
// shutdown with t.Cleanup.
func NewCollector(t testing.TB) *Collector {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	c := &Collector{
		URL:      "http://" + ln.Addr().String(),
		statuses: map[string]int{},
		delays:   map[string]time.Duration{},
		ln:       ln,
		done:     make(chan struct{}),
	}
	go func() {
		_ = fasthttp.Serve(ln, c.handle)
		close(c.done)
	}()
	t.Cleanup(c.Close)
	return c
}

// RespondWith makes the collector answer path with status.
func (c *Collector) RespondWith(path string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[path] = status
}

// Delay makes the collector wait d before answering path.
func (c *Collector) Delay(path string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays[path] = d
}

func (c *Collector) handle(ctx *fasthttp.RequestCtx) {
	req := Request{
		Method:      string(ctx.Method()),
		Path:        string(ctx.Path()),
		ContentType: string(ctx.Request.Header.ContentType()),
		Body:        append([]byte(nil), ctx.PostBody()...),
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	status, ok := c.statuses[req.Path]
	delay := c.delays[req.Path]
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		status = fasthttp.StatusOK
	}
	ctx.SetStatusCode(status)
}

// Requests returns the received requests sorted by path.
func (c *Collector) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := append([]Request(nil), c.requests...)
	sort.SliceStable(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res
}

// Close stops the collector.
func (c *Collector) Close() {
	_ = c.ln.Close()
	<-c.done
}
