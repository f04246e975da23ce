package rpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/taskctl/remotetask/internal/logger"
)

// Response is the normalized result of a single RPC round trip.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Client issues a single HTTP round trip with cancellation. Do is
// synchronous from the caller's point of view but is always invoked from a
// loop goroutine, so the call itself is the suspension point.
type Client interface {
	Do(ctx context.Context, method, uri string, header http.Header, body []byte) (*Response, error)
	// Close shuts the client down; any Do call in flight or issued after
	// Close resolves to ErrClientClosed.
	Close()
}

// HTTPClient is the production Client backed by net/http, with a shutdown
// switch shared by every TaskHandle created from the same Factory.
type HTTPClient struct {
	http      *http.Client
	traceHTTP bool

	mu     sync.RWMutex
	closed bool
}

// NewHTTPClient builds an HTTPClient with the given per-request timeout.
// traceHTTP enables debug logging of every round trip.
func NewHTTPClient(requestTimeout time.Duration, traceHTTP bool) *HTTPClient {
	return &HTTPClient{
		http: &http.Client{
			Timeout: requestTimeout,
		},
		traceHTTP: traceHTTP,
	}
}

func (c *HTTPClient) Do(ctx context.Context, method, uri string, header http.Header, body []byte) (*Response, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClientClosed
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)

	if c.traceHTTP {
		ev := logger.Debug().
			Str("method", method).
			Str("uri", uri).
			Dur("duration", duration)
		if err != nil {
			ev.Err(err).Msg("rpc request failed")
		} else {
			ev.Int("status", resp.StatusCode).Msg("rpc request completed")
		}
	}

	if err != nil {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return nil, ErrClientClosed
		}
		return nil, err
	}
	defer resp.Body.Close()

	c.mu.RLock()
	closed = c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClientClosed
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Header:     resp.Header,
	}, nil
}

// Close shuts the client down. Subsequent/in-flight calls resolve as
// ErrClientClosed; this is how Factory.Stop() drives every handle's loops
// into REMOTE_TASK_ERROR.
func (c *HTTPClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.http.CloseIdleConnections()
}
