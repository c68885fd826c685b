// Package httpexec implements the HTTP executor: one process-wide, retrying
// HTTP client every provider call goes through, so no provider template
// hand-rolls its own client.Do/status-check/retry loop.
package httpexec

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/howard-nolan/llmrouter/internal/core/metrics"
	"github.com/howard-nolan/llmrouter/internal/core/model"
)

const (
	defaultTimeout = 30 * time.Second
	minTimeout     = 5 * time.Second
	maxTimeout     = 3600 * time.Second
)

// sharedTransport is the one process-wide connection pool every Executor in
// the process uses. It is the only package-level singleton in this codebase;
// everything else is constructed and injected explicitly.
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 64,
	IdleConnTimeout:     90 * time.Second,
	TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	// Left at zero rather than a positive duration: this process never sets
	// the "Expect: 100-continue" request header, and a zero
	// ExpectContinueTimeout means net/http won't wait on it even if some
	// future caller sets it by hand.
	ExpectContinueTimeout: 0,
}

// Request is a fully-formed outbound HTTP call: method, URL, headers, and
// body are already set by the request translator before Execute sees it.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte

	// Provider labels this request for instrumentation (retry counters,
	// request-duration histograms); it never affects the wire call.
	Provider string

	// Stream marks a request whose response the caller intends to read
	// incrementally (SSE). The configured timeout then bounds only the wait
	// for response headers; once headers arrive the body may be read for as
	// long as the caller's ctx allows. Non-streaming requests are bounded
	// end-to-end, body read included.
	Stream bool
}

// Response carries status, headers (always populated), and a body reader.
// Headers are readable before the body is consumed even for non-streaming
// responses, so callers can branch on Content-Type before deciding how to
// read Body.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser
}

// RetryPolicy controls Execute's retry/backoff behavior. MaxRetries of zero
// disables retries entirely.
type RetryPolicy struct {
	MaxRetries            int
	InitialDelay          time.Duration
	UseExponentialBackoff bool
}

// DefaultRetryPolicy is the policy hosts get when they don't configure one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: 200 * time.Millisecond, UseExponentialBackoff: true}
}

// Executor is the process-wide HTTP client. Timeout is mutable only through
// ApplyConfiguredTimeout; everything else is immutable after construction.
// Safe for concurrent use.
type Executor struct {
	client  *http.Client
	metrics metrics.Sink

	// timeoutNanos is read/written atomically so ApplyConfiguredTimeout can
	// be called concurrently with in-flight Execute calls without a mutex.
	timeoutNanos atomic.Int64
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithTransport replaces the process-wide transport pool with rt. Intended
// for tests (httptest round-trippers, go-vcr cassette recorders); production
// hosts keep the shared pool.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Executor) { e.client.Transport = rt }
}

// WithMetrics reports retry attempts through sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(e *Executor) { e.metrics = sink }
}

// NewExecutor builds an Executor sharing the process-wide transport pool.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		client:  &http.Client{Transport: sharedTransport},
		metrics: metrics.Nop{},
	}
	e.timeoutNanos.Store(int64(defaultTimeout))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyConfiguredTimeout sets the per-request timeout, clamped to
// [5s, 3600s].
func (e *Executor) ApplyConfiguredTimeout(d time.Duration) {
	if d < minTimeout {
		d = minTimeout
	}
	if d > maxTimeout {
		d = maxTimeout
	}
	e.timeoutNanos.Store(int64(d))
}

func (e *Executor) timeout() time.Duration {
	return time.Duration(e.timeoutNanos.Load())
}

// Execute sends req, retrying per policy, and returns the response. The
// final attempt's response is returned even if unsuccessful (a 5xx after
// retries exhausted is still Result.Ok); only transport failures or
// cancellation produce a failed Result.
func (e *Executor) Execute(ctx context.Context, req *Request, policy RetryPolicy) model.Result[*Response] {
	var lastResp *Response
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		resp, err := e.attemptOnce(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return model.Fail[*Response](model.NewError(model.ErrCancelled, "request cancelled: %v", err))
				}
				return model.Fail[*Response](model.NewError(model.ErrTimeout, "request timed out: %v", err))
			}
			lastErr = err
			if attempt == policy.MaxRetries || !isRetryableTransportErr(err) {
				return model.Fail[*Response](model.NewError(model.ErrTransport, "transport failure: %v", err))
			}
			e.metrics.ObserveRetry(req.Provider)
			if !waitBackoff(ctx, policy, attempt) {
				return model.Fail[*Response](model.NewError(model.ErrCancelled, "cancelled during retry backoff"))
			}
			continue
		}

		lastResp = resp
		if attempt == policy.MaxRetries || !shouldRetryStatus(resp.StatusCode) {
			return model.Ok(resp)
		}
		// Drain and discard the body of a response we're about to retry past
		// so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		e.metrics.ObserveRetry(req.Provider)
		if !waitBackoff(ctx, policy, attempt) {
			return model.Fail[*Response](model.NewError(model.ErrCancelled, "cancelled during retry backoff"))
		}
	}

	if lastResp != nil {
		return model.Ok(lastResp)
	}
	return model.Fail[*Response](model.NewError(model.ErrTransport, "transport failure: %v", lastErr))
}

func (e *Executor) attemptOnce(ctx context.Context, req *Request) (*Response, error) {
	if req.Stream {
		return e.attemptStreaming(ctx, req)
	}
	return e.attemptBuffered(ctx, req)
}

// attemptBuffered bounds the entire call, headers and body both, by the
// configured timeout.
func (e *Executor) attemptBuffered(ctx context.Context, req *Request) (*Response, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(deadlineCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Headers.Clone()

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// attemptStreaming bounds only the wait for response headers by the
// configured timeout; the returned Body may be read for as long as ctx
// (the caller's original, un-timed context) allows.
func (e *Executor) attemptStreaming(ctx context.Context, req *Request) (*Response, error) {
	headerCtx, cancelHeaders := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(headerCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		cancelHeaders()
		return nil, err
	}
	httpReq.Header = req.Headers.Clone()

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.client.Do(httpReq)
		done <- result{resp, err}
	}()

	timer := time.NewTimer(e.timeout())
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			cancelHeaders()
			return nil, r.err
		}
		return &Response{
			StatusCode: r.resp.StatusCode,
			Headers:    r.resp.Header,
			Body:       cancelOnCloseBody{r.resp.Body, cancelHeaders},
		}, nil
	case <-timer.C:
		cancelHeaders()
		<-done // let the aborted Do() return before moving on
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		cancelHeaders()
		<-done
		return nil, ctx.Err()
	}
}

// cancelOnCloseBody releases the header-wait context once the caller is done
// reading the streamed body, since that context otherwise outlives the call
// with nothing left to cancel it.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

func shouldRetryStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func isRetryableTransportErr(err error) bool {
	// Any transport-level error that isn't cancellation is treated as
	// retryable: connect refused, TLS handshake failure, connection reset,
	// unexpected EOF.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// waitBackoff sleeps InitialDelay×2^attempt (or a flat InitialDelay when
// UseExponentialBackoff is false) with ±20% jitter, honoring ctx
// cancellation. Returns false if ctx was cancelled during the wait.
func waitBackoff(ctx context.Context, policy RetryPolicy, attempt int) bool {
	delay := policy.InitialDelay
	if policy.UseExponentialBackoff {
		delay = policy.InitialDelay * time.Duration(1<<uint(attempt))
	}
	jitter := time.Duration(float64(delay) * (rand.Float64()*0.4 - 0.2))
	delay += jitter
	if delay < 0 {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
