// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package webrequest runs HTTP requests for plugins in the background and
// hands the responses back to the poll loop.
//
// Submission never blocks. At most a fixed number of requests run at once;
// the rest wait in FIFO order. Each running request owns a goroutine that
// delivers its single result over a one-shot channel, and the poll loop
// invokes the callback the first time it observes that result.
package webrequest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cinderhost/cinder/pkg/errutil"
)

// Default limits.
const (
	DefaultMaxInFlight = 3
	DefaultTimeout     = 30 * time.Second
)

// FailureCode is delivered as the status code when no HTTP response was
// received at all.
const FailureCode = -1

// Callback receives the outcome of a request on the poll loop.
type Callback func(ctx context.Context, code int, body string) error

type result struct {
	code int
	body string
}

// Request is one submitted request.
type Request struct {
	id     ulid.ULID
	owner  string
	url    string
	method string
	body   string
	cb     Callback
	done   chan result
}

// ID returns the request's unique identifier.
func (r *Request) ID() string { return r.id.String() }

// Owner returns the plugin that submitted the request.
func (r *Request) Owner() string { return r.owner }

// URL returns the target URL.
func (r *Request) URL() string { return r.url }

// Queue runs submitted requests with bounded concurrency.
//
// Send, Post, Poll and Close must be called from the poll loop goroutine.
type Queue struct {
	client      *http.Client
	maxInFlight int
	logger      *slog.Logger

	queued   []*Request
	inFlight []*Request

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(q *Queue) {
		q.client = c
	}
}

// WithMaxInFlight sets how many requests may run at once.
func WithMaxInFlight(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxInFlight = n
		}
	}
}

// WithLogger sets the logger callback failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// NewClient returns an HTTP client with OpenTelemetry instrumentation and
// the given overall timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// NewQueue creates an idle queue.
func NewQueue(opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client:      NewClient(DefaultTimeout),
		maxInFlight: DefaultMaxInFlight,
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send queues a GET of url on behalf of owner.
func (q *Queue) Send(owner, url string, cb Callback) *Request {
	return q.submit(owner, http.MethodGet, url, "", cb)
}

// Post queues a form POST of body to url on behalf of owner.
func (q *Queue) Post(owner, url, body string, cb Callback) *Request {
	return q.submit(owner, http.MethodPost, url, body, cb)
}

func (q *Queue) submit(owner, method, url, body string, cb Callback) *Request {
	r := &Request{
		id:     ulid.Make(),
		owner:  owner,
		url:    url,
		method: method,
		body:   body,
		cb:     cb,
		done:   make(chan result, 1),
	}
	q.queued = append(q.queued, r)
	Queued.Set(float64(len(q.queued)))
	return r
}

// Pending returns the number of queued and running requests.
func (q *Queue) Pending() (queued, inFlight int) {
	return len(q.queued), len(q.inFlight)
}

// Poll delivers every finished request to its callback, then starts queued
// requests while fewer than the limit are running.
func (q *Queue) Poll(ctx context.Context) {
	running := q.inFlight[:0]
	for _, r := range q.inFlight {
		select {
		case res := <-r.done:
			q.deliver(ctx, r, res)
		default:
			running = append(running, r)
		}
	}
	for i := len(running); i < len(q.inFlight); i++ {
		q.inFlight[i] = nil
	}
	q.inFlight = running

	for len(q.inFlight) < q.maxInFlight && len(q.queued) > 0 {
		r := q.queued[0]
		q.queued[0] = nil
		q.queued = q.queued[1:]
		q.inFlight = append(q.inFlight, r)
		q.start(r)
	}
	Queued.Set(float64(len(q.queued)))
	InFlight.Set(float64(len(q.inFlight)))
}

func (q *Queue) start(r *Request) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		r.done <- q.do(q.ctx, r)
	}()
}

// do performs r. It always returns a result: HTTP errors carry their status
// code and body, anything else carries FailureCode and the error text.
func (q *Queue) do(ctx context.Context, r *Request) (res result) {
	defer func() {
		if p := recover(); p != nil {
			res = result{code: FailureCode, body: fmt.Sprintf("request panicked: %v", p)}
		}
	}()

	var body io.Reader
	if r.method == http.MethodPost {
		body = strings.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return result{code: FailureCode, body: err.Error()}
	}
	if r.method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return result{code: FailureCode, body: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return result{code: FailureCode, body: err.Error()}
	}
	text := string(data)
	if (resp.StatusCode < 200 || resp.StatusCode > 299) && text == "" {
		text = resp.Status
	}
	return result{code: resp.StatusCode, body: text}
}

func (q *Queue) deliver(ctx context.Context, r *Request, res result) {
	status := StatusSuccess
	switch {
	case res.code == FailureCode:
		status = StatusFailure
	case res.code < 200 || res.code > 299:
		status = StatusHTTPError
	}
	Completed.WithLabelValues(status).Inc()

	if r.cb == nil {
		return
	}
	if err := safeCall(ctx, r.cb, res); err != nil {
		err = oops.In("webrequest").
			With("owner", r.owner).With("request", r.ID()).With("url", r.url).
			Wrap(err)
		errutil.LogError(q.logger.With("plugin", r.owner), "web request callback failed", err)
	}
}

func safeCall(ctx context.Context, cb Callback, res result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("web request callback panicked: %v", p)
		}
	}()
	return cb(ctx, res.code, res.body)
}

// Close cancels running requests, waits for their goroutines and drops
// everything still queued. Callbacks are not invoked.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
	q.queued = nil
	q.inFlight = nil
	Queued.Set(0)
	InFlight.Set(0)
}
