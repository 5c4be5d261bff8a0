// Package fetch retrieves remote URLs with a bounded number of concurrent
// requests and a FIFO backlog.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConcurrent = 1
	DefaultTimeout       = 60 * time.Second
	DefaultUserAgent     = "Mozilla/5.0 (compatible; clipsave/1.0)"
)

// ErrTimeout is wrapped by results whose fetch exceeded Options.Timeout.
var ErrTimeout = errors.New("fetch timed out")

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IDGenerator produces ticket identifiers.
type IDGenerator interface {
	New() string
}

type uuidGenerator struct{}

func (uuidGenerator) New() string { return uuid.New().String() }

// Options configures a Queue. Zero values select the defaults.
type Options struct {
	MaxConcurrent int
	Timeout       time.Duration
	UserAgent     string
	// MaxBytes caps how much of a body is kept. A larger body is cut at
	// MaxBytes+1 so the caller can tell it was over the limit. 0 disables.
	MaxBytes int64
	IDs      IDGenerator
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.IDs == nil {
		o.IDs = uuidGenerator{}
	}
	return o
}

// Result is delivered exactly once per ticket through Callbacks.OnDone.
// Err is nil only when the server answered 2xx and the body was read.
type Result struct {
	Ticket string
	URL    string
	Data   []byte
	Err    error
}

// Callbacks receive the lifecycle of one ticket. They are invoked from
// worker goroutines and must not call Close.
type Callbacks struct {
	OnStart    func()
	OnProgress func(received, total int64) // total is 0 when unknown
	OnDone     func(Result)
}

type job struct {
	id  string
	url string
	cb  Callbacks
}

// Queue runs at most MaxConcurrent fetches at once. Further requests wait
// in a FIFO backlog and start in enqueue order as slots free up.
type Queue struct {
	client Doer
	opts   Options
	sem    *semaphore.Weighted

	mu      sync.Mutex
	backlog []job
	active  int
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closed    atomic.Bool
	deliverMu sync.RWMutex
}

// New starts a queue that sends requests through client.
func New(client Doer, opts Options) *Queue {
	if client == nil {
		client = http.DefaultClient
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		client: client,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.dispatch()
	return q
}

// Enqueue schedules url and returns its ticket id. It never blocks and
// never rejects. After Close the ticket is dropped without callbacks.
func (q *Queue) Enqueue(url string, cb Callbacks) string {
	id := q.opts.IDs.New()
	if q.closed.Load() {
		return id
	}

	q.mu.Lock()
	q.backlog = append(q.backlog, job{id: id, url: url, cb: cb})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return id
}

// Pending returns the number of tickets waiting for a slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Active returns the number of fetches in flight.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Close cancels in-flight requests and drops the backlog. Once Close
// returns no callback is running or will run. In-flight transport work is
// abandoned, not awaited.
func (q *Queue) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.cancel()

	q.mu.Lock()
	q.backlog = nil
	q.mu.Unlock()

	// Wait out any callback that passed the closed check before the swap.
	q.deliverMu.Lock()
	q.deliverMu.Unlock()
	<-q.done
}

// dispatch is the single goroutine that starts jobs, so start order always
// matches backlog order.
func (q *Queue) dispatch() {
	defer close(q.done)
	for {
		if !q.waitForWork() {
			return
		}
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return
		}

		q.mu.Lock()
		if len(q.backlog) == 0 {
			// Close drained the backlog while we waited for a slot.
			q.mu.Unlock()
			q.sem.Release(1)
			continue
		}
		j := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.active++
		q.mu.Unlock()

		go q.run(j)
	}
}

func (q *Queue) waitForWork() bool {
	for {
		q.mu.Lock()
		n := len(q.backlog)
		q.mu.Unlock()
		if n > 0 {
			return true
		}
		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return false
		}
	}
}

func (q *Queue) run(j job) {
	q.deliver(func() {
		if j.cb.OnStart != nil {
			j.cb.OnStart()
		}
	})

	data, err := q.fetch(j)

	q.mu.Lock()
	q.active--
	q.mu.Unlock()
	q.sem.Release(1)

	q.deliver(func() {
		if j.cb.OnDone != nil {
			j.cb.OnDone(Result{Ticket: j.id, URL: j.url, Data: data, Err: err})
		}
	})
}

// deliver runs fn unless the queue has been closed.
func (q *Queue) deliver(fn func()) {
	q.deliverMu.RLock()
	defer q.deliverMu.RUnlock()
	if q.closed.Load() {
		return
	}
	fn()
}

func (q *Queue) fetch(j job) ([]byte, error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", q.opts.UserAgent)

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, q.wrapErr(ctx, "requesting "+j.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	var body io.Reader = resp.Body
	if q.opts.MaxBytes > 0 {
		body = io.LimitReader(body, q.opts.MaxBytes+1)
	}
	body = &progressReader{r: body, total: total, report: func(received, total int64) {
		if j.cb.OnProgress != nil {
			q.deliver(func() { j.cb.OnProgress(received, total) })
		}
	}}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, q.wrapErr(ctx, "reading response body", err)
	}
	return data, nil
}

// wrapErr tags errors caused by the per-fetch deadline with ErrTimeout.
func (q *Queue) wrapErr(ctx context.Context, what string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && q.ctx.Err() == nil {
		return fmt.Errorf("%s: %w after %s", what, ErrTimeout, q.opts.Timeout)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// progressReader reports the running byte count after every read.
type progressReader struct {
	r        io.Reader
	received int64
	total    int64
	report   func(received, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.received += int64(n)
		p.report(p.received, p.total)
	}
	return n, err
}
