// Package history records user-facing actions (clipboard copies, saves,
// skips and failures) and keeps the newest few of them.
package history

import (
	"context"
	"sync"
	"time"

	"clipsave/internal/autosave"
)

const (
	DefaultMaxEntries = 50
	queueSize         = 64
	writeTimeout      = 5 * time.Second
)

// Options configures a Recorder. Zero values select defaults.
type Options struct {
	MaxEntries int
	Clock      autosave.Clock
	IDs        autosave.IDGenerator
	Logger     autosave.Logger
}

type item struct {
	event autosave.Event
	ack   chan struct{}
}

// Recorder is an asynchronous autosave.History. LogAction queues the entry
// and returns; a single writer goroutine inserts it and trims the store to
// MaxEntries. When the queue is full the entry is dropped and logged.
type Recorder struct {
	store      Store
	maxEntries int
	clock      autosave.Clock
	ids        autosave.IDGenerator
	logger     autosave.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan item
	done   chan struct{}
}

var _ autosave.History = (*Recorder)(nil)

// NewRecorder starts the writer goroutine. Close stops it and closes store.
func NewRecorder(store Store, opts Options) *Recorder {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Clock == nil {
		opts.Clock = autosave.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = autosave.UUIDGenerator{}
	}
	if opts.Logger == nil {
		opts.Logger = autosave.NewNopLogger()
	}

	r := &Recorder{
		store:      store,
		maxEntries: opts.MaxEntries,
		clock:      opts.Clock,
		ids:        opts.IDs,
		logger:     opts.Logger,
		queue:      make(chan item, queueSize),
		done:       make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) LogAction(message string, category autosave.Category, level autosave.Level) {
	e := autosave.Event{
		ID:       r.ids.New(),
		Time:     r.clock.Now(),
		Category: category,
		Level:    level,
		Message:  message,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- item{event: e}:
	default:
		r.logger.Warn("history queue full, dropping entry", "category", category, "message", message)
	}
}

// Sync blocks until every entry queued before the call has been written.
func (r *Recorder) Sync() {
	ack := make(chan struct{})

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.queue <- item{ack: ack}
	r.mu.RUnlock()

	<-ack
}

// Recent returns up to limit entries, newest first, after flushing the
// queue. limit <= 0 means the configured maximum.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]autosave.Event, error) {
	r.Sync()
	if limit <= 0 || limit > r.maxEntries {
		limit = r.maxEntries
	}
	return r.store.Recent(ctx, limit)
}

// Clear deletes every stored entry.
func (r *Recorder) Clear(ctx context.Context) error {
	r.Sync()
	return r.store.Clear(ctx)
}

// Close drains the queue, then closes the store.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.store.Close()
}

func (r *Recorder) loop() {
	defer close(r.done)
	for it := range r.queue {
		if it.ack != nil {
			close(it.ack)
			continue
		}
		r.write(it.event)
	}
}

func (r *Recorder) write(e autosave.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.Insert(ctx, e); err != nil {
		r.logger.Error("failed to record history entry", "error", err, "message", e.Message)
		return
	}
	if err := r.store.Trim(ctx, r.maxEntries); err != nil {
		r.logger.Warn("failed to trim history", "error", err)
	}
}
