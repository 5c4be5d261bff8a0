// Package progress tracks the lifecycle of fetch tickets and mirrors it
// onto notifier handles.
package progress

import (
	"sync"
	"time"
)

// State is a ticket's position in its lifecycle. States only move forward.
type State int

const (
	Queued State = iota
	Connecting
	Transferring
	Finished
	Error
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Connecting:
		return "connecting"
	case Transferring:
		return "transferring"
	case Finished:
		return "finished"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Finished or Error.
func (s State) Terminal() bool { return s == Finished || s == Error }

// Ticket is a snapshot of one tracked operation.
type Ticket struct {
	ID       string
	URL      string
	Title    string
	State    State
	Received int64
	Total    int64 // 0 when unknown
	Pinned   bool
	Message  string
}

// Percent returns the completion percentage, or 0 when Total is unknown.
func (t Ticket) Percent() int {
	if t.State == Finished {
		return 100
	}
	if t.Total <= 0 {
		return 0
	}
	p := int(t.Received * 100 / t.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// Notifier shows progress to the user.
type Notifier interface {
	StartProgress(title, message string) Handle
}

// Handle is one visible progress notification.
type Handle interface {
	SetProgress(percent int)
	SetMessage(message string)
	SetError(failed bool)
	// ExpireAfter removes the notification after d; 0 removes it now.
	ExpireAfter(d time.Duration)
	// Pin keeps the notification visible until the next ExpireAfter.
	Pin()
}

const (
	DefaultSuccessExpiry = 2 * time.Second
	DefaultErrorExpiry   = 3 * time.Second
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithExpiry sets how long finished and failed notifications stay visible.
func WithExpiry(success, failure time.Duration) Option {
	return func(t *Tracker) {
		t.successExpiry = success
		t.errorExpiry = failure
	}
}

type entry struct {
	ticket Ticket
	handle Handle
	subs   map[int]chan Ticket
	// forget drops a terminal ticket once its notification has expired.
	forget *time.Timer
}

// Tracker owns the state of every ticket. It is safe for concurrent use.
type Tracker struct {
	notifier      Notifier
	successExpiry time.Duration
	errorExpiry   time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	nextSub int
}

// New creates a tracker that reports to n. A nil n tracks state only.
func New(n Notifier, opts ...Option) *Tracker {
	t := &Tracker{
		notifier:      n,
		successExpiry: DefaultSuccessExpiry,
		errorExpiry:   DefaultErrorExpiry,
		entries:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers a Queued ticket and opens a pinned notification for it.
// A duplicate id is ignored.
func (t *Tracker) Add(id, url, title string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; ok {
		return false
	}

	e := &entry{
		ticket: Ticket{ID: id, URL: url, Title: title, State: Queued, Message: url},
		handle: nopHandle{},
		subs:   make(map[int]chan Ticket),
	}
	if t.notifier != nil {
		e.handle = t.notifier.StartProgress(title, url)
	}
	e.handle.Pin()

	t.entries[id] = e
	t.order = append(t.order, id)
	return true
}

// Connecting moves a Queued ticket to Connecting.
func (t *Tracker) Connecting(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || e.ticket.State != Queued {
		return false
	}
	e.ticket.State = Connecting
	e.handle.SetMessage("connecting")
	t.publish(e)
	return true
}

// Progress records bytes received. The first call moves the ticket to
// Transferring; later calls update it in place.
func (t *Tracker) Progress(id string, received, total int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || e.ticket.State.Terminal() {
		return false
	}
	e.ticket.State = Transferring
	e.ticket.Received = received
	e.ticket.Total = total
	e.handle.SetProgress(e.ticket.Percent())
	t.publish(e)
	return true
}

// Finish moves a ticket to Finished or Error. Unless the ticket is pinned,
// its notification expires and the ticket is dropped afterwards.
func (t *Tracker) Finish(id string, ok bool, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, found := t.entries[id]
	if !found || e.ticket.State.Terminal() {
		return false
	}

	e.ticket.Message = message
	if ok {
		e.ticket.State = Finished
		e.handle.SetProgress(100)
	} else {
		e.ticket.State = Error
		e.handle.SetError(true)
	}
	e.handle.SetMessage(message)
	if !e.ticket.Pinned {
		t.expireLocked(id, e)
	}

	t.publish(e)
	t.closeSubs(e)
	return true
}

// Pause stops the notification from expiring. The underlying fetch is
// unaffected.
func (t *Tracker) Pause(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return false
	}
	e.ticket.Pinned = true
	e.handle.Pin()
	e.stopForget()
	t.publish(e)
	return true
}

// Pin is Pause under the name used by the notification layer.
func (t *Tracker) Pin(id string) bool { return t.Pause(id) }

// Resume re-arms the expiry of a paused ticket. In-flight tickets stay
// visible until they finish.
func (t *Tracker) Resume(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || !e.ticket.Pinned {
		return false
	}
	e.ticket.Pinned = false
	if e.ticket.State.Terminal() {
		t.expireLocked(id, e)
	}
	t.publish(e)
	return true
}

// Dismiss removes the notification now and forgets the ticket.
func (t *Tracker) Dismiss(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dismissLocked(id)
}

// ClearFinished dismisses every ticket in a terminal state and returns how
// many were removed.
func (t *Tracker) ClearFinished() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var done []string
	for _, id := range t.order {
		if t.entries[id].ticket.State.Terminal() {
			done = append(done, id)
		}
	}
	for _, id := range done {
		t.dismissLocked(id)
	}
	return len(done)
}

// Get returns the current state of a ticket.
func (t *Tracker) Get(id string) (Ticket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return Ticket{}, false
	}
	return e.ticket, true
}

// List returns every ticket in the order they were added.
func (t *Tracker) List() []Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Ticket, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id].ticket)
	}
	return out
}

// Subscribe returns a channel that always holds the ticket's latest state.
// The current state is available immediately; intermediate states may be
// skipped. The channel is closed once the ticket is terminal or dismissed.
// The returned func unsubscribes.
func (t *Tracker) Subscribe(id string) (<-chan Ticket, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Ticket, 1)
	e, ok := t.entries[id]
	if !ok {
		close(ch)
		return ch, func() {}
	}

	ch <- e.ticket
	if e.ticket.State.Terminal() {
		close(ch)
		return ch, func() {}
	}

	subID := t.nextSub
	t.nextSub++
	e.subs[subID] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := e.subs[subID]; ok {
			delete(e.subs, subID)
			close(c)
		}
	}
}

func (t *Tracker) expiryFor(s State) time.Duration {
	if s == Error {
		return t.errorExpiry
	}
	return t.successExpiry
}

// expireLocked arms the notification's expiry and forgets the ticket when
// it fires.
func (t *Tracker) expireLocked(id string, e *entry) {
	d := t.expiryFor(e.ticket.State)
	e.handle.ExpireAfter(d)
	e.stopForget()
	e.forget = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.entries[id]; ok && cur == e && !e.ticket.Pinned {
			t.removeLocked(id)
		}
	})
}

func (e *entry) stopForget() {
	if e.forget != nil {
		e.forget.Stop()
		e.forget = nil
	}
}

// publish replaces whatever a subscriber has not read yet with the latest
// state. Callers hold t.mu, so no other sender races the drain.
func (t *Tracker) publish(e *entry) {
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- e.ticket
	}
}

func (t *Tracker) closeSubs(e *entry) {
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}

func (t *Tracker) dismissLocked(id string) bool {
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	e.handle.ExpireAfter(0)
	t.removeLocked(id)
	return true
}

func (t *Tracker) removeLocked(id string) {
	e := t.entries[id]
	e.stopForget()
	t.closeSubs(e)
	delete(t.entries, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

type nopHandle struct{}

func (nopHandle) SetProgress(int)           {}
func (nopHandle) SetMessage(string)         {}
func (nopHandle) SetError(bool)             {}
func (nopHandle) ExpireAfter(time.Duration) {}
func (nopHandle) Pin()                      {}
