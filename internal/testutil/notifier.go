package testutil

import (
	"sync"
	"time"

	"clipsave/internal/progress"
)

// RecordingNotifier records every notification it is asked to show.
type RecordingNotifier struct {
	mu      sync.Mutex
	handles []*RecordingHandle
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) StartProgress(title, message string) progress.Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := &RecordingHandle{Title: title, expireAfter: -1}
	h.message = message
	n.handles = append(n.handles, h)
	return h
}

// Handles returns the handles created so far, oldest first.
func (n *RecordingNotifier) Handles() []*RecordingHandle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*RecordingHandle(nil), n.handles...)
}

// RecordingHandle captures the calls made on one notification.
type RecordingHandle struct {
	Title string

	mu          sync.Mutex
	message     string
	percent     int
	failed      bool
	pinned      bool
	expireAfter time.Duration // -1 until ExpireAfter is called
}

func (h *RecordingHandle) SetProgress(percent int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.percent = percent
}

func (h *RecordingHandle) SetMessage(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.message = message
}

func (h *RecordingHandle) SetError(failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = failed
}

func (h *RecordingHandle) ExpireAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pinned = false
	h.expireAfter = d
}

func (h *RecordingHandle) Pin() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pinned = true
	h.expireAfter = -1
}

// State returns the handle's current percent, error flag, pinned flag and
// armed expiry (-1 when none).
func (h *RecordingHandle) State() (percent int, failed, pinned bool, expireAfter time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.percent, h.failed, h.pinned, h.expireAfter
}

// Message returns the last message set on the handle.
func (h *RecordingHandle) Message() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.message
}
