// Package notify renders download progress notifications.
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"clipsave/internal/progress"
)

// Terminal draws one progress bar per notification on w. Writes from
// concurrent bars are serialized.
type Terminal struct {
	w *lockedWriter
}

var _ progress.Notifier = (*Terminal)(nil)

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: &lockedWriter{w: w}}
}

func (n *Terminal) StartProgress(title, message string) progress.Handle {
	h := &barHandle{title: title, message: message}
	h.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(n.w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(h.describe()),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(n.w)
		}),
	)
	return h
}

type barHandle struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	title   string
	message string
	failed  bool
	timer   *time.Timer
	done    bool
}

func (h *barHandle) describe() string {
	color := "[cyan]"
	if h.failed {
		color = "[red]"
	}
	if h.message == "" {
		return color + h.title + "[reset]"
	}
	return color + h.title + "[reset] " + h.message
}

func (h *barHandle) SetProgress(percent int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	// Set(100) would finish the bar; leave that to ExpireAfter.
	h.bar.Set(min(max(percent, 0), 99))
}

func (h *barHandle) SetMessage(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.message = message
	if !h.done {
		h.bar.Describe(h.describe())
	}
}

func (h *barHandle) SetError(failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = failed
	if !h.done {
		h.bar.Describe(h.describe())
	}
}

func (h *barHandle) ExpireAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	if d <= 0 {
		h.finish()
		return
	}
	h.timer = time.AfterFunc(d, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.finish()
	})
}

func (h *barHandle) Pin() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// finish must be called with h.mu held.
func (h *barHandle) finish() {
	if h.done {
		return
	}
	h.done = true
	if !h.failed {
		h.bar.Finish()
		return
	}
	// Exit keeps the partial bar on screen.
	h.bar.Exit()
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Nop discards notifications.
type Nop struct{}

var _ progress.Notifier = Nop{}

func (Nop) StartProgress(string, string) progress.Handle { return nopHandle{} }

type nopHandle struct{}

func (nopHandle) SetProgress(int)           {}
func (nopHandle) SetMessage(string)         {}
func (nopHandle) SetError(bool)             {}
func (nopHandle) ExpireAfter(time.Duration) {}
func (nopHandle) Pin()                      {}
