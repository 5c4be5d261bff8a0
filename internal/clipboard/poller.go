// Package clipboard turns system clipboard changes into snapshots.
package clipboard

import (
	"context"
	"errors"
	"time"

	"github.com/atotto/clipboard"

	"clipsave/internal/autosave"
)

// ErrUnsupported is returned when no clipboard utility is available
// (e.g. xclip, xsel or wl-clipboard on Linux).
var ErrUnsupported = errors.New("system clipboard not available")

// Reader reads the current clipboard text.
type Reader interface {
	ReadAll() (string, error)
}

// System reads the real clipboard.
type System struct{}

func (System) ReadAll() (string, error) {
	if clipboard.Unsupported {
		return "", ErrUnsupported
	}
	return clipboard.ReadAll()
}

// Poller reports each change of clipboard text. The system clipboard
// exposes text only, so snapshots never carry image bytes.
type Poller struct {
	reader   Reader
	interval time.Duration
	logger   autosave.Logger
	last     string
	primed   bool
}

func NewPoller(reader Reader, interval time.Duration, logger autosave.Logger) *Poller {
	if logger == nil {
		logger = autosave.NewNopLogger()
	}
	return &Poller{reader: reader, interval: interval, logger: logger}
}

// Run polls until ctx is done. Content present when Run starts is not
// reported. Read errors are logged and polling continues, except
// ErrUnsupported which is returned at once.
func (p *Poller) Run(ctx context.Context, emit func(autosave.Snapshot)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.poll(emit); errors.Is(err, ErrUnsupported) {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.poll(emit); err != nil {
				p.logger.Debug("reading clipboard failed", "error", err)
			}
		}
	}
}

func (p *Poller) poll(emit func(autosave.Snapshot)) error {
	text, err := p.reader.ReadAll()
	if err != nil {
		return err
	}
	if !p.primed {
		p.primed = true
		p.last = text
		return nil
	}
	if text == p.last {
		return nil
	}
	p.last = text
	if text == "" {
		return nil
	}
	emit(autosave.Snapshot{HasText: true, Text: text})
	return nil
}
