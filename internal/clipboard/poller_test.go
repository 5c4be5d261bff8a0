package clipboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clipsave/internal/autosave"
)

type scriptedReader struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *scriptedReader) ReadAll() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if len(r.texts) == 0 {
		return "", errors.New("script exhausted")
	}
	t := r.texts[0]
	if len(r.texts) > 1 {
		r.texts = r.texts[1:]
	}
	return t, nil
}

func TestPoller_Poll(t *testing.T) {
	r := &scriptedReader{texts: []string{"startup", "startup", "https://x/a.png", "https://x/a.png", "", "/tmp/b.png"}}
	p := NewPoller(r, time.Millisecond, nil)

	var got []autosave.Snapshot
	emit := func(s autosave.Snapshot) { got = append(got, s) }
	for i := 0; i < 6; i++ {
		if err := p.poll(emit); err != nil {
			t.Fatalf("poll() error = %v", err)
		}
	}

	if len(got) != 2 {
		t.Fatalf("emitted %d snapshots, want 2: %+v", len(got), got)
	}
	if got[0].Text != "https://x/a.png" || !got[0].HasText || got[0].HasImage {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Text != "/tmp/b.png" {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestPoller_RunUnsupported(t *testing.T) {
	p := NewPoller(&scriptedReader{err: ErrUnsupported}, time.Millisecond, nil)
	err := p.Run(context.Background(), func(autosave.Snapshot) {})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Run() error = %v, want ErrUnsupported", err)
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	r := &scriptedReader{texts: []string{"a", "b"}}
	p := NewPoller(r, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan autosave.Snapshot, 4)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, func(s autosave.Snapshot) { got <- s }) }()

	select {
	case s := <-got:
		if s.Text != "b" {
			t.Errorf("Text = %q, want b", s.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot emitted")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
