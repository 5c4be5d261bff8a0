package notify

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTerminal_FinishedBar(t *testing.T) {
	var out syncBuffer
	h := NewTerminal(&out).StartProgress("cat.png", "connecting")

	h.SetProgress(40)
	h.SetMessage("transferring")
	h.ExpireAfter(0)

	bh := h.(*barHandle)
	if !bh.bar.IsFinished() {
		t.Error("bar not finished after ExpireAfter(0)")
	}
	if got := bh.bar.State().CurrentNum; got != 100 {
		t.Errorf("CurrentNum = %d, want 100", got)
	}
	if s := out.String(); !strings.Contains(s, "cat.png") || !strings.Contains(s, "transferring") {
		t.Errorf("output %q lacks title or message", s)
	}
}

func TestTerminal_ProgressIsClampedBelowDone(t *testing.T) {
	h := NewTerminal(&syncBuffer{}).StartProgress("x", "").(*barHandle)

	h.SetProgress(100)
	if h.bar.IsFinished() {
		t.Error("SetProgress(100) finished the bar")
	}
	h.SetProgress(-5)
	if got := h.bar.State().CurrentNum; got != 0 {
		t.Errorf("CurrentNum = %d, want 0", got)
	}
}

func TestTerminal_FailedBarKeepsPartialState(t *testing.T) {
	h := NewTerminal(&syncBuffer{}).StartProgress("x", "").(*barHandle)
	h.SetProgress(30)
	h.SetError(true)
	h.ExpireAfter(0)

	if got := h.bar.State().CurrentNum; got != 30 {
		t.Errorf("CurrentNum = %d, want 30", got)
	}
	if !strings.HasPrefix(h.describe(), "[red]") {
		t.Errorf("describe() = %q, want red", h.describe())
	}
	// Calls after finish are ignored.
	h.SetProgress(80)
	if got := h.bar.State().CurrentNum; got != 30 {
		t.Errorf("CurrentNum after finish = %d, want 30", got)
	}
}

func TestTerminal_PinCancelsExpiry(t *testing.T) {
	h := NewTerminal(&syncBuffer{}).StartProgress("x", "").(*barHandle)
	h.ExpireAfter(20 * time.Millisecond)
	h.Pin()
	time.Sleep(60 * time.Millisecond)

	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done {
		t.Error("pinned bar expired")
	}
}

func TestNop(t *testing.T) {
	h := Nop{}.StartProgress("x", "y")
	h.SetProgress(50)
	h.SetMessage("m")
	h.SetError(true)
	h.ExpireAfter(time.Second)
	h.Pin()
}
