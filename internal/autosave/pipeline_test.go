package autosave_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"clipsave/internal/autosave"
	"clipsave/internal/checksum"
	"clipsave/internal/fetch"
	"clipsave/internal/progress"
	"clipsave/internal/testutil"
)

type harness struct {
	p       *autosave.Pipeline
	dir     string
	history *testutil.RecordingHistory
	tracker *progress.Tracker
	clock   *testutil.StubClock
}

func newHarness(t *testing.T, deps autosave.Deps, settings autosave.Settings) *harness {
	t.Helper()
	h := &harness{
		dir:     t.TempDir(),
		history: testutil.NewRecordingHistory(),
		tracker: progress.New(nil),
		clock:   testutil.FixedClock(),
	}
	if deps.History == nil {
		deps.History = h.history
	}
	if deps.Tracker == nil {
		deps.Tracker = h.tracker
	}
	if deps.Clock == nil {
		deps.Clock = h.clock
	}
	if settings.TargetDir == "" {
		settings.TargetDir = h.dir
	}
	h.dir = settings.TargetDir

	h.p = autosave.NewPipeline(deps, settings)
	ctx, cancel := context.WithCancel(context.Background())
	go h.p.Run(ctx)
	t.Cleanup(func() {
		h.p.Close()
		cancel()
	})
	return h
}

func enabled() autosave.Settings {
	return autosave.Settings{Enabled: true, MaxSizeMB: 30}
}

func wait(t *testing.T, ch <-chan autosave.Outcome) autosave.Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return autosave.Outcome{}
	}
}

// savedFiles lists the target directory without the checksum log.
func savedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.Name() != checksum.LogFileName {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func logLines(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, checksum.LogFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func newQueue(t *testing.T, srv *httptest.Server) *fetch.Queue {
	t.Helper()
	q := fetch.New(srv.Client(), fetch.Options{MaxConcurrent: 2, IDs: testutil.NewStubIDGenerator()})
	t.Cleanup(q.Close)
	return q
}

func TestPipeline_InlineImage(t *testing.T) {
	h := newHarness(t, autosave.Deps{}, enabled())
	img := testutil.PNGBytes(t, 1)

	o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img}))
	if o.Decision != autosave.Saved {
		t.Fatalf("Decision = %s (%v), want saved", o.Decision, o.Err)
	}

	wantName := "20240115_103000_250_clipboard.png"
	if filepath.Base(o.Path) != wantName {
		t.Errorf("file name = %q, want %q", filepath.Base(o.Path), wantName)
	}
	got, err := os.ReadFile(o.Path)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if !bytes.Equal(got, img) {
		t.Error("saved bytes differ from clipboard image")
	}
	if o.Digest != testutil.MD5Hex(img) {
		t.Errorf("Digest = %s, want %s", o.Digest, testutil.MD5Hex(img))
	}

	lines := logLines(t, h.dir)
	if len(lines) != 1 || lines[0] != wantName+": "+testutil.MD5Hex(img) {
		t.Errorf("log = %q", lines)
	}

	if _, ok := h.history.Find(" -> " + o.Path); !ok {
		t.Error("save was not reported to history")
	}
	copies := h.history.ByCategory(autosave.CategoryCopy)
	if len(copies) != 1 || !strings.HasPrefix(copies[0].Message, "[Image]") {
		t.Errorf("copy history = %+v, want one [Image] entry", copies)
	}
}

func TestPipeline_DedupIdempotence(t *testing.T) {
	h := newHarness(t, autosave.Deps{}, enabled())
	img := testutil.PNGBytes(t, 7)
	snap := autosave.Snapshot{HasImage: true, Image: img}

	first := wait(t, h.p.Ingest(snap))
	h.clock.Advance(time.Second)
	second := wait(t, h.p.Ingest(snap))

	if first.Decision != autosave.Saved {
		t.Fatalf("first Decision = %s, want saved", first.Decision)
	}
	if second.Decision != autosave.SkippedDuplicate {
		t.Fatalf("second Decision = %s, want skipped-duplicate", second.Decision)
	}
	if !errors.Is(second.Err, autosave.ErrDuplicateContent) {
		t.Errorf("second Err = %v, want ErrDuplicateContent", second.Err)
	}

	if files := savedFiles(t, h.dir); len(files) != 1 {
		t.Errorf("files = %v, want exactly one", files)
	}
	if lines := logLines(t, h.dir); len(lines) != 1 {
		t.Errorf("log lines = %d, want 1", len(lines))
	}

	e, ok := h.history.Find("identical image already saved")
	if !ok || e.Level != autosave.LevelInfo {
		t.Errorf("duplicate history = %+v, want info entry", e)
	}
}

func TestPipeline_DedupSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	img := testutil.PNGBytes(t, 9)
	settings := enabled()
	settings.TargetDir = dir

	first := newHarness(t, autosave.Deps{}, settings)
	if o := wait(t, first.p.Ingest(autosave.Snapshot{HasImage: true, Image: img})); o.Decision != autosave.Saved {
		t.Fatalf("Decision = %s, want saved", o.Decision)
	}
	first.p.Close()

	second := newHarness(t, autosave.Deps{}, settings)
	if o := wait(t, second.p.Ingest(autosave.Snapshot{HasImage: true, Image: img})); o.Decision != autosave.SkippedDuplicate {
		t.Errorf("after restart Decision = %s, want skipped-duplicate", o.Decision)
	}
}

func TestPipeline_SizeGateBoundary(t *testing.T) {
	const limit = 1024 * 1024
	src := t.TempDir()

	// PNG decoders stop at IEND, so padding keeps the file a valid image.
	pad := func(seed uint8, size int) string {
		img := testutil.PNGBytes(t, seed)
		data := append(img, make([]byte, size-len(img))...)
		path := filepath.Join(src, strings.Repeat("x", int(seed))+".png")
		testutil.WriteFile(t, path, data)
		return path
	}
	exact := pad(1, limit)
	over := pad(2, limit+1)

	settings := enabled()
	settings.MaxSizeMB = 1
	h := newHarness(t, autosave.Deps{}, settings)

	o := wait(t, h.p.Ingest(autosave.Snapshot{HasText: true, Text: exact}))
	if o.Decision != autosave.Saved {
		t.Fatalf("exact-size Decision = %s (%v), want saved", o.Decision, o.Err)
	}
	if o.Size != limit {
		t.Errorf("Size = %d, want %d", o.Size, limit)
	}

	o = wait(t, h.p.Ingest(autosave.Snapshot{HasText: true, Text: over}))
	if o.Decision != autosave.SkippedTooLarge {
		t.Fatalf("over-size Decision = %s, want skipped-too-large", o.Decision)
	}
	if !errors.Is(o.Err, autosave.ErrSizeExceeded) {
		t.Errorf("Err = %v, want ErrSizeExceeded", o.Err)
	}
	if lines := logLines(t, h.dir); len(lines) != 1 {
		t.Errorf("log lines = %d, want 1 (oversize must not be logged)", len(lines))
	}
	e, ok := h.history.Find("exceeds limit")
	if !ok || e.Level != autosave.LevelWarning {
		t.Errorf("size history = %+v, want warning", e)
	}
}

func TestPipeline_LocalFileKeepsName(t *testing.T) {
	src := filepath.Join(t.TempDir(), "holiday photo.jpg")
	testutil.WriteFile(t, src, testutil.JPEGBytes(t, 4))

	h := newHarness(t, autosave.Deps{}, enabled())
	o := wait(t, h.p.Ingest(autosave.Snapshot{HasText: true, Text: src}))
	if o.Decision != autosave.Saved {
		t.Fatalf("Decision = %s (%v), want saved", o.Decision, o.Err)
	}
	if want := "20240115_103000_250_holiday photo.jpg"; filepath.Base(o.Path) != want {
		t.Errorf("file name = %q, want %q", filepath.Base(o.Path), want)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source file should be copied, not moved")
	}
}

func TestPipeline_NameCollision(t *testing.T) {
	h := newHarness(t, autosave.Deps{}, enabled())

	a := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, 1)}))
	b := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, 2)}))

	if a.Decision != autosave.Saved || b.Decision != autosave.Saved {
		t.Fatalf("decisions = %s, %s; want saved twice", a.Decision, b.Decision)
	}
	if want := "20240115_103000_250_clipboard-1.png"; filepath.Base(b.Path) != want {
		t.Errorf("second name = %q, want %q", filepath.Base(b.Path), want)
	}
	if lines := logLines(t, h.dir); len(lines) != 2 {
		t.Errorf("log lines = %d, want 2", len(lines))
	}
}

func TestPipeline_NamesSortInCaptureOrder(t *testing.T) {
	h := newHarness(t, autosave.Deps{}, enabled())
	h.clock.Tick(7 * time.Millisecond)

	var names []string
	for seed := uint8(1); seed <= 3; seed++ {
		o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, seed)}))
		names = append(names, filepath.Base(o.Path))
	}

	want := []string{
		"20240115_103000_250_clipboard.png",
		"20240115_103000_257_clipboard.png",
		"20240115_103000_264_clipboard.png",
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestPipeline_Ignored(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{}, autosave.Settings{Enabled: false})
		o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, 1)}))
		if o.Decision != autosave.Ignored || !errors.Is(o.Err, autosave.ErrDisabled) {
			t.Errorf("outcome = %+v, want Ignored/ErrDisabled", o)
		}
		if files := savedFiles(t, h.dir); len(files) != 0 {
			t.Errorf("files = %v, want none", files)
		}
		if len(h.history.ByCategory(autosave.CategoryCopy)) != 1 {
			t.Error("copy history should be recorded even when disabled")
		}
	})

	t.Run("text only", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{}, enabled())
		o := wait(t, h.p.Ingest(autosave.Snapshot{HasText: true, Text: "hello\nworld"}))
		if o.Decision != autosave.Ignored || !errors.Is(o.Err, autosave.ErrNoMatch) {
			t.Errorf("outcome = %+v, want Ignored/ErrNoMatch", o)
		}
		copies := h.history.ByCategory(autosave.CategoryCopy)
		if len(copies) != 1 || copies[0].Message != "[Text] hello world" {
			t.Errorf("copy history = %+v", copies)
		}
	})

	t.Run("enable at runtime", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{}, autosave.Settings{})
		if err := h.p.SetEnabled(true); err != nil {
			t.Fatalf("SetEnabled() error = %v", err)
		}
		o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, 1)}))
		if o.Decision != autosave.Saved {
			t.Errorf("Decision = %s, want saved", o.Decision)
		}
	})
}

// manualFetcher hands each request back to the test, which decides when
// and how it completes.
type manualFetcher struct {
	mu       sync.Mutex
	requests []fetch.Callbacks
	queued   chan struct{}
}

func newManualFetcher() *manualFetcher {
	return &manualFetcher{queued: make(chan struct{}, 8)}
}

func (f *manualFetcher) Enqueue(url string, cb fetch.Callbacks) string {
	f.mu.Lock()
	f.requests = append(f.requests, cb)
	id := "ticket-" + strconv.Itoa(len(f.requests))
	f.mu.Unlock()
	f.queued <- struct{}{}
	return id
}

func (f *manualFetcher) complete(t *testing.T, res fetch.Result) {
	t.Helper()
	select {
	case <-f.queued:
	case <-time.After(5 * time.Second):
		t.Fatal("no fetch was queued")
	}
	f.mu.Lock()
	cb := f.requests[len(f.requests)-1]
	f.mu.Unlock()
	cb.OnDone(res)
}

func TestPipeline_RemoteURL(t *testing.T) {
	img := testutil.PNGBytes(t, 5)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pics/cat.png", "/pics/noext":
			w.Write(img)
		case "/page.html":
			w.Write([]byte("<html><body>not an image</body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fallback := testutil.PNGBytes(t, 6)

	t.Run("downloads and saves under the url name", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{Fetcher: newQueue(t, srv)}, enabled())
		o := wait(t, h.p.Ingest(autosave.Snapshot{HasText: true, Text: srv.URL + "/pics/cat.png"}))
		if o.Decision != autosave.Saved {
			t.Fatalf("Decision = %s (%v), want saved", o.Decision, o.Err)
		}
		if want := "20240115_103000_250_cat.png"; filepath.Base(o.Path) != want {
			t.Errorf("file name = %q, want %q", filepath.Base(o.Path), want)
		}
		got, _ := os.ReadFile(o.Path)
		if !bytes.Equal(got, img) {
			t.Error("saved bytes differ from download")
		}

		tickets := h.tracker.List()
		if len(tickets) != 1 || tickets[0].State != progress.Finished {
			t.Errorf("tickets = %+v, want one finished", tickets)
		}
	})

	t.Run("adds extension when url has none", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{Fetcher: newQueue(t, srv)}, enabled())
		o := wait(t, h.p.Ingest(autosave.Snapshot{HasText: true, Text: srv.URL + "/pics/noext"}))
		if !strings.HasSuffix(o.Path, "_noext.png") {
			t.Errorf("Path = %q, want suffix _noext.png", o.Path)
		}
	})

	t.Run("non-image download saves fallback image", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{Fetcher: newQueue(t, srv)}, enabled())
		o := wait(t, h.p.Ingest(autosave.Snapshot{
			HasText: true, Text: srv.URL + "/page.html",
			HasImage: true, Image: fallback,
		}))
		if o.Decision != autosave.Saved {
			t.Fatalf("Decision = %s (%v), want saved", o.Decision, o.Err)
		}
		got, _ := os.ReadFile(o.Path)
		if !bytes.Equal(got, fallback) {
			t.Error("saved bytes are not the fallback image")
		}
		if files := savedFiles(t, h.dir); len(files) != 1 {
			t.Errorf("files = %v, want only the fallback", files)
		}
		tk := h.tracker.List()[0]
		if tk.State != progress.Error {
			t.Errorf("ticket state = %s, want error", tk.State)
		}
		if _, ok := h.history.Find("saving clipboard image instead"); !ok {
			t.Error("fallback not reported to history")
		}
	})

	t.Run("network failure saves fallback image", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{Fetcher: newQueue(t, srv)}, enabled())
		o := wait(t, h.p.Ingest(autosave.Snapshot{
			HasText: true, Text: srv.URL + "/missing.png",
			HasImage: true, Image: fallback,
		}))
		if o.Decision != autosave.Saved {
			t.Fatalf("Decision = %s (%v), want saved", o.Decision, o.Err)
		}
		got, _ := os.ReadFile(o.Path)
		if !bytes.Equal(got, fallback) {
			t.Error("saved bytes are not the fallback image")
		}
	})

	t.Run("network failure without fallback fails", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{Fetcher: newQueue(t, srv)}, enabled())
		o := wait(t, h.p.Ingest(autosave.Snapshot{HasText: true, Text: srv.URL + "/missing.png"}))
		if o.Decision != autosave.Failed {
			t.Fatalf("Decision = %s, want failed", o.Decision)
		}
		if !errors.Is(o.Err, autosave.ErrNetworkFailure) {
			t.Errorf("Err = %v, want ErrNetworkFailure", o.Err)
		}
		e, ok := h.history.Find("Failed to save")
		if !ok || e.Level != autosave.LevelError {
			t.Errorf("failure history = %+v, want error entry", e)
		}
	})

	t.Run("download already saved is a duplicate", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{Fetcher: newQueue(t, srv)}, enabled())
		first := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img}))
		second := wait(t, h.p.Ingest(autosave.Snapshot{HasText: true, Text: srv.URL + "/pics/cat.png"}))
		if first.Decision != autosave.Saved || second.Decision != autosave.SkippedDuplicate {
			t.Errorf("decisions = %s, %s; want saved, skipped-duplicate", first.Decision, second.Decision)
		}
	})
}

func TestPipeline_OversizeNonImageUsesFallback(t *testing.T) {
	fallback := testutil.PNGBytes(t, 6)
	page := bytes.Repeat([]byte("<html>"), 400_000)

	f := newManualFetcher()
	settings := enabled()
	settings.MaxSizeMB = 1
	h := newHarness(t, autosave.Deps{Fetcher: f}, settings)

	out := h.p.Ingest(autosave.Snapshot{
		HasText: true, Text: "https://example.com/photo",
		HasImage: true, Image: fallback,
	})
	f.complete(t, fetch.Result{Data: page})

	o := wait(t, out)
	if o.Decision != autosave.Saved {
		t.Fatalf("Decision = %s (%v), want saved", o.Decision, o.Err)
	}
	got, _ := os.ReadFile(o.Path)
	if !bytes.Equal(got, fallback) {
		t.Error("saved bytes are not the fallback image")
	}
	if _, ok := h.history.Find("saving clipboard image instead"); !ok {
		t.Error("fallback not reported to history")
	}
}

func TestPipeline_OversizeImageDownloadIsSkipped(t *testing.T) {
	f := newManualFetcher()
	settings := enabled()
	settings.MaxSizeMB = 1
	h := newHarness(t, autosave.Deps{Fetcher: f}, settings)

	// A valid PNG header followed by padding past the limit.
	big := append(testutil.PNGBytes(t, 1), make([]byte, 2<<20)...)
	out := h.p.Ingest(autosave.Snapshot{
		HasText: true, Text: "https://example.com/huge.png",
		HasImage: true, Image: testutil.PNGBytes(t, 2),
	})
	f.complete(t, fetch.Result{Data: big})

	o := wait(t, out)
	if o.Decision != autosave.SkippedTooLarge || !errors.Is(o.Err, autosave.ErrSizeExceeded) {
		t.Errorf("outcome = %+v, want SkippedTooLarge", o)
	}
	if files := savedFiles(t, h.dir); len(files) != 0 {
		t.Errorf("files = %v, want none", files)
	}
}

func TestPipeline_DownloadFinishingDuringRebuild(t *testing.T) {
	f := newManualFetcher()
	h := newHarness(t, autosave.Deps{Fetcher: f}, enabled())
	testutil.WriteFile(t, filepath.Join(h.dir, "a.png"), testutil.PNGBytes(t, 1))

	out := h.p.Ingest(autosave.Snapshot{HasText: true, Text: "https://example.com/x.png"})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := h.p.Rebuild(context.Background(), func(processed, total int) {
			close(started)
			<-release
		})
		done <- err
	}()
	<-started

	f.complete(t, fetch.Result{Data: testutil.PNGBytes(t, 2)})
	o := wait(t, out)
	if o.Decision != autosave.Ignored || !errors.Is(o.Err, autosave.ErrRebuilding) {
		t.Errorf("outcome = %+v, want Ignored/ErrRebuilding", o)
	}

	cancelled := make(chan error, 1)
	go func() { cancelled <- h.p.CancelRebuild() }()
	select {
	case err := <-cancelled:
		if err != nil {
			t.Fatalf("CancelRebuild() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CancelRebuild() blocked while a rebuild was running")
	}

	close(release)
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Rebuild() error = %v, want context.Canceled", err)
	}
	if files := savedFiles(t, h.dir); len(files) != 1 || files[0] != "a.png" {
		t.Errorf("files = %v, want only a.png", files)
	}
	if tk := h.tracker.List(); len(tk) != 1 || tk[0].State != progress.Error {
		t.Errorf("tickets = %+v, want one failed ticket", tk)
	}
}

func TestPipeline_Rebuild(t *testing.T) {
	t.Run("records history and replaces index", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{}, enabled())
		x := testutil.PNGBytes(t, 1)
		testutil.WriteFile(t, filepath.Join(h.dir, "x.png"), x)
		testutil.WriteFile(t, filepath.Join(h.dir, "y.jpg"), testutil.JPEGBytes(t, 2))
		testutil.WriteFile(t, filepath.Join(h.dir, "z.txt"), []byte("text"))

		report, err := h.p.Rebuild(context.Background(), nil)
		if err != nil {
			t.Fatalf("Rebuild() error = %v", err)
		}
		if report.Images != 2 {
			t.Errorf("Images = %d, want 2", report.Images)
		}
		if _, ok := h.history.Find("Rebuilt checksums for 2 files. Time cost:"); !ok {
			t.Error("rebuild not reported to history")
		}

		o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: x}))
		if o.Decision != autosave.SkippedDuplicate {
			t.Errorf("Decision = %s, want skipped-duplicate after rebuild", o.Decision)
		}
	})

	t.Run("events during rebuild are ignored", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{}, enabled())
		testutil.WriteFile(t, filepath.Join(h.dir, "a.png"), testutil.PNGBytes(t, 1))

		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := h.p.Rebuild(context.Background(), func(processed, total int) {
				close(started)
				<-release
			})
			done <- err
		}()

		<-started
		o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, 2)}))
		if o.Decision != autosave.Ignored || !errors.Is(o.Err, autosave.ErrRebuilding) {
			t.Errorf("outcome = %+v, want Ignored/ErrRebuilding", o)
		}
		if _, err := h.p.Rebuild(context.Background(), nil); !errors.Is(err, autosave.ErrRebuilding) {
			t.Errorf("second Rebuild() error = %v, want ErrRebuilding", err)
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("Rebuild() error = %v", err)
		}
		o = wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, 2)}))
		if o.Decision != autosave.Saved {
			t.Errorf("after rebuild Decision = %s, want saved", o.Decision)
		}
	})

	t.Run("cancel keeps previous index", func(t *testing.T) {
		h := newHarness(t, autosave.Deps{}, enabled())
		img := testutil.PNGBytes(t, 3)
		if o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img})); o.Decision != autosave.Saved {
			t.Fatalf("Decision = %s, want saved", o.Decision)
		}
		testutil.WriteFile(t, filepath.Join(h.dir, "b.png"), testutil.PNGBytes(t, 4))
		testutil.WriteFile(t, filepath.Join(h.dir, "c.png"), testutil.PNGBytes(t, 5))
		before := logLines(t, h.dir)

		_, err := h.p.Rebuild(context.Background(), func(processed, total int) {
			if processed == 1 {
				h.p.CancelRebuild()
			}
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Rebuild() error = %v, want context.Canceled", err)
		}
		if _, ok := h.history.Find("Rebuild checksums canceled by user."); !ok {
			t.Error("cancellation not reported to history")
		}
		if after := logLines(t, h.dir); strings.Join(after, "\n") != strings.Join(before, "\n") {
			t.Errorf("log changed: %q -> %q", before, after)
		}

		o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img}))
		if o.Decision != autosave.SkippedDuplicate {
			t.Errorf("Decision = %s, want skipped-duplicate", o.Decision)
		}
	})
}

func TestPipeline_Clean(t *testing.T) {
	h := newHarness(t, autosave.Deps{}, enabled())
	img := testutil.PNGBytes(t, 1)
	o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img}))
	if err := os.Remove(o.Path); err != nil {
		t.Fatal(err)
	}

	report, err := h.p.Clean()
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if report.Removed != 1 {
		t.Errorf("Removed = %d, want 1", report.Removed)
	}

	// With its entry gone the same image is saved again.
	o = wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img}))
	if o.Decision != autosave.Saved {
		t.Errorf("Decision = %s, want saved after clean", o.Decision)
	}
}

func TestPipeline_SetTargetDir(t *testing.T) {
	h := newHarness(t, autosave.Deps{}, enabled())
	img := testutil.PNGBytes(t, 1)
	wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img}))

	other := t.TempDir()
	if err := h.p.SetTargetDir(other); err != nil {
		t.Fatalf("SetTargetDir() error = %v", err)
	}
	if got := h.p.TargetDir(); got != other {
		t.Errorf("TargetDir() = %q, want %q", got, other)
	}

	o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img}))
	if o.Decision != autosave.Saved {
		t.Errorf("Decision = %s, want saved in new directory", o.Decision)
	}
	if filepath.Dir(o.Path) != other {
		t.Errorf("saved to %q, want %q", filepath.Dir(o.Path), other)
	}

	if err := h.p.SetTargetDir(filepath.Join(other, "missing")); err == nil {
		t.Error("SetTargetDir() expected error for missing directory")
	}
	if err := h.p.SetMaxSizeMB(0); !errors.Is(err, autosave.ErrInvalidSetting) {
		t.Errorf("SetMaxSizeMB(0) error = %v, want ErrInvalidSetting", err)
	}
}

func TestPipeline_UnreadableLog(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, checksum.LogFileName), 0755); err != nil {
		t.Fatal(err)
	}
	settings := enabled()
	settings.TargetDir = dir
	h := newHarness(t, autosave.Deps{}, settings)

	o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, 1)}))
	if o.Decision != autosave.Saved {
		t.Fatalf("Decision = %s, want saved without dedup history", o.Decision)
	}
	if !errors.Is(o.Err, autosave.ErrIO) {
		t.Errorf("Err = %v, want ErrIO for the failed log append", o.Err)
	}
	if _, err := os.Stat(o.Path); err != nil {
		t.Errorf("saved file missing: %v", err)
	}
	if _, ok := h.history.Find("Could not read checksums"); !ok {
		t.Error("load failure not reported to history")
	}
}

func TestPipeline_Mirror(t *testing.T) {
	v := testutil.NewTestVault()
	enc := testutil.NewTestEncryptor()
	h := newHarness(t, autosave.Deps{Mirror: v, Encryptor: enc}, enabled())

	img := testutil.PNGBytes(t, 8)
	o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: img}))
	if o.Decision != autosave.Saved {
		t.Fatalf("Decision = %s, want saved", o.Decision)
	}
	h.p.Close()

	var sealed bytes.Buffer
	if err := v.GetContent(o.Digest, &sealed); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if bytes.Equal(sealed.Bytes(), img) {
		t.Error("mirror copy should be encrypted")
	}

	dc, err := enc.Unlock("")
	if err != nil {
		t.Fatal(err)
	}
	var plain bytes.Buffer
	if err := dc.Decrypt(&sealed, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(plain.Bytes(), img) {
		t.Error("decrypted mirror copy differs from saved image")
	}
}

func TestPipeline_StoppedIngest(t *testing.T) {
	h := newHarness(t, autosave.Deps{}, enabled())
	h.p.Close()

	o := wait(t, h.p.Ingest(autosave.Snapshot{HasImage: true, Image: testutil.PNGBytes(t, 1)}))
	if !errors.Is(o.Err, autosave.ErrStopped) {
		t.Errorf("Err = %v, want ErrStopped", o.Err)
	}
}
