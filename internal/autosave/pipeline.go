package autosave

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"

	"clipsave/internal/checksum"
	"clipsave/internal/fetch"
	"clipsave/internal/fs"
)

const (
	MinFileSizeMB     = 1
	MaxFileSizeMB     = 1000
	DefaultFileSizeMB = 30

	// maxNameAttempts bounds the "-N" suffixes tried on a name collision.
	maxNameAttempts = 1000
)

// Fetcher retrieves remote bytes asynchronously. *fetch.Queue satisfies it.
type Fetcher interface {
	Enqueue(url string, cb fetch.Callbacks) string
}

// Tracker reports fetch tickets to the user. *progress.Tracker satisfies it.
type Tracker interface {
	Add(id, url, title string) bool
	Connecting(id string) bool
	Progress(id string, received, total int64) bool
	Finish(id string, ok bool, message string) bool
}

// Deps are the collaborators of a Pipeline. Fetcher is required for remote
// URLs; Tracker, Mirror and Encryptor are optional.
type Deps struct {
	Fetcher   Fetcher
	Tracker   Tracker
	History   History
	Logger    Logger
	Clock     Clock
	Ignore    *fs.IgnoreMatcher
	Mirror    Vault
	Encryptor Encryptor
}

// Settings are the operator-controlled knobs.
type Settings struct {
	Enabled   bool
	TargetDir string
	MaxSizeMB int
}

// Pipeline turns clipboard snapshots into saved image files, at most one
// per distinct content per target directory.
//
// All pipeline state is owned by the goroutine running Run. Public methods
// and fetch callbacks post closures to it, so events are handled one at a
// time in arrival order.
type Pipeline struct {
	deps Deps

	events  chan func()
	quit    chan struct{}
	stopped chan struct{}
	running atomic.Bool
	once    sync.Once

	uploads sync.WaitGroup

	// Owned by the Run goroutine.
	enabled       bool
	maxSizeMB     int
	store         *checksum.Store
	rebuilding    bool
	rebuildCancel context.CancelFunc
}

// NewPipeline creates a pipeline. Nothing happens until Run is called.
// A non-empty settings.TargetDir is loaded when Run starts.
func NewPipeline(deps Deps, settings Settings) *Pipeline {
	if deps.History == nil {
		deps.History = NopHistory{}
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if settings.MaxSizeMB == 0 {
		settings.MaxSizeMB = DefaultFileSizeMB
	}

	p := &Pipeline{
		deps:      deps,
		events:    make(chan func()),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		enabled:   settings.Enabled,
		maxSizeMB: clampSizeMB(settings.MaxSizeMB),
	}
	if settings.TargetDir != "" {
		p.store = p.openStore(settings.TargetDir)
	}
	return p
}

// Run processes events until ctx is cancelled or Close is called.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer close(p.stopped)
	defer p.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return nil
		case fn := <-p.events:
			fn()
		}
	}
}

// Close stops the event loop, closes the checksum store and waits for
// background mirror uploads.
func (p *Pipeline) Close() {
	p.once.Do(func() { close(p.quit) })
	if p.running.Load() {
		<-p.stopped
	} else {
		p.shutdown()
	}
	p.uploads.Wait()
}

func (p *Pipeline) shutdown() {
	p.cancelRebuild()
	if p.store != nil {
		p.store.Close()
	}
}

// post hands fn to the event loop. It reports false if the loop has exited.
func (p *Pipeline) post(fn func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.events <- fn:
		return true
	case <-p.stopped:
		return false
	case <-p.quit:
		return false
	}
}

// do runs fn on the event loop and waits for it to finish.
func (p *Pipeline) do(fn func()) error {
	done := make(chan struct{})
	if !p.post(func() { fn(); close(done) }) {
		return ErrStopped
	}
	<-done
	return nil
}

// Ingest submits one clipboard snapshot. The returned channel receives
// exactly one Outcome, possibly after a remote fetch completes.
func (p *Pipeline) Ingest(snap Snapshot) <-chan Outcome {
	out := make(chan Outcome, 1)
	if !p.post(func() { p.handle(snap, out) }) {
		out <- Outcome{Decision: Ignored, Err: ErrStopped}
	}
	return out
}

// SetEnabled switches automatic saving on or off.
func (p *Pipeline) SetEnabled(enabled bool) error {
	return p.do(func() { p.enabled = enabled })
}

// SetMaxSizeMB changes the size limit. mb must be within 1..1000.
func (p *Pipeline) SetMaxSizeMB(mb int) error {
	if mb < MinFileSizeMB || mb > MaxFileSizeMB {
		return fmt.Errorf("%w: max file size %d MB outside %d..%d", ErrInvalidSetting, mb, MinFileSizeMB, MaxFileSizeMB)
	}
	return p.do(func() { p.maxSizeMB = mb })
}

// SetTargetDir switches the target directory. A rebuild running against
// the old directory is cancelled and its store closed before the new
// directory's log is loaded. An empty dir detaches the pipeline.
func (p *Pipeline) SetTargetDir(dir string) error {
	if dir != "" && !fs.IsDir(dir) {
		return fmt.Errorf("target directory %s: %w", dir, os.ErrNotExist)
	}
	return p.do(func() {
		p.cancelRebuild()
		if p.store != nil {
			p.store.Close()
			p.store = nil
		}
		if dir != "" {
			p.store = p.openStore(dir)
		}
	})
}

// TargetDir returns the directory currently bound, or "".
func (p *Pipeline) TargetDir() string {
	var dir string
	p.do(func() {
		if p.store != nil {
			dir = p.store.Dir()
		}
	})
	return dir
}

// Clean drops checksum entries whose files were deleted.
func (p *Pipeline) Clean() (checksum.CleanReport, error) {
	store, err := p.currentStore(false)
	if err != nil {
		return checksum.CleanReport{}, err
	}

	report, err := store.Clean()
	if err != nil {
		p.deps.History.LogAction(fmt.Sprintf("Clean checksums failed: %v", err), CategoryAutoSaveImage, LevelError)
		return report, fmt.Errorf("cleaning checksums: %w", err)
	}

	if report.LogMissing {
		p.deps.History.LogAction(fmt.Sprintf("No checksum log in %s, nothing to clean.", store.Dir()), CategoryAutoSaveImage, LevelInfo)
	} else {
		p.deps.History.LogAction(fmt.Sprintf("Cleaned checksums: removed %d, kept %d.", report.Removed, report.Kept), CategoryAutoSaveImage, LevelInfo)
	}
	p.deps.Logger.Info("checksums cleaned", "dir", store.Dir(), "removed", report.Removed, "kept", report.Kept)
	return report, nil
}

// Rebuild rescans the target directory and replaces the checksum log.
// Events arriving meanwhile are Ignored. Cancelling ctx, calling
// CancelRebuild or switching directories aborts it and leaves the previous
// log and index in place.
func (p *Pipeline) Rebuild(ctx context.Context, progress checksum.ProgressFunc) (checksum.RebuildReport, error) {
	var (
		store      *checksum.Store
		rebuildCtx context.Context
		err        error
	)
	if postErr := p.do(func() {
		switch {
		case p.store == nil:
			err = ErrNoTargetDir
		case p.rebuilding:
			err = ErrRebuilding
		default:
			store = p.store
			var cancel context.CancelFunc
			rebuildCtx, cancel = context.WithCancel(ctx)
			p.rebuildCancel = cancel
			p.rebuilding = true
		}
	}); postErr != nil {
		return checksum.RebuildReport{}, postErr
	}
	if err != nil {
		return checksum.RebuildReport{}, err
	}

	report, err := store.Rebuild(rebuildCtx, progress)

	p.do(func() {
		if p.store == store && p.rebuilding {
			p.rebuildCancel()
			p.rebuildCancel = nil
			p.rebuilding = false
		}
	})

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, checksum.ErrClosed):
		p.deps.History.LogAction("Rebuild checksums canceled by user.", CategoryAutoSaveImage, LevelWarning)
		return report, fmt.Errorf("rebuilding checksums: %w", context.Canceled)
	case err != nil:
		p.deps.History.LogAction(fmt.Sprintf("Rebuild checksums failed: %v", err), CategoryAutoSaveImage, LevelError)
		return report, fmt.Errorf("rebuilding checksums: %w", err)
	}

	p.deps.History.LogAction(
		fmt.Sprintf("Rebuilt checksums for %d files. Time cost: %d ms", report.Images, report.Elapsed.Milliseconds()),
		CategoryAutoSaveImage, LevelInfo)
	p.deps.Logger.Info("checksums rebuilt", "dir", store.Dir(), "scanned", report.Scanned, "images", report.Images)
	return report, nil
}

// CancelRebuild aborts a running rebuild, if any.
func (p *Pipeline) CancelRebuild() error {
	return p.do(p.cancelRebuild)
}

func (p *Pipeline) cancelRebuild() {
	if p.rebuildCancel != nil {
		p.rebuildCancel()
		p.rebuildCancel = nil
	}
	p.rebuilding = false
}

func (p *Pipeline) currentStore(allowRebuilding bool) (*checksum.Store, error) {
	var (
		store *checksum.Store
		err   error
	)
	if postErr := p.do(func() {
		switch {
		case p.store == nil:
			err = ErrNoTargetDir
		case p.rebuilding && !allowRebuilding:
			err = ErrRebuilding
		default:
			store = p.store
		}
	}); postErr != nil {
		return nil, postErr
	}
	return store, err
}

func (p *Pipeline) openStore(dir string) *checksum.Store {
	store := checksum.New(dir, checksum.WithIgnore(p.deps.Ignore))
	stats, err := store.Load()
	if err != nil {
		// Saving continues without dedup history for this directory.
		p.deps.Logger.Error("loading checksum log", "dir", dir, "error", err)
		p.deps.History.LogAction(
			fmt.Sprintf("Could not read checksums in %s, duplicates may be saved: %v", dir, err),
			CategoryAutoSaveImage, LevelError)
		return store
	}
	if stats.Malformed > 0 {
		p.deps.Logger.Warn("skipped malformed checksum lines", "dir", dir, "count", stats.Malformed)
	}
	p.deps.Logger.Debug("checksum log loaded", "dir", dir, "entries", stats.Entries)
	return store
}

func (p *Pipeline) limitBytes() int64 {
	return int64(p.maxSizeMB) * 1024 * 1024
}

// handle runs on the event loop.
func (p *Pipeline) handle(snap Snapshot, out chan<- Outcome) {
	p.recordCopy(snap)

	switch {
	case !p.enabled:
		out <- Outcome{Decision: Ignored, Err: ErrDisabled}
		return
	case p.store == nil:
		out <- Outcome{Decision: Ignored, Err: ErrNoTargetDir}
		return
	case p.rebuilding:
		p.deps.Logger.Debug("event ignored during rebuild")
		out <- Outcome{Decision: Ignored, Err: ErrRebuilding}
		return
	}

	c := Classify(snap)
	switch c.Kind {
	case KindLocalFile:
		out <- p.saveLocal(c.Path)
	case KindInlineImage:
		out <- p.commit("clipboard image", inlineName(c.Image), c.Image)
	case KindRemoteURL:
		p.startFetch(c, out)
	default:
		out <- Outcome{Decision: Ignored, Err: ErrNoMatch}
	}
}

// recordCopy logs every clipboard change in the Copy category.
func (p *Pipeline) recordCopy(snap Snapshot) {
	var tag string
	switch {
	case snap.HasText && snap.HasImage:
		tag = "[Text + Image]"
	case snap.HasText:
		tag = "[Text]"
	case snap.HasImage:
		tag = "[Image]"
	default:
		return
	}

	msg := tag
	if snap.HasText {
		msg += " " + summarize(snap.Text, 80)
	}
	if snap.HasImage {
		msg += fmt.Sprintf(" (image, %s)", humanize.IBytes(uint64(len(snap.Image))))
	}
	p.deps.History.LogAction(msg, CategoryCopy, LevelInfo)
}

func (p *Pipeline) saveLocal(srcPath string) Outcome {
	info, err := os.Stat(srcPath)
	if err != nil {
		return p.fail(srcPath, fmt.Errorf("%w: stat %s: %v", ErrIO, srcPath, err))
	}
	// Reject before reading the whole file.
	if info.Size() > p.limitBytes() {
		return p.tooLarge(srcPath, info.Size())
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return p.fail(srcPath, fmt.Errorf("%w: reading %s: %v", ErrIO, srcPath, err))
	}
	if !fs.IsImageData(data) {
		return p.fail(srcPath, fmt.Errorf("%w: %s", ErrDecodeFailure, srcPath))
	}
	return p.commit(srcPath, filepath.Base(srcPath), data)
}

func (p *Pipeline) startFetch(c Classified, out chan<- Outcome) {
	if p.deps.Fetcher == nil {
		out <- p.fallback(c, fmt.Errorf("%w: no fetcher configured", ErrNetworkFailure))
		return
	}

	// Callbacks arrive on fetch workers and are posted back here. The
	// ticket is registered before this handler returns, so posted
	// callbacks always find it.
	var id string
	id = p.deps.Fetcher.Enqueue(c.URL, fetch.Callbacks{
		OnStart: func() {
			p.post(func() { p.track(func(t Tracker) { t.Connecting(id) }) })
		},
		OnProgress: func(received, total int64) {
			p.post(func() { p.track(func(t Tracker) { t.Progress(id, received, total) }) })
		},
		OnDone: func(res fetch.Result) {
			if !p.post(func() { out <- p.finishFetch(id, c, res) }) {
				out <- Outcome{Decision: Ignored, Source: c.URL, Err: ErrStopped}
			}
		},
	})
	p.track(func(t Tracker) { t.Add(id, c.URL, remoteName(c.URL)) })
	p.deps.Logger.Debug("fetch queued", "ticket", id, "url", c.URL)
}

func (p *Pipeline) track(fn func(Tracker)) {
	if p.deps.Tracker != nil {
		fn(p.deps.Tracker)
	}
}

// finishFetch runs on the event loop once a fetch is terminal.
// A download completing while a rebuild rescans the directory is dropped
// like any other event arriving then.
func (p *Pipeline) finishFetch(id string, c Classified, res fetch.Result) Outcome {
	if p.rebuilding {
		p.track(func(t Tracker) { t.Finish(id, false, "checksum rebuild in progress") })
		p.deps.History.LogAction(
			fmt.Sprintf("Discarded download of %s: checksum rebuild in progress.", c.URL),
			CategoryAutoSaveImage, LevelWarning)
		return Outcome{Decision: Ignored, Source: c.URL, Err: ErrRebuilding}
	}

	var reason error
	switch {
	case res.Err != nil:
		reason = fmt.Errorf("%w: %v", ErrNetworkFailure, res.Err)
	case !isImageHeader(res.Data):
		reason = fmt.Errorf("%w: %s returned %s of non-image data", ErrDecodeFailure, c.URL, humanize.IBytes(uint64(len(res.Data))))
	case int64(len(res.Data)) > p.limitBytes():
		p.track(func(t Tracker) { t.Finish(id, false, "too large") })
		return p.tooLarge(c.URL, int64(len(res.Data)))
	case !fs.IsImageData(res.Data):
		reason = fmt.Errorf("%w: %s returned an undecodable image", ErrDecodeFailure, c.URL)
	}

	if reason != nil {
		p.track(func(t Tracker) { t.Finish(id, false, reason.Error()) })
		p.deps.Logger.Warn("fetch unusable", "ticket", id, "url", c.URL, "error", reason)
		return p.fallback(c, reason)
	}

	p.track(func(t Tracker) { t.Finish(id, true, "downloaded "+humanize.IBytes(uint64(len(res.Data)))) })
	return p.commit(c.URL, remoteFileName(c.URL, res.Data), res.Data)
}

// fallback saves the clipboard image captured alongside a URL whose fetch
// failed or returned something that is not an image.
func (p *Pipeline) fallback(c Classified, reason error) Outcome {
	if len(c.Fallback) == 0 {
		return p.fail(c.URL, reason)
	}
	p.deps.History.LogAction(
		fmt.Sprintf("Download of %s unusable (%v), saving clipboard image instead.", c.URL, reason),
		CategoryAutoSaveImage, LevelWarning)
	return p.commit("clipboard image (fallback for "+c.URL+")", inlineName(c.Fallback), c.Fallback)
}

// commit applies the size and dedup gates, writes the file and appends its
// checksum. The checksum is appended only after the file is in place.
func (p *Pipeline) commit(source, name string, data []byte) Outcome {
	size := int64(len(data))
	if size > p.limitBytes() {
		return p.tooLarge(source, size)
	}

	digest := checksum.SumBytes(data)
	if p.store.Contains(digest) {
		p.deps.History.LogAction(
			fmt.Sprintf("Skipped %s: identical image already saved.", source),
			CategoryAutoSaveImage, LevelInfo)
		return Outcome{Decision: SkippedDuplicate, Source: source, Digest: digest.String(), Size: size, Err: ErrDuplicateContent}
	}

	dest, err := p.writeUnique(p.store.Dir(), p.destName(name), data)
	if err != nil {
		return p.fail(source, fmt.Errorf("%w: %v", ErrIO, err))
	}

	out := Outcome{Decision: Saved, Source: source, Path: dest, Digest: digest.String(), Size: size}
	if err := p.store.Append(filepath.Base(dest), digest); err != nil {
		// The file stays; a later rebuild will pick it up.
		out.Err = fmt.Errorf("%w: recording checksum: %v", ErrIO, err)
		p.deps.Logger.Error("appending checksum", "file", dest, "error", err)
		p.deps.History.LogAction(
			fmt.Sprintf("Saved %s but could not record its checksum: %v", dest, err),
			CategoryAutoSaveImage, LevelError)
	}

	p.deps.History.LogAction(
		fmt.Sprintf("%s -> %s (%s)", source, dest, humanize.IBytes(uint64(size))),
		CategoryAutoSaveImage, LevelInfo)
	p.deps.Logger.Info("image saved", "source", source, "path", dest, "size", size, "digest", digest.String())

	p.mirror(digest, data)
	return out
}

// writeUnique writes data under name in dir, adding "-N" before the
// extension until the name is free.
func (p *Pipeline) writeUnique(dir, name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		dest := filepath.Join(dir, candidate)
		_, err := fs.WriteFileAtomic(dest, bytes.NewReader(data), true)
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("writing %s: %w", dest, err)
		}
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}

// destName prefixes name with a capture timestamp that sorts in capture
// order: YYYYMMDD_HHMMSS_mmm_<name>.
func (p *Pipeline) destName(name string) string {
	now := p.deps.Clock.Now()
	return fmt.Sprintf("%s_%03d_%s", now.Format("20060102_150405"), now.Nanosecond()/int(time.Millisecond), sanitizeName(name))
}

func (p *Pipeline) mirror(digest checksum.Digest, data []byte) {
	if p.deps.Mirror == nil {
		return
	}
	vault, enc, logger := p.deps.Mirror, p.deps.Encryptor, p.deps.Logger

	p.uploads.Add(1)
	go func() {
		defer p.uploads.Done()

		var r io.Reader = bytes.NewReader(data)
		size := int64(len(data))
		if enc != nil {
			var sealed bytes.Buffer
			if err := enc.Encrypt(bytes.NewReader(data), &sealed); err != nil {
				logger.Warn("encrypting mirror copy", "digest", digest.String(), "error", err)
				return
			}
			r, size = &sealed, int64(sealed.Len())
		}
		if err := vault.PutContent(digest.String(), r, size); err != nil {
			logger.Warn("mirroring image", "digest", digest.String(), "error", err)
			return
		}
		logger.Debug("image mirrored", "digest", digest.String(), "size", size)
	}()
}

func (p *Pipeline) tooLarge(source string, size int64) Outcome {
	limit := p.limitBytes()
	p.deps.History.LogAction(
		fmt.Sprintf("Skipped %s: size %s exceeds limit %s.", source, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit))),
		CategoryAutoSaveImage, LevelWarning)
	p.deps.Logger.Warn("image too large", "source", source, "size", size, "limit", limit)
	return Outcome{
		Decision: SkippedTooLarge,
		Source:   source,
		Size:     size,
		Err:      fmt.Errorf("%w: %d > %d bytes", ErrSizeExceeded, size, limit),
	}
}

func (p *Pipeline) fail(source string, err error) Outcome {
	p.deps.History.LogAction(fmt.Sprintf("Failed to save %s: %v", source, err), CategoryAutoSaveImage, LevelError)
	p.deps.Logger.Error("save failed", "source", source, "error", err)
	return Outcome{Decision: Failed, Source: source, Err: err}
}

// isImageHeader sniffs the image format without decoding pixel data.
func isImageHeader(data []byte) bool {
	_, ok := fs.ImageFormat(bytes.NewReader(data))
	return ok
}

func clampSizeMB(mb int) int {
	if mb < MinFileSizeMB {
		return MinFileSizeMB
	}
	if mb > MaxFileSizeMB {
		return MaxFileSizeMB
	}
	return mb
}

// inlineName names clipboard bitmap data after its detected format.
func inlineName(data []byte) string {
	format, _ := fs.ImageFormat(bytes.NewReader(data))
	return "clipboard" + fs.Extension(format)
}

// remoteName is the last path segment of rawURL, or "download".
func remoteName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "download"
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return base
}

// remoteFileName is remoteName with the detected extension appended when
// the URL does not carry one.
func remoteFileName(rawURL string, data []byte) string {
	name := remoteName(rawURL)
	if filepath.Ext(name) == "" {
		format, _ := fs.ImageFormat(bytes.NewReader(data))
		name += fs.Extension(format)
	}
	return name
}

// sanitizeName makes name safe as a single path element and as a
// checksum log entry.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}

// summarize collapses whitespace and truncates s to max runes.
func summarize(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
