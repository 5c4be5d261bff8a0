package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"clipsave/internal/autosave"
	"clipsave/internal/checksum"
	"clipsave/internal/clipboard"
	"clipsave/internal/config"
	"clipsave/internal/database"
	"clipsave/internal/encryption"
	"clipsave/internal/fetch"
	"clipsave/internal/fs"
	"clipsave/internal/history"
	"clipsave/internal/progress"
	"clipsave/internal/vault"
	"clipsave/internal/watcher"
)

// ErrNoMirror is returned by mirror operations when none is configured.
var ErrNoMirror = errors.New("no mirror configured")

// Options carries what the CLI decides rather than the config file.
type Options struct {
	ConfigPath string
	Operation  string
	Verbose    bool
	// Notifier renders download progress; nil means none.
	Notifier progress.Notifier
	// TicketExpiry overrides how long finished downloads stay listed.
	TicketExpiry time.Duration
	// HTTPClient defaults to a client with the configured timeout.
	HTTPClient fetch.Doer
	Clipboard  clipboard.Reader
	Clock      autosave.Clock
}

// App is the application layer between the CLI and the pipeline. It
// constructs all dependencies from config, exposes operations that accept
// raw CLI input and persists setting changes back to the config file.
type App struct {
	cfg        *config.Config
	configPath string
	op         *Operation
	clock      autosave.Clock

	logger  *slog.Logger
	logFile *os.File

	history   *history.Recorder
	queue     *fetch.Queue
	tracker   *progress.Tracker
	mirror    autosave.Vault
	encryptor autosave.Encryptor
	clip      clipboard.Reader
	pipeline  *autosave.Pipeline

	cancel  context.CancelFunc
	runDone chan struct{}
}

// New creates a fully wired App and starts its pipeline. The caller must
// call Close when done.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = autosave.RealClock{}
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.System{}
	}

	op := NewOperation(opts.Operation, opts.Clock.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &App{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		op:         op,
		clock:      opts.Clock,
		logger:     logger,
		logFile:    logFile,
		clip:       opts.Clipboard,
	}

	store, err := database.NewHistoryStoreFromConfig(cfg.History)
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("creating history store: %w", err)
	}
	a.history = history.NewRecorder(store, history.Options{
		MaxEntries: cfg.History.MaxEntries,
		Clock:      opts.Clock,
		Logger:     log,
	})

	a.mirror, err = vault.NewVaultFromConfig(context.Background(), cfg.Mirror)
	if err != nil {
		a.history.Close()
		a.closeLog()
		return nil, fmt.Errorf("creating mirror: %w", err)
	}
	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		a.history.Close()
		a.closeLog()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	timeout := time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient(timeout)
	}
	a.queue = fetch.New(opts.HTTPClient, fetch.Options{
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		Timeout:       timeout,
		UserAgent:     cfg.Fetch.UserAgent,
		MaxBytes:      int64(autosave.MaxFileSizeMB) << 20,
	})
	var trackerOpts []progress.Option
	if opts.TicketExpiry > 0 {
		trackerOpts = append(trackerOpts, progress.WithExpiry(opts.TicketExpiry, opts.TicketExpiry))
	}
	a.tracker = progress.New(opts.Notifier, trackerOpts...)

	deps := autosave.Deps{
		Fetcher: a.queue,
		Tracker: a.tracker,
		History: a.history,
		Logger:  log,
		Clock:   opts.Clock,
		Ignore:  fs.NewIgnoreMatcher(cfg.Autosave.Ignore),
	}
	if a.mirror != nil {
		deps.Mirror = a.mirror
		if cfg.Mirror.Encrypt {
			deps.Encryptor = a.encryptor
		}
	}
	a.pipeline = autosave.NewPipeline(deps, autosave.Settings{
		Enabled:   cfg.Autosave.Enabled,
		TargetDir: cfg.Autosave.TargetDir,
		MaxSizeMB: cfg.Autosave.MaxFileSizeMB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.runDone = make(chan struct{})
	go func() {
		defer close(a.runDone)
		a.pipeline.Run(ctx)
	}()

	logger.Debug("operation started", "operation", op.Name, "target_dir", cfg.Autosave.TargetDir)
	return a, nil
}

// Config returns the live configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Tracker exposes download tickets to the CLI.
func (a *App) Tracker() *progress.Tracker { return a.tracker }

// Ingest runs one snapshot through the pipeline and waits for its outcome.
func (a *App) Ingest(ctx context.Context, snap autosave.Snapshot) (autosave.Outcome, error) {
	select {
	case o := <-a.pipeline.Ingest(snap):
		a.logOutcome(o)
		return o, nil
	case <-ctx.Done():
		return autosave.Outcome{}, ctx.Err()
	}
}

func (a *App) logOutcome(o autosave.Outcome) {
	attrs := []any{"decision", o.Decision.String(), "source", o.Source}
	if o.Path != "" {
		attrs = append(attrs, "path", o.Path, "digest", o.Digest, "size", o.Size)
	}
	if o.Err != nil {
		attrs = append(attrs, "error", o.Err)
	}
	a.logger.Info("clipboard processed", attrs...)
}

// SetEnabled switches saving on or off and persists the choice.
func (a *App) SetEnabled(enabled bool) error {
	if err := a.pipeline.SetEnabled(enabled); err != nil {
		return err
	}
	a.cfg.Autosave.Enabled = enabled
	return a.saveConfig()
}

// SetMaxSizeMB changes the size limit and persists it.
func (a *App) SetMaxSizeMB(mb int) error {
	if err := a.pipeline.SetMaxSizeMB(mb); err != nil {
		return err
	}
	a.cfg.Autosave.MaxFileSizeMB = mb
	return a.saveConfig()
}

// SetTargetDir resolves rawPath, creating the directory if needed, binds
// the pipeline to it and records it as most recently used.
func (a *App) SetTargetDir(rawPath string) (string, error) {
	dir, err := filepath.Abs(fs.LocalPath(rawPath))
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating target directory: %w", err)
	}
	if err := a.pipeline.SetTargetDir(dir); err != nil {
		return "", err
	}
	a.cfg.SetTargetDir(dir)
	return dir, a.saveConfig()
}

// RecentDirs returns previously used target directories, newest first.
func (a *App) RecentDirs() []string {
	return append([]string(nil), a.cfg.Autosave.RecentDirs...)
}

func (a *App) ClearRecentDirs() error {
	a.cfg.ClearRecentDirs()
	return a.saveConfig()
}

func (a *App) Clean() (checksum.CleanReport, error) {
	return a.pipeline.Clean()
}

func (a *App) Rebuild(ctx context.Context, fn checksum.ProgressFunc) (checksum.RebuildReport, error) {
	return a.pipeline.Rebuild(ctx, fn)
}

// History returns up to limit entries, newest first.
func (a *App) History(ctx context.Context, limit int) ([]autosave.Event, error) {
	return a.history.Recent(ctx, limit)
}

func (a *App) ClearHistory(ctx context.Context) error {
	return a.history.Clear(ctx)
}

// Watch polls the clipboard and ingests every change until ctx is done.
// With auto_clean set, deletions in the target directory trigger a clean.
// onOutcome, if set, is called for each processed snapshot.
func (a *App) Watch(ctx context.Context, onOutcome func(autosave.Outcome)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.ClearFinishedDownloads()

	if dir := a.pipeline.TargetDir(); a.cfg.Autosave.AutoClean && dir != "" {
		w, err := watcher.New(dir, watcher.DefaultDelay, a.autoClean, &slogAdapter{l: a.logger})
		if err != nil {
			return fmt.Errorf("watching target directory: %w", err)
		}
		go w.Run(ctx)
	}

	interval := time.Duration(a.cfg.Clipboard.PollIntervalMS) * time.Millisecond
	poller := clipboard.NewPoller(a.clip, interval, &slogAdapter{l: a.logger})
	return poller.Run(ctx, func(snap autosave.Snapshot) {
		out := a.pipeline.Ingest(snap)
		go func() {
			o := <-out
			a.logOutcome(o)
			if onOutcome != nil {
				onOutcome(o)
			}
		}()
	})
}

// ClearFinishedDownloads drops every finished or failed download ticket
// and closes its notification.
func (a *App) ClearFinishedDownloads() int {
	n := a.tracker.ClearFinished()
	if n > 0 {
		a.logger.Debug("cleared finished downloads", "count", n)
	}
	return n
}

func (a *App) autoClean() {
	report, err := a.pipeline.Clean()
	if err != nil {
		a.logger.Warn("automatic clean failed", "error", err)
		return
	}
	a.logger.Debug("automatic clean", "removed", report.Removed, "kept", report.Kept)
}

// SetupKeys generates the encryption key pair used for mirror copies.
func (a *App) SetupKeys(passphrase string) error {
	return a.encryptor.Setup(passphrase)
}

// MirrorEncrypted reports whether restores need a passphrase.
func (a *App) MirrorEncrypted() bool {
	return a.cfg.Mirror.Encrypt
}

// RestoreFromMirror writes the mirrored image with the given digest to
// dest. dest must not exist. passphrase is only used for encrypted mirrors.
func (a *App) RestoreFromMirror(digest, dest, passphrase string) error {
	if a.mirror == nil {
		return ErrNoMirror
	}
	if _, err := checksum.ParseDigest(digest); err != nil {
		return fmt.Errorf("invalid digest: %w", err)
	}

	var stored bytes.Buffer
	if err := a.mirror.GetContent(digest, &stored); err != nil {
		return fmt.Errorf("fetching %s from mirror: %w", digest, err)
	}

	data := &stored
	if a.cfg.Mirror.Encrypt {
		dc, err := a.encryptor.Unlock(passphrase)
		if err != nil {
			return err
		}
		var plain bytes.Buffer
		if err := dc.Decrypt(&stored, &plain); err != nil {
			return err
		}
		data = &plain
	}

	if got := checksum.SumBytes(data.Bytes()).String(); got != digest {
		return fmt.Errorf("mirror content for %s hashes to %s", digest, got)
	}

	dest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolving destination: %w", err)
	}
	if _, err := fs.WriteFileAtomic(dest, data, true); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	a.logger.Info("restored from mirror", "digest", digest, "dest", dest)
	return nil
}

// Fail marks the current operation as failed in the closing log line.
func (a *App) Fail() {
	a.op.Fail()
}

// Close stops the pipeline and releases every resource. Pending history
// entries are flushed first.
func (a *App) Close() error {
	var firstErr error

	a.pipeline.Close()
	a.cancel()
	<-a.runDone
	a.queue.Close()

	if err := a.history.Close(); err != nil {
		firstErr = fmt.Errorf("closing history: %w", err)
	}

	a.logger.Debug("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"elapsed", a.op.Elapsed(a.clock.Now()).String())
	a.closeLog()
	return firstErr
}

func (a *App) saveConfig() error {
	if a.configPath == "" {
		return nil
	}
	if err := config.Save(a.configPath, a.cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

func (a *App) closeLog() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}
