package checksum

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"clipsave/internal/fs"
)

var (
	// ErrIO wraps failures to read or write the checksum log.
	ErrIO = errors.New("checksum log i/o")

	// ErrClosed is returned by mutations on a store that has been closed.
	ErrClosed = errors.New("checksum store closed")

	// ErrInvalidName is returned when a file name cannot be stored in the log.
	ErrInvalidName = errors.New("invalid file name for checksum log")
)

// LoadStats describes the result of reading the log.
type LoadStats struct {
	Entries   int
	Malformed int
}

// CleanReport describes the result of a clean.
type CleanReport struct {
	Removed    int
	Kept       int
	LogMissing bool
}

// RebuildReport describes the result of a completed rebuild.
type RebuildReport struct {
	Scanned int // files considered, excluding the log and ignored names
	Images  int // files recorded in the new log
	Elapsed time.Duration
}

// ProgressFunc receives (processed, total) after each file during a rebuild.
type ProgressFunc func(processed, total int)

// Store is the dedup index for one target directory: an in-memory set of
// digests mirrored by the append-only checksums.txt log.
//
// Mutations (Append, Clean, Rebuild) are serialised by writeMu. Readers of
// the index take indexMu and always observe the last committed set.
type Store struct {
	dir     string
	logPath string
	ignore  *fs.IgnoreMatcher
	isImage func(path string) bool

	writeMu sync.Mutex
	closed  bool

	indexMu sync.RWMutex
	index   map[Digest]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithIgnore skips names matched by m during rebuild.
func WithIgnore(m *fs.IgnoreMatcher) Option {
	return func(s *Store) { s.ignore = m }
}

// WithImageDetector replaces the image check used by rebuild.
func WithImageDetector(fn func(path string) bool) Option {
	return func(s *Store) { s.isImage = fn }
}

// New creates a store bound to dir with an empty index. Call Load to read
// the existing log.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:     dir,
		logPath: filepath.Join(dir, LogFileName),
		ignore:  fs.NewIgnoreMatcher(nil),
		isImage: fs.IsImageFile,
		index:   make(map[Digest]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the target directory the store is bound to.
func (s *Store) Dir() string { return s.dir }

// LogPath returns the path of checksums.txt.
func (s *Store) LogPath() string { return s.logPath }

// Load replaces the index with the digests in the log. A missing log yields
// an empty index and no error. If the log exists but cannot be read, the
// index is left empty and an error wrapping ErrIO is returned; the store
// stays usable, so saves continue without dedup history.
func (s *Store) Load() (LoadStats, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return LoadStats{}, ErrClosed
	}

	entries, malformed, err := s.readLog()
	if err != nil {
		s.setIndex(nil)
		if errors.Is(err, os.ErrNotExist) {
			return LoadStats{}, nil
		}
		return LoadStats{}, err
	}

	s.setIndex(entries)
	return LoadStats{Entries: len(entries), Malformed: malformed}, nil
}

// Contains reports whether d is in the index.
func (s *Store) Contains(d Digest) bool {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	_, ok := s.index[d]
	return ok
}

// Len returns the number of distinct digests in the index.
func (s *Store) Len() int {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return len(s.index)
}

// Append records that fileName holds content d. The log line is written
// before the index is updated; if the write fails the index is unchanged.
func (s *Store) Append(fileName string, d Digest) error {
	if !validName(fileName) {
		return fmt.Errorf("%w: %q", ErrInvalidName, fileName)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := appendEntry(s.logPath, Entry{FileName: fileName, Digest: d}); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	s.indexMu.Lock()
	s.index[d] = struct{}{}
	s.indexMu.Unlock()
	return nil
}

// Clean drops log entries whose file no longer exists in the directory,
// rewrites the log with the survivors and resets the index to them.
// A missing log is reported via CleanReport.LogMissing, not as an error.
func (s *Store) Clean() (CleanReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return CleanReport{}, ErrClosed
	}

	entries, _, err := s.readLog()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CleanReport{LogMissing: true}, nil
		}
		return CleanReport{}, err
	}

	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(s.dir, e.FileName))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		kept = append(kept, e)
	}

	report := CleanReport{Removed: len(entries) - len(kept), Kept: len(kept)}
	if report.Removed == 0 {
		// The log already matches the disk; only resync the index.
		s.setIndex(kept)
		return report, nil
	}

	if err := writeEntries(s.logPath, kept); err != nil {
		return CleanReport{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.setIndex(kept)
	return report, nil
}

// Rebuild rescans the directory, hashes every file recognised as an image
// and replaces the log and index with exactly those entries.
//
// ctx is checked between files. On cancellation Rebuild returns ctx.Err()
// and neither the log nor the index is modified.
func (s *Store) Rebuild(ctx context.Context, progress ProgressFunc) (RebuildReport, error) {
	start := time.Now()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return RebuildReport{}, ErrClosed
	}

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return RebuildReport{}, fmt.Errorf("%w: reading directory: %v", ErrIO, err)
	}

	var names []string
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		name := de.Name()
		if name == LogFileName || s.ignore.Match(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	total := len(names)
	entries := make([]Entry, 0, total)
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return RebuildReport{}, err
		}

		path := filepath.Join(s.dir, name)
		if validName(name) && s.isImage(path) {
			d, err := SumFile(path)
			if err == nil {
				entries = append(entries, Entry{FileName: name, Digest: d})
			}
		}

		if progress != nil {
			progress(i+1, total)
		}
	}

	// Last chance to back out before anything is committed.
	if err := ctx.Err(); err != nil {
		return RebuildReport{}, err
	}

	if err := writeEntries(s.logPath, entries); err != nil {
		return RebuildReport{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.setIndex(entries)

	return RebuildReport{
		Scanned: total,
		Images:  len(entries),
		Elapsed: time.Since(start),
	}, nil
}

// Entries returns the current log content.
func (s *Store) Entries() ([]Entry, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	entries, _, err := s.readLog()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// Close waits for any in-flight mutation and makes further mutations fail
// with ErrClosed. Contains keeps answering from the last committed index.
func (s *Store) Close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.closed = true
}

// readLog reads every entry from the log. A missing log is returned as an
// error satisfying errors.Is(err, os.ErrNotExist).
func (s *Store) readLog() ([]Entry, int, error) {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: opening %s: %v", ErrIO, s.logPath, err)
	}
	defer f.Close()

	entries, malformed, err := readEntries(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return entries, malformed, nil
}

// setIndex replaces the index with the digests of entries.
func (s *Store) setIndex(entries []Entry) {
	index := make(map[Digest]struct{}, len(entries))
	for _, e := range entries {
		index[e.Digest] = struct{}{}
	}
	s.indexMu.Lock()
	s.index = index
	s.indexMu.Unlock()
}
