package fs

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	// Registered decoders. The set of formats recognised here is the set of
	// files the checksum rebuild and the classifier treat as images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// sniffLimit bounds how much of a file is read to detect its image format.
const sniffLimit = 64 * 1024

// ImageFormat reports the registered image format of the data read from r.
// Only the header is decoded; ok is false if no decoder recognises it.
func ImageFormat(r io.Reader) (format string, ok bool) {
	cfg, format, err := image.DecodeConfig(io.LimitReader(r, sniffLimit))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return "", false
	}
	return format, true
}

// IsImageData reports whether data is a complete, decodable image.
// Unlike ImageFormat, this decodes the whole payload so that truncated
// downloads are rejected.
func IsImageData(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	_, _, err := image.Decode(bytes.NewReader(data))
	return err == nil
}

// Extension returns the conventional file extension for a format name
// as reported by ImageFormat.
func Extension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "":
		return ".img"
	default:
		return "." + format
	}
}

// IsImageFile reports whether the file at path has a recognised image header.
func IsImageFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, ok := ImageFormat(f)
	return ok
}

// LocalPath converts text that names a local file into a filesystem path.
// file:// URLs are converted; anything else is returned trimmed.
func LocalPath(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "file://") {
		if u, err := url.Parse(text); err == nil && u.Path != "" {
			return filepath.FromSlash(u.Path)
		}
	}
	return text
}

// ResolveFile validates a raw path and returns its absolute form and file info.
// Only regular files are accepted.
func ResolveFile(rawPath string) (string, os.FileInfo, error) {
	if rawPath == "" {
		return "", nil, fmt.Errorf("empty path")
	}

	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	if info.IsDir() {
		return "", nil, fmt.Errorf("path is a directory: %s", absPath)
	}
	if mode&os.ModeDevice != 0 {
		return "", nil, fmt.Errorf("device files not supported: %s", absPath)
	}
	if mode&os.ModeNamedPipe != 0 {
		return "", nil, fmt.Errorf("named pipes not supported: %s", absPath)
	}
	if mode&os.ModeSocket != 0 {
		return "", nil, fmt.Errorf("sockets not supported: %s", absPath)
	}
	if !mode.IsRegular() {
		return "", nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	return absPath, info, nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// WriteFileAtomic writes data to destPath using a temp file in the same
// directory followed by a rename. With exclusive set, an existing destPath
// is an error (os.ErrExist) and is never replaced.
func WriteFileAtomic(destPath string, r io.Reader, exclusive bool) (int64, error) {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if exclusive {
		// Link fails if destPath exists, which rename would silently overwrite.
		// The temp name is removed by the deferred cleanup.
		err := os.Link(tmpPath, destPath)
		if err == nil {
			return written, nil
		}
		if os.IsExist(err) {
			return 0, os.ErrExist
		}
		// Filesystems without hard links: fall back to check-then-rename.
		if _, statErr := os.Lstat(destPath); statErr == nil {
			return 0, os.ErrExist
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}
