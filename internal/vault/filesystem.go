package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"clipsave/internal/autosave"
	"clipsave/internal/fs"
)

// FileSystemVault mirrors content into a local directory, fanned out by
// the first two hex characters of the digest:
//
//	<root>/
//	  content/
//	    ab/
//	      ab12...ef
type FileSystemVault struct {
	name       string
	root       string
	contentDir string
}

// NewFileSystemVault creates the vault layout under root if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating content directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root, contentDir: contentDir}, nil
}

func (v *FileSystemVault) pathFor(digest string) string {
	return filepath.Join(v.contentDir, digest[:2], digest)
}

// PutContent stores content under digest. Existing content is kept and the
// reader is drained.
func (v *FileSystemVault) PutContent(digest string, r io.Reader, size int64) error {
	if err := validKey(digest); err != nil {
		return err
	}
	dest := v.pathFor(digest)

	if _, err := os.Stat(dest); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("reading content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating fan-out directory: %w", err)
	}

	written, err := fs.WriteFileAtomic(dest, r, false)
	if err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	if written != size {
		os.Remove(dest)
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	return nil
}

// GetContent writes the content stored under digest to w.
func (v *FileSystemVault) GetContent(digest string, w io.Writer) error {
	if err := validKey(digest); err != nil {
		return err
	}

	f, err := os.Open(v.pathFor(digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, digest)
		}
		return fmt.Errorf("opening content: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	return nil
}

// ValidateSetup checks that the vault directories exist.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.contentDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

var _ autosave.Vault = (*FileSystemVault)(nil)
