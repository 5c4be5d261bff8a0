package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"clipsave/internal/autosave"
)

// MemoryVault keeps mirrored content in memory. Used for tests and for
// dry runs with `[mirror] type = "memory"`.
type MemoryVault struct {
	name    string
	mu      sync.RWMutex
	content map[string][]byte
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		content: make(map[string][]byte),
	}
}

// PutContent stores content under digest. Re-storing a digest replaces it.
func (m *MemoryVault) PutContent(digest string, r io.Reader, size int64) error {
	if err := validKey(digest); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[digest] = data
	return nil
}

// GetContent writes the content stored under digest to w.
func (m *MemoryVault) GetContent(digest string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[digest]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	return nil
}

// Has reports whether digest is stored.
func (m *MemoryVault) Has(digest string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[digest]
	return ok
}

// Len returns the number of stored items.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

func (m *MemoryVault) ValidateSetup() error { return nil }

var _ autosave.Vault = (*MemoryVault)(nil)
