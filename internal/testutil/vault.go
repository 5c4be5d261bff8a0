package testutil

import "clipsave/internal/vault"

// NewTestVault returns an empty in-memory mirror.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-mirror")
}
