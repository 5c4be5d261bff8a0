package autosave

import "io"

// Vault is an offsite mirror of saved images, keyed by content digest.
type Vault interface {
	// PutContent stores content under its digest. Storing the same digest
	// twice is safe. size is the number of bytes that will be read from r.
	PutContent(digest string, r io.Reader, size int64) error

	// GetContent writes the content stored under digest to w.
	GetContent(digest string, w io.Writer) error

	// ValidateSetup verifies the vault is reachable and configured.
	ValidateSetup() error
}
