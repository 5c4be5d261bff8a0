package autosave

import "io"

// Encryptor seals mirrored images before upload. Encryption needs only the
// public key; decryption needs the passphrase-protected private key.
type Encryptor interface {
	// Setup generates a key pair and stores the private key encrypted with
	// passphrase. Called by `clipsave keys init`.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context for the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
