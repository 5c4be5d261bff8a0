// Package vault holds mirror backends for saved images. Every backend keys
// content by the image's hex digest.
package vault

import (
	"errors"
	"fmt"

	"clipsave/internal/checksum"
)

// ErrNotFound is returned by GetContent for an unknown digest.
var ErrNotFound = errors.New("content not found")

// validKey rejects anything that is not a hex digest, so keys can be used
// as file names and object keys without escaping.
func validKey(digest string) error {
	if _, err := checksum.ParseDigest(digest); err != nil {
		return fmt.Errorf("invalid content key %q: %w", digest, err)
	}
	return nil
}
