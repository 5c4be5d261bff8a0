package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest is the 128-bit MD5 fingerprint of a file's content.
// It detects accidental duplicates only; it is not a security boundary.
type Digest [md5.Size]byte

// digestHexLen is the length of a Digest rendered as hex.
const digestHexLen = md5.Size * 2

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest parses a 32-character hex string (either case).
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != digestHexLen {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", digestHexLen, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("decoding digest: %w", err)
	}
	return d, nil
}

// Sum computes the digest of everything read from r.
func Sum(r io.Reader) (Digest, error) {
	var d Digest
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return d, err
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// SumBytes computes the digest of data.
func SumBytes(data []byte) Digest {
	return Digest(md5.Sum(data))
}

// SumFile computes the digest of the file at path.
func SumFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	return Sum(f)
}
