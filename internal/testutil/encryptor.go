package testutil

import "clipsave/internal/encryption"

func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
