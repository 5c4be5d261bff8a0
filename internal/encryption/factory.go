package encryption

import (
	"fmt"

	"clipsave/internal/autosave"
	"clipsave/internal/config"
)

// NewEncryptorFromConfig returns the encryptor named by cfg.Type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (autosave.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
