package vault

import (
	"context"
	"fmt"

	"clipsave/internal/autosave"
	"clipsave/internal/config"
)

// NewVaultFromConfig creates the mirror backend named by cfg.Type.
// An empty type disables mirroring and returns a nil Vault.
func NewVaultFromConfig(ctx context.Context, cfg config.MirrorConfig) (autosave.Vault, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem mirror requires fs_root to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "s3":
		v, err := NewS3Vault(ctx, cfg.Name, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown mirror type: %q", cfg.Type)
	}
}
