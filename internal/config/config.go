package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"clipsave/internal/autosave"
	"clipsave/internal/fs"
)

const (
	// MaxRecentDirs caps the most-recently-used target directory list.
	MaxRecentDirs = 10

	DefaultMaxConcurrent  = 1
	DefaultTimeoutSeconds = 60
	DefaultMaxEntries     = 50
	DefaultPollIntervalMS = 500
)

// Config represents the main configuration for clipsave.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Autosave   AutosaveConfig   `toml:"autosave"`
	Fetch      FetchConfig      `toml:"fetch"`
	History    HistoryConfig    `toml:"history"`
	Mirror     MirrorConfig     `toml:"mirror"`
	Encryption EncryptionConfig `toml:"encryption"`
	Clipboard  ClipboardConfig  `toml:"clipboard"`
}

// AutosaveConfig controls which images are saved and where.
type AutosaveConfig struct {
	Enabled       bool     `toml:"enabled"`
	TargetDir     string   `toml:"target_dir"`
	RecentDirs    []string `toml:"recent_dirs"`
	MaxFileSizeMB int      `toml:"max_file_size_mb"`
	// Ignore holds extra glob patterns skipped by checksum rebuilds.
	Ignore []string `toml:"ignore"`
	// AutoClean drops checksum entries when saved files are deleted
	// while `clipsave watch` runs.
	AutoClean bool `toml:"auto_clean"`
}

type FetchConfig struct {
	MaxConcurrent  int    `toml:"max_concurrent"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent,omitempty"`
}

// HistoryConfig uses a tagged union: Type decides which fields matter.
type HistoryConfig struct {
	Type       string `toml:"type"`               // "sqlite" or "memory"
	DataDir    string `toml:"data_dir,omitempty"` // only used for type=sqlite
	MaxEntries int    `toml:"max_entries"`
}

// MirrorConfig describes the optional offsite copy of every saved image.
// An empty Type disables mirroring.
type MirrorConfig struct {
	Type string `toml:"type"` // "", "memory", "filesystem" or "s3"
	Name string `toml:"name,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Encrypt seals mirrored copies with the configured encryptor.
	Encrypt bool `toml:"encrypt"`
}

// EncryptionConfig holds paths to the age key pair used for mirror copies.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

type ClipboardConfig struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
}

// NewConfig returns a Config with every default filled in under baseDir.
func NewConfig(baseDir string) *Config {
	cfg := &Config{BaseDir: baseDir}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued settings. Files written by older
// versions may lack whole sections.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Autosave.MaxFileSizeMB == 0 {
		c.Autosave.MaxFileSizeMB = autosave.DefaultFileSizeMB
	}
	if c.Fetch.MaxConcurrent == 0 {
		c.Fetch.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Fetch.TimeoutSeconds == 0 {
		c.Fetch.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.History.Type == "" {
		c.History.Type = "sqlite"
	}
	if c.History.Type == "sqlite" && c.History.DataDir == "" && c.BaseDir != "" {
		c.History.DataDir = filepath.Join(c.BaseDir, "db")
	}
	if c.History.MaxEntries == 0 {
		c.History.MaxEntries = DefaultMaxEntries
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
	if c.Encryption.PublicKeyPath == "" && c.BaseDir != "" {
		c.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "keys", "clipsave.pub")
	}
	if c.Encryption.PrivateKeyPath == "" && c.BaseDir != "" {
		c.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "keys", "clipsave.key")
	}
	if c.Clipboard.PollIntervalMS == 0 {
		c.Clipboard.PollIntervalMS = DefaultPollIntervalMS
	}
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if mb := c.Autosave.MaxFileSizeMB; mb < autosave.MinFileSizeMB || mb > autosave.MaxFileSizeMB {
		errs = append(errs, fmt.Errorf("autosave.max_file_size_mb must be in [%d, %d], got %d",
			autosave.MinFileSizeMB, autosave.MaxFileSizeMB, mb))
	}
	if c.Autosave.TargetDir != "" && !filepath.IsAbs(c.Autosave.TargetDir) {
		errs = append(errs, fmt.Errorf("autosave.target_dir must be absolute: %s", c.Autosave.TargetDir))
	}
	if err := fs.ValidateIgnorePatterns(c.Autosave.Ignore); err != nil {
		errs = append(errs, fmt.Errorf("autosave.ignore: %w", err))
	}
	if c.Fetch.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_concurrent must be at least 1, got %d", c.Fetch.MaxConcurrent))
	}
	if c.Fetch.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("fetch.timeout_seconds must be at least 1, got %d", c.Fetch.TimeoutSeconds))
	}
	switch c.History.Type {
	case "memory":
	case "sqlite":
		if c.History.DataDir == "" {
			errs = append(errs, errors.New("history.data_dir required for sqlite history"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.type must be sqlite or memory, got %q", c.History.Type))
	}
	if c.History.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("history.max_entries must be at least 1, got %d", c.History.MaxEntries))
	}
	switch c.Mirror.Type {
	case "", "memory":
	case "filesystem":
		if c.Mirror.FSRoot == "" {
			errs = append(errs, errors.New("mirror.fs_root required for filesystem mirror"))
		}
	case "s3":
		if c.Mirror.S3Bucket == "" {
			errs = append(errs, errors.New("mirror.s3_bucket required for s3 mirror"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mirror.type %q", c.Mirror.Type))
	}
	if c.Clipboard.PollIntervalMS < 50 {
		errs = append(errs, fmt.Errorf("clipboard.poll_interval_ms must be at least 50, got %d", c.Clipboard.PollIntervalMS))
	}
	return errors.Join(errs...)
}

// SetTargetDir makes dir the target and moves it to the front of the
// recent list.
func (c *Config) SetTargetDir(dir string) {
	c.Autosave.TargetDir = dir
	c.AddRecentDir(dir)
}

// AddRecentDir records dir as most recently used, dropping duplicates and
// the oldest entries past MaxRecentDirs.
func (c *Config) AddRecentDir(dir string) {
	recent := []string{dir}
	for _, d := range c.Autosave.RecentDirs {
		if d != dir {
			recent = append(recent, d)
		}
	}
	if len(recent) > MaxRecentDirs {
		recent = recent[:MaxRecentDirs]
	}
	c.Autosave.RecentDirs = recent
}

func (c *Config) ClearRecentDirs() {
	c.Autosave.RecentDirs = nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r and fills defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Save replaces the file at path with cfg. Readers never see a partial file.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if _, err := fs.WriteFileAtomic(path, &buf, false); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path, refusing to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
