package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the global ~/.msgdb/config.toml.
type Config struct {
	DefaultProfile string         `toml:"default_profile"`
	Store          StoreConfig    `toml:"store"`
	Receipts       ReceiptsConfig `toml:"receipts"`
	Expiring       ExpiringConfig `toml:"expiring"`
	Log            LogConfig      `toml:"log"`
}

type StoreConfig struct {
	BusyTimeoutMS int `toml:"busy_timeout_ms"`
	// SelfRecipientID is the local user's recipient id; receipts and read
	// syncs authored by self only match when it is set.
	SelfRecipientID int64 `toml:"self_recipient_id"`
	// PersistentRecipients keep their thread when its last message is deleted.
	PersistentRecipients []int64 `toml:"persistent_recipients"`
}

type ReceiptsConfig struct {
	EarlyCacheSize int      `toml:"early_cache_size"`
	EarlyCacheTTL  Duration `toml:"early_cache_ttl"`
}

type ExpiringConfig struct {
	SweepInterval Duration `toml:"sweep_interval"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration decodes TOML strings such as "10m" into a time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Store:          StoreConfig{BusyTimeoutMS: 5000},
		Receipts: ReceiptsConfig{
			EarlyCacheSize: 1000,
			EarlyCacheTTL:  Duration{10 * time.Minute},
		},
		Expiring: ExpiringConfig{SweepInterval: Duration{time.Second}},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads config from path on top of Default. Keys absent from the file
// keep their defaults. A missing file is an error; use LoadOrDefault to
// tolerate it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
