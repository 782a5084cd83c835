package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of an icon pack build.
type Config struct {
	// Template is the path of the template APK.
	Template string `yaml:"template" env:"TEMPLATE"`
	// Keystore is the PKCS#12 keystore used for signing.
	Keystore string `yaml:"keystore" env:"KEYSTORE"`
	// KeystorePassword is read from the environment only and never persisted.
	KeystorePassword string `yaml:"-" env:"KEYSTORE_PASSWORD"`
	// OutputDir receives the signed APK.
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// AppName prefixes the output file name.
	AppName string `yaml:"app_name" env:"APP_NAME"`
	// Catalog is an optional YAML package catalog.
	Catalog string `yaml:"catalog,omitempty" env:"CATALOG"`
	// ScratchDir holds per-export working directories; empty means the OS temp dir.
	ScratchDir string `yaml:"scratch_dir,omitempty" env:"SCRATCH_DIR"`

	MaxIcons        int     `yaml:"max_icons" env:"MAX_ICONS"`
	IconSize        int     `yaml:"icon_size" env:"ICON_SIZE"`
	ScaleFactor     float64 `yaml:"scale_factor,omitempty" env:"SCALE_FACTOR"`
	Alignment       int     `yaml:"alignment" env:"ALIGNMENT"`
	MinOutputSize   int64   `yaml:"min_output_size" env:"MIN_OUTPUT_SIZE"`
	WriteUnfiltered bool    `yaml:"write_unfiltered" env:"WRITE_UNFILTERED"`
	LogLevel        string  `yaml:"log_level" env:"LOG_LEVEL"`
}

const (
	// DefaultConfigFilename is looked up in the working directory when no path is given.
	DefaultConfigFilename = "iconpack.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ICONPACK_"

	DefaultOutputDir     = "."
	DefaultAppName       = "IconPack"
	DefaultMaxIcons      = 2000
	DefaultIconSize      = 192
	DefaultAlignment     = 4
	DefaultMinOutputSize = 100 * 1024
	DefaultLogLevel      = "info"

	// DefaultFilePermissions is used by Save.
	DefaultFilePermissions = 0o600
)

var errConfigIsNotSet = errors.New("configuration is not set")

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path loads DefaultConfigFilename if it
// exists and falls back to defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any ICONPACK_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes cfg to path. The keystore password is never written.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}
	if path == "" {
		path = DefaultConfigFilename
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Validate fills unset fields with defaults and rejects out-of-range values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}
	applyDefaults(cfg)

	if cfg.MaxIcons < 0 {
		return fmt.Errorf("max_icons must not be negative: %d", cfg.MaxIcons)
	}
	if cfg.IconSize < 16 || cfg.IconSize > 1024 {
		return fmt.Errorf("icon_size out of range 16..1024: %d", cfg.IconSize)
	}
	if cfg.Alignment&(cfg.Alignment-1) != 0 {
		return fmt.Errorf("alignment must be a power of two: %d", cfg.Alignment)
	}
	if cfg.ScaleFactor < 0 || cfg.ScaleFactor > 1 {
		return fmt.Errorf("scale_factor out of range 0..1: %g", cfg.ScaleFactor)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.MaxIcons == 0 {
		cfg.MaxIcons = DefaultMaxIcons
	}
	if cfg.IconSize == 0 {
		cfg.IconSize = DefaultIconSize
	}
	if cfg.Alignment <= 0 {
		cfg.Alignment = DefaultAlignment
	}
	// negative disables the output size check
	if cfg.MinOutputSize == 0 {
		cfg.MinOutputSize = DefaultMinOutputSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}
