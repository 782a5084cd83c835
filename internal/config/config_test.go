package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks defaults and range validation.
func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := new(Config)
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultMaxIcons, cfg.MaxIcons)
	require.Equal(t, DefaultAlignment, cfg.Alignment)
	require.Equal(t, int64(DefaultMinOutputSize), cfg.MinOutputSize)
	require.Equal(t, DefaultAppName, cfg.AppName)

	require.Error(t, Validate(&Config{Alignment: 6}))
	require.Error(t, Validate(&Config{IconSize: 8}))
	require.Error(t, Validate(&Config{ScaleFactor: 1.5}))
	require.Error(t, Validate(&Config{LogLevel: "verbose"}))
	require.Error(t, Validate(nil))
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back, without the password.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "iconpack.yaml")
	cfg := &Config{
		Template:         "template.apk",
		Keystore:         "release.p12",
		KeystorePassword: "secret",
		AppName:          "Pastel",
		MaxIcons:         500,
		ScaleFactor:      0.8,
	}
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "template.apk", loaded.Template)
	require.Equal(t, "Pastel", loaded.AppName)
	require.Equal(t, 500, loaded.MaxIcons)
	require.InDelta(t, 0.8, loaded.ScaleFactor, 1e-9)
	require.Empty(t, loaded.KeystorePassword)
}

// TestLoad_EnvOverrides checks that ICONPACK_* variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iconpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: FromFile\nmax_icons: 10\n"), 0o600))

	t.Setenv("ICONPACK_APP_NAME", "FromEnv")
	t.Setenv("ICONPACK_KEYSTORE_PASSWORD", "hunter2")
	t.Setenv("ICONPACK_WRITE_UNFILTERED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "FromEnv", cfg.AppName)
	require.Equal(t, 10, cfg.MaxIcons)
	require.Equal(t, "hunter2", cfg.KeystorePassword)
	require.True(t, cfg.WriteUnfiltered)
}

// TestLoad_DisableMinOutputSize checks that a negative size survives defaults.
func TestLoad_DisableMinOutputSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iconpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_output_size: -1\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(-1), cfg.MinOutputSize)

	t.Setenv("ICONPACK_MIN_OUTPUT_SIZE", "-5")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(-5), cfg.MinOutputSize)

	require.NoError(t, os.WriteFile(path, []byte("min_output_size: 0\n"), 0o600))
	t.Setenv("ICONPACK_MIN_OUTPUT_SIZE", "0")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(DefaultMinOutputSize), cfg.MinOutputSize)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_BadEnvValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iconpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: Pack\n"), 0o600))
	t.Setenv("ICONPACK_MAX_ICONS", "many")

	_, err := Load(path)
	require.ErrorContains(t, err, "parse env")
}
