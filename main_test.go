package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/docopt/docopt-go"

	"github.com/aluedeke/go-iconpack/internal/config"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("failed to encode PNG: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadIcons_SortedAndValidated(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"com.zeta", "com.alpha", "com.mid"} {
		writePNG(t, filepath.Join(dir, name+".png"))
	}
	if err := os.WriteFile(filepath.Join(dir, "com.broken.png"), []byte("not a png"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	icons, err := loadIcons(context.Background(), dir)
	if err != nil {
		t.Fatalf("loadIcons failed: %v", err)
	}

	want := []string{"com.alpha", "com.mid", "com.zeta"}
	if len(icons) != len(want) {
		t.Fatalf("got %d icons, want %d", len(icons), len(want))
	}
	for i, icon := range icons {
		if icon.pkg != want[i] {
			t.Errorf("icon %d: got %s, want %s", i, icon.pkg, want[i])
		}
		if len(icon.data) == 0 {
			t.Errorf("icon %s has no data", icon.pkg)
		}
	}
}

func TestLoadMasks(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "iconmask.png"))

	masks, err := loadMasks(dir)
	if err != nil {
		t.Fatalf("loadMasks failed: %v", err)
	}
	if masks.Mask == nil {
		t.Error("expected mask layer to be loaded")
	}
	if masks.Background != nil || masks.Foreground != nil {
		t.Error("expected missing layers to stay empty")
	}

	if _, err := loadMasks(t.TempDir()); err == nil {
		t.Error("expected error for a directory without mask layers")
	}
}

func TestApplyBuildFlags(t *testing.T) {
	cfg := config.Default()
	opts := docopt.Opts{
		"--template":   "base.apk",
		"--keystore":   nil,
		"--password":   nil,
		"--output":     "out",
		"--name":       nil,
		"--catalog":    nil,
		"--log-level":  "debug",
		"--max-icons":  "10",
		"--unfiltered": true,
	}

	if err := applyBuildFlags(opts, cfg); err != nil {
		t.Fatalf("applyBuildFlags failed: %v", err)
	}
	if cfg.Template != "base.apk" || cfg.OutputDir != "out" || cfg.LogLevel != "debug" {
		t.Errorf("string flags not applied: %+v", cfg)
	}
	if cfg.AppName != config.DefaultAppName {
		t.Errorf("unset flag overrode AppName: %s", cfg.AppName)
	}
	if cfg.MaxIcons != 10 || !cfg.WriteUnfiltered {
		t.Errorf("got MaxIcons=%d WriteUnfiltered=%v", cfg.MaxIcons, cfg.WriteUnfiltered)
	}

	opts["--max-icons"] = "many"
	if err := applyBuildFlags(opts, cfg); err == nil {
		t.Error("expected error for invalid --max-icons")
	}
}

func TestLoadSignConfig(t *testing.T) {
	t.Setenv("ICONPACK_KEYSTORE", "env.p12")
	t.Setenv("ICONPACK_KEYSTORE_PASSWORD", "env-secret")

	opts := docopt.Opts{"--config": nil, "--keystore": nil, "--password": nil}
	cfg, err := loadSignConfig(opts)
	if err != nil {
		t.Fatalf("loadSignConfig failed: %v", err)
	}
	if cfg.Keystore != "env.p12" || cfg.KeystorePassword != "env-secret" {
		t.Errorf("environment not applied: keystore=%q password=%q", cfg.Keystore, cfg.KeystorePassword)
	}

	opts["--keystore"] = "flag.p12"
	opts["--password"] = "flag-secret"
	cfg, err = loadSignConfig(opts)
	if err != nil {
		t.Fatalf("loadSignConfig failed: %v", err)
	}
	if cfg.Keystore != "flag.p12" || cfg.KeystorePassword != "flag-secret" {
		t.Errorf("flags did not win: keystore=%q password=%q", cfg.Keystore, cfg.KeystorePassword)
	}

	t.Setenv("ICONPACK_KEYSTORE", "")
	if _, err := loadSignConfig(docopt.Opts{}); err == nil {
		t.Error("expected error without a keystore")
	}
}
