package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/aluedeke/go-iconpack/internal/config"
	"github.com/aluedeke/go-iconpack/internal/logger"
	"github.com/aluedeke/go-iconpack/pkg/apksign"
	"github.com/aluedeke/go-iconpack/pkg/archive"
	"github.com/aluedeke/go-iconpack/pkg/iconpack"
)

const version = "1.0.0"

const usage = `go-iconpack - Android Icon Pack Builder

Packages themed launcher icons into a signed icon pack APK.

Usage:
  go-iconpack build --icons=<dir> [--config=<path>] [--template=<path>] [--keystore=<path>] [--password=<password>] [--output=<dir>] [--name=<name>] [--catalog=<path>] [--activities=<path>] [--masks=<dir>] [--max-icons=<n>] [--unfiltered] [--log-level=<level>]
  go-iconpack align --in=<path> --out=<path> [--alignment=<n>]
  go-iconpack sign --in=<path> --out=<path> [--config=<path>] [--keystore=<path>] [--password=<password>]
  go-iconpack verify --apk=<path>
  go-iconpack info --apk=<path>
  go-iconpack -h | --help
  go-iconpack --version

Commands:
  build     Build a signed icon pack from a directory of <package>.png icons
  align     Align the STORED entries of an APK
  sign      Sign an APK with v1, v2 and v3 signatures
  verify    Verify the signatures of an APK
  info      Display entries, alignment and signatures of an APK

Options:
  --icons=<dir>         Directory of themed icons named <package>.png
  --config=<path>       YAML settings file (defaults to iconpack.yaml if present)
  --template=<path>     Template APK (or ICONPACK_TEMPLATE env var)
  --keystore=<path>     PKCS#12 keystore (or ICONPACK_KEYSTORE env var)
  --password=<password> Keystore password (or ICONPACK_KEYSTORE_PASSWORD env var)
  --output=<dir>        Directory for the signed APK
  --name=<name>         Output name prefix, the file is <name>_<timestamp>.apk
  --catalog=<path>      YAML catalog of package labels and activities
  --activities=<path>   YAML override and known-activity tables
  --masks=<dir>         Directory holding iconback.png, iconmask.png and iconupon.png
  --max-icons=<n>       Maximum number of icons to package
  --unfiltered          Also write assets/appfilter_unfiltered.xml
  --log-level=<level>   debug, info, warn or error
  --in=<path>           Input APK
  --out=<path>          Output APK
  --apk=<path>          APK to inspect
  --alignment=<n>       Alignment in bytes [default: 4]
  -h --help             Show this help message
  --version             Show version

Environment Variables:
  ICONPACK_TEMPLATE           Template APK (overridden by --template)
  ICONPACK_KEYSTORE           Keystore (overridden by --keystore)
  ICONPACK_KEYSTORE_PASSWORD  Keystore password (overridden by --password)
  ICONPACK_OUTPUT_DIR         Output directory (overridden by --output)
  ICONPACK_LOG_LEVEL          Log level (overridden by --log-level)

Examples:
  # Build an icon pack
  go-iconpack build --icons=./themed --template=base.apk --keystore=release.p12 --password=secret

  # Build with masks for unthemed icons and a package catalog
  go-iconpack build --icons=./themed --masks=./masks --catalog=packages.yaml

  # Check an APK
  go-iconpack verify --apk=TestPack_20240506_070809.apk
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	commands := map[string]func(docopt.Opts) error{
		"build":  runBuild,
		"align":  runAlign,
		"sign":   runSign,
		"verify": runVerify,
		"info":   runInfo,
	}
	for name, run := range commands {
		if ok, _ := opts.Bool(name); ok {
			err := run(opts)
			logger.Sync()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
}

func runBuild(opts docopt.Opts) error {
	configPath, _ := opts.String("--config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := applyBuildFlags(opts, cfg); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	level, _ := logger.ParseLogLevel(cfg.LogLevel)
	logger.SetLevel(level)
	ctx := logger.WithName(context.Background(), "iconpack")

	if cfg.Template == "" {
		return fmt.Errorf("--template is required (or set ICONPACK_TEMPLATE environment variable)")
	}
	if cfg.Keystore == "" {
		return fmt.Errorf("--keystore is required (or set ICONPACK_KEYSTORE environment variable)")
	}

	iconsDir, _ := opts.String("--icons")
	icons, err := loadIcons(ctx, iconsDir)
	if err != nil {
		return err
	}
	if len(icons) == 0 {
		return fmt.Errorf("no icons found in %s", iconsDir)
	}

	query := iconpack.StaticPackages{}
	if cfg.Catalog != "" {
		if query, err = iconpack.LoadPackageCatalog(cfg.Catalog); err != nil {
			return err
		}
	}
	// Packages without catalog metadata still resolve through the fallback
	for _, icon := range icons {
		if _, ok := query[icon.pkg]; !ok {
			query.Add(iconpack.PackageInfo{Name: icon.pkg})
		}
	}

	tables, err := iconpack.DefaultActivityTables()
	if err != nil {
		return err
	}
	if path, _ := opts.String("--activities"); path != "" {
		if tables, err = iconpack.LoadActivityTables(path); err != nil {
			return err
		}
	}

	fmt.Printf("Building icon pack: %s\n", cfg.AppName)
	fmt.Printf("Template: %s\n", cfg.Template)
	fmt.Printf("Keystore: %s\n", cfg.Keystore)
	fmt.Printf("Icons: %d from %s\n", len(icons), iconsDir)
	fmt.Println()

	exp, err := iconpack.NewExporter(iconpack.Options{
		TemplatePath:     cfg.Template,
		KeystorePath:     cfg.Keystore,
		KeystorePassword: cfg.KeystorePassword,
		OutputDir:        cfg.OutputDir,
		AppName:          cfg.AppName,
		ScratchDir:       cfg.ScratchDir,
		Query:            query,
		Tables:           tables,
		MaxIcons:         cfg.MaxIcons,
		IconSize:         cfg.IconSize,
		ScaleFactor:      cfg.ScaleFactor,
		WriteUnfiltered:  cfg.WriteUnfiltered,
		Alignment:        cfg.Alignment,
		MinOutputSize:    cfg.MinOutputSize,
		Progress: func(step string, percent int) {
			fmt.Printf("[%3d%%] %s\n", percent, step)
		},
	})
	if err != nil {
		return err
	}

	s, err := exp.NewSession()
	if err != nil {
		return err
	}
	for _, icon := range icons {
		if _, err := s.Icons.Add(icon.pkg, icon.data); err != nil {
			logger.WarnKV(ctx, "skipping icon", "package", icon.pkg, "error", err)
		}
	}
	if masksDir, _ := opts.String("--masks"); masksDir != "" {
		masks, err := loadMasks(masksDir)
		if err != nil {
			s.Cleanup()
			return err
		}
		s.SetMasks(masks)
	}

	out, err := exp.Export(ctx, s)
	if err != nil {
		return err
	}

	fmt.Println()
	if s.Inject != nil && s.Inject.Truncated > 0 {
		fmt.Printf("Warning: %d icons over the limit of %d were left out\n", s.Inject.Truncated, cfg.MaxIcons)
	}
	if s.Align != nil && !s.Align.Aligned {
		fmt.Println("Warning: the APK could not be aligned")
	}
	fmt.Printf("Successfully built icon pack: %s\n", out)
	return nil
}

func applyBuildFlags(opts docopt.Opts, cfg *config.Config) error {
	strFlags := map[string]*string{
		"--template":  &cfg.Template,
		"--keystore":  &cfg.Keystore,
		"--password":  &cfg.KeystorePassword,
		"--output":    &cfg.OutputDir,
		"--name":      &cfg.AppName,
		"--catalog":   &cfg.Catalog,
		"--log-level": &cfg.LogLevel,
	}
	for flag, dst := range strFlags {
		if v, _ := opts.String(flag); v != "" {
			*dst = v
		}
	}
	if v, _ := opts.String("--max-icons"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid --max-icons: %w", err)
		}
		cfg.MaxIcons = n
	}
	if unfiltered, _ := opts.Bool("--unfiltered"); unfiltered {
		cfg.WriteUnfiltered = true
	}
	return nil
}

type iconFile struct {
	pkg  string
	data []byte
}

// loadIcons reads and validates every <package>.png in dir concurrently,
// returning them sorted by package name
func loadIcons(ctx context.Context, dir string) ([]iconFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	loaded := make([]*iconFile, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read icon: %w", err)
			}
			if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
				logger.WarnKV(ctx, "skipping unreadable icon", "path", path, "error", err)
				return nil
			}
			loaded[i] = &iconFile{
				pkg:  strings.TrimSuffix(filepath.Base(path), ".png"),
				data: data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var icons []iconFile
	for _, icon := range loaded {
		if icon != nil {
			icons = append(icons, *icon)
		}
	}
	return icons, nil
}

func loadMasks(dir string) (*iconpack.CustomMaskAssets, error) {
	masks := &iconpack.CustomMaskAssets{}
	layers := map[string]*image.Image{
		iconpack.IconBackName: &masks.Background,
		iconpack.IconMaskName: &masks.Mask,
		iconpack.IconUponName: &masks.Foreground,
	}
	for name, dst := range layers {
		f, err := os.Open(filepath.Join(dir, name+".png"))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s.png: %w", name, err)
		}
		*dst = img
	}
	if masks.IsEmpty() {
		return nil, fmt.Errorf("no iconback.png, iconmask.png or iconupon.png in %s", dir)
	}
	return masks, nil
}

func runAlign(opts docopt.Opts) error {
	input, _ := opts.String("--in")
	output, _ := opts.String("--out")
	alignment, err := opts.Int("--alignment")
	if err != nil {
		return fmt.Errorf("invalid --alignment: %w", err)
	}

	res, err := archive.NewAligner(alignment).Align(input, output)
	if err != nil {
		return err
	}

	for _, a := range res.Attempts {
		fmt.Printf("Strategy %s failed: %v\n", a.Strategy, a.Err)
	}
	if !res.Aligned {
		fmt.Printf("Could not align, copied unchanged: %s\n", output)
		return nil
	}
	fmt.Printf("Aligned to %d bytes using %s: %s\n", res.Alignment, res.Strategy, output)
	return nil
}

func runSign(opts docopt.Opts) error {
	input, _ := opts.String("--in")
	output, _ := opts.String("--out")

	cfg, err := loadSignConfig(opts)
	if err != nil {
		return err
	}

	identity, err := apksign.LoadSigningIdentityFile(cfg.Keystore, cfg.KeystorePassword)
	if err != nil {
		return err
	}

	fmt.Printf("Signing: %s\n", input)
	fmt.Printf("Certificate: %s\n", identity.Certificate.Subject.CommonName)
	if err := apksign.Sign(identity, input, output, &apksign.Options{Alignment: cfg.Alignment}); err != nil {
		return err
	}
	fmt.Printf("Successfully signed APK: %s\n", output)
	return nil
}

// loadSignConfig reads the keystore settings from the config file and
// ICONPACK_* variables, then applies --keystore and --password
func loadSignConfig(opts docopt.Opts) (*config.Config, error) {
	configPath, _ := opts.String("--config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if v, _ := opts.String("--keystore"); v != "" {
		cfg.Keystore = v
	}
	if v, _ := opts.String("--password"); v != "" {
		cfg.KeystorePassword = v
	}
	if cfg.Keystore == "" {
		return nil, fmt.Errorf("--keystore is required (or set ICONPACK_KEYSTORE environment variable)")
	}
	return cfg, nil
}

func runVerify(opts docopt.Opts) error {
	path, _ := opts.String("--apk")

	res, err := apksign.Verify(path)
	if err != nil {
		return err
	}
	fmt.Printf("Verified: %s\n", path)
	printSignature(res)
	return nil
}

func runInfo(opts docopt.Opts) error {
	path, _ := opts.String("--apk")

	stat, err := os.Stat(path)
	if err != nil {
		return err
	}
	entries, err := archive.ReadEntries(path)
	if err != nil {
		return err
	}
	misaligned, err := archive.CheckAlignment(path, archive.DefaultAlignment)
	if err != nil {
		return err
	}

	var stored, deflated int
	var uncompressed uint64
	for _, e := range entries {
		switch e.Method {
		case archive.Stored:
			stored++
		case archive.Deflated:
			deflated++
		}
		uncompressed += e.Size
	}

	fmt.Println("APK Information")
	fmt.Println("===============")
	fmt.Printf("File:        %s\n", path)
	fmt.Printf("Size:        %s (%s uncompressed)\n", humanize.Bytes(uint64(stat.Size())), humanize.Bytes(uncompressed))
	fmt.Printf("Entries:     %d (%d stored, %d deflated)\n", len(entries), stored, deflated)
	if len(misaligned) == 0 {
		fmt.Printf("Aligned:     yes (%d bytes)\n", archive.DefaultAlignment)
	} else {
		fmt.Printf("Aligned:     no (%d entries)\n", len(misaligned))
	}

	fmt.Println()
	fmt.Println("Signature")
	fmt.Println("---------")
	res, err := apksign.Verify(path)
	switch {
	case errors.Is(err, apksign.ErrNotSigned):
		fmt.Println("Not signed")
	case err != nil:
		fmt.Printf("Invalid: %v\n", err)
	default:
		printSignature(res)
	}
	return nil
}

func printSignature(res *apksign.VerifyResult) {
	cert := res.Certificate
	fmt.Printf("Schemes:     %s\n", res.Schemes())
	fmt.Printf("Subject:     %s\n", cert.Subject.CommonName)
	fmt.Printf("Serial:      %s\n", cert.SerialNumber.String())
	fmt.Printf("Expires:     %s\n", cert.NotAfter.Format("2006-01-02"))
	if res.V3 {
		fmt.Printf("SDK range:   %d..%d\n", res.MinSDK, res.MaxSDK)
	}
}
