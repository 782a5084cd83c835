package iconpack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aluedeke/go-iconpack/internal/logger"
	"github.com/aluedeke/go-iconpack/pkg/apksign"
	"github.com/aluedeke/go-iconpack/pkg/archive"
)

// Progress steps and the percentage reported when each starts
const (
	StepStaging  = "staging"
	StepIcons    = "icons"
	StepMetadata = "metadata"
	StepBuilding = "building"
	StepAligning = "aligning"
	StepSigning  = "signing"
	StepDone     = "done"
	StepFailed   = "failed"
)

var stepPercent = map[string]int{
	StepStaging:  10,
	StepIcons:    30,
	StepMetadata: 50,
	StepBuilding: 60,
	StepAligning: 75,
	StepSigning:  90,
	StepDone:     100,
}

// DefaultMinOutputSize is the smallest signed APK accepted as plausible
const DefaultMinOutputSize = 100 * 1024

const outputTimeFormat = "20060102_150405"

var (
	// ErrSigningFailed wraps any failure to load the identity or sign
	ErrSigningFailed = errors.New("iconpack: signing failed")
	// ErrOutputTooSmall is returned when the signed APK is implausibly small
	ErrOutputTooSmall = errors.New("iconpack: output is smaller than expected")
)

// ProgressFunc receives a step name and its percentage. On failure it is
// called once with StepFailed and the percentage of the failed step.
type ProgressFunc func(step string, percent int)

// Options configures an Exporter
type Options struct {
	TemplatePath     string
	KeystorePath     string
	KeystorePassword string
	OutputDir        string
	AppName          string
	// ScratchDir holds session directories; empty means the OS temp dir
	ScratchDir string

	Query  PackageQuery
	Tables *ActivityTables

	MaxIcons        int
	IconSize        int
	ScaleFactor     float64
	WriteUnfiltered bool
	Alignment       int
	// MinOutputSize defaults to DefaultMinOutputSize; negative disables the check
	MinOutputSize int64

	Progress ProgressFunc
	// Now stamps the output file name; defaults to time.Now
	Now func() time.Time
}

func (o *Options) validate() error {
	if o.TemplatePath == "" {
		return errors.New("template path is required")
	}
	if o.KeystorePath == "" {
		return errors.New("keystore path is required")
	}
	if o.Query == nil {
		return errors.New("package query is required")
	}
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	if o.AppName == "" {
		o.AppName = "IconPack"
	}
	if o.Alignment <= 0 {
		o.Alignment = archive.DefaultAlignment
	}
	if o.MinOutputSize == 0 {
		o.MinOutputSize = DefaultMinOutputSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// Exporter runs the packaging pipeline: stage the template, inject icons
// and metadata, build, align and sign
type Exporter struct {
	opts     Options
	injector *Injector
	aligner  *archive.Aligner
}

// NewExporter validates opts and returns an Exporter
func NewExporter(opts Options) (*Exporter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	injector := NewInjector(NewActivityResolver(opts.Query, opts.Tables))
	if opts.MaxIcons > 0 {
		injector.MaxIcons = opts.MaxIcons
	}
	if opts.IconSize > 0 {
		injector.IconSize = opts.IconSize
	}
	injector.ScaleFactor = opts.ScaleFactor
	injector.WriteUnfiltered = opts.WriteUnfiltered

	return &Exporter{
		opts:     opts,
		injector: injector,
		aligner:  archive.NewAligner(opts.Alignment),
	}, nil
}

// NewSession creates a session with its own scratch directory
func (e *Exporter) NewSession() (*ExportSession, error) {
	return newSession(e.opts.ScratchDir)
}

// Export packages the session's icons into a signed APK under OutputDir and
// returns its path. The session's scratch data is removed on every path.
func (e *Exporter) Export(ctx context.Context, s *ExportSession) (string, error) {
	ctx = logger.WithKV(ctx, "session", s.ID)
	defer func() {
		if err := s.Cleanup(); err != nil {
			logger.WarnKV(ctx, "cleanup failed", "error", err)
		}
	}()

	var current string
	step := func(name string) {
		current = name
		logger.DebugKV(ctx, "export step", "step", name, "percent", stepPercent[name])
		if e.opts.Progress != nil {
			e.opts.Progress(name, stepPercent[name])
		}
	}

	out, err := e.run(ctx, s, step)
	if err != nil {
		logger.ErrorKV(ctx, "export failed", "step", current, "error", err)
		if e.opts.Progress != nil {
			e.opts.Progress(StepFailed, stepPercent[current])
		}
		return "", err
	}
	step(StepDone)
	return out, nil
}

func (e *Exporter) run(ctx context.Context, s *ExportSession, step func(string)) (string, error) {
	tree := s.TreeDir()

	step(StepStaging)
	if err := StageTemplate(ctx, e.opts.TemplatePath, tree); err != nil {
		return "", err
	}

	step(StepIcons)
	res, err := e.injector.WriteIcons(ctx, tree, s)
	if err != nil {
		return "", err
	}
	s.Inject = res

	step(StepMetadata)
	if err := e.injector.WriteMetadata(ctx, tree, res); err != nil {
		return "", err
	}

	step(StepBuilding)
	if err := archive.BuildStored(tree, s.unsignedPath()); err != nil {
		return "", fmt.Errorf("failed to build archive: %w", err)
	}

	step(StepAligning)
	align, err := e.aligner.Align(s.unsignedPath(), s.alignedPath())
	if err != nil {
		return "", err
	}
	s.Align = align
	for _, a := range align.Attempts {
		logger.WarnKV(ctx, "alignment strategy failed", "strategy", a.Strategy, "error", a.Err)
	}
	if align.Aligned {
		logger.InfoKV(ctx, "archive aligned", "strategy", align.Strategy, "alignment", align.Alignment)
	} else {
		logger.WarnKV(ctx, "continuing with unaligned archive")
	}

	step(StepSigning)
	if err := e.sign(s.alignedPath(), s.signedPath()); err != nil {
		return "", err
	}

	return e.publish(ctx, s.signedPath())
}

func (e *Exporter) sign(input, output string) error {
	identity, err := apksign.LoadSigningIdentityFile(e.opts.KeystorePath, e.opts.KeystorePassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	if err := apksign.Sign(identity, input, output, &apksign.Options{Alignment: e.opts.Alignment}); err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return nil
}

// publish copies the signed APK to OutputDir and checks its size
func (e *Exporter) publish(ctx context.Context, signed string) (string, error) {
	if err := os.MkdirAll(e.opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.apk", e.opts.AppName, e.opts.Now().Format(outputTimeFormat))
	dest := filepath.Join(e.opts.OutputDir, name)
	if err := archive.CopyFile(signed, dest); err != nil {
		return "", fmt.Errorf("failed to write output: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return "", err
	}
	if info.Size() < e.opts.MinOutputSize {
		os.Remove(dest)
		return "", fmt.Errorf("%w: %s (minimum %s)", ErrOutputTooSmall,
			humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(e.opts.MinOutputSize)))
	}

	logger.InfoKV(ctx, "icon pack written", "path", dest, "size", humanize.Bytes(uint64(info.Size())))
	return dest, nil
}
