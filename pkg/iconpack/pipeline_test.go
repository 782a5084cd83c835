package iconpack

import (
	"archive/zip"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aluedeke/go-iconpack/internal/testkeys"
	"github.com/aluedeke/go-iconpack/pkg/apksign"
	"github.com/aluedeke/go-iconpack/pkg/archive"
)

type pipelineFixture struct {
	opts    Options
	scratch string
	steps   []string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()

	f := &pipelineFixture{scratch: filepath.Join(dir, "scratch")}
	require.NoError(t, os.MkdirAll(f.scratch, 0o755))

	template := filepath.Join(dir, "template.apk")
	writeTemplate(t, template)

	f.opts = Options{
		TemplatePath:     template,
		KeystorePath:     testkeys.WriteKeystore(t, dir),
		KeystorePassword: testkeys.Password,
		OutputDir:        filepath.Join(dir, "out"),
		AppName:          "TestPack",
		ScratchDir:       f.scratch,
		Query:            testCatalog(),
		MinOutputSize:    -1,
		Now:              func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) },
		Progress:         func(step string, _ int) { f.steps = append(f.steps, step) },
	}
	return f
}

func (f *pipelineFixture) export(t *testing.T) (string, *ExportSession, error) {
	t.Helper()
	exp, err := NewExporter(f.opts)
	require.NoError(t, err)

	s, err := exp.NewSession()
	require.NoError(t, err)
	_, err = s.Icons.Add("com.example.mail", testPNG(t, color.White))
	require.NoError(t, err)
	_, err = s.Icons.Add("com.example.notes", testPNG(t, color.Black))
	require.NoError(t, err)

	out, err := exp.Export(context.Background(), s)
	return out, s, err
}

func (f *pipelineFixture) requireScratchEmpty(t *testing.T) {
	t.Helper()
	left, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestExport_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	out, s, err := f.export(t)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(f.opts.OutputDir, "TestPack_20240506_070809.apk"), out)
	require.Equal(t, []string{
		StepStaging, StepIcons, StepMetadata, StepBuilding, StepAligning, StepSigning, StepDone,
	}, f.steps)

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, zf := range r.File {
		names = append(names, zf.Name)
	}
	sort.Strings(names)
	require.Equal(t, []string{
		"AndroidManifest.xml",
		"META-INF/CERT.RSA",
		"META-INF/CERT.SF",
		"META-INF/MANIFEST.MF",
		"assets/appfilter.xml",
		"assets/drawable.xml",
		"classes.dex",
		"res/drawable-nodpi-v4/icon_0001.png",
		"res/drawable-nodpi-v4/icon_0002.png",
		"resources.arsc",
	}, names)

	misaligned, err := archive.CheckAlignment(out, archive.DefaultAlignment)
	require.NoError(t, err)
	require.Empty(t, misaligned)

	res, err := apksign.Verify(out)
	require.NoError(t, err)
	require.True(t, res.V1 && res.V2 && res.V3)

	identity, err := apksign.LoadSigningIdentityFile(f.opts.KeystorePath, f.opts.KeystorePassword)
	require.NoError(t, err)
	require.True(t, res.Certificate.Equal(identity.Certificate))

	require.NotNil(t, s.Align)
	require.True(t, s.Align.Aligned)
	require.Equal(t, 2, s.Inject.Drawables)
	f.requireScratchEmpty(t)
}

func TestExport_BadKeystore(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	require.NoError(t, os.WriteFile(f.opts.KeystorePath, []byte("not a keystore"), 0o600))

	out, _, err := f.export(t)
	require.ErrorIs(t, err, ErrSigningFailed)
	require.Empty(t, out)
	require.Equal(t, StepFailed, f.steps[len(f.steps)-1])

	_, statErr := os.Stat(f.opts.OutputDir)
	require.True(t, os.IsNotExist(statErr), "output directory must not be created")
	f.requireScratchEmpty(t)
}

func TestExport_MissingTemplate(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	f.opts.TemplatePath = filepath.Join(t.TempDir(), "missing.apk")

	_, _, err := f.export(t)
	require.ErrorIs(t, err, ErrTemplateMissing)
	require.Equal(t, []string{StepStaging, StepFailed}, f.steps)
	f.requireScratchEmpty(t)
}

func TestExport_OutputTooSmall(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	f.opts.MinOutputSize = DefaultMinOutputSize

	out, _, err := f.export(t)
	require.ErrorIs(t, err, ErrOutputTooSmall)
	require.Empty(t, out)

	left, err := os.ReadDir(f.opts.OutputDir)
	require.NoError(t, err)
	require.Empty(t, left)
	f.requireScratchEmpty(t)
}

func TestNewExporter_Validates(t *testing.T) {
	t.Parallel()

	_, err := NewExporter(Options{KeystorePath: "k.p12", Query: StaticPackages{}})
	require.Error(t, err)
	_, err = NewExporter(Options{TemplatePath: "t.apk", Query: StaticPackages{}})
	require.Error(t, err)
	_, err = NewExporter(Options{TemplatePath: "t.apk", KeystorePath: "k.p12"})
	require.Error(t, err)
}
