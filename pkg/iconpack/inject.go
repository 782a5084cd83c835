package iconpack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluedeke/go-iconpack/internal/logger"
)

const (
	// DefaultMaxIcons matches the drawable slots the template reserves
	DefaultMaxIcons = 2000
	// DefaultImageDir holds icons and masks inside the working tree
	DefaultImageDir = "res/drawable-nodpi-v4"
	// DefaultDrawablePrefix starts every icon drawable name
	DefaultDrawablePrefix = "icon_"
	// DefaultIconSize is the edge length masks are scaled to
	DefaultIconSize = 192
	// AssetsDir receives the metadata documents
	AssetsDir = "assets"
)

// PackageIconMapping ties one packaged icon to the components it themes
type PackageIconMapping struct {
	PackageName string
	Activities  []string
	Drawable    string
	DisplayName string
}

// InjectResult reports what Inject wrote
type InjectResult struct {
	// Mappings has one record per written icon, in drawable order.
	// Activities is empty when resolution failed; such icons only get a name.
	Mappings []PackageIconMapping
	// Drawables is the number of icon images written
	Drawables int
	// Skipped lists packages left out of the filter map or not written at all
	Skipped []string
	// Truncated counts icons dropped beyond MaxIcons
	Truncated int
	// Masks names the mask layers written
	Masks []string
}

// Injector writes icons, masks and metadata into a staged working tree
type Injector struct {
	Resolver        *ActivityResolver
	MaxIcons        int
	ImageDir        string
	DrawablePrefix  string
	IconSize        int
	ScaleFactor     float64
	WriteUnfiltered bool

	// writeFile writes icon images; nil means os.WriteFile
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewInjector returns an Injector with defaults around resolver
func NewInjector(resolver *ActivityResolver) *Injector {
	return &Injector{
		Resolver:       resolver,
		MaxIcons:       DefaultMaxIcons,
		ImageDir:       DefaultImageDir,
		DrawablePrefix: DefaultDrawablePrefix,
		IconSize:       DefaultIconSize,
	}
}

// DrawableName returns the drawable name for the n-th written icon (1-based)
func (in *Injector) DrawableName(n int) string {
	return fmt.Sprintf("%s%04d", in.DrawablePrefix, n)
}

func (in *Injector) write(path string, data []byte) error {
	if in.writeFile != nil {
		return in.writeFile(path, data, 0644)
	}
	return os.WriteFile(path, data, 0644)
}

// Inject writes icons and then metadata
func (in *Injector) Inject(ctx context.Context, treeDir string, s *ExportSession) (*InjectResult, error) {
	res, err := in.WriteIcons(ctx, treeDir, s)
	if err != nil {
		return nil, err
	}
	if err := in.WriteMetadata(ctx, treeDir, res); err != nil {
		return nil, err
	}
	return res, nil
}

// WriteIcons writes the session's icons and mask layers into the image
// directory. Icons past MaxIcons are dropped and counted. An icon that cannot
// be written is skipped and does not consume a drawable number.
func (in *Injector) WriteIcons(ctx context.Context, treeDir string, s *ExportSession) (*InjectResult, error) {
	if in.Resolver == nil {
		return nil, errors.New("iconpack: injector has no activity resolver")
	}

	imageDir := filepath.Join(treeDir, filepath.FromSlash(in.ImageDir))
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	res := &InjectResult{}
	items := s.Icons.Items()
	if in.MaxIcons > 0 && len(items) > in.MaxIcons {
		res.Truncated = len(items) - in.MaxIcons
		items = items[:in.MaxIcons]
		logger.WarnKV(ctx, "icon limit reached, dropping the rest",
			"limit", in.MaxIcons, "dropped", res.Truncated)
	}

	for _, item := range items {
		drawable := in.DrawableName(res.Drawables + 1)
		path := filepath.Join(imageDir, drawable+".png")
		if err := in.write(path, item.PNG); err != nil {
			logger.WarnKV(ctx, "skipping icon", "package", item.PackageName, "error", err)
			res.Skipped = append(res.Skipped, item.PackageName)
			continue
		}
		res.Drawables++

		label := item.PackageName
		if l, err := in.Resolver.Query.ApplicationLabel(item.PackageName); err == nil && l != "" {
			label = l
		}

		activities, err := in.Resolver.Resolve(item.PackageName)
		if err != nil {
			logger.WarnKV(ctx, "no activity resolved, icon left out of filter map",
				"package", item.PackageName, "error", err)
			res.Skipped = append(res.Skipped, item.PackageName)
			activities = nil
		}

		res.Mappings = append(res.Mappings, PackageIconMapping{
			PackageName: item.PackageName,
			Activities:  activities,
			Drawable:    drawable,
			DisplayName: SanitizeLabel(label),
		})
	}

	for _, layer := range s.Masks().layers() {
		size := in.IconSize
		if size <= 0 {
			size = DefaultIconSize
		}
		path := filepath.Join(imageDir, layer.name+".png")
		if err := writePNG(path, scaleImage(layer.img, size)); err != nil {
			logger.WarnKV(ctx, "skipping mask layer", "layer", layer.name, "error", err)
			continue
		}
		res.Masks = append(res.Masks, layer.name)
	}

	logger.InfoKV(ctx, "icons written", "drawables", res.Drawables,
		"skipped", len(res.Skipped), "truncated", res.Truncated, "masks", len(res.Masks))
	return res, nil
}

// WriteMetadata writes appfilter.xml, drawable.xml and optionally
// appfilter_unfiltered.xml under assets/
func (in *Injector) WriteMetadata(ctx context.Context, treeDir string, res *InjectResult) error {
	assetsDir := filepath.Join(treeDir, AssetsDir)
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return fmt.Errorf("failed to create assets directory: %w", err)
	}

	var filter, unfiltered FilterMap
	var names NameMap
	filter.SetMasks(res.Masks)
	filter.SetScale(in.ScaleFactor)

	for _, m := range res.Mappings {
		filter.Add(m.PackageName, m.Activities, m.Drawable)
		names.Add(m.Drawable, m.DisplayName)

		if in.WriteUnfiltered {
			all, err := in.Resolver.Query.AllActivities(m.PackageName)
			if err != nil {
				continue
			}
			unfiltered.Add(m.PackageName, qualify(m.PackageName, all), m.Drawable)
		}
	}

	if err := writeResources(filepath.Join(assetsDir, AppFilterFile), &filter); err != nil {
		return fmt.Errorf("failed to write %s: %w", AppFilterFile, err)
	}
	if err := writeResources(filepath.Join(assetsDir, DrawableFile), &names); err != nil {
		return fmt.Errorf("failed to write %s: %w", DrawableFile, err)
	}
	if in.WriteUnfiltered {
		if err := writeResources(filepath.Join(assetsDir, UnfilteredMapFile), &unfiltered); err != nil {
			return fmt.Errorf("failed to write %s: %w", UnfilteredMapFile, err)
		}
	}

	logger.InfoKV(ctx, "metadata written", "components", filter.Len(), "names", names.Len())
	return nil
}
