package iconpack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPackage is returned by a PackageQuery for packages it has no metadata for
var ErrUnknownPackage = errors.New("iconpack: unknown package")

// PackageQuery supplies the package metadata activity resolution needs
type PackageQuery interface {
	// LaunchableActivities returns the activities with a launcher intent filter
	LaunchableActivities(pkg string) ([]string, error)
	// AllActivities returns every activity the package declares
	AllActivities(pkg string) ([]string, error)
	// ApplicationLabel returns the user-visible application name
	ApplicationLabel(pkg string) (string, error)
}

// PackageInfo is the metadata of one package in a static catalog
type PackageInfo struct {
	Name       string   `yaml:"name"`
	Label      string   `yaml:"label,omitempty"`
	Launchable []string `yaml:"launchable,omitempty"`
	Activities []string `yaml:"activities,omitempty"`
}

// StaticPackages answers package queries from a fixed catalog
type StaticPackages map[string]PackageInfo

type packageCatalog struct {
	Packages []PackageInfo `yaml:"packages"`
}

// LoadPackageCatalog reads a YAML catalog of the form
//
//	packages:
//	  - name: com.android.chrome
//	    label: Chrome
//	    launchable: [com.google.android.apps.chrome.Main]
func LoadPackageCatalog(path string) (StaticPackages, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read package catalog: %w", err)
	}
	return ParsePackageCatalog(data)
}

// ParsePackageCatalog parses catalog YAML
func ParsePackageCatalog(data []byte) (StaticPackages, error) {
	var c packageCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal package catalog: %w", err)
	}

	out := make(StaticPackages, len(c.Packages))
	for i, p := range c.Packages {
		if p.Name == "" {
			return nil, fmt.Errorf("package catalog entry %d has no name", i+1)
		}
		out[p.Name] = p
	}
	return out, nil
}

// Add registers p, replacing any previous entry of the same name
func (s StaticPackages) Add(p PackageInfo) {
	s[p.Name] = p
}

func (s StaticPackages) lookup(pkg string) (PackageInfo, error) {
	p, ok := s[pkg]
	if !ok {
		return PackageInfo{}, fmt.Errorf("%w: %s", ErrUnknownPackage, pkg)
	}
	return p, nil
}

func (s StaticPackages) LaunchableActivities(pkg string) ([]string, error) {
	p, err := s.lookup(pkg)
	return p.Launchable, err
}

func (s StaticPackages) AllActivities(pkg string) ([]string, error) {
	p, err := s.lookup(pkg)
	if err != nil {
		return nil, err
	}
	if len(p.Activities) == 0 {
		return p.Launchable, nil
	}
	return p.Activities, nil
}

func (s StaticPackages) ApplicationLabel(pkg string) (string, error) {
	p, err := s.lookup(pkg)
	return p.Label, err
}
