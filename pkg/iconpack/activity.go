package iconpack

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Wildcard ends an activity list to match any other activity of the package
const Wildcard = "*"

// maxResolvedActivities bounds launcher and heuristic matches
const maxResolvedActivities = 3

//go:embed activities.yaml
var defaultActivityData []byte

var (
	preferredActivityHints = []string{"main", "home", "launcher", "start"}
	excludedActivityHints  = []string{"settings", "debug", "test", "admin"}
)

// ActivityTables holds per-package activity lists that take part in resolution
type ActivityTables struct {
	// Overrides replace whatever the package declares
	Overrides map[string][]string `yaml:"overrides"`
	// Known is used when the package exposes no launcher activity
	Known map[string][]string `yaml:"known"`
}

var (
	defaultTablesOnce sync.Once
	defaultTables     *ActivityTables
	defaultTablesErr  error
)

// DefaultActivityTables returns the built-in tables, parsed once
func DefaultActivityTables() (*ActivityTables, error) {
	defaultTablesOnce.Do(func() {
		defaultTables, defaultTablesErr = ParseActivityTables(defaultActivityData)
	})
	return defaultTables, defaultTablesErr
}

// LoadActivityTables reads tables in the format of the built-in activities.yaml
func LoadActivityTables(path string) (*ActivityTables, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read activity tables: %w", err)
	}
	return ParseActivityTables(data)
}

// ParseActivityTables parses activity tables from YAML
func ParseActivityTables(data []byte) (*ActivityTables, error) {
	var t ActivityTables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal activity tables: %w", err)
	}
	for pkg, list := range t.Overrides {
		if len(list) == 0 {
			return nil, fmt.Errorf("override for %s lists no activities", pkg)
		}
	}
	for pkg, list := range t.Known {
		if len(list) == 0 {
			return nil, fmt.Errorf("known activities for %s list no activities", pkg)
		}
	}
	return &t, nil
}

// ActivityResolver picks the components an icon is matched against
type ActivityResolver struct {
	Query  PackageQuery
	Tables *ActivityTables
}

// NewActivityResolver returns a resolver over q. Nil tables disable the table lookups.
func NewActivityResolver(q PackageQuery, tables *ActivityTables) *ActivityResolver {
	if tables == nil {
		tables = &ActivityTables{}
	}
	return &ActivityResolver{Query: q, Tables: tables}
}

// Resolve returns fully qualified activity names for pkg, first match wins:
// the override table, launcher activities, the known table, a name heuristic
// over all activities, and finally pkg.MainActivity. Launcher, heuristic and
// fallback results end with Wildcard.
func (r *ActivityResolver) Resolve(pkg string) ([]string, error) {
	if r.Query == nil {
		return nil, errors.New("iconpack: activity resolver has no package query")
	}

	if list, ok := r.Tables.Overrides[pkg]; ok {
		return qualify(pkg, list), nil
	}

	launchable, err := r.Query.LaunchableActivities(pkg)
	if err != nil {
		return nil, err
	}
	if len(launchable) > 0 {
		return withWildcard(qualify(pkg, firstN(launchable, maxResolvedActivities))), nil
	}

	if list, ok := r.Tables.Known[pkg]; ok {
		return qualify(pkg, list), nil
	}

	all, err := r.Query.AllActivities(pkg)
	if err != nil {
		return nil, err
	}
	if guess := guessActivities(all); len(guess) > 0 {
		return withWildcard(qualify(pkg, guess)), nil
	}

	return []string{pkg + ".MainActivity", Wildcard}, nil
}

// guessActivities prefers entry-point-looking names and skips tooling screens
func guessActivities(all []string) []string {
	var preferred, other []string
	for _, a := range all {
		lower := strings.ToLower(a)
		if containsAny(lower, excludedActivityHints) {
			continue
		}
		if containsAny(lower, preferredActivityHints) {
			preferred = append(preferred, a)
		} else {
			other = append(other, a)
		}
	}
	if len(preferred) > 0 {
		return firstN(preferred, maxResolvedActivities)
	}
	return firstN(other, 1)
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

// qualify expands ".Name" to "pkg.Name" and drops duplicates
func qualify(pkg string, activities []string) []string {
	seen := make(map[string]bool, len(activities))
	out := make([]string, 0, len(activities))
	for _, a := range activities {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, ".") {
			a = pkg + a
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func withWildcard(list []string) []string {
	if len(list) > 0 && list[len(list)-1] == Wildcard {
		return list
	}
	return append(list, Wildcard)
}

func firstN(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
