package iconpack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultActivityTables(t *testing.T) {
	t.Parallel()

	tables, err := DefaultActivityTables()
	require.NoError(t, err)
	require.NotEmpty(t, tables.Overrides)
	require.NotEmpty(t, tables.Known)
	require.Equal(t, []string{"com.google.android.apps.chrome.Main"}, tables.Overrides["com.android.chrome"])
}

func TestActivityResolver_Order(t *testing.T) {
	t.Parallel()

	query := StaticPackages{}
	query.Add(PackageInfo{Name: "com.override", Launchable: []string{".Ignored"}})
	query.Add(PackageInfo{Name: "com.launch", Launchable: []string{".A", ".B", "com.launch.C", ".D"}})
	query.Add(PackageInfo{Name: "com.known", Activities: []string{".HomeActivity"}})
	query.Add(PackageInfo{Name: "com.guess", Activities: []string{
		".AdminActivity", ".DetailActivity", ".StartActivity", ".MainActivity", ".HomeScreen", ".LauncherAlias",
	}})
	query.Add(PackageInfo{Name: "com.other", Activities: []string{".TestRunner", ".Viewer", ".Editor"}})
	query.Add(PackageInfo{Name: "com.nothing"})
	query.Add(PackageInfo{Name: "com.excluded", Activities: []string{".SettingsActivity", ".DebugMenu"}})
	r := NewActivityResolver(query, &ActivityTables{
		Overrides: map[string][]string{"com.override": {".Real", "com.other.Activity"}},
		Known:     map[string][]string{"com.known": {".KnownMain"}},
	})

	tests := map[string][]string{
		"com.override": {"com.override.Real", "com.other.Activity"},
		"com.launch":   {"com.launch.A", "com.launch.B", "com.launch.C", Wildcard},
		"com.known":    {"com.known.KnownMain"},
		"com.guess":    {"com.guess.StartActivity", "com.guess.MainActivity", "com.guess.HomeScreen", Wildcard},
		"com.other":    {"com.other.Viewer", Wildcard},
		"com.nothing":  {"com.nothing.MainActivity", Wildcard},
		"com.excluded": {"com.excluded.MainActivity", Wildcard},
	}
	for pkg, want := range tests {
		got, err := r.Resolve(pkg)
		require.NoError(t, err, pkg)
		require.Equal(t, want, got, pkg)
	}
}

func TestActivityResolver_UnknownPackage(t *testing.T) {
	t.Parallel()

	r := NewActivityResolver(StaticPackages{}, nil)
	_, err := r.Resolve("com.missing")
	require.ErrorIs(t, err, ErrUnknownPackage)
}

func TestLoadActivityTables(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "activities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overrides:\n  com.a:\n    - .Main\n"), 0o644))

	tables, err := LoadActivityTables(path)
	require.NoError(t, err)
	require.Equal(t, []string{".Main"}, tables.Overrides["com.a"])
	require.Empty(t, tables.Known)

	require.NoError(t, os.WriteFile(path, []byte("known:\n  com.a: []\n"), 0o644))
	_, err = LoadActivityTables(path)
	require.Error(t, err)
}
