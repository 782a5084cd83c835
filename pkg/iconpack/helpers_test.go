package iconpack

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aluedeke/go-iconpack/pkg/archive"
)

func testPNG(t testing.TB, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// writeTemplate writes a three-file template APK
func writeTemplate(t testing.TB, path string) {
	t.Helper()
	require.NoError(t, archive.WriteEntries(path, []*archive.Entry{
		archive.NewStoredEntry("AndroidManifest.xml", []byte(`<manifest package="com.example.iconpack"/>`)),
		archive.NewStoredEntry("resources.arsc", bytes.Repeat([]byte{0x02, 0x00, 0x0c, 0x00}, 64)),
		archive.NewStoredEntry("classes.dex", []byte("dex\n035\x00")),
	}, 0))
}

func testCatalog() StaticPackages {
	return StaticPackages{
		"com.example.mail": {
			Name:       "com.example.mail",
			Label:      "Mail",
			Launchable: []string{".ui.InboxActivity"},
			Activities: []string{".ui.InboxActivity", ".ui.ComposeActivity", ".SettingsActivity"},
		},
		"com.example.notes": {
			Name:       "com.example.notes",
			Label:      "Notes & Lists",
			Activities: []string{"com.example.notes.DebugActivity", "com.example.notes.HomeActivity"},
		},
	}
}
