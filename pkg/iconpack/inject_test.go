package iconpack

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type parsedResources struct {
	IconBack *struct {
		Img1 string `xml:"img1,attr"`
	} `xml:"iconback"`
	Scale *struct {
		Factor string `xml:"factor,attr"`
	} `xml:"scale"`
	Items []struct {
		Component string `xml:"component,attr"`
		Drawable  string `xml:"drawable,attr"`
		Name      string `xml:"name,attr"`
	} `xml:"item"`
}

func readResources(t *testing.T, path string) parsedResources {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc parsedResources
	require.NoError(t, xml.Unmarshal(data, &doc))
	return doc
}

func newTestSession(t *testing.T) *ExportSession {
	t.Helper()
	s, err := newSession(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Cleanup() })
	return s
}

func TestInject_OrderAndMetadata(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	_, err := s.Icons.Add("com.example.mail", testPNG(t, color.White))
	require.NoError(t, err)
	_, err = s.Icons.Add("com.unknown.app", testPNG(t, color.Black))
	require.NoError(t, err)
	_, err = s.Icons.Add("com.example.notes", testPNG(t, color.Black))
	require.NoError(t, err)

	in := NewInjector(NewActivityResolver(testCatalog(), nil))
	in.WriteUnfiltered = true
	in.ScaleFactor = 0.75

	tree := t.TempDir()
	res, err := in.Inject(context.Background(), tree, s)
	require.NoError(t, err)
	require.Equal(t, 3, res.Drawables)
	require.Equal(t, []string{"com.unknown.app"}, res.Skipped)
	require.Zero(t, res.Truncated)

	for i := 1; i <= 3; i++ {
		require.FileExists(t, filepath.Join(tree, DefaultImageDir, fmt.Sprintf("icon_%04d.png", i)))
	}

	filter := readResources(t, filepath.Join(tree, AssetsDir, AppFilterFile))
	require.Nil(t, filter.IconBack)
	require.NotNil(t, filter.Scale)
	require.Equal(t, "0.75", filter.Scale.Factor)

	var components, drawables []string
	for _, it := range filter.Items {
		components = append(components, it.Component)
		drawables = append(drawables, it.Drawable)
	}
	require.Equal(t, []string{
		"ComponentInfo{com.example.mail/com.example.mail.ui.InboxActivity}",
		"ComponentInfo{com.example.mail/*}",
		"ComponentInfo{com.example.notes/com.example.notes.HomeActivity}",
		"ComponentInfo{com.example.notes/*}",
	}, components)
	require.Equal(t, []string{"icon_0001", "icon_0001", "icon_0003", "icon_0003"}, drawables)

	names := readResources(t, filepath.Join(tree, AssetsDir, DrawableFile))
	require.Len(t, names.Items, 3)
	require.Equal(t, "icon_0001", names.Items[0].Drawable)
	require.Equal(t, "Mail", names.Items[0].Name)
	require.Equal(t, "com.unknown.app", names.Items[1].Name)
	require.Equal(t, "Notes Lists", names.Items[2].Name)

	unfiltered := readResources(t, filepath.Join(tree, AssetsDir, UnfilteredMapFile))
	require.Len(t, unfiltered.Items, 5)
	require.Equal(t, "ComponentInfo{com.example.mail/com.example.mail.SettingsActivity}", unfiltered.Items[2].Component)
}

func TestInject_FailedWriteKeepsNumbering(t *testing.T) {
	t.Parallel()

	notesPNG := testPNG(t, color.Black)
	s := newTestSession(t)
	_, err := s.Icons.Add("com.example.mail", testPNG(t, color.White))
	require.NoError(t, err)
	_, err = s.Icons.Add("com.example.notes", notesPNG)
	require.NoError(t, err)
	_, err = s.Icons.Add("com.example.chat", testPNG(t, color.Gray{Y: 0x80}))
	require.NoError(t, err)

	query := testCatalog()
	query.Add(PackageInfo{Name: "com.example.chat", Label: "Chat", Launchable: []string{".Main"}})

	in := NewInjector(NewActivityResolver(query, nil))
	in.writeFile = func(name string, data []byte, perm os.FileMode) error {
		if bytes.Equal(data, notesPNG) {
			return errors.New("no space left on device")
		}
		return os.WriteFile(name, data, perm)
	}

	tree := t.TempDir()
	res, err := in.Inject(context.Background(), tree, s)
	require.NoError(t, err)
	require.Equal(t, 2, res.Drawables)
	require.Equal(t, []string{"com.example.notes"}, res.Skipped)

	imageDir := filepath.Join(tree, DefaultImageDir)
	require.FileExists(t, filepath.Join(imageDir, "icon_0001.png"))
	require.FileExists(t, filepath.Join(imageDir, "icon_0002.png"))
	require.NoFileExists(t, filepath.Join(imageDir, "icon_0003.png"))

	names := readResources(t, filepath.Join(tree, AssetsDir, DrawableFile))
	require.Len(t, names.Items, 2)
	require.Equal(t, "icon_0001", names.Items[0].Drawable)
	require.Equal(t, "Mail", names.Items[0].Name)
	require.Equal(t, "icon_0002", names.Items[1].Drawable)
	require.Equal(t, "Chat", names.Items[1].Name)

	filter := readResources(t, filepath.Join(tree, AssetsDir, AppFilterFile))
	var chat []string
	for _, it := range filter.Items {
		require.NotContains(t, it.Component, "com.example.notes")
		if it.Drawable == "icon_0002" {
			chat = append(chat, it.Component)
		}
	}
	require.Equal(t, []string{
		"ComponentInfo{com.example.chat/com.example.chat.Main}",
		"ComponentInfo{com.example.chat/*}",
	}, chat)
}

func TestInject_Masks(t *testing.T) {
	t.Parallel()

	back := image.NewNRGBA(image.Rect(0, 0, 512, 512))
	s := newTestSession(t)
	s.SetMasks(&CustomMaskAssets{Background: back})

	// Later changes by the caller do not reach the session
	back.Set(0, 0, color.White)
	require.Equal(t, color.NRGBA{}, s.Masks().Background.At(0, 0))

	in := NewInjector(NewActivityResolver(testCatalog(), nil))
	tree := t.TempDir()
	res, err := in.Inject(context.Background(), tree, s)
	require.NoError(t, err)
	require.Equal(t, []string{IconBackName}, res.Masks)

	f, err := os.Open(filepath.Join(tree, DefaultImageDir, "iconback.png"))
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	require.Equal(t, DefaultIconSize, cfg.Width)
	require.Equal(t, DefaultIconSize, cfg.Height)

	filter := readResources(t, filepath.Join(tree, AssetsDir, AppFilterFile))
	require.NotNil(t, filter.IconBack)
	require.Equal(t, IconBackName, filter.IconBack.Img1)
	require.NoFileExists(t, filepath.Join(tree, AssetsDir, UnfilteredMapFile))
}

func TestInject_CapTruncates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping 2001-icon run in short mode")
	}
	t.Parallel()

	icon := testPNG(t, color.White)
	query := StaticPackages{}
	s := newTestSession(t)
	for i := 0; i < 2001; i++ {
		pkg := fmt.Sprintf("com.example.app%04d", i)
		query.Add(PackageInfo{Name: pkg})
		_, err := s.Icons.Add(pkg, icon)
		require.NoError(t, err)
	}

	in := NewInjector(NewActivityResolver(query, nil))
	require.Equal(t, 2000, in.MaxIcons)

	tree := t.TempDir()
	res, err := in.Inject(context.Background(), tree, s)
	require.NoError(t, err)
	require.Equal(t, 2000, res.Drawables)
	require.Equal(t, 1, res.Truncated)

	files, err := os.ReadDir(filepath.Join(tree, DefaultImageDir))
	require.NoError(t, err)
	require.Len(t, files, 2000)
	require.NoFileExists(t, filepath.Join(tree, DefaultImageDir, "icon_2001.png"))

	names := readResources(t, filepath.Join(tree, AssetsDir, DrawableFile))
	require.Len(t, names.Items, 2000)
	require.Equal(t, "icon_2000", names.Items[1999].Drawable)

	// pkg.MainActivity plus the wildcard for each package
	filter := readResources(t, filepath.Join(tree, AssetsDir, AppFilterFile))
	require.Len(t, filter.Items, 4000)
}

func TestIconAssetSet(t *testing.T) {
	t.Parallel()

	var set IconAssetSet
	data := testPNG(t, color.White)

	idx, err := set.Add("com.a", data)
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	_, err = set.Add("com.bad", []byte("GIF89a"))
	require.ErrorIs(t, err, ErrInvalidPNG)

	idx, err = set.AddImage("com.b", image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	require.Equal(t, 2, idx)

	// The set keeps its own copy
	data[len(data)-1] ^= 0xff
	items := set.Items()
	require.Len(t, items, 2)
	require.NotEqual(t, data, items[0].PNG)
	require.Equal(t, "com.b", items[1].PackageName)
}
