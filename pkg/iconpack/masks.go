package iconpack

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// Mask file names as icon pack launchers look them up
const (
	IconBackName = "iconback"
	IconMaskName = "iconmask"
	IconUponName = "iconupon"
)

// CustomMaskAssets are the optional layers a launcher composes around icons
// it has no themed drawable for
type CustomMaskAssets struct {
	Background image.Image
	Mask       image.Image
	Foreground image.Image
}

// IsEmpty reports whether no layer is set
func (m *CustomMaskAssets) IsEmpty() bool {
	return m == nil || (m.Background == nil && m.Mask == nil && m.Foreground == nil)
}

// clone deep-copies every layer so later changes by the caller are not seen
func (m *CustomMaskAssets) clone() *CustomMaskAssets {
	if m.IsEmpty() {
		return nil
	}
	return &CustomMaskAssets{
		Background: cloneImage(m.Background),
		Mask:       cloneImage(m.Mask),
		Foreground: cloneImage(m.Foreground),
	}
}

// layers returns the set layers keyed by their drawable name
func (m *CustomMaskAssets) layers() []maskLayer {
	if m == nil {
		return nil
	}
	var out []maskLayer
	for _, l := range []maskLayer{
		{IconBackName, m.Background},
		{IconMaskName, m.Mask},
		{IconUponName, m.Foreground},
	} {
		if l.img != nil {
			out = append(out, l)
		}
	}
	return out
}

type maskLayer struct {
	name string
	img  image.Image
}

func cloneImage(src image.Image) image.Image {
	if src == nil {
		return nil
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// scaleImage resamples src to a size x size square
func scaleImage(src image.Image, size int) image.Image {
	if b := src.Bounds(); b.Dx() == size && b.Dy() == size {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
