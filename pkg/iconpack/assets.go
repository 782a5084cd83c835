package iconpack

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ErrInvalidPNG is returned when icon data is not a PNG image
var ErrInvalidPNG = errors.New("iconpack: data is not a PNG image")

// IconAsset is one themed icon waiting to be packaged
type IconAsset struct {
	// Index is the 1-based insertion position
	Index       int
	PackageName string
	PNG         []byte
}

// IconAssetSet is an ordered, append-only list of icons. The order it
// returns is the order drawables are numbered in.
type IconAssetSet struct {
	items []IconAsset
}

// Add appends PNG data for pkg and returns its 1-based index
func (s *IconAssetSet) Add(pkg string, data []byte) (int, error) {
	if pkg == "" {
		return 0, errors.New("iconpack: package name is empty")
	}
	if !bytes.HasPrefix(data, pngSignature) {
		return 0, fmt.Errorf("%s: %w", pkg, ErrInvalidPNG)
	}

	idx := len(s.items) + 1
	s.items = append(s.items, IconAsset{
		Index:       idx,
		PackageName: pkg,
		PNG:         bytes.Clone(data),
	})
	return idx, nil
}

// AddImage encodes img as PNG and appends it
func (s *IconAssetSet) AddImage(pkg string, img image.Image) (int, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return 0, fmt.Errorf("failed to encode icon for %s: %w", pkg, err)
	}
	return s.Add(pkg, buf.Bytes())
}

// Len returns the number of icons in the set
func (s *IconAssetSet) Len() int {
	return len(s.items)
}

// Items returns the icons in insertion order
func (s *IconAssetSet) Items() []IconAsset {
	out := make([]IconAsset, len(s.items))
	copy(out, s.items)
	return out
}
