package iconpack

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aluedeke/go-iconpack/pkg/archive"
)

// ExportSession owns everything one export touches: the icons, copies of
// the mask layers and a private scratch directory. Sessions are not safe for
// concurrent use; separate sessions are independent.
type ExportSession struct {
	ID    string
	Icons IconAssetSet

	masks *CustomMaskAssets
	dir   string

	// Set by Export for diagnostics
	Inject *InjectResult
	Align  *archive.AlignResult
}

// newSession creates the scratch directory under root, removing any stale
// directory of the same name first
func newSession(root string) (*ExportSession, error) {
	if root == "" {
		root = os.TempDir()
	}
	id := uuid.NewString()
	dir := filepath.Join(root, "iconpack-"+id)

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear scratch directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &ExportSession{ID: id, dir: dir}, nil
}

// SetMasks stores deep copies of the mask layers; nil clears them
func (s *ExportSession) SetMasks(m *CustomMaskAssets) {
	s.masks = m.clone()
}

// Masks returns the session's own copy of the mask layers, or nil
func (s *ExportSession) Masks() *CustomMaskAssets {
	return s.masks
}

// Dir returns the scratch directory
func (s *ExportSession) Dir() string {
	return s.dir
}

// TreeDir is where the template is staged and resources are injected
func (s *ExportSession) TreeDir() string {
	return filepath.Join(s.dir, "tree")
}

func (s *ExportSession) unsignedPath() string { return filepath.Join(s.dir, "unsigned.apk") }
func (s *ExportSession) alignedPath() string  { return filepath.Join(s.dir, "aligned.apk") }
func (s *ExportSession) signedPath() string   { return filepath.Join(s.dir, "signed.apk") }

// Cleanup removes the scratch directory and every intermediate file in it
func (s *ExportSession) Cleanup() error {
	if s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}
	return nil
}
