package iconpack

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aluedeke/go-iconpack/internal/logger"
	"github.com/aluedeke/go-iconpack/pkg/archive"
)

// ErrTemplateMissing is returned when the template archive cannot be read
var ErrTemplateMissing = errors.New("iconpack: template archive missing or unreadable")

// StageTemplate extracts the template archive into treeDir, replacing
// anything already there
func StageTemplate(ctx context.Context, templatePath, treeDir string) error {
	info, err := os.Stat(templatePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTemplateMissing, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrTemplateMissing, templatePath)
	}

	if err := os.RemoveAll(treeDir); err != nil {
		return fmt.Errorf("failed to clear working tree: %w", err)
	}
	if err := archive.Extract(templatePath, treeDir); err != nil {
		return fmt.Errorf("%w: %v", ErrTemplateMissing, err)
	}

	logger.DebugKV(ctx, "template staged", "template", templatePath, "tree", treeDir)
	return nil
}
