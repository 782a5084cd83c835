package archive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BuildStored creates an archive at outputPath from every regular file under
// sourceDir. All entries use the STORED method so that a later alignment pass
// can pad them without recompressing. Entry names are slash-separated paths
// relative to sourceDir, in lexical order. On failure the partial output is
// removed.
func BuildStored(sourceDir, outputPath string) (err error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to read source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", sourceDir)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := outFile.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	bw := bufio.NewWriter(outFile)
	w := NewWriter(bw)

	// filepath.Walk visits entries in lexical order, which keeps output reproducible
	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Only regular files become entries; directories are implied by paths
		if !info.Mode().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		return w.WriteEntry(NewStoredEntry(filepath.ToSlash(relPath), content))
	})
	if err != nil {
		return fmt.Errorf("failed to add files: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write central directory: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

// WriteEntries writes entries to a new archive at outputPath, aligning STORED
// data to alignment (zero disables). The partial output is removed on failure.
func WriteEntries(outputPath string, entries []*Entry, alignment int) (err error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := outFile.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	bw := bufio.NewWriter(outFile)
	w := NewWriter(bw)
	w.SetAlignment(alignment)

	for _, e := range entries {
		if err := w.WriteEntry(e); err != nil {
			return fmt.Errorf("failed to write %s: %w", e.Path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write central directory: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

// CopyFile copies src to dst through a temporary file in dst's directory,
// so src and dst may name the same file and dst is never left half written.
func CopyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := io.Copy(tmp, srcFile); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// sameFile reports whether a and b name the same existing file
func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
