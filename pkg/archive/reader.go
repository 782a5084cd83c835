package archive

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

const (
	eocdCentralDirSizeOffset   = 12
	eocdCentralDirOffsetOffset = 16
	eocdCommentSizeOffset      = 20
)

// ErrEOCDNotFound is returned when no end of central directory record exists
var ErrEOCDNotFound = errors.New("archive: end of central directory not found")

// Layout describes where the central directory and end record of an archive live
type Layout struct {
	CentralDirOffset int64
	CentralDirSize   int64
	EOCDOffset       int64
	// EOCD is a copy of the end of central directory record, comment included
	EOCD []byte
}

// ReadLayout locates the end of central directory record and the central
// directory it points at. The record may be followed by a comment of up to
// 64 KiB, so the search starts with the common no-comment case.
func ReadLayout(r io.ReaderAt, size int64) (*Layout, error) {
	if size < directoryEndLen {
		return nil, fmt.Errorf("archive is too short (%d bytes): %w", size, ErrEOCDNotFound)
	}
	if l, err := findEOCD(r, size, 0); err == nil {
		return l, nil
	}
	return findEOCD(r, size, math.MaxUint16)
}

func findEOCD(r io.ReaderAt, size int64, maxCommentSize int) (*Layout, error) {
	maxCommentSize = int(min(int64(maxCommentSize), size-directoryEndLen))

	buf := make([]byte, directoryEndLen+maxCommentSize)
	bufOffset := size - int64(len(buf))
	if n, err := r.ReadAt(buf, bufOffset); n != len(buf) {
		return nil, fmt.Errorf("short read of end record: %w", err)
	}

	emptyCommentStart := len(buf) - directoryEndLen
	for commentSize := 0; commentSize <= maxCommentSize; commentSize++ {
		pos := emptyCommentStart - commentSize
		if binary.LittleEndian.Uint32(buf[pos:]) != directoryEndSignature {
			continue
		}
		if int(binary.LittleEndian.Uint16(buf[pos+eocdCommentSizeOffset:])) != commentSize {
			continue
		}

		l := &Layout{
			EOCDOffset:       bufOffset + int64(pos),
			CentralDirOffset: int64(binary.LittleEndian.Uint32(buf[pos+eocdCentralDirOffsetOffset:])),
			CentralDirSize:   int64(binary.LittleEndian.Uint32(buf[pos+eocdCentralDirSizeOffset:])),
			EOCD:             append([]byte(nil), buf[pos:]...),
		}
		if l.CentralDirOffset > l.EOCDOffset {
			return nil, fmt.Errorf("central directory offset %d is past end record at %d", l.CentralDirOffset, l.EOCDOffset)
		}
		if l.CentralDirOffset+l.CentralDirSize != l.EOCDOffset {
			return nil, errors.New("central directory is not immediately followed by the end record")
		}
		return l, nil
	}
	return nil, ErrEOCDNotFound
}

// SetCentralDirOffset rewrites the central directory offset field of an end record
func SetCentralDirOffset(eocd []byte, offset int64) error {
	if len(eocd) < directoryEndLen {
		return ErrEOCDNotFound
	}
	if offset > math.MaxUint32 {
		return ErrTooLarge
	}
	binary.LittleEndian.PutUint32(eocd[eocdCentralDirOffsetOffset:], uint32(offset))
	return nil
}

// ReadEntries returns every entry of the archive in central directory order.
// Payloads are read raw, so DEFLATED entries keep their compressed bytes.
func ReadEntries(archivePath string) ([]*Entry, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	entries := make([]*Entry, 0, len(r.File))
	for _, f := range r.File {
		e, err := readRawEntry(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readRawEntry(f *zip.File) (*Entry, error) {
	switch Method(f.Method) {
	case Stored, Deflated:
	default:
		return nil, fmt.Errorf("unsupported compression method %d", f.Method)
	}

	rc, err := f.OpenRaw()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Path:           f.Name,
		Data:           data,
		Method:         Method(f.Method),
		Size:           f.UncompressedSize64,
		CompressedSize: f.CompressedSize64,
		CRC32:          f.CRC32,
		Modified:       f.Modified,
	}, nil
}

// Extract materializes every entry of archivePath under destDir.
// Directory entries become empty directories.
func Extract(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	for _, f := range r.File {
		if err := extractZipFile(f, destDir); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractZipFile(f *zip.File, destDir string) error {
	// Sanitize the file path to prevent zip slip
	destPath := filepath.Join(destDir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("invalid file path: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	srcFile, err := f.Open()
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, srcFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}

// CheckAlignment returns the names of STORED entries whose data does not
// start on a multiple of alignment
func CheckAlignment(archivePath string, alignment int) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	var misaligned []string
	for _, f := range r.File {
		if Method(f.Method) != Stored || f.FileInfo().IsDir() {
			continue
		}
		offset, err := f.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("failed to locate %s: %w", f.Name, err)
		}
		if alignment > 1 && offset%int64(alignment) != 0 {
			misaligned = append(misaligned, f.Name)
		}
	}
	return misaligned, nil
}
