package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

const (
	localHeaderSignature     = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50

	localHeaderLen     = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22

	zipVersion20 = 20
	// version made by: Unix host, so external attributes carry a Unix mode
	creatorUnix  = 3<<8 | zipVersion20

	// general purpose flag bit 11: name is UTF-8
	flagUTF8 = 0x800

	// regular file, rw-r--r--
	fileExternalAttrs = 0o100644 << 16
	// directory, rwxr-xr-x, plus the MS-DOS directory bit
	dirExternalAttrs  = 0o040755<<16 | 0x10
)

var (
	// ErrTooLarge is returned for archives that would need ZIP64 records
	ErrTooLarge = errors.New("archive: entry or archive too large for ZIP32")

	errWriterClosed = errors.New("archive: writer closed")
)

// Writer writes a ZIP archive while tracking the absolute offset of every
// byte, so that entry data can be placed on an alignment boundary.
type Writer struct {
	cw        *countWriter
	dir       []dirRecord
	alignment int
	closed    bool
}

type dirRecord struct {
	name    string
	flags   uint16
	method  uint16
	modTime uint16
	modDate uint16
	crc32   uint32
	csize   uint32
	usize   uint32
	offset  uint32
	attrs   uint32
}

// NewWriter returns a Writer that writes an archive to w
func NewWriter(w io.Writer) *Writer {
	return &Writer{cw: &countWriter{w: w}}
}

// SetAlignment makes the data of every subsequent STORED entry start at an
// offset that is a multiple of n. Zero disables alignment.
func (w *Writer) SetAlignment(n int) {
	if n < 0 {
		n = 0
	}
	w.alignment = n
}

// Offset returns the number of bytes written so far
func (w *Writer) Offset() int64 {
	return w.cw.count
}

// WriteEntry writes the local header and payload of e.
// The payload is written verbatim; e must already be consistent.
func (w *Writer) WriteEntry(e *Entry) error {
	if w.closed {
		return errWriterClosed
	}
	if len(e.Path) > math.MaxUint16 {
		return fmt.Errorf("archive: name too long: %d bytes", len(e.Path))
	}
	if e.Size > math.MaxUint32 || e.CompressedSize > math.MaxUint32 || w.cw.count > math.MaxUint32 {
		return ErrTooLarge
	}
	if uint64(len(e.Data)) != e.CompressedSize {
		return fmt.Errorf("archive: %s: payload is %d bytes, header says %d", e.Path, len(e.Data), e.CompressedSize)
	}

	rec := dirRecord{
		name:   e.Path,
		method: uint16(e.Method),
		crc32:  e.CRC32,
		csize:  uint32(e.CompressedSize),
		usize:  uint32(e.Size),
		offset: uint32(w.cw.count),
		attrs:  fileExternalAttrs,
	}
	if e.IsDir() {
		rec.attrs = dirExternalAttrs
	}
	rec.modDate, rec.modTime = timeToMsDos(e.Modified)
	if !isASCII(e.Path) && utf8.ValidString(e.Path) {
		rec.flags |= flagUTF8
	}

	// Padding goes into the extra field so the data itself is untouched
	var pad int
	if e.Method == Stored && w.alignment > 0 && !e.IsDir() {
		pad = padding(w.cw.count+localHeaderLen+int64(len(e.Path)), w.alignment)
	}

	var buf [localHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(localHeaderSignature)
	b.uint16(zipVersion20)
	b.uint16(rec.flags)
	b.uint16(rec.method)
	b.uint16(rec.modTime)
	b.uint16(rec.modDate)
	b.uint32(rec.crc32)
	b.uint32(rec.csize)
	b.uint32(rec.usize)
	b.uint16(uint16(len(e.Path)))
	b.uint16(uint16(pad))
	if _, err := w.cw.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w.cw, e.Path); err != nil {
		return err
	}
	if pad > 0 {
		if _, err := w.cw.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	if _, err := w.cw.Write(e.Data); err != nil {
		return err
	}

	w.dir = append(w.dir, rec)
	return nil
}

// Close writes the central directory and end record.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return errWriterClosed
	}
	w.closed = true

	if len(w.dir) > math.MaxUint16 {
		return ErrTooLarge
	}

	start := w.cw.count
	for _, h := range w.dir {
		var buf [directoryHeaderLen]byte
		b := writeBuf(buf[:])
		b.uint32(directoryHeaderSignature)
		b.uint16(creatorUnix)
		b.uint16(zipVersion20)
		b.uint16(h.flags)
		b.uint16(h.method)
		b.uint16(h.modTime)
		b.uint16(h.modDate)
		b.uint32(h.crc32)
		b.uint32(h.csize)
		b.uint32(h.usize)
		b.uint16(uint16(len(h.name)))
		b.uint16(0) // extra
		b.uint16(0) // comment
		b.uint16(0) // disk number start
		b.uint16(0) // internal attributes
		b.uint32(h.attrs)
		b.uint32(h.offset)
		if _, err := w.cw.Write(buf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w.cw, h.name); err != nil {
			return err
		}
	}
	end := w.cw.count
	if end > math.MaxUint32 {
		return ErrTooLarge
	}

	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b = b[4:] // disk number and disk with the central directory
	b.uint16(uint16(len(w.dir)))
	b.uint16(uint16(len(w.dir)))
	b.uint32(uint32(end - start))
	b.uint32(uint32(start))
	b.uint16(0) // comment length
	_, err := w.cw.Write(buf[:])
	return err
}

// padding returns how many bytes must follow offset to reach a multiple of alignment
func padding(offset int64, alignment int) int {
	if alignment <= 1 {
		return 0
	}
	return int((int64(alignment) - offset%int64(alignment)) % int64(alignment))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

type writeBuf []byte

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}
