package archive

import (
	"bytes"
	"compress/flate"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

// Method is a ZIP compression method
type Method uint16

const (
	// Stored entries hold their bytes uncompressed
	Stored Method = 0
	// Deflated entries hold raw DEFLATE data
	Deflated Method = 8
)

func (m Method) String() string {
	switch m {
	case Stored:
		return "STORED"
	case Deflated:
		return "DEFLATED"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// dosEpoch is the earliest time representable in a ZIP header.
// BuildStored stamps every entry with it so output is reproducible.
var dosEpoch = time.Date(1981, time.January, 1, 0, 0, 0, 0, time.UTC)

// Entry is a single file inside an archive.
// Data holds the payload as it appears in the archive: for Deflated entries
// it is the compressed stream.
type Entry struct {
	Path           string
	Data           []byte
	Method         Method
	Size           uint64
	CompressedSize uint64
	CRC32          uint32
	Modified       time.Time
}

// NewStoredEntry creates a STORED entry for content, computing its CRC and sizes
func NewStoredEntry(path string, content []byte) *Entry {
	return &Entry{
		Path:           path,
		Data:           content,
		Method:         Stored,
		Size:           uint64(len(content)),
		CompressedSize: uint64(len(content)),
		CRC32:          crc32.ChecksumIEEE(content),
		Modified:       dosEpoch,
	}
}

// Validate checks the STORED invariant: sizes match and the CRC covers Data
func (e *Entry) Validate() error {
	if uint64(len(e.Data)) != e.CompressedSize {
		return fmt.Errorf("%s: payload is %d bytes, header says %d", e.Path, len(e.Data), e.CompressedSize)
	}
	if e.Method != Stored {
		return nil
	}
	if e.Size != e.CompressedSize {
		return fmt.Errorf("%s: stored entry size %d != compressed size %d", e.Path, e.Size, e.CompressedSize)
	}
	if sum := crc32.ChecksumIEEE(e.Data); sum != e.CRC32 {
		return fmt.Errorf("%s: crc32 %08x does not match data %08x", e.Path, e.CRC32, sum)
	}
	return nil
}

// Open returns a reader over the uncompressed content of the entry
func (e *Entry) Open() (io.ReadCloser, error) {
	switch e.Method {
	case Stored:
		return io.NopCloser(bytes.NewReader(e.Data)), nil
	case Deflated:
		return flate.NewReader(bytes.NewReader(e.Data)), nil
	default:
		return nil, fmt.Errorf("%s: unsupported compression %s", e.Path, e.Method)
	}
}

// Content returns the uncompressed bytes of the entry
func (e *Entry) Content() ([]byte, error) {
	if e.Method == Stored {
		return e.Data, nil
	}
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate %s: %w", e.Path, err)
	}
	if uint64(len(content)) != e.Size {
		return nil, fmt.Errorf("%s: inflated %d bytes, expected %d", e.Path, len(content), e.Size)
	}
	return content, nil
}

// IsDir reports whether the entry is a directory marker
func (e *Entry) IsDir() bool {
	return len(e.Path) > 0 && e.Path[len(e.Path)-1] == '/'
}

// timeToMsDos converts t to the MS-DOS date and time fields of a ZIP header
func timeToMsDos(t time.Time) (fDate uint16, fTime uint16) {
	if t.IsZero() || t.Before(dosEpoch) {
		t = dosEpoch
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}
