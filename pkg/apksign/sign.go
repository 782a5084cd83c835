package apksign

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluedeke/go-iconpack/pkg/archive"
)

// Options configures Sign
type Options struct {
	// Alignment for STORED entries in the signed output (default 4)
	Alignment int
	// MinSDK and MaxSDK bound the v3 signer (default 24..MaxInt32)
	MinSDK int
	MaxSDK int
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Alignment <= 0 {
		out.Alignment = archive.DefaultAlignment
	}
	if out.MinSDK <= 0 {
		out.MinSDK = DefaultMinSDK
	}
	if out.MaxSDK <= 0 {
		out.MaxSDK = DefaultMaxSDK
	}
	return out
}

// Sign writes a copy of input to output signed with v1, v2 and v3 signatures.
// Existing JAR signature files are replaced. On failure no output is left behind.
func Sign(identity *SigningIdentity, input, output string, opts *Options) error {
	if identity == nil || identity.Certificate == nil || identity.PrivateKey == nil {
		return errors.New("signing identity is incomplete")
	}
	o := opts.withDefaults()
	if o.MinSDK > o.MaxSDK {
		return fmt.Errorf("minSdk %d is above maxSdk %d", o.MinSDK, o.MaxSDK)
	}

	algorithm, err := identity.signatureAlgorithm()
	if err != nil {
		return err
	}

	entries, err := archive.ReadEntries(input)
	if err != nil {
		return err
	}

	// Drop the previous signature; directory entries are carried but not digested
	var kept, payload []*archive.Entry
	for _, e := range entries {
		if isSignatureFile(e.Path) {
			continue
		}
		kept = append(kept, e)
		if !e.IsDir() {
			payload = append(payload, e)
		}
	}
	if len(payload) == 0 {
		return errors.New("archive has no entries to sign")
	}

	v1, err := signV1(identity, payload, []int{2, 3})
	if err != nil {
		return fmt.Errorf("v1 signature: %w", err)
	}

	unsigned, err := writeArchive(append(v1.entries(), kept...), o.Alignment)
	if err != nil {
		return err
	}

	layout, err := archive.ReadLayout(bytes.NewReader(unsigned), int64(len(unsigned)))
	if err != nil {
		return err
	}
	beforeCentralDir := unsigned[:layout.CentralDirOffset]
	centralDir := unsigned[layout.CentralDirOffset:layout.EOCDOffset]

	signer := &schemeSigner{
		identity:  identity,
		algorithm: algorithm,
		digest:    computeContentDigest(beforeCentralDir, centralDir, layout.EOCD),
		minSDK:    uint32(o.MinSDK),
		maxSDK:    uint32(o.MaxSDK),
	}

	v2, err := signer.v2Block(true)
	if err != nil {
		return fmt.Errorf("v2 signature: %w", err)
	}
	v3, err := signer.v3Block()
	if err != nil {
		return fmt.Errorf("v3 signature: %w", err)
	}
	block := buildSigningBlock([]idValue{
		{id: apkSignatureSchemeV2BlockID, value: v2},
		{id: apkSignatureSchemeV3BlockID, value: v3},
	})

	eocd := append([]byte(nil), layout.EOCD...)
	if err := archive.SetCentralDirOffset(eocd, layout.CentralDirOffset+int64(len(block))); err != nil {
		return err
	}

	return writeFileAtomic(output, beforeCentralDir, block, centralDir, eocd)
}

func writeArchive(entries []*archive.Entry, alignment int) ([]byte, error) {
	var buf bytes.Buffer
	w := archive.NewWriter(&buf)
	w.SetAlignment(alignment)
	for _, e := range entries {
		if err := w.WriteEntry(e); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", e.Path, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to write central directory: %w", err)
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes parts to a temp file next to path and renames it into place
func writeFileAtomic(path string, parts ...[]byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set output permissions: %w", err)
	}

	for _, p := range parts {
		if _, err := tmp.Write(p); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
