package apksign

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.mozilla.org/pkcs7"

	"github.com/aluedeke/go-iconpack/pkg/archive"
)

// JAR signature file locations
const (
	metaInfDir   = "META-INF/"
	manifestPath = "META-INF/MANIFEST.MF"
	sigFilePath  = "META-INF/CERT.SF"

	createdBy = "1.0 (Android)"

	// manifest lines may not exceed 72 bytes; continuation lines start with a space
	maxManifestLine = 72

	// tells v2-aware verifiers that v1 alone must not be trusted
	apkSignedAttr = "X-Android-APK-Signed"
)

// isSignatureFile reports whether name belongs to a JAR signature
func isSignatureFile(name string) bool {
	if !strings.HasPrefix(name, metaInfDir) || strings.Contains(name[len(metaInfDir):], "/") {
		return false
	}
	if name == manifestPath {
		return true
	}
	switch strings.ToUpper(path.Ext(name)) {
	case ".SF", ".RSA", ".DSA", ".EC":
		return true
	}
	return false
}

// v1Signature holds the three files of a JAR signature
type v1Signature struct {
	manifest  []byte
	sigFile   []byte
	block     []byte
	blockName string
}

// entries returns the signature files as STORED archive entries, manifest first
func (s *v1Signature) entries() []*archive.Entry {
	return []*archive.Entry{
		archive.NewStoredEntry(manifestPath, s.manifest),
		archive.NewStoredEntry(sigFilePath, s.sigFile),
		archive.NewStoredEntry(metaInfDir+s.blockName, s.block),
	}
}

// signV1 builds the JAR signature over entries. Directory entries and
// existing signature files must already be filtered out. schemes lists the
// APK Signature Scheme versions that will be applied on top.
func signV1(identity *SigningIdentity, entries []*archive.Entry, schemes []int) (*v1Signature, error) {
	manifest, sections, err := buildManifest(entries)
	if err != nil {
		return nil, err
	}

	sigFile := buildSignatureFile(manifest, sections, schemes)

	signedData, err := pkcs7.NewSignedData(sigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed data: %w", err)
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	var parents []*x509.Certificate
	if len(identity.CertChain) > 1 {
		parents = identity.CertChain[1:]
	}
	if err := signedData.AddSignerChain(identity.Certificate, identity.PrivateKey, parents, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("failed to add signer: %w", err)
	}

	// The signature block covers CERT.SF, which is stored next to it
	signedData.Detach()

	block, err := signedData.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish signature block: %w", err)
	}

	return &v1Signature{
		manifest:  manifest,
		sigFile:   sigFile,
		block:     block,
		blockName: identity.v1BlockName(),
	}, nil
}

type manifestSection struct {
	name string
	raw  []byte
}

// buildManifest writes MANIFEST.MF with a SHA-256 digest per entry, sorted by name
func buildManifest(entries []*archive.Entry) ([]byte, []manifestSection, error) {
	sorted := make([]*archive.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	writeAttr(&buf, "Manifest-Version", "1.0")
	writeAttr(&buf, "Created-By", createdBy)
	buf.WriteString("\r\n")

	sections := make([]manifestSection, 0, len(sorted))
	for _, e := range sorted {
		content, err := e.Content()
		if err != nil {
			return nil, nil, err
		}
		digest := sha256.Sum256(content)

		var section bytes.Buffer
		writeAttr(&section, "Name", e.Path)
		writeAttr(&section, "SHA-256-Digest", base64.StdEncoding.EncodeToString(digest[:]))
		section.WriteString("\r\n")

		sections = append(sections, manifestSection{name: e.Path, raw: section.Bytes()})
		buf.Write(section.Bytes())
	}

	return buf.Bytes(), sections, nil
}

// buildSignatureFile writes CERT.SF: a digest of the whole manifest and of each section
func buildSignatureFile(manifest []byte, sections []manifestSection, schemes []int) []byte {
	manifestDigest := sha256.Sum256(manifest)

	var buf bytes.Buffer
	writeAttr(&buf, "Signature-Version", "1.0")
	writeAttr(&buf, "Created-By", createdBy)
	writeAttr(&buf, "SHA-256-Digest-Manifest", base64.StdEncoding.EncodeToString(manifestDigest[:]))
	if len(schemes) > 0 {
		ids := make([]string, len(schemes))
		for i, s := range schemes {
			ids[i] = fmt.Sprint(s)
		}
		writeAttr(&buf, apkSignedAttr, strings.Join(ids, ", "))
	}
	buf.WriteString("\r\n")

	for _, s := range sections {
		digest := sha256.Sum256(s.raw)
		writeAttr(&buf, "Name", s.name)
		writeAttr(&buf, "SHA-256-Digest", base64.StdEncoding.EncodeToString(digest[:]))
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// writeAttr writes "name: value" wrapped at 72 bytes per line
func writeAttr(buf *bytes.Buffer, name, value string) {
	line := name + ": " + value
	limit := maxManifestLine
	for {
		n := min(limit, len(line))
		buf.WriteString(line[:n])
		buf.WriteString("\r\n")
		line = line[n:]
		if line == "" {
			return
		}
		buf.WriteByte(' ')
		limit = maxManifestLine - 1
	}
}

// parseSections splits a manifest or signature file into sections.
// Each section keeps its raw bytes (including the blank line that ends it)
// and its attributes with continuation lines unfolded.
func parseSections(data []byte) []parsedSection {
	var sections []parsedSection
	for _, raw := range bytes.SplitAfter(data, []byte("\r\n\r\n")) {
		if len(raw) == 0 {
			continue
		}
		s := parsedSection{raw: raw, attrs: make(map[string]string)}

		var lines []string
		for _, line := range strings.Split(strings.TrimRight(string(raw), "\r\n"), "\r\n") {
			if strings.HasPrefix(line, " ") && len(lines) > 0 {
				lines[len(lines)-1] += line[1:]
				continue
			}
			lines = append(lines, line)
		}
		for _, line := range lines {
			if k, v, ok := strings.Cut(line, ": "); ok {
				s.attrs[k] = v
			}
		}
		sections = append(sections, s)
	}
	return sections
}

type parsedSection struct {
	raw   []byte
	attrs map[string]string
}
