package apksign

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"go.mozilla.org/pkcs7"

	"github.com/aluedeke/go-iconpack/pkg/archive"
)

// ErrNotSigned is returned by Verify for an archive without any signature
var ErrNotSigned = errors.New("apk is not signed")

// VerifyResult describes the signatures found on an APK
type VerifyResult struct {
	V1 bool
	V2 bool
	V3 bool
	// Certificate is the signer certificate shared by all schemes
	Certificate *x509.Certificate
	// MinSDK and MaxSDK come from the v3 signer
	MinSDK int
	MaxSDK int
}

// Schemes returns the verified scheme names, e.g. "v1, v2, v3"
func (r *VerifyResult) Schemes() string {
	var s []string
	for i, ok := range []bool{r.V1, r.V2, r.V3} {
		if ok {
			s = append(s, fmt.Sprintf("v%d", i+1))
		}
	}
	return strings.Join(s, ", ")
}

// Verify checks every signature present on the APK at path.
// Any signature that is present but invalid is an error.
func Verify(apkPath string) (*VerifyResult, error) {
	data, err := os.ReadFile(apkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read apk: %w", err)
	}

	layout, err := archive.ReadLayout(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{}
	var certs []*x509.Certificate

	v1Cert, signedSchemes, err := verifyV1(data)
	switch {
	case errors.Is(err, ErrNotSigned):
	case err != nil:
		return nil, fmt.Errorf("v1: %w", err)
	default:
		res.V1 = true
		certs = append(certs, v1Cert)
	}

	block, blockOffset, err := findSigningBlock(data, layout.CentralDirOffset)
	switch {
	case errors.Is(err, errNoSigningBlock):
	case err != nil:
		return nil, err
	default:
		pairs, err := signingBlockPairs(block)
		if err != nil {
			return nil, err
		}

		eocd := append([]byte(nil), layout.EOCD...)
		if err := archive.SetCentralDirOffset(eocd, blockOffset); err != nil {
			return nil, err
		}
		digest := computeContentDigest(data[:blockOffset], data[layout.CentralDirOffset:layout.EOCDOffset], eocd)

		_, hasV3 := pairs[apkSignatureSchemeV3BlockID]
		if value, ok := pairs[apkSignatureSchemeV2BlockID]; ok {
			s, err := verifySchemeBlock(value, digest, false)
			if err != nil {
				return nil, fmt.Errorf("v2: %w", err)
			}
			if s.strippedScheme == 3 && !hasV3 {
				return nil, errors.New("v2: signed with v3 but the v3 block was removed")
			}
			res.V2 = true
			certs = append(certs, s.cert)
		}
		if value, ok := pairs[apkSignatureSchemeV3BlockID]; ok {
			s, err := verifySchemeBlock(value, digest, true)
			if err != nil {
				return nil, fmt.Errorf("v3: %w", err)
			}
			res.V3 = true
			res.MinSDK = int(s.minSDK)
			res.MaxSDK = int(s.maxSDK)
			certs = append(certs, s.cert)
		}
	}

	if len(certs) == 0 {
		return nil, ErrNotSigned
	}
	for _, scheme := range signedSchemes {
		if (scheme == "2" && !res.V2) || (scheme == "3" && !res.V3) {
			return nil, fmt.Errorf("v1 signature claims scheme v%s which is missing", scheme)
		}
	}
	for _, c := range certs[1:] {
		if !c.Equal(certs[0]) {
			return nil, errors.New("schemes were signed with different certificates")
		}
	}
	res.Certificate = certs[0]
	return res, nil
}

// verifyV1 checks the JAR signature and returns its signer and the
// X-Android-APK-Signed scheme list
func verifyV1(data []byte) (*x509.Certificate, []string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	var sfName string
	for _, f := range zr.File {
		files[f.Name] = f
		if isSignatureFile(f.Name) && strings.EqualFold(path.Ext(f.Name), ".SF") && sfName == "" {
			sfName = f.Name
		}
	}
	if files[manifestPath] == nil || sfName == "" {
		return nil, nil, ErrNotSigned
	}

	var blockFile *zip.File
	base := strings.TrimSuffix(sfName, path.Ext(sfName))
	for _, ext := range []string{".RSA", ".EC", ".DSA"} {
		if f := files[base+ext]; f != nil {
			blockFile = f
			break
		}
	}
	if blockFile == nil {
		return nil, nil, fmt.Errorf("no signature block for %s", sfName)
	}

	manifest, err := readZipFile(files[manifestPath])
	if err != nil {
		return nil, nil, err
	}
	sf, err := readZipFile(files[sfName])
	if err != nil {
		return nil, nil, err
	}
	sigBlock, err := readZipFile(blockFile)
	if err != nil {
		return nil, nil, err
	}

	p7, err := pkcs7.Parse(sigBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", blockFile.Name, err)
	}
	p7.Content = sf
	if err := p7.Verify(); err != nil {
		return nil, nil, fmt.Errorf("signature over %s does not verify: %w", sfName, err)
	}
	cert := p7.GetOnlySigner()
	if cert == nil {
		return nil, nil, errors.New("signature block must have exactly one signer")
	}

	sfSections := parseSections(sf)
	if len(sfSections) == 0 {
		return nil, nil, fmt.Errorf("%s is empty", sfName)
	}
	if got, want := sfSections[0].attrs["SHA-256-Digest-Manifest"], digestB64(manifest); got != want {
		return nil, nil, errors.New("manifest digest in signature file does not match")
	}

	mfSections := parseSections(manifest)
	if len(mfSections) == 0 {
		return nil, nil, fmt.Errorf("%s is empty", manifestPath)
	}
	byName := make(map[string]parsedSection, len(mfSections))
	for _, s := range mfSections[1:] {
		byName[s.attrs["Name"]] = s
	}

	for _, s := range sfSections[1:] {
		name := s.attrs["Name"]
		section, ok := byName[name]
		if !ok {
			return nil, nil, fmt.Errorf("signature file names %s which is not in the manifest", name)
		}
		if s.attrs["SHA-256-Digest"] != digestB64(section.raw) {
			return nil, nil, fmt.Errorf("manifest section digest mismatch for %s", name)
		}
	}

	for name, f := range files {
		if isSignatureFile(name) || f.FileInfo().IsDir() {
			continue
		}
		section, ok := byName[name]
		if !ok {
			return nil, nil, fmt.Errorf("%s is not covered by the manifest", name)
		}
		content, err := readZipFile(f)
		if err != nil {
			return nil, nil, err
		}
		if section.attrs["SHA-256-Digest"] != digestB64(content) {
			return nil, nil, fmt.Errorf("digest mismatch for %s", name)
		}
		delete(byName, name)
	}
	for name := range byName {
		return nil, nil, fmt.Errorf("manifest names missing entry %s", name)
	}

	var schemes []string
	if v := sfSections[0].attrs[apkSignedAttr]; v != "" {
		for _, s := range strings.Split(v, ",") {
			schemes = append(schemes, strings.TrimSpace(s))
		}
	}
	return cert, schemes, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func digestB64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// lpReader reads the little-endian, uint32 length-prefixed fields of
// APK Signature Scheme blocks
type lpReader struct {
	buf []byte
}

func (r *lpReader) len() int { return len(r.buf) }

func (r *lpReader) uint32() (uint32, error) {
	if len(r.buf) < 4 {
		return 0, fmt.Errorf("remaining buffer too short for uint32: %d", len(r.buf))
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v, nil
}

func (r *lpReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(len(r.buf)) {
		return nil, fmt.Errorf("length-prefixed field longer than remaining buffer: %d > %d", n, len(r.buf))
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v, nil
}

func (r *lpReader) slice() (*lpReader, error) {
	b, err := r.bytes()
	if err != nil {
		return nil, err
	}
	return &lpReader{buf: b}, nil
}

type schemeSignerInfo struct {
	cert           *x509.Certificate
	minSDK         uint32
	maxSDK         uint32
	strippedScheme uint32
}

// verifySchemeBlock verifies the single signer of a v2 or v3 block against
// the computed content digest
func verifySchemeBlock(value, contentDigest []byte, v3 bool) (*schemeSignerInfo, error) {
	signers, err := (&lpReader{buf: value}).slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read list of signers: %w", err)
	}

	var info *schemeSignerInfo
	for n := 1; signers.len() > 0; n++ {
		signer, err := signers.slice()
		if err != nil {
			return nil, fmt.Errorf("failed to read signer #%d: %w", n, err)
		}
		if info, err = verifySigner(signer, contentDigest, v3); err != nil {
			return nil, fmt.Errorf("signer #%d: %w", n, err)
		}
	}
	if info == nil {
		return nil, errors.New("no signers found")
	}
	return info, nil
}

func verifySigner(signer *lpReader, contentDigest []byte, v3 bool) (*schemeSignerInfo, error) {
	info := &schemeSignerInfo{}

	signedData, err := signer.bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read signed data: %w", err)
	}
	if v3 {
		if info.minSDK, err = signer.uint32(); err != nil {
			return nil, err
		}
		if info.maxSDK, err = signer.uint32(); err != nil {
			return nil, err
		}
	}
	signatures, err := signer.slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read signatures: %w", err)
	}
	publicKeyBytes, err := signer.bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	publicKey, err := x509.ParsePKIXPublicKey(publicKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	var algorithm uint32
	var signature []byte
	for signatures.len() > 0 {
		record, err := signatures.slice()
		if err != nil {
			return nil, fmt.Errorf("failed to read signature record: %w", err)
		}
		algo, err := record.uint32()
		if err != nil {
			return nil, err
		}
		sig, err := record.bytes()
		if err != nil {
			return nil, err
		}
		if algo == sigRsaPkcs1V15WithSha256 || algo == sigEcdsaWithSha256 {
			algorithm, signature = algo, sig
		}
	}
	if signature == nil {
		return nil, errors.New("no supported signatures found")
	}
	if err := verifySignature(publicKey, algorithm, signedData, signature); err != nil {
		return nil, err
	}

	sd := &lpReader{buf: signedData}
	digests, err := sd.slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read digests: %w", err)
	}
	certs, err := sd.slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read certificates: %w", err)
	}
	if v3 {
		minSDK, err := sd.uint32()
		if err != nil {
			return nil, err
		}
		maxSDK, err := sd.uint32()
		if err != nil {
			return nil, err
		}
		if minSDK != info.minSDK || maxSDK != info.maxSDK {
			return nil, errors.New("SDK range differs between signer and signed data")
		}
	}
	attrs, err := sd.slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}

	var digestFound bool
	for digests.len() > 0 {
		record, err := digests.slice()
		if err != nil {
			return nil, fmt.Errorf("failed to read digest record: %w", err)
		}
		algo, err := record.uint32()
		if err != nil {
			return nil, err
		}
		value, err := record.bytes()
		if err != nil {
			return nil, err
		}
		if algo != algorithm {
			continue
		}
		if !bytes.Equal(value, contentDigest) {
			return nil, errors.New("content digest does not match")
		}
		digestFound = true
	}
	if !digestFound {
		return nil, errors.New("signature algorithms don't match between digests and signatures records")
	}

	certBytes, err := certs.bytes()
	if err != nil {
		return nil, errors.New("no certificates listed")
	}
	if info.cert, err = x509.ParseCertificate(certBytes); err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if !bytes.Equal(info.cert.RawSubjectPublicKeyInfo, publicKeyBytes) {
		return nil, errors.New("public key mismatch between certificate and signature record")
	}

	for attrs.len() > 0 {
		attr, err := attrs.slice()
		if err != nil {
			return nil, fmt.Errorf("failed to read attribute: %w", err)
		}
		id, err := attr.uint32()
		if err != nil {
			return nil, err
		}
		if !v3 && id == strippingProtectionAttrID {
			if info.strippedScheme, err = attr.uint32(); err != nil {
				return nil, err
			}
		}
	}
	return info, nil
}

func verifySignature(publicKey crypto.PublicKey, algorithm uint32, signedData, signature []byte) error {
	hashed := sha256.Sum256(signedData)
	switch algorithm {
	case sigRsaPkcs1V15WithSha256:
		pub, ok := publicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("algorithm 0x%04x needs an RSA key, got %T", algorithm, publicKey)
		}
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], signature); err != nil {
			return fmt.Errorf("RSA verification failed: %w", err)
		}
	case sigEcdsaWithSha256:
		pub, ok := publicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("algorithm 0x%04x needs an ECDSA key, got %T", algorithm, publicKey)
		}
		if !ecdsa.VerifyASN1(pub, hashed[:], signature) {
			return errors.New("ECDSA verification failed")
		}
	default:
		return fmt.Errorf("unsupported signature algorithm 0x%04x", algorithm)
	}
	return nil
}
