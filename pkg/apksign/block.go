package apksign

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// https://source.android.com/docs/security/features/apksigning/v2
// https://source.android.com/docs/security/features/apksigning/v3

const (
	apkSigBlockMagicHi = 0x3234206b636f6c42 // "Block 42"
	apkSigBlockMagicLo = 0x20676953204b5041 // "APK Sig "
	apkSigBlockMinSize = 32

	apkSignatureSchemeV2BlockID = 0x7109871a
	apkSignatureSchemeV3BlockID = 0xf05368c0

	// v2 signed-data attribute naming the highest scheme also present
	strippingProtectionAttrID = 0xbeeff00d

	sigRsaPkcs1V15WithSha256 = 0x0103
	sigEcdsaWithSha256       = 0x0201

	chunkSize = 1024 * 1024

	// DefaultMinSDK is the first platform release that understands v3
	DefaultMinSDK = 24
	// DefaultMaxSDK leaves the v3 signer open-ended
	DefaultMaxSDK = math.MaxInt32
)

var errNoSigningBlock = errors.New("no APK Signing Block before the central directory")

// computeContentDigest returns the chunked SHA-256 digest of the given
// sections: every 1 MiB chunk is hashed with a 0xa5 prefix and its length,
// then the chunk digests are hashed with a 0x5a prefix and the chunk count.
func computeContentDigest(sections ...[]byte) []byte {
	var chunkCount int
	for _, s := range sections {
		chunkCount += (len(s) + chunkSize - 1) / chunkSize
	}

	digestsOfChunks := make([]byte, 5, 5+chunkCount*sha256.Size)
	digestsOfChunks[0] = 0x5a
	binary.LittleEndian.PutUint32(digestsOfChunks[1:], uint32(chunkCount))

	prefix := make([]byte, 5)
	prefix[0] = 0xa5
	h := sha256.New()
	for _, s := range sections {
		for len(s) > 0 {
			n := min(len(s), chunkSize)
			binary.LittleEndian.PutUint32(prefix[1:], uint32(n))

			h.Reset()
			h.Write(prefix)
			h.Write(s[:n])
			digestsOfChunks = h.Sum(digestsOfChunks)
			s = s[n:]
		}
	}

	sum := sha256.Sum256(digestsOfChunks)
	return sum[:]
}

// lengthPrefixed writes uint32 little-endian length-prefixed records
type lengthPrefixed struct {
	bytes.Buffer
}

func (b *lengthPrefixed) uint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func (b *lengthPrefixed) bytes(p []byte) {
	b.uint32(uint32(len(p)))
	b.Write(p)
}

// schemeSigner holds what v2 and v3 signers need
type schemeSigner struct {
	identity  *SigningIdentity
	algorithm uint32
	digest    []byte
	minSDK    uint32
	maxSDK    uint32
}

func (s *schemeSigner) encodedCertificates() []byte {
	var certs lengthPrefixed
	for _, c := range s.identity.CertChain {
		certs.bytes(c.Raw)
	}
	return certs.Bytes()
}

func (s *schemeSigner) encodedDigests() []byte {
	var digest lengthPrefixed
	digest.uint32(s.algorithm)
	digest.bytes(s.digest)

	var digests lengthPrefixed
	digests.bytes(digest.Bytes())
	return digests.Bytes()
}

func (s *schemeSigner) sign(signedData []byte) ([]byte, error) {
	hashed := sha256.Sum256(signedData)
	sig, err := s.identity.PrivateKey.Sign(rand.Reader, hashed[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	var record lengthPrefixed
	record.uint32(s.algorithm)
	record.bytes(sig)

	var signatures lengthPrefixed
	signatures.bytes(record.Bytes())
	return signatures.Bytes(), nil
}

// v2Block builds the APK Signature Scheme v2 block value
func (s *schemeSigner) v2Block(withV3 bool) ([]byte, error) {
	var attrs lengthPrefixed
	if withV3 {
		var attr lengthPrefixed
		attr.uint32(strippingProtectionAttrID)
		attr.uint32(3)
		attrs.bytes(attr.Bytes())
	}

	var signedData lengthPrefixed
	signedData.bytes(s.encodedDigests())
	signedData.bytes(s.encodedCertificates())
	signedData.bytes(attrs.Bytes())

	signatures, err := s.sign(signedData.Bytes())
	if err != nil {
		return nil, err
	}

	var signer lengthPrefixed
	signer.bytes(signedData.Bytes())
	signer.bytes(signatures)
	signer.bytes(s.identity.Certificate.RawSubjectPublicKeyInfo)

	return wrapSigners(signer.Bytes()), nil
}

// v3Block builds the APK Signature Scheme v3 block value
func (s *schemeSigner) v3Block() ([]byte, error) {
	var signedData lengthPrefixed
	signedData.bytes(s.encodedDigests())
	signedData.bytes(s.encodedCertificates())
	signedData.uint32(s.minSDK)
	signedData.uint32(s.maxSDK)
	signedData.bytes(nil) // additional attributes

	signatures, err := s.sign(signedData.Bytes())
	if err != nil {
		return nil, err
	}

	var signer lengthPrefixed
	signer.bytes(signedData.Bytes())
	signer.uint32(s.minSDK)
	signer.uint32(s.maxSDK)
	signer.bytes(signatures)
	signer.bytes(s.identity.Certificate.RawSubjectPublicKeyInfo)

	return wrapSigners(signer.Bytes()), nil
}

// wrapSigners encodes a sequence holding a single signer
func wrapSigners(signer []byte) []byte {
	var signers lengthPrefixed
	signers.bytes(signer)

	var block lengthPrefixed
	block.bytes(signers.Bytes())
	return block.Bytes()
}

type idValue struct {
	id    uint32
	value []byte
}

// buildSigningBlock wraps id-value pairs in an APK Signing Block
func buildSigningBlock(pairs []idValue) []byte {
	var body bytes.Buffer
	var tmp [8]byte
	for _, p := range pairs {
		binary.LittleEndian.PutUint64(tmp[:], uint64(len(p.value)+4))
		body.Write(tmp[:])
		binary.LittleEndian.PutUint32(tmp[:4], p.id)
		body.Write(tmp[:4])
		body.Write(p.value)
	}

	// size excludes the leading size field itself
	size := uint64(body.Len() + 8 + 16)

	var block bytes.Buffer
	binary.LittleEndian.PutUint64(tmp[:], size)
	block.Write(tmp[:])
	block.Write(body.Bytes())
	block.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], apkSigBlockMagicLo)
	block.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], apkSigBlockMagicHi)
	block.Write(tmp[:])
	return block.Bytes()
}

// findSigningBlock returns the APK Signing Block that ends at centralDirOffset
// and the offset where it starts
func findSigningBlock(data []byte, centralDirOffset int64) ([]byte, int64, error) {
	if centralDirOffset < apkSigBlockMinSize || centralDirOffset > int64(len(data)) {
		return nil, 0, errNoSigningBlock
	}

	footer := data[centralDirOffset-24 : centralDirOffset]
	if binary.LittleEndian.Uint64(footer[8:]) != apkSigBlockMagicLo ||
		binary.LittleEndian.Uint64(footer[16:]) != apkSigBlockMagicHi {
		return nil, 0, errNoSigningBlock
	}

	blockSizeFooter := binary.LittleEndian.Uint64(footer)
	if blockSizeFooter < 24 || blockSizeFooter > math.MaxInt32-8 {
		return nil, 0, fmt.Errorf("APK Signing Block size out of range: %d", blockSizeFooter)
	}

	totalSize := int64(blockSizeFooter + 8)
	offset := centralDirOffset - totalSize
	if offset < 0 {
		return nil, 0, fmt.Errorf("APK Signing Block offset out of range: %d", offset)
	}

	block := data[offset:centralDirOffset]
	if header := binary.LittleEndian.Uint64(block); header != blockSizeFooter {
		return nil, 0, fmt.Errorf("APK Signing Block sizes in header and footer do not match: %d vs %d", header, blockSizeFooter)
	}
	return block, offset, nil
}

// signingBlockPairs parses the id-value pairs of an APK Signing Block
func signingBlockPairs(block []byte) (map[uint32][]byte, error) {
	pairs := make(map[uint32][]byte)
	r := block[8 : len(block)-24]
	for n := 1; len(r) > 0; n++ {
		if len(r) < 8 {
			return nil, fmt.Errorf("insufficient data to read size of entry #%d", n)
		}
		entryLen := binary.LittleEndian.Uint64(r)
		r = r[8:]
		if entryLen < 4 || entryLen > uint64(len(r)) {
			return nil, fmt.Errorf("entry #%d size out of range: %d, available: %d", n, entryLen, len(r))
		}
		id := binary.LittleEndian.Uint32(r)
		pairs[id] = r[4:entryLen]
		r = r[entryLen:]
	}
	return pairs, nil
}
