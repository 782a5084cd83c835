package apksign

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	gop12 "software.sslmate.com/src/go-pkcs12"
)

// ErrNoCertificate is returned when a keystore holds a key but no certificate for it
var ErrNoCertificate = errors.New("no certificate matches the private key")

// SigningIdentity represents an APK signing identity (certificate + private key)
type SigningIdentity struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	CertChain   []*x509.Certificate
}

// LoadSigningIdentityFile reads a keystore from disk and loads the identity in it
func LoadSigningIdentityFile(path, password string) (*SigningIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	return LoadSigningIdentity(data, password)
}

// LoadSigningIdentity loads a signing identity from a PKCS#12 keystore.
// PEM data holding a private key and its certificate is accepted as well.
func LoadSigningIdentity(keystore []byte, password string) (*SigningIdentity, error) {
	if len(keystore) == 0 {
		return nil, errors.New("keystore is empty")
	}

	// Check if this is PEM data
	if bytes.HasPrefix(bytes.TrimSpace(keystore), []byte("-----BEGIN")) {
		return loadPEMIdentity(keystore)
	}

	privateKey, cert, caCerts, err := gop12.DecodeChain(keystore, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 keystore: %w", err)
	}

	signer, err := asSigner(privateKey)
	if err != nil {
		return nil, err
	}
	if !keyMatchesCert(signer, cert) {
		return nil, ErrNoCertificate
	}

	chain := []*x509.Certificate{cert}
	chain = append(chain, caCerts...)

	return &SigningIdentity{
		Certificate: cert,
		PrivateKey:  signer,
		CertChain:   chain,
	}, nil
}

// loadPEMIdentity loads a private key and the certificates that follow it.
// The first certificate whose public key matches the key becomes the signer.
func loadPEMIdentity(pemData []byte) (*SigningIdentity, error) {
	var privateKey crypto.PrivateKey
	var certs []*x509.Certificate

	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		var err error
		switch block.Type {
		case "RSA PRIVATE KEY":
			privateKey, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			privateKey, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			privateKey, err = x509.ParseECPrivateKey(block.Bytes)
		case "CERTIFICATE":
			var cert *x509.Certificate
			cert, err = x509.ParseCertificate(block.Bytes)
			if err == nil {
				certs = append(certs, cert)
			}
		default:
			return nil, fmt.Errorf("unsupported PEM type: %s", block.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", block.Type, err)
		}
	}

	if privateKey == nil {
		return nil, errors.New("no private key found in PEM data")
	}
	signer, err := asSigner(privateKey)
	if err != nil {
		return nil, err
	}

	for i, cert := range certs {
		if keyMatchesCert(signer, cert) {
			chain := []*x509.Certificate{cert}
			chain = append(chain, certs[:i]...)
			chain = append(chain, certs[i+1:]...)
			return &SigningIdentity{
				Certificate: cert,
				PrivateKey:  signer,
				CertChain:   chain,
			}, nil
		}
	}
	return nil, ErrNoCertificate
}

func asSigner(privateKey crypto.PrivateKey) (crypto.Signer, error) {
	switch key := privateKey.(type) {
	case *rsa.PrivateKey:
		return key, nil
	case *ecdsa.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", privateKey)
	}
}

// keyMatchesCert checks if a private key matches a certificate's public key
func keyMatchesCert(privateKey crypto.Signer, cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	switch priv := privateKey.(type) {
	case *rsa.PrivateKey:
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return priv.PublicKey.Equal(pub)
		}
	case *ecdsa.PrivateKey:
		if pub, ok := cert.PublicKey.(*ecdsa.PublicKey); ok {
			return priv.PublicKey.Equal(pub)
		}
	}
	return false
}

// signatureAlgorithm returns the APK Signature Scheme algorithm id for the key
func (id *SigningIdentity) signatureAlgorithm() (uint32, error) {
	switch id.PrivateKey.(type) {
	case *rsa.PrivateKey:
		return sigRsaPkcs1V15WithSha256, nil
	case *ecdsa.PrivateKey:
		return sigEcdsaWithSha256, nil
	default:
		return 0, fmt.Errorf("unsupported private key type %T", id.PrivateKey)
	}
}

// v1BlockName returns the file name of the JAR signature block for the key type
func (id *SigningIdentity) v1BlockName() string {
	if _, ok := id.PrivateKey.(*ecdsa.PrivateKey); ok {
		return "CERT.EC"
	}
	return "CERT.RSA"
}
