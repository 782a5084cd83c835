// Package testkeys generates throwaway signing identities for tests.
package testkeys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Password protects every keystore written by this package
const Password = "android"

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
	rsaErr  error
)

// RSA returns a self-signed RSA-2048 certificate and its key.
// The key is generated once per test binary.
func RSA(t testing.TB) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	rsaOnce.Do(func() {
		rsaKey, rsaErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if rsaErr != nil {
		t.Fatalf("failed to generate RSA key: %v", rsaErr)
	}
	return selfSigned(t, rsaKey, "Icon Pack Test RSA"), rsaKey
}

// ECDSA returns a self-signed P-256 certificate and its key
func ECDSA(t testing.TB) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate ECDSA key: %v", err)
	}
	return selfSigned(t, key, "Icon Pack Test EC"), key
}

func selfSigned(t testing.TB, key crypto.Signer, cn string) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("failed to generate serial: %v", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Icon Pack"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}

// PKCS12 encodes key and cert as a keystore protected by Password
func PKCS12(t testing.TB, cert *x509.Certificate, key crypto.PrivateKey) []byte {
	t.Helper()
	data, err := pkcs12.Modern.Encode(key, cert, nil, Password)
	if err != nil {
		t.Fatalf("failed to encode PKCS#12: %v", err)
	}
	return data
}

// PEM encodes key and cert as a PEM bundle
func PEM(t testing.TB, cert *x509.Certificate, key crypto.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
}

// WriteKeystore writes an RSA keystore into dir and returns its path
func WriteKeystore(t testing.TB, dir string) string {
	t.Helper()
	cert, key := RSA(t)
	path := filepath.Join(dir, "test.p12")
	if err := os.WriteFile(path, PKCS12(t, cert, key), 0600); err != nil {
		t.Fatalf("failed to write keystore: %v", err)
	}
	return path
}
