// Package apksign signs and verifies Android application packages.
//
// Sign applies three signatures in one pass:
//   - v1: a JAR signature (META-INF/MANIFEST.MF, CERT.SF and a detached
//     PKCS#7 block) over every entry,
//   - v2 and v3: an APK Signing Block inserted before the central directory,
//     carrying signers over the chunked SHA-256 digest of the whole archive.
//
// Signing identities come from PKCS#12 keystores or PEM bundles. RSA keys sign
// with RSASSA-PKCS1-v1_5/SHA-256 and ECDSA keys with ECDSA/SHA-256.
//
// # Basic Usage
//
//	identity, err := apksign.LoadSigningIdentityFile("release.p12", password)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := apksign.Sign(identity, "aligned.apk", "signed.apk", nil); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := apksign.Verify("signed.apk")
//	fmt.Println(res.Schemes()) // v1, v2, v3
package apksign
