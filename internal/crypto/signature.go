package crypto

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
)

// VerifySignature checks an RSA-PSS signature over the raw envelope
// bytes against a PEM-encoded public key. SHA-256 with MGF1(SHA-256);
// the salt length is taken from the signature itself, so both max-salt
// and fixed-salt signers verify. It never
// returns an error to the caller: any malformed key, malformed
// signature, or cryptographic mismatch is simply false.
func VerifySignature(publicKeyPEM string, signed, signature []byte) bool {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(signed)
	opts := &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	}
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, opts) == nil
}

// ParsePublicKey decodes a PEM-encoded RSA public key, accepting both
// PKIX ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY") blocks.
func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return pub, nil
}
