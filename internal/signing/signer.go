package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
)

var ErrEmptyDigest = errors.New("empty digest")

// Sign signs the raw digest and returns the base64 signature. Ed25519 signs
// the digest bytes directly; ECDSA signs them as a pre-hashed SHA-256 value
// in ASN.1 form.
func Sign(priv crypto.Signer, digest []byte) (string, error) {
	if len(digest) == 0 {
		return "", ErrEmptyDigest
	}

	var (
		sig []byte
		err error
	)
	switch k := priv.(type) {
	case ed25519.PrivateKey:
		sig = ed25519.Sign(k, digest)
	case *ecdsa.PrivateKey:
		sig, err = ecdsa.SignASN1(rand.Reader, k, digest)
	default:
		return "", ErrUnsupportedKey
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether sigB64 is a valid signature of digest under pub.
// Malformed input yields false, never a panic.
func Verify(pub crypto.PublicKey, digest []byte, sigB64 string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if pub == nil || len(digest) == 0 || sigB64 == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}

	switch k := pub.(type) {
	case ed25519.PublicKey:
		if len(k) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(k, digest, sig)
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, digest, sig)
	default:
		return false
	}
}

// VerifySeal recomputes the digest of content and checks both the stored
// hash and the stored signature against it.
func VerifySeal(pub crypto.PublicKey, c Content, storedHash, sigB64 string) bool {
	hexDigest, raw := Digest(c)
	if hexDigest != storedHash {
		return false
	}
	return Verify(pub, raw, sigB64)
}
