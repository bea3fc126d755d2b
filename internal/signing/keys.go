package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	AlgorithmEd25519 = "Ed25519"
	AlgorithmECDSA   = "ECDSA-P256"
)

var (
	ErrInvalidPEM       = errors.New("invalid PEM block")
	ErrUnsupportedKey   = errors.New("unsupported key type")
	ErrUnsupportedCurve = errors.New("unsupported elliptic curve")
)

// ParsePrivateKeyPEM accepts a PKCS#8 PEM block holding an Ed25519 or ECDSA
// P-256 key. SEC1 "EC PRIVATE KEY" blocks are accepted too.
func ParsePrivateKeyPEM(data string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, ErrInvalidPEM
	}

	var key interface{}
	var err error
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	switch k := key.(type) {
	case ed25519.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, ErrUnsupportedCurve
		}
		return k, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

// ParsePublicKeyPEM accepts a PKIX PEM block holding an Ed25519 or ECDSA
// P-256 key.
func ParsePublicKeyPEM(data string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, ErrInvalidPEM
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	switch k := key.(type) {
	case ed25519.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, ErrUnsupportedCurve
		}
		return k, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

// Algorithm names the scheme of a parsed public key.
func Algorithm(pub crypto.PublicKey) string {
	switch pub.(type) {
	case ed25519.PublicKey:
		return AlgorithmEd25519
	case *ecdsa.PublicKey:
		return AlgorithmECDSA
	}
	return ""
}

// Fingerprint identifies a public key by the SHA-256 of its PKIX encoding.
func Fingerprint(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

// KeyPair holds PEM encoded keys.
type KeyPair struct {
	PrivateKeyPEM string
	PublicKeyPEM  string
}

func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return encodeKeyPair(priv, pub)
}

func GenerateECDSAKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return encodeKeyPair(priv, &priv.PublicKey)
}

func encodeKeyPair(priv interface{}, pub interface{}) (*KeyPair, error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
	}, nil
}
