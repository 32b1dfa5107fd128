// Package crypto implements the cryptographic primitives a Bedrock session
// needs: the secp384r1 identity/ECDH keypair, AES-256-CFB8 symmetric framing,
// and the packet checksum carried alongside each encrypted batch.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
)

// ErrKeyGenerationFailed mirrors the teacher's classical.ErrKeyGenerationFailed
// sentinel, reused here for the secp384r1 identity keypair.
var ErrKeyGenerationFailed = errors.New("crypto: key generation failed")

// ErrInvalidPublicKey indicates a public key could not be parsed from its
// SPKI DER encoding.
var ErrInvalidPublicKey = errors.New("crypto: invalid public key")

// ErrECDHFailed indicates the ECDH scalar multiplication itself failed.
var ErrECDHFailed = errors.New("crypto: ECDH operation failed")

// IdentityKeyPair is a secp384r1 (P-384) keypair. A single keypair serves
// two roles in the handshake: ECDSA signs the JWT chain (spec §4.5), and the
// same key agrees a shared secret over ECDH (spec §4.7) — precisely what
// other_examples/.../gophertunnel's Conn.privateKey does, where one
// *ecdsa.PrivateKey is used both to sign outgoing handshake JWTs and, via
// Curve.ScalarMult, to derive the AES key.
type IdentityKeyPair struct {
	Private *ecdsa.PrivateKey
}

// GenerateIdentityKeyPair creates a fresh P-384 keypair from system entropy.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}
	return &IdentityKeyPair{Private: priv}, nil
}

// PublicKeySPKI DER-encodes kp's public key in SubjectPublicKeyInfo form,
// the representation the x5u JWT header and the JWK claim both carry.
func (kp *IdentityKeyPair) PublicKeySPKI() ([]byte, error) {
	return MarshalSPKI(&kp.Private.PublicKey)
}

// MarshalSPKI DER-encodes any P-384 ECDSA public key as SubjectPublicKeyInfo.
func MarshalSPKI(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal spki: %v", ErrInvalidPublicKey, err)
	}
	return der, nil
}

// ParseSPKIPublicKey reverses MarshalSPKI, additionally requiring the
// decoded key sit on P-384 — any other curve is rejected since the
// handshake's cryptographic chain is pinned to secp384r1 (spec §4.5).
func ParseSPKIPublicKey(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse spki: %v", ErrInvalidPublicKey, err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ECDSA key", ErrInvalidPublicKey)
	}
	if ecPub.Curve != elliptic.P384() {
		return nil, fmt.Errorf("%w: expected P-384, got %s", ErrInvalidPublicKey, ecPub.Curve.Params().Name)
	}
	return ecPub, nil
}

// SharedSecret performs ECDH between priv and peerPub, returning the raw
// big-endian X coordinate of the resulting point, exactly as
// Curve.ScalarMult(X, Y, D.Bytes()) does in the gophertunnel reference —
// Go's crypto/ecdh wraps the same scalar multiplication with additional
// validation (peer point is on-curve and not the identity).
func SharedSecret(priv *ecdsa.PrivateKey, peerPub *ecdsa.PublicKey) ([]byte, error) {
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: private key conversion: %v", ErrECDHFailed, err)
	}
	ecdhPub, err := peerPub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: peer key conversion: %v", ErrInvalidPublicKey, err)
	}
	secret, err := ecdhPriv.ECDH(ecdhPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrECDHFailed, err)
	}
	return secret, nil
}

// Salt is the fixed 4-byte salt mixed into the handshake's key-derivation
// SHA-256, binding the symmetric key to this protocol: the UTF-8 encoding
// of U+1F9C2 SALT SHAKER.
var Salt = [4]byte{0xF0, 0x9F, 0xA7, 0x82}

// DeriveSessionKey derives the single AES-256 key Bedrock uses for both
// directions of CFB8 encryption: SHA-256(salt || sharedSecret), matching
// gophertunnel's handleServerToClientHandshake/enableEncryption keyBytes
// computation exactly.
func DeriveSessionKey(salt, sharedSecret []byte) [32]byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(sharedSecret)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
