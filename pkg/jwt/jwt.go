// Package jwt implements the minimal ES384 JSON Web Token mechanics the
// Bedrock handshake and identity chain need: compact sign/verify with an
// x5u header carrying the signer's SPKI-DER public key, plus chain
// verification against a trusted root. No library in the retrieval pack
// or wider ecosystem implements this exact combination (raw-concatenated
// ES384 signatures, x5u-as-raw-key rather than x5u-as-URL), so it is
// hand-rolled on crypto/ecdsa — see DESIGN.md.
package jwt

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/brinebound/baltica/pkg/crypto"
)

// Algorithm is the only JWS alg Bedrock's handshake and identity chain
// accept.
const Algorithm = "ES384"

var (
	// ErrMalformedToken indicates a token did not have the three
	// dot-separated compact segments.
	ErrMalformedToken = errors.New("jwt: malformed token")
	// ErrUnsupportedAlgorithm indicates a token's header named an alg
	// other than ES384.
	ErrUnsupportedAlgorithm = errors.New("jwt: unsupported algorithm")
	// ErrSignatureInvalid indicates Verify's signature check failed.
	ErrSignatureInvalid = errors.New("jwt: signature invalid")
	// ErrChainBroken indicates a link's x5u did not verify the next
	// token in an identity chain.
	ErrChainBroken = errors.New("jwt: chain broken")
)

// Header is the subset of JWS header fields the handshake and identity
// chain use. Bedrock tokens carry no "typ" field.
type Header struct {
	Algorithm string `json:"alg"`
	X5U       string `json:"x5u"`
}

// sigSize is the length, in bytes, of one ES384 raw signature component (r
// or s); P-384's field size is 48 bytes.
const sigSize = 48

// HeaderFrom decodes and unmarshals the header segment of a compact token
// without verifying anything, mirroring gophertunnel's jwt.HeaderFrom used
// before the signature is checked.
func HeaderFrom(token string) (*Header, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	return &h, nil
}

// AllowedAlg reports whether alg is a value this package will sign or
// verify with.
func AllowedAlg(alg string) bool { return alg == Algorithm }

// ParsePublicKey decodes an x5u field's standard-base64 SPKI DER public key.
func ParsePublicKey(x5u string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(x5u)
	if err != nil {
		return nil, fmt.Errorf("jwt: x5u base64: %w", err)
	}
	return crypto.ParseSPKIPublicKey(der)
}

// MarshalPublicKey encodes pub as the standard-base64 SPKI DER string an
// x5u header carries.
func MarshalPublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := crypto.MarshalSPKI(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Payload decodes and returns the raw (still-JSON) payload segment of
// token without verifying its signature.
func Payload(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	return raw, nil
}

// New signs payload (any JSON-marshalable value) under priv, producing a
// compact ES384 token. New sets the header's alg; its x5u is carried as the
// caller set it, and every caller here passes priv's own public key.
func New(header Header, payload interface{}, priv *ecdsa.PrivateKey) (string, error) {
	header.Algorithm = Algorithm
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("jwt: marshal header: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jwt: marshal payload: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(payloadJSON)

	sig, err := sign(priv, []byte(signingInput))
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks token's ES384 signature against pub. When requireX5UMatch
// is true, the header's own x5u must decode to the same key as pub —
// Session passes false when it already resolved pub via an independent
// chain walk and only wants the signature checked.
func Verify(token string, pub *ecdsa.PublicKey, requireX5UMatch bool) (bool, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false, ErrMalformedToken
	}

	header, err := HeaderFrom(token)
	if err != nil {
		return false, err
	}
	if !AllowedAlg(header.Algorithm) {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, header.Algorithm)
	}
	if requireX5UMatch {
		headerKey, err := ParsePublicKey(header.X5U)
		if err != nil {
			return false, err
		}
		if headerKey.X.Cmp(pub.X) != 0 || headerKey.Y.Cmp(pub.Y) != 0 {
			return false, fmt.Errorf("%w: x5u does not match expected key", ErrSignatureInvalid)
		}
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}
	signingInput := parts[0] + "." + parts[1]
	if !verify(pub, []byte(signingInput), sig) {
		return false, ErrSignatureInvalid
	}
	return true, nil
}

func sign(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha512.Sum384(data)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("jwt: sign: %w", err)
	}
	out := make([]byte, sigSize*2)
	r.FillBytes(out[:sigSize])
	s.FillBytes(out[sigSize:])
	return out, nil
}

func verify(pub *ecdsa.PublicKey, data, sig []byte) bool {
	if len(sig) != sigSize*2 {
		return false
	}
	r := new(big.Int).SetBytes(sig[:sigSize])
	s := new(big.Int).SetBytes(sig[sigSize:])
	digest := sha512.Sum384(data)
	return ecdsa.Verify(pub, digest[:], r, s)
}

// VerifyChain walks a Bedrock identity/user-data certificate chain. Each
// link is signed by its own key (the header's own x5u verifies that link's
// signature), and the chain linkage is checked separately: link i+1's x5u
// must equal the `identityPublicKey` claim of link i's already-verified
// payload. A chain containing trustedRoot's public key as any link's x5u
// is reported verified=true; any other chain still parses and its
// signatures still check out, but verified is false (the offline/
// self-signed case). It returns the final link's own public key, which the
// caller treats as the identity's authenticated public key for the rest of
// the session.
func VerifyChain(chain []string, trustedRoot *ecdsa.PublicKey) (lastKey *ecdsa.PublicKey, payloads []map[string]interface{}, verified bool, err error) {
	if len(chain) == 0 {
		return nil, nil, false, fmt.Errorf("%w: empty chain", ErrChainBroken)
	}

	payloads = make([]map[string]interface{}, 0, len(chain))
	var trustedRootX5U string
	if trustedRoot != nil {
		trustedRootX5U, err = MarshalPublicKey(trustedRoot)
		if err != nil {
			return nil, nil, false, err
		}
	}

	for i, token := range chain {
		header, herr := HeaderFrom(token)
		if herr != nil {
			return nil, nil, false, herr
		}
		if !AllowedAlg(header.Algorithm) {
			return nil, nil, false, fmt.Errorf("%w: link %d: %s", ErrUnsupportedAlgorithm, i, header.Algorithm)
		}

		if i > 0 {
			prevIdentityKey, _ := payloads[i-1]["identityPublicKey"].(string)
			if prevIdentityKey == "" || prevIdentityKey != header.X5U {
				return nil, nil, false, fmt.Errorf("%w: link %d x5u does not match link %d's identityPublicKey", ErrChainBroken, i, i-1)
			}
		}

		linkKey, kerr := ParsePublicKey(header.X5U)
		if kerr != nil {
			return nil, nil, false, fmt.Errorf("jwt: chain link %d: %w", i, kerr)
		}
		ok, verr := Verify(token, linkKey, false)
		if verr != nil || !ok {
			return nil, nil, false, fmt.Errorf("%w: link %d: %v", ErrChainBroken, i, verr)
		}

		raw, perr := Payload(token)
		if perr != nil {
			return nil, nil, false, perr
		}
		var payload map[string]interface{}
		if jerr := json.Unmarshal(raw, &payload); jerr != nil {
			return nil, nil, false, fmt.Errorf("jwt: chain link %d payload: %w", i, jerr)
		}
		payloads = append(payloads, payload)
		lastKey = linkKey

		if trustedRootX5U != "" && header.X5U == trustedRootX5U {
			verified = true
		}
	}

	return lastKey, payloads, verified, nil
}
