package jwt

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/brinebound/baltica/pkg/crypto"
)

func generateKey(t *testing.T) *crypto.IdentityKeyPair {
	t.Helper()
	kp, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return kp
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp := generateKey(t)
	x5u, err := MarshalPublicKey(&kp.Private.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPublicKey: %v", err)
	}

	payload := map[string]interface{}{"hello": "world"}
	token, err := New(Header{X5U: x5u}, payload, kp.Private)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ok, err := Verify(token, &kp.Private.PublicKey, true)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for a validly signed token")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	kp := generateKey(t)
	x5u, _ := MarshalPublicKey(&kp.Private.PublicKey)
	token, err := New(Header{X5U: x5u}, map[string]interface{}{"n": 1}, kp.Private)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tampered := token[:len(token)-4] + "abcd"
	if ok, _ := Verify(tampered, &kp.Private.PublicKey, false); ok {
		t.Fatal("Verify accepted a tampered signature")
	}
}

func TestVerifyRequireX5UMatchRejectsMismatch(t *testing.T) {
	signer := generateKey(t)
	other := generateKey(t)

	x5u, _ := MarshalPublicKey(&signer.Private.PublicKey)
	token, err := New(Header{X5U: x5u}, map[string]interface{}{"n": 1}, signer.Private)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := Verify(token, &other.Private.PublicKey, true); err == nil {
		t.Fatal("expected error when x5u does not match the expected key")
	}
}

func TestVerifyRejectsUnsupportedAlgorithm(t *testing.T) {
	kp := generateKey(t)
	x5u, _ := MarshalPublicKey(&kp.Private.PublicKey)
	token, err := New(Header{X5U: x5u}, map[string]interface{}{"n": 1}, kp.Private)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !AllowedAlg("ES384") || AllowedAlg("RS256") {
		t.Fatal("AllowedAlg should accept only ES384")
	}
	parts := strings.SplitN(token, ".", 2)
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","x5u":"`+x5u+`"}`)) + "." + parts[1]
	if _, err := Verify(forged, &kp.Private.PublicKey, false); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("Verify with RS256 header: got %v, want ErrUnsupportedAlgorithm", err)
	}
}

// buildChain constructs a two-link chain the way an identity chain links:
// link 0 is self-signed and names link 1's key as its identityPublicKey;
// link 1 is signed by its own key.
func buildChain(t *testing.T) (chain []string, rootKey *crypto.IdentityKeyPair, leafKey *crypto.IdentityKeyPair) {
	t.Helper()
	root := generateKey(t)
	leaf := generateKey(t)

	rootX5U, _ := MarshalPublicKey(&root.Private.PublicKey)
	leafX5U, _ := MarshalPublicKey(&leaf.Private.PublicKey)

	link0, err := New(Header{X5U: rootX5U}, map[string]interface{}{
		"identityPublicKey": leafX5U,
	}, root.Private)
	if err != nil {
		t.Fatalf("sign link0: %v", err)
	}
	link1, err := New(Header{X5U: leafX5U}, map[string]interface{}{
		"extraData": map[string]interface{}{"displayName": "Steve"},
	}, leaf.Private)
	if err != nil {
		t.Fatalf("sign link1: %v", err)
	}

	return []string{link0, link1}, root, leaf
}

func TestVerifyChainUntrustedIsStillWellFormed(t *testing.T) {
	chain, _, leaf := buildChain(t)

	lastKey, payloads, verified, err := VerifyChain(chain, nil)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if verified {
		t.Fatal("expected verified=false with no trusted root configured")
	}
	if len(payloads) != 2 {
		t.Fatalf("got %d payloads, want 2", len(payloads))
	}
	if !lastKey.Equal(&leaf.Private.PublicKey) {
		t.Fatal("lastKey should be the leaf link's key")
	}
}

func TestVerifyChainTrustedRootMarksVerified(t *testing.T) {
	chain, root, _ := buildChain(t)

	_, _, verified, err := VerifyChain(chain, &root.Private.PublicKey)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !verified {
		t.Fatal("expected verified=true when chain's root link matches trustedRoot")
	}
}

func TestVerifyChainRejectsBrokenLinkage(t *testing.T) {
	chain, _, _ := buildChain(t)
	// Swap payload linkage by replacing link 1 with an unrelated token whose
	// x5u no longer matches link 0's identityPublicKey claim.
	other := generateKey(t)
	otherX5U, _ := MarshalPublicKey(&other.Private.PublicKey)
	brokenLink1, err := New(Header{X5U: otherX5U}, map[string]interface{}{}, other.Private)
	if err != nil {
		t.Fatalf("sign broken link: %v", err)
	}
	broken := []string{chain[0], brokenLink1}

	if _, _, _, err := VerifyChain(broken, nil); err == nil {
		t.Fatal("expected ErrChainBroken for mismatched linkage")
	}
}

func TestVerifyChainRejectsEmptyChain(t *testing.T) {
	if _, _, _, err := VerifyChain(nil, nil); err == nil {
		t.Fatal("expected error for empty chain")
	}
}
