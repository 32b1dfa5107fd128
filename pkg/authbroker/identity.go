// Package authbroker builds the identity and client-data JWT chains a
// Login packet carries, and persists the resulting tokens between runs
// through a pluggable TokenStore.
package authbroker

import (
	"crypto/ecdsa"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brinebound/baltica/pkg/crypto"
	"github.com/brinebound/baltica/pkg/jwt"
)

// offlineNamespace is the RFC 4122 URL namespace UUID Bedrock's offline
// client derives a stable per-name identity from.
var offlineNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// Profile is the authenticated identity a completed login produces.
type Profile struct {
	XUID        string
	Identity    string
	DisplayName string
}

// Identity bundles the two things a Login packet needs: the identity chain
// (self-signed for offline play, or broker-supplied for online play) and
// the ephemeral keypair used to self-sign the accompanying client-data JWT.
type Identity struct {
	Chain      []string
	ClientJWT  string
	KeyPair    *crypto.IdentityKeyPair
	Profile    Profile
}

// IdentityProvider is the black-box interface an online auth backend
// implements; Baltica's own code never speaks to Microsoft/Xbox Live
// directly (that exchange is explicitly out of scope), it only consumes
// whatever chain and keypair the provider hands back.
type IdentityProvider interface {
	Authenticate(displayName string) (chain []string, keyPair *crypto.IdentityKeyPair, profile Profile, err error)
}

// uuidV3 derives a deterministic UUID the same way Bedrock's offline client
// does: MD5(namespace || name), with the version/variant bits patched in
// per RFC 4122 §4.3.
func uuidV3(namespace uuid.UUID, name string) uuid.UUID {
	h := md5.New()
	h.Write(namespace[:])
	h.Write([]byte(name))
	sum := h.Sum(nil)

	var out uuid.UUID
	copy(out[:], sum[:16])
	out[6] = (out[6] & 0x0f) | 0x30 // version 3
	out[8] = (out[8] & 0x3f) | 0x80 // RFC 4122 variant
	return out
}

// CreateOffline builds a self-signed identity chain for displayName, the
// unauthenticated path spec §4.6 describes: no XUID, a deterministically
// derived identity UUID, and a chain of exactly one self-signed
// certificate whose x5u names its own freshly generated key. serverAddress
// is carried as the client-data JWT's ServerAddress claim (spec §3's
// Payload invariant: it must equal the destination advertised to the peer
// at login).
func CreateOffline(displayName, serverAddress string) (*Identity, error) {
	kp, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		return nil, fmt.Errorf("authbroker: generate identity key: %w", err)
	}
	return CreateOfflineFromKey(kp, displayName, serverAddress)
}

// CreateOfflineFromKey builds the same self-signed identity CreateOffline
// does, but from an already-generated keypair. A caller that persists a
// client's identity key between runs uses this instead of CreateOffline.
// The identity UUID comes from displayName alone and does not depend on kp.
func CreateOfflineFromKey(kp *crypto.IdentityKeyPair, displayName, serverAddress string) (*Identity, error) {
	identityUUID := uuidV3(offlineNamespace, displayName)
	profile := Profile{
		XUID:        "0",
		Identity:    identityUUID.String(),
		DisplayName: displayName,
	}

	chainToken, err := selfSignedIdentityJWT(kp, profile, true)
	if err != nil {
		return nil, err
	}

	clientJWT, err := selfSignedClientDataJWT(kp, displayName, serverAddress)
	if err != nil {
		return nil, err
	}

	return &Identity{
		Chain:     []string{chainToken},
		ClientJWT: clientJWT,
		KeyPair:   kp,
		Profile:   profile,
	}, nil
}

// CreateOnline delegates chain construction to provider, the online
// counterpart of CreateOffline. Baltica builds only the client-data JWT
// itself; the identity chain (with its Xbox Live-issued XUID) is whatever
// the provider returns.
func CreateOnline(provider IdentityProvider, displayName, serverAddress string) (*Identity, error) {
	chain, kp, profile, err := provider.Authenticate(displayName)
	if err != nil {
		return nil, fmt.Errorf("authbroker: online authenticate: %w", err)
	}
	clientJWT, err := selfSignedClientDataJWT(kp, displayName, serverAddress)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Chain:     chain,
		ClientJWT: clientJWT,
		KeyPair:   kp,
		Profile:   profile,
	}, nil
}

// CreateOfflineForUpstream builds an Identity for a Bridge Pair's upstream
// Session: the identity chain is freshly self-signed under kp exactly as
// CreateOfflineFromKey, but the client-data JWT payload is copied from
// sourcePayload — the real client's own authenticated client-data claims
// (skin, device fingerprints, input mode, view distance, platform
// metadata) — with only ServerAddress overridden to the real server this
// Session is about to dial. Spec §4.9: "U inherits the identity payload of
// D ... so the real server sees a faithful forward of the user."
func CreateOfflineForUpstream(kp *crypto.IdentityKeyPair, displayName, serverAddress string, sourcePayload map[string]interface{}) (*Identity, error) {
	identityUUID := uuidV3(offlineNamespace, displayName)
	profile := Profile{
		XUID:        "0",
		Identity:    identityUUID.String(),
		DisplayName: displayName,
	}

	chainToken, err := selfSignedIdentityJWT(kp, profile, true)
	if err != nil {
		return nil, err
	}

	clientJWT, err := inheritedClientDataJWT(kp, sourcePayload, serverAddress)
	if err != nil {
		return nil, err
	}

	return &Identity{
		Chain:     []string{chainToken},
		ClientJWT: clientJWT,
		KeyPair:   kp,
		Profile:   profile,
	}, nil
}

// offlineTitleID is the fixed titleId claim offline identity JWTs carry,
// matching the value real offline Bedrock clients send.
const offlineTitleID = "89692877"

func selfSignedIdentityJWT(kp *crypto.IdentityKeyPair, profile Profile, certificateAuthority bool) (string, error) {
	x5u, err := jwt.MarshalPublicKey(&kp.Private.PublicKey)
	if err != nil {
		return "", err
	}

	payload := map[string]interface{}{
		"identityPublicKey":    x5u,
		"certificateAuthority": certificateAuthority,
		"nbf":                  0,
		"exp":                  time.Now().Add(3600 * time.Second).Unix(),
		"iss":                  "self",
		"extraData": map[string]interface{}{
			"XUID":        profile.XUID,
			"identity":    profile.Identity,
			"displayName": profile.DisplayName,
			"titleId":     offlineTitleID,
		},
	}
	return jwt.New(jwt.Header{X5U: x5u}, payload, kp.Private)
}

func selfSignedClientDataJWT(kp *crypto.IdentityKeyPair, displayName, serverAddress string) (string, error) {
	x5u, err := jwt.MarshalPublicKey(&kp.Private.PublicKey)
	if err != nil {
		return "", err
	}
	payload := map[string]interface{}{
		"SelfSignedId":     uuid.New().String(),
		"ServerAddress":    serverAddress,
		"ThirdPartyName":   displayName,
		"DeviceModel":      "Baltica",
		"DeviceOS":         int32(7), // Win10, matching the platform most gophertunnel-style tooling presents as
		"GameVersion":      "",
		"ClientRandomId":   int64(binary.LittleEndian.Uint64(randomID())),
	}
	return jwt.New(jwt.Header{X5U: x5u}, payload, kp.Private)
}

// inheritedClientDataJWT re-signs sourcePayload under kp's own key, the
// Bridge's path for handing its upstream Session a client-data JWT that
// carries the real client's claims rather than Baltica's own synthesized
// defaults (spec §4.9). ServerAddress is always overridden to serverAddress
// since sourcePayload's own value names the Bridge, not the real server.
func inheritedClientDataJWT(kp *crypto.IdentityKeyPair, sourcePayload map[string]interface{}, serverAddress string) (string, error) {
	x5u, err := jwt.MarshalPublicKey(&kp.Private.PublicKey)
	if err != nil {
		return "", err
	}
	payload := make(map[string]interface{}, len(sourcePayload)+1)
	for k, v := range sourcePayload {
		payload[k] = v
	}
	payload["ServerAddress"] = serverAddress
	return jwt.New(jwt.Header{X5U: x5u}, payload, kp.Private)
}

// randomID returns 8 pseudo-random bytes sourced from a fresh UUID, reused
// here purely as a convenient source of entropy without pulling in a
// separate RNG dependency.
func randomID() []byte {
	id := uuid.New()
	return id[:8]
}

// VerifyChain validates an inbound Login packet's identity chain, returning
// the authenticated profile, the identity's public key, and whether the
// chain was traced to trustedRoot (false for an offline/self-signed
// chain, which still parses and verifies its own signatures). trustedRoot
// is nil for servers that accept offline clients outright.
func VerifyChain(chain []string, trustedRoot *ecdsa.PublicKey) (profile Profile, identityKey *ecdsa.PublicKey, verified bool, err error) {
	identityKey, payloads, verified, err := jwt.VerifyChain(chain, trustedRoot)
	if err != nil {
		return Profile{}, nil, false, err
	}
	last := payloads[len(payloads)-1]
	extra, _ := last["extraData"].(map[string]interface{})
	if extra != nil {
		profile.XUID, _ = extra["XUID"].(string)
		profile.Identity, _ = extra["identity"].(string)
		profile.DisplayName, _ = extra["displayName"].(string)
	}
	return profile, identityKey, verified, nil
}
