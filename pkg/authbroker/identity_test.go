package authbroker

import "testing"

func TestCreateOfflineDeterministicIdentity(t *testing.T) {
	a, err := CreateOffline("Steve", "127.0.0.1:19132")
	if err != nil {
		t.Fatalf("CreateOffline: %v", err)
	}
	b, err := CreateOffline("Steve", "127.0.0.1:19132")
	if err != nil {
		t.Fatalf("CreateOffline: %v", err)
	}

	if a.Profile.Identity != b.Profile.Identity {
		t.Fatalf("offline identity UUID should be deterministic for the same name: %q != %q", a.Profile.Identity, b.Profile.Identity)
	}
	if a.Profile.DisplayName != "Steve" {
		t.Fatalf("DisplayName = %q, want %q", a.Profile.DisplayName, "Steve")
	}
	if a.Profile.XUID != "0" {
		t.Fatalf("offline XUID = %q, want \"0\"", a.Profile.XUID)
	}
	if len(a.Chain) != 1 {
		t.Fatalf("offline chain should have exactly one self-signed link, got %d", len(a.Chain))
	}
}

func TestCreateOfflineDifferentNamesDifferentIdentity(t *testing.T) {
	a, err := CreateOffline("Steve", "127.0.0.1:19132")
	if err != nil {
		t.Fatalf("CreateOffline: %v", err)
	}
	b, err := CreateOffline("Alex", "127.0.0.1:19132")
	if err != nil {
		t.Fatalf("CreateOffline: %v", err)
	}
	if a.Profile.Identity == b.Profile.Identity {
		t.Fatal("different display names should derive different identity UUIDs")
	}
}

func TestVerifyChainRoundTripsOfflineIdentity(t *testing.T) {
	identity, err := CreateOffline("Alex", "127.0.0.1:19132")
	if err != nil {
		t.Fatalf("CreateOffline: %v", err)
	}

	profile, identityKey, verified, err := VerifyChain(identity.Chain, nil)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if verified {
		t.Fatal("an offline chain with no trusted root should not verify as authenticated")
	}
	if profile.DisplayName != "Alex" {
		t.Fatalf("DisplayName = %q, want %q", profile.DisplayName, "Alex")
	}
	if !identityKey.Equal(&identity.KeyPair.Private.PublicKey) {
		t.Fatal("VerifyChain's identityKey should match the offline identity's own key")
	}
}

func TestCreateOfflineFromKeyReusesProvidedKey(t *testing.T) {
	first, err := CreateOffline("Notch", "127.0.0.1:19132")
	if err != nil {
		t.Fatalf("CreateOffline: %v", err)
	}

	second, err := CreateOfflineFromKey(first.KeyPair, "Notch", "127.0.0.1:19132")
	if err != nil {
		t.Fatalf("CreateOfflineFromKey: %v", err)
	}
	if !second.KeyPair.Private.PublicKey.Equal(&first.KeyPair.Private.PublicKey) {
		t.Fatal("CreateOfflineFromKey should sign with the supplied keypair, not a fresh one")
	}
	if second.Profile.Identity != first.Profile.Identity {
		t.Fatal("identity UUID should still be derived from displayName alone")
	}
}
