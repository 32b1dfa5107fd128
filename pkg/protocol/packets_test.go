package protocol

import (
	"bytes"
	"testing"
)

func TestStartGamePacketCarriesExtraVerbatim(t *testing.T) {
	pk := &StartGamePacket{
		EntityIDSelf:    42,
		RuntimeEntityID: 7,
		PlayerGameMode:  1,
		PlayerPosition:  [3]float32{1.5, 64, -30.25},
		WorldSeed:       99,
		LevelID:         "world",
		WorldName:       "Baltica",
		Extra:           []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	w := NewWriter()
	pk.Marshal(w)

	var got StartGamePacket
	if err := got.Unmarshal(NewReader(w.Bytes())); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.EntityIDSelf != pk.EntityIDSelf || got.RuntimeEntityID != pk.RuntimeEntityID {
		t.Errorf("entity ids mismatch: got %+v", got)
	}
	if got.PlayerPosition != pk.PlayerPosition {
		t.Errorf("position mismatch: got %v, want %v", got.PlayerPosition, pk.PlayerPosition)
	}
	if got.LevelID != pk.LevelID || got.WorldName != pk.WorldName {
		t.Errorf("names mismatch: got %+v", got)
	}
	if !bytes.Equal(got.Extra, pk.Extra) {
		t.Errorf("Extra = %x, want %x", got.Extra, pk.Extra)
	}
}

func TestDisconnectPacketOmitsMessageWhenHidden(t *testing.T) {
	pk := &DisconnectPacket{HideDisconnectScreen: true, Message: "should not be sent"}
	w := NewWriter()
	pk.Marshal(w)

	var got DisconnectPacket
	if err := got.Unmarshal(NewReader(w.Bytes())); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.HideDisconnectScreen {
		t.Error("expected HideDisconnectScreen to round-trip true")
	}
	if got.Message != "" {
		t.Errorf("Message = %q, want empty (hidden screens carry no message)", got.Message)
	}
}

func TestDisconnectPacketCarriesMessageWhenShown(t *testing.T) {
	pk := &DisconnectPacket{HideDisconnectScreen: false, Message: "kicked for testing"}
	w := NewWriter()
	pk.Marshal(w)

	var got DisconnectPacket
	if err := got.Unmarshal(NewReader(w.Bytes())); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Message != pk.Message {
		t.Errorf("Message = %q, want %q", got.Message, pk.Message)
	}
}

func TestResourcePacksInfoRoundTrip(t *testing.T) {
	pk := &ResourcePacksInfoPacket{
		MustAccept: true,
		TexturePacks: []ResourcePackEntry{
			{UUID: "uuid-1", Version: "1.0.0", Size: 1024, ContentID: "content-1"},
		},
	}
	w := NewWriter()
	pk.Marshal(w)

	var got ResourcePacksInfoPacket
	if err := got.Unmarshal(NewReader(w.Bytes())); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.TexturePacks) != 1 || got.TexturePacks[0].UUID != "uuid-1" {
		t.Errorf("texture packs mismatch: %+v", got.TexturePacks)
	}
	if len(got.BehaviorPacks) != 0 {
		t.Errorf("expected no behavior packs, got %d", len(got.BehaviorPacks))
	}
}

func TestClientCacheStatusRoundTrip(t *testing.T) {
	pk := &ClientCacheStatusPacket{Enabled: true}
	w := NewWriter()
	pk.Marshal(w)

	var got ClientCacheStatusPacket
	if err := got.Unmarshal(NewReader(w.Bytes())); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Enabled {
		t.Error("expected Enabled to round-trip true")
	}
}
