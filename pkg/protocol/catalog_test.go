package protocol

import "testing"

func TestCatalogEncodeDecodeKnownPacket(t *testing.T) {
	c := NewCatalog()
	pk := &RequestChunkRadiusPacket{ChunkRadius: 12}

	raw := Encode(pk)
	id, decoded, err, known := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !known {
		t.Fatal("expected known packet")
	}
	if id != IDRequestChunkRadius {
		t.Errorf("id = %d, want %d", id, IDRequestChunkRadius)
	}
	got, ok := decoded.(*RequestChunkRadiusPacket)
	if !ok {
		t.Fatalf("decoded has wrong type: %T", decoded)
	}
	if got.ChunkRadius != 12 {
		t.Errorf("ChunkRadius = %d, want 12", got.ChunkRadius)
	}
}

func TestCatalogDecodeUnknownID(t *testing.T) {
	c := NewCatalog()
	w := NewWriter()
	w.Varuint32(0xFFFF)
	w.Raw([]byte{1, 2, 3})

	id, pk, err, known := c.Decode(w.Bytes())
	if err != nil {
		t.Fatalf("unexpected error for unknown id: %v", err)
	}
	if known {
		t.Fatal("expected unknown == false")
	}
	if pk != nil {
		t.Fatal("expected nil packet for unknown id")
	}
	if id != 0xFFFF {
		t.Errorf("id = %d, want 0xFFFF", id)
	}
}

func TestCatalogRegisterOverridesDefault(t *testing.T) {
	c := NewCatalog()
	called := false
	c.Register(IDLogin, func() Packet {
		called = true
		return &LoginPacket{}
	})
	if _, ok := c.New(IDLogin); !ok {
		t.Fatal("expected IDLogin still known after override")
	}
	if !called {
		t.Fatal("expected overridden constructor to be invoked")
	}
}
