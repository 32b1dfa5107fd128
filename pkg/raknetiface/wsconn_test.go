package raknetiface

import (
	"testing"
	"time"
)

func TestWSListenerAndDialerRoundTripBinaryMessages(t *testing.T) {
	ln, err := NewWSListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewWSListener: %v", err)
	}
	defer ln.Close()

	addr := "ws://" + ln.Addr().String() + "/"

	accepted := make(chan Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	dialer := WSDialer{HandshakeTimeout: 2 * time.Second}
	client, err := dialer.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var server Conn
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("Accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the dialed websocket connection")
	}
	defer server.Close()

	payload := []byte{0xfe, 0x01, 0x02, 0x03}
	if err := client.WritePacket(payload); err != nil {
		t.Fatalf("client.WritePacket: %v", err)
	}

	got, err := server.ReadPacket()
	if err != nil {
		t.Fatalf("server.ReadPacket: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("server read %v, want %v", got, payload)
	}

	reply := []byte{0xff, 0x09}
	if err := server.WritePacket(reply); err != nil {
		t.Fatalf("server.WritePacket: %v", err)
	}
	got, err = client.ReadPacket()
	if err != nil {
		t.Fatalf("client.ReadPacket: %v", err)
	}
	if string(got) != string(reply) {
		t.Fatalf("client read %v, want %v", got, reply)
	}

	if server.RemoteAddr() == nil {
		t.Fatal("server.RemoteAddr() returned nil")
	}
}

func TestWSDialerRejectsUnreachableAddress(t *testing.T) {
	dialer := WSDialer{HandshakeTimeout: 200 * time.Millisecond}
	if _, err := dialer.Dial("ws://127.0.0.1:1/"); err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
}

func TestWSListenerCloseIsIdempotentAndStopsNewUpgrades(t *testing.T) {
	ln, err := NewWSListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewWSListener: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	dialer := WSDialer{HandshakeTimeout: 200 * time.Millisecond}
	if _, err := dialer.Dial("ws://" + ln.Addr().String() + "/"); err == nil {
		t.Fatal("expected dialing a closed listener to fail")
	}
}
