package transport

import (
	"net"
	"testing"
	"time"

	"github.com/mariadb-corporation/maxscale-sub025/internal/wire"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestWriteFramedAndReadPacketRoundTrip(t *testing.T) {
	a, b := pipePair(t)
	writer := NewPacketConn(a, wire.ProxyCapabilities)
	reader := NewPacketConn(b, wire.ProxyCapabilities)

	done := make(chan struct{})
	go func() {
		writer.WriteFramed(7, []byte("hello backend"))
		close(done)
	}()

	seq, payload, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if seq != 7 || string(payload) != "hello backend" {
		t.Fatalf("got seq=%d payload=%q", seq, payload)
	}
	<-done
}

func TestAcceptClientHandshakeSucceedsWithMatchingCredentials(t *testing.T) {
	a, b := pipePair(t)

	serverDone := make(chan error, 1)
	go func() {
		_, _, err := AcceptClientHandshake(a, ServerIdentity{Version: "5.5.5-test", ConnectionID: 1}, StaticAuthChecker("proxyuser", "proxypass"))
		serverDone <- err
	}()

	clientPC := NewPacketConn(b, 0)
	greetingPkt, err := clientPC.ReadRawPacket()
	if err != nil {
		t.Fatalf("ReadRawPacket greeting: %v", err)
	}
	scramble, _, err := parseGreetingScramble(greetingPkt.Payload)
	if err != nil {
		t.Fatalf("parseGreetingScramble: %v", err)
	}
	hash1, hash2 := wire.HashPassword([]byte("proxypass"))
	token := wire.ScrambleToken(scramble, hash1, hash2)
	resp := wire.HandshakeResponse{
		Capabilities:   wire.ProxyCapabilities,
		Username:       "proxyuser",
		AuthResponse:   token,
		AuthPluginName: "mysql_native_password",
	}
	if err := clientPC.WriteRawPacket(greetingPkt.SequenceID+1, wire.EncodeHandshakeResponse(resp)); err != nil {
		t.Fatalf("WriteRawPacket response: %v", err)
	}

	replyPkt, err := clientPC.ReadRawPacket()
	if err != nil {
		t.Fatalf("ReadRawPacket reply: %v", err)
	}
	kind, err := wire.ClassifyReply(replyPkt.Payload)
	if err != nil {
		t.Fatalf("ClassifyReply: %v", err)
	}
	if kind != wire.ReplyOK {
		t.Fatalf("got kind %v, want ReplyOK", kind)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("AcceptClientHandshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server handshake goroutine did not finish")
	}
}

func TestAcceptClientHandshakeRejectsWrongPassword(t *testing.T) {
	a, b := pipePair(t)

	serverDone := make(chan error, 1)
	go func() {
		_, _, err := AcceptClientHandshake(a, ServerIdentity{Version: "5.5.5-test", ConnectionID: 1}, StaticAuthChecker("proxyuser", "proxypass"))
		serverDone <- err
	}()

	clientPC := NewPacketConn(b, 0)
	greetingPkt, err := clientPC.ReadRawPacket()
	if err != nil {
		t.Fatalf("ReadRawPacket greeting: %v", err)
	}
	scramble, _, err := parseGreetingScramble(greetingPkt.Payload)
	if err != nil {
		t.Fatalf("parseGreetingScramble: %v", err)
	}
	hash1, hash2 := wire.HashPassword([]byte("wrong-password"))
	token := wire.ScrambleToken(scramble, hash1, hash2)
	resp := wire.HandshakeResponse{
		Capabilities:   wire.ProxyCapabilities,
		Username:       "proxyuser",
		AuthResponse:   token,
		AuthPluginName: "mysql_native_password",
	}
	clientPC.WriteRawPacket(greetingPkt.SequenceID+1, wire.EncodeHandshakeResponse(resp))

	replyPkt, err := clientPC.ReadRawPacket()
	if err != nil {
		t.Fatalf("ReadRawPacket reply: %v", err)
	}
	kind, err := wire.ClassifyReply(replyPkt.Payload)
	if err != nil {
		t.Fatalf("ClassifyReply: %v", err)
	}
	if kind != wire.ReplyErr {
		t.Fatalf("got kind %v, want ReplyErr", kind)
	}

	select {
	case err := <-serverDone:
		if err == nil {
			t.Fatalf("expected AcceptClientHandshake to report an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server handshake goroutine did not finish")
	}
}
