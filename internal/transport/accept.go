package transport

import (
	"crypto/rand"
	"fmt"
	"net"

	"github.com/mariadb-corporation/maxscale-sub025/internal/wire"
)

// ServerIdentity names the proxy to a connecting client.
type ServerIdentity struct {
	Version      string
	ConnectionID uint32
}

// AuthChecker validates a client's handshake response, returning whether
// authentication succeeded. A nil AuthChecker accepts every client,
// implementing the "skip authentication" listener mode.
type AuthChecker func(resp wire.HandshakeResponse, scramble [20]byte) bool

// AcceptClientHandshake runs the server side of the handshake over netConn:
// sends the greeting, reads the client's response, authenticates it, and
// replies OK or ERR. On success it returns a *PacketConn ready for
// internal/session to drive and the decoded handshake response (for the
// requested default schema and connection attributes).
func AcceptClientHandshake(netConn net.Conn, identity ServerIdentity, check AuthChecker) (*PacketConn, wire.HandshakeResponse, error) {
	pc := NewPacketConn(netConn, wire.ProxyCapabilities)

	var scramble [20]byte
	if _, err := rand.Read(scramble[:]); err != nil {
		return nil, wire.HandshakeResponse{}, fmt.Errorf("transport: generating scramble: %w", err)
	}

	greeting := wire.Greeting{
		ServerVersion:  identity.Version,
		ConnectionID:   identity.ConnectionID,
		AuthPluginData: scramble,
		Capabilities:   wire.ProxyCapabilities,
		AuthPluginName: "mysql_native_password",
	}
	if err := pc.WriteRawPacket(0, wire.EncodeGreeting(greeting)); err != nil {
		return nil, wire.HandshakeResponse{}, fmt.Errorf("transport: writing greeting: %w", err)
	}

	respPkt, err := pc.ReadRawPacket()
	if err != nil {
		return nil, wire.HandshakeResponse{}, fmt.Errorf("transport: reading handshake response: %w", err)
	}
	resp, err := wire.DecodeHandshakeResponse(respPkt.Payload)
	if err != nil {
		errPkt := wire.EncodeERR(wire.ERRPacket{Code: 1043, Message: "bad handshake"}, wire.ProxyCapabilities)
		pc.WriteRawPacket(respPkt.SequenceID+1, errPkt)
		return nil, wire.HandshakeResponse{}, fmt.Errorf("transport: decoding handshake response: %w", err)
	}

	if check != nil && !check(resp, scramble) {
		errPkt := wire.EncodeERR(wire.ERRPacket{Code: 1045, Message: "Access denied"}, wire.ProxyCapabilities)
		pc.WriteRawPacket(respPkt.SequenceID+1, errPkt)
		return nil, resp, fmt.Errorf("transport: authentication failed for user %q", resp.Username)
	}

	caps := wire.NegotiatedCapabilities(resp.Capabilities, wire.ProxyCapabilities)
	pc.SetCapabilities(caps)

	okPkt := wire.EncodeOK(wire.OKPacket{}, caps)
	if err := pc.WriteRawPacket(respPkt.SequenceID+1, okPkt); err != nil {
		return nil, resp, fmt.Errorf("transport: writing handshake OK: %w", err)
	}
	return pc, resp, nil
}

// StaticAuthChecker verifies a client's scrambled token against a fixed
// username/password pair, the credential set a listener validates against
// when it is not in "skip authentication" mode.
func StaticAuthChecker(username, password string) AuthChecker {
	_, hash2 := wire.HashPassword([]byte(password))
	return func(resp wire.HandshakeResponse, scramble [20]byte) bool {
		if resp.Username != username {
			return false
		}
		return wire.VerifyToken(resp.AuthResponse, scramble[:], hash2)
	}
}
