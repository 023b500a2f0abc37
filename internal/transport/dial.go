package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/mariadb-corporation/maxscale-sub025/internal/pool"
	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
	"github.com/mariadb-corporation/maxscale-sub025/internal/wire"
)

// BackendCredentials authenticates the proxy to a backend on a session's
// behalf.
type BackendCredentials struct {
	User     string
	Password string
	Database string
}

// Dial opens a TCP connection to srv, performs the MariaDB/MySQL handshake
// as the client side, and returns a *PacketConn left in the IDLE state
// ready for internal/session to drive. It satisfies internal/pool.Dialer
// once partially applied over creds.
func Dial(ctx context.Context, srv *registry.Server, creds BackendCredentials) (*PacketConn, error) {
	addr := fmt.Sprintf("%s:%d", srv.Address, srv.Port)
	netConn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	pc := NewPacketConn(netConn, 0)
	if err := clientHandshake(pc, creds); err != nil {
		pc.Close()
		return nil, err
	}
	return pc, nil
}

// NewDialer partially applies creds over Dial so the result satisfies
// internal/pool.Dialer.
func NewDialer(creds BackendCredentials) pool.Dialer {
	return func(ctx context.Context, srv *registry.Server) (*pool.Channel, error) {
		pc, err := Dial(ctx, srv, creds)
		if err != nil {
			return nil, err
		}
		return &pool.Channel{
			Server:    srv,
			Raw:       pc,
			CloseFunc: pc.Close,
		}, nil
	}
}

func clientHandshake(pc *PacketConn, creds BackendCredentials) error {
	greetingPkt, err := pc.ReadRawPacket()
	if err != nil {
		return fmt.Errorf("transport: reading backend greeting: %w", err)
	}
	scramble, serverCaps, err := parseGreetingScramble(greetingPkt.Payload)
	if err != nil {
		return err
	}

	caps := wire.NegotiatedCapabilities(wire.ProxyCapabilities|wire.ClientLongPassword, serverCaps)
	hash1, hash2 := wire.HashPassword([]byte(creds.Password))
	token := wire.ScrambleToken(scramble, hash1, hash2)

	resp := wire.HandshakeResponse{
		Capabilities:   caps,
		MaxPacketSize:  wire.MaxPayload,
		Username:       creds.User,
		AuthResponse:   token,
		Database:       creds.Database,
		AuthPluginName: "mysql_native_password",
	}
	if creds.Database != "" {
		resp.Capabilities |= wire.ClientConnectWithDB
	}

	if err := pc.WriteRawPacket(greetingPkt.SequenceID+1, wire.EncodeHandshakeResponse(resp)); err != nil {
		return fmt.Errorf("transport: writing handshake response: %w", err)
	}

	replyPkt, err := pc.ReadRawPacket()
	if err != nil {
		return fmt.Errorf("transport: reading backend auth reply: %w", err)
	}
	kind, err := wire.ClassifyReply(replyPkt.Payload)
	if err != nil {
		return err
	}
	switch kind {
	case wire.ReplyOK:
		pc.SetCapabilities(resp.Capabilities)
		return nil
	case wire.ReplyErr:
		e, _ := wire.DecodeERR(replyPkt.Payload, resp.Capabilities)
		return fmt.Errorf("transport: backend rejected handshake: %d %s", e.Code, e.Message)
	default:
		return fmt.Errorf("transport: unexpected packet kind %v during backend auth", kind)
	}
}

// parseGreetingScramble pulls just the 20-byte auth scramble and the
// server's capability flags out of a raw greeting payload, without going
// through wire.Greeting (which is this proxy's own outbound greeting
// shape, not a parser for an arbitrary server's greeting).
func parseGreetingScramble(payload []byte) (scramble []byte, capabilities uint32, err error) {
	if len(payload) < 1 {
		return nil, 0, fmt.Errorf("transport: empty greeting")
	}
	off := 1
	_, n, err := wire.ReadNulString(payload, off)
	if err != nil {
		return nil, 0, err
	}
	off += n
	if off+4 > len(payload) {
		return nil, 0, fmt.Errorf("transport: short greeting")
	}
	off += 4 // connection id
	if off+8+1 > len(payload) {
		return nil, 0, fmt.Errorf("transport: short greeting scramble part 1")
	}
	scramble = append(scramble, payload[off:off+8]...)
	off += 8 + 1 // scramble part 1, filler
	if off+2 > len(payload) {
		return nil, 0, fmt.Errorf("transport: short greeting capability lower")
	}
	capLower := uint32(payload[off]) | uint32(payload[off+1])<<8
	off += 2
	if off+1 > len(payload) {
		return scramble, capLower, nil
	}
	off++ // collation
	if off+2 > len(payload) {
		return scramble, capLower, nil
	}
	off += 2 // status flags
	if off+2 > len(payload) {
		return scramble, capLower, nil
	}
	capUpper := uint32(payload[off]) | uint32(payload[off+1])<<8
	off += 2
	capabilities = capLower | capUpper<<16
	if off+1 > len(payload) {
		return scramble, capabilities, nil
	}
	off++ // auth plugin data length
	off += 10 // reserved
	if wire.Supports(capabilities, wire.ClientSecureConn) && off+12 <= len(payload) {
		scramble = append(scramble, payload[off:off+12]...)
	}
	return scramble, capabilities, nil
}
