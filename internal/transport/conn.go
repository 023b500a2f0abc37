// Package transport wires the pure wire-protocol codec in internal/wire to
// an actual net.Conn: framed packet read/write, the server-side client
// handshake, and the client-side backend handshake.
package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mariadb-corporation/maxscale-sub025/internal/wire"
)

const readBackoffWhenDisabled = 20 * time.Millisecond

// PacketConn frames a net.Conn into MariaDB/MySQL wire packets. It
// implements both internal/session.Framer (WriteFramed/Close) and the
// extra methods internal/session.BackendConn needs.
type PacketConn struct {
	conn net.Conn
	r    *bufio.Reader

	reassembler wire.SplitReassembler

	writeMu sync.Mutex

	capabilities uint32
}

// NewPacketConn wraps conn for framed packet I/O.
func NewPacketConn(conn net.Conn, capabilities uint32) *PacketConn {
	return &PacketConn{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, 16*1024),
		capabilities: capabilities,
	}
}

// Capabilities implements internal/session.BackendConn.
func (c *PacketConn) Capabilities() uint32 { return c.capabilities }

// SetCapabilities updates the negotiated capability set after a handshake
// completes.
func (c *PacketConn) SetCapabilities(caps uint32) { c.capabilities = caps }

// Close implements internal/session.Framer.
func (c *PacketConn) Close() error { return c.conn.Close() }

// SetReadEnabled implements the backpressure half of
// internal/session.BackendConn by toggling the connection's read deadline;
// ReadPacket below treats a deadline-exceeded error as "no packet yet" only
// while disabled, so a blocked reader spins rather than erroring out.
func (c *PacketConn) SetReadEnabled(enabled bool) {
	if enabled {
		c.conn.SetReadDeadline(time.Time{})
	} else {
		c.conn.SetReadDeadline(time.Now())
	}
}

// WriteFramed implements internal/session.Framer: it writes payload as one
// or more wire packets, splitting at wire.MaxPayload.
func (c *PacketConn) WriteFramed(seq byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for {
		chunk := payload
		if len(chunk) > wire.MaxPayload {
			chunk = payload[:wire.MaxPayload]
		}
		if _, err := c.conn.Write(wire.EncodePacket(seq, chunk)); err != nil {
			return err
		}
		payload = payload[len(chunk):]
		seq++
		if len(chunk) < wire.MaxPayload {
			return nil
		}
		if len(payload) == 0 {
			// Exact multiple of MaxPayload: a zero-length trailer packet
			// closes the split run.
			if _, err := c.conn.Write(wire.EncodePacket(seq, nil)); err != nil {
				return err
			}
			return nil
		}
	}
}

// ReadPacket blocks until one complete logical (possibly split-reassembled)
// payload is available, returning its final sequence id and payload.
func (c *PacketConn) ReadPacket() (seq byte, payload []byte, err error) {
	chain := wire.NewChain()
	buf := make([]byte, 16*1024)
	for {
		if p, s, ok, ferr := c.reassembler.Feed(chain); ferr == nil && ok {
			return s, p, nil
		} else if ferr != nil && ferr != wire.ErrIncomplete {
			return 0, nil, ferr
		}
		n, rerr := c.r.Read(buf)
		if n > 0 {
			chain.Write(buf[:n])
		}
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				time.Sleep(readBackoffWhenDisabled)
				continue
			}
			return 0, nil, rerr
		}
	}
}

// ReadRawPacket reads exactly one wire packet without split reassembly,
// used during the handshake where each message is known to fit in one
// packet.
func (c *PacketConn) ReadRawPacket() (*wire.Packet, error) {
	chain := wire.NewChain()
	buf := make([]byte, 4096)
	for {
		pkt, err := wire.NextPacket(chain)
		if err == nil {
			return pkt, nil
		}
		if err != wire.ErrIncomplete {
			return nil, err
		}
		n, rerr := c.r.Read(buf)
		if n > 0 {
			chain.Write(buf[:n])
		}
		if rerr != nil {
			return nil, fmt.Errorf("transport: read: %w", rerr)
		}
	}
}

// WriteRawPacket writes exactly one wire packet, used during the handshake.
func (c *PacketConn) WriteRawPacket(seq byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(wire.EncodePacket(seq, payload))
	return err
}

// RemoteAddr exposes the underlying connection's remote address for logging.
func (c *PacketConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
