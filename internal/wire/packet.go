package wire

import "errors"

// MaxPayload is the largest payload length a single wire packet can declare
// (2^24 - 1). A logical payload larger than this is split across a leader
// packet of exactly MaxPayload bytes, zero or more continuation packets, and
// a trailer packet shorter than MaxPayload (possibly zero length).
const MaxPayload = (1 << 24) - 1

// HeaderSize is the length of a packet header: 3-byte little-endian payload
// length followed by a 1-byte sequence id.
const HeaderSize = 4

// ErrIncomplete is returned by NextPacket when the chain does not yet hold a
// full packet.
var ErrIncomplete = errors.New("wire: incomplete packet")

// Packet is one framed wire unit: header plus payload.
type Packet struct {
	SequenceID byte
	Payload    []byte
}

// NextPacket extracts exactly one wire packet (header + payload) from the
// front of chain. It returns ErrIncomplete, leaving chain untouched, while
// fewer than 4 bytes, or fewer than 4+declared_length bytes, are available.
func NextPacket(chain *Chain) (*Packet, error) {
	if chain.Len() < HeaderSize {
		return nil, ErrIncomplete
	}
	hdr := make([]byte, HeaderSize)
	if err := chain.CopyOut(0, HeaderSize, hdr); err != nil {
		return nil, ErrIncomplete
	}
	length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	seq := hdr[3]
	if chain.Len() < HeaderSize+length {
		return nil, ErrIncomplete
	}
	payload := make([]byte, length)
	if length > 0 {
		if err := chain.CopyOut(HeaderSize, length, payload); err != nil {
			return nil, ErrIncomplete
		}
	}
	chain.Consume(HeaderSize + length)
	return &Packet{SequenceID: seq, Payload: payload}, nil
}

// EncodePacket frames payload as one or more wire packets, splitting at the
// MaxPayload boundary. seq is the sequence id of the first packet; each
// subsequent packet's id is (seq+1) mod 256, etc. A payload of exactly
// MaxPayload bytes produces a leader of MaxPayload bytes plus an explicit
// empty trailer.
func EncodePacket(seq byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+HeaderSize*(len(payload)/MaxPayload+2))
	for {
		n := len(payload)
		if n > MaxPayload {
			n = MaxPayload
		}
		out = appendHeader(out, n, seq)
		out = append(out, payload[:n]...)
		payload = payload[n:]
		seq++
		if n < MaxPayload {
			break
		}
		if len(payload) == 0 {
			// A payload landing exactly on the boundary still needs an
			// explicit empty trailer so the reassembler knows the split
			// payload has ended.
			out = appendHeader(out, 0, seq)
			break
		}
	}
	return out
}

func appendHeader(out []byte, length int, seq byte) []byte {
	return append(out, byte(length), byte(length>>8), byte(length>>16), seq)
}

// SplitReassembler is a stateful wrapper around NextPacket that reassembles
// a run of MaxPayload-length leader/continuation packets terminated by a
// shorter trailer into one logical payload.
type SplitReassembler struct {
	inSplit bool
	pending []byte
}

// Feed consumes exactly one packet from chain (via NextPacket) and reports
// whether a logical payload is now complete. ok is false while more packets
// are required to finish the current logical payload, or while chain does
// not yet hold a full packet (in which case err is ErrIncomplete).
func (r *SplitReassembler) Feed(chain *Chain) (payload []byte, seq byte, ok bool, err error) {
	pkt, err := NextPacket(chain)
	if err != nil {
		return nil, 0, false, err
	}
	if len(pkt.Payload) == MaxPayload {
		r.inSplit = true
		r.pending = append(r.pending, pkt.Payload...)
		return nil, pkt.SequenceID, false, nil
	}
	if r.inSplit {
		r.pending = append(r.pending, pkt.Payload...)
		out := r.pending
		r.pending = nil
		r.inSplit = false
		return out, pkt.SequenceID, true, nil
	}
	return pkt.Payload, pkt.SequenceID, true, nil
}

// InSplit reports whether the reassembler is mid-way through a split
// payload (a leader or continuation has been seen but not yet the trailer).
func (r *SplitReassembler) InSplit() bool {
	return r.inSplit
}
