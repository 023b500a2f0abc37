package wire

import (
	"bytes"
	"testing"
)

func TestNextPacketIncompleteThenComplete(t *testing.T) {
	c := NewChain()
	c.Write([]byte{3, 0}) // only 2 of the 4 header bytes
	if _, err := NextPacket(c); err != ErrIncomplete {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
	c.Write([]byte{0, 1}) // finish header: length=3, seq=1
	if _, err := NextPacket(c); err != ErrIncomplete {
		t.Fatalf("err = %v, want ErrIncomplete (payload not yet present)", err)
	}
	c.Write([]byte("xyz"))
	pkt, err := NextPacket(c)
	if err != nil {
		t.Fatalf("NextPacket: %v", err)
	}
	if pkt.SequenceID != 1 || string(pkt.Payload) != "xyz" {
		t.Fatalf("pkt = %+v", pkt)
	}
	if c.Len() != 0 {
		t.Fatalf("chain not fully consumed: Len() = %d", c.Len())
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("SELECT 1")
	wire := EncodePacket(7, payload)
	c := FromBytes(wire)
	pkt, err := NextPacket(c)
	if err != nil {
		t.Fatalf("NextPacket: %v", err)
	}
	if pkt.SequenceID != 7 || !bytes.Equal(pkt.Payload, payload) {
		t.Fatalf("round trip mismatch: %+v", pkt)
	}
}

func TestSplitPacketExactBoundaryProducesEmptyTrailer(t *testing.T) {
	payload := make([]byte, MaxPayload)
	for i := range payload {
		payload[i] = 'X'
	}
	wireBytes := EncodePacket(1, payload)
	c := FromBytes(wireBytes)

	leader, err := NextPacket(c)
	if err != nil {
		t.Fatalf("leader: %v", err)
	}
	if len(leader.Payload) != MaxPayload {
		t.Fatalf("leader length = %d, want %d", len(leader.Payload), MaxPayload)
	}
	trailer, err := NextPacket(c)
	if err != nil {
		t.Fatalf("trailer: %v", err)
	}
	if len(trailer.Payload) != 0 {
		t.Fatalf("trailer length = %d, want 0", len(trailer.Payload))
	}
	if trailer.SequenceID != 2 {
		t.Fatalf("trailer seq = %d, want 2", trailer.SequenceID)
	}
	if c.Len() != 0 {
		t.Fatalf("leftover bytes: %d", c.Len())
	}
}

func TestSplitReassemblerTwentyMiB(t *testing.T) {
	size := 20 * 1024 * 1024
	payload := bytes.Repeat([]byte{'X'}, size)
	wireBytes := EncodePacket(1, payload)
	c := FromBytes(wireBytes)

	var r SplitReassembler
	var got []byte
	for {
		p, _, ok, err := r.Feed(c)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if ok {
			got = p
			break
		}
	}
	if len(got) != size {
		t.Fatalf("reassembled length = %d, want %d", len(got), size)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
}

func TestSequenceIDWrapsModulo256(t *testing.T) {
	seq := byte(250)
	for i := 0; i < 256; i++ {
		seq++
	}
	if seq != 250 {
		t.Fatalf("seq after 256 increments = %d, want 250", seq)
	}
}
