package wire

import (
	"bytes"
	"testing"
)

func TestChainAppendConsumeRoundTrip(t *testing.T) {
	c := NewChain()
	c.Write([]byte("hello "))
	c.Write([]byte("world"))
	if got, want := c.Len(), len("hello world"); got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got := string(c.Bytes()); got != "hello world" {
		t.Fatalf("Bytes() = %q", got)
	}
	c.Consume(6)
	if got := string(c.Bytes()); got != "world" {
		t.Fatalf("after Consume, Bytes() = %q", got)
	}
}

func TestChainShallowCloneIndependentConsume(t *testing.T) {
	c := NewChain()
	c.Write(bytes.Repeat([]byte{'x'}, MinSegmentSize+100))
	clone := c.ShallowClone()

	clone.Consume(50)
	if c.Len() != MinSegmentSize+100 {
		t.Fatalf("original mutated by clone consume: Len() = %d", c.Len())
	}
	if clone.Len() != MinSegmentSize+50 {
		t.Fatalf("clone.Len() = %d", clone.Len())
	}
}

func TestChainCopyOutShort(t *testing.T) {
	c := FromBytes([]byte("abc"))
	var dst [10]byte
	if err := c.CopyOut(0, 10, dst[:]); err != ErrShort {
		t.Fatalf("err = %v, want ErrShort", err)
	}
}

func TestChainSplit(t *testing.T) {
	c := FromBytes([]byte("abcdefgh"))
	head, tail := c.Split(3)
	if got := string(head.Bytes()); got != "abc" {
		t.Fatalf("head = %q", got)
	}
	if got := string(tail.Bytes()); got != "defgh" {
		t.Fatalf("tail = %q", got)
	}
}

func TestChainAppendPreservesOrderAndIndependence(t *testing.T) {
	a := FromBytes([]byte("AAA"))
	b := FromBytes([]byte("BBB"))
	a.Append(b)
	if got := string(a.Bytes()); got != "AAABBB" {
		t.Fatalf("a = %q", got)
	}
	b.Consume(3)
	if got := string(a.Bytes()); got != "AAABBB" {
		t.Fatalf("consuming b mutated a's view: a = %q", got)
	}
}
