// Package wire implements the MariaDB/MySQL client wire protocol: a
// reference-counted buffer chain and the packet codec built on top of it.
package wire

import "sync/atomic"

// MinSegmentSize is the minimum payload capacity of a freshly allocated
// segment. Payloads larger than one segment span multiple segments.
const MinSegmentSize = 16 * 1024

// segmentData is the shared, reference-counted backing store for one
// segment. Several Chain values may hold a view over the same segmentData
// after a shallow clone; the store is released once the last view is gone.
type segmentData struct {
	buf  []byte
	refs int32
}

func newSegmentData(size int) *segmentData {
	if size < MinSegmentSize {
		size = MinSegmentSize
	}
	return &segmentData{buf: make([]byte, 0, size), refs: 1}
}

func (d *segmentData) retain() {
	atomic.AddInt32(&d.refs, 1)
}

func (d *segmentData) release() {
	atomic.AddInt32(&d.refs, -1)
}

// segment is one view over a segmentData: a logical [off, off+length) window.
type segment struct {
	data   *segmentData
	off    int
	length int
}

func (s segment) bytes() []byte {
	return s.data.buf[s.off : s.off+s.length]
}

// Chain is an ordered, immutable-from-the-outside sequence of byte segments
// supporting O(1) append and cheap prefix-consume without reallocation.
type Chain struct {
	segs []segment
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// FromBytes copies b into one or more fresh segments and returns the chain
// owning them.
func FromBytes(b []byte) *Chain {
	c := &Chain{}
	c.Write(b)
	return c
}

// Write appends b to the chain, allocating new segments as needed. It never
// mutates segments shared with another Chain via ShallowClone.
func (c *Chain) Write(b []byte) {
	for len(b) > 0 {
		if n := len(c.segs); n > 0 {
			last := &c.segs[n-1]
			if last.data.refs == 1 && last.off+last.length < cap(last.data.buf) {
				room := cap(last.data.buf) - (last.off + last.length)
				take := room
				if take > len(b) {
					take = len(b)
				}
				base := last.data.buf[:last.off+last.length+take]
				copy(base[last.off+last.length:], b[:take])
				last.data.buf = base
				last.length += take
				b = b[take:]
				if len(b) == 0 {
					return
				}
			}
		}
		size := len(b)
		if size < MinSegmentSize {
			size = MinSegmentSize
		}
		data := newSegmentData(size)
		take := len(b)
		if take > cap(data.buf) {
			take = cap(data.buf)
		}
		data.buf = append(data.buf, b[:take]...)
		c.segs = append(c.segs, segment{data: data, off: 0, length: take})
		b = b[take:]
	}
}

// Append concatenates other onto the end of c in O(1), retaining shared
// segments so that consuming from either chain afterwards never mutates the
// other's view.
func (c *Chain) Append(other *Chain) {
	for _, s := range other.segs {
		s.data.retain()
		c.segs = append(c.segs, s)
	}
}

// Len returns the total number of unconsumed bytes in the chain.
func (c *Chain) Len() int {
	n := 0
	for _, s := range c.segs {
		n += s.length
	}
	return n
}

// Consume drops min(n, Len()) bytes from the front of the chain. It never
// reallocates; segments fully consumed are released.
func (c *Chain) Consume(n int) int {
	consumed := 0
	for n > 0 && len(c.segs) > 0 {
		s := &c.segs[0]
		if s.length <= n {
			consumed += s.length
			n -= s.length
			s.data.release()
			c.segs = c.segs[1:]
			continue
		}
		s.off += n
		s.length -= n
		consumed += n
		n = 0
	}
	return consumed
}

// ErrShort is returned by CopyOut when the requested window exceeds the
// chain's current length.
type shortError struct{}

func (shortError) Error() string { return "wire: SHORT: requested window exceeds buffer length" }

// ErrShort is the sentinel for a copy-out request that runs past the end of
// the chain.
var ErrShort error = shortError{}

// CopyOut copies exactly n bytes starting at offset into dst, which must have
// length >= n. Returns ErrShort if offset+n exceeds Len().
func (c *Chain) CopyOut(offset, n int, dst []byte) error {
	if offset+n > c.Len() {
		return ErrShort
	}
	skip := offset
	written := 0
	for _, s := range c.segs {
		if written == n {
			break
		}
		if skip >= s.length {
			skip -= s.length
			continue
		}
		avail := s.length - skip
		take := avail
		if take > n-written {
			take = n - written
		}
		copy(dst[written:written+take], s.bytes()[skip:skip+take])
		written += take
		skip = 0
	}
	return nil
}

// ShallowClone returns an independent handle sharing the same segment
// storage; consuming from the clone never mutates the original and vice
// versa.
func (c *Chain) ShallowClone() *Chain {
	clone := &Chain{segs: make([]segment, len(c.segs))}
	copy(clone.segs, c.segs)
	for _, s := range clone.segs {
		s.data.retain()
	}
	return clone
}

// Split divides the chain at offset n into (head, tail), where
// head.Len() == n and tail holds the remainder. The receiver is left empty.
func (c *Chain) Split(n int) (head, tail *Chain) {
	head = &Chain{}
	tail = &Chain{}
	remaining := n
	i := 0
	for ; i < len(c.segs); i++ {
		s := c.segs[i]
		if remaining >= s.length {
			head.segs = append(head.segs, s)
			remaining -= s.length
			continue
		}
		break
	}
	if i < len(c.segs) && remaining > 0 {
		s := c.segs[i]
		s.data.retain()
		head.segs = append(head.segs, segment{data: s.data, off: s.off, length: remaining})
		tail.segs = append(tail.segs, segment{data: s.data, off: s.off + remaining, length: s.length - remaining})
		i++
	}
	tail.segs = append(tail.segs, c.segs[i:]...)
	c.segs = nil
	return head, tail
}

// Bytes flattens the chain into a single fresh slice. Intended for tests and
// for paths that must hand a contiguous buffer to a library call; the hot
// path avoids it.
func (c *Chain) Bytes() []byte {
	out := make([]byte, c.Len())
	_ = c.CopyOut(0, len(out), out)
	return out
}
