package wire

import "encoding/binary"

// Length-encoded integer boundary thresholds.
const (
	lencInt1Max = 250
	lencInt2Tag = 0xFC
	lencInt3Tag = 0xFD
	lencInt8Tag = 0xFE
)

// WriteLenEncInt appends n encoded as a MariaDB length-encoded integer.
func WriteLenEncInt(dst []byte, n uint64) []byte {
	switch {
	case n <= lencInt1Max:
		return append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, lencInt2Tag)
		return appendUint16(dst, uint16(n))
	case n <= 0xFFFFFF:
		dst = append(dst, lencInt3Tag)
		return appendUint24(dst, uint32(n))
	default:
		dst = append(dst, lencInt8Tag)
		return appendUint64(dst, n)
	}
}

// ReadLenEncInt reads a length-encoded integer from src starting at off,
// returning the value and the number of bytes consumed.
func ReadLenEncInt(src []byte, off int) (value uint64, n int, err error) {
	if off >= len(src) {
		return 0, 0, ErrShort
	}
	first := src[off]
	switch {
	case first <= lencInt1Max:
		return uint64(first), 1, nil
	case first == lencInt2Tag:
		if off+3 > len(src) {
			return 0, 0, ErrShort
		}
		return uint64(binary.LittleEndian.Uint16(src[off+1 : off+3])), 3, nil
	case first == lencInt3Tag:
		if off+4 > len(src) {
			return 0, 0, ErrShort
		}
		v := uint32(src[off+1]) | uint32(src[off+2])<<8 | uint32(src[off+3])<<16
		return uint64(v), 4, nil
	case first == lencInt8Tag:
		if off+9 > len(src) {
			return 0, 0, ErrShort
		}
		return binary.LittleEndian.Uint64(src[off+1 : off+9]), 9, nil
	default:
		return 0, 0, ErrShort
	}
}

// WriteLenEncString appends s as a length-encoded string: length-encoded
// integer byte count followed by the raw bytes.
func WriteLenEncString(dst []byte, s string) []byte {
	dst = WriteLenEncInt(dst, uint64(len(s)))
	return append(dst, s...)
}

// ReadLenEncString reads a length-encoded string starting at off.
func ReadLenEncString(src []byte, off int) (value string, n int, err error) {
	length, hdr, err := ReadLenEncInt(src, off)
	if err != nil {
		return "", 0, err
	}
	end := off + hdr + int(length)
	if end > len(src) {
		return "", 0, ErrShort
	}
	return string(src[off+hdr : end]), hdr + int(length), nil
}

// WriteNulString appends s followed by a NUL terminator.
func WriteNulString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// ReadNulString reads bytes from off up to (not including) the next NUL.
func ReadNulString(src []byte, off int) (value string, n int, err error) {
	for i := off; i < len(src); i++ {
		if src[i] == 0 {
			return string(src[off:i]), i - off + 1, nil
		}
	}
	return "", 0, ErrShort
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v), byte(v>>8))
}

func appendUint24(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16))
}

func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}
