package wire

import "fmt"

// ReplyKind discriminates the first packet of a backend reply per the table
// of a backend reply.
type ReplyKind int

const (
	ReplyOK ReplyKind = iota
	ReplyErr
	ReplyEOF
	ReplyLocalInfile
	ReplyColumnCount
)

// ClassifyReply inspects the first byte (and length) of a reply packet's
// payload and reports which kind of reply it opens.
func ClassifyReply(payload []byte) (ReplyKind, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("wire: empty reply payload")
	}
	switch payload[0] {
	case 0x00:
		return ReplyOK, nil
	case 0xFF:
		return ReplyErr, nil
	case 0xFE:
		if len(payload) < 9 {
			return ReplyEOF, nil
		}
		// Length >= 9 with leading 0xFE inside a result set is a row whose
		// first encoded column happens to start with the EOF marker byte;
		// callers must use this only on a packet known to open a reply.
		return ReplyColumnCount, nil
	case 0xFB:
		return ReplyLocalInfile, nil
	default:
		return ReplyColumnCount, nil
	}
}

// OKPacket is the decoded form of an OK packet.
type OKPacket struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16
	Warnings     uint16
	Info         string
}

// EncodeOK formats ok as a wire OK packet payload (header byte 0x00).
func EncodeOK(ok OKPacket, capabilities uint32) []byte {
	buf := []byte{0x00}
	buf = WriteLenEncInt(buf, ok.AffectedRows)
	buf = WriteLenEncInt(buf, ok.LastInsertID)
	if Supports(capabilities, ClientProtocol41) {
		buf = appendUint16(buf, ok.StatusFlags)
		buf = appendUint16(buf, ok.Warnings)
	}
	buf = append(buf, ok.Info...)
	return buf
}

// DecodeOK parses an OK packet payload (the caller has already verified the
// leading byte is 0x00).
func DecodeOK(payload []byte, capabilities uint32) (OKPacket, error) {
	var ok OKPacket
	off := 1
	v, n, err := ReadLenEncInt(payload, off)
	if err != nil {
		return ok, err
	}
	ok.AffectedRows = v
	off += n
	v, n, err = ReadLenEncInt(payload, off)
	if err != nil {
		return ok, err
	}
	ok.LastInsertID = v
	off += n
	if Supports(capabilities, ClientProtocol41) {
		if off+4 > len(payload) {
			return ok, ErrShort
		}
		ok.StatusFlags = uint16(payload[off]) | uint16(payload[off+1])<<8
		ok.Warnings = uint16(payload[off+2]) | uint16(payload[off+3])<<8
		off += 4
	}
	if off < len(payload) {
		ok.Info = string(payload[off:])
	}
	return ok, nil
}

// ERRPacket is the decoded form of an ERR packet.
type ERRPacket struct {
	Code     uint16
	SQLState string
	Message  string
}

// EncodeERR formats e as a wire ERR packet payload (header byte 0xFF).
func EncodeERR(e ERRPacket, capabilities uint32) []byte {
	buf := []byte{0xFF}
	buf = appendUint16(buf, e.Code)
	if Supports(capabilities, ClientProtocol41) {
		buf = append(buf, '#')
		state := e.SQLState
		if len(state) != 5 {
			state = "HY000"
		}
		buf = append(buf, state...)
	}
	buf = append(buf, e.Message...)
	return buf
}

// DecodeERR parses an ERR packet payload.
func DecodeERR(payload []byte, capabilities uint32) (ERRPacket, error) {
	var e ERRPacket
	if len(payload) < 3 {
		return e, ErrShort
	}
	e.Code = uint16(payload[1]) | uint16(payload[2])<<8
	off := 3
	if Supports(capabilities, ClientProtocol41) && off < len(payload) && payload[off] == '#' {
		if off+6 > len(payload) {
			return e, ErrShort
		}
		e.SQLState = string(payload[off+1 : off+6])
		off += 6
	}
	e.Message = string(payload[off:])
	return e, nil
}

// EOFPacket is the decoded form of a modern (post-4.1) EOF packet.
type EOFPacket struct {
	Warnings    uint16
	StatusFlags uint16
}

// EncodeEOF formats eof as a wire EOF packet payload (header byte 0xFE).
func EncodeEOF(eof EOFPacket, capabilities uint32) []byte {
	buf := []byte{0xFE}
	if Supports(capabilities, ClientProtocol41) {
		buf = appendUint16(buf, eof.Warnings)
		buf = appendUint16(buf, eof.StatusFlags)
	}
	return buf
}

// DecodeEOF parses an EOF packet payload.
func DecodeEOF(payload []byte, capabilities uint32) (EOFPacket, error) {
	var eof EOFPacket
	if !Supports(capabilities, ClientProtocol41) {
		return eof, nil
	}
	if len(payload) < 5 {
		return eof, ErrShort
	}
	eof.Warnings = uint16(payload[1]) | uint16(payload[2])<<8
	eof.StatusFlags = uint16(payload[3]) | uint16(payload[4])<<8
	return eof, nil
}

// MoreResultsFollow reports whether the trailing status flags indicate
// another result set follows this one.
func MoreResultsFollow(status uint16) bool {
	return status&StatusMoreResultsExist != 0
}

// ColumnDefinition is the decoded form of a ColumnDefinition41 packet,
// sufficient for the proxy's pass-through forwarding needs.
type ColumnDefinition struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	CharsetNr    uint16
	ColumnLength uint32
	ColumnType   byte
	Flags        uint16
	Decimals     byte
}

// EncodeColumnDefinition formats col as a ColumnDefinition41 packet payload.
func EncodeColumnDefinition(col ColumnDefinition) []byte {
	buf := WriteLenEncString(nil, orDefault(col.Catalog, "def"))
	buf = WriteLenEncString(buf, col.Schema)
	buf = WriteLenEncString(buf, col.Table)
	buf = WriteLenEncString(buf, col.OrgTable)
	buf = WriteLenEncString(buf, col.Name)
	buf = WriteLenEncString(buf, col.OrgName)
	buf = WriteLenEncInt(buf, 0x0C) // length of fixed fields below
	buf = appendUint16(buf, col.CharsetNr)
	buf = appendUint32(buf, col.ColumnLength)
	buf = append(buf, col.ColumnType)
	buf = appendUint16(buf, col.Flags)
	buf = append(buf, col.Decimals)
	buf = appendUint16(buf, 0) // filler
	return buf
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
