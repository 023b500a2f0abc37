package wire

import "testing"

func TestOKRoundTrip(t *testing.T) {
	ok := OKPacket{AffectedRows: 3, LastInsertID: 42, StatusFlags: StatusAutocommit, Warnings: 1, Info: "ok"}
	buf := EncodeOK(ok, ProxyCapabilities)
	got, err := DecodeOK(buf, ProxyCapabilities)
	if err != nil {
		t.Fatalf("DecodeOK: %v", err)
	}
	if got != ok {
		t.Fatalf("got %+v, want %+v", got, ok)
	}
}

func TestERRRoundTrip(t *testing.T) {
	e := ERRPacket{Code: 1045, SQLState: "28000", Message: "Access denied"}
	buf := EncodeERR(e, ProxyCapabilities)
	got, err := DecodeERR(buf, ProxyCapabilities)
	if err != nil {
		t.Fatalf("DecodeERR: %v", err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestEOFRoundTrip(t *testing.T) {
	eof := EOFPacket{Warnings: 2, StatusFlags: StatusMoreResultsExist}
	buf := EncodeEOF(eof, ProxyCapabilities)
	got, err := DecodeEOF(buf, ProxyCapabilities)
	if err != nil {
		t.Fatalf("DecodeEOF: %v", err)
	}
	if got != eof {
		t.Fatalf("got %+v, want %+v", got, eof)
	}
	if !MoreResultsFollow(got.StatusFlags) {
		t.Fatalf("MoreResultsFollow should be true")
	}
}

func TestClassifyReplyFirstByte(t *testing.T) {
	cases := []struct {
		payload []byte
		want    ReplyKind
	}{
		{[]byte{0x00, 0, 0}, ReplyOK},
		{[]byte{0xFF, 0, 0}, ReplyErr},
		{[]byte{0xFB, 'f'}, ReplyLocalInfile},
		{append([]byte{0xFE}, make([]byte, 4)...), ReplyEOF},
		{[]byte{0x02, 'a', 'b'}, ReplyColumnCount},
	}
	for _, c := range cases {
		got, err := ClassifyReply(c.payload)
		if err != nil {
			t.Fatalf("ClassifyReply: %v", err)
		}
		if got != c.want {
			t.Fatalf("ClassifyReply(%v) = %v, want %v", c.payload, got, c.want)
		}
	}
}

func TestColumnDefinitionRoundTripLength(t *testing.T) {
	col := ColumnDefinition{Schema: "db", Table: "t", Name: "id", ColumnType: 0x03, ColumnLength: 11}
	buf := EncodeColumnDefinition(col)
	if len(buf) == 0 {
		t.Fatalf("empty column definition packet")
	}
}
