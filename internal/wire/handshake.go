package wire

// ProtocolVersion is the handshake protocol version the proxy claims.
const ProtocolVersion = 10

// Greeting is the server-to-client handshake packet.
type Greeting struct {
	ServerVersion      string
	ConnectionID       uint32
	AuthPluginData     [20]byte // 8 + 12 byte scramble, split across two fields on the wire
	Capabilities       uint32
	Collation          byte
	StatusFlags        uint16
	AuthPluginName     string
}

// EncodeGreeting formats g as the initial server handshake packet.
func EncodeGreeting(g Greeting) []byte {
	buf := []byte{ProtocolVersion}
	buf = WriteNulString(buf, g.ServerVersion)
	buf = appendUint32(buf, g.ConnectionID)
	buf = append(buf, g.AuthPluginData[:8]...)
	buf = append(buf, 0) // filler
	buf = appendUint16(buf, uint16(g.Capabilities))
	buf = append(buf, g.Collation)
	buf = appendUint16(buf, g.StatusFlags)
	buf = appendUint16(buf, uint16(g.Capabilities>>16))
	if Supports(g.Capabilities, ClientPluginAuth) {
		buf = append(buf, byte(len(g.AuthPluginData)+1))
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, make([]byte, 10)...) // reserved
	if Supports(g.Capabilities, ClientSecureConn) {
		buf = append(buf, g.AuthPluginData[8:]...)
		buf = append(buf, 0)
	}
	if Supports(g.Capabilities, ClientPluginAuth) {
		buf = WriteNulString(buf, g.AuthPluginName)
	}
	return buf
}

// HandshakeResponse is the client-to-server handshake response.
type HandshakeResponse struct {
	Capabilities    uint32
	MaxPacketSize   uint32
	Collation       byte
	Username        string
	AuthResponse    []byte
	Database        string
	AuthPluginName  string
	ConnectAttrs    map[string]string
}

// DecodeHandshakeResponse parses the client's handshake response payload.
func DecodeHandshakeResponse(payload []byte) (HandshakeResponse, error) {
	var r HandshakeResponse
	if len(payload) < 32 {
		return r, ErrShort
	}
	r.Capabilities = uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
	r.MaxPacketSize = uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16 | uint32(payload[7])<<24
	r.Collation = payload[8]
	off := 32
	name, n, err := ReadNulString(payload, off)
	if err != nil {
		return r, err
	}
	r.Username = name
	off += n

	if Supports(r.Capabilities, ClientPluginAuth) || Supports(r.Capabilities, ClientSecureConn) {
		authLen, hn, err := ReadLenEncInt(payload, off)
		if err == nil {
			off += hn
			if off+int(authLen) <= len(payload) {
				r.AuthResponse = payload[off : off+int(authLen)]
				off += int(authLen)
			}
		}
	} else {
		auth, n, err := ReadNulString(payload, off)
		if err == nil {
			r.AuthResponse = []byte(auth)
			off += n
		}
	}

	if Supports(r.Capabilities, ClientConnectWithDB) && off < len(payload) {
		db, n, err := ReadNulString(payload, off)
		if err == nil {
			r.Database = db
			off += n
		}
	}

	if Supports(r.Capabilities, ClientPluginAuth) && off < len(payload) {
		plugin, n, err := ReadNulString(payload, off)
		if err == nil {
			r.AuthPluginName = plugin
			off += n
		}
	}

	return r, nil
}

// EncodeHandshakeResponse formats r as a handshake response payload, used
// when the proxy authenticates on a session's behalf against a backend.
func EncodeHandshakeResponse(r HandshakeResponse) []byte {
	buf := appendUint32(nil, r.Capabilities)
	buf = appendUint32(buf, r.MaxPacketSize)
	buf = append(buf, r.Collation)
	buf = append(buf, make([]byte, 23)...)
	buf = WriteNulString(buf, r.Username)
	if Supports(r.Capabilities, ClientPluginAuth) || Supports(r.Capabilities, ClientSecureConn) {
		buf = WriteLenEncInt(buf, uint64(len(r.AuthResponse)))
		buf = append(buf, r.AuthResponse...)
	} else {
		buf = WriteNulString(buf, string(r.AuthResponse))
	}
	if Supports(r.Capabilities, ClientConnectWithDB) {
		buf = WriteNulString(buf, r.Database)
	}
	if Supports(r.Capabilities, ClientPluginAuth) {
		buf = WriteNulString(buf, r.AuthPluginName)
	}
	return buf
}

// AuthSwitchRequest is sent by the server to ask the client to switch
// authentication plugins mid-handshake.
type AuthSwitchRequest struct {
	PluginName string
	PluginData []byte
}

// EncodeAuthSwitchRequest formats a as an auth-switch-request packet
// (header byte 0xFE, distinct in meaning from the EOF use of the same byte —
// disambiguated by context: it only occurs during the auth handshake).
func EncodeAuthSwitchRequest(a AuthSwitchRequest) []byte {
	buf := []byte{0xFE}
	buf = WriteNulString(buf, a.PluginName)
	buf = append(buf, a.PluginData...)
	return buf
}
