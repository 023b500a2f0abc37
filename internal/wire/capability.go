package wire

// Capability flags from the MariaDB/MySQL client protocol. Only the subset
// the proxy negotiates is named individually; the rest are
// carried as raw bits for pass-through masking.
const (
	ClientLongPassword    uint32 = 1 << 0
	ClientFoundRows       uint32 = 1 << 1
	ClientLongFlag        uint32 = 1 << 2
	ClientConnectWithDB   uint32 = 1 << 3
	ClientNoSchema        uint32 = 1 << 4
	ClientCompress        uint32 = 1 << 5
	ClientODBC            uint32 = 1 << 6
	ClientLocalFiles      uint32 = 1 << 7
	ClientIgnoreSpace     uint32 = 1 << 8
	ClientProtocol41      uint32 = 1 << 9
	ClientInteractive     uint32 = 1 << 10
	ClientSSL             uint32 = 1 << 11
	ClientIgnoreSigpipe   uint32 = 1 << 12
	ClientTransactions    uint32 = 1 << 13
	ClientReserved        uint32 = 1 << 14
	ClientSecureConn      uint32 = 1 << 15
	ClientMultiStatements uint32 = 1 << 16
	ClientMultiResults    uint32 = 1 << 17
	ClientPSMultiResults  uint32 = 1 << 18
	ClientPluginAuth      uint32 = 1 << 19
	ClientConnectAttrs    uint32 = 1 << 20
)

// ProxyCapabilities is the maximal capability set the proxy ever advertises
// to a client.
const ProxyCapabilities = ClientProtocol41 | ClientPluginAuth | ClientConnectWithDB |
	ClientSecureConn | ClientMultiStatements | ClientMultiResults

// Supports reports whether bit is set in flags.
func Supports(flags uint32, bit uint32) bool {
	return flags&bit != 0
}

// NegotiatedCapabilities masks clientFlags down to what both the proxy and
// the backend (or client) on the other end actually advertise, so the proxy
// never claims a capability neither side supports.
func NegotiatedCapabilities(clientFlags, peerFlags uint32) uint32 {
	return clientFlags & peerFlags & ProxyCapabilities
}

// Server status flags, used in OK/EOF packets to signal e.g. more result
// sets following.
const (
	StatusInTrans           uint16 = 1 << 0
	StatusAutocommit        uint16 = 1 << 1
	StatusMoreResultsExist  uint16 = 1 << 3
	StatusInTransReadonly   uint16 = 1 << 13
)
