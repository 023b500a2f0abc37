package session

import "github.com/mariadb-corporation/maxscale-sub025/internal/wire"

// replyPhase tracks where one backend's reply to the current request stands
// within the column-count/columns/rows/EOF shape of a result set, so that
// replyState can tell a complete logical reply from a single wire packet.
type replyPhase int

const (
	phaseAwaitFirst replyPhase = iota
	phaseAwaitColumnEOF
	phaseAwaitRowEOF
)

// replyState is the per-backend reply tracker the session consults from
// on_backend_reply to decide whether a packet completes a logical reply.
type replyState struct {
	capabilities uint32
	phase        replyPhase
	columnCount  uint64
	columnsSeen  uint64
}

// feed processes one backend packet and reports whether it completes the
// current logical reply.
func (r *replyState) feed(payload []byte) (complete bool) {
	switch r.phase {
	case phaseAwaitFirst:
		kind, err := wire.ClassifyReply(payload)
		if err != nil {
			return true
		}
		switch kind {
		case wire.ReplyOK:
			ok, err := wire.DecodeOK(payload, r.capabilities)
			if err != nil {
				return true
			}
			return !wire.MoreResultsFollow(ok.StatusFlags)
		case wire.ReplyErr:
			return true
		case wire.ReplyEOF:
			return true
		default: // ReplyColumnCount or ReplyLocalInfile
			n, _, err := wire.ReadLenEncInt(payload, 0)
			if err != nil {
				return true
			}
			r.columnCount = n
			r.columnsSeen = 0
			if n == 0 {
				r.phase = phaseAwaitRowEOF
			} else {
				r.phase = phaseAwaitColumnEOF
			}
			return false
		}
	case phaseAwaitColumnEOF:
		if kind, err := wire.ClassifyReply(payload); err == nil && kind == wire.ReplyEOF {
			r.phase = phaseAwaitRowEOF
			return false
		}
		r.columnsSeen++
		return false
	case phaseAwaitRowEOF:
		kind, err := wire.ClassifyReply(payload)
		if err != nil {
			return true
		}
		if kind != wire.ReplyEOF && kind != wire.ReplyErr {
			return false // an ordinary row packet
		}
		more := false
		if kind == wire.ReplyEOF {
			if eof, err := wire.DecodeEOF(payload, r.capabilities); err == nil {
				more = wire.MoreResultsFollow(eof.StatusFlags)
			}
		}
		r.phase = phaseAwaitFirst
		return !more
	}
	return true
}
