package workerpool

import "github.com/mariadb-corporation/maxscale-sub025/internal/session"

// MessageKind discriminates the cross-worker message queue: rebalance
// moves, administrative broadcasts, and statistics collection.
type MessageKind int

const (
	// MsgAdoptMoved hands a session that a rebalance decided to move into
	// this worker's table. Only ever sent for a session whose phase was
	// IDLE at the moment of the move.
	MsgAdoptMoved MessageKind = iota
	// MsgCollectStats asks the worker to report its current load on
	// StatsReply.
	MsgCollectStats
	// MsgBroadcastAdmin runs AdminFunc against the worker, used for
	// administrative tasks that must touch every worker's local state
	// (e.g. an admin-triggered session kill by id).
	MsgBroadcastAdmin
)

// Message is one entry on a worker's inbox.
type Message struct {
	Kind MessageKind

	Session *session.Session // MsgAdoptMoved

	StatsReply chan Stats // MsgCollectStats

	AdminFunc func(*Worker) // MsgBroadcastAdmin
}

// Stats is one worker's reported load, returned by Pool.Stats.
type Stats struct {
	WorkerID int
	Sessions int
}
