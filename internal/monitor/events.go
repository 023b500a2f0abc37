package monitor

import "github.com/mariadb-corporation/maxscale-sub025/internal/registry"

// Event is one server-state transition name.
type Event string

const (
	EventPrimaryUp   Event = "primary_up"
	EventPrimaryDown Event = "primary_down"
	EventReplicaUp   Event = "replica_up"
	EventReplicaDown Event = "replica_down"
	EventNewPrimary  Event = "new_primary"
	EventNewReplica  Event = "new_replica"
	EventLostPrimary Event = "lost_primary"
	EventLostReplica Event = "lost_replica"
	EventServerUp    Event = "server_up"
	EventServerDown  Event = "server_down"
)

// EventMask is the bitset of events for which the monitor invokes the hook
// script. It does not filter the event bus: every detected transition is
// published there.
type EventMask uint32

const (
	MaskPrimaryUp EventMask = 1 << iota
	MaskPrimaryDown
	MaskReplicaUp
	MaskReplicaDown
	MaskNewPrimary
	MaskNewReplica
	MaskLostPrimary
	MaskLostReplica
	MaskServerUp
	MaskServerDown
)

// AllEvents enables every transition.
const AllEvents = MaskPrimaryUp | MaskPrimaryDown | MaskReplicaUp | MaskReplicaDown |
	MaskNewPrimary | MaskNewReplica | MaskLostPrimary | MaskLostReplica |
	MaskServerUp | MaskServerDown

var eventBit = map[Event]EventMask{
	EventPrimaryUp:   MaskPrimaryUp,
	EventPrimaryDown: MaskPrimaryDown,
	EventReplicaUp:   MaskReplicaUp,
	EventReplicaDown: MaskReplicaDown,
	EventNewPrimary:  MaskNewPrimary,
	EventNewReplica:  MaskNewReplica,
	EventLostPrimary: MaskLostPrimary,
	EventLostReplica: MaskLostReplica,
	EventServerUp:    MaskServerUp,
	EventServerDown:  MaskServerDown,
}

// Has reports whether evt's bit is set in the mask.
func (m EventMask) Has(evt Event) bool {
	bit, ok := eventBit[evt]
	return ok && m&bit != 0
}

// ParseEventNames builds a mask from lower-snake-case event names such as
// "primary_down", for use by a configuration layer unmarshalling the
// monitor's configured event list. An unrecognised name is ignored.
func ParseEventNames(names []string) EventMask {
	var mask EventMask
	for _, name := range names {
		if bit, ok := eventBit[Event(name)]; ok {
			mask |= bit
		}
	}
	return mask
}

// DetectTransitions compares a server's previously-published status to its
// freshly-probed status and reports every event that fired.
func DetectTransitions(prev, next registry.StatusBit) []Event {
	var events []Event

	wasUp, isUp := prev.Has(registry.Running), next.Has(registry.Running)
	if isUp && !wasUp {
		events = append(events, EventServerUp)
	}
	if wasUp && !isUp {
		events = append(events, EventServerDown)
	}

	wasPrimary, isPrimary := prev.Has(registry.Primary), next.Has(registry.Primary)
	if isPrimary && !wasPrimary {
		events = append(events, EventPrimaryUp, EventNewPrimary)
	}
	if wasPrimary && !isPrimary {
		events = append(events, EventPrimaryDown, EventLostPrimary)
	}

	wasReplica, isReplica := prev.Has(registry.Replica), next.Has(registry.Replica)
	if isReplica && !wasReplica {
		events = append(events, EventReplicaUp, EventNewReplica)
	}
	if wasReplica && !isReplica {
		events = append(events, EventReplicaDown, EventLostReplica)
	}

	return events
}
