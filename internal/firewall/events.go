package firewall

import (
	"net/netip"
	"time"
)

// EventType names a state change of the block lifecycle.
type EventType int

const (
	EventBlocked EventType = iota
	EventUnblocked
	EventExpired
	EventBlockFailed
	EventReconcileRemoved
	EventReconcileInstalled
)

func (t EventType) String() string {
	switch t {
	case EventBlocked:
		return "blocked"
	case EventUnblocked:
		return "unblocked"
	case EventExpired:
		return "expired"
	case EventBlockFailed:
		return "block_failed"
	case EventReconcileRemoved:
		return "reconcile_removed"
	case EventReconcileInstalled:
		return "reconcile_installed"
	default:
		return "unknown"
	}
}

// Event describes one change to the block state of an address.
type Event struct {
	Type  EventType
	Addr  netip.Addr
	Count int
	Time  time.Time
	Err   error
}

// Listener receives manager events. Listeners run on the caller's goroutine
// after the manager lock is released and must not block for long.
type Listener func(Event)
