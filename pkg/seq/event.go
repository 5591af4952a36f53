package seq

// EventKind identifies a bus notification type.
type EventKind uint8

const (
	// EventPortAppeared - a port was created or became visible.
	EventPortAppeared EventKind = iota

	// EventPortVanished - a port was removed.
	EventPortVanished
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventPortAppeared:
		return "port-appeared"
	case EventPortVanished:
		return "port-vanished"
	default:
		return "unknown"
	}
}

// Event is a single bus notification.
type Event struct {
	// Kind identifies the notification type.
	Kind EventKind

	// Addr is the affected port address. Set for every kind.
	Addr Address

	// Port carries the full port description. Set only for
	// EventPortAppeared; a vanished port's metadata is already gone by the
	// time the bus reports it.
	Port PortInfo
}
