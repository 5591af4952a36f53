package seq

import (
	"context"
	"errors"
)

// Bus errors.
var (
	// ErrBusClosed indicates the bus connection is gone and no further
	// notifications will be delivered.
	ErrBusClosed = errors.New("sequencer bus closed")
)

// NameResolver resolves a client ID to its current name.
type NameResolver interface {
	// ClientName returns the client's name, or "" when the client is
	// unknown to the bus.
	ClientName(client ClientID) string
}

// Bus is a connection to a sequencer bus.
type Bus interface {
	NameResolver

	// Ports returns a snapshot of every port currently on the bus.
	Ports() ([]PortInfo, error)

	// Events returns an ordered stream of bus notifications. The channel
	// is closed when ctx is done or when the bus connection is lost.
	Events(ctx context.Context) (<-chan Event, error)

	// Connect asks the bus to route src's output into dst. The request is
	// fire-and-forget: a nil error means the bus accepted the request, not
	// that the link was established.
	Connect(src, dst Address) error

	// Close releases the bus connection.
	Close() error
}
