package seq

import (
	"errors"
	"strconv"
	"strings"
)

// Address errors.
var (
	ErrBadAddress = errors.New("malformed port address")
)

// ClientID identifies a client on the sequencer bus.
type ClientID int

// PortID identifies a port within a client.
type PortID int

// Reserved bus identifiers.
const (
	// SystemClient is the bus-owned client carrying housekeeping ports.
	SystemClient ClientID = 0

	// SystemTimer is the system client's timer queue port.
	SystemTimer PortID = 0

	// SystemAnnounce is the system client's port lifecycle announcement port.
	SystemAnnounce PortID = 1
)

// Well-known client name prefixes.
const (
	// ThruPrefix marks the kernel's loop-through clients. Their ports echo
	// everything written to them back onto the bus.
	ThruPrefix = "Midi Through"

	// BridgePrefix marks bridge clients that represent physical control
	// surfaces behind an application-flagged port.
	BridgePrefix = "TouchOSC Bridge"
)

// Address identifies a single port on the bus.
type Address struct {
	Client ClientID
	Port   PortID
}

// String renders the address in "client:port" form.
func (a Address) String() string {
	return strconv.Itoa(int(a.Client)) + ":" + strconv.Itoa(int(a.Port))
}

// Compare orders addresses by client, then port. It returns a negative
// number when a sorts before b, zero when equal, positive otherwise.
func (a Address) Compare(b Address) int {
	if a.Client != b.Client {
		return int(a.Client) - int(b.Client)
	}
	return int(a.Port) - int(b.Port)
}

// ParseAddress parses the "client:port" form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	cs, ps, ok := strings.Cut(s, ":")
	if !ok {
		return Address{}, ErrBadAddress
	}
	client, err := strconv.Atoi(strings.TrimSpace(cs))
	if err != nil || client < 0 {
		return Address{}, ErrBadAddress
	}
	port, err := strconv.Atoi(strings.TrimSpace(ps))
	if err != nil || port < 0 {
		return Address{}, ErrBadAddress
	}
	return Address{Client: ClientID(client), Port: PortID(port)}, nil
}
