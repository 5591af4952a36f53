package seqwire

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/autopatch-io/autopatch/pkg/seq"
)

// ProtocolVersion is the wire protocol version spoken by this package.
const ProtocolVersion uint8 = 1

// MsgType identifies a wire message.
type MsgType uint8

// Wire message types.
const (
	// MsgHello opens a session. Payload: HelloPayload.
	MsgHello MsgType = 1

	// MsgHelloOK accepts a session. Payload: HelloOKPayload.
	MsgHelloOK MsgType = 2

	// MsgEnumerate requests the full port list. No payload.
	MsgEnumerate MsgType = 3

	// MsgPortList carries a port snapshot. Payload: PortListPayload.
	// Sent in response to MsgEnumerate and as the MsgSubscribe ack.
	MsgPortList MsgType = 4

	// MsgSubscribe asks for unsolicited port events. No payload.
	MsgSubscribe MsgType = 5

	// MsgEvent pushes a port event. Payload: EventPayload. Always
	// unsolicited (identifier 0).
	MsgEvent MsgType = 6

	// MsgConnect requests a subscription between two ports.
	// Payload: ConnectPayload.
	MsgConnect MsgType = 7

	// MsgConnectResult reports the outcome of MsgConnect.
	// Payload: ConnectResultPayload.
	MsgConnectResult MsgType = 8

	// MsgResolveName asks for a client's name. Payload: ResolveNamePayload.
	MsgResolveName MsgType = 9

	// MsgName answers MsgResolveName. Payload: NamePayload.
	MsgName MsgType = 10
)

// String returns the message type name.
func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgHelloOK:
		return "helloOK"
	case MsgEnumerate:
		return "enumerate"
	case MsgPortList:
		return "portList"
	case MsgSubscribe:
		return "subscribe"
	case MsgEvent:
		return "event"
	case MsgConnect:
		return "connect"
	case MsgConnectResult:
		return "connectResult"
	case MsgResolveName:
		return "resolveName"
	case MsgName:
		return "name"
	default:
		return "unknown"
	}
}

// Message is the envelope every frame carries.
//
// CBOR encoding:
//
//	{
//	  1: type,       // uint8
//	  2: id,         // uint32: request correlation, 0 = unsolicited
//	  3: payload     // type-specific map
//	}
type Message struct {
	Type    MsgType         `cbor:"1,keyasint"`
	ID      uint32          `cbor:"2,keyasint,omitempty"`
	Payload cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// HelloPayload opens a session.
type HelloPayload struct {
	ClientName string `cbor:"1,keyasint"`
	Version    uint8  `cbor:"2,keyasint"`
}

// HelloOKPayload accepts a session and assigns the client's bus number.
type HelloOKPayload struct {
	ClientID int32  `cbor:"1,keyasint"`
	Server   string `cbor:"2,keyasint,omitempty"`
}

// WirePort is the wire form of a port description.
type WirePort struct {
	Client     int32  `cbor:"1,keyasint"`
	Port       int32  `cbor:"2,keyasint"`
	ClientName string `cbor:"3,keyasint,omitempty"`
	PortName   string `cbor:"4,keyasint,omitempty"`
	Caps       uint8  `cbor:"5,keyasint"`
	Type       uint8  `cbor:"6,keyasint"`
}

// PortInfo converts the wire form to the bus form.
func (p WirePort) PortInfo() seq.PortInfo {
	return seq.PortInfo{
		Addr: seq.Address{
			Client: seq.ClientID(p.Client),
			Port:   seq.PortID(p.Port),
		},
		ClientName: p.ClientName,
		PortName:   p.PortName,
		Caps:       seq.Capability(p.Caps),
		Type:       seq.PortType(p.Type),
	}
}

// FromPortInfo converts a bus port description to its wire form.
func FromPortInfo(info seq.PortInfo) WirePort {
	return WirePort{
		Client:     int32(info.Addr.Client),
		Port:       int32(info.Addr.Port),
		ClientName: info.ClientName,
		PortName:   info.PortName,
		Caps:       uint8(info.Caps),
		Type:       uint8(info.Type),
	}
}

// PortListPayload carries a port snapshot.
type PortListPayload struct {
	Ports []WirePort `cbor:"1,keyasint,omitempty"`
}

// Wire event kinds.
const (
	// WireEventAppeared marks a port that was just created.
	WireEventAppeared uint8 = 1

	// WireEventVanished marks a port that was just removed.
	WireEventVanished uint8 = 2
)

// EventPayload pushes a port event to subscribed clients.
type EventPayload struct {
	Kind uint8    `cbor:"1,keyasint"`
	Port WirePort `cbor:"2,keyasint"`
}

// Event converts the wire form to the bus form. The second return is
// false for unknown event kinds.
func (p EventPayload) Event() (seq.Event, bool) {
	info := p.Port.PortInfo()
	switch p.Kind {
	case WireEventAppeared:
		return seq.Event{Kind: seq.EventPortAppeared, Addr: info.Addr, Port: info}, true
	case WireEventVanished:
		return seq.Event{Kind: seq.EventPortVanished, Addr: info.Addr, Port: info}, true
	default:
		return seq.Event{}, false
	}
}

// ConnectPayload requests a subscription from a source port to a
// destination port.
type ConnectPayload struct {
	SrcClient int32 `cbor:"1,keyasint"`
	SrcPort   int32 `cbor:"2,keyasint"`
	DstClient int32 `cbor:"3,keyasint"`
	DstPort   int32 `cbor:"4,keyasint"`
}

// Connect status codes.
const (
	// ConnectOK means the subscription was created or already existed.
	ConnectOK uint8 = 0

	// ConnectRefused means the daemon rejected the subscription.
	ConnectRefused uint8 = 1

	// ConnectNoSuchPort means one of the addresses does not exist.
	ConnectNoSuchPort uint8 = 2
)

// ConnectResultPayload reports the outcome of a connect request.
type ConnectResultPayload struct {
	Status  uint8  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint,omitempty"`
}

// ResolveNamePayload asks for a client's current name.
type ResolveNamePayload struct {
	Client int32 `cbor:"1,keyasint"`
}

// NamePayload answers a name lookup. Name is empty when the client is
// unknown.
type NamePayload struct {
	Client int32  `cbor:"1,keyasint"`
	Name   string `cbor:"2,keyasint,omitempty"`
}
