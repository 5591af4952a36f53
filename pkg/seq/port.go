package seq

// Capability flags describe what a port allows other clients to do.
type Capability uint8

const (
	// CapRead allows reading events from the port.
	CapRead Capability = 1 << iota

	// CapWrite allows writing events to the port.
	CapWrite

	// CapSubsRead allows subscribing to the port's output.
	CapSubsRead

	// CapSubsWrite allows subscribing the port as a destination.
	CapSubsWrite

	// CapDuplex marks ports that carry traffic in both directions.
	CapDuplex

	// CapNoExport marks ports that opt out of external routing.
	CapNoExport

	// Common capability combinations.

	// CapProducer is the full readable-source capability set.
	CapProducer = CapRead | CapSubsRead

	// CapConsumer is the full writable-sink capability set.
	CapConsumer = CapWrite | CapSubsWrite
)

// CanProduce returns true if other clients may subscribe to the port's output.
func (c Capability) CanProduce() bool { return c&CapRead != 0 && c&CapSubsRead != 0 }

// CanConsume returns true if other clients may route events into the port.
func (c Capability) CanConsume() bool { return c&CapWrite != 0 && c&CapSubsWrite != 0 }

// NoExport returns true if the port opted out of external routing.
func (c Capability) NoExport() bool { return c&CapNoExport != 0 }

// String returns the capability flags as a compact string.
func (c Capability) String() string {
	var s string
	if c&CapRead != 0 {
		s += "R"
	}
	if c&CapWrite != 0 {
		s += "W"
	}
	if c&CapSubsRead != 0 {
		s += "r"
	}
	if c&CapSubsWrite != 0 {
		s += "w"
	}
	if c&CapDuplex != 0 {
		s += "D"
	}
	if c&CapNoExport != 0 {
		s += "N"
	}
	if s == "" {
		return "-"
	}
	return s
}

// PortType flags describe what kind of endpoint a port is.
type PortType uint8

const (
	// TypeApplication marks ports registered by user-space programs.
	TypeApplication PortType = 1 << iota

	// TypeHardware marks ports backed by a physical device.
	TypeHardware

	// TypeMIDIGeneric marks ports speaking plain MIDI.
	TypeMIDIGeneric
)

// Application returns true if the application flag is set.
func (t PortType) Application() bool { return t&TypeApplication != 0 }

// Hardware returns true if the hardware flag is set.
func (t PortType) Hardware() bool { return t&TypeHardware != 0 }

// String returns the type flags as a compact string.
func (t PortType) String() string {
	var s string
	if t&TypeApplication != 0 {
		s += "A"
	}
	if t&TypeHardware != 0 {
		s += "H"
	}
	if t&TypeMIDIGeneric != 0 {
		s += "M"
	}
	if s == "" {
		return "-"
	}
	return s
}

// PortInfo describes one port on the bus.
type PortInfo struct {
	// Addr is the port's bus address.
	Addr Address

	// ClientName is the owning client's name at observation time.
	ClientName string

	// PortName is the port's own name.
	PortName string

	// Caps are the port's capability flags.
	Caps Capability

	// Type are the port's type flags.
	Type PortType
}
