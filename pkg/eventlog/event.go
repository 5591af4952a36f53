package eventlog

import (
	"time"

	"github.com/autopatch-io/autopatch/pkg/rules"
)

// Event represents one decision log entry.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// RunID identifies the daemon run that produced the event (UUID).
	RunID string `cbor:"2,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint"`

	// Type-specific payload (exactly one of these is set).
	Port     *PortEvent     `cbor:"4,keyasint,omitempty"`
	Rule     *RuleEvent     `cbor:"5,keyasint,omitempty"`
	Decision *DecisionEvent `cbor:"6,keyasint,omitempty"`
	Link     *LinkEvent     `cbor:"7,keyasint,omitempty"`
	Error    *ErrorEvent    `cbor:"8,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryPort indicates a port lifecycle event.
	CategoryPort Category = 0
	// CategoryRule indicates a policy rule event.
	CategoryRule Category = 1
	// CategoryDecision indicates one rule evaluation.
	CategoryDecision Category = 2
	// CategoryLink indicates a link request.
	CategoryLink Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPort:
		return "PORT"
	case CategoryRule:
		return "RULE"
	case CategoryDecision:
		return "DECISION"
	case CategoryLink:
		return "LINK"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// PortEvent captures a port passing through the registry.
type PortEvent struct {
	// Action is what happened to the port.
	Action PortAction `cbor:"1,keyasint"`

	// Addr is the port address in "client:port" form.
	Addr string `cbor:"2,keyasint"`

	// Client is the owning client's name, when known.
	Client string `cbor:"3,keyasint,omitempty"`

	// Port is the port's own name, when known.
	Port string `cbor:"4,keyasint,omitempty"`

	// Kind is the partition the client was classified into
	// ("hardware" or "software"), when known.
	Kind string `cbor:"5,keyasint,omitempty"`

	// NewProducer indicates the port became its client's producer address.
	NewProducer bool `cbor:"6,keyasint,omitempty"`

	// NewConsumer indicates the port became its client's consumer address.
	NewConsumer bool `cbor:"7,keyasint,omitempty"`
}

// PortAction indicates what happened to a port.
type PortAction uint8

const (
	// PortAdmitted indicates the registry tracked at least one direction.
	PortAdmitted PortAction = 0
	// PortIgnored indicates the port was filtered or added nothing new.
	PortIgnored PortAction = 1
	// PortVanished indicates the port left the bus.
	PortVanished PortAction = 2
)

// String returns the port action name.
func (a PortAction) String() string {
	switch a {
	case PortAdmitted:
		return "ADMITTED"
	case PortIgnored:
		return "IGNORED"
	case PortVanished:
		return "VANISHED"
	default:
		return "UNKNOWN"
	}
}

// RuleEvent captures a policy rule entering or failing to enter the rule
// set.
type RuleEvent struct {
	// Action is what happened to the rule.
	Action RuleAction `cbor:"1,keyasint"`

	// Kind is the rule list, "allow" or "disallow".
	Kind string `cbor:"2,keyasint"`

	// Output is the producer-side pattern.
	Output string `cbor:"3,keyasint"`

	// Input is the consumer-side pattern.
	Input string `cbor:"4,keyasint"`
}

// RuleAction indicates what happened to a rule.
type RuleAction uint8

const (
	// RuleAdded indicates the rule entered the set.
	RuleAdded RuleAction = 0
	// RuleRejected indicates the rule failed pattern validation.
	RuleRejected RuleAction = 1
)

// String returns the rule action name.
func (a RuleAction) String() string {
	switch a {
	case RuleAdded:
		return "ADDED"
	case RuleRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// DecisionEvent captures one rule evaluation for a candidate link.
type DecisionEvent struct {
	// Phase is the context the evaluation ran in.
	Phase Phase `cbor:"1,keyasint"`

	// Src and Dst are the candidate producer and consumer addresses in
	// "client:port" form.
	Src string `cbor:"2,keyasint"`
	Dst string `cbor:"3,keyasint"`

	// SrcName and DstName are the resolved client names.
	SrcName string `cbor:"4,keyasint,omitempty"`
	DstName string `cbor:"5,keyasint,omitempty"`

	// Allow and Deny are the strongest matches from each rule list.
	Allow rules.Strength `cbor:"6,keyasint"`
	Deny  rules.Strength `cbor:"7,keyasint"`

	// Min is the minimum allow strength the context required.
	Min rules.Strength `cbor:"8,keyasint"`

	// Permitted is the verdict.
	Permitted bool `cbor:"9,keyasint"`
}

// Phase is the context a rule evaluation ran in.
type Phase uint8

const (
	// PhaseSweep - the startup pairwise sweep.
	PhaseSweep Phase = 0
	// PhaseHotplug - reaction to a port appearing at runtime.
	PhaseHotplug Phase = 1
	// PhaseManual - an operator-initiated evaluation or patch.
	PhaseManual Phase = 2
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseSweep:
		return "SWEEP"
	case PhaseHotplug:
		return "HOTPLUG"
	case PhaseManual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

// LinkEvent captures a link request sent to the bus.
type LinkEvent struct {
	// Action is the request outcome.
	Action LinkAction `cbor:"1,keyasint"`

	// Src and Dst are the link endpoints in "client:port" form.
	Src string `cbor:"2,keyasint"`
	Dst string `cbor:"3,keyasint"`

	// Error is the failure message for LinkFailed.
	Error string `cbor:"4,keyasint,omitempty"`
}

// LinkAction indicates the outcome of a link request.
type LinkAction uint8

const (
	// LinkRequested indicates the bus accepted the request.
	LinkRequested LinkAction = 0
	// LinkFailed indicates the bus rejected the request.
	LinkFailed LinkAction = 1
)

// String returns the link action name.
func (a LinkAction) String() string {
	switch a {
	case LinkRequested:
		return "REQUESTED"
	case LinkFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrorEvent captures an error outside the other categories.
type ErrorEvent struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what was being done.
	Context string `cbor:"2,keyasint,omitempty"`
}
