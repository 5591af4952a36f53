// Package scenario loads scripted bus sessions from YAML.
//
// A scenario declares the sequencer clients present when the simulated
// bus comes up, plus an optional list of timed steps that add or remove
// ports while the daemon runs. Scenarios drive "autopatchd -bus sim".
package scenario

// Scenario is a scripted session for the simulated bus.
type Scenario struct {
	// Name identifies the scenario in logs.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Clients exist on the bus before the daemon starts.
	Clients []ClientDecl `yaml:"clients,omitempty"`

	// Steps run in order once the daemon is up.
	Steps []Step `yaml:"steps,omitempty"`
}

// ClientDecl declares a sequencer client and its initial ports.
type ClientDecl struct {
	// ID is the client number on the bus. Client 0 is reserved for
	// the system client and cannot be declared.
	ID int `yaml:"id"`

	// Name is the client name that rules match against.
	Name string `yaml:"name"`

	// Ports are created in declaration order.
	Ports []PortDecl `yaml:"ports,omitempty"`
}

// PortDecl declares a single port.
type PortDecl struct {
	// ID is the port number within the client.
	ID int `yaml:"id"`

	// Name is the port name. Defaults to the client name.
	Name string `yaml:"name,omitempty"`

	// Caps is a comma-separated capability list. Recognized tokens
	// are "producer", "consumer", "duplex" and "no-export".
	Caps string `yaml:"caps"`

	// Type is "hardware" or "application". Defaults to application.
	Type string `yaml:"type,omitempty"`
}

// Step mutates the simulated bus while the daemon runs.
type Step struct {
	// After delays the step relative to the previous one, in
	// time.ParseDuration syntax ("250ms", "1s").
	After string `yaml:"after,omitempty"`

	// Action is ActionAdd or ActionRemove.
	Action string `yaml:"action"`

	// Client and Port address the affected port.
	Client int `yaml:"client"`
	Port   int `yaml:"port"`

	// ClientName names a client first seen in this step.
	ClientName string `yaml:"client_name,omitempty"`

	// Name, Caps and Type describe the added port. Ignored on remove.
	Name string `yaml:"name,omitempty"`
	Caps string `yaml:"caps,omitempty"`
	Type string `yaml:"type,omitempty"`
}

// Step actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// LoadError describes a scenario that could not be loaded.
type LoadError struct {
	// File is the path of the offending file, if known.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return e.File + ": " + e.Message
	}
	return e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
