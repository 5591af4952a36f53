package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/autopatch-io/autopatch/pkg/seq"
)

// Stage is the mutable bus surface a scenario plays against.
type Stage interface {
	AddPort(info seq.PortInfo)
	RemovePort(addr seq.Address)
}

// Parse parses a scenario from YAML bytes.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	if sc.Name == "" {
		return nil, &LoadError{
			Message: "scenario name is required",
		}
	}
	if len(sc.Clients) == 0 && len(sc.Steps) == 0 {
		return nil, &LoadError{
			Message: "scenario declares no clients and no steps",
		}
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}

	return &sc, nil
}

// Load loads a scenario from a file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	sc, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{
			File:    path,
			Message: err.Error(),
		}
	}

	return sc, nil
}

func (s *Scenario) validate() error {
	seen := make(map[int]struct{}, len(s.Clients))
	for i, c := range s.Clients {
		if c.ID <= 0 {
			return &LoadError{Message: fmt.Sprintf("client %d: id must be positive, got %d", i, c.ID)}
		}
		if _, dup := seen[c.ID]; dup {
			return &LoadError{Message: fmt.Sprintf("client id %d declared twice", c.ID)}
		}
		seen[c.ID] = struct{}{}
		if c.Name == "" {
			return &LoadError{Message: fmt.Sprintf("client %d: name is required", c.ID)}
		}
		for _, p := range c.Ports {
			if _, err := parseCaps(p.Caps); err != nil {
				return &LoadError{Message: fmt.Sprintf("client %d port %d: %v", c.ID, p.ID, err)}
			}
			if _, err := parseType(p.Type); err != nil {
				return &LoadError{Message: fmt.Sprintf("client %d port %d: %v", c.ID, p.ID, err)}
			}
		}
	}

	for i, st := range s.Steps {
		switch st.Action {
		case ActionAdd:
			if _, err := parseCaps(st.Caps); err != nil {
				return &LoadError{Message: fmt.Sprintf("step %d: %v", i, err)}
			}
			if _, err := parseType(st.Type); err != nil {
				return &LoadError{Message: fmt.Sprintf("step %d: %v", i, err)}
			}
		case ActionRemove:
		default:
			return &LoadError{Message: fmt.Sprintf("step %d: unknown action %q", i, st.Action)}
		}
		if st.After != "" {
			if _, err := time.ParseDuration(st.After); err != nil {
				return &LoadError{
					Message: fmt.Sprintf("step %d: bad delay %q", i, st.After),
					Cause:   err,
				}
			}
		}
	}

	return nil
}

// Apply creates every declared client port on the stage. It is called
// before the daemon starts so the startup sweep sees the ports.
func (s *Scenario) Apply(stage Stage) error {
	for _, c := range s.Clients {
		for _, p := range c.Ports {
			info, err := portInfo(c.ID, c.Name, p)
			if err != nil {
				return &LoadError{Message: fmt.Sprintf("client %d port %d: %v", c.ID, p.ID, err)}
			}
			stage.AddPort(info)
		}
	}
	return nil
}

// Play runs the steps in order, honoring each step's delay. It returns
// early with ctx.Err() when the context is canceled.
func (s *Scenario) Play(ctx context.Context, stage Stage) error {
	names := make(map[int]string, len(s.Clients))
	for _, c := range s.Clients {
		names[c.ID] = c.Name
	}

	for i := range s.Steps {
		st := &s.Steps[i]
		if st.After != "" {
			d, err := time.ParseDuration(st.After)
			if err != nil {
				return &LoadError{
					Message: fmt.Sprintf("step %d: bad delay %q", i, st.After),
					Cause:   err,
				}
			}
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		addr := seq.Address{Client: seq.ClientID(st.Client), Port: seq.PortID(st.Port)}
		switch st.Action {
		case ActionRemove:
			stage.RemovePort(addr)
		case ActionAdd:
			clientName := st.ClientName
			if clientName == "" {
				clientName = names[st.Client]
			} else {
				names[st.Client] = clientName
			}
			decl := PortDecl{ID: st.Port, Name: st.Name, Caps: st.Caps, Type: st.Type}
			info, err := portInfo(st.Client, clientName, decl)
			if err != nil {
				return &LoadError{Message: fmt.Sprintf("step %d: %v", i, err)}
			}
			stage.AddPort(info)
		default:
			return &LoadError{Message: fmt.Sprintf("step %d: unknown action %q", i, st.Action)}
		}
	}

	return nil
}

func portInfo(client int, clientName string, p PortDecl) (seq.PortInfo, error) {
	caps, err := parseCaps(p.Caps)
	if err != nil {
		return seq.PortInfo{}, err
	}
	typ, err := parseType(p.Type)
	if err != nil {
		return seq.PortInfo{}, err
	}
	name := p.Name
	if name == "" {
		name = clientName
	}
	return seq.PortInfo{
		Addr:       seq.Address{Client: seq.ClientID(client), Port: seq.PortID(p.ID)},
		ClientName: clientName,
		PortName:   name,
		Caps:       caps,
		Type:       typ,
	}, nil
}

func parseCaps(s string) (seq.Capability, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("missing capability list")
	}
	var caps seq.Capability
	for _, tok := range strings.Split(s, ",") {
		switch strings.TrimSpace(tok) {
		case "producer":
			caps |= seq.CapProducer
		case "consumer":
			caps |= seq.CapConsumer
		case "duplex":
			caps |= seq.CapProducer | seq.CapConsumer | seq.CapDuplex
		case "no-export":
			caps |= seq.CapNoExport
		case "":
		default:
			return 0, fmt.Errorf("unknown capability %q", strings.TrimSpace(tok))
		}
	}
	return caps, nil
}

func parseType(s string) (seq.PortType, error) {
	switch strings.TrimSpace(s) {
	case "", "application", "software":
		return seq.TypeApplication | seq.TypeMIDIGeneric, nil
	case "hardware":
		return seq.TypeHardware | seq.TypeMIDIGeneric, nil
	default:
		return 0, fmt.Errorf("unknown port type %q", s)
	}
}
