package patcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autopatch-io/autopatch/pkg/eventlog"
	"github.com/autopatch-io/autopatch/pkg/registry"
	"github.com/autopatch-io/autopatch/pkg/rules"
	"github.com/autopatch-io/autopatch/pkg/seq"
)

// Patcher errors.
var (
	ErrNoBus   = errors.New("no bus configured")
	ErrNoRules = errors.New("no rule set configured")
)

// Config configures a Patcher.
type Config struct {
	// Bus is the sequencer bus to watch and patch. Required.
	Bus seq.Bus

	// Rules is the fully built policy. Required.
	Rules *rules.Set

	// Logger is the optional logger for operational output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// EventLog receives the structured decision trace.
	// If nil, tracing is disabled.
	EventLog eventlog.Logger

	// RunID identifies this daemon run in the decision trace.
	// If empty, a random UUID is generated.
	RunID string
}

// Link is one link request the bus accepted.
type Link struct {
	Src, Dst seq.Address
	At       time.Time
}

// Stats are the running counters shown by the console.
type Stats struct {
	// PortsSeen counts appearance notifications and enumerated ports.
	PortsSeen uint64

	// LinksRequested counts accepted link requests.
	LinksRequested uint64

	// LinkFailures counts rejected link requests.
	LinkFailures uint64

	// DecisionsDenied counts rule evaluations that vetoed a pairing.
	DecisionsDenied uint64
}

// linkKey identifies one directed (producer, consumer) address pair.
type linkKey struct {
	src, dst seq.Address
}

// Patcher owns the registry and drives patching decisions.
type Patcher struct {
	bus    seq.Bus
	rules  *rules.Set
	reg    *registry.Registry
	logger *slog.Logger
	events eventlog.Logger
	runID  string

	mu    sync.Mutex
	links []Link
	stats Stats
}

// New creates a Patcher. The registry starts empty; Run populates it.
func New(cfg Config) (*Patcher, error) {
	if cfg.Bus == nil {
		return nil, ErrNoBus
	}
	if cfg.Rules == nil {
		return nil, ErrNoRules
	}
	if cfg.EventLog == nil {
		cfg.EventLog = eventlog.NoopLogger{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	reg := registry.New()
	reg.SetLogger(cfg.Logger)

	return &Patcher{
		bus:    cfg.Bus,
		rules:  cfg.Rules,
		reg:    reg,
		logger: cfg.Logger,
		events: cfg.EventLog,
		runID:  cfg.RunID,
	}, nil
}

// RunID returns the identifier stamped on this run's decision trace.
func (p *Patcher) RunID() string { return p.runID }

// Registry exposes the client registry for inspection.
func (p *Patcher) Registry() *registry.Registry { return p.reg }

// Rules exposes the policy for inspection and dry-run evaluation.
func (p *Patcher) Rules() *rules.Set { return p.rules }

// Stats returns a copy of the running counters.
func (p *Patcher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Links returns every link requested during this run, in request order.
func (p *Patcher) Links() []Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Link, len(p.links))
	copy(out, p.links)
	return out
}

// Run subscribes to bus notifications, populates the registry from a
// full enumeration, performs the startup sweep, and then processes
// notifications until ctx is done. It returns nil on graceful shutdown
// and seq.ErrBusClosed if the bus dies first. Subscription happens
// before enumeration so ports appearing mid-enumeration are not missed;
// re-admitting an enumerated port is harmless.
func (p *Patcher) Run(ctx context.Context) error {
	events, err := p.bus.Events(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to bus notifications: %w", err)
	}

	ports, err := p.bus.Ports()
	if err != nil {
		return fmt.Errorf("enumerate bus ports: %w", err)
	}
	for _, info := range ports {
		p.admit(info)
	}
	p.infoLog("registry populated",
		"hardware", p.reg.Len(registry.KindHardware),
		"software", p.reg.Len(registry.KindSoftware))

	p.Sweep()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				p.errorLog("bus notification stream closed")
				return seq.ErrBusClosed
			}
			p.handleEvent(ev)
		}
	}
}

// handleEvent dispatches one bus notification.
func (p *Patcher) handleEvent(ev seq.Event) {
	switch ev.Kind {
	case seq.EventPortAppeared:
		p.HandleAppear(ev.Port)
	case seq.EventPortVanished:
		p.HandleVanish(ev.Addr)
	default:
		p.debugLog("ignoring unknown bus event", "kind", uint8(ev.Kind))
	}
}

// HandleAppear admits a port and, when it contributes a new direction,
// evaluates it against every tracked counterpart.
func (p *Patcher) HandleAppear(info seq.PortInfo) {
	adm := p.admit(info)
	if !adm.Admitted() {
		return
	}

	for _, kind := range []registry.Kind{registry.KindHardware, registry.KindSoftware} {
		min := minStrength(adm.Kind, kind)
		for _, other := range p.reg.Clients(kind) {
			if adm.NewProducer && other.Consumer != nil {
				p.tryLink(info.Addr, *other.Consumer, min, eventlog.PhaseHotplug, nil)
			}
			if adm.NewConsumer && other.Producer != nil {
				p.tryLink(*other.Producer, info.Addr, min, eventlog.PhaseHotplug, nil)
			}
		}
	}
}

// HandleVanish withdraws a port address. Links through the address are
// the bus's problem; it tears them down itself when a port exits.
func (p *Patcher) HandleVanish(addr seq.Address) {
	cleared := p.reg.Withdraw(addr)
	p.logEvent(eventlog.Event{
		Category: eventlog.CategoryPort,
		Port:     &eventlog.PortEvent{Action: eventlog.PortVanished, Addr: addr.String()},
	})
	if cleared {
		p.infoLog("port vanished", "addr", addr.String())
	}
}

// Sweep performs the three pairwise connection passes: hardware against
// software first at the liberal threshold, then each partition against
// itself at the strict one.
func (p *Patcher) Sweep() {
	hw := p.reg.Clients(registry.KindHardware)
	sw := p.reg.Clients(registry.KindSoftware)

	p.sweepPass(hw, sw, false, rules.StrengthVeryVague)
	p.sweepPass(hw, nil, true, rules.StrengthSpecific)
	p.sweepPass(sw, nil, true, rules.StrengthSpecific)
}

// sweepPass attempts both directions for every unordered pair of
// distinct clients drawn from a and b (or from a alone when same is
// set). The seen set is scoped to the pass and keeps one address pair
// from being requested twice within it.
func (p *Patcher) sweepPass(a, b []registry.Client, same bool, min rules.Strength) {
	seen := make(map[linkKey]struct{})
	if same {
		for i := range a {
			for j := i + 1; j < len(a); j++ {
				p.sweepPair(a[i], a[j], min, seen)
			}
		}
		return
	}
	for _, x := range a {
		for _, y := range b {
			p.sweepPair(x, y, min, seen)
		}
	}
}

func (p *Patcher) sweepPair(x, y registry.Client, min rules.Strength, seen map[linkKey]struct{}) {
	if x.Producer != nil && y.Consumer != nil {
		p.tryLink(*x.Producer, *y.Consumer, min, eventlog.PhaseSweep, seen)
	}
	if y.Producer != nil && x.Consumer != nil {
		p.tryLink(*y.Producer, *x.Consumer, min, eventlog.PhaseSweep, seen)
	}
}

// Connect requests a link directly, bypassing the rule set. Operator
// use only.
func (p *Patcher) Connect(src, dst seq.Address) error {
	return p.requestLink(src, dst)
}

// admit offers a port to the registry and records the outcome.
func (p *Patcher) admit(info seq.PortInfo) registry.Admission {
	p.mu.Lock()
	p.stats.PortsSeen++
	p.mu.Unlock()

	adm := p.reg.Admit(info)

	pe := &eventlog.PortEvent{
		Addr:   info.Addr.String(),
		Client: info.ClientName,
		Port:   info.PortName,
	}
	if adm.Admitted() {
		pe.Action = eventlog.PortAdmitted
		pe.Kind = adm.Kind.String()
		pe.NewProducer = adm.NewProducer
		pe.NewConsumer = adm.NewConsumer
		p.infoLog("tracking port",
			"addr", info.Addr.String(),
			"client", info.ClientName,
			"kind", adm.Kind.String(),
			"producer", adm.NewProducer,
			"consumer", adm.NewConsumer)
	} else {
		pe.Action = eventlog.PortIgnored
	}
	p.logEvent(eventlog.Event{Category: eventlog.CategoryPort, Port: pe})
	return adm
}

// tryLink evaluates one candidate pair and requests the link when the
// policy permits it. A failed request is logged and skipped; it never
// stops the caller's iteration.
func (p *Patcher) tryLink(src, dst seq.Address, min rules.Strength, phase eventlog.Phase, seen map[linkKey]struct{}) {
	d := p.rules.Decide(src, dst, min)
	p.logEvent(eventlog.Event{
		Category: eventlog.CategoryDecision,
		Decision: &eventlog.DecisionEvent{
			Phase:     phase,
			Src:       src.String(),
			Dst:       dst.String(),
			SrcName:   d.SrcName,
			DstName:   d.DstName,
			Allow:     d.Allow,
			Deny:      d.Deny,
			Min:       d.Min,
			Permitted: d.Permitted,
		},
	})
	if !d.Permitted {
		p.mu.Lock()
		p.stats.DecisionsDenied++
		p.mu.Unlock()
		p.debugLog("pairing denied",
			"src", src.String(), "dst", dst.String(),
			"allow", d.Allow.String(), "deny", d.Deny.String(), "min", min.String())
		return
	}

	if seen != nil {
		k := linkKey{src: src, dst: dst}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
	}

	if err := p.requestLink(src, dst); err != nil {
		return
	}
	p.infoLog("patched",
		"src", src.String(), "src_client", d.SrcName,
		"dst", dst.String(), "dst_client", d.DstName)
}

// requestLink sends one link request and records the outcome.
func (p *Patcher) requestLink(src, dst seq.Address) error {
	if err := p.bus.Connect(src, dst); err != nil {
		p.mu.Lock()
		p.stats.LinkFailures++
		p.mu.Unlock()
		p.warnLog("link request failed",
			"src", src.String(), "dst", dst.String(), "error", err.Error())
		p.logEvent(eventlog.Event{
			Category: eventlog.CategoryLink,
			Link: &eventlog.LinkEvent{
				Action: eventlog.LinkFailed,
				Src:    src.String(),
				Dst:    dst.String(),
				Error:  err.Error(),
			},
		})
		return err
	}

	p.mu.Lock()
	p.stats.LinksRequested++
	p.links = append(p.links, Link{Src: src, Dst: dst, At: time.Now()})
	p.mu.Unlock()
	p.logEvent(eventlog.Event{
		Category: eventlog.CategoryLink,
		Link: &eventlog.LinkEvent{
			Action: eventlog.LinkRequested,
			Src:    src.String(),
			Dst:    dst.String(),
		},
	})
	return nil
}

// minStrength is the threshold for pairing a client of kind a with the
// partition of kind b.
func minStrength(a, b registry.Kind) rules.Strength {
	if a == b {
		return rules.StrengthSpecific
	}
	return rules.StrengthVeryVague
}

// logEvent stamps and forwards one decision trace event.
func (p *Patcher) logEvent(ev eventlog.Event) {
	ev.Timestamp = time.Now()
	ev.RunID = p.runID
	p.events.Log(ev)
}

func (p *Patcher) debugLog(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Patcher) infoLog(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Patcher) warnLog(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Patcher) errorLog(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
