// Package registry tracks the clients currently visible on the bus and
// the single producer and consumer address each one contributes to
// patching.
//
// Clients are split into two partitions, hardware and software, because
// the patching thresholds differ between same-kind and cross-kind pairs.
// A client ID lives in at most one partition at a time.
package registry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/autopatch-io/autopatch/pkg/seq"
)

// Kind is the partition a client is classified into.
type Kind uint8

const (
	// KindHardware - physical devices, and bridges that stand in for them.
	KindHardware Kind = iota

	// KindSoftware - ports registered by user-space programs.
	KindSoftware
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHardware:
		return "hardware"
	case KindSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// Other returns the opposite partition.
func (k Kind) Other() Kind {
	if k == KindHardware {
		return KindSoftware
	}
	return KindHardware
}

// Client is one tracked bus client. Regardless of how many capable ports
// the underlying device exposes, at most one address per direction is
// tracked; the first discovered port of each direction wins. Tracking
// every port would deliver every event once per duplicate link.
type Client struct {
	// ID is the bus client identifier.
	ID seq.ClientID

	// Name is the client name observed at first sighting.
	Name string

	// Producer is the address other clients read from, if any.
	Producer *seq.Address

	// Consumer is the address other clients write to, if any.
	Consumer *seq.Address
}

// clone returns a copy that shares no pointers with the original.
func (c Client) clone() Client {
	if c.Producer != nil {
		p := *c.Producer
		c.Producer = &p
	}
	if c.Consumer != nil {
		a := *c.Consumer
		c.Consumer = &a
	}
	return c
}

// Admission reports what a call to Admit changed.
type Admission struct {
	// Kind is the partition the client is tracked in.
	Kind Kind

	// Client is the owning client ID.
	Client seq.ClientID

	// Name is the tracked client name.
	Name string

	// NewProducer is true if the port became the client's producer address.
	NewProducer bool

	// NewConsumer is true if the port became the client's consumer address.
	NewConsumer bool
}

// Admitted returns true if at least one direction was newly tracked.
func (a Admission) Admitted() bool { return a.NewProducer || a.NewConsumer }

// Classify decides the partition for a port. Ports are hardware unless
// the bus flags them as application ports; bridge clients are forced back
// to hardware because they represent physical controllers behind a
// software shim.
func Classify(info seq.PortInfo) Kind {
	if info.Type.Application() && !strings.HasPrefix(info.ClientName, seq.BridgePrefix) {
		return KindSoftware
	}
	return KindHardware
}

// Registry holds the two client partitions. The event loop is the only
// writer; the read lock lets the console inspect state concurrently.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	hardware map[seq.ClientID]*Client
	software map[seq.ClientID]*Client
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		hardware: make(map[seq.ClientID]*Client),
		software: make(map[seq.ClientID]*Client),
	}
}

// SetLogger sets the logger for admission debug output. A nil logger
// disables logging.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// Admit offers a port to the registry. Ports that opted out of routing,
// system client ports, loop-through client ports, and ports with no
// usable direction are ignored. For the rest the owning client is looked
// up or created in its classified partition, and each direction the port
// supports is recorded if that slot was still free.
func (r *Registry) Admit(info seq.PortInfo) Admission {
	if info.Caps.NoExport() {
		return Admission{}
	}
	if info.Addr.Client == seq.SystemClient {
		return Admission{}
	}
	if strings.HasPrefix(info.ClientName, seq.ThruPrefix) {
		return Admission{}
	}
	canProduce := info.Caps.CanProduce()
	canConsume := info.Caps.CanConsume()
	if !canProduce && !canConsume {
		return Admission{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kind, c := r.lookup(info.Addr.Client)
	if c == nil {
		kind = Classify(info)
		c = &Client{ID: info.Addr.Client, Name: info.ClientName}
		r.partition(kind)[c.ID] = c
	}

	adm := Admission{Kind: kind, Client: c.ID, Name: c.Name}
	if canProduce && c.Producer == nil {
		addr := info.Addr
		c.Producer = &addr
		adm.NewProducer = true
	}
	if canConsume && c.Consumer == nil {
		addr := info.Addr
		c.Consumer = &addr
		adm.NewConsumer = true
	}

	if adm.Admitted() {
		r.debugLog("tracked port",
			"addr", info.Addr.String(),
			"client", c.Name,
			"kind", kind.String(),
			"producer", adm.NewProducer,
			"consumer", adm.NewConsumer)
	}
	return adm
}

// Withdraw clears any direction slot holding the given address. A client
// left with neither address is dropped from its partition; an empty
// record never contributes a candidate pairing. Returns true if a slot
// was cleared.
func (r *Registry) Withdraw(addr seq.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind, c := r.lookup(addr.Client)
	if c == nil {
		return false
	}

	cleared := false
	if c.Producer != nil && *c.Producer == addr {
		c.Producer = nil
		cleared = true
	}
	if c.Consumer != nil && *c.Consumer == addr {
		c.Consumer = nil
		cleared = true
	}
	if c.Producer == nil && c.Consumer == nil {
		delete(r.partition(kind), c.ID)
	}

	if cleared {
		r.debugLog("untracked port", "addr", addr.String(), "client", c.Name, "kind", kind.String())
	}
	return cleared
}

// Find returns the tracked client with the given ID and its partition.
func (r *Registry) Find(id seq.ClientID) (Client, Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kind, c := r.lookup(id)
	if c == nil {
		return Client{}, 0, false
	}
	return c.clone(), kind, true
}

// Clients returns a copy of one partition, sorted by client ID.
func (r *Registry) Clients(kind Kind) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	part := r.partition(kind)
	out := make([]Client, 0, len(part))
	for _, c := range part {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of clients tracked in one partition.
func (r *Registry) Len(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.partition(kind))
}

// lookup finds a client in either partition. Callers hold the lock.
func (r *Registry) lookup(id seq.ClientID) (Kind, *Client) {
	if c, ok := r.hardware[id]; ok {
		return KindHardware, c
	}
	if c, ok := r.software[id]; ok {
		return KindSoftware, c
	}
	return 0, nil
}

// partition returns the map backing one partition. Callers hold the lock.
func (r *Registry) partition(kind Kind) map[seq.ClientID]*Client {
	if kind == KindHardware {
		return r.hardware
	}
	return r.software
}

func (r *Registry) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
