// Package seqtest provides an in-memory sequencer bus.
//
// Bus implements seq.Bus without any external service. Tests and the
// daemon's sim backend drive it directly: AddPort and RemovePort mutate
// the port table and emit the matching notifications, Connections
// records every link request, and FailConnect forces link failures.
// Event delivery is ordered and unbounded, so a slow consumer never
// drops or reorders notifications.
package seqtest

import (
	"context"
	"sort"
	"sync"

	"github.com/autopatch-io/autopatch/pkg/seq"
)

// Connection is one recorded link request.
type Connection struct {
	Src, Dst seq.Address
}

// Bus is an in-memory seq.Bus. The zero value is not usable; call New.
type Bus struct {
	mu      sync.Mutex
	ports   map[seq.Address]seq.PortInfo
	names   map[seq.ClientID]string
	conns   []Connection
	failing map[Connection]error
	streams []*eventStream
	closed  bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		ports:   make(map[seq.Address]seq.PortInfo),
		names:   make(map[seq.ClientID]string),
		failing: make(map[Connection]error),
	}
}

// AddPort places a port on the bus and notifies subscribers. The owning
// client's name is taken from the port info.
func (b *Bus) AddPort(info seq.PortInfo) {
	b.mu.Lock()
	b.ports[info.Addr] = info
	b.names[info.Addr.Client] = info.ClientName
	streams := b.snapshotStreams()
	b.mu.Unlock()

	ev := seq.Event{Kind: seq.EventPortAppeared, Addr: info.Addr, Port: info}
	for _, s := range streams {
		s.push(ev)
	}
}

// RemovePort removes a port and notifies subscribers. When a client's
// last port goes away its name becomes unresolvable, as on a real bus.
func (b *Bus) RemovePort(addr seq.Address) {
	b.mu.Lock()
	if _, ok := b.ports[addr]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.ports, addr)

	remaining := false
	for a := range b.ports {
		if a.Client == addr.Client {
			remaining = true
			break
		}
	}
	if !remaining {
		delete(b.names, addr.Client)
	}
	streams := b.snapshotStreams()
	b.mu.Unlock()

	ev := seq.Event{Kind: seq.EventPortVanished, Addr: addr}
	for _, s := range streams {
		s.push(ev)
	}
}

// SetClientName overrides the name table independently of ports.
func (b *Bus) SetClientName(id seq.ClientID, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[id] = name
}

// FailConnect makes Connect return err for the given pair. A nil err
// clears the override.
func (b *Bus) FailConnect(src, dst seq.Address, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := Connection{Src: src, Dst: dst}
	if err == nil {
		delete(b.failing, key)
		return
	}
	b.failing[key] = err
}

// Connections returns every recorded link request in call order,
// including failed ones.
func (b *Bus) Connections() []Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Connection, len(b.conns))
	copy(out, b.conns)
	return out
}

// ResetConnections clears the recorded link requests. Tests use it to
// separate setup traffic from the assertions that follow.
func (b *Bus) ResetConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns = nil
}

// ConnectCount returns how many times the exact pair was requested.
func (b *Bus) ConnectCount(src, dst seq.Address) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.conns {
		if c.Src == src && c.Dst == dst {
			n++
		}
	}
	return n
}

// Ports returns a snapshot of the port table, sorted by address.
func (b *Bus) Ports() ([]seq.PortInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, seq.ErrBusClosed
	}
	out := make([]seq.PortInfo, 0, len(b.ports))
	for _, info := range b.ports {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Compare(out[j].Addr) < 0 })
	return out, nil
}

// Events subscribes to bus notifications. Only events emitted after the
// call are delivered.
func (b *Bus) Events(ctx context.Context) (<-chan seq.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, seq.ErrBusClosed
	}
	s := newEventStream()
	b.streams = append(b.streams, s)
	go s.run(ctx)
	return s.out, nil
}

// Connect records a link request.
func (b *Bus) Connect(src, dst seq.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return seq.ErrBusClosed
	}
	key := Connection{Src: src, Dst: dst}
	b.conns = append(b.conns, key)
	if err, ok := b.failing[key]; ok {
		return err
	}
	return nil
}

// ClientName resolves a client name from the name table.
func (b *Bus) ClientName(id seq.ClientID) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.names[id]
}

// Close marks the bus dead: subsequent calls fail with seq.ErrBusClosed
// and every event stream ends after delivering what was already queued.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.streams {
		s.markClosed()
	}
	return nil
}

// snapshotStreams copies the subscriber list. Callers hold the lock.
func (b *Bus) snapshotStreams() []*eventStream {
	out := make([]*eventStream, len(b.streams))
	copy(out, b.streams)
	return out
}

// Compile-time interface satisfaction check.
var _ seq.Bus = (*Bus)(nil)

// eventStream delivers queued events to one subscriber in order.
type eventStream struct {
	mu     sync.Mutex
	queue  []seq.Event
	closed bool

	kick chan struct{}
	out  chan seq.Event
}

func newEventStream() *eventStream {
	return &eventStream{
		kick: make(chan struct{}, 1),
		out:  make(chan seq.Event),
	}
}

func (s *eventStream) push(ev seq.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *eventStream) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *eventStream) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *eventStream) run(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return
			}
			s.mu.Lock()
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		select {
		case <-s.kick:
		case <-ctx.Done():
			return
		}
	}
}
