package seqwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autopatch-io/autopatch/pkg/seq"
)

// Client errors.
var (
	// ErrClientClosed indicates the client was closed or lost its connection.
	ErrClientClosed = errors.New("wire client closed")

	// ErrRequestTimeout indicates a request round trip took too long.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrHandshake indicates the hello exchange failed.
	ErrHandshake = errors.New("handshake failed")

	// ErrConnectFailed indicates the daemon rejected a connect request.
	ErrConnectFailed = errors.New("connect rejected")
)

// Options configures a wire client.
type Options struct {
	// ClientName is announced in the hello handshake.
	ClientName string

	// MaxMessageSize caps frame payloads (default: 64 KB).
	MaxMessageSize uint32

	// DialTimeout bounds Dial when the context has no deadline
	// (default: 10s).
	DialTimeout time.Duration

	// RequestTimeout bounds each request round trip (default: 5s).
	RequestTimeout time.Duration

	// Logger receives debug output. Nil disables logging.
	Logger *slog.Logger
}

// Client speaks the wire protocol to a sequencer daemon.
// It implements seq.Bus.
type Client struct {
	opts   Options
	conn   net.Conn
	framer *Framer

	clientID seq.ClientID
	server   string

	nextID atomic.Uint32

	mu         sync.Mutex
	pending    map[uint32]chan *Message
	queues     []*eventQueue
	names      map[seq.ClientID]string
	subscribed bool
	closed     bool

	closeOnce sync.Once
	closeCh   chan struct{}
	readDone  chan struct{}
}

var _ seq.Bus = (*Client)(nil)

// Dial connects to the sequencer daemon on a unix socket and performs
// the hello handshake.
func Dial(ctx context.Context, socket string, opts Options) (*Client, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socket, err)
	}

	return NewClient(conn, opts)
}

// NewClient wraps an established connection and performs the hello
// handshake. The client takes ownership of conn and closes it on Close.
func NewClient(conn net.Conn, opts Options) (*Client, error) {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}

	c := &Client{
		opts:     opts,
		conn:     conn,
		framer:   NewFramerWithMaxSize(conn, opts.MaxMessageSize),
		pending:  make(map[uint32]chan *Message),
		names:    make(map[seq.ClientID]string),
		closeCh:  make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()

	resp, err := c.request(MsgHello, &HelloPayload{
		ClientName: opts.ClientName,
		Version:    ProtocolVersion,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if resp.Type != MsgHelloOK {
		c.Close()
		return nil, fmt.Errorf("%w: unexpected reply %s", ErrHandshake, resp.Type)
	}
	var ok HelloOKPayload
	if err := Unmarshal(resp.Payload, &ok); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: bad helloOK payload: %v", ErrHandshake, err)
	}

	c.clientID = seq.ClientID(ok.ClientID)
	c.server = ok.Server
	c.debugLog("session established", "client_id", int(c.clientID), "server", ok.Server)

	return c, nil
}

// ClientID returns the bus number the daemon assigned to this session.
func (c *Client) ClientID() seq.ClientID {
	return c.clientID
}

// Server returns the daemon's self-description from the handshake.
func (c *Client) Server() string {
	return c.server
}

// Ports returns a snapshot of every port currently on the bus.
func (c *Client) Ports() ([]seq.PortInfo, error) {
	resp, err := c.request(MsgEnumerate, nil)
	if err != nil {
		if errors.Is(err, ErrClientClosed) {
			return nil, seq.ErrBusClosed
		}
		return nil, fmt.Errorf("enumerate: %w", err)
	}
	if resp.Type != MsgPortList {
		return nil, fmt.Errorf("enumerate: unexpected reply %s", resp.Type)
	}
	var pl PortListPayload
	if err := Unmarshal(resp.Payload, &pl); err != nil {
		return nil, fmt.Errorf("enumerate: bad payload: %w", err)
	}

	ports := make([]seq.PortInfo, 0, len(pl.Ports))
	for _, wp := range pl.Ports {
		ports = append(ports, wp.PortInfo())
	}

	c.mu.Lock()
	for _, info := range ports {
		if info.ClientName != "" {
			c.names[info.Addr.Client] = info.ClientName
		}
	}
	c.mu.Unlock()

	return ports, nil
}

// Events subscribes to port events. The returned channel closes when
// the connection goes away; it stops delivering when ctx is canceled.
func (c *Client) Events(ctx context.Context) (<-chan seq.Event, error) {
	c.mu.Lock()
	closed := c.closed
	subscribed := c.subscribed
	c.mu.Unlock()
	if closed {
		return nil, seq.ErrBusClosed
	}

	if !subscribed {
		resp, err := c.request(MsgSubscribe, nil)
		if err != nil {
			if errors.Is(err, ErrClientClosed) {
				return nil, seq.ErrBusClosed
			}
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		// The daemon acks a subscription with a port snapshot. The
		// snapshot is discarded here; callers enumerate explicitly.
		if resp.Type != MsgPortList {
			return nil, fmt.Errorf("subscribe: unexpected reply %s", resp.Type)
		}
		c.mu.Lock()
		c.subscribed = true
		c.mu.Unlock()
	}

	q := newEventQueue()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, seq.ErrBusClosed
	}
	c.queues = append(c.queues, q)
	c.mu.Unlock()

	go q.run(ctx)
	return q.out, nil
}

// Connect asks the daemon to subscribe dst to src.
func (c *Client) Connect(src, dst seq.Address) error {
	resp, err := c.request(MsgConnect, &ConnectPayload{
		SrcClient: int32(src.Client),
		SrcPort:   int32(src.Port),
		DstClient: int32(dst.Client),
		DstPort:   int32(dst.Port),
	})
	if err != nil {
		if errors.Is(err, ErrClientClosed) {
			return seq.ErrBusClosed
		}
		return fmt.Errorf("connect %s -> %s: %w", src, dst, err)
	}
	if resp.Type != MsgConnectResult {
		return fmt.Errorf("connect %s -> %s: unexpected reply %s", src, dst, resp.Type)
	}
	var result ConnectResultPayload
	if err := Unmarshal(resp.Payload, &result); err != nil {
		return fmt.Errorf("connect %s -> %s: bad payload: %w", src, dst, err)
	}
	if result.Status != ConnectOK {
		if result.Message != "" {
			return fmt.Errorf("%w: %s -> %s: %s", ErrConnectFailed, src, dst, result.Message)
		}
		return fmt.Errorf("%w: %s -> %s: status %d", ErrConnectFailed, src, dst, result.Status)
	}
	return nil
}

// ClientName resolves a client number to its current name. Unknown
// clients and lookup failures yield the empty string.
func (c *Client) ClientName(id seq.ClientID) string {
	c.mu.Lock()
	if name, ok := c.names[id]; ok {
		c.mu.Unlock()
		return name
	}
	c.mu.Unlock()

	resp, err := c.request(MsgResolveName, &ResolveNamePayload{Client: int32(id)})
	if err != nil {
		c.debugLog("name lookup failed", "client", int(id), "error", err)
		return ""
	}
	if resp.Type != MsgName {
		c.debugLog("name lookup got unexpected reply", "client", int(id), "type", resp.Type.String())
		return ""
	}
	var np NamePayload
	if err := Unmarshal(resp.Payload, &np); err != nil {
		c.debugLog("name lookup got bad payload", "client", int(id), "error", err)
		return ""
	}

	if np.Name != "" {
		c.mu.Lock()
		c.names[seq.ClientID(np.Client)] = np.Name
		c.mu.Unlock()
	}
	return np.Name
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
		<-c.readDone
	})
	return nil
}

// request sends one message and waits for the matching reply.
func (c *Client) request(typ MsgType, payload any) (*Message, error) {
	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(typ, id, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", typ, ErrRequestTimeout)
	case <-c.closeCh:
		return nil, ErrClientClosed
	}
}

func (c *Client) send(typ MsgType, id uint32, payload any) error {
	data, err := EncodeMessage(typ, id, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.closeCh:
		return ErrClientClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// readLoop owns the read side of the connection. It routes replies to
// waiting requests and fans events out to subscribers. It must never
// block on a consumer, or response routing would stall.
func (c *Client) readLoop() {
	var readErr error
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			readErr = err
			break
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			c.debugLog("dropping undecodable frame", "error", err)
			continue
		}

		if msg.ID != 0 {
			c.route(msg)
			continue
		}
		if msg.Type == MsgEvent {
			c.handleEvent(msg)
			continue
		}
		c.debugLog("dropping unsolicited message", "type", msg.Type.String())
	}

	c.teardown(readErr)
	close(c.readDone)
}

func (c *Client) route(msg *Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.debugLog("dropping unmatched reply", "type", msg.Type.String(), "id", msg.ID)
		return
	}
	ch <- msg
}

func (c *Client) handleEvent(msg *Message) {
	var p EventPayload
	if err := Unmarshal(msg.Payload, &p); err != nil {
		c.debugLog("dropping bad event payload", "error", err)
		return
	}
	ev, ok := p.Event()
	if !ok {
		c.debugLog("dropping unknown event kind", "kind", p.Kind)
		return
	}

	c.mu.Lock()
	if ev.Kind == seq.EventPortVanished {
		// Client numbers are reused once their last port is gone, so
		// a cached name cannot be trusted past a vanish.
		delete(c.names, ev.Addr.Client)
	} else if ev.Port.ClientName != "" {
		c.names[ev.Addr.Client] = ev.Port.ClientName
	}
	queues := make([]*eventQueue, len(c.queues))
	copy(queues, c.queues)
	c.mu.Unlock()

	for _, q := range queues {
		q.push(ev)
	}
}

func (c *Client) teardown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]chan *Message)
	queues := c.queues
	c.queues = nil
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, q := range queues {
		q.markClosed()
	}

	if err != nil && err != io.EOF && !errors.Is(err, net.ErrClosed) {
		c.warnLog("connection lost", "error", err)
	}
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Debug(msg, args...)
	}
}

func (c *Client) warnLog(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warn(msg, args...)
	}
}

// eventQueue decouples the read loop from one event consumer. Events
// accumulate in order and are handed over as the consumer keeps up.
type eventQueue struct {
	mu     sync.Mutex
	queue  []seq.Event
	closed bool
	kick   chan struct{}
	out    chan seq.Event
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		kick: make(chan struct{}, 1),
		out:  make(chan seq.Event),
	}
}

func (q *eventQueue) push(ev seq.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, ev)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) markClosed() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// run pumps queued events to the out channel. Pending events drain
// before the channel closes so consumers never miss a vanish.
func (q *eventQueue) run(ctx context.Context) {
	for {
		q.mu.Lock()
		var (
			next seq.Event
			have bool
		)
		if len(q.queue) > 0 {
			next = q.queue[0]
			q.queue = q.queue[1:]
			have = true
		}
		closed := q.closed
		q.mu.Unlock()

		if have {
			select {
			case q.out <- next:
				continue
			case <-ctx.Done():
				return
			}
		}
		if closed {
			close(q.out)
			return
		}
		select {
		case <-q.kick:
		case <-ctx.Done():
			return
		}
	}
}
