package seqwire_test

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-io/autopatch/pkg/seq"
	"github.com/autopatch-io/autopatch/pkg/seqwire"
)

// testServer speaks just enough of the protocol to exercise the client.
// It serves a single connection.
type testServer struct {
	t      *testing.T
	ln     net.Listener
	socket string

	mu        sync.Mutex
	conn      net.Conn
	framer    *seqwire.Framer
	helloType seqwire.MsgType
	ports     []seqwire.WirePort
	names     map[int32]string
	rejects   map[seqwire.ConnectPayload]string
	connects  []seqwire.ConnectPayload
	mute      bool

	nameLookups atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "seq.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)

	s := &testServer{
		t:         t,
		ln:        ln,
		socket:    socket,
		helloType: seqwire.MsgHelloOK,
		names:     make(map[int32]string),
		rejects:   make(map[seqwire.ConnectPayload]string),
	}
	go s.acceptLoop()
	t.Cleanup(func() { ln.Close() })

	return s
}

func (s *testServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.framer = seqwire.NewFramer(conn)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *testServer) serve(conn net.Conn) {
	reader := seqwire.NewFrameReader(conn)
	for {
		data, err := reader.ReadFrame()
		if err != nil {
			return
		}
		msg, err := seqwire.DecodeMessage(data)
		if err != nil {
			s.t.Errorf("server got undecodable frame: %v", err)
			continue
		}
		s.handle(msg)
	}
}

func (s *testServer) handle(msg *seqwire.Message) {
	s.mu.Lock()
	mute := s.mute
	helloType := s.helloType
	s.mu.Unlock()

	switch msg.Type {
	case seqwire.MsgHello:
		s.reply(msg.ID, helloType, &seqwire.HelloOKPayload{ClientID: 130, Server: "seqd-test"})

	case seqwire.MsgEnumerate, seqwire.MsgSubscribe:
		if mute {
			return
		}
		s.mu.Lock()
		ports := append([]seqwire.WirePort(nil), s.ports...)
		s.mu.Unlock()
		s.reply(msg.ID, seqwire.MsgPortList, &seqwire.PortListPayload{Ports: ports})

	case seqwire.MsgConnect:
		var p seqwire.ConnectPayload
		if err := seqwire.Unmarshal(msg.Payload, &p); err != nil {
			s.t.Errorf("bad connect payload: %v", err)
			return
		}
		s.mu.Lock()
		s.connects = append(s.connects, p)
		reason, rejected := s.rejects[p]
		s.mu.Unlock()
		result := &seqwire.ConnectResultPayload{Status: seqwire.ConnectOK}
		if rejected {
			result = &seqwire.ConnectResultPayload{Status: seqwire.ConnectRefused, Message: reason}
		}
		s.reply(msg.ID, seqwire.MsgConnectResult, result)

	case seqwire.MsgResolveName:
		s.nameLookups.Add(1)
		var p seqwire.ResolveNamePayload
		if err := seqwire.Unmarshal(msg.Payload, &p); err != nil {
			s.t.Errorf("bad resolveName payload: %v", err)
			return
		}
		s.mu.Lock()
		name := s.names[p.Client]
		s.mu.Unlock()
		s.reply(msg.ID, seqwire.MsgName, &seqwire.NamePayload{Client: p.Client, Name: name})

	default:
		s.t.Errorf("server got unexpected message type %s", msg.Type)
	}
}

func (s *testServer) reply(id uint32, typ seqwire.MsgType, payload any) {
	data, err := seqwire.EncodeMessage(typ, id, payload)
	if err != nil {
		s.t.Errorf("encode reply: %v", err)
		return
	}
	s.mu.Lock()
	framer := s.framer
	s.mu.Unlock()
	if framer != nil {
		framer.WriteFrame(data)
	}
}

func (s *testServer) push(kind uint8, wp seqwire.WirePort) {
	data, err := seqwire.EncodeMessage(seqwire.MsgEvent, 0, &seqwire.EventPayload{Kind: kind, Port: wp})
	if err != nil {
		s.t.Errorf("encode event: %v", err)
		return
	}
	s.mu.Lock()
	framer := s.framer
	s.mu.Unlock()
	if framer != nil {
		framer.WriteFrame(data)
	}
}

func (s *testServer) setPorts(ports ...seqwire.WirePort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports = ports
}

func (s *testServer) setName(client int32, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[client] = name
}

func (s *testServer) reject(p seqwire.ConnectPayload, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[p] = reason
}

func (s *testServer) setMute(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = mute
}

func (s *testServer) setHelloType(typ seqwire.MsgType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.helloType = typ
}

func (s *testServer) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *testServer) connections() []seqwire.ConnectPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]seqwire.ConnectPayload(nil), s.connects...)
}

func dialTest(t *testing.T, s *testServer) *seqwire.Client {
	t.Helper()
	client, err := seqwire.Dial(context.Background(), s.socket, seqwire.Options{
		ClientName:     "autopatchd-test",
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func recvEvent(t *testing.T, ch <-chan seq.Event) seq.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return seq.Event{}
	}
}

func TestDialHandshake(t *testing.T) {
	s := newTestServer(t)
	client := dialTest(t, s)

	assert.Equal(t, seq.ClientID(130), client.ClientID())
	assert.Equal(t, "seqd-test", client.Server())
	assert.NoError(t, client.Close())
}

func TestDialHandshakeRejected(t *testing.T) {
	s := newTestServer(t)
	s.setHelloType(seqwire.MsgName)

	_, err := seqwire.Dial(context.Background(), s.socket, seqwire.Options{
		ClientName:     "autopatchd-test",
		RequestTimeout: time.Second,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, seqwire.ErrHandshake)
}

func TestPortsSnapshot(t *testing.T) {
	s := newTestServer(t)
	s.setPorts(
		seqwire.WirePort{
			Client: 20, Port: 0,
			ClientName: "USB Keyboard", PortName: "USB Keyboard MIDI 1",
			Caps: uint8(seq.CapProducer), Type: uint8(seq.TypeHardware | seq.TypeMIDIGeneric),
		},
		seqwire.WirePort{
			Client: 128, Port: 0,
			ClientName: "Synth", PortName: "Synth in",
			Caps: uint8(seq.CapConsumer), Type: uint8(seq.TypeApplication | seq.TypeMIDIGeneric),
		},
	)
	client := dialTest(t, s)

	ports, err := client.Ports()
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, seq.Address{Client: 20, Port: 0}, ports[0].Addr)
	assert.Equal(t, "USB Keyboard", ports[0].ClientName)
	assert.True(t, ports[0].Caps.CanProduce())
	assert.True(t, ports[0].Type.Hardware())
	assert.Equal(t, "Synth in", ports[1].PortName)

	// The snapshot primes the name cache, so no lookup goes out.
	assert.Equal(t, "USB Keyboard", client.ClientName(20))
	assert.Equal(t, int32(0), s.nameLookups.Load())
}

func TestClientNameLookup(t *testing.T) {
	s := newTestServer(t)
	s.setName(50, "Sampler")
	client := dialTest(t, s)

	assert.Equal(t, "Sampler", client.ClientName(50))
	assert.Equal(t, "Sampler", client.ClientName(50))
	assert.Equal(t, int32(1), s.nameLookups.Load(), "second lookup should hit the cache")

	// Unknown clients resolve to an empty, uncached name.
	assert.Equal(t, "", client.ClientName(99))
	assert.Equal(t, "", client.ClientName(99))
	assert.Equal(t, int32(3), s.nameLookups.Load())
}

func TestEventsDelivery(t *testing.T) {
	s := newTestServer(t)
	client := dialTest(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := client.Events(ctx)
	require.NoError(t, err)

	wp := seqwire.WirePort{
		Client: 24, Port: 0,
		ClientName: "Drum Pad", PortName: "Drum Pad MIDI 1",
		Caps: uint8(seq.CapProducer), Type: uint8(seq.TypeHardware | seq.TypeMIDIGeneric),
	}
	s.push(seqwire.WireEventAppeared, wp)

	ev := recvEvent(t, events)
	assert.Equal(t, seq.EventPortAppeared, ev.Kind)
	assert.Equal(t, seq.Address{Client: 24, Port: 0}, ev.Addr)
	assert.Equal(t, "Drum Pad", ev.Port.ClientName)

	// Appear events seed the name cache.
	assert.Equal(t, "Drum Pad", client.ClientName(24))
	assert.Equal(t, int32(0), s.nameLookups.Load())

	s.push(seqwire.WireEventVanished, wp)
	ev = recvEvent(t, events)
	assert.Equal(t, seq.EventPortVanished, ev.Kind)

	// A vanish invalidates the cached name.
	s.setName(24, "Drum Pad")
	assert.Equal(t, "Drum Pad", client.ClientName(24))
	assert.Equal(t, int32(1), s.nameLookups.Load())
}

func TestConnectRequests(t *testing.T) {
	s := newTestServer(t)
	client := dialTest(t, s)

	src := seq.Address{Client: 20, Port: 0}
	dst := seq.Address{Client: 128, Port: 0}
	require.NoError(t, client.Connect(src, dst))

	conns := s.connections()
	require.Len(t, conns, 1)
	assert.Equal(t, seqwire.ConnectPayload{SrcClient: 20, SrcPort: 0, DstClient: 128, DstPort: 0}, conns[0])

	s.reject(seqwire.ConnectPayload{SrcClient: 20, SrcPort: 0, DstClient: 14, DstPort: 0}, "no such port")
	err := client.Connect(src, seq.Address{Client: 14, Port: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, seqwire.ErrConnectFailed)
	assert.Contains(t, err.Error(), "no such port")
}

func TestRequestTimeout(t *testing.T) {
	s := newTestServer(t)
	client, err := seqwire.Dial(context.Background(), s.socket, seqwire.Options{
		ClientName:     "autopatchd-test",
		RequestTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer client.Close()

	s.setMute(true)
	_, err = client.Ports()
	require.Error(t, err)
	assert.ErrorIs(t, err, seqwire.ErrRequestTimeout)
}

func TestServerDisconnect(t *testing.T) {
	s := newTestServer(t)
	client := dialTest(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := client.Events(ctx)
	require.NoError(t, err)

	s.dropConn()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "event channel should close when the server goes away")
	case <-time.After(2 * time.Second):
		t.Fatal("event channel did not close")
	}

	_, err = client.Ports()
	assert.ErrorIs(t, err, seq.ErrBusClosed)
}
