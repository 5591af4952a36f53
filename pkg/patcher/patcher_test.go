package patcher_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-io/autopatch/pkg/eventlog"
	"github.com/autopatch-io/autopatch/pkg/patcher"
	"github.com/autopatch-io/autopatch/pkg/rules"
	"github.com/autopatch-io/autopatch/pkg/seq"
	"github.com/autopatch-io/autopatch/pkg/seq/seqtest"
)

func hwPort(client seq.ClientID, port seq.PortID, name string, caps seq.Capability) seq.PortInfo {
	return seq.PortInfo{
		Addr:       seq.Address{Client: client, Port: port},
		ClientName: name,
		PortName:   name,
		Caps:       caps,
		Type:       seq.TypeHardware | seq.TypeMIDIGeneric,
	}
}

func swPort(client seq.ClientID, port seq.PortID, name string, caps seq.Capability) seq.PortInfo {
	return seq.PortInfo{
		Addr:       seq.Address{Client: client, Port: port},
		ClientName: name,
		PortName:   name,
		Caps:       caps,
		Type:       seq.TypeApplication | seq.TypeMIDIGeneric,
	}
}

// newPatcher builds a patcher over bus with rules installed by install.
func newPatcher(t *testing.T, bus *seqtest.Bus, install func(*rules.Set)) *patcher.Patcher {
	t.Helper()
	set := rules.NewSet(bus)
	install(set)
	p, err := patcher.New(patcher.Config{Bus: bus, Rules: set})
	require.NoError(t, err)
	return p
}

func allowAll(set *rules.Set) { set.AllowDefault() }

func addr(c seq.ClientID, p seq.PortID) seq.Address {
	return seq.Address{Client: c, Port: p}
}

func TestNewValidation(t *testing.T) {
	bus := seqtest.New()
	_, err := patcher.New(patcher.Config{Rules: rules.NewSet(bus)})
	assert.ErrorIs(t, err, patcher.ErrNoBus)

	_, err = patcher.New(patcher.Config{Bus: bus})
	assert.ErrorIs(t, err, patcher.ErrNoRules)

	p, err := patcher.New(patcher.Config{Bus: bus, Rules: rules.NewSet(bus)})
	require.NoError(t, err)
	assert.NotEmpty(t, p.RunID())
}

func TestHandleAppearCrossKind(t *testing.T) {
	bus := seqtest.New()
	p := newPatcher(t, bus, allowAll)

	// Hardware producer is tracked first.
	keys := hwPort(20, 0, "Keys", seq.CapProducer)
	bus.AddPort(keys)
	p.HandleAppear(keys)
	require.Empty(t, bus.Connections(), "a lone producer has nothing to pair with")

	// A software consumer appears; the default rule permits cross-kind.
	synth := swPort(128, 1, "Synth", seq.CapConsumer)
	bus.AddPort(synth)
	p.HandleAppear(synth)

	require.Equal(t, []seqtest.Connection{{Src: addr(20, 0), Dst: addr(128, 1)}}, bus.Connections())
}

func TestHandleAppearSameKindThreshold(t *testing.T) {
	t.Run("DefaultRuleTooWeak", func(t *testing.T) {
		bus := seqtest.New()
		p := newPatcher(t, bus, allowAll)

		a := hwPort(20, 0, "Alpha Keys", seq.CapProducer)
		b := hwPort(24, 0, "Beta Sound", seq.CapConsumer)
		bus.AddPort(a)
		bus.AddPort(b)
		p.HandleAppear(a)
		p.HandleAppear(b)

		assert.Empty(t, bus.Connections(), "same-kind pairing must need a specific match")
	})

	t.Run("SpecificRuleLinks", func(t *testing.T) {
		bus := seqtest.New()
		p := newPatcher(t, bus, func(set *rules.Set) {
			set.AllowDefault()
			require.NoError(t, set.Add(rules.Allow, "Alpha", "Beta"))
		})

		a := hwPort(20, 0, "Alpha Keys", seq.CapProducer)
		b := hwPort(24, 0, "Beta Sound", seq.CapConsumer)
		bus.AddPort(a)
		bus.AddPort(b)
		p.HandleAppear(a)
		p.HandleAppear(b)

		require.Equal(t, []seqtest.Connection{{Src: addr(20, 0), Dst: addr(24, 0)}}, bus.Connections())
	})
}

func TestSweepThresholds(t *testing.T) {
	// One vague allow rule: strong enough for cross-kind, too weak for
	// same-kind.
	install := func(set *rules.Set) {
		require.NoError(t, set.Add(rules.Allow, "Alpha", "*"))
	}

	t.Run("SameKindNotLinked", func(t *testing.T) {
		bus := seqtest.New()
		p := newPatcher(t, bus, install)
		bus.AddPort(hwPort(20, 0, "Alpha Keys", seq.CapProducer))
		bus.AddPort(hwPort(24, 0, "Beta Sound", seq.CapConsumer))
		for _, info := range mustPorts(t, bus) {
			p.HandleAppear(info)
		}
		bus.ResetConnections()

		p.Sweep()
		assert.Empty(t, bus.Connections(), "vague match must not link hardware to hardware")
	})

	t.Run("CrossKindLinked", func(t *testing.T) {
		bus := seqtest.New()
		p := newPatcher(t, bus, install)
		bus.AddPort(hwPort(20, 0, "Alpha Keys", seq.CapProducer))
		bus.AddPort(swPort(128, 1, "Gamma Synth", seq.CapConsumer))
		for _, info := range mustPorts(t, bus) {
			p.HandleAppear(info)
		}
		bus.ResetConnections()

		p.Sweep()
		require.Equal(t, []seqtest.Connection{{Src: addr(20, 0), Dst: addr(128, 1)}}, bus.Connections())
	})
}

func TestSweepRequestsEachPairOnce(t *testing.T) {
	bus := seqtest.New()
	p := newPatcher(t, bus, allowAll)

	duplex := seq.CapProducer | seq.CapConsumer | seq.CapDuplex
	bus.AddPort(hwPort(20, 0, "Interface", duplex))
	bus.AddPort(swPort(128, 0, "DAW", duplex))
	for _, info := range mustPorts(t, bus) {
		p.HandleAppear(info)
	}
	bus.ResetConnections()

	p.Sweep()
	assert.Equal(t, 1, bus.ConnectCount(addr(20, 0), addr(128, 0)))
	assert.Equal(t, 1, bus.ConnectCount(addr(128, 0), addr(20, 0)))
	assert.Len(t, bus.Connections(), 2)
}

func TestDuplexSelfPairingGuard(t *testing.T) {
	// A duplex port is evaluated against its own client with the strict
	// same-kind threshold; the default rule cannot self-loop it.
	bus := seqtest.New()
	p := newPatcher(t, bus, allowAll)

	info := hwPort(20, 0, "Interface", seq.CapProducer|seq.CapConsumer|seq.CapDuplex)
	bus.AddPort(info)
	p.HandleAppear(info)

	assert.Empty(t, bus.Connections())
	assert.Equal(t, uint64(2), p.Stats().DecisionsDenied, "both self directions must be evaluated and denied")
}

func TestEndToEndLoopbackSynth(t *testing.T) {
	conf := `
[allow]
* <-> *

[disallow]
Loopback -> *
`
	bus := seqtest.New()
	bus.AddPort(hwPort(20, 0, "Loopback MIDI", seq.CapProducer|seq.CapConsumer|seq.CapDuplex))
	bus.AddPort(swPort(128, 0, "Synth", seq.CapProducer))
	bus.AddPort(swPort(128, 1, "Synth", seq.CapConsumer))

	set := rules.NewSet(bus)
	require.NoError(t, rules.Parse(strings.NewReader(conf), set))
	p, err := patcher.New(patcher.Config{Bus: bus, Rules: set})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// The sweep must patch Synth into Loopback but never the reverse.
	require.Eventually(t, func() bool {
		return bus.ConnectCount(addr(128, 0), addr(20, 0)) == 1
	}, 2*time.Second, 10*time.Millisecond, "Synth producer should be patched into Loopback consumer")
	assert.Zero(t, bus.ConnectCount(addr(20, 0), addr(128, 1)),
		"disallow rule must veto Loopback producer into Synth consumer")

	cancel()
	require.NoError(t, <-done)
}

func TestWithdrawalPreventsPairing(t *testing.T) {
	bus := seqtest.New()
	p := newPatcher(t, bus, allowAll)

	keys := hwPort(20, 0, "Keys", seq.CapProducer)
	bus.AddPort(keys)
	p.HandleAppear(keys)

	bus.RemovePort(addr(20, 0))
	p.HandleVanish(addr(20, 0))

	synth := swPort(128, 1, "Synth", seq.CapConsumer)
	bus.AddPort(synth)
	p.HandleAppear(synth)

	assert.Empty(t, bus.Connections(), "withdrawn producer must not be paired")
}

func TestLinkFailureContinues(t *testing.T) {
	bus := seqtest.New()
	p := newPatcher(t, bus, func(set *rules.Set) { set.AllowDefault() })

	first := hwPort(10, 0, "First Keys", seq.CapProducer)
	second := hwPort(11, 0, "Second Keys", seq.CapProducer)
	bus.AddPort(first)
	bus.AddPort(second)
	p.HandleAppear(first)
	p.HandleAppear(second)

	synth := swPort(128, 1, "Synth", seq.CapConsumer)
	bus.AddPort(synth)
	bus.FailConnect(addr(10, 0), addr(128, 1), errors.New("subscription refused"))
	p.HandleAppear(synth)

	// Both pairings were attempted; the failure did not stop the second.
	assert.Equal(t, 1, bus.ConnectCount(addr(10, 0), addr(128, 1)))
	assert.Equal(t, 1, bus.ConnectCount(addr(11, 0), addr(128, 1)))

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.LinkFailures)
	assert.Equal(t, uint64(1), stats.LinksRequested)

	links := p.Links()
	require.Len(t, links, 1, "failed requests must not be recorded as links")
	assert.Equal(t, addr(11, 0), links[0].Src)
	assert.False(t, links[0].At.IsZero())
}

func TestRunHotplug(t *testing.T) {
	bus := seqtest.New()
	bus.AddPort(hwPort(20, 0, "Keys", seq.CapProducer))
	p := newPatcher(t, bus, allowAll)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Wait for startup to settle, then hotplug a consumer.
	require.Eventually(t, func() bool {
		return p.Stats().PortsSeen >= 1
	}, 2*time.Second, 10*time.Millisecond)

	bus.AddPort(swPort(128, 1, "Synth", seq.CapConsumer))
	require.Eventually(t, func() bool {
		return bus.ConnectCount(addr(20, 0), addr(128, 1)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// And unplug it again.
	bus.RemovePort(addr(128, 1))
	require.Eventually(t, func() bool {
		_, _, ok := p.Registry().Find(128)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunBusClosed(t *testing.T) {
	bus := seqtest.New()
	p := newPatcher(t, bus, allowAll)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, seq.ErrBusClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the bus closed")
	}
}

func TestManualConnectBypassesRules(t *testing.T) {
	bus := seqtest.New()
	p := newPatcher(t, bus, func(set *rules.Set) {
		require.NoError(t, set.Add(rules.Disallow, "*", "*"))
	})

	require.NoError(t, p.Connect(addr(20, 0), addr(128, 1)))
	assert.Equal(t, 1, bus.ConnectCount(addr(20, 0), addr(128, 1)))
	assert.Len(t, p.Links(), 1)
}

// traceLogger captures decision trace events.
type traceLogger struct {
	mu     sync.Mutex
	events []eventlog.Event
}

func (l *traceLogger) Log(ev eventlog.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *traceLogger) byCategory(c eventlog.Category) []eventlog.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []eventlog.Event
	for _, ev := range l.events {
		if ev.Category == c {
			out = append(out, ev)
		}
	}
	return out
}

func TestDecisionTrace(t *testing.T) {
	bus := seqtest.New()
	trace := &traceLogger{}

	set := rules.NewSet(bus)
	set.AllowDefault()
	p, err := patcher.New(patcher.Config{Bus: bus, Rules: set, EventLog: trace, RunID: "test-run"})
	require.NoError(t, err)

	keys := hwPort(20, 0, "Keys", seq.CapProducer)
	synth := swPort(128, 1, "Synth", seq.CapConsumer)
	bus.AddPort(keys)
	bus.AddPort(synth)
	p.HandleAppear(keys)
	p.HandleAppear(synth)
	p.HandleVanish(addr(20, 0))

	ports := trace.byCategory(eventlog.CategoryPort)
	require.Len(t, ports, 3)
	assert.Equal(t, eventlog.PortAdmitted, ports[0].Port.Action)
	assert.Equal(t, "hardware", ports[0].Port.Kind)
	assert.Equal(t, eventlog.PortVanished, ports[2].Port.Action)

	decisions := trace.byCategory(eventlog.CategoryDecision)
	require.NotEmpty(t, decisions)
	permitted := decisions[len(decisions)-1].Decision
	assert.Equal(t, eventlog.PhaseHotplug, permitted.Phase)
	assert.True(t, permitted.Permitted)
	assert.Equal(t, "Keys", permitted.SrcName)

	links := trace.byCategory(eventlog.CategoryLink)
	require.Len(t, links, 1)
	assert.Equal(t, eventlog.LinkRequested, links[0].Link.Action)
	assert.Equal(t, "20:0", links[0].Link.Src)

	for _, ev := range trace.events {
		assert.Equal(t, "test-run", ev.RunID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func mustPorts(t *testing.T, bus *seqtest.Bus) []seq.PortInfo {
	t.Helper()
	ports, err := bus.Ports()
	require.NoError(t, err)
	return ports
}
