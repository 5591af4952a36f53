package announce

import (
	"errors"
	"strings"
	"testing"

	"github.com/autopatch-io/autopatch/pkg/version"
)

func TestTXTRecords(t *testing.T) {
	txt := txtRecords(Config{Bus: "wire", RunID: "run-1"})
	want := []string{"v=" + version.Version, "bus=wire", "run=run-1"}
	if len(txt) != len(want) {
		t.Fatalf("txtRecords() = %v, want %v", txt, want)
	}
	for i := range want {
		if txt[i] != want[i] {
			t.Errorf("txtRecords()[%d] = %q, want %q", i, txt[i], want[i])
		}
	}
}

func TestTXTRecordsMinimal(t *testing.T) {
	txt := txtRecords(Config{})
	if len(txt) != 1 || txt[0] != "v="+version.Version {
		t.Errorf("txtRecords() = %v, want only the version record", txt)
	}
}

func TestTruncateInstance(t *testing.T) {
	long := strings.Repeat("x", 100)
	if got := truncateInstance(long); len(got) != MaxInstanceNameLen {
		t.Errorf("truncated length = %d, want %d", len(got), MaxInstanceNameLen)
	}
	if got := truncateInstance("autopatchd"); got != "autopatchd" {
		t.Errorf("short name changed: %q", got)
	}
}

func TestStartValidation(t *testing.T) {
	a := New(Config{Port: 9321})
	if err := a.Start(); !errors.Is(err, ErrNoInstance) {
		t.Errorf("Start() without instance = %v, want ErrNoInstance", err)
	}

	a = New(Config{Instance: "autopatchd"})
	if err := a.Start(); !errors.Is(err, ErrNoPort) {
		t.Errorf("Start() without port = %v, want ErrNoPort", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	a := New(Config{Instance: "autopatchd", Port: 9321})
	a.Stop()
	a.Stop()
}

// TestStartStop registers a real service. Environments without a
// multicast-capable interface skip it.
func TestStartStop(t *testing.T) {
	a := New(Config{Instance: "autopatchd-test", Port: 9321, Bus: "sim"})
	if err := a.Start(); err != nil {
		t.Skipf("mDNS not available: %v", err)
	}
	defer a.Stop()

	if err := a.Start(); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() = %v, want ErrRunning", err)
	}

	a.Stop()
	if err := a.Start(); err != nil {
		t.Fatalf("restart after Stop() failed: %v", err)
	}
}
