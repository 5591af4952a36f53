// Package console implements the operator command surface of the
// patching daemon. A Handler executes newline-delimited commands
// against a running patcher; Server exposes the handler on a TCP
// listener so an operator can attach with nc while the daemon runs
// headless, and the daemon's interactive mode drives the same handler
// over readline.
package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/autopatch-io/autopatch/pkg/patcher"
	"github.com/autopatch-io/autopatch/pkg/registry"
	"github.com/autopatch-io/autopatch/pkg/rules"
	"github.com/autopatch-io/autopatch/pkg/seq"
	"github.com/autopatch-io/autopatch/pkg/version"
)

// Handler executes console commands. It is safe for concurrent
// sessions; every command maps to a goroutine-safe patcher operation.
type Handler struct {
	patcher *patcher.Patcher
	bus     string
	started time.Time
}

// NewHandler creates a handler around a running patcher. bus describes
// the attached bus in status output, e.g. "wire /run/seqd.sock".
func NewHandler(p *patcher.Patcher, bus string) *Handler {
	return &Handler{patcher: p, bus: bus, started: time.Now()}
}

// Execute runs one command line and writes its output to w. It returns
// true when the session asked to end.
func (h *Handler) Execute(w io.Writer, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		h.printHelp(w)

	case "status":
		h.cmdStatus(w)

	case "clients", "ls":
		h.cmdClients(w)

	case "rules":
		h.cmdRules(w)

	case "links":
		h.cmdLinks(w)

	case "decide":
		h.cmdDecide(w, args)

	case "connect":
		h.cmdConnect(w, args)

	case "sweep":
		h.cmdSweep(w)

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (h *Handler) printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Autopatch Console Commands:
  Inspection:
    status               - Show daemon status and counters
    clients              - List tracked clients and their addresses
    rules                - Show the loaded rule set
    links                - List link requests made this run

  Patching:
    decide <src> <dst>   - Dry-run the policy for a producer/consumer pair
    connect <src> <dst>  - Request a link directly, bypassing the policy
    sweep                - Re-run the pairwise connection sweep

  General:
    help                 - Show this help
    quit                 - Leave the console

  Address Format:
    client:port - e.g. 24:0`)
}

// cmdStatus handles the status command.
func (h *Handler) cmdStatus(w io.Writer) {
	reg := h.patcher.Registry()
	stats := h.patcher.Stats()

	fmt.Fprintln(w, "\nDaemon Status")
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  Version:          %s\n", version.String())
	fmt.Fprintf(w, "  Run ID:           %s\n", h.patcher.RunID())
	fmt.Fprintf(w, "  Bus:              %s\n", h.bus)
	fmt.Fprintf(w, "  Uptime:           %s\n", time.Since(h.started).Round(time.Second))
	fmt.Fprintf(w, "  Hardware Clients: %d\n", reg.Len(registry.KindHardware))
	fmt.Fprintf(w, "  Software Clients: %d\n", reg.Len(registry.KindSoftware))
	fmt.Fprintf(w, "  Ports Seen:       %d\n", stats.PortsSeen)
	fmt.Fprintf(w, "  Links Requested:  %d\n", stats.LinksRequested)
	fmt.Fprintf(w, "  Link Failures:    %d\n", stats.LinkFailures)
	fmt.Fprintf(w, "  Decisions Denied: %d\n", stats.DecisionsDenied)
	fmt.Fprintln(w)
}

// cmdClients handles the clients command.
func (h *Handler) cmdClients(w io.Writer) {
	reg := h.patcher.Registry()
	hw := reg.Clients(registry.KindHardware)
	sw := reg.Clients(registry.KindSoftware)
	if len(hw)+len(sw) == 0 {
		fmt.Fprintln(w, "No clients tracked")
		return
	}

	fmt.Fprintf(w, "\nTracked Clients (%d):\n", len(hw)+len(sw))
	fmt.Fprintln(w, "-------------------------------------------")
	printPartition(w, registry.KindHardware, hw)
	printPartition(w, registry.KindSoftware, sw)
}

func printPartition(w io.Writer, kind registry.Kind, clients []registry.Client) {
	for _, c := range clients {
		fmt.Fprintf(w, "  ID: %d (%s)\n", c.ID, kind)
		fmt.Fprintf(w, "      Name: %s\n", c.Name)
		fmt.Fprintf(w, "      Producer: %s\n", addrString(c.Producer))
		fmt.Fprintf(w, "      Consumer: %s\n", addrString(c.Consumer))
	}
}

func addrString(a *seq.Address) string {
	if a == nil {
		return "-"
	}
	return a.String()
}

// cmdRules handles the rules command.
func (h *Handler) cmdRules(w io.Writer) {
	set := h.patcher.Rules()

	fmt.Fprintln(w, "\nRule Set")
	fmt.Fprintln(w, "-------------------------------------------")
	printRuleList(w, "allow", set.Rules(rules.Allow))
	printRuleList(w, "disallow", set.Rules(rules.Disallow))
	fmt.Fprintln(w)
}

func printRuleList(w io.Writer, name string, list []rules.Rule) {
	fmt.Fprintf(w, "  %s (%d):\n", name, len(list))
	if len(list) == 0 {
		fmt.Fprintln(w, "    (none)")
		return
	}
	for _, r := range list {
		fmt.Fprintf(w, "    %q -> %q\n", r.Output, r.Input)
	}
}

// cmdLinks handles the links command.
func (h *Handler) cmdLinks(w io.Writer) {
	links := h.patcher.Links()
	if len(links) == 0 {
		fmt.Fprintln(w, "No links requested")
		return
	}

	fmt.Fprintf(w, "\nRequested Links (%d):\n", len(links))
	fmt.Fprintln(w, "-------------------------------------------")
	for _, l := range links {
		fmt.Fprintf(w, "  %s  %s -> %s\n", l.At.Format("15:04:05"), l.Src, l.Dst)
	}
	fmt.Fprintln(w)
}

// cmdDecide handles the decide command.
func (h *Handler) cmdDecide(w io.Writer, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(w, "Usage: decide <src> <dst>")
		fmt.Fprintln(w, "  Example: decide 24:0 128:0")
		return
	}

	src, dst, err := parseAddrPair(args[0], args[1])
	if err != nil {
		fmt.Fprintf(w, "Invalid address: %v\n", err)
		return
	}

	d := h.patcher.Rules().Decide(src, dst, h.threshold(src, dst))
	fmt.Fprintf(w, "%s %q -> %s %q\n", d.Src, d.SrcName, d.Dst, d.DstName)
	fmt.Fprintf(w, "  allow:    %s\n", d.Allow)
	fmt.Fprintf(w, "  deny:     %s\n", d.Deny)
	fmt.Fprintf(w, "  required: %s\n", d.Min)
	if d.Permitted {
		fmt.Fprintln(w, "  verdict:  permitted")
	} else {
		fmt.Fprintln(w, "  verdict:  denied")
	}
}

// threshold mirrors the strength the patcher would require for the
// pair: strict for same-kind clients, liberal otherwise. An untracked
// client evaluates at the liberal cross-kind threshold.
func (h *Handler) threshold(src, dst seq.Address) rules.Strength {
	reg := h.patcher.Registry()
	_, srcKind, okSrc := reg.Find(src.Client)
	_, dstKind, okDst := reg.Find(dst.Client)
	if okSrc && okDst && srcKind == dstKind {
		return rules.StrengthSpecific
	}
	return rules.StrengthVeryVague
}

// cmdConnect handles the connect command.
func (h *Handler) cmdConnect(w io.Writer, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(w, "Usage: connect <src> <dst>")
		fmt.Fprintln(w, "  Example: connect 24:0 128:0")
		return
	}

	src, dst, err := parseAddrPair(args[0], args[1])
	if err != nil {
		fmt.Fprintf(w, "Invalid address: %v\n", err)
		return
	}

	if err := h.patcher.Connect(src, dst); err != nil {
		fmt.Fprintf(w, "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintln(w, "OK")
}

// cmdSweep handles the sweep command.
func (h *Handler) cmdSweep(w io.Writer) {
	before := h.patcher.Stats().LinksRequested
	h.patcher.Sweep()
	after := h.patcher.Stats().LinksRequested
	fmt.Fprintf(w, "Sweep complete: %d link request(s)\n", after-before)
}

func parseAddrPair(a, b string) (seq.Address, seq.Address, error) {
	src, err := seq.ParseAddress(a)
	if err != nil {
		return seq.Address{}, seq.Address{}, err
	}
	dst, err := seq.ParseAddress(b)
	if err != nil {
		return seq.Address{}, seq.Address{}, err
	}
	return src, dst, nil
}
