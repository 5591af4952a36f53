// Command autopatch-log is a tool for viewing autopatchd decision log
// files.
//
// Log files are created by running autopatchd with the -event-log flag
// (or the event_log config key) and record every port admission, rule
// evaluation and link request the daemon made.
//
// Usage:
//
//	autopatch-log [flags] <file.aplog>
//
// Flags:
//
//	-category string   Filter by category (port, rule, decision, link, error)
//	-run string        Filter by daemon run ID
//	-since string      Filter by start time (RFC3339)
//	-until string      Filter by end time (RFC3339)
//	-addr string       Filter by port address ("client:port")
//	-json              Emit one JSON object per line instead of text
//
// Examples:
//
//	# View all events
//	autopatch-log run.aplog
//
//	# Only the rule evaluations involving one port
//	autopatch-log -category decision -addr 24:0 run.aplog
//
//	# Export a single run as JSONL
//	autopatch-log -run 2f0b... -json run.aplog
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/autopatch-io/autopatch/pkg/eventlog"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("autopatch-log", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, `autopatch-log - Decision Log Viewer

Usage:
  autopatch-log [flags] <file.aplog>

Flags:
`)
		fs.PrintDefaults()
	}

	category := fs.String("category", "", "Filter by category (port, rule, decision, link, error)")
	runID := fs.String("run", "", "Filter by daemon run ID")
	since := fs.String("since", "", "Filter by start time (RFC3339)")
	until := fs.String("until", "", "Filter by end time (RFC3339)")
	addr := fs.String("addr", "", "Filter by port address (\"client:port\")")
	asJSON := fs.Bool("json", false, "Emit one JSON object per line instead of text")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: log file path required")
		fs.Usage()
		return 1
	}

	filter, err := buildFilter(*category, *runID, *since, *until, *addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	reader, err := eventlog.NewFilteredReader(fs.Arg(0), filter)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer reader.Close()

	enc := json.NewEncoder(stdout)
	for {
		event, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0
			}
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if *asJSON {
			if err := enc.Encode(event); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return 1
			}
			continue
		}
		formatEvent(stdout, event)
	}
}

// buildFilter translates the flag values into an eventlog.Filter.
func buildFilter(category, runID, since, until, addr string) (eventlog.Filter, error) {
	filter := eventlog.Filter{RunID: runID, Addr: addr}

	if category != "" {
		c, err := parseCategory(category)
		if err != nil {
			return eventlog.Filter{}, err
		}
		filter.Category = &c
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return eventlog.Filter{}, fmt.Errorf("invalid -since value: %w", err)
		}
		filter.TimeStart = &t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return eventlog.Filter{}, fmt.Errorf("invalid -until value: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

func parseCategory(s string) (eventlog.Category, error) {
	switch strings.ToLower(s) {
	case "port":
		return eventlog.CategoryPort, nil
	case "rule":
		return eventlog.CategoryRule, nil
	case "decision":
		return eventlog.CategoryDecision, nil
	case "link":
		return eventlog.CategoryLink, nil
	case "error":
		return eventlog.CategoryError, nil
	default:
		return 0, fmt.Errorf("unknown category %q (use: port, rule, decision, link, error)", s)
	}
}

// formatEvent writes one human-readable line per event.
func formatEvent(w io.Writer, event eventlog.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	prefix := fmt.Sprintf("%s [run:%s] %-8s", ts, shortenRunID(event.RunID), event.Category)

	switch {
	case event.Port != nil:
		p := event.Port
		detail := p.Addr
		if p.Client != "" {
			detail += fmt.Sprintf(" %q", p.Client)
		}
		if p.Action == eventlog.PortAdmitted {
			detail += fmt.Sprintf(" kind=%s producer=%t consumer=%t",
				p.Kind, p.NewProducer, p.NewConsumer)
		}
		fmt.Fprintf(w, "%s %s %s\n", prefix, p.Action, detail)

	case event.Rule != nil:
		r := event.Rule
		fmt.Fprintf(w, "%s %s %s '%s' -> '%s'\n", prefix, r.Action, r.Kind, r.Output, r.Input)

	case event.Decision != nil:
		d := event.Decision
		verdict := "DENIED"
		if d.Permitted {
			verdict = "PERMITTED"
		}
		fmt.Fprintf(w, "%s %s %s %s(%q) -> %s(%q) allow=%s deny=%s min=%s\n",
			prefix, d.Phase, verdict,
			d.Src, d.SrcName, d.Dst, d.DstName,
			d.Allow, d.Deny, d.Min)

	case event.Link != nil:
		l := event.Link
		if l.Action == eventlog.LinkFailed {
			fmt.Fprintf(w, "%s %s %s -> %s: %s\n", prefix, l.Action, l.Src, l.Dst, l.Error)
		} else {
			fmt.Fprintf(w, "%s %s %s -> %s\n", prefix, l.Action, l.Src, l.Dst)
		}

	case event.Error != nil:
		e := event.Error
		if e.Context != "" {
			fmt.Fprintf(w, "%s %s (%s)\n", prefix, e.Message, e.Context)
		} else {
			fmt.Fprintf(w, "%s %s\n", prefix, e.Message)
		}

	default:
		fmt.Fprintf(w, "%s (empty event)\n", prefix)
	}
}

// shortenRunID returns the first 8 characters of the run ID.
func shortenRunID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
