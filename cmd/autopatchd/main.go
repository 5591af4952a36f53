// Command autopatchd watches a sequencer bus and automatically patches
// producer ports to consumer ports according to an allow/disallow rule
// file.
//
// This command demonstrates the complete daemon:
//   - CLI argument parsing
//   - Configuration file support
//   - Rule file loading with a default allow-all fallback
//   - Wire and simulated bus backends
//   - Interactive command interface
//   - Optional control console with mDNS announcement
//   - Structured decision logging
//
// Usage:
//
//	autopatchd [flags]
//
// Flags:
//
//	-config string      Configuration file path (default "/etc/autopatch/autopatch.yaml")
//	-rules string       Connection rules file path
//	-bus string         Bus backend: wire, sim (default "wire")
//	-socket string      Sequencer daemon socket path (wire bus)
//	-scenario string    Scenario file to replay (sim bus)
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-event-log string   Decision log file path (.aplog)
//	-listen string      Console TCP listen address (e.g. 127.0.0.1:4573)
//	-announce           Announce the console over mDNS
//	-interactive        Enable interactive command mode
//	-v                  Print version and exit
//
// Examples:
//
//	# Run against the local sequencer daemon with the system rule file
//	autopatchd -rules /etc/autopatch/autopatch.rules
//
//	# Replay a scenario against the simulated bus with full tracing
//	autopatchd -bus sim -scenario bench.yaml -event-log run.aplog -log-level debug
//
//	# Run headless with a control console reachable over the network
//	autopatchd -listen 127.0.0.1:4573 -announce
//
// Interactive Commands:
//
//	status              - Show daemon status and counters
//	clients             - List tracked clients and their addresses
//	rules               - Show the loaded rule set
//	links               - List link requests made this run
//	decide <src> <dst>  - Dry-run the policy for a pair
//	connect <src> <dst> - Request a link directly
//	sweep               - Re-run the pairwise connection sweep
//	quit                - Exit the daemon
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/autopatch-io/autopatch/cmd/autopatchd/interactive"
	"github.com/autopatch-io/autopatch/pkg/announce"
	"github.com/autopatch-io/autopatch/pkg/config"
	"github.com/autopatch-io/autopatch/pkg/console"
	"github.com/autopatch-io/autopatch/pkg/eventlog"
	"github.com/autopatch-io/autopatch/pkg/patcher"
	"github.com/autopatch-io/autopatch/pkg/rules"
	"github.com/autopatch-io/autopatch/pkg/scenario"
	"github.com/autopatch-io/autopatch/pkg/seq"
	"github.com/autopatch-io/autopatch/pkg/seq/seqtest"
	"github.com/autopatch-io/autopatch/pkg/seqwire"
	"github.com/autopatch-io/autopatch/pkg/version"
)

// DefaultConfigPath is consulted when -config is not given. A missing
// file there is not an error; flags and defaults apply.
const DefaultConfigPath = "/etc/autopatch/autopatch.yaml"

type flags struct {
	config      string
	rules       string
	bus         string
	socket      string
	scenario    string
	logLevel    string
	eventLog    string
	listen      string
	announce    bool
	interactive bool
	version     bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var f flags

	fs := flag.NewFlagSet("autopatchd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&f.config, "config", "", "Configuration file path")
	fs.StringVar(&f.rules, "rules", "", "Connection rules file path")
	fs.StringVar(&f.bus, "bus", "", "Bus backend: wire, sim")
	fs.StringVar(&f.socket, "socket", "", "Sequencer daemon socket path (wire bus)")
	fs.StringVar(&f.scenario, "scenario", "", "Scenario file to replay (sim bus)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.eventLog, "event-log", "", "Decision log file path")
	fs.StringVar(&f.listen, "listen", "", "Console TCP listen address")
	fs.BoolVar(&f.announce, "announce", false, "Announce the console over mDNS")
	fs.BoolVar(&f.interactive, "interactive", false, "Enable interactive command mode")
	fs.BoolVar(&f.version, "v", false, "Print version and exit")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")

	// The historical CLI contract: anything unrecognized prints usage
	// and exits successfully.
	if err := fs.Parse(args); err != nil {
		return 0
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return 0
	}
	if f.version {
		fmt.Printf("autopatchd %s\n", version.String())
		return 0
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autopatchd: %v\n", err)
		return 1
	}

	// Interactive mode owns the terminal; everything else writes
	// through readline so log lines do not clobber the prompt.
	var ic *interactive.Console
	logDst := io.Writer(os.Stderr)
	if f.interactive {
		ic, err = interactive.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "autopatchd: %v\n", err)
			return 1
		}
		defer ic.Close()
		logDst = ic.Stdout()
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(logDst, &slog.HandlerOptions{Level: level}))

	if err := daemon(cfg, logger, ic); err != nil {
		logger.Error("startup failed", "error", err.Error())
		return 1
	}
	return 0
}

// loadConfig resolves the effective configuration: file (explicit path,
// or the default path when present), then flag overrides, then
// validation.
func loadConfig(f flags) (config.Config, error) {
	path := f.config
	optional := false
	if path == "" {
		path = DefaultConfigPath
		optional = true
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, err
		}
		cfg = config.Default()
	}

	if f.rules != "" {
		cfg.Rules = f.rules
	}
	if f.bus != "" {
		cfg.Bus = f.bus
	}
	if f.socket != "" {
		cfg.Socket = f.socket
	}
	if f.scenario != "" {
		cfg.Scenario = f.scenario
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.eventLog != "" {
		cfg.EventLog = f.eventLog
	}
	if f.listen != "" {
		cfg.Console.Listen = f.listen
	}
	if f.announce {
		cfg.Announce.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// daemon wires up and runs the patching loop until a signal arrives or
// the bus dies. Every returned error is an initialization failure.
func daemon(cfg config.Config, logger *slog.Logger, ic *interactive.Console) error {
	logger.Info("autopatchd starting",
		"version", version.Version,
		"bus", cfg.Bus,
		"rules", cfg.Rules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runID := uuid.NewString()

	bus, sim, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	set, err := loadRules(cfg.Rules, bus, logger)
	if err != nil {
		return err
	}

	events, closeEvents, err := openEventLog(cfg.EventLog, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	p, err := patcher.New(patcher.Config{
		Bus:      bus,
		Rules:    set,
		Logger:   logger,
		EventLog: events,
		RunID:    runID,
	})
	if err != nil {
		return err
	}
	logger.Info("run started", "run_id", runID)

	handler := console.NewHandler(p, busLabel(cfg))

	if cfg.Console.Listen != "" {
		server := console.NewServer(handler, logger)
		if err := server.Start(cfg.Console.Listen); err != nil {
			return err
		}
		defer server.Stop()

		if cfg.Announce.Enabled {
			tcp, ok := server.Addr().(*net.TCPAddr)
			if !ok {
				return fmt.Errorf("console listener is not TCP")
			}
			ann := announce.New(announce.Config{
				Instance: cfg.Announce.Instance,
				Port:     tcp.Port,
				Bus:      cfg.Bus,
				RunID:    runID,
			})
			if err := ann.Start(); err != nil {
				return err
			}
			defer ann.Stop()
			logger.Info("console announced", "instance", cfg.Announce.Instance)
		}
	}

	// Replay scenario steps once the run loop is consuming events.
	if sim != nil && cfg.Scenario != "" {
		sc, err := scenario.Load(cfg.Scenario)
		if err != nil {
			return err
		}
		go func() {
			if err := sc.Play(ctx, sim); err != nil && ctx.Err() == nil {
				logger.Warn("scenario replay stopped", "error", err.Error())
			}
		}()
	}

	if ic != nil {
		go ic.Run(ctx, cancel, handler)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		<-runErr
	case <-ctx.Done():
		// Interactive quit.
		<-runErr
	case err := <-runErr:
		if err != nil {
			return err
		}
	}

	logger.Info("run finished", "run_id", runID)
	return nil
}

// openBus builds the configured backend. The second return is non-nil
// for the sim backend so the scenario player can drive it.
func openBus(ctx context.Context, cfg config.Config, logger *slog.Logger) (seq.Bus, *seqtest.Bus, error) {
	switch cfg.Bus {
	case config.BusSim:
		bus := seqtest.New()
		if cfg.Scenario != "" {
			sc, err := scenario.Load(cfg.Scenario)
			if err != nil {
				return nil, nil, err
			}
			if err := sc.Apply(bus); err != nil {
				return nil, nil, err
			}
			logger.Info("scenario loaded", "name", sc.Name, "path", cfg.Scenario)
		}
		return bus, bus, nil

	case config.BusWire:
		client, err := seqwire.Dial(ctx, cfg.Socket, seqwire.Options{
			ClientName: cfg.ClientName,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to sequencer daemon",
			"socket", cfg.Socket, "server", client.Server())
		return client, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown bus backend %q", cfg.Bus)
	}
}

// loadRules builds the policy from the configured rule file. A missing
// file, or a file yielding no rules at all, falls back to allowing
// everything; any other read failure is fatal.
func loadRules(path string, names seq.NameResolver, logger *slog.Logger) (*rules.Set, error) {
	set := rules.NewSet(names)
	set.SetLogger(logger)

	if path != "" {
		if err := rules.ParseFile(path, set); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read rules %s: %w", path, err)
			}
			logger.Warn("rules file not found, allowing everything", "path", path)
		}
	}
	if !set.HasRules() {
		set.AllowDefault()
	}
	return set, nil
}

// openEventLog builds the decision trace sink: the slog adapter always,
// plus the binary file when configured.
func openEventLog(path string, logger *slog.Logger) (eventlog.Logger, func(), error) {
	adapter := eventlog.NewSlogAdapter(logger)
	if path == "" {
		return adapter, func() {}, nil
	}

	file, err := eventlog.NewFileLogger(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	logger.Info("decision log enabled", "path", path)
	return eventlog.NewMultiLogger(file, adapter), func() { file.Close() }, nil
}

// busLabel describes the attached backend in console status output.
func busLabel(cfg config.Config) string {
	if cfg.Bus == config.BusSim {
		if cfg.Scenario != "" {
			return fmt.Sprintf("sim %s", cfg.Scenario)
		}
		return "sim"
	}
	return fmt.Sprintf("wire %s", cfg.Socket)
}
