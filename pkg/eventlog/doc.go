// Package eventlog provides structured decision logging for autopatch.
//
// This package defines the Logger interface and Event types for capturing
// what the daemon saw and decided: ports admitted or ignored, rules
// loaded, every rule evaluation with its strengths, and every link
// request. It is separate from operational logging (slog) - the decision
// log is a complete machine-readable trace for answering "why did these
// two ports get patched" after the fact.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	eventLog := eventlog.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	eventLog, _ := eventlog.NewFileLogger("/var/log/autopatch/autopatch.aplog")
//
//	// Both: use MultiLogger
//	eventLog := eventlog.NewMultiLogger(
//	    eventlog.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Every Event carries a timestamp, the daemon run ID, and exactly one
// payload: PortEvent (admitted/ignored/vanished), RuleEvent (loaded or
// rejected policy rules), DecisionEvent (one rule evaluation), LinkEvent
// (link requested or failed), or ErrorEvent.
//
// # File Format
//
// Log files use CBOR encoding with the .aplog extension. The
// autopatch-log CLI tool provides viewing and filtering.
package eventlog
