// Package common holds process-wide wiring shared by the fsmux commands:
// build identity and structured logger setup.
package common

import (
	"log/slog"
	"os"
)

// PackageName identifies this module in metrics and diagnostics payloads.
const PackageName = "fsmux"

// Version is the build version, overridden at link time via
// -ldflags "-X github.com/stratusworks/fsmux/common.Version=...".
var Version = "dev"

// LoggingOpts selects handler, level and standing attributes for SetupLogger.
type LoggingOpts struct {
	// Debug lowers the handler level to slog.LevelDebug.
	Debug bool

	// JSON selects the JSON handler instead of the text handler.
	JSON bool

	// Service is attached as a "service" attribute on every record when set.
	Service string

	// Version is attached as a "version" attribute on every record when set.
	Version string
}

// SetupLogger builds the process logger on stderr according to opts.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
