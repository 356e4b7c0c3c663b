package cli

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/vburojevic/beacon/internal/config"
)

// Version information (set at build time)
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the root command
type CLI struct {
	Format  string `short:"f" default:"${config_format}" enum:"ndjson,text" help:"Output format (ndjson or text)"`
	Quiet   bool   `short:"q" help:"Suppress non-essential output"`
	Verbose bool   `short:"v" help:"Debug logging on stderr"`
	Config  string `type:"path" help:"Config file (default: search beacon.yaml, .beaconrc)"`

	Sink    SinkCmd    `cmd:"" help:"Run a local collector that records every request"`
	Replay  ReplayCmd  `cmd:"" help:"Drive the telemetry pipeline from an NDJSON action script"`
	Inspect InspectCmd `cmd:"" help:"Filter and summarize events from a sink capture"`
	Device  DeviceCmd  `cmd:"" help:"Show the detected device context"`
	Token   TokenCmd   `cmd:"" help:"Manage the stored bearer token"`
	Cfg     ConfigCmd  `cmd:"" name:"config" help:"Show or generate configuration"`
	Schema  SchemaCmd  `cmd:"" help:"Output JSON Schema for beacon NDJSON records"`
	Version VersionCmd `cmd:"" help:"Show version information"`
	Update  UpdateCmd  `cmd:"" help:"Show how to upgrade beacon"`
}

// Globals holds global flags and resolved config passed to every command
type Globals struct {
	Format  string
	Quiet   bool
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	logger *zap.Logger
}

// NewGlobalsWithConfig merges parsed flags with the loaded config.
// Flags win; config fills what flags left at their zero value.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if cfg == nil {
		cfg = config.Default()
	}
	g := &Globals{
		Format:  c.Format,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	if g.Format == "" {
		g.Format = cfg.Format
	}
	return g
}

// Logger returns the process logger, building it on first use
func (g *Globals) Logger() *zap.Logger {
	if g.logger == nil {
		g.logger = newLogger(g)
	}
	return g.logger
}

// Debug prints a debug line on stderr when --verbose is set
func (g *Globals) Debug(format string, args ...interface{}) {
	if g.Verbose {
		g.Logger().Debug(fmt.Sprintf(format, args...))
	}
}
