package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/beacon/internal/cli"
	"github.com/vburojevic/beacon/internal/config"
	"github.com/vburojevic/beacon/internal/tracing"
)

const quickStart = `beacon - client-side usage telemetry toolkit

Quick start:
  beacon sink                           Run a local collector on 127.0.0.1:5000
  beacon replay --local script.ndjson   Drive a session/page/event flow against it
  beacon inspect capture.ndjson -w type=AUTH

For help:
  beacon --help                         All commands and flags
  beacon schema                         JSON Schema of every NDJSON record
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config values become flag defaults; explicit flags still win
	vars := kong.Vars{
		"config_format": cfg.Format,
	}

	ctx := kong.Parse(&c,
		kong.Name("beacon"),
		kong.Description("Beacon: session, page visit and event telemetry with a local collector for development"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	if c.Config != "" {
		fileCfg, err := config.LoadFromFile(c.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load %s: %v\n", c.Config, err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	shutdown, err := tracing.Setup(context.Background(), cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: tracing disabled: %v\n", err)
	}

	// Create globals with config fallbacks
	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if shutdown != nil {
		_ = shutdown(flushCtx)
	}
	cancel()
	_ = globals.Logger().Sync()

	if err != nil {
		os.Exit(1)
	}
}
