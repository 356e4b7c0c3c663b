package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/vburojevic/beacon/internal/collector"
	"github.com/vburojevic/beacon/internal/domain"
	"github.com/vburojevic/beacon/internal/output"
	"github.com/vburojevic/beacon/internal/sink"
)

// SinkCmd runs the local collector
type SinkCmd struct {
	Addr      string `help:"Listen address (default: sink.addr from config)"`
	Prefix    string `default:"/api/analytics" help:"Path the endpoints are mounted under"`
	OutputDir string `type:"path" help:"Write one capture file per collector session to this directory"`
	FailBatch int    `help:"Answer the first N events/batch requests with 503"`
}

// Run executes the sink command
func (c *SinkCmd) Run(globals *Globals) error {
	if err := validateFlags(globals, c.FailBatch, c.OutputDir, true); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	return c.serve(ctx, globals, nil)
}

func (c *SinkCmd) serve(ctx context.Context, globals *Globals, ready func(net.Addr)) error {
	addr := c.Addr
	if addr == "" {
		addr = globals.Config.Sink.Addr
	}
	outDir := c.OutputDir
	if outDir == "" {
		outDir = globals.Config.Sink.OutputDir
	}

	var capture io.Writer
	if globals.Format == "ndjson" {
		capture = globals.Stdout
	}
	s := sink.New(sink.Options{
		Prefix:    c.Prefix,
		Capture:   capture,
		OutputDir: outDir,
		Logger:    globals.Logger(),
	})
	if c.FailBatch > 0 {
		s.FailFirst(collector.PathEventsBatch, c.FailBatch)
	}

	st := newStyles(globals.Stdout)
	err := s.ListenAndServe(ctx, addr, func(a net.Addr) {
		baseURL := fmt.Sprintf("http://%s%s", a.String(), s.Prefix())
		if globals.Format == "ndjson" {
			output.NewNDJSONWriter(globals.Stdout).WriteReady(a.String(), baseURL, outDir)
		} else {
			fmt.Fprintf(globals.Stdout, "%s %s\n", st.label.Render("collector listening on"), baseURL)
			fmt.Fprintln(globals.Stdout, st.dim.Render("press Ctrl+C to stop"))
		}
		if ready != nil {
			ready(a)
		}
	})
	if err != nil {
		return outputErrorCommon(globals, "SINK_FAILED", err.Error(), "check that the listen address is free")
	}
	return writeSinkSummary(globals, s)
}

func writeSinkSummary(globals *Globals, s *sink.Sink) error {
	recs := s.Records()
	byPath := lo.CountValuesBy(recs, func(r sink.Record) string { return r.Path })
	byType := lo.CountValuesBy(s.Events(), func(ev domain.Event) string { return string(ev.EventType) })
	open := s.OpenSessions()
	sort.Strings(open)

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).WriteSummary(output.Summary{
			Source:   "sink",
			Total:    len(recs),
			Matched:  len(recs),
			ByType:   byType,
			ByPath:   byPath,
			Sessions: open,
		})
	}

	table := tablewriter.NewWriter(globals.Stdout)
	table.Header("Endpoint", "Requests")
	paths := lo.Keys(byPath)
	sort.Strings(paths)
	for _, p := range paths {
		if err := table.Append([]string{p, fmt.Sprint(byPath[p])}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(globals.Stdout, "%d requests, %d sessions still open\n", len(recs), len(open))
	return nil
}
