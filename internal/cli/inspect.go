package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/vburojevic/beacon/internal/collector"
	"github.com/vburojevic/beacon/internal/domain"
	"github.com/vburojevic/beacon/internal/filter"
	"github.com/vburojevic/beacon/internal/output"
)

// InspectCmd filters and summarizes the events stored in a sink capture
type InspectCmd struct {
	File    string   `arg:"" help:"Capture file written by 'beacon sink' (- for stdin)"`
	Pattern string   `short:"p" help:"Regex on event name"`
	Exclude []string `short:"x" help:"Regex on event name to drop (repeatable)"`
	Where   []string `short:"w" help:"Field filter, e.g. type=AUTH, data.length>=10, time>=2026-01-01T00:00:00Z (repeatable)"`
	Limit   int      `help:"Stop after this many matched events (0 = all)"`
	Summary bool     `help:"Only print the summary"`
}

// EventOutput is the NDJSON record for one matched event
type EventOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	domain.Event
}

// Run executes the inspect command
func (c *InspectCmd) Run(globals *Globals) error {
	pipeline, err := c.pipeline()
	if err != nil {
		return outputErrorCommon(globals, "INVALID_FILTER", err.Error(), "where operators are =, !=, ~, !~, >=, <=, ^, $")
	}

	var in io.Reader = os.Stdin
	if c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return outputErrorCommon(globals, "FILE_NOT_FOUND", err.Error())
		}
		defer f.Close()
		in = f
	}

	events, err := readCapturedEvents(in)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_CAPTURE", err.Error(), "expected NDJSON capture records from 'beacon sink'")
	}
	globals.Debug("read %d events from %s", len(events), c.File)

	matched := lo.Filter(events, func(ev domain.Event, _ int) bool { return pipeline.Match(&ev) })
	if c.Limit > 0 && len(matched) > c.Limit {
		matched = matched[:c.Limit]
	}

	summary := output.Summary{
		Source:  c.File,
		Total:   len(events),
		Matched: len(matched),
		ByType:  lo.CountValuesBy(matched, func(ev domain.Event) string { return string(ev.EventType) }),
		Sessions: lo.Uniq(lo.Map(matched, func(ev domain.Event, _ int) string {
			return ev.SessionID
		})),
	}
	sort.Strings(summary.Sessions)

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		if !c.Summary {
			for _, ev := range matched {
				if err := w.Write(EventOutput{Type: "event", SchemaVersion: output.SchemaVersion, Event: ev}); err != nil {
					return err
				}
			}
		}
		return w.WriteSummary(summary)
	}

	if !c.Summary && len(matched) > 0 {
		if err := renderEventTable(globals.Stdout, matched); err != nil {
			return err
		}
	}
	st := newStyles(globals.Stdout)
	fmt.Fprintf(globals.Stdout, "%s %d of %d events across %d sessions\n",
		st.label.Render("matched"), summary.Matched, summary.Total, len(summary.Sessions))
	types := lo.Keys(summary.ByType)
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(globals.Stdout, "  %-12s %d\n", t, summary.ByType[t])
	}
	return nil
}

func (c *InspectCmd) pipeline() (*filter.Pipeline, error) {
	var pattern *regexp.Regexp
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		pattern = re
	}
	var excludes []*regexp.Regexp
	for _, x := range c.Exclude {
		re, err := regexp.Compile(x)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
		excludes = append(excludes, re)
	}
	where, err := filter.NewWhereFilter(c.Where)
	if err != nil {
		return nil, err
	}
	return filter.NewPipeline(pattern, excludes, where), nil
}

// readCapturedEvents extracts the events of every accepted events/batch capture
func readCapturedEvents(r io.Reader) ([]domain.Event, error) {
	var events []domain.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec output.Capture
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Type != "capture" || rec.Path != collector.PathEventsBatch || rec.Status != http.StatusOK {
			continue
		}
		var batch domain.EventBatch
		if err := json.Unmarshal(rec.Body, &batch); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, batch.Events...)
	}
	return events, scanner.Err()
}

func renderEventTable(w io.Writer, events []domain.Event) error {
	table := tablewriter.NewWriter(w)
	table.Header("Time", "Type", "Name", "Result", "Session")
	for _, ev := range events {
		ts := ""
		if ev.Timestamp != nil {
			ts = ev.Timestamp.UTC().Format(time.RFC3339)
		}
		if err := table.Append([]string{ts, string(ev.EventType), ev.EventName, string(ev.Result), ev.SessionID}); err != nil {
			return err
		}
	}
	return table.Render()
}
