package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/beacon/internal/collector"
	"github.com/vburojevic/beacon/internal/credential"
	"github.com/vburojevic/beacon/internal/domain"
	"github.com/vburojevic/beacon/internal/output"
	"github.com/vburojevic/beacon/internal/sink"
	"github.com/vburojevic/beacon/internal/telemetry"
)

// ReplayCmd drives a telemetry client from a script of actions, one JSON object per line
type ReplayCmd struct {
	File      string `arg:"" type:"existingfile" help:"NDJSON action script"`
	Local     bool   `help:"Run an in-process sink and point the client at it"`
	Token     string `help:"Bearer token to use instead of the credential store"`
	FailBatch int    `help:"With --local, answer the first N events/batch requests with 503"`
	OutputDir string `type:"path" help:"With --local, write per-session capture files here"`
	KeepGoing bool   `help:"Continue after a failed step"`
}

// Action is one line of a replay script
type Action struct {
	Action    string         `json:"action"`
	Page      string         `json:"page,omitempty"`
	Title     string         `json:"title,omitempty"`
	Route     string         `json:"route,omitempty"`
	Referrer  string         `json:"referrer,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Name      string         `json:"name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Result    string         `json:"result,omitempty"`
	Duration  string         `json:"duration,omitempty"`
	Token     string         `json:"token,omitempty"`
}

// Replay actions
const (
	actionStartSession = "start_session"
	actionEndSession   = "end_session"
	actionPage         = "page"
	actionEndPage      = "end_page"
	actionTrack        = "track"
	actionFlush        = "flush"
	actionExpire       = "expire"
	actionSleep        = "sleep"
	actionSetToken     = "set_token"
)

var errStepFailed = errors.New("replay step failed")

// Run executes the replay command
func (c *ReplayCmd) Run(globals *Globals) error {
	if err := validateFlags(globals, c.FailBatch, c.OutputDir, c.Local); err != nil {
		return err
	}
	actions, err := readActions(c.File)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_SCRIPT", err.Error(), "each line must be a JSON object with an \"action\" field")
	}

	ctx, cancel := signalContext()
	defer cancel()
	return c.replay(ctx, globals, actions)
}

type scriptLine struct {
	line int
	act  Action
}

func readActions(path string) ([]scriptLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []scriptLine
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var a Action
		if err := json.Unmarshal([]byte(text), &a); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		a.Action = strings.ToLower(strings.TrimSpace(a.Action))
		if a.Action == "" {
			return nil, fmt.Errorf("line %d: action is required", n)
		}
		out = append(out, scriptLine{line: n, act: a})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ReplayCmd) replay(ctx context.Context, globals *Globals, actions []scriptLine) error {
	cfg := *globals.Config
	logger := globals.Logger().Named("replay")

	var local *sink.Sink
	if c.Local {
		local = sink.New(sink.Options{OutputDir: c.OutputDir, Logger: logger})
		if c.FailBatch > 0 {
			local.FailFirst(collector.PathEventsBatch, c.FailBatch)
		}
		baseURL, stop, err := startLocalSink(ctx, local)
		if err != nil {
			return outputErrorCommon(globals, "SINK_FAILED", err.Error())
		}
		defer stop()
		cfg.Collector.BaseURL = baseURL
		globals.Debug("replaying against local sink at %s", baseURL)
	}

	var store credential.Store
	if c.Token != "" || c.Local {
		mem := credential.NewMemoryStore()
		if c.Token != "" {
			_ = mem.SetItem(tokenKey(cfg.Credentials.Key), c.Token)
		}
		store = mem
	}

	client, err := telemetry.FromConfig(&cfg, store, logger)
	if err != nil {
		return outputErrorCommon(globals, "CLIENT_FAILED", err.Error(), "check collector.base_url and batch settings")
	}
	client.Run(ctx)

	w := output.NewNDJSONWriter(globals.Stdout)
	st := newStyles(globals.Stdout)
	failed, succeeded := 0, 0
	var writeErr error
	for _, sl := range actions {
		ok, detail := c.step(ctx, client, store, tokenKey(cfg.Credentials.Key), sl.act)
		if ok {
			succeeded++
		} else {
			failed++
		}
		if globals.Format == "ndjson" {
			if err := w.WriteStep(sl.line, sl.act.Action, ok, detail); err != nil {
				writeErr = fmt.Errorf("write step: %w", err)
				break
			}
		} else {
			fmt.Fprintf(globals.Stdout, "%4d  %-14s %s  %s\n", sl.line, sl.act.Action, st.status(ok), st.dim.Render(detail))
		}
		if !ok && !c.KeepGoing {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	client.Close(context.WithoutCancel(ctx))
	stats := client.Stats()
	logger.Debug("replay finished",
		zap.Int("steps", len(actions)),
		zap.Int("failed", failed),
		zap.Int64("sent", stats.Sent))

	summary := output.Summary{
		Source:        c.File,
		Total:         len(actions),
		Matched:       succeeded,
		Queued:        stats.Queued,
		Sent:          stats.Sent,
		FailedFlushes: stats.FailedAttempts,
		Dropped:       stats.Dropped,
	}
	if local != nil {
		summary.ByPath = lo.CountValuesBy(local.Records(), func(r sink.Record) string { return r.Path })
		summary.ByType = lo.CountValuesBy(local.Events(), func(ev domain.Event) string { return string(ev.EventType) })
		summary.Sessions = lo.Uniq(lo.FilterMap(local.Records(), func(r sink.Record, _ int) (string, bool) {
			return r.SessionID, r.Path == collector.PathSessionStart && r.SessionID != ""
		}))
		sort.Strings(summary.Sessions)
	}

	if writeErr != nil {
		return writeErr
	}
	if globals.Format == "ndjson" {
		if err := w.WriteSummary(summary); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	} else {
		fmt.Fprintf(globals.Stdout, "%s %d/%d steps ok, %d events sent, %d queued, %d failed flushes\n",
			st.label.Render("replay:"), summary.Matched, summary.Total, summary.Sent, summary.Queued, summary.FailedFlushes)
	}

	if failed > 0 {
		return errStepFailed
	}
	return nil
}

// step runs one action and reports whether it did what it asked for
func (c *ReplayCmd) step(ctx context.Context, client *telemetry.Client, store credential.Store, key string, a Action) (bool, string) {
	switch a.Action {
	case actionStartSession:
		if !client.StartSession(ctx) {
			return false, "session not started"
		}
		s, _ := client.Session()
		return true, s.ID
	case actionEndSession:
		summary, ended := client.Sessions.EndWithSummary(ctx, a.Reason)
		if !ended {
			return false, "no active session"
		}
		return summary.Acknowledged, fmt.Sprintf("%s after %ds", summary.Reason, summary.DurationSeconds)
	case actionPage:
		ok := client.StartPageVisit(ctx, domain.PageVisit{
			PageName:  a.Page,
			PageTitle: a.Title,
			Route:     a.Route,
			Referrer:  a.Referrer,
		})
		return ok, a.Page
	case actionEndPage:
		page, open := client.Pages.CurrentPage()
		ok := client.EndPageVisit(ctx, a.Reason)
		if !open {
			return false, "no open page"
		}
		return ok, page.PageName
	case actionTrack:
		eventType, valid := domain.ParseEventType(a.EventType)
		if !valid {
			return false, fmt.Sprintf("unknown event type %q", a.EventType)
		}
		ok := client.Track(eventType, a.Name, a.Data, domain.ParseResult(a.Result))
		return ok, fmt.Sprintf("%s/%s", eventType, a.Name)
	case actionFlush:
		queued := client.Stats().Queued
		if queued == 0 {
			return true, "queue empty"
		}
		ok := client.Events.ForceFlush(ctx)
		return ok, fmt.Sprintf("%d queued", queued)
	case actionExpire:
		client.CredentialExpired()
		return true, "local state cleared"
	case actionSleep:
		d, err := time.ParseDuration(a.Duration)
		if err != nil {
			return false, err.Error()
		}
		select {
		case <-time.After(d):
			return true, d.String()
		case <-ctx.Done():
			return false, ctx.Err().Error()
		}
	case actionSetToken:
		if store == nil {
			return false, "credential store is not writable in this mode"
		}
		if err := store.SetItem(key, a.Token); err != nil {
			return false, err.Error()
		}
		return true, lo.Ternary(a.Token == "", "token cleared", maskToken(a.Token))
	default:
		return false, fmt.Sprintf("unknown action %q", a.Action)
	}
}

// startLocalSink serves s on an ephemeral loopback port and returns its base URL
func startLocalSink(ctx context.Context, s *sink.Sink) (string, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx, "127.0.0.1:0", func(a net.Addr) { ready <- a })
	}()

	select {
	case a := <-ready:
		stop := func() {
			cancel()
			<-done
		}
		return fmt.Sprintf("http://%s%s", a.String(), s.Prefix()), stop, nil
	case err := <-done:
		cancel()
		return "", nil, err
	}
}
