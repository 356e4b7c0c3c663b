package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/beacon/internal/collector"
	"github.com/vburojevic/beacon/internal/config"
	"github.com/vburojevic/beacon/internal/domain"
	"github.com/vburojevic/beacon/internal/output"
)

// testGlobals creates a Globals struct with captured stdout/stderr
func testGlobals(format string) (*Globals, *bytes.Buffer, *bytes.Buffer) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	return &Globals{
		Format:  format,
		Quiet:   false,
		Verbose: false,
		Stdout:  stdout,
		Stderr:  stderr,
		Config:  config.Default(),
	}, stdout, stderr
}

func decodeLines(t *testing.T, b *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

// --- Globals ---

func TestNewGlobalsWithConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Format = "text"
	cfg.Verbose = true

	g := NewGlobalsWithConfig(&CLI{}, cfg)
	assert.Equal(t, "text", g.Format)
	assert.True(t, g.Verbose)
	assert.False(t, g.Quiet)
	assert.Same(t, cfg, g.Config)

	g = NewGlobalsWithConfig(&CLI{Format: "ndjson", Quiet: true}, cfg)
	assert.Equal(t, "ndjson", g.Format)
	assert.True(t, g.Quiet)

	g = NewGlobalsWithConfig(&CLI{}, nil)
	assert.Equal(t, "ndjson", g.Format)
}

func TestOutputErrorCommon(t *testing.T) {
	t.Run("ndjson", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		err := outputErrorCommon(globals, "SINK_FAILED", "address in use", "pick another port")
		require.EqualError(t, err, "address in use")

		lines := decodeLines(t, stdout)
		require.Len(t, lines, 1)
		assert.Equal(t, "error", lines[0]["type"])
		assert.Equal(t, "SINK_FAILED", lines[0]["code"])
		assert.Equal(t, "pick another port", lines[0]["hint"])
	})

	t.Run("text", func(t *testing.T) {
		globals, stdout, stderr := testGlobals("text")
		_ = outputErrorCommon(globals, "SINK_FAILED", "address in use", "pick another port")
		assert.Empty(t, stdout.String())
		assert.Equal(t, "Error [SINK_FAILED]: address in use (hint: pick another port)\n", stderr.String())
	})
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "*****", maskToken("short"))
	assert.Equal(t, "******************wxyz", maskToken("abcdefghijklmnopqrwxyz"))
}

// --- Config Command Tests ---

func TestConfigShowCmd_Run(t *testing.T) {
	t.Run("outputs config in text format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		cmd := &ConfigShowCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		output := stdout.String()
		assert.Contains(t, output, "Current Configuration:")
		assert.Contains(t, output, "format: ndjson")
		assert.Contains(t, output, "base_url: http://localhost:5000/api/analytics")
		assert.Contains(t, output, "flush_interval: 30s")
	})

	t.Run("outputs config in NDJSON format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &ConfigShowCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		var result map[string]interface{}
		err = json.Unmarshal(stdout.Bytes(), &result)
		require.NoError(t, err)

		assert.Equal(t, "config", result["type"])
		assert.Equal(t, "ndjson", result["format"])
		assert.Contains(t, result, "collector")
		assert.Contains(t, result, "batch")
		batch := result["batch"].(map[string]interface{})
		assert.EqualValues(t, 10, batch["size"])
	})
}

func TestConfigPathCmd_Run(t *testing.T) {
	t.Run("outputs path info in text format when no config", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		cmd := &ConfigPathCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		output := stdout.String()
		// Either shows the path or says no config found
		assert.True(t, strings.Contains(output, "Config file:") || strings.Contains(output, "No configuration file found"))
	})

	t.Run("outputs path in NDJSON format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &ConfigPathCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		var result map[string]interface{}
		err = json.Unmarshal(stdout.Bytes(), &result)
		require.NoError(t, err)

		assert.Equal(t, "config_path", result["type"])
		assert.Contains(t, result, "path")
		assert.Contains(t, result, "found")
	})
}

func TestConfigGenerateCmd_Run(t *testing.T) {
	globals, stdout, _ := testGlobals("text")
	cmd := &ConfigGenerateCmd{}

	err := cmd.Run(globals)
	require.NoError(t, err)

	output := stdout.String()
	assert.Contains(t, output, "# beacon configuration file")
	assert.Contains(t, output, "format: ndjson")
	assert.Contains(t, output, "pre_session: tag")
	assert.Contains(t, output, "queue_capacity: 1000")

	// the generated file loads back to the defaults
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	require.NoError(t, os.WriteFile(path, stdout.Bytes(), 0o600))
	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Batch, cfg.Batch)
	assert.Equal(t, config.Default().Collector, cfg.Collector)
}

// --- Schema Command Tests ---

func TestSchemaCmd_Run(t *testing.T) {
	t.Run("outputs all schemas by default", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &SchemaCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		var result map[string]interface{}
		err = json.Unmarshal(stdout.Bytes(), &result)
		require.NoError(t, err)

		assert.Equal(t, "http://json-schema.org/draft-07/schema#", result["$schema"])
		assert.Equal(t, "Beacon Output Schemas", result["title"])

		defs := result["definitions"].(map[string]interface{})
		for _, typ := range schemaTypes {
			assert.Contains(t, defs, typ)
		}
	})

	t.Run("filters schemas by type", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &SchemaCmd{Type: []string{"capture", " ERROR "}}

		err := cmd.Run(globals)
		require.NoError(t, err)

		var result map[string]interface{}
		err = json.Unmarshal(stdout.Bytes(), &result)
		require.NoError(t, err)

		defs := result["definitions"].(map[string]interface{})
		assert.Len(t, defs, 2)
		assert.Contains(t, defs, "capture")
		assert.Contains(t, defs, "error")
		assert.NotContains(t, defs, "summary")
	})

	t.Run("text quick reference", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		require.NoError(t, (&SchemaCmd{}).Run(globals))
		assert.Contains(t, stdout.String(), "Beacon Output Types:")
	})
}

func TestEventSchema(t *testing.T) {
	schema := eventSchema()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, "Event", schema["title"])

	props := schema["properties"].(map[string]interface{})
	assert.Contains(t, props, "eventType")
	assert.Contains(t, props, "eventName")
	assert.Contains(t, props, "sessionId")
	assert.Contains(t, props, "schemaVersion")
	assert.Contains(t, schema["required"], "eventName")
}

// --- Version/Update Command Tests ---

func TestVersionCmd_Run(t *testing.T) {
	t.Run("outputs version in text format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		cmd := &VersionCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		assert.Contains(t, stdout.String(), "beacon version")
	})

	t.Run("outputs version in NDJSON format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &VersionCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		var result map[string]interface{}
		err = json.Unmarshal(stdout.Bytes(), &result)
		require.NoError(t, err)

		assert.Equal(t, "version", result["type"])
		assert.Contains(t, result, "version")
		assert.Contains(t, result, "commit")
	})
}

func TestUpdateCmd_Run(t *testing.T) {
	globals, stdout, _ := testGlobals("ndjson")
	require.NoError(t, (&UpdateCmd{}).Run(globals))

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, "update", result["type"])
	assert.Equal(t, goInstallCmd, result["go_install"])
}

// --- Token Command Tests ---

func TestTokenCmds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	newGlobals := func(format string) (*Globals, *bytes.Buffer) {
		globals, stdout, _ := testGlobals(format)
		globals.Config.Credentials.Path = path
		return globals, stdout
	}

	globals, stdout := newGlobals("ndjson")
	require.NoError(t, (&TokenSetCmd{Value: "  secret-token-1234  "}).Run(globals))
	var rec TokenOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rec))
	assert.Equal(t, "token", rec.Type)
	assert.Equal(t, "set", rec.Action)
	assert.Equal(t, "userToken", rec.Key)
	assert.True(t, rec.Present)
	assert.Equal(t, "*************1234", rec.Masked)

	globals, stdout = newGlobals("text")
	require.NoError(t, (&TokenShowCmd{}).Run(globals))
	assert.Equal(t, "userToken: *************1234\n", stdout.String())
	assert.NotContains(t, stdout.String(), "secret")

	globals, _ = newGlobals("ndjson")
	require.NoError(t, (&TokenClearCmd{}).Run(globals))

	globals, stdout = newGlobals("ndjson")
	require.NoError(t, (&TokenShowCmd{}).Run(globals))
	rec = TokenOutput{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rec))
	assert.False(t, rec.Present)
	assert.Empty(t, rec.Masked)
}

func TestTokenSetRejectsEmpty(t *testing.T) {
	globals, stdout, _ := testGlobals("ndjson")
	globals.Config.Credentials.Store = config.StoreMemory
	err := (&TokenSetCmd{Value: "   "}).Run(globals)
	require.Error(t, err)
	assert.Contains(t, stdout.String(), "INVALID_TOKEN")
}

// --- Device Command Tests ---

func TestDeviceCmd_Run(t *testing.T) {
	configure := func(g *Globals) {
		g.Config.Device = config.DeviceConfig{
			Type:       "android",
			Model:      "Pixel 8",
			OSVersion:  "14",
			AppName:    "NutriCare",
			AppVersion: "3.1.0",
		}
	}

	t.Run("ndjson", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		configure(globals)
		require.NoError(t, (&DeviceCmd{}).Run(globals))

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "device", result["type"])
		assert.Equal(t, "android", result["deviceType"])
		assert.Equal(t, "Pixel 8", result["deviceModel"])
		assert.Equal(t, "NutriCare/3.1.0 (android 14; Pixel 8)", result["userAgent"])
	})

	t.Run("text table", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		configure(globals)
		require.NoError(t, (&DeviceCmd{}).Run(globals))
		out := stdout.String()
		assert.Contains(t, out, "Pixel 8")
		assert.Contains(t, out, "3.1.0")
	})
}

// --- Inspect Command Tests ---

func writeCapture(t *testing.T, batches ...domain.EventBatch) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.ndjson")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := output.NewNDJSONWriter(f)
	require.NoError(t, w.WriteCapture(output.Capture{Path: collector.PathSessionStart, Status: 200, Body: json.RawMessage(`{"deviceType":"ios"}`)}))
	for i, b := range batches {
		body, err := json.Marshal(b)
		require.NoError(t, err)
		status := 200
		if i == 0 && len(batches) > 2 {
			status = 503 // rejected then re-sent; must not count twice
		}
		require.NoError(t, w.WriteCapture(output.Capture{Path: collector.PathEventsBatch, Status: status, Body: body}))
	}
	return path
}

func sampleBatches() []domain.EventBatch {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := ts.Add(time.Hour)
	first := domain.EventBatch{SessionID: "s1", DeviceType: "ios", Events: []domain.Event{
		{EventType: domain.EventTypeAuth, EventName: "login", Result: domain.ResultSuccess, SessionID: "s1", DeviceType: "ios", Timestamp: &ts},
		{EventType: domain.EventTypeInteraction, EventName: "page_view", EventData: map[string]any{"pageName": "chat"}, Result: domain.ResultSuccess, SessionID: "s1", DeviceType: "ios", Timestamp: &ts},
	}}
	second := domain.EventBatch{SessionID: "s2", DeviceType: "ios", Events: []domain.Event{
		{EventType: domain.EventTypeFeatureUse, EventName: "send_message", EventData: map[string]any{"length": 42}, Result: domain.ResultFailure, SessionID: "s2", DeviceType: "ios", Timestamp: &later},
	}}
	return []domain.EventBatch{first, first, second}
}

func TestInspectCmd_Run(t *testing.T) {
	file := writeCapture(t, sampleBatches()...)

	t.Run("all events ndjson", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		require.NoError(t, (&InspectCmd{File: file}).Run(globals))

		lines := decodeLines(t, stdout)
		require.Len(t, lines, 4)
		assert.Equal(t, "event", lines[0]["type"])
		assert.Equal(t, "login", lines[0]["eventName"])
		summary := lines[3]
		assert.Equal(t, "summary", summary["type"])
		assert.EqualValues(t, 3, summary["total"])
		assert.EqualValues(t, 3, summary["matched"])
		assert.Equal(t, []interface{}{"s1", "s2"}, summary["sessions"])
	})

	t.Run("where and exclude", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &InspectCmd{File: file, Where: []string{"session=s1"}, Exclude: []string{"^page_"}}
		require.NoError(t, cmd.Run(globals))

		lines := decodeLines(t, stdout)
		require.Len(t, lines, 2)
		assert.Equal(t, "login", lines[0]["eventName"])
		assert.EqualValues(t, 1, lines[1]["matched"])
	})

	t.Run("numeric data filter", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &InspectCmd{File: file, Where: []string{"data.length>=40"}, Summary: true}
		require.NoError(t, cmd.Run(globals))

		lines := decodeLines(t, stdout)
		require.Len(t, lines, 1)
		assert.EqualValues(t, 1, lines[0]["matched"])
		assert.Equal(t, map[string]interface{}{"FEATURE_USE": float64(1)}, lines[0]["by_type"])
	})

	t.Run("text table", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		require.NoError(t, (&InspectCmd{File: file, Pattern: "^send"}).Run(globals))
		out := stdout.String()
		assert.Contains(t, out, "send_message")
		assert.NotContains(t, out, "login")
		assert.Contains(t, out, "1 of 3 events across 1 sessions")
	})

	t.Run("invalid where", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		err := (&InspectCmd{File: file, Where: []string{"nooperator"}}).Run(globals)
		require.Error(t, err)
		assert.Contains(t, stdout.String(), "INVALID_FILTER")
	})

	t.Run("missing file", func(t *testing.T) {
		globals, _, _ := testGlobals("text")
		assert.Error(t, (&InspectCmd{File: "/nonexistent/capture.ndjson"}).Run(globals))
	})
}

// --- Replay Command Tests ---

func writeScript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestReadActions(t *testing.T) {
	path := writeScript(t,
		`# login flow`,
		`{"action":"START_SESSION"}`,
		``,
		`{"action":"track","event_type":"auth","name":"login"}`,
	)
	actions, err := readActions(path)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, 2, actions[0].line)
	assert.Equal(t, actionStartSession, actions[0].act.Action)
	assert.Equal(t, 4, actions[1].line)
	assert.Equal(t, "login", actions[1].act.Name)

	_, err = readActions(writeScript(t, `{"page":"chat"}`))
	assert.ErrorContains(t, err, "line 1: action is required")

	_, err = readActions(writeScript(t, `not json`))
	assert.Error(t, err)
}

func TestReplayCmd_Local(t *testing.T) {
	script := writeScript(t,
		`{"action":"start_session"}`,
		`{"action":"page","page":"chat","route":"/chat"}`,
		`{"action":"track","event_type":"FEATURE_USE","name":"send_message","data":{"length":12}}`,
		`{"action":"page","page":"profile","referrer":"chat"}`,
		`{"action":"flush"}`,
		`{"action":"end_session","reason":"logout"}`,
	)

	globals, stdout, _ := testGlobals("ndjson")
	cmd := &ReplayCmd{File: script, Local: true, Token: "tok"}
	actions, err := readActions(script)
	require.NoError(t, err)
	require.NoError(t, cmd.replay(context.Background(), globals, actions))

	lines := decodeLines(t, stdout)
	require.Len(t, lines, 7)
	for _, step := range lines[:6] {
		assert.Equal(t, "step", step["type"])
		assert.Equal(t, true, step["ok"], step)
	}
	summary := lines[6]
	assert.Equal(t, "summary", summary["type"])
	assert.EqualValues(t, 6, summary["matched"])
	assert.EqualValues(t, 3, summary["sent"])
	assert.EqualValues(t, 0, summary["queued"])
	assert.Equal(t, map[string]interface{}{
		collector.PathSessionStart: float64(1),
		collector.PathPageStart:    float64(2),
		collector.PathPageEnd:      float64(2),
		collector.PathEventsBatch:  float64(1),
		collector.PathSessionEnd:   float64(1),
	}, summary["by_path"])
	assert.Len(t, summary["sessions"], 1)
}

func TestReplayCmd_RetriesAfterFailedBatch(t *testing.T) {
	script := writeScript(t,
		`{"action":"start_session"}`,
		`{"action":"track","event_type":"AUTH","name":"login"}`,
		`{"action":"flush"}`,
		`{"action":"flush"}`,
	)
	globals, stdout, _ := testGlobals("ndjson")
	cmd := &ReplayCmd{File: script, Local: true, Token: "tok", FailBatch: 1, KeepGoing: true}
	actions, err := readActions(script)
	require.NoError(t, err)
	assert.ErrorIs(t, cmd.replay(context.Background(), globals, actions), errStepFailed)

	lines := decodeLines(t, stdout)
	require.Len(t, lines, 5)
	assert.Equal(t, false, lines[2]["ok"])
	assert.Equal(t, true, lines[3]["ok"])
	assert.EqualValues(t, 1, lines[4]["failed_flushes"])
	assert.EqualValues(t, 1, lines[4]["sent"])
}

func TestReplayCmd_StopsOnFailure(t *testing.T) {
	script := writeScript(t,
		`{"action":"end_page"}`,
		`{"action":"start_session"}`,
	)
	globals, stdout, _ := testGlobals("text")
	cmd := &ReplayCmd{File: script, Local: true, Token: "tok"}
	actions, err := readActions(script)
	require.NoError(t, err)
	assert.ErrorIs(t, cmd.replay(context.Background(), globals, actions), errStepFailed)

	out := stdout.String()
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "no open page")
	assert.NotContains(t, out, "start_session")
	assert.Contains(t, out, "0/2 steps ok")
}

func TestReplayCmd_SetTokenAndExpire(t *testing.T) {
	script := writeScript(t,
		`{"action":"start_session"}`,
		`{"action":"set_token","token":"fresh-token-abcd"}`,
		`{"action":"start_session"}`,
		`{"action":"expire"}`,
		`{"action":"start_session"}`,
		`{"action":"sleep","duration":"1ms"}`,
		`{"action":"end_session"}`,
	)
	globals, stdout, _ := testGlobals("ndjson")
	cmd := &ReplayCmd{File: script, Local: true, KeepGoing: true}
	actions, err := readActions(script)
	require.NoError(t, err)
	assert.ErrorIs(t, cmd.replay(context.Background(), globals, actions), errStepFailed)

	lines := decodeLines(t, stdout)
	require.Len(t, lines, 8)
	oks := make([]interface{}, 0, 7)
	for _, l := range lines[:7] {
		oks = append(oks, l["ok"])
	}
	// no token yet, token stored, session, expired, new session, sleep, end
	assert.Equal(t, []interface{}{false, true, true, true, true, true, true}, oks)
	assert.Equal(t, "************abcd", lines[1]["detail"])
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("stdout closed")
	}
	w.after--
	return len(p), nil
}

func TestReplayCmd_ReportsWriteErrors(t *testing.T) {
	script := writeScript(t,
		`{"action":"start_session"}`,
		`{"action":"end_session"}`,
	)
	actions, err := readActions(script)
	require.NoError(t, err)

	t.Run("step", func(t *testing.T) {
		globals, _, _ := testGlobals("ndjson")
		globals.Stdout = &failingWriter{}
		cmd := &ReplayCmd{File: script, Local: true, Token: "tok"}
		err := cmd.replay(context.Background(), globals, actions)
		require.ErrorContains(t, err, "write step: stdout closed")
	})

	t.Run("summary", func(t *testing.T) {
		globals, _, _ := testGlobals("ndjson")
		globals.Stdout = &failingWriter{after: len(actions)}
		cmd := &ReplayCmd{File: script, Local: true, Token: "tok"}
		err := cmd.replay(context.Background(), globals, actions)
		require.ErrorContains(t, err, "write summary: stdout closed")
	})
}

func TestReplayCmd_UnknownAction(t *testing.T) {
	cmd := &ReplayCmd{}
	ok, detail := cmd.step(context.Background(), nil, nil, "", Action{Action: "teleport"})
	assert.False(t, ok)
	assert.Contains(t, detail, "teleport")
}

// --- Sink Command Tests ---

func TestSinkCmd_Serve(t *testing.T) {
	globals, stdout, _ := testGlobals("ndjson")
	dir := t.TempDir()
	cmd := &SinkCmd{Addr: "127.0.0.1:0", Prefix: "/api/analytics", OutputDir: dir, FailBatch: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() { done <- cmd.serve(ctx, globals, func(a net.Addr) { addrCh <- a }) }()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("sink exited early: %v", err)
	}

	cc, err := collector.New("http://" + addr.String() + "/api/analytics")
	require.NoError(t, err)
	resp, err := cc.StartSession(ctx, "tok", domain.SessionStartRequest{DeviceType: "ios"})
	require.NoError(t, err)
	_, err = cc.SendEvents(ctx, "tok", domain.EventBatch{SessionID: resp.SessionID})
	require.Error(t, err)

	cancel()
	require.NoError(t, <-done)

	lines := decodeLines(t, stdout)
	require.Len(t, lines, 4)
	assert.Equal(t, "ready", lines[0]["type"])
	assert.Equal(t, "http://"+addr.String()+"/api/analytics", lines[0]["base_url"])
	assert.Equal(t, "capture", lines[1]["type"])
	assert.Equal(t, resp.SessionID, lines[1]["session_id"])
	assert.EqualValues(t, 503, lines[2]["status"])
	assert.Equal(t, "summary", lines[3]["type"])
	assert.EqualValues(t, 2, lines[3]["total"])
	assert.Equal(t, []interface{}{resp.SessionID}, lines[3]["sessions"])

	_, err = os.Stat(filepath.Join(dir, resp.SessionID+".ndjson"))
	assert.NoError(t, err)
}

func TestSinkCmd_AddrInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	globals, stdout, _ := testGlobals("ndjson")
	cmd := &SinkCmd{Addr: ln.Addr().String()}
	err = cmd.serve(context.Background(), globals, nil)
	require.Error(t, err)
	assert.Contains(t, stdout.String(), "SINK_FAILED")
}
