package output

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line, err := buf.ReadBytes('\n')
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &m))
	return m
}

func TestWriteCapture(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	err := w.WriteCapture(Capture{
		ReceivedAt: "2025-03-01T09:30:00Z",
		Path:       "/events/batch",
		Status:     200,
		RequestID:  "req-1",
		SessionID:  "sess-1",
		Body:       json.RawMessage(`{"events":[]}`),
	})
	require.NoError(t, err)

	m := decodeLine(t, buf)
	require.Equal(t, "capture", m["type"])
	require.EqualValues(t, SchemaVersion, m["schemaVersion"])
	require.Equal(t, "/events/batch", m["path"])
	require.EqualValues(t, 200, m["status"])
	require.Equal(t, "sess-1", m["session_id"])
	body, ok := m["body"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, body, "events")
}

func TestWriteReady(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteReady("127.0.0.1:5000", "http://127.0.0.1:5000/api/analytics", ""))

	m := decodeLine(t, buf)
	require.Equal(t, "ready", m["type"])
	require.Equal(t, "http://127.0.0.1:5000/api/analytics", m["base_url"])
	require.NotContains(t, m, "output_dir")
	require.NotEmpty(t, m["timestamp"])
}

func TestWriteStepAndSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteStep(3, "page", true, "chat"))
	require.NoError(t, w.WriteSummary(Summary{Source: "script.ndjson", Total: 4, Sent: 4}))

	step := decodeLine(t, buf)
	require.Equal(t, "step", step["type"])
	require.EqualValues(t, 3, step["line"])
	require.Equal(t, true, step["ok"])

	sum := decodeLine(t, buf)
	require.Equal(t, "summary", sum["type"])
	require.EqualValues(t, 4, sum["sent"])
	require.EqualValues(t, 1, sum["schemaVersion"])
}

func TestWriteError(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteError("NO_CREDENTIAL", "no token stored", "run beacon token set", "ignored"))

	m := decodeLine(t, buf)
	require.Equal(t, "error", m["type"])
	require.Equal(t, "NO_CREDENTIAL", m["code"])
	require.Equal(t, "run beacon token set", m["hint"])
}

func TestConcurrentWritesKeepLinesWhole(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = w.WriteStep(n, "track", true, "")
		}(i)
	}
	wg.Wait()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 20)
	for _, line := range lines {
		require.True(t, json.Valid(line), string(line))
	}
}
