// Package output writes the NDJSON records emitted by the beacon CLI and the
// local sink. Every record carries "type" and "schemaVersion".
package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// SchemaVersion is bumped on any breaking change to a record shape
const SchemaVersion = 1

// Capture is one request received by the sink
type Capture struct {
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schemaVersion"`
	ReceivedAt    string          `json:"received_at"`
	Path          string          `json:"path"`
	Status        int             `json:"status"`
	RequestID     string          `json:"request_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
}

// Ready announces that the sink is listening
type Ready struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Timestamp     string `json:"timestamp"`
	Addr          string `json:"addr"`
	BaseURL       string `json:"base_url"`
	OutputDir     string `json:"output_dir,omitempty"`
}

// Step reports one replayed script action
type Step struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Line          int    `json:"line"`
	Action        string `json:"action"`
	OK            bool   `json:"ok"`
	Detail        string `json:"detail,omitempty"`
}

// Summary closes a replay or inspect run
type Summary struct {
	Type          string         `json:"type"`
	SchemaVersion int            `json:"schemaVersion"`
	Source        string         `json:"source,omitempty"`
	Total         int            `json:"total"`
	Matched       int            `json:"matched"`
	ByType        map[string]int `json:"by_type,omitempty"`
	ByPath        map[string]int `json:"by_path,omitempty"`
	Sessions      []string       `json:"sessions,omitempty"`
	Queued        int            `json:"queued"`
	Sent          int64          `json:"sent"`
	FailedFlushes int64          `json:"failed_flushes"`
	Dropped       int64          `json:"dropped"`
}

// ErrorOutput is an error record
type ErrorOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// NDJSONWriter writes one JSON object per line. Safe for concurrent use.
type NDJSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewNDJSONWriter creates a writer on w
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{enc: json.NewEncoder(w)}
}

// Write encodes v as one line
func (w *NDJSONWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// WriteCapture writes a capture record, filling type and schema version
func (w *NDJSONWriter) WriteCapture(c Capture) error {
	c.Type = "capture"
	c.SchemaVersion = SchemaVersion
	return w.Write(c)
}

// WriteReady writes the sink ready record
func (w *NDJSONWriter) WriteReady(addr, baseURL, outputDir string) error {
	return w.Write(Ready{
		Type:          "ready",
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Addr:          addr,
		BaseURL:       baseURL,
		OutputDir:     outputDir,
	})
}

// WriteStep writes a replay step record
func (w *NDJSONWriter) WriteStep(line int, action string, ok bool, detail string) error {
	return w.Write(Step{
		Type:          "step",
		SchemaVersion: SchemaVersion,
		Line:          line,
		Action:        action,
		OK:            ok,
		Detail:        detail,
	})
}

// WriteSummary writes a summary record
func (w *NDJSONWriter) WriteSummary(s Summary) error {
	s.Type = "summary"
	s.SchemaVersion = SchemaVersion
	return w.Write(s)
}

// WriteError writes an error record. Only the first hint is kept.
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	e := ErrorOutput{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		e.Hint = hint[0]
	}
	return w.Write(e)
}
