package cli

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaCmd outputs JSON Schema for beacon output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (capture,ready,step,summary,event,device,error). Default: all"`
}

var schemaTypes = []string{"capture", "ready", "step", "summary", "event", "device", "error"}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := map[string]interface{}{
		"capture": captureSchema(),
		"ready":   readySchema(),
		"step":    stepSchema(),
		"summary": summarySchema(),
		"event":   eventSchema(),
		"device":  deviceSchema(),
		"error":   errorSchema(),
	}

	// Determine which schemas to output
	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		typesToOutput = schemaTypes
	}

	// Build output
	output := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "Beacon Output Schemas",
		"description": "JSON Schema definitions for all beacon NDJSON output types",
		"definitions": map[string]interface{}{},
	}

	defs := output["definitions"].(map[string]interface{})
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		if schema, ok := schemas[t]; ok {
			defs[t] = schema
		}
	}

	if globals.Format == "text" {
		c.outputTextHelp(globals)
		return nil
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func recordSchema(title, description, recordType string, props map[string]interface{}, required ...string) map[string]interface{} {
	props["type"] = map[string]interface{}{"type": "string", "const": recordType}
	props["schemaVersion"] = prop("integer", "Output schema version")
	return map[string]interface{}{
		"type":        "object",
		"title":       title,
		"description": description,
		"properties":  props,
		"required":    append([]string{"type", "schemaVersion"}, required...),
	}
}

func captureSchema() map[string]interface{} {
	return recordSchema("Capture", "One request received by the sink", "capture", map[string]interface{}{
		"received_at": map[string]interface{}{"type": "string", "format": "date-time", "description": "When the sink received the request"},
		"path":        map[string]interface{}{"type": "string", "enum": []string{"/session/start", "/session/end", "/page/start", "/page/end", "/events/batch"}, "description": "Collector endpoint"},
		"status":      prop("integer", "HTTP status the sink answered with"),
		"request_id":  prop("string", "X-Request-ID header"),
		"session_id":  prop("string", "Session the request belongs to, when known"),
		"body":        prop("object", "Request body as sent by the client"),
	}, "received_at", "path", "status")
}

func readySchema() map[string]interface{} {
	return recordSchema("Sink Ready", "The sink is listening", "ready", map[string]interface{}{
		"timestamp":  map[string]interface{}{"type": "string", "format": "date-time", "description": "When the listener was bound"},
		"addr":       prop("string", "Bound listen address"),
		"base_url":   prop("string", "Collector base URL to configure clients with"),
		"output_dir": prop("string", "Directory receiving per-session capture files"),
	}, "addr", "base_url")
}

func stepSchema() map[string]interface{} {
	return recordSchema("Replay Step", "Outcome of one replay script action", "step", map[string]interface{}{
		"line":   prop("integer", "Script line number"),
		"action": map[string]interface{}{"type": "string", "enum": []string{actionStartSession, actionEndSession, actionPage, actionEndPage, actionTrack, actionFlush, actionExpire, actionSleep, actionSetToken}},
		"ok":     prop("boolean", "Whether the action did what it asked for"),
		"detail": prop("string", "Session id, page name or failure reason"),
	}, "line", "action", "ok")
}

func summarySchema() map[string]interface{} {
	return recordSchema("Summary", "Totals written at the end of sink, replay and inspect", "summary", map[string]interface{}{
		"source":         prop("string", "Input file or 'sink'"),
		"total":          prop("integer", "Records, steps or events seen"),
		"matched":        prop("integer", "Records that matched or steps that succeeded"),
		"by_type":        prop("object", "Event count per event type"),
		"by_path":        prop("object", "Request count per collector endpoint"),
		"sessions":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"queued":         prop("integer", "Events still queued in the client"),
		"sent":           prop("integer", "Events acknowledged by the collector"),
		"failed_flushes": prop("integer", "Batch deliveries that were re-queued"),
		"dropped":        prop("integer", "Events evicted by the queue bound"),
	}, "total", "matched")
}

func eventSchema() map[string]interface{} {
	return recordSchema("Event", "A usage event extracted from a capture", "event", map[string]interface{}{
		"eventType":  map[string]interface{}{"type": "string", "enum": []string{"AUTH", "FEATURE_USE", "INTERACTION"}},
		"eventName":  prop("string", "Event name"),
		"eventData":  prop("object", "Free-form event payload"),
		"result":     map[string]interface{}{"type": "string", "enum": []string{"success", "failure"}},
		"deviceType": prop("string", "Device type at tracking time"),
		"sessionId":  prop("string", "Session id or 'unknown'"),
		"timestamp":  map[string]interface{}{"type": "string", "format": "date-time"},
	}, "eventType", "eventName", "result", "deviceType", "sessionId")
}

func deviceSchema() map[string]interface{} {
	return recordSchema("Device Context", "Resolved device context", "device", map[string]interface{}{
		"deviceType":  prop("string", "ios, android, macos, linux, windows or unknown"),
		"deviceModel": prop("string", "Hardware model"),
		"osVersion":   prop("string", "Operating system version"),
		"appName":     prop("string", "Application name"),
		"appVersion":  prop("string", "Application version"),
		"appBuild":    prop("string", "Application build number"),
		"userAgent":   prop("string", "User agent sent to the collector"),
	}, "deviceType", "deviceModel", "osVersion", "appVersion", "userAgent")
}

func errorSchema() map[string]interface{} {
	return recordSchema("Error", "Error message from beacon", "error", map[string]interface{}{
		"code": map[string]interface{}{
			"type":        "string",
			"description": "Error code (e.g., INVALID_FILTER, SINK_FAILED)",
			"enum": []string{
				"INVALID_FLAGS",
				"INVALID_FILTER",
				"INVALID_SCRIPT",
				"INVALID_CAPTURE",
				"INVALID_TOKEN",
				"FILE_NOT_FOUND",
				"SINK_FAILED",
				"CLIENT_FAILED",
				"CONFIG_ENCODE_FAILED",
				"CREDENTIAL_STORE_FAILED",
				"CREDENTIAL_READ_FAILED",
				"CREDENTIAL_WRITE_FAILED",
			},
		},
		"message": prop("string", "Human-readable error description"),
		"hint":    prop("string", "Suggested fix"),
	}, "code", "message")
}

// Helper to output a quick reference
func (c *SchemaCmd) outputTextHelp(globals *Globals) {
	fmt.Fprintln(globals.Stdout, "Beacon Output Types:")
	fmt.Fprintln(globals.Stdout, "")
	fmt.Fprintln(globals.Stdout, "  capture - Request received by the sink")
	fmt.Fprintln(globals.Stdout, "  ready   - Sink is listening")
	fmt.Fprintln(globals.Stdout, "  step    - Replay action outcome")
	fmt.Fprintln(globals.Stdout, "  summary - Totals at the end of a command")
	fmt.Fprintln(globals.Stdout, "  event   - Usage event from inspect")
	fmt.Fprintln(globals.Stdout, "  device  - Resolved device context")
	fmt.Fprintln(globals.Stdout, "  error   - Error from beacon")
	fmt.Fprintln(globals.Stdout, "")
	fmt.Fprintln(globals.Stdout, "Use --type to filter: beacon schema --type capture,error")
}
