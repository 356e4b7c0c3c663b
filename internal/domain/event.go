package domain

import (
	"strings"
	"time"
)

// EventType classifies a usage event
type EventType string

const (
	EventTypeAuth        EventType = "AUTH"
	EventTypeFeatureUse  EventType = "FEATURE_USE"
	EventTypeInteraction EventType = "INTERACTION"
)

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	switch t {
	case EventTypeAuth, EventTypeFeatureUse, EventTypeInteraction:
		return true
	}
	return false
}

// ParseEventType parses an event type string case-insensitively.
// "feature-use" and "feature_use" are both accepted.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	return t, t.Valid()
}

// Result is the outcome recorded on an event
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// ParseResult maps a string to a Result, defaulting to success
func ParseResult(s string) Result {
	if strings.EqualFold(strings.TrimSpace(s), string(ResultFailure)) {
		return ResultFailure
	}
	return ResultSuccess
}

// UnknownSessionID is stamped on records created while no session is active
const UnknownSessionID = "unknown"

// Event is a single usage fact waiting in the queue for batch delivery
type Event struct {
	EventType  EventType      `json:"eventType"`
	EventName  string         `json:"eventName"`
	EventData  map[string]any `json:"eventData,omitempty"`
	Result     Result         `json:"result"`
	DeviceType string         `json:"deviceType"`
	SessionID  string         `json:"sessionId"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"` // additive; collectors may ignore
}

// EventBatch is the events/batch request body
type EventBatch struct {
	Events     []Event `json:"events"`
	SessionID  string  `json:"sessionId"`
	DeviceType string  `json:"deviceType"`
}

// BatchResult is the events/batch response body
type BatchResult struct {
	SuccessCount int `json:"successCount"`
	TotalCount   int `json:"totalCount"`
}

// Partial reports whether the collector accepted fewer events than were sent
func (r BatchResult) Partial(sent int) bool {
	return r.SuccessCount < sent
}

// PreSessionPolicy decides what happens to events tracked while no session is active
type PreSessionPolicy string

const (
	// PreSessionTag keeps the event and stamps it with UnknownSessionID
	PreSessionTag PreSessionPolicy = "tag"
	// PreSessionDrop discards the event
	PreSessionDrop PreSessionPolicy = "drop"
)

// ParsePreSessionPolicy returns the policy for s, or false if s is not a known policy
func ParsePreSessionPolicy(s string) (PreSessionPolicy, bool) {
	switch p := PreSessionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PreSessionTag, PreSessionDrop:
		return p, true
	case "":
		return PreSessionTag, true
	}
	return "", false
}
