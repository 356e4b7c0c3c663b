package domain

import "time"

// Session is the server-issued usage session owned by the session manager
type Session struct {
	ID         string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	StartTime  time.Time `json:"startTime"`
	DeviceType string    `json:"deviceType"`
	IsActive   bool      `json:"isActive"`
}

// Session end reasons
const (
	EndReasonLogout   = "logout"
	EndReasonAppClose = "app_close"
)

// SessionStartRequest is the session/start request body
type SessionStartRequest struct {
	DeviceType  string `json:"deviceType"`
	DeviceModel string `json:"deviceModel"`
	OSVersion   string `json:"osVersion"`
	AppVersion  string `json:"appVersion"`
	UserAgent   string `json:"userAgent"`
}

// SessionStartResponse is the session/start response body
type SessionStartResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// SessionEndRequest is the session/end request body
type SessionEndRequest struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// NewSessionStartRequest builds the session/start body from the device context
func NewSessionStartRequest(dev DeviceContext) SessionStartRequest {
	return SessionStartRequest{
		DeviceType:  dev.DeviceType,
		DeviceModel: dev.Model,
		OSVersion:   dev.OSVersion,
		AppVersion:  dev.AppVersion,
		UserAgent:   dev.UserAgent,
	}
}

// SessionSummary describes a session that just ended
type SessionSummary struct {
	SessionID       string `json:"sessionId"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration_seconds"`
	Acknowledged    bool   `json:"acknowledged"` // collector accepted session/end
}
