package domain

// Unknown is the fallback for any device fact that cannot be resolved
const Unknown = "unknown"

// DeviceContext holds static facts about the runtime, resolved once at startup
type DeviceContext struct {
	DeviceType string `json:"deviceType"` // ios, android, macos, linux, windows...
	Model      string `json:"deviceModel"`
	OSVersion  string `json:"osVersion"`
	AppName    string `json:"appName"`
	AppVersion string `json:"appVersion"`
	AppBuild   string `json:"appBuild,omitempty"`
	UserAgent  string `json:"userAgent"`
}
