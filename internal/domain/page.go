package domain

// Page exit reasons
const (
	ExitNavigation = "navigation"
	ExitSessionEnd = "session_end"
)

// PageViewEvent is the event name tracked for every page start
const PageViewEvent = "page_view"

// PageVisit is the interval during which one logical screen is current
type PageVisit struct {
	PageName   string `json:"pageName"`
	PageTitle  string `json:"pageTitle,omitempty"`
	Route      string `json:"route,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	DeviceType string `json:"deviceType"`
	SessionID  string `json:"sessionId"`
}

// PageStartRequest is the page/start request body
type PageStartRequest = PageVisit

// PageEndRequest is the page/end request body
type PageEndRequest struct {
	PageName   string `json:"pageName"`
	ExitReason string `json:"exitReason"`
}

// EventData returns the page fields carried by the page_view event.
// Empty optional fields are left out.
func (p PageVisit) EventData() map[string]any {
	data := map[string]any{"pageName": p.PageName}
	if p.PageTitle != "" {
		data["pageTitle"] = p.PageTitle
	}
	if p.Route != "" {
		data["route"] = p.Route
	}
	if p.Referrer != "" {
		data["referrer"] = p.Referrer
	}
	return data
}
