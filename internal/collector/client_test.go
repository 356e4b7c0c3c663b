package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vburojevic/beacon/internal/domain"
)

type capturedRequest struct {
	Path   string
	Header http.Header
	Body   map[string]interface{}
}

type fakeCollector struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	response string
	delay    time.Duration
}

func (f *fakeCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(f.delay):
		}
	}
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
	status, response := f.status, f.response
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(response))
}

func (f *fakeCollector) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, fc *fakeCollector, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/analytics/", opts...)
	require.NoError(t, err)
	return c
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("ftp://collector")
	assert.Error(t, err)

	c, err := New("https://collector.example.com/api/analytics/")
	require.NoError(t, err)
	assert.Equal(t, "https://collector.example.com/api/analytics", c.BaseURL())
}

func TestStartSession(t *testing.T) {
	fc := &fakeCollector{response: `{"sessionId":"sess-42","userId":"user-7"}`}
	c := newTestClient(t, fc, WithUserAgent("NutriCare/2.4.0"))

	resp, err := c.StartSession(context.Background(), "tok-1", domain.SessionStartRequest{
		DeviceType:  "ios",
		DeviceModel: "iPhone 15",
		OSVersion:   "18.1",
		AppVersion:  "2.4.0",
		UserAgent:   "NutriCare/2.4.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-42", resp.SessionID)
	assert.Equal(t, "user-7", resp.UserID)

	req := fc.last(t)
	assert.Equal(t, "/api/analytics/session/start", req.Path)
	assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "NutriCare/2.4.0", req.Header.Get("User-Agent"))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
	assert.Equal(t, "ios", req.Body["deviceType"])
	assert.Equal(t, "iPhone 15", req.Body["deviceModel"])
	assert.Equal(t, "18.1", req.Body["osVersion"])
}

func TestStartSessionRequiresSessionID(t *testing.T) {
	fc := &fakeCollector{response: `{"userId":"user-7"}`}
	c := newTestClient(t, fc)

	_, err := c.StartSession(context.Background(), "tok", domain.SessionStartRequest{})
	assert.Error(t, err)
}

func TestNoCredentialShortCircuits(t *testing.T) {
	fc := &fakeCollector{}
	c := newTestClient(t, fc)

	err := c.EndSession(context.Background(), "", domain.SessionEndRequest{SessionID: "s"})
	assert.ErrorIs(t, err, ErrNoCredential)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Empty(t, fc.requests)
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	fc := &fakeCollector{status: http.StatusServiceUnavailable, response: "collector overloaded"}
	c := newTestClient(t, fc)

	err := c.EndPage(context.Background(), "tok", domain.PageEndRequest{PageName: "chat", ExitReason: "navigation"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, PathPageEnd, se.Path)
	assert.Contains(t, se.Error(), "collector overloaded")
}

func TestPageCallsPayloads(t *testing.T) {
	fc := &fakeCollector{}
	c := newTestClient(t, fc)
	ctx := context.Background()

	require.NoError(t, c.StartPage(ctx, "tok", domain.PageStartRequest{
		PageName:   "meal_plan",
		Route:      "/plans/today",
		DeviceType: "android",
		SessionID:  "sess-1",
	}))
	req := fc.last(t)
	assert.Equal(t, "/api/analytics/page/start", req.Path)
	assert.Equal(t, "meal_plan", req.Body["pageName"])
	assert.Equal(t, "/plans/today", req.Body["route"])
	assert.Equal(t, "sess-1", req.Body["sessionId"])
	assert.NotContains(t, req.Body, "pageTitle")

	require.NoError(t, c.EndPage(ctx, "tok", domain.PageEndRequest{PageName: "meal_plan", ExitReason: "navigation"}))
	req = fc.last(t)
	assert.Equal(t, "/api/analytics/page/end", req.Path)
	assert.Equal(t, map[string]interface{}{"pageName": "meal_plan", "exitReason": "navigation"}, req.Body)
}

func TestSendEvents(t *testing.T) {
	t.Run("decodes acknowledgement", func(t *testing.T) {
		fc := &fakeCollector{response: `{"successCount":1,"totalCount":2}`}
		c := newTestClient(t, fc)

		res, err := c.SendEvents(context.Background(), "tok", domain.EventBatch{
			Events: []domain.Event{
				{EventType: domain.EventTypeAuth, EventName: "login", Result: domain.ResultSuccess},
				{EventType: domain.EventTypeInteraction, EventName: "tab_switch", Result: domain.ResultSuccess},
			},
			SessionID:  "sess-1",
			DeviceType: "ios",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SuccessCount)
		assert.Equal(t, 2, res.TotalCount)

		req := fc.last(t)
		assert.Equal(t, "/api/analytics/events/batch", req.Path)
		events := req.Body["events"].([]interface{})
		require.Len(t, events, 2)
		assert.Equal(t, "login", events[0].(map[string]interface{})["eventName"])
		assert.Equal(t, "sess-1", req.Body["sessionId"])
	})

	t.Run("empty body means everything accepted", func(t *testing.T) {
		fc := &fakeCollector{}
		c := newTestClient(t, fc)

		res, err := c.SendEvents(context.Background(), "tok", domain.EventBatch{
			Events: []domain.Event{{EventName: "a"}, {EventName: "b"}, {EventName: "c"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, res.SuccessCount)
		assert.Equal(t, 3, res.TotalCount)
	})

	t.Run("invalid json is an error", func(t *testing.T) {
		fc := &fakeCollector{response: `{"successCount":`}
		c := newTestClient(t, fc)

		_, err := c.SendEvents(context.Background(), "tok", domain.EventBatch{Events: []domain.Event{{EventName: "a"}}})
		assert.Error(t, err)
	})
}

func TestPerCallTimeout(t *testing.T) {
	fc := &fakeCollector{delay: 500 * time.Millisecond}
	c := newTestClient(t, fc, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := c.SendEvents(context.Background(), "tok", domain.EventBatch{Events: []domain.Event{{EventName: "slow"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected deadline exceeded, got %v", err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestClientSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	fc := &fakeCollector{status: http.StatusBadGateway}
	c := newTestClient(t, fc, WithTracerProvider(tp))

	err := c.EndSession(context.Background(), "tok", domain.SessionEndRequest{SessionID: "s", Reason: "logout"})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "collector session/end", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())

	var status int64
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	assert.EqualValues(t, http.StatusBadGateway, status)
}
