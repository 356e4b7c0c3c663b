// Package sink is an in-process collector for development and tests. It
// implements the five collector endpoints, records every request and
// optionally writes captures as NDJSON.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/beacon/internal/collector"
	"github.com/vburojevic/beacon/internal/domain"
	"github.com/vburojevic/beacon/internal/output"
)

// DefaultPrefix is where the endpoints are mounted by Handler
const DefaultPrefix = "/api/analytics"

const maxBody = 1 << 20

// Record is one received request
type Record struct {
	Path       string
	Token      string
	RequestID  string
	SessionID  string
	Status     int
	Body       json.RawMessage
	ReceivedAt time.Time
}

// Options configure a Sink
type Options struct {
	Prefix    string
	Capture   io.Writer // NDJSON capture stream, optional
	OutputDir string    // per-session capture files, optional
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Sink records collector traffic. Safe for concurrent use.
type Sink struct {
	prefix  string
	clock   clock.Clock
	logger  *zap.Logger
	capture *output.NDJSONWriter

	mu       sync.Mutex
	records  []Record
	fail     map[string]int
	sessions map[string]bool // id -> still open
	rot      *rotation
}

// New creates a sink
func New(opts Options) *Sink {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Sink{
		prefix:   strings.TrimSuffix(opts.Prefix, "/"),
		clock:    opts.Clock,
		logger:   opts.Logger.Named("sink"),
		fail:     map[string]int{},
		sessions: map[string]bool{},
		rot:      newRotation(opts.OutputDir),
	}
	if opts.Capture != nil {
		s.capture = output.NewNDJSONWriter(opts.Capture)
	}
	return s
}

// Prefix returns the mount path of the endpoints
func (s *Sink) Prefix() string { return s.prefix }

// Handler serves the collector endpoints under the prefix
func (s *Sink) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+collector.PathSessionStart, s.handle(collector.PathSessionStart, s.sessionStart))
	mux.HandleFunc("POST "+collector.PathSessionEnd, s.handle(collector.PathSessionEnd, s.sessionEnd))
	mux.HandleFunc("POST "+collector.PathPageStart, s.handle(collector.PathPageStart, s.pageStart))
	mux.HandleFunc("POST "+collector.PathPageEnd, s.handle(collector.PathPageEnd, s.pageEnd))
	mux.HandleFunc("POST "+collector.PathEventsBatch, s.handle(collector.PathEventsBatch, s.eventsBatch))
	return http.StripPrefix(s.prefix, mux)
}

// FailFirst makes the next n requests to path answer 503
func (s *Sink) FailFirst(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[path] = n
}

type handlerFunc func(token string, body []byte) (status int, sessionID string, resp any)

func (s *Sink) handle(path string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, hasBearer := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		var (
			status    int
			sessionID string
			resp      any
		)
		switch {
		case !hasBearer || token == "":
			status, resp = http.StatusUnauthorized, map[string]string{"error": "unauthorized"}
		case s.takeFailure(path):
			status, resp = http.StatusServiceUnavailable, map[string]string{"error": "injected failure"}
		case !json.Valid(body):
			status, resp = http.StatusBadRequest, map[string]string{"error": "invalid json"}
		default:
			status, sessionID, resp = fn(token, body)
		}

		s.record(Record{
			Path:       path,
			Token:      token,
			RequestID:  r.Header.Get("X-Request-ID"),
			SessionID:  sessionID,
			Status:     status,
			Body:       json.RawMessage(bytes.Clone(body)),
			ReceivedAt: s.clock.Now().UTC(),
		})
		writeJSON(w, status, resp)
	}
}

func (s *Sink) takeFailure(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[path] > 0 {
		s.fail[path]--
		return true
	}
	return false
}

func (s *Sink) sessionStart(token string, body []byte) (int, string, any) {
	var req domain.SessionStartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return http.StatusBadRequest, "", map[string]string{"error": err.Error()}
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = true
	path, err := s.rot.Open(id)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("capture rotation failed", zap.Error(err))
	} else if path != "" {
		s.logger.Info("capturing session", zap.String("session_id", id), zap.String("path", path))
	}
	return http.StatusOK, id, domain.SessionStartResponse{
		SessionID: id,
		UserID:    UserID(token),
	}
}

func (s *Sink) sessionEnd(_ string, body []byte) (int, string, any) {
	var req domain.SessionEndRequest
	if err := json.Unmarshal(body, &req); err != nil || req.SessionID == "" {
		return http.StatusBadRequest, "", map[string]string{"error": "sessionId is required"}
	}
	s.mu.Lock()
	open, known := s.sessions[req.SessionID]
	if known {
		s.sessions[req.SessionID] = false
	}
	s.mu.Unlock()
	if !known || !open {
		s.logger.Info("session/end for unknown or closed session", zap.String("session_id", req.SessionID))
	}
	return http.StatusOK, req.SessionID, map[string]bool{"ok": true}
}

func (s *Sink) pageStart(_ string, body []byte) (int, string, any) {
	var req domain.PageStartRequest
	if err := json.Unmarshal(body, &req); err != nil || req.PageName == "" {
		return http.StatusBadRequest, "", map[string]string{"error": "pageName is required"}
	}
	return http.StatusOK, req.SessionID, map[string]bool{"ok": true}
}

func (s *Sink) pageEnd(_ string, body []byte) (int, string, any) {
	var req domain.PageEndRequest
	if err := json.Unmarshal(body, &req); err != nil || req.PageName == "" {
		return http.StatusBadRequest, "", map[string]string{"error": "pageName is required"}
	}
	return http.StatusOK, "", map[string]bool{"ok": true}
}

func (s *Sink) eventsBatch(_ string, body []byte) (int, string, any) {
	var batch domain.EventBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return http.StatusBadRequest, "", map[string]string{"error": err.Error()}
	}
	n := len(batch.Events)
	return http.StatusOK, batch.SessionID, domain.BatchResult{SuccessCount: n, TotalCount: n}
}

func (s *Sink) record(rec Record) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	capture := output.Capture{
		ReceivedAt: rec.ReceivedAt.Format(time.RFC3339Nano),
		Path:       rec.Path,
		Status:     rec.Status,
		RequestID:  rec.RequestID,
		SessionID:  rec.SessionID,
		Body:       rec.Body,
	}
	if len(capture.Body) == 0 || !json.Valid(capture.Body) {
		capture.Body = nil
	}
	if s.rot.Path() != "" {
		if err := output.NewNDJSONWriter(s.rot).WriteCapture(capture); err != nil {
			s.logger.Warn("capture file write failed", zap.Error(err))
		}
	}
	s.mu.Unlock()

	if s.capture != nil {
		if err := s.capture.WriteCapture(capture); err != nil {
			s.logger.Warn("capture write failed", zap.Error(err))
		}
	}
	s.logger.Debug("request",
		zap.String("path", rec.Path),
		zap.Int("status", rec.Status),
		zap.String("session_id", rec.SessionID))
}

// Records returns every received request in arrival order
func (s *Sink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Paths returns the path of every request in arrival order
func (s *Sink) Paths() []string {
	recs := s.Records()
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Path
	}
	return out
}

// Events returns the events of every accepted batch in arrival order
func (s *Sink) Events() []domain.Event {
	var out []domain.Event
	for _, r := range s.Records() {
		if r.Path != collector.PathEventsBatch || r.Status != http.StatusOK {
			continue
		}
		var batch domain.EventBatch
		if err := json.Unmarshal(r.Body, &batch); err == nil {
			out = append(out, batch.Events...)
		}
	}
	return out
}

// OpenSessions returns the ids of sessions started and not yet ended
func (s *Sink) OpenSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, open := range s.sessions {
		if open {
			out = append(out, id)
		}
	}
	return out
}

// Close flushes and closes the capture file
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rot.Close()
	return nil
}

// ListenAndServe serves the sink on addr until ctx is done. ready, if set,
// receives the bound address once listening.
func (s *Sink) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if ready != nil {
		ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		s.Close()
		return err
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// UserID derives a stable user id from a bearer token
func UserID(token string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("beacon:"+token)).String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
