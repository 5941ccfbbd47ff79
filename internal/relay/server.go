package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/zombor/expense-relay/internal/slack"
)

// Slack rejects replayed requests older than five minutes; we do the same.
const signatureMaxAge = 5 * time.Minute

// Server receives Slack Events API callbacks and serves the submission
// history.
type Server struct {
	service       *Service
	journal       Journal
	signingSecret string
	timeSource    TimeSource
	mux           *http.ServeMux
}

// NewServer creates a new Server with a default mux and time source.
func NewServer(service *Service, journal Journal, signingSecret string) *Server {
	return NewServerWithDeps(service, journal, signingSecret, &defaultTimeSource{}, http.NewServeMux())
}

// NewServerWithDeps creates a new Server with custom dependencies for testing.
func NewServerWithDeps(service *Service, journal Journal, signingSecret string, timeSource TimeSource, mux *http.ServeMux) *Server {
	s := &Server{
		service:       service,
		journal:       journal,
		signingSecret: signingSecret,
		timeSource:    timeSource,
		mux:           mux,
	}
	s.registerRoutes()
	return s
}

// verifySignature checks the Slack request signature: HMAC-SHA256 of
// "v0:<timestamp>:<body>" with the signing secret, compared in constant
// time, with the timestamp bounded to reject replays.
func (s *Server) verifySignature(r *http.Request, body []byte) bool {
	if s.signingSecret == "" {
		// No secret means no way to verify; reject rather than run open.
		return false
	}

	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")
	if timestamp == "" || signature == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := s.timeSource.Now().Sub(time.Unix(ts, 0))
	if age > signatureMaxAge || age < -signatureMaxAge {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.signingSecret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// handleEvents is the Events API endpoint. It answers url_verification
// challenges and acks event callbacks immediately; file processing runs on
// a background goroutine so Slack's delivery deadline is never at risk.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("Error reading event body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(r, body) {
		slog.Warn("Rejected event with bad signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var callback slack.EventCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		slog.Error("Error decoding event callback", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	switch callback.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(callback.Challenge))
	case "event_callback":
		if callback.Event.Type == "message" && len(callback.Event.Files) > 0 {
			ev := callback.Event
			go s.service.HandleFileShare(context.Background(), ev)
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// handleListHistory returns all submission records.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	submissions, err := s.journal.ListSubmissions()
	if err != nil {
		slog.Error("Error listing submissions", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(submissions); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /slack/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/history", s.handleListHistory)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
