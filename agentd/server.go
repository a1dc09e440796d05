package agentd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/justapithecus/sluice/log"
)

// DefaultAddr is the default listen address.
const DefaultAddr = "127.0.0.1:8777"

// shutdownTimeout bounds graceful shutdown, letting in-flight streams
// finish before connections are closed.
const shutdownTimeout = 15 * time.Second

// Config holds server settings.
type Config struct {
	// Addr is the TCP listen address, in "host:port" form.
	Addr string
	// Scenario is the scripted stream to serve (required).
	Scenario *Scenario
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// streamRequest is the inbound request body shape.
type streamRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Server plays a scenario back over HTTP as text/event-stream.
type Server struct {
	cfg      Config
	scenario *Scenario
	logger   *log.Logger
	mux      *http.ServeMux
}

// New creates a server and registers the /v1/stream and /healthz routes.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		scenario: cfg.Scenario,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/stream", s.handleStream)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

// Handler returns the assembled http.Handler. Useful for tests that mount
// the server under httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the server and blocks until ctx is cancelled or
// serving fails. Cancellation triggers a graceful shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("agentd listening", map[string]any{
			"addr":     s.cfg.Addr,
			"scenario": s.scenario.Name,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("agentd shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStream plays the scenario back to one client.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.logger.Info("stream opened", map[string]any{
		"session_id": req.SessionID,
		"scenario":   s.scenario.Name,
		"steps":      len(s.scenario.Steps),
	})

	sw := newSSEWriter(w, s.scenario.ChunkBytes)
	ctx := r.Context()

	for i, step := range s.scenario.Steps {
		if step.Delay.Duration > 0 {
			if !sleep(ctx, step.Delay.Duration) {
				s.logger.Info("stream abandoned", map[string]any{"session_id": req.SessionID})
				return
			}
		}

		var err error
		switch {
		case step.KeepAlive:
			err = sw.WriteComment("keep-alive")
		case step.Raw != "":
			err = sw.WriteData([]byte(step.Raw))
		default:
			err = sw.WriteEvent(stepPayload(step))
		}
		if err != nil {
			s.logger.Warn("stream write failed", map[string]any{
				"session_id": req.SessionID,
				"step":       i + 1,
				"error":      err.Error(),
			})
			return
		}
	}

	if s.scenario.sendDone() {
		_ = sw.WriteDone()
	}
	s.logger.Info("stream finished", map[string]any{"session_id": req.SessionID})
}

// wirePayload is the outbound event shape.
type wirePayload struct {
	Text      *string        `json:"text,omitempty"`
	Done      bool           `json:"done,omitempty"`
	Artifacts []wireArtifact `json:"artifacts,omitempty"`
}

type wireArtifact struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

// stepPayload builds the wire payload for a data step.
func stepPayload(step Step) wirePayload {
	p := wirePayload{Done: step.Done}
	if step.Text != "" {
		text := step.Text
		p.Text = &text
	}
	for _, a := range step.Artifacts {
		p.Artifacts = append(p.Artifacts, wireArtifact{
			Name:        a.Name,
			ContentType: a.ContentType,
			Data:        a.Data,
			URL:         a.URL,
		})
	}
	return p
}

// sleep waits for d or until ctx is cancelled. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
