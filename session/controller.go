package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/sluice/artifact"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/metrics"
	"github.com/justapithecus/sluice/transport"
	"github.com/justapithecus/sluice/types"
)

// Config configures a Controller.
type Config struct {
	// Transport opens streams. Required.
	Transport transport.Transport
	// Endpoint labels logs, metrics, and captures. Informational.
	Endpoint string

	// MinUpdateInterval throttles update delivery. Zero selects the
	// default; negative disables throttling.
	MinUpdateInterval time.Duration
	// MaxEventSize caps a single event's payload. Zero selects the
	// default.
	MaxEventSize int

	// ScanText enables recovering artifact references from markdown
	// image syntax in the final text when no event carried structured
	// references.
	ScanText bool
	// Resolver configures post-stream artifact resolution.
	Resolver artifact.ResolverConfig

	// CaptureDir, when set, records each session's raw stream to
	// <CaptureDir>/<session-id>.slc for offline replay.
	CaptureDir string

	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Controller starts sessions against one upstream. Sessions started from
// the same controller share a conversation identity; starting a new
// session cancels the one still in flight, so at most one streams at a
// time.
type Controller struct {
	cfg            Config
	logger         *log.Logger
	conversationID string

	mu      sync.Mutex
	current *Session
}

// NewController creates a controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, &Error{Kind: ErrorConfig, Msg: "transport is required"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Controller{
		cfg:            cfg,
		logger:         logger,
		conversationID: uuid.New().String(),
	}, nil
}

// ConversationID returns the identity shared by this controller's
// sessions.
func (c *Controller) ConversationID() string {
	return c.conversationID
}

// Start begins a new session for one message. If a previous session is
// still streaming it is cancelled first: the latest request wins. The
// returned session is already running; observe it through the callbacks
// and Wait or Done.
func (c *Controller) Start(ctx context.Context, message string, cb Callbacks) (*Session, error) {
	if message == "" {
		return nil, &Error{Kind: ErrorConfig, Msg: "message must not be empty"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.current.State().IsTerminal() {
		c.logger.Info("cancelling in-flight session", map[string]any{
			"session_id": c.current.ID(),
		})
		c.current.Cancel()
	}

	id := uuid.New().String()
	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:             id,
		conversationID: c.conversationID,
		state:          types.SessionIdle,
		message:        message,
		cfg:            &c.cfg,
		cb:             cb,
		logger:         c.logger.WithSession(id),
		collector:      metrics.NewCollector(c.cfg.Transport.Name(), c.cfg.Endpoint, id, c.conversationID),
		clock:          c.cfg.Clock,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	c.current = s

	go s.run(sessCtx)
	return s, nil
}

// Current returns the most recently started session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Shutdown cancels the in-flight session, if any, and waits for it to
// tear down or for ctx to end.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current == nil {
		return nil
	}
	current.Cancel()
	select {
	case <-current.Done():
		return nil
	case <-ctx.Done():
		return errors.New("shutdown wait interrupted")
	}
}
