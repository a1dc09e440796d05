package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/adapter"
	"github.com/justapithecus/sluice/adapter/redis"
	"github.com/justapithecus/sluice/adapter/webhook"
	"github.com/justapithecus/sluice/artifact"
	"github.com/justapithecus/sluice/cli/config"
	"github.com/justapithecus/sluice/cli/render"
	"github.com/justapithecus/sluice/cli/tui"
	"github.com/justapithecus/sluice/ledger"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/session"
	"github.com/justapithecus/sluice/store"
	"github.com/justapithecus/sluice/transport"
	"github.com/justapithecus/sluice/types"
)

// exitUsage is the exit code for invalid arguments or configuration.
// Terminal session states map through session.StateExitCode: 0 completed,
// 1 failed, 2 cancelled.
const exitUsage = 3

// persistTimeout bounds post-stream work (artifact persistence, ledger
// append, adapter publish) so a hung backend cannot wedge the exit.
const persistTimeout = 30 * time.Second

// sessionFlags returns the flags shared by chat and replay.
func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML config file",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.DurationFlag{
			Name:  "min-update-interval",
			Usage: "Minimum interval between update callbacks (negative disables throttling)",
		},
		&cli.IntFlag{
			Name:  "max-event-size",
			Usage: "Maximum accepted event payload size in bytes",
		},
		&cli.BoolFlag{
			Name:  "scan-text",
			Usage: "Recover artifact links from the final text when no event carried structured references",
		},
		&cli.StringFlag{
			Name:  "record",
			Usage: "Record the raw stream to DIR/<session-id>.slc for offline replay",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write a JSON session report to this path (\"-\" for stderr)",
		},
		&cli.StringFlag{
			Name:  "artifact-backend",
			Usage: "Artifact storage backend: dir or s3",
		},
		&cli.StringFlag{
			Name:  "artifact-dir",
			Usage: "Directory for the dir artifact backend",
		},
		&cli.StringFlag{
			Name:  "ledger-backend",
			Usage: "Session ledger backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "ledger-path",
			Usage: "Ledger root path (fs backend)",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Completion adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter target URL (webhook endpoint or redis:// URL)",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel for the redis adapter",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress streamed text output",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Show the live stream in a TUI",
		},
	}
}

// sessionEnv holds the resolved configuration and side backends for one
// streaming command invocation.
type sessionEnv struct {
	cfg        *config.Config
	logger     *log.Logger
	store      store.Store
	led        *ledger.Ledger
	publisher  adapter.Adapter
	captureDir string
	reportPath string
	quiet      bool
	useTUI     bool
}

// newSessionEnv loads config and builds the optional backends. Flags
// override file values.
func newSessionEnv(c *cli.Context) (*sessionEnv, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, cli.Exit(err.Error(), exitUsage)
		}
		cfg = loaded
	}

	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if level == "" {
		level = "info"
	}

	env := &sessionEnv{
		cfg:        cfg,
		logger:     log.New(level),
		captureDir: cfg.Capture.Dir,
		reportPath: c.String("report"),
		quiet:      c.Bool("quiet"),
		useTUI:     c.Bool("tui"),
	}
	if c.IsSet("record") {
		env.captureDir = c.String("record")
	}
	if env.captureDir != "" {
		if err := os.MkdirAll(env.captureDir, 0o755); err != nil {
			return nil, cli.Exit(fmt.Sprintf("failed to create capture dir: %v", err), exitUsage)
		}
	}

	st, err := buildArtifactStore(c, cfg)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	env.store = st

	led, err := buildLedger(c, cfg)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	env.led = led

	pub, err := buildAdapter(c, cfg)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	env.publisher = pub

	return env, nil
}

// buildArtifactStore creates the artifact byte store, or nil when no
// backend is configured.
func buildArtifactStore(c *cli.Context, cfg *config.Config) (store.Store, error) {
	backend := cfg.Artifacts.Backend
	if c.IsSet("artifact-backend") {
		backend = c.String("artifact-backend")
	}
	dir := cfg.Artifacts.Dir
	if c.IsSet("artifact-dir") {
		dir = c.String("artifact-dir")
	}

	switch backend {
	case "":
		if dir != "" {
			return store.NewDir(dir), nil
		}
		return nil, nil
	case "dir":
		if dir == "" {
			dir = "artifacts"
		}
		return store.NewDir(dir), nil
	case "s3":
		return store.NewS3(c.Context, toLedgerS3(cfg.Artifacts.S3))
	default:
		return nil, fmt.Errorf("unknown artifact-backend: %s (must be dir or s3)", backend)
	}
}

// buildLedger creates the session ledger, or nil when no backend is
// configured.
func buildLedger(c *cli.Context, cfg *config.Config) (*ledger.Ledger, error) {
	backend := cfg.Ledger.Backend
	if c.IsSet("ledger-backend") {
		backend = c.String("ledger-backend")
	}
	path := cfg.Ledger.Path
	if c.IsSet("ledger-path") {
		path = c.String("ledger-path")
	}

	switch backend {
	case "":
		if path != "" {
			return ledger.NewFS(path)
		}
		return nil, nil
	case "fs":
		if path == "" {
			return nil, fmt.Errorf("ledger-backend fs requires a ledger path")
		}
		return ledger.NewFS(path)
	case "s3":
		return ledger.NewS3(c.Context, toLedgerS3(cfg.Ledger.S3))
	default:
		return nil, fmt.Errorf("unknown ledger-backend: %s (must be fs or s3)", backend)
	}
}

// buildAdapter creates the completion adapter, or nil when none is
// configured.
func buildAdapter(c *cli.Context, cfg *config.Config) (adapter.Adapter, error) {
	kind := cfg.Adapter.Type
	if c.IsSet("adapter") {
		kind = c.String("adapter")
	}
	url := cfg.Adapter.URL
	if c.IsSet("adapter-url") {
		url = c.String("adapter-url")
	}

	retries := -1
	if cfg.Adapter.Retries != nil {
		retries = *cfg.Adapter.Retries
	}

	switch kind {
	case "":
		return nil, nil
	case "webhook":
		wcfg := webhook.Config{
			URL:     url,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
		}
		if retries >= 0 {
			wcfg.Retries = retries
		} else {
			wcfg.Retries = webhook.DefaultRetries
		}
		return webhook.New(wcfg)
	case "redis":
		channel := cfg.Adapter.Channel
		if c.IsSet("adapter-channel") {
			channel = c.String("adapter-channel")
		}
		rcfg := redis.Config{
			URL:     url,
			Channel: channel,
			Timeout: cfg.Adapter.Timeout.Duration,
		}
		if retries >= 0 {
			rcfg.Retries = retries
		} else {
			rcfg.Retries = redis.DefaultRetries
		}
		return redis.New(rcfg)
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", kind)
	}
}

func toLedgerS3(s3 config.S3Config) ledger.S3Config {
	return ledger.S3Config{
		Bucket:       s3.Bucket,
		Prefix:       s3.Prefix,
		Region:       s3.Region,
		Endpoint:     s3.Endpoint,
		UsePathStyle: s3.S3PathStyle,
	}
}

// run starts one session over the given transport and sees it through:
// streaming output, signal handling, artifact persistence, the ledger
// record, the completion event, and the report. The returned error is a
// cli.ExitCoder carrying the session's exit code.
func (env *sessionEnv) run(c *cli.Context, tr transport.Transport, endpoint, message string) error {
	retries := artifact.DefaultRetries
	if env.cfg.Artifacts.Retries != nil {
		retries = *env.cfg.Artifacts.Retries
	}

	minInterval := env.cfg.Session.MinUpdateInterval.Duration
	if c.IsSet("min-update-interval") {
		minInterval = c.Duration("min-update-interval")
	}
	maxEventSize := env.cfg.Session.MaxEventSize
	if c.IsSet("max-event-size") {
		maxEventSize = c.Int("max-event-size")
	}
	scanText := env.cfg.Artifacts.ScanText || c.Bool("scan-text")

	controller, err := session.NewController(session.Config{
		Transport:         tr,
		Endpoint:          endpoint,
		MinUpdateInterval: minInterval,
		MaxEventSize:      maxEventSize,
		ScanText:          scanText,
		Resolver: artifact.ResolverConfig{
			Parallel:     env.cfg.Artifacts.Parallel,
			FetchTimeout: env.cfg.Artifacts.FetchTimeout.Duration,
			Retries:      retries,
			Logger:       env.logger,
		},
		CaptureDir: env.captureDir,
		Logger:     env.logger,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	var printer *render.StreamPrinter
	if !env.quiet && !env.useTUI {
		printer = render.NewStreamPrinter(os.Stdout)
	}

	// tuiMsgs buffers view messages so callbacks never block the pump;
	// the forwarding goroutine starts once the program exists.
	var tuiMsgs chan any
	if env.useTUI {
		tuiMsgs = make(chan any, 256)
	}

	var (
		mu        sync.Mutex
		finalText string
		resolved  []types.ResolvedArtifact
	)

	cb := session.Callbacks{
		OnUpdate: func(u types.Update) {
			mu.Lock()
			finalText = u.Text
			mu.Unlock()
			if printer != nil {
				_ = printer.Print(u)
			}
			if tuiMsgs != nil {
				select {
				case tuiMsgs <- tui.StreamUpdateMsg{Update: u}:
				default:
				}
			}
		},
		OnArtifacts: func(ra []types.ResolvedArtifact) {
			mu.Lock()
			resolved = ra
			mu.Unlock()
			if tuiMsgs != nil {
				select {
				case tuiMsgs <- tui.StreamArtifactMsg{Collected: len(ra)}:
				default:
				}
			}
		},
		OnError: func(err error) {
			env.logger.Warn("session error", map[string]any{"error": err.Error()})
		},
	}

	sess, err := controller.Start(c.Context, message, cb)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			sess.Cancel()
		case <-sess.Done():
		}
	}()

	if env.useTUI {
		program := tui.NewStreamProgram(sess.ID())
		go func() {
			for msg := range tuiMsgs {
				program.Send(msg)
			}
		}()
		go func() {
			state, werr := sess.Wait()
			program.Send(tui.StreamStateMsg{State: state, Err: werr})
		}()
		final, perr := program.Run()
		if perr != nil {
			env.logger.Warn("stream view failed", map[string]any{"error": perr.Error()})
		}
		if m, ok := final.(tui.StreamModel); ok && m.Quit() {
			sess.Cancel()
		}
	}

	state, serr := sess.Wait()
	report := sess.Report()
	endedAt := time.Now()

	mu.Lock()
	text := finalText
	arts := resolved
	mu.Unlock()

	env.persist(sess.ID(), report, text, arts, endedAt)

	if env.reportPath != "" && report != nil {
		if err := session.WriteReport(report, env.reportPath); err != nil {
			env.logger.Warn("failed to write report", map[string]any{"error": err.Error()})
		}
	}

	if serr != nil && !env.quiet {
		fmt.Fprintf(os.Stderr, "error: %v\n", serr)
	}
	return cli.Exit("", session.StateExitCode(state))
}

// persist saves artifact bytes, appends the ledger record, and publishes
// the completion event. Failures here are warnings: the stream outcome
// already happened and determines the exit code.
func (env *sessionEnv) persist(
	sessionID string,
	report *session.Report,
	finalText string,
	resolved []types.ResolvedArtifact,
	endedAt time.Time,
) {
	if report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	day := ledger.DeriveDay(endedAt)

	paths := make([]string, len(resolved))
	if env.store != nil && len(resolved) > 0 {
		saved, err := store.SaveAll(ctx, env.store, sessionID, day, resolved)
		if err != nil {
			env.logger.Warn("artifact persistence incomplete", map[string]any{"error": err.Error()})
		}
		copy(paths, saved)
	}

	if env.led != nil {
		rec := ledger.NewSessionRecord(report, finalText, endedAt)
		artRecords := make([]*ledger.ArtifactRecord, 0, len(resolved))
		for i, ra := range resolved {
			artRecords = append(artRecords, ledger.NewArtifactRecord(sessionID, day, paths[i], ra))
		}
		if err := env.led.Append(ctx, rec, artRecords); err != nil {
			env.logger.Warn("failed to append ledger record", map[string]any{"error": err.Error()})
		}
	}

	if env.publisher != nil {
		event := adapter.NewSessionEndedEvent(report)
		if err := env.publisher.Publish(ctx, event); err != nil {
			env.logger.Warn("failed to publish completion event", map[string]any{"error": err.Error()})
		}
		if err := env.publisher.Close(); err != nil {
			env.logger.Warn("failed to close adapter", map[string]any{"error": err.Error()})
		}
	}
}
