package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/cli/config"
	"github.com/justapithecus/sluice/cli/render"
	"github.com/justapithecus/sluice/ledger"
)

// SessionsCommand returns the sessions command, the read side of the
// session ledger.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List sessions recorded in the ledger",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
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
				Name:  "day",
				Usage: "Filter by UTC day (YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by state: completed, failed, cancelled",
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Filter by session ID",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of sessions to return, newest first (0 = no limit)",
			},
			&cli.BoolFlag{
				Name:  "artifacts",
				Usage: "List artifact records for --session instead of session records",
			},
		),
		Action: sessionsAction,
	}
}

func sessionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		cfg = loaded
	}

	led, err := buildLedger(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if led == nil {
		return cli.Exit("a ledger is required (--ledger-path or config file)", exitUsage)
	}

	if c.Bool("artifacts") {
		sessionID := c.String("session")
		if sessionID == "" {
			return cli.Exit("--artifacts requires --session", exitUsage)
		}
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for artifact listings", 1)
		}
		records, err := led.Artifacts(c.Context, sessionID)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to query ledger: %v", err), 1)
		}
		return r.Render(records)
	}

	q := ledger.Query{
		Day:       c.String("day"),
		SessionID: c.String("session"),
		State:     c.String("state"),
		Limit:     c.Int("limit"),
	}
	records, err := led.Sessions(c.Context, q)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to query ledger: %v", err), 1)
	}

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(records) > listWarningThreshold && q.Limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(records))
	}

	if c.Bool("tui") {
		return r.RenderTUI("sessions_list", records)
	}
	return r.Render(records)
}
