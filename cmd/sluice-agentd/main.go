// Package main provides the sluice-agentd entrypoint, a local scripted
// agent server for development and testing.
//
// Usage:
//
//	sluice-agentd serve --scenario scenario.yaml [--addr host:port]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/agentd"
	"github.com/justapithecus/sluice/log"
	"github.com/justapithecus/sluice/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:    "sluice-agentd",
		Usage:   "Scripted agent stream server for sluice development",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Commands: []*cli.Command{
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a scripted scenario as a text/event-stream endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "scenario",
				Usage:    "Path to YAML scenario file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: agentd.DefaultAddr,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	scenario, err := agentd.LoadScenario(c.String("scenario"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.New(c.String("log-level"))
	srv := agentd.New(agentd.Config{
		Addr:     c.String("addr"),
		Scenario: scenario,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info("serving scenario", map[string]any{
		"addr":     c.String("addr"),
		"scenario": scenario.Name,
	})
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}
