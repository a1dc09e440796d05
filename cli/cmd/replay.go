package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/capture"
)

// ReplayCommand returns the replay command. Replay feeds a recorded
// capture back through the full pipeline as if it were a live stream.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Replay a recorded capture through the pipeline",
		ArgsUsage: "<capture-file>",
		Flags: append(sessionFlags(),
			&cli.BoolFlag{
				Name:  "pace",
				Usage: "Replay chunks at the recorded inter-arrival timing",
			},
			&cli.IntFlag{
				Name:  "chunk-bytes",
				Usage: "Re-split recorded chunks into reads of at most this many bytes",
			},
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one capture file argument", exitUsage)
	}
	path := c.Args().First()

	rep := capture.NewReplayer(capture.ReplayerConfig{
		Path:       path,
		Pace:       c.Bool("pace"),
		ChunkBytes: c.Int("chunk-bytes"),
	})
	header, err := rep.Header()
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read capture: %v", err), exitUsage)
	}

	env, err := newSessionEnv(c)
	if err != nil {
		return err
	}

	message := header.Message
	if message == "" {
		message = "(replay)"
	}
	return env.run(c, rep, header.Endpoint, message)
}
