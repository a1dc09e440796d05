package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/capture"
	"github.com/justapithecus/sluice/cli/render"
)

// InspectCommand returns the inspect command. Inspect replays a capture
// offline and reports what the pipeline makes of it.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect a capture file",
		ArgsUsage: "<capture-file>",
		Flags:     TUIReadOnlyFlags(),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("inspect requires exactly one capture file argument", exitUsage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	sum, err := capture.Summarize(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to inspect capture: %v", err), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_capture", sum)
	}
	return r.Render(sum)
}
