package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sluice/transport"
)

// ChatCommand returns the chat command, the live streaming entrypoint.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send a message and stream the reconciled response",
		ArgsUsage: "<message>",
		Flags: append(sessionFlags(),
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Agent stream endpoint URL",
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "Extra request header (\"Name: Value\", repeatable)",
			},
		),
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("chat requires exactly one message argument", exitUsage)
	}

	env, err := newSessionEnv(c)
	if err != nil {
		return err
	}

	endpoint := env.cfg.Endpoint
	if c.IsSet("endpoint") {
		endpoint = c.String("endpoint")
	}
	if endpoint == "" {
		return cli.Exit("an endpoint is required (--endpoint or config file)", exitUsage)
	}

	headers, err := mergeHeaders(env.cfg.Headers, c.StringSlice("header"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	tr, err := transport.NewHTTP(transport.HTTPConfig{
		Endpoint:      endpoint,
		Headers:       headers,
		HeaderTimeout: env.cfg.Session.HeaderTimeout.Duration,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	return env.run(c, tr, endpoint, c.Args().First())
}

// mergeHeaders overlays repeated --header flags onto config headers.
func mergeHeaders(base map[string]string, flags []string) (map[string]string, error) {
	headers := make(map[string]string, len(base)+len(flags))
	for k, v := range base {
		headers[k] = v
	}
	for _, h := range flags {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (want \"Name: Value\")", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}
