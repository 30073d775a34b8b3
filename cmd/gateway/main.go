package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/app"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/config"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:    "gateway",
		Usage:   "Event-to-integration delivery gateway",
		Version: version.Version(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a yaml or .env config file",
			},
			&cli.StringFlag{
				Name:  "service",
				Usage: "service slice to run: api, ingest, delivery (empty runs all)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the gateway",
				Action: func(ctx context.Context, c *cli.Command) error {
					return serve(ctx, c)
				},
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			// Bare invocation runs the server, matching container
			// entrypoints that pass flags only.
			return serve(ctx, c)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, err := config.Parse(config.Flags{
		Config:  c.String("config"),
		Service: c.String("service"),
	})
	if err != nil {
		return err
	}
	return app.New(cfg).Run(ctx)
}
