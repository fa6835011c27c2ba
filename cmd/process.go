package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/sketchsync/internal/ayon"
	"github.com/sketchsync/internal/config"
	"github.com/sketchsync/internal/ftrack"
	"github.com/sketchsync/internal/logging"
	"github.com/sketchsync/internal/processor"
	"github.com/sketchsync/internal/retry"
	"github.com/sketchsync/internal/syncsketch"
)

// ProcessCommand returns the process command
func ProcessCommand() *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Run the review event processor loop",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the configured log level",
			},
		},
		Action: runProcess,
	}
}

func runProcess(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Processor.LogLevel
	if override := c.String("log-level"); override != "" {
		level = override
	}
	logging.Setup(level)

	sender, err := os.Hostname()
	if err != nil {
		sender = "sketchsync"
	}

	queue := ayon.NewClient(cfg.Ayon.URL, cfg.Ayon.APIKey, sender)
	review := syncsketch.NewClient(cfg.SyncSketch.URL, cfg.SyncSketch.AuthUser, cfg.SyncSketch.AuthToken)
	tracking := ftrack.NewSession(cfg.Ftrack.URL, cfg.Ftrack.APIKey, cfg.Ftrack.Username)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := probeConnections(ctx, review, tracking); err != nil {
		return err
	}

	engine := processor.NewEngine(
		review, queue, tracking, cfg.StatusesMapping, cfg.Processor.NotesToTask)

	registry := processor.NewRegistry(
		processor.NewReviewSessionEndHandler(review, engine),
		processor.NewItemStatusChangedHandler(review, engine),
	)

	proc := processor.New(queue, registry, cfg.Processor.PollInterval)
	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// probeConnections verifies both remote APIs accept our credentials before
// the loop starts claiming events. A processor with bad credentials would
// otherwise mark every event failed.
func probeConnections(ctx context.Context, review *syncsketch.Client, tracking *ftrack.Session) error {
	result := retry.RetryWithBackoff(ctx, retry.ConnectRetryConfig(), log.Logger, func() error {
		return review.IsConnected(ctx)
	})
	if !result.Success {
		return fmt.Errorf("unable to connect to SyncSketch: %w", result.LastError)
	}
	log.Info().Msg("Connected to SyncSketch")

	result = retry.RetryWithBackoff(ctx, retry.ConnectRetryConfig(), log.Logger, func() error {
		return tracking.Probe(ctx)
	})
	if !result.Success {
		return fmt.Errorf("unable to connect to ftrack: %w", result.LastError)
	}
	log.Info().Msg("Connected to ftrack")

	return nil
}
