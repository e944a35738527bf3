package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/autopost/internal/api"
	"github.com/autopost/internal/database"
	"github.com/autopost/internal/jobqueue"
)

// ServeCommand returns the command that runs the HTTP trigger and the
// scheduled worker.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the API server and the scheduled engagement worker",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-worker",
				Usage: "Serve HTTP only; runs requested asynchronously are queued but not worked",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if cfg.Server.CronSecret == "" {
		log.Warn().Msg("server.cron_secret is empty; every /api request will be rejected")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := database.MigrateRiver(ctx, app.Pool); err != nil {
		return fmt.Errorf("failed to migrate job queue schema: %w", err)
	}

	queueCfg := jobqueue.DefaultQueueConfig()
	queueCfg.Cron = ""
	if cfg.Schedule.Enabled {
		queueCfg.Cron = cfg.Schedule.Cron
	}
	base := runOptions(cfg)
	queue, err := jobqueue.NewJobQueue(app.Pool, app.Orchestrator, base, queueCfg)
	if err != nil {
		return err
	}

	if !c.Bool("no-worker") {
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		log.Info().Str("cron", queueCfg.Cron).Msg("engagement worker started")
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				log.Error().Err(err).Msg("failed to stop job queue")
			}
		}()
	}

	server := api.NewServer(api.Options{
		Port:       cfg.Server.Port,
		CronSecret: cfg.Server.CronSecret,
		Runner:     app.Orchestrator,
		Queue:      queue,
		Registrar:  app.Store,
		Defaults:   base,
	})
	return server.Start(ctx)
}
