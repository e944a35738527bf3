package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/autopost/internal/orchestrator"
)

// EngageCommand returns the command that runs a single engagement pass.
func EngageCommand() *cli.Command {
	return &cli.Command{
		Name:  "engage",
		Usage: "Check tracked conversations and reply where warranted",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Generate replies without posting them",
			},
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "Restrict the run to one account `ID`",
			},
			&cli.IntFlag{
				Name:  "max-check",
				Usage: "Maximum conversations to check",
			},
			&cli.IntFlag{
				Name:  "max-send",
				Usage: "Maximum replies to send",
			},
			&cli.BoolFlag{
				Name:  "no-smart-polling",
				Usage: "Check every candidate regardless of activity",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Action: runEngage,
	}
}

// applyEngageFlags layers command-line overrides onto opts.
func applyEngageFlags(c *cli.Context, opts orchestrator.Options) orchestrator.Options {
	if c.Bool("dry-run") {
		opts.DryRun = true
	}
	if c.IsSet("account") {
		opts.AccountID = c.String("account")
	}
	if n := c.Int("max-check"); n > 0 {
		opts.MaxConversationsToCheck = n
	}
	if n := c.Int("max-send"); n > 0 {
		opts.MaxResponsesToSend = n
	}
	if c.Bool("no-smart-polling") {
		opts.UseSmartPolling = false
	}
	return opts
}

func runEngage(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	app, err := NewApp(c.Context, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Orchestrator.Run(c.Context, applyEngageFlags(c, runOptions(cfg)))
	if err != nil {
		return fmt.Errorf("engagement run failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
