package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/autopost/internal/database"
)

// MigrateCommand returns the schema migration command.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations, including the job queue schema",
				Action: runMigrateUp,
			},
			{
				Name:  "down",
				Usage: "Roll back application migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to roll back",
						Value: 1,
					},
				},
				Action: runMigrateDown,
			},
		},
	}
}

func runMigrateUp(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.MigrateUp(db); err != nil {
		return err
	}

	pool, err := database.NewPool(c.Context, cfg.Database.URL, 2)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.MigrateRiver(c.Context, pool); err != nil {
		return fmt.Errorf("failed to migrate job queue schema: %w", err)
	}

	fmt.Println("Migrations applied")
	return nil
}

func runMigrateDown(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	steps := c.Int("steps")
	if steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.MigrateDown(db, steps); err != nil {
		return err
	}

	fmt.Printf("Rolled back %d migration(s)\n", steps)
	return nil
}
