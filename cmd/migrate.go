package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/convosync/internal/config"
	"github.com/convosync/internal/database"
	"github.com/convosync/internal/store"
)

// MigrateCommand returns the CLI command for applying the database schema
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema (safe to re-run)",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			if err := store.New(db).Migrate(context.Background()); err != nil {
				return err
			}

			fmt.Println("Schema is up to date")
			return nil
		},
	}
}
