package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/convosync/internal/api"
	"github.com/convosync/internal/config"
	"github.com/convosync/internal/database"
	"github.com/convosync/internal/openai"
	"github.com/convosync/internal/store"
	"github.com/convosync/internal/webhook"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the ConvoSync API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port := c.Int("port"); port != 0 {
				cfg.Server.Port = port
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			st := store.New(db)
			if err := st.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}

			var mirror webhook.Mirror
			if cfg.OpenAI.Enabled {
				client := openai.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.RequestsPerSecond)
				mirror = openai.NewThreadMirror(client)
				log.Info().Msg("OpenAI thread mirror enabled")
			}

			router := webhook.NewRouter(st, mirror)
			server := api.NewServer(cfg, st, router)

			log.Info().Int("port", cfg.Server.Port).Msg("starting ConvoSync API server")
			return server.Start()
		},
	}
}
